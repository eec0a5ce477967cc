// Package coingecko fetches the network token price from the simple API.
package coingecko

import (
	"context"
	"fmt"
)

// Provider id used for rate limiting and health tracking.
const Provider = "coingecko"

type jsonClient interface {
	GetJSON(ctx context.Context, provider, url string, headers map[string]string, out interface{}) error
}

// Client talks to the simple price API. Only the network token is fetched
// here; everything else goes through the richer aggregators.
type Client struct {
	baseURL string
	http    jsonClient
}

// NewClient creates a client rooted at baseURL.
func NewClient(baseURL string, http jsonClient) *Client {
	return &Client{baseURL: baseURL, http: http}
}

// SolanaPrice returns the network token's USD price.
func (c *Client) SolanaPrice(ctx context.Context) (float64, error) {
	var out map[string]map[string]float64
	u := c.baseURL + "/api/v3/simple/price?ids=solana&vs_currencies=usd"
	if err := c.http.GetJSON(ctx, Provider, u, nil, &out); err != nil {
		return 0, fmt.Errorf("solana price: %w", err)
	}
	price := out["solana"]["usd"]
	if price <= 0 {
		return 0, fmt.Errorf("empty solana price")
	}
	return price, nil
}
