// Package solscan is the client for the explorer-style metadata API.
package solscan

import (
	"context"
	"fmt"
	"net/url"
)

// Provider id used for rate limiting and health tracking.
const Provider = "solscan"

type jsonClient interface {
	GetJSON(ctx context.Context, provider, url string, headers map[string]string, out interface{}) error
}

// Client talks to the explorer API.
type Client struct {
	baseURL string
	apiKey  string
	http    jsonClient
}

// NewClient creates a client. apiKey may be empty.
func NewClient(baseURL, apiKey string, http jsonClient) *Client {
	return &Client{baseURL: baseURL, apiKey: apiKey, http: http}
}

func (c *Client) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"token": c.apiKey}
}

// TokenMeta is explorer token metadata.
type TokenMeta struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
}

// TokenMeta fetches symbol/name/decimals for a mint.
func (c *Client) TokenMeta(ctx context.Context, mint string) (*TokenMeta, error) {
	var out struct {
		Data    TokenMeta `json:"data"`
		Success bool      `json:"success"`
	}
	u := c.baseURL + "/token/meta?address=" + url.QueryEscape(mint)
	if err := c.http.GetJSON(ctx, Provider, u, c.headers(), &out); err != nil {
		return nil, fmt.Errorf("token meta %s: %w", mint, err)
	}
	if !out.Success || out.Data.Symbol == "" {
		return nil, fmt.Errorf("no meta for %s", mint)
	}
	return &out.Data, nil
}

// TransactionDetail is the explorer's parsed view of a transaction.
type TransactionDetail struct {
	Signature string   `json:"signature"`
	BlockTime int64    `json:"blockTime"`
	Status    string   `json:"status"`
	Logs      []string `json:"logMessage"`
}

// Transaction fetches the explorer's parse of a transaction.
func (c *Client) Transaction(ctx context.Context, sig string) (*TransactionDetail, error) {
	var out struct {
		Data    TransactionDetail `json:"data"`
		Success bool              `json:"success"`
	}
	u := c.baseURL + "/transaction/detail?tx=" + url.QueryEscape(sig)
	if err := c.http.GetJSON(ctx, Provider, u, c.headers(), &out); err != nil {
		return nil, fmt.Errorf("transaction %s: %w", sig, err)
	}
	if !out.Success {
		return nil, fmt.Errorf("no transaction %s", sig)
	}
	return &out.Data, nil
}
