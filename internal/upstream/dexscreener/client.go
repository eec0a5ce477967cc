// Package dexscreener is the client for the pair-centric price aggregator.
package dexscreener

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// Provider id used for rate limiting and health tracking.
const Provider = "dexscreener"

type jsonClient interface {
	GetJSON(ctx context.Context, provider, url string, headers map[string]string, out interface{}) error
}

// Client talks to the pair API.
type Client struct {
	baseURL string
	http    jsonClient
}

// NewClient creates a client rooted at baseURL.
func NewClient(baseURL string, http jsonClient) *Client {
	return &Client{baseURL: baseURL, http: http}
}

// Pair is one pair row. PriceUSD arrives as a string upstream.
type Pair struct {
	PairAddress string `json:"pairAddress"`
	PriceUSD    string `json:"priceUsd"`
	BaseToken   struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
		Name    string `json:"name"`
	} `json:"baseToken"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
}

// TokenPairs returns the pairs listing a mint in the order the API sends
// them; no sorting is applied.
func (c *Client) TokenPairs(ctx context.Context, mint string) ([]Pair, error) {
	var out struct {
		Pairs []Pair `json:"pairs"`
	}
	u := c.baseURL + "/latest/dex/tokens/" + url.PathEscape(mint)
	if err := c.http.GetJSON(ctx, Provider, u, nil, &out); err != nil {
		return nil, fmt.Errorf("token pairs %s: %w", mint, err)
	}
	return out.Pairs, nil
}

// Price returns the USD price of a mint from its deepest pair.
func (c *Client) Price(ctx context.Context, mint string) (float64, error) {
	pairs, err := c.TokenPairs(ctx, mint)
	if err != nil {
		return 0, err
	}

	best := 0.0
	bestLiq := -1.0
	for _, p := range pairs {
		price, err := strconv.ParseFloat(p.PriceUSD, 64)
		if err != nil || price <= 0 {
			continue
		}
		if p.Liquidity.USD > bestLiq {
			best = price
			bestLiq = p.Liquidity.USD
		}
	}
	if best <= 0 {
		return 0, fmt.Errorf("no priced pair for %s", mint)
	}
	return best, nil
}

// Symbol returns the base token symbol of the first listed pair whose base
// token is the mint.
func (c *Client) Symbol(ctx context.Context, mint string) (string, error) {
	pairs, err := c.TokenPairs(ctx, mint)
	if err != nil {
		return "", err
	}
	for _, p := range pairs {
		if p.BaseToken.Address == mint && p.BaseToken.Symbol != "" {
			return p.BaseToken.Symbol, nil
		}
	}
	return "", fmt.Errorf("no symbol for %s", mint)
}
