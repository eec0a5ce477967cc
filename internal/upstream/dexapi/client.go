// Package dexapi is the client for the DLMM protocol's own HTTP API.
package dexapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// jsonClient is the slice of httpx.Client this package needs.
type jsonClient interface {
	GetJSON(ctx context.Context, provider, url string, headers map[string]string, out interface{}) error
}

const provider = "dexapi"

// Client talks to the DEX API.
type Client struct {
	baseURL string
	http    jsonClient
}

// NewClient creates a DEX API client rooted at baseURL.
func NewClient(baseURL string, http jsonClient) *Client {
	return &Client{baseURL: baseURL, http: http}
}

// Pools fetches the full pool list. The envelope is lenient: the array may
// be at the root or under "pools" or "pairs".
func (c *Client) Pools(ctx context.Context) ([]PoolInfo, error) {
	var raw json.RawMessage
	if err := c.http.GetJSON(ctx, provider, c.baseURL+"/pools", nil, &raw); err != nil {
		return nil, fmt.Errorf("fetch pools: %w", err)
	}
	return decodePoolList(raw)
}

// Pool fetches a single pool by id.
func (c *Client) Pool(ctx context.Context, id string) (*PoolInfo, error) {
	var p PoolInfo
	if err := c.http.GetJSON(ctx, provider, c.baseURL+"/pool/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, fmt.Errorf("fetch pool %s: %w", id, err)
	}
	return &p, nil
}

// Trades fetches the most recent trades for a pool.
func (c *Client) Trades(ctx context.Context, poolID string, limit int) ([]Trade, error) {
	u := fmt.Sprintf("%s/trades/%s?limit=%d", c.baseURL, url.PathEscape(poolID), limit)
	var raw json.RawMessage
	if err := c.http.GetJSON(ctx, provider, u, nil, &raw); err != nil {
		return nil, fmt.Errorf("fetch trades for %s: %w", poolID, err)
	}
	return decodeTradeList(raw)
}

// Candles fetches OHLCV candles for a pool. tf is one of 15m, 1h, 4h, 1d.
func (c *Client) Candles(ctx context.Context, poolID, tf string, limit int) ([]Candle, error) {
	u := fmt.Sprintf("%s/candles/%s?tf=%s&limit=%d", c.baseURL, url.PathEscape(poolID), url.QueryEscape(tf), limit)
	var out struct {
		Candles []Candle `json:"candles"`
	}
	if err := c.http.GetJSON(ctx, provider, u, nil, &out); err != nil {
		return nil, fmt.Errorf("fetch candles for %s: %w", poolID, err)
	}
	return out.Candles, nil
}

// Volumes fetches the 24h volume per pool.
func (c *Client) Volumes(ctx context.Context) (map[string]float64, error) {
	var out struct {
		Volumes map[string]float64 `json:"volumes"`
	}
	if err := c.http.GetJSON(ctx, provider, c.baseURL+"/volumes?tf=24h", nil, &out); err != nil {
		return nil, fmt.Errorf("fetch volumes: %w", err)
	}
	return out.Volumes, nil
}

// Asset fetches protocol-level token metadata for a mint.
func (c *Client) Asset(ctx context.Context, mint string) (*Asset, error) {
	var a Asset
	if err := c.http.GetJSON(ctx, provider, c.baseURL+"/asset?id="+url.QueryEscape(mint), nil, &a); err != nil {
		return nil, fmt.Errorf("fetch asset %s: %w", mint, err)
	}
	return &a, nil
}

// Health pings the DEX API health endpoint.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.http.GetJSON(ctx, provider, c.baseURL+"/health", nil, &out); err != nil {
		return fmt.Errorf("dex health: %w", err)
	}
	return nil
}

// WSTicket fetches a short-lived WebSocket auth ticket.
func (c *Client) WSTicket(ctx context.Context) (string, error) {
	var out struct {
		Ticket string `json:"ticket"`
	}
	if err := c.http.GetJSON(ctx, provider, c.baseURL+"/ws-ticket", nil, &out); err != nil {
		return "", fmt.Errorf("fetch ws ticket: %w", err)
	}
	if out.Ticket == "" {
		return "", fmt.Errorf("empty ws ticket")
	}
	return out.Ticket, nil
}
