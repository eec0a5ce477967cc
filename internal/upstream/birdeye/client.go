// Package birdeye is the client for the secondary market-data aggregator
// (prices, token overview, wallet net worth and PnL).
package birdeye

import (
	"context"
	"fmt"
	"net/url"
)

// Provider id used for rate limiting and health tracking.
const Provider = "birdeye"

type jsonClient interface {
	GetJSON(ctx context.Context, provider, url string, headers map[string]string, out interface{}) error
}

// Client talks to the aggregator's REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    jsonClient
}

// NewClient creates a client. apiKey may be empty for public endpoints.
func NewClient(baseURL, apiKey string, http jsonClient) *Client {
	return &Client{baseURL: baseURL, apiKey: apiKey, http: http}
}

func (c *Client) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"X-API-KEY": c.apiKey}
}

// Price returns the USD price for a mint.
func (c *Client) Price(ctx context.Context, mint string) (float64, error) {
	var out struct {
		Data struct {
			Value float64 `json:"value"`
		} `json:"data"`
		Success bool `json:"success"`
	}
	u := c.baseURL + "/defi/price?address=" + url.QueryEscape(mint)
	if err := c.http.GetJSON(ctx, Provider, u, c.headers(), &out); err != nil {
		return 0, fmt.Errorf("price %s: %w", mint, err)
	}
	if !out.Success || out.Data.Value <= 0 {
		return 0, fmt.Errorf("no price for %s", mint)
	}
	return out.Data.Value, nil
}

// Overview is summary market data for a token.
type Overview struct {
	Symbol     string  `json:"symbol"`
	Name       string  `json:"name"`
	Decimals   int     `json:"decimals"`
	PriceUSD   float64 `json:"price"`
	Volume24h  float64 `json:"v24hUSD"`
	Liquidity  float64 `json:"liquidity"`
	MarketCap  float64 `json:"mc"`
	HolderCnt  int64   `json:"holder"`
}

// TokenOverview fetches summary market data for a mint.
func (c *Client) TokenOverview(ctx context.Context, mint string) (*Overview, error) {
	var out struct {
		Data    Overview `json:"data"`
		Success bool     `json:"success"`
	}
	u := c.baseURL + "/defi/token_overview?address=" + url.QueryEscape(mint)
	if err := c.http.GetJSON(ctx, Provider, u, c.headers(), &out); err != nil {
		return nil, fmt.Errorf("overview %s: %w", mint, err)
	}
	if !out.Success {
		return nil, fmt.Errorf("no overview for %s", mint)
	}
	return &out.Data, nil
}

// TokenHolder is one holder row.
type TokenHolder struct {
	Owner    string  `json:"owner"`
	UIAmount float64 `json:"ui_amount"`
}

// TokenHolders returns the top holders of a mint.
func (c *Client) TokenHolders(ctx context.Context, mint string, limit int) ([]TokenHolder, error) {
	var out struct {
		Data struct {
			Items []TokenHolder `json:"items"`
		} `json:"data"`
		Success bool `json:"success"`
	}
	u := fmt.Sprintf("%s/defi/v3/token/holder?address=%s&limit=%d", c.baseURL, url.QueryEscape(mint), limit)
	if err := c.http.GetJSON(ctx, Provider, u, c.headers(), &out); err != nil {
		return nil, fmt.Errorf("holders %s: %w", mint, err)
	}
	return out.Data.Items, nil
}

// WalletToken is one token row of a wallet portfolio listing.
type WalletToken struct {
	Address  string  `json:"address"` // mint
	Symbol   string  `json:"symbol"`
	Decimals int     `json:"decimals"`
	UIAmount float64 `json:"uiAmount"`
	PriceUSD float64 `json:"priceUsd"`
	ValueUSD float64 `json:"valueUsd"`
}

// WalletPortfolio is the aggregator's view of one wallet.
type WalletPortfolio struct {
	Wallet           string        `json:"wallet"`
	TotalUSD         float64       `json:"totalUsd"`
	RealizedPnlUSD   *float64      `json:"realizedPnlUsd"`
	UnrealizedPnlUSD *float64      `json:"unrealizedPnlUsd"`
	Items            []WalletToken `json:"items"`
}

// WalletTokenList fetches a wallet's token list with USD values and PnL.
func (c *Client) WalletTokenList(ctx context.Context, wallet string) (*WalletPortfolio, error) {
	var out struct {
		Data    WalletPortfolio `json:"data"`
		Success bool            `json:"success"`
	}
	u := c.baseURL + "/v1/wallet/token_list?wallet=" + url.QueryEscape(wallet)
	if err := c.http.GetJSON(ctx, Provider, u, c.headers(), &out); err != nil {
		return nil, fmt.Errorf("wallet token list %s: %w", wallet, err)
	}
	if !out.Success {
		return nil, fmt.Errorf("no portfolio for %s", wallet)
	}
	return &out.Data, nil
}
