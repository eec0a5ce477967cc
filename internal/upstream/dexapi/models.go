package dexapi

import (
	"encoding/json"
	"fmt"
)

// PoolInfo is one pool as returned by the DEX API. Field names upstream
// vary between camelCase and snake_case; both are accepted.
type PoolInfo struct {
	ID             string   `json:"id"`
	Address        string   `json:"address"` // some responses use address instead of id
	BaseMint       string   `json:"baseMint"`
	BaseMintSnake  string   `json:"base_mint"`
	QuoteMint      string   `json:"quoteMint"`
	QuoteMintSnake string   `json:"quote_mint"`
	BaseSymbol     string   `json:"baseSymbol"`
	QuoteSymbol    string   `json:"quoteSymbol"`
	LPMint         string   `json:"lpMint"`
	CreatedAt      int64    `json:"createdAt"`
	TVL            *float64 `json:"tvl"`
	FeeBps         *int     `json:"feeBps"`
	ProtocolFeeBps *int     `json:"protocolFeeBps"`
	Price          *float64 `json:"price"`
}

// PoolID returns whichever id field the response populated.
func (p *PoolInfo) PoolID() string {
	if p.ID != "" {
		return p.ID
	}
	return p.Address
}

// Base returns the base mint from either naming convention.
func (p *PoolInfo) Base() string {
	if p.BaseMint != "" {
		return p.BaseMint
	}
	return p.BaseMintSnake
}

// Quote returns the quote mint from either naming convention.
func (p *PoolInfo) Quote() string {
	if p.QuoteMint != "" {
		return p.QuoteMint
	}
	return p.QuoteMintSnake
}

// Trade is one recent trade row.
type Trade struct {
	Signature string  `json:"signature"`
	Pool      string  `json:"pool"`
	Wallet    string  `json:"wallet"`
	Side      string  `json:"side"` // "buy" or "sell"
	AmountIn  uint64  `json:"amountIn"`
	AmountOut uint64  `json:"amountOut"`
	MintIn    string  `json:"mintIn"`
	MintOut   string  `json:"mintOut"`
	USDValue  float64 `json:"usdValue"`
	Timestamp int64   `json:"timestamp"`
}

// Candle is one OHLCV bar.
type Candle struct {
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	VolumeUSD float64 `json:"volumeUsd"`
	Timestamp int64   `json:"timestamp"`
}

// Asset is protocol token metadata.
type Asset struct {
	Mint     string `json:"mint"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
}

// decodePoolList accepts a root array or an object wrapping it under
// "pools" or "pairs".
func decodePoolList(raw json.RawMessage) ([]PoolInfo, error) {
	var direct []PoolInfo
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct, nil
	}

	var wrapped struct {
		Pools []PoolInfo `json:"pools"`
		Pairs []PoolInfo `json:"pairs"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode pool list: %w", err)
	}
	if len(wrapped.Pools) > 0 {
		return wrapped.Pools, nil
	}
	return wrapped.Pairs, nil
}

// decodeTradeList accepts a root array or an object with "trades".
func decodeTradeList(raw json.RawMessage) ([]Trade, error) {
	var direct []Trade
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct, nil
	}
	var wrapped struct {
		Trades []Trade `json:"trades"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode trade list: %w", err)
	}
	return wrapped.Trades, nil
}
