package domain

import "time"

// PriceEntry is a cached USD price for a mint.
type PriceEntry struct {
	Mint      string
	PriceUSD  float64
	UpdatedAt time.Time
	Source    string // provider that produced the price
}

// Usable reports whether the entry is fresh enough to serve.
// A price older than twice the refresh interval is treated as missing.
func (p PriceEntry) Usable(now time.Time, refreshInterval time.Duration) bool {
	return now.Sub(p.UpdatedAt) < 2*refreshInterval
}
