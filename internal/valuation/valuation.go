// Package valuation computes USD values for trades, LP events and wallet
// transactions with a fallback chain per value class.
package valuation

import (
	"math"

	"dlmm-tracker/internal/domain"
)

// SanityCapUSD rejects obviously corrupt upstream values; anything above
// this falls through to the next valuation source.
const SanityCapUSD = 100_000_000

// lamportsPerSol converts native balance deltas to network token units.
const lamportsPerSol = 1_000_000_000

// PriceSource is the slice of the price resolver valuation needs.
type PriceSource interface {
	Price(mint string) (float64, bool)
	NetworkTokenPrice() (float64, bool)
}

// MetaSource supplies decimals for mints whose payload omitted them.
type MetaSource interface {
	Decimals(mint string) int
}

// Valuer values semantic events.
type Valuer struct {
	prices PriceSource
	meta   MetaSource
}

// New creates a Valuer.
func New(prices PriceSource, meta MetaSource) *Valuer {
	return &Valuer{prices: prices, meta: meta}
}

// sane reports whether a computed USD value passes the sanity cap.
func sane(usd float64) bool {
	return usd > 0 && usd <= SanityCapUSD && !math.IsNaN(usd) && !math.IsInf(usd, 0)
}

// uiAmount scales a raw amount by its decimals. decimals < 0 means
// unknown; the metadata default is used then.
func (v *Valuer) uiAmount(raw uint64, decimals int, mint string) float64 {
	if decimals < 0 {
		decimals = v.meta.Decimals(mint)
	}
	return float64(raw) / math.Pow10(decimals)
}

// ValueTrade values a swap. Priority: explicit field, quote side, base
// side, pool spot price. Each candidate must pass the sanity cap.
func (v *Valuer) ValueTrade(ev *domain.SemanticEvent, pool *domain.Pool) float64 {
	if sane(ev.USDValue) {
		return ev.USDValue
	}
	if pool != nil {
		// Quote side: whichever leg moves the quote token.
		if usd := v.legValue(ev, pool.QuoteMint); sane(usd) {
			return usd
		}
		// Base side fallback.
		if usd := v.legValue(ev, pool.BaseMint); sane(usd) {
			return usd
		}
		// Listed spot price × base amount.
		if pool.SpotPrice != nil {
			baseRaw, baseDec := ev.AmountOut, ev.DecimalsOut
			if ev.MintIn == pool.BaseMint {
				baseRaw, baseDec = ev.AmountIn, ev.DecimalsIn
			}
			usd := v.uiAmount(baseRaw, baseDec, pool.BaseMint) * *pool.SpotPrice
			if sane(usd) {
				return usd
			}
		}
	}
	return 0
}

// legValue values whichever swap leg moves the given mint.
func (v *Valuer) legValue(ev *domain.SemanticEvent, mint string) float64 {
	price, ok := v.prices.Price(mint)
	if !ok {
		return 0
	}
	switch mint {
	case ev.MintIn:
		return v.uiAmount(ev.AmountIn, ev.DecimalsIn, mint) * price
	case ev.MintOut:
		return v.uiAmount(ev.AmountOut, ev.DecimalsOut, mint) * price
	}
	return 0
}

// ValueLP values a liquidity event. The explicit field wins; otherwise
// both sides are priced independently. Single-sided deposits are legal,
// so a missing side contributes zero rather than doubling the other.
func (v *Valuer) ValueLP(ev *domain.SemanticEvent, pool *domain.Pool) float64 {
	if sane(ev.USDValue) {
		return ev.USDValue
	}
	if pool == nil {
		return 0
	}

	// LP events carry base in AmountIn and quote in AmountOut.
	var usd float64
	if ev.AmountIn > 0 {
		if price, ok := v.prices.Price(pool.BaseMint); ok {
			usd += v.uiAmount(ev.AmountIn, ev.DecimalsIn, pool.BaseMint) * price
		}
	}
	if ev.AmountOut > 0 {
		if price, ok := v.prices.Price(pool.QuoteMint); ok {
			usd += v.uiAmount(ev.AmountOut, ev.DecimalsOut, pool.QuoteMint) * price
		}
	}
	if !sane(usd) {
		return 0
	}
	return usd
}

// TokenTransfer is one SPL transfer leg of a wallet transaction.
type TokenTransfer struct {
	Mint     string
	Amount   float64 // UI units
	Decimals int
	Incoming bool
}

// ValueWalletTx values a wallet transaction: native lamports plus every
// token transfer. When the transaction looks like a swap (value moved in
// both directions) the sum counts both sides and is halved; one-sided
// transfers keep the full sum.
func (v *Valuer) ValueWalletTx(lamportsDelta int64, transfers []TokenTransfer) float64 {
	var total float64

	solPrice, hasSol := v.prices.NetworkTokenPrice()
	if hasSol && lamportsDelta != 0 {
		total += math.Abs(float64(lamportsDelta)) / lamportsPerSol * solPrice
	}

	var sawIn, sawOut bool
	if lamportsDelta > 0 {
		sawIn = true
	} else if lamportsDelta < 0 {
		sawOut = true
	}

	for _, tr := range transfers {
		price, ok := v.prices.Price(tr.Mint)
		if !ok {
			continue
		}
		total += math.Abs(tr.Amount) * price
		if tr.Incoming {
			sawIn = true
		} else {
			sawOut = true
		}
	}

	if sawIn && sawOut {
		// Both sides of a swap observed; attribute one side only.
		total /= 2
	}
	if !sane(total) {
		return 0
	}
	return total
}
