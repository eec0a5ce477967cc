package portfolio

import (
	"sort"

	"dlmm-tracker/internal/domain"
)

// poolBasis is the running cost-basis state for one pool.
type poolBasis struct {
	boughtUSD float64
	soldUSD   float64
	costBasis float64
	realized  float64
}

// RealizedPnL computes realized profit with a proportional cost-basis
// model, per pool:
//
//	buy:  bought += usd; basis += usd
//	sell: p = min(usd/basis, 1); realized += usd − basis×p; basis −= basis×p
//
// Trades are processed in ascending timestamp order regardless of input
// order. Sells against an empty basis realize their full value.
func RealizedPnL(trades []domain.PortfolioTrade) float64 {
	sorted := make([]domain.PortfolioTrade, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	pools := make(map[string]*poolBasis)
	for _, t := range sorted {
		b, ok := pools[t.PoolID]
		if !ok {
			b = &poolBasis{}
			pools[t.PoolID] = b
		}
		if t.IsBuy {
			b.boughtUSD += t.USDValue
			b.costBasis += t.USDValue
			continue
		}
		b.soldUSD += t.USDValue
		if b.costBasis > 0 {
			p := t.USDValue / b.costBasis
			if p > 1 {
				p = 1
			}
			consumed := b.costBasis * p
			b.realized += t.USDValue - consumed
			b.costBasis -= consumed
		} else {
			b.realized += t.USDValue
		}
	}

	var total float64
	for _, b := range pools {
		total += b.realized
	}
	return total
}

// countSides tallies buys and sells.
func countSides(trades []domain.PortfolioTrade) (buys, sells int) {
	for _, t := range trades {
		if t.IsBuy {
			buys++
		} else {
			sells++
		}
	}
	return buys, sells
}
