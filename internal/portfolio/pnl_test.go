package portfolio

import (
	"math"
	"testing"

	"dlmm-tracker/internal/domain"
)

func trade(pool string, ts int64, usd float64, buy bool) domain.PortfolioTrade {
	return domain.PortfolioTrade{PoolID: pool, Timestamp: ts, USDValue: usd, IsBuy: buy}
}

func TestRealizedPnL_ProportionalBasis(t *testing.T) {
	// Two buys of 100, a sell of 150, a sell of 100.
	// basis 200 → sell 150: p=0.75, realized += 150−150 = 0, basis 50
	// → sell 100: p=1, realized += 100−50 = 50, basis 0.
	trades := []domain.PortfolioTrade{
		trade("P1", 1, 100, true),
		trade("P1", 2, 100, true),
		trade("P1", 3, 150, false),
		trade("P1", 4, 100, false),
	}
	if got := RealizedPnL(trades); math.Abs(got-50) > 1e-9 {
		t.Fatalf("expected 50, got %v", got)
	}
}

func TestRealizedPnL_ProcessesInTimestampOrder(t *testing.T) {
	// Same trades, shuffled input order: the result must not change.
	trades := []domain.PortfolioTrade{
		trade("P1", 4, 100, false),
		trade("P1", 2, 100, true),
		trade("P1", 3, 150, false),
		trade("P1", 1, 100, true),
	}
	if got := RealizedPnL(trades); math.Abs(got-50) > 1e-9 {
		t.Fatalf("expected order-independent 50, got %v", got)
	}
}

func TestRealizedPnL_SellWithoutBasis(t *testing.T) {
	trades := []domain.PortfolioTrade{trade("P1", 1, 80, false)}
	if got := RealizedPnL(trades); math.Abs(got-80) > 1e-9 {
		t.Fatalf("sell against empty basis realizes full value, got %v", got)
	}
}

func TestRealizedPnL_PerPoolIsolation(t *testing.T) {
	trades := []domain.PortfolioTrade{
		trade("P1", 1, 100, true),
		trade("P2", 2, 300, false), // no P2 basis: +300
		trade("P1", 3, 50, false),  // p=0.5: realized += 50−50 = 0
	}
	if got := RealizedPnL(trades); math.Abs(got-300) > 1e-9 {
		t.Fatalf("expected 300, got %v", got)
	}
}

func TestRealizedPnL_ProfitableRoundTrip(t *testing.T) {
	// Buy 100, sell everything for 400: p capped at 1, realized 300.
	trades := []domain.PortfolioTrade{
		trade("P1", 1, 100, true),
		trade("P1", 2, 400, false),
	}
	if got := RealizedPnL(trades); math.Abs(got-300) > 1e-9 {
		t.Fatalf("expected 300, got %v", got)
	}
}

func TestRealizedPnL_Empty(t *testing.T) {
	if got := RealizedPnL(nil); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}
