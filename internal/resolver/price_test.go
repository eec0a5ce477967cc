package resolver

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"dlmm-tracker/internal/health"
	"dlmm-tracker/internal/upstream/rpc"
)

const usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

type stubBatch struct {
	prices map[string]float64
	err    error
	calls  int
}

func (s *stubBatch) GetAssetBatch(_ context.Context, mints []string) ([]rpc.Asset, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	var out []rpc.Asset
	for _, m := range mints {
		p, ok := s.prices[m]
		if !ok {
			continue
		}
		var a rpc.Asset
		a.ID = m
		a.TokenInfo.PriceInfo = &struct {
			PricePerToken float64 `json:"price_per_token"`
			TotalPrice    float64 `json:"total_price"`
		}{PricePerToken: p}
		out = append(out, a)
	}
	return out, nil
}

type stubPrice struct {
	price float64
	err   error
	calls int
}

func (s *stubPrice) Price(context.Context, string) (float64, error) {
	s.calls++
	return s.price, s.err
}

type stubSimple struct {
	price float64
	err   error
	calls int
}

func (s *stubSimple) SolanaPrice(context.Context) (float64, error) {
	s.calls++
	return s.price, s.err
}

func newPriceResolver(opts PriceOptions) *PriceResolver {
	if opts.Health == nil {
		opts.Health = health.NewTracker()
	}
	opts.Logger = log.New(io.Discard, "", 0)
	return NewPriceResolver(opts)
}

func TestPriceResolver_StableMintsAreAlwaysOne(t *testing.T) {
	r := newPriceResolver(PriceOptions{StableMints: []string{usdcMint}})
	price, ok := r.Price(usdcMint)
	if !ok || price != 1.0 {
		t.Fatalf("stable mint should resolve to 1.0, got (%v, %v)", price, ok)
	}
}

func TestPriceResolver_ChainStopsOnFirstSuccess(t *testing.T) {
	batch := &stubBatch{prices: map[string]float64{NetworkTokenMint: 150}}
	ds := &stubPrice{price: 149}
	r := newPriceResolver(PriceOptions{RPC: batch, Dexscreener: ds})

	r.Refresh(context.Background())

	if ds.calls != 0 {
		t.Fatal("chain should stop after the aggregator priced the network token")
	}
	price, ok := r.NetworkTokenPrice()
	if !ok || price != 150 {
		t.Fatalf("expected 150, got (%v, %v)", price, ok)
	}
}

func TestPriceResolver_ChainFallsThrough(t *testing.T) {
	batch := &stubBatch{err: errors.New("down")}
	ds := &stubPrice{err: errors.New("down")}
	be := &stubPrice{price: 151}
	cg := &stubSimple{price: 152}
	hlth := health.NewTracker()
	r := newPriceResolver(PriceOptions{RPC: batch, Dexscreener: ds, Birdeye: be, Coingecko: cg, Health: hlth})

	r.Refresh(context.Background())

	if cg.calls != 0 {
		t.Fatal("chain should stop at birdeye")
	}
	price, _ := r.NetworkTokenPrice()
	if price != 151 {
		t.Fatalf("expected birdeye price 151, got %v", price)
	}
	if hlth.Get("dexscreener").Status != health.StatusDegraded {
		t.Fatal("failed provider should be marked degraded")
	}
	if hlth.Get("birdeye").Status != health.StatusOK {
		t.Fatal("successful provider should be marked ok")
	}
}

func TestPriceResolver_StalePriceIsMissing(t *testing.T) {
	r := newPriceResolver(PriceOptions{RefreshInterval: 5 * time.Minute})
	now := time.Unix(10_000, 0)
	r.now = func() time.Time { return now }

	r.store("MintX", 2.5, "test")

	now = now.Add(9 * time.Minute)
	if _, ok := r.Price("MintX"); !ok {
		t.Fatal("price within 2× refresh interval should be usable")
	}

	now = now.Add(2 * time.Minute) // 11 min > 10 min
	if _, ok := r.Price("MintX"); ok {
		t.Fatal("price older than 2× refresh interval must be treated as missing")
	}
}

func TestPriceResolver_NetworkTokenOnlyIsOneBatch(t *testing.T) {
	batch := &stubBatch{prices: map[string]float64{NetworkTokenMint: 150}}
	r := newPriceResolver(PriceOptions{RPC: batch})

	// Only the network token: one batch.
	r.Refresh(context.Background())
	if batch.calls != 1 {
		t.Fatalf("expected 1 batch call, got %d", batch.calls)
	}
}
