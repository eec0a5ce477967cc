package command

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/registry"
	"dlmm-tracker/internal/storage/memory"
	"dlmm-tracker/internal/subscribers"
	"dlmm-tracker/internal/upstream/dexapi"
)

// Real base58 keys: the first two lie on the ed25519 curve, the third is a
// program-derived (off-curve) address.
const (
	onCurveWallet  = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	onCurveWallet2 = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	offCurveAddr   = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
)

type stubMarket struct{ trades []dexapi.Trade }

func (s *stubMarket) Candles(context.Context, string, string, int) ([]dexapi.Candle, error) {
	return nil, nil
}

func (s *stubMarket) Trades(context.Context, string, int) ([]dexapi.Trade, error) {
	return s.trades, nil
}

type stubSyncer struct{ calls int }

func (s *stubSyncer) Sync(context.Context, int64) (*domain.PortfolioSnapshot, error) {
	s.calls++
	return &domain.PortfolioSnapshot{LastSync: int64(s.calls)}, nil
}

type stubRefresher struct{ calls int }

func (s *stubRefresher) Refresh() { s.calls++ }

type poolSource struct{ pools []dexapi.PoolInfo }

func (p poolSource) Pools(context.Context) ([]dexapi.PoolInfo, error)    { return p.pools, nil }
func (p poolSource) Volumes(context.Context) (map[string]float64, error) { return nil, nil }

func newAPI(t *testing.T) (*API, *subscribers.Registry, *stubRefresher) {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	subs := subscribers.NewRegistry(subscribers.Options{
		Store: memory.NewSubscriberStore(), Logger: quiet,
	})
	pools := registry.New(registry.Options{
		Source:      poolSource{pools: []dexapi.PoolInfo{{ID: "P1", BaseMint: "A", QuoteMint: "B", BaseSymbol: "PROTO", QuoteSymbol: "USDC"}}},
		ProgramID:   "prog",
		PrimaryMint: "A",
		Logger:      quiet,
	})
	if err := pools.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	refresher := &stubRefresher{}
	api := New(Options{
		Subscribers:  subs,
		Pools:        pools,
		Market:       &stubMarket{},
		Portfolio:    &stubSyncer{},
		Volumes:      memory.NewVolumeHistoryStore(),
		Wallets:      refresher,
		MaxWallets:   3,
		MaxWatchlist: 3,
	})
	return api, subs, refresher
}

func TestToggle_FlipsAndRejectsUnknown(t *testing.T) {
	api, subs, _ := newAPI(t)

	on, err := api.Toggle(1, FieldDailyDigest)
	if err != nil || !on {
		t.Fatalf("first toggle should enable: %v %v", on, err)
	}
	off, err := api.Toggle(1, FieldDailyDigest)
	if err != nil || off {
		t.Fatalf("second toggle should disable: %v %v", off, err)
	}

	if _, err := api.Toggle(1, ToggleField("bogus_field")); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}

	sub, _ := subs.Get(1)
	if sub.Prefs.DailyDigest {
		t.Fatal("state should reflect the final toggle")
	}
}

func TestSetThreshold_Idempotent(t *testing.T) {
	api, subs, _ := newAPI(t)

	if err := api.SetThreshold(1, ThresholdPrimary, 500); err != nil {
		t.Fatal(err)
	}
	if err := api.SetThreshold(1, ThresholdPrimary, 500); err != nil {
		t.Fatal(err)
	}
	sub, _ := subs.Get(1)
	if sub.Prefs.PrimaryTradeMinUSD != 500 {
		t.Fatalf("threshold = %v", sub.Prefs.PrimaryTradeMinUSD)
	}

	if err := api.SetThreshold(1, ThresholdKind("nope"), 1); !errors.Is(err, ErrUnknownThreshold) {
		t.Fatalf("expected ErrUnknownThreshold, got %v", err)
	}
}

func TestAddRemoveWallet_RoundTrip(t *testing.T) {
	api, subs, refresher := newAPI(t)

	if err := api.AddWallet(1, onCurveWallet); err != nil {
		t.Fatal(err)
	}
	if refresher.calls != 1 {
		t.Fatal("wallet feed should be refreshed on add")
	}
	if err := api.AddWallet(1, onCurveWallet); !errors.Is(err, ErrAlreadyPresent) {
		t.Fatalf("expected ErrAlreadyPresent, got %v", err)
	}

	if err := api.RemoveWallet(1, onCurveWallet); err != nil {
		t.Fatal(err)
	}
	sub, _ := subs.Get(1)
	if len(sub.WalletSubscriptions) != 0 {
		t.Fatal("add then remove must leave the set unchanged")
	}
}

func TestAddWallet_RejectsInvalid(t *testing.T) {
	api, subs, _ := newAPI(t)

	cases := []string{
		"not-base58-!!!",
		"tooshort",
		offCurveAddr, // program-derived, off curve
	}
	for _, addr := range cases {
		if err := api.AddWallet(1, addr); !errors.Is(err, ErrInvalidWallet) {
			t.Errorf("address %q: expected ErrInvalidWallet, got %v", addr, err)
		}
	}
	if sub, ok := subs.Get(1); ok && len(sub.WalletSubscriptions) != 0 {
		t.Fatal("rejected adds must not change state")
	}
}

func TestAddWallet_Cap(t *testing.T) {
	api, _, _ := newAPI(t)

	wallets := []string{
		onCurveWallet,
		onCurveWallet2,
		"So11111111111111111111111111111111111111112",
	}
	for _, w := range wallets {
		if err := api.AddWallet(1, w); err != nil {
			t.Fatalf("add %s: %v", w, err)
		}
	}
	if err := api.AddWallet(1, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded at cap, got %v", err)
	}
}

func TestWatchlistSharedBudget(t *testing.T) {
	api, _, _ := newAPI(t)

	if err := api.AddWatchlistPool(1, "So11111111111111111111111111111111111111112"); err != nil {
		t.Fatal(err)
	}
	if err := api.AddTrackedToken(1, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"); err != nil {
		t.Fatal(err)
	}
	if err := api.AddTrackedToken(1, onCurveWallet); err != nil {
		t.Fatal(err)
	}
	// Budget (3) is shared between watchlist and tracked tokens.
	if err := api.AddWatchlistPool(1, onCurveWallet2); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected shared budget exhaustion, got %v", err)
	}
}

func TestPortfolioWalletCapIsFive(t *testing.T) {
	api, _, _ := newAPI(t)

	wallets := []string{
		onCurveWallet,
		onCurveWallet2,
		"So11111111111111111111111111111111111111112",
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		"ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL",
	}
	for _, w := range wallets {
		if err := api.AddPortfolioWallet(1, w); err != nil {
			t.Fatalf("add %s: %v", w, err)
		}
	}
	if err := api.AddPortfolioWallet(1, "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected cap 5, got %v", err)
	}
}

func TestSetQuietHours_Validation(t *testing.T) {
	api, subs, _ := newAPI(t)

	start, end := 22, 6
	if err := api.SetQuietHours(1, &start, &end); err != nil {
		t.Fatal(err)
	}
	sub, _ := subs.Get(1)
	if sub.QuietStart == nil || *sub.QuietStart != 22 {
		t.Fatal("quiet start not stored")
	}

	bad := 24
	if err := api.SetQuietHours(1, &bad, &end); !errors.Is(err, ErrInvalidHours) {
		t.Fatalf("hour 24 must be rejected, got %v", err)
	}
	if err := api.SetQuietHours(1, &start, nil); !errors.Is(err, ErrInvalidHours) {
		t.Fatalf("half-set window must be rejected, got %v", err)
	}

	// nil/nil clears.
	if err := api.SetQuietHours(1, nil, nil); err != nil {
		t.Fatal(err)
	}
	sub, _ = subs.Get(1)
	if sub.QuietStart != nil || sub.QuietEnd != nil {
		t.Fatal("nil/nil should clear the window")
	}
}

func TestSearchAndGetPool(t *testing.T) {
	api, _, _ := newAPI(t)

	if p := api.GetPool("P1"); p == nil || p.PairName != "PROTO/USDC" {
		t.Fatalf("GetPool: %+v", p)
	}
	if found := api.SearchPools("proto"); len(found) != 1 {
		t.Fatalf("SearchPools: %d results", len(found))
	}
	if found := api.SearchPools("zzz"); len(found) != 0 {
		t.Fatalf("SearchPools zzz: %d results", len(found))
	}
}

func TestLeaderboard(t *testing.T) {
	api, _, _ := newAPI(t)
	api.market = &stubMarket{trades: []dexapi.Trade{
		{Wallet: "W1", USDValue: 100},
		{Wallet: "W2", USDValue: 300},
		{Wallet: "W1", USDValue: 50},
	}}

	entries, err := api.Leaderboard(context.Background(), "P1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Wallet != "W2" || entries[1].USDTotal != 150 {
		t.Fatalf("unexpected leaderboard: %+v", entries)
	}
}
