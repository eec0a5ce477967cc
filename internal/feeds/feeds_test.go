package feeds

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"dlmm-tracker/internal/registry"
	"dlmm-tracker/internal/upstream/dexapi"
)

func TestBackoff(t *testing.T) {
	base := 15 * time.Second
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 15 * time.Second},
		{2, 30 * time.Second},
		{3, 60 * time.Second},
		{5, 4 * time.Minute},
		{6, 5 * time.Minute}, // capped
		{20, 5 * time.Minute},
	}
	for _, c := range cases {
		if got := backoff(base, c.attempts); got != c.want {
			t.Errorf("backoff(%d) = %v, want %v", c.attempts, got, c.want)
		}
	}
}

func TestWalletFeed_SubscribeResponseMapping(t *testing.T) {
	f := NewWalletFeed(WalletFeedOptions{
		WSURL:   "ws://unused",
		Wallets: func() []string { return nil },
		Logger:  log.New(io.Discard, "", 0),
	})

	// Simulate a pending subscribe awaiting confirmation.
	f.subMu.Lock()
	f.pending[3] = "WalletA"
	f.subMu.Unlock()

	frame, _ := json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "id": 3, "result": 99})
	if !f.handleSubscribeResponse(frame) {
		t.Fatal("confirmation frame should be consumed")
	}
	if got := f.WalletForSubscription(99); got != "WalletA" {
		t.Fatalf("subscription 99 should map to WalletA, got %q", got)
	}

	// Notification frames are not confirmations.
	notif, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0", "method": "logsNotification",
		"params": map[string]interface{}{"subscription": 99},
	})
	if f.handleSubscribeResponse(notif) {
		t.Fatal("notification must be forwarded, not consumed")
	}
}

func TestWalletFeed_RefreshSendsDeltasAndMarksDropped(t *testing.T) {
	desired := []string{"A", "B"}
	var mu sync.Mutex

	f := NewWalletFeed(WalletFeedOptions{
		WSURL: "ws://unused",
		Wallets: func() []string {
			mu.Lock()
			defer mu.Unlock()
			return append([]string(nil), desired...)
		},
		Logger: log.New(io.Discard, "", 0),
	})
	f.SetHandler(func([]byte) {})
	f.connected.Store(true) // pretend the socket is open; sends are no-ops without a conn

	f.Refresh()
	f.subMu.Lock()
	if !f.current["A"] || !f.current["B"] {
		f.subMu.Unlock()
		t.Fatal("initial refresh should subscribe both wallets")
	}
	f.subMu.Unlock()

	// Remove B, add C.
	mu.Lock()
	desired = []string{"A", "C"}
	mu.Unlock()
	f.Refresh()

	f.subMu.Lock()
	if f.current["B"] {
		f.subMu.Unlock()
		t.Fatal("removed wallet should leave the current set")
	}
	if !f.dropped["B"] {
		f.subMu.Unlock()
		t.Fatal("removed wallet must be marked dropped for consumer filtering")
	}
	if !f.current["C"] {
		f.subMu.Unlock()
		t.Fatal("added wallet missing")
	}
	f.subMu.Unlock()
	if !f.IsDropped("B") || f.IsDropped("A") {
		t.Fatal("IsDropped mismatch")
	}
}

func TestWalletFeed_ReaddClearsDropped(t *testing.T) {
	desired := []string{"A"}
	f := NewWalletFeed(WalletFeedOptions{
		WSURL:   "ws://unused",
		Wallets: func() []string { return desired },
		Logger:  log.New(io.Discard, "", 0),
	})
	f.connected.Store(true)

	f.Refresh()
	desired = []string{}
	f.Refresh()
	if !f.IsDropped("A") {
		t.Fatal("A should be dropped")
	}
	desired = []string{"A"}
	f.Refresh()
	if f.IsDropped("A") {
		t.Fatal("re-adding a wallet must clear its dropped mark")
	}
}

type pollSource struct {
	mu     sync.Mutex
	trades map[string][]dexapi.Trade
	calls  int
}

func (s *pollSource) Trades(_ context.Context, poolID string, _ int) ([]dexapi.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.trades[poolID], nil
}

type pollPools struct{ pools []dexapi.PoolInfo }

func (p pollPools) Pools(context.Context) ([]dexapi.PoolInfo, error) { return p.pools, nil }
func (p pollPools) Volumes(context.Context) (map[string]float64, error) {
	return map[string]float64{"P1": 100}, nil
}

func TestBackupPoller_OnlyWhenFeedDown(t *testing.T) {
	quiet := log.New(io.Discard, "", 0)
	reg := registry.New(registry.Options{
		Source: pollPools{pools: []dexapi.PoolInfo{
			{ID: "P1", BaseMint: "A", QuoteMint: "B"},
		}},
		ProgramID: "prog", PrimaryMint: "A", Logger: quiet,
	})
	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	feed := NewDEXFeed(DEXFeedOptions{
		WSURL: "ws://unused", Registry: reg, Logger: quiet,
		Handler: func([]byte) {},
	})

	source := &pollSource{trades: map[string][]dexapi.Trade{
		"P1": {{Signature: "s1", Pool: "P1"}},
	}}
	var injected []dexapi.Trade
	poller := NewBackupPoller(PollerOptions{
		Feed: feed, Source: source, Registry: reg,
		Handler:  func(tr dexapi.Trade) { injected = append(injected, tr) },
		Interval: time.Millisecond, // feed has been "down" since construction
		Logger:   quiet,
	})

	// Feed connected: poll is a no-op.
	feed.connected.Store(true)
	poller.Poll(context.Background())
	if source.calls != 0 {
		t.Fatal("poller must not run while the feed is connected")
	}

	// Feed down longer than one interval: poll injects.
	feed.connected.Store(false)
	feed.closedSince.Store(time.Now().Add(-time.Second).UnixMilli())
	poller.Poll(context.Background())
	if len(injected) != 1 || injected[0].Signature != "s1" {
		t.Fatalf("expected one injected trade, got %+v", injected)
	}
}
