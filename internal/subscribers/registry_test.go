package subscribers

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/storage"
	"dlmm-tracker/internal/storage/memory"
)

func newRegistry(store storage.SubscriberStore, debounce time.Duration) *Registry {
	return NewRegistry(Options{
		Store:        store,
		SaveDebounce: debounce,
		Logger:       log.New(io.Discard, "", 0),
	})
}

func TestRegistry_LoadAndGet(t *testing.T) {
	store := memory.NewSubscriberStore()
	ctx := context.Background()
	if err := store.Upsert(ctx, domain.NewSubscriber(7, time.Now())); err != nil {
		t.Fatal(err)
	}

	reg := newRegistry(store, time.Hour)
	if err := reg.Load(ctx); err != nil {
		t.Fatal(err)
	}

	if _, ok := reg.Get(7); !ok {
		t.Fatal("loaded subscriber missing")
	}
	if _, ok := reg.Get(8); ok {
		t.Fatal("unknown subscriber present")
	}
}

func TestRegistry_MutateMarksDirtyAndFlushes(t *testing.T) {
	store := memory.NewSubscriberStore()
	reg := newRegistry(store, time.Hour)
	ctx := context.Background()

	reg.MutateOrCreate(1, func(s *domain.Subscriber) {
		s.Prefs.PrimaryTradeMinUSD = 777
	})

	// Not yet persisted.
	if _, err := store.GetByChatID(ctx, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("flush should be debounced, not immediate")
	}

	reg.Flush(ctx)
	got, err := store.GetByChatID(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Prefs.PrimaryTradeMinUSD != 777 {
		t.Fatalf("persisted value %v", got.Prefs.PrimaryTradeMinUSD)
	}

	// A clean flush writes nothing new (idempotent).
	reg.Flush(ctx)
}

func TestRegistry_FlusherLoop(t *testing.T) {
	store := memory.NewSubscriberStore()
	reg := newRegistry(store, 20*time.Millisecond)
	ctx := context.Background()

	reg.StartFlusher()
	reg.MutateOrCreate(2, func(s *domain.Subscriber) {})

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := store.GetByChatID(ctx, 2); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("flusher never persisted the dirty subscriber")
		}
		time.Sleep(10 * time.Millisecond)
	}
	reg.Stop()
}

func TestRegistry_TrackedWalletsUnion(t *testing.T) {
	reg := newRegistry(memory.NewSubscriberStore(), time.Hour)

	reg.MutateOrCreate(1, func(s *domain.Subscriber) {
		s.WalletSubscriptions = []string{"A", "B"}
	})
	reg.MutateOrCreate(2, func(s *domain.Subscriber) {
		s.WalletSubscriptions = []string{"B", "C"}
	})
	reg.MutateOrCreate(3, func(s *domain.Subscriber) {
		s.Blocked = true
		s.WalletSubscriptions = []string{"D"} // excluded: blocked
	})

	wallets := reg.TrackedWallets()
	if len(wallets) != 3 {
		t.Fatalf("expected union {A,B,C}, got %v", wallets)
	}
	set := map[string]bool{}
	for _, w := range wallets {
		set[w] = true
	}
	if !set["A"] || !set["B"] || !set["C"] || set["D"] {
		t.Fatalf("wrong union: %v", wallets)
	}
}

func TestRegistry_ConcurrentMutation(t *testing.T) {
	reg := newRegistry(memory.NewSubscriberStore(), time.Hour)
	reg.MutateOrCreate(1, func(s *domain.Subscriber) {})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Mutate(1, func(s *domain.Subscriber) {
				s.LifetimeStats.Alerts++
			})
		}()
	}
	wg.Wait()

	sub, _ := reg.Get(1)
	if sub.LifetimeStats.Alerts != 50 {
		t.Fatalf("lost updates: %d", sub.LifetimeStats.Alerts)
	}
}
