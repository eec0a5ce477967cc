package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/storage"
)

func TestSubscriberStore_CopyOnReadAndWrite(t *testing.T) {
	store := NewSubscriberStore()
	ctx := context.Background()

	sub := domain.NewSubscriber(1, time.Now())
	sub.WalletSubscriptions = []string{"A"}
	if err := store.Upsert(ctx, sub); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's copy must not affect stored state.
	sub.WalletSubscriptions[0] = "MUTATED"

	got, err := store.GetByChatID(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.WalletSubscriptions[0] != "A" {
		t.Fatal("store leaked a shared slice")
	}

	// Mutating the returned copy must not affect stored state either.
	got.WalletSubscriptions[0] = "MUTATED"
	again, _ := store.GetByChatID(ctx, 1)
	if again.WalletSubscriptions[0] != "A" {
		t.Fatal("reader mutated stored state")
	}
}

func TestSubscriberStore_ListOrderAndDelete(t *testing.T) {
	store := NewSubscriberStore()
	ctx := context.Background()

	for _, id := range []int64{30, 10, 20} {
		if err := store.Upsert(ctx, domain.NewSubscriber(id, time.Now())); err != nil {
			t.Fatal(err)
		}
	}

	subs, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 3 || subs[0].ChatID != 10 || subs[2].ChatID != 30 {
		t.Fatalf("unexpected order: %v", subs)
	}

	if err := store.Delete(ctx, 20); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, 20); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubscriberStore_InvalidInput(t *testing.T) {
	store := NewSubscriberStore()
	if err := store.Upsert(context.Background(), nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := store.GetByChatID(context.Background(), 404); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVolumeHistoryStore_TopPoolsUsesLatest(t *testing.T) {
	store := NewVolumeHistoryStore()
	ctx := context.Background()

	err := store.InsertBulk(ctx, []domain.VolumeRow{
		{PoolID: "P1", VolumeUSD: 100, Timestamp: 1},
		{PoolID: "P1", VolumeUSD: 900, Timestamp: 2}, // latest wins
		{PoolID: "P2", VolumeUSD: 500, Timestamp: 2},
	})
	if err != nil {
		t.Fatal(err)
	}

	rows, err := store.TopPools(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].PoolID != "P1" || rows[0].VolumeUSD != 900 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}
