package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/storage"
	"dlmm-tracker/internal/storage/postgres"
)

func TestSubscriberStore_UpsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := postgres.NewSubscriberStore(pool, 20)

	sub := domain.NewSubscriber(42, time.Now())
	sub.WalletSubscriptions = []string{"WalletA", "WalletB"}
	sub.Watchlist = []string{"PoolX"}
	sub.TrackedTokens = []string{"MintY"}
	sub.PortfolioWallets = []string{"WalletA"}
	sub.Prefs.PrimaryTradeMinUSD = 250
	qs, qe := 22, 6
	sub.QuietStart, sub.QuietEnd = &qs, &qe
	sub.RecentAlerts = []domain.RecentAlert{
		{Kind: "swap", PoolID: "PoolX", Sig: "sig1", USDValue: 10, Timestamp: 1000},
	}

	require.NoError(t, store.Upsert(ctx, sub))

	got, err := store.GetByChatID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"WalletA", "WalletB"}, got.WalletSubscriptions)
	assert.Equal(t, []string{"PoolX"}, got.Watchlist)
	assert.Equal(t, []string{"MintY"}, got.TrackedTokens)
	assert.Equal(t, 250.0, got.Prefs.PrimaryTradeMinUSD)
	require.NotNil(t, got.QuietStart)
	assert.Equal(t, 22, *got.QuietStart)
	require.Len(t, got.RecentAlerts, 1)
	assert.Equal(t, "sig1", got.RecentAlerts[0].Sig)
}

func TestSubscriberStore_UpsertReplacesRelations(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := postgres.NewSubscriberStore(pool, 20)

	sub := domain.NewSubscriber(1, time.Now())
	sub.WalletSubscriptions = []string{"A", "B", "C"}
	require.NoError(t, store.Upsert(ctx, sub))

	sub.WalletSubscriptions = []string{"C"}
	require.NoError(t, store.Upsert(ctx, sub))

	got, err := store.GetByChatID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, got.WalletSubscriptions)
}

func TestSubscriberStore_GetMissing(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewSubscriberStore(pool, 20)
	_, err := store.GetByChatID(context.Background(), 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSubscriberStore_ListAndDelete(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := postgres.NewSubscriberStore(pool, 20)
	for _, id := range []int64{3, 1, 2} {
		require.NoError(t, store.Upsert(ctx, domain.NewSubscriber(id, time.Now())))
	}

	subs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.Equal(t, int64(1), subs[0].ChatID)

	require.NoError(t, store.Delete(ctx, 2))
	assert.ErrorIs(t, store.Delete(ctx, 2), storage.ErrNotFound)

	subs, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestSubscriberStore_RecentAlertsTrimmedAtCap(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := postgres.NewSubscriberStore(pool, 5)

	sub := domain.NewSubscriber(7, time.Now())
	for i := 0; i < 10; i++ {
		sub.RecentAlerts = append(sub.RecentAlerts, domain.RecentAlert{
			Kind: "swap", Sig: string(rune('a' + i)), Timestamp: int64(i),
		})
	}
	require.NoError(t, store.Upsert(ctx, sub))

	got, err := store.GetByChatID(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, got.RecentAlerts, 5, "recent alerts must be trimmed to the cap")
}
