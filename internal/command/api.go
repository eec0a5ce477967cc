// Package command is the thin boundary the chat front end drives.
// Invalid input is rejected with an enumerated error and no state change.
package command

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/registry"
	"dlmm-tracker/internal/storage"
	"dlmm-tracker/internal/subscribers"
	"dlmm-tracker/internal/upstream/dexapi"
)

// Enumerated rejection reasons.
var (
	ErrUnknownField      = errors.New("unknown toggle field")
	ErrUnknownThreshold  = errors.New("unknown threshold kind")
	ErrInvalidWallet     = errors.New("invalid wallet address")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrInvalidHours      = errors.New("quiet hours must both be 0..23 or both null")
	ErrInvalidSnooze     = errors.New("snooze minutes must not be negative")
	ErrLimitExceeded     = errors.New("limit exceeded")
	ErrAlreadyPresent    = errors.New("already present")
	ErrNotPresent        = errors.New("not present")
	ErrUnknownSubscriber = errors.New("unknown subscriber")
)

// ToggleField is the closed set of boolean preferences.
type ToggleField string

const (
	FieldEnabled           ToggleField = "enabled"
	FieldPrimaryBuys       ToggleField = "primary_buys"
	FieldPrimarySells      ToggleField = "primary_sells"
	FieldPrimaryLpAdd      ToggleField = "primary_lp_add"
	FieldPrimaryLpRemove   ToggleField = "primary_lp_remove"
	FieldTrackOtherPools   ToggleField = "track_other_pools"
	FieldOtherLpAdd        ToggleField = "other_lp_add"
	FieldOtherLpRemove     ToggleField = "other_lp_remove"
	FieldOtherBuys         ToggleField = "other_buys"
	FieldOtherSells        ToggleField = "other_sells"
	FieldWalletAlerts      ToggleField = "wallet_alerts"
	FieldDailyDigest       ToggleField = "daily_digest"
	FieldNewPoolAlerts     ToggleField = "new_pool_alerts"
	FieldLockAlerts        ToggleField = "lock_alerts"
	FieldRewardAlerts      ToggleField = "reward_alerts"
	FieldClosePoolAlerts   ToggleField = "close_pool_alerts"
	FieldProtocolFeeAlerts ToggleField = "protocol_fee_alerts"
	FieldAdminAlerts       ToggleField = "admin_alerts"
)

// ThresholdKind selects which USD threshold to set.
type ThresholdKind string

const (
	ThresholdPrimary    ThresholdKind = "primary"
	ThresholdOtherTrade ThresholdKind = "other_trade"
	ThresholdOtherLp    ThresholdKind = "other_lp"
)

// PortfolioSyncer triggers a portfolio sync.
type PortfolioSyncer interface {
	Sync(ctx context.Context, chatID int64) (*domain.PortfolioSnapshot, error)
}

// MarketSource serves the read-only market queries.
type MarketSource interface {
	Candles(ctx context.Context, poolID, tf string, limit int) ([]dexapi.Candle, error)
	Trades(ctx context.Context, poolID string, limit int) ([]dexapi.Trade, error)
}

// WalletRefresher is notified when the tracked wallet set changes.
type WalletRefresher interface {
	Refresh()
}

// API implements every command operation.
type API struct {
	subs      *subscribers.Registry
	pools     *registry.Registry
	market    MarketSource
	portfolio PortfolioSyncer
	volumes   storage.VolumeHistoryStore
	wallets   WalletRefresher

	maxWallets   int
	maxWatchlist int
	now          func() time.Time
}

// Options configures the API.
type Options struct {
	Subscribers  *subscribers.Registry
	Pools        *registry.Registry
	Market       MarketSource
	Portfolio    PortfolioSyncer
	Volumes      storage.VolumeHistoryStore
	Wallets      WalletRefresher
	MaxWallets   int
	MaxWatchlist int
}

// New creates the API.
func New(opts Options) *API {
	maxWallets := opts.MaxWallets
	if maxWallets <= 0 {
		maxWallets = domain.DefaultMaxWallets
	}
	maxWatchlist := opts.MaxWatchlist
	if maxWatchlist <= 0 {
		maxWatchlist = domain.DefaultMaxWatchlist
	}
	return &API{
		subs:         opts.Subscribers,
		pools:        opts.Pools,
		market:       opts.Market,
		portfolio:    opts.Portfolio,
		volumes:      opts.Volumes,
		wallets:      opts.Wallets,
		maxWallets:   maxWallets,
		maxWatchlist: maxWatchlist,
		now:          time.Now,
	}
}

// touch marks the subscriber active, creating it on first contact.
func (a *API) touch(chatID int64) {
	a.subs.MutateOrCreate(chatID, func(s *domain.Subscriber) {
		s.LastActive = a.now().UnixMilli()
		s.Onboarded = true
	})
}

// Toggle flips one boolean preference and returns the new value.
func (a *API) Toggle(chatID int64, field ToggleField) (bool, error) {
	if !validToggleField(field) {
		return false, ErrUnknownField
	}
	a.touch(chatID)

	var result bool
	ok := a.subs.Mutate(chatID, func(s *domain.Subscriber) {
		p := &s.Prefs
		var target *bool
		switch field {
		case FieldEnabled:
			target = &s.Enabled
		case FieldPrimaryBuys:
			target = &p.PrimaryBuys
		case FieldPrimarySells:
			target = &p.PrimarySells
		case FieldPrimaryLpAdd:
			target = &p.PrimaryLpAdd
		case FieldPrimaryLpRemove:
			target = &p.PrimaryLpRemove
		case FieldTrackOtherPools:
			target = &p.TrackOtherPools
		case FieldOtherLpAdd:
			target = &p.OtherLpAdd
		case FieldOtherLpRemove:
			target = &p.OtherLpRemove
		case FieldOtherBuys:
			target = &p.OtherBuys
		case FieldOtherSells:
			target = &p.OtherSells
		case FieldWalletAlerts:
			target = &p.WalletAlerts
		case FieldDailyDigest:
			target = &p.DailyDigest
		case FieldNewPoolAlerts:
			target = &p.NewPoolAlerts
		case FieldLockAlerts:
			target = &p.LockAlerts
		case FieldRewardAlerts:
			target = &p.RewardAlerts
		case FieldClosePoolAlerts:
			target = &p.ClosePoolAlerts
		case FieldProtocolFeeAlerts:
			target = &p.ProtocolFeeAlerts
		case FieldAdminAlerts:
			target = &p.AdminAlerts
		default:
			return
		}
		*target = !*target
		result = *target
	})
	if !ok {
		return false, ErrUnknownSubscriber
	}
	return result, nil
}

func validToggleField(field ToggleField) bool {
	switch field {
	case FieldEnabled, FieldPrimaryBuys, FieldPrimarySells, FieldPrimaryLpAdd,
		FieldPrimaryLpRemove, FieldTrackOtherPools, FieldOtherLpAdd,
		FieldOtherLpRemove, FieldOtherBuys, FieldOtherSells, FieldWalletAlerts,
		FieldDailyDigest, FieldNewPoolAlerts, FieldLockAlerts, FieldRewardAlerts,
		FieldClosePoolAlerts, FieldProtocolFeeAlerts, FieldAdminAlerts:
		return true
	default:
		return false
	}
}

// SetThreshold sets one USD threshold. Idempotent for equal values.
func (a *API) SetThreshold(chatID int64, which ThresholdKind, amountUSD float64) error {
	if amountUSD < 0 {
		return ErrLimitExceeded
	}
	switch which {
	case ThresholdPrimary, ThresholdOtherTrade, ThresholdOtherLp:
	default:
		return ErrUnknownThreshold
	}

	a.touch(chatID)
	a.subs.Mutate(chatID, func(s *domain.Subscriber) {
		switch which {
		case ThresholdPrimary:
			s.Prefs.PrimaryTradeMinUSD = amountUSD
		case ThresholdOtherTrade:
			s.Prefs.OtherTradeMinUSD = amountUSD
		case ThresholdOtherLp:
			s.Prefs.OtherLpMinUSD = amountUSD
		}
	})
	return nil
}

// SetSnooze suppresses alerts for the given number of minutes; 0 clears.
func (a *API) SetSnooze(chatID int64, minutes int) error {
	if minutes < 0 {
		return ErrInvalidSnooze
	}
	a.touch(chatID)
	a.subs.Mutate(chatID, func(s *domain.Subscriber) {
		if minutes == 0 {
			s.SnoozedUntil = 0
			return
		}
		s.SnoozedUntil = a.now().Add(time.Duration(minutes) * time.Minute).UnixMilli()
	})
	return nil
}

// SetQuietHours sets the UTC quiet window; nil/nil clears it.
func (a *API) SetQuietHours(chatID int64, startUTC, endUTC *int) error {
	if (startUTC == nil) != (endUTC == nil) {
		return ErrInvalidHours
	}
	if startUTC != nil {
		if *startUTC < 0 || *startUTC > 23 || *endUTC < 0 || *endUTC > 23 {
			return ErrInvalidHours
		}
	}
	a.touch(chatID)
	a.subs.Mutate(chatID, func(s *domain.Subscriber) {
		s.QuietStart, s.QuietEnd = startUTC, endUTC
	})
	return nil
}

// AddWallet subscribes the chat to a wallet's activity.
func (a *API) AddWallet(chatID int64, address string) error {
	if !domain.ValidWallet(address) {
		return ErrInvalidWallet
	}
	a.touch(chatID)

	var err error
	a.subs.Mutate(chatID, func(s *domain.Subscriber) {
		if containsStr(s.WalletSubscriptions, address) {
			err = ErrAlreadyPresent
			return
		}
		if len(s.WalletSubscriptions) >= a.maxWallets {
			err = ErrLimitExceeded
			return
		}
		s.WalletSubscriptions = appendCopy(s.WalletSubscriptions, address)
	})
	if err == nil && a.wallets != nil {
		a.wallets.Refresh()
	}
	return err
}

// RemoveWallet drops a wallet subscription.
func (a *API) RemoveWallet(chatID int64, address string) error {
	a.touch(chatID)

	var err error
	a.subs.Mutate(chatID, func(s *domain.Subscriber) {
		next, removed := removeCopy(s.WalletSubscriptions, address)
		if !removed {
			err = ErrNotPresent
			return
		}
		s.WalletSubscriptions = next
	})
	if err == nil && a.wallets != nil {
		a.wallets.Refresh()
	}
	return err
}

// AddPortfolioWallet appends a wallet to the portfolio list (cap 5).
func (a *API) AddPortfolioWallet(chatID int64, address string) error {
	if !domain.ValidWallet(address) {
		return ErrInvalidWallet
	}
	a.touch(chatID)

	var err error
	a.subs.Mutate(chatID, func(s *domain.Subscriber) {
		if containsStr(s.PortfolioWallets, address) {
			err = ErrAlreadyPresent
			return
		}
		if len(s.PortfolioWallets) >= domain.DefaultMaxPortfolioWallets {
			err = ErrLimitExceeded
			return
		}
		s.PortfolioWallets = appendCopy(s.PortfolioWallets, address)
	})
	return err
}

// RemovePortfolioWallet removes a wallet from the portfolio list.
func (a *API) RemovePortfolioWallet(chatID int64, address string) error {
	a.touch(chatID)

	var err error
	a.subs.Mutate(chatID, func(s *domain.Subscriber) {
		next, removed := removeCopy(s.PortfolioWallets, address)
		if !removed {
			err = ErrNotPresent
			return
		}
		s.PortfolioWallets = next
	})
	return err
}

// AddWatchlistPool adds a pool id to the watchlist. The watchlist and
// tracked tokens share one budget.
func (a *API) AddWatchlistPool(chatID int64, poolID string) error {
	if !domain.ValidAddress(poolID) {
		return ErrInvalidAddress
	}
	a.touch(chatID)

	var err error
	a.subs.Mutate(chatID, func(s *domain.Subscriber) {
		if containsStr(s.Watchlist, poolID) {
			err = ErrAlreadyPresent
			return
		}
		if len(s.Watchlist)+len(s.TrackedTokens) >= a.maxWatchlist {
			err = ErrLimitExceeded
			return
		}
		s.Watchlist = appendCopy(s.Watchlist, poolID)
	})
	return err
}

// RemoveWatchlistPool removes a pool id from the watchlist.
func (a *API) RemoveWatchlistPool(chatID int64, poolID string) error {
	a.touch(chatID)

	var err error
	a.subs.Mutate(chatID, func(s *domain.Subscriber) {
		next, removed := removeCopy(s.Watchlist, poolID)
		if !removed {
			err = ErrNotPresent
			return
		}
		s.Watchlist = next
	})
	return err
}

// AddTrackedToken adds a mint to the tracked token set.
func (a *API) AddTrackedToken(chatID int64, mint string) error {
	if !domain.ValidAddress(mint) {
		return ErrInvalidAddress
	}
	a.touch(chatID)

	var err error
	a.subs.Mutate(chatID, func(s *domain.Subscriber) {
		if containsStr(s.TrackedTokens, mint) {
			err = ErrAlreadyPresent
			return
		}
		if len(s.Watchlist)+len(s.TrackedTokens) >= a.maxWatchlist {
			err = ErrLimitExceeded
			return
		}
		s.TrackedTokens = appendCopy(s.TrackedTokens, mint)
	})
	return err
}

// RemoveTrackedToken removes a mint from the tracked token set.
func (a *API) RemoveTrackedToken(chatID int64, mint string) error {
	a.touch(chatID)

	var err error
	a.subs.Mutate(chatID, func(s *domain.Subscriber) {
		next, removed := removeCopy(s.TrackedTokens, mint)
		if !removed {
			err = ErrNotPresent
			return
		}
		s.TrackedTokens = next
	})
	return err
}

// SyncPortfolio assembles the subscriber's snapshot on demand.
func (a *API) SyncPortfolio(ctx context.Context, chatID int64) (*domain.PortfolioSnapshot, error) {
	a.touch(chatID)
	return a.portfolio.Sync(ctx, chatID)
}

// GetSubscriber returns a copy of the subscriber record.
func (a *API) GetSubscriber(chatID int64) (*domain.Subscriber, error) {
	s, ok := a.subs.Get(chatID)
	if !ok {
		return nil, ErrUnknownSubscriber
	}
	return s, nil
}

// GetPool returns a pool by id from the published snapshot.
func (a *API) GetPool(id string) *domain.Pool {
	return a.pools.Get(id)
}

// SearchPools finds pools whose pair name contains the query.
func (a *API) SearchPools(query string) []*domain.Pool {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	var out []*domain.Pool
	for _, p := range a.pools.Snapshot().Pools {
		if strings.Contains(strings.ToLower(p.PairName), query) {
			out = append(out, p)
		}
	}
	return out
}

// TopPoolsByVolume returns the n highest-volume pools.
func (a *API) TopPoolsByVolume(n int) []*domain.Pool {
	return a.pools.TopByVolume(n)
}

// LeaderboardEntry is one wallet's aggregate on a pool or mint.
type LeaderboardEntry struct {
	Wallet   string
	USDTotal float64
	Trades   int
}

// Leaderboard ranks wallets by traded USD on a pool (or on every pool
// listing a mint) from recent trade history.
func (a *API) Leaderboard(ctx context.Context, poolOrMint string, limit int) ([]LeaderboardEntry, error) {
	var poolIDs []string
	if p := a.pools.Get(poolOrMint); p != nil {
		poolIDs = []string{p.ID}
	} else {
		for _, p := range a.pools.FindByToken(poolOrMint) {
			poolIDs = append(poolIDs, p.ID)
		}
	}
	if len(poolIDs) == 0 {
		return nil, nil
	}

	totals := make(map[string]*LeaderboardEntry)
	for _, id := range poolIDs {
		trades, err := a.market.Trades(ctx, id, 100)
		if err != nil {
			return nil, err
		}
		for _, t := range trades {
			if t.Wallet == "" {
				continue
			}
			e, ok := totals[t.Wallet]
			if !ok {
				e = &LeaderboardEntry{Wallet: t.Wallet}
				totals[t.Wallet] = e
			}
			e.USDTotal += t.USDValue
			e.Trades++
		}
	}

	out := make([]LeaderboardEntry, 0, len(totals))
	for _, e := range totals {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].USDTotal > out[j].USDTotal })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Candles proxies the DEX candle endpoint.
func (a *API) Candles(ctx context.Context, poolID, tf string, limit int) ([]dexapi.Candle, error) {
	return a.market.Candles(ctx, poolID, tf, limit)
}

// LiquidityHistory returns the latest recorded 24-h volume row for a pool,
// taken from the store's per-pool top list: at most one row, and no TVL.
func (a *API) LiquidityHistory(ctx context.Context, poolID string, limit int) ([]domain.VolumeRow, error) {
	rows, err := a.volumes.TopPools(ctx, 0)
	if err != nil {
		return nil, err
	}
	var out []domain.VolumeRow
	for _, r := range rows {
		if r.PoolID == poolID {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func containsStr(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// appendCopy returns a new slice; readers hold shallow copies of the
// subscriber, so in-place appends are off limits.
func appendCopy(xs []string, x string) []string {
	out := make([]string, 0, len(xs)+1)
	out = append(out, xs...)
	return append(out, x)
}

// removeCopy returns a new slice without x and whether x was present.
func removeCopy(xs []string, x string) ([]string, bool) {
	out := make([]string, 0, len(xs))
	removed := false
	for _, v := range xs {
		if v == x {
			removed = true
			continue
		}
		out = append(out, v)
	}
	return out, removed
}
