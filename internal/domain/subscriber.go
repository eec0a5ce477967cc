package domain

import "time"

// Default caps enforced on subscriber relations.
const (
	DefaultMaxWallets          = 10
	DefaultMaxWatchlist        = 20
	DefaultMaxPortfolioWallets = 5
	DefaultMaxRecentAlerts     = 20
)

// FilterPrefs holds a subscriber's alert toggles and thresholds.
type FilterPrefs struct {
	PrimaryBuys       bool
	PrimarySells      bool
	PrimaryLpAdd      bool
	PrimaryLpRemove   bool
	TrackOtherPools   bool
	OtherBuys         bool
	OtherSells        bool
	OtherLpAdd        bool
	OtherLpRemove     bool
	WalletAlerts      bool
	DailyDigest       bool
	NewPoolAlerts     bool
	LockAlerts        bool
	RewardAlerts      bool
	ClosePoolAlerts   bool
	ProtocolFeeAlerts bool
	AdminAlerts       bool

	PrimaryTradeMinUSD float64
	OtherTradeMinUSD   float64
	OtherLpMinUSD      float64
}

// DefaultFilterPrefs are applied to new subscribers.
func DefaultFilterPrefs() FilterPrefs {
	return FilterPrefs{
		PrimaryBuys:        true,
		PrimarySells:       true,
		PrimaryLpAdd:       true,
		PrimaryLpRemove:    true,
		WalletAlerts:       true,
		NewPoolAlerts:      true,
		PrimaryTradeMinUSD: 100,
		OtherTradeMinUSD:   500,
		OtherLpMinUSD:      1000,
	}
}

// RecentAlert is one entry of a subscriber's alert ring buffer.
type RecentAlert struct {
	Kind      string
	PoolID    string
	Sig       string
	USDValue  float64
	Timestamp int64 // unix ms
}

// AlertStats counts delivered alerts for a window (daily or lifetime).
type AlertStats struct {
	Alerts     int64
	Swaps      int64
	LpEvents   int64
	WalletTxs  int64
	TotalUSD   float64
	LastSentAt int64 // unix ms
}

// Subscriber is one chat subscriber with preferences and relations.
// All mutation goes through the subscriber registry; stores persist copies.
type Subscriber struct {
	ChatID     int64
	CreatedAt  int64 // unix ms
	LastActive int64 // unix ms
	Enabled    bool
	Blocked    bool
	Onboarded  bool

	SnoozedUntil int64 // unix ms; 0 means not snoozed
	QuietStart   *int  // UTC hour 0..23, nil when unset
	QuietEnd     *int  // UTC hour 0..23; set iff QuietStart is set

	Prefs FilterPrefs

	WalletSubscriptions []string // tracked wallet addresses
	Watchlist           []string // watched pool ids
	TrackedTokens       []string // watched mints, shares the watchlist budget
	PortfolioWallets    []string // ordered, first is primary for display

	RecentAlerts  []RecentAlert // ring, newest first, capped
	DailyStats    AlertStats
	LifetimeStats AlertStats

	Portfolio *PortfolioSnapshot // last aggregated snapshot, nil before first sync
}

// NewSubscriber creates an enabled subscriber with default preferences.
func NewSubscriber(chatID int64, now time.Time) *Subscriber {
	ms := now.UnixMilli()
	return &Subscriber{
		ChatID:     chatID,
		CreatedAt:  ms,
		LastActive: ms,
		Enabled:    true,
		Prefs:      DefaultFilterPrefs(),
	}
}

// IsSnoozed reports whether the subscriber should be skipped at now:
// either an active snooze or the current UTC hour inside quiet hours.
func (s *Subscriber) IsSnoozed(now time.Time) bool {
	if s.SnoozedUntil > 0 && now.UnixMilli() < s.SnoozedUntil {
		return true
	}
	if s.QuietStart == nil || s.QuietEnd == nil {
		return false
	}
	return HourInQuietWindow(now.UTC().Hour(), *s.QuietStart, *s.QuietEnd)
}

// HourInQuietWindow reports whether hour falls inside [start, end).
// A window with start > end wraps midnight: [start..24) ∪ [0..end).
func HourInQuietWindow(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// PushRecentAlert prepends an alert, evicting the tail past cap.
func (s *Subscriber) PushRecentAlert(a RecentAlert, cap int) {
	if cap <= 0 {
		cap = DefaultMaxRecentAlerts
	}
	s.RecentAlerts = append([]RecentAlert{a}, s.RecentAlerts...)
	if len(s.RecentAlerts) > cap {
		s.RecentAlerts = s.RecentAlerts[:cap]
	}
}

// HasWallet reports whether addr is in WalletSubscriptions.
func (s *Subscriber) HasWallet(addr string) bool {
	return containsString(s.WalletSubscriptions, addr)
}

// WatchesPool reports whether the pool id is on the watchlist.
func (s *Subscriber) WatchesPool(poolID string) bool {
	return containsString(s.Watchlist, poolID)
}

// TracksToken reports whether the mint is in TrackedTokens.
func (s *Subscriber) TracksToken(mint string) bool {
	return containsString(s.TrackedTokens, mint)
}

func containsString(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
