// Package fanout evaluates subscriber filters and delivers notifications.
package fanout

import (
	"context"
	"fmt"
	"log"
	"time"

	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/resolver"
	"dlmm-tracker/internal/subscribers"
)

// Pacing: sleep batchPause every batchSize sends to respect the chat
// platform's per-second ceiling.
const (
	batchSize  = 20
	batchPause = 100 * time.Millisecond
)

// SymbolSource renders mints for message text.
type SymbolSource interface {
	Symbol(mint string) string
}

// Fanout scans subscribers per event and drives the sink.
type Fanout struct {
	registry *subscribers.Registry
	sink     Sink
	symbols  SymbolSource
	logger   *log.Logger

	maxRecentAlerts int
	now             func() time.Time
	sleep           func(time.Duration)
}

// Options configures a Fanout.
type Options struct {
	Registry        *subscribers.Registry
	Sink            Sink
	Symbols         SymbolSource
	MaxRecentAlerts int
	Logger          *log.Logger
}

// New creates a Fanout.
func New(opts Options) *Fanout {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	maxRecent := opts.MaxRecentAlerts
	if maxRecent <= 0 {
		maxRecent = domain.DefaultMaxRecentAlerts
	}
	return &Fanout{
		registry:        opts.Registry,
		sink:            opts.Sink,
		symbols:         opts.Symbols,
		logger:          logger,
		maxRecentAlerts: maxRecent,
		now:             time.Now,
		sleep:           time.Sleep,
	}
}

// Dispatch delivers one classified event to every matching subscriber.
// Unknown events match no predicate and are dropped here.
func (f *Fanout) Dispatch(ctx context.Context, ev *domain.SemanticEvent, pool *domain.Pool) int {
	if ev.Kind == domain.EventUnknown {
		return 0
	}

	now := f.now()
	var recipients []int64
	f.registry.ForEach(func(s *domain.Subscriber) {
		if !s.Enabled || s.Blocked || s.IsSnoozed(now) {
			return
		}
		if f.matches(s, ev, pool) {
			recipients = append(recipients, s.ChatID)
		}
	})
	if len(recipients) == 0 {
		return 0
	}

	msg := f.render(ev, pool)
	sent := 0
	for i, chatID := range recipients {
		if f.deliver(ctx, chatID, msg, ev) {
			sent++
		}
		if (i+1)%batchSize == 0 {
			f.sleep(batchPause)
		}
		select {
		case <-ctx.Done():
			return sent
		default:
		}
	}
	return sent
}

// deliver sends to one recipient, honoring rate-limit retries.
func (f *Fanout) deliver(ctx context.Context, chatID int64, msg Message, ev *domain.SemanticEvent) bool {
	for {
		res := f.sink.Send(ctx, chatID, msg)
		switch res.Status {
		case SentOK:
			f.recordSuccess(chatID, ev)
			return true
		case RateLimited:
			wait := res.RetryAfter
			if wait <= 0 {
				wait = time.Second
			}
			f.sleep(wait)
			continue // retry the same recipient
		case BlockedUser:
			f.registry.Mutate(chatID, func(s *domain.Subscriber) {
				s.Blocked = true
				s.Enabled = false
			})
			return false
		default: // TransientError
			f.logger.Printf("transient send failure for chat %d", chatID)
			return false
		}
	}
}

// recordSuccess updates the ring buffer and stats counters.
func (f *Fanout) recordSuccess(chatID int64, ev *domain.SemanticEvent) {
	now := f.now().UnixMilli()
	f.registry.Mutate(chatID, func(s *domain.Subscriber) {
		s.PushRecentAlert(domain.RecentAlert{
			Kind:      ev.Kind.String(),
			PoolID:    ev.PoolID,
			Sig:       ev.Sig,
			USDValue:  ev.USDValue,
			Timestamp: now,
		}, f.maxRecentAlerts)
		bumpStats(&s.DailyStats, ev, now)
		bumpStats(&s.LifetimeStats, ev, now)
	})
}

func bumpStats(st *domain.AlertStats, ev *domain.SemanticEvent, now int64) {
	st.Alerts++
	st.TotalUSD += ev.USDValue
	st.LastSentAt = now
	switch ev.Kind {
	case domain.EventSwap:
		st.Swaps++
	case domain.EventLpAdd, domain.EventLpRemove:
		st.LpEvents++
	case domain.EventWalletActivity:
		st.WalletTxs++
	}
}

// matches implements the per-event-type predicate table.
func (f *Fanout) matches(s *domain.Subscriber, ev *domain.SemanticEvent, pool *domain.Pool) bool {
	primary := pool != nil && pool.IsPrimary
	p := s.Prefs

	switch ev.Kind {
	case domain.EventSwap:
		if primary {
			if ev.Direction == domain.DirectionBuy {
				return p.PrimaryBuys && ev.USDValue >= p.PrimaryTradeMinUSD
			}
			return p.PrimarySells && ev.USDValue >= p.PrimaryTradeMinUSD
		}
		if !p.TrackOtherPools || ev.USDValue < p.OtherTradeMinUSD {
			return false
		}
		if ev.Direction == domain.DirectionBuy && !p.OtherBuys {
			return false
		}
		if ev.Direction != domain.DirectionBuy && !p.OtherSells {
			return false
		}
		return f.subscriberInterest(s, ev, pool)

	case domain.EventLpAdd:
		if primary {
			return p.PrimaryLpAdd && ev.USDValue >= p.PrimaryTradeMinUSD
		}
		return p.TrackOtherPools && p.OtherLpAdd && ev.USDValue >= p.OtherLpMinUSD

	case domain.EventLpRemove:
		if primary {
			return p.PrimaryLpRemove && ev.USDValue >= p.PrimaryTradeMinUSD
		}
		return p.TrackOtherPools && p.OtherLpRemove && ev.USDValue >= p.OtherLpMinUSD

	case domain.EventPoolInit:
		return p.NewPoolAlerts
	case domain.EventLockLiquidity, domain.EventUnlockLiquidity:
		return p.LockAlerts
	case domain.EventClaimRewards, domain.EventSyncStake:
		return p.RewardAlerts
	case domain.EventClosePool:
		return p.ClosePoolAlerts
	case domain.EventProtocolFees, domain.EventFeesDistributed:
		return p.ProtocolFeeAlerts
	case domain.EventAdmin:
		return p.AdminAlerts
	case domain.EventWalletActivity:
		return p.WalletAlerts && s.HasWallet(ev.Wallet)
	default:
		return false
	}
}

// subscriberInterest gates non-primary pool events on an explicit interest:
// tracked wallet, watched pool, or tracked token.
func (f *Fanout) subscriberInterest(s *domain.Subscriber, ev *domain.SemanticEvent, pool *domain.Pool) bool {
	if ev.Wallet != "" && s.HasWallet(ev.Wallet) {
		return true
	}
	if ev.PoolID != "" && s.WatchesPool(ev.PoolID) {
		return true
	}
	if pool != nil && (s.TracksToken(pool.BaseMint) || s.TracksToken(pool.QuoteMint)) {
		return true
	}
	return false
}

// render builds the notification text and action hints.
func (f *Fanout) render(ev *domain.SemanticEvent, pool *domain.Pool) Message {
	pair := ""
	if pool != nil {
		pair = resolver.EscapeMarkdown(pool.PairName)
	} else if ev.PoolID != "" {
		pair = resolver.EscapeMarkdown(domain.ShortMint(ev.PoolID))
	}

	var text string
	switch ev.Kind {
	case domain.EventSwap:
		verb := "Swap"
		if ev.Direction == domain.DirectionBuy {
			verb = "Buy"
		} else if ev.Direction == domain.DirectionSell {
			verb = "Sell"
		}
		text = fmt.Sprintf("%s %s on %s", verb, formatUSD(ev.USDValue), pair)
	case domain.EventLpAdd:
		text = fmt.Sprintf("Liquidity added %s to %s", formatUSD(ev.USDValue), pair)
	case domain.EventLpRemove:
		text = fmt.Sprintf("Liquidity removed %s from %s", formatUSD(ev.USDValue), pair)
	case domain.EventPoolInit:
		text = fmt.Sprintf("New pool %s", pair)
	case domain.EventLockLiquidity:
		text = fmt.Sprintf("Liquidity locked on %s", pair)
	case domain.EventUnlockLiquidity:
		text = fmt.Sprintf("Liquidity unlocked on %s", pair)
	case domain.EventClaimRewards:
		text = "Rewards claimed"
	case domain.EventSyncStake:
		text = "Holder stake synced"
	case domain.EventClosePool:
		text = fmt.Sprintf("Pool closed: %s", pair)
	case domain.EventProtocolFees, domain.EventFeesDistributed:
		text = "Protocol fees distributed"
	case domain.EventAdmin:
		text = fmt.Sprintf("Admin action: %s", resolver.EscapeMarkdown(ev.EventName))
	case domain.EventWalletActivity:
		text = fmt.Sprintf("Tracked wallet %s moved %s",
			resolver.EscapeMarkdown(domain.ShortMint(ev.Wallet)), formatUSD(ev.USDValue))
	default:
		text = ev.Kind.String()
	}

	actions := []Action{ActionViewTx, ActionSnooze1h}
	if pool != nil && !pool.IsPrimary {
		actions = append(actions, ActionAddWatchlist)
	}
	return Message{Text: text, Actions: actions}
}

func formatUSD(usd float64) string {
	switch {
	case usd >= 1_000_000:
		return fmt.Sprintf("$%.2fM", usd/1_000_000)
	case usd >= 1_000:
		return fmt.Sprintf("$%.1fK", usd/1_000)
	default:
		return fmt.Sprintf("$%.2f", usd)
	}
}

// BroadcastDigest sends the daily summary to digest-enabled subscribers
// and resets their daily counters.
func (f *Fanout) BroadcastDigest(ctx context.Context) int {
	var targets []int64
	f.registry.ForEach(func(s *domain.Subscriber) {
		if s.Enabled && !s.Blocked && s.Prefs.DailyDigest {
			targets = append(targets, s.ChatID)
		}
	})

	sent := 0
	for i, chatID := range targets {
		if i > 0 && i%batchSize == 0 {
			f.sleep(batchPause)
		}
		sub, ok := f.registry.Get(chatID)
		if !ok {
			continue
		}
		st := sub.DailyStats
		text := fmt.Sprintf(
			"Daily digest: %d alerts (%d swaps, %d LP events, %d wallet moves), %s total",
			st.Alerts, st.Swaps, st.LpEvents, st.WalletTxs, formatUSD(st.TotalUSD))

		res := f.sink.Send(ctx, chatID, Message{Text: text})
		switch res.Status {
		case SentOK:
			sent++
			f.registry.Mutate(chatID, func(s *domain.Subscriber) {
				s.DailyStats = domain.AlertStats{}
			})
		case BlockedUser:
			f.registry.Mutate(chatID, func(s *domain.Subscriber) {
				s.Blocked = true
				s.Enabled = false
			})
		}
	}
	return sent
}
