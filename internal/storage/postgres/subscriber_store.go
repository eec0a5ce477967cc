package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/storage"
)

// SubscriberStore implements storage.SubscriberStore using PostgreSQL.
// The subscriber row plus every relation table is written in one
// transaction.
type SubscriberStore struct {
	pool            *Pool
	maxRecentAlerts int
}

// NewSubscriberStore creates a new SubscriberStore.
func NewSubscriberStore(pool *Pool, maxRecentAlerts int) *SubscriberStore {
	if maxRecentAlerts <= 0 {
		maxRecentAlerts = domain.DefaultMaxRecentAlerts
	}
	return &SubscriberStore{pool: pool, maxRecentAlerts: maxRecentAlerts}
}

// Compile-time interface check.
var _ storage.SubscriberStore = (*SubscriberStore)(nil)

// Upsert inserts or fully replaces a subscriber and its relations.
func (s *SubscriberStore) Upsert(ctx context.Context, sub *domain.Subscriber) error {
	if sub == nil || sub.ChatID == 0 {
		return storage.ErrInvalidInput
	}

	prefs, err := json.Marshal(sub.Prefs)
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}
	daily, err := json.Marshal(sub.DailyStats)
	if err != nil {
		return fmt.Errorf("marshal daily stats: %w", err)
	}
	lifetime, err := json.Marshal(sub.LifetimeStats)
	if err != nil {
		return fmt.Errorf("marshal lifetime stats: %w", err)
	}
	var portfolio []byte
	if sub.Portfolio != nil {
		portfolio, err = json.Marshal(sub.Portfolio)
		if err != nil {
			return fmt.Errorf("marshal portfolio: %w", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO subscribers (
			chat_id, created_at, last_active, enabled, blocked, onboarded,
			snoozed_until, quiet_start, quiet_end, prefs,
			daily_stats, lifetime_stats, portfolio
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (chat_id) DO UPDATE SET
			last_active = EXCLUDED.last_active,
			enabled = EXCLUDED.enabled,
			blocked = EXCLUDED.blocked,
			onboarded = EXCLUDED.onboarded,
			snoozed_until = EXCLUDED.snoozed_until,
			quiet_start = EXCLUDED.quiet_start,
			quiet_end = EXCLUDED.quiet_end,
			prefs = EXCLUDED.prefs,
			daily_stats = EXCLUDED.daily_stats,
			lifetime_stats = EXCLUDED.lifetime_stats,
			portfolio = EXCLUDED.portfolio
	`, sub.ChatID, sub.CreatedAt, sub.LastActive, sub.Enabled, sub.Blocked,
		sub.Onboarded, sub.SnoozedUntil, sub.QuietStart, sub.QuietEnd,
		prefs, daily, lifetime, portfolio)
	if err != nil {
		return fmt.Errorf("upsert subscriber: %w", err)
	}

	if err := replaceRelation(ctx, tx, "whale_wallets", sub.ChatID, sub.WalletSubscriptions); err != nil {
		return err
	}
	if err := replaceRelation(ctx, tx, "watchlist", sub.ChatID, sub.Watchlist); err != nil {
		return err
	}
	if err := replaceRelation(ctx, tx, "tracked_tokens", sub.ChatID, sub.TrackedTokens); err != nil {
		return err
	}
	if err := replaceRelation(ctx, tx, "portfolio_wallets", sub.ChatID, sub.PortfolioWallets); err != nil {
		return err
	}
	if err := s.replaceRecentAlerts(ctx, tx, sub); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// replaceRelation rewrites one (chat_id, address, position) relation.
func replaceRelation(ctx context.Context, tx pgx.Tx, table string, chatID int64, values []string) error {
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE chat_id = $1`, table), chatID); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	for i, v := range values {
		_, err := tx.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (chat_id, address, position) VALUES ($1,$2,$3)`, table),
			chatID, v, i)
		if err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

// replaceRecentAlerts rewrites the alert ring, trimming past the cap.
func (s *SubscriberStore) replaceRecentAlerts(ctx context.Context, tx pgx.Tx, sub *domain.Subscriber) error {
	if _, err := tx.Exec(ctx, `DELETE FROM recent_alerts WHERE chat_id = $1`, sub.ChatID); err != nil {
		return fmt.Errorf("clear recent_alerts: %w", err)
	}
	alerts := sub.RecentAlerts
	if len(alerts) > s.maxRecentAlerts {
		alerts = alerts[:s.maxRecentAlerts]
	}
	for i, a := range alerts {
		_, err := tx.Exec(ctx, `
			INSERT INTO recent_alerts (chat_id, position, kind, pool_id, sig, usd_value, ts)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, sub.ChatID, i, a.Kind, a.PoolID, a.Sig, a.USDValue, a.Timestamp)
		if err != nil {
			return fmt.Errorf("insert recent_alerts: %w", err)
		}
	}
	return nil
}

// GetByChatID retrieves one subscriber. Returns ErrNotFound if absent.
func (s *SubscriberStore) GetByChatID(ctx context.Context, chatID int64) (*domain.Subscriber, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT chat_id, created_at, last_active, enabled, blocked, onboarded,
		       snoozed_until, quiet_start, quiet_end, prefs,
		       daily_stats, lifetime_stats, portfolio
		FROM subscribers WHERE chat_id = $1
	`, chatID)

	sub, err := scanSubscriber(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	if err := s.loadRelations(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// List retrieves all subscribers with their relations.
func (s *SubscriberStore) List(ctx context.Context) ([]*domain.Subscriber, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chat_id, created_at, last_active, enabled, blocked, onboarded,
		       snoozed_until, quiet_start, quiet_end, prefs,
		       daily_stats, lifetime_stats, portfolio
		FROM subscribers ORDER BY chat_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	var subs []*domain.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, sub := range subs {
		if err := s.loadRelations(ctx, sub); err != nil {
			return nil, err
		}
	}
	return subs, nil
}

// Delete removes a subscriber; relations cascade.
func (s *SubscriberStore) Delete(ctx context.Context, chatID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM subscribers WHERE chat_id = $1`, chatID)
	if err != nil {
		return fmt.Errorf("delete subscriber: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanSubscriber(row pgx.Row) (*domain.Subscriber, error) {
	var sub domain.Subscriber
	var prefs, daily, lifetime []byte
	var portfolio []byte

	err := row.Scan(
		&sub.ChatID, &sub.CreatedAt, &sub.LastActive, &sub.Enabled,
		&sub.Blocked, &sub.Onboarded, &sub.SnoozedUntil,
		&sub.QuietStart, &sub.QuietEnd, &prefs, &daily, &lifetime, &portfolio,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(prefs, &sub.Prefs); err != nil {
		return nil, fmt.Errorf("unmarshal prefs: %w", err)
	}
	if err := json.Unmarshal(daily, &sub.DailyStats); err != nil {
		return nil, fmt.Errorf("unmarshal daily stats: %w", err)
	}
	if err := json.Unmarshal(lifetime, &sub.LifetimeStats); err != nil {
		return nil, fmt.Errorf("unmarshal lifetime stats: %w", err)
	}
	if len(portfolio) > 0 {
		var snap domain.PortfolioSnapshot
		if err := json.Unmarshal(portfolio, &snap); err != nil {
			return nil, fmt.Errorf("unmarshal portfolio: %w", err)
		}
		sub.Portfolio = &snap
	}
	return &sub, nil
}

func (s *SubscriberStore) loadRelations(ctx context.Context, sub *domain.Subscriber) error {
	var err error
	if sub.WalletSubscriptions, err = s.loadRelation(ctx, "whale_wallets", sub.ChatID); err != nil {
		return err
	}
	if sub.Watchlist, err = s.loadRelation(ctx, "watchlist", sub.ChatID); err != nil {
		return err
	}
	if sub.TrackedTokens, err = s.loadRelation(ctx, "tracked_tokens", sub.ChatID); err != nil {
		return err
	}
	if sub.PortfolioWallets, err = s.loadRelation(ctx, "portfolio_wallets", sub.ChatID); err != nil {
		return err
	}
	return s.loadRecentAlerts(ctx, sub)
}

func (s *SubscriberStore) loadRelation(ctx context.Context, table string, chatID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT address FROM %s WHERE chat_id = $1 ORDER BY position`, table), chatID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

func (s *SubscriberStore) loadRecentAlerts(ctx context.Context, sub *domain.Subscriber) error {
	rows, err := s.pool.Query(ctx, `
		SELECT kind, pool_id, sig, usd_value, ts
		FROM recent_alerts WHERE chat_id = $1 ORDER BY position
	`, sub.ChatID)
	if err != nil {
		return fmt.Errorf("load recent_alerts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a domain.RecentAlert
		if err := rows.Scan(&a.Kind, &a.PoolID, &a.Sig, &a.USDValue, &a.Timestamp); err != nil {
			return err
		}
		sub.RecentAlerts = append(sub.RecentAlerts, a)
	}
	return rows.Err()
}
