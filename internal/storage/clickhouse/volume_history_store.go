package clickhouse

import (
	"context"
	"fmt"

	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/storage"
)

// VolumeHistoryStore implements storage.VolumeHistoryStore using ClickHouse.
type VolumeHistoryStore struct {
	conn *Conn
}

// NewVolumeHistoryStore creates a new VolumeHistoryStore.
func NewVolumeHistoryStore(conn *Conn) *VolumeHistoryStore {
	return &VolumeHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.VolumeHistoryStore = (*VolumeHistoryStore)(nil)

// InsertBulk appends volume rows in one batch.
func (s *VolumeHistoryStore) InsertBulk(ctx context.Context, rows []domain.VolumeRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO volume_history (pool_id, pair_name, volume_usd, ts)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(r.PoolID, r.PairName, r.VolumeUSD, r.Timestamp); err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// TopPools returns pool ids by latest recorded volume descending.
func (s *VolumeHistoryStore) TopPools(ctx context.Context, limit int) ([]domain.VolumeRow, error) {
	query := `
		SELECT pool_id, any(pair_name), argMax(volume_usd, ts), max(ts)
		FROM volume_history
		GROUP BY pool_id
		ORDER BY argMax(volume_usd, ts) DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query top pools: %w", err)
	}
	defer rows.Close()

	var out []domain.VolumeRow
	for rows.Next() {
		var r domain.VolumeRow
		if err := rows.Scan(&r.PoolID, &r.PairName, &r.VolumeUSD, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
