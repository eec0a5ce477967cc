package postgres

import (
	"context"
	"fmt"
	"time"

	"dlmm-tracker/internal/storage"
)

// SeenTxStore implements storage.SeenTxStore using PostgreSQL.
type SeenTxStore struct {
	pool *Pool
}

// NewSeenTxStore creates a new SeenTxStore.
func NewSeenTxStore(pool *Pool) *SeenTxStore {
	return &SeenTxStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SeenTxStore = (*SeenTxStore)(nil)

// Insert records a signature. Duplicate inserts are not an error.
func (s *SeenTxStore) Insert(ctx context.Context, tx storage.SeenTx) error {
	if tx.Sig == "" {
		return storage.ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO seen_txs (sig, source, added_at) VALUES ($1, $2, $3)
		ON CONFLICT (sig, source) DO NOTHING
	`, tx.Sig, tx.Source, tx.AddedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert seen tx: %w", err)
	}
	return nil
}

// LoadSince returns all entries added at or after cutoff.
func (s *SeenTxStore) LoadSince(ctx context.Context, cutoff time.Time) ([]storage.SeenTx, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sig, source, added_at FROM seen_txs WHERE added_at >= $1
	`, cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("load seen txs: %w", err)
	}
	defer rows.Close()

	var out []storage.SeenTx
	for rows.Next() {
		var tx storage.SeenTx
		var addedAt int64
		if err := rows.Scan(&tx.Sig, &tx.Source, &addedAt); err != nil {
			return nil, err
		}
		tx.AddedAt = time.UnixMilli(addedAt)
		out = append(out, tx)
	}
	return out, rows.Err()
}

// DeleteBefore removes entries older than cutoff; returns rows removed.
func (s *SeenTxStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM seen_txs WHERE added_at < $1`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete seen txs: %w", err)
	}
	return tag.RowsAffected(), nil
}
