// Package registry maintains the published pool snapshot.
package registry

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/upstream/dexapi"
)

// PoolSource is the slice of the DEX API the registry needs.
type PoolSource interface {
	Pools(ctx context.Context) ([]dexapi.PoolInfo, error)
	Volumes(ctx context.Context) (map[string]float64, error)
}

// Snapshot is an immutable view of the pool set. Readers obtain a snapshot
// once and read it without locks; the registry swaps the pointer on refresh.
type Snapshot struct {
	Pools    []*domain.Pool
	ByID     map[string]*domain.Pool
	ByToken  map[string][]*domain.Pool // mint -> pools listing it
	ByLPMint map[string]*domain.Pool   // LP mint -> pool, when known
	BuiltAt  time.Time
}

// Registry periodically loads the pool set and publishes snapshots.
type Registry struct {
	source       PoolSource
	programID    string // DEX program id
	primaryMint  string // protocol primary token mint
	logger       *log.Logger

	snapshot atomic.Pointer[Snapshot]
}

// Options configures a Registry.
type Options struct {
	Source      PoolSource
	ProgramID   string
	PrimaryMint string
	Logger      *log.Logger
}

// New creates a registry with an empty initial snapshot.
func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	r := &Registry{
		source:      opts.Source,
		programID:   opts.ProgramID,
		primaryMint: opts.PrimaryMint,
		logger:      logger,
	}
	r.snapshot.Store(&Snapshot{
		ByID:     make(map[string]*domain.Pool),
		ByToken:  make(map[string][]*domain.Pool),
		ByLPMint: make(map[string]*domain.Pool),
	})
	return r
}

// Snapshot returns the current published snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.snapshot.Load()
}

// Refresh reloads the pool set and atomically publishes a new snapshot.
// On fetch failure the previous snapshot stays published.
func (r *Registry) Refresh(ctx context.Context) error {
	infos, err := r.source.Pools(ctx)
	if err != nil {
		return fmt.Errorf("refresh pools: %w", err)
	}

	snap := &Snapshot{
		ByID:     make(map[string]*domain.Pool, len(infos)),
		ByToken:  make(map[string][]*domain.Pool),
		ByLPMint: make(map[string]*domain.Pool),
		BuiltAt:  time.Now(),
	}

	prev := r.snapshot.Load()
	for _, info := range infos {
		id := info.PoolID()
		base, quote := info.Base(), info.Quote()
		if id == "" || base == "" || quote == "" || base == quote {
			continue
		}

		pool := &domain.Pool{
			ID:             id,
			BaseMint:       base,
			QuoteMint:      quote,
			LPMint:         info.LPMint,
			BaseSymbol:     info.BaseSymbol,
			QuoteSymbol:    info.QuoteSymbol,
			IsPrimary:      base == r.primaryMint || quote == r.primaryMint,
			CreatedAt:      info.CreatedAt,
			TVL:            info.TVL,
			FeeBps:         info.FeeBps,
			ProtocolFeeBps: info.ProtocolFeeBps,
			SpotPrice:      info.Price,
		}
		if pool.BaseSymbol == "" {
			pool.BaseSymbol = domain.ShortMint(base)
		}
		if pool.QuoteSymbol == "" {
			pool.QuoteSymbol = domain.ShortMint(quote)
		}
		pool.PairName = domain.PairName(pool.BaseSymbol, pool.QuoteSymbol)

		// Carry volume forward until the next volume refresh.
		if old, ok := prev.ByID[id]; ok {
			pool.Volume24hUSD = old.Volume24hUSD
		}

		snap.Pools = append(snap.Pools, pool)
		snap.ByID[id] = pool
		snap.ByToken[base] = append(snap.ByToken[base], pool)
		snap.ByToken[quote] = append(snap.ByToken[quote], pool)
		if pool.LPMint != "" {
			snap.ByLPMint[pool.LPMint] = pool
		}
	}

	r.snapshot.Store(snap)
	r.logger.Printf("pool snapshot published: %d pools", len(snap.Pools))
	return nil
}

// RefreshVolumes updates the 24h volume figures and republishes. Volumes
// are written onto a rebuilt snapshot so readers never observe a torn pool.
func (r *Registry) RefreshVolumes(ctx context.Context) ([]domain.VolumeRow, error) {
	volumes, err := r.source.Volumes(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh volumes: %w", err)
	}

	prev := r.snapshot.Load()
	snap := &Snapshot{
		Pools:    make([]*domain.Pool, 0, len(prev.Pools)),
		ByID:     make(map[string]*domain.Pool, len(prev.ByID)),
		ByToken:  make(map[string][]*domain.Pool, len(prev.ByToken)),
		ByLPMint: make(map[string]*domain.Pool, len(prev.ByLPMint)),
		BuiltAt:  prev.BuiltAt,
	}

	now := time.Now().UnixMilli()
	var rows []domain.VolumeRow
	for _, old := range prev.Pools {
		pool := *old
		if v, ok := volumes[pool.ID]; ok {
			pool.Volume24hUSD = v
			rows = append(rows, domain.VolumeRow{
				PoolID:    pool.ID,
				PairName:  pool.PairName,
				VolumeUSD: v,
				Timestamp: now,
			})
		}
		p := &pool
		snap.Pools = append(snap.Pools, p)
		snap.ByID[p.ID] = p
		snap.ByToken[p.BaseMint] = append(snap.ByToken[p.BaseMint], p)
		snap.ByToken[p.QuoteMint] = append(snap.ByToken[p.QuoteMint], p)
		if p.LPMint != "" {
			snap.ByLPMint[p.LPMint] = p
		}
	}

	r.snapshot.Store(snap)
	return rows, nil
}

// Get returns the pool with the given id, or nil.
func (r *Registry) Get(id string) *domain.Pool {
	return r.snapshot.Load().ByID[id]
}

// FindByToken returns all pools whose base or quote equals mint.
func (r *Registry) FindByToken(mint string) []*domain.Pool {
	return r.snapshot.Load().ByToken[mint]
}

// IsDEXTransaction reports whether any account is the DEX program id or a
// known pool.
func (r *Registry) IsDEXTransaction(accounts []string) bool {
	snap := r.snapshot.Load()
	for _, acc := range accounts {
		if acc == r.programID {
			return true
		}
		if _, ok := snap.ByID[acc]; ok {
			return true
		}
	}
	return false
}

// TopByVolume returns up to n pools ordered by 24h volume descending.
func (r *Registry) TopByVolume(n int) []*domain.Pool {
	snap := r.snapshot.Load()
	pools := make([]*domain.Pool, len(snap.Pools))
	copy(pools, snap.Pools)

	// Insertion sort; the pool set is small (hundreds).
	for i := 1; i < len(pools); i++ {
		for j := i; j > 0 && pools[j].Volume24hUSD > pools[j-1].Volume24hUSD; j-- {
			pools[j], pools[j-1] = pools[j-1], pools[j]
		}
	}
	if n > 0 && len(pools) > n {
		pools = pools[:n]
	}
	return pools
}
