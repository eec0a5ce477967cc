package resolver

import (
	"context"
	"log"
	"sync"
	"time"

	"dlmm-tracker/internal/cache"
	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/health"
	"dlmm-tracker/internal/upstream/dexapi"
	"dlmm-tracker/internal/upstream/dexscreener"
	"dlmm-tracker/internal/upstream/rpc"
	"dlmm-tracker/internal/upstream/solscan"
)

// metaCacheCap bounds the token metadata cache.
const metaCacheCap = 50_000

// Provider slices used by the metadata chain.
type protocolAssetSource interface {
	Asset(ctx context.Context, mint string) (*dexapi.Asset, error)
}

type explorerMetaSource interface {
	TokenMeta(ctx context.Context, mint string) (*solscan.TokenMeta, error)
}

type pairSymbolSource interface {
	Symbol(ctx context.Context, mint string) (string, error)
}

// MetaResolver resolves token symbol/decimals with a permanent cache and
// coalesced asynchronous lookups.
type MetaResolver struct {
	cache *cache.Cache[domain.TokenMeta]

	mu       sync.Mutex
	inflight map[string]bool

	protocol    protocolAssetSource
	explorer    explorerMetaSource
	dexscreener pairSymbolSource
	rpc         assetBatchSource

	health  *health.Tracker
	logger  *log.Logger
	timeout time.Duration
}

// MetaOptions configures a MetaResolver.
type MetaOptions struct {
	Protocol    protocolAssetSource
	Explorer    explorerMetaSource
	Dexscreener pairSymbolSource
	RPC         assetBatchSource
	Health      *health.Tracker
	Logger      *log.Logger
}

// NewMetaResolver creates a resolver with an empty cache.
func NewMetaResolver(opts MetaOptions) *MetaResolver {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if opts.Health == nil {
		opts.Health = health.NewTracker()
	}
	return &MetaResolver{
		cache:       cache.New[domain.TokenMeta](metaCacheCap, 0),
		inflight:    make(map[string]bool),
		protocol:    opts.Protocol,
		explorer:    opts.Explorer,
		dexscreener: opts.Dexscreener,
		rpc:         opts.RPC,
		health:      opts.Health,
		logger:      logger,
		timeout:     15 * time.Second,
	}
}

// Meta returns cached metadata for a mint.
func (r *MetaResolver) Meta(mint string) (domain.TokenMeta, bool) {
	return r.cache.Get(mint)
}

// Put stores metadata directly (used when an upstream response already
// carried symbol and decimals).
func (r *MetaResolver) Put(meta domain.TokenMeta) {
	if meta.Mint == "" || meta.Symbol == "" {
		return
	}
	r.cache.Set(meta.Mint, meta)
}

// Symbol returns the cached symbol, or a short-form placeholder while an
// asynchronous lookup is scheduled. Concurrent lookups for the same mint
// coalesce.
func (r *MetaResolver) Symbol(mint string) string {
	if meta, ok := r.cache.Get(mint); ok {
		return meta.Symbol
	}
	r.scheduleLookup(mint)
	return domain.ShortMint(mint)
}

// Decimals returns the cached decimals, defaulting to 9 (the network
// token's scale) when unknown.
func (r *MetaResolver) Decimals(mint string) int {
	if meta, ok := r.cache.Get(mint); ok {
		return meta.Decimals
	}
	return 9
}

// Len returns the number of cached metadata entries; exposed so the
// scheduler's cache sweep can report size.
func (r *MetaResolver) Len() int { return r.cache.Len() }

func (r *MetaResolver) scheduleLookup(mint string) {
	r.mu.Lock()
	if r.inflight[mint] {
		r.mu.Unlock()
		return
	}
	r.inflight[mint] = true
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.inflight, mint)
			r.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if meta, ok := r.lookup(ctx, mint); ok {
			r.cache.Set(mint, meta)
		}
	}()
}

// lookup tries providers in authority order and returns the first
// non-empty symbol.
func (r *MetaResolver) lookup(ctx context.Context, mint string) (domain.TokenMeta, bool) {
	if r.protocol != nil {
		if a, err := r.protocol.Asset(ctx, mint); err == nil && a.Symbol != "" {
			r.health.Success("dexapi")
			return domain.TokenMeta{
				Mint:     mint,
				Symbol:   a.Symbol,
				Name:     a.Name,
				Decimals: a.Decimals,
				Source:   domain.MetaSourceProtocolAPI,
			}, true
		}
		r.health.Failure("dexapi")
	}

	if r.explorer != nil {
		if m, err := r.explorer.TokenMeta(ctx, mint); err == nil && m.Symbol != "" {
			r.health.Success(solscan.Provider)
			return domain.TokenMeta{
				Mint:     mint,
				Symbol:   m.Symbol,
				Name:     m.Name,
				Decimals: m.Decimals,
				Source:   domain.MetaSourceAggregator,
			}, true
		}
		r.health.Failure(solscan.Provider)
	}

	if r.dexscreener != nil {
		if sym, err := r.dexscreener.Symbol(ctx, mint); err == nil && sym != "" {
			r.health.Success(dexscreener.Provider)
			return domain.TokenMeta{
				Mint:     mint,
				Symbol:   sym,
				Decimals: 9,
				Source:   domain.MetaSourceDexscreener,
			}, true
		}
		r.health.Failure(dexscreener.Provider)
	}

	if r.rpc != nil {
		if assets, err := r.rpc.GetAssetBatch(ctx, []string{mint}); err == nil {
			r.health.Success(rpc.Provider)
			for _, a := range assets {
				if a.ID == mint && a.Symbol() != "" {
					return domain.TokenMeta{
						Mint:     mint,
						Symbol:   a.Symbol(),
						Name:     a.Content.Metadata.Name,
						Decimals: a.TokenInfo.Decimals,
						Source:   domain.MetaSourceOnchain,
					}, true
				}
			}
		} else {
			r.health.Failure(rpc.Provider)
		}
	}

	r.logger.Printf("no symbol resolved for %s", mint)
	return domain.TokenMeta{}, false
}
