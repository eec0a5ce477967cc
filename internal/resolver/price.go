// Package resolver resolves USD prices and token metadata through an
// ordered provider chain with per-provider health tracking.
package resolver

import (
	"context"
	"log"
	"sync"
	"time"

	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/health"
	"dlmm-tracker/internal/registry"
	"dlmm-tracker/internal/upstream/birdeye"
	"dlmm-tracker/internal/upstream/coingecko"
	"dlmm-tracker/internal/upstream/dexscreener"
	"dlmm-tracker/internal/upstream/rpc"
)

// NetworkTokenMint is the wrapped network token mint.
const NetworkTokenMint = "So11111111111111111111111111111111111111112"

// batchSize is the aggregator's per-request mint cap.
const batchSize = 50

// Provider slices used by the price chain.
type assetBatchSource interface {
	GetAssetBatch(ctx context.Context, mints []string) ([]rpc.Asset, error)
}

type priceSource interface {
	Price(ctx context.Context, mint string) (float64, error)
}

type simplePriceSource interface {
	SolanaPrice(ctx context.Context) (float64, error)
}

// PriceResolver keeps one PriceEntry per mint and drives the refresh chain.
type PriceResolver struct {
	mu     sync.RWMutex
	prices map[string]domain.PriceEntry

	refreshInterval time.Duration
	stableMints     map[string]bool

	rpc         assetBatchSource
	dexscreener priceSource
	birdeye     priceSource
	coingecko   simplePriceSource

	registry *registry.Registry
	health   *health.Tracker
	logger   *log.Logger
	now      func() time.Time
}

// PriceOptions configures a PriceResolver.
type PriceOptions struct {
	RefreshInterval time.Duration
	StableMints     []string
	RPC             assetBatchSource
	Dexscreener     priceSource
	Birdeye         priceSource
	Coingecko       simplePriceSource
	Registry        *registry.Registry
	Health          *health.Tracker
	Logger          *log.Logger
}

// NewPriceResolver creates a resolver with an empty price table.
func NewPriceResolver(opts PriceOptions) *PriceResolver {
	interval := opts.RefreshInterval
	if interval == 0 {
		interval = 5 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	stable := make(map[string]bool, len(opts.StableMints))
	for _, m := range opts.StableMints {
		stable[m] = true
	}
	if opts.Health == nil {
		opts.Health = health.NewTracker()
	}
	return &PriceResolver{
		prices:          make(map[string]domain.PriceEntry),
		refreshInterval: interval,
		stableMints:     stable,
		rpc:             opts.RPC,
		dexscreener:     opts.Dexscreener,
		birdeye:         opts.Birdeye,
		coingecko:       opts.Coingecko,
		registry:        opts.Registry,
		health:          opts.Health,
		logger:          logger,
		now:             time.Now,
	}
}

// Price returns the usable USD price for a mint. Stablecoins resolve to 1.0
// without lookup. Unknown or stale mints return (0, false).
func (r *PriceResolver) Price(mint string) (float64, bool) {
	if r.stableMints[mint] {
		return 1.0, true
	}

	r.mu.RLock()
	entry, ok := r.prices[mint]
	r.mu.RUnlock()

	if !ok || !entry.Usable(r.now(), r.refreshInterval) {
		return 0, false
	}
	return entry.PriceUSD, true
}

// NetworkTokenPrice is a shorthand for the network token's price.
func (r *PriceResolver) NetworkTokenPrice() (float64, bool) {
	return r.Price(NetworkTokenMint)
}

// store records a fresh price entry.
func (r *PriceResolver) store(mint string, price float64, source string) {
	if price <= 0 {
		return
	}
	r.mu.Lock()
	r.prices[mint] = domain.PriceEntry{
		Mint:      mint,
		PriceUSD:  price,
		UpdatedAt: r.now(),
		Source:    source,
	}
	r.mu.Unlock()
}

// Refresh drives the provider chain. Providers are tried in a fixed order
// and the chain stops as soon as the network token has a fresh price. The
// first provider additionally refreshes non-stable pool tokens in batches.
func (r *PriceResolver) Refresh(ctx context.Context) {
	if r.refreshFromAggregator(ctx) {
		return
	}
	if r.refreshFromDexscreener(ctx) {
		return
	}
	if r.refreshFromBirdeye(ctx) {
		return
	}
	r.refreshFromCoingecko(ctx)
}

// refreshFromAggregator batch-fetches the network token plus all non-stable
// pool tokens. Returns true when the network token was priced.
func (r *PriceResolver) refreshFromAggregator(ctx context.Context) bool {
	if r.rpc == nil {
		return false
	}

	mints := []string{NetworkTokenMint}
	if r.registry != nil {
		seen := map[string]bool{NetworkTokenMint: true}
		for _, p := range r.registry.Snapshot().Pools {
			for _, m := range []string{p.BaseMint, p.QuoteMint} {
				if !seen[m] && !r.stableMints[m] {
					seen[m] = true
					mints = append(mints, m)
				}
			}
		}
	}

	solPriced := false
	for start := 0; start < len(mints); start += batchSize {
		end := start + batchSize
		if end > len(mints) {
			end = len(mints)
		}
		assets, err := r.rpc.GetAssetBatch(ctx, mints[start:end])
		if err != nil {
			r.health.Failure(rpc.Provider)
			r.logger.Printf("price batch failed: %v", err)
			// Continue with remaining batches; the chain decides on SOL.
			continue
		}
		r.health.Success(rpc.Provider)
		for _, a := range assets {
			if a.TokenInfo.PriceInfo == nil {
				continue
			}
			r.store(a.ID, a.TokenInfo.PriceInfo.PricePerToken, rpc.Provider)
			if a.ID == NetworkTokenMint {
				solPriced = true
			}
		}
	}
	return solPriced
}

func (r *PriceResolver) refreshFromDexscreener(ctx context.Context) bool {
	if r.dexscreener == nil {
		return false
	}
	price, err := r.dexscreener.Price(ctx, NetworkTokenMint)
	if err != nil {
		r.health.Failure(dexscreener.Provider)
		return false
	}
	r.health.Success(dexscreener.Provider)
	r.store(NetworkTokenMint, price, dexscreener.Provider)
	return true
}

func (r *PriceResolver) refreshFromBirdeye(ctx context.Context) bool {
	if r.birdeye == nil {
		return false
	}
	price, err := r.birdeye.Price(ctx, NetworkTokenMint)
	if err != nil {
		r.health.Failure(birdeye.Provider)
		return false
	}
	r.health.Success(birdeye.Provider)
	r.store(NetworkTokenMint, price, birdeye.Provider)
	return true
}

func (r *PriceResolver) refreshFromCoingecko(ctx context.Context) bool {
	if r.coingecko == nil {
		return false
	}
	price, err := r.coingecko.SolanaPrice(ctx)
	if err != nil {
		r.health.Failure(coingecko.Provider)
		r.logger.Printf("all price providers failed for the network token")
		return false
	}
	r.health.Success(coingecko.Provider)
	r.store(NetworkTokenMint, price, coingecko.Provider)
	return true
}

// LookupPrice fetches a single mint's price on demand (birdeye first, then
// dexscreener) and caches it. Used by valuation when the bulk table misses.
func (r *PriceResolver) LookupPrice(ctx context.Context, mint string) (float64, bool) {
	if price, ok := r.Price(mint); ok {
		return price, true
	}
	if r.birdeye != nil {
		if price, err := r.birdeye.Price(ctx, mint); err == nil {
			r.health.Success(birdeye.Provider)
			r.store(mint, price, birdeye.Provider)
			return price, true
		}
		r.health.Failure(birdeye.Provider)
	}
	if r.dexscreener != nil {
		if price, err := r.dexscreener.Price(ctx, mint); err == nil {
			r.health.Success(dexscreener.Provider)
			r.store(mint, price, dexscreener.Provider)
			return price, true
		}
		r.health.Failure(dexscreener.Provider)
	}
	return 0, false
}
