package feeds

import (
	"context"
	"log"
	"time"

	"dlmm-tracker/internal/registry"
	"dlmm-tracker/internal/upstream/dexapi"
)

// topPoolCount bounds the backup poll to the most active pools.
const topPoolCount = 20

// TradeSource is the slice of the DEX API the poller needs.
type TradeSource interface {
	Trades(ctx context.Context, poolID string, limit int) ([]dexapi.Trade, error)
}

// TradeHandler consumes one polled trade.
type TradeHandler func(trade dexapi.Trade)

// BackupPoller fetches recent trades over HTTP while the DEX WebSocket is
// down and injects them into the same ingestion path.
type BackupPoller struct {
	feed     *DEXFeed
	source   TradeSource
	registry *registry.Registry
	handler  TradeHandler
	interval time.Duration
	logger   *log.Logger
}

// PollerOptions configures a BackupPoller.
type PollerOptions struct {
	Feed     *DEXFeed
	Source   TradeSource
	Registry *registry.Registry
	Handler  TradeHandler
	Interval time.Duration
	Logger   *log.Logger
}

// NewBackupPoller creates a poller.
func NewBackupPoller(opts PollerOptions) *BackupPoller {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &BackupPoller{
		feed:     opts.Feed,
		source:   opts.Source,
		registry: opts.Registry,
		handler:  opts.Handler,
		interval: interval,
		logger:   logger,
	}
}

// Poll runs one backup sweep. It is a no-op unless the WebSocket has been
// closed for longer than one polling interval.
func (p *BackupPoller) Poll(ctx context.Context) {
	if p.feed.IsConnected() || p.feed.ClosedFor() < p.interval {
		return
	}

	pools := p.registry.TopByVolume(topPoolCount)
	injected := 0
	for _, pool := range pools {
		trades, err := p.source.Trades(ctx, pool.ID, 10)
		if err != nil {
			p.logger.Printf("backup poll %s failed: %v", pool.ID, err)
			continue
		}
		for _, trade := range trades {
			if trade.Pool == "" {
				trade.Pool = pool.ID
			}
			p.handler(trade)
			injected++
		}
	}
	if injected > 0 {
		p.logger.Printf("backup poll injected %d trades across %d pools", injected, len(pools))
	}
}
