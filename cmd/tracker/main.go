// Package main runs the DLMM activity tracker: live feeds, classification,
// fan-out, the portfolio engine and the scheduler in one process.
package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dlmm-tracker/internal/command"
	"dlmm-tracker/internal/config"
	"dlmm-tracker/internal/decoder"
	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/fanout"
	"dlmm-tracker/internal/feeds"
	"dlmm-tracker/internal/health"
	"dlmm-tracker/internal/ingest"
	"dlmm-tracker/internal/observability"
	"dlmm-tracker/internal/portfolio"
	"dlmm-tracker/internal/ratelimit"
	"dlmm-tracker/internal/registry"
	"dlmm-tracker/internal/resolver"
	"dlmm-tracker/internal/scheduler"
	"dlmm-tracker/internal/seen"
	"dlmm-tracker/internal/storage"
	chstore "dlmm-tracker/internal/storage/clickhouse"
	"dlmm-tracker/internal/storage/memory"
	"dlmm-tracker/internal/storage/migrations"
	pgstore "dlmm-tracker/internal/storage/postgres"
	"dlmm-tracker/internal/subscribers"
	"dlmm-tracker/internal/upstream/birdeye"
	"dlmm-tracker/internal/upstream/coingecko"
	"dlmm-tracker/internal/upstream/dexapi"
	"dlmm-tracker/internal/upstream/dexscreener"
	"dlmm-tracker/internal/upstream/httpx"
	"dlmm-tracker/internal/upstream/rpc"
	"dlmm-tracker/internal/upstream/solscan"
	"dlmm-tracker/internal/valuation"
)

// shutdownGrace is the hard cap on graceful shutdown.
const shutdownGrace = 10 * time.Second

func main() {
	loadEnvFile()

	configPath := flag.String("config", os.Getenv("TRACKER_CONFIG"), "Path to YAML config file")
	dexAPIURL := flag.String("dex-api", os.Getenv("DEX_API_URL"), "DEX API base URL")
	dexWSURL := flag.String("dex-ws", os.Getenv("DEX_WS_URL"), "DEX WebSocket URL")
	rpcURL := flag.String("rpc-endpoint", os.Getenv("RPC_ENDPOINT"), "RPC HTTP endpoint")
	rpcWSURL := flag.String("rpc-ws-endpoint", os.Getenv("RPC_WS_ENDPOINT"), "RPC WebSocket endpoint")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address")
	flag.Parse()

	logger := log.New(os.Stdout, "[tracker] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	applyFlag(&cfg.DEXAPIURL, *dexAPIURL)
	applyFlag(&cfg.DEXWSURL, *dexWSURL)
	applyFlag(&cfg.RPCURL, *rpcURL)
	applyFlag(&cfg.RPCWSURL, *rpcWSURL)
	applyFlag(&cfg.PostgresDSN, *postgresDSN)
	applyFlag(&cfg.ClickhouseDSN, *clickhouseDSN)
	applyFlag(&cfg.MetricsAddr, *metricsAddr)
	applyFlag(&cfg.RPCAPIKey, os.Getenv("RPC_API_KEY"))
	applyFlag(&cfg.BirdeyeAPIKey, os.Getenv("BIRDEYE_API_KEY"))
	applyFlag(&cfg.SolscanAPIKey, os.Getenv("SOLSCAN_API_KEY"))

	if cfg.DEXAPIURL == "" || cfg.DEXWSURL == "" {
		logger.Fatal("--dex-api and --dex-ws are required")
	}
	if cfg.RPCURL == "" || cfg.RPCWSURL == "" {
		logger.Fatal("--rpc-endpoint and --rpc-ws-endpoint are required")
	}
	if cfg.DEXProgramID == "" || cfg.PrimaryTokenMint == "" {
		logger.Fatal("dex_program_id and primary_token_mint must be configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics("")

	// Durable stores: postgres when a DSN is given, memory otherwise.
	var (
		subStore  storage.SubscriberStore
		seenStore storage.SeenTxStore
		volStore  storage.VolumeHistoryStore
	)
	if *useMemory || cfg.PostgresDSN == "" {
		logger.Println("using in-memory storage")
		subStore = memory.NewSubscriberStore()
		seenStore = memory.NewSeenTxStore()
	} else {
		pool, err := pgstore.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatalf("connect postgres: %v", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			logger.Fatalf("run postgres migrations: %v", err)
		}
		subStore = pgstore.NewSubscriberStore(pool, cfg.MaxRecentAlerts)
		seenStore = pgstore.NewSeenTxStore(pool)
	}
	if cfg.ClickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
		if err != nil {
			logger.Fatalf("connect clickhouse: %v", err)
		}
		defer conn.Close()
		if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
			logger.Fatalf("run clickhouse migrations: %v", err)
		}
		volStore = chstore.NewVolumeHistoryStore(conn)
	} else {
		volStore = memory.NewVolumeHistoryStore()
	}

	// Upstream clients share one rate-limited retry client.
	limiters := ratelimit.NewRegistry()
	httpClient := httpx.NewClient(limiters)
	dexClient := dexapi.NewClient(cfg.DEXAPIURL, httpClient)
	rpcClient := rpc.NewClient(cfg.RPCURL, cfg.RPCAPIKey, httpClient)
	birdeyeClient := birdeye.NewClient(cfg.BirdeyeURL, cfg.BirdeyeAPIKey, httpClient)
	dexscreenerClient := dexscreener.NewClient(cfg.DexscreenerURL, httpClient)
	coingeckoClient := coingecko.NewClient(cfg.CoingeckoURL, httpClient)
	solscanClient := solscan.NewClient(cfg.SolscanURL, cfg.SolscanAPIKey, httpClient)

	healthTracker := health.NewTracker()

	poolRegistry := registry.New(registry.Options{
		Source:      dexClient,
		ProgramID:   cfg.DEXProgramID,
		PrimaryMint: cfg.PrimaryTokenMint,
		Logger:      log.New(os.Stdout, "[pools] ", log.LstdFlags),
	})
	if err := poolRegistry.Refresh(ctx); err != nil {
		logger.Printf("initial pool refresh failed: %v", err)
	}

	prices := resolver.NewPriceResolver(resolver.PriceOptions{
		RefreshInterval: cfg.PriceRefresh,
		StableMints:     cfg.StableMints,
		RPC:             rpcClient,
		Dexscreener:     dexscreenerClient,
		Birdeye:         birdeyeClient,
		Coingecko:       coingeckoClient,
		Registry:        poolRegistry,
		Health:          healthTracker,
		Logger:          log.New(os.Stdout, "[prices] ", log.LstdFlags),
	})
	prices.Refresh(ctx)

	meta := resolver.NewMetaResolver(resolver.MetaOptions{
		Protocol:    dexClient,
		Explorer:    solscanClient,
		Dexscreener: dexscreenerClient,
		RPC:         rpcClient,
		Health:      healthTracker,
		Logger:      log.New(os.Stdout, "[meta] ", log.LstdFlags),
	})

	seenTracker := seen.NewTracker(seen.Options{
		Store:  seenStore,
		Logger: log.New(os.Stdout, "[seen] ", log.LstdFlags),
	})
	if err := seenTracker.WarmStart(ctx); err != nil {
		logger.Printf("seen-tx warm start failed: %v", err)
	}

	subRegistry := subscribers.NewRegistry(subscribers.Options{
		Store:        subStore,
		SaveDebounce: cfg.SaveDebounce,
		Logger:       log.New(os.Stdout, "[subs] ", log.LstdFlags),
	})
	if err := subRegistry.Load(ctx); err != nil {
		logger.Fatalf("load subscribers: %v", err)
	}
	subRegistry.StartFlusher()

	// The chat front end implements fanout.Sink; without one attached the
	// tracker logs deliveries.
	sink := newLogSink(log.New(os.Stdout, "[sink] ", log.LstdFlags))

	dispatcher := fanout.New(fanout.Options{
		Registry:        subRegistry,
		Sink:            sink,
		Symbols:         meta,
		MaxRecentAlerts: cfg.MaxRecentAlerts,
		Logger:          log.New(os.Stdout, "[fanout] ", log.LstdFlags),
	})

	dec := decoder.New(poolRegistry, cfg.PrimaryTokenMint, resolver.NetworkTokenMint)
	valuer := valuation.New(prices, meta)

	var stakeVaults []portfolio.StakeVault
	for _, v := range cfg.StakeVaults {
		stakeVaults = append(stakeVaults, portfolio.StakeVault{
			Vault:          v.Vault,
			UnderlyingMint: v.UnderlyingMint,
			ReceiptMint:    v.ReceiptMint,
		})
	}
	stakeScanner := portfolio.NewStakeScanner(rpcClient, prices, stakeVaults,
		log.New(os.Stdout, "[stake] ", log.LstdFlags))

	engine := portfolio.NewEngine(portfolio.Options{
		Chain:       rpcClient,
		PnL:         birdeyeClient,
		Prices:      prices,
		Meta:        meta,
		Registry:    poolRegistry,
		Decoder:     dec,
		Valuer:      valuer,
		Subscribers: subRegistry,
		Stakes:      stakeScanner,
		Logger:      log.New(os.Stdout, "[portfolio] ", log.LstdFlags),
	})

	// Feeds and the ingestion pipeline.
	walletFeed := feeds.NewWalletFeed(feeds.WalletFeedOptions{
		WSURL:         cfg.RPCWSURL,
		Wallets:       subRegistry.TrackedWallets,
		ReconnectBase: cfg.WSReconnectBase,
		Logger:        log.New(os.Stdout, "[walletfeed] ", log.LstdFlags),
	})

	runner := ingest.NewRunner(ingest.Options{
		Decoder:  dec,
		Seen:     seenTracker,
		Valuer:   valuer,
		Fanout:   dispatcher,
		Registry: poolRegistry,
		Wallets:  walletFeed,
		Chain:    rpcClient,
		Metrics:  metrics,
		Logger:   log.New(os.Stdout, "[ingest] ", log.LstdFlags),
	})

	dexFeed := feeds.NewDEXFeed(feeds.DEXFeedOptions{
		WSURL:         cfg.DEXWSURL,
		Tickets:       dexClient,
		Registry:      poolRegistry,
		Handler:       runner.HandleDEXFrame,
		ReconnectBase: cfg.WSReconnectBase,
		Logger:        log.New(os.Stdout, "[dexfeed] ", log.LstdFlags),
	})
	walletFeed.SetHandler(runner.HandleWalletFrame)

	poller := feeds.NewBackupPoller(feeds.PollerOptions{
		Feed:     dexFeed,
		Source:   dexClient,
		Registry: poolRegistry,
		Handler:  runner.HandlePolledTrade,
		Interval: cfg.TradesPoll,
		Logger:   log.New(os.Stdout, "[poller] ", log.LstdFlags),
	})

	api := command.New(command.Options{
		Subscribers:  subRegistry,
		Pools:        poolRegistry,
		Market:       dexClient,
		Portfolio:    engine,
		Volumes:      volStore,
		Wallets:      walletFeed,
		MaxWallets:   cfg.MaxWalletsPerUser,
		MaxWatchlist: cfg.MaxWatchlistItems,
	})
	_ = api // handed to the chat front end

	go dexFeed.Run(ctx)
	go walletFeed.Run(ctx)

	// Scheduler jobs.
	sched := scheduler.New(scheduler.Options{
		Metrics: metrics,
		Logger:  log.New(os.Stdout, "[sched] ", log.LstdFlags),
	})
	sched.Add("pool_refresh", cfg.PoolRefresh, func(ctx context.Context) {
		if err := poolRegistry.Refresh(ctx); err != nil {
			logger.Printf("pool refresh: %v", err)
		}
	})
	sched.Add("price_refresh", cfg.PriceRefresh, func(ctx context.Context) {
		prices.Refresh(ctx)
	})
	sched.Add("volume_refresh", cfg.PoolRefresh, func(ctx context.Context) {
		rows, err := poolRegistry.RefreshVolumes(ctx)
		if err != nil {
			logger.Printf("volume refresh: %v", err)
			return
		}
		if err := volStore.InsertBulk(ctx, rows); err != nil {
			logger.Printf("volume history insert: %v", err)
		}
	})
	sched.Add("upstream_health", time.Minute, func(ctx context.Context) {
		if err := dexClient.Health(ctx); err != nil {
			healthTracker.Failure("dexapi")
			return
		}
		healthTracker.Success("dexapi")
	})
	sched.Add("backup_trade_poll", cfg.TradesPoll, func(ctx context.Context) {
		poller.Poll(ctx)
	})
	sched.Add("cache_prune", 15*time.Minute, func(ctx context.Context) {
		engine.PruneCaches()
		logger.Printf("cache prune done; token meta entries: %d", meta.Len())
	})
	sched.Add("persistence_flush", 5*time.Minute, func(ctx context.Context) {
		subRegistry.Flush(ctx)
	})
	sched.Add("portfolio_auto_sync", cfg.PortfolioAutoSync, func(ctx context.Context) {
		autoSync(ctx, subRegistry, engine, cfg.PortfolioAutoSync, logger)
	})
	sched.AddDaily("daily_digest", cfg.DailyDigestHour, cfg.DailyDigestMinute, func(ctx context.Context) {
		sent := dispatcher.BroadcastDigest(ctx)
		logger.Printf("daily digest sent to %d subscribers", sent)
	})
	sched.AddDaily("seen_tx_prune", 3, 0, func(ctx context.Context) {
		seenTracker.Prune(ctx)
	})
	sched.Start(ctx)

	// Prometheus exposition.
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Printf("metrics server: %v", err)
			}
		}()
	}

	logger.Printf("tracker running: %d pools, %d subscribers",
		len(poolRegistry.Snapshot().Pools), subRegistry.Len())

	// Cooperative shutdown with a hard timer.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Println("shutting down")

	done := make(chan struct{})
	go func() {
		cancel()
		sched.Stop()
		subRegistry.Stop()
		close(done)
	}()
	select {
	case <-done:
		logger.Println("shutdown complete")
	case <-time.After(shutdownGrace):
		logger.Println("shutdown timed out; forcing exit")
		os.Exit(1)
	}
}

// autoSync refreshes portfolios of recently active subscribers whose
// snapshot is stale.
func autoSync(ctx context.Context, subs *subscribers.Registry, engine *portfolio.Engine, interval time.Duration, logger *log.Logger) {
	now := time.Now().UnixMilli()
	activeWindow := int64(30 * time.Minute / time.Millisecond)

	var targets []int64
	subs.ForEach(func(s *domain.Subscriber) {
		if !s.Enabled || s.Blocked || len(s.PortfolioWallets) == 0 {
			return
		}
		if now-s.LastActive > activeWindow {
			return
		}
		if s.Portfolio != nil && now-s.Portfolio.LastSync < interval.Milliseconds() {
			return
		}
		targets = append(targets, s.ChatID)
	})

	for _, chatID := range targets {
		if ctx.Err() != nil {
			return
		}
		if _, err := engine.Sync(ctx, chatID); err != nil {
			logger.Printf("auto-sync %d: %v", chatID, err)
		}
	}
}

// logSink is the development sink; the chat front end replaces it.
type logSink struct {
	logger *log.Logger
}

func newLogSink(logger *log.Logger) *logSink {
	return &logSink{logger: logger}
}

func (s *logSink) Send(_ context.Context, chatID int64, msg fanout.Message) fanout.Result {
	s.logger.Printf("-> %d: %s", chatID, msg.Text)
	return fanout.Result{Status: fanout.SentOK}
}

// applyFlag overrides dst when the flag/env value is non-empty.
func applyFlag(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// loadEnvFile loads KEY=VALUE pairs from .env when present.
func loadEnvFile() {
	f, err := os.Open(".env")
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"`)
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
