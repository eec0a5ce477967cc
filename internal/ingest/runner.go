// Package ingest connects the live feeds to classification, dedup,
// valuation and fan-out.
package ingest

import (
	"context"
	"log"

	"dlmm-tracker/internal/decoder"
	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/fanout"
	"dlmm-tracker/internal/observability"
	"dlmm-tracker/internal/registry"
	"dlmm-tracker/internal/seen"
	"dlmm-tracker/internal/upstream/dexapi"
	"dlmm-tracker/internal/upstream/rpc"
	"dlmm-tracker/internal/valuation"
)

// TxSource fetches parsed transactions to value wallet activity.
type TxSource interface {
	GetTransaction(ctx context.Context, signature string) (*rpc.ParsedTransaction, error)
}

// WalletResolver maps subscription ids to wallets and reports wallets
// whose notifications should be dropped (unsubscribed, but the provider
// keeps streaming them).
type WalletResolver interface {
	WalletForSubscription(subID int64) string
	IsDropped(wallet string) bool
}

// Runner is the ingestion pipeline shared by both feeds and the backup
// poller. Dedup is written before any enrichment so a concurrent second
// arrival short-circuits.
type Runner struct {
	decoder  *decoder.Decoder
	seen     *seen.Tracker
	valuer   *valuation.Valuer
	fanout   *fanout.Fanout
	registry *registry.Registry
	wallets  WalletResolver
	chain    TxSource
	metrics  *observability.Metrics
	logger   *log.Logger
}

// Options configures a Runner.
type Options struct {
	Decoder  *decoder.Decoder
	Seen     *seen.Tracker
	Valuer   *valuation.Valuer
	Fanout   *fanout.Fanout
	Registry *registry.Registry
	Wallets  WalletResolver
	Chain    TxSource // optional; enables USD valuation of wallet activity
	Metrics  *observability.Metrics
	Logger   *log.Logger
}

// NewRunner creates a runner.
func NewRunner(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		decoder:  opts.Decoder,
		seen:     opts.Seen,
		valuer:   opts.Valuer,
		fanout:   opts.Fanout,
		registry: opts.Registry,
		wallets:  opts.Wallets,
		chain:    opts.Chain,
		metrics:  opts.Metrics,
		logger:   logger,
	}
}

// HandleDEXFrame processes one raw frame from the DEX feed. Panics never
// cross the frame loop; they are caught and logged here.
func (r *Runner) HandleDEXFrame(raw []byte) {
	defer r.recover("dex frame")

	p, err := decoder.ParsePayload(raw)
	if err != nil || p.IsHeartbeat() {
		return
	}

	sig := p.Signature()
	if sig == "" {
		return
	}
	ctx := context.Background()
	if !r.seen.CheckAndAdd(ctx, seen.SourceDEX, sig) {
		r.metrics.DedupHits.Inc()
		return
	}

	ev := r.decoder.Decode(p)
	r.dispatchDEX(ctx, ev)
}

// HandlePolledTrade injects a trade fetched by the backup poller into the
// same path. Signatures already seen on the WebSocket are skipped.
func (r *Runner) HandlePolledTrade(trade dexapi.Trade) {
	defer r.recover("polled trade")

	if trade.Signature == "" {
		return
	}
	ctx := context.Background()
	if !r.seen.CheckAndAdd(ctx, seen.SourceDEX, trade.Signature) {
		return
	}

	dir := domain.DirectionSell
	if trade.Side == "buy" {
		dir = domain.DirectionBuy
	}
	ev := &domain.SemanticEvent{
		Kind:        domain.EventSwap,
		Direction:   dir,
		PoolID:      trade.Pool,
		Wallet:      trade.Wallet,
		Sig:         trade.Signature,
		USDValue:    trade.USDValue,
		AmountIn:    trade.AmountIn,
		AmountOut:   trade.AmountOut,
		MintIn:      trade.MintIn,
		MintOut:     trade.MintOut,
		DecimalsIn:  -1,
		DecimalsOut: -1,
		Timestamp:   trade.Timestamp,
		Confidence:  domain.ConfidenceHigh,
	}
	r.dispatchDEX(ctx, ev)
}

// dispatchDEX values the event and fans it out.
func (r *Runner) dispatchDEX(ctx context.Context, ev *domain.SemanticEvent) {
	if ev.Kind == domain.EventUnknown {
		r.metrics.EventsDecoded.WithLabelValues("unknown").Inc()
		return
	}
	r.metrics.EventsDecoded.WithLabelValues(ev.Kind.String()).Inc()

	var pool *domain.Pool
	if ev.PoolID != "" {
		pool = r.registry.Get(ev.PoolID)
	}

	switch ev.Kind {
	case domain.EventSwap:
		ev.USDValue = r.valuer.ValueTrade(ev, pool)
	case domain.EventLpAdd, domain.EventLpRemove:
		ev.USDValue = r.valuer.ValueLP(ev, pool)
	}

	sent := r.fanout.Dispatch(ctx, ev, pool)
	if sent > 0 {
		r.metrics.AlertsSent.Add(float64(sent))
	}
}

// HandleWalletFrame processes one raw frame from the wallet feed. The
// frame is a JSON-RPC logsNotification; its logs classify the activity
// and its signature dedups against the wallet set only.
func (r *Runner) HandleWalletFrame(raw []byte) {
	defer r.recover("wallet frame")

	notif, ok := parseLogsNotification(raw)
	if !ok || notif.Signature == "" {
		return
	}
	if notif.Err != nil {
		return // failed transactions never alert
	}

	var wallet string
	if r.wallets != nil {
		wallet = r.wallets.WalletForSubscription(notif.Subscription)
		if wallet != "" && r.wallets.IsDropped(wallet) {
			return
		}
	}

	ctx := context.Background()
	if !r.seen.CheckAndAdd(ctx, seen.SourceWallet, notif.Signature) {
		r.metrics.DedupHits.Inc()
		return
	}

	ev := r.decoder.DecodeLogs(notif.Signature, notif.Logs, nil, 0)
	walletEv := &domain.SemanticEvent{
		Kind:       domain.EventWalletActivity,
		Wallet:     wallet,
		Sig:        notif.Signature,
		USDValue:   ev.USDValue,
		Timestamp:  ev.Timestamp,
		Confidence: ev.Confidence,
		PoolID:     ev.PoolID,
	}
	if walletEv.USDValue == 0 && wallet != "" {
		walletEv.USDValue = r.valueWalletTx(ctx, wallet, notif.Signature)
	}
	r.metrics.EventsDecoded.WithLabelValues(walletEv.Kind.String()).Inc()

	sent := r.fanout.Dispatch(ctx, walletEv, nil)
	if sent > 0 {
		r.metrics.AlertsSent.Add(float64(sent))
	}
}

// valueWalletTx fetches the parsed transaction and prices the wallet's
// balance deltas: native lamports plus every token transfer, halved when
// both sides of a swap are observed.
func (r *Runner) valueWalletTx(ctx context.Context, wallet, sig string) float64 {
	if r.chain == nil {
		return 0
	}
	tx, err := r.chain.GetTransaction(ctx, sig)
	if err != nil || tx == nil || tx.Meta == nil {
		return 0
	}

	var lamportsDelta int64
	for i, key := range tx.Transaction.Message.AccountKeys {
		if key.Pubkey != wallet {
			continue
		}
		if i < len(tx.Meta.PreBalances) && i < len(tx.Meta.PostBalances) {
			lamportsDelta = int64(tx.Meta.PostBalances[i]) - int64(tx.Meta.PreBalances[i])
		}
		break
	}

	deltas := make(map[string]float64)
	for _, b := range tx.Meta.PreTokenBalances {
		if b.Owner == wallet {
			deltas[b.Mint] -= b.Amount.UIAmount()
		}
	}
	for _, b := range tx.Meta.PostTokenBalances {
		if b.Owner == wallet {
			deltas[b.Mint] += b.Amount.UIAmount()
		}
	}

	var transfers []valuation.TokenTransfer
	for mint, delta := range deltas {
		if delta == 0 {
			continue
		}
		transfers = append(transfers, valuation.TokenTransfer{
			Mint:     mint,
			Amount:   delta,
			Incoming: delta > 0,
		})
	}
	return r.valuer.ValueWalletTx(lamportsDelta, transfers)
}

func (r *Runner) recover(where string) {
	if rec := recover(); rec != nil {
		r.logger.Printf("panic in %s handler: %v", where, rec)
	}
}
