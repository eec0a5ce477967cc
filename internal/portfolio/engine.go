// Package portfolio assembles subscriber portfolio snapshots across
// wallets, with per-chat request coalescing.
package portfolio

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"dlmm-tracker/internal/cache"
	"dlmm-tracker/internal/decoder"
	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/registry"
	"dlmm-tracker/internal/resolver"
	"dlmm-tracker/internal/subscribers"
	"dlmm-tracker/internal/upstream/birdeye"
	"dlmm-tracker/internal/upstream/rpc"
	"dlmm-tracker/internal/valuation"
)

// Snapshot caps.
const (
	maxSnapshotTokens = 20
	maxSnapshotTrades = 100
	tradeScanDepth    = 50
	balanceCacheTTL   = 30 * time.Second
	lpValueSanityUSD  = 10_000_000
)

// ChainSource is the slice of the RPC client the engine needs.
type ChainSource interface {
	GetBalance(ctx context.Context, address string) (uint64, error)
	GetParsedTokenAccountsByOwner(ctx context.Context, owner string) ([]rpc.ParsedTokenAccount, error)
	GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]rpc.SignatureInfo, error)
	GetTransaction(ctx context.Context, signature string) (*rpc.ParsedTransaction, error)
}

// PnLSource is the aggregator's wallet view.
type PnLSource interface {
	WalletTokenList(ctx context.Context, wallet string) (*birdeye.WalletPortfolio, error)
}

// PriceSource is the slice of the price resolver the engine needs.
type PriceSource interface {
	Price(mint string) (float64, bool)
	NetworkTokenPrice() (float64, bool)
	LookupPrice(ctx context.Context, mint string) (float64, bool)
}

// MetaSource supplies symbols and names for holdings.
type MetaSource interface {
	Symbol(mint string) string
	Meta(mint string) (domain.TokenMeta, bool)
}

// Engine builds portfolio snapshots.
type Engine struct {
	chain    ChainSource
	pnl      PnLSource
	prices   PriceSource
	meta     MetaSource
	registry *registry.Registry
	decoder  *decoder.Decoder
	valuer   *valuation.Valuer
	subs     *subscribers.Registry
	stakes   *StakeScanner
	logger   *log.Logger

	balances *cache.Cache[walletBalances]

	inflightMu sync.Mutex
	inflight   map[int64]*syncCall
}

// syncCall is one in-progress sync; concurrent callers join it.
type syncCall struct {
	done chan struct{}
	snap *domain.PortfolioSnapshot
	err  error
}

// Options configures an Engine.
type Options struct {
	Chain       ChainSource
	PnL         PnLSource
	Prices      PriceSource
	Meta        MetaSource
	Registry    *registry.Registry
	Decoder     *decoder.Decoder
	Valuer      *valuation.Valuer
	Subscribers *subscribers.Registry
	Stakes      *StakeScanner
	Logger      *log.Logger
}

// NewEngine creates an Engine.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		chain:    opts.Chain,
		pnl:      opts.PnL,
		prices:   opts.Prices,
		meta:     opts.Meta,
		registry: opts.Registry,
		decoder:  opts.Decoder,
		valuer:   opts.Valuer,
		subs:     opts.Subscribers,
		stakes:   opts.Stakes,
		logger:   logger,
		balances: cache.New[walletBalances](0, balanceCacheTTL),
		inflight: make(map[int64]*syncCall),
	}
}

// PruneCaches sweeps expired balance and stake cache entries; driven by
// the scheduler's cache-prune job.
func (e *Engine) PruneCaches() {
	e.balances.Prune()
	if e.stakes != nil {
		e.stakes.Prune()
	}
}

// walletBalances is the cached balance fetch for one wallet.
type walletBalances struct {
	lamports uint64
	tokens   []rpc.ParsedTokenAccount
}

// walletData is everything fetched for one wallet before aggregation.
type walletData struct {
	wallet   string
	balances walletBalances
	trades   []domain.PortfolioTrade
	lp       []domain.LpPosition
	tokens   []domain.TokenHolding
	staked   []domain.StakedPosition
	agg      *birdeye.WalletPortfolio
}

// Sync assembles the subscriber's snapshot. Concurrent calls for the same
// chat id coalesce onto one in-flight computation. Returns nil when the
// subscriber has no portfolio wallets.
func (e *Engine) Sync(ctx context.Context, chatID int64) (*domain.PortfolioSnapshot, error) {
	sub, ok := e.subs.Get(chatID)
	if !ok || len(sub.PortfolioWallets) == 0 {
		return nil, nil
	}
	wallets := dedupeWallets(sub.PortfolioWallets)

	e.inflightMu.Lock()
	if call, running := e.inflight[chatID]; running {
		e.inflightMu.Unlock()
		select {
		case <-call.done:
			return call.snap, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &syncCall{done: make(chan struct{})}
	e.inflight[chatID] = call
	e.inflightMu.Unlock()

	call.snap, call.err = e.doSync(ctx, chatID, wallets)
	close(call.done)

	e.inflightMu.Lock()
	delete(e.inflight, chatID)
	e.inflightMu.Unlock()

	return call.snap, call.err
}

// doSync fetches every wallet in parallel and aggregates.
func (e *Engine) doSync(ctx context.Context, chatID int64, wallets []string) (*domain.PortfolioSnapshot, error) {
	data := make([]*walletData, len(wallets))
	var wg sync.WaitGroup
	for i, w := range wallets {
		wg.Add(1)
		go func(i int, wallet string) {
			defer wg.Done()
			data[i] = e.fetchWallet(ctx, wallet)
		}(i, w)
	}
	wg.Wait()

	// Staked positions per wallet, also in parallel.
	if e.stakes != nil {
		wg = sync.WaitGroup{}
		for _, d := range data {
			wg.Add(1)
			go func(d *walletData) {
				defer wg.Done()
				d.staked = e.stakes.Positions(ctx, d.wallet)
			}(d)
		}
		wg.Wait()
	}

	snap := e.aggregate(data)

	// last_sync never decreases.
	now := time.Now().UnixMilli()
	e.subs.Mutate(chatID, func(s *domain.Subscriber) {
		if s.Portfolio != nil && s.Portfolio.LastSync > now {
			snap.LastSync = s.Portfolio.LastSync
		} else {
			snap.LastSync = now
		}
		s.Portfolio = snap
	})
	return snap, nil
}

// fetchWallet runs the balance, trade and aggregator sub-fetches
// concurrently, then classifies LP holdings from the fetched balances.
func (e *Engine) fetchWallet(ctx context.Context, wallet string) *walletData {
	d := &walletData{wallet: wallet}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		d.balances = e.fetchBalances(ctx, wallet)
	}()
	go func() {
		defer wg.Done()
		d.trades = e.fetchTrades(ctx, wallet)
	}()
	go func() {
		defer wg.Done()
		if e.pnl == nil {
			return
		}
		agg, err := e.pnl.WalletTokenList(ctx, wallet)
		if err != nil {
			e.logger.Printf("aggregator portfolio for %s failed: %v", wallet, err)
			return
		}
		d.agg = agg
	}()
	wg.Wait()

	// LP classification needs the balance fetch, so it runs after.
	d.tokens, d.lp = e.classifyHoldings(ctx, d.balances.tokens)
	return d
}

func (e *Engine) fetchBalances(ctx context.Context, wallet string) walletBalances {
	if cached, ok := e.balances.Get(wallet); ok {
		return cached
	}

	var out walletBalances
	lamports, err := e.chain.GetBalance(ctx, wallet)
	if err != nil {
		e.logger.Printf("balance fetch %s failed: %v", wallet, err)
	} else {
		out.lamports = lamports
	}
	tokens, err := e.chain.GetParsedTokenAccountsByOwner(ctx, wallet)
	if err != nil {
		e.logger.Printf("token accounts %s failed: %v", wallet, err)
	} else {
		out.tokens = tokens
	}

	e.balances.Set(wallet, out)
	return out
}

// classifyHoldings splits token accounts into plain holdings and LP
// positions. A mint matching a pool's LP mint is authoritative; the
// symbol/name heuristic is the fallback and carries a value sanity cap.
func (e *Engine) classifyHoldings(ctx context.Context, accounts []rpc.ParsedTokenAccount) ([]domain.TokenHolding, []domain.LpPosition) {
	snap := e.registry.Snapshot()
	var tokens []domain.TokenHolding
	var lps []domain.LpPosition

	for _, acc := range accounts {
		if acc.Amount <= 0 {
			continue
		}

		if pool, ok := snap.ByLPMint[acc.Mint]; ok {
			lps = append(lps, domain.LpPosition{
				PoolID:   pool.ID,
				PairName: pool.PairName,
				Mint:     acc.Mint,
				Balance:  acc.Amount,
				ValueUSD: e.lpValue(acc, pool),
			})
			continue
		}

		symbol := e.meta.Symbol(acc.Mint)
		name := ""
		if meta, ok := e.meta.Meta(acc.Mint); ok {
			name = meta.Name
		}
		if looksLikeLPToken(symbol, name) {
			value := e.holdingValue(ctx, acc)
			if value < lpValueSanityUSD {
				lps = append(lps, domain.LpPosition{
					PairName: symbol,
					Mint:     acc.Mint,
					Balance:  acc.Amount,
					ValueUSD: value,
				})
				continue
			}
		}

		price, _ := e.prices.Price(acc.Mint)
		tokens = append(tokens, domain.TokenHolding{
			Mint:     acc.Mint,
			Symbol:   symbol,
			Balance:  acc.Amount,
			Decimals: acc.Decimals,
			PriceUSD: price,
			ValueUSD: acc.Amount * price,
		})
	}
	return tokens, lps
}

// lpValue prices an LP share from the price table. Pools without a known
// positive TVL value the share at 0.
func (e *Engine) lpValue(acc rpc.ParsedTokenAccount, pool *domain.Pool) float64 {
	if pool.TVL == nil || *pool.TVL <= 0 {
		return 0
	}
	// Without the LP supply on hand, a share's USD value falls back to the
	// price table; the resolver caches LP mints priced by the aggregator.
	if price, ok := e.prices.Price(acc.Mint); ok {
		return acc.Amount * price
	}
	return 0
}

func (e *Engine) holdingValue(ctx context.Context, acc rpc.ParsedTokenAccount) float64 {
	if price, ok := e.prices.Price(acc.Mint); ok {
		return acc.Amount * price
	}
	if price, ok := e.prices.LookupPrice(ctx, acc.Mint); ok {
		return acc.Amount * price
	}
	return 0
}

// looksLikeLPToken is the lossy fallback for pools that do not expose an
// LP mint.
func looksLikeLPToken(symbol, name string) bool {
	sym := strings.ToUpper(symbol)
	if sym == "LP" || strings.HasSuffix(sym, "-LP") || strings.HasPrefix(sym, "LP-") {
		return true
	}
	return strings.Contains(strings.ToLower(name), "liquidity")
}

// fetchTrades scans the wallet's recent transactions for DEX trades.
func (e *Engine) fetchTrades(ctx context.Context, wallet string) []domain.PortfolioTrade {
	sigs, err := e.chain.GetSignaturesForAddress(ctx, wallet, tradeScanDepth)
	if err != nil {
		e.logger.Printf("signatures for %s failed: %v", wallet, err)
		return nil
	}

	var trades []domain.PortfolioTrade
	for _, sig := range sigs {
		if sig.Err != nil {
			continue
		}
		tx, err := e.chain.GetTransaction(ctx, sig.Signature)
		if err != nil || tx == nil || tx.Meta == nil {
			continue
		}
		keys := tx.AccountKeys()
		if !e.registry.IsDEXTransaction(keys) {
			continue
		}

		ev := e.decoder.DecodeLogs(sig.Signature, tx.Meta.LogMessages, keys, tx.BlockTime)
		if ev.Kind != domain.EventSwap {
			continue
		}

		pool := e.registry.Get(ev.PoolID)
		usd := e.valuer.ValueTrade(ev, pool)
		if usd == 0 {
			usd = e.walletTxValue(tx, wallet)
		}

		pairName := ""
		if pool != nil {
			pairName = pool.PairName
		}
		trades = append(trades, domain.PortfolioTrade{
			Sig:       sig.Signature,
			PoolID:    ev.PoolID,
			PairName:  pairName,
			Wallet:    wallet,
			IsBuy:     e.isBuy(ev, pool, tx, wallet),
			USDValue:  usd,
			Timestamp: tx.BlockTime * 1000,
		})
	}
	return trades
}

// isBuy prefers the decoder's direction; without one, a growing base
// balance marks a buy.
func (e *Engine) isBuy(ev *domain.SemanticEvent, pool *domain.Pool, tx *rpc.ParsedTransaction, wallet string) bool {
	if ev.Direction == domain.DirectionBuy {
		return true
	}
	if ev.Direction == domain.DirectionSell {
		return false
	}
	if pool != nil {
		return tokenDelta(tx, wallet, pool.BaseMint) > 0
	}
	return false
}

// walletTxValue values a transaction from the wallet's balance deltas.
func (e *Engine) walletTxValue(tx *rpc.ParsedTransaction, wallet string) float64 {
	var transfers []valuation.TokenTransfer
	mints := make(map[string]bool)
	for _, b := range tx.Meta.PreTokenBalances {
		if b.Owner == wallet {
			mints[b.Mint] = true
		}
	}
	for _, b := range tx.Meta.PostTokenBalances {
		if b.Owner == wallet {
			mints[b.Mint] = true
		}
	}
	for mint := range mints {
		delta := tokenDelta(tx, wallet, mint)
		if delta == 0 {
			continue
		}
		transfers = append(transfers, valuation.TokenTransfer{
			Mint:     mint,
			Amount:   delta,
			Incoming: delta > 0,
		})
	}
	return e.valuer.ValueWalletTx(0, transfers)
}

// aggregate merges per-wallet data into one snapshot.
func (e *Engine) aggregate(data []*walletData) *domain.PortfolioSnapshot {
	snap := &domain.PortfolioSnapshot{
		WalletCount: len(data),
		PerWallet:   make(map[string]domain.WalletBreakdown, len(data)),
	}

	solPrice, _ := e.prices.NetworkTokenPrice()
	tokensByMint := make(map[string]domain.TokenHolding)

	for _, d := range data {
		if d == nil {
			continue
		}
		bd := domain.WalletBreakdown{Wallet: d.wallet}

		bd.SolBalance = float64(d.balances.lamports) / 1e9
		bd.SolValueUSD = bd.SolBalance * solPrice

		for _, tok := range d.tokens {
			bd.TokenValueUSD += tok.ValueUSD
			merged := tokensByMint[tok.Mint]
			merged.Mint, merged.Symbol, merged.Decimals, merged.PriceUSD = tok.Mint, tok.Symbol, tok.Decimals, tok.PriceUSD
			merged.Balance += tok.Balance
			merged.ValueUSD += tok.ValueUSD
			tokensByMint[tok.Mint] = merged
		}
		for _, lp := range d.lp {
			bd.LpValueUSD += lp.ValueUSD
		}
		for _, st := range d.staked {
			bd.StakedValueUSD += st.ValueUSD
		}

		buys, sells := countSides(d.trades)
		bd.TradeCount = len(d.trades)
		bd.BuyCount = buys
		bd.SellCount = sells

		// Aggregator PnL wins when present; trade history is the fallback.
		if d.agg != nil && d.agg.RealizedPnlUSD != nil {
			bd.RealizedPnlUSD = *d.agg.RealizedPnlUSD
		} else {
			bd.RealizedPnlUSD = RealizedPnL(d.trades)
		}
		if d.agg != nil && d.agg.UnrealizedPnlUSD != nil {
			bd.UnrealizedPnlUSD = *d.agg.UnrealizedPnlUSD
		}

		bd.WalletValueUSD = bd.SolValueUSD + bd.TokenValueUSD + bd.LpValueUSD

		snap.SolBalance += bd.SolBalance
		snap.SolValueUSD += bd.SolValueUSD
		snap.TokenValueUSD += bd.TokenValueUSD
		snap.LpValueUSD += bd.LpValueUSD
		snap.StakedValueUSD += bd.StakedValueUSD
		snap.TradeCount += bd.TradeCount
		snap.BuyCount += bd.BuyCount
		snap.SellCount += bd.SellCount
		snap.RealizedPnlUSD += bd.RealizedPnlUSD
		snap.UnrealizedPnlUSD += bd.UnrealizedPnlUSD

		snap.LpPositions = append(snap.LpPositions, d.lp...)
		snap.StakedPositions = append(snap.StakedPositions, d.staked...)
		snap.Trades = append(snap.Trades, d.trades...)

		snap.PerWallet[d.wallet] = bd
	}

	for _, t := range snap.Trades {
		snap.TotalVolumeUSD += t.USDValue
	}

	// Tokens: top N by USD value.
	for _, tok := range tokensByMint {
		snap.Tokens = append(snap.Tokens, tok)
	}
	sort.Slice(snap.Tokens, func(i, j int) bool {
		return snap.Tokens[i].ValueUSD > snap.Tokens[j].ValueUSD
	})
	if len(snap.Tokens) > maxSnapshotTokens {
		snap.Tokens = snap.Tokens[:maxSnapshotTokens]
	}

	// Trades: newest first, capped.
	sort.Slice(snap.Trades, func(i, j int) bool {
		return snap.Trades[i].Timestamp > snap.Trades[j].Timestamp
	})
	if len(snap.Trades) > maxSnapshotTrades {
		snap.Trades = snap.Trades[:maxSnapshotTrades]
	}

	snap.TotalValueUSD = snap.SolValueUSD + snap.TokenValueUSD + snap.LpValueUSD + snap.StakedValueUSD
	return snap
}

// dedupeWallets preserves order while dropping duplicates.
func dedupeWallets(wallets []string) []string {
	seen := make(map[string]bool, len(wallets))
	out := make([]string, 0, len(wallets))
	for _, w := range wallets {
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) == domain.DefaultMaxPortfolioWallets {
			break
		}
	}
	return out
}

// Ensure the resolver satisfies the engine interfaces.
var (
	_ PriceSource = (*resolver.PriceResolver)(nil)
	_ MetaSource  = (*resolver.MetaResolver)(nil)
)
