package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WalletSource supplies the union of wallets under subscription.
type WalletSource func() []string

// logsSubscribeRequest is the JSON-RPC subscription for one wallet.
type logsSubscribeRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// WalletFeed maintains one logsSubscribe per tracked wallet over the RPC
// WebSocket. The provider has no per-mention unsubscribe, so removed
// wallets are only marked dropped and filtered by the consumer.
type WalletFeed struct {
	wsURL   string
	wallets WalletSource
	handler Handler
	base    time.Duration
	logger  *log.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	subMu      sync.Mutex
	current    map[string]bool   // wallets with an active subscription
	dropped    map[string]bool   // unsubscribed upstream-irrevocably, filter downstream
	pending    map[uint64]string // request id -> wallet awaiting confirmation
	subWallets map[int64]string  // subscription id -> wallet

	requestID atomic.Uint64
	connected atomic.Bool
	kick      chan struct{} // wakes the run loop for an early reconnect

	wg sync.WaitGroup
}

// WalletFeedOptions configures a WalletFeed.
type WalletFeedOptions struct {
	WSURL         string
	Wallets       WalletSource
	Handler       Handler
	ReconnectBase time.Duration
	Logger        *log.Logger
}

// NewWalletFeed creates the feed; Run starts it.
func NewWalletFeed(opts WalletFeedOptions) *WalletFeed {
	base := opts.ReconnectBase
	if base <= 0 {
		base = DefaultReconnectBase
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &WalletFeed{
		wsURL:      opts.WSURL,
		wallets:    opts.Wallets,
		handler:    opts.Handler,
		base:       base,
		logger:     logger,
		current:    make(map[string]bool),
		dropped:    make(map[string]bool),
		pending:    make(map[uint64]string),
		subWallets: make(map[int64]string),
		kick:       make(chan struct{}, 1),
	}
}

// SetHandler attaches the frame consumer. Must be called before Run; the
// feed and its consumer reference each other, so construction is two-step.
func (f *WalletFeed) SetHandler(h Handler) { f.handler = h }

// IsConnected reports whether the socket is currently open.
func (f *WalletFeed) IsConnected() bool { return f.connected.Load() }

// IsDropped reports whether a wallet was removed from tracking and its
// residual notifications should be filtered.
func (f *WalletFeed) IsDropped(wallet string) bool {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	return f.dropped[wallet]
}

// Run drives the connect/read/reconnect loop until ctx is cancelled.
func (f *WalletFeed) Run(ctx context.Context) {
	f.wg.Add(1)
	go f.pingLoop(ctx)

	attempts := 0
	for ctx.Err() == nil {
		if err := f.connect(ctx); err != nil {
			f.logger.Printf("wallet feed connect failed: %v", err)
			attempts++
			if !f.waitRetry(ctx, backoff(f.base, attempts)) {
				break
			}
			continue
		}

		attempts = 0
		f.connected.Store(true)
		f.resubscribeAll()

		f.readLoop(ctx)

		f.connected.Store(false)
		f.closeConn()

		if ctx.Err() != nil {
			break
		}
		attempts++
		if !f.waitRetry(ctx, backoff(f.base, attempts)) {
			break
		}
	}

	f.closeConn()
	f.wg.Wait()
}

// Refresh reconciles subscriptions with the current wallet set. Only
// deltas are sent: new wallets are subscribed, removed ones marked
// dropped. A refresh while the socket is down requests a reconnect.
func (f *WalletFeed) Refresh() {
	if !f.connected.Load() {
		select {
		case f.kick <- struct{}{}:
		default:
		}
		return
	}

	desired := make(map[string]bool)
	for _, w := range f.wallets() {
		desired[w] = true
	}

	f.subMu.Lock()
	var added []string
	for w := range desired {
		if !f.current[w] {
			f.current[w] = true
			delete(f.dropped, w)
			added = append(added, w)
		}
	}
	for w := range f.current {
		if !desired[w] {
			delete(f.current, w)
			f.dropped[w] = true
		}
	}
	f.subMu.Unlock()

	for _, w := range added {
		f.subscribeWallet(w)
	}
}

// resubscribeAll reinitializes every subscription after (re)connect.
func (f *WalletFeed) resubscribeAll() {
	wallets := f.wallets()

	f.subMu.Lock()
	f.current = make(map[string]bool, len(wallets))
	f.dropped = make(map[string]bool)
	f.pending = make(map[uint64]string)
	f.subWallets = make(map[int64]string)
	for _, w := range wallets {
		f.current[w] = true
	}
	f.subMu.Unlock()

	for _, w := range wallets {
		f.subscribeWallet(w)
	}
	f.logger.Printf("wallet feed subscribed to %d wallets", len(wallets))
}

// subscribeWallet sends one logsSubscribe. Send errors are dropped; the
// next reconnect reinitializes all subscriptions.
func (f *WalletFeed) subscribeWallet(wallet string) {
	reqID := f.requestID.Add(1)
	req := logsSubscribeRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "logsSubscribe",
		Params: []interface{}{
			map[string][]string{"mentions": {wallet}},
			map[string]string{"commitment": "confirmed"},
		},
	}

	f.subMu.Lock()
	f.pending[reqID] = wallet
	f.subMu.Unlock()

	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := f.conn.WriteJSON(req); err != nil {
		f.logger.Printf("wallet subscribe %s failed: %v", wallet, err)
	}
}

func (f *WalletFeed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	return nil
}

func (f *WalletFeed) readLoop(ctx context.Context) {
	for ctx.Err() == nil {
		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				f.logger.Printf("wallet feed read error: %v", err)
			}
			return
		}
		if f.handleSubscribeResponse(raw) {
			continue
		}
		f.handler(raw)
	}
}

// subscribeResponse is the confirmation frame for a logsSubscribe.
type subscribeResponse struct {
	ID     uint64 `json:"id"`
	Result int64  `json:"result"`
}

// handleSubscribeResponse records the subscription id → wallet mapping.
// Returns true when the frame was a confirmation and should not be
// forwarded to the consumer.
func (f *WalletFeed) handleSubscribeResponse(raw []byte) bool {
	var resp subscribeResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.ID == 0 || resp.Result == 0 {
		return false
	}

	f.subMu.Lock()
	defer f.subMu.Unlock()
	wallet, ok := f.pending[resp.ID]
	if !ok {
		return false
	}
	delete(f.pending, resp.ID)
	f.subWallets[resp.Result] = wallet
	return true
}

// WalletForSubscription resolves a notification's subscription id to the
// wallet it tracks.
func (f *WalletFeed) WalletForSubscription(subID int64) string {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	return f.subWallets[subID]
}

func (f *WalletFeed) pingLoop(ctx context.Context) {
	defer f.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.connMu.Lock()
			if f.conn != nil {
				f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				_ = f.conn.WriteMessage(websocket.PingMessage, nil)
			}
			f.connMu.Unlock()
		}
	}
}

// waitRetry sleeps for the backoff or returns early on a Refresh kick.
func (f *WalletFeed) waitRetry(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-f.kick:
		return true
	case <-time.After(d):
		return true
	}
}

func (f *WalletFeed) closeConn() {
	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connMu.Unlock()
}
