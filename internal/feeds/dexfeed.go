// Package feeds owns the two long-lived WebSocket sessions: the DEX event
// feed and the wallet log feed.
package feeds

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"dlmm-tracker/internal/registry"
)

// Reconnect/backoff parameters shared by both feeds.
const (
	DefaultReconnectBase = 15 * time.Second
	MaxReconnectDelay    = 5 * time.Minute
	pingInterval         = 30 * time.Second
	writeTimeout         = 10 * time.Second
	readTimeout          = 90 * time.Second
	handshakeTimeout     = 10 * time.Second
)

// Handler consumes one raw frame from a feed.
type Handler func(raw []byte)

// TicketSource issues short-lived WebSocket auth tickets.
type TicketSource interface {
	WSTicket(ctx context.Context) (string, error)
}

// subscribeMsg is the per-pool subscription request.
type subscribeMsg struct {
	Type  string `json:"type"`
	Pool  string `json:"pool"`
	Limit int    `json:"limit"`
}

// DEXFeed maintains the authenticated DEX event stream, subscribing to
// every pool in the registry snapshot.
type DEXFeed struct {
	wsURL    string
	tickets  TicketSource
	registry *registry.Registry
	handler  Handler
	base     time.Duration
	logger   *log.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	connected   atomic.Bool
	closedSince atomic.Int64 // unix ms of last disconnect, 0 while open

	wg sync.WaitGroup
}

// DEXFeedOptions configures a DEXFeed.
type DEXFeedOptions struct {
	WSURL         string
	Tickets       TicketSource
	Registry      *registry.Registry
	Handler       Handler
	ReconnectBase time.Duration
	Logger        *log.Logger
}

// NewDEXFeed creates the feed; Run starts it.
func NewDEXFeed(opts DEXFeedOptions) *DEXFeed {
	base := opts.ReconnectBase
	if base <= 0 {
		base = DefaultReconnectBase
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	f := &DEXFeed{
		wsURL:    opts.WSURL,
		tickets:  opts.Tickets,
		registry: opts.Registry,
		handler:  opts.Handler,
		base:     base,
		logger:   logger,
	}
	f.closedSince.Store(time.Now().UnixMilli())
	return f
}

// IsConnected reports whether the socket is currently open.
func (f *DEXFeed) IsConnected() bool { return f.connected.Load() }

// ClosedFor returns how long the feed has been down; 0 while connected.
func (f *DEXFeed) ClosedFor() time.Duration {
	since := f.closedSince.Load()
	if since == 0 {
		return 0
	}
	return time.Since(time.UnixMilli(since))
}

// Run drives the connect/read/reconnect loop until ctx is cancelled.
// A successful open resets the backoff attempt counter.
func (f *DEXFeed) Run(ctx context.Context) {
	f.wg.Add(1)
	go f.pingLoop(ctx)

	attempts := 0
	for ctx.Err() == nil {
		if err := f.connect(ctx); err != nil {
			f.logger.Printf("dex feed connect failed: %v", err)
			attempts++
			if !sleepCtx(ctx, backoff(f.base, attempts)) {
				break
			}
			continue
		}

		attempts = 0
		f.connected.Store(true)
		f.closedSince.Store(0)
		f.subscribeAll()

		f.readLoop(ctx)

		f.connected.Store(false)
		f.closedSince.Store(time.Now().UnixMilli())
		f.closeConn()

		if ctx.Err() != nil {
			break
		}
		attempts++
		if !sleepCtx(ctx, backoff(f.base, attempts)) {
			break
		}
	}

	f.closeConn()
	f.wg.Wait()
}

// connect fetches a ticket and dials the socket.
func (f *DEXFeed) connect(ctx context.Context) error {
	ticket, err := f.tickets.WSTicket(ctx)
	if err != nil {
		return fmt.Errorf("fetch ticket: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.wsURL+"?ticket="+ticket, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	return nil
}

// subscribeAll sends one subscribe message per pool in the snapshot. A
// failed send is dropped silently; the next reconnect re-subscribes.
func (f *DEXFeed) subscribeAll() {
	snap := f.registry.Snapshot()
	for _, pool := range snap.Pools {
		f.Subscribe(pool.ID)
	}
	f.logger.Printf("dex feed subscribed to %d pools", len(snap.Pools))
}

// Subscribe sends one pool subscription. Safe to call from the registry
// refresh path while the reader owns the socket.
func (f *DEXFeed) Subscribe(poolID string) {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	// Errors are intentionally dropped; reconnect re-subscribes all pools.
	_ = f.conn.WriteJSON(subscribeMsg{Type: "subscribe", Pool: poolID, Limit: 10})
}

// readLoop delivers frames to the handler until the socket fails.
func (f *DEXFeed) readLoop(ctx context.Context) {
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
				f.logger.Printf("dex feed read error: %v", err)
			}
			return
		}
		f.handler(raw)
	}
}

// pingLoop keeps the connection alive.
func (f *DEXFeed) pingLoop(ctx context.Context) {
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

func (f *DEXFeed) closeConn() {
	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connMu.Unlock()
}

// backoff returns min(base × 2^(attempts-1), MaxReconnectDelay).
func backoff(base time.Duration, attempts int) time.Duration {
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= MaxReconnectDelay {
			return MaxReconnectDelay
		}
	}
	if d > MaxReconnectDelay {
		return MaxReconnectDelay
	}
	return d
}

// sleepCtx sleeps unless ctx ends first; reports whether the full wait
// elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
