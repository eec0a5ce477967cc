// Package seen tracks already-alerted transaction signatures.
//
// The tracker keeps two disjoint sets: a transaction may be relevant both
// as a pool trade and as a wallet movement, and one set would suppress the
// second alert class. Entries are mirrored to a durable store so restarts
// do not re-alert within the retention horizon.
package seen

import (
	"context"
	"log"
	"sync"
	"time"

	"dlmm-tracker/internal/storage"
)

// Source distinguishes the two dedup sets.
type Source string

const (
	SourceDEX    Source = "dex"
	SourceWallet Source = "wallet"
)

// RetentionHorizon is how long a signature suppresses duplicates.
const RetentionHorizon = 24 * time.Hour

// defaultCap bounds each in-memory set; on overflow the most recently
// added half is retained.
const defaultCap = 100_000

type set struct {
	mu      sync.Mutex
	entries map[string]struct{}
	order   []string // insertion order, oldest first
	cap     int
}

func newSet(cap int) *set {
	return &set{
		entries: make(map[string]struct{}, cap/4),
		cap:     cap,
	}
}

// checkAndAdd returns true when sig was absent and is now recorded.
func (s *set) checkAndAdd(sig string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[sig]; ok {
		return false
	}
	s.entries[sig] = struct{}{}
	s.order = append(s.order, sig)

	if len(s.order) > s.cap {
		drop := len(s.order) / 2
		for _, old := range s.order[:drop] {
			delete(s.entries, old)
		}
		s.order = append([]string(nil), s.order[drop:]...)
	}
	return true
}

func (s *set) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Tracker owns both dedup sets and the durable mirror.
type Tracker struct {
	dex    *set
	wallet *set
	store  storage.SeenTxStore
	logger *log.Logger
}

// Options configures a Tracker.
type Options struct {
	Capacity int
	Store    storage.SeenTxStore // optional; nil disables the mirror
	Logger   *log.Logger
}

// NewTracker creates a tracker with empty sets.
func NewTracker(opts Options) *Tracker {
	cap := opts.Capacity
	if cap <= 0 {
		cap = defaultCap
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{
		dex:    newSet(cap),
		wallet: newSet(cap),
		store:  opts.Store,
		logger: logger,
	}
}

// WarmStart loads the last retention horizon from the durable mirror.
func (t *Tracker) WarmStart(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	entries, err := t.store.LoadSince(ctx, time.Now().Add(-RetentionHorizon))
	if err != nil {
		return err
	}
	for _, e := range entries {
		t.setFor(Source(e.Source)).checkAndAdd(e.Sig)
	}
	t.logger.Printf("seen-tx warm start: %d dex, %d wallet", t.dex.len(), t.wallet.len())
	return nil
}

// CheckAndAdd returns true when the signature is new for the source. New
// signatures are recorded in memory first and then mirrored durably, so a
// concurrent second arrival short-circuits before any fan-out happens.
func (t *Tracker) CheckAndAdd(ctx context.Context, source Source, sig string) bool {
	if sig == "" {
		return false
	}
	if !t.setFor(source).checkAndAdd(sig) {
		return false
	}
	if t.store != nil {
		err := t.store.Insert(ctx, storage.SeenTx{
			Sig:     sig,
			Source:  string(source),
			AddedAt: time.Now(),
		})
		if err != nil {
			// Memory still suppresses duplicates for this process.
			t.logger.Printf("seen-tx mirror write failed: %v", err)
		}
	}
	return true
}

// Contains reports membership without inserting.
func (t *Tracker) Contains(source Source, sig string) bool {
	s := t.setFor(source)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[sig]
	return ok
}

// Prune removes durable rows past the retention horizon.
func (t *Tracker) Prune(ctx context.Context) {
	if t.store == nil {
		return
	}
	removed, err := t.store.DeleteBefore(ctx, time.Now().Add(-RetentionHorizon))
	if err != nil {
		t.logger.Printf("seen-tx prune failed: %v", err)
		return
	}
	if removed > 0 {
		t.logger.Printf("seen-tx prune: removed %d rows", removed)
	}
}

func (t *Tracker) setFor(source Source) *set {
	if source == SourceWallet {
		return t.wallet
	}
	return t.dex
}
