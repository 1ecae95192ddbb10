// Package usage buffers per-item usage counters and flushes them to the
// knowledge store.
//
// Loads and citations arrive on the request path, so the tracker only
// touches an in-memory map there. A periodic flush pushes accumulated
// deltas to the store as additive updates with exponential backoff; when
// a flush fails the delta is merged back into the buffer, so counters
// are delivered at least once and never decremented or dropped.
package usage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
)

// ErrNilStore indicates the tracker was constructed without a store.
var ErrNilStore = errors.New("store cannot be nil")

const (
	// defaultPrefixCacheSize bounds the short-id resolution cache.
	defaultPrefixCacheSize = 4096

	// defaultFlushMaxTries bounds backoff attempts within one flush. The
	// buffer keeps the delta across flushes, so a small bound is enough.
	defaultFlushMaxTries = 3

	// defaultFlushTimeout bounds a single flush attempt end to end.
	defaultFlushTimeout = 30 * time.Second
)

// Tracker accumulates usage deltas keyed by full item identifier.
// All public methods are safe for concurrent use.
type Tracker struct {
	store  knowledge.Store
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]*knowledge.UsageDelta

	// prefixes maps 8-char short identifiers to full identifiers. Seeded
	// on load so the common case never touches the store.
	prefixes *lru.Cache[string, string]

	maxTries     uint
	flushTimeout time.Duration
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithPrefixCacheSize sets the short-id resolution cache capacity.
func WithPrefixCacheSize(n int) TrackerOption {
	return func(t *Tracker) {
		if n > 0 {
			c, err := lru.New[string, string](n)
			if err == nil {
				t.prefixes = c
			}
		}
	}
}

// WithFlushMaxTries sets the backoff attempt bound per flush.
func WithFlushMaxTries(n uint) TrackerOption {
	return func(t *Tracker) {
		if n > 0 {
			t.maxTries = n
		}
	}
}

// WithFlushTimeout bounds one flush attempt.
func WithFlushTimeout(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.flushTimeout = d
		}
	}
}

// NewTracker creates a tracker flushing into the given store.
func NewTracker(store knowledge.Store, logger *zap.Logger, opts ...TrackerOption) (*Tracker, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, err := lru.New[string, string](defaultPrefixCacheSize)
	if err != nil {
		return nil, fmt.Errorf("prefix cache: %w", err)
	}

	t := &Tracker{
		store:        store,
		logger:       logger,
		pending:      make(map[string]*knowledge.UsageDelta),
		prefixes:     cache,
		maxTries:     defaultFlushMaxTries,
		flushTimeout: defaultFlushTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// RecordLoaded counts one context-window injection per identifier and
// seeds the prefix cache so later citations resolve without a store call.
func (t *Tracker) RecordLoaded(ids ...string) {
	if len(ids) == 0 {
		return
	}

	t.mu.Lock()
	for _, id := range ids {
		if id == "" {
			continue
		}
		t.delta(id).Loaded++
	}
	t.mu.Unlock()

	for _, id := range ids {
		if short := knowledge.ShortID(id); short != id {
			t.prefixes.Add(short, id)
		}
	}
	bufferedLoads.Add(float64(len(ids)))
}

// RecordReferenced counts one citation of the item with the given full
// identifier.
func (t *Tracker) RecordReferenced(id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	t.delta(id).Referenced++
	t.mu.Unlock()
	bufferedReferences.Inc()
}

// RecordFeedback counts one explicit helpful or harmful signal.
func (t *Tracker) RecordFeedback(id string, helpful bool) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if helpful {
		t.delta(id).Helpful++
	} else {
		t.delta(id).Harmful++
	}
}

// delta returns the pending delta for id, creating it if needed.
// Callers hold t.mu.
func (t *Tracker) delta(id string) *knowledge.UsageDelta {
	d, ok := t.pending[id]
	if !ok {
		d = &knowledge.UsageDelta{ID: id}
		t.pending[id] = d
	}
	return d
}

// RecordCitations resolves cited short identifiers to full identifiers
// and counts each as referenced. Prefixes that resolve nowhere are
// skipped: the item may have been retired since it was injected. Returns
// how many citations were tracked.
func (t *Tracker) RecordCitations(ctx context.Context, prefixes []string) int {
	tracked := 0
	for _, prefix := range prefixes {
		id, err := t.Resolve(ctx, prefix)
		if err != nil {
			t.logger.Debug("citation prefix did not resolve",
				zap.String("prefix", prefix),
				zap.Error(err),
			)
			continue
		}
		t.RecordReferenced(id)
		tracked++
	}
	return tracked
}

// Resolve maps an 8-char short identifier to a full identifier, trying
// the seeded cache before the store.
func (t *Tracker) Resolve(ctx context.Context, prefix string) (string, error) {
	if full, ok := t.prefixes.Get(prefix); ok {
		return full, nil
	}
	full, err := t.store.ResolvePrefix(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("resolve prefix %q: %w", prefix, err)
	}
	t.prefixes.Add(prefix, full)
	return full, nil
}

// Pending returns the number of items with unflushed deltas.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Flush pushes all pending deltas to the store. The buffer is swapped
// under lock first, so counters recorded during the flush accumulate in
// a fresh map and are never lost. On failure the in-flight deltas merge
// back into the buffer for the next attempt.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	batch := t.pending
	t.pending = make(map[string]*knowledge.UsageDelta)
	t.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	deltas := make([]knowledge.UsageDelta, 0, len(batch))
	for _, d := range batch {
		if d.IsZero() {
			continue
		}
		deltas = append(deltas, *d)
	}
	if len(deltas) == 0 {
		return nil
	}
	// Deterministic order keeps store writes and logs reproducible.
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].ID < deltas[j].ID })

	ctx, cancel := context.WithTimeout(ctx, t.flushTimeout)
	defer cancel()

	op := func() (struct{}, error) {
		return struct{}{}, t.store.AddUsage(ctx, deltas)
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(t.maxTries),
	)
	if err != nil {
		t.restore(batch)
		flushesTotal.WithLabelValues("error").Inc()
		t.logger.Warn("usage flush failed, retaining deltas",
			zap.Int("items", len(deltas)),
			zap.Error(err),
		)
		return fmt.Errorf("flush usage deltas: %w", err)
	}

	flushesTotal.WithLabelValues("success").Inc()
	flushedDeltas.Add(float64(len(deltas)))
	t.logger.Debug("usage flush completed", zap.Int("items", len(deltas)))
	return nil
}

// restore merges a failed batch back into the pending buffer without
// clobbering counters recorded since the swap.
func (t *Tracker) restore(batch map[string]*knowledge.UsageDelta) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, d := range batch {
		cur, ok := t.pending[id]
		if !ok {
			t.pending[id] = d
			continue
		}
		cur.Add(*d)
	}
}
