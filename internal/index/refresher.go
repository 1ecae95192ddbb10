package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
)

var tracer = otel.Tracer("relevanced/index")

// ErrNilStore indicates the refresher was constructed without a store.
var ErrNilStore = errors.New("store cannot be nil")

// DefaultTTL is how long a snapshot serves before the next Get rebuilds.
const DefaultTTL = 5 * time.Minute

// Refresher caches one snapshot per scope and rebuilds it at most once
// per TTL window. Concurrent callers during a rebuild share the in-flight
// result instead of issuing duplicate store queries.
type Refresher struct {
	store   knowledge.Store
	builder *Builder
	logger  *zap.Logger
	ttl     time.Duration
	now     func() time.Time

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]*Snapshot
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithTTL sets the snapshot lifetime. Defaults to 5 minutes.
func WithTTL(d time.Duration) RefresherOption {
	return func(r *Refresher) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) RefresherOption {
	return func(r *Refresher) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRefresher creates a refresher over the given store. A nil builder
// gets the default one.
func NewRefresher(store knowledge.Store, builder *Builder, logger *zap.Logger, opts ...RefresherOption) (*Refresher, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if builder == nil {
		builder = NewBuilder()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Refresher{
		store:   store,
		builder: builder,
		logger:  logger,
		ttl:     DefaultTTL,
		now:     time.Now,
		cache:   make(map[string]*Snapshot),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Get returns the snapshot for a scope, rebuilding when the cached one
// has expired. When a rebuild fails but a stale snapshot exists, the
// stale snapshot is served; an outdated demotion set beats none.
func (r *Refresher) Get(ctx context.Context, scope knowledge.Scope) (*Snapshot, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	key := scope.Key()

	if snap := r.cached(key); snap != nil && !snap.Expired(r.now()) {
		return snap, nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		// A caller that queued behind the winning flight may find a
		// fresh snapshot already cached.
		if snap := r.cached(key); snap != nil && !snap.Expired(r.now()) {
			return snap, nil
		}
		snap, err := r.rebuild(ctx, scope)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[key] = snap
		r.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		if snap := r.cached(key); snap != nil {
			r.logger.Warn("index rebuild failed, serving stale snapshot",
				zap.String("scope", key),
				zap.Error(err),
			)
			return snap, nil
		}
		return nil, fmt.Errorf("rebuild index for %s: %w", key, err)
	}
	return v.(*Snapshot), nil
}

// Invalidate drops the cached snapshot for a scope so the next Get
// rebuilds. Used after bulk writes such as consolidation or migration.
func (r *Refresher) Invalidate(scope knowledge.Scope) {
	r.mu.Lock()
	delete(r.cache, scope.Key())
	r.mu.Unlock()
}

func (r *Refresher) cached(key string) *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache[key]
}

// rebuild lists every item visible from the scope (the scope itself and
// each wider scope in its chain) and builds a fresh snapshot.
func (r *Refresher) rebuild(ctx context.Context, scope knowledge.Scope) (*Snapshot, error) {
	ctx, span := tracer.Start(ctx, "index.rebuild")
	defer span.End()
	span.SetAttributes(attribute.String("scope", scope.Key()))

	var items []*knowledge.Item
	for _, s := range scope.Chain() {
		listed, err := r.store.ListByScope(ctx, s)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "list scope")
			return nil, fmt.Errorf("list %s: %w", s.Key(), err)
		}
		items = append(items, listed...)
	}

	snap := r.builder.Build(items)
	snap.Scope = scope
	snap.BuiltAt = r.now()
	snap.TTL = r.ttl

	span.SetAttributes(
		attribute.Int("entries", len(snap.Entries)),
		attribute.Int("demoted", len(snap.DemotedIDs())),
	)
	r.logger.Debug("index rebuilt",
		zap.String("scope", scope.Key()),
		zap.Int("entries", len(snap.Entries)),
		zap.Bool("has_threshold", snap.HasThreshold),
	)
	return snap, nil
}
