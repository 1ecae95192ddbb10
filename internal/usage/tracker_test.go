package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
)

// flakyStore wraps the in-memory store and fails AddUsage until unblocked.
type flakyStore struct {
	knowledge.Store

	mu       sync.Mutex
	failing  bool
	addCalls int
}

func (f *flakyStore) AddUsage(ctx context.Context, deltas []knowledge.UsageDelta) error {
	f.mu.Lock()
	f.addCalls++
	failing := f.failing
	f.mu.Unlock()

	if failing {
		return knowledge.ErrStoreUnavailable
	}
	return f.Store.AddUsage(ctx, deltas)
}

func (f *flakyStore) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func mustTracker(t *testing.T, store knowledge.Store, opts ...TrackerOption) *Tracker {
	t.Helper()
	tr, err := NewTracker(store, nil, opts...)
	require.NoError(t, err)
	return tr
}

func insertItem(t *testing.T, store knowledge.Store, tier knowledge.Tier) *knowledge.Item {
	t.Helper()
	item, err := knowledge.NewItem("Prefer table-driven tests", "", tier, knowledge.GlobalScope(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Insert(context.Background(), item))
	return item
}

func TestNewTracker_NilStore(t *testing.T) {
	_, err := NewTracker(nil, nil)
	assert.ErrorIs(t, err, ErrNilStore)
}

func TestTracker_EffectivenessSevenOfTen_OrderIndependent(t *testing.T) {
	ctx := context.Background()

	record := func(t *testing.T, loadsFirst bool) float64 {
		t.Helper()
		store := knowledge.NewInMemoryStore(nil)
		item := insertItem(t, store, knowledge.TierReference)
		tr := mustTracker(t, store)

		loads := func() {
			for i := 0; i < 10; i++ {
				tr.RecordLoaded(item.ID)
			}
		}
		refs := func() {
			for i := 0; i < 7; i++ {
				tr.RecordReferenced(item.ID)
			}
		}
		if loadsFirst {
			loads()
			refs()
		} else {
			refs()
			loads()
		}

		require.NoError(t, tr.Flush(ctx))
		got, err := store.Get(ctx, item.ID)
		require.NoError(t, err)
		return got.Usage.Effectiveness()
	}

	assert.InDelta(t, 0.7, record(t, true), 1e-9)
	assert.InDelta(t, 0.7, record(t, false), 1e-9)
}

func TestTracker_FlushMergesRepeatedIncrements(t *testing.T) {
	ctx := context.Background()
	store := knowledge.NewInMemoryStore(nil)
	item := insertItem(t, store, knowledge.TierMandate)
	tr := mustTracker(t, store)

	tr.RecordLoaded(item.ID, item.ID, item.ID)
	tr.RecordReferenced(item.ID)
	tr.RecordFeedback(item.ID, true)
	tr.RecordFeedback(item.ID, false)
	assert.Equal(t, 1, tr.Pending())

	require.NoError(t, tr.Flush(ctx))
	assert.Zero(t, tr.Pending())

	got, err := store.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Usage.Loaded)
	assert.Equal(t, 1, got.Usage.Referenced)
	assert.Equal(t, 1, got.Usage.Helpful)
	assert.Equal(t, 1, got.Usage.Harmful)
}

func TestTracker_FailedFlushRetainsDeltas(t *testing.T) {
	ctx := context.Background()
	mem := knowledge.NewInMemoryStore(nil)
	item := insertItem(t, mem, knowledge.TierReference)
	store := &flakyStore{Store: mem, failing: true}

	tr := mustTracker(t, store, WithFlushMaxTries(1), WithFlushTimeout(2*time.Second))
	tr.RecordLoaded(item.ID)
	tr.RecordReferenced(item.ID)

	err := tr.Flush(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, knowledge.ErrStoreUnavailable)
	assert.Equal(t, 1, tr.Pending(), "failed flush must retain the delta")

	// Increments recorded after the failure pile onto the retained delta.
	tr.RecordLoaded(item.ID)

	store.setFailing(false)
	require.NoError(t, tr.Flush(ctx))
	assert.Zero(t, tr.Pending())

	got, err := mem.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Usage.Loaded)
	assert.Equal(t, 1, got.Usage.Referenced)
}

func TestTracker_FlushEmptyBufferIsNoop(t *testing.T) {
	mem := knowledge.NewInMemoryStore(nil)
	store := &flakyStore{Store: mem}
	tr := mustTracker(t, store)

	require.NoError(t, tr.Flush(context.Background()))
	assert.Zero(t, store.addCalls)
}

func TestTracker_RecordCitations_ResolvesPrefixes(t *testing.T) {
	ctx := context.Background()
	store := knowledge.NewInMemoryStore(nil)
	item := insertItem(t, store, knowledge.TierMandate)
	tr := mustTracker(t, store)

	// Cache not seeded: resolution falls through to the store.
	tracked := tr.RecordCitations(ctx, []string{item.ShortID(), "00000000"})
	assert.Equal(t, 1, tracked)

	require.NoError(t, tr.Flush(ctx))
	got, err := store.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Usage.Referenced)
}

func TestTracker_Resolve_SeededByLoad(t *testing.T) {
	ctx := context.Background()
	mem := knowledge.NewInMemoryStore(nil)
	item := insertItem(t, mem, knowledge.TierReference)

	tr := mustTracker(t, mem)
	tr.RecordLoaded(item.ID)

	// Remove the item from the store; the seeded cache still resolves.
	_, err := mem.Promote(ctx, item.ID, knowledge.GlobalScope())
	require.NoError(t, err)

	full, err := tr.Resolve(ctx, item.ShortID())
	require.NoError(t, err)
	assert.Equal(t, item.ID, full)
}

func TestTracker_Resolve_UnknownPrefix(t *testing.T) {
	tr := mustTracker(t, knowledge.NewInMemoryStore(nil))

	_, err := tr.Resolve(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, knowledge.ErrItemNotFound)
}

func TestTracker_ConcurrentRecording(t *testing.T) {
	ctx := context.Background()
	store := knowledge.NewInMemoryStore(nil)
	item := insertItem(t, store, knowledge.TierReference)
	tr := mustTracker(t, store)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				tr.RecordLoaded(item.ID)
				tr.RecordReferenced(item.ID)
			}
		}()
	}
	wg.Wait()

	require.NoError(t, tr.Flush(ctx))
	got, err := store.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 200, got.Usage.Loaded)
	assert.Equal(t, 200, got.Usage.Referenced)
}

func TestTracker_FlushDuringRecording_LosesNothing(t *testing.T) {
	ctx := context.Background()
	store := knowledge.NewInMemoryStore(nil)
	item := insertItem(t, store, knowledge.TierReference)
	tr := mustTracker(t, store)

	const total = 500
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			tr.RecordLoaded(item.ID)
		}
	}()

	// Interleave flushes with the writer.
	for i := 0; i < 20; i++ {
		require.NoError(t, tr.Flush(ctx))
	}
	wg.Wait()
	require.NoError(t, tr.Flush(ctx))

	got, err := store.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, total, got.Usage.Loaded)
}

func TestTracker_SkipsBlankIDs(t *testing.T) {
	tr := mustTracker(t, knowledge.NewInMemoryStore(nil))
	tr.RecordLoaded("")
	tr.RecordReferenced("")
	tr.RecordFeedback("", true)
	assert.Zero(t, tr.Pending())
}

// Guards the wrapped sentinel so selection-level errors.Is checks keep
// working through the tracker's error wrapping.
func TestTracker_FlushErrorWrapsStoreError(t *testing.T) {
	mem := knowledge.NewInMemoryStore(nil)
	item := insertItem(t, mem, knowledge.TierReference)
	store := &flakyStore{Store: mem, failing: true}
	tr := mustTracker(t, store, WithFlushMaxTries(1))

	tr.RecordLoaded(item.ID)
	err := tr.Flush(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, knowledge.ErrStoreUnavailable))
}
