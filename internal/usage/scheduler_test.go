package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
)

func TestNewScheduler_NilTracker(t *testing.T) {
	_, err := NewScheduler(nil, nil)
	assert.ErrorIs(t, err, ErrNilTracker)
}

func TestScheduler_StartIsExclusive(t *testing.T) {
	tr := mustTracker(t, knowledge.NewInMemoryStore(nil))
	s, err := NewScheduler(tr, nil, WithInterval(time.Hour))
	require.NoError(t, err)

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.ErrorIs(t, s.Start(), ErrAlreadyRunning)
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	tr := mustTracker(t, knowledge.NewInMemoryStore(nil))
	s, err := NewScheduler(tr, nil, WithInterval(time.Hour))
	require.NoError(t, err)

	// Stopping before starting is a no-op.
	s.Stop()

	require.NoError(t, s.Start())
	s.Stop()
	s.Stop()

	// A stopped scheduler can be started again.
	require.NoError(t, s.Start())
	s.Stop()
}

func TestScheduler_PeriodicFlush(t *testing.T) {
	ctx := context.Background()
	store := knowledge.NewInMemoryStore(nil)
	item := insertItem(t, store, knowledge.TierReference)
	tr := mustTracker(t, store)

	s, err := NewScheduler(tr, nil, WithInterval(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	tr.RecordLoaded(item.ID)

	require.Eventually(t, func() bool {
		got, err := store.Get(ctx, item.ID)
		return err == nil && got.Usage.Loaded == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_FinalFlushOnStop(t *testing.T) {
	ctx := context.Background()
	store := knowledge.NewInMemoryStore(nil)
	item := insertItem(t, store, knowledge.TierReference)
	tr := mustTracker(t, store)

	s, err := NewScheduler(tr, nil, WithInterval(time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.Start())

	tr.RecordLoaded(item.ID)
	s.Stop()

	got, err := store.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Usage.Loaded)
	assert.Zero(t, tr.Pending())
}
