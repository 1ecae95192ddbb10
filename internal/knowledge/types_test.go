package knowledge

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTier_Valid(t *testing.T) {
	assert.True(t, TierMandate.Valid())
	assert.True(t, TierGuardrail.Valid())
	assert.True(t, TierReference.Valid())
	assert.True(t, TierPendingReview.Valid())
	assert.False(t, Tier("golden").Valid())
	assert.False(t, Tier("").Valid())
}

func TestTier_Letter(t *testing.T) {
	assert.Equal(t, "M", TierMandate.Letter())
	assert.Equal(t, "G", TierGuardrail.Letter())
	assert.Equal(t, "R", TierReference.Letter())
	assert.Equal(t, "P", TierPendingReview.Letter())
}

func TestScope_Validate(t *testing.T) {
	tests := []struct {
		name    string
		scope   Scope
		wantErr bool
	}{
		{name: "global", scope: GlobalScope(), wantErr: false},
		{name: "project", scope: ProjectScope("proj-1"), wantErr: false},
		{name: "task", scope: TaskScope("proj-1", "task-1"), wantErr: false},
		{name: "project without ID", scope: Scope{Level: ScopeProject}, wantErr: true},
		{name: "task without task ID", scope: Scope{Level: ScopeTask, ProjectID: "proj-1"}, wantErr: true},
		{name: "task without project ID", scope: Scope{Level: ScopeTask, TaskID: "task-1"}, wantErr: true},
		{name: "unknown level", scope: Scope{Level: "team"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.scope.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidScope)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestScope_Key(t *testing.T) {
	assert.Equal(t, "global", GlobalScope().Key())
	assert.Equal(t, "project:p1", ProjectScope("p1").Key())
	assert.Equal(t, "task:p1:t1", TaskScope("p1", "t1").Key())
}

func TestScope_Chain(t *testing.T) {
	chain := TaskScope("p1", "t1").Chain()
	require.Len(t, chain, 3)
	assert.Equal(t, ScopeTask, chain[0].Level)
	assert.Equal(t, ScopeProject, chain[1].Level)
	assert.Equal(t, "p1", chain[1].ProjectID)
	assert.Equal(t, ScopeGlobal, chain[2].Level)

	assert.Len(t, ProjectScope("p1").Chain(), 2)
	assert.Len(t, GlobalScope().Chain(), 1)
}

func TestScope_Widen(t *testing.T) {
	task := TaskScope("p1", "t1")
	project := task.Widen()
	assert.Equal(t, ScopeProject, project.Level)
	assert.Equal(t, "p1", project.ProjectID)
	assert.Empty(t, project.TaskID)

	global := project.Widen()
	assert.Equal(t, ScopeGlobal, global.Level)

	// Widening global is a no-op.
	assert.Equal(t, global, global.Widen())
}

func TestUsageStats_Effectiveness(t *testing.T) {
	tests := []struct {
		name  string
		stats UsageStats
		want  float64
	}{
		{name: "never loaded defaults to neutral", stats: UsageStats{}, want: 0.5},
		{name: "seven of ten", stats: UsageStats{Loaded: 10, Referenced: 7}, want: 0.7},
		{name: "never referenced", stats: UsageStats{Loaded: 5}, want: 0.0},
		{name: "always referenced", stats: UsageStats{Loaded: 4, Referenced: 4}, want: 1.0},
		{name: "referenced above loaded clamps", stats: UsageStats{Loaded: 2, Referenced: 5}, want: 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.stats.Effectiveness(), 1e-9)
		})
	}
}

func TestNewItem(t *testing.T) {
	item, err := NewItem("Always wrap errors with %w", "error wrapping rule", TierMandate, ProjectScope("p1"), []string{"go", "errors"})
	require.NoError(t, err)

	assert.NotEmpty(t, item.ID)
	_, err = uuid.Parse(item.ID)
	assert.NoError(t, err)
	assert.Equal(t, TierMandate, item.Tier)
	assert.Equal(t, OriginSystem, item.Source.Origin)
	assert.Equal(t, DefaultConfidence, item.Source.Confidence)
	assert.WithinDuration(t, time.Now(), item.CreatedAt, time.Second)
	assert.NoError(t, item.Validate())
}

func TestNewItem_Invalid(t *testing.T) {
	_, err := NewItem("", "summary", TierMandate, GlobalScope(), nil)
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = NewItem("   ", "summary", TierMandate, GlobalScope(), nil)
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = NewItem("content", "summary", Tier("bogus"), GlobalScope(), nil)
	assert.ErrorIs(t, err, ErrInvalidTier)

	_, err = NewItem("content", "summary", TierMandate, Scope{Level: ScopeProject}, nil)
	assert.ErrorIs(t, err, ErrInvalidScope)
}

func TestItem_ShortIDAndMarker(t *testing.T) {
	item, err := NewItem("content", "", TierGuardrail, GlobalScope(), nil)
	require.NoError(t, err)

	short := item.ShortID()
	assert.Len(t, short, 8)
	assert.Equal(t, item.ID[:8], short)
	assert.Equal(t, "[G:"+short+"]", item.Marker())
}

func TestItem_LastActivity(t *testing.T) {
	created := time.Now().Add(-48 * time.Hour)
	item := &Item{CreatedAt: created}
	assert.Equal(t, created, item.LastActivity())

	used := time.Now().Add(-1 * time.Hour)
	item.LastUsedAt = used
	assert.Equal(t, used, item.LastActivity())
}

func TestItem_Clone(t *testing.T) {
	item, err := NewItem("content", "summary", TierReference, GlobalScope(), []string{"a"})
	require.NoError(t, err)
	item.TriggerTaskTypes = []string{"deploy"}

	cp := item.Clone()
	cp.Tags[0] = "mutated"
	cp.TriggerTaskTypes[0] = "mutated"

	assert.Equal(t, "a", item.Tags[0])
	assert.Equal(t, "deploy", item.TriggerTaskTypes[0])
}

func TestShortID_Short(t *testing.T) {
	assert.Equal(t, "abc", ShortID("abc"))
	assert.Equal(t, "aa11bb22", ShortID("AA11BB22-0000-0000-0000-000000000000"))
}
