package scoring

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
)

func TestWeights_Validate(t *testing.T) {
	tests := []struct {
		name    string
		weights Weights
		wantErr bool
	}{
		{name: "default weights", weights: DefaultParameterSet().Weights, wantErr: false},
		{name: "exact quarters", weights: Weights{Semantic: 0.25, Usage: 0.25, Confidence: 0.25, Recency: 0.25}, wantErr: false},
		{name: "within tolerance", weights: Weights{Semantic: 0.25 + 1e-9, Usage: 0.25, Confidence: 0.25, Recency: 0.25}, wantErr: false},
		{name: "sums below one", weights: Weights{Semantic: 0.5, Usage: 0.3}, wantErr: true},
		{name: "sums above one", weights: Weights{Semantic: 0.5, Usage: 0.5, Confidence: 0.5}, wantErr: true},
		{name: "negative component", weights: Weights{Semantic: 1.2, Usage: -0.2, Confidence: 0, Recency: 0}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.weights.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidWeights)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTierMultipliers_For(t *testing.T) {
	m := TierMultipliers{Mandate: 1.5, Guardrail: 1.3, Reference: 1.0}
	assert.Equal(t, 1.5, m.For(knowledge.TierMandate))
	assert.Equal(t, 1.3, m.For(knowledge.TierGuardrail))
	assert.Equal(t, 1.0, m.For(knowledge.TierReference))
	assert.Equal(t, 0.0, m.For(knowledge.TierPendingReview))
}

func TestTierMultipliers_Validate(t *testing.T) {
	assert.NoError(t, TierMultipliers{Mandate: 1.5, Guardrail: 1.3, Reference: 1.0}.Validate())
	assert.NoError(t, TierMultipliers{Mandate: 1.0, Guardrail: 1.0, Reference: 1.0}.Validate())

	// Ordering violations.
	assert.Error(t, TierMultipliers{Mandate: 1.0, Guardrail: 1.3, Reference: 1.0}.Validate())
	assert.Error(t, TierMultipliers{Mandate: 1.5, Guardrail: 0.9, Reference: 1.0}.Validate())
	assert.Error(t, TierMultipliers{Mandate: 1.5, Guardrail: 1.3, Reference: 0}.Validate())
}

func TestHalfLives_For(t *testing.T) {
	h := HalfLives{Mandate: 90 * 24 * time.Hour, Guardrail: 60 * 24 * time.Hour, Reference: 30 * 24 * time.Hour}
	assert.Equal(t, h.Mandate, h.For(knowledge.TierMandate))
	assert.Equal(t, h.Guardrail, h.For(knowledge.TierGuardrail))
	assert.Equal(t, h.Reference, h.For(knowledge.TierReference))
	assert.Equal(t, h.Reference, h.For(knowledge.TierPendingReview))
}

func TestParameterSet_Validate(t *testing.T) {
	valid := DefaultParameterSet()
	require.NoError(t, valid.Validate())

	noName := valid
	noName.Name = ""
	assert.ErrorIs(t, noName.Validate(), ErrInvalidSet)

	badThreshold := valid
	badThreshold.MinRelevanceThreshold = 1.5
	assert.ErrorIs(t, badThreshold.Validate(), ErrInvalidSet)

	badSimilarity := valid
	badSimilarity.GoldenStandardMinSimilarity = -0.1
	assert.ErrorIs(t, badSimilarity.Validate(), ErrInvalidSet)

	badBoost := valid
	badBoost.TagBoost = 0.9
	assert.ErrorIs(t, badBoost.Validate(), ErrInvalidSet)

	badHalfLife := valid
	badHalfLife.RecencyHalfLives.Reference = 0
	assert.ErrorIs(t, badHalfLife.Validate(), ErrInvalidSet)
}

func TestBuiltinVariants_WeightsSumToOne(t *testing.T) {
	v := DefaultVariants()
	for _, name := range v.Names() {
		ps, err := v.Get(name)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, ps.Weights.Sum(), weightSumTolerance, "variant %s", name)
		assert.NoError(t, ps.Validate(), "variant %s", name)
	}
}

func TestNewVariants(t *testing.T) {
	_, err := NewVariants()
	assert.ErrorIs(t, err, ErrNoVariants)

	ps := DefaultParameterSet()
	_, err = NewVariants(ps, ps)
	assert.ErrorIs(t, err, ErrDuplicateName)

	invalid := ps
	invalid.Weights.Semantic = 0.9
	_, err = NewVariants(invalid)
	assert.ErrorIs(t, err, ErrInvalidWeights)
}

func TestVariants_Get(t *testing.T) {
	v := DefaultVariants()

	ps, err := v.Get(DefaultVariantName)
	require.NoError(t, err)
	assert.Equal(t, DefaultVariantName, ps.Name)

	_, err = v.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestVariants_Names_Sorted(t *testing.T) {
	v := DefaultVariants()
	names := v.Names()
	require.Len(t, names, 3)
	assert.Equal(t, []string{"control", "recency-weighted", "usage-weighted"}, names)
}

func TestVariants_Assign_Deterministic(t *testing.T) {
	v := DefaultVariants()
	first := v.Assign("task-42", "proj-9")
	for i := 0; i < 50; i++ {
		assert.Equal(t, first.Name, v.Assign("task-42", "proj-9").Name)
	}
}

func TestVariants_Assign_CoversAllArms(t *testing.T) {
	v := DefaultVariants()
	seen := make(map[string]bool)
	for i := 0; i < 300; i++ {
		seen[v.Assign(fmt.Sprintf("task-%d", i), "proj").Name] = true
	}
	assert.Len(t, seen, len(v.Names()))
}

func TestVariants_Assign_SingleVariant(t *testing.T) {
	only := DefaultParameterSet()
	v, err := NewVariants(only)
	require.NoError(t, err)
	assert.Equal(t, only.Name, v.Assign("anything", "anywhere").Name)
}
