package scoring

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"time"

	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
)

// Common errors for parameter-set construction.
var (
	ErrNoVariants     = errors.New("at least one parameter set is required")
	ErrDuplicateName  = errors.New("duplicate parameter set name")
	ErrInvalidWeights = errors.New("relevance weights must sum to 1.0")
	ErrInvalidSet     = errors.New("invalid parameter set")
	ErrUnknownVariant = errors.New("unknown parameter set")
)

// weightSumTolerance bounds floating-point drift when validating that the
// four relevance weights sum to 1.0.
const weightSumTolerance = 1e-6

// DefaultVariantName names the control parameter set.
const DefaultVariantName = "control"

// Weights are the four relevance component weights. They must sum to 1.0.
type Weights struct {
	Semantic   float64 `json:"semantic"`
	Usage      float64 `json:"usage"`
	Confidence float64 `json:"confidence"`
	Recency    float64 `json:"recency"`
}

// Sum returns the total of all four weights.
func (w Weights) Sum() float64 {
	return w.Semantic + w.Usage + w.Confidence + w.Recency
}

// Validate checks the weights are non-negative and sum to 1.0.
func (w Weights) Validate() error {
	if w.Semantic < 0 || w.Usage < 0 || w.Confidence < 0 || w.Recency < 0 {
		return fmt.Errorf("%w: negative weight", ErrInvalidWeights)
	}
	if math.Abs(w.Sum()-1.0) > weightSumTolerance {
		return fmt.Errorf("%w: sum is %.6f", ErrInvalidWeights, w.Sum())
	}
	return nil
}

// TierMultipliers scale the base score per tier. Ordering must hold:
// mandate ≥ guardrail ≥ reference.
type TierMultipliers struct {
	Mandate   float64 `json:"mandate"`
	Guardrail float64 `json:"guardrail"`
	Reference float64 `json:"reference"`
}

// For returns the multiplier for a tier. Pending-review items multiply to
// zero so they can never pass a positive threshold.
func (m TierMultipliers) For(tier knowledge.Tier) float64 {
	switch tier {
	case knowledge.TierMandate:
		return m.Mandate
	case knowledge.TierGuardrail:
		return m.Guardrail
	case knowledge.TierReference:
		return m.Reference
	default:
		return 0
	}
}

// Validate checks positivity and the tier ordering invariant.
func (m TierMultipliers) Validate() error {
	if m.Reference <= 0 {
		return fmt.Errorf("%w: reference multiplier must be positive", ErrInvalidSet)
	}
	if m.Mandate < m.Guardrail || m.Guardrail < m.Reference {
		return fmt.Errorf("%w: tier multipliers must satisfy mandate ≥ guardrail ≥ reference", ErrInvalidSet)
	}
	return nil
}

// HalfLives hold the per-tier recency half-life. An item's recency component
// halves every half-life of inactivity.
type HalfLives struct {
	Mandate   time.Duration `json:"mandate"`
	Guardrail time.Duration `json:"guardrail"`
	Reference time.Duration `json:"reference"`
}

// For returns the half-life for a tier, falling back to the reference
// half-life for unclassified tiers.
func (h HalfLives) For(tier knowledge.Tier) time.Duration {
	switch tier {
	case knowledge.TierMandate:
		return h.Mandate
	case knowledge.TierGuardrail:
		return h.Guardrail
	default:
		return h.Reference
	}
}

// Validate checks all half-lives are positive.
func (h HalfLives) Validate() error {
	if h.Mandate <= 0 || h.Guardrail <= 0 || h.Reference <= 0 {
		return fmt.Errorf("%w: half-lives must be positive", ErrInvalidSet)
	}
	return nil
}

// ParameterSet is a named, immutable bundle of scoring parameters. Multiple
// named sets coexist for controlled experimentation.
type ParameterSet struct {
	// Name identifies the variant in assignments and metrics.
	Name string `json:"name"`

	// Weights are the four relevance component weights.
	Weights Weights `json:"weights"`

	// MinRelevanceThreshold is the pass mark for the final score.
	MinRelevanceThreshold float64 `json:"min_relevance_threshold"`

	// GoldenStandardMinSimilarity is the similarity at or above which new
	// mandate content is adjudicated against an existing canonical item.
	GoldenStandardMinSimilarity float64 `json:"golden_standard_min_similarity"`

	// TierMultipliers scale the base score per tier.
	TierMultipliers TierMultipliers `json:"tier_multipliers"`

	// RecencyHalfLives hold the per-tier exponential decay half-life.
	RecencyHalfLives HalfLives `json:"recency_half_lives"`

	// TagBoost multiplies the score when the query shares an explicit tag
	// with the item.
	TagBoost float64 `json:"tag_boost"`
}

// Validate checks every parameter bound.
func (ps ParameterSet) Validate() error {
	if ps.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidSet)
	}
	if err := ps.Weights.Validate(); err != nil {
		return fmt.Errorf("set %q: %w", ps.Name, err)
	}
	if ps.MinRelevanceThreshold < 0 || ps.MinRelevanceThreshold > 1 {
		return fmt.Errorf("%w: set %q: threshold %.3f outside [0,1]", ErrInvalidSet, ps.Name, ps.MinRelevanceThreshold)
	}
	if ps.GoldenStandardMinSimilarity < 0 || ps.GoldenStandardMinSimilarity > 1 {
		return fmt.Errorf("%w: set %q: golden-standard similarity outside [0,1]", ErrInvalidSet, ps.Name)
	}
	if err := ps.TierMultipliers.Validate(); err != nil {
		return fmt.Errorf("set %q: %w", ps.Name, err)
	}
	if err := ps.RecencyHalfLives.Validate(); err != nil {
		return fmt.Errorf("set %q: %w", ps.Name, err)
	}
	if ps.TagBoost < 1 {
		return fmt.Errorf("%w: set %q: tag boost below 1.0", ErrInvalidSet, ps.Name)
	}
	return nil
}

// DefaultParameterSet returns the control variant.
func DefaultParameterSet() ParameterSet {
	return ParameterSet{
		Name: DefaultVariantName,
		Weights: Weights{
			Semantic:   0.40,
			Usage:      0.30,
			Confidence: 0.20,
			Recency:    0.10,
		},
		MinRelevanceThreshold:       0.30,
		GoldenStandardMinSimilarity: 0.85,
		TierMultipliers: TierMultipliers{
			Mandate:   1.5,
			Guardrail: 1.3,
			Reference: 1.0,
		},
		RecencyHalfLives: HalfLives{
			Mandate:   90 * 24 * time.Hour,
			Guardrail: 90 * 24 * time.Hour,
			Reference: 30 * 24 * time.Hour,
		},
		TagBoost: 1.3,
	}
}

// builtinVariants are the experiment arms shipped with the service. The
// control arm leans on semantic similarity; the other two shift weight to
// usage feedback and recency respectively.
func builtinVariants() []ParameterSet {
	control := DefaultParameterSet()

	usageWeighted := control
	usageWeighted.Name = "usage-weighted"
	usageWeighted.Weights = Weights{Semantic: 0.30, Usage: 0.40, Confidence: 0.15, Recency: 0.15}

	recencyWeighted := control
	recencyWeighted.Name = "recency-weighted"
	recencyWeighted.Weights = Weights{Semantic: 0.35, Usage: 0.20, Confidence: 0.15, Recency: 0.30}

	return []ParameterSet{control, usageWeighted, recencyWeighted}
}

// Variants is an immutable registry of named parameter sets with
// deterministic task assignment.
type Variants struct {
	names []string
	sets  map[string]ParameterSet
}

// NewVariants builds a registry from the given sets. Every set must
// validate and names must be unique.
func NewVariants(sets ...ParameterSet) (*Variants, error) {
	if len(sets) == 0 {
		return nil, ErrNoVariants
	}

	v := &Variants{sets: make(map[string]ParameterSet, len(sets))}
	for _, ps := range sets {
		if err := ps.Validate(); err != nil {
			return nil, err
		}
		if _, exists := v.sets[ps.Name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, ps.Name)
		}
		v.sets[ps.Name] = ps
		v.names = append(v.names, ps.Name)
	}
	// Assignment buckets index into the sorted name list so the mapping is
	// independent of construction order.
	sort.Strings(v.names)
	return v, nil
}

// DefaultVariants returns the registry of built-in experiment arms.
func DefaultVariants() *Variants {
	v, err := NewVariants(builtinVariants()...)
	if err != nil {
		// Built-in sets are compile-time constants; failing to validate
		// is a programming error.
		panic(err)
	}
	return v
}

// Get returns the named parameter set.
func (v *Variants) Get(name string) (ParameterSet, error) {
	ps, ok := v.sets[name]
	if !ok {
		return ParameterSet{}, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
	return ps, nil
}

// Names returns the registered variant names in sorted order.
func (v *Variants) Names() []string {
	return append([]string(nil), v.names...)
}

// Assign deterministically maps a task to one of the registered sets by
// hashing its external identifier and project identifier. The same inputs
// always yield the same variant.
func (v *Variants) Assign(externalID, projectID string) ParameterSet {
	h := fnv.New64a()
	h.Write([]byte(externalID))
	h.Write([]byte{':'})
	h.Write([]byte(projectID))
	idx := h.Sum64() % uint64(len(v.names))
	return v.sets[v.names[idx]]
}
