package scoring

import (
	"math"
	"time"

	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
)

// Candidate pairs an item with the query-time signals that are not stored
// on the item itself.
type Candidate struct {
	// Item is the knowledge item under evaluation.
	Item *knowledge.Item

	// Similarity is the semantic similarity between the item and the query
	// in [0, 1], usually cosine similarity from the vector search. Values
	// outside the range are clamped rather than rejected.
	Similarity float64

	// QueryTags are the explicit tags of the querying task. Any overlap
	// with the item's tags applies the parameter set's tag boost.
	QueryTags []string
}

// Score is the full breakdown of one relevance evaluation. The four
// components are each in [0, 1]; Final carries the tier multiplier and
// tag boost on top of their weighted sum.
type Score struct {
	Semantic   float64 `json:"semantic"`
	Usage      float64 `json:"usage"`
	Confidence float64 `json:"confidence"`
	Recency    float64 `json:"recency"`

	// TierMultiplier and TagBoost are the factors actually applied.
	// TagBoost is 1 when no query tag matched.
	TierMultiplier float64 `json:"tier_multiplier"`
	TagBoost       float64 `json:"tag_boost"`

	// Final is the composite score after both multipliers.
	Final float64 `json:"final"`

	// Passes reports whether Final cleared the set's minimum threshold.
	Passes bool `json:"passes"`
}

// Engine computes composite relevance scores. It holds no mutable state
// and is safe for concurrent use. The clock is injectable so recency
// decay is deterministic under test.
type Engine struct {
	now func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine returns an engine using the wall clock unless overridden.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Score evaluates one candidate under a parameter set. tier is the tier
// the candidate competes in, normally the item's own; passing it
// explicitly lets assembly score an item wherever it was fetched.
//
// Composite = semantic*w + usage*w + confidence*w + recency*w, then the
// tier multiplier, then the tag boost. Pending-review tiers multiply to
// zero and therefore never pass a positive threshold.
func (e *Engine) Score(c Candidate, tier knowledge.Tier, ps ParameterSet) Score {
	s := Score{
		Semantic:       clamp01(c.Similarity),
		Usage:          0.5,
		Recency:        1,
		TierMultiplier: ps.TierMultipliers.For(tier),
		TagBoost:       1,
	}

	if c.Item != nil {
		s.Usage = c.Item.Usage.Effectiveness()
		s.Confidence = c.Item.Source.NormalizedConfidence()
		s.Recency = recency(e.now(), c.Item.LastActivity(), ps.RecencyHalfLives.For(tier))
		if tagsOverlap(c.QueryTags, c.Item.Tags) {
			s.TagBoost = ps.TagBoost
		}
	}

	base := s.Semantic*ps.Weights.Semantic +
		s.Usage*ps.Weights.Usage +
		s.Confidence*ps.Weights.Confidence +
		s.Recency*ps.Weights.Recency

	s.Final = base * s.TierMultiplier * s.TagBoost
	s.Passes = s.Final >= ps.MinRelevanceThreshold
	return s
}

// recency computes 0.5^(age/halfLife). Age runs from the item's most
// recent activity (creation or last use); future timestamps and zero
// activity times decay nothing.
func recency(now, lastActivity time.Time, halfLife time.Duration) float64 {
	if lastActivity.IsZero() || halfLife <= 0 {
		return 1
	}
	age := now.Sub(lastActivity)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

// tagsOverlap reports whether the two tag lists share at least one tag.
// Lists are short (a handful of labels), so the quadratic scan beats
// allocating a set.
func tagsOverlap(query, item []string) bool {
	if len(query) == 0 || len(item) == 0 {
		return false
	}
	for _, q := range query {
		for _, t := range item {
			if q == t {
				return true
			}
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
