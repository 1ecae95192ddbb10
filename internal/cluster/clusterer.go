package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
)

var tracer = otel.Tracer("relevanced/cluster")

// Construction errors.
var (
	ErrNilStore       = errors.New("store cannot be nil")
	ErrNilAdjudicator = errors.New("adjudicator cannot be nil")
	ErrNilItem        = errors.New("item cannot be nil")
)

const (
	// DefaultMinSimilarity is the similarity at or above which new mandate
	// content is adjudicated against an existing canonical item.
	DefaultMinSimilarity = 0.85

	// defaultSearchTopK leaves headroom to skip over variation items when
	// hunting for the top canonical match.
	defaultSearchTopK = 5
)

// Outcome says what clustering did with one piece of recorded content.
type Outcome int

const (
	// OutcomeInserted is a plain insert: the content was not mandate tier,
	// so clustering did not apply.
	OutcomeInserted Outcome = iota

	// OutcomeCanonical means the content became its own canonical item.
	OutcomeCanonical

	// OutcomeMerged means the content was absorbed as a synonym of an
	// existing canonical item and no new item was stored.
	OutcomeMerged

	// OutcomeLinked means the content was stored as a variation linked to a
	// canonical item.
	OutcomeLinked
)

// String returns the metrics label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeCanonical:
		return "canonical"
	case OutcomeMerged:
		return "merged"
	case OutcomeLinked:
		return "linked"
	default:
		return "inserted"
	}
}

// Result reports where recorded content ended up.
type Result struct {
	Outcome Outcome

	// CanonicalID is the canonical item the content now belongs to: the
	// item's own identifier for OutcomeInserted and OutcomeCanonical, the
	// absorbing item's for OutcomeMerged, the refined item's for
	// OutcomeLinked.
	CanonicalID string

	// MatchedContent and Similarity describe the canonical match that
	// triggered adjudication. Both are zero when nothing matched.
	MatchedContent string
	Similarity     float64
}

// Clusterer records knowledge while keeping mandate-tier content canonical.
//
// Recording is serialized per scope key: the check-adjudicate-write sequence
// holds the scope's lock, so two near-simultaneous similar inserts into the
// same scope cannot both pass the search step and create duplicate canonical
// items.
type Clusterer struct {
	store         knowledge.Store
	adjudicator   *Adjudicator
	logger        *zap.Logger
	minSimilarity float64
	topK          int

	mu         sync.Mutex
	scopeLocks map[string]*sync.Mutex
}

// ClustererOption configures a Clusterer.
type ClustererOption func(*Clusterer)

// WithMinSimilarity overrides the adjudication similarity threshold.
func WithMinSimilarity(v float64) ClustererOption {
	return func(c *Clusterer) {
		if v > 0 && v <= 1 {
			c.minSimilarity = v
		}
	}
}

// WithSearchTopK overrides how many matches the canonical search considers.
func WithSearchTopK(k int) ClustererOption {
	return func(c *Clusterer) {
		if k > 0 {
			c.topK = k
		}
	}
}

// NewClusterer creates a clusterer.
func NewClusterer(store knowledge.Store, adjudicator *Adjudicator, logger *zap.Logger, opts ...ClustererOption) (*Clusterer, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if adjudicator == nil {
		return nil, ErrNilAdjudicator
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Clusterer{
		store:         store,
		adjudicator:   adjudicator,
		logger:        logger,
		minSimilarity: DefaultMinSimilarity,
		topK:          defaultSearchTopK,
		scopeLocks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Record stores one item, clustering it against existing canonical items
// when it is mandate tier. A search failure is treated as no match and an
// adjudication failure as a variation, so recording degrades toward keeping
// content separate rather than losing it.
func (c *Clusterer) Record(ctx context.Context, item *knowledge.Item) (*Result, error) {
	if item == nil {
		return nil, ErrNilItem
	}
	if item.Source.Category == "" {
		item.Source.Category, _ = knowledge.Categorize(item.Content)
	}
	if item.Source.Tier == "" {
		item.Source.Tier = item.Tier
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "cluster.record")
	defer span.End()
	span.SetAttributes(
		attribute.String("scope", item.Scope.Key()),
		attribute.String("tier", string(item.Tier)),
	)

	res, err := c.record(ctx, item)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	recordsTotal.WithLabelValues(res.Outcome.String()).Inc()
	span.SetAttributes(attribute.String("outcome", res.Outcome.String()))
	c.logger.Debug("recorded item",
		zap.String("id", item.ID),
		zap.String("scope", item.Scope.Key()),
		zap.String("outcome", res.Outcome.String()),
		zap.String("canonical_id", res.CanonicalID))
	return res, nil
}

func (c *Clusterer) record(ctx context.Context, item *knowledge.Item) (*Result, error) {
	if item.Tier != knowledge.TierMandate {
		if err := c.store.Insert(ctx, item); err != nil {
			return nil, err
		}
		return &Result{Outcome: OutcomeInserted, CanonicalID: item.ID}, nil
	}

	// Canonical mandates recorded through clustering carry the
	// golden-standard origin; explicit provenance like migrated_rule is
	// kept.
	if item.Source.Origin == "" || item.Source.Origin == knowledge.OriginSystem {
		item.Source.Origin = knowledge.OriginGoldenStandard
	}

	lock := c.scopeLock(item.Scope.Key())
	lock.Lock()
	defer lock.Unlock()

	canonical, similarity := c.findCanonical(ctx, item)
	if canonical == nil {
		if err := c.store.Insert(ctx, item); err != nil {
			return nil, err
		}
		return &Result{Outcome: OutcomeCanonical, CanonicalID: item.ID}, nil
	}

	decision, err := c.adjudicator.Adjudicate(ctx, canonical.Content, item.Content)
	if err != nil {
		c.logger.Warn("adjudication failed, keeping items separate",
			zap.String("canonical_id", canonical.ID),
			zap.Error(err))
		decision = DecisionVariation
	}

	if decision == DecisionRephrase {
		stats := knowledge.UsageDelta{
			ID:         canonical.ID,
			Loaded:     item.Usage.Loaded,
			Referenced: item.Usage.Referenced,
			Helpful:    item.Usage.Helpful,
			Harmful:    item.Usage.Harmful,
		}
		if err := c.store.MergeSynonym(ctx, canonical.ID, item.Content, stats); err != nil {
			return nil, fmt.Errorf("merge synonym into %s: %w", canonical.ID, err)
		}
		return &Result{
			Outcome:        OutcomeMerged,
			CanonicalID:    canonical.ID,
			MatchedContent: canonical.Content,
			Similarity:     similarity,
		}, nil
	}

	item.Source.ClusterID = knowledge.ShortID(canonical.ID)
	if err := c.store.Insert(ctx, item); err != nil {
		return nil, err
	}
	if err := c.store.Link(ctx, item.ID, canonical.ID); err != nil {
		return nil, fmt.Errorf("link %s to %s: %w", item.ID, canonical.ID, err)
	}
	return &Result{
		Outcome:        OutcomeLinked,
		CanonicalID:    canonical.ID,
		MatchedContent: canonical.Content,
		Similarity:     similarity,
	}, nil
}

// findCanonical returns the best canonical match at or above the similarity
// threshold along with its score, or nil. Variation items are skipped; a
// search failure is logged and treated as no match.
func (c *Clusterer) findCanonical(ctx context.Context, item *knowledge.Item) (*knowledge.Item, float64) {
	matches, err := c.store.SearchSimilar(ctx, knowledge.SimilarityQuery{
		Text:  item.Content,
		Scope: item.Scope,
		Tier:  knowledge.TierMandate,
		TopK:  c.topK,
	})
	if err != nil {
		c.logger.Warn("canonical search failed, treating as no match",
			zap.String("scope", item.Scope.Key()),
			zap.Error(err))
		return nil, 0
	}

	for _, m := range matches {
		if m.Similarity < c.minSimilarity {
			break
		}
		candidate, err := c.store.Get(ctx, m.ID)
		if err != nil {
			c.logger.Warn("canonical match lookup failed",
				zap.String("id", m.ID),
				zap.Error(err))
			continue
		}
		if candidate.RefinesID != "" {
			continue
		}
		return candidate, m.Similarity
	}
	return nil, 0
}

func (c *Clusterer) scopeLock(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.scopeLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		c.scopeLocks[key] = lock
	}
	return lock
}
