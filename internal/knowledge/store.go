package knowledge

import (
	"context"
	"errors"
)

// ErrStoreUnavailable indicates the backing store could not be reached.
// Selection treats it as a degradable failure: the affected tier assembles
// empty instead of aborting the request.
var ErrStoreUnavailable = errors.New("knowledge store unavailable")

// CurationUpdate is one batched change to an item's curation fields.
// Nil pointer fields are left unchanged.
type CurationUpdate struct {
	// ID is the full identifier of the item to update.
	ID string

	Tier             *Tier
	Pinned           *bool
	AutoInject       *bool
	DisplayOrder     *int
	TriggerTaskTypes []string
	Summary          *string
}

// UsageDelta is one batched additive update to an item's usage counters.
// Values are added to the stored counters, never assigned, so concurrent
// flushes from multiple processes compose.
type UsageDelta struct {
	// ID is the full identifier of the item to update.
	ID string

	Loaded     int
	Referenced int
	Helpful    int
	Harmful    int
}

// IsZero reports whether the delta carries no change.
func (d UsageDelta) IsZero() bool {
	return d.Loaded == 0 && d.Referenced == 0 && d.Helpful == 0 && d.Harmful == 0
}

// Add folds another delta into this one.
func (d *UsageDelta) Add(other UsageDelta) {
	d.Loaded += other.Loaded
	d.Referenced += other.Referenced
	d.Helpful += other.Helpful
	d.Harmful += other.Harmful
}

// SimilarityQuery describes a vector-similarity search.
type SimilarityQuery struct {
	// Text is embedded and compared against stored item content.
	Text string

	// Scope restricts candidates to one visibility scope.
	Scope Scope

	// Tier restricts candidates to one tier when non-empty. Clustering
	// passes TierMandate to search only canonical golden-standard items.
	Tier Tier

	// TopK caps the number of matches returned.
	TopK int
}

// SimilarMatch is one vector-similarity search hit.
type SimilarMatch struct {
	// ID is the full identifier of the matched item.
	ID string

	// Content is the matched item's stored content.
	Content string

	// Summary is the matched item's one-line summary.
	Summary string

	// Similarity is the cosine similarity in [0, 1], highest first.
	Similarity float64
}

// Store is the knowledge store contract every backend adapter implements.
//
// The store is graph-shaped knowledge keyed by item identifier, with scope
// and tier as the primary query axes and a vector-similarity primitive for
// deduplication. Usage counter updates are additive so that concurrent
// writers compose; curation updates are field-wise batched.
//
// Implementations:
//   - InMemoryStore: mutex-guarded maps, token-overlap similarity (tests,
//     ephemeral runs)
//   - store.ChromemStore: embedded chromem-go (default)
//   - store.QdrantStore: external Qdrant over gRPC
//   - store.SQLiteStore: local durable single-file database
type Store interface {
	// Insert stores a new item. The item must validate.
	Insert(ctx context.Context, item *Item) error

	// Get returns the item with the given full identifier, or
	// ErrItemNotFound.
	Get(ctx context.Context, id string) (*Item, error)

	// ResolvePrefix maps an 8-character short identifier to the full item
	// identifier. Returns ErrItemNotFound when nothing matches and
	// ErrAmbiguousPrefix when more than one item does.
	ResolvePrefix(ctx context.Context, prefix string) (string, error)

	// ListByTier returns the items with the given tier in exactly the
	// given scope. Callers expand the visibility chain themselves.
	ListByTier(ctx context.Context, scope Scope, tier Tier) ([]*Item, error)

	// ListAutoInject returns the auto-inject items in exactly the given
	// scope.
	ListAutoInject(ctx context.Context, scope Scope) ([]*Item, error)

	// ListByTrigger returns reference items whose trigger task types
	// include taskType, in exactly the given scope.
	ListByTrigger(ctx context.Context, scope Scope, taskType string) ([]*Item, error)

	// ListByScope returns every item in exactly the given scope.
	ListByScope(ctx context.Context, scope Scope) ([]*Item, error)

	// ApplyCuration applies batched curation-field updates. Unknown
	// identifiers fail the batch with ErrItemNotFound.
	ApplyCuration(ctx context.Context, updates []CurationUpdate) error

	// AddUsage applies batched additive usage-counter updates and stamps
	// LastUsedAt on the touched items. Unknown identifiers are skipped:
	// a counter for a retired item is stale feedback, not an error.
	AddUsage(ctx context.Context, deltas []UsageDelta) error

	// SearchSimilar performs vector-similarity search and returns up to
	// TopK matches ordered by similarity, highest first.
	SearchSimilar(ctx context.Context, q SimilarityQuery) ([]SimilarMatch, error)

	// MergeSynonym appends an alternate phrasing to a canonical item and
	// folds the absorbed item's usage statistics into it.
	MergeSynonym(ctx context.Context, canonicalID, synonym string, stats UsageDelta) error

	// Link records a directed "refines" relationship from one item to the
	// canonical item it varies.
	Link(ctx context.Context, fromID, toID string) error

	// Promote copies an item into the target (wider) scope and retires the
	// original. Returns the new item's identifier.
	Promote(ctx context.Context, id string, target Scope) (string, error)

	// Close releases store resources.
	Close() error
}
