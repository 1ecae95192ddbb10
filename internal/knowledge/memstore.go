package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InMemoryStore is a Store backed by mutex-guarded maps.
//
// It exists for tests and ephemeral runs. Similarity search uses token
// overlap rather than embeddings, which is deterministic and dependency-free
// but only approximates the vector adapters' semantics.
type InMemoryStore struct {
	mu     sync.RWMutex
	items  map[string]*Item
	closed bool
	logger *zap.Logger
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore(logger *zap.Logger) *InMemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryStore{
		items:  make(map[string]*Item),
		logger: logger,
	}
}

// Insert stores a new item.
func (s *InMemoryStore) Insert(ctx context.Context, item *Item) error {
	if err := item.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.items[item.ID]; exists {
		return fmt.Errorf("%w: duplicate ID %s", ErrInvalidItem, item.ID)
	}
	s.items[item.ID] = item.Clone()
	return nil
}

// Get returns a copy of the item with the given identifier.
func (s *InMemoryStore) Get(ctx context.Context, id string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	item, ok := s.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	return item.Clone(), nil
}

// ResolvePrefix maps a short identifier to the full identifier.
func (s *InMemoryStore) ResolvePrefix(ctx context.Context, prefix string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrStoreClosed
	}

	var full string
	for id := range s.items {
		if strings.HasPrefix(id, prefix) {
			if full != "" {
				return "", ErrAmbiguousPrefix
			}
			full = id
		}
	}
	if full == "" {
		return "", ErrItemNotFound
	}
	return full, nil
}

// ListByTier returns items with the given tier in exactly the given scope.
func (s *InMemoryStore) ListByTier(ctx context.Context, scope Scope, tier Tier) ([]*Item, error) {
	return s.list(func(it *Item) bool {
		return it.Scope.Key() == scope.Key() && it.Tier == tier
	})
}

// ListAutoInject returns auto-inject items in exactly the given scope.
func (s *InMemoryStore) ListAutoInject(ctx context.Context, scope Scope) ([]*Item, error) {
	return s.list(func(it *Item) bool {
		return it.Scope.Key() == scope.Key() && it.AutoInject
	})
}

// ListByTrigger returns reference items triggered by taskType in the scope.
func (s *InMemoryStore) ListByTrigger(ctx context.Context, scope Scope, taskType string) ([]*Item, error) {
	return s.list(func(it *Item) bool {
		if it.Scope.Key() != scope.Key() || it.Tier != TierReference {
			return false
		}
		for _, t := range it.TriggerTaskTypes {
			if t == taskType {
				return true
			}
		}
		return false
	})
}

// ListByScope returns every item in exactly the given scope.
func (s *InMemoryStore) ListByScope(ctx context.Context, scope Scope) ([]*Item, error) {
	return s.list(func(it *Item) bool {
		return it.Scope.Key() == scope.Key()
	})
}

func (s *InMemoryStore) list(keep func(*Item) bool) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var out []*Item
	for _, it := range s.items {
		if keep(it) {
			out = append(out, it.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ApplyCuration applies batched curation updates. The batch fails without
// partial application when any identifier is unknown.
func (s *InMemoryStore) ApplyCuration(ctx context.Context, updates []CurationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	for _, u := range updates {
		if _, ok := s.items[u.ID]; !ok {
			return fmt.Errorf("%w: %s", ErrItemNotFound, u.ID)
		}
	}

	now := time.Now()
	for _, u := range updates {
		it := s.items[u.ID]
		if u.Tier != nil {
			it.Tier = *u.Tier
		}
		if u.Pinned != nil {
			it.Pinned = *u.Pinned
		}
		if u.AutoInject != nil {
			it.AutoInject = *u.AutoInject
		}
		if u.DisplayOrder != nil {
			it.DisplayOrder = *u.DisplayOrder
		}
		if u.TriggerTaskTypes != nil {
			it.TriggerTaskTypes = append([]string(nil), u.TriggerTaskTypes...)
		}
		if u.Summary != nil {
			it.Summary = *u.Summary
		}
		it.UpdatedAt = now
	}
	return nil
}

// AddUsage applies batched additive usage updates. Unknown identifiers are
// skipped: stale counters for retired items are not errors.
func (s *InMemoryStore) AddUsage(ctx context.Context, deltas []UsageDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	now := time.Now()
	for _, d := range deltas {
		it, ok := s.items[d.ID]
		if !ok {
			s.logger.Debug("usage delta for unknown item skipped", zap.String("id", d.ID))
			continue
		}
		it.Usage.Loaded += d.Loaded
		it.Usage.Referenced += d.Referenced
		it.Usage.Helpful += d.Helpful
		it.Usage.Harmful += d.Harmful
		it.Usage.Utility = it.Usage.Effectiveness()
		if d.Loaded > 0 || d.Referenced > 0 {
			it.LastUsedAt = now
		}
		it.UpdatedAt = now
	}
	return nil
}

// SearchSimilar ranks items in the query scope by token overlap with the
// query text.
func (s *InMemoryStore) SearchSimilar(ctx context.Context, q SimilarityQuery) ([]SimilarMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var matches []SimilarMatch
	for _, it := range s.items {
		if it.Scope.Key() != q.Scope.Key() {
			continue
		}
		if q.Tier != "" && it.Tier != q.Tier {
			continue
		}
		text := it.Content
		if len(it.Synonyms) > 0 {
			text += " " + strings.Join(it.Synonyms, " ")
		}
		sim := tokenOverlap(q.Text, text)
		if sim <= 0 {
			continue
		}
		matches = append(matches, SimilarMatch{
			ID:         it.ID,
			Content:    it.Content,
			Summary:    it.Summary,
			Similarity: sim,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})
	if q.TopK > 0 && len(matches) > q.TopK {
		matches = matches[:q.TopK]
	}
	return matches, nil
}

// MergeSynonym appends an alternate phrasing to a canonical item and folds
// the absorbed item's usage statistics into it.
func (s *InMemoryStore) MergeSynonym(ctx context.Context, canonicalID, synonym string, stats UsageDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	it, ok := s.items[canonicalID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, canonicalID)
	}
	it.Synonyms = append(it.Synonyms, synonym)
	it.Usage.Loaded += stats.Loaded
	it.Usage.Referenced += stats.Referenced
	it.Usage.Helpful += stats.Helpful
	it.Usage.Harmful += stats.Harmful
	it.Usage.Utility = it.Usage.Effectiveness()
	it.UpdatedAt = time.Now()
	return nil
}

// Link records a directed "refines" relationship.
func (s *InMemoryStore) Link(ctx context.Context, fromID, toID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	from, ok := s.items[fromID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, fromID)
	}
	if _, ok := s.items[toID]; !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, toID)
	}
	from.RefinesID = toID
	from.UpdatedAt = time.Now()
	return nil
}

// Promote copies an item into the target scope under a fresh identifier and
// retires the original. Timestamps and usage counters carry over so the
// promoted copy keeps its history.
func (s *InMemoryStore) Promote(ctx context.Context, id string, target Scope) (string, error) {
	if err := target.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrStoreClosed
	}

	it, ok := s.items[id]
	if !ok {
		return "", ErrItemNotFound
	}

	promoted := it.Clone()
	promoted.ID = uuid.New().String()
	promoted.Scope = target
	promoted.UpdatedAt = time.Now()

	s.items[promoted.ID] = promoted
	delete(s.items, id)
	return promoted.ID, nil
}

// Close marks the store closed. Subsequent operations fail with
// ErrStoreClosed.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of stored items.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// tokenOverlap computes Jaccard similarity between the lowercase token sets
// of two texts.
func tokenOverlap(a, b string) float64 {
	as := tokenSet(a)
	bs := tokenSet(b)
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}

	inter := 0
	for tok := range as {
		if _, ok := bs[tok]; ok {
			inter++
		}
	}
	union := len(as) + len(bs) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[strings.Trim(tok, ".,;:!?()[]{}\"'")] = struct{}{}
	}
	delete(set, "")
	return set
}
