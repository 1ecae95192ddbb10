package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
)

const providerChromem = "chromem"

// ChromemConfig holds configuration for the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.config/relevanced/store"
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the collection name. Default: "relevanced_items"
	Collection string

	// VectorSize is the expected embedding dimension. Must match the
	// embedder's output dimension. Default: 384
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/relevanced/store"
	}
	if c.Collection == "" {
		c.Collection = "relevanced_items"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// Validate validates the configuration.
func (c ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// ChromemStore is a knowledge.Store backed by embedded chromem-go.
//
// chromem-go persists documents to gob files and answers similarity
// queries, but has no listing or filtering primitives beyond search, so the
// adapter keeps an authoritative in-process index (the same InMemoryStore
// the tests use) hydrated from disk at open. Reads are served from the
// index; writes go through the index first and are then persisted. The
// stored embedding rides along in the hydration results, so metadata
// updates never re-embed.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   Embedder
	config     ChromemConfig
	logger     *zap.Logger
	mem        *knowledge.InMemoryStore

	// mu serializes mutations so the index and the persisted copy cannot
	// interleave.
	mu      sync.Mutex
	vectors map[string][]float32
}

// NewChromemStore opens (or creates) the persistent database at the
// configured path and hydrates the in-process index from it.
func NewChromemStore(cfg ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, ErrEmbedderRequired)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	path, err := expandPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}

	s := &ChromemStore{
		db:       db,
		embedder: embedder,
		config:   cfg,
		logger:   logger,
		mem:      knowledge.NewInMemoryStore(logger),
		vectors:  make(map[string][]float32),
	}

	s.collection, err = db.GetOrCreateCollection(cfg.Collection, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", cfg.Collection, err)
	}

	if err := s.hydrate(context.Background()); err != nil {
		return nil, fmt.Errorf("hydrating index: %w", err)
	}

	logger.Info("chromem store opened",
		zap.String("path", path),
		zap.String("collection", cfg.Collection),
		zap.Int("vector_size", cfg.VectorSize),
		zap.Int("items", s.mem.Len()),
	)
	return s, nil
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

// hydrate loads every persisted document into the in-process index. A unit
// probe vector ranks all documents without calling the embedder.
func (s *ChromemStore) hydrate(ctx context.Context) error {
	count := s.collection.Count()
	if count == 0 {
		return nil
	}

	probe := make([]float32, s.config.VectorSize)
	probe[0] = 1

	results, err := s.collection.QueryEmbedding(ctx, probe, count, nil, nil)
	if err != nil {
		return fmt.Errorf("listing persisted documents: %w", err)
	}

	for _, r := range results {
		it, err := decodeItem(r.Metadata[metaKeyItem])
		if err != nil {
			s.logger.Warn("skipping undecodable persisted item",
				zap.String("id", r.ID), zap.Error(err))
			continue
		}
		if err := s.mem.Insert(ctx, it); err != nil {
			s.logger.Warn("skipping persisted item rejected by index",
				zap.String("id", it.ID), zap.Error(err))
			continue
		}
		s.vectors[it.ID] = r.Embedding
	}
	return nil
}

// chromemMetadata builds the flat metadata map stored next to the wire
// document.
func chromemMetadata(it *knowledge.Item, doc string) map[string]string {
	return map[string]string{
		metaKeyItem:       doc,
		metaKeyID:         it.ID,
		metaKeyShortID:    it.ShortID(),
		metaKeyScope:      it.Scope.Key(),
		metaKeyTier:       string(it.Tier),
		metaKeyAutoInject: strconv.FormatBool(it.AutoInject),
	}
}

// vectorFor returns the cached embedding for an item, embedding its text
// when the cache has no entry.
func (s *ChromemStore) vectorFor(ctx context.Context, it *knowledge.Item) ([]float32, error) {
	if vec, ok := s.vectors[it.ID]; ok {
		return vec, nil
	}
	vec, err := s.embedder.EmbedDocuments(ctx, []string{embedText(it)})
	if err != nil {
		return nil, fmt.Errorf("embedding item %s: %w", it.ID, err)
	}
	s.vectors[it.ID] = vec[0]
	return vec[0], nil
}

// persist writes the current state of an item to the chromem collection,
// replacing any previous document with the same identifier.
func (s *ChromemStore) persist(ctx context.Context, it *knowledge.Item, vec []float32, replace bool) error {
	doc, err := encodeItem(it)
	if err != nil {
		return err
	}
	if replace {
		if err := s.collection.Delete(ctx, nil, nil, it.ID); err != nil {
			return fmt.Errorf("removing stale document %s: %w", it.ID, err)
		}
	}
	err = s.collection.AddDocuments(ctx, []chromem.Document{{
		ID:        it.ID,
		Content:   embedText(it),
		Metadata:  chromemMetadata(it, doc),
		Embedding: vec,
	}}, 1)
	if err != nil {
		return fmt.Errorf("persisting item %s: %w", it.ID, err)
	}
	return nil
}

// persistCurrent re-persists an item by identifier using its cached vector.
func (s *ChromemStore) persistCurrent(ctx context.Context, id string) error {
	it, err := s.mem.Get(ctx, id)
	if err != nil {
		return err
	}
	vec, err := s.vectorFor(ctx, it)
	if err != nil {
		return err
	}
	return s.persist(ctx, it, vec, true)
}

// Insert stores a new item.
func (s *ChromemStore) Insert(ctx context.Context, item *knowledge.Item) (err error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.Insert")
	defer span.End()
	start := time.Now()
	defer func() { observe(providerChromem, "insert", start, err) }()

	if err = item.Validate(); err != nil {
		span.RecordError(err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.mem.Get(ctx, item.ID); err == nil {
		return fmt.Errorf("%w: duplicate ID %s", knowledge.ErrInvalidItem, item.ID)
	}

	vecs, err := s.embedder.EmbedDocuments(ctx, []string{embedText(item)})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("embedding item %s: %w", item.ID, err)
	}

	if err = s.persist(ctx, item, vecs[0], false); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err = s.mem.Insert(ctx, item); err != nil {
		span.RecordError(err)
		return err
	}
	s.vectors[item.ID] = vecs[0]
	return nil
}

// Get returns the item with the given identifier.
func (s *ChromemStore) Get(ctx context.Context, id string) (*knowledge.Item, error) {
	return s.mem.Get(ctx, id)
}

// ResolvePrefix maps a short identifier to the full identifier.
func (s *ChromemStore) ResolvePrefix(ctx context.Context, prefix string) (string, error) {
	return s.mem.ResolvePrefix(ctx, prefix)
}

// ListByTier returns items with the given tier in exactly the given scope.
func (s *ChromemStore) ListByTier(ctx context.Context, scope knowledge.Scope, tier knowledge.Tier) ([]*knowledge.Item, error) {
	return s.mem.ListByTier(ctx, scope, tier)
}

// ListAutoInject returns auto-inject items in exactly the given scope.
func (s *ChromemStore) ListAutoInject(ctx context.Context, scope knowledge.Scope) ([]*knowledge.Item, error) {
	return s.mem.ListAutoInject(ctx, scope)
}

// ListByTrigger returns reference items triggered by taskType in the scope.
func (s *ChromemStore) ListByTrigger(ctx context.Context, scope knowledge.Scope, taskType string) ([]*knowledge.Item, error) {
	return s.mem.ListByTrigger(ctx, scope, taskType)
}

// ListByScope returns every item in exactly the given scope.
func (s *ChromemStore) ListByScope(ctx context.Context, scope knowledge.Scope) ([]*knowledge.Item, error) {
	return s.mem.ListByScope(ctx, scope)
}

// ApplyCuration applies batched curation updates and persists the touched
// items.
func (s *ChromemStore) ApplyCuration(ctx context.Context, updates []knowledge.CurationUpdate) (err error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.ApplyCuration")
	defer span.End()
	span.SetAttributes(attribute.Int("update_count", len(updates)))
	start := time.Now()
	defer func() { observe(providerChromem, "apply_curation", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.mem.ApplyCuration(ctx, updates); err != nil {
		span.RecordError(err)
		return err
	}
	for _, u := range updates {
		if err = s.persistCurrent(ctx, u.ID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	return nil
}

// AddUsage applies batched additive usage updates and persists the touched
// items. Unknown identifiers are skipped.
func (s *ChromemStore) AddUsage(ctx context.Context, deltas []knowledge.UsageDelta) (err error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.AddUsage")
	defer span.End()
	span.SetAttributes(attribute.Int("delta_count", len(deltas)))
	start := time.Now()
	defer func() { observe(providerChromem, "add_usage", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.mem.AddUsage(ctx, deltas); err != nil {
		span.RecordError(err)
		return err
	}
	for _, d := range deltas {
		perr := s.persistCurrent(ctx, d.ID)
		if perr == nil || errors.Is(perr, knowledge.ErrItemNotFound) {
			continue
		}
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		err = perr
		return err
	}
	return nil
}

// MergeSynonym appends an alternate phrasing to a canonical item, folds in
// the absorbed usage statistics, and re-embeds so the synonym text
// participates in similarity.
func (s *ChromemStore) MergeSynonym(ctx context.Context, canonicalID, synonym string, stats knowledge.UsageDelta) (err error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.MergeSynonym")
	defer span.End()
	start := time.Now()
	defer func() { observe(providerChromem, "merge_synonym", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.mem.MergeSynonym(ctx, canonicalID, synonym, stats); err != nil {
		span.RecordError(err)
		return err
	}

	it, err := s.mem.Get(ctx, canonicalID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	vecs, err := s.embedder.EmbedDocuments(ctx, []string{embedText(it)})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("embedding item %s: %w", canonicalID, err)
	}
	s.vectors[canonicalID] = vecs[0]
	if err = s.persist(ctx, it, vecs[0], true); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Link records a directed "refines" relationship.
func (s *ChromemStore) Link(ctx context.Context, fromID, toID string) (err error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.Link")
	defer span.End()
	start := time.Now()
	defer func() { observe(providerChromem, "link", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.mem.Link(ctx, fromID, toID); err != nil {
		span.RecordError(err)
		return err
	}
	if err = s.persistCurrent(ctx, fromID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Promote copies an item into the target scope under a fresh identifier
// and retires the original, on disk as well as in the index.
func (s *ChromemStore) Promote(ctx context.Context, id string, target knowledge.Scope) (newID string, err error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.Promote")
	defer span.End()
	span.SetAttributes(attribute.String("target_scope", target.Key()))
	start := time.Now()
	defer func() { observe(providerChromem, "promote", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	newID, err = s.mem.Promote(ctx, id, target)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	promoted, err := s.mem.Get(ctx, newID)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	// Content is unchanged by promotion, so the original's vector carries
	// over.
	vec, ok := s.vectors[id]
	if !ok {
		if vec, err = s.vectorFor(ctx, promoted); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
	}

	if err = s.persist(ctx, promoted, vec, false); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if err = s.collection.Delete(ctx, nil, nil, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("removing promoted original %s: %w", id, err)
	}
	s.vectors[newID] = vec
	delete(s.vectors, id)
	return newID, nil
}

// SearchSimilar performs vector-similarity search over the chromem
// collection, filtered to the query scope and optional tier.
func (s *ChromemStore) SearchSimilar(ctx context.Context, q knowledge.SimilarityQuery) (matches []knowledge.SimilarMatch, err error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.SearchSimilar")
	defer span.End()
	span.SetAttributes(
		attribute.String("scope", q.Scope.Key()),
		attribute.Int("top_k", q.TopK),
	)
	start := time.Now()
	defer func() { observe(providerChromem, "search_similar", start, err) }()

	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}

	vec, err := s.embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	where := map[string]string{metaKeyScope: q.Scope.Key()}
	if q.Tier != "" {
		where[metaKeyTier] = string(q.Tier)
	}

	k := q.TopK
	if k <= 0 || k > count {
		k = count
	}

	results, err := s.collection.QueryEmbedding(ctx, vec, k, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	matches = make([]knowledge.SimilarMatch, 0, len(results))
	for _, r := range results {
		if r.Similarity <= 0 {
			continue
		}
		it, derr := decodeItem(r.Metadata[metaKeyItem])
		if derr != nil {
			s.logger.Warn("skipping undecodable search hit",
				zap.String("id", r.ID), zap.Error(derr))
			continue
		}
		matches = append(matches, knowledge.SimilarMatch{
			ID:         it.ID,
			Content:    it.Content,
			Summary:    it.Summary,
			Similarity: float64(r.Similarity),
		})
	}
	span.SetAttributes(attribute.Int("results", len(matches)))
	return matches, nil
}

// Close marks the index closed. chromem persists synchronously, so there is
// nothing to flush.
func (s *ChromemStore) Close() error {
	return s.mem.Close()
}
