package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
)

const providerSQLite = "sqlite"

// SQLiteConfig holds configuration for the single-file SQLite backend.
type SQLiteConfig struct {
	// Path is the database file path. Supports ~ expansion.
	// Default: ~/.config/relevanced/items.db
	Path string
}

// ApplyDefaults sets default values for unset fields.
func (c *SQLiteConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/relevanced/items.db"
	}
}

// Validate validates the configuration.
func (c SQLiteConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path required", ErrInvalidConfig)
	}
	return nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS items (
	id          TEXT PRIMARY KEY,
	short_id    TEXT NOT NULL,
	scope_key   TEXT NOT NULL,
	tier        TEXT NOT NULL,
	auto_inject INTEGER NOT NULL DEFAULT 0,
	item        TEXT NOT NULL,
	embedding   BLOB NOT NULL,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_items_scope_tier ON items(scope_key, tier);
CREATE INDEX IF NOT EXISTS idx_items_short_id ON items(short_id);
`

// SQLiteStore is a knowledge.Store backed by a single SQLite file. The wire
// document rides in the item column next to flat filter columns; embeddings
// are packed float32 BLOBs and similarity is computed in process, which is
// fine at knowledge-base sizes (hundreds of items, not millions).
//
// Mutations serialize on a process-level mutex so read-modify-write cycles
// stay atomic without row locking.
type SQLiteStore struct {
	db       *sql.DB
	embedder Embedder
	config   SQLiteConfig
	logger   *zap.Logger

	mu sync.Mutex
}

// NewSQLiteStore opens or creates the database file, applies pragmas, and
// ensures the schema exists.
func NewSQLiteStore(cfg SQLiteConfig, embedder Embedder, logger *zap.Logger) (*SQLiteStore, error) {
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
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := enablePragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling pragmas: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &SQLiteStore{
		db:       db,
		embedder: embedder,
		config:   cfg,
		logger:   logger,
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM items").Scan(&count); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("counting items: %w", err)
	}
	logger.Info("sqlite store opened", zap.String("path", path), zap.Int("items", count))
	return s, nil
}

// enablePragmas sets pragmas for concurrent access and durability.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

func packEmbedding(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func unpackEmbedding(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertRow writes a new item row.
func insertRow(ctx context.Context, ex execer, it *knowledge.Item, embedding []byte) error {
	doc, err := encodeItem(it)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO items (id, short_id, scope_key, tier, auto_inject, item, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, it.ID, it.ShortID(), it.Scope.Key(), string(it.Tier), boolToInt(it.AutoInject), doc, embedding,
		it.CreatedAt.Unix(), it.UpdatedAt.Unix())
	return err
}

// updateRow rewrites an existing item row, preserving its embedding unless
// a new one is given.
func updateRow(ctx context.Context, ex execer, it *knowledge.Item, embedding []byte) error {
	doc, err := encodeItem(it)
	if err != nil {
		return err
	}
	if embedding != nil {
		_, err = ex.ExecContext(ctx, `
			UPDATE items SET scope_key = ?, tier = ?, auto_inject = ?, item = ?, embedding = ?, updated_at = ?
			WHERE id = ?
		`, it.Scope.Key(), string(it.Tier), boolToInt(it.AutoInject), doc, embedding, it.UpdatedAt.Unix(), it.ID)
		return err
	}
	_, err = ex.ExecContext(ctx, `
		UPDATE items SET scope_key = ?, tier = ?, auto_inject = ?, item = ?, updated_at = ?
		WHERE id = ?
	`, it.Scope.Key(), string(it.Tier), boolToInt(it.AutoInject), doc, it.UpdatedAt.Unix(), it.ID)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// fetchItem reads one item and its packed embedding.
func (s *SQLiteStore) fetchItem(ctx context.Context, id string) (*knowledge.Item, []byte, error) {
	var doc string
	var embedding []byte
	err := s.db.QueryRowContext(ctx, "SELECT item, embedding FROM items WHERE id = ?", id).Scan(&doc, &embedding)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, knowledge.ErrItemNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	it, err := decodeItem(doc)
	if err != nil {
		return nil, nil, err
	}
	return it, embedding, nil
}

// queryItems runs a SELECT over the item column, decodes, and orders.
func (s *SQLiteStore) queryItems(ctx context.Context, op, query string, args ...any) (items []*knowledge.Item, err error) {
	start := time.Now()
	defer func() { observe(providerSQLite, op, start, err) }()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var doc string
		if err = rows.Scan(&doc); err != nil {
			return nil, err
		}
		it, derr := decodeItem(doc)
		if derr != nil {
			s.logger.Warn("skipping undecodable row", zap.Error(derr))
			continue
		}
		items = append(items, it)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	sortItems(items)
	return items, nil
}

// Insert stores a new item.
func (s *SQLiteStore) Insert(ctx context.Context, item *knowledge.Item) (err error) {
	ctx, span := tracer.Start(ctx, "SQLiteStore.Insert")
	defer span.End()
	start := time.Now()
	defer func() { observe(providerSQLite, "insert", start, err) }()

	if err = item.Validate(); err != nil {
		span.RecordError(err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items WHERE id = ?", item.ID).Scan(&exists)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if exists > 0 {
		return fmt.Errorf("%w: duplicate ID %s", knowledge.ErrInvalidItem, item.ID)
	}

	vecs, err := s.embedder.EmbedDocuments(ctx, []string{embedText(item)})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("embedding item %s: %w", item.ID, err)
	}

	if err = insertRow(ctx, s.db, item, packEmbedding(vecs[0])); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Get returns the item with the given identifier.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*knowledge.Item, error) {
	it, _, err := s.fetchItem(ctx, id)
	return it, err
}

// ResolvePrefix maps an identifier prefix to the full identifier. Prefixes
// of the citation length hit the indexed short_id column; anything else
// scans by substring.
func (s *SQLiteStore) ResolvePrefix(ctx context.Context, prefix string) (string, error) {
	if prefix == "" {
		return "", knowledge.ErrItemNotFound
	}
	query := "SELECT id FROM items WHERE substr(id, 1, ?) = ? LIMIT 2"
	args := []any{len(prefix), prefix}
	if len(prefix) == shortIDLength {
		query = "SELECT id FROM items WHERE short_id = ? LIMIT 2"
		args = []any{prefix}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", knowledge.ErrItemNotFound
	case 1:
		return ids[0], nil
	default:
		return "", knowledge.ErrAmbiguousPrefix
	}
}

// ListByTier returns items with the given tier in exactly the given scope.
func (s *SQLiteStore) ListByTier(ctx context.Context, scope knowledge.Scope, tier knowledge.Tier) ([]*knowledge.Item, error) {
	return s.queryItems(ctx, "list_by_tier",
		"SELECT item FROM items WHERE scope_key = ? AND tier = ?", scope.Key(), string(tier))
}

// ListAutoInject returns auto-inject items in exactly the given scope.
func (s *SQLiteStore) ListAutoInject(ctx context.Context, scope knowledge.Scope) ([]*knowledge.Item, error) {
	return s.queryItems(ctx, "list_auto_inject",
		"SELECT item FROM items WHERE scope_key = ? AND auto_inject = 1", scope.Key())
}

// ListByTrigger returns reference items triggered by taskType in the scope.
// Trigger lists live inside the wire document, so the tier-filtered rows
// are narrowed in process.
func (s *SQLiteStore) ListByTrigger(ctx context.Context, scope knowledge.Scope, taskType string) ([]*knowledge.Item, error) {
	items, err := s.queryItems(ctx, "list_by_trigger",
		"SELECT item FROM items WHERE scope_key = ? AND tier = ?",
		scope.Key(), string(knowledge.TierReference))
	if err != nil {
		return nil, err
	}
	triggered := items[:0]
	for _, it := range items {
		if hasTriggerType(it, taskType) {
			triggered = append(triggered, it)
		}
	}
	return triggered, nil
}

// ListByScope returns every item in exactly the given scope.
func (s *SQLiteStore) ListByScope(ctx context.Context, scope knowledge.Scope) ([]*knowledge.Item, error) {
	return s.queryItems(ctx, "list_by_scope",
		"SELECT item FROM items WHERE scope_key = ?", scope.Key())
}

// ApplyCuration applies batched curation updates in one transaction. The
// batch fails without partial application when any identifier is unknown.
func (s *SQLiteStore) ApplyCuration(ctx context.Context, updates []knowledge.CurationUpdate) (err error) {
	ctx, span := tracer.Start(ctx, "SQLiteStore.ApplyCuration")
	defer span.End()
	span.SetAttributes(attribute.Int("update_count", len(updates)))
	start := time.Now()
	defer func() { observe(providerSQLite, "apply_curation", start, err) }()

	if len(updates) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]*knowledge.Item, len(updates))
	for _, u := range updates {
		if _, ok := current[u.ID]; ok {
			continue
		}
		it, _, ferr := s.fetchItem(ctx, u.ID)
		if ferr != nil {
			err = ferr
			span.RecordError(err)
			return err
		}
		current[u.ID] = it
	}

	now := time.Now()
	for _, u := range updates {
		applyCuration(current[u.ID], u, now)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer tx.Rollback()

	for _, it := range current {
		if err = updateRow(ctx, tx, it, nil); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// AddUsage applies batched additive usage updates in one transaction.
// Unknown identifiers are skipped.
func (s *SQLiteStore) AddUsage(ctx context.Context, deltas []knowledge.UsageDelta) (err error) {
	ctx, span := tracer.Start(ctx, "SQLiteStore.AddUsage")
	defer span.End()
	span.SetAttributes(attribute.Int("delta_count", len(deltas)))
	start := time.Now()
	defer func() { observe(providerSQLite, "add_usage", start, err) }()

	if len(deltas) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	current := make(map[string]*knowledge.Item, len(deltas))
	for _, d := range deltas {
		it, ok := current[d.ID]
		if !ok {
			var ferr error
			it, _, ferr = s.fetchItem(ctx, d.ID)
			if errors.Is(ferr, knowledge.ErrItemNotFound) {
				s.logger.Debug("usage delta for unknown item skipped", zap.String("id", d.ID))
				continue
			}
			if ferr != nil {
				err = ferr
				span.RecordError(err)
				return err
			}
			current[d.ID] = it
		}
		applyUsage(it, d, now)
	}
	if len(current) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer tx.Rollback()

	for _, it := range current {
		if err = updateRow(ctx, tx, it, nil); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// SearchSimilar embeds the query and scans scope-filtered rows, computing
// cosine similarity in process.
func (s *SQLiteStore) SearchSimilar(ctx context.Context, q knowledge.SimilarityQuery) (matches []knowledge.SimilarMatch, err error) {
	ctx, span := tracer.Start(ctx, "SQLiteStore.SearchSimilar")
	defer span.End()
	span.SetAttributes(
		attribute.String("scope", q.Scope.Key()),
		attribute.Int("top_k", q.TopK),
	)
	start := time.Now()
	defer func() { observe(providerSQLite, "search_similar", start, err) }()

	vec, err := s.embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	query := "SELECT item, embedding FROM items WHERE scope_key = ?"
	args := []any{q.Scope.Key()}
	if q.Tier != "" {
		query += " AND tier = ?"
		args = append(args, string(q.Tier))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var doc string
		var blob []byte
		if err = rows.Scan(&doc, &blob); err != nil {
			span.RecordError(err)
			return nil, err
		}
		it, derr := decodeItem(doc)
		if derr != nil {
			s.logger.Warn("skipping undecodable row", zap.Error(derr))
			continue
		}
		sim := cosineSimilarity(vec, unpackEmbedding(blob))
		if sim <= 0 {
			continue
		}
		matches = append(matches, knowledge.SimilarMatch{
			ID:         it.ID,
			Content:    it.Content,
			Summary:    it.Summary,
			Similarity: sim,
		})
	}
	if err = rows.Err(); err != nil {
		span.RecordError(err)
		return nil, err
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
	span.SetAttributes(attribute.Int("results", len(matches)))
	return matches, nil
}

// MergeSynonym appends an alternate phrasing to a canonical item, folds in
// the absorbed usage statistics, and re-embeds so the synonym text
// participates in similarity.
func (s *SQLiteStore) MergeSynonym(ctx context.Context, canonicalID, synonym string, stats knowledge.UsageDelta) (err error) {
	ctx, span := tracer.Start(ctx, "SQLiteStore.MergeSynonym")
	defer span.End()
	start := time.Now()
	defer func() { observe(providerSQLite, "merge_synonym", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	it, _, err := s.fetchItem(ctx, canonicalID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	applyMerge(it, synonym, stats, time.Now())

	vecs, err := s.embedder.EmbedDocuments(ctx, []string{embedText(it)})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("embedding item %s: %w", canonicalID, err)
	}
	if err = updateRow(ctx, s.db, it, packEmbedding(vecs[0])); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Link records a directed "refines" relationship.
func (s *SQLiteStore) Link(ctx context.Context, fromID, toID string) (err error) {
	ctx, span := tracer.Start(ctx, "SQLiteStore.Link")
	defer span.End()
	start := time.Now()
	defer func() { observe(providerSQLite, "link", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	from, _, err := s.fetchItem(ctx, fromID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if _, _, err = s.fetchItem(ctx, toID); err != nil {
		span.RecordError(err)
		return err
	}

	from.RefinesID = toID
	from.UpdatedAt = time.Now()
	if err = updateRow(ctx, s.db, from, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Promote copies an item into the target scope under a fresh identifier
// and retires the original in the same transaction. The stored embedding
// carries over since the embedded text is unchanged.
func (s *SQLiteStore) Promote(ctx context.Context, id string, target knowledge.Scope) (newID string, err error) {
	ctx, span := tracer.Start(ctx, "SQLiteStore.Promote")
	defer span.End()
	span.SetAttributes(attribute.String("target_scope", target.Key()))
	start := time.Now()
	defer func() { observe(providerSQLite, "promote", start, err) }()

	if err = target.Validate(); err != nil {
		span.RecordError(err)
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it, embedding, err := s.fetchItem(ctx, id)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	promoted := it.Clone()
	promoted.ID = uuid.New().String()
	promoted.Scope = target
	promoted.UpdatedAt = time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	defer tx.Rollback()

	if err = insertRow(ctx, tx, promoted, embedding); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM items WHERE id = ?", id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if err = tx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return promoted.ID, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
