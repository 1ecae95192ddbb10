package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
)

const providerQdrant = "qdrant"

const (
	// scrollPageSize is the page size for listing scans.
	scrollPageSize = 256

	// defaultSearchLimit caps similarity results when the caller passes no
	// TopK.
	defaultSearchLimit = 10
)

// QdrantConfig holds configuration for the Qdrant gRPC backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (not the HTTP REST port).
	// Default: 6334
	Port int

	// Collection is the collection holding knowledge items.
	// Default: "relevanced_items"
	Collection string

	// VectorSize is the embedding dimension. Must match the embedder's
	// output dimension. Default: 384
	VectorSize uint64

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries is the retry budget for transient failures. Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per retry.
	// Default: 1s
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "relevanced_items"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// isTransientGRPC reports whether an error is worth retrying: network
// timeouts and temporary unavailability, not invalid arguments or missing
// resources.
func isTransientGRPC(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore is a knowledge.Store backed by an external Qdrant server over
// its native gRPC transport.
//
// Items are points keyed by their UUID. The wire document rides in the
// payload next to flat filter fields; listings scroll by filter, and
// updates are read-modify-write upserts that reuse the stored vector when
// the embedded text is unchanged.
type QdrantStore struct {
	client   *qdrant.Client
	embedder Embedder
	config   QdrantConfig
	logger   *zap.Logger
}

// NewQdrantStore connects to the configured server, health-checks it, and
// ensures the collection exists.
func NewQdrantStore(cfg QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantStore, error) {
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

	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext, insecure for production",
			zap.String("host", cfg.Host), zap.Int("port", cfg.Port))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to qdrant: %v", knowledge.ErrStoreUnavailable, err)
	}

	s := &QdrantStore{
		client:   client,
		embedder: embedder,
		config:   cfg,
		logger:   logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", knowledge.ErrStoreUnavailable, err)
	}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant store connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("collection", cfg.Collection),
		zap.Uint64("vector_size", cfg.VectorSize),
	)
	return s, nil
}

// ensureCollection creates the items collection when it does not exist yet.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	var exists bool
	err := s.retry(ctx, "collection_exists", func() error {
		_, err := s.client.GetCollectionInfo(ctx, s.config.Collection)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				exists = false
				return nil
			}
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.config.Collection, err)
	}
	if exists {
		return nil
	}

	err = s.retry(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.config.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}
	return nil
}

// retry runs an operation with exponential backoff on transient gRPC
// failures. Permanent failures return immediately; an exhausted budget
// wraps ErrStoreUnavailable so selection can degrade.
func (s *QdrantStore) retry(ctx context.Context, op string, fn func() error) error {
	backoff := s.config.RetryBackoff
	var err error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isTransientGRPC(err) {
			return fmt.Errorf("%s failed: %w", op, err)
		}
		if attempt == s.config.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", op, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return fmt.Errorf("%w: %s failed after %d retries: %w",
		knowledge.ErrStoreUnavailable, op, s.config.MaxRetries, err)
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func mustFilter(conds ...*qdrant.Condition) *qdrant.Filter {
	return &qdrant.Filter{Must: conds}
}

// qdrantPayload builds the point payload: wire document plus flat filter
// fields. Trigger task types are stored as a keyword list so the server
// can match membership.
func qdrantPayload(it *knowledge.Item, doc string) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		metaKeyItem:       {Kind: &qdrant.Value_StringValue{StringValue: doc}},
		metaKeyID:         {Kind: &qdrant.Value_StringValue{StringValue: it.ID}},
		metaKeyShortID:    {Kind: &qdrant.Value_StringValue{StringValue: it.ShortID()}},
		metaKeyScope:      {Kind: &qdrant.Value_StringValue{StringValue: it.Scope.Key()}},
		metaKeyTier:       {Kind: &qdrant.Value_StringValue{StringValue: string(it.Tier)}},
		metaKeyAutoInject: {Kind: &qdrant.Value_StringValue{StringValue: strconv.FormatBool(it.AutoInject)}},
	}
	if len(it.TriggerTaskTypes) > 0 {
		vals := make([]*qdrant.Value, len(it.TriggerTaskTypes))
		for i, t := range it.TriggerTaskTypes {
			vals[i] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: t}}
		}
		payload[metaKeyTriggers] = &qdrant.Value{
			Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: vals}},
		}
	}
	return payload
}

// decodePoint extracts the item from a retrieved point's payload.
func decodePoint(point *qdrant.RetrievedPoint) (*knowledge.Item, error) {
	val, ok := point.Payload[metaKeyItem]
	if !ok {
		return nil, fmt.Errorf("point payload missing %s field", metaKeyItem)
	}
	doc, ok := val.Kind.(*qdrant.Value_StringValue)
	if !ok {
		return nil, fmt.Errorf("point payload %s is not a string", metaKeyItem)
	}
	return decodeItem(doc.StringValue)
}

// pointVector extracts the stored embedding from a retrieved point.
func pointVector(point *qdrant.RetrievedPoint) []float32 {
	if vectors := point.GetVectors(); vectors != nil {
		if v := vectors.GetVector(); v != nil {
			return v.GetData()
		}
	}
	return nil
}

// upsertRow pairs an item with the vector to store for it.
type upsertRow struct {
	item   *knowledge.Item
	vector []float32
}

// upsert writes a batch of items in one call.
func (s *QdrantStore) upsert(ctx context.Context, rows []upsertRow) error {
	points := make([]*qdrant.PointStruct, len(rows))
	for i, row := range rows {
		doc, err := encodeItem(row.item)
		if err != nil {
			return err
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(row.item.ID),
			Vectors: qdrant.NewVectors(row.vector...),
			Payload: qdrantPayload(row.item, doc),
		}
	}
	return s.retry(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Points:         points,
		})
		return err
	})
}

// scrollAll pages through every point matching the filter.
func (s *QdrantStore) scrollAll(ctx context.Context, filter *qdrant.Filter, withVectors bool) ([]*qdrant.RetrievedPoint, error) {
	var out []*qdrant.RetrievedPoint
	var offset *qdrant.PointId
	for {
		var page []*qdrant.RetrievedPoint
		var next *qdrant.PointId
		err := s.retry(ctx, "scroll", func() error {
			points, nextOffset, err := s.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
				CollectionName: s.config.Collection,
				Filter:         filter,
				Offset:         offset,
				Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
				WithPayload:    qdrant.NewWithPayload(true),
				WithVectors:    qdrant.NewWithVectors(withVectors),
			})
			if err != nil {
				return err
			}
			page, next = points, nextOffset
			return nil
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if next == nil || len(page) < scrollPageSize {
			return out, nil
		}
		offset = next
	}
}

// getPoint fetches one item and its stored vector by full identifier.
func (s *QdrantStore) getPoint(ctx context.Context, id string) (*knowledge.Item, []float32, error) {
	var page []*qdrant.RetrievedPoint
	err := s.retry(ctx, "get", func() error {
		points, _, err := s.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: s.config.Collection,
			Filter:         mustFilter(keywordCondition(metaKeyID, id)),
			Limit:          qdrant.PtrOf(uint32(1)),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return err
		}
		page = points
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(page) == 0 {
		return nil, nil, knowledge.ErrItemNotFound
	}
	it, err := decodePoint(page[0])
	if err != nil {
		return nil, nil, err
	}
	return it, pointVector(page[0]), nil
}

// getBatch fetches the points for a set of identifiers in one scroll.
func (s *QdrantStore) getBatch(ctx context.Context, ids []string) (map[string]upsertRow, error) {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: metaKeyID,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{
							Keywords: &qdrant.RepeatedStrings{Strings: ids},
						},
					},
				},
			},
		}},
	}
	points, err := s.scrollAll(ctx, filter, true)
	if err != nil {
		return nil, err
	}
	rows := make(map[string]upsertRow, len(points))
	for _, p := range points {
		it, err := decodePoint(p)
		if err != nil {
			s.logger.Warn("skipping undecodable point", zap.Error(err))
			continue
		}
		rows[it.ID] = upsertRow{item: it, vector: pointVector(p)}
	}
	return rows, nil
}

func (s *QdrantStore) deleteByID(ctx context.Context, id string) error {
	return s.retry(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: mustFilter(keywordCondition(metaKeyID, id)),
				},
			},
		})
		return err
	})
}

// Insert stores a new item.
func (s *QdrantStore) Insert(ctx context.Context, item *knowledge.Item) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Insert")
	defer span.End()
	start := time.Now()
	defer func() { observe(providerQdrant, "insert", start, err) }()

	if err = item.Validate(); err != nil {
		span.RecordError(err)
		return err
	}

	if _, _, gerr := s.getPoint(ctx, item.ID); gerr == nil {
		return fmt.Errorf("%w: duplicate ID %s", knowledge.ErrInvalidItem, item.ID)
	}

	vecs, err := s.embedder.EmbedDocuments(ctx, []string{embedText(item)})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("embedding item %s: %w", item.ID, err)
	}

	if err = s.upsert(ctx, []upsertRow{{item: item, vector: vecs[0]}}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Get returns the item with the given identifier.
func (s *QdrantStore) Get(ctx context.Context, id string) (*knowledge.Item, error) {
	it, _, err := s.getPoint(ctx, id)
	return it, err
}

// ResolvePrefix maps a short identifier to the full identifier. Prefixes of
// the citation length hit the indexed short_id field; anything else scans.
func (s *QdrantStore) ResolvePrefix(ctx context.Context, prefix string) (string, error) {
	if len(prefix) == shortIDLength {
		var page []*qdrant.RetrievedPoint
		err := s.retry(ctx, "resolve_prefix", func() error {
			points, _, err := s.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
				CollectionName: s.config.Collection,
				Filter:         mustFilter(keywordCondition(metaKeyShortID, prefix)),
				Limit:          qdrant.PtrOf(uint32(2)),
				WithPayload:    qdrant.NewWithPayload(true),
			})
			if err != nil {
				return err
			}
			page = points
			return nil
		})
		if err != nil {
			return "", err
		}
		switch len(page) {
		case 0:
			return "", knowledge.ErrItemNotFound
		case 1:
			it, err := decodePoint(page[0])
			if err != nil {
				return "", err
			}
			return it.ID, nil
		default:
			return "", knowledge.ErrAmbiguousPrefix
		}
	}

	points, err := s.scrollAll(ctx, nil, false)
	if err != nil {
		return "", err
	}
	var full string
	for _, p := range points {
		it, derr := decodePoint(p)
		if derr != nil {
			continue
		}
		if len(it.ID) >= len(prefix) && it.ID[:len(prefix)] == prefix {
			if full != "" {
				return "", knowledge.ErrAmbiguousPrefix
			}
			full = it.ID
		}
	}
	if full == "" {
		return "", knowledge.ErrItemNotFound
	}
	return full, nil
}

// listFiltered scrolls the filter, decodes, and orders the results.
func (s *QdrantStore) listFiltered(ctx context.Context, op string, filter *qdrant.Filter) (items []*knowledge.Item, err error) {
	start := time.Now()
	defer func() { observe(providerQdrant, op, start, err) }()

	points, err := s.scrollAll(ctx, filter, false)
	if err != nil {
		return nil, err
	}
	items = make([]*knowledge.Item, 0, len(points))
	for _, p := range points {
		it, derr := decodePoint(p)
		if derr != nil {
			s.logger.Warn("skipping undecodable point", zap.Error(derr))
			continue
		}
		items = append(items, it)
	}
	sortItems(items)
	return items, nil
}

// ListByTier returns items with the given tier in exactly the given scope.
func (s *QdrantStore) ListByTier(ctx context.Context, scope knowledge.Scope, tier knowledge.Tier) ([]*knowledge.Item, error) {
	return s.listFiltered(ctx, "list_by_tier", mustFilter(
		keywordCondition(metaKeyScope, scope.Key()),
		keywordCondition(metaKeyTier, string(tier)),
	))
}

// ListAutoInject returns auto-inject items in exactly the given scope.
func (s *QdrantStore) ListAutoInject(ctx context.Context, scope knowledge.Scope) ([]*knowledge.Item, error) {
	return s.listFiltered(ctx, "list_auto_inject", mustFilter(
		keywordCondition(metaKeyScope, scope.Key()),
		keywordCondition(metaKeyAutoInject, "true"),
	))
}

// ListByTrigger returns reference items triggered by taskType in the scope.
func (s *QdrantStore) ListByTrigger(ctx context.Context, scope knowledge.Scope, taskType string) ([]*knowledge.Item, error) {
	return s.listFiltered(ctx, "list_by_trigger", mustFilter(
		keywordCondition(metaKeyScope, scope.Key()),
		keywordCondition(metaKeyTier, string(knowledge.TierReference)),
		keywordCondition(metaKeyTriggers, taskType),
	))
}

// ListByScope returns every item in exactly the given scope.
func (s *QdrantStore) ListByScope(ctx context.Context, scope knowledge.Scope) ([]*knowledge.Item, error) {
	return s.listFiltered(ctx, "list_by_scope", mustFilter(
		keywordCondition(metaKeyScope, scope.Key()),
	))
}

// ApplyCuration applies batched curation updates. The batch fails without
// partial application when any identifier is unknown.
func (s *QdrantStore) ApplyCuration(ctx context.Context, updates []knowledge.CurationUpdate) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.ApplyCuration")
	defer span.End()
	span.SetAttributes(attribute.Int("update_count", len(updates)))
	start := time.Now()
	defer func() { observe(providerQdrant, "apply_curation", start, err) }()

	if len(updates) == 0 {
		return nil
	}

	ids := make([]string, len(updates))
	for i, u := range updates {
		ids[i] = u.ID
	}
	rows, err := s.getBatch(ctx, ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	for _, u := range updates {
		if _, ok := rows[u.ID]; !ok {
			err = fmt.Errorf("%w: %s", knowledge.ErrItemNotFound, u.ID)
			span.RecordError(err)
			return err
		}
	}

	now := time.Now()
	changed := make([]upsertRow, 0, len(rows))
	for _, u := range updates {
		row := rows[u.ID]
		applyCuration(row.item, u, now)
		rows[u.ID] = row
	}
	for _, row := range rows {
		changed = append(changed, row)
	}

	if err = s.upsert(ctx, changed); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// AddUsage applies batched additive usage updates. Unknown identifiers are
// skipped.
func (s *QdrantStore) AddUsage(ctx context.Context, deltas []knowledge.UsageDelta) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.AddUsage")
	defer span.End()
	span.SetAttributes(attribute.Int("delta_count", len(deltas)))
	start := time.Now()
	defer func() { observe(providerQdrant, "add_usage", start, err) }()

	if len(deltas) == 0 {
		return nil
	}

	ids := make([]string, len(deltas))
	for i, d := range deltas {
		ids[i] = d.ID
	}
	rows, err := s.getBatch(ctx, ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	now := time.Now()
	changed := make([]upsertRow, 0, len(rows))
	for _, d := range deltas {
		row, ok := rows[d.ID]
		if !ok {
			s.logger.Debug("usage delta for unknown item skipped", zap.String("id", d.ID))
			continue
		}
		applyUsage(row.item, d, now)
		rows[d.ID] = row
	}
	for _, row := range rows {
		changed = append(changed, row)
	}
	if len(changed) == 0 {
		return nil
	}

	if err = s.upsert(ctx, changed); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// SearchSimilar performs vector-similarity search, filtered to the query
// scope and optional tier.
func (s *QdrantStore) SearchSimilar(ctx context.Context, q knowledge.SimilarityQuery) (matches []knowledge.SimilarMatch, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.SearchSimilar")
	defer span.End()
	span.SetAttributes(
		attribute.String("scope", q.Scope.Key()),
		attribute.Int("top_k", q.TopK),
	)
	start := time.Now()
	defer func() { observe(providerQdrant, "search_similar", start, err) }()

	vec, err := s.embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	conds := []*qdrant.Condition{keywordCondition(metaKeyScope, q.Scope.Key())}
	if q.Tier != "" {
		conds = append(conds, keywordCondition(metaKeyTier, string(q.Tier)))
	}

	limit := q.TopK
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var points []*qdrant.ScoredPoint
	err = s.retry(ctx, "search", func() error {
		res, qerr := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(vec...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         mustFilter(conds...),
		})
		if qerr != nil {
			return qerr
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	matches = make([]knowledge.SimilarMatch, 0, len(points))
	for _, p := range points {
		sim := float64(p.Score)
		if sim <= 0 {
			continue
		}
		if sim > 1 {
			sim = 1
		}
		val, ok := p.Payload[metaKeyItem]
		if !ok {
			continue
		}
		doc, ok := val.Kind.(*qdrant.Value_StringValue)
		if !ok {
			continue
		}
		it, derr := decodeItem(doc.StringValue)
		if derr != nil {
			s.logger.Warn("skipping undecodable search hit", zap.Error(derr))
			continue
		}
		matches = append(matches, knowledge.SimilarMatch{
			ID:         it.ID,
			Content:    it.Content,
			Summary:    it.Summary,
			Similarity: sim,
		})
	}
	span.SetAttributes(attribute.Int("results", len(matches)))
	return matches, nil
}

// MergeSynonym appends an alternate phrasing to a canonical item, folds in
// the absorbed usage statistics, and re-embeds so the synonym text
// participates in similarity.
func (s *QdrantStore) MergeSynonym(ctx context.Context, canonicalID, synonym string, stats knowledge.UsageDelta) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.MergeSynonym")
	defer span.End()
	start := time.Now()
	defer func() { observe(providerQdrant, "merge_synonym", start, err) }()

	it, _, err := s.getPoint(ctx, canonicalID)
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
	if err = s.upsert(ctx, []upsertRow{{item: it, vector: vecs[0]}}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Link records a directed "refines" relationship.
func (s *QdrantStore) Link(ctx context.Context, fromID, toID string) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Link")
	defer span.End()
	start := time.Now()
	defer func() { observe(providerQdrant, "link", start, err) }()

	from, vec, err := s.getPoint(ctx, fromID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if _, _, err = s.getPoint(ctx, toID); err != nil {
		span.RecordError(err)
		return err
	}

	from.RefinesID = toID
	from.UpdatedAt = time.Now()
	if err = s.upsert(ctx, []upsertRow{{item: from, vector: vec}}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Promote copies an item into the target scope under a fresh identifier
// and retires the original. The stored vector carries over since the
// embedded text is unchanged.
func (s *QdrantStore) Promote(ctx context.Context, id string, target knowledge.Scope) (newID string, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Promote")
	defer span.End()
	span.SetAttributes(attribute.String("target_scope", target.Key()))
	start := time.Now()
	defer func() { observe(providerQdrant, "promote", start, err) }()

	if err = target.Validate(); err != nil {
		span.RecordError(err)
		return "", err
	}

	it, vec, err := s.getPoint(ctx, id)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	promoted := it.Clone()
	promoted.ID = uuid.New().String()
	promoted.Scope = target
	promoted.UpdatedAt = time.Now()

	if err = s.upsert(ctx, []upsertRow{{item: promoted, vector: vec}}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if err = s.deleteByID(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("removing promoted original %s: %w", id, err)
	}
	return promoted.ID, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
