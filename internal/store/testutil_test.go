package store_test

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
)

// testEmbedder generates deterministic normalized embeddings for tests.
// Each whitespace token hashes into a bucket, so identical texts embed
// identically and texts with no shared tokens land far apart.
type testEmbedder struct {
	vectorSize int
}

func (e *testEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = e.makeEmbedding(text)
	}
	return embeddings, nil
}

func (e *testEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.makeEmbedding(text), nil
}

func (e *testEmbedder) makeEmbedding(text string) []float32 {
	embedding := make([]float32, e.vectorSize)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		hash := 0
		for _, c := range token {
			hash = hash*31 + int(c)
		}
		if hash < 0 {
			hash = -hash
		}
		embedding[hash%e.vectorSize]++
	}
	var sumSq float64
	for _, v := range embedding {
		sumSq += float64(v) * float64(v)
	}
	if sumSq > 0 {
		norm := float32(1.0 / math.Sqrt(sumSq))
		for i := range embedding {
			embedding[i] *= norm
		}
	}
	return embedding
}

func newTestEmbedder() *testEmbedder {
	return &testEmbedder{vectorSize: 64}
}

// makeItem builds a valid reference-tier item for store tests.
func makeItem(t *testing.T, content string, scope knowledge.Scope) *knowledge.Item {
	t.Helper()
	now := time.Now()
	return &knowledge.Item{
		ID:        uuid.New().String(),
		Content:   content,
		Summary:   content,
		Tier:      knowledge.TierReference,
		Scope:     scope,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// insertItems stores the given items and fails the test on error.
func insertItems(t *testing.T, ctx context.Context, s knowledge.Store, items ...*knowledge.Item) {
	t.Helper()
	for _, it := range items {
		require.NoError(t, s.Insert(ctx, it))
	}
}
