package embeddings

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHashEmbedder(t *testing.T) {
	_, err := NewHashEmbedder(0)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	e, err := NewHashEmbedder(128)
	require.NoError(t, err)
	assert.Equal(t, 128, e.Dimension())
	assert.NoError(t, e.Close())
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	ctx := context.Background()
	e, err := NewHashEmbedder(64)
	require.NoError(t, err)

	a, err := e.EmbedQuery(ctx, "retry with exponential backoff")
	require.NoError(t, err)
	b, err := e.EmbedQuery(ctx, "retry with exponential backoff")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	docs, err := e.EmbedDocuments(ctx, []string{"retry with exponential backoff"})
	require.NoError(t, err)
	assert.Equal(t, a, docs[0])
}

func TestHashEmbedder_Normalized(t *testing.T) {
	ctx := context.Background()
	e, err := NewHashEmbedder(64)
	require.NoError(t, err)

	vec, err := e.EmbedQuery(ctx, "some multi token text here")
	require.NoError(t, err)

	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-5)
}

func TestHashEmbedder_SimilaritySemantics(t *testing.T) {
	ctx := context.Background()
	e, err := NewHashEmbedder(64)
	require.NoError(t, err)

	dot := func(a, b []float32) float64 {
		var d float64
		for i := range a {
			d += float64(a[i]) * float64(b[i])
		}
		return d
	}

	base, err := e.EmbedQuery(ctx, "validate inputs at boundaries")
	require.NoError(t, err)
	same, err := e.EmbedQuery(ctx, "validate inputs at boundaries")
	require.NoError(t, err)
	related, err := e.EmbedQuery(ctx, "validate all user inputs")
	require.NoError(t, err)

	assert.InDelta(t, 1.0, dot(base, same), 1e-5)
	assert.Greater(t, dot(base, related), 0.1)
	assert.Less(t, dot(base, related), 0.99)
}

func TestHashEmbedder_EmptyInput(t *testing.T) {
	ctx := context.Background()
	e, err := NewHashEmbedder(64)
	require.NoError(t, err)

	_, err = e.EmbedQuery(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = e.EmbedDocuments(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}
