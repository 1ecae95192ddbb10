package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
)

// HashEmbedder generates deterministic embeddings without a model: each
// lowercased whitespace token hashes into a vector bucket and the result is
// L2-normalized. Texts sharing tokens land near each other, which is enough
// for tests and offline dry runs, and nothing more.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder creates a hash embedder with the given dimension.
func NewHashEmbedder(dimension int) (*HashEmbedder, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return &HashEmbedder{dimension: dimension}, nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (e *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embed(text)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (e *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	return e.embed(text), nil
}

// Dimension returns the embedding dimension.
func (e *HashEmbedder) Dimension() int {
	return e.dimension
}

// Close is a no-op.
func (e *HashEmbedder) Close() error {
	return nil
}

func (e *HashEmbedder) embed(text string) []float32 {
	vector := make([]float32, e.dimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vector[int(h.Sum32())%e.dimension]++
	}

	var sumSq float64
	for _, v := range vector {
		sumSq += float64(v) * float64(v)
	}
	if sumSq > 0 {
		norm := float32(1.0 / math.Sqrt(sumSq))
		for i := range vector {
			vector[i] *= norm
		}
	}
	return vector
}
