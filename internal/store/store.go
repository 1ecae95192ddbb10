package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("relevanced/store")

// Sentinel errors for store construction and configuration.
var (
	// ErrInvalidConfig indicates invalid adapter configuration.
	ErrInvalidConfig = errors.New("invalid store configuration")

	// ErrEmbedderRequired indicates a vector adapter was constructed
	// without an embedder.
	ErrEmbedderRequired = errors.New("embedder is required")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// collectionNamePattern validates collection names: lowercase letters,
// numbers, underscores, 1-64 characters. Rejects uppercase, special
// characters, path traversal, spaces.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name against the naming
// rules shared by the chromem and qdrant adapters.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// Embedder generates vector embeddings from text.
//
// Implementations can use a local inference server (TEI) or a cloud API.
// The vector adapters embed item content at insert time and query text at
// search time.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts, one vector
	// per input text.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query. Some models
	// optimize differently for queries than for documents.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}
