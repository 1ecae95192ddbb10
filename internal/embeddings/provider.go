package embeddings

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/relevanced/internal/store"
)

// Provider is the interface for embedding providers.
type Provider interface {
	store.Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is the provider type: "tei" (default) or "hash".
	Provider string
	// Model is the embedding model name (TEI only).
	Model string
	// BaseURL is the TEI server URL.
	BaseURL string
	// APIKey optionally authenticates TEI requests.
	APIKey string
	// Dimension overrides model-based dimension detection when set.
	Dimension int
}

// detectDimensionFromModel returns the embedding dimension for a model name,
// falling back to 384 for unknown models.
func detectDimensionFromModel(model string) int {
	switch {
	case strings.Contains(model, "base"):
		return 768
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "small"), strings.Contains(model, "mini"):
		return 384
	default:
		return 384
	}
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	dim := cfg.Dimension
	if dim <= 0 {
		dim = detectDimensionFromModel(cfg.Model)
	}

	switch cfg.Provider {
	case "tei", "":
		svc, err := NewService(Config{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
		})
		if err != nil {
			return nil, err
		}
		return &teiProvider{Service: svc, dimension: dim}, nil
	case "hash":
		return NewHashEmbedder(dim)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// teiProvider wraps Service to implement the Provider interface.
type teiProvider struct {
	*Service
	dimension int
}

// Dimension returns the embedding dimension based on the configured model.
func (t *teiProvider) Dimension() int {
	return t.dimension
}

// Close is a no-op for TEI since it uses HTTP.
func (t *teiProvider) Close() error {
	return nil
}
