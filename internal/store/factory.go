package store

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
)

// Config selects and configures a storage backend.
type Config struct {
	// Provider selects the backend: "chromem" (default), "qdrant",
	// "sqlite", or "memory".
	Provider string

	Chromem ChromemConfig
	Qdrant  QdrantConfig
	SQLite  SQLiteConfig
}

// New creates a knowledge store for the configured provider.
//
//   - "chromem" (default): embedded vector store, no external dependencies
//   - "qdrant": external Qdrant server over gRPC
//   - "sqlite": single database file, similarity computed in process
//   - "memory": volatile, for tests and dry runs
func New(cfg Config, embedder Embedder, logger *zap.Logger) (knowledge.Store, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(cfg.Chromem, embedder, logger)
	case "qdrant":
		return NewQdrantStore(cfg.Qdrant, embedder, logger)
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite, embedder, logger)
	case "memory":
		return knowledge.NewInMemoryStore(logger), nil
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: chromem, qdrant, sqlite, memory)",
			ErrInvalidConfig, cfg.Provider)
	}
}
