package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// FactoryConfig selects and configures a store backend.
type FactoryConfig struct {
	// Provider is the backend: "chromem" (default), "memory", "pgvector",
	// or "qdrant".
	Provider string `koanf:"provider"`

	Chromem  ChromemConfig  `koanf:"chromem"`
	Pgvector PgvectorConfig `koanf:"pgvector"`
	Qdrant   QdrantConfig   `koanf:"qdrant"`
}

// ApplyDefaults sets default values for unset fields.
func (c *FactoryConfig) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "chromem"
	}
	c.Chromem.ApplyDefaults()
	c.Pgvector.ApplyDefaults()
	c.Qdrant.ApplyDefaults()
}

// NewStore creates a Store for the configured backend.
//
//   - "chromem" (default): embedded, persistent, zero external services
//   - "memory": exact in-process scan, no persistence
//   - "pgvector": PostgreSQL with the pgvector extension
//   - "qdrant": external Qdrant server over gRPC
func NewStore(ctx context.Context, cfg FactoryConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(cfg.Chromem, logger)
	case "memory":
		return NewMemoryStore(logger), nil
	case "pgvector":
		return NewPgvectorStore(ctx, cfg.Pgvector, logger)
	case "qdrant":
		return NewQdrantStore(ctx, cfg.Qdrant, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: chromem, memory, pgvector, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
