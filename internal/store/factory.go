package store

import (
	"fmt"

	"go.uber.org/zap"
)

// Config selects and configures a Store backend.
type Config struct {
	// Provider is "memory" (default), "chromem" or "qdrant".
	Provider string

	Chromem ChromemConfig
	Qdrant  QdrantConfig
}

// New creates a Store based on the configuration.
//
// The memory provider is the default and needs no setup; chromem adds
// persistence without an external service; qdrant requires a running server.
func New(cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "memory", "":
		return NewMemoryStore(logger), nil
	case "chromem":
		return NewChromemStore(cfg.Chromem, logger)
	case "qdrant":
		return NewQdrantStore(cfg.Qdrant, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported store provider %q (supported: memory, chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
