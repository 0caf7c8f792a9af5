package kv

import (
	"fmt"
	"log/slog"

	"carealert/internal/config"
)

// Open builds the configured store backend.
// Params: storage config and logger.
// Returns: selected store or setup error.
func Open(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case config.StorageBackendMemory:
		return NewMemoryStore(), nil
	case config.StorageBackendBadger:
		return NewBadgerStore(cfg.Badger, logger)
	case config.StorageBackendNATS:
		return NewNATSStore(cfg.NATS)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
