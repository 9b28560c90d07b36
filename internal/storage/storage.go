package storage

import (
	"context"
	"fmt"

	"aem-reporter/internal/config"
)

// Store is the persistence surface shared by every backend.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Close() error
}

// New opens the backend selected by storage.backend.
func New(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return NewPostgres(ctx, cfg)
	case "redis":
		return NewRedis(ctx, cfg.Redis.URL, cfg.Redis.KeyPrefix)
	case "memory", "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
