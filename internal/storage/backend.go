package storage

import (
	"context"
	"fmt"

	"gemchat/internal/config"
	rdb "gemchat/internal/redis"
)

// New opens the store backend selected by basic_config.store_backend.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch backend := cfg.BasicConfig.StoreBackend; backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite", "sqlite3", "mysql":
		if backend == "sqlite" {
			backend = "sqlite3"
		}
		db, err := Open(backend, cfg)
		if err != nil {
			return nil, err
		}
		if err := Migrate(db, backend); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		return NewSQLStore(db), nil
	case "redis":
		client, err := rdb.NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create redis client: %w", err)
		}
		return NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", backend)
	}
}
