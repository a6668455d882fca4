package registry

import (
	"fmt"

	"go.uber.org/zap"

	"pdfhtmlgo/internal/config"
	"pdfhtmlgo/internal/redis"
	"pdfhtmlgo/internal/storage"
)

// OpenStore builds the store selected by registry.backend. The returned close
// function releases any connection held by the store.
func OpenStore(cfg *config.Config, logger *zap.Logger) (Store, func() error, error) {
	noop := func() error { return nil }
	backend := cfg.Registry.Backend
	switch backend {
	case "", "memory":
		return NewMemoryStore(), noop, nil
	case "file":
		s, err := NewFileStore(cfg.BasicConfig.OutputDir)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case "sqlite3", "mysql":
		db, err := storage.Open(backend, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := storage.Migrate(db, backend); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("registry backed by database", zap.String("driver", backend))
		return NewSQLStore(db), db.Close, nil
	case "redis":
		client, err := redis.NewRedisClient(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("registry backed by redis", zap.String("prefix", cfg.Redis.Prefix))
		return NewRedisStore(client), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported registry backend: %s", backend)
	}
}
