package queue

import (
	"fmt"

	"github.com/bkose/ocr-relay/pkg/config"
)

// FromConfig builds the queue store selected by cfg.Backend.
func FromConfig(cfg *config.Config) (Store, error) {
	switch cfg.Backend {
	case "redis":
		return NewRedisStore(RedisConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			QueueKey:     cfg.Queue.Key,
			ResultPrefix: cfg.Queue.ResultPrefix,
			ResultTTL:    cfg.Queue.ResultTTL,
		}), nil
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, cfg.Queue.ResultTTL)
	case "memory":
		return NewMemoryStore(cfg.Queue.ResultTTL), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}
