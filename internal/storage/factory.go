package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/commune-io/relay/internal/common/config"
)

// Type represents the type of persisted store backend
type Type string

const (
	// TypeMemory represents the in-memory backend
	TypeMemory Type = "memory"
	// TypeRedis represents the Redis backend
	TypeRedis Type = "redis"
)

// NewStores creates the session and notification stores based on configuration
func NewStores(logger *zap.Logger, cfg *config.StorageConfig) (SessionStore, NotificationStore, error) {
	logger.Info("Initializing persisted stores", zap.String("type", cfg.Type))
	switch Type(cfg.Type) {
	case TypeMemory:
		return NewMemorySessionStore(logger), NewMemoryNotificationStore(logger), nil
	case TypeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return NewRedisSessionStore(logger, client, cfg.Redis.Prefix, cfg.Redis.TTL),
			NewRedisNotificationStore(logger, client, cfg.Redis.Prefix), nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
