// Package cache holds the Redis-backed coordination state of the engine:
// delivery idempotency keys and the clean-rebuild lock.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/catalogsync/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
)

// Key prefixes shared by every process of a deployment
const (
	KeyPrefixDelivery    = "catsync:delivery:"
	KeyRebuildInProgress = "catsync:rebuild:clean"
)

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr(), err)
	}
	return client, nil
}
