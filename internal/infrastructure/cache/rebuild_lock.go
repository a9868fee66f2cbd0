package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/catalogsync/internal/application/catalogsync"
	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock only while it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRebuildLock marks a clean rebuild in progress for every process
// sharing the Redis instance
type RedisRebuildLock struct {
	client redis.UniversalClient
	key    string
	logger *zap.Logger
}

// NewRedisRebuildLock creates a lock stored under key, or
// KeyRebuildInProgress when key is empty
func NewRedisRebuildLock(client redis.UniversalClient, key string, logger *zap.Logger) *RedisRebuildLock {
	if key == "" {
		key = KeyRebuildInProgress
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRebuildLock{client: client, key: key, logger: logger}
}

// Acquire sets the lock key with SET NX and a TTL. The returned release
// removes the key only if this holder still owns it.
func (l *RedisRebuildLock) Acquire(ctx context.Context, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire rebuild lock: %w", err)
	}
	if !ok {
		return nil, shared.ErrRebuildInProgress
	}
	l.logger.Info("rebuild lock acquired", zap.String("key", l.key), zap.Duration("ttl", ttl))

	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int()
		if err != nil {
			return fmt.Errorf("failed to release rebuild lock: %w", err)
		}
		if n == 0 {
			l.logger.Warn("rebuild lock expired before release", zap.String("key", l.key))
		}
		return nil
	}, nil
}

// Held reports whether any process holds the lock
func (l *RedisRebuildLock) Held(ctx context.Context) (bool, error) {
	n, err := l.client.Exists(ctx, l.key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read rebuild lock: %w", err)
	}
	return n > 0, nil
}

var _ catalogsync.RebuildLock = (*RedisRebuildLock)(nil)
