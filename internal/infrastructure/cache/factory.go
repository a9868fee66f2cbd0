package cache

import (
	"github.com/erp/catalogsync/internal/application/catalogsync"
	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewIdempotencyStore returns a Redis store when client is set and an
// in-memory store otherwise
func NewIdempotencyStore(client redis.UniversalClient, logger *zap.Logger) shared.IdempotencyStore {
	if client != nil {
		logger.Info("using Redis idempotency store")
		return NewRedisIdempotencyStore(client, KeyPrefixDelivery)
	}
	logger.Warn("Redis disabled, using in-memory idempotency store; " +
		"redeliveries to other instances are not detected")
	return NewInMemoryIdempotencyStore()
}

// NewRebuildLock returns the cross-process rebuild lock, or nil when Redis
// is disabled and the in-process guard is enough
func NewRebuildLock(client redis.UniversalClient, logger *zap.Logger) catalogsync.RebuildLock {
	if client == nil {
		return nil
	}
	return NewRedisRebuildLock(client, KeyRebuildInProgress, logger)
}
