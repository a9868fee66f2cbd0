package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/erp/catalogsync/internal/application/catalogsync"
	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/erp/catalogsync/internal/infrastructure/cache"
	"github.com/erp/catalogsync/internal/infrastructure/event"
	"github.com/erp/catalogsync/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRedis_RebuildLockAcrossProcesses(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires Docker")
	}
	client := NewTestRedis(t)
	ctx := testutil.ContextWithTimeout(t, 30*time.Second)

	rebuilding := catalogsync.NewRebuildGuard(cache.NewRedisRebuildLock(client, cache.KeyRebuildInProgress, zap.NewNop()), time.Minute)
	incremental := catalogsync.NewRebuildGuard(cache.NewRedisRebuildLock(client, cache.KeyRebuildInProgress, zap.NewNop()), time.Minute)

	release, err := rebuilding.Exclusive(ctx)
	require.NoError(t, err)

	_, err = incremental.Shared(ctx)
	assert.ErrorIs(t, err, shared.ErrRebuildInProgress)
	_, err = incremental.Exclusive(ctx)
	assert.ErrorIs(t, err, shared.ErrRebuildInProgress)

	ttl, err := client.TTL(ctx, cache.KeyRebuildInProgress).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	release()

	done, err := incremental.Shared(ctx)
	require.NoError(t, err)
	done()
}

func TestRedis_IdempotencyStore(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires Docker")
	}
	client := NewTestRedis(t)
	ctx := testutil.ContextWithTimeout(t, 30*time.Second)
	store := cache.NewIdempotencyStore(client, zap.NewNop())

	id := testutil.NewTestUUID("brand.updated/acme").String()
	first, err := store.MarkProcessed(ctx, id, time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := store.MarkProcessed(ctx, id, time.Minute)
	require.NoError(t, err)
	assert.False(t, again)

	processed, err := store.IsProcessed(ctx, id)
	require.NoError(t, err)
	assert.True(t, processed)

	require.NoError(t, store.Unmark(ctx, id))
	retried, err := store.MarkProcessed(ctx, id, time.Minute)
	require.NoError(t, err)
	assert.True(t, retried)
}

func TestRedis_StreamBusPublishesChunks(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires Docker")
	}
	client := NewTestRedis(t)
	ctx := testutil.ContextWithTimeout(t, 30*time.Second)

	const stream = "catalog:bulk-updates:test"
	bus := event.NewRedisStreamBus(client, stream, 1000, time.Hour)
	publisher, err := catalogsync.NewBulkPublisher(bus, 2, zap.NewNop(), nil)
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(ctx, catalogsync.EventTypeBrandBulkUpdate, "acme", []string{"P3", "P1", "P2", "P1"}))

	entries, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var chunks [][]string
	for _, entry := range entries {
		assert.Equal(t, catalogsync.EventTypeBrandBulkUpdate, entry.Values[event.FieldEventType])
		assert.Equal(t, "acme", entry.Values[event.FieldCorrelationKey])

		var payload map[string][]string
		require.NoError(t, json.Unmarshal([]byte(entry.Values[event.FieldPayload].(string)), &payload))
		chunks = append(chunks, payload[catalogsync.PayloadKeyProducts])
	}
	assert.Equal(t, [][]string{{"P1", "P2"}, {"P3"}}, chunks)

	ttl, err := client.TTL(context.Background(), stream).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
