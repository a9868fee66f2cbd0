package event

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/erp/catalogsync/internal/application/catalogsync"
	"github.com/erp/catalogsync/internal/infrastructure/config"
	"github.com/erp/catalogsync/internal/infrastructure/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Stream entry fields written by RedisStreamBus
const (
	FieldEventType      = "event_type"
	FieldCorrelationKey = "correlation_key"
	FieldPayload        = "payload"
	FieldPublishedAt    = "published_at"
)

// RedisStreamBus appends notifications to a Redis stream with XADD.
// The stream is trimmed approximately to maxLen entries.
type RedisStreamBus struct {
	client redis.UniversalClient
	stream string
	maxLen int64
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStreamBus creates a bus writing to stream
func NewRedisStreamBus(client redis.UniversalClient, stream string, maxLen int64, ttl time.Duration) *RedisStreamBus {
	return &RedisStreamBus{
		client: client,
		stream: stream,
		maxLen: maxLen,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Publish appends one entry; a positive ttl refreshes the stream expiry
func (b *RedisStreamBus) Publish(ctx context.Context, eventType, correlationKey string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}

	args := &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]any{
			FieldEventType:      eventType,
			FieldCorrelationKey: correlationKey,
			FieldPayload:        string(body),
			FieldPublishedAt:    b.now().Format(time.RFC3339Nano),
		},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}

	if b.ttl <= 0 {
		if err := b.client.XAdd(ctx, args).Err(); err != nil {
			return fmt.Errorf("xadd %s to %s: %w", eventType, b.stream, err)
		}
		return nil
	}

	pipe := b.client.TxPipeline()
	pipe.XAdd(ctx, args)
	pipe.Expire(ctx, b.stream, b.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xadd %s to %s: %w", eventType, b.stream, err)
	}
	return nil
}

// LogBus writes notifications to the log; used when no broker is configured
type LogBus struct {
	logger *zap.Logger
}

// NewLogBus creates a logging bus
func NewLogBus(logger *zap.Logger) *LogBus {
	return &LogBus{logger: logger}
}

// Publish logs the notification at info level
func (b *LogBus) Publish(ctx context.Context, eventType, correlationKey string, payload map[string]any) error {
	logger.WithLogger(ctx, b.logger).Info("notification",
		zap.String("event_type", eventType),
		zap.String("correlation_key", correlationKey),
		zap.Any("payload", payload),
	)
	return nil
}

// Notification is one message captured by a MemoryBus
type Notification struct {
	EventType      string
	CorrelationKey string
	Payload        map[string]any
}

// MemoryBus keeps notifications in memory for tests and local runs
type MemoryBus struct {
	mu   sync.Mutex
	sent []Notification
	fail func(Notification) error
}

// NewMemoryBus creates an empty memory bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// FailWith makes Publish return the error of fn for matching notifications
func (b *MemoryBus) FailWith(fn func(Notification) error) {
	b.mu.Lock()
	b.fail = fn
	b.mu.Unlock()
}

// Publish records the notification
func (b *MemoryBus) Publish(_ context.Context, eventType, correlationKey string, payload map[string]any) error {
	n := Notification{EventType: eventType, CorrelationKey: correlationKey, Payload: payload}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		if err := b.fail(n); err != nil {
			return err
		}
	}
	b.sent = append(b.sent, n)
	return nil
}

// Sent returns a copy of the recorded notifications
func (b *MemoryBus) Sent() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.sent)
}

// Reset forgets recorded notifications
func (b *MemoryBus) Reset() {
	b.mu.Lock()
	b.sent = nil
	b.mu.Unlock()
}

// NewNotificationBus builds the bus selected by cfg.Driver. client is
// required for the redis driver.
func NewNotificationBus(cfg config.NotificationConfig, client redis.UniversalClient, log *zap.Logger) (catalogsync.NotificationBus, error) {
	switch cfg.Driver {
	case config.NotificationDriverRedis:
		if client == nil {
			return nil, &catalogsync.ConfigError{Component: "NotificationBus", Reason: "redis driver needs a Redis client"}
		}
		log.Info("publishing notifications to Redis stream",
			zap.String("stream", cfg.Stream),
			zap.Int64("max_len", cfg.MaxLen),
		)
		return NewRedisStreamBus(client, cfg.Stream, cfg.MaxLen, cfg.StreamTTL), nil
	case config.NotificationDriverMemory:
		return NewMemoryBus(), nil
	case config.NotificationDriverLog, "":
		return NewLogBus(log), nil
	default:
		return nil, &catalogsync.ConfigError{Component: "NotificationBus", Reason: fmt.Sprintf("unknown driver %q", cfg.Driver)}
	}
}

var (
	_ catalogsync.NotificationBus = (*RedisStreamBus)(nil)
	_ catalogsync.NotificationBus = (*LogBus)(nil)
	_ catalogsync.NotificationBus = (*MemoryBus)(nil)
)
