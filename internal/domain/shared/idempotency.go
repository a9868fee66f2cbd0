package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers processed delivery IDs so that redelivered
// domain changes are applied once
type IdempotencyStore interface {
	// MarkProcessed returns true if the ID was newly marked, false if it was
	// already processed within the TTL
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	// Unmark forgets an ID so a failed delivery can be retried
	Unmark(ctx context.Context, eventID string) error
	Close() error
}

// IdempotencyConfig holds configuration for idempotency handling
type IdempotencyConfig struct {
	TTL     time.Duration
	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}
