package catalogsync

import (
	"context"
	"fmt"

	"github.com/erp/catalogsync/internal/domain/catalog"
	"github.com/erp/catalogsync/internal/infrastructure/logger"
	"github.com/erp/catalogsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// NotificationBus delivers messages to downstream consumers
type NotificationBus interface {
	Publish(ctx context.Context, eventType, correlationKey string, payload map[string]any) error
}

// BulkPublisher splits a set of affected codes into bounded bulk change events
type BulkPublisher struct {
	bus     NotificationBus
	maxSize int
	logger  *zap.Logger
	metrics *telemetry.SyncMetrics
}

// NewBulkPublisher creates a publisher emitting at most maxSize codes per event
func NewBulkPublisher(bus NotificationBus, maxSize int, logger *zap.Logger, metrics *telemetry.SyncMetrics) (*BulkPublisher, error) {
	if bus == nil {
		return nil, &ConfigError{Component: "BulkPublisher", Reason: "no notification bus"}
	}
	if maxSize <= 0 {
		return nil, &ConfigError{Component: "BulkPublisher", Reason: fmt.Sprintf("bulk change max event size must be positive, got %d", maxSize)}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BulkPublisher{bus: bus, maxSize: maxSize, logger: logger, metrics: metrics}, nil
}

// MaxSize returns the chunk size
func (p *BulkPublisher) MaxSize() int {
	return p.maxSize
}

// Publish emits one eventType message per chunk of the sorted, deduplicated
// codes, correlated by subject. A failed chunk does not stop the remaining
// ones; the first error is returned.
func (p *BulkPublisher) Publish(ctx context.Context, eventType, subject string, codes []string) error {
	chunks := Chunk(catalog.SortedUnique(codes), p.maxSize)
	if len(chunks) == 0 {
		return nil
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "BulkPublisher", "Publish",
		telemetry.SpanAttrEventType, eventType,
		telemetry.SpanAttrEntityCode, subject,
		telemetry.SpanAttrCodes, len(codes),
	)
	defer span.End()

	var firstErr error
	for i, chunk := range chunks {
		payload := map[string]any{PayloadKeyProducts: chunk}
		if err := p.bus.Publish(ctx, eventType, subject, payload); err != nil {
			logger.WithLogger(ctx, p.logger).Error("failed to publish bulk change event",
				zap.String("event_type", eventType),
				zap.String("subject", subject),
				zap.Int("chunk", i),
				zap.Int("chunk_size", len(chunk)),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("publish %s chunk %d for %s: %w", eventType, i, subject, err)
			}
			continue
		}
		p.metrics.RecordBulkEvent(ctx, eventType, len(chunk))
	}

	if firstErr != nil {
		telemetry.RecordError(span, firstErr)
		return firstErr
	}
	logger.WithLogger(ctx, p.logger).Debug("bulk change events published",
		zap.String("event_type", eventType),
		zap.String("subject", subject),
		zap.Int("codes", len(codes)),
		zap.Int("events", len(chunks)),
	)
	return nil
}

// Chunk splits codes into consecutive slices of at most size elements
func Chunk(codes []string, size int) [][]string {
	if len(codes) == 0 || size <= 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(codes)+size-1)/size)
	for start := 0; start < len(codes); start += size {
		end := min(start+size, len(codes))
		chunks = append(chunks, codes[start:end:end])
	}
	return chunks
}
