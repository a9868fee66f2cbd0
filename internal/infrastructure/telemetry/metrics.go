package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
var (
	AttrProjectionType = attribute.Key("projection_type")
	AttrStore          = attribute.Key("store")
	AttrChanged        = attribute.Key("changed")
	AttrEventType      = attribute.Key("event_type")
	AttrOutcome        = attribute.Key("outcome")
)

// WriteDurationBuckets are the bucket boundaries for conditional writes, in seconds
var WriteDurationBuckets = []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// SyncMetrics records engine activity. A nil *SyncMetrics is valid and
// records nothing.
type SyncMetrics struct {
	writes        metric.Int64Counter
	tombstones    metric.Int64Counter
	bulkEvents    metric.Int64Counter
	bulkCodes     metric.Int64Counter
	changeEvents  metric.Int64Counter
	deliveries    metric.Int64Counter
	expired       metric.Int64Counter
	writeDuration metric.Float64Histogram
}

// NewSyncMetrics creates the engine instruments on meter
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	m := &SyncMetrics{}
	var err error

	if m.writes, err = meter.Int64Counter("projection_writes_total",
		metric.WithDescription("Conditional projection writes by outcome"),
		metric.WithUnit("{write}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create projection_writes_total: %w", err)
	}
	if m.tombstones, err = meter.Int64Counter("projection_tombstones_total",
		metric.WithDescription("Tombstones written"),
		metric.WithUnit("{projection}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create projection_tombstones_total: %w", err)
	}
	if m.bulkEvents, err = meter.Int64Counter("bulk_events_published_total",
		metric.WithDescription("Bulk change events published"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create bulk_events_published_total: %w", err)
	}
	if m.bulkCodes, err = meter.Int64Counter("bulk_event_codes_total",
		metric.WithDescription("Subject codes carried by bulk change events"),
		metric.WithUnit("{code}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create bulk_event_codes_total: %w", err)
	}
	if m.changeEvents, err = meter.Int64Counter("change_events_handled_total",
		metric.WithDescription("Entity change events handled by outcome"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create change_events_handled_total: %w", err)
	}
	if m.deliveries, err = meter.Int64Counter("change_deliveries_total",
		metric.WithDescription("Change event deliveries by deduplication outcome"),
		metric.WithUnit("{delivery}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create change_deliveries_total: %w", err)
	}
	if m.expired, err = meter.Int64Counter("projections_expired_total",
		metric.WithDescription("Projections tombstoned by the expiry sweeper"),
		metric.WithUnit("{projection}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create projections_expired_total: %w", err)
	}
	if m.writeDuration, err = meter.Float64Histogram("projection_write_duration",
		metric.WithDescription("Duration of conditional projection writes"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(WriteDurationBuckets...),
	); err != nil {
		return nil, fmt.Errorf("failed to create projection_write_duration: %w", err)
	}
	return m, nil
}

// RecordWrite records one conditional write
func (m *SyncMetrics) RecordWrite(ctx context.Context, projectionType, store string, changed, tombstone bool, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(AttrProjectionType.String(projectionType), AttrStore.String(store))
	m.writes.Add(ctx, 1, metric.WithAttributes(
		AttrProjectionType.String(projectionType),
		AttrChanged.Bool(changed),
	))
	if changed && tombstone {
		m.tombstones.Add(ctx, 1, attrs)
	}
	m.writeDuration.Record(ctx, d.Seconds(), metric.WithAttributes(AttrProjectionType.String(projectionType)))
}

// RecordBulkEvent records one published bulk change event carrying codes subject codes
func (m *SyncMetrics) RecordBulkEvent(ctx context.Context, eventType string, codes int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(AttrEventType.String(eventType))
	m.bulkEvents.Add(ctx, 1, attrs)
	m.bulkCodes.Add(ctx, int64(codes), attrs)
}

// RecordChangeEvent records the outcome of handling one entity change event
func (m *SyncMetrics) RecordChangeEvent(ctx context.Context, eventType string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.changeEvents.Add(ctx, 1, metric.WithAttributes(
		AttrEventType.String(eventType),
		AttrOutcome.String(outcome),
	))
}

// RecordDelivery records how one change event delivery was deduplicated
func (m *SyncMetrics) RecordDelivery(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	m.deliveries.Add(ctx, 1, metric.WithAttributes(
		AttrEventType.String(eventType),
		AttrOutcome.String(outcome),
	))
}

// RecordExpired records projections tombstoned by an expiry sweep
func (m *SyncMetrics) RecordExpired(ctx context.Context, count int) {
	if m == nil || count == 0 {
		return
	}
	m.expired.Add(ctx, int64(count))
}
