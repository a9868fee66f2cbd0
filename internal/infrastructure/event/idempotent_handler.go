package event

import (
	"context"
	"sync/atomic"

	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/erp/catalogsync/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// Delivery outcomes reported by IdempotentHandler
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeBypassed  = "bypassed"
)

// DeliveryRecorder receives the outcome of every delivery. *telemetry.SyncMetrics
// satisfies it.
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, eventType, outcome string)
}

// IdempotencyStats counts deliveries seen by one or more IdempotentHandlers
type IdempotencyStats struct {
	EventsProcessed int64 `json:"events_processed"`
	EventsDuplicate int64 `json:"events_duplicate"`
	EventsFailed    int64 `json:"events_failed"`
}

// IdempotencyMetrics is a set of counters that handlers may share
type IdempotencyMetrics struct {
	processed, duplicate, failed atomic.Int64
}

// Stats returns a snapshot of the counters
func (m *IdempotencyMetrics) Stats() IdempotencyStats {
	return IdempotencyStats{
		EventsProcessed: m.processed.Load(),
		EventsDuplicate: m.duplicate.Load(),
		EventsFailed:    m.failed.Load(),
	}
}

func (m *IdempotencyMetrics) count(outcome string) {
	switch outcome {
	case OutcomeApplied:
		m.processed.Add(1)
	case OutcomeDuplicate:
		m.duplicate.Add(1)
	case OutcomeFailed:
		m.failed.Add(1)
	}
}

// IdempotentHandler applies a change event at most once per event ID within
// the configured TTL. A failed delivery releases its claim so that the
// redelivery runs again. When the store cannot be reached the event is
// applied anyway.
type IdempotentHandler struct {
	next     shared.EventHandler
	store    shared.IdempotencyStore
	config   shared.IdempotencyConfig
	logger   *zap.Logger
	counters *IdempotencyMetrics
	recorder DeliveryRecorder
}

// IdempotentHandlerOption configures an IdempotentHandler
type IdempotentHandlerOption func(*IdempotentHandler)

// WithIdempotencyConfig sets TTL and the enabled switch
func WithIdempotencyConfig(config shared.IdempotencyConfig) IdempotentHandlerOption {
	return func(h *IdempotentHandler) { h.config = config }
}

// WithIdempotencyMetrics shares counters between handlers
func WithIdempotencyMetrics(metrics *IdempotencyMetrics) IdempotentHandlerOption {
	return func(h *IdempotentHandler) { h.counters = metrics }
}

// WithDeliveryRecorder reports every delivery outcome to r
func WithDeliveryRecorder(r DeliveryRecorder) IdempotentHandlerOption {
	return func(h *IdempotentHandler) { h.recorder = r }
}

// NewIdempotentHandler wraps next
func NewIdempotentHandler(next shared.EventHandler, store shared.IdempotencyStore, logger *zap.Logger, opts ...IdempotentHandlerOption) *IdempotentHandler {
	h := &IdempotentHandler{
		next:     next,
		store:    store,
		config:   shared.DefaultIdempotencyConfig(),
		logger:   logger,
		counters: &IdempotencyMetrics{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *IdempotentHandler) EventTypes() []string {
	return h.next.EventTypes()
}

func (h *IdempotentHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	if !h.config.Enabled || h.store == nil {
		h.record(ctx, event, OutcomeBypassed)
		return h.next.Handle(ctx, event)
	}

	log := logger.WithLogger(ctx, h.logger).With(
		zap.String("event_id", event.EventID().String()),
		zap.String("event_type", event.EventType()),
	)
	release, duplicate := h.claim(ctx, log, event.EventID().String())
	if duplicate {
		log.Debug("duplicate delivery skipped")
		h.record(ctx, event, OutcomeDuplicate)
		return nil
	}

	if err := h.next.Handle(ctx, event); err != nil {
		release()
		h.record(ctx, event, OutcomeFailed)
		return err
	}
	h.record(ctx, event, OutcomeApplied)
	return nil
}

// claim marks id as processed. It reports duplicate when id was already
// marked, and otherwise returns a func that forgets the mark.
func (h *IdempotentHandler) claim(ctx context.Context, log *logger.ContextLogger, id string) (release func(), duplicate bool) {
	fresh, err := h.store.MarkProcessed(ctx, id, h.config.TTL)
	if err != nil {
		log.Warn("idempotency store unavailable, applying delivery unchecked", zap.Error(err))
		return func() {}, false
	}
	if !fresh {
		return nil, true
	}
	return func() {
		if err := h.store.Unmark(context.WithoutCancel(ctx), id); err != nil {
			log.Warn("failed to release claim of failed delivery", zap.Error(err))
		}
	}, false
}

func (h *IdempotentHandler) record(ctx context.Context, event shared.DomainEvent, outcome string) {
	h.counters.count(outcome)
	if h.recorder != nil {
		h.recorder.RecordDelivery(ctx, event.EventType(), outcome)
	}
}

// Metrics returns the handler's counters
func (h *IdempotentHandler) Metrics() *IdempotencyMetrics {
	return h.counters
}

var _ shared.EventHandler = (*IdempotentHandler)(nil)
