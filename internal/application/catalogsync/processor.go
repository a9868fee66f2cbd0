package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	projector "github.com/erp/catalogsync/internal/application/projection"
	"github.com/erp/catalogsync/internal/domain/catalog"
	"github.com/erp/catalogsync/internal/domain/projection"
	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/erp/catalogsync/internal/infrastructure/logger"
	"github.com/erp/catalogsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// ProcessorDeps are the collaborators shared by every processor
type ProcessorDeps struct {
	Capabilities Capabilities
	Lookup       catalog.Lookup
	Publisher    *BulkPublisher
	// Announcer receives projection batch events; optional
	Announcer shared.EventPublisher
	Builder   *projector.Builder
	Clock     Clock
	Logger    *zap.Logger
	Metrics   *telemetry.SyncMetrics
}

func (d ProcessorDeps) validate(component string) error {
	if d.Lookup == nil {
		return &ConfigError{Component: component, Reason: "no catalog lookup"}
	}
	if d.Publisher == nil {
		return &ConfigError{Component: component, Reason: "no bulk publisher"}
	}
	return nil
}

func (d ProcessorDeps) withDefaults() ProcessorDeps {
	if d.Builder == nil {
		d.Builder = projector.NewBuilder()
	}
	if d.Clock == nil {
		d.Clock = SystemClock
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

// EntityProcessor reacts to the lifecycle of one entity kind
type EntityProcessor interface {
	Kind() catalog.EntityKind
	OnCreated(ctx context.Context, event *catalog.ChangeEvent) error
	OnUpdated(ctx context.Context, event *catalog.ChangeEvent) error
	OnDeleted(ctx context.Context, event *catalog.ChangeEvent) error
	// Rebuild writes the projections of code without notifying anyone
	Rebuild(ctx context.Context, code string) error
}

// buildFunc loads an entity and builds its scopes
type buildFunc func(ctx context.Context, code string, now time.Time) ([]projector.Built, error)

// affectedFunc resolves the bulk event type and codes implicated by a change
type affectedFunc func(ctx context.Context, code string) (eventType string, codes []string, err error)

// Processor implements the created/updated/deleted state machine shared by
// the all-stores kinds and offers
type Processor struct {
	name     string
	kind     catalog.EntityKind
	ptype    projection.Type
	writer   projection.Writer
	build    buildFunc
	affected affectedFunc
	// afterWrite runs after the entity's own scopes were written and
	// returns extra results and codes to notify, used by offers for bundles
	afterWrite func(ctx context.Context, code string, now time.Time) ([]ScopeResult, error)

	lookup    catalog.Lookup
	builder   *projector.Builder
	publisher *BulkPublisher
	scopes    *scopeWriter
	clock     Clock
	logger    *zap.Logger
}

func newProcessor(name string, kind catalog.EntityKind, ptype projection.Type, deps ProcessorDeps) (*Processor, error) {
	if err := deps.validate(name); err != nil {
		return nil, err
	}
	w, err := requireWriter(deps.Capabilities, name, ptype)
	if err != nil {
		return nil, err
	}
	deps = deps.withDefaults()
	return &Processor{
		name:      name,
		kind:      kind,
		ptype:     ptype,
		writer:    w,
		lookup:    deps.Lookup,
		builder:   deps.Builder,
		publisher: deps.Publisher,
		scopes:    &scopeWriter{announcer: deps.Announcer, logger: deps.Logger, metrics: deps.Metrics},
		clock:     deps.Clock,
		logger:    deps.Logger.With(zap.String("processor", name)),
	}, nil
}

// Kind returns the entity kind handled by the processor
func (p *Processor) Kind() catalog.EntityKind {
	return p.kind
}

// OnCreated writes every scope of a new entity and notifies like an update
func (p *Processor) OnCreated(ctx context.Context, event *catalog.ChangeEvent) error {
	return p.upsert(ctx, "OnCreated", event.Code)
}

// OnUpdated writes every scope of the entity; when any write changed, the
// affected codes are published
func (p *Processor) OnUpdated(ctx context.Context, event *catalog.ChangeEvent) error {
	return p.upsert(ctx, "OnUpdated", event.Code)
}

func (p *Processor) upsert(ctx context.Context, method, code string) error {
	ctx, span := telemetry.StartServiceSpan(ctx, p.name, method,
		telemetry.SpanAttrProjectionType, string(p.ptype),
		telemetry.SpanAttrEntityCode, code,
	)
	defer span.End()

	now := runNow(ctx, p.clock)
	results, err := p.writeEntity(ctx, code, now)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	out := summarize(results)
	telemetry.SetAttributes(span,
		telemetry.SpanAttrScopes, len(results),
		telemetry.SpanAttrChanged, out.changed,
	)
	if !out.changed {
		logger.WithLogger(ctx, p.logger).Debug("projections unchanged, nothing to notify",
			zap.String("code", code),
			zap.NamedError("scope_error", out.err),
		)
		telemetry.RecordError(span, out.err)
		return out.err
	}

	notifyErr := p.notify(ctx, code)
	err = firstError(out.err, notifyErr)
	telemetry.RecordError(span, err)
	return err
}

// writeEntity writes the entity's own scopes plus any dependent scopes
func (p *Processor) writeEntity(ctx context.Context, code string, now time.Time) ([]ScopeResult, error) {
	built, err := p.build(ctx, code, now)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			logger.WithLogger(ctx, p.logger).Warn("entity no longer exists, skipping",
				zap.String("code", code),
			)
			return nil, nil
		}
		return nil, fmt.Errorf("%s %s: %w", p.kind, code, err)
	}

	results := p.scopes.write(ctx, p.writer, built)
	if p.afterWrite != nil && summarize(results).changed {
		extra, err := p.afterWrite(ctx, code, now)
		results = append(results, extra...)
		if err != nil {
			results = append(results, ScopeResult{Key: projection.Key{Type: p.ptype, Code: code}, Err: err})
		}
	}
	if err := p.scopes.announce(ctx, results, now); err != nil {
		results = append(results, ScopeResult{Key: projection.Key{Type: p.ptype, Code: code}, Err: err})
	}
	return results, nil
}

func (p *Processor) notify(ctx context.Context, code string) error {
	eventType, codes, err := p.affected(ctx, code)
	if err != nil {
		logger.WithLogger(ctx, p.logger).Error("failed to resolve affected codes",
			zap.String("code", code),
			zap.Error(err),
		)
		return fmt.Errorf("resolve codes affected by %s %s: %w", p.kind, code, err)
	}
	return p.publisher.Publish(ctx, eventType, code, codes)
}

// OnDeleted tombstones the entity's projections in the event's stores, or
// in every store
func (p *Processor) OnDeleted(ctx context.Context, event *catalog.ChangeEvent) error {
	ctx, span := telemetry.StartServiceSpan(ctx, p.name, "OnDeleted",
		telemetry.SpanAttrProjectionType, string(p.ptype),
		telemetry.SpanAttrEntityCode, event.Code,
	)
	defer span.End()

	results := p.scopes.tombstone(ctx, p.writer, p.ptype, event.Code, event.Stores)
	out := summarize(results)
	err := firstError(out.err, p.scopes.announce(ctx, results, runNow(ctx, p.clock)))
	logger.WithLogger(ctx, p.logger).Info("entity projections tombstoned",
		zap.String("code", event.Code),
		zap.Strings("stores", event.Stores),
		zap.Bool("changed", out.changed),
	)
	telemetry.RecordError(span, err)
	return err
}

// Rebuild writes the entity's projections without resolving or
// publishing affected codes
func (p *Processor) Rebuild(ctx context.Context, code string) error {
	results, err := p.writeEntity(ctx, code, runNow(ctx, p.clock))
	if err != nil {
		return err
	}
	return summarize(results).err
}

var _ EntityProcessor = (*Processor)(nil)
