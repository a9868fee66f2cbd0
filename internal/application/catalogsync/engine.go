// Package catalogsync keeps store-scoped catalog projections in step with
// catalog entity changes and announces the affected codes downstream.
package catalogsync

import (
	"context"
	"fmt"

	"github.com/erp/catalogsync/internal/domain/catalog"
	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/erp/catalogsync/internal/infrastructure/logger"
	"github.com/erp/catalogsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Dependencies wires an Engine
type Dependencies struct {
	ProcessorDeps
	PropagationParallelism int
	// Guard defaults to an in-process guard
	Guard *RebuildGuard
}

// Engine dispatches catalog change events to the processor of their kind
type Engine struct {
	processors map[catalog.EntityKind]EntityProcessor
	categories *CategoryPropagator
	guard      *RebuildGuard
	clock      Clock
	logger     *zap.Logger
	metrics    *telemetry.SyncMetrics
}

// NewEngine creates every processor. Missing capabilities or collaborators
// are reported as a *ConfigError.
func NewEngine(deps Dependencies) (*Engine, error) {
	deps.ProcessorDeps = deps.ProcessorDeps.withDefaults()

	constructors := []func(ProcessorDeps) (*Processor, error){
		NewAttributeProcessor,
		NewBrandProcessor,
		NewSkuOptionProcessor,
		NewModifierGroupProcessor,
		NewOfferProcessor,
	}
	processors := make(map[catalog.EntityKind]EntityProcessor, len(constructors))
	for _, newProcessor := range constructors {
		p, err := newProcessor(deps.ProcessorDeps)
		if err != nil {
			return nil, err
		}
		processors[p.Kind()] = p
	}
	categories, err := NewCategoryPropagator(deps.ProcessorDeps, deps.PropagationParallelism)
	if err != nil {
		return nil, err
	}

	guard := deps.Guard
	if guard == nil {
		guard = NewRebuildGuard(nil, 0)
	}
	return &Engine{
		processors: processors,
		categories: categories,
		guard:      guard,
		clock:      deps.Clock,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
	}, nil
}

// EventTypes returns every change event type the engine handles
func (e *Engine) EventTypes() []string {
	var types []string
	for _, kind := range catalog.AllKinds() {
		for _, action := range catalog.ActionsFor(kind) {
			types = append(types, catalog.ChangeEventType(kind, action))
		}
	}
	return types
}

// Handle applies a *catalog.ChangeEvent. It refuses work with
// shared.ErrRebuildInProgress while a clean rebuild runs elsewhere.
func (e *Engine) Handle(ctx context.Context, event shared.DomainEvent) error {
	change, ok := event.(*catalog.ChangeEvent)
	if !ok {
		e.logger.Error("unexpected event type",
			zap.String("actual", event.EventType()),
		)
		return fmt.Errorf("unexpected event type: %s", event.EventType())
	}
	if err := change.Validate(); err != nil {
		return err
	}

	release, err := e.guard.Shared(ctx)
	if err != nil {
		logger.WithLogger(ctx, e.logger).Warn("change event refused",
			zap.String("event_type", change.EventType()),
			zap.String("code", change.Code),
			zap.Error(err),
		)
		return err
	}
	defer release()

	ctx, sc := beginRun(ctx, e.clock, "event", e.logger)
	err = e.apply(ctx, change)
	e.metrics.RecordChangeEvent(ctx, change.EventType(), err)
	if err != nil {
		logger.L(ctx).Error("change event failed",
			zap.String("event_type", change.EventType()),
			zap.String("code", change.Code),
			zap.String("event_id", change.EventID().String()),
			zap.Error(err),
		)
		return err
	}
	logger.L(ctx).Debug("change event applied",
		zap.String("event_type", change.EventType()),
		zap.String("code", change.Code),
		zap.Time("run_at", sc.Now),
	)
	return nil
}

func (e *Engine) apply(ctx context.Context, event *catalog.ChangeEvent) error {
	if event.Kind == catalog.KindCategory {
		return e.applyCategory(ctx, event)
	}
	p, ok := e.processors[event.Kind]
	if !ok {
		return shared.ErrInvalidInput.WithMessage(fmt.Sprintf("no processor for %s", event.Kind))
	}
	switch event.Action {
	case catalog.ActionCreated:
		return p.OnCreated(ctx, event)
	case catalog.ActionUpdated:
		return p.OnUpdated(ctx, event)
	case catalog.ActionDeleted:
		return p.OnDeleted(ctx, event)
	default:
		return shared.ErrInvalidInput.WithMessage(fmt.Sprintf("%s does not support %s", event.Kind, event.Action))
	}
}

func (e *Engine) applyCategory(ctx context.Context, event *catalog.ChangeEvent) error {
	switch event.Action {
	case catalog.ActionCreated:
		return e.categories.OnCreated(ctx, event)
	case catalog.ActionUpdated:
		return e.categories.OnUpdated(ctx, event)
	case catalog.ActionDeleted:
		return e.categories.OnDeleted(ctx, event)
	case catalog.ActionLinked:
		return e.categories.OnLinked(ctx, event)
	case catalog.ActionUnlinked:
		return e.categories.OnUnlinked(ctx, event)
	case catalog.ActionIncluded:
		return e.categories.OnIncluded(ctx, event)
	case catalog.ActionExcluded:
		return e.categories.OnExcluded(ctx, event)
	default:
		return shared.ErrInvalidInput.WithMessage(fmt.Sprintf("unknown category action %s", event.Action))
	}
}

var _ shared.EventHandler = (*Engine)(nil)
