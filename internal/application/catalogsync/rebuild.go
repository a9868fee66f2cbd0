package catalogsync

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/catalogsync/internal/domain/catalog"
	"github.com/erp/catalogsync/internal/domain/projection"
	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/erp/catalogsync/internal/infrastructure/logger"
	"github.com/erp/catalogsync/internal/infrastructure/telemetry"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// RebuildMode selects how a full rebuild treats existing projections
type RebuildMode string

const (
	// RebuildClean removes every projection first and runs alone
	RebuildClean RebuildMode = "clean"
	// RebuildMerge rewrites every projection in place alongside incremental work
	RebuildMerge RebuildMode = "merge"
)

// ParseRebuildMode parses a rebuild mode; empty means merge
func ParseRebuildMode(s string) (RebuildMode, error) {
	switch RebuildMode(s) {
	case "", RebuildMerge:
		return RebuildMerge, nil
	case RebuildClean:
		return RebuildClean, nil
	default:
		return "", shared.ErrInvalidInput.WithMessage(fmt.Sprintf("unknown rebuild mode %q", s))
	}
}

// RebuildReport summarizes a full rebuild
type RebuildReport struct {
	Mode     RebuildMode                `json:"mode"`
	GUID     string                     `json:"guid"`
	Entities map[catalog.EntityKind]int `json:"entities"`
	Failed   int                        `json:"failed"`
	Duration time.Duration              `json:"duration"`
}

// RebuildRunner rewrites the projections of every catalog entity without
// publishing bulk change events
type RebuildRunner struct {
	engine     *Engine
	lookup     catalog.EnumerationLookup
	maintainer projection.Maintainer
	logger     *zap.Logger
}

// NewRebuildRunner creates a runner; maintainer is needed for clean rebuilds
func NewRebuildRunner(engine *Engine, lookup catalog.EnumerationLookup, maintainer projection.Maintainer, logger *zap.Logger) (*RebuildRunner, error) {
	if engine == nil {
		return nil, &ConfigError{Component: "RebuildRunner", Reason: "no engine"}
	}
	if lookup == nil {
		return nil, &ConfigError{Component: "RebuildRunner", Reason: "no enumeration lookup"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RebuildRunner{engine: engine, lookup: lookup, maintainer: maintainer, logger: logger}, nil
}

// Run rebuilds every projection. Failures of single entities are collected
// and returned together once every entity was attempted.
func (r *RebuildRunner) Run(ctx context.Context, mode RebuildMode) (*RebuildReport, error) {
	if mode == RebuildClean && r.maintainer == nil {
		return nil, &ConfigError{Component: "RebuildRunner", Reason: "clean rebuild needs a maintainer"}
	}

	var (
		release func()
		err     error
	)
	if mode == RebuildClean {
		release, err = r.engine.guard.Exclusive(ctx)
	} else {
		release, err = r.engine.guard.Shared(ctx)
	}
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, span := telemetry.StartServiceSpan(ctx, "RebuildRunner", "Run", "rebuild.mode", string(mode))
	defer span.End()
	ctx, sc := beginRun(ctx, r.engine.clock, "rebuild", r.logger)
	start := time.Now()
	report := &RebuildReport{Mode: mode, GUID: sc.GUID.String(), Entities: make(map[catalog.EntityKind]int)}

	logger.L(ctx).Info("rebuild started", zap.String("mode", string(mode)))
	if mode == RebuildClean {
		if err := r.maintainer.Clean(ctx); err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("clean projections: %w", err)
		}
	}

	var result *multierror.Error
	for _, kind := range catalog.AllKinds() {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}
		n, err := r.rebuildKind(ctx, kind)
		report.Entities[kind] = n
		if err != nil {
			if merr, ok := err.(*multierror.Error); ok {
				report.Failed += len(merr.Errors)
			} else {
				report.Failed++
			}
			result = multierror.Append(result, err)
		}
	}
	report.Duration = time.Since(start)

	err = result.ErrorOrNil()
	fields := []zap.Field{
		zap.String("mode", string(mode)),
		zap.Any("entities", report.Entities),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration),
	}
	if err != nil {
		telemetry.RecordError(span, err)
		logger.L(ctx).Error("rebuild finished with failures", append(fields, zap.Error(err))...)
		return report, err
	}
	logger.L(ctx).Info("rebuild finished", fields...)
	return report, nil
}

func (r *RebuildRunner) rebuildKind(ctx context.Context, kind catalog.EntityKind) (int, error) {
	if kind == catalog.KindCategory {
		categories, err := r.lookup.Categories(ctx)
		if err != nil {
			return 0, fmt.Errorf("list categories: %w", err)
		}
		var result *multierror.Error
		for i := range categories {
			if err := r.engine.categories.Rebuild(ctx, &categories[i]); err != nil {
				result = multierror.Append(result, fmt.Errorf("category %s/%s: %w", categories[i].Catalog, categories[i].Code, err))
			}
		}
		return len(categories), result.ErrorOrNil()
	}

	p, ok := r.engine.processors[kind]
	if !ok {
		return 0, nil
	}
	codes, err := r.lookup.Codes(ctx, kind)
	if err != nil {
		return 0, fmt.Errorf("list %s codes: %w", kind, err)
	}
	var result *multierror.Error
	for _, code := range codes {
		if err := p.Rebuild(ctx, code); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s %s: %w", kind, code, err))
		}
	}
	return len(codes), result.ErrorOrNil()
}
