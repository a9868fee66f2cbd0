package catalogsync

import (
	"context"
	"fmt"
	"sort"
	"time"

	projector "github.com/erp/catalogsync/internal/application/projection"
	"github.com/erp/catalogsync/internal/domain/projection"
	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/erp/catalogsync/internal/infrastructure/logger"
	"github.com/erp/catalogsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// ScopeResult is the outcome of writing one scope
type ScopeResult struct {
	Key     projection.Key
	Written bool
	Err     error
}

// outcome aggregates the scope results of one operation
type outcome struct {
	changed bool
	// stores lists the stores where a scope changed, sorted
	stores []string
	err    error
}

func summarize(results []ScopeResult) outcome {
	var out outcome
	seen := make(map[string]bool)
	for _, r := range results {
		if r.Err != nil {
			if out.err == nil {
				out.err = r.Err
			}
			continue
		}
		if !r.Written {
			continue
		}
		out.changed = true
		if r.Key.Store != "" && !seen[r.Key.Store] {
			seen[r.Key.Store] = true
			out.stores = append(out.stores, r.Key.Store)
		}
	}
	sort.Strings(out.stores)
	return out
}

// firstError returns the first non-nil error
func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// scopeWriter performs the conditional writes of built scopes and announces
// the changed ones per (type, store)
type scopeWriter struct {
	announcer shared.EventPublisher
	logger    *zap.Logger
	metrics   *telemetry.SyncMetrics
}

// write stores every built scope through w. Build failures and write
// failures become failed results; no failure stops the other scopes.
func (sw *scopeWriter) write(ctx context.Context, w projection.Writer, built []projector.Built) []ScopeResult {
	results := make([]ScopeResult, 0, len(built))
	for _, b := range built {
		if b.Err != nil {
			logger.WithLogger(ctx, sw.logger).Error("failed to build projection",
				zap.String("key", b.Key.String()),
				zap.Error(b.Err),
			)
			results = append(results, ScopeResult{Key: b.Key, Err: b.Err})
			continue
		}
		start := time.Now()
		changed, err := w.Write(ctx, b.Projection)
		sw.metrics.RecordWrite(ctx, string(b.Key.Type), b.Key.Store, changed, b.Projection.Deleted, time.Since(start))
		if err != nil {
			logger.WithLogger(ctx, sw.logger).Error("failed to write projection",
				zap.String("key", b.Key.String()),
				zap.Error(err),
			)
			results = append(results, ScopeResult{Key: b.Key, Err: fmt.Errorf("write %s: %w", b.Key, err)})
			continue
		}
		results = append(results, ScopeResult{Key: b.Key, Written: changed})
	}
	return results
}

// tombstone deletes code of type t in stores, or in every store when
// stores is empty
func (sw *scopeWriter) tombstone(ctx context.Context, w projection.Writer, t projection.Type, code string, stores []string) []ScopeResult {
	if len(stores) == 0 {
		key := projection.Key{Type: t, Code: code}
		n, err := w.Delete(ctx, t, code)
		if err != nil {
			logger.WithLogger(ctx, sw.logger).Error("failed to tombstone projection",
				zap.String("key", key.String()),
				zap.Error(err),
			)
			return []ScopeResult{{Key: key, Err: fmt.Errorf("delete %s: %w", key, err)}}
		}
		return []ScopeResult{{Key: key, Written: n > 0}}
	}

	results := make([]ScopeResult, 0, len(stores))
	for _, store := range stores {
		key := projection.Key{Type: t, Store: store, Code: code}
		n, err := w.DeleteInStore(ctx, t, code, store)
		if err != nil {
			logger.WithLogger(ctx, sw.logger).Error("failed to tombstone projection",
				zap.String("key", key.String()),
				zap.Error(err),
			)
			results = append(results, ScopeResult{Key: key, Err: fmt.Errorf("delete %s: %w", key, err)})
			continue
		}
		results = append(results, ScopeResult{Key: key, Written: n > 0})
	}
	return results
}

// announce emits one projection batch event per (type, store) holding
// changed scopes
func (sw *scopeWriter) announce(ctx context.Context, results []ScopeResult, now time.Time) error {
	if sw.announcer == nil {
		return nil
	}
	type batchKey struct {
		t     projection.Type
		store string
	}
	batches := make(map[batchKey][]string)
	var order []batchKey
	for _, r := range results {
		if r.Err != nil || !r.Written || r.Key.Store == "" {
			continue
		}
		k := batchKey{t: r.Key.Type, store: r.Key.Store}
		if _, ok := batches[k]; !ok {
			order = append(order, k)
		}
		batches[k] = append(batches[k], r.Key.Code)
	}

	var firstErr error
	for _, k := range order {
		codes := batches[k]
		sort.Strings(codes)
		if err := sw.announcer.Publish(ctx, projection.NewUpdatedEvent(k.t, k.store, codes, now)); err != nil {
			logger.WithLogger(ctx, sw.logger).Error("failed to announce projection batch",
				zap.String("type", string(k.t)),
				zap.String("store", k.store),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("announce %s/%s: %w", k.t, k.store, err)
			}
		}
	}
	return firstErr
}
