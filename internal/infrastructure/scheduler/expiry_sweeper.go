// Package scheduler runs the engine's periodic background work.
package scheduler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/erp/catalogsync/internal/application/catalogsync"
	"github.com/erp/catalogsync/internal/domain/projection"
	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/erp/catalogsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// ExpiryStore is the part of the projection store a sweep needs
type ExpiryStore interface {
	projection.Expirer
	NearestExpiry(ctx context.Context, t projection.Type, store string, now time.Time) (*time.Time, error)
}

// SweeperConfig holds the sweep cadence
type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
}

// DefaultSweeperConfig returns a one-minute cadence with batches of 500
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{Interval: time.Minute, BatchSize: 500}
}

// SweepResult summarizes one sweep
type SweepResult struct {
	Expired int
	Failed  int
	// Groups lists the (type, store) pairs that lost live rows
	Groups []projection.Key
}

// ExpirySweeper tombstones live projections whose disable instant has passed
type ExpirySweeper struct {
	config    SweeperConfig
	store     ExpiryStore
	announcer shared.EventPublisher
	guard     *catalogsync.RebuildGuard
	clock     func() time.Time
	logger    *zap.Logger
	metrics   *telemetry.SyncMetrics

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	sweeping  sync.Mutex
}

// SweeperOption configures an ExpirySweeper
type SweeperOption func(*ExpirySweeper)

// WithSweeperClock replaces the wall clock
func WithSweeperClock(clock func() time.Time) SweeperOption {
	return func(s *ExpirySweeper) {
		s.clock = clock
	}
}

// WithAnnouncer publishes a projection batch event per swept (type, store)
func WithAnnouncer(p shared.EventPublisher) SweeperOption {
	return func(s *ExpirySweeper) {
		s.announcer = p
	}
}

// WithRebuildGuard skips sweeps while a clean rebuild holds the guard,
// without waiting for it
func WithRebuildGuard(g *catalogsync.RebuildGuard) SweeperOption {
	return func(s *ExpirySweeper) {
		s.guard = g
	}
}

// WithSweeperMetrics records swept rows
func WithSweeperMetrics(m *telemetry.SyncMetrics) SweeperOption {
	return func(s *ExpirySweeper) {
		s.metrics = m
	}
}

// NewExpirySweeper creates a sweeper over store
func NewExpirySweeper(config SweeperConfig, store ExpiryStore, logger *zap.Logger, opts ...SweeperOption) (*ExpirySweeper, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: no projection store", ErrInvalidConfig)
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("%w: sweep interval must be positive", ErrInvalidConfig)
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultSweeperConfig().BatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ExpirySweeper{
		config: config,
		store:  store,
		clock:  func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start runs a sweep every interval until Stop
func (s *ExpirySweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.wg.Add(1)
	go s.runLoop(ctx)

	s.logger.Info("Expiry sweeper started",
		zap.Duration("interval", s.config.Interval),
		zap.Int("batch_size", s.config.BatchSize),
	)
	return nil
}

// Stop ends the loop, waiting for a running sweep until ctx is done
func (s *ExpirySweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Expiry sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ExpirySweeper) runLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("expiry sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep tombstones every live row expired at the current instant, batch by
// batch, through the store's conditional write path. Rows rewritten
// concurrently with a later disable instant are left alone by the store.
func (s *ExpirySweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	if !s.sweeping.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer s.sweeping.Unlock()

	if s.guard != nil {
		release, err := s.guard.TryShared(ctx)
		if errors.Is(err, shared.ErrRebuildInProgress) {
			s.logger.Debug("expiry sweep skipped during clean rebuild")
			return &SweepResult{}, nil
		}
		if err != nil {
			return nil, err
		}
		defer release()
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "ExpirySweeper", "Sweep")
	defer span.End()

	now := s.clock().UTC()
	result := &SweepResult{}
	expired := make(map[projection.Key][]string)
	failed := make(map[projection.Key]bool)

	for {
		// failed keys stay expired, so widen the window past them
		limit := s.config.BatchSize + len(failed)
		keys, err := s.store.ExpiredKeys(ctx, now, limit)
		if err != nil {
			telemetry.RecordError(span, err)
			return result, fmt.Errorf("find expired projections: %w", err)
		}

		progressed := false
		for _, key := range keys {
			if failed[key] {
				continue
			}
			changed, err := s.store.Expire(ctx, key, now)
			if err != nil {
				failed[key] = true
				result.Failed++
				progressed = true
				s.logger.Error("failed to expire projection",
					zap.String("key", key.String()),
					zap.Error(err),
				)
				continue
			}
			if changed {
				progressed = true
				group := projection.Key{Type: key.Type, Store: key.Store}
				expired[group] = append(expired[group], key.Code)
				result.Expired++
			}
		}
		if len(keys) < limit || !progressed {
			break
		}
	}

	s.metrics.RecordExpired(ctx, result.Expired)
	s.finish(ctx, expired, now, result)
	return result, nil
}

func (s *ExpirySweeper) finish(ctx context.Context, expired map[projection.Key][]string, now time.Time, result *SweepResult) {
	for group := range expired {
		result.Groups = append(result.Groups, group)
	}
	slices.SortFunc(result.Groups, func(a, b projection.Key) int {
		if c := cmp.Compare(string(a.Type), string(b.Type)); c != 0 {
			return c
		}
		return cmp.Compare(a.Store, b.Store)
	})

	for _, group := range result.Groups {
		codes := expired[group]
		slices.Sort(codes)

		fields := []zap.Field{
			zap.String("projection_type", string(group.Type)),
			zap.String("store", group.Store),
			zap.Int("expired", len(codes)),
		}
		next, err := s.store.NearestExpiry(ctx, group.Type, group.Store, now)
		switch {
		case err != nil:
			fields = append(fields, zap.NamedError("nearest_expiry_error", err))
		case next != nil:
			fields = append(fields, zap.Time("next_expiry", *next))
		}
		s.logger.Info("projections expired", fields...)

		if s.announcer == nil {
			continue
		}
		if err := s.announcer.Publish(ctx, projection.NewUpdatedEvent(group.Type, group.Store, codes, now)); err != nil {
			s.logger.Error("failed to announce expired projections",
				zap.String("projection_type", string(group.Type)),
				zap.String("store", group.Store),
				zap.Error(err),
			)
		}
	}
}
