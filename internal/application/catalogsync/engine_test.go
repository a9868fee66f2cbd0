package catalogsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/erp/catalogsync/internal/domain/catalog"
	"github.com/erp/catalogsync/internal/domain/projection"
	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRebuildLock is a RebuildLock held by whoever set held
type fakeRebuildLock struct {
	mu   sync.Mutex
	held bool
	err  error
}

func (l *fakeRebuildLock) Acquire(_ context.Context, _ time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, shared.ErrRebuildInProgress
	}
	l.held = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held = false
		return nil
	}, nil
}

func (l *fakeRebuildLock) Held(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held, l.err
}

func newTestEngine(t *testing.T, h *harness, guard *RebuildGuard) *Engine {
	t.Helper()
	e, err := NewEngine(Dependencies{ProcessorDeps: h.deps, PropagationParallelism: 2, Guard: guard})
	require.NoError(t, err)
	return e
}

func TestEngine_EventTypes(t *testing.T) {
	e := newTestEngine(t, newHarness(1000), nil)

	types := e.EventTypes()

	assert.Len(t, types, 5*3+7)
	assert.Contains(t, types, "brand.updated")
	assert.Contains(t, types, "category.excluded")
	assert.NotContains(t, types, "brand.linked")
}

func TestEngine_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatches by kind", func(t *testing.T) {
		h := newHarness(1000)
		h.lookup.brands["acme"] = &catalog.Brand{Code: "acme"}
		h.lookup.references["brand/acme"] = []string{"P1"}
		e := newTestEngine(t, h, nil)

		require.NoError(t, e.Handle(ctx, catalog.NewChangeEvent(catalog.KindBrand, catalog.ActionCreated, "acme")))

		assert.Equal(t, 1, h.bus.count())
		row := h.store.row(projection.TypeBrand, "uk", "acme")
		require.NotNil(t, row)
		assert.Equal(t, testNow, row.ProjectionDateTime)
	})

	t.Run("rejects foreign events", func(t *testing.T) {
		e := newTestEngine(t, newHarness(1000), nil)

		err := e.Handle(ctx, projection.NewUpdatedEvent(projection.TypeBrand, "uk", []string{"acme"}, testNow))

		assert.Error(t, err)
	})

	t.Run("rejects invalid events", func(t *testing.T) {
		e := newTestEngine(t, newHarness(1000), nil)

		err := e.Handle(ctx, catalog.NewChangeEvent(catalog.KindCategory, catalog.ActionUpdated, "shoes"))

		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("refuses work during a clean rebuild elsewhere", func(t *testing.T) {
		h := newHarness(1000)
		h.lookup.brands["acme"] = &catalog.Brand{Code: "acme"}
		lock := &fakeRebuildLock{held: true}
		e := newTestEngine(t, h, NewRebuildGuard(lock, time.Minute))

		err := e.Handle(ctx, catalog.NewChangeEvent(catalog.KindBrand, catalog.ActionUpdated, "acme"))

		assert.ErrorIs(t, err, shared.ErrRebuildInProgress)
		assert.Zero(t, h.store.writes)
	})

	t.Run("lock check failure is returned", func(t *testing.T) {
		h := newHarness(1000)
		boom := errors.New("redis down")
		e := newTestEngine(t, h, NewRebuildGuard(&fakeRebuildLock{err: boom}, time.Minute))

		err := e.Handle(ctx, catalog.NewChangeEvent(catalog.KindBrand, catalog.ActionUpdated, "acme"))

		assert.ErrorIs(t, err, boom)
	})

	t.Run("run context is shared by nested work", func(t *testing.T) {
		h := newHarness(1000)
		h.lookup.brands["acme"] = &catalog.Brand{Code: "acme"}
		e := newTestEngine(t, h, nil)
		runAt := testNow.Add(time.Hour)

		runCtx := WithSyncContext(ctx, SyncContext{Now: runAt, Actor: "test"})
		require.NoError(t, e.Handle(runCtx, catalog.NewChangeEvent(catalog.KindBrand, catalog.ActionUpdated, "acme")))

		assert.Equal(t, runAt, h.store.row(projection.TypeBrand, "ca", "acme").ProjectionDateTime)
	})
}

func TestNewEngine_MissingCapability(t *testing.T) {
	h := newHarness(1000)
	registry := NewCapabilityRegistry()
	for _, pt := range projection.AllTypes() {
		if pt != projection.TypeModifierGroup {
			registry.Register(pt, h.store, h.store)
		}
	}
	h.deps.Capabilities = registry

	_, err := NewEngine(Dependencies{ProcessorDeps: h.deps})

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "ModifierGroupProcessor", cfgErr.Component)
}

func TestRebuildGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("exclusive waits for shared holders", func(t *testing.T) {
		g := NewRebuildGuard(nil, 0)
		release, err := g.Shared(ctx)
		require.NoError(t, err)

		acquired := make(chan struct{})
		go func() {
			releaseExclusive, err := g.Exclusive(ctx)
			if err == nil {
				close(acquired)
				releaseExclusive()
			}
		}()

		select {
		case <-acquired:
			t.Fatal("exclusive acquired while shared was held")
		case <-time.After(50 * time.Millisecond):
		}
		release()
		select {
		case <-acquired:
		case <-time.After(time.Second):
			t.Fatal("exclusive never acquired")
		}
	})

	t.Run("second exclusive across processes is refused", func(t *testing.T) {
		lock := &fakeRebuildLock{held: true}
		g := NewRebuildGuard(lock, time.Minute)

		_, err := g.Exclusive(ctx)

		assert.ErrorIs(t, err, shared.ErrRebuildInProgress)
	})

	t.Run("exclusive release frees the distributed lock", func(t *testing.T) {
		lock := &fakeRebuildLock{}
		g := NewRebuildGuard(lock, time.Minute)

		release, err := g.Exclusive(ctx)
		require.NoError(t, err)
		assert.True(t, lock.held)
		release()

		assert.False(t, lock.held)
		releaseShared, err := g.Shared(ctx)
		require.NoError(t, err)
		releaseShared()
	})
}
