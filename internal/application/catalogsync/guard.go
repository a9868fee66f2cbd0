package catalogsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erp/catalogsync/internal/domain/shared"
)

// DefaultRebuildLockTTL bounds how long a crashed clean rebuild blocks
// incremental processing in other processes
const DefaultRebuildLockTTL = 30 * time.Minute

// RebuildLock is the clean-rebuild lock shared between processes
type RebuildLock interface {
	// Acquire takes the lock for ttl. It fails with
	// shared.ErrRebuildInProgress when the lock is already held.
	Acquire(ctx context.Context, ttl time.Duration) (release func(context.Context) error, err error)
	// Held reports whether some process holds the lock
	Held(ctx context.Context) (bool, error)
}

// RebuildGuard lets incremental processing run concurrently while a clean
// rebuild runs alone, in this process through a RWMutex and across
// processes through an optional RebuildLock
type RebuildGuard struct {
	mu   sync.RWMutex
	lock RebuildLock
	ttl  time.Duration
}

// NewRebuildGuard creates a guard; lock may be nil for a single process
func NewRebuildGuard(lock RebuildLock, ttl time.Duration) *RebuildGuard {
	if ttl <= 0 {
		ttl = DefaultRebuildLockTTL
	}
	return &RebuildGuard{lock: lock, ttl: ttl}
}

// Shared enters incremental mode. It returns shared.ErrRebuildInProgress
// while another process runs a clean rebuild.
func (g *RebuildGuard) Shared(ctx context.Context) (func(), error) {
	g.mu.RLock()
	return g.checkLock(ctx)
}

// TryShared enters incremental mode without waiting. It returns
// shared.ErrRebuildInProgress while a clean rebuild runs in this or another
// process.
func (g *RebuildGuard) TryShared(ctx context.Context) (func(), error) {
	if !g.mu.TryRLock() {
		return nil, shared.ErrRebuildInProgress
	}
	return g.checkLock(ctx)
}

// checkLock runs with the read lock held and keeps it only on success
func (g *RebuildGuard) checkLock(ctx context.Context) (func(), error) {
	if g.lock == nil {
		return g.mu.RUnlock, nil
	}
	held, err := g.lock.Held(ctx)
	if err != nil {
		g.mu.RUnlock()
		return nil, fmt.Errorf("check rebuild lock: %w", err)
	}
	if held {
		g.mu.RUnlock()
		return nil, shared.ErrRebuildInProgress
	}
	return g.mu.RUnlock, nil
}

// Exclusive enters clean-rebuild mode, waiting for incremental work in this
// process to finish
func (g *RebuildGuard) Exclusive(ctx context.Context) (func(), error) {
	var releaseLock func(context.Context) error
	if g.lock != nil {
		release, err := g.lock.Acquire(ctx, g.ttl)
		if err != nil {
			return nil, err
		}
		releaseLock = release
	}
	g.mu.Lock()
	return func() {
		if releaseLock != nil {
			_ = releaseLock(context.WithoutCancel(ctx))
		}
		g.mu.Unlock()
	}, nil
}
