package catalogsync

import (
	"context"
	"time"

	"github.com/erp/catalogsync/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SyncContext identifies one synchronization run. Every projection written
// during the run shares Now as its projection instant.
type SyncContext struct {
	GUID  uuid.UUID
	Actor string
	Now   time.Time
}

type syncContextKey struct{}

// WithSyncContext attaches sc to ctx
func WithSyncContext(ctx context.Context, sc SyncContext) context.Context {
	return context.WithValue(ctx, syncContextKey{}, sc)
}

// SyncContextFrom returns the run attached to ctx
func SyncContextFrom(ctx context.Context) (SyncContext, bool) {
	sc, ok := ctx.Value(syncContextKey{}).(SyncContext)
	return sc, ok
}

// Clock returns the current instant
type Clock func() time.Time

// SystemClock is the wall clock in UTC
func SystemClock() time.Time {
	return time.Now().UTC()
}

// beginRun returns ctx carrying a SyncContext, reusing the one already
// attached so nested operations share the run's instant and GUID
func beginRun(ctx context.Context, clock Clock, actor string, log *zap.Logger) (context.Context, SyncContext) {
	if sc, ok := SyncContextFrom(ctx); ok {
		return ctx, sc
	}
	if a := logger.GetActor(ctx); a != "" {
		actor = a
	}
	sc := SyncContext{GUID: uuid.New(), Actor: actor, Now: clock().UTC()}
	ctx = WithSyncContext(ctx, sc)

	base := log
	if l, ok := ctx.Value(logger.LoggerKey).(*zap.Logger); ok {
		base = l
	}
	ctx, base = logger.WithSyncGUID(ctx, base, sc.GUID.String())
	if actor != "" && logger.GetActor(ctx) == "" {
		ctx, _ = logger.WithActor(ctx, base, actor)
	}
	return ctx, sc
}

// runNow returns the instant of the run in ctx, falling back to clock
func runNow(ctx context.Context, clock Clock) time.Time {
	if sc, ok := SyncContextFrom(ctx); ok {
		return sc.Now
	}
	return clock().UTC()
}
