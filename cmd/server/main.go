package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erp/catalogsync/internal/application/catalogsync"
	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/erp/catalogsync/internal/infrastructure/cache"
	"github.com/erp/catalogsync/internal/infrastructure/config"
	"github.com/erp/catalogsync/internal/infrastructure/event"
	"github.com/erp/catalogsync/internal/infrastructure/logger"
	"github.com/erp/catalogsync/internal/infrastructure/persistence"
	"github.com/erp/catalogsync/internal/infrastructure/scheduler"
	"github.com/erp/catalogsync/internal/infrastructure/telemetry"
	"github.com/erp/catalogsync/internal/interfaces/http/handler"
	"github.com/erp/catalogsync/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	rebuildOnStart := flag.Bool("rebuild", false, "Run a full rebuild in the configured mode before serving")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: cfg.App.Name,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx := context.Background()

	// Telemetry comes first so the bridged logger and DB tracing see the providers
	providers, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
		MetricsInterval:   cfg.Telemetry.MetricsInterval,
		LogsEnabled:       cfg.Telemetry.LogsEnabled,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	log = providers.BridgeLogger(log)

	log.Info("Starting catalog sync",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Database.LogLevel),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	db, err := persistence.NewDatabase(&cfg.Database, persistence.WithLogger(gormLog))
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:               cfg.Telemetry.DBTraceEnabled,
		DBName:                cfg.Database.DBName,
		WithoutQueryVariables: !cfg.Telemetry.DBLogFullSQL,
	}, log); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	pool, err := db.SQL()
	if err != nil {
		log.Fatal("Failed to access connection pool", zap.Error(err))
	}
	if err := telemetry.RegisterDBPoolMetrics(providers.Meter("catalogsync/db"), pool); err != nil {
		log.Fatal("Failed to register connection pool metrics", zap.Error(err))
	}
	log.Info("Database connected successfully")

	// A disabled Redis must stay a nil interface, not a typed nil client
	var redisClient redis.UniversalClient
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.Error("Error closing Redis client", zap.Error(err))
			}
		}()
		redisClient = client
		log.Info("Redis connected successfully", zap.String("addr", cfg.Redis.Addr()))
	}

	metrics, err := telemetry.NewSyncMetrics(providers.Meter("catalogsync"))
	if err != nil {
		log.Fatal("Failed to create sync metrics", zap.Error(err))
	}

	// Stores
	projections := persistence.NewGormProjectionRepository(db.DB,
		persistence.WithHistory(cfg.Projection.HistoryEnabled),
		persistence.WithModifiedSinceOffset(cfg.Projection.ModifiedSinceOffsetDuration()),
		persistence.WithRepositoryLogger(log),
	)
	lookup := persistence.NewGormCatalogLookup(db.DB)

	// Notifications and the in-process bus
	notifications, err := event.NewNotificationBus(cfg.Notification, redisClient, log)
	if err != nil {
		log.Fatal("Failed to create notification bus", zap.Error(err))
	}
	publisher, err := catalogsync.NewBulkPublisher(notifications, cfg.CatalogSync.BulkChangeMaxEventSize, log, metrics)
	if err != nil {
		log.Fatal("Failed to create bulk publisher", zap.Error(err))
	}
	eventBus := event.NewInMemoryEventBus(log)

	guard := catalogsync.NewRebuildGuard(cache.NewRebuildLock(redisClient, log), cfg.Rebuild.LockTTL)

	engine, err := catalogsync.NewEngine(catalogsync.Dependencies{
		ProcessorDeps: catalogsync.ProcessorDeps{
			Capabilities: catalogsync.RegistryFor(projections),
			Lookup:       lookup,
			Publisher:    publisher,
			Announcer:    eventBus,
			Logger:       log,
			Metrics:      metrics,
		},
		PropagationParallelism: cfg.CatalogSync.PropagationParallelism,
		Guard:                  guard,
	})
	if err != nil {
		log.Fatal("Failed to create sync engine", zap.Error(err))
	}

	idempotencyStore := cache.NewIdempotencyStore(redisClient, log)
	defer func() {
		if err := idempotencyStore.Close(); err != nil {
			log.Error("Error closing idempotency store", zap.Error(err))
		}
	}()
	eventBus.Subscribe(event.NewIdempotentHandler(engine, idempotencyStore, log,
		event.WithIdempotencyConfig(shared.IdempotencyConfig{
			TTL:     cfg.CatalogSync.IdempotencyTTL,
			Enabled: cfg.CatalogSync.IdempotencyEnabled,
		}),
		event.WithDeliveryRecorder(metrics),
	))
	if cfg.Notification.Forward {
		eventBus.Subscribe(event.NewProjectionUpdateForwarder(notifications))
		log.Info("Forwarding projection batch events to the notification bus")
	}
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	runner, err := catalogsync.NewRebuildRunner(engine, lookup, projections, log)
	if err != nil {
		log.Fatal("Failed to create rebuild runner", zap.Error(err))
	}
	if *rebuildOnStart {
		mode, err := catalogsync.ParseRebuildMode(cfg.Rebuild.Mode)
		if err != nil {
			log.Fatal("Invalid rebuild mode", zap.Error(err))
		}
		report, err := runner.Run(ctx, mode)
		if err != nil {
			log.Fatal("Startup rebuild failed", zap.Error(err))
		}
		log.Info("Startup rebuild finished",
			zap.String("mode", string(report.Mode)),
			zap.Duration("duration", report.Duration),
		)
	}

	sweeper, err := scheduler.NewExpirySweeper(scheduler.SweeperConfig{
		Interval:  cfg.Projection.SweepInterval,
		BatchSize: cfg.Projection.SweepBatchSize,
	}, projections, log,
		scheduler.WithAnnouncer(eventBus),
		scheduler.WithRebuildGuard(guard),
		scheduler.WithSweeperMetrics(metrics),
	)
	if err != nil {
		log.Fatal("Failed to create expiry sweeper", zap.Error(err))
	}
	if err := sweeper.Start(ctx); err != nil {
		log.Fatal("Failed to start expiry sweeper", zap.Error(err))
	}

	// HTTP
	checks := map[string]handler.HealthCheck{"database": db.Ping}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	var history handler.HistoryReader
	if cfg.Projection.HistoryEnabled {
		history = projections
	}
	ginMode := gin.DebugMode
	if cfg.App.Env == "production" {
		ginMode = gin.ReleaseMode
	}
	httpEngine := router.NewEngine(router.EngineConfig{
		Mode:        ginMode,
		ServiceName: cfg.Telemetry.ServiceName,
		Tracing:     providers.IsEnabled(),
		MaxBodySize: cfg.HTTP.MaxBodySize,
		Meter:       providers.Meter("catalogsync/http"),
	}, router.Handlers{
		Projections: handler.NewProjectionHandler(projections, history),
		Changes:     handler.NewChangeHandler(eventBus),
		Rebuild:     handler.NewRebuildHandler(runner),
		System:      handler.NewSystemHandler(cfg.App.Name, version, checks),
	}, log)
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := httpEngine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Fatal("Invalid trusted proxies", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        httpEngine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := sweeper.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping expiry sweeper", zap.Error(err))
	}
	if err := eventBus.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping event bus", zap.Error(err))
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down telemetry", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
