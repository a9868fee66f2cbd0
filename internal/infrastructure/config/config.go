package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App          AppConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Log          LogConfig
	HTTP         HTTPConfig
	Telemetry    TelemetryConfig
	Projection   ProjectionConfig
	CatalogSync  CatalogSyncConfig
	Rebuild      RebuildConfig
	Notification NotificationConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	LogLevel        string
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns the host:port of the Redis server
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsInterval   time.Duration
	LogsEnabled       bool // Export zap entries through the otelzap bridge
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings
}

// ProjectionConfig holds projection store settings
type ProjectionConfig struct {
	HistoryEnabled      bool
	SweepInterval       time.Duration
	SweepBatchSize      int
	ModifiedSinceOffset int // in minutes
}

// ModifiedSinceOffsetDuration returns the paging offset as a duration
func (p *ProjectionConfig) ModifiedSinceOffsetDuration() time.Duration {
	return time.Duration(p.ModifiedSinceOffset) * time.Minute
}

// CatalogSyncConfig holds the synchronization engine settings
type CatalogSyncConfig struct {
	BulkChangeMaxEventSize int
	PropagationParallelism int
	IdempotencyEnabled     bool
	IdempotencyTTL         time.Duration
}

// RebuildConfig holds full rebuild settings
type RebuildConfig struct {
	Mode    string // clean or merge
	LockTTL time.Duration
}

// NotificationConfig selects where bulk change events are published
type NotificationConfig struct {
	Driver    string // redis, log or memory
	Stream    string
	MaxLen    int64
	Forward   bool // Forward projection batch events to the bus as well
	StreamTTL time.Duration
}

const (
	NotificationDriverRedis  = "redis"
	NotificationDriverLog    = "log"
	NotificationDriverMemory = "memory"
)

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with CATSYNC_ prefix (e.g., CATSYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("CATSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Booleans cannot be told apart from "unset" after the fact
	v.SetDefault("projection.history_enabled", true)
	v.SetDefault("catalog_sync.idempotency_enabled", true)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			LogLevel:        v.GetString("database.log_level"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
		Projection: ProjectionConfig{
			HistoryEnabled:      v.GetBool("projection.history_enabled"),
			SweepInterval:       v.GetDuration("projection.sweep_interval"),
			SweepBatchSize:      v.GetInt("projection.sweep_batch_size"),
			ModifiedSinceOffset: v.GetInt("projection.modified_since_offset"),
		},
		CatalogSync: CatalogSyncConfig{
			BulkChangeMaxEventSize: v.GetInt("catalog_sync.bulk_change_max_event_size"),
			PropagationParallelism: v.GetInt("catalog_sync.propagation_parallelism"),
			IdempotencyEnabled:     v.GetBool("catalog_sync.idempotency_enabled"),
			IdempotencyTTL:         v.GetDuration("catalog_sync.idempotency_ttl"),
		},
		Rebuild: RebuildConfig{
			Mode:    v.GetString("rebuild.mode"),
			LockTTL: v.GetDuration("rebuild.lock_ttl"),
		},
		Notification: NotificationConfig{
			Driver:    v.GetString("notification.driver"),
			Stream:    v.GetString("notification.stream"),
			MaxLen:    v.GetInt64("notification.max_len"),
			Forward:   v.GetBool("notification.forward"),
			StreamTTL: v.GetDuration("notification.stream_ttl"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "catalog-sync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "catalog"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		// rebuilds run inside the request
		cfg.HTTP.WriteTimeout = 10 * time.Minute
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 10 << 20 // 10MB
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "catalog-sync"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 30 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.Projection.SweepInterval == 0 {
		cfg.Projection.SweepInterval = time.Minute
	}
	if cfg.Projection.SweepBatchSize == 0 {
		cfg.Projection.SweepBatchSize = 500
	}
	if cfg.Projection.ModifiedSinceOffset == 0 {
		cfg.Projection.ModifiedSinceOffset = 5
	}
	if cfg.CatalogSync.BulkChangeMaxEventSize == 0 {
		cfg.CatalogSync.BulkChangeMaxEventSize = 1000
	}
	if cfg.CatalogSync.PropagationParallelism == 0 {
		cfg.CatalogSync.PropagationParallelism = 8
	}
	if cfg.CatalogSync.IdempotencyTTL == 0 {
		cfg.CatalogSync.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.Rebuild.Mode == "" {
		cfg.Rebuild.Mode = "merge"
	}
	if cfg.Rebuild.LockTTL == 0 {
		cfg.Rebuild.LockTTL = 30 * time.Minute
	}
	if cfg.Notification.Driver == "" {
		cfg.Notification.Driver = NotificationDriverLog
	}
	if cfg.Notification.Stream == "" {
		cfg.Notification.Stream = "catalog:bulk-updates"
	}
	if cfg.Notification.MaxLen == 0 {
		cfg.Notification.MaxLen = 100000
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.CatalogSync.BulkChangeMaxEventSize < 0 {
		return fmt.Errorf("catalog_sync.bulk_change_max_event_size must be positive, got %d", c.CatalogSync.BulkChangeMaxEventSize)
	}
	if c.CatalogSync.PropagationParallelism < 0 {
		return fmt.Errorf("catalog_sync.propagation_parallelism must be positive, got %d", c.CatalogSync.PropagationParallelism)
	}
	if c.Projection.SweepInterval < 0 {
		return fmt.Errorf("projection.sweep_interval must be positive, got %s", c.Projection.SweepInterval)
	}
	if c.Projection.ModifiedSinceOffset < 0 {
		return fmt.Errorf("projection.modified_since_offset cannot be negative")
	}

	switch c.Rebuild.Mode {
	case "clean", "merge":
	default:
		return fmt.Errorf("rebuild.mode must be clean or merge, got %q", c.Rebuild.Mode)
	}

	switch c.Notification.Driver {
	case NotificationDriverRedis:
		if !c.Redis.Enabled {
			return fmt.Errorf("notification.driver=redis requires redis.enabled=true")
		}
	case NotificationDriverLog, NotificationDriverMemory:
	default:
		return fmt.Errorf("notification.driver must be redis, log or memory, got %q", c.Notification.Driver)
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Notification.Driver == NotificationDriverMemory {
			return fmt.Errorf("notification.driver=memory cannot be used in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
