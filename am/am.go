package am

// Config represents the qntx-task configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Lock      LockConfig      `mapstructure:"lock"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Task      TaskSettings    `mapstructure:"task"`
	Pulse     PulseConfig     `mapstructure:"pulse"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

// DatabaseConfig selects the relational store
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or postgres (default: sqlite)
	Path   string `mapstructure:"path"`   // SQLite file path (default: qntx-task.db)
	DSN    string `mapstructure:"dsn"`    // PostgreSQL connection string
}

// RedisConfig addresses a Redis server
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LockConfig configures the duplicate-run lock store
type LockConfig struct {
	Backend   string      `mapstructure:"backend"`    // memory or redis (default: memory)
	KeyPrefix string      `mapstructure:"key_prefix"` // default: lock
	Redis     RedisConfig `mapstructure:"redis"`
}

// ExecutorConfig configures where task state is read back from the external executor
type ExecutorConfig struct {
	Backend           string      `mapstructure:"backend"`    // none or redis (default: none)
	KeyPrefix         string      `mapstructure:"key_prefix"` // result key prefix (default: celery-task-meta-)
	Redis             RedisConfig `mapstructure:"redis"`
	SyncRatePerSecond float64     `mapstructure:"sync_rate_per_second"` // executor lookups per second, 0 = unlimited
	SyncBurst         int         `mapstructure:"sync_burst"`
	MaxSync           int         `mapstructure:"max_sync"` // rows synced per timeout run, 0 = all
}

// TaskSettings are the static task maintenance settings.
// nil means "not configured": the compiled default applies.
type TaskSettings struct {
	RetentionDays            *int    `mapstructure:"retention_days"`
	OnlyCompleted            *bool   `mapstructure:"only_completed"`
	CleanupEnabled           *bool   `mapstructure:"cleanup_enabled"`
	CleanupBeatIntervalHours *int    `mapstructure:"cleanup_beat_interval_hours"`
	CleanupCrontab           *string `mapstructure:"cleanup_crontab"`
	CleanupBatchSize         *int    `mapstructure:"cleanup_batch_size"`
	MarkTimeoutEnabled       *bool   `mapstructure:"mark_timeout_enabled"`
	TimeoutMinutes           *int    `mapstructure:"timeout_minutes"`
	MarkTimeoutCrontab       *string `mapstructure:"mark_timeout_crontab"`
	MaxRetries               *int    `mapstructure:"max_retries"`
	RetryBackoff             *bool   `mapstructure:"retry_backoff"`
	RetryBackoffMaxSeconds   *int    `mapstructure:"retry_backoff_max_seconds"`
}

// PulseConfig configures the periodic scheduler daemon
type PulseConfig struct {
	Timezone               string `mapstructure:"timezone"`                 // IANA zone for cron schedules (default: UTC)
	RefreshIntervalSeconds int    `mapstructure:"refresh_interval_seconds"` // How often schedules are re-resolved, 0 = never
	WatchConfig            bool   `mapstructure:"watch_config"`             // Reload settings on config file change
}

// TelemetryConfig configures OpenTelemetry metrics
type TelemetryConfig struct {
	Enabled               bool `mapstructure:"enabled"`
	ExportIntervalSeconds int  `mapstructure:"export_interval_seconds"`
}

// LogConfig configures the global logger
type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"`
}

// Supported backends
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
