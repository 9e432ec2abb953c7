package am

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options.
// Task settings have no viper defaults: unset means the compiled default in
// pulse/taskconf applies, which keeps "not configured" distinguishable.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "qntx-task.db")

	v.SetDefault("lock.backend", BackendMemory)
	v.SetDefault("lock.key_prefix", "lock")
	v.SetDefault("lock.redis.addr", "localhost:6379")

	v.SetDefault("executor.backend", BackendNone)
	v.SetDefault("executor.key_prefix", "celery-task-meta-")
	v.SetDefault("executor.redis.addr", "localhost:6379")
	v.SetDefault("executor.sync_rate_per_second", 20.0)
	v.SetDefault("executor.sync_burst", 5)
	v.SetDefault("executor.max_sync", 0)

	v.SetDefault("pulse.timezone", "UTC")
	v.SetDefault("pulse.refresh_interval_seconds", 300)
	v.SetDefault("pulse.watch_config", true)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.export_interval_seconds", 60)

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}

// taskKeys lists the task.* settings so they can be bound to the environment
// even though they carry no viper default.
var taskKeys = []string{
	"retention_days",
	"only_completed",
	"cleanup_enabled",
	"cleanup_beat_interval_hours",
	"cleanup_crontab",
	"cleanup_batch_size",
	"mark_timeout_enabled",
	"timeout_minutes",
	"mark_timeout_crontab",
	"max_retries",
	"retry_backoff",
	"retry_backoff_max_seconds",
}

// BindEnvVars explicitly binds keys AutomaticEnv cannot discover
func BindEnvVars(v *viper.Viper) {
	v.BindEnv("database.dsn", EnvPrefix+"_DATABASE_DSN")
	v.BindEnv("lock.redis.password", EnvPrefix+"_LOCK_REDIS_PASSWORD")
	v.BindEnv("executor.redis.password", EnvPrefix+"_EXECUTOR_REDIS_PASSWORD")

	for _, key := range taskKeys {
		v.BindEnv("task."+key, fmt.Sprintf("%s_TASK_%s", EnvPrefix, strings.ToUpper(key)))
	}
}

// GetDatabasePath returns the SQLite path, falling back to the default
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "qntx-task.db"
	}
	return c.Database.Path
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Lock: %s, Executor: %s, Timezone: %s}",
		c.Database.Driver, c.Lock.Backend, c.Executor.Backend, c.Pulse.Timezone)
}
