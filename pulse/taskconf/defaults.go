// Package taskconf resolves task maintenance settings. Each setting is looked
// up in order: persisted global override, static setting, compiled default.
package taskconf

import "time"

// Compiled defaults.
const (
	DefaultRetentionDays            = 180
	DefaultOnlyCompleted            = true
	DefaultCleanupEnabled           = true
	DefaultCleanupBeatIntervalHours = 24
	DefaultCleanupCrontab           = "0 2 * * *"
	DefaultCleanupBatchSize         = 5000

	DefaultMarkTimeoutEnabled = true
	DefaultTimeoutMinutes     = 10
	DefaultMarkTimeoutCrontab = "*/30 * * * *"

	DefaultMaxRetries      = 3
	DefaultRetryBackoff    = true
	DefaultRetryBackoffMax = 600 * time.Second

	// DefaultMarkTimeoutInterval applies when the mark-timeout cron is invalid.
	DefaultMarkTimeoutInterval = time.Hour
)

// Override keys read from the task_config table.
const (
	KeyRetentionDays      = "retention_days"
	KeyTimeoutMinutes     = "timeout_minutes"
	KeyCleanupCrontab     = "cleanup_crontab"
	KeyMarkTimeoutCrontab = "mark_timeout_crontab"
)

// OverrideKeys lists the keys SetValidated accepts.
var OverrideKeys = []string{KeyRetentionDays, KeyTimeoutMinutes, KeyCleanupCrontab, KeyMarkTimeoutCrontab}

// Periodic job identity.
const (
	Module = "qntx_task"

	CleanupTaskName     = "cleanup_old_task_executions"
	MarkTimeoutTaskName = "mark_timed_out_task_executions"

	CleanupJobID     = "qntx-task-cleanup-old-executions"
	MarkTimeoutJobID = "qntx-task-mark-timed-out-executions"
)
