package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging across qntx-task.
// Use these constants instead of raw strings so logs stay queryable.
const (
	// Identity
	FieldExecutionID = "execution_id"
	FieldTaskName    = "task_name"
	FieldModule      = "module"
	FieldCreatedBy   = "created_by"

	// Components
	FieldComponent = "component"
	FieldJob       = "job"

	// Locks
	FieldLock      = "lock"
	FieldLockTTL   = "lock_ttl"
	FieldSkipCause = "skip_reason"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldCutoff     = "cutoff"
	FieldSchedule   = "schedule"

	// Errors
	FieldError = "error"

	// Counts
	FieldCount        = "count"
	FieldBatchSize    = "batch_size"
	FieldDeletedCount = "deleted_count"
	FieldUpdatedCount = "updated_count"
	FieldSyncedCount  = "synced_count"

	// Status
	FieldStatus     = "status"
	FieldFromStatus = "from_status"

	FieldSymbol = "symbol"
)

type contextKey string

const (
	executionIDKey contextKey = "logger_execution_id"
	jobKey         contextKey = "logger_job"
)

// WithExecutionID adds an execution id to the context for logging
func WithExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, executionIDKey, executionID)
}

// WithJob adds a periodic job id to the context for logging
func WithJob(ctx context.Context, job string) context.Context {
	return context.WithValue(ctx, jobKey, job)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if id, ok := ctx.Value(executionIDKey).(string); ok && id != "" {
		fields = append(fields, FieldExecutionID, id)
	}
	if job, ok := ctx.Value(jobKey).(string); ok && job != "" {
		fields = append(fields, FieldJob, job)
	}

	return fields
}

// FromContext decorates l with the fields carried by ctx.
func FromContext(ctx context.Context, l *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// ComponentLogger returns a named child of the global logger.
//
// Example:
//
//	type Tracker struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func NewTracker() *Tracker {
//	    return &Tracker{logger: logger.ComponentLogger("pulse.task")}
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
