// Package reconcile implements the two periodic maintenance jobs: retention
// cleanup of old execution records and timeout marking of stuck ones.
//
// Cleanup and MarkTimedOut are the plain services. RunCleanup and
// RunMarkTimeout are the periodic entry points: they run under the duplicate-run
// lock, track themselves as executions of the qntx_task module and attach
// their collected logs to that record.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/qntx-task/errors"
	"github.com/teranos/qntx-task/internal/util"
	"github.com/teranos/qntx-task/logger"
	"github.com/teranos/qntx-task/pulse/lock"
	"github.com/teranos/qntx-task/pulse/task"
	"github.com/teranos/qntx-task/pulse/taskconf"
)

// Lock TTLs of the periodic entry points.
const (
	CleanupLockTTL     = 24 * time.Hour
	MarkTimeoutLockTTL = time.Hour
)

// Skip reasons reported in results.
const (
	ReasonInvalidRetention    = "invalid_retention_days"
	ReasonInvalidTimeout      = "invalid_timeout_minutes"
	ReasonCleanupDisabled     = "cleanup_disabled"
	ReasonMarkTimeoutDisabled = "mark_timeout_disabled"
)

// Job outcomes passed to Metrics.JobFinished.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Metrics receives job events. telemetry.Metrics satisfies it.
type Metrics interface {
	lock.SkipRecorder
	RecordsDeleted(ctx context.Context, n int64)
	ExecutionsTimedOut(ctx context.Context, n int64)
	JobFinished(ctx context.Context, job, outcome string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) LockSkipped(context.Context, string, string)                {}
func (noopMetrics) RecordsDeleted(context.Context, int64)                      {}
func (noopMetrics) ExecutionsTimedOut(context.Context, int64)                  {}
func (noopMetrics) JobFinished(context.Context, string, string, time.Duration) {}

// CleanupOptions override the resolved cleanup settings for one call.
type CleanupOptions struct {
	RetentionDays *int  `json:"retention_days,omitempty"`
	OnlyCompleted *bool `json:"only_completed,omitempty"`
	BatchSize     *int  `json:"batch_size,omitempty"`
}

// CleanupResult reports a cleanup call.
type CleanupResult struct {
	DeletedCount  int64  `json:"deleted_count"`
	Cutoff        string `json:"cutoff,omitempty"`
	RetentionDays int    `json:"retention_days"`
	OnlyCompleted *bool  `json:"only_completed,omitempty"`
	Skipped       bool   `json:"skipped,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Error         string `json:"error,omitempty"`
}

// TimeoutOptions override the resolved timeout for one call.
type TimeoutOptions struct {
	TimeoutMinutes *int `json:"timeout_minutes,omitempty"`
}

// TimeoutResult reports a timeout-marking call. The synced counts are only
// set by RunMarkTimeout.
type TimeoutResult struct {
	UpdatedCount       int64  `json:"updated_count"`
	TimeoutMinutes     int    `json:"timeout_minutes"`
	Cutoff             string `json:"cutoff,omitempty"`
	SyncedCount        *int   `json:"synced_count,omitempty"`
	SyncedUpdatedCount *int   `json:"synced_updated_count,omitempty"`
	Skipped            bool   `json:"skipped,omitempty"`
	Reason             string `json:"reason,omitempty"`
	Error              string `json:"error,omitempty"`
}

// Jobs runs the maintenance jobs against one tracker.
type Jobs struct {
	tracker  *task.Tracker
	resolver *taskconf.Resolver
	metrics  Metrics
	logger   *zap.SugaredLogger
	now      func() time.Time
	maxSync  int

	cleanupLocked func(context.Context, run[CleanupOptions]) (lock.Outcome[CleanupResult], error)
	timeoutLocked func(context.Context, run[TimeoutOptions]) (lock.Outcome[TimeoutResult], error)

	mu       sync.Mutex
	inflight map[string]struct{}
}

// run is one periodic invocation: the execution id it is tracked under and
// the caller's options.
type run[O any] struct {
	executionID string
	opts        O
}

// Option configures Jobs.
type Option func(*Jobs)

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(j *Jobs) {
		if m != nil {
			j.metrics = m
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(j *Jobs) { j.now = now }
}

// WithMaxSync caps how many unfinished executions RunMarkTimeout syncs per run.
func WithMaxSync(n int) Option {
	return func(j *Jobs) { j.maxSync = n }
}

// WithLogger overrides the component logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(j *Jobs) { j.logger = l }
}

// New creates the jobs. l guards the periodic entry points.
func New(tracker *task.Tracker, resolver *taskconf.Resolver, l *lock.Lock, opts ...Option) *Jobs {
	j := &Jobs{
		tracker:  tracker,
		resolver: resolver,
		metrics:  noopMetrics{},
		logger:   logger.AddPulseSymbol(logger.ComponentLogger("pulse.reconcile")),
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}

	j.cleanupLocked = lock.WithLock(l, taskconf.CleanupTaskName, CleanupLockTTL, nil, j.runCleanup, j.metrics)
	j.timeoutLocked = lock.WithLock(l, taskconf.MarkTimeoutTaskName, MarkTimeoutLockTTL, nil, j.runMarkTimeout, j.metrics)
	return j
}

// Cleanup deletes executions older than the retention period. Options left
// nil are resolved; a non-positive retention skips the call.
func (j *Jobs) Cleanup(ctx context.Context, opts CleanupOptions) (CleanupResult, error) {
	return j.cleanup(ctx, opts, logger.FromContext(ctx, j.logger))
}

func (j *Jobs) cleanup(ctx context.Context, opts CleanupOptions, log *zap.SugaredLogger) (CleanupResult, error) {
	days := util.Deref(opts.RetentionDays, j.resolver.RetentionDays(ctx))
	onlyCompleted := util.Deref(opts.OnlyCompleted, j.resolver.OnlyCompleted())
	batchSize := util.Deref(opts.BatchSize, j.resolver.CleanupBatchSize())

	if days <= 0 {
		log.Warnw("Skipping cleanup, retention_days must be positive", "retention_days", days)
		return CleanupResult{
			Cutoff:        j.now().UTC().Format(time.RFC3339),
			RetentionDays: days,
			OnlyCompleted: util.Ptr(onlyCompleted),
			Skipped:       true,
			Reason:        ReasonInvalidRetention,
		}, nil
	}

	cutoff := j.now().UTC().AddDate(0, 0, -days)
	log.Infow("Cleaning up old task executions",
		logger.FieldCutoff, cutoff,
		"retention_days", days,
		"only_completed", onlyCompleted,
		logger.FieldBatchSize, batchSize)

	deleted, err := j.tracker.Store().DeleteOlderThan(ctx, cutoff, onlyCompleted, batchSize)
	if deleted > 0 {
		j.metrics.RecordsDeleted(ctx, deleted)
	}
	if err != nil {
		log.Errorw("Cleanup failed", logger.FieldDeletedCount, deleted, logger.FieldError, err)
		return CleanupResult{DeletedCount: deleted}, errors.Wrap(err, "failed to clean up old executions")
	}

	log.Infow("Cleaned up old task executions", logger.FieldDeletedCount, deleted)
	return CleanupResult{
		DeletedCount:  deleted,
		Cutoff:        cutoff.Format(time.RFC3339),
		RetentionDays: days,
		OnlyCompleted: util.Ptr(onlyCompleted),
	}, nil
}

// MarkTimedOut fails STARTED executions that started more than the timeout
// ago. A non-positive timeout skips the call.
func (j *Jobs) MarkTimedOut(ctx context.Context, opts TimeoutOptions) (TimeoutResult, error) {
	minutes := util.Deref(opts.TimeoutMinutes, j.resolver.TimeoutMinutes(ctx))
	return j.markTimedOut(ctx, minutes, logger.FromContext(ctx, j.logger))
}

func (j *Jobs) markTimedOut(ctx context.Context, minutes int, log *zap.SugaredLogger) (TimeoutResult, error) {
	if minutes <= 0 {
		log.Warnw("Skipping timeout marking, timeout_minutes must be positive", "timeout_minutes", minutes)
		return TimeoutResult{TimeoutMinutes: minutes, Skipped: true, Reason: ReasonInvalidTimeout}, nil
	}

	cutoff := j.now().UTC().Add(-time.Duration(minutes) * time.Minute)
	msg := TimeoutMessage(minutes, cutoff)

	updated, err := j.tracker.Store().MarkTimedOut(ctx, cutoff, msg)
	if err != nil {
		log.Errorw("Timeout marking failed", logger.FieldError, err)
		return TimeoutResult{}, errors.Wrap(err, "failed to mark timed out executions")
	}
	if updated > 0 {
		j.metrics.ExecutionsTimedOut(ctx, updated)
		log.Warnw("Marked timed out task executions as failed",
			logger.FieldUpdatedCount, updated,
			logger.FieldCutoff, cutoff)
	} else {
		log.Infow("No timed out task executions", logger.FieldCutoff, cutoff)
	}

	return TimeoutResult{
		UpdatedCount:   updated,
		TimeoutMinutes: minutes,
		Cutoff:         cutoff.Format(time.RFC3339),
	}, nil
}

// TimeoutMessage is the error stored on executions failed by timeout marking.
func TimeoutMessage(minutes int, cutoff time.Time) string {
	return fmt.Sprintf("Task timeout (exceeded %d minutes, started before %s)", minutes, cutoff.UTC().Format(time.RFC3339))
}

// RunCleanup is the periodic cleanup entry point, tracked as executionID.
// A concurrent run makes it return a skipped result without touching the store.
func (j *Jobs) RunCleanup(ctx context.Context, executionID string, opts CleanupOptions) (CleanupResult, error) {
	start := j.now()
	out, err := j.cleanupLocked(ctx, run[CleanupOptions]{executionID: executionID, opts: opts})
	if !out.Ran() {
		j.metrics.JobFinished(ctx, taskconf.CleanupTaskName, OutcomeSkipped, j.now().Sub(start))
		return CleanupResult{Skipped: true, Reason: out.Skipped.Reason, Error: out.Skipped.Message}, nil
	}
	j.metrics.JobFinished(ctx, taskconf.CleanupTaskName, outcome(out.Value.Skipped, err), j.now().Sub(start))
	return out.Value, err
}

func (j *Jobs) runCleanup(ctx context.Context, r run[CleanupOptions]) (CleanupResult, error) {
	var res CleanupResult
	err := j.tracked(ctx, r.executionID, taskconf.CleanupTaskName, r.opts, func(ctx context.Context, log *zap.SugaredLogger) (any, error) {
		if !j.resolver.CleanupEnabled() {
			log.Infow("Cleanup disabled, skipping")
			res = CleanupResult{Skipped: true, Reason: ReasonCleanupDisabled}
			return res, nil
		}
		var err error
		res, err = j.cleanup(ctx, r.opts, log)
		return res, err
	})
	return res, err
}

// RunMarkTimeout is the periodic timeout entry point, tracked as executionID.
// It syncs unfinished executions from the executor before marking, so rows
// the executor already finished are not failed.
func (j *Jobs) RunMarkTimeout(ctx context.Context, executionID string, opts TimeoutOptions) (TimeoutResult, error) {
	start := j.now()
	out, err := j.timeoutLocked(ctx, run[TimeoutOptions]{executionID: executionID, opts: opts})
	if !out.Ran() {
		j.metrics.JobFinished(ctx, taskconf.MarkTimeoutTaskName, OutcomeSkipped, j.now().Sub(start))
		return TimeoutResult{Skipped: true, Reason: out.Skipped.Reason, Error: out.Skipped.Message}, nil
	}
	j.metrics.JobFinished(ctx, taskconf.MarkTimeoutTaskName, outcome(out.Value.Skipped, err), j.now().Sub(start))
	return out.Value, err
}

func (j *Jobs) runMarkTimeout(ctx context.Context, r run[TimeoutOptions]) (TimeoutResult, error) {
	var res TimeoutResult
	err := j.tracked(ctx, r.executionID, taskconf.MarkTimeoutTaskName, r.opts, func(ctx context.Context, log *zap.SugaredLogger) (any, error) {
		if !j.resolver.MarkTimeoutEnabled() {
			log.Infow("Timeout marking disabled, skipping")
			res = TimeoutResult{Skipped: true, Reason: ReasonMarkTimeoutDisabled}
			return res, nil
		}

		minutes := util.Deref(r.opts.TimeoutMinutes, j.resolver.TimeoutMinutes(ctx))
		if minutes <= 0 {
			var err error
			res, err = j.markTimedOut(ctx, minutes, log)
			return res, err
		}

		summary, err := j.tracker.SyncAllUnfinished(ctx, j.maxSync, j.inflightIDs()...)
		if err != nil {
			log.Errorw("Executor sync before timeout marking failed", logger.FieldError, err)
			return nil, err
		}

		res, err = j.markTimedOut(ctx, minutes, log)
		res.SyncedCount = util.Ptr(summary.SyncedCount)
		res.SyncedUpdatedCount = util.Ptr(summary.UpdatedCount)
		return res, err
	})
	return res, err
}

func outcome(skipped bool, err error) string {
	switch {
	case err != nil:
		return OutcomeFailure
	case skipped:
		return OutcomeSkipped
	default:
		return OutcomeSuccess
	}
}

func (j *Jobs) enter(executionID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inflight[executionID] = struct{}{}
}

func (j *Jobs) leave(executionID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.inflight, executionID)
}

func (j *Jobs) inflightIDs() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	ids := make([]string, 0, len(j.inflight))
	for id := range j.inflight {
		ids = append(ids, id)
	}
	return ids
}
