package task

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/qntx-task/errors"
	"github.com/teranos/qntx-task/logger"
)

// Metrics receives tracker events. telemetry.Metrics satisfies it.
type Metrics interface {
	ExecutionRegistered(ctx context.Context, module, taskName string)
	StatusUpdated(ctx context.Context, status string)
	ExecutorSynced(ctx context.Context, changed bool)
	ExecutorSyncFailed(ctx context.Context)
}

type noopMetrics struct{}

func (noopMetrics) ExecutionRegistered(context.Context, string, string) {}
func (noopMetrics) StatusUpdated(context.Context, string)               {}
func (noopMetrics) ExecutorSynced(context.Context, bool)                {}
func (noopMetrics) ExecutorSyncFailed(context.Context)                  {}

// SyncSummary reports a SyncAllUnfinished pass.
type SyncSummary struct {
	SyncedCount  int `json:"synced_count"`
	UpdatedCount int `json:"updated_count"`
}

// Tracker is the entry point callers use to register executions, report
// status transitions and reconcile records against the executor.
type Tracker struct {
	store    *Store
	executor Executor
	limiter  *rate.Limiter
	logger   *zap.SugaredLogger
	metrics  Metrics
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithExecutor sets the executor consulted by the sync operations.
func WithExecutor(e Executor) TrackerOption {
	return func(t *Tracker) { t.executor = e }
}

// WithSyncLimit throttles executor lookups to perSecond with the given burst.
// perSecond <= 0 disables throttling.
func WithSyncLimit(perSecond float64, burst int) TrackerOption {
	return func(t *Tracker) {
		if perSecond <= 0 {
			t.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *zap.SugaredLogger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) TrackerOption {
	return func(t *Tracker) {
		if m != nil {
			t.metrics = m
		}
	}
}

// NewTracker creates a tracker over store. Without WithExecutor the sync
// operations leave records untouched.
func NewTracker(store *Store, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:   store,
		logger:  logger.AddPulseSymbol(logger.ComponentLogger("pulse.task")),
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Store returns the underlying execution store.
func (t *Tracker) Store() *Store {
	return t.store
}

// Register records a newly dispatched execution. Registering an id that
// already exists returns the stored row unchanged.
func (t *Tracker) Register(ctx context.Context, p RegisterParams) (*Execution, error) {
	e, created, err := t.store.CreateOrGet(ctx, p)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to register %s", p.ExecutionID)
	}

	log := logger.FromContext(ctx, t.logger)
	if created {
		t.metrics.ExecutionRegistered(ctx, e.Module, e.TaskName)
		log.Infow("Registered task execution",
			logger.FieldExecutionID, e.ExecutionID,
			logger.FieldTaskName, e.TaskName,
			logger.FieldModule, e.Module,
			logger.FieldStatus, e.Status)
	} else {
		log.Debugw("Task execution already registered",
			logger.FieldExecutionID, e.ExecutionID,
			logger.FieldStatus, e.Status)
	}
	return e, nil
}

// UpdateStatus applies a status transition reported by the running task.
func (t *Tracker) UpdateStatus(ctx context.Context, executionID string, p UpdateParams) (*Execution, error) {
	e, err := t.store.UpdateStatus(ctx, executionID, p)
	if err != nil {
		return nil, err
	}

	t.metrics.StatusUpdated(ctx, string(e.Status))
	logger.FromContext(ctx, t.logger).Infow("Updated task status",
		logger.FieldExecutionID, executionID,
		logger.FieldTaskName, e.TaskName,
		logger.FieldStatus, e.Status)
	return e, nil
}

// SyncFromExecutor copies the executor's view of executionID into the store
// when it differs from the stored status. It returns nil when the id is
// unknown or the executor or store fails; those failures are logged.
func (t *Tracker) SyncFromExecutor(ctx context.Context, executionID string) *Execution {
	e, _ := t.syncOne(ctx, executionID)
	return e
}

// syncOne is SyncFromExecutor that also reports whether the status changed.
func (t *Tracker) syncOne(ctx context.Context, executionID string) (*Execution, bool) {
	log := logger.FromContext(ctx, t.logger).With(logger.FieldExecutionID, executionID)

	current, err := t.store.Get(ctx, executionID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			log.Warnw("Task execution not found")
		} else {
			log.Errorw("Failed to load task execution for sync", logger.FieldError, err)
		}
		return nil, false
	}
	if t.executor == nil {
		return current, false
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			log.Warnw("Executor sync throttled out", logger.FieldError, err)
			return nil, false
		}
	}

	start := time.Now()
	state, err := t.executor.Lookup(ctx, executionID)
	if err != nil {
		t.metrics.ExecutorSyncFailed(ctx)
		log.Errorw("Executor lookup failed",
			logger.FieldError, errors.Mark(err, errors.ErrExecutorSync),
			logger.FieldDurationMS, time.Since(start).Milliseconds())
		return nil, false
	}

	next := MapExecutorStatus(state.Status)
	if next == current.Status {
		t.metrics.ExecutorSynced(ctx, false)
		log.Debugw("Executor status unchanged", logger.FieldStatus, next)
		return current, false
	}

	params := UpdateParams{Status: next}
	switch next {
	case StatusSuccess:
		if len(state.Result) > 0 {
			params.Result = state.Result
		}
	case StatusFailure:
		params.Error = state.Error
		params.Traceback = state.Traceback
	}

	updated, err := t.store.UpdateStatus(ctx, executionID, params)
	if err != nil {
		log.Errorw("Failed to store synced status", logger.FieldError, err)
		return nil, false
	}

	t.metrics.ExecutorSynced(ctx, true)
	t.metrics.StatusUpdated(ctx, string(next))
	log.Infow("Synced task status from executor",
		logger.FieldFromStatus, current.Status,
		logger.FieldStatus, next)
	return updated, true
}

// SyncAllUnfinished syncs PENDING, STARTED and RETRY executions oldest first,
// at most maxSync of them when maxSync > 0. Ids in exclude are skipped; the
// periodic jobs pass their own in-flight runs, which the executor never sees.
// UpdatedCount counts only rows whose status actually changed.
func (t *Tracker) SyncAllUnfinished(ctx context.Context, maxSync int, exclude ...string) (SyncSummary, error) {
	ids, err := t.store.ListUnfinishedIDs(ctx, maxSync)
	if err != nil {
		return SyncSummary{}, err
	}

	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	var summary SyncSummary
	for _, id := range ids {
		if _, ok := skip[id]; ok {
			continue
		}
		if ctx.Err() != nil {
			return summary, errors.Wrap(ctx.Err(), "sync interrupted")
		}
		summary.SyncedCount++
		if _, changed := t.syncOne(ctx, id); changed {
			summary.UpdatedCount++
		}
	}

	logger.FromContext(ctx, t.logger).Infow("Synced unfinished executions",
		logger.FieldSyncedCount, summary.SyncedCount,
		logger.FieldUpdatedCount, summary.UpdatedCount)
	return summary, nil
}

// Get loads one execution, syncing it from the executor first when sync is
// true. An unknown id yields (nil, nil).
func (t *Tracker) Get(ctx context.Context, executionID string, sync bool) (*Execution, error) {
	if _, err := t.store.Get(ctx, executionID); err != nil {
		if errors.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, err
	}
	if sync {
		t.SyncFromExecutor(ctx, executionID)
	}

	e, err := t.store.Get(ctx, executionID)
	if errors.IsNotFoundError(err) {
		return nil, nil
	}
	return e, err
}

// List returns executions matching f.
func (t *Tracker) List(ctx context.Context, f Filter) ([]*Execution, error) {
	return t.store.Query(ctx, f)
}

// Count returns how many executions match f.
func (t *Tracker) Count(ctx context.Context, f Filter) (int64, error) {
	return t.store.Count(ctx, f)
}

// Stats returns aggregate counts for f.
func (t *Tracker) Stats(ctx context.Context, f StatsFilter) (*Stats, error) {
	return t.store.AggregateCounts(ctx, f)
}
