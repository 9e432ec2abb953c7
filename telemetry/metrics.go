package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds every qntx-task instrument.
type Metrics struct {
	registered    metric.Int64Counter
	statusUpdates metric.Int64Counter
	syncs         metric.Int64Counter
	syncErrors    metric.Int64Counter
	deleted       metric.Int64Counter
	timedOut      metric.Int64Counter
	lockSkips     metric.Int64Counter
	jobDuration   metric.Float64Histogram
}

// NewMetrics creates all instruments from meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.registered, "qntx_task.executions.registered", "Task executions registered"},
		{&m.statusUpdates, "qntx_task.executions.status_updates", "Task execution status updates"},
		{&m.syncs, "qntx_task.executor.syncs", "Executor sync lookups"},
		{&m.syncErrors, "qntx_task.executor.sync_errors", "Executor sync lookups that failed"},
		{&m.deleted, "qntx_task.cleanup.deleted", "Execution records deleted by retention cleanup"},
		{&m.timedOut, "qntx_task.timeout.marked", "Executions marked failed after timing out"},
		{&m.lockSkips, "qntx_task.lock.skips", "Periodic runs skipped because of the duplicate-run lock"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}

	m.jobDuration, err = meter.Float64Histogram("qntx_task.job.duration",
		metric.WithDescription("Periodic job run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Noop returns metrics that record nothing.
func Noop() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(MeterName))
	return m
}

func (m *Metrics) ExecutionRegistered(ctx context.Context, module, taskName string) {
	m.registered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("module", module),
		attribute.String("task_name", taskName)))
}

func (m *Metrics) StatusUpdated(ctx context.Context, status string) {
	m.statusUpdates.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) ExecutorSynced(ctx context.Context, changed bool) {
	m.syncs.Add(ctx, 1, metric.WithAttributes(attribute.Bool("changed", changed)))
}

func (m *Metrics) ExecutorSyncFailed(ctx context.Context) {
	m.syncErrors.Add(ctx, 1)
}

func (m *Metrics) RecordsDeleted(ctx context.Context, n int64) {
	m.deleted.Add(ctx, n)
}

func (m *Metrics) ExecutionsTimedOut(ctx context.Context, n int64) {
	m.timedOut.Add(ctx, n)
}

func (m *Metrics) LockSkipped(ctx context.Context, name, reason string) {
	m.lockSkips.Add(ctx, 1, metric.WithAttributes(
		attribute.String("lock", name),
		attribute.String("reason", reason)))
}

// JobFinished records one periodic run; outcome is success, failure or skipped.
func (m *Metrics) JobFinished(ctx context.Context, job, outcome string, d time.Duration) {
	m.jobDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("job", job),
		attribute.String("outcome", outcome)))
}
