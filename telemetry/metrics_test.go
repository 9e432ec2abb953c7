package telemetry

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/teranos/qntx-task/am"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sum(t *testing.T, agg metricdata.Aggregation) int64 {
	t.Helper()
	s, ok := agg.(metricdata.Sum[int64])
	require.True(t, ok, "expected an int64 sum, got %T", agg)
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_Record(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	p := NewProvider(reader)
	defer p.Shutdown(ctx)

	m, err := NewMetrics(p.Meter)
	require.NoError(t, err)

	m.ExecutionRegistered(ctx, "reports", "send_report")
	m.ExecutionRegistered(ctx, "reports", "send_report")
	m.StatusUpdated(ctx, "SUCCESS")
	m.ExecutorSynced(ctx, true)
	m.ExecutorSyncFailed(ctx)
	m.RecordsDeleted(ctx, 12)
	m.ExecutionsTimedOut(ctx, 3)
	m.LockSkipped(ctx, "cleanup_old_task_executions", "task_already_running")
	m.JobFinished(ctx, "cleanup", "success", 1500*time.Millisecond)

	data := collect(t, reader)
	assert.Equal(t, int64(2), sum(t, data["qntx_task.executions.registered"]))
	assert.Equal(t, int64(1), sum(t, data["qntx_task.executions.status_updates"]))
	assert.Equal(t, int64(12), sum(t, data["qntx_task.cleanup.deleted"]))
	assert.Equal(t, int64(3), sum(t, data["qntx_task.timeout.marked"]))
	assert.Equal(t, int64(1), sum(t, data["qntx_task.lock.skips"]))

	hist, ok := data["qntx_task.job.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, 1.5, hist.DataPoints[0].Sum)
}

func TestInit(t *testing.T) {
	ctx := context.Background()

	disabled, err := Init(am.TelemetryConfig{}, nil)
	require.NoError(t, err)
	_, err = NewMetrics(disabled.Meter)
	require.NoError(t, err)
	assert.NoError(t, disabled.Shutdown(ctx))

	var buf bytes.Buffer
	enabled, err := Init(am.TelemetryConfig{Enabled: true, ExportIntervalSeconds: 3600}, &buf)
	require.NoError(t, err)
	m, err := NewMetrics(enabled.Meter)
	require.NoError(t, err)
	m.RecordsDeleted(ctx, 1)
	require.NoError(t, enabled.Shutdown(ctx))
	assert.Contains(t, buf.String(), "qntx_task.cleanup.deleted", "shutdown flushes to the exporter")
}

func TestNoop(t *testing.T) {
	m := Noop()
	require.NotNil(t, m)
	m.JobFinished(context.Background(), "x", "success", time.Second)
}
