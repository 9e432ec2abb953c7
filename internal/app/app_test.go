package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/qntx-task/am"
	"github.com/teranos/qntx-task/errors"
	"github.com/teranos/qntx-task/pulse/reconcile"
	"github.com/teranos/qntx-task/pulse/task"
	"github.com/teranos/qntx-task/pulse/taskconf"
)

func testConfig(t *testing.T) *am.Config {
	return &am.Config{
		Database: am.DatabaseConfig{Driver: am.DriverSQLite, Path: filepath.Join(t.TempDir(), "task.db")},
		Lock:     am.LockConfig{Backend: am.BackendMemory},
		Executor: am.ExecutorConfig{Backend: am.BackendNone},
	}
}

func TestOpen_Memory(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, testConfig(t), nil, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Tracker.Register(ctx, task.RegisterParams{ExecutionID: "e1", TaskName: "t", Module: "m"})
	require.NoError(t, err)

	require.NoError(t, a.Overrides.SetGlobal(ctx, taskconf.KeyTimeoutMinutes, 45))
	assert.Equal(t, 45, a.Resolver.TimeoutMinutes(ctx))

	res, err := a.Jobs.RunMarkTimeout(ctx, "run-1", reconcile.TimeoutOptions{})
	require.NoError(t, err)
	assert.Equal(t, 45, res.TimeoutMinutes)
}

func TestOpen_Redis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("celery-task-meta-e1", `{"status":"SUCCESS","result":42}`))

	cfg := testConfig(t)
	cfg.Lock = am.LockConfig{Backend: am.BackendRedis, KeyPrefix: "qt", Redis: am.RedisConfig{Addr: mr.Addr()}}
	cfg.Executor = am.ExecutorConfig{Backend: am.BackendRedis, Redis: am.RedisConfig{Addr: mr.Addr()}}

	a, err := Open(ctx, cfg, nil, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer a.Close()

	require.True(t, a.Lock.Acquire(ctx, "probe", time.Minute))
	assert.True(t, mr.Exists("qt:probe"))

	_, err = a.Tracker.Register(ctx, task.RegisterParams{ExecutionID: "e1", TaskName: "t", Module: "m"})
	require.NoError(t, err)
	e, err := a.Tracker.Get(ctx, "e1", true)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSuccess, e.Status)
	assert.JSONEq(t, "42", string(e.Result))
}

func TestOpen_UnknownBackends(t *testing.T) {
	cfg := testConfig(t)
	cfg.Lock.Backend = "etcd"
	_, err := Open(context.Background(), cfg, nil, zap.NewNop().Sugar())
	assert.True(t, errors.IsInvalidConfigurationError(err))

	cfg = testConfig(t)
	cfg.Executor.Backend = "rabbitmq"
	_, err = Open(context.Background(), cfg, nil, zap.NewNop().Sugar())
	assert.True(t, errors.IsInvalidConfigurationError(err))
}

func TestOpen_InvalidTaskSettingsAreSkippedAtRunTime(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "task.toml")
	content := `
[database]
path = "` + filepath.ToSlash(filepath.Join(dir, "task.db")) + `"

[task]
retention_days = 0
cleanup_crontab = "61 * * * *"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := am.LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate(), "bad task settings do not block startup")

	a, err := Open(ctx, cfg, nil, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "every 24h0m0s", a.Resolver.CleanupSchedule(ctx, nil).String())

	res, err := a.Jobs.RunCleanup(ctx, "run-1", reconcile.CleanupOptions{})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, reconcile.ReasonInvalidRetention, res.Reason)
	assert.Equal(t, 0, res.RetentionDays)

	run, err := a.Tracker.Get(ctx, "run-1", false)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, task.StatusSuccess, run.Status, "a skip is not a failure")
}
