// Package app assembles the qntx-task components from a loaded configuration.
package app

import (
	"context"
	"io"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/teranos/qntx-task/am"
	"github.com/teranos/qntx-task/db"
	"github.com/teranos/qntx-task/errors"
	"github.com/teranos/qntx-task/logger"
	"github.com/teranos/qntx-task/pulse/executor"
	"github.com/teranos/qntx-task/pulse/lock"
	"github.com/teranos/qntx-task/pulse/reconcile"
	"github.com/teranos/qntx-task/pulse/task"
	"github.com/teranos/qntx-task/pulse/taskconf"
	"github.com/teranos/qntx-task/telemetry"
)

// App holds the wired components. Close releases everything it opened.
type App struct {
	Config    *am.Config
	DB        *db.DB
	Tracker   *task.Tracker
	Overrides *taskconf.Store
	Resolver  *taskconf.Resolver
	Lock      *lock.Lock
	Jobs      *reconcile.Jobs
	Telemetry *telemetry.Provider
	Metrics   *telemetry.Metrics

	closers []func() error
}

// Open connects the database (migrating it), the lock store, the executor
// backend and telemetry. Metrics are exported to metricsOut when enabled.
func Open(ctx context.Context, cfg *am.Config, metricsOut io.Writer, log *zap.SugaredLogger) (*App, error) {
	a := &App{Config: cfg}

	database, err := db.OpenWithMigrations(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	a.DB = database
	a.closers = append(a.closers, database.Close)

	if a.Telemetry, err = telemetry.Init(cfg.Telemetry, metricsOut); err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() error { return a.Telemetry.Shutdown(context.Background()) })
	if a.Metrics, err = telemetry.NewMetrics(a.Telemetry.Meter); err != nil {
		a.Close()
		return nil, errors.Wrap(err, "failed to create metrics")
	}

	lockStore, err := a.lockStore(cfg.Lock)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Lock = lock.New(lockStore, lock.WithPrefix(cfg.Lock.KeyPrefix))

	trackerOpts := []task.TrackerOption{
		task.WithMetrics(a.Metrics),
		task.WithSyncLimit(cfg.Executor.SyncRatePerSecond, cfg.Executor.SyncBurst),
	}
	exec, err := a.executor(cfg.Executor)
	if err != nil {
		a.Close()
		return nil, err
	}
	if exec != nil {
		trackerOpts = append(trackerOpts, task.WithExecutor(exec))
	}

	a.Tracker = task.NewTracker(task.NewStore(database), trackerOpts...)
	a.Overrides = taskconf.NewStore(database)
	a.Resolver = taskconf.NewResolver(cfg.Task, a.Overrides)
	a.Jobs = reconcile.New(a.Tracker, a.Resolver, a.Lock,
		reconcile.WithMetrics(a.Metrics),
		reconcile.WithMaxSync(cfg.Executor.MaxSync))

	logger.AddDBSymbol(log).Debugw("Components ready",
		"driver", cfg.Database.Driver,
		"lock_backend", cfg.Lock.Backend,
		"executor_backend", cfg.Executor.Backend,
		"telemetry", cfg.Telemetry.Enabled)
	return a, nil
}

func (a *App) lockStore(cfg am.LockConfig) (lock.Store, error) {
	switch cfg.Backend {
	case "", am.BackendMemory:
		return lock.NewMemoryStore(), nil
	case am.BackendRedis:
		return lock.NewRedisStore(a.redisClient(cfg.Redis)), nil
	default:
		return nil, errors.NewInvalidConfigurationError("unknown lock backend %q", cfg.Backend)
	}
}

// executor returns nil when no executor backend is configured.
func (a *App) executor(cfg am.ExecutorConfig) (task.Executor, error) {
	switch cfg.Backend {
	case "", am.BackendNone:
		return nil, nil
	case am.BackendRedis:
		return executor.NewResultBackend(a.redisClient(cfg.Redis), cfg.KeyPrefix), nil
	default:
		return nil, errors.NewInvalidConfigurationError("unknown executor backend %q", cfg.Backend)
	}
}

func (a *App) redisClient(cfg am.RedisConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	a.closers = append(a.closers, client.Close)
	return client
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	a.closers = nil
	return errs
}
