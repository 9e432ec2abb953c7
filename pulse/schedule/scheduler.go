package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teranos/qntx-task/am"
	"github.com/teranos/qntx-task/db"
	"github.com/teranos/qntx-task/errors"
	"github.com/teranos/qntx-task/logger"
	"github.com/teranos/qntx-task/pulse/task"
	"github.com/teranos/qntx-task/pulse/taskconf"
)

// Config contains configuration for the scheduler daemon
type Config struct {
	Location        *time.Location // zone cron expressions are evaluated in (default: UTC)
	RefreshInterval time.Duration  // how often schedules are re-resolved, 0 = only on Reload
}

// ConfigFrom builds a Config from the pulse section.
func ConfigFrom(c am.PulseConfig) (Config, error) {
	loc := time.UTC
	if c.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(c.Timezone); err != nil {
			return Config{}, errors.WithHint(
				errors.Mark(errors.Wrapf(err, "invalid pulse.timezone %q", c.Timezone), errors.ErrInvalidConfiguration),
				"use an IANA zone name such as UTC or Europe/Amsterdam")
		}
	}
	return Config{
		Location:        loc,
		RefreshInterval: time.Duration(c.RefreshIntervalSeconds) * time.Second,
	}, nil
}

// Entry is one registered periodic job.
type Entry struct {
	JobID    string            `json:"id"`
	TaskName string            `json:"task"`
	Schedule taskconf.Schedule `json:"schedule"`
	Next     time.Time         `json:"next_run_at"`
	Prev     time.Time         `json:"last_run_at,omitempty"`
}

type registered struct {
	id       cron.EntryID
	job      taskconf.PeriodicJob
	schedule taskconf.Schedule
}

// Scheduler fires the periodic jobs on their resolved schedules. A firing
// that is still running when the next one is due is skipped; a failing
// firing is retried per the retry policy under the same execution id.
type Scheduler struct {
	cron     *cron.Cron
	resolver *taskconf.Resolver
	tracker  *task.Tracker
	handlers Handlers
	refresh  time.Duration
	retry    func() RetryPolicy
	newID    func() string
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	entries map[string]registered

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRetryPolicy fixes the retry policy instead of reading it from the
// resolver on every failure.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Scheduler) { s.retry = func() RetryPolicy { return p } }
}

// WithIDGenerator overrides the execution id generator.
func WithIDGenerator(f func() string) Option {
	return func(s *Scheduler) { s.newID = f }
}

// WithLogger overrides the component logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a scheduler. tracker is used to mark failed firings RETRY
// between attempts.
func New(resolver *taskconf.Resolver, tracker *task.Tracker, handlers Handlers, cfg Config, opts ...Option) *Scheduler {
	return NewWithContext(context.Background(), resolver, tracker, handlers, cfg, opts...)
}

// NewWithContext creates a scheduler whose firings are cancelled with ctx.
func NewWithContext(ctx context.Context, resolver *taskconf.Resolver, tracker *task.Tracker, handlers Handlers, cfg Config, opts ...Option) *Scheduler {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	s := &Scheduler{
		resolver: resolver,
		tracker:  tracker,
		handlers: handlers,
		refresh:  cfg.RefreshInterval,
		newID:    uuid.NewString,
		logger:   logger.AddPulseSymbol(logger.ComponentLogger("pulse.schedule")),
		entries:  make(map[string]registered),
	}
	s.retry = func() RetryPolicy { return PolicyFrom(s.resolver) }
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	cl := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return s
}

// Start registers the jobs and begins firing them.
func (s *Scheduler) Start() error {
	if err := s.Refresh(s.ctx); err != nil {
		return err
	}
	s.cron.Start()

	if s.refresh > 0 {
		s.wg.Add(1)
		go s.refreshLoop()
	}
	logger.AddPulseOpenSymbol(s.logger).Infow("Pulse scheduler started",
		"location", s.cron.Location(),
		"refresh_interval", s.refresh,
		logger.FieldCount, len(s.Entries()))
	return nil
}

// Stop cancels running firings and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	logger.AddPulseCloseSymbol(s.logger).Infow("Pulse scheduler stopped")
}

func (s *Scheduler) refreshLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(s.ctx); err != nil {
				s.logger.Warnw("Schedule refresh failed", logger.FieldError, err)
			}
		}
	}
}

// Reload swaps in new static settings and re-resolves the schedules.
// It is the config watcher's reload callback.
func (s *Scheduler) Reload(settings am.TaskSettings) error {
	s.resolver.SetSettings(settings)
	return s.Refresh(s.ctx)
}

// Refresh re-resolves every periodic job. Disabled jobs are unregistered and
// jobs whose schedule changed are re-registered; the rest are left alone so
// their next run time is kept.
func (s *Scheduler) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.resolver.PeriodicJobs(ctx) {
		cur, ok := s.entries[job.ID]
		if !job.Enabled || s.handlers.Get(job.TaskName) == nil {
			if ok {
				s.cron.Remove(cur.id)
				delete(s.entries, job.ID)
				s.logger.Infow("Unregistered periodic job", logger.FieldJob, job.ID, logger.FieldTaskName, job.TaskName)
			}
			continue
		}
		if ok && cur.schedule == job.Schedule {
			continue
		}

		spec, err := job.Schedule.Spec()
		if err != nil {
			return errors.Wrapf(err, "failed to schedule %s", job.ID)
		}
		if ok {
			s.cron.Remove(cur.id)
		}
		id := s.cron.Schedule(spec, s.firing(job.TaskName))
		s.entries[job.ID] = registered{id: id, job: job, schedule: job.Schedule}

		s.logger.Infow("Registered periodic job",
			logger.FieldJob, job.ID,
			logger.FieldTaskName, job.TaskName,
			logger.FieldSchedule, job.Schedule.String())
	}
	return nil
}

// Entries returns the registered jobs with their next run times, ordered by
// job id. Next is zero until the scheduler is started.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for jobID, r := range s.entries {
		ce := s.cron.Entry(r.id)
		out = append(out, Entry{
			JobID:    jobID,
			TaskName: r.job.TaskName,
			Schedule: r.schedule,
			Next:     ce.Next,
			Prev:     ce.Prev,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

func (s *Scheduler) firing(taskName string) cron.Job {
	return cron.FuncJob(func() {
		if _, err := s.Run(s.ctx, taskName); err != nil {
			s.logger.Errorw("Periodic job gave up", logger.FieldTaskName, taskName, logger.FieldError, err)
		}
	})
}

// Run performs one firing of taskName now: a fresh execution id, then up to
// MaxRetries re-attempts under that id while attempts fail. It returns the
// execution id and the last attempt's error.
func (s *Scheduler) Run(ctx context.Context, taskName string) (string, error) {
	fn := s.handlers.Get(taskName)
	if fn == nil {
		return "", errors.NewNotFoundError("periodic task %s", taskName)
	}

	executionID := s.newID()
	ctx = logger.WithExecutionID(logger.WithJob(ctx, taskName), executionID)
	log := logger.FromContext(ctx, s.logger)

	for retries := 0; ; retries++ {
		start := time.Now()
		err := fn(ctx, executionID)
		if err == nil {
			log.Debugw("Periodic job finished", logger.FieldDurationMS, time.Since(start).Milliseconds())
			return executionID, nil
		}

		policy := s.retry()
		if !policy.ShouldRetry(retries) || ctx.Err() != nil {
			return executionID, err
		}
		// the store is gone, usually because the daemon is shutting down
		if db.IsDatabaseClosed(err) {
			log.Warnw("Database closed, not retrying periodic job", logger.FieldError, err)
			return executionID, err
		}

		wait := policy.Wait(retries)
		log.Warnw("Periodic job failed, retrying",
			logger.FieldError, err,
			"retries", retries+1,
			"max_retries", policy.MaxRetries,
			"retry_in", wait)

		if _, uerr := s.tracker.UpdateStatus(ctx, executionID, task.UpdateParams{
			Status:   task.StatusRetry,
			Metadata: map[string]any{"retries": retries + 1, "retry_in_seconds": wait.Seconds()},
		}); uerr != nil {
			log.Warnw("Failed to mark execution for retry", logger.FieldError, uerr)
		}

		select {
		case <-ctx.Done():
			return executionID, errors.CombineErrors(err, ctx.Err())
		case <-time.After(wait):
		}
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw("cron: "+msg, append(keysAndValues, logger.FieldError, err)...)
}
