package taskconf

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/qntx-task/am"
	"github.com/teranos/qntx-task/errors"
	"github.com/teranos/qntx-task/internal/util"
	"github.com/teranos/qntx-task/logger"
)

// Resolver evaluates task settings at point of use from a static settings
// snapshot plus an optional override source.
type Resolver struct {
	mu        sync.RWMutex
	settings  am.TaskSettings
	overrides OverrideSource
	logger    *zap.SugaredLogger
}

// NewResolver creates a resolver. overrides may be nil (settings only).
func NewResolver(settings am.TaskSettings, overrides OverrideSource) *Resolver {
	return &Resolver{
		settings:  settings,
		overrides: overrides,
		logger:    logger.ComponentLogger("pulse.taskconf"),
	}
}

// SetSettings replaces the static settings snapshot, e.g. after a config reload.
func (r *Resolver) SetSettings(settings am.TaskSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = settings
}

// Settings returns the current static snapshot.
func (r *Resolver) Settings() am.TaskSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// override fetches a raw override. Store failures are logged and read as absent.
func (r *Resolver) override(ctx context.Context, key string) (json.RawMessage, bool) {
	if r.overrides == nil {
		return nil, false
	}
	raw, ok, err := r.overrides.GetGlobal(ctx, key)
	if err != nil {
		r.logger.Debugw("Config override unavailable, using settings", "key", key, logger.FieldError, err)
		return nil, false
	}
	return raw, ok
}

// RetentionDays resolves retention_days.
func (r *Resolver) RetentionDays(ctx context.Context) int {
	if raw, ok := r.override(ctx, KeyRetentionDays); ok {
		if v, ok := positiveInt(raw, KeyRetentionDays); ok {
			return v
		}
	}
	return util.Deref(r.Settings().RetentionDays, DefaultRetentionDays)
}

// TimeoutMinutes resolves timeout_minutes.
func (r *Resolver) TimeoutMinutes(ctx context.Context) int {
	if raw, ok := r.override(ctx, KeyTimeoutMinutes); ok {
		if v, ok := positiveInt(raw, KeyTimeoutMinutes); ok {
			return v
		}
	}
	return util.Deref(r.Settings().TimeoutMinutes, DefaultTimeoutMinutes)
}

// CleanupCrontab resolves cleanup_crontab. The result may still be invalid if
// the static setting is; schedules fall back to an interval in that case.
func (r *Resolver) CleanupCrontab(ctx context.Context) string {
	if raw, ok := r.override(ctx, KeyCleanupCrontab); ok {
		if v, ok := cronString(raw, KeyCleanupCrontab); ok {
			return v
		}
	}
	return util.Deref(r.Settings().CleanupCrontab, DefaultCleanupCrontab)
}

// MarkTimeoutCrontab resolves mark_timeout_crontab.
func (r *Resolver) MarkTimeoutCrontab(ctx context.Context) string {
	if raw, ok := r.override(ctx, KeyMarkTimeoutCrontab); ok {
		if v, ok := cronString(raw, KeyMarkTimeoutCrontab); ok {
			return v
		}
	}
	return util.Deref(r.Settings().MarkTimeoutCrontab, DefaultMarkTimeoutCrontab)
}

// Settings without an override key.

func (r *Resolver) OnlyCompleted() bool {
	return util.Deref(r.Settings().OnlyCompleted, DefaultOnlyCompleted)
}

func (r *Resolver) CleanupEnabled() bool {
	return util.Deref(r.Settings().CleanupEnabled, DefaultCleanupEnabled)
}

func (r *Resolver) CleanupBeatIntervalHours() int {
	return util.Deref(r.Settings().CleanupBeatIntervalHours, DefaultCleanupBeatIntervalHours)
}

func (r *Resolver) CleanupBatchSize() int {
	return util.Deref(r.Settings().CleanupBatchSize, DefaultCleanupBatchSize)
}

func (r *Resolver) MarkTimeoutEnabled() bool {
	return util.Deref(r.Settings().MarkTimeoutEnabled, DefaultMarkTimeoutEnabled)
}

func (r *Resolver) MaxRetries() int {
	return util.Deref(r.Settings().MaxRetries, DefaultMaxRetries)
}

func (r *Resolver) RetryBackoff() bool {
	return util.Deref(r.Settings().RetryBackoff, DefaultRetryBackoff)
}

func (r *Resolver) RetryBackoffMax() time.Duration {
	if s := r.Settings().RetryBackoffMaxSeconds; s != nil {
		return time.Duration(*s) * time.Second
	}
	return DefaultRetryBackoffMax
}

// CleanupSchedule is the cleanup cron, or beat_interval_hours when the cron
// is invalid. A non-nil intervalHours forces a fixed interval.
func (r *Resolver) CleanupSchedule(ctx context.Context, intervalHours *int) Schedule {
	if intervalHours != nil {
		return Schedule{Interval: time.Duration(*intervalHours) * time.Hour}
	}
	return scheduleFor(r.CleanupCrontab(ctx), time.Duration(r.CleanupBeatIntervalHours())*time.Hour)
}

// MarkTimeoutSchedule is the mark-timeout cron, or one hour when invalid.
func (r *Resolver) MarkTimeoutSchedule(ctx context.Context) Schedule {
	return scheduleFor(r.MarkTimeoutCrontab(ctx), DefaultMarkTimeoutInterval)
}

// PeriodicJob describes one scheduled maintenance job.
type PeriodicJob struct {
	ID       string   `json:"id"`
	TaskName string   `json:"task"`
	Schedule Schedule `json:"schedule"`
	Enabled  bool     `json:"enabled"`
}

// PeriodicJobs returns the cleanup and mark-timeout job definitions.
func (r *Resolver) PeriodicJobs(ctx context.Context) []PeriodicJob {
	return []PeriodicJob{
		{
			ID:       CleanupJobID,
			TaskName: CleanupTaskName,
			Schedule: r.CleanupSchedule(ctx, nil),
			Enabled:  r.CleanupEnabled(),
		},
		{
			ID:       MarkTimeoutJobID,
			TaskName: MarkTimeoutTaskName,
			Schedule: r.MarkTimeoutSchedule(ctx),
			Enabled:  r.MarkTimeoutEnabled(),
		},
	}
}

// Effective is the resolved value of every overridable key.
type Effective struct {
	TimeoutMinutes     int    `json:"timeout_minutes"`
	RetentionDays      int    `json:"retention_days"`
	CleanupCrontab     string `json:"cleanup_crontab"`
	MarkTimeoutCrontab string `json:"mark_timeout_crontab"`
}

// Effective resolves all overridable keys.
func (r *Resolver) Effective(ctx context.Context) Effective {
	return Effective{
		TimeoutMinutes:     r.TimeoutMinutes(ctx),
		RetentionDays:      r.RetentionDays(ctx),
		CleanupCrontab:     r.CleanupCrontab(ctx),
		MarkTimeoutCrontab: r.MarkTimeoutCrontab(ctx),
	}
}

// OverrideWriter persists global overrides.
type OverrideWriter interface {
	SetGlobal(ctx context.Context, key string, value any) error
}

// SetValidated validates raw for key and persists it. Integer keys take a
// positive integer; cron keys take a valid 5-field expression. raw may be
// bare text or JSON.
func SetValidated(ctx context.Context, w OverrideWriter, key, raw string) error {
	raw = strings.TrimSpace(raw)
	switch key {
	case KeyRetentionDays, KeyTimeoutMinutes:
		n, ok := positiveInt(json.RawMessage(raw), key)
		if !ok {
			return errors.NewInvalidConfigurationError("%s must be a positive integer, got %q", key, raw)
		}
		return w.SetGlobal(ctx, key, n)

	case KeyCleanupCrontab, KeyMarkTimeoutCrontab:
		expr := raw
		var s string
		if json.Unmarshal([]byte(raw), &s) == nil {
			expr = strings.TrimSpace(s)
		}
		if _, err := ParseCrontab(expr); err != nil {
			return errors.Wrapf(err, "invalid %s", key)
		}
		return w.SetGlobal(ctx, key, expr)

	default:
		return errors.WithHintf(
			errors.NewInvalidRequestError("unknown config key %q", key),
			"known keys: %s", strings.Join(OverrideKeys, ", "))
	}
}

// positiveInt accepts a JSON integer > 0 or {"<key>": integer > 0}.
func positiveInt(raw json.RawMessage, key string) (int, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}
	if m, ok := v.(map[string]interface{}); ok {
		v = m[key]
	}
	num, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(num.String())
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// cronString accepts a non-empty string or {"<key>": string} holding a valid
// 5-field cron expression.
func cronString(raw json.RawMessage, key string) (string, bool) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	if m, ok := v.(map[string]interface{}); ok {
		v = m[key]
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if !ValidCrontab(s) {
		return "", false
	}
	return s, true
}
