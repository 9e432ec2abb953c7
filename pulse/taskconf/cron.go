package taskconf

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teranos/qntx-task/errors"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidCrontab reports whether expr is a 5-field cron expression
// (minute hour day-of-month month day-of-week) that parses.
func ValidCrontab(expr string) bool {
	_, err := ParseCrontab(expr)
	return err == nil
}

// ParseCrontab parses a 5-field cron expression.
func ParseCrontab(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.NewInvalidConfigurationError("empty cron expression")
	}
	if n := len(strings.Fields(expr)); n != 5 {
		return nil, errors.WithHint(
			errors.NewInvalidConfigurationError("cron expression %q has %d fields, want 5", expr, n),
			"use 5 fields: minute hour day-of-month month day-of-week")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "cron expression %q", expr), errors.ErrInvalidConfiguration)
	}
	return sched, nil
}

// Schedule is either a cron expression or a fixed interval.
type Schedule struct {
	Cron     string        `json:"crontab,omitempty"`
	Interval time.Duration `json:"-"`
}

// IntervalSeconds is the fixed interval in seconds, 0 for cron schedules.
func (s Schedule) IntervalSeconds() float64 {
	return s.Interval.Seconds()
}

// IsCron reports whether the schedule is a cron expression.
func (s Schedule) IsCron() bool {
	return s.Cron != ""
}

// String renders "cron <expr>" or "every <duration>".
func (s Schedule) String() string {
	if s.IsCron() {
		return "cron " + s.Cron
	}
	return fmt.Sprintf("every %s", s.Interval)
}

// Spec returns the robfig schedule for s.
func (s Schedule) Spec() (cron.Schedule, error) {
	if s.IsCron() {
		return ParseCrontab(s.Cron)
	}
	if s.Interval <= 0 {
		return nil, errors.NewInvalidConfigurationError("schedule interval must be > 0, got %s", s.Interval)
	}
	return cron.Every(s.Interval), nil
}

// Next returns the n run times after from, in from's location.
func (s Schedule) Next(from time.Time, n int) ([]time.Time, error) {
	spec, err := s.Spec()
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = spec.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

// scheduleFor uses expr when it is a valid crontab, otherwise the interval.
func scheduleFor(expr string, fallback time.Duration) Schedule {
	if ValidCrontab(expr) {
		return Schedule{Cron: strings.TrimSpace(expr)}
	}
	return Schedule{Interval: fallback}
}
