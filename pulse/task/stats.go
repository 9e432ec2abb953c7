package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/teranos/qntx-task/errors"
)

// Series granularities.
const (
	GranularityDay   = "day"
	GranularityMonth = "month"
	GranularityYear  = "year"
)

// DateLayout is the calendar-date format used by stats filters and daily buckets.
const DateLayout = "2006-01-02"

// StatsFilter narrows AggregateCounts. Start and End are calendar dates (UTC);
// both bounds are inclusive.
type StatsFilter struct {
	Module      string
	TaskName    string
	CreatedBy   *string
	Start       *time.Time
	End         *time.Time
	Granularity string // "", day, month or year
}

// StatusCounts is a total plus one count per status.
type StatusCounts struct {
	Total   int64 `json:"total"`
	Pending int64 `json:"pending"`
	Started int64 `json:"started"`
	Success int64 `json:"success"`
	Failure int64 `json:"failure"`
	Retry   int64 `json:"retry"`
	Revoked int64 `json:"revoked"`
}

func (c *StatusCounts) add(status Status, n int64) {
	c.Total += n
	switch status {
	case StatusPending:
		c.Pending += n
	case StatusStarted:
		c.Started += n
	case StatusSuccess:
		c.Success += n
	case StatusFailure:
		c.Failure += n
	case StatusRetry:
		c.Retry += n
	case StatusRevoked:
		c.Revoked += n
	}
}

// Get returns the count for one status.
func (c StatusCounts) Get(status Status) int64 {
	switch status {
	case StatusPending:
		return c.Pending
	case StatusStarted:
		return c.Started
	case StatusSuccess:
		return c.Success
	case StatusFailure:
		return c.Failure
	case StatusRetry:
		return c.Retry
	case StatusRevoked:
		return c.Revoked
	}
	return 0
}

// Bucket is one zero-filled point of a stats series.
type Bucket struct {
	Bucket string `json:"bucket"`
	Count  int64  `json:"count"`
}

// Stats is the result of AggregateCounts.
type Stats struct {
	StatusCounts
	ByModule   map[string]*StatusCounts `json:"by_module"`
	ByTaskName map[string]*StatusCounts `json:"by_task_name"`
	Series     []Bucket                 `json:"series,omitempty"`
}

// ParseDate parses a YYYY-MM-DD string (extra characters after the date are
// ignored) as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, errors.NewInvalidRequestError("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

func (s *Store) statsWhere(f StatsFilter) (string, []any) {
	var conds []string
	var args []any
	dateExpr := s.db.Dialect.TimePrefix("created_at", 10)

	if f.Module != "" {
		conds = append(conds, "module = ?")
		args = append(args, f.Module)
	}
	if f.TaskName != "" {
		conds = append(conds, "task_name = ?")
		args = append(args, f.TaskName)
	}
	if f.CreatedBy != nil {
		conds = append(conds, "created_by = ?")
		args = append(args, *f.CreatedBy)
	}
	if f.Start != nil {
		conds = append(conds, dateExpr+" >= ?")
		args = append(args, f.Start.UTC().Format(DateLayout))
	}
	if f.End != nil {
		conds = append(conds, dateExpr+" <= ?")
		args = append(args, f.End.UTC().Format(DateLayout))
	}
	return strings.Join(conds, " AND "), args
}

// AggregateCounts returns per-status totals for the filtered executions,
// broken down by module and by task name, plus an optional series.
func (s *Store) AggregateCounts(ctx context.Context, f StatsFilter) (*Stats, error) {
	g := strings.ToLower(strings.TrimSpace(f.Granularity))
	if g != "" && g != GranularityDay && g != GranularityMonth && g != GranularityYear {
		return nil, errors.NewInvalidRequestError("unknown granularity %q (want day, month or year)", f.Granularity)
	}

	where, args := s.statsWhere(f)
	query := "SELECT module, task_name, status, COUNT(*) FROM task_executions"
	if where != "" {
		query += " WHERE " + where
	}
	query += " GROUP BY module, task_name, status"

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to aggregate executions")
	}
	defer rows.Close()

	stats := &Stats{
		ByModule:   map[string]*StatusCounts{},
		ByTaskName: map[string]*StatusCounts{},
	}
	for rows.Next() {
		var module, taskName, status string
		var n int64
		if err := rows.Scan(&module, &taskName, &status, &n); err != nil {
			return nil, errors.WrapPersistence(err, "failed to scan aggregate row")
		}
		st := Status(status)
		stats.add(st, n)
		counts(stats.ByModule, module).add(st, n)
		counts(stats.ByTaskName, taskName).add(st, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapPersistence(err, "failed to iterate aggregate rows")
	}

	if g != "" {
		series, err := s.series(ctx, f, g)
		if err != nil {
			return nil, err
		}
		stats.Series = series
	}
	return stats, nil
}

func counts(m map[string]*StatusCounts, key string) *StatusCounts {
	c, ok := m[key]
	if !ok {
		c = &StatusCounts{}
		m[key] = c
	}
	return c
}

// seriesWindow resolves the anchor dates: a missing bound copies the other,
// and with neither the current day is used.
func (s *Store) seriesWindow(f StatsFilter) (start, end time.Time) {
	switch {
	case f.Start != nil && f.End != nil:
		start, end = *f.Start, *f.End
	case f.Start != nil:
		start, end = *f.Start, *f.Start
	case f.End != nil:
		start, end = *f.End, *f.End
	default:
		start = s.now()
		end = start
	}
	return truncateDay(start), truncateDay(end)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *Store) series(ctx context.Context, f StatsFilter, granularity string) ([]Bucket, error) {
	start, end := s.seriesWindow(f)

	var (
		prefixLen int
		from, to  time.Time // half-open [from, to)
		labels    []string
		keys      []string
	)

	switch granularity {
	case GranularityDay:
		prefixLen = 13
		from, to = start, start.AddDate(0, 0, 1)
		for h := 0; h < 24; h++ {
			labels = append(labels, fmt.Sprintf("%02d:00", h))
			keys = append(keys, from.Add(time.Duration(h)*time.Hour).Format("2006-01-02T15"))
		}
	case GranularityMonth:
		prefixLen = 10
		from, to = end.AddDate(0, 0, -29), end.AddDate(0, 0, 1)
		for i := 0; i < 30; i++ {
			d := from.AddDate(0, 0, i).Format(DateLayout)
			labels = append(labels, d)
			keys = append(keys, d)
		}
	case GranularityYear:
		prefixLen = 7
		from = time.Date(end.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		to = from.AddDate(1, 0, 0)
		for m := 0; m < 12; m++ {
			k := from.AddDate(0, m, 0).Format("2006-01")
			labels = append(labels, k)
			keys = append(keys, k)
		}
	}

	where, args := s.statsWhere(f)
	bucketExpr := s.db.Dialect.TimePrefix("created_at", prefixLen)
	conds := "created_at >= ? AND created_at < ?"
	args = append(args, s.ts(from), s.ts(to))
	if where != "" {
		conds = where + " AND " + conds
	}

	query := "SELECT " + bucketExpr + ", COUNT(*) FROM task_executions WHERE " + conds + " GROUP BY " + bucketExpr
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, errors.WrapPersistencef(err, "failed to build %s series", granularity)
	}
	defer rows.Close()

	found := map[string]int64{}
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, errors.WrapPersistence(err, "failed to scan series row")
		}
		found[key] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapPersistence(err, "failed to iterate series rows")
	}

	out := make([]Bucket, len(keys))
	for i, k := range keys {
		out[i] = Bucket{Bucket: labels[i], Count: found[k]}
	}
	return out, nil
}
