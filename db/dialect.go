package db

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/qntx-task/errors"
)

// Dialect names the database/sql driver and the SQL flavour that goes with it.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "pgx"
)

// TimeLayout is how SQLite stores timestamps: fixed-width UTC text, so lexical
// order is chronological order and range comparisons work on the raw column.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// Rebind converts ? placeholders to the dialect's bind syntax.
// Queries must not contain literal question marks.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Time converts t to the bind value stored by the dialect.
func (d Dialect) Time(t time.Time) interface{} {
	if d == Postgres {
		return t.UTC()
	}
	return t.UTC().Format(TimeLayout)
}

// NullTime is Time for optional timestamps.
func (d Dialect) NullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return d.Time(*t)
}

// ForUpdate returns the row-locking suffix for SELECTs inside a transaction.
// SQLite transactions already serialize writers.
func (d Dialect) ForUpdate() string {
	if d == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

// TimePrefix returns an expression yielding the first n characters of col
// rendered as UTC "YYYY-MM-DDTHH:MM:SS". Used for hour/day/month bucketing.
func (d Dialect) TimePrefix(col string, n int) string {
	if d == Postgres {
		return fmt.Sprintf(`substr(to_char(%s AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS'), 1, %d)`, col, n)
	}
	return fmt.Sprintf("substr(%s, 1, %d)", col, n)
}

// Timestamp scans a timestamp column from either dialect.
type Timestamp struct {
	Time  time.Time
	Valid bool
}

// Scan implements sql.Scanner.
func (ts *Timestamp) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		ts.Time, ts.Valid = time.Time{}, false
		return nil
	case time.Time:
		ts.Time, ts.Valid = v.UTC(), true
		return nil
	case string:
		return ts.parse(v)
	case []byte:
		return ts.parse(string(v))
	default:
		return errors.Newf("cannot scan %T into Timestamp", src)
	}
}

func (ts *Timestamp) parse(s string) error {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			ts.Time, ts.Valid = t.UTC(), true
			return nil
		}
	}
	return errors.Newf("unrecognized timestamp %q", s)
}

// Ptr returns nil for NULL, otherwise a pointer to the time.
func (ts Timestamp) Ptr() *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}
