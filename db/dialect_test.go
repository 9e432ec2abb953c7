package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := "SELECT id FROM task_executions WHERE module = ? AND status IN (?, ?) LIMIT ?"

	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t,
		"SELECT id FROM task_executions WHERE module = $1 AND status IN ($2, $3) LIMIT $4",
		Postgres.Rebind(q))
}

func TestDialectTime(t *testing.T) {
	ts := time.Date(2024, 3, 5, 7, 8, 9, 123456789, time.FixedZone("CET", 3600))

	assert.Equal(t, "2024-03-05T06:08:09.123456Z", SQLite.Time(ts))
	assert.Equal(t, ts.UTC(), Postgres.Time(ts))
	assert.Nil(t, SQLite.NullTime(nil))
}

func TestTimeLayoutSortsChronologically(t *testing.T) {
	early := SQLite.Time(time.Date(2024, 1, 9, 23, 0, 0, 0, time.UTC)).(string)
	late := SQLite.Time(time.Date(2024, 1, 10, 1, 0, 0, 5000, time.UTC)).(string)
	assert.Less(t, early, late)
	assert.Len(t, early, len(late))
}

func TestTimePrefix(t *testing.T) {
	assert.Equal(t, "substr(created_at, 1, 13)", SQLite.TimePrefix("created_at", 13))
	assert.Contains(t, Postgres.TimePrefix("created_at", 10), "AT TIME ZONE 'UTC'")
	assert.Equal(t, "", SQLite.ForUpdate())
	assert.Equal(t, " FOR UPDATE", Postgres.ForUpdate())
}

func TestTimestampScan(t *testing.T) {
	want := time.Date(2024, 3, 5, 6, 8, 9, 123456000, time.UTC)

	tests := []struct {
		name string
		src  interface{}
	}{
		{"sqlite text", "2024-03-05T06:08:09.123456Z"},
		{"bytes", []byte("2024-03-05T06:08:09.123456Z")},
		{"postgres time", want.In(time.FixedZone("X", -7200))},
		{"rfc3339", "2024-03-05T08:08:09.123456+02:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			require.NoError(t, ts.Scan(tt.src))
			require.True(t, ts.Valid)
			assert.True(t, want.Equal(ts.Time))
			assert.Equal(t, time.UTC, ts.Time.Location())
		})
	}

	var ts Timestamp
	require.NoError(t, ts.Scan(nil))
	assert.False(t, ts.Valid)
	assert.Nil(t, ts.Ptr())

	assert.Error(t, ts.Scan(42))
	assert.Error(t, ts.Scan("yesterday"))
}
