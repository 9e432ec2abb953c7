package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/qntx-task/db"
	"github.com/teranos/qntx-task/errors"
	qtest "github.com/teranos/qntx-task/internal/testing"
	"github.com/teranos/qntx-task/internal/util"
)

// clock is a settable time source for stores under test.
type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }
func newClock(t time.Time) *clock        { return &clock{t: t} }
func base() time.Time                    { return time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC) }
func newTestStore(t *testing.T, c *clock) *Store {
	return NewStore(qtest.CreateTestDB(t), WithClock(c.now))
}

func register(t *testing.T, s *Store, id, name, module string) *Execution {
	t.Helper()
	e, created, err := s.CreateOrGet(context.Background(), RegisterParams{
		ExecutionID: id,
		TaskName:    name,
		Module:      module,
	})
	require.NoError(t, err)
	require.True(t, created)
	return e
}

func TestCreateOrGet(t *testing.T) {
	ctx := context.Background()
	c := newClock(base())
	s := newTestStore(t, c)

	e, created, err := s.CreateOrGet(ctx, RegisterParams{
		ExecutionID: "exec-1",
		TaskName:    "send_report",
		Module:      "reports",
		Args:        json.RawMessage(`[1,"a"]`),
		CreatedBy:   util.Ptr("user-7"),
		Metadata:    map[string]any{"source": "api"},
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusPending, e.Status)
	assert.Nil(t, e.StartedAt)
	assert.Nil(t, e.FinishedAt)
	assert.Equal(t, base(), e.CreatedAt)
	assert.JSONEq(t, `[1,"a"]`, string(e.Args))
	assert.JSONEq(t, `{}`, string(e.Kwargs))
	assert.Equal(t, "user-7", *e.CreatedBy)
	assert.Equal(t, "api", e.Metadata["source"])

	t.Run("existing id returns the original row unchanged", func(t *testing.T) {
		c.advance(time.Hour)
		again, created, err := s.CreateOrGet(ctx, RegisterParams{
			ExecutionID:   "exec-1",
			TaskName:      "other_task",
			Module:        "other_module",
			InitialStatus: StatusStarted,
		})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, e.ID, again.ID)
		assert.Equal(t, "send_report", again.TaskName)
		assert.Equal(t, "reports", again.Module)
		assert.Equal(t, StatusPending, again.Status)
		assert.Equal(t, base(), again.CreatedAt)
	})

	t.Run("initial STARTED stamps started_at", func(t *testing.T) {
		e, created, err := s.CreateOrGet(ctx, RegisterParams{
			ExecutionID:   "exec-2",
			TaskName:      "cleanup",
			Module:        "qntx_task",
			InitialStatus: StatusStarted,
		})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, StatusStarted, e.Status)
		require.NotNil(t, e.StartedAt)
		assert.Equal(t, c.now(), *e.StartedAt)
	})

	t.Run("rejects missing fields and bad input", func(t *testing.T) {
		_, _, err := s.CreateOrGet(ctx, RegisterParams{ExecutionID: "x"})
		assert.True(t, errors.IsInvalidRequestError(err))

		_, _, err = s.CreateOrGet(ctx, RegisterParams{ExecutionID: "x", TaskName: "t", Module: "m", InitialStatus: "DONE"})
		assert.True(t, errors.IsInvalidRequestError(err))

		_, _, err = s.CreateOrGet(ctx, RegisterParams{ExecutionID: "x", TaskName: "t", Module: "m", Args: json.RawMessage(`[1,`)})
		assert.True(t, errors.IsInvalidRequestError(err))
	})
}

func TestUpdateStatus_Lifecycle(t *testing.T) {
	ctx := context.Background()
	c := newClock(base())
	s := newTestStore(t, c)
	register(t, s, "e1", "import", "ingest")

	c.advance(time.Minute)
	started, err := s.UpdateStatus(ctx, "e1", UpdateParams{Status: StatusStarted})
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, started.Status)
	require.NotNil(t, started.StartedAt)
	assert.Nil(t, started.FinishedAt)
	startedAt := *started.StartedAt

	c.advance(time.Minute)
	again, err := s.UpdateStatus(ctx, "e1", UpdateParams{Status: StatusStarted})
	require.NoError(t, err)
	assert.Equal(t, startedAt, *again.StartedAt, "started_at never moves")

	c.advance(time.Minute)
	done, err := s.UpdateStatus(ctx, "e1", UpdateParams{
		Status: StatusSuccess,
		Result: map[string]any{"done": true},
	})
	require.NoError(t, err)
	require.NotNil(t, done.FinishedAt)
	assert.Equal(t, c.now(), *done.FinishedAt)
	assert.JSONEq(t, `{"done":true}`, string(done.Result))
	finishedAt := *done.FinishedAt

	d, ok := done.Duration(time.Now())
	require.True(t, ok)
	assert.Equal(t, 2*time.Minute, d)

	c.advance(time.Minute)
	failed, err := s.UpdateStatus(ctx, "e1", UpdateParams{Status: StatusFailure, Error: util.Ptr("late failure")})
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, failed.Status, "status transitions are unconstrained")
	assert.Equal(t, finishedAt, *failed.FinishedAt, "finished_at never moves")
	assert.JSONEq(t, `{"done":true}`, string(failed.Result), "nil result leaves the stored one")
	assert.Equal(t, "late failure", *failed.Error)

	stored, err := s.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, failed, stored)
}

func TestUpdateStatus_MergesMetadata(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newClock(base()))
	register(t, s, "e1", "import", "ingest")

	_, err := s.UpdateStatus(ctx, "e1", UpdateParams{Status: StatusStarted, Metadata: map[string]any{"a": 1}})
	require.NoError(t, err)
	_, err = s.UpdateStatus(ctx, "e1", UpdateParams{Status: StatusStarted, Metadata: map[string]any{"b": 2}})
	require.NoError(t, err)

	e, err := s.Get(ctx, "e1")
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"a": float64(1), "b": float64(2)}, e.Metadata)
}

func TestUpdateStatus_Errors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newClock(base()))

	_, err := s.UpdateStatus(ctx, "missing", UpdateParams{Status: StatusStarted})
	assert.True(t, errors.IsNotFoundError(err))

	_, err = s.UpdateStatus(ctx, "missing", UpdateParams{Status: "finished"})
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = s.Get(ctx, "missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestQuery(t *testing.T) {
	ctx := context.Background()
	c := newClock(base())
	s := newTestStore(t, c)

	register(t, s, "a", "import", "ingest")
	c.advance(time.Hour)
	register(t, s, "b", "export", "ingest")
	c.advance(time.Hour)
	_, _, err := s.CreateOrGet(ctx, RegisterParams{ExecutionID: "c", TaskName: "import", Module: "reports", CreatedBy: util.Ptr("u1")})
	require.NoError(t, err)
	_, err = s.UpdateStatus(ctx, "b", UpdateParams{Status: StatusSuccess})
	require.NoError(t, err)

	ids := func(es []*Execution) []string {
		var out []string
		for _, e := range es {
			out = append(out, e.ExecutionID)
		}
		return out
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"default newest first", Filter{}, []string{"c", "b", "a"}},
		{"ascending", Filter{OrderBy: "created_at"}, []string{"a", "b", "c"}},
		{"module", Filter{Module: "ingest"}, []string{"b", "a"}},
		{"task name", Filter{TaskName: "import"}, []string{"c", "a"}},
		{"status", Filter{Status: StatusSuccess}, []string{"b"}},
		{"created by", Filter{CreatedBy: util.Ptr("u1")}, []string{"c"}},
		{"since inclusive", Filter{Since: util.Ptr(base().Add(time.Hour))}, []string{"c", "b"}},
		{"until inclusive", Filter{Until: util.Ptr(base().Add(time.Hour))}, []string{"b", "a"}},
		{"limit offset", Filter{Limit: 1, Offset: 1}, []string{"b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Query(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}

	n, err := s.Count(ctx, Filter{Module: "ingest", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.Query(ctx, Filter{OrderBy: "-execution_id; DROP TABLE x"})
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestListUnfinishedIDs(t *testing.T) {
	ctx := context.Background()
	c := newClock(base())
	s := newTestStore(t, c)

	for _, id := range []string{"p", "s", "r", "ok", "bad"} {
		register(t, s, id, "job", "mod")
		c.advance(time.Second)
	}
	for id, st := range map[string]Status{"s": StatusStarted, "r": StatusRetry, "ok": StatusSuccess, "bad": StatusFailure} {
		_, err := s.UpdateStatus(ctx, id, UpdateParams{Status: st})
		require.NoError(t, err)
	}

	all, err := s.ListUnfinishedIDs(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"p", "s", "r"}, all)

	capped, err := s.ListUnfinishedIDs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p", "s"}, capped)
}

func TestDeleteOlderThan(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) (*Store, time.Time) {
		c := newClock(base())
		s := newTestStore(t, c)
		for i, st := range []Status{StatusSuccess, StatusFailure, StatusStarted, StatusSuccess, StatusPending} {
			id := string(rune('a' + i))
			register(t, s, id, "job", "mod")
			if st != StatusPending {
				_, err := s.UpdateStatus(ctx, id, UpdateParams{Status: st})
				require.NoError(t, err)
			}
			c.advance(24 * time.Hour)
		}
		// a..c are older than the cutoff, d and e are newer
		return s, base().Add(60 * time.Hour)
	}

	t.Run("only completed in one statement", func(t *testing.T) {
		s, cutoff := seed(t)
		n, err := s.DeleteOlderThan(ctx, cutoff, true, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		left, err := s.Count(ctx, Filter{})
		require.NoError(t, err)
		assert.Equal(t, int64(3), left)
	})

	t.Run("all statuses in batches", func(t *testing.T) {
		s, cutoff := seed(t)
		n, err := s.DeleteOlderThan(ctx, cutoff, false, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		rest, err := s.Query(ctx, Filter{OrderBy: "created_at"})
		require.NoError(t, err)
		require.Len(t, rest, 2)
		assert.Equal(t, "d", rest[0].ExecutionID)
	})
}

func TestMarkTimedOut(t *testing.T) {
	ctx := context.Background()
	c := newClock(base())
	s := newTestStore(t, c)

	register(t, s, "old", "job", "mod")
	_, err := s.UpdateStatus(ctx, "old", UpdateParams{Status: StatusStarted})
	require.NoError(t, err)
	register(t, s, "pending", "job", "mod")

	c.advance(20 * time.Minute)
	register(t, s, "fresh", "job", "mod")
	_, err = s.UpdateStatus(ctx, "fresh", UpdateParams{Status: StatusStarted})
	require.NoError(t, err)

	n, err := s.MarkTimedOut(ctx, c.now().Add(-10*time.Minute), "Task timeout")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	old, err := s.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, old.Status)
	assert.Equal(t, "Task timeout", *old.Error)
	require.NotNil(t, old.FinishedAt)
	assert.Equal(t, c.now(), *old.FinishedAt)

	for _, id := range []string{"pending", "fresh"} {
		e, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.NotEqual(t, StatusFailure, e.Status, id)
	}
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return NewStore(db.New(sqlDB, db.SQLite), WithClock(base)), mock
}

func TestStore_PersistenceFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("begin fails", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin().WillReturnError(sql.ErrConnDone)

		_, err := s.UpdateStatus(ctx, "e1", UpdateParams{Status: StatusStarted})
		require.Error(t, err)
		assert.True(t, errors.IsPersistenceError(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("listing fails", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT execution_id FROM task_executions")).
			WillReturnError(sql.ErrConnDone)

		_, err := s.ListUnfinishedIDs(ctx, 10)
		assert.True(t, errors.IsPersistenceError(err))
	})

	t.Run("batch delete stops on an empty batch", func(t *testing.T) {
		s, mock := newMockStore(t)
		batch := regexp.QuoteMeta("DELETE FROM task_executions WHERE id IN (SELECT id FROM task_executions WHERE created_at < ?")
		mock.ExpectExec(batch).WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectExec(batch).WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(batch).WillReturnResult(sqlmock.NewResult(0, 0))

		n, err := s.DeleteOlderThan(ctx, base(), false, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("batch delete failure keeps the partial count", func(t *testing.T) {
		s, mock := newMockStore(t)
		batch := regexp.QuoteMeta("DELETE FROM task_executions WHERE id IN")
		mock.ExpectExec(batch).WillReturnResult(sqlmock.NewResult(0, 4))
		mock.ExpectExec(batch).WillReturnError(sql.ErrConnDone)

		n, err := s.DeleteOlderThan(ctx, base(), true, 4)
		assert.Equal(t, int64(4), n)
		assert.True(t, errors.IsPersistenceError(err))
		assert.True(t, errors.Is(err, sql.ErrConnDone))
	})
}
