package taskconf

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/qntx-task/db"
	"github.com/teranos/qntx-task/errors"
	qtest "github.com/teranos/qntx-task/internal/testing"
)

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := NewStore(qtest.CreateTestDB(t))

	_, ok, err := s.GetGlobal(ctx, KeyRetentionDays)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetGlobal(ctx, KeyRetentionDays, 30))
	require.NoError(t, s.SetGlobal(ctx, KeyRetentionDays, map[string]int{"retention_days": 60}))
	require.NoError(t, s.SetGlobal(ctx, KeyCleanupCrontab, json.RawMessage(`"0 1 * * *"`)))

	raw, ok, err := s.GetGlobal(ctx, KeyRetentionDays)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"retention_days":60}`, string(raw), "set is an upsert")

	all, err := s.ListGlobal(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, KeyCleanupCrontab, all[0].Key)
	assert.False(t, all[0].UpdatedAt.IsZero())

	require.NoError(t, s.DeleteGlobal(ctx, KeyRetentionDays))
	assert.True(t, errors.IsNotFoundError(s.DeleteGlobal(ctx, KeyRetentionDays)))

	assert.True(t, errors.IsInvalidRequestError(s.SetGlobal(ctx, "", 1)))
	assert.True(t, errors.IsInvalidRequestError(s.SetGlobal(ctx, "k", json.RawMessage(`{`))))
}

func TestStore_UserRowsAreIgnored(t *testing.T) {
	ctx := context.Background()
	database := qtest.CreateTestDB(t)
	s := NewStore(database)

	_, err := database.Exec(`INSERT INTO task_config (scope, owner, key, value, updated_at)
		VALUES ('user', 'u1', 'retention_days', '3', '2026-01-01T00:00:00.000000Z')`)
	require.NoError(t, err)

	_, ok, err := s.GetGlobal(ctx, KeyRetentionDays)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_PersistenceFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM task_config")).WillReturnError(sql.ErrConnDone)

	s := NewStore(db.New(sqlDB, db.SQLite))
	_, _, err = s.GetGlobal(context.Background(), KeyRetentionDays)
	assert.True(t, errors.IsPersistenceError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
