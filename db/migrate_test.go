package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrationFiles(t *testing.T) {
	for _, d := range []Dialect{SQLite, Postgres} {
		files, err := MigrationFiles(d)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"000_create_schema_migrations.sql",
			"001_create_task_executions.sql",
			"002_create_task_config.sql",
		}, files, string(d))
	}
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()

	t.Run("records every version", func(t *testing.T) {
		db := openTemp(t)
		require.NoError(t, Migrate(ctx, db, nil))

		versions, err := AppliedMigrations(ctx, db)
		require.NoError(t, err)
		assert.Equal(t, []string{"000", "001", "002"}, versions)
	})

	t.Run("is idempotent", func(t *testing.T) {
		db := openTemp(t)
		require.NoError(t, Migrate(ctx, db, nil))
		require.NoError(t, Migrate(ctx, db, nil), "running migrations multiple times should be safe")

		versions, err := AppliedMigrations(ctx, db)
		require.NoError(t, err)
		assert.Len(t, versions, 3)
	})

	t.Run("status check constraint", func(t *testing.T) {
		db := openTemp(t)
		require.NoError(t, Migrate(ctx, db, nil))

		_, err := db.Exec(`INSERT INTO task_executions (execution_id, task_name, module, status, created_at)
			VALUES ('e1', 't', 'm', 'DONE', '2024-01-01T00:00:00.000000Z')`)
		assert.Error(t, err)
	})

	t.Run("fails on closed database", func(t *testing.T) {
		db := openTemp(t)
		db.Close()
		assert.Error(t, Migrate(ctx, db, nil))
	})
}
