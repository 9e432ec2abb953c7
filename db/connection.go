package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/qntx-task/am"
	"github.com/teranos/qntx-task/errors"
	"github.com/teranos/qntx-task/sym"
)

// SQLiteBusyTimeoutMS is how long SQLite waits on a locked database before failing
const SQLiteBusyTimeoutMS = 5000

// DB is a connection pool tagged with the SQL dialect it speaks.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// New tags an existing pool with a dialect (used with sqlmock in tests).
func New(sqlDB *sql.DB, dialect Dialect) *DB {
	return &DB{DB: sqlDB, Dialect: dialect}
}

// Open opens the database selected by cfg.
// If logger is provided, logs database operations; otherwise operates silently.
func Open(cfg am.DatabaseConfig, logger *zap.SugaredLogger) (*DB, error) {
	switch cfg.Driver {
	case "", am.DriverSQLite:
		path := cfg.Path
		if path == "" {
			path = "qntx-task.db"
		}
		return OpenSQLite(path, logger)
	case am.DriverPostgres:
		return OpenPostgres(cfg.DSN, logger)
	default:
		return nil, errors.NewInvalidConfigurationError("unknown database driver %q", cfg.Driver)
	}
}

// OpenSQLite opens a SQLite database at path with WAL, foreign keys and a busy
// timeout. Pragmas go in the DSN so every pooled connection gets them.
func OpenSQLite(path string, logger *zap.SugaredLogger) (*DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "path", path, "symbol", sym.DB)
	}

	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_foreign_keys", "on")
	params.Set("_busy_timeout", fmt.Sprint(SQLiteBusyTimeoutMS))
	dsn := "file:" + path + "?" + params.Encode()

	sqlDB, err := sql.Open(string(SQLite), dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, errors.Wrapf(err, "failed to connect to %s", path)
	}

	if logger != nil {
		logger.Infow("Database opened successfully",
			"path", path,
			"symbol", sym.DB,
			"wal_mode", true,
			"foreign_keys", true,
		)
	}

	return New(sqlDB, SQLite), nil
}

// OpenPostgres opens a PostgreSQL pool through the pgx stdlib driver.
func OpenPostgres(dsn string, logger *zap.SugaredLogger) (*DB, error) {
	if dsn == "" {
		return nil, errors.NewInvalidConfigurationError("postgres dsn is empty")
	}

	sqlDB, err := sql.Open(string(Postgres), dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}

	if logger != nil {
		logger.Infow("Database opened successfully", "driver", "postgres", "symbol", sym.DB)
	}

	return New(sqlDB, Postgres), nil
}

// OpenWithMigrations opens the database and applies pending migrations.
func OpenWithMigrations(ctx context.Context, cfg am.DatabaseConfig, logger *zap.SugaredLogger) (*DB, error) {
	database, err := Open(cfg, logger)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	if err := Migrate(ctx, database, logger); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "migrate database")
	}

	return database, nil
}
