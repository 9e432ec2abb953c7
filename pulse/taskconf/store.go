package taskconf

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/teranos/qntx-task/db"
	"github.com/teranos/qntx-task/errors"
)

// Config scopes. Only global rows are read today.
const (
	ScopeGlobal = "global"
	ScopeUser   = "user"
)

// OverrideSource supplies persisted global overrides. ok is false when the
// key has no row.
type OverrideSource interface {
	GetGlobal(ctx context.Context, key string) (value json.RawMessage, ok bool, err error)
}

// Override is one persisted config row.
type Override struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store persists overrides in the task_config table.
type Store struct {
	db  *db.DB
	now func() time.Time
}

// NewStore creates an override store.
func NewStore(database *db.DB) *Store {
	return &Store{db: database, now: time.Now}
}

// GetGlobal implements OverrideSource.
func (s *Store) GetGlobal(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx, s.db.Dialect.Rebind(
		"SELECT value FROM task_config WHERE scope = ? AND owner = '' AND key = ?"),
		ScopeGlobal, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.WrapPersistencef(err, "failed to read config %s", key)
	}
	if !value.Valid || value.String == "" || value.String == "null" {
		return nil, false, nil
	}
	return json.RawMessage(value.String), true, nil
}

// SetGlobal creates or replaces a global override. value is marshaled to JSON;
// json.RawMessage is stored as-is.
func (s *Store) SetGlobal(ctx context.Context, key string, value any) error {
	if key == "" {
		return errors.NewInvalidRequestError("config key is required")
	}
	raw, ok := value.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(value)
		if err != nil {
			return errors.Wrapf(err, "failed to encode config %s", key)
		}
		raw = b
	}
	if !json.Valid(raw) {
		return errors.NewInvalidRequestError("config %s: value is not valid JSON", key)
	}

	_, err := s.db.ExecContext(ctx, s.db.Dialect.Rebind(`
		INSERT INTO task_config (scope, owner, key, value, updated_at)
		VALUES (?, '', ?, ?, ?)
		ON CONFLICT (scope, owner, key) DO UPDATE
		SET value = excluded.value, updated_at = excluded.updated_at`),
		ScopeGlobal, key, string(raw), s.db.Dialect.Time(s.now()))
	if err != nil {
		return errors.WrapPersistencef(err, "failed to write config %s", key)
	}
	return nil
}

// DeleteGlobal removes a global override. Missing keys are ErrNotFound.
func (s *Store) DeleteGlobal(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, s.db.Dialect.Rebind(
		"DELETE FROM task_config WHERE scope = ? AND owner = '' AND key = ?"),
		ScopeGlobal, key)
	if err != nil {
		return errors.WrapPersistencef(err, "failed to delete config %s", key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.WrapPersistence(err, "failed to check rows affected")
	}
	if n == 0 {
		return errors.NewNotFoundError("config key %s", key)
	}
	return nil
}

// ListGlobal returns every global override ordered by key.
func (s *Store) ListGlobal(ctx context.Context) ([]Override, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Dialect.Rebind(
		"SELECT key, value, updated_at FROM task_config WHERE scope = ? AND owner = '' ORDER BY key"),
		ScopeGlobal)
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to list config")
	}
	defer rows.Close()

	var out []Override
	for rows.Next() {
		var o Override
		var value string
		var updated db.Timestamp
		if err := rows.Scan(&o.Key, &value, &updated); err != nil {
			return nil, errors.WrapPersistence(err, "failed to scan config row")
		}
		o.Value = json.RawMessage(value)
		o.UpdatedAt = updated.Time
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapPersistence(err, "failed to iterate config rows")
	}
	return out, nil
}
