package task

import (
	"database/sql"
	"encoding/json"

	"github.com/teranos/qntx-task/db"
	"github.com/teranos/qntx-task/errors"
)

// executionColumns is the column list every execution SELECT uses, in the
// order getScanTargets expects.
const executionColumns = `id, execution_id, task_name, module, status,
	created_at, started_at, finished_at,
	task_args, task_kwargs, result, error, traceback,
	created_by, metadata`

// scanArgs holds the nullable intermediates for one execution row.
type scanArgs struct {
	CreatedAt  db.Timestamp
	StartedAt  db.Timestamp
	FinishedAt db.Timestamp
	Args       sql.NullString
	Kwargs     sql.NullString
	Result     sql.NullString
	Error      sql.NullString
	Traceback  sql.NullString
	CreatedBy  sql.NullString
	Metadata   sql.NullString
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanExecution reads one row selected with executionColumns.
func scanExecution(row rowScanner) (*Execution, error) {
	var e Execution
	var a scanArgs
	var status string

	err := row.Scan(
		&e.ID,
		&e.ExecutionID,
		&e.TaskName,
		&e.Module,
		&status,
		&a.CreatedAt,
		&a.StartedAt,
		&a.FinishedAt,
		&a.Args,
		&a.Kwargs,
		&a.Result,
		&a.Error,
		&a.Traceback,
		&a.CreatedBy,
		&a.Metadata,
	)
	if err != nil {
		return nil, err
	}

	e.Status = Status(status)
	e.CreatedAt = a.CreatedAt.Time
	e.StartedAt = a.StartedAt.Ptr()
	e.FinishedAt = a.FinishedAt.Ptr()

	e.Args = rawOrDefault(a.Args, "[]")
	e.Kwargs = rawOrDefault(a.Kwargs, "{}")
	if a.Result.Valid {
		e.Result = json.RawMessage(a.Result.String)
	}
	if a.Error.Valid {
		e.Error = &a.Error.String
	}
	if a.Traceback.Valid {
		e.Traceback = &a.Traceback.String
	}
	if a.CreatedBy.Valid {
		e.CreatedBy = &a.CreatedBy.String
	}

	e.Metadata = map[string]any{}
	if a.Metadata.Valid && a.Metadata.String != "" {
		if err := json.Unmarshal([]byte(a.Metadata.String), &e.Metadata); err != nil {
			return nil, errors.Wrapf(err, "failed to decode metadata for execution %s", e.ExecutionID)
		}
	}

	return &e, nil
}

func rawOrDefault(s sql.NullString, def string) json.RawMessage {
	if !s.Valid || s.String == "" {
		return json.RawMessage(def)
	}
	return json.RawMessage(s.String)
}

// encodeJSON renders v for a JSON column; nil stays NULL.
func encodeJSON(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(val) == 0 {
			return nil, nil
		}
		if !json.Valid(val) {
			return nil, errors.NewInvalidRequestError("result is not valid JSON")
		}
		return string(val), nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode JSON value")
		}
		return string(b), nil
	}
}

// rawOr validates raw JSON input, substituting def when empty.
func rawOr(raw json.RawMessage, def string) (string, error) {
	if len(raw) == 0 {
		return def, nil
	}
	if !json.Valid(raw) {
		return "", errors.NewInvalidRequestError("invalid JSON argument %q", string(raw))
	}
	return string(raw), nil
}
