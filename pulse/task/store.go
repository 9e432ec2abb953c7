package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/teranos/qntx-task/db"
	"github.com/teranos/qntx-task/errors"
)

// Store persists task executions in the task_executions table.
type Store struct {
	db  *db.DB
	now func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source used for created/started/finished stamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a new execution store
func NewStore(database *db.DB, opts ...StoreOption) *Store {
	s := &Store{db: database, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) q(query string) string {
	return s.db.Dialect.Rebind(query)
}

func (s *Store) ts(t time.Time) any {
	return s.db.Dialect.Time(t)
}

// CreateOrGet inserts the execution unless its id already exists. An existing
// row is returned unmodified; the bool reports whether a row was created.
func (s *Store) CreateOrGet(ctx context.Context, p RegisterParams) (*Execution, bool, error) {
	if p.ExecutionID == "" || p.TaskName == "" || p.Module == "" {
		return nil, false, errors.NewInvalidRequestError("execution_id, task_name and module are required")
	}

	status := p.InitialStatus
	if status == "" {
		status = StatusPending
	}
	if !status.Valid() {
		return nil, false, errors.NewInvalidRequestError("unknown initial status %q", status)
	}

	args, err := rawOr(p.Args, "[]")
	if err != nil {
		return nil, false, err
	}
	kwargs, err := rawOr(p.Kwargs, "{}")
	if err != nil {
		return nil, false, err
	}
	metadata, err := encodeMetadata(p.Metadata)
	if err != nil {
		return nil, false, err
	}

	now := s.now()
	var startedAt any
	if status == StatusStarted {
		startedAt = s.ts(now)
	}

	var createdBy any
	if p.CreatedBy != nil {
		createdBy = *p.CreatedBy
	}

	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO task_executions (
			execution_id, task_name, module, status,
			created_at, started_at,
			task_args, task_kwargs, created_by, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (execution_id) DO NOTHING`),
		p.ExecutionID, p.TaskName, p.Module, string(status),
		s.ts(now), startedAt,
		args, kwargs, createdBy, metadata,
	)
	if err != nil {
		return nil, false, errors.WrapPersistencef(err, "failed to register execution %s", p.ExecutionID)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, errors.WrapPersistence(err, "failed to check rows affected")
	}

	e, err := s.Get(ctx, p.ExecutionID)
	if err != nil {
		return nil, false, err
	}
	return e, affected > 0, nil
}

// UpdateStatus applies a partial update inside a transaction.
// started_at is stamped on the first STARTED and finished_at on the first
// completed status; neither moves afterwards.
func (s *Store) UpdateStatus(ctx context.Context, executionID string, p UpdateParams) (*Execution, error) {
	if !p.Status.Valid() {
		return nil, errors.NewInvalidRequestError("unknown task status %q", p.Status)
	}

	result, err := encodeJSON(p.Result)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to begin status update")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		s.q("SELECT "+executionColumns+" FROM task_executions WHERE execution_id = ?"+s.db.Dialect.ForUpdate()),
		executionID)
	e, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("task execution %s", executionID)
	}
	if err != nil {
		return nil, errors.WrapPersistencef(err, "failed to load execution %s", executionID)
	}

	now := s.now().UTC()
	e.Status = p.Status
	if p.Status == StatusStarted && e.StartedAt == nil {
		e.StartedAt = &now
	} else if p.Status.IsCompleted() && e.FinishedAt == nil {
		e.FinishedAt = &now
	}

	if result != nil {
		e.Result = json.RawMessage(result.(string))
	}
	if p.Error != nil {
		e.Error = p.Error
	}
	if p.Traceback != nil {
		e.Traceback = p.Traceback
	}
	for k, v := range p.Metadata {
		e.Metadata[k] = v
	}

	metadata, err := encodeMetadata(e.Metadata)
	if err != nil {
		return nil, err
	}
	var storedResult any
	if len(e.Result) > 0 {
		storedResult = string(e.Result)
	}

	_, err = tx.ExecContext(ctx, s.q(`
		UPDATE task_executions
		SET status = ?,
		    started_at = ?,
		    finished_at = ?,
		    result = ?,
		    error = ?,
		    traceback = ?,
		    metadata = ?
		WHERE id = ?`),
		string(e.Status),
		s.db.Dialect.NullTime(e.StartedAt),
		s.db.Dialect.NullTime(e.FinishedAt),
		storedResult,
		nullString(e.Error),
		nullString(e.Traceback),
		metadata,
		e.ID,
	)
	if err != nil {
		return nil, errors.WrapPersistencef(err, "failed to update execution %s", executionID)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.WrapPersistencef(err, "failed to commit execution %s", executionID)
	}

	return e, nil
}

// Get loads one execution by its executor-assigned id.
func (s *Store) Get(ctx context.Context, executionID string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx,
		s.q("SELECT "+executionColumns+" FROM task_executions WHERE execution_id = ?"),
		executionID)
	e, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("task execution %s", executionID)
	}
	if err != nil {
		return nil, errors.WrapPersistencef(err, "failed to get execution %s", executionID)
	}
	return e, nil
}

// Filter narrows Query and Count. Zero values mean "no constraint".
type Filter struct {
	Module    string
	TaskName  string
	Status    Status
	CreatedBy *string
	Since     *time.Time // created_at >= Since
	Until     *time.Time // created_at <= Until
	OrderBy   string     // whitelisted column, optional "-" prefix; default -created_at
	Limit     int
	Offset    int
}

var orderColumns = map[string]bool{
	"created_at":  true,
	"started_at":  true,
	"finished_at": true,
	"task_name":   true,
	"module":      true,
	"status":      true,
}

// orderClause validates a sort key like "-created_at".
func orderClause(orderBy string) (string, error) {
	if orderBy == "" {
		orderBy = "-created_at"
	}
	dir := "ASC"
	col := orderBy
	if strings.HasPrefix(col, "-") {
		dir = "DESC"
		col = col[1:]
	}
	if !orderColumns[col] {
		return "", errors.NewInvalidRequestError("cannot order by %q", orderBy)
	}
	// id breaks ties so pagination is stable
	return " ORDER BY " + col + " " + dir + ", id " + dir, nil
}

// where renders the filter as a WHERE clause with ? placeholders.
func (s *Store) where(f Filter) (string, []any) {
	var conds []string
	var args []any

	if f.Module != "" {
		conds = append(conds, "module = ?")
		args = append(args, f.Module)
	}
	if f.TaskName != "" {
		conds = append(conds, "task_name = ?")
		args = append(args, f.TaskName)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.CreatedBy != nil {
		conds = append(conds, "created_by = ?")
		args = append(args, *f.CreatedBy)
	}
	if f.Since != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, s.ts(*f.Since))
	}
	if f.Until != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, s.ts(*f.Until))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Query returns executions matching f, newest first unless f.OrderBy says otherwise.
func (s *Store) Query(ctx context.Context, f Filter) ([]*Execution, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, errors.NewInvalidRequestError("unknown task status %q", f.Status)
	}
	order, err := orderClause(f.OrderBy)
	if err != nil {
		return nil, err
	}

	where, args := s.where(f)
	query := "SELECT " + executionColumns + " FROM task_executions" + where + order
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to query executions")
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, errors.WrapPersistence(err, "failed to scan execution")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapPersistence(err, "failed to iterate executions")
	}
	return out, nil
}

// Count returns how many executions match f, ignoring pagination.
func (s *Store) Count(ctx context.Context, f Filter) (int64, error) {
	where, args := s.where(f)
	var n int64
	if err := s.db.QueryRowContext(ctx, s.q("SELECT COUNT(*) FROM task_executions"+where), args...).Scan(&n); err != nil {
		return 0, errors.WrapPersistence(err, "failed to count executions")
	}
	return n, nil
}

// ListUnfinishedIDs returns PENDING/STARTED/RETRY execution ids, oldest first.
// max <= 0 means no cap.
func (s *Store) ListUnfinishedIDs(ctx context.Context, max int) ([]string, error) {
	query := "SELECT execution_id FROM task_executions WHERE status IN (?, ?, ?) ORDER BY created_at ASC, id ASC"
	args := statusStrings(UnfinishedStatuses)
	if max > 0 {
		query += " LIMIT ?"
		args = append(args, max)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to list unfinished executions")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.WrapPersistence(err, "failed to scan execution id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapPersistence(err, "failed to iterate unfinished executions")
	}
	return ids, nil
}

// DeleteOlderThan hard-deletes executions created before cutoff, optionally
// only completed ones. batchSize > 0 deletes in bounded chunks until a chunk
// comes back empty; otherwise one statement. Returns the total deleted.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time, onlyCompleted bool, batchSize int) (int64, error) {
	pred := "created_at < ?"
	args := []any{s.ts(cutoff)}
	if onlyCompleted {
		pred += " AND status IN (?, ?, ?)"
		args = append(args, statusStrings(CompletedStatuses)...)
	}

	if batchSize <= 0 {
		res, err := s.db.ExecContext(ctx, s.q("DELETE FROM task_executions WHERE "+pred), args...)
		if err != nil {
			return 0, errors.WrapPersistence(err, "failed to delete old executions")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, errors.WrapPersistence(err, "failed to check rows affected")
		}
		return n, nil
	}

	query := s.q("DELETE FROM task_executions WHERE id IN (SELECT id FROM task_executions WHERE " + pred + " ORDER BY id LIMIT ?)")
	batchArgs := append(append([]any{}, args...), batchSize)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, errors.Wrap(err, "cleanup interrupted")
		}
		res, err := s.db.ExecContext(ctx, query, batchArgs...)
		if err != nil {
			return total, errors.WrapPersistencef(err, "failed to delete batch after %d rows", total)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, errors.WrapPersistence(err, "failed to check rows affected")
		}
		if n == 0 {
			return total, nil
		}
		total += n
	}
}

// MarkTimedOut fails every STARTED execution whose started_at is before cutoff,
// stamping message and finished_at. Returns how many rows changed.
func (s *Store) MarkTimedOut(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE task_executions
		SET status = ?, error = ?, finished_at = ?
		WHERE status = ? AND started_at IS NOT NULL AND started_at < ?`),
		string(StatusFailure), message, s.ts(s.now()),
		string(StatusStarted), s.ts(cutoff),
	)
	if err != nil {
		return 0, errors.WrapPersistence(err, "failed to mark timed out executions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.WrapPersistence(err, "failed to check rows affected")
	}
	return n, nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode metadata")
	}
	return string(b), nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
