package task

import (
	"encoding/json"
	"time"
)

// Execution is one tracked run of a background task, keyed by the id the
// executor assigned when the work was dispatched.
type Execution struct {
	ID          int64  `json:"id"`
	ExecutionID string `json:"task_id"`
	TaskName    string `json:"task_name"`
	Module      string `json:"module"`
	Status      Status `json:"status"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Args   json.RawMessage `json:"task_args"`
	Kwargs json.RawMessage `json:"task_kwargs"`
	Result json.RawMessage `json:"result,omitempty"`

	Error     *string `json:"error,omitempty"`
	Traceback *string `json:"traceback,omitempty"`

	CreatedBy *string        `json:"created_by,omitempty"`
	Metadata  map[string]any `json:"metadata"`
}

// Duration is finished-started when both are set, now-started while running,
// and false when the execution never started.
func (e *Execution) Duration(now time.Time) (time.Duration, bool) {
	if e.StartedAt == nil {
		return 0, false
	}
	if e.FinishedAt != nil {
		return e.FinishedAt.Sub(*e.StartedAt), true
	}
	return now.Sub(*e.StartedAt), true
}

// IsCompleted reports whether the execution reached a terminal status.
func (e *Execution) IsCompleted() bool {
	return e.Status.IsCompleted()
}

// IsRunning reports whether the execution is pending or started.
func (e *Execution) IsRunning() bool {
	return e.Status.IsRunning()
}

// RegisterParams describes a new execution. Only ExecutionID, TaskName and
// Module are required.
type RegisterParams struct {
	ExecutionID   string
	TaskName      string
	Module        string
	Args          json.RawMessage
	Kwargs        json.RawMessage
	CreatedBy     *string
	Metadata      map[string]any
	InitialStatus Status // empty means PENDING
}

// UpdateParams is a partial update: nil fields are left untouched.
type UpdateParams struct {
	Status    Status
	Result    any // marshaled to JSON; json.RawMessage is stored as-is
	Error     *string
	Traceback *string
	Metadata  map[string]any // merged key by key into the stored metadata
}
