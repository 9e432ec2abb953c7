package task

import (
	"context"
	"encoding/json"
)

// ExecutorState is what the external executor reports for one execution.
type ExecutorState struct {
	// Status in the executor's own vocabulary.
	Status string

	// Result is set once the execution finished successfully.
	Result json.RawMessage

	// Error and Traceback are set once the execution failed.
	Error     *string
	Traceback *string
}

// Ready reports whether the executor considers the execution finished.
func (s *ExecutorState) Ready() bool {
	return MapExecutorStatus(s.Status).IsCompleted()
}

// Executor is the authoritative source of execution state.
type Executor interface {
	Lookup(ctx context.Context, executionID string) (*ExecutorState, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, executionID string) (*ExecutorState, error)

// Lookup calls f.
func (f ExecutorFunc) Lookup(ctx context.Context, executionID string) (*ExecutorState, error) {
	return f(ctx, executionID)
}

// MapExecutorStatus maps a native executor status onto Status.
// Unknown values map to PENDING.
func MapExecutorStatus(native string) Status {
	s := Status(native)
	if s.Valid() {
		return s
	}
	return StatusPending
}
