package task

import (
	"strings"

	"github.com/teranos/qntx-task/errors"
)

// Status is the lifecycle state of a task execution.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusStarted Status = "STARTED"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	StatusRetry   Status = "RETRY"
	StatusRevoked Status = "REVOKED"
)

// AllStatuses in display order.
var AllStatuses = []Status{StatusPending, StatusStarted, StatusSuccess, StatusFailure, StatusRetry, StatusRevoked}

// CompletedStatuses are terminal: reaching one stamps finished_at.
var CompletedStatuses = []Status{StatusSuccess, StatusFailure, StatusRevoked}

// RunningStatuses are the in-flight states.
var RunningStatuses = []Status{StatusPending, StatusStarted}

// UnfinishedStatuses are reconciled against the executor.
var UnfinishedStatuses = []Status{StatusPending, StatusStarted, StatusRetry}

// IsCompleted reports whether s is terminal.
func (s Status) IsCompleted() bool {
	return s.in(CompletedStatuses)
}

// IsRunning reports whether s is in flight.
func (s Status) IsRunning() bool {
	return s.in(RunningStatuses)
}

// Valid reports whether s is one of the six known statuses.
func (s Status) Valid() bool {
	return s.in(AllStatuses)
}

func (s Status) in(set []Status) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", errors.NewInvalidRequestError("unknown task status %q", s)
	}
	return status, nil
}

// statusStrings renders a status set as bind arguments.
func statusStrings(set []Status) []any {
	out := make([]any, len(set))
	for i, s := range set {
		out[i] = string(s)
	}
	return out
}
