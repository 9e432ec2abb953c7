// Package schedule runs the periodic maintenance jobs on their resolved
// schedules with pulse control: retries, skip-if-still-running and live
// schedule refresh.
package schedule

import (
	"context"
	"sort"

	"github.com/teranos/qntx-task/pulse/reconcile"
	"github.com/teranos/qntx-task/pulse/taskconf"
)

// Func runs one attempt of a periodic job, tracked as executionID. Retries of
// the same firing reuse executionID.
type Func func(ctx context.Context, executionID string) error

// Handlers maps task names to the function that runs them.
type Handlers map[string]Func

// Get returns the handler for taskName, or nil if none is registered.
//
// Example:
//
//	h.Get("cleanup_old_task_executions")  -> cleanup handler
//	h.Get("unknown")                      -> nil
func (h Handlers) Get(taskName string) Func {
	return h[taskName]
}

// IsSchedulable reports whether taskName has a registered handler.
func (h Handlers) IsSchedulable(taskName string) bool {
	_, ok := h[taskName]
	return ok
}

// Names returns the registered task names, sorted.
func (h Handlers) Names() []string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReconcileHandlers wires the two maintenance jobs with their resolved
// defaults.
func ReconcileHandlers(jobs *reconcile.Jobs) Handlers {
	return Handlers{
		taskconf.CleanupTaskName: func(ctx context.Context, executionID string) error {
			_, err := jobs.RunCleanup(ctx, executionID, reconcile.CleanupOptions{})
			return err
		},
		taskconf.MarkTimeoutTaskName: func(ctx context.Context, executionID string) error {
			_, err := jobs.RunMarkTimeout(ctx, executionID, reconcile.TimeoutOptions{})
			return err
		},
	}
}
