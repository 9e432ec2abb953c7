package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/teranos/qntx-task/errors"
	"github.com/teranos/qntx-task/logger"
)

// Skip reasons.
const (
	ReasonAlreadyRunning = "task_already_running"
	ReasonAcquireFailed  = "lock_acquisition_failed"
)

// Skip explains why a locked operation did not run. Err is marked
// errors.ErrLockUnavailable.
type Skip struct {
	Reason  string `json:"reason"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

// Outcome is the result of a locked operation: either Value or Skipped.
type Outcome[R any] struct {
	Value   R
	Skipped *Skip
}

// Ran reports whether the operation ran.
func (o Outcome[R]) Ran() bool {
	return o.Skipped == nil
}

// SkipRecorder is told about every skipped run.
type SkipRecorder interface {
	LockSkipped(ctx context.Context, name, reason string)
}

// WithLock wraps op so that at most one call per lock name runs at a time.
// keyFn derives the per-call parameter appended to base (see LockName); nil
// uses base for every call. The lock is released when op returns or panics.
func WithLock[P, R any](l *Lock, base string, ttl time.Duration, keyFn func(P) string, op func(context.Context, P) (R, error), recorders ...SkipRecorder) func(context.Context, P) (Outcome[R], error) {
	return func(ctx context.Context, p P) (Outcome[R], error) {
		name := base
		if keyFn != nil {
			name = LockName(base, keyFn(p))
		}

		skip := func(reason, msg string, cause error) (Outcome[R], error) {
			l.logger.Warnw("Skipping locked operation",
				logger.FieldLock, name,
				logger.FieldSkipCause, reason,
				logger.FieldError, cause)
			for _, r := range recorders {
				r.LockSkipped(ctx, name, reason)
			}
			return Outcome[R]{Skipped: &Skip{Reason: reason, Message: msg, Err: cause}}, nil
		}

		if l.IsLocked(ctx, name) {
			cause := errors.Mark(errors.Newf("lock %s held by %q", name, l.Holder(ctx, name)), errors.ErrLockUnavailable)
			return skip(ReasonAlreadyRunning, fmt.Sprintf("Task %s is already running", name), cause)
		}
		if err := l.acquire(ctx, name, ttl); err != nil {
			return skip(ReasonAcquireFailed, fmt.Sprintf("Failed to acquire lock for %s", name), err)
		}
		defer l.Release(context.WithoutCancel(ctx), name)

		v, err := op(ctx, p)
		return Outcome[R]{Value: v}, err
	}
}
