// Package executor reads execution state from a Celery-compatible Redis
// result backend, where each finished or in-flight task is stored as JSON
// under {prefix}{execution_id}.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/teranos/qntx-task/errors"
	"github.com/teranos/qntx-task/pulse/task"
)

// DefaultKeyPrefix is Celery's result key prefix.
const DefaultKeyPrefix = "celery-task-meta-"

// meta is the stored result document.
type meta struct {
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result"`
	Traceback *string         `json:"traceback"`
	TaskID    string          `json:"task_id"`
}

// exception is how failures are serialized into meta.Result.
type exception struct {
	Type    string          `json:"exc_type"`
	Message json.RawMessage `json:"exc_message"`
	Module  string          `json:"exc_module"`
}

// ResultBackend implements task.Executor over Redis.
type ResultBackend struct {
	client redis.Cmdable
	prefix string
}

// NewResultBackend creates a backend; an empty prefix means DefaultKeyPrefix.
func NewResultBackend(client redis.Cmdable, prefix string) *ResultBackend {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &ResultBackend{client: client, prefix: prefix}
}

// Key returns the result key for executionID.
func (b *ResultBackend) Key(executionID string) string {
	return b.prefix + executionID
}

// Lookup implements task.Executor. A missing key reads as PENDING, matching
// the backend's own view of unknown ids.
func (b *ResultBackend) Lookup(ctx context.Context, executionID string) (*task.ExecutorState, error) {
	raw, err := b.client.Get(ctx, b.Key(executionID)).Bytes()
	if err == redis.Nil {
		return &task.ExecutorState{Status: string(task.StatusPending)}, nil
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to read result for %s", executionID), errors.ErrExecutorSync)
	}
	return decode(executionID, raw)
}

func decode(executionID string, raw []byte) (*task.ExecutorState, error) {
	var m meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "malformed result for %s", executionID), errors.ErrExecutorSync)
	}

	state := &task.ExecutorState{Status: m.Status}
	switch task.MapExecutorStatus(m.Status) {
	case task.StatusSuccess:
		if len(m.Result) > 0 && string(m.Result) != "null" {
			state.Result = m.Result
		}
	case task.StatusFailure:
		msg := failureMessage(m.Result)
		state.Error = &msg
		if m.Traceback != nil && *m.Traceback != "" {
			state.Traceback = m.Traceback
		}
	}
	return state, nil
}

// failureMessage renders the exception's message the way it would print.
func failureMessage(result json.RawMessage) string {
	var exc exception
	if err := json.Unmarshal(result, &exc); err != nil || (exc.Type == "" && len(exc.Message) == 0) {
		var s string
		if json.Unmarshal(result, &s) == nil {
			return s
		}
		return string(result)
	}

	var single string
	if json.Unmarshal(exc.Message, &single) == nil {
		return single
	}
	var parts []interface{}
	if json.Unmarshal(exc.Message, &parts) == nil {
		strs := make([]string, len(parts))
		for i, p := range parts {
			strs[i] = fmt.Sprint(p)
		}
		return strings.Join(strs, ", ")
	}
	return exc.Type
}
