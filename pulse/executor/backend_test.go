package executor

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/qntx-task/errors"
	"github.com/teranos/qntx-task/pulse/task"
)

func newBackend(t *testing.T) (*ResultBackend, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewResultBackend(client, ""), mr
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	b, mr := newBackend(t)

	mr.Set("celery-task-meta-ok", `{"status":"SUCCESS","result":{"rows":3},"traceback":null,"task_id":"ok"}`)
	mr.Set("celery-task-meta-bad", `{"status":"FAILURE","result":{"exc_type":"ValueError","exc_message":["boom"],"exc_module":"builtins"},"traceback":"Traceback (most recent call last):\n  ...","task_id":"bad"}`)
	mr.Set("celery-task-meta-run", `{"status":"STARTED","result":{"pid":12},"task_id":"run"}`)
	mr.Set("celery-task-meta-odd", `{"status":"RECEIVED","result":null}`)

	t.Run("missing key is pending", func(t *testing.T) {
		st, err := b.Lookup(ctx, "nope")
		require.NoError(t, err)
		assert.Equal(t, "PENDING", st.Status)
		assert.False(t, st.Ready())
	})

	t.Run("success result", func(t *testing.T) {
		st, err := b.Lookup(ctx, "ok")
		require.NoError(t, err)
		assert.True(t, st.Ready())
		assert.JSONEq(t, `{"rows":3}`, string(st.Result))
		assert.Nil(t, st.Error)
	})

	t.Run("failure message and traceback", func(t *testing.T) {
		st, err := b.Lookup(ctx, "bad")
		require.NoError(t, err)
		require.NotNil(t, st.Error)
		assert.Equal(t, "boom", *st.Error)
		require.NotNil(t, st.Traceback)
		assert.Contains(t, *st.Traceback, "Traceback")
		assert.Nil(t, st.Result)
	})

	t.Run("running result is ignored", func(t *testing.T) {
		st, err := b.Lookup(ctx, "run")
		require.NoError(t, err)
		assert.Equal(t, "STARTED", st.Status)
		assert.Nil(t, st.Result)
	})

	t.Run("unknown status maps to pending", func(t *testing.T) {
		st, err := b.Lookup(ctx, "odd")
		require.NoError(t, err)
		assert.Equal(t, task.StatusPending, task.MapExecutorStatus(st.Status))
	})
}

func TestLookup_Errors(t *testing.T) {
	ctx := context.Background()
	b, mr := newBackend(t)

	mr.Set("celery-task-meta-junk", `not json`)
	_, err := b.Lookup(ctx, "junk")
	assert.True(t, errors.Is(err, errors.ErrExecutorSync))

	mr.Close()
	_, err = b.Lookup(ctx, "any")
	assert.True(t, errors.Is(err, errors.ErrExecutorSync))
}

func TestFailureMessage(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"exc_type":"ValueError","exc_message":"plain"}`, "plain"},
		{`{"exc_type":"KeyError","exc_message":["a", 2]}`, "a, 2"},
		{`{"exc_type":"Timeout","exc_message":{}}`, "Timeout"},
		{`"worker lost"`, "worker lost"},
		{`17`, "17"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, failureMessage([]byte(tt.in)), tt.in)
	}
}

func TestKeyPrefix(t *testing.T) {
	b := NewResultBackend(nil, "results:")
	assert.Equal(t, "results:abc", b.Key("abc"))
}
