package lock

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/qntx-task/errors"
)

// brokenStore fails every call.
type brokenStore struct{}

func (brokenStore) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}
func (brokenStore) Delete(context.Context, string) error { return errors.New("connection refused") }
func (brokenStore) Exists(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}
func (brokenStore) Holder(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func quiet() Option { return WithLogger(zap.NewNop().Sugar()) }

func newRedisLock(t *testing.T) (*Lock, *RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := NewRedisStore(client)
	return New(store, quiet()), store, mr
}

func TestLock_Redis(t *testing.T) {
	ctx := context.Background()
	l, store, mr := newRedisLock(t)

	require.True(t, l.Acquire(ctx, "cleanup", time.Minute))
	assert.True(t, mr.Exists("lock:cleanup"))
	assert.Equal(t, time.Minute, mr.TTL("lock:cleanup"))
	assert.True(t, l.IsLocked(ctx, "cleanup"))
	assert.False(t, l.Acquire(ctx, "cleanup", time.Minute), "second acquire fails while held")

	holder, err := store.Holder(ctx, l.Key("cleanup"))
	require.NoError(t, err)
	assert.Len(t, holder, 36)
	assert.Equal(t, holder, l.Holder(ctx, "cleanup"))

	assert.True(t, l.Release(ctx, "cleanup"))
	assert.False(t, l.IsLocked(ctx, "cleanup"))
	assert.Empty(t, l.Holder(ctx, "cleanup"))
	assert.True(t, l.Acquire(ctx, "cleanup", time.Minute))

	mr.FastForward(2 * time.Minute)
	assert.False(t, l.IsLocked(ctx, "cleanup"), "lock expires with its TTL")
}

func TestLock_RedisDown(t *testing.T) {
	ctx := context.Background()
	l, _, mr := newRedisLock(t)
	mr.Close()

	assert.False(t, l.Acquire(ctx, "cleanup", time.Minute))
	assert.False(t, l.IsLocked(ctx, "cleanup"))
	assert.False(t, l.Release(ctx, "cleanup"))
}

func TestLock_Memory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	l := New(store, WithPrefix("jobs"), quiet())

	assert.Equal(t, "jobs:x", l.Key("x"))
	require.True(t, l.Acquire(ctx, "x", time.Minute))
	assert.False(t, l.Acquire(ctx, "x", time.Minute))

	now = now.Add(time.Minute)
	assert.False(t, l.IsLocked(ctx, "x"))
	assert.True(t, l.Acquire(ctx, "x", 0))

	now = now.Add(24 * time.Hour)
	assert.True(t, l.IsLocked(ctx, "x"), "zero ttl never expires")
}

func TestLock_StoreErrors(t *testing.T) {
	ctx := context.Background()
	l := New(brokenStore{}, quiet())

	assert.False(t, l.Acquire(ctx, "x", time.Minute))
	assert.False(t, l.Release(ctx, "x"))
	assert.False(t, l.IsLocked(ctx, "x"))
	assert.Empty(t, l.Holder(ctx, "x"))

	err := l.acquire(ctx, "x", time.Minute)
	assert.True(t, errors.Is(err, errors.ErrLockUnavailable), "got %v", err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestLock_AcquireHeldIsUnavailable(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore(), quiet())

	require.NoError(t, l.acquire(ctx, "x", time.Minute))
	assert.Len(t, l.Holder(ctx, "x"), 36)

	err := l.acquire(ctx, "x", time.Minute)
	assert.True(t, errors.Is(err, errors.ErrLockUnavailable), "got %v", err)
}

func TestLockName(t *testing.T) {
	long := strings.Repeat("p", 201)

	assert.Equal(t, "cleanup", LockName("cleanup", ""))
	assert.Equal(t, "cleanup_42", LockName("cleanup", "42"))
	assert.Equal(t, "cleanup_"+strings.Repeat("p", 200), LockName("cleanup", strings.Repeat("p", 200)))

	hashed := LockName("cleanup", long)
	assert.Len(t, hashed, len("cleanup_")+16)
	assert.Equal(t, hashed, LockName("cleanup", long))
	assert.NotEqual(t, hashed, LockName("cleanup", long+"q"))
}

type skipCounter struct{ reasons []string }

func (s *skipCounter) LockSkipped(_ context.Context, _, reason string) {
	s.reasons = append(s.reasons, reason)
}

func TestWithLock(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore(), quiet())
	skips := &skipCounter{}

	runs := 0
	op := WithLock(l, "job", time.Minute, nil, func(ctx context.Context, n int) (int, error) {
		runs++
		return n * 2, nil
	}, skips)

	out, err := op(ctx, 21)
	require.NoError(t, err)
	assert.True(t, out.Ran())
	assert.Equal(t, 42, out.Value)
	assert.False(t, l.IsLocked(ctx, "job"), "released after success")

	t.Run("skips while held", func(t *testing.T) {
		require.True(t, l.Acquire(ctx, "job", time.Minute))
		for i := 0; i < 2; i++ {
			out, err := op(ctx, 1)
			require.NoError(t, err)
			require.NotNil(t, out.Skipped)
			assert.Equal(t, ReasonAlreadyRunning, out.Skipped.Reason)
			assert.Equal(t, "Task job is already running", out.Skipped.Message)
			assert.True(t, errors.Is(out.Skipped.Err, errors.ErrLockUnavailable))
			assert.Contains(t, out.Skipped.Err.Error(), l.Holder(ctx, "job"))
		}
		assert.Equal(t, 1, runs)

		l.Release(ctx, "job")
		out, err := op(ctx, 1)
		require.NoError(t, err)
		assert.True(t, out.Ran())
		assert.Equal(t, 2, runs)
	})

	assert.Equal(t, []string{ReasonAlreadyRunning, ReasonAlreadyRunning}, skips.reasons)
}

func TestWithLock_ReleasesOnErrorAndPanic(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore(), quiet())

	failing := WithLock(l, "job", time.Minute, nil, func(context.Context, struct{}) (int, error) {
		return 0, errors.New("disk full")
	})
	_, err := failing(ctx, struct{}{})
	assert.EqualError(t, err, "disk full")
	assert.False(t, l.IsLocked(ctx, "job"))

	panicking := WithLock(l, "job", time.Minute, nil, func(context.Context, struct{}) (int, error) {
		panic("boom")
	})
	assert.PanicsWithValue(t, "boom", func() { _, _ = panicking(ctx, struct{}{}) })
	assert.False(t, l.IsLocked(ctx, "job"))
}

func TestWithLock_KeyFn(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore(), quiet())

	var seen []bool
	var op func(context.Context, string) (Outcome[bool], error)
	op = WithLock(l, "sync", time.Minute, func(id string) string { return id }, func(ctx context.Context, id string) (bool, error) {
		seen = append(seen, l.IsLocked(ctx, "sync_"+id))
		nested, err := op(ctx, "other")
		return nested.Ran(), err
	})

	out, err := op(ctx, "a")
	require.NoError(t, err)
	assert.True(t, out.Value, "different parameters lock independently")
	assert.Equal(t, []bool{true, true}, seen)
}

func TestWithLock_AcquireFailure(t *testing.T) {
	l := New(brokenStore{}, quiet())
	op := WithLock(l, "job", time.Minute, nil, func(context.Context, int) (int, error) {
		t.Fatal("must not run")
		return 0, nil
	})

	out, err := op(context.Background(), 0)
	require.NoError(t, err)
	require.NotNil(t, out.Skipped)
	assert.Equal(t, ReasonAcquireFailed, out.Skipped.Reason)
	assert.Equal(t, "Failed to acquire lock for job", out.Skipped.Message)
	assert.True(t, errors.Is(out.Skipped.Err, errors.ErrLockUnavailable), "got %v", out.Skipped.Err)
}
