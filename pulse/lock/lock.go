// Package lock provides a named, TTL-bounded mutual-exclusion lock over an
// atomic key store, used to keep at most one run of a periodic job alive.
//
// Release is unconditional: the holder token is stored for observability only
// (see Holder) and is not checked on delete. A holder that outlives its TTL can therefore
// release a lock that a second holder has since acquired.
package lock

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/qntx-task/errors"
	"github.com/teranos/qntx-task/logger"
)

// DefaultPrefix namespaces lock keys: lock:{name}.
const DefaultPrefix = "lock"

// DefaultTTL bounds how long a lock outlives a crashed holder.
const DefaultTTL = time.Hour

// maxParamLen is the longest parameter embedded verbatim in a lock name.
const maxParamLen = 200

// Lock acquires and releases named locks in a Store.
type Lock struct {
	store  Store
	prefix string
	logger *zap.SugaredLogger
}

// Option configures a Lock.
type Option func(*Lock)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(l *Lock) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(l *Lock) { l.logger = log }
}

// New creates a Lock over store.
func New(store Store, opts ...Option) *Lock {
	l := &Lock{
		store:  store,
		prefix: DefaultPrefix,
		logger: logger.AddLockSymbol(logger.ComponentLogger("pulse.lock")),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key returns the store key for name.
func (l *Lock) Key(name string) string {
	return l.prefix + ":" + name
}

// Acquire creates the lock if absent. It returns false when the lock is
// already held or the store fails.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) bool {
	return l.acquire(ctx, name, ttl) == nil
}

// acquire is Acquire with the cause, marked errors.ErrLockUnavailable.
func (l *Lock) acquire(ctx context.Context, name string, ttl time.Duration) error {
	holder := uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.Key(name), holder, ttl)
	if err != nil {
		err = errors.Mark(errors.Wrapf(err, "failed to acquire lock %s", name), errors.ErrLockUnavailable)
		l.logger.Errorw("Failed to acquire lock", logger.FieldLock, name, logger.FieldError, err)
		return err
	}
	if !ok {
		l.logger.Warnw("Lock already held", logger.FieldLock, name)
		return errors.Mark(errors.Newf("lock %s already held", name), errors.ErrLockUnavailable)
	}
	l.logger.Infow("Acquired lock", logger.FieldLock, name, logger.FieldLockTTL, ttl, "holder", holder)
	return nil
}

// Release deletes the lock. It returns false only when the store fails.
func (l *Lock) Release(ctx context.Context, name string) bool {
	if err := l.store.Delete(ctx, l.Key(name)); err != nil {
		l.logger.Errorw("Failed to release lock", logger.FieldLock, name, logger.FieldError, err)
		return false
	}
	l.logger.Infow("Released lock", logger.FieldLock, name)
	return true
}

// IsLocked reports whether the lock is held. Store failures read as unlocked.
func (l *Lock) IsLocked(ctx context.Context, name string) bool {
	ok, err := l.store.Exists(ctx, l.Key(name))
	if err != nil {
		l.logger.Errorw("Failed to check lock", logger.FieldLock, name, logger.FieldError, err)
		return false
	}
	return ok
}

// Holder returns the token stored by the current holder, or "" when the lock
// is free. Store failures read as free.
func (l *Lock) Holder(ctx context.Context, name string) string {
	holder, err := l.store.Holder(ctx, l.Key(name))
	if err != nil {
		l.logger.Errorw("Failed to read lock holder", logger.FieldLock, name, logger.FieldError, err)
		return ""
	}
	return holder
}

// LockName derives a per-parameter lock name: base when param is empty,
// base_param for short params, and base_ plus 16 hex digits of md5(param)
// for params longer than 200 bytes.
func LockName(base, param string) string {
	if param == "" {
		return base
	}
	if len(param) > maxParamLen {
		sum := md5.Sum([]byte(param))
		return base + "_" + hex.EncodeToString(sum[:])[:16]
	}
	return base + "_" + param
}
