// Package errors provides error handling for qntx-task.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging (format with %+v)
//   - Error wrapping and context
//   - Hints for configuration problems
//   - Markers for the failure taxonomy below
//
// Usage:
//
//	if err := store.DeleteOlderThan(ctx, cutoff, true, 5000); err != nil {
//	    return errors.Wrap(err, "cleanup old executions")
//	}
//
//	// Classify without losing the original message
//	return errors.Mark(errors.Wrap(err, "update execution"), errors.ErrPersistence)
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // degrade to an empty result
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint      = crdb.WithHint
	WithHintf     = crdb.WithHintf
	WithDetail    = crdb.WithDetail
	WithDetailf   = crdb.WithDetailf
	FlattenHints  = crdb.FlattenHints
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
)

// Error inspection
var (
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	UnwrapOnce    = crdb.UnwrapOnce
	UnwrapAll     = crdb.UnwrapAll
	Mark          = crdb.Mark
	CombineErrors = crdb.CombineErrors
)

// Failure taxonomy. Attach with Mark (or Wrap the sentinel) and test with Is.
var (
	// ErrNotFound indicates the execution id or config key does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates malformed caller input (bad filter, bad status)
	ErrInvalidRequest = New("invalid request")

	// ErrInvalidConfiguration covers non-positive retention/timeout values and malformed cron expressions
	ErrInvalidConfiguration = New("invalid configuration")

	// ErrLockUnavailable indicates the lock was already held or the lock store failed
	ErrLockUnavailable = New("lock unavailable")

	// ErrExecutorSync indicates the external executor could not be reached or answered badly
	ErrExecutorSync = New("executor sync failed")

	// ErrPersistence indicates the relational store failed
	ErrPersistence = New("persistence failure")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsInvalidConfigurationError checks if an error is or wraps ErrInvalidConfiguration
func IsInvalidConfigurationError(err error) bool {
	return err != nil && Is(err, ErrInvalidConfiguration)
}

// IsPersistenceError checks if an error is or wraps ErrPersistence
func IsPersistenceError(err error) bool {
	return err != nil && Is(err, ErrPersistence)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrapf(ErrNotFound, format, args...)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidRequest, format, args...)
}

// NewInvalidConfigurationError creates an invalid-configuration error with a formatted message
func NewInvalidConfigurationError(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidConfiguration, format, args...)
}

// WrapPersistence wraps a store error with context and marks it as ErrPersistence.
// Returns nil when err is nil.
func WrapPersistence(err error, msg string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, msg), ErrPersistence)
}

// WrapPersistencef is WrapPersistence with a formatted message.
func WrapPersistencef(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Mark(Wrapf(err, format, args...), ErrPersistence)
}
