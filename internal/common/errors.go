// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Typed errors below unwrap to one of these so callers can use errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrExternal   = errors.New("external capability failed")
	ErrIntegrity  = errors.New("integrity violation")

	// ErrDuplicateEntry is returned by storage when a unique key already exists.
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrSyncInProgress is returned when an account already has a sync running.
	ErrSyncInProgress = errors.New("sync already in progress")

	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ValidationError reports malformed input for a single record or operation.
type ValidationError struct {
	Err    error
	Op     string
	ID     string
	Reason string
}

func (e *ValidationError) Error() string { return describe("invalid input", e.Op, e.ID, e.Reason, e.Err) }

// Is reports kind membership.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Err }

// ConflictError reports a precondition broken by concurrent mutation.
type ConflictError struct {
	Err    error
	Op     string
	ID     string
	Reason string
}

func (e *ConflictError) Error() string { return describe("conflict", e.Op, e.ID, e.Reason, e.Err) }

// Is reports kind membership.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

func (e *ConflictError) Unwrap() error { return e.Err }

// NotFoundError reports a reference to something that does not exist.
type NotFoundError struct {
	Err    error
	Op     string
	ID     string
	Reason string
}

func (e *NotFoundError) Error() string { return describe("not found", e.Op, e.ID, e.Reason, e.Err) }

// Is reports kind membership.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func (e *NotFoundError) Unwrap() error { return e.Err }

// ExternalCapabilityError reports a failed or timed out AI or bank call.
type ExternalCapabilityError struct {
	Err    error
	Op     string
	ID     string
	Reason string
}

func (e *ExternalCapabilityError) Error() string {
	return describe("external call failed", e.Op, e.ID, e.Reason, e.Err)
}

// Is reports kind membership.
func (e *ExternalCapabilityError) Is(target error) bool { return target == ErrExternal }

func (e *ExternalCapabilityError) Unwrap() error { return e.Err }

// IntegrityError reports a taxonomy change that would break tree invariants.
type IntegrityError struct {
	Err    error
	Op     string
	ID     string
	Reason string
}

func (e *IntegrityError) Error() string { return describe("integrity violation", e.Op, e.ID, e.Reason, e.Err) }

// Is reports kind membership.
func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

func (e *IntegrityError) Unwrap() error { return e.Err }

func describe(kind, op, id, reason string, err error) string {
	msg := kind
	if op != "" {
		msg = op + ": " + msg
	}
	if id != "" {
		msg += fmt.Sprintf(" (%s)", id)
	}
	if reason != "" {
		msg += ": " + reason
	}
	if err != nil {
		msg += ": " + err.Error()
	}
	return msg
}

// Validationf builds a ValidationError.
func Validationf(op, id, format string, args ...any) error {
	return &ValidationError{Op: op, ID: id, Reason: fmt.Sprintf(format, args...)}
}

// Conflictf builds a ConflictError.
func Conflictf(op, id, format string, args ...any) error {
	return &ConflictError{Op: op, ID: id, Reason: fmt.Sprintf(format, args...)}
}

// NotFound builds a NotFoundError for an id.
func NotFound(op, kind, id string) error {
	return &NotFoundError{Op: op, ID: id, Reason: kind + " does not exist"}
}

// Integrityf builds an IntegrityError.
func Integrityf(op, id, format string, args ...any) error {
	return &IntegrityError{Op: op, ID: id, Reason: fmt.Sprintf(format, args...)}
}

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimit) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}

// IsKind reports whether err matches any of the given sentinels.
func IsKind(err error, kinds ...error) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}
