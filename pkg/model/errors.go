package model

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// The engine distinguishes six error kinds. Validation/NotFound surface to
// callers, QueryFailed is captured per trigger, Transient is retried under
// backoff, Fatal aborts the current run, Cancelled carries the caller's
// cancellation.

type ValidationError struct {
	Msg string
}

func NewValidationError(msg string) *ValidationError {
	return &ValidationError{Msg: msg}
}

func NewValidationErrorf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string { return e.Msg }

type NotFoundError struct {
	What string
	ID   string
}

func NewNotFoundError(what, id string) *NotFoundError {
	return &NotFoundError{What: what, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.What, e.ID)
}

// QueryFailedError captures a per-trigger execution or evaluation failure.
// It is never fatal to the monitor run; the remaining triggers still execute.
type QueryFailedError struct {
	TriggerID string
	Err       error
}

func NewQueryFailedError(triggerID string, err error) *QueryFailedError {
	return &QueryFailedError{TriggerID: triggerID, Err: err}
}

func (e *QueryFailedError) Error() string {
	return fmt.Sprintf("query failed for trigger %q: %v", e.TriggerID, e.Err)
}

func (e *QueryFailedError) Unwrap() error { return e.Err }

// TransientError marks a retryable store failure, typically a 429 rejection.
type TransientError struct {
	Status int
	Err    error
}

func NewTransientError(status int, err error) *TransientError {
	return &TransientError{Status: status, Err: err}
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure (status %d): %v", e.Status, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

type FatalError struct {
	Err error
}

func NewFatalError(err error) *FatalError { return &FatalError{Err: err} }

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %v", e.Err) }

func (e *FatalError) Unwrap() error { return e.Err }

type CancelledError struct {
	Err error
}

func NewCancelledError(err error) *CancelledError { return &CancelledError{Err: err} }

func (e *CancelledError) Error() string { return fmt.Sprintf("cancelled: %v", e.Err) }

func (e *CancelledError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce) || errors.Is(err, context.Canceled)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}
