package controller

import (
	"errors"
	"fmt"
)

// ReconcileError is the error type the controller reports for any
// failed reconciliation attempt. It carries the identity of the
// failing object alongside the cause.
type ReconcileError struct {
	Ref Ref
	Err error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("reconciling %s: %v", e.Ref, e.Err)
}

func (e *ReconcileError) Unwrap() error { return e.Err }

// permanentError wraps an error to indicate it should not be retried.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string {
	return fmt.Sprintf("permanent error: %v", p.err)
}

func (p *permanentError) Unwrap() error { return p.err }

// Is implements error matching for permanentError.
func (p *permanentError) Is(target error) bool {
	_, ok := target.(*permanentError)
	return ok
}

// PermanentError wraps an error to indicate that it should not be
// retried. The controller drops the item instead of requeueing it.
func PermanentError(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanentError checks if an error is a permanent error.
func IsPermanentError(err error) bool {
	return errors.Is(err, &permanentError{})
}
