package crmclient

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorClass buckets provider failures into the retry taxonomy.
type ErrorClass int

const (
	// ClassTransient covers timeouts, 429s and 5xx responses - retried per policy.
	ClassTransient ErrorClass = iota
	// ClassAuth covers expired or revoked credentials - terminal, flips the connection.
	ClassAuth
	// ClassConflict covers uniqueness violations and stale preconditions - terminal, never guessed at.
	ClassConflict
	// ClassMalformed covers payloads the provider rejected outright - terminal immediately.
	ClassMalformed
)

func (c ErrorClass) String() string {
	switch c {
	case ClassAuth:
		return "auth"
	case ClassConflict:
		return "conflict"
	case ClassMalformed:
		return "malformed"
	default:
		return "transient"
	}
}

// ClassifiedError wraps a provider error with its retry class and, when the
// failure came from an HTTP response, the status code.
type ClassifiedError struct {
	Class      ErrorClass
	StatusCode int
	Err        error
}

func (ce *ClassifiedError) Error() string {
	return fmt.Sprintf("provider error (%s): %v", ce.Class, ce.Err)
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

func NewTransientError(err error) *ClassifiedError {
	return &ClassifiedError{Class: ClassTransient, Err: err}
}

func NewAuthError(err error) *ClassifiedError {
	return &ClassifiedError{Class: ClassAuth, Err: err}
}

func NewConflictError(err error) *ClassifiedError {
	return &ClassifiedError{Class: ClassConflict, Err: err}
}

func NewMalformedError(err error) *ClassifiedError {
	return &ClassifiedError{Class: ClassMalformed, Err: err}
}

// ClassifyStatusCode maps an HTTP response status to an error class.
func ClassifyStatusCode(status int) ErrorClass {
	switch {
	case status == 401 || status == 403:
		return ClassAuth
	case status == 409 || status == 412:
		return ClassConflict
	case status == 429:
		return ClassTransient
	case status >= 500:
		return ClassTransient
	case status >= 400:
		return ClassMalformed
	default:
		return ClassTransient
	}
}

// Classify returns the error class for any error coming out of a provider
// call.  Unclassified failures (network errors, timeouts) are treated as
// transient so they get the retry budget.
func Classify(err error) ErrorClass {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Class
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	return ClassTransient
}

// IsRetryable reports whether the scheduler should reschedule the task.
func IsRetryable(err error) bool {
	return Classify(err) == ClassTransient
}
