package llm

import (
	"errors"
)

// Providers classify every failure so the retry loop knows whether another
// attempt can help. Rate limits, 5xx responses, and dropped connections are
// transient; bad credentials and malformed requests are fatal and surface
// to the worker immediately.

// TransientError marks a provider failure worth retrying.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

// Unwrap exposes the underlying provider error to errors.Is and errors.As.
func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError marks err as retryable.
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError marks a provider failure no retry can recover.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

// Unwrap exposes the underlying provider error to errors.Is and errors.As.
func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError marks err as non-retryable.
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient reports whether err is marked retryable anywhere in its chain.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal reports whether err is marked non-retryable anywhere in its chain.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
