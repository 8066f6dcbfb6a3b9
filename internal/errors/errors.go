// Package errors provides centralized error definitions and error handling
// utilities for the probescope codebase. It defines domain-specific errors,
// semantic error types, error constructors with context wrapping, and error
// classification helpers.
//
// Domain-specific errors represent errors from specific subsystems:
//   - CaptureError: errors raised on the producer side while capturing values
//   - TransportError: errors from the cross-process delivery layer
//   - StoreError: errors from the consumer-side probe data store
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or configuration
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrStreamClosed) { ... }
//
//	var terr *errors.TransportError
//	if errors.As(err, &terr) { ... }
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for well-known failure conditions.
var (
	// ErrTargetNotFound indicates a capture target is not registered.
	ErrTargetNotFound = errors.New("capture target not found")

	// ErrStreamClosed indicates an operation on a transport whose stream
	// has already ended.
	ErrStreamClosed = errors.New("stream closed")

	// ErrSerialization indicates a value could not be converted to wire form.
	ErrSerialization = errors.New("value serialization failed")

	// ErrRegionNotFound indicates a shared-region handle could not be
	// resolved on the consumer side.
	ErrRegionNotFound = errors.New("shared region not found")

	// ErrProducerCrashed indicates the stream ended abnormally, without an
	// end-of-stream message.
	ErrProducerCrashed = errors.New("producer terminated without end-of-stream")
)

// CaptureError represents an error raised while capturing a value on the
// producer side.
type CaptureError struct {
	Msg    string
	Symbol string
	Err    error
}

func (e *CaptureError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("capture error for %q: %s: %v", e.Symbol, e.Msg, e.Err)
	}
	return fmt.Sprintf("capture error: %s: %v", e.Msg, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// NewCaptureError creates a CaptureError wrapping err.
func NewCaptureError(msg string, err error) *CaptureError {
	return &CaptureError{Msg: msg, Err: err}
}

// WithSymbol attaches the symbol being captured when the error occurred.
func (e *CaptureError) WithSymbol(symbol string) *CaptureError {
	e.Symbol = symbol
	return e
}

// TransportError represents an error from the cross-process delivery layer.
type TransportError struct {
	Msg      string
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("transport error (%s): %s: %v", e.Endpoint, e.Msg, e.Err)
	}
	return fmt.Sprintf("transport error: %s: %v", e.Msg, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError creates a TransportError wrapping err.
func NewTransportError(msg string, err error) *TransportError {
	return &TransportError{Msg: msg, Err: err}
}

// WithEndpoint attaches the transport endpoint to the error.
func (e *TransportError) WithEndpoint(endpoint string) *TransportError {
	e.Endpoint = endpoint
	return e
}

// StoreError represents an error from the consumer-side probe data store.
type StoreError struct {
	Msg string
	Seq uint64
	Err error
}

func (e *StoreError) Error() string {
	if e.Seq != 0 {
		return fmt.Sprintf("store error at seq %d: %s: %v", e.Seq, e.Msg, e.Err)
	}
	return fmt.Sprintf("store error: %s: %v", e.Msg, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError creates a StoreError wrapping err.
func NewStoreError(msg string, err error) *StoreError {
	return &StoreError{Msg: msg, Err: err}
}

// NotFoundError indicates a named resource does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NewNotFoundError creates a NotFoundError for the given resource and ID.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError indicates invalid input or configuration.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Msg: msg}
}

// IsRetryable reports whether the error is transient and the operation may
// succeed on retry. Transport errors are retryable unless the stream has
// ended; capture and store errors are not.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrStreamClosed) || errors.Is(err, ErrProducerCrashed) {
		return false
	}
	var terr *TransportError
	return errors.As(err, &terr)
}

// IsUserFacing reports whether the error is safe and useful to surface to the
// person running the session, as opposed to an internal defect.
func IsUserFacing(err error) bool {
	var verr *ValidationError
	var nerr *NotFoundError
	return errors.As(err, &verr) || errors.As(err, &nerr) ||
		errors.Is(err, ErrProducerCrashed)
}

// Re-exported stdlib helpers so callers need only one errors import.

// Is reports whether any error in err's chain matches sentinel.
func Is(err, sentinel error) bool { return errors.Is(err, sentinel) }

// As finds the first error in err's chain that matches out.
func As(err error, out any) bool { return errors.As(err, out) }

// New returns an error with the given text.
func New(text string) error { return errors.New(text) }
