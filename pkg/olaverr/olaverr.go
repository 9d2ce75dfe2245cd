// Package olaverr implements the platform error taxonomy. Every boundary
// in this module — tool invocation, workflow execution, HTTP handling,
// streaming — converts errors to this vocabulary instead of matching on
// error strings or relying on a single generic error type.
package olaverr

import (
	"errors"
	"fmt"
)

// Kind is one of the documented error kinds. Kinds are the stable wire
// contract; messages are free to change.
type Kind string

const (
	Unauthorized           Kind = "Unauthorized"
	PermissionDenied       Kind = "PermissionDenied"
	BadArguments           Kind = "BadArguments"
	NotFound               Kind = "NotFound"
	Conflict               Kind = "Conflict"
	Transient              Kind = "Transient"
	Unreachable            Kind = "Unreachable"
	Timeout                Kind = "Timeout"
	IterationLimitExceeded Kind = "IterationLimitExceeded"
	UserRejected           Kind = "UserRejected"
	InternalError          Kind = "InternalError"
)

// Error is the concrete error type produced at every boundary.
type Error struct {
	Kind          Kind
	Message       string
	CorrelationID string
	Cause         error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error, preserving it as Cause.
// An error that is already an *Error is returned as is, keeping its own
// kind.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Kind: kind, Message: err.Error(), Cause: err}
}

// WithCorrelationID attaches a correlation id (call_id/thread_id/job_id)
// used when this error is logged or surfaced as InternalError.
func (e *Error) WithCorrelationID(id string) *Error {
	e.CorrelationID = id
	return e
}

// KindOf extracts the Kind of err, defaulting to InternalError for any
// error not produced through this package.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return InternalError
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
