// Package fault defines the engine's error kinds. Kinds surface in
// NODE_FAILED payloads and map to HTTP statuses at the control-plane
// boundary.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures.
type Kind string

const (
	GraphInvalid         Kind = "GraphInvalid"
	CallDepthExceeded    Kind = "CallDepthExceeded"
	InvokeTargetMissing  Kind = "InvokeTargetMissing"
	InvokeChildFailed    Kind = "InvokeChildFailed"
	ExpressionTooComplex Kind = "ExpressionTooComplex"
	ExpressionError      Kind = "ExpressionError"
	UpstreamFailure      Kind = "UpstreamFailure"
	CircuitOpen          Kind = "CircuitOpen"
	NodeRaised           Kind = "NodeRaised"
	NoResumeCursor       Kind = "NoResumeCursor"
	ValidationError      Kind = "ValidationError"
)

// Error is an engine failure with a stable kind.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Errorf builds an engine error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: err.Error(), cause: err}
}

// KindOf extracts the engine error kind, or "" for foreign errors.
func KindOf(err error) Kind {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Kind
	}
	return ""
}
