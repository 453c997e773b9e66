package protocol

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a protocol failure.
type Kind string

const (
	// KindProtocol marks a malformed or mismatched-arity request.
	KindProtocol Kind = "ProtocolError"
	// KindNotFound marks a stale cell, file or session identifier.
	KindNotFound Kind = "NotFoundError"
	// KindSessionMismatch marks a request against a session the caller no longer owns.
	KindSessionMismatch Kind = "SessionMismatchError"
	// KindInvalidPath marks a path that escapes the root or has no parent.
	KindInvalidPath Kind = "InvalidPathError"
	// KindConflict marks a concurrent mutation of the same file path.
	KindConflict Kind = "ConflictError"
	// KindBackendExecution marks an operation that ran but failed for domain reasons.
	KindBackendExecution Kind = "BackendExecutionError"
)

// Sentinels for errors.Is checks against a kind.
var (
	ErrProtocol         = &Error{Kind: KindProtocol}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrSessionMismatch  = &Error{Kind: KindSessionMismatch}
	ErrInvalidPath      = &Error{Kind: KindInvalidPath}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrBackendExecution = &Error{Kind: KindBackendExecution}
)

// Error is a typed protocol failure.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error is an implementation of the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a protocol error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Status returns the HTTP status code for the error kind.
func (e *Error) Status() int {
	return StatusFor(e.Kind)
}

// StatusFor maps a kind to its HTTP status code.
func StatusFor(kind Kind) int {
	switch kind {
	case KindProtocol, KindInvalidPath:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindSessionMismatch:
		return http.StatusGone
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// KindOf returns the kind of the first protocol error in err's chain.
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if !errors.As(err, &pe) {
		return "", false
	}
	return pe.Kind, true
}

// AsError converts any error into a protocol error, treating unknown
// failures as backend execution errors.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: KindBackendExecution, Message: "backend execution failed", Cause: err}
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Protocolf returns a ProtocolError.
func Protocolf(format string, args ...any) *Error {
	return newf(KindProtocol, format, args...)
}

// NotFoundf returns a NotFoundError.
func NotFoundf(format string, args ...any) *Error {
	return newf(KindNotFound, format, args...)
}

// SessionMismatchf returns a SessionMismatchError.
func SessionMismatchf(format string, args ...any) *Error {
	return newf(KindSessionMismatch, format, args...)
}

// InvalidPathf returns an InvalidPathError.
func InvalidPathf(format string, args ...any) *Error {
	return newf(KindInvalidPath, format, args...)
}

// Conflictf returns a ConflictError.
func Conflictf(format string, args ...any) *Error {
	return newf(KindConflict, format, args...)
}

// BackendExecution wraps cause as a BackendExecutionError.
func BackendExecution(cause error, format string, args ...any) *Error {
	e := newf(KindBackendExecution, format, args...)
	e.Cause = cause
	return e
}

// ErrorBody is the wire shape of a failed call.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail names the failure kind and carries a human-readable message.
type ErrorDetail struct {
	Type    Kind   `json:"type"`
	Message string `json:"message"`
}

// Body renders the error for the wire.
func (e *Error) Body() ErrorBody {
	return ErrorBody{Error: ErrorDetail{Type: e.Kind, Message: e.Error()}}
}
