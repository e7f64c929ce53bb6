// Package fault defines the error taxonomy shared by all frontdesk
// components. Every error that crosses a component boundary carries a Kind
// so the edge can map it to a stable HTTP status and the caller can branch
// without string matching.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error.
type Kind string

const (
	// Validation is malformed input at the edge.
	Validation Kind = "validation"
	// Auth is missing or invalid credentials.
	Auth Kind = "auth"
	// Quota is a tenant over budget or rate-limited.
	Quota Kind = "quota"
	// NotFound is a tenant-scoped lookup miss.
	NotFound Kind = "not_found"
	// Conflict means an invariant would be violated.
	Conflict Kind = "conflict"
	// Upstream is a carrier/AI/external dependency failure.
	Upstream Kind = "upstream"
	// Privacy means the sanitizer rejected a write.
	Privacy Kind = "privacy"
	// Internal is a should-not-happen state.
	Internal Kind = "internal"
)

// Error is a kinded error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a kinded error.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and message. Returns nil if err is nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err, or Internal if err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to its HTTP response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Validation:
		return http.StatusBadRequest
	case Auth:
		return http.StatusUnauthorized
	case Quota:
		return http.StatusPaymentRequired
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Upstream:
		return http.StatusBadGateway
	case Privacy:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
