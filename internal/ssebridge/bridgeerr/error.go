// Package bridgeerr defines the closed taxonomy of errors the SSE bridge
// raises, along with the lookup table that maps each kind to an HTTP status.
// The SSE event type(s) for each kind are mapped in package event
// (event.KindsForError).
package bridgeerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the recognized error categories. The set is closed: new
// failure modes get mapped onto one of these, they do not grow the enum
// casually.
type Kind string

const (
	StoreUnavailable        Kind = "store_unavailable"
	AuthenticationFailed    Kind = "authentication_failed"
	AuthorizationFailed     Kind = "authorization_failed"
	RateLimited             Kind = "rate_limited"
	UnknownTool             Kind = "unknown_tool"
	InvalidArguments        Kind = "invalid_arguments"
	ValidationError         Kind = "validation_error"
	ToolTimeout             Kind = "tool_timeout"
	ToolParse               Kind = "tool_parse"
	BrowserPoolExhausted    Kind = "browser_pool_exhausted"
	ConnectionBackpressure  Kind = "connection_backpressure"
	ResultSerialize         Kind = "result_serialize"
	Internal                Kind = "internal"
)

// Error is the concrete error type raised across the bridge. It carries a
// Kind so callers can map it to wire-level representations without string
// matching, and an optional Cause for wrapping.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func NewWithCause(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// FromError wraps an arbitrary error under the given kind, using its
// message as-is when no more specific message is available.
func FromError(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: err.Error(), Cause: err}
}

func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether err is a *Error of the given kind, unwrapping as
// necessary.
func Is(err error, kind Kind) bool {
	var be *Error
	if !errors.As(err, &be) {
		return false
	}
	return be.Kind == kind
}

// KindOf extracts the Kind of the first *Error in err's chain. It returns an
// empty Kind and false when err is nil or its chain holds no *Error.
func KindOf(err error) (Kind, bool) {
	var be *Error
	if !errors.As(err, &be) {
		return "", false
	}
	return be.Kind, true
}

// httpStatus maps each error kind to the HTTP status code used when the
// error surfaces at a REST boundary (as opposed to an SSE event).
var httpStatus = map[Kind]int{
	StoreUnavailable:       http.StatusServiceUnavailable,
	AuthenticationFailed:   http.StatusUnauthorized,
	AuthorizationFailed:    http.StatusForbidden,
	RateLimited:            http.StatusTooManyRequests,
	UnknownTool:            http.StatusBadRequest,
	InvalidArguments:       http.StatusBadRequest,
	ValidationError:        http.StatusBadRequest,
	ToolTimeout:            http.StatusGatewayTimeout,
	ToolParse:              http.StatusBadGateway,
	BrowserPoolExhausted:   http.StatusServiceUnavailable,
	ConnectionBackpressure: http.StatusServiceUnavailable,
	ResultSerialize:        http.StatusInternalServerError,
	Internal:               http.StatusInternalServerError,
}

// HTTPStatus returns the status code for kind, defaulting to 500 for any
// kind not present in the table (which should never happen for a closed
// enum, but a table lookup is safer than a panic).
func HTTPStatus(kind Kind) int {
	if status, ok := httpStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}
