// Package apperr defines the closed error taxonomy shared by every component
// of the Kohaku backend. Each kind carries a fixed HTTP status and a
// visibility flag; internal kinds are logged with full detail server-side and
// reduced to a generic message before reaching a client.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one member of the closed error taxonomy.
type Kind string

// Client-safe kinds (4xx). Their message is returned verbatim to callers.
const (
	BadRequest      Kind = "BadRequest"
	ValidationError Kind = "ValidationError"
	Unauthorized    Kind = "Unauthorized"
	Forbidden       Kind = "Forbidden"
	NotFound        Kind = "NotFound"
	RequestTimeout  Kind = "RequestTimeout"
	Conflict        Kind = "Conflict"
	TooManyRequests Kind = "TooManyRequests"
)

// Internal kinds (5xx). Their cause never reaches a client.
const (
	AuthenticationError     Kind = "AuthenticationError"
	DatabaseConnectionError Kind = "DatabaseConnectionError"
	DatabaseQueryError      Kind = "DatabaseQueryError"
	SchedulerError          Kind = "SchedulerError"
	TaskNotFound            Kind = "TaskNotFound"
	TaskExecutionError      Kind = "TaskExecutionError"
	TaskTimeout             Kind = "TaskTimeout"
	WebsocketError          Kind = "WebsocketError"
	ExternalServiceError    Kind = "ExternalServiceError"
)

var statusByKind = map[Kind]int{
	BadRequest:      http.StatusBadRequest,
	ValidationError: http.StatusBadRequest,
	Unauthorized:    http.StatusUnauthorized,
	Forbidden:       http.StatusForbidden,
	NotFound:        http.StatusNotFound,
	RequestTimeout:  http.StatusRequestTimeout,
	Conflict:        http.StatusConflict,
	TooManyRequests: http.StatusTooManyRequests,

	AuthenticationError:     http.StatusInternalServerError,
	DatabaseConnectionError: http.StatusInternalServerError,
	DatabaseQueryError:      http.StatusInternalServerError,
	SchedulerError:          http.StatusInternalServerError,
	TaskNotFound:            http.StatusInternalServerError,
	TaskExecutionError:      http.StatusInternalServerError,
	TaskTimeout:             http.StatusInternalServerError,
	WebsocketError:          http.StatusInternalServerError,
	ExternalServiceError:    http.StatusInternalServerError,
}

// Status returns the fixed HTTP status for the kind. Unknown kinds map to 500.
func (k Kind) Status() int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// ClientSafe reports whether the kind's message may be rendered to a client.
func (k Kind) ClientSafe() bool {
	return k.Status() < http.StatusInternalServerError
}

// Error is the only error type that crosses component boundaries. Err holds
// the wrapped lower-level cause, if any; it is for server-side logs only.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a taxonomy error without an underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a taxonomy error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a taxonomy error around a lower-level cause. This is the single
// point where collaborator failures enter the taxonomy; callers must not let
// the native error travel further up.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the taxonomy kind from err. Errors produced outside the
// taxonomy report ExternalServiceError so nothing untyped leaks outward.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ExternalServiceError
}

// Is lets errors.Is match by kind: errors.Is(err, apperr.New(kind, "")) holds
// for any taxonomy error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// Body is the JSON error envelope returned on every error response.
type Body struct {
	Status  int    `json:"status"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Generic messages used when an internal kind is rendered to a client.
var genericMessage = map[Kind]string{
	DatabaseConnectionError: "Service temporarily unavailable",
	ExternalServiceError:    "External service error",
}

// Response reduces err to its HTTP status and client-visible body. Internal
// kinds render a generic message; client-safe kinds render their own.
func Response(err error) (int, Body) {
	var e *Error
	if !errors.As(err, &e) {
		e = Wrap(ExternalServiceError, "unexpected error", err)
	}

	msg := e.Message
	if !e.Kind.ClientSafe() {
		msg = genericMessage[e.Kind]
		if msg == "" {
			msg = "Internal server error"
		}
	}
	return e.Kind.Status(), Body{
		Status:  e.Kind.Status(),
		Kind:    string(e.Kind),
		Message: msg,
	}
}
