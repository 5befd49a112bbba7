// Package apierr defines the tagged error type shared by every layer of the
// provider. Errors carry a Kind; only the HTTP layer maps a Kind to a status.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error.
type Kind int

const (
	// Internal is any failure that is not classified otherwise.
	Internal Kind = iota
	// PathNotFound means no route matches the request path.
	PathNotFound
	// ElementNotFound means an OVN lookup missed.
	ElementNotFound
	// MethodNotAllowed means the route exists but not for this method.
	MethodNotAllowed
	// BadRequest means the request payload or one of its values is invalid.
	BadRequest
	// Unauthorized means the token is known but no longer active.
	Unauthorized
	// Forbidden means the token could not be validated.
	Forbidden
	// Conflict means the operation would break a cross-entity invariant.
	Conflict
	// Timeout means OVN or a backing HTTP call timed out.
	Timeout
	// BadGateway means OVN or a backing HTTP call failed.
	BadGateway
	// NotImplemented marks deliberately unsupported features.
	NotImplemented
)

var kindNames = map[Kind]string{
	Internal:         "InternalError",
	PathNotFound:     "PathNotFound",
	ElementNotFound:  "ElementNotFound",
	MethodNotAllowed: "MethodNotAllowed",
	BadRequest:       "BadRequest",
	Unauthorized:     "Unauthorized",
	Forbidden:        "Forbidden",
	Conflict:         "Conflict",
	Timeout:          "Timeout",
	BadGateway:       "BadGateway",
	NotImplemented:   "NotImplemented",
}

var kindStatus = map[Kind]int{
	Internal:         http.StatusInternalServerError,
	PathNotFound:     http.StatusNotFound,
	ElementNotFound:  http.StatusNotFound,
	MethodNotAllowed: http.StatusMethodNotAllowed,
	BadRequest:       http.StatusBadRequest,
	Unauthorized:     http.StatusUnauthorized,
	Forbidden:        http.StatusForbidden,
	Conflict:         http.StatusConflict,
	Timeout:          http.StatusGatewayTimeout,
	BadGateway:       http.StatusBadGateway,
	NotImplemented:   http.StatusNotImplemented,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// HTTPStatus returns the status code an error of this kind is served with.
func (k Kind) HTTPStatus() int {
	if code, ok := kindStatus[k]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// Error is a classified error with a human readable message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New returns an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind. The message defaults to the cause's text.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	msg := ""
	if format != "" {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func NotFound(format string, args ...interface{}) *Error {
	return New(ElementNotFound, format, args...)
}

func BadRequestf(format string, args ...interface{}) *Error {
	return New(BadRequest, format, args...)
}

func Conflictf(format string, args ...interface{}) *Error {
	return New(Conflict, format, args...)
}

func NotImplementedf(format string, args ...interface{}) *Error {
	return New(NotImplemented, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsNotFound reports whether err is an ElementNotFound error.
func IsNotFound(err error) bool {
	return Is(err, ElementNotFound)
}

// IsBadRequest reports whether err is a BadRequest error.
func IsBadRequest(err error) bool {
	return Is(err, BadRequest)
}

// IsConflict reports whether err is a Conflict error.
func IsConflict(err error) bool {
	return Is(err, Conflict)
}

// Message returns the message of the first *Error in err's chain, falling
// back to err.Error().
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return err.Error()
}
