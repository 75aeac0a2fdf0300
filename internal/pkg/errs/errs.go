// Package errs is the error taxonomy shared by services and handlers.
//
// Every failure surfaced by a service is an *Error whose Kind is one of the
// sentinel kinds below, so callers can branch with errors.Is on either the
// specific error (service.ErrRoomFull) or its kind (errs.ErrConflict).
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrExpired            = errors.New("expired")
	ErrCodeSpaceExhausted = errors.New("code space exhausted")
	ErrUpstream           = errors.New("upstream failure")
)

type Error struct {
	Kind    error
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// New declares a reusable error of the given kind.
func New(kind error, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Validation builds a one-off validation error.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Code: "validation_error", Message: fmt.Sprintf(format, args...)}
}

// Upstream wraps a persistence or transport failure.
func Upstream(message string, err error) *Error {
	return &Error{Kind: ErrUpstream, Code: "upstream_failure", Message: message, Err: err}
}

// KindOf returns the kind sentinel of err, or nil for errors outside the taxonomy.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}

// CodeOf returns the machine readable code of err.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return "internal_error"
}

// MessageOf returns the user facing message. Upstream causes are not exposed.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	case ErrForbidden:
		return http.StatusForbidden
	case ErrConflict:
		return http.StatusConflict
	case ErrExpired:
		return http.StatusGone
	case ErrUpstream:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
