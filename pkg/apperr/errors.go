// Package apperr defines the error taxonomy shared by every service.
// Each error carries a Kind (mapped to an HTTP status), a short machine
// checkable reason and a message that is safe to show to clients.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindConflict     Kind = "conflict"
	KindRateLimited  Kind = "rate_limited"
	KindUpstream     Kind = "upstream"
	KindInternal     Kind = "internal"
)

// Error is the application error type.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same kind and reason, so
// package level sentinels match errors carrying a per-call message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Reason == e.Reason
}

// WithMessage returns a copy of e carrying msg.
func (e *Error) WithMessage(msg string) *Error {
	cp := *e
	cp.Message = msg
	return &cp
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// Constructors
func New(kind Kind, reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

func Validation(reason, message string) *Error {
	return New(KindValidation, reason, message)
}

func NotFound(reason, message string) *Error {
	return New(KindNotFound, reason, message)
}

func Unauthorized(reason, message string) *Error {
	return New(KindUnauthorized, reason, message)
}

func Forbidden(reason, message string) *Error {
	return New(KindForbidden, reason, message)
}

func Conflict(reason, message string) *Error {
	return New(KindConflict, reason, message)
}

func RateLimited(reason, message string) *Error {
	return New(KindRateLimited, reason, message)
}

func Upstream(reason, message string, cause error) *Error {
	return &Error{Kind: KindUpstream, Reason: reason, Message: message, Err: cause}
}

func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Reason: "internal", Message: message, Err: cause}
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

// Status maps err to an HTTP status code.
func Status(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Public returns the reason and message that may be shown to a client.
// Internal errors collapse to a generic message.
func Public(err error) (reason, message string) {
	appErr, ok := As(err)
	if !ok || appErr.Kind == KindInternal {
		return "internal", "internal error"
	}
	return appErr.Reason, appErr.Message
}
