// Package apperror defines the failure taxonomy shared by every ledger
// operation. Domain packages declare their own sentinels on top of it so
// callers can match either the precise failure (errors.Is(err,
// quote.ErrExpired)) or its kind (errors.Is(err, apperror.ErrConflict)).
package apperror

import (
	"errors"
	"fmt"
)

// Kinds.
var (
	ErrValidation   = errors.New("validation error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Error is a classified failure. Field names the offending input for
// validation errors; State names the conflicting lifecycle state.
type Error struct {
	Kind    error
	Code    string
	Message string
	Field   string
	State   string
}

func (e *Error) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("%s (field=%s)", e.Message, e.Field)
	case e.State != "":
		return fmt.Sprintf("%s (state=%s)", e.Message, e.State)
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error { return e.Kind }

// Is matches another *Error with the same code, so copies produced by
// WithField/WithState still satisfy errors.Is against the package sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithField returns a copy annotated with the offending field.
func (e *Error) WithField(field string) *Error {
	cp := *e
	cp.Field = field
	return &cp
}

// WithState returns a copy annotated with the conflicting state.
func (e *Error) WithState(state string) *Error {
	cp := *e
	cp.State = state
	return &cp
}

func newError(kind error, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Validation(code, message string) *Error   { return newError(ErrValidation, code, message) }
func Unauthorized(code, message string) *Error { return newError(ErrUnauthorized, code, message) }
func NotFound(code, message string) *Error     { return newError(ErrNotFound, code, message) }
func Conflict(code, message string) *Error     { return newError(ErrConflict, code, message) }
func InvalidToken(code, message string) *Error { return newError(ErrInvalidToken, code, message) }

// KindOf reports which taxonomy kind err belongs to, or nil for
// infrastructure failures.
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrUnauthorized, ErrNotFound, ErrConflict, ErrInvalidToken} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// CodeOf returns the machine readable code of a classified error.
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
