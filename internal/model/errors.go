package model

import (
	"errors"
	"fmt"
)

// Code classifies every error the coordination engine reports back to a
// sender.
type Code string

const (
	CodeUnauthorized     Code = "unauthorized"
	CodeInvalidPayload   Code = "invalid_payload"
	CodeSessionEnded     Code = "session_ended"
	CodeGateResolved     Code = "gate_resolved"
	CodeOutOfOrder       Code = "out_of_order"
	CodeInvalidRole      Code = "invalid_role"
	CodeCapacityExceeded Code = "capacity_exceeded"
	CodeNotFound         Code = "not_found"
	CodeInternal         Code = "internal"
)

// Error is a coded engine error.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

// Is matches any *Error with the same code, so errors.Is(err, ErrNotFound)
// works regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrUnauthorized     = &Error{Code: CodeUnauthorized}
	ErrInvalidPayload   = &Error{Code: CodeInvalidPayload}
	ErrSessionEnded     = &Error{Code: CodeSessionEnded}
	ErrGateResolved     = &Error{Code: CodeGateResolved}
	ErrOutOfOrder       = &Error{Code: CodeOutOfOrder}
	ErrInvalidRole      = &Error{Code: CodeInvalidRole}
	ErrCapacityExceeded = &Error{Code: CodeCapacityExceeded}
	ErrNotFound         = &Error{Code: CodeNotFound}
)

// Errorf builds a coded error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the code from err. Validation errors map to
// CodeInvalidPayload; anything unrecognised is CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return CodeInvalidPayload
	}
	return CodeInternal
}
