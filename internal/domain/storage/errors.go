package storage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode standardizes storage failure semantics across backends.
type ErrorCode string

const (
	CodeNotFound        ErrorCode = "not_found"
	CodeAlreadyExists   ErrorCode = "already_exists"
	CodeInvalidArgument ErrorCode = "invalid_argument"
	CodeConflict        ErrorCode = "conflict"
	CodeTrialFinished   ErrorCode = "trial_finished"
	CodeCorruptData     ErrorCode = "corrupt_data"
	CodeTransient       ErrorCode = "transient"
	CodeInternal        ErrorCode = "internal"
)

// Error is the canonical storage error wrapper.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Code)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Code)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a storage error with explicit code + operation.
func NewError(code ErrorCode, op, message string, cause error) error {
	return &Error{
		Code:    code,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
		Cause:   cause,
	}
}

// Errorf is NewError with a formatted message and no cause.
func Errorf(code ErrorCode, op, format string, args ...any) error {
	return NewError(code, op, fmt.Sprintf(format, args...), nil)
}

// Wrap annotates an existing error with storage error semantics.
// An error that already carries a code keeps it.
func Wrap(code ErrorCode, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return NewError(code, op, err.Error(), err)
}

// IsCode checks whether err (or wrapped err) carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var se *Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == code
}

// CodeOf extracts the storage error code when available.
func CodeOf(err error) ErrorCode {
	var se *Error
	if !errors.As(err, &se) {
		return ""
	}
	return se.Code
}

// IsRetryable reports whether a caller may retry the failed call with backoff.
// Only transient store failures qualify.
func IsRetryable(err error) bool {
	return IsCode(err, CodeTransient)
}
