package errs

import (
	"context"
	"errors"
)

// Code is a run error code.
type Code string

const (
	InvalidArgument     Code = "invalid_argument"
	AssertionFailure    Code = "assertion_failure"
	ShapeMismatch       Code = "shape_mismatch"
	WindowCountMismatch Code = "window_count_mismatch"
	SessionSetup        Code = "session_setup"
	Timeout             Code = "timeout"
	Internal            Code = "internal"
)

// Error is a coded run error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a coded error with message.
func New(code Code, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a coded error with message and cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// CodeOf returns the error code, defaulting to internal.
// Context deadline errors without a typed wrapper report as timeout.
func CodeOf(err error) Code {
	if err == nil {
		return Internal
	}
	var coded *Error
	if errors.As(err, &coded) {
		if coded.Code == "" {
			return Internal
		}
		return coded.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Internal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// MessageOf returns the outermost coded message, or the raw error text.
func MessageOf(err error) string {
	if err == nil {
		return string(Internal)
	}
	var coded *Error
	if errors.As(err, &coded) && coded.Message != "" {
		return coded.Message
	}
	return err.Error()
}

// Fatal reports whether a code aborts the whole scenario group rather than
// a single step.
func Fatal(code Code) bool {
	return code == SessionSetup
}

// ExitCode maps an error code to a process exit status for the CLI.
func ExitCode(code Code) int {
	switch code {
	case InvalidArgument:
		return 2
	case AssertionFailure, WindowCountMismatch, Timeout:
		return 3
	case SessionSetup:
		return 4
	default:
		return 1
	}
}
