package pipeline

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes pipeline errors.
type ErrorCode string

const (
	// ErrCodeInvalidPattern indicates a task source is not a valid glob.
	ErrCodeInvalidPattern ErrorCode = "INVALID_PATTERN"

	// ErrCodeUnknownStaged indicates a staged directive could not produce a
	// destination. Recovered locally: the file is treated as unstaged.
	ErrCodeUnknownStaged ErrorCode = "UNKNOWN_STAGED"

	// ErrCodeIO indicates a read, copy, or write failed.
	ErrCodeIO ErrorCode = "IO"

	// ErrCodeTransform indicates a transform callback returned an error.
	ErrCodeTransform ErrorCode = "TRANSFORM"

	// ErrCodeMissingWatch indicates a changed path has no watch record.
	ErrCodeMissingWatch ErrorCode = "MISSING_WATCH"

	// ErrCodeLineageCycle indicates entry or redirect links loop back.
	ErrCodeLineageCycle ErrorCode = "LINEAGE_CYCLE"

	// ErrCodeNoGeneration indicates an incremental operation ran before any build.
	ErrCodeNoGeneration ErrorCode = "NO_GENERATION"
)

// Error is a pipeline failure tied to a path and, when known, a task index.
type Error struct {
	Code    ErrorCode
	Message string
	Path    string
	Task    int // -1 when no task is involved
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Path != "" && e.Task >= 0 {
		msg = fmt.Sprintf("%s (path=%s, task=%d)", msg, e.Path, e.Task)
	} else if e.Path != "" {
		msg = fmt.Sprintf("%s (path=%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, task int, path, message string, err error) *Error {
	return &Error{Code: code, Message: message, Path: path, Task: task, Err: err}
}

// ErrorCodeOf returns the code of the first *Error in err's chain, or "".
func ErrorCodeOf(err error) ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// HasCode reports whether any *Error in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if pe, ok := err.(*Error); ok && pe.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsCycleError reports whether err is a lineage cycle error.
func IsCycleError(err error) bool {
	return HasCode(err, ErrCodeLineageCycle)
}

// IsMissingWatchError reports whether err is a missing watch record error.
func IsMissingWatchError(err error) bool {
	return HasCode(err, ErrCodeMissingWatch)
}

// IsNoGenerationError reports whether err was caused by replaying before a build.
func IsNoGenerationError(err error) bool {
	return HasCode(err, ErrCodeNoGeneration)
}
