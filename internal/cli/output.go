package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for stagehand commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Build or validation failure
	ExitCommandError = 2 // Command error (bad flags, unreadable definition, missing journal, etc.)
)

// Error codes reported by commands that do not come from a definition file.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeBuildFailed = "E006" // Pipeline build failed
	ErrCodeJournal     = "E010" // Journal could not be opened or read
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int    // Exit code (ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// nil maps to ExitSuccess; errors that are not an ExitError map to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command result.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E005", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// JSON reports whether results are rendered as JSON.
func (f *OutputFormatter) JSON() bool {
	return f.Format == "json"
}

// Success outputs a successful result. In text mode data is printed with
// fmt.Println.
func (f *OutputFormatter) Success(data any) error {
	return f.Render(data, func(w io.Writer) {
		fmt.Fprintln(w, data)
	})
}

// Render outputs data in the JSON envelope, or calls text in text mode.
func (f *OutputFormatter) Render(data any, text func(w io.Writer)) error {
	if f.JSON() {
		encoder := json.NewEncoder(f.Writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{Status: "ok", Data: data})
	}
	text(f.Writer)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.JSON() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail outputs an error and returns the matching ExitError.
func (f *OutputFormatter) Fail(exitCode int, code, message string, err error) error {
	_ = f.Error(code, message, nil)
	return WrapExitError(exitCode, fmt.Sprintf("%s: %s", code, message), err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// In JSON mode it goes to ErrWriter so it cannot corrupt the result.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.errWriter(), format+"\n", args...)
}

func (f *OutputFormatter) errWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
