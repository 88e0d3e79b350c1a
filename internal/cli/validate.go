package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/stagehand/internal/config"
	"github.com/roach88/stagehand/internal/pipeline"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	File   string            `json:"file"`
	Tasks  int               `json:"tasks,omitempty"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError is one problem found in a definition.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a pipeline definition without building",
		Long: `Decode a pipeline definition and check its tasks: source patterns,
transform names and arguments, and serve settings. Nothing is read from or
written to the source tree.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	logger := setupLogging(opts, cmd.ErrOrStderr())

	cfg, err := config.Load(path)
	if err != nil {
		var le *config.LoadError
		if !errors.As(err, &le) {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), err)
		}
		if le.Code == config.ErrCodeNotFound {
			return formatter.Fail(ExitCommandError, le.Code, le.Message, err)
		}
		line := 0
		if le.Pos.IsValid() {
			line = le.Pos.Line()
		}
		return outputValidationErrors(formatter, path, []ValidationError{{Code: le.Code, Message: le.Message, Line: line}})
	}
	formatter.VerboseLog("Decoded %d task(s) from %s", len(cfg.Tasks), path)

	// Registering the tasks checks their patterns the way a build would.
	p := pipeline.New(cfg.Options(logger))
	if err := cfg.Apply(p, logger); err != nil {
		return outputValidationErrors(formatter, path, []ValidationError{{Code: config.ErrCodeInvalid, Message: err.Error()}})
	}
	if err := p.Validate(); err != nil {
		return outputValidationErrors(formatter, path, []ValidationError{{Code: string(pipeline.ErrorCodeOf(err)), Message: err.Error()}})
	}

	result := ValidationResult{Valid: true, File: path, Tasks: len(cfg.Tasks)}
	return formatter.Render(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %s is valid (%d task(s))\n", path, result.Tasks)
	})
}

// outputValidationErrors reports errs and returns a validation failure.
func outputValidationErrors(formatter *OutputFormatter, path string, errs []ValidationError) error {
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.JSON() {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, File: path, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
	}
	return exitErr
}
