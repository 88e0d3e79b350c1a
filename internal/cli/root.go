package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/stagehand/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // pipeline definition file
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the stagehand CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "stagehand",
		Short: "stagehand - file pipeline builder",
		Long: `Build a static output tree from a source tree by running an ordered
list of glob-matched tasks. Tasks transform file contents and may stage their
result under a new path for later tasks to pick up.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", config.DefaultFile, "pipeline definition file (.yaml or .cue)")

	// Add subcommands
	cmd.AddCommand(NewBuildCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// setupLogging installs the process logger. Logs always go to w, never to
// the result stream.
func setupLogging(opts *RootOptions, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// signalContext derives a context cancelled on SIGINT/SIGTERM.
// The command's context is used if set (for testing).
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// loadDefinition loads the definition file and reports failures through f.
// A missing file is a command error; an invalid one is a validation failure.
func loadDefinition(f *OutputFormatter, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}

	var le *config.LoadError
	if !errors.As(err, &le) {
		return nil, f.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), err)
	}
	exit := ExitFailure
	if le.Code == config.ErrCodeNotFound {
		exit = ExitCommandError
	}
	return nil, f.Fail(exit, le.Code, le.Message, err)
}
