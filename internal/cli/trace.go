package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/stagehand/internal/pipeline"
	"github.com/roach88/stagehand/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Journal    string
	Generation string // optional - defaults to the latest generation
	Path       string // optional - filter to steps of one path
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Generation store.GenerationRecord `json:"generation"`
	Steps      []pipeline.Step        `json:"steps"`
	Stats      TraceStats             `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Steps       int `json:"steps"`
	Copies      int `json:"copies"`
	Writes      int `json:"writes"`
	Stages      int `json:"stages"`
	Incremental int `json:"incremental"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the recorded steps of a build",
		Long: `Show the executor steps a build recorded into its journal.

Every step names the task, the file, the branch taken (copy, write or stage)
and where the result went. Steps replayed by --watch are marked incremental.

Examples:
  stagehand trace --journal ./build.db
  stagehand trace --journal ./build.db --generation 0192f0c4-...
  stagehand trace --journal ./build.db --path src/css/site.scss --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to the SQLite journal (required)")
	_ = cmd.MarkFlagRequired("journal")
	cmd.Flags().StringVar(&opts.Generation, "generation", "", "generation id (default: latest)")
	cmd.Flags().StringVar(&opts.Path, "path", "", "filter to steps of one source path")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd)

	// store.Open would create a missing journal.
	if _, err := os.Stat(opts.Journal); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeJournal, fmt.Sprintf("journal not found: %s", opts.Journal), err)
	}
	st, err := store.Open(opts.Journal)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeJournal, "failed to open journal", err)
	}
	defer st.Close()

	var gen store.GenerationRecord
	if opts.Generation != "" {
		gen, err = st.ReadGeneration(ctx, opts.Generation)
	} else {
		gen, err = st.LatestGeneration(ctx)
	}
	if errors.Is(err, store.ErrNotFound) {
		return formatter.Fail(ExitCommandError, ErrCodeJournal, "no matching generation in journal", err)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeJournal, "failed to read generation", err)
	}

	steps, err := st.ReadSteps(ctx, gen.ID)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeJournal, "failed to read steps", err)
	}
	result := buildTraceResult(gen, steps, opts.Path)

	return formatter.Render(result, func(w io.Writer) {
		outputTraceText(w, result, opts.Verbose)
	})
}

// buildTraceResult filters steps by path and computes stats.
func buildTraceResult(gen store.GenerationRecord, steps []pipeline.Step, path string) TraceResult {
	result := TraceResult{Generation: gen, Steps: []pipeline.Step{}}
	for _, s := range steps {
		if path != "" && s.Path != path {
			continue
		}
		result.Steps = append(result.Steps, s)

		switch s.Branch {
		case pipeline.BranchCopy:
			result.Stats.Copies++
		case pipeline.BranchWrite:
			result.Stats.Writes++
		case pipeline.BranchStage:
			result.Stats.Stages++
		}
		if s.Incremental {
			result.Stats.Incremental++
		}
	}
	result.Stats.Steps = len(result.Steps)
	return result
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	gen := result.Generation
	fmt.Fprintf(w, "Trace for Generation: %s\n", gen.ID)
	fmt.Fprintf(w, "Status: %s\n", gen.Status)
	if gen.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", gen.Error)
	}
	if verbose {
		fmt.Fprintf(w, "Output: %s\n", gen.OutDir)
		fmt.Fprintf(w, "Tasks: %d\n", gen.Tasks)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Steps ===")
	if len(result.Steps) == 0 {
		fmt.Fprintln(w, "  (no steps)")
	}
	for _, s := range result.Steps {
		marker := ""
		if s.Incremental {
			marker = " (incremental)"
		}
		fmt.Fprintf(w, "  [%d] task %d %-5s %s -> %s%s\n", s.Seq, s.Task, s.Branch, s.Path, s.Destination, marker)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Steps:       %d\n", result.Stats.Steps)
	fmt.Fprintf(w, "  Copies:      %d\n", result.Stats.Copies)
	fmt.Fprintf(w, "  Writes:      %d\n", result.Stats.Writes)
	fmt.Fprintf(w, "  Stages:      %d\n", result.Stats.Stages)
	fmt.Fprintf(w, "  Incremental: %d\n", result.Stats.Incremental)
}
