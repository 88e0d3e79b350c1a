package pipeline

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordingRecorder collects journal calls in memory.
type recordingRecorder struct {
	mu    sync.Mutex
	gens  []GenerationInfo
	steps []Step
	ended map[string]error
}

func newRecordingRecorder() *recordingRecorder {
	return &recordingRecorder{ended: make(map[string]error)}
}

func (r *recordingRecorder) BeginGeneration(_ context.Context, info GenerationInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gens = append(r.gens, info)
	return nil
}

func (r *recordingRecorder) RecordStep(_ context.Context, step Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
	return nil
}

func (r *recordingRecorder) EndGeneration(_ context.Context, id string, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended[id] = err
	return nil
}

func (r *recordingRecorder) incrementalSteps() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Step
	for _, s := range r.steps {
		if s.Incremental {
			out = append(out, s)
		}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline(t *testing.T, root string, opts ...func(*Options)) *Pipeline {
	t.Helper()
	o := Options{Root: root, Logger: discardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return New(o)
}

func upper(content []byte, _ *TaskContext) ([]byte, error) {
	return bytes.ToUpper(content), nil
}

func appendText(suffix string) Transform {
	return func(content []byte, _ *TaskContext) ([]byte, error) {
		return append(append([]byte(nil), content...), suffix...), nil
	}
}

func prependText(prefix string) Transform {
	return func(content []byte, _ *TaskContext) ([]byte, error) {
		return append([]byte(prefix), content...), nil
	}
}

// includeTransform replaces lines of the form "include:<name>" with the
// content of <name> next to the file, declaring each include as a dependency.
func includeTransform(markAsBuilt bool) Transform {
	return func(content []byte, ctx *TaskContext) ([]byte, error) {
		var out strings.Builder
		for _, line := range strings.SplitAfter(string(content), "\n") {
			name, ok := strings.CutPrefix(strings.TrimSpace(line), "include:")
			if !ok {
				out.WriteString(line)
				continue
			}
			dep := filepath.ToSlash(filepath.Join(ctx.Dir(), name))
			data, err := os.ReadFile(filepath.Join(ctx.Root(), filepath.FromSlash(dep)))
			if err != nil {
				return nil, err
			}
			var opts []DependencyOption
			if markAsBuilt {
				opts = append(opts, MarkAsBuilt())
			}
			if err := ctx.DeclareDependency([]string{dep}, opts...); err != nil {
				return nil, err
			}
			out.Write(data)
		}
		return []byte(out.String()), nil
	}
}

func readOut(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}
