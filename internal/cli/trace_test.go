package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stagehand/internal/pipeline"
	"github.com/roach88/stagehand/internal/store"
)

func TestTrace_AfterBuild(t *testing.T) {
	dir := t.TempDir()
	def := writeSite(t, dir)
	journal := filepath.Join(dir, "build.db")

	_, err := execute(t, context.Background(), "build", "--config", def, "--journal", journal)
	require.NoError(t, err)

	out, err := execute(t, context.Background(), "trace", "--journal", journal, "--format", "json")
	require.NoError(t, err)

	var result TraceResult
	decodeData(t, out, &result)
	assert.Equal(t, store.StatusSucceeded, result.Generation.Status)
	assert.Equal(t, 3, result.Generation.Tasks)
	// a.txt staged, combined written, logo and skip/x.txt copied.
	assert.Equal(t, TraceStats{Steps: 4, Copies: 2, Writes: 1, Stages: 1}, result.Stats)

	out, err = execute(t, context.Background(), "trace", "--journal", journal, "--path", "src/a.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "Trace for Generation: "+result.Generation.ID)
	assert.Contains(t, out, "stage src/a.txt -> src/combined.txt")
	assert.NotContains(t, out, "logo.svg")
}

func TestTrace_UnknownGeneration(t *testing.T) {
	dir := t.TempDir()
	def := writeSite(t, dir)
	journal := filepath.Join(dir, "build.db")
	_, err := execute(t, context.Background(), "build", "--config", def, "--journal", journal)
	require.NoError(t, err)

	_, err = execute(t, context.Background(), "trace", "--journal", journal, "--generation", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTrace_MissingJournal(t *testing.T) {
	out, err := execute(t, context.Background(), "trace", "--journal", filepath.Join(t.TempDir(), "none.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "journal not found")
}

func TestBuildTraceResult(t *testing.T) {
	steps := []pipeline.Step{
		{Seq: 1, Path: "a", Branch: pipeline.BranchStage},
		{Seq: 2, Path: "b", Branch: pipeline.BranchWrite},
		{Seq: 3, Path: "a", Branch: pipeline.BranchStage, Incremental: true},
	}

	all := buildTraceResult(store.GenerationRecord{ID: "g"}, steps, "")
	assert.Equal(t, TraceStats{Steps: 3, Writes: 1, Stages: 2, Incremental: 1}, all.Stats)

	onlyA := buildTraceResult(store.GenerationRecord{ID: "g"}, steps, "a")
	assert.Len(t, onlyA.Steps, 2)

	none := buildTraceResult(store.GenerationRecord{ID: "g"}, nil, "")
	assert.NotNil(t, none.Steps)
	assert.Zero(t, none.Stats.Steps)
}
