package config

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stagehand/internal/pipeline"
	"github.com/roach88/stagehand/internal/serve"
	"github.com/roach88/stagehand/internal/testutil"
)

const siteYAML = `
root: site
out: dist
concurrency: 4
serve:
  port: 8080
tasks:
  - source: ["*.txt", "!skip.txt"]
    transform:
      - name: upper
      - name: append
        arg: "\n-- end --"
    staged:
      rename: combined.txt
  - source: combined.txt
    transform: [{name: replace, args: ["HI", "HELLO"]}]
`

const siteCUE = `
root: "site"
out:  "dist"
tasks: [{
	source: ["*.txt", "!skip.txt"]
	transform: [{name: "upper"}, {name: "append", arg: "\n-- end --"}]
	staged: rename: "combined.txt"
}, {
	source: "combined.txt"
	transform: [{name: "replace", args: ["HI", "HELLO"]}]
}]
`

func TestParse_YAML(t *testing.T) {
	cfg, err := Parse([]byte(siteYAML), "stagehand.yaml")
	require.NoError(t, err)

	assert.Equal(t, "site", cfg.Root)
	assert.Equal(t, "dist", cfg.Out)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, serve.DefaultHost, cfg.Serve.Host)
	assert.Equal(t, 8080, cfg.Serve.Port)

	require.Len(t, cfg.Tasks, 2)
	assert.Equal(t, Patterns{"*.txt", "!skip.txt"}, cfg.Tasks[0].Source)
	assert.Equal(t, Patterns{"combined.txt"}, cfg.Tasks[1].Source)
	assert.Equal(t, "\n-- end --", cfg.Tasks[0].Transform[1].Arg)
	require.NotNil(t, cfg.Tasks[0].Staged)
	assert.Equal(t, "combined.txt", cfg.Tasks[0].Staged.Rename)
	assert.Nil(t, cfg.Tasks[1].Staged)
}

func TestParse_CUEMatchesYAML(t *testing.T) {
	fromYAML, err := Parse([]byte(siteYAML), "stagehand.yaml")
	require.NoError(t, err)
	fromCUE, err := Parse([]byte(siteCUE), "stagehand.cue")
	require.NoError(t, err)

	assert.Equal(t, fromYAML.Tasks, fromCUE.Tasks)
	assert.Equal(t, fromYAML.Root, fromCUE.Root)
	assert.Equal(t, fromYAML.Out, fromCUE.Out)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("tasks:\n  - source: src/**/*\n"), "p.yml")
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.Root)
	assert.Equal(t, DefaultOut, cfg.Out)
	assert.Equal(t, 0, cfg.Concurrency)
	assert.Equal(t, serve.DefaultPort, cfg.Serve.Port)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
		code string
	}{
		{"unknown field", "p.yaml", "tasks:\n  - source: a\n    sources: b\n", ErrCodeParse},
		{"bad yaml", "p.yaml", "tasks: [", ErrCodeParse},
		{"no tasks", "p.yaml", "out: build\n", ErrCodeInvalid},
		{"missing source", "p.yaml", "tasks:\n  - transform: [{name: upper}]\n", ErrCodeInvalid},
		{"empty pattern", "p.yaml", "tasks:\n  - source: [\" \"]\n", ErrCodeInvalid},
		{"unknown transform", "p.yaml", "tasks:\n  - source: a\n    transform: [{name: minify}]\n", ErrCodeInvalid},
		{"missing argument", "p.yaml", "tasks:\n  - source: a\n    transform: [{name: append}]\n", ErrCodeInvalid},
		{"extra argument", "p.yaml", "tasks:\n  - source: a\n    transform: [{name: upper, arg: x}]\n", ErrCodeInvalid},
		{"half tls", "p.yaml", "serve: {tls: {cert: c.pem}}\ntasks:\n  - source: a\n", ErrCodeInvalid},
		{"bad port", "p.yaml", "serve: {port: 70000}\ntasks:\n  - source: a\n", ErrCodeInvalid},
		{"bad cue", "p.cue", "tasks: [{source: }]", ErrCodeParse},
		{"conflicting cue", "p.cue", "out: \"a\"\nout: \"b\"\ntasks: [{source: \"a\"}]", ErrCodeParse},
		{"incomplete cue", "p.cue", "out: string\ntasks: [{source: \"a\"}]", ErrCodeParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), tt.file)
			require.Error(t, err)

			var le *LoadError
			require.True(t, errors.As(err, &le), "expected LoadError, got %T", err)
			assert.Equal(t, tt.code, le.Code)
		})
	}
}

func TestParse_CUEErrorHasPosition(t *testing.T) {
	_, err := Parse([]byte("out: \"a\"\nout: \"b\"\ntasks: [{source: \"a\"}]"), "p.cue")
	require.Error(t, err)

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.True(t, le.Pos.IsValid())
	assert.Contains(t, le.Error(), "p.cue:")
}

func TestLoad_ResolvesRootAgainstFile(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "conf/stagehand.yaml", "root: ../site\ntasks:\n  - source: '*'\n")

	cfg, err := Load(filepath.Join(dir, "conf", "stagehand.yaml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "site"), cfg.Root)
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeNotFound, le.Code)
}

func TestApply_BuildsPipeline(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{
		"stagehand.yaml": siteYAML,
		"site/a.txt":     "hi",
		"site/skip.txt":  "skipped",
	})

	cfg, err := Load(filepath.Join(dir, "stagehand.yaml"))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	p := pipeline.New(cfg.Options(logger))
	require.NoError(t, cfg.Apply(p, logger))
	require.Len(t, p.Tasks(), 2)

	require.NoError(t, p.Build(context.Background(), cfg.Out))

	out := testutil.ReadTree(t, filepath.Join(dir, "site", "dist"))
	assert.Equal(t, map[string]string{"combined.txt": "HELLO\n-- end --"}, out)
}

func TestApply_InvalidStagedFallsBack(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{"a.txt": "a"})

	cfg, err := Parse([]byte("tasks:\n  - source: '*.txt'\n    transform: [{name: upper}]\n    staged: {keep: true, ext: .md}\n"), "p.yaml")
	require.NoError(t, err)
	cfg.Root = dir

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	p := pipeline.New(cfg.Options(logger))
	require.NoError(t, cfg.Apply(p, logger))

	assert.Nil(t, p.Tasks()[0].Staged)
	assert.Contains(t, logs.String(), "ignoring staged directive")
	assert.Contains(t, logs.String(), string(pipeline.ErrCodeUnknownStaged))

	require.NoError(t, p.Build(context.Background(), "out"))
	assert.Equal(t, map[string]string{"a.txt": "A"}, testutil.ReadTree(t, filepath.Join(dir, "out")))
}

func TestStagedConfig_Directive(t *testing.T) {
	tests := []struct {
		name   string
		staged StagedConfig
		src    string
		want   string
	}{
		{"keep", StagedConfig{Keep: true}, "src/a.scss", "keep"},
		{"rename", StagedConfig{Rename: "all.txt"}, "src/a.txt", "rename:all.txt"},
		{"ext", StagedConfig{Ext: ".css"}, "src/a.scss", "compute"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := tt.staged.directive()
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.String())
		})
	}

	_, err := (&StagedConfig{}).directive()
	assert.Error(t, err)
}
