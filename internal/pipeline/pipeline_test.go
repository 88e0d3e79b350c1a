package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stagehand/internal/testutil"
)

func TestTask_RegistrationOrder(t *testing.T) {
	p := newTestPipeline(t, t.TempDir())

	h0 := p.Task("src/*.scss")
	h1 := p.Task("src/*.css", "src/*.js")

	assert.Equal(t, 0, h0.Index())
	assert.Equal(t, 1, h1.Index())

	tasks := p.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, []string{"src/*.scss"}, tasks[0].Sources)
	assert.Equal(t, []string{"src/*.css", "src/*.js"}, tasks[1].Sources)
}

func TestTask_ChainingMutatesInPlace(t *testing.T) {
	p := newTestPipeline(t, t.TempDir())

	h := p.Task("src/*.scss").Transform(upper).Staged(RenameTo("src/out.css"))
	assert.Equal(t, 0, h.Index())

	task := p.Tasks()[0]
	assert.NotNil(t, task.Transform)
	require.NotNil(t, task.Staged)
	assert.Equal(t, "rename:src/out.css", task.Staged.String())
}

func TestTask_StagedNilMeansKeep(t *testing.T) {
	p := newTestPipeline(t, t.TempDir())
	p.Task("src/sw.js").Staged(nil)

	task := p.Tasks()[0]
	require.NotNil(t, task.Staged)
	assert.Equal(t, "keep", task.Staged.String())
}

func TestTask_PatternsNormalized(t *testing.T) {
	p := newTestPipeline(t, t.TempDir())
	p.Task("./src/**/*.txt", "!./src/skip/**")

	assert.Equal(t, []string{"src/**/*.txt", "!src/skip/**"}, p.Tasks()[0].Sources)
}

func TestTasks_ReturnsSnapshot(t *testing.T) {
	p := newTestPipeline(t, t.TempDir())
	p.Task("a.txt")

	tasks := p.Tasks()
	tasks[0].Sources[0] = "mutated"

	assert.Equal(t, "a.txt", p.Tasks()[0].Sources[0])
}

func TestNew_Defaults(t *testing.T) {
	p := New(Options{Root: t.TempDir()})

	assert.Equal(t, DefaultConcurrency, p.concurrency)
	assert.Equal(t, DefaultMaxChain, p.maxChain)
	assert.NotNil(t, p.logger)
	assert.IsType(t, UUIDv7Generator{}, p.ids)
	assert.Nil(t, p.Generation())
}

func TestNew_NegativeConcurrencyIsUnbounded(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{}
	for i := range 40 {
		files[fmt.Sprintf("f%02d.txt", i)] = "x"
	}
	testutil.WriteTree(t, root, files)

	p := newTestPipeline(t, root, func(o *Options) { o.Concurrency = -1 })
	assert.Equal(t, -1, p.concurrency)

	p.Task("*.txt").Transform(upper)
	require.NoError(t, p.Build(context.Background(), "build"))
	assert.Len(t, testutil.ReadTree(t, filepath.Join(root, "build")), 40)
}
