package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stagehand/internal/testutil"
	"github.com/roach88/stagehand/internal/watch"
)

// fakeSource is an EventSource driven by the test.
type fakeSource struct {
	mu     sync.Mutex
	added  []string
	events chan watch.Event
	errs   chan error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events: make(chan watch.Event, 8),
		errs:   make(chan error, 8),
	}
}

func (f *fakeSource) AddRecursive(dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, dir)
	return nil
}

func (f *fakeSource) Events() <-chan watch.Event { return f.events }
func (f *fakeSource) Errors() <-chan error       { return f.errs }

func (f *fakeSource) WatchedPaths() []string { return f.dirs() }

func (f *fakeSource) dirs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.added...)
}

func TestHandleChange(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{"src/a.txt": "a"})

	p := newTestPipeline(t, root)
	p.Task("src/*.txt").Transform(upper)
	require.NoError(t, p.Build(context.Background(), "build"))
	ctx := context.Background()

	t.Run("write to watched file rebuilds", func(t *testing.T) {
		testutil.WriteFile(t, root, "src/a.txt", "edited")
		require.NoError(t, p.HandleChange(ctx, watch.Event{Path: filepath.Join(root, "src", "a.txt"), Op: watch.OpWrite}))
		assert.Equal(t, "EDITED", readOut(t, root, "build/a.txt"))
	})

	t.Run("created file is built", func(t *testing.T) {
		testutil.WriteFile(t, root, "src/new.txt", "new")
		require.NoError(t, p.HandleChange(ctx, watch.Event{Path: filepath.Join(root, "src", "new.txt"), Op: watch.OpCreate}))
		assert.Equal(t, "NEW", readOut(t, root, "build/new.txt"))
		assert.True(t, p.Generation().IsBuilt("src/new.txt"))
	})

	t.Run("unmatched file is ignored", func(t *testing.T) {
		testutil.WriteFile(t, root, "src/x.md", "x")
		require.NoError(t, p.HandleChange(ctx, watch.Event{Path: filepath.Join(root, "src", "x.md"), Op: watch.OpCreate}))
		assert.NotContains(t, testutil.ReadTree(t, filepath.Join(root, "build")), "x.md")
	})

	t.Run("removal is ignored", func(t *testing.T) {
		require.NoError(t, p.HandleChange(ctx, watch.Event{Path: filepath.Join(root, "src", "a.txt"), Op: watch.OpRemove}))
		assert.Equal(t, "EDITED", readOut(t, root, "build/a.txt"))
	})

	t.Run("output and outside paths are ignored", func(t *testing.T) {
		require.NoError(t, p.HandleChange(ctx, watch.Event{Path: filepath.Join(root, "build", "a.txt"), Op: watch.OpWrite}))
		require.NoError(t, p.HandleChange(ctx, watch.Event{Path: filepath.Join(t.TempDir(), "a.txt"), Op: watch.OpWrite}))
	})
}

func TestHandleChange_BeforeBuild(t *testing.T) {
	p := newTestPipeline(t, t.TempDir())
	err := p.HandleChange(context.Background(), watch.Event{Path: "a.txt", Op: watch.OpWrite})
	assert.True(t, IsNoGenerationError(err))
}

func TestWatch_RequiresBuild(t *testing.T) {
	p := newTestPipeline(t, t.TempDir())
	err := p.Watch(context.Background(), newFakeSource())
	assert.True(t, IsNoGenerationError(err))
}

func TestWatchDirs(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"src/css/site.scss":  "include:_vars.scss\n",
		"src/css/_vars.scss": "$c: red;\n",
		"src/js/app.js":      "app",
	})
	p := sitePipeline(t, root)
	p.Task("missing/**/*")
	require.NoError(t, p.Build(context.Background(), "build"))

	assert.Equal(t, []string{
		filepath.Join(root, "src"),
		filepath.Join(root, "src", "css"),
		filepath.Join(root, "src", "js"),
	}, p.WatchDirs())
}

func TestWatch_DispatchesEvents(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{"src/a.txt": "a"})

	p := newTestPipeline(t, root)
	p.Task("src/*.txt").Transform(upper)
	require.NoError(t, p.Build(context.Background(), "build"))

	src := newFakeSource()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Watch(ctx, src) }()

	testutil.WriteFile(t, root, "src/a.txt", "changed")
	src.events <- watch.Event{Path: filepath.Join(root, "src", "a.txt"), Op: watch.OpWrite}
	src.errs <- errors.New("transient")

	assert.Eventually(t, func() bool {
		tree := testutil.ReadTree(t, filepath.Join(root, "build"))
		return tree["a.txt"] == "CHANGED"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
	assert.Equal(t, []string{filepath.Join(root, "src")}, src.dirs())
}

func TestWatch_StopsWhenSourceCloses(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{"a.txt": "a"})
	p := newTestPipeline(t, root)
	p.Task("*.txt")
	require.NoError(t, p.Build(context.Background(), "build"))

	src := newFakeSource()
	close(src.events)
	require.NoError(t, p.Watch(context.Background(), src))
}

func TestWatch_LogsWatchedDirectoryCount(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{"src/a.txt": "a", "docs/b.md": "b"})

	var logs bytes.Buffer
	p := newTestPipeline(t, root, func(o *Options) {
		o.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	})
	p.Task("src/*.txt")
	p.Task("docs/*.md")
	require.NoError(t, p.Build(context.Background(), "build"))

	src := newFakeSource()
	close(src.events)
	require.NoError(t, p.Watch(context.Background(), src))

	assert.Len(t, src.WatchedPaths(), 2)
	assert.Contains(t, logs.String(), "watching file changes")
	assert.Contains(t, logs.String(), "dirs=2")
}
