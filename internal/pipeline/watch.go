package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/roach88/stagehand/internal/watch"
)

// EventSource delivers filesystem change events for watched directories.
// Implemented by *watch.Watcher.
type EventSource interface {
	AddRecursive(dir string) error
	WatchedPaths() []string
	Events() <-chan watch.Event
	Errors() <-chan error
}

// Watch keeps the current generation up to date until ctx is cancelled.
//
// Every directory holding a path of the build graph is watched, plus the base
// directory of every task pattern so newly created files are seen. Each event
// is handled on its own goroutine; a failing event is logged and does not end
// the session.
func (p *Pipeline) Watch(ctx context.Context, src EventSource) error {
	if p.Generation() == nil {
		return newError(ErrCodeNoGeneration, -1, "", "watch requires a completed build", nil)
	}

	for _, dir := range p.WatchDirs() {
		if err := src.AddRecursive(dir); err != nil {
			p.logger.Warn("cannot watch directory", "dir", dir, "error", err)
		}
	}
	p.logger.Info("watching file changes", "dirs", len(src.WatchedPaths()))

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-src.Events():
			if !ok {
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := p.HandleChange(ctx, ev); err != nil {
					p.logger.Error("rebuild failed", "path", ev.Path, "error", err)
				}
			}()
		case err, ok := <-src.Errors():
			if !ok {
				return nil
			}
			p.logger.Warn("watcher error", "error", err)
		}
	}
}

// HandleChange dispatches one filesystem event.
//
// Paths in the build graph are rebuilt. Files outside the graph that are not
// built and match some task are run through BuildFile. Removals and renames
// are ignored.
func (p *Pipeline) HandleChange(ctx context.Context, ev watch.Event) error {
	gen := p.Generation()
	if gen == nil {
		return newError(ErrCodeNoGeneration, -1, ev.Path, "no build has run", nil)
	}
	if !ev.Op.Has(watch.OpWrite) && !ev.Op.Has(watch.OpCreate) {
		p.logger.Debug("ignoring change", "path", ev.Path, "op", ev.Op.String())
		return nil
	}

	rel := relToRoot(p.root, ev.Path)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return nil
	}
	if gen.skipPrefix != "" && (rel == gen.skipPrefix || strings.HasPrefix(rel, gen.skipPrefix+"/")) {
		return nil
	}

	if _, ok := gen.Watch(rel); ok {
		return p.Rebuild(ctx, rel)
	}
	if gen.IsBuilt(rel) || !p.matchesTask(rel) {
		return nil
	}
	if info, err := os.Stat(p.srcPath(rel)); err != nil || info.IsDir() {
		return nil
	}
	return p.BuildFile(ctx, rel)
}

// WatchDirs returns the absolute directories Watch observes, sorted.
func (p *Pipeline) WatchDirs() []string {
	set := make(map[string]struct{})
	add := func(dir string) {
		abs := filepath.Join(p.root, filepath.FromSlash(dir))
		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			set[abs] = struct{}{}
		}
	}

	if gen := p.Generation(); gen != nil {
		for _, w := range gen.WatchedPaths() {
			add(filepath.Dir(filepath.FromSlash(w)))
		}
	}
	for _, t := range p.Tasks() {
		include, _ := splitPatterns(t.Sources)
		for _, pat := range include {
			base, _ := doublestar.SplitPattern(pat)
			add(base)
		}
	}

	dirs := make([]string, 0, len(set))
	for d := range set {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

func (p *Pipeline) matchesTask(rel string) bool {
	for _, t := range p.Tasks() {
		include, exclude := splitPatterns(t.Sources)
		if matchesAny(include, exclude, rel) {
			return true
		}
	}
	return false
}
