package pipeline

import (
	"slices"
	"sort"
	"sync"
)

// ContentRecord is the build status of one path within a generation.
type ContentRecord struct {
	// Content overrides the file's bytes on disk when HasContent is true.
	Content    []byte
	HasContent bool

	// Built is set once the path's final content has been produced.
	// Only staging new content into the path clears it.
	Built bool
}

// WatchRecord links a path into the dependency/redirect graph.
type WatchRecord struct {
	// Entry is the file whose transform declared this path as a dependency.
	// Empty for primary source and staged files.
	Entry string

	// Passes lists the task indexes that consumed this path, in order.
	Passes []int

	// Redirect is the staged path this file's output was renamed into.
	Redirect string
}

// Generation owns the content store and watch graph of one full build.
//
// A new Generation is created for every Build; Rebuild and BuildFile mutate
// the current one in place.
//
// Thread-safety: all methods are safe for concurrent use.
type Generation struct {
	// ID identifies the generation in logs and the build journal.
	ID string

	// Seq is the generation's position among builds of one Pipeline.
	Seq int64

	// OutDir is the output root the generation writes to.
	OutDir string

	// skipPrefix is the output root relative to the source root, if inside it.
	skipPrefix string
	clock      *Clock

	mu      sync.RWMutex
	content map[string]*ContentRecord
	watches map[string]*WatchRecord
}

func newGeneration(id string, seq int64, outDir string) *Generation {
	return &Generation{
		ID:      id,
		Seq:     seq,
		OutDir:  outDir,
		clock:   NewClock(),
		content: make(map[string]*ContentRecord),
		watches: make(map[string]*WatchRecord),
	}
}

// Content returns a copy of the content record for p.
func (g *Generation) Content(p string) (ContentRecord, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, ok := g.content[p]
	if !ok {
		return ContentRecord{}, false
	}
	return *rec, true
}

// Watch returns a copy of the watch record for p.
func (g *Generation) Watch(p string) (WatchRecord, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, ok := g.watches[p]
	if !ok {
		return WatchRecord{}, false
	}
	cp := *rec
	cp.Passes = append([]int(nil), rec.Passes...)
	return cp, true
}

// IsBuilt reports whether p has been built in this generation.
func (g *Generation) IsBuilt(p string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, ok := g.content[p]
	return ok && rec.Built
}

// WatchedPaths returns every path with a watch record, sorted.
func (g *Generation) WatchedPaths() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	paths := make([]string, 0, len(g.watches))
	for p := range g.watches {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// contentPaths returns every path with a content record, sorted.
func (g *Generation) contentPaths() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	paths := make([]string, 0, len(g.content))
	for p := range g.content {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// override returns the in-memory content for p, if any.
func (g *Generation) override(p string) ([]byte, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, ok := g.content[p]
	if !ok || !rec.HasContent {
		return nil, false
	}
	return rec.Content, true
}

func (g *Generation) contentLocked(p string) *ContentRecord {
	rec, ok := g.content[p]
	if !ok {
		rec = &ContentRecord{}
		g.content[p] = rec
	}
	return rec
}

func (g *Generation) watchLocked(p string) *WatchRecord {
	rec, ok := g.watches[p]
	if !ok {
		rec = &WatchRecord{}
		g.watches[p] = rec
	}
	return rec
}

func (g *Generation) markBuilt(p string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.contentLocked(p).Built = true
}

// stage stores content under dest and marks it unbuilt so later tasks match
// it, even if an earlier task already built dest from disk. It reports
// whether dest had been built.
func (g *Generation) stage(dest string, content []byte) (wasBuilt bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.contentLocked(dest)
	wasBuilt = rec.Built
	rec.Content = content
	rec.HasContent = true
	rec.Built = false
	return wasBuilt
}

// appendPass records that task consumed p. A task is recorded once per path.
func (g *Generation) appendPass(p string, task int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.watchLocked(p)
	if !slices.Contains(rec.Passes, task) {
		rec.Passes = append(rec.Passes, task)
	}
}

// setRedirect links src to dest unless following dest's redirects would lead
// back to src.
func (g *Generation) setRedirect(src, dest string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	seen := map[string]bool{src: true}
	for cur := dest; cur != ""; {
		if seen[cur] {
			return newError(ErrCodeLineageCycle, -1, src, "redirect to "+dest+" loops back", nil)
		}
		seen[cur] = true
		next, ok := g.watches[cur]
		if !ok {
			break
		}
		cur = next.Redirect
	}

	g.watchLocked(src).Redirect = dest
	return nil
}

// setEntry makes owner the entry of dep and records the declaring task pass
// once.
// Declarations that would make the entry chain loop are rejected.
func (g *Generation) setEntry(dep, owner string, task int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	seen := map[string]bool{dep: true}
	for cur := owner; cur != ""; {
		if seen[cur] {
			return newError(ErrCodeLineageCycle, task, dep, "dependency of "+owner+" loops back", nil)
		}
		seen[cur] = true
		next, ok := g.watches[cur]
		if !ok {
			break
		}
		cur = next.Entry
	}

	rec := g.watchLocked(dep)
	rec.Entry = owner
	if !slices.Contains(rec.Passes, task) {
		rec.Passes = append(rec.Passes, task)
	}
	return nil
}

// clearOverride drops the in-memory content of p, keeping its built flag.
func (g *Generation) clearOverride(p string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if rec, ok := g.content[p]; ok {
		rec.Content = nil
		rec.HasContent = false
	}
}

// isRedirectTarget reports whether some path's output was renamed into p.
func (g *Generation) isRedirectTarget(p string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, w := range g.watches {
		if w.Redirect == p {
			return true
		}
	}
	return false
}
