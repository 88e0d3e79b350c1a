package pipeline

import (
	"context"
	"strings"
	"sync"
)

// Rebuild replays the chain of tasks affected by a change to changed.
//
// The walk starts at changed and follows the watch graph of the current
// generation:
//  1. an entry link moves to the file that declared the path as a dependency
//  2. otherwise every recorded pass of the path is replayed in order
//  3. a redirect link moves to the staged path the output was renamed into
//
// Replays never add passes or redirects. The walk stops at a path without a
// redirect, or at a staged path no later task consumed.
//
// Errors:
//   - NO_GENERATION if no build has run
//   - MISSING_WATCH if changed is not part of the graph
//   - LINEAGE_CYCLE if the walk revisits a path or exceeds the chain limit
func (p *Pipeline) Rebuild(ctx context.Context, changed string) error {
	p.runMu.RLock()
	defer p.runMu.RUnlock()

	gen := p.Generation()
	if gen == nil {
		return newError(ErrCodeNoGeneration, -1, changed, "no build has run", nil)
	}

	start := relToRoot(p.root, changed)
	if _, ok := gen.Watch(start); !ok {
		return newError(ErrCodeMissingWatch, -1, start, "path is not part of the build graph", nil)
	}

	head, err := p.resolveEntry(gen, start)
	if err != nil {
		return err
	}

	unlock := p.chains.lock(head)
	defer unlock()

	// A primary file is read from disk again: its old staged content is
	// exactly what changed.
	if !gen.isRedirectTarget(head) {
		gen.clearOverride(head)
	}

	seen := make(map[string]bool)
	for cur := head; cur != ""; {
		if seen[cur] || len(seen) >= p.maxChain {
			return newError(ErrCodeLineageCycle, -1, cur, "rebuild chain revisits a path or is too long", nil)
		}
		seen[cur] = true

		w, ok := gen.Watch(cur)
		if !ok {
			p.logger.Debug("staged output has no consumer", "path", cur)
			break
		}
		if w.Entry != "" {
			cur = w.Entry
			continue
		}
		for _, index := range w.Passes {
			if err := p.execute(ctx, gen, index, cur, false); err != nil {
				return err
			}
		}
		cur = w.Redirect
	}

	p.logger.Info("rebuilt", "path", start, "entry", head, "links", len(seen))
	return nil
}

// resolveEntry follows entry links from start to the file that owns it.
func (p *Pipeline) resolveEntry(gen *Generation, start string) (string, error) {
	seen := make(map[string]bool)
	cur := start
	for {
		if seen[cur] || len(seen) >= p.maxChain {
			return "", newError(ErrCodeLineageCycle, -1, start, "dependency entries loop", nil)
		}
		seen[cur] = true

		w, ok := gen.Watch(cur)
		if !ok || w.Entry == "" {
			return cur, nil
		}
		cur = w.Entry
	}
}

// BuildFile runs a file created after the build through the tasks in
// registration order. Paths it is staged into are carried along, so a new
// source in a multi-stage pipeline reaches its terminal output.
//
// Built files are skipped. Staging clears the built flag of a destination,
// so a path restaged by this call is processed again by later tasks.
func (p *Pipeline) BuildFile(ctx context.Context, added string) error {
	p.runMu.RLock()
	defer p.runMu.RUnlock()

	gen := p.Generation()
	if gen == nil {
		return newError(ErrCodeNoGeneration, -1, added, "no build has run", nil)
	}

	file := relToRoot(p.root, added)
	if gen.skipPrefix != "" && (file == gen.skipPrefix || strings.HasPrefix(file, gen.skipPrefix+"/")) {
		return nil
	}

	unlock := p.chains.lock(file)
	defer unlock()

	pending := []string{file}
	ran := 0

	for i := 0; i < p.taskCount(); i++ {
		t := p.task(i)
		include, exclude := splitPatterns(t.Sources)

		for _, f := range append([]string(nil), pending...) {
			if !matchesAny(include, exclude, f) {
				continue
			}
			if gen.IsBuilt(f) {
				continue
			}

			if err := p.execute(ctx, gen, i, f, true); err != nil {
				return err
			}
			ran++

			if t.Staged == nil {
				continue
			}
			if dest, ok := resolveStaged(t.Staged, f); ok {
				if !containsString(pending, dest) {
					pending = append(pending, dest)
				}
			}
		}
	}

	if ran == 0 {
		p.logger.Debug("no task matched added file", "path", file)
		return nil
	}
	p.logger.Info("added", "path", file, "runs", ran)
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// keyedMutex serializes work per key. Entries are dropped when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*chainLock
}

type chainLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &chainLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
