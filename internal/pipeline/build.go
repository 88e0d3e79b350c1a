package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Build runs every task once, in registration order, into outRoot.
//
// Build starts a fresh Generation: content and watch records of any previous
// build are discarded. For each task the match set is the union of the files
// on disk and the staged virtual paths matching the task's patterns, minus
// everything already built. Files of one task run concurrently (bounded by
// Options.Concurrency); the next task starts only after all of them finished.
//
// The first failing file aborts the generation. Files of the same task that
// are already running are allowed to finish.
func (p *Pipeline) Build(ctx context.Context, outRoot string) (err error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if err := p.Validate(); err != nil {
		return err
	}
	tasks := p.Tasks()

	outDir, skip, err := p.resolveOutDir(outRoot)
	if err != nil {
		return err
	}

	gen := newGeneration(p.ids.Generate(), p.clock.Next(), outDir)
	gen.skipPrefix = skip

	p.mu.Lock()
	p.gen = gen
	p.mu.Unlock()

	if recErr := p.recorder.BeginGeneration(ctx, GenerationInfo{
		ID: gen.ID, Seq: gen.Seq, OutDir: outDir, Tasks: len(tasks),
	}); recErr != nil {
		p.logger.Warn("journal write failed", "generation", gen.ID, "error", recErr)
	}
	defer func() {
		if recErr := p.recorder.EndGeneration(context.WithoutCancel(ctx), gen.ID, err); recErr != nil {
			p.logger.Warn("journal write failed", "generation", gen.ID, "error", recErr)
		}
	}()

	p.logger.Info("build started", "generation", gen.ID, "out", outDir, "tasks", len(tasks))

	for i, t := range tasks {
		files, err := p.matchSet(gen, t.Sources)
		if err != nil {
			return newError(ErrCodeIO, i, "", "glob failed", err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.concurrency)
		for _, file := range files {
			g.Go(func() error {
				return p.execute(gctx, gen, i, file, true)
			})
		}
		if err := g.Wait(); err != nil {
			p.logger.Error("build failed", "generation", gen.ID, "task", i, "error", err)
			return fmt.Errorf("task %d: %w", i, err)
		}
	}

	p.logger.Info("build completed", "generation", gen.ID)
	return nil
}

// matchSet returns the unbuilt paths matching patterns, from disk and from the
// content store, sorted.
func (p *Pipeline) matchSet(gen *Generation, patterns []string) ([]string, error) {
	onDisk, err := globFiles(p.root, patterns, gen.skipPrefix)
	if err != nil {
		return nil, err
	}

	include, exclude := splitPatterns(patterns)
	set := make(map[string]struct{}, len(onDisk))
	for _, f := range onDisk {
		set[f] = struct{}{}
	}
	for _, f := range gen.contentPaths() {
		if matchesAny(include, exclude, f) {
			set[f] = struct{}{}
		}
	}

	files := make([]string, 0, len(set))
	for f := range set {
		if !gen.IsBuilt(f) {
			files = append(files, f)
		}
	}
	sort.Strings(files)
	return files, nil
}

// resolveOutDir makes outRoot absolute. When it lies inside the source root,
// skip is its root-relative slash path, so globs never match build output.
func (p *Pipeline) resolveOutDir(outRoot string) (outDir, skip string, err error) {
	if outRoot == "" {
		return "", "", newError(ErrCodeIO, -1, "", "output root is required", nil)
	}
	outDir = outRoot
	if !filepath.IsAbs(outDir) {
		outDir = filepath.Join(p.root, outDir)
	}
	outDir = filepath.Clean(outDir)

	rel, relErr := filepath.Rel(p.root, outDir)
	if relErr != nil {
		return outDir, "", nil
	}
	rel = filepath.ToSlash(rel)
	switch {
	case rel == ".":
		return "", "", newError(ErrCodeIO, -1, outRoot, "output root must differ from the source root", nil)
	case rel == ".." || strings.HasPrefix(rel, "../"):
		return outDir, "", nil
	default:
		return outDir, rel, nil
	}
}
