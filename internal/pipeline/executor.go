package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
)

// execute runs task index over one file and updates gen.
//
// track is true for glob-driven runs (Build, BuildFile) and false for replays,
// which must not append passes or redirects to a graph they are walking.
func (p *Pipeline) execute(ctx context.Context, gen *Generation, index int, file string, track bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	task := p.task(index)
	outFile := filepath.Join(gen.OutDir, filepath.FromSlash(outputRel(file)))
	override, hasOverride := gen.override(file)

	if task.Transform == nil && task.Staged == nil && !hasOverride {
		if err := copyFile(p.srcPath(file), outFile); err != nil {
			return newError(ErrCodeIO, index, file, "copy failed", err)
		}
		gen.markBuilt(file)
		if track {
			gen.appendPass(file, index)
		}
		p.logger.Info("copied", "path", file, "out", outFile)
		p.record(ctx, gen, index, file, BranchCopy, outFile, track)
		return nil
	}

	content := override
	if !hasOverride {
		data, err := os.ReadFile(p.srcPath(file))
		if err != nil {
			return newError(ErrCodeIO, index, file, "read failed", err)
		}
		content = data
	}

	if task.Transform != nil {
		tctx := &TaskContext{p: p, gen: gen, task: index, file: file}
		out, err := task.Transform(content, tctx)
		if err != nil {
			var pe *Error
			if errors.As(err, &pe) {
				return err
			}
			return newError(ErrCodeTransform, index, file, "transform failed", err)
		}
		content = out
	}

	if task.Staged != nil {
		dest, ok := resolveStaged(task.Staged, file)
		if ok {
			return p.stageResult(ctx, gen, index, file, dest, content, track)
		}
		p.logger.Warn("unrecognized staged directive, writing output directly",
			"code", ErrCodeUnknownStaged, "task", index, "path", file, "staged", task.Staged.String())
	}

	if err := writeFile(outFile, content); err != nil {
		return newError(ErrCodeIO, index, file, "write failed", err)
	}
	gen.markBuilt(file)
	if track {
		gen.appendPass(file, index)
	}
	p.logger.Info("written", "path", file, "out", outFile)
	p.record(ctx, gen, index, file, BranchWrite, outFile, track)
	return nil
}

// stageResult stores content under dest for later tasks.
//
// Renaming marks the source built, since its content now lives under dest.
// Keeping the same path leaves it unbuilt so a later task can match it again.
func (p *Pipeline) stageResult(ctx context.Context, gen *Generation, index int, file, dest string, content []byte, track bool) error {
	if dest != file && track {
		if err := gen.setRedirect(file, dest); err != nil {
			return err
		}
	}

	if gen.stage(dest, content) && dest != file {
		p.logger.Debug("restaged built path", "path", dest, "from", file)
	}
	if track {
		gen.appendPass(file, index)
	}

	if dest != file {
		gen.markBuilt(file)
		p.logger.Info("staged", "path", file, "as", dest)
	} else {
		p.logger.Info("staged", "path", file)
	}
	p.record(ctx, gen, index, file, BranchStage, dest, track)
	return nil
}

func (p *Pipeline) record(ctx context.Context, gen *Generation, index int, file string, branch Branch, dest string, track bool) {
	step := Step{
		GenerationID: gen.ID,
		Seq:          gen.clock.Next(),
		Task:         index,
		Path:         file,
		Branch:       branch,
		Destination:  dest,
		Incremental:  !track,
	}
	if err := p.recorder.RecordStep(ctx, step); err != nil {
		p.logger.Warn("journal write failed", "path", file, "error", err)
	}
}

func (p *Pipeline) srcPath(file string) string {
	return filepath.Join(p.root, filepath.FromSlash(file))
}

func writeFile(dst string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, content, 0o644)
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
