package pipeline

import "path"

// TaskContext is handed to a transform for one file of one task.
// It is only valid for the duration of that transform call.
type TaskContext struct {
	p    *Pipeline
	gen  *Generation
	task int
	file string
}

// Path returns the path of the file being transformed, relative to the root.
func (c *TaskContext) Path() string { return c.file }

// Dir returns the directory containing the file being transformed.
func (c *TaskContext) Dir() string { return path.Dir(c.file) }

// Root returns the absolute source root, for transforms that resolve
// includes on disk.
func (c *TaskContext) Root() string { return c.p.root }

// Task returns the index of the running task.
func (c *TaskContext) Task() int { return c.task }

// DependencyOption configures DeclareDependency.
type DependencyOption func(*dependencyOptions)

type dependencyOptions struct {
	markAsBuilt bool
}

// MarkAsBuilt flags declared dependencies as built so the glob-driven passes
// never process them on their own.
func MarkAsBuilt() DependencyOption {
	return func(o *dependencyOptions) { o.markAsBuilt = true }
}

// DeclareDependency records paths as inputs of the current file, so a change
// to any of them replays the current file's chain. Absolute paths are made
// relative to the root; the current file itself is ignored.
//
// Declaring the same dependency again, as replays do, does not duplicate its
// recorded pass. Dependencies first declared during a replay are linked too.
func (c *TaskContext) DeclareDependency(paths []string, opts ...DependencyOption) error {
	var o dependencyOptions
	for _, opt := range opts {
		opt(&o)
	}

	for _, raw := range paths {
		dep := relToRoot(c.p.root, raw)
		if dep == c.file {
			continue
		}
		if err := c.gen.setEntry(dep, c.file, c.task); err != nil {
			return err
		}
		if o.markAsBuilt {
			c.gen.markBuilt(dep)
			c.p.logger.Debug("dependency marked as built", "path", dep, "entry", c.file)
		}
	}
	return nil
}
