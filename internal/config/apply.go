package config

import (
	"fmt"
	"log/slog"

	"github.com/roach88/stagehand/internal/pipeline"
)

// Apply registers the definition's tasks on p, in order.
//
// A staged block selecting no mode or more than one is logged and the task
// is registered without staging.
func (c *Config) Apply(p *pipeline.Pipeline, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	for i, t := range c.Tasks {
		h := p.Task(t.Source...)

		if len(t.Transform) > 0 {
			steps := make([]pipeline.Transform, 0, len(t.Transform))
			for j, tr := range t.Transform {
				fn, err := buildTransform(tr)
				if err != nil {
					return fmt.Errorf("tasks[%d].transform[%d]: %w", i, j, err)
				}
				steps = append(steps, fn)
			}
			h.Transform(chain(steps))
		}

		if t.Staged == nil {
			continue
		}
		d, err := t.Staged.directive()
		if err != nil {
			logger.Warn("ignoring staged directive",
				"code", pipeline.ErrCodeUnknownStaged, "task", i, "error", err)
			continue
		}
		h.Staged(d)
	}
	return nil
}

func (s *StagedConfig) directive() (pipeline.StagedDirective, error) {
	set := 0
	if s.Keep {
		set++
	}
	if s.Rename != "" {
		set++
	}
	if s.Ext != "" {
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("staged must set exactly one of keep, rename, ext (got %d)", set)
	}

	switch {
	case s.Keep:
		return pipeline.Keep(), nil
	case s.Rename != "":
		return pipeline.RenameTo(s.Rename), nil
	default:
		ext := s.Ext
		return pipeline.ComputeFrom(func(src string) string {
			return pipeline.ReplaceExtension(src, ext)
		}), nil
	}
}

// Options returns pipeline options for the definition.
func (c *Config) Options(logger *slog.Logger) pipeline.Options {
	return pipeline.Options{
		Root:        c.Root,
		Concurrency: c.Concurrency,
		Logger:      logger,
	}
}
