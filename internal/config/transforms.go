package config

import (
	"bytes"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/stagehand/internal/pipeline"
)

// transformFactory builds a transform from its arguments.
type transformFactory struct {
	args  int
	build func(args []string) pipeline.Transform
}

var builtins = map[string]transformFactory{
	"upper": {0, func([]string) pipeline.Transform {
		return func(c []byte, _ *pipeline.TaskContext) ([]byte, error) { return bytes.ToUpper(c), nil }
	}},
	"lower": {0, func([]string) pipeline.Transform {
		return func(c []byte, _ *pipeline.TaskContext) ([]byte, error) { return bytes.ToLower(c), nil }
	}},
	"trim": {0, func([]string) pipeline.Transform {
		return func(c []byte, _ *pipeline.TaskContext) ([]byte, error) { return bytes.TrimSpace(c), nil }
	}},
	"append": {1, func(args []string) pipeline.Transform {
		suffix := []byte(args[0])
		return func(c []byte, _ *pipeline.TaskContext) ([]byte, error) {
			out := make([]byte, 0, len(c)+len(suffix))
			return append(append(out, c...), suffix...), nil
		}
	}},
	"prepend": {1, func(args []string) pipeline.Transform {
		prefix := []byte(args[0])
		return func(c []byte, _ *pipeline.TaskContext) ([]byte, error) {
			out := make([]byte, 0, len(c)+len(prefix))
			return append(append(out, prefix...), c...), nil
		}
	}},
	"replace": {2, func(args []string) pipeline.Transform {
		old, repl := []byte(args[0]), []byte(args[1])
		return func(c []byte, _ *pipeline.TaskContext) ([]byte, error) {
			return bytes.ReplaceAll(c, old, repl), nil
		}
	}},
	"nfc": {0, func([]string) pipeline.Transform {
		return func(c []byte, _ *pipeline.TaskContext) ([]byte, error) { return norm.NFC.Bytes(c), nil }
	}},
	"include": {1, func(args []string) pipeline.Transform {
		return includeTransform(args[0])
	}},
	"lf": {0, func([]string) pipeline.Transform {
		return func(c []byte, _ *pipeline.TaskContext) ([]byte, error) {
			return bytes.ReplaceAll(c, []byte("\r\n"), []byte("\n")), nil
		}
	}},
}

// TransformNames returns the names of the built-in transforms, sorted.
func TransformNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t TransformConfig) arguments() []string {
	if len(t.Args) > 0 {
		return t.Args
	}
	if t.Arg != "" {
		return []string{t.Arg}
	}
	return nil
}

func buildTransform(t TransformConfig) (pipeline.Transform, error) {
	f, ok := builtins[t.Name]
	if !ok {
		return nil, fmt.Errorf("unknown transform %q", t.Name)
	}
	args := t.arguments()
	if len(args) != f.args {
		return nil, fmt.Errorf("transform %q takes %d argument(s), got %d", t.Name, f.args, len(args))
	}
	return f.build(args), nil
}

// chain composes transforms left to right.
func chain(steps []pipeline.Transform) pipeline.Transform {
	if len(steps) == 1 {
		return steps[0]
	}
	return func(c []byte, ctx *pipeline.TaskContext) ([]byte, error) {
		var err error
		for _, step := range steps {
			if c, err = step(c, ctx); err != nil {
				return nil, err
			}
		}
		return c, nil
	}
}
