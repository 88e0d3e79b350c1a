package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/roach88/stagehand/internal/pipeline"
)

// maxIncludeDepth bounds nested includes.
const maxIncludeDepth = 16

// includeTransform replaces every line starting with marker by the content of
// the file named after it. Names are relative to the including file, or to
// the source root when they start with "/". Included files may include
// others.
//
// Every included file is declared as a dependency marked built, so it is
// never emitted on its own and an edit to it rebuilds the including file.
func includeTransform(marker string) pipeline.Transform {
	return func(content []byte, ctx *pipeline.TaskContext) ([]byte, error) {
		inc := &includer{
			marker: marker,
			root:   ctx.Root(),
			stack:  map[string]bool{ctx.Path(): true},
		}
		out, err := inc.expand(content, ctx.Dir(), 0)
		if err != nil {
			return nil, err
		}
		if len(inc.deps) == 0 {
			return out, nil
		}
		if err := ctx.DeclareDependency(inc.deps, pipeline.MarkAsBuilt()); err != nil {
			return nil, err
		}
		return out, nil
	}
}

type includer struct {
	marker string
	root   string
	stack  map[string]bool
	deps   []string
	seen   map[string]bool
}

func (inc *includer) expand(content []byte, dir string, depth int) ([]byte, error) {
	if depth > maxIncludeDepth {
		return nil, fmt.Errorf("includes nested deeper than %d", maxIncludeDepth)
	}

	var out bytes.Buffer
	r := bufio.NewReader(bytes.NewReader(content))
	for {
		line, readErr := r.ReadString('\n')
		if line == "" && readErr != nil {
			break
		}

		name, ok := strings.CutPrefix(strings.TrimSpace(line), inc.marker)
		if !ok {
			out.WriteString(line)
			continue
		}
		name = strings.Trim(strings.TrimSpace(name), `"'`)
		if name == "" {
			return nil, fmt.Errorf("empty include in %s", dir)
		}

		dep := inc.resolve(dir, name)
		if inc.stack[dep] {
			return nil, fmt.Errorf("include of %s loops back", dep)
		}
		data, err := os.ReadFile(filepath.Join(inc.root, filepath.FromSlash(dep)))
		if err != nil {
			return nil, fmt.Errorf("include %s: %w", dep, err)
		}
		inc.record(dep)

		inc.stack[dep] = true
		expanded, err := inc.expand(data, path.Dir(dep), depth+1)
		delete(inc.stack, dep)
		if err != nil {
			return nil, err
		}
		out.Write(expanded)
		if strings.HasSuffix(line, "\n") && !bytes.HasSuffix(expanded, []byte("\n")) {
			out.WriteByte('\n')
		}

		if readErr != nil {
			break
		}
	}
	return out.Bytes(), nil
}

func (inc *includer) resolve(dir, name string) string {
	if strings.HasPrefix(name, "/") {
		return path.Clean(strings.TrimPrefix(name, "/"))
	}
	return path.Join(dir, name)
}

func (inc *includer) record(dep string) {
	if inc.seen == nil {
		inc.seen = make(map[string]bool)
	}
	if !inc.seen[dep] {
		inc.seen[dep] = true
		inc.deps = append(inc.deps, dep)
	}
}
