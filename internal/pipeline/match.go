package pipeline

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// normalizePath converts p to a clean, slash-separated relative path.
func normalizePath(p string) string {
	p = path.Clean(filepath.ToSlash(p))
	return strings.TrimPrefix(p, "./")
}

func normalizePattern(pattern string) string {
	if neg, ok := strings.CutPrefix(pattern, "!"); ok {
		return "!" + normalizePath(neg)
	}
	return normalizePath(pattern)
}

// splitPatterns separates include and exclude patterns.
func splitPatterns(patterns []string) (include, exclude []string) {
	for _, pat := range patterns {
		if neg, ok := strings.CutPrefix(pat, "!"); ok {
			exclude = append(exclude, neg)
			continue
		}
		include = append(include, pat)
	}
	return include, exclude
}

// validatePatterns checks every pattern of a task before a build starts.
func validatePatterns(task int, patterns []string) error {
	if len(patterns) == 0 {
		return newError(ErrCodeInvalidPattern, task, "", "task has no source patterns", nil)
	}
	for _, pat := range patterns {
		raw := strings.TrimPrefix(pat, "!")
		if raw == "" || !doublestar.ValidatePattern(raw) {
			return newError(ErrCodeInvalidPattern, task, pat, "invalid glob pattern", nil)
		}
		if path.IsAbs(raw) || raw == ".." || strings.HasPrefix(raw, "../") {
			return newError(ErrCodeInvalidPattern, task, pat, "pattern must stay inside the root", nil)
		}
	}
	return nil
}

// matchesAny reports whether name matches an include pattern and no exclude
// pattern. Patterns are assumed valid.
func matchesAny(include, exclude []string, name string) bool {
	matched := false
	for _, pat := range include {
		if ok, _ := doublestar.Match(pat, name); ok {
			matched = true
			break
		}
	}
	return matched && !excluded(exclude, name)
}

func excluded(exclude []string, name string) bool {
	for _, pat := range exclude {
		if ok, _ := doublestar.Match(pat, name); ok {
			return true
		}
	}
	return false
}

// globFiles expands patterns against the filesystem under root and returns
// sorted, de-duplicated regular file paths. Paths under skipPrefix are dropped.
func globFiles(root string, patterns []string, skipPrefix string) ([]string, error) {
	include, exclude := splitPatterns(patterns)
	fsys := os.DirFS(root)

	set := make(map[string]struct{})
	for _, pat := range include {
		matches, err := doublestar.Glob(fsys, pat, doublestar.WithFilesOnly())
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			set[m] = struct{}{}
		}
	}

	files := make([]string, 0, len(set))
	for m := range set {
		if skipPrefix != "" && (m == skipPrefix || strings.HasPrefix(m, skipPrefix+"/")) {
			continue
		}
		if excluded(exclude, m) {
			continue
		}
		files = append(files, m)
	}
	sort.Strings(files)
	return files, nil
}

// outputRel mirrors file under the output root: the first directory segment
// is replaced by the output root, the rest of the relative path is kept.
//
//	src/a/b.txt -> a/b.txt
//	src/b.txt   -> b.txt
//	b.txt       -> b.txt
func outputRel(file string) string {
	dir, base := path.Split(file)
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		return base
	}
	_, rest, _ := strings.Cut(dir, "/")
	return path.Join(rest, base)
}

// relToRoot converts p to a slash path relative to root. Relative inputs are
// taken as already relative to root.
func relToRoot(root, p string) string {
	if filepath.IsAbs(p) {
		if rel, err := filepath.Rel(root, p); err == nil {
			p = rel
		}
	}
	return normalizePath(p)
}
