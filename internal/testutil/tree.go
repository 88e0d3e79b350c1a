// Package testutil provides file tree fixtures for stagehand tests.
package testutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteTree creates files under root. Keys are slash-separated relative paths.
func WriteTree(t testing.TB, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		WriteFile(t, root, rel, content)
	}
}

// WriteFile creates or overwrites one file under root, creating parents.
func WriteFile(t testing.TB, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

// ReadTree returns every regular file under root keyed by slash-separated
// relative path. A missing root yields an empty map.
func ReadTree(t testing.TB, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return out
	}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

// FormatTree renders a tree as sorted "== path" sections, for golden files.
func FormatTree(tree map[string]string) []byte {
	paths := make([]string, 0, len(tree))
	for p := range tree {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, p := range paths {
		b.WriteString("== ")
		b.WriteString(p)
		b.WriteString("\n")
		b.WriteString(tree[p])
		if !strings.HasSuffix(tree[p], "\n") {
			b.WriteString("\n")
		}
	}
	return []byte(b.String())
}
