package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stagehand/internal/testutil"
)

func TestOutputRel(t *testing.T) {
	tests := map[string]string{
		"src/a/b.txt":     "a/b.txt",
		"src/b.txt":       "b.txt",
		"b.txt":           "b.txt",
		"src/a/b/c/d.css": "a/b/c/d.css",
		"combined.txt":    "combined.txt",
	}
	for in, want := range tests {
		assert.Equal(t, want, outputRel(in), in)
	}
}

func TestValidatePatterns(t *testing.T) {
	assert.NoError(t, validatePatterns(0, []string{"src/**/*", "!src/skip/**", "a.txt"}))

	tests := map[string][]string{
		"empty":        nil,
		"bad class":    {"src/[a"},
		"bare negate":  {"!"},
		"parent":       {"../secret/*"},
		"absolute":     {"/etc/*"},
		"parent alone": {".."},
	}
	for name, pats := range tests {
		t.Run(name, func(t *testing.T) {
			err := validatePatterns(3, pats)
			require.Error(t, err)
			assert.Equal(t, ErrCodeInvalidPattern, ErrorCodeOf(err))
		})
	}
}

func TestMatchesAny(t *testing.T) {
	include, exclude := splitPatterns([]string{"src/**/*.css", "!src/vendor/**"})

	assert.True(t, matchesAny(include, exclude, "src/a.css"))
	assert.True(t, matchesAny(include, exclude, "src/deep/b.css"))
	assert.False(t, matchesAny(include, exclude, "src/vendor/c.css"))
	assert.False(t, matchesAny(include, exclude, "src/a.js"))
}

func TestGlobFiles(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"src/b.txt":       "b",
		"src/a.txt":       "a",
		"src/sub/c.txt":   "c",
		"src/skip/d.txt":  "d",
		"build/stale.txt": "x",
		"src/sub/e.md":    "e",
	})

	files, err := globFiles(root, []string{"**/*.txt", "!src/skip/**"}, "build")
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a.txt", "src/b.txt", "src/sub/c.txt"}, files)
}

func TestGlobFiles_FilesOnly(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{"src/dir/a.txt": "a"})

	files, err := globFiles(root, []string{"src/*"}, "")
	require.NoError(t, err)
	assert.Empty(t, files, "directories never match")
}

func TestRelToRoot(t *testing.T) {
	root := t.TempDir()

	assert.Equal(t, "src/a.txt", relToRoot(root, filepath.Join(root, "src", "a.txt")))
	assert.Equal(t, "src/a.txt", relToRoot(root, "./src/a.txt"))
	assert.Equal(t, "src/a.txt", relToRoot(root, "src/x/../a.txt"))
}
