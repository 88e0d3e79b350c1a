package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteAndReadTree(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"a.txt":         "a",
		"src/b.txt":     "b",
		"src/deep/c.js": "c",
	}

	WriteTree(t, root, files)
	assert.Equal(t, files, ReadTree(t, root))
}

func TestReadTree_MissingRoot(t *testing.T) {
	assert.Empty(t, ReadTree(t, filepath.Join(t.TempDir(), "nope")))
}

func TestFormatTree(t *testing.T) {
	out := FormatTree(map[string]string{
		"z.txt": "last\n",
		"a.txt": "first",
	})
	assert.Equal(t, "== a.txt\nfirst\n== z.txt\nlast\n", string(out))
}
