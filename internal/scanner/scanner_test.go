package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, root, rel string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestScan_FindsMatchingFilesRecursively(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "b.eml")
	touch(t, root, "A.EML")
	touch(t, root, "nested/deep/c.eml")
	touch(t, root, "notes.txt")

	files, err := NewScanner(root).Scan()
	require.NoError(t, err)
	assert.Equal(t, []string{"A.EML", "b.eml", "nested/deep/c.eml"}, files)
}

func TestScan_CustomExtensions(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "a.eml")
	touch(t, root, "b.msg")

	files, err := NewScanner(root, ".MSG").Scan()
	require.NoError(t, err)
	assert.Equal(t, []string{"b.msg"}, files)
}

func TestScan_MissingRoot(t *testing.T) {
	_, err := NewScanner(filepath.Join(t.TempDir(), "missing")).Scan()
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	s := NewScanner("/data/in")
	assert.Equal(t, filepath.Join("/data/in", "x", "y.eml"), s.Resolve("x/y.eml"))
}
