package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFileSystem_CreateAndRead(t *testing.T) {
	m := NewMemoryFileSystem()
	require.NoError(t, m.MkdirAll("out/mol", 0o755))

	w, err := m.Create("out/mol/a.sdf")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = w.Write([]byte("world"))
	require.NoError(t, err)

	// not visible until closed
	assert.False(t, m.Exists("out/mol/a.sdf"))
	require.NoError(t, w.Close())

	data, err := m.ReadFile("out/mol/./a.sdf")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, []string{"out/mol/a.sdf"}, m.Files("out/"))

	_, err = w.Write([]byte("x"))
	assert.ErrorIs(t, err, fs.ErrClosed)
}

func TestMemoryFileSystem_Errors(t *testing.T) {
	m := NewMemoryFileSystem()

	_, err := m.Create("missing/dir/file.dx")
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	_, err = m.ReadFile("nope")
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	m.WriteFile("blocked", []byte("x"))
	assert.Error(t, m.MkdirAll("blocked/sub", 0o755))
}

func TestMemoryFileSystem_MkdirAllParents(t *testing.T) {
	m := NewMemoryFileSystem()
	require.NoError(t, m.MkdirAll("a/b/c", 0o755))
	assert.True(t, m.Exists("a"))
	assert.True(t, m.Exists("a/b"))
	assert.True(t, m.Exists("a/b/c"))
	assert.False(t, m.Exists("a/c"))
}

func TestOSFileSystem(t *testing.T) {
	dir := t.TempDir()
	var fsys FileSystem = OSFileSystem{}

	sub := filepath.Join(dir, "x", "y")
	require.NoError(t, fsys.MkdirAll(sub, 0o755))
	assert.True(t, fsys.Exists(sub))

	path := filepath.Join(sub, "f.txt")
	w, err := fsys.Create(path)
	require.NoError(t, err)
	_, err = w.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := fsys.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
	assert.False(t, fsys.Exists(filepath.Join(dir, "missing")))
}
