package archive

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestArchiveMovesFile(t *testing.T) {
	inbox := t.TempDir()
	root := filepath.Join(t.TempDir(), "archive")
	a := NewArchiver(root)

	src := writeInput(t, inbox, "upload-123.xlsx", "data")
	dest, err := a.Archive(src, "input.xlsx")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "input.xlsx"), dest)
	assert.NoFileExists(t, src)
	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "data", string(content))
}

func TestArchiveNeverOverwrites(t *testing.T) {
	inbox := t.TempDir()
	root := t.TempDir()
	a := NewArchiver(root)

	first, err := a.Archive(writeInput(t, inbox, "a.xlsx", "one"), "input.xlsx")
	require.NoError(t, err)
	second, err := a.Archive(writeInput(t, inbox, "b.xlsx", "two"), "input.xlsx")
	require.NoError(t, err)
	third, err := a.Archive(writeInput(t, inbox, "c.xlsx", "three"), "input.xlsx")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "input.xlsx"), first)
	assert.Equal(t, filepath.Join(root, "input_1.xlsx"), second)
	assert.Equal(t, filepath.Join(root, "input_2.xlsx"), third)

	content, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "one", string(content))
}

func TestArchiveFillsFirstGap(t *testing.T) {
	root := t.TempDir()
	writeInput(t, root, "input.xlsx", "x")
	writeInput(t, root, "input_1.xlsx", "x")
	writeInput(t, root, "input_3.xlsx", "x")

	dest, err := NewArchiver(root).Archive(writeInput(t, t.TempDir(), "new.xlsx", "y"), "input.xlsx")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "input_2.xlsx"), dest)
}

func TestArchiveStripsDirectoryFromName(t *testing.T) {
	root := t.TempDir()
	dest, err := NewArchiver(root).Archive(writeInput(t, t.TempDir(), "x.csv", "y"), "../../etc/input.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "input.csv"), dest)
}

func TestArchiveMissingSource(t *testing.T) {
	_, err := NewArchiver(t.TempDir()).Archive(filepath.Join(t.TempDir(), "gone.xlsx"), "gone.xlsx")

	var archiveErr *ArchiveError
	require.True(t, errors.As(err, &archiveErr))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFreePath(t *testing.T) {
	dir := t.TempDir()

	p, err := freePath(filepath.Join(dir, "input.csv"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "input.csv"), p)

	writeInput(t, dir, "input.csv", "x")
	p, err = freePath(filepath.Join(dir, "input.csv"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "input_1.csv"), p)
}

func TestReserveDir(t *testing.T) {
	root := filepath.Join(t.TempDir(), "output")
	base := filepath.Join(root, "batches_2024-05-01_10-00-00")

	first, err := ReserveDir(base)
	require.NoError(t, err)
	assert.Equal(t, base, first)
	assert.DirExists(t, first)

	require.NoError(t, os.Mkdir(base+"_1", 0755))
	next, err := ReserveDir(base)
	require.NoError(t, err)
	assert.Equal(t, base+"_2", next)
	assert.DirExists(t, next)
}

func TestReserveDirConcurrentCallersGetDistinctDirs(t *testing.T) {
	base := filepath.Join(t.TempDir(), "batches_L")

	const callers = 16
	dirs := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dir, err := ReserveDir(base)
			assert.NoError(t, err)
			dirs[i] = dir
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, dir := range dirs {
		assert.False(t, seen[dir], "directory %s handed out twice", dir)
		seen[dir] = true
	}
	assert.Len(t, seen, callers)
}

func TestReserveDirParentIsFile(t *testing.T) {
	parent := writeInput(t, t.TempDir(), "output", "x")

	_, err := ReserveDir(filepath.Join(parent, "batches_L"))
	assert.Error(t, err)
}
