// Package archive relocates consumed input files without ever overwriting an
// existing file in the archive directory.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// ArchiveError reports an input that could not be relocated. Artifacts already
// produced for the batch are left untouched.
type ArchiveError struct {
	Source string
	Err    error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archiving %s: %v", e.Source, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// Archiver moves files into a single archive directory. Picking a free name is
// only safe under one writer; the mutex serializes callers within this process.
type Archiver struct {
	root string
	mu   sync.Mutex
}

// NewArchiver creates an archiver rooted at dir. The directory is created on
// first use.
func NewArchiver(dir string) *Archiver {
	return &Archiver{root: dir}
}

// Archive moves sourcePath to root/originalName, or to the first free
// {base}_{i}{ext} when that name is taken, and returns the final path.
func (a *Archiver) Archive(sourcePath, originalName string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := os.Stat(sourcePath); err != nil {
		return "", &ArchiveError{Source: sourcePath, Err: err}
	}

	name := filepath.Base(strings.TrimSpace(originalName))
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = filepath.Base(sourcePath)
	}

	if err := os.MkdirAll(a.root, 0755); err != nil {
		return "", &ArchiveError{Source: sourcePath, Err: err}
	}

	dest, err := freePath(filepath.Join(a.root, name))
	if err != nil {
		return "", &ArchiveError{Source: sourcePath, Err: err}
	}

	if err := move(sourcePath, dest); err != nil {
		return "", &ArchiveError{Source: sourcePath, Err: err}
	}

	fmt.Printf("[Archive] %s -> %s\n", name, dest)
	return dest, nil
}

// freePath returns path if nothing exists there, otherwise the first
// {base}_{i}{ext} sibling, i counting up from 1, that does not exist.
func freePath(path string) (string, error) {
	exists, err := pathExists(path)
	if err != nil || !exists {
		return path, err
	}

	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := base + "_" + strconv.Itoa(i) + ext
		exists, err := pathExists(candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
}

// ReserveDir creates path, or the first {path}_{i} sibling that does not exist
// yet, and returns the directory it created. The directory is claimed by
// creating it, so two callers never get the same one.
func ReserveDir(path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	candidate := path
	for i := 1; ; i++ {
		err := os.Mkdir(candidate, 0755)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
		candidate = path + "_" + strconv.Itoa(i)
	}
}

func pathExists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// move renames src to dst, falling back to copy and remove across devices.
func move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	in.Close()
	return os.Remove(src)
}
