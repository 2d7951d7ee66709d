// Package bundle packs a batch's artifacts into a single zip archive.
package bundle

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Pack returns a zip of every file under outputDir whose extension is one of
// exts. Entry names are slash-separated paths relative to outputDir.
func Pack(outputDir string, exts ...string) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := Write(&buf, outputDir, exts...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write streams the bundle for outputDir to w and returns the entry names.
// Files are not checked for completeness; callers pack finished batches only.
func Write(w io.Writer, outputDir string, exts ...string) ([]string, error) {
	files, err := Collect(outputDir, exts...)
	if err != nil {
		return nil, err
	}

	zw := zip.NewWriter(w)
	for _, rel := range files {
		if err := addFile(zw, outputDir, rel); err != nil {
			zw.Close()
			return nil, fmt.Errorf("adding %s to bundle: %w", rel, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finishing bundle: %w", err)
	}
	return files, nil
}

// Collect lists the relative, slash-separated paths that Write would include.
func Collect(outputDir string, exts ...string) ([]string, error) {
	accept := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		accept[ext] = true
	}

	var files []string
	err := filepath.WalkDir(outputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !accept[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(outputDir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", outputDir, err)
	}

	sort.Strings(files)
	return files, nil
}

func addFile(zw *zip.Writer, root, rel string) error {
	path := filepath.Join(root, filepath.FromSlash(rel))
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = rel
	header.Method = zip.Deflate

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, f)
	return err
}
