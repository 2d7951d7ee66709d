package extract

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Reader loads one tabular format into a Table.
type Reader interface {
	// Name returns the unique name of the reader.
	Name() string
	// Extensions lists the lower-case file extensions this reader accepts.
	Extensions() []string
	// Read parses the whole source.
	Read(r io.Reader) (*Table, error)
}

// Registry holds the available readers and picks one by file extension.
type Registry struct {
	readers []Reader
	allowed map[string]bool // nil allows every reader extension
}

// NewRegistry returns a registry with the built-in XLSX and CSV readers.
func NewRegistry() *Registry {
	return &Registry{
		readers: []Reader{
			NewXLSXReader(),
			NewCSVReader(),
		},
	}
}

// Register adds a reader. Later registrations win for a shared extension.
func (r *Registry) Register(rd Reader) {
	r.readers = append([]Reader{rd}, r.readers...)
}

// Restrict limits the accepted extensions to exts. An empty list lifts the
// restriction.
func (r *Registry) Restrict(exts []string) {
	if len(exts) == 0 {
		r.allowed = nil
		return
	}
	r.allowed = make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		r.allowed[ext] = true
	}
}

func (r *Registry) permits(ext string) bool {
	return r.allowed == nil || r.allowed[ext]
}

// FindReader returns the reader for a file name.
func (r *Registry) FindReader(name string) (Reader, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if !r.permits(ext) {
		return nil, fmt.Errorf("extension %q is not accepted", ext)
	}
	for _, rd := range r.readers {
		for _, e := range rd.Extensions() {
			if e == ext {
				return rd, nil
			}
		}
	}
	return nil, fmt.Errorf("no reader for extension %q", ext)
}

// Extensions returns every extension the registry can read.
func (r *Registry) Extensions() []string {
	var out []string
	seen := make(map[string]bool)
	for _, rd := range r.readers {
		for _, e := range rd.Extensions() {
			if !seen[e] && r.permits(e) {
				seen[e] = true
				out = append(out, e)
			}
		}
	}
	return out
}
