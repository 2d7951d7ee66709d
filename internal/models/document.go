package models

import "path/filepath"

// Document is a rendered, not yet converted, document on disk.
type Document struct {
	// Path is the absolute location of the rendered file.
	Path string `json:"path"`
	// Name is the artifact base name, without extension.
	Name string `json:"name"`
}

// Dir returns the directory holding the document.
func (d Document) Dir() string {
	return filepath.Dir(d.Path)
}

// Ext returns the document's extension including the dot.
func (d Document) Ext() string {
	return filepath.Ext(d.Path)
}
