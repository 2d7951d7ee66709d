// Package extract reads tabular input files into validated, normalized records.
package extract

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mailmerge/backend/internal/models"
)

// Extractor validates a tabular source against an expected field list and emits
// one record per row.
type Extractor struct {
	registry *Registry
}

// NewExtractor creates an extractor with the built-in readers.
func NewExtractor() *Extractor {
	return &Extractor{registry: NewRegistry()}
}

// NewExtractorWithRegistry creates an extractor using a custom reader registry.
func NewExtractorWithRegistry(r *Registry) *Extractor {
	return &Extractor{registry: r}
}

// Registry returns the reader registry.
func (e *Extractor) Registry() *Registry {
	return e.registry
}

// ExtractFile reads the file at path, picking a reader from its extension.
func (e *Extractor) ExtractFile(path string, expected []string) ([]models.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &SourceReadError{Path: path, Err: err}
	}
	defer f.Close()

	return e.Extract(f, path, expected)
}

// Extract reads src, named name, and projects it onto the expected fields.
// Either every row becomes a record or an error is returned and no records are.
func (e *Extractor) Extract(src io.Reader, name string, expected []string) ([]models.Record, error) {
	rd, err := e.registry.FindReader(name)
	if err != nil {
		return nil, &SourceReadError{Path: name, Err: err}
	}

	table, err := rd.Read(src)
	if err != nil {
		return nil, &SourceReadError{Path: name, Err: err}
	}

	return Project(table, expected)
}

// Project validates the table's normalized headers against expected and builds
// the records. Columns not in expected are dropped.
func Project(table *Table, expected []string) ([]models.Record, error) {
	index := make(map[string]int, len(table.Columns))
	for i, col := range table.Columns {
		key := strings.ToLower(NormalizeHeader(col.Header))
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}

	cols := make([]int, len(expected))
	var missing []string
	for i, field := range expected {
		idx, ok := index[strings.ToLower(NormalizeHeader(field))]
		if !ok {
			missing = append(missing, field)
			continue
		}
		cols[i] = idx
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}

	records := make([]models.Record, table.Rows)
	values := make([]string, len(expected))
	for row := 0; row < table.Rows; row++ {
		for i, idx := range cols {
			values[i] = table.Columns[idx].Values[row]
		}
		records[row] = models.NewRecord(row+1, expected, values)
	}
	return records, nil
}

// ValidateName reports whether the registry can read a file with this name.
func (e *Extractor) ValidateName(name string) error {
	if _, err := e.registry.FindReader(name); err != nil {
		return fmt.Errorf("unsupported input file %s: %w", name, err)
	}
	return nil
}
