package render

import "fmt"

// TemplateLoadError reports a template that is missing or structurally invalid.
// It is fatal for the whole batch.
type TemplateLoadError struct {
	Path string
	Err  error
}

func (e *TemplateLoadError) Error() string {
	return fmt.Sprintf("loading template %s: %v", e.Path, e.Err)
}

func (e *TemplateLoadError) Unwrap() error {
	return e.Err
}

// RenderError reports a failure rendering one record.
type RenderError struct {
	Position int
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("rendering record %d: %v", e.Position, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}
