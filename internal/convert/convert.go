// Package convert turns rendered documents into their distributable format.
//
// A Converter is chosen once from configuration. The orchestrator opens one
// Session per batch and closes it on every exit path; sessions are not safe for
// concurrent use, so records are converted one after another.
package convert

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mailmerge/backend/internal/models"
)

// Converter is a conversion engine.
type Converter interface {
	// Name returns the engine name used in configuration.
	Name() string
	// TargetExt is the extension of produced artifacts, e.g. ".pdf". An empty
	// value means artifacts keep the rendered document's extension.
	TargetExt() string
	// Open acquires the engine for one batch.
	Open(ctx context.Context) (Session, error)
}

// Session converts documents for the lifetime of one batch.
type Session interface {
	// Convert blocks until the artifact exists and returns its path. On
	// success the intermediate document has been removed.
	Convert(ctx context.Context, doc models.Document) (string, error)
	// Close releases the engine.
	Close() error
}

// Options configures the built-in engines.
type Options struct {
	// Engine is one of "soffice", "chrome" or "none".
	Engine string
	// Binary overrides the engine executable path.
	Binary string
	// Format is the target format, e.g. "pdf".
	Format string
}

// New returns the converter named by opts.Engine.
func New(opts Options) (Converter, error) {
	format := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(opts.Format)), ".")
	if format == "" {
		format = "pdf"
	}

	switch strings.ToLower(strings.TrimSpace(opts.Engine)) {
	case "soffice", "libreoffice", "":
		return NewSofficeConverter(opts.Binary, format), nil
	case "chrome", "chromium":
		if format != "pdf" {
			return nil, fmt.Errorf("chrome engine only produces pdf, not %s", format)
		}
		return NewChromeConverter(opts.Binary), nil
	case "none", "passthrough":
		return NewPassthroughConverter(), nil
	default:
		return nil, fmt.Errorf("unknown conversion engine: %s", opts.Engine)
	}
}

// FinalExt returns the extension artifacts will carry for a template extension.
func FinalExt(c Converter, templateExt string) string {
	if ext := c.TargetExt(); ext != "" {
		return ext
	}
	return templateExt
}

// verifyArtifact checks that the engine produced out and then removes the
// intermediate document.
func verifyArtifact(doc models.Document, out string) (string, error) {
	info, err := os.Stat(out)
	if err != nil {
		return "", &ConversionError{Document: doc.Path, Err: fmt.Errorf("artifact did not materialize at %s", out)}
	}
	if info.IsDir() {
		return "", &ConversionError{Document: doc.Path, Err: fmt.Errorf("artifact path %s is a directory", out)}
	}
	if out != doc.Path {
		if err := os.Remove(doc.Path); err != nil && !os.IsNotExist(err) {
			fmt.Printf("[Convert] Warning: failed to remove intermediate %s: %v\n", doc.Path, err)
		}
	}
	return out, nil
}
