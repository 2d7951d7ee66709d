package convert

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mailmerge/backend/internal/models"
)

// SofficeConverter drives a headless LibreOffice process per document. Each
// batch gets a private user profile so runs never share engine state.
type SofficeConverter struct {
	binary string
	format string
}

// NewSofficeConverter creates a converter; binary defaults to "soffice".
func NewSofficeConverter(binary, format string) *SofficeConverter {
	if binary == "" {
		binary = "soffice"
	}
	return &SofficeConverter{binary: binary, format: format}
}

func (s *SofficeConverter) Name() string {
	return "soffice"
}

func (s *SofficeConverter) TargetExt() string {
	return "." + s.format
}

// Open resolves the executable and creates the per-batch profile directory.
func (s *SofficeConverter) Open(ctx context.Context) (Session, error) {
	bin, err := exec.LookPath(s.binary)
	if err != nil {
		return nil, &SessionError{Engine: s.Name(), Err: err}
	}
	profile, err := os.MkdirTemp("", "mailmerge-soffice-")
	if err != nil {
		return nil, &SessionError{Engine: s.Name(), Err: err}
	}
	return &sofficeSession{bin: bin, format: s.format, profile: profile}, nil
}

type sofficeSession struct {
	bin     string
	format  string
	profile string
}

// Convert runs the engine with no timeout of its own: a hung engine hangs the batch.
func (s *sofficeSession) Convert(ctx context.Context, doc models.Document) (string, error) {
	profileURL := (&url.URL{Scheme: "file", Path: filepath.ToSlash(s.profile)}).String()
	cmd := exec.CommandContext(ctx, s.bin,
		"-env:UserInstallation="+profileURL,
		"--headless",
		"--norestore",
		"--convert-to", s.format,
		"--outdir", doc.Dir(),
		doc.Path,
	)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(output.String())
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return "", &ConversionError{Document: doc.Path, Err: err}
	}

	return verifyArtifact(doc, filepath.Join(doc.Dir(), doc.Name+"."+s.format))
}

func (s *sofficeSession) Close() error {
	return os.RemoveAll(s.profile)
}
