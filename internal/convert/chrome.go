package convert

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/mailmerge/backend/internal/models"
)

// ChromeConverter prints HTML documents to PDF with a headless Chromium that is
// started once per batch.
type ChromeConverter struct {
	binary string
}

// NewChromeConverter creates a converter; an empty binary lets the launcher
// find a local browser.
func NewChromeConverter(binary string) *ChromeConverter {
	return &ChromeConverter{binary: binary}
}

func (c *ChromeConverter) Name() string {
	return "chrome"
}

func (c *ChromeConverter) TargetExt() string {
	return ".pdf"
}

func (c *ChromeConverter) Open(ctx context.Context) (Session, error) {
	l := launcher.New().Headless(true).Leakless(false)
	if c.binary != "" {
		l = l.Bin(c.binary)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, &SessionError{Engine: c.Name(), Err: err}
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, &SessionError{Engine: c.Name(), Err: err}
	}
	return &chromeSession{launcher: l, browser: browser}, nil
}

type chromeSession struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
}

func (s *chromeSession) Convert(ctx context.Context, doc models.Document) (string, error) {
	ext := strings.ToLower(doc.Ext())
	if ext != ".html" && ext != ".htm" {
		return "", &ConversionError{Document: doc.Path, Err: fmt.Errorf("chrome engine cannot convert %s documents", ext)}
	}

	abs, err := filepath.Abs(doc.Path)
	if err != nil {
		return "", &ConversionError{Document: doc.Path, Err: err}
	}

	page, err := s.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "file://" + filepath.ToSlash(abs)})
	if err != nil {
		return "", &ConversionError{Document: doc.Path, Err: err}
	}
	defer page.Close()

	if err := page.WaitLoad(); err != nil {
		return "", &ConversionError{Document: doc.Path, Err: err}
	}

	stream, err := page.PDF(&proto.PagePrintToPDF{PrintBackground: true})
	if err != nil {
		return "", &ConversionError{Document: doc.Path, Err: err}
	}

	out := filepath.Join(doc.Dir(), doc.Name+".pdf")
	if err := writeStream(out, stream); err != nil {
		return "", &ConversionError{Document: doc.Path, Err: err}
	}
	return verifyArtifact(doc, out)
}

func (s *chromeSession) Close() error {
	err := s.browser.Close()
	s.launcher.Kill()
	s.launcher.Cleanup()
	return err
}

func writeStream(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
