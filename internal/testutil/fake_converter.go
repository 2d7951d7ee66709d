package testutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mailmerge/backend/internal/convert"
	"github.com/mailmerge/backend/internal/models"
)

// FakeConverter implements convert.Converter by copying the rendered document to
// a ".pdf" sibling prefixed with "PDF:". Failures can be scripted per artifact name.
type FakeConverter struct {
	mu sync.Mutex

	// FailNames makes Convert fail for documents with these names. The value is
	// how many times to fail before succeeding; a negative value fails forever.
	FailNames map[string]int
	// OpenErr is returned from Open when set.
	OpenErr error

	Opens    int
	Closes   int
	Calls    []string
	inFlight int
	// MaxInFlight records the highest number of concurrent Convert calls.
	MaxInFlight int
	// MaxOpen records the highest number of sessions open at once.
	MaxOpen int
}

// NewFakeConverter creates a converter that never fails.
func NewFakeConverter() *FakeConverter {
	return &FakeConverter{FailNames: make(map[string]int)}
}

var _ convert.Converter = (*FakeConverter)(nil)

func (f *FakeConverter) Name() string {
	return "fake"
}

func (f *FakeConverter) TargetExt() string {
	return ".pdf"
}

func (f *FakeConverter) Open(ctx context.Context) (convert.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	f.Opens++
	if open := f.Opens - f.Closes; open > f.MaxOpen {
		f.MaxOpen = open
	}
	return &fakeSession{conv: f}, nil
}

// CloseCount returns how many sessions were released.
func (f *FakeConverter) CloseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Closes
}

type fakeSession struct {
	conv *FakeConverter
}

func (s *fakeSession) Convert(ctx context.Context, doc models.Document) (string, error) {
	f := s.conv
	f.mu.Lock()
	f.Calls = append(f.Calls, doc.Name)
	f.inFlight++
	if f.inFlight > f.MaxInFlight {
		f.MaxInFlight = f.inFlight
	}
	remaining, scripted := f.FailNames[doc.Name]
	if scripted && remaining > 0 {
		f.FailNames[doc.Name] = remaining - 1
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if scripted && remaining != 0 {
		return "", &convert.ConversionError{Document: doc.Path, Err: errors.New("engine exited with status 1")}
	}

	data, err := os.ReadFile(doc.Path)
	if err != nil {
		return "", &convert.ConversionError{Document: doc.Path, Err: err}
	}
	out := filepath.Join(doc.Dir(), doc.Name+".pdf")
	if err := os.WriteFile(out, append([]byte("PDF:"), data...), 0644); err != nil {
		return "", &convert.ConversionError{Document: doc.Path, Err: fmt.Errorf("writing artifact: %w", err)}
	}
	if err := os.Remove(doc.Path); err != nil {
		return "", &convert.ConversionError{Document: doc.Path, Err: err}
	}
	return out, nil
}

func (s *fakeSession) Close() error {
	s.conv.mu.Lock()
	defer s.conv.mu.Unlock()
	s.conv.Closes++
	return nil
}
