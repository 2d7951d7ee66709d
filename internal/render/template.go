// Package render merges records into a fixed document template.
package render

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/valyala/fasttemplate"

	"github.com/mailmerge/backend/internal/models"
)

const (
	startTag = "{{"
	endTag   = "}}"
)

type kind int

const (
	kindText kind = iota
	kindHTML
	kindContainer
)

var (
	// XML parts of word-processing containers that may carry placeholders.
	docxParts = regexp.MustCompile(`^word/(document|header\d*|footer\d*|footnotes|endnotes)\.xml$`)
	odtParts  = regexp.MustCompile(`^(content|styles)\.xml$`)

	xmlTags = regexp.MustCompile(`<[^>]*>`)
)

// Template is a loaded, immutable template. Every Render starts from the same
// pristine parsed state, so nothing leaks between records.
type Template struct {
	path string
	ext  string
	kind kind

	text *fasttemplate.Template

	// container templates
	raw   []byte
	parts map[string]*fasttemplate.Template
}

// Load reads and parses a template file. Supported: .html/.htm, .txt/.md and the
// .docx/.odt containers.
func Load(path string) (*Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &TemplateLoadError{Path: path, Err: err}
	}

	t := &Template{path: path, ext: strings.ToLower(filepath.Ext(path))}
	switch t.ext {
	case ".html", ".htm":
		t.kind = kindHTML
	case ".txt", ".md":
		t.kind = kindText
	case ".docx":
		t.kind = kindContainer
		err = t.loadContainer(raw, "word/document.xml", docxParts)
	case ".odt":
		t.kind = kindContainer
		err = t.loadContainer(raw, "content.xml", odtParts)
	default:
		err = fmt.Errorf("unsupported template type %q", t.ext)
	}
	if err != nil {
		return nil, &TemplateLoadError{Path: path, Err: err}
	}

	if t.kind != kindContainer {
		t.text, err = fasttemplate.NewTemplate(string(raw), startTag, endTag)
		if err != nil {
			return nil, &TemplateLoadError{Path: path, Err: err}
		}
	}
	return t, nil
}

func (t *Template) loadContainer(raw []byte, required string, templated *regexp.Regexp) error {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return fmt.Errorf("opening container: %w", err)
	}

	t.raw = raw
	t.parts = make(map[string]*fasttemplate.Template)
	found := false
	for _, f := range zr.File {
		if f.Name == required {
			found = true
		}
		if !templated.MatchString(f.Name) {
			continue
		}
		content, err := readZipFile(f)
		if err != nil {
			return fmt.Errorf("reading part %s: %w", f.Name, err)
		}
		tmpl, err := fasttemplate.NewTemplate(string(content), startTag, endTag)
		if err != nil {
			return fmt.Errorf("parsing part %s: %w", f.Name, err)
		}
		t.parts[f.Name] = tmpl
	}
	if !found {
		return fmt.Errorf("container has no %s part", required)
	}
	return nil
}

// Path returns the template file path.
func (t *Template) Path() string {
	return t.path
}

// Ext returns the lower-case extension of rendered documents.
func (t *Template) Ext() string {
	return t.ext
}

// Render writes dir/name{ext} for rec. Placeholders naming fields absent from the
// record are left as they are.
func (t *Template) Render(rec models.Record, dir, name string) (models.Document, error) {
	doc := models.Document{Path: filepath.Join(dir, name+t.ext), Name: name}

	var err error
	if t.kind == kindContainer {
		err = t.renderContainer(rec.Map(), doc.Path)
	} else {
		escape := identity
		if t.kind == kindHTML {
			escape = html.EscapeString
		}
		out := t.text.ExecuteFuncString(bindFunc(rec.Map(), escape, false))
		err = os.WriteFile(doc.Path, []byte(out), 0644)
	}
	if err != nil {
		os.Remove(doc.Path)
		return models.Document{}, &RenderError{Position: rec.Position(), Err: err}
	}
	return doc, nil
}

func (t *Template) renderContainer(values map[string]string, dest string) error {
	zr, err := zip.NewReader(bytes.NewReader(t.raw), int64(len(t.raw)))
	if err != nil {
		return err
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, f := range zr.File {
		hdr := f.FileHeader
		w, err := zw.CreateHeader(&hdr)
		if err != nil {
			return fmt.Errorf("creating part %s: %w", f.Name, err)
		}

		if tmpl, ok := t.parts[f.Name]; ok {
			_, err = tmpl.ExecuteFunc(w, bindFunc(values, escapeXML, true))
		} else {
			err = copyZipFile(w, f)
		}
		if err != nil {
			return fmt.Errorf("writing part %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return out.Close()
}

// bindFunc resolves a placeholder against the record values. When markup is set
// the tag may span several XML runs; the runs are joined on substitution.
func bindFunc(values map[string]string, escape func(string) string, markup bool) fasttemplate.TagFunc {
	return func(w io.Writer, tag string) (int, error) {
		key := tag
		if markup {
			key = xmlTags.ReplaceAllString(key, "")
		}
		v, ok := values[strings.TrimSpace(key)]
		if !ok {
			return w.Write([]byte(startTag + tag + endTag))
		}
		return w.Write([]byte(escape(v)))
	}
}

func identity(s string) string {
	return s
}

func escapeXML(s string) string {
	var b bytes.Buffer
	xml.EscapeText(&b, []byte(s))
	return b.String()
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func copyZipFile(w io.Writer, f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(w, rc)
	return err
}
