package jobs

import (
	"errors"

	"github.com/mailmerge/backend/internal/archive"
	"github.com/mailmerge/backend/internal/batch"
	"github.com/mailmerge/backend/internal/convert"
	"github.com/mailmerge/backend/internal/extract"
	"github.com/mailmerge/backend/internal/render"
)

// Error codes reported on jobs and API responses.
const (
	CodeSchema               = "SCHEMA_ERROR"
	CodeSourceRead           = "SOURCE_READ_ERROR"
	CodeTemplateLoad         = "TEMPLATE_LOAD_ERROR"
	CodeOutputDir            = "OUTPUT_DIR_ERROR"
	CodeConverterUnavailable = "CONVERTER_UNAVAILABLE"
	CodeArchive              = "ARCHIVE_ERROR"
	CodeInternal             = "INTERNAL_ERROR"
)

// ErrorCode classifies a pipeline error.
func ErrorCode(err error) string {
	var (
		schemaErr  *extract.SchemaError
		sourceErr  *extract.SourceReadError
		loadErr    *render.TemplateLoadError
		dirErr     *batch.OutputDirError
		sessErr    *convert.SessionError
		archiveErr *archive.ArchiveError
	)
	switch {
	case errors.As(err, &schemaErr):
		return CodeSchema
	case errors.As(err, &sourceErr):
		return CodeSourceRead
	case errors.As(err, &loadErr):
		return CodeTemplateLoad
	case errors.As(err, &dirErr):
		return CodeOutputDir
	case errors.As(err, &sessErr):
		return CodeConverterUnavailable
	case errors.As(err, &archiveErr):
		return CodeArchive
	default:
		return CodeInternal
	}
}

// MissingFields returns the fields listed by a schema error, if err is one.
func MissingFields(err error) []string {
	var schemaErr *extract.SchemaError
	if errors.As(err, &schemaErr) {
		return schemaErr.Missing
	}
	return nil
}
