package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mailmerge/backend/internal/archive"
	"github.com/mailmerge/backend/internal/extract"
	"github.com/mailmerge/backend/internal/models"
)

// DefaultLabelLayout formats the batch start time into its label.
const DefaultLabelLayout = "2006-01-02_15-04-05"

// DefaultDirPrefix prefixes every batch output directory.
const DefaultDirPrefix = "batches_"

// Recorder persists finished batches.
type Recorder interface {
	Record(ctx context.Context, entry models.HistoryEntry) error
}

// PipelineConfig fixes everything a pipeline run needs apart from the input.
// It is resolved once and never re-read per run.
type PipelineConfig struct {
	TemplatePath string
	OutputRoot   string
	DirPrefix    string
	LabelLayout  string
	Schema       models.Schema
}

// Pipeline runs extraction, the batch, and archiving for one input file.
// Runs are serialized: the HTTP jobs and the watcher share one pipeline and one
// conversion engine.
type Pipeline struct {
	mu           sync.Mutex
	cfg          PipelineConfig
	extractor    *extract.Extractor
	orchestrator *Orchestrator
	archiver     *archive.Archiver
	recorder     Recorder
	now          func() time.Time
}

// NewPipeline wires a pipeline. recorder may be nil.
func NewPipeline(cfg PipelineConfig, extractor *extract.Extractor, orchestrator *Orchestrator, archiver *archive.Archiver, recorder Recorder) *Pipeline {
	if cfg.DirPrefix == "" {
		cfg.DirPrefix = DefaultDirPrefix
	}
	if cfg.LabelLayout == "" {
		cfg.LabelLayout = DefaultLabelLayout
	}
	if len(cfg.Schema.Fields) == 0 {
		cfg.Schema = models.DefaultSchema()
	}
	return &Pipeline{
		cfg:          cfg,
		extractor:    extractor,
		orchestrator: orchestrator,
		archiver:     archiver,
		recorder:     recorder,
		now:          time.Now,
	}
}

// Extensions lists the input extensions the pipeline accepts.
func (p *Pipeline) Extensions() []string {
	return p.extractor.Registry().Extensions()
}

// Accepts reports whether name has an accepted input extension.
func (p *Pipeline) Accepts(name string) bool {
	return p.extractor.ValidateName(name) == nil
}

// BundleName returns the download name of a batch's bundle.
func (p *Pipeline) BundleName(label string) string {
	return p.cfg.DirPrefix + label + ".zip"
}

// Process runs the whole pipeline for the file at inputPath, archiving it as
// originalName once the batch has run.
//
// A fatal error returns no result. An archive failure returns both the result
// and an *archive.ArchiveError; the artifacts are kept.
func (p *Pipeline) Process(ctx context.Context, inputPath, originalName string, onProgress ProgressFunc) (*models.BatchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if originalName == "" {
		originalName = filepath.Base(inputPath)
	}
	started := p.now()

	records, err := p.extractor.ExtractFile(inputPath, p.cfg.Schema.Fields)
	if err != nil {
		p.recordFatal(ctx, started.Format(p.cfg.LabelLayout), originalName, "", started, err)
		return nil, err
	}

	label, outputDir, err := p.newBatchDir(started)
	if err != nil {
		err = &OutputDirError{Dir: p.cfg.OutputRoot, Err: err}
		p.recordFatal(ctx, started.Format(p.cfg.LabelLayout), originalName, "", started, err)
		return nil, err
	}

	fmt.Printf("[Batch %s] %s: %d records -> %s\n", label, originalName, len(records), outputDir)

	result, err := p.orchestrator.Run(ctx, p.cfg.TemplatePath, records, outputDir, label, onProgress)
	if err != nil {
		p.recordFatal(ctx, label, originalName, outputDir, started, err)
		return nil, err
	}
	result.SourceName = originalName
	result.StartedAt = started

	var archiveErr error
	if p.archiver != nil {
		dest, err := p.archiver.Archive(inputPath, originalName)
		if err != nil {
			fmt.Printf("[Batch %s] Warning: %v\n", label, err)
			archiveErr = err
		} else {
			result.ArchivePath = dest
		}
	}

	entry := historyEntry(result)
	if archiveErr != nil {
		entry.Error = archiveErr.Error()
	}
	p.record(ctx, entry)

	return result, archiveErr
}

// newBatchDir creates the output directory of a new batch under the first label
// not taken yet.
func (p *Pipeline) newBatchDir(started time.Time) (string, string, error) {
	base := filepath.Join(p.cfg.OutputRoot, p.cfg.DirPrefix+started.Format(p.cfg.LabelLayout))
	dir, err := archive.ReserveDir(base)
	if err != nil {
		return "", "", err
	}
	label := strings.TrimPrefix(filepath.Base(dir), p.cfg.DirPrefix)
	return label, dir, nil
}

func (p *Pipeline) recordFatal(ctx context.Context, label, sourceName, outputDir string, started time.Time, cause error) {
	fmt.Printf("[Batch %s] ERROR: %s: %v\n", label, sourceName, cause)
	p.record(ctx, models.HistoryEntry{
		Label:      label,
		SourceName: sourceName,
		OutputDir:  outputDir,
		Outcome:    models.OutcomeFatal,
		Error:      cause.Error(),
		StartedAt:  started,
		FinishedAt: p.now(),
	})
}

func (p *Pipeline) record(ctx context.Context, entry models.HistoryEntry) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.Record(ctx, entry); err != nil {
		fmt.Printf("[Batch %s] Warning: failed to record history: %v\n", entry.Label, err)
	}
}

func historyEntry(r *models.BatchResult) models.HistoryEntry {
	return models.HistoryEntry{
		Label:       r.Label,
		SourceName:  r.SourceName,
		ArchivePath: r.ArchivePath,
		OutputDir:   r.OutputDir,
		Outcome:     r.Outcome(),
		Total:       r.Total,
		Succeeded:   r.Succeeded(),
		Failed:      r.Failed(),
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		Failures:    r.Failures,
	}
}
