// Package batch runs the mail-merge pipeline: one rendered and converted
// artifact per record, with per-record failures isolated from the rest of the
// batch.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mailmerge/backend/internal/convert"
	"github.com/mailmerge/backend/internal/models"
	"github.com/mailmerge/backend/internal/render"
)

// ProgressFunc is called with (completed, total) after every record attempt.
type ProgressFunc func(completed, total int)

// Orchestrator drives render and convert for every record of a batch.
type Orchestrator struct {
	converter  convert.Converter
	identifier string
	prefix     string
	retry      RetryPolicy
	sleep      func(time.Duration)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithIdentifier sets the field whose value names each artifact.
func WithIdentifier(field string) Option {
	return func(o *Orchestrator) { o.identifier = field }
}

// WithArtifactPrefix sets a fixed prefix for artifact names.
func WithArtifactPrefix(prefix string) Option {
	return func(o *Orchestrator) { o.prefix = prefix }
}

// WithRetry sets the per-record retry policy.
func WithRetry(p RetryPolicy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

// NewOrchestrator creates an orchestrator using conv for every batch.
func NewOrchestrator(conv convert.Converter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		converter:  conv,
		identifier: models.DefaultSchema().Identifier,
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes records strictly in order into outputDir. Render and convert
// failures are recorded on the result and the batch moves on; an output
// directory, template or conversion session failure aborts the batch.
//
// Records are not cancelled mid-batch: ctx is handed to the conversion engine
// only.
func (o *Orchestrator) Run(ctx context.Context, templatePath string, records []models.Record, outputDir, label string, onProgress ProgressFunc) (*models.BatchResult, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, &OutputDirError{Dir: outputDir, Err: err}
	}

	tmpl, err := render.Load(templatePath)
	if err != nil {
		return nil, err
	}

	sess, err := o.converter.Open(ctx)
	if err != nil {
		var sessErr *convert.SessionError
		if !errors.As(err, &sessErr) {
			err = &convert.SessionError{Engine: o.converter.Name(), Err: err}
		}
		return nil, err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			fmt.Printf("[Batch %s] Warning: closing %s session: %v\n", label, o.converter.Name(), err)
		}
	}()

	total := len(records)
	result := models.NewBatchResult(label, outputDir, total)
	result.Ext = convert.FinalExt(o.converter, tmpl.Ext())

	fmt.Printf("[Batch %s] Starting %d records (template %s, engine %s)\n", label, total, tmpl.Path(), o.converter.Name())

	keys := render.KeySet{}
	for i, rec := range records {
		key := render.RecordKey(rec, o.identifier)
		if unique := keys.Claim(key, rec.Position()); unique != key {
			fmt.Printf("[Batch %s] Warning: record %d repeats key %q, written as %q\n", label, rec.Position(), key, unique)
			key = unique
		}

		artifact, failure := o.process(ctx, sess, tmpl, rec, key, outputDir, label)
		if failure != nil {
			result.Failures = append(result.Failures, *failure)
			fmt.Printf("[Batch %s] Record %d (%s) failed at %s after %d attempt(s): %s\n",
				label, failure.Position, failure.Key, failure.Stage, failure.Attempts, failure.Reason)
		} else {
			result.Artifacts = append(result.Artifacts, *artifact)
			if i == 0 {
				preview := *artifact
				result.Preview = &preview
			}
		}

		if onProgress != nil {
			onProgress(i+1, total)
		}
	}

	result.FinishedAt = time.Now()
	fmt.Printf("[Batch %s] Finished: %d/%d artifacts in %v\n",
		label, result.Succeeded(), total, result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))

	return result, nil
}

func (o *Orchestrator) process(ctx context.Context, sess convert.Session, tmpl *render.Template, rec models.Record, key, outputDir, label string) (*models.Artifact, *models.RecordFailure) {
	name := render.ArtifactName(o.prefix, key, label)

	fail := func(stage models.Stage, attempts int, err error) *models.RecordFailure {
		return &models.RecordFailure{
			Position: rec.Position(),
			Key:      key,
			Stage:    stage,
			Attempts: attempts,
			Reason:   err.Error(),
		}
	}

	var doc models.Document
	attempts, err := o.retry.do(o.sleep, func() error {
		var renderErr error
		doc, renderErr = tmpl.Render(rec, outputDir, name)
		return renderErr
	})
	if err != nil {
		return nil, fail(models.StageRender, attempts, err)
	}

	var path string
	attempts, err = o.retry.do(o.sleep, func() error {
		var convErr error
		path, convErr = sess.Convert(ctx, doc)
		return convErr
	})
	if err != nil {
		return nil, fail(models.StageConvert, attempts, err)
	}

	return &models.Artifact{
		Position: rec.Position(),
		Key:      key,
		Name:     name,
		Path:     path,
	}, nil
}
