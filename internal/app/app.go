// Package app wires the configured pipeline, job manager and stores together.
// Both the HTTP server and the command-line tool start from here.
package app

import (
	"fmt"
	"os"

	"github.com/mailmerge/backend/internal/archive"
	"github.com/mailmerge/backend/internal/batch"
	"github.com/mailmerge/backend/internal/config"
	"github.com/mailmerge/backend/internal/convert"
	"github.com/mailmerge/backend/internal/extract"
	"github.com/mailmerge/backend/internal/history"
	"github.com/mailmerge/backend/internal/jobs"
	"github.com/mailmerge/backend/internal/storage"
	"github.com/mailmerge/backend/internal/watcher"
)

// App holds the long-lived components built from one configuration.
type App struct {
	Config    *config.AppConfig
	Converter convert.Converter
	Pipeline  *batch.Pipeline
	Store     *storage.LocalStore
	Jobs      *jobs.Manager

	// History is nil when the ledger could not be opened.
	History *history.Store
}

// New builds every component from cfg. Directories must already exist.
func New(cfg *config.AppConfig) (*App, error) {
	schema, err := config.LoadSchema(cfg.Merge.SchemaFile, cfg.Merge.IdentifierField)
	if err != nil {
		return nil, err
	}

	conv, err := convert.New(convert.Options{
		Engine: cfg.Conversion.Engine,
		Binary: cfg.Conversion.Binary,
		Format: cfg.Conversion.TargetFormat,
	})
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(cfg.Merge.TemplateFile); err != nil {
		fmt.Printf("[App] Warning: template %s is not readable yet: %v\n", cfg.Merge.TemplateFile, err)
	}

	store, err := storage.NewLocalStore(cfg.Storage.UploadsDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a := &App{
		Config:    cfg,
		Converter: conv,
		Store:     store,
	}

	var recorder batch.Recorder
	if hist, err := history.Open(cfg.Storage.HistoryDatabase, cfg.Advanced.DuckDBThreads); err != nil {
		fmt.Printf("[App] Warning: batch history disabled: %v\n", err)
	} else {
		a.History = hist
		recorder = hist
	}

	orchestrator := batch.NewOrchestrator(conv,
		batch.WithIdentifier(schema.Identifier),
		batch.WithArtifactPrefix(cfg.Merge.ArtifactPrefix),
		batch.WithRetry(batch.RetryPolicy{
			MaxAttempts: cfg.Conversion.MaxAttempts,
			Delay:       cfg.RetryDelay(),
		}),
	)

	registry := extract.NewRegistry()
	registry.Restrict(cfg.InputExtensions())

	a.Pipeline = batch.NewPipeline(batch.PipelineConfig{
		TemplatePath: cfg.Merge.TemplateFile,
		OutputRoot:   cfg.Storage.OutputDirectory,
		DirPrefix:    cfg.Merge.BatchDirPrefix,
		LabelLayout:  cfg.Merge.LabelLayout,
		Schema:       schema,
	}, extract.NewExtractorWithRegistry(registry), orchestrator, archive.NewArchiver(cfg.Storage.ArchiveDirectory), recorder)

	a.Jobs = jobs.NewManager(a.Pipeline, store)

	return a, nil
}

// NewWatcher returns a watcher over the configured inbox, or nil when
// watching is disabled.
func (a *App) NewWatcher() *watcher.Watcher {
	if !a.Config.Watcher.Enabled {
		return nil
	}
	return watcher.New(a.Config.Storage.WatchDirectory, a.Pipeline.Accepts, a.Pipeline, a.Config.SettleDelay())
}

// Close waits for running jobs and releases the history database.
func (a *App) Close() error {
	a.Jobs.Wait()
	if a.History != nil {
		return a.History.Close()
	}
	return nil
}
