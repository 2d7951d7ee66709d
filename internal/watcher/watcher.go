// Package watcher triggers the batch pipeline for every input file dropped
// into a directory.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mailmerge/backend/internal/batch"
	"github.com/mailmerge/backend/internal/models"
)

// State is the watcher lifecycle state.
type State int

const (
	StateIdle State = iota
	StateWatching
	StateDispatching
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWatching:
		return "watching"
	case StateDispatching:
		return "dispatching"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Runner runs one detected file through the pipeline.
type Runner interface {
	Process(ctx context.Context, inputPath, originalName string, onProgress batch.ProgressFunc) (*models.BatchResult, error)
}

// Watcher observes one directory. Files are dispatched one at a time; a run
// always completes before the next event is considered.
type Watcher struct {
	dir    string
	accept func(name string) bool
	runner Runner
	settle time.Duration

	mu    sync.RWMutex
	state State
	ready chan struct{}
}

// New creates a watcher for dir. accept decides which file names are inputs.
func New(dir string, accept func(name string) bool, runner Runner, settle time.Duration) *Watcher {
	return &Watcher{
		dir:    dir,
		accept: accept,
		runner: runner,
		settle: settle,
		ready:  make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (w *Watcher) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Ready is closed once the directory subscription is active.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Run watches until ctx is cancelled. Cancellation is honoured between
// dispatches only; an in-flight batch runs to completion first.
func (w *Watcher) Run(ctx context.Context) error {
	if w.State() != StateIdle {
		return errors.New("watcher already started")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.setState(StateStopped)
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		w.setState(StateStopped)
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	w.setState(StateWatching)
	close(w.ready)
	fmt.Printf("[Watcher] Watching %s\n", w.dir)
	defer func() {
		w.setState(StateStopped)
		fmt.Printf("[Watcher] Stopped\n")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			w.handle(ctx, event.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			fmt.Printf("[Watcher] Warning: %v\n", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, path string) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") || !w.accept(name) {
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	fmt.Printf("[Watcher] New file detected: %s\n", name)
	if !w.waitStable(ctx, path, info.Size()) {
		return
	}

	w.setState(StateDispatching)
	defer w.setState(StateWatching)

	result, err := w.runner.Process(context.WithoutCancel(ctx), path, name, func(completed, total int) {
		fmt.Printf("[Watcher] %s: %d/%d\n", name, completed, total)
	})
	switch {
	case err != nil && result == nil:
		fmt.Printf("[Watcher] ERROR processing %s: %v\n", name, err)
	case err != nil:
		fmt.Printf("[Watcher] %s processed (%d/%d artifacts) with warning: %v\n", name, result.Succeeded(), result.Total, err)
	default:
		fmt.Printf("[Watcher] %s processed: %d/%d artifacts -> %s\n", name, result.Succeeded(), result.Total, result.OutputDir)
	}
}

// waitStable polls until the file size stays the same for one settle interval.
// It gives up when the file disappears or ctx is cancelled.
func (w *Watcher) waitStable(ctx context.Context, path string, size int64) bool {
	if w.settle <= 0 {
		return true
	}
	timer := time.NewTimer(w.settle)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
		}

		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		if info.Size() == size {
			return true
		}
		size = info.Size()
		timer.Reset(w.settle)
	}
}
