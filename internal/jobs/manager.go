// Package jobs runs uploaded files through the batch pipeline in the
// background and keeps pollable snapshots of their progress.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mailmerge/backend/internal/batch"
	"github.com/mailmerge/backend/internal/models"
	"github.com/mailmerge/backend/internal/storage"
)

// Runner runs one input file through the pipeline.
type Runner interface {
	Process(ctx context.Context, inputPath, originalName string, onProgress batch.ProgressFunc) (*models.BatchResult, error)
}

// Store defines the interface needed from storage layer.
type Store interface {
	GetFilePath(id string) (string, error)
	SetStatus(id, status string) error
	Delete(id string) error
}

// Manager handles async batch jobs. Jobs are accepted concurrently but run one
// at a time because they share the conversion engine.
type Manager struct {
	jobs   map[string]*models.BatchJob
	mu     sync.RWMutex
	runMu  sync.Mutex
	runner Runner
	store  Store
	wg     sync.WaitGroup
}

// NewManager creates a new batch job manager.
func NewManager(runner Runner, store Store) *Manager {
	return &Manager{
		jobs:   make(map[string]*models.BatchJob),
		runner: runner,
		store:  store,
	}
}

// StartJob queues a staged file and returns a snapshot of the new job.
func (m *Manager) StartJob(fileID, fileName string) *models.BatchJob {
	job := models.NewBatchJob(uuid.New().String(), fileID, fileName)

	m.mu.Lock()
	m.jobs[job.ID] = job
	snapshot := *job
	m.mu.Unlock()

	m.wg.Add(1)
	go m.processJob(job)

	return &snapshot
}

// GetJob returns a snapshot of a job by ID.
func (m *Manager) GetJob(id string) (*models.BatchJob, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

// Wait blocks until every started job has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// processJob handles the actual async processing.
func (m *Manager) processJob(job *models.BatchJob) {
	defer m.wg.Done()

	short := job.ID[:8]
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("[BatchJob %s] PANIC recovered: %v\n", short, r)
			m.markJobError(job, CodeInternal, fmt.Sprintf("batch panicked: %v", r), nil)
			m.releaseFile(job.FileID)
		}
	}()

	m.runMu.Lock()
	defer m.runMu.Unlock()

	fmt.Printf("[BatchJob %s] Starting: %s\n", short, job.FileName)
	m.updateJobStatus(job, models.JobStatusExtracting, 0, 0)

	path, err := m.store.GetFilePath(job.FileID)
	if err != nil {
		m.markJobError(job, CodeSourceRead, fmt.Sprintf("staged file unavailable: %v", err), nil)
		return
	}
	m.setFileStatus(job.FileID, storage.StatusProcessing)

	onProgress := func(completed, total int) {
		status := models.JobStatusProcessing
		if completed == total {
			status = models.JobStatusArchiving
		}
		m.updateJobStatus(job, status, completed, total)
	}

	// Once started a batch always runs to completion.
	result, err := m.runner.Process(context.Background(), path, job.FileName, onProgress)
	if err != nil && result == nil {
		m.markJobError(job, ErrorCode(err), err.Error(), MissingFields(err))
		m.releaseFile(job.FileID)
		return
	}

	warning := ""
	if err != nil {
		warning = err.Error()
	}
	// An archived input has already left the staging dir; this only forgets it.
	m.releaseFile(job.FileID)
	m.markJobComplete(job, result, warning)
	fmt.Printf("[BatchJob %s] Complete: %d/%d artifacts (%s)\n", short, result.Succeeded(), result.Total, result.Outcome())
}

func (m *Manager) setFileStatus(fileID, status string) {
	if err := m.store.SetStatus(fileID, status); err != nil {
		fmt.Printf("[BatchJob] Warning: failed to update file %s: %v\n", fileID, err)
	}
}

// releaseFile drops a staged upload once its job has finished.
func (m *Manager) releaseFile(fileID string) {
	if err := m.store.Delete(fileID); err != nil {
		fmt.Printf("[BatchJob] Warning: failed to release file %s: %v\n", fileID, err)
	}
}

// updateJobStatus updates job progress (thread-safe).
func (m *Manager) updateJobStatus(job *models.BatchJob, status models.JobStatus, completed, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = status
	job.Completed = completed
	job.Total = total
	if total > 0 {
		job.Progress = float64(completed) * 100 / float64(total)
	}
}

// markJobComplete marks job as complete or partial (thread-safe).
func (m *Manager) markJobComplete(job *models.BatchJob, result *models.BatchResult, warning string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = models.JobStatusComplete
	if result.Outcome() == models.OutcomePartial {
		job.Status = models.JobStatusPartial
	}
	job.Result = result
	job.Completed = result.Total
	job.Total = result.Total
	job.Progress = 100
	if warning != "" {
		job.Warning = warning
		job.ErrorCode = CodeArchive
	}
	now := time.Now()
	job.CompletedAt = &now
}

// markJobError marks job as failed (thread-safe).
func (m *Manager) markJobError(job *models.BatchJob, code, errMsg string, missing []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = models.JobStatusError
	job.Error = errMsg
	job.ErrorCode = code
	job.Missing = missing
	now := time.Now()
	job.CompletedAt = &now
	fmt.Printf("[BatchJob %s] Error: %s\n", job.ID[:8], errMsg)
}

// CleanupOldJobs removes finished jobs older than the specified duration.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for id, job := range m.jobs {
		if job.Status.Done() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}
