package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailmerge/backend/internal/archive"
	"github.com/mailmerge/backend/internal/batch"
	"github.com/mailmerge/backend/internal/extract"
	"github.com/mailmerge/backend/internal/models"
	"github.com/mailmerge/backend/internal/storage"
)

type fakeStore struct {
	mu       sync.Mutex
	statuses map[string]string
	deleted  map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{statuses: make(map[string]string), deleted: make(map[string]bool)}
}

func (s *fakeStore) GetFilePath(id string) (string, error) {
	if id == "missing" {
		return "", fmt.Errorf("file not found: %s", id)
	}
	return "/staged/" + id + ".xlsx", nil
}

func (s *fakeStore) SetStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
	return nil
}

func (s *fakeStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "missing" {
		return fmt.Errorf("file not found: %s", id)
	}
	s.deleted[id] = true
	return nil
}

func (s *fakeStore) wasDeleted(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted[id]
}

func (s *fakeStore) status(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[id]
}

type fakeRunner struct {
	mu       sync.Mutex
	running  int
	maxSeen  int
	total    int
	fail     map[string]int // record positions failing, per file
	err      error
	keepRes  bool
	release  chan struct{}
	panicMsg string
}

func (r *fakeRunner) Process(ctx context.Context, inputPath, originalName string, onProgress batch.ProgressFunc) (*models.BatchResult, error) {
	r.mu.Lock()
	r.running++
	if r.running > r.maxSeen {
		r.maxSeen = r.running
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running--
		r.mu.Unlock()
	}()

	if r.panicMsg != "" {
		panic(r.panicMsg)
	}
	if r.release != nil {
		<-r.release
	}

	result := models.NewBatchResult("L", "/out/batches_L", r.total)
	for i := 1; i <= r.total; i++ {
		if i == r.fail[originalName] {
			result.Failures = append(result.Failures, models.RecordFailure{Position: i, Stage: models.StageConvert})
		} else {
			result.Artifacts = append(result.Artifacts, models.Artifact{Position: i})
		}
		onProgress(i, r.total)
	}
	if r.err != nil && !r.keepRes {
		return nil, r.err
	}
	return result, r.err
}

func waitDone(t *testing.T, m *Manager, id string) *models.BatchJob {
	t.Helper()
	m.Wait()
	job, ok := m.GetJob(id)
	require.True(t, ok)
	require.True(t, job.Status.Done(), "status %s", job.Status)
	return job
}

func TestJobComplete(t *testing.T) {
	store := newFakeStore()
	m := NewManager(&fakeRunner{total: 3}, store)

	started := m.StartJob("file-1", "input.xlsx")
	assert.Equal(t, models.JobStatusQueued, started.Status)

	job := waitDone(t, m, started.ID)
	assert.Equal(t, models.JobStatusComplete, job.Status)
	assert.Equal(t, 100.0, job.Progress)
	assert.Equal(t, 3, job.Completed)
	require.NotNil(t, job.Result)
	assert.Equal(t, 3, job.Result.Succeeded())
	assert.NotNil(t, job.CompletedAt)
	assert.True(t, store.wasDeleted("file-1"))
}

func TestJobPartial(t *testing.T) {
	m := NewManager(&fakeRunner{total: 3, fail: map[string]int{"input.xlsx": 2}}, newFakeStore())

	job := waitDone(t, m, m.StartJob("file-1", "input.xlsx").ID)
	assert.Equal(t, models.JobStatusPartial, job.Status)
	assert.Equal(t, 1, job.Result.Failed())
}

func TestJobSchemaError(t *testing.T) {
	store := newFakeStore()
	runner := &fakeRunner{err: &extract.SchemaError{Missing: []string{"Matricule", "Date_Liq"}}}
	m := NewManager(runner, store)

	job := waitDone(t, m, m.StartJob("file-1", "input.xlsx").ID)
	assert.Equal(t, models.JobStatusError, job.Status)
	assert.Equal(t, CodeSchema, job.ErrorCode)
	assert.Equal(t, []string{"Matricule", "Date_Liq"}, job.Missing)
	assert.Nil(t, job.Result)
	assert.Equal(t, storage.StatusProcessing, store.status("file-1"))
	assert.True(t, store.wasDeleted("file-1"))
}

func TestJobFailureRemovesStagedUpload(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	info, err := store.Save("Allocataires.xlsx", strings.NewReader("not a workbook"))
	require.NoError(t, err)
	path, err := store.GetFilePath(info.ID)
	require.NoError(t, err)

	runner := &fakeRunner{err: &extract.SourceReadError{Path: path, Err: fmt.Errorf("zip: not a valid zip file")}}
	m := NewManager(runner, store)

	job := waitDone(t, m, m.StartJob(info.ID, info.Name).ID)
	assert.Equal(t, CodeSourceRead, job.ErrorCode)
	assert.NoFileExists(t, path)
	_, err = store.GetFilePath(info.ID)
	assert.Error(t, err)
}

func TestJobArchiveWarning(t *testing.T) {
	store := newFakeStore()
	runner := &fakeRunner{total: 1, err: &archive.ArchiveError{Source: "/staged/x", Err: fmt.Errorf("disk full")}, keepRes: true}
	m := NewManager(runner, store)

	job := waitDone(t, m, m.StartJob("file-1", "input.xlsx").ID)
	assert.Equal(t, models.JobStatusComplete, job.Status)
	assert.Equal(t, CodeArchive, job.ErrorCode)
	assert.Contains(t, job.Warning, "disk full")
	assert.True(t, store.wasDeleted("file-1"))
}

func TestJobMissingStagedFile(t *testing.T) {
	m := NewManager(&fakeRunner{total: 1}, newFakeStore())

	job := waitDone(t, m, m.StartJob("missing", "input.xlsx").ID)
	assert.Equal(t, models.JobStatusError, job.Status)
	assert.Equal(t, CodeSourceRead, job.ErrorCode)
}

func TestJobPanicIsRecovered(t *testing.T) {
	store := newFakeStore()
	m := NewManager(&fakeRunner{panicMsg: "boom"}, store)

	job := waitDone(t, m, m.StartJob("file-1", "input.xlsx").ID)
	assert.Equal(t, models.JobStatusError, job.Status)
	assert.Contains(t, job.Error, "boom")
	assert.True(t, store.wasDeleted("file-1"))
}

func TestJobsRunOneAtATime(t *testing.T) {
	runner := &fakeRunner{total: 1, release: make(chan struct{})}
	m := NewManager(runner, newFakeStore())

	ids := []string{
		m.StartJob("f1", "a.xlsx").ID,
		m.StartJob("f2", "b.xlsx").ID,
		m.StartJob("f3", "c.xlsx").ID,
	}
	for range ids {
		runner.release <- struct{}{}
	}
	m.Wait()

	assert.Equal(t, 1, runner.maxSeen)
	for _, id := range ids {
		job, ok := m.GetJob(id)
		require.True(t, ok)
		assert.Equal(t, models.JobStatusComplete, job.Status)
	}
}

func TestGetJobReturnsSnapshot(t *testing.T) {
	m := NewManager(&fakeRunner{total: 1}, newFakeStore())
	id := m.StartJob("f1", "a.xlsx").ID
	m.Wait()

	job, _ := m.GetJob(id)
	job.Status = models.JobStatusQueued

	again, _ := m.GetJob(id)
	assert.Equal(t, models.JobStatusComplete, again.Status)

	_, ok := m.GetJob("unknown")
	assert.False(t, ok)
}

func TestCleanupOldJobs(t *testing.T) {
	m := NewManager(&fakeRunner{total: 1}, newFakeStore())
	id := m.StartJob("f1", "a.xlsx").ID
	m.Wait()

	assert.Equal(t, 0, m.CleanupOldJobs(time.Hour))
	_, ok := m.GetJob(id)
	assert.True(t, ok)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, m.CleanupOldJobs(time.Millisecond))
	_, ok = m.GetJob(id)
	assert.False(t, ok)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, CodeSchema, ErrorCode(fmt.Errorf("wrapped: %w", &extract.SchemaError{Missing: []string{"x"}})))
	assert.Equal(t, CodeSourceRead, ErrorCode(&extract.SourceReadError{Path: "x", Err: fmt.Errorf("bad")}))
	assert.Equal(t, CodeOutputDir, ErrorCode(&batch.OutputDirError{Dir: "x", Err: fmt.Errorf("bad")}))
	assert.Equal(t, CodeInternal, ErrorCode(fmt.Errorf("other")))
	assert.Nil(t, MissingFields(fmt.Errorf("other")))
}
