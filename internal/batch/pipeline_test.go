package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailmerge/backend/internal/archive"
	"github.com/mailmerge/backend/internal/bundle"
	"github.com/mailmerge/backend/internal/extract"
	"github.com/mailmerge/backend/internal/models"
	"github.com/mailmerge/backend/internal/testutil"
)

type memoryRecorder struct {
	mu      sync.Mutex
	entries []models.HistoryEntry
}

func (m *memoryRecorder) Record(ctx context.Context, entry models.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

type pipelineFixture struct {
	pipeline   *Pipeline
	converter  *testutil.FakeConverter
	recorder   *memoryRecorder
	inbox      string
	outputRoot string
	archiveDir string
}

var fixedStart = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	root := t.TempDir()
	f := &pipelineFixture{
		converter:  testutil.NewFakeConverter(),
		recorder:   &memoryRecorder{},
		inbox:      filepath.Join(root, "inbox"),
		outputRoot: filepath.Join(root, "output"),
		archiveDir: filepath.Join(root, "archive"),
	}
	require.NoError(t, os.MkdirAll(f.inbox, 0755))
	tpl := testutil.WriteFile(t, root, "letter.txt", "{{ Identité_Allocataire }} / {{ Matricule }}")

	cfg := PipelineConfig{
		TemplatePath: tpl,
		OutputRoot:   f.outputRoot,
		Schema:       models.Schema{Fields: []string{"Matricule", "Identité_Allocataire"}, Identifier: "Matricule"},
	}
	orch := newTestOrchestrator(f.converter)
	f.pipeline = NewPipeline(cfg, extract.NewExtractor(), orch, archive.NewArchiver(f.archiveDir), f.recorder)
	f.pipeline.now = func() time.Time { return fixedStart }
	return f
}

func TestPipelineEndToEnd(t *testing.T) {
	f := newPipelineFixture(t)
	input := testutil.WriteCSV(t, f.inbox, "upload.csv", ';', [][]string{
		{" Matricule ", "Identité  Allocataire", "Ignored"},
		{"M1", "Alice", "x"},
		{"M2", "Bob", "y"},
		{"M3", "Chloé", "z"},
	})

	progress := &progressLog{}
	result, err := f.pipeline.Process(context.Background(), input, "allocataires.csv", progress.fn)
	require.NoError(t, err)

	label := "2024-05-01_10-00-00"
	outDir := filepath.Join(f.outputRoot, "batches_"+label)
	assert.Equal(t, label, result.Label)
	assert.Equal(t, outDir, result.OutputDir)
	for _, id := range []string{"M1", "M2", "M3"} {
		assert.FileExists(t, filepath.Join(outDir, id+"_"+label+".pdf"))
	}
	assert.Len(t, progress.calls, 3)

	assert.NoFileExists(t, input)
	assert.Equal(t, filepath.Join(f.archiveDir, "allocataires.csv"), result.ArchivePath)
	assert.FileExists(t, result.ArchivePath)

	files, err := bundle.Collect(result.OutputDir, result.Ext)
	require.NoError(t, err)
	assert.Equal(t, []string{"M1_" + label + ".pdf", "M2_" + label + ".pdf", "M3_" + label + ".pdf"}, files)

	require.Len(t, f.recorder.entries, 1)
	entry := f.recorder.entries[0]
	assert.Equal(t, models.OutcomeComplete, entry.Outcome)
	assert.Equal(t, 3, entry.Succeeded)
	assert.Equal(t, "allocataires.csv", entry.SourceName)
	assert.Equal(t, "batches_"+label+".zip", f.pipeline.BundleName(label))
}

func TestPipelineLabelIsUniquePerRun(t *testing.T) {
	f := newPipelineFixture(t)
	rows := [][]string{{"Matricule", "Identité_Allocataire"}, {"M1", "Alice"}}

	first, err := f.pipeline.Process(context.Background(), testutil.WriteCSV(t, f.inbox, "a.csv", ',', rows), "input.csv", nil)
	require.NoError(t, err)
	second, err := f.pipeline.Process(context.Background(), testutil.WriteCSV(t, f.inbox, "b.csv", ',', rows), "input.csv", nil)
	require.NoError(t, err)

	assert.Equal(t, "2024-05-01_10-00-00", first.Label)
	assert.Equal(t, "2024-05-01_10-00-00_1", second.Label)
	assert.NotEqual(t, first.ArchivePath, second.ArchivePath)
	assert.Equal(t, filepath.Join(f.archiveDir, "input_1.csv"), second.ArchivePath)
	assert.FileExists(t, filepath.Join(second.OutputDir, "M1_2024-05-01_10-00-00_1.pdf"))
}

func TestPipelineSchemaErrorIsFatal(t *testing.T) {
	f := newPipelineFixture(t)
	input := testutil.WriteCSV(t, f.inbox, "bad.csv", ',', [][]string{{"Nom"}, {"Alice"}})

	result, err := f.pipeline.Process(context.Background(), input, "bad.csv", nil)
	assert.Nil(t, result)

	var schemaErr *extract.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, []string{"Matricule", "Identité_Allocataire"}, schemaErr.Missing)

	assert.FileExists(t, input)
	assert.NoDirExists(t, f.outputRoot)
	assert.Equal(t, 0, f.converter.Opens)
	require.Len(t, f.recorder.entries, 1)
	assert.Equal(t, models.OutcomeFatal, f.recorder.entries[0].Outcome)
}

func TestPipelineArchiveFailureKeepsArtifacts(t *testing.T) {
	f := newPipelineFixture(t)
	input := testutil.WriteCSV(t, f.inbox, "in.csv", ',', [][]string{{"Matricule", "Identité_Allocataire"}, {"M1", "Alice"}})
	// Make the archive location a file so it cannot be created.
	require.NoError(t, os.WriteFile(f.archiveDir, []byte("x"), 0644))

	result, err := f.pipeline.Process(context.Background(), input, "in.csv", nil)

	var archiveErr *archive.ArchiveError
	require.True(t, errors.As(err, &archiveErr))
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Succeeded())
	assert.Empty(t, result.ArchivePath)
	assert.FileExists(t, result.Artifacts[0].Path)
	assert.NotEmpty(t, f.recorder.entries[0].Error)
}

func TestPipelineNewBatchDirClaimsLabel(t *testing.T) {
	f := newPipelineFixture(t)

	first, firstDir, err := f.pipeline.newBatchDir(fixedStart)
	require.NoError(t, err)
	second, secondDir, err := f.pipeline.newBatchDir(fixedStart)
	require.NoError(t, err)

	assert.Equal(t, "2024-05-01_10-00-00", first)
	assert.Equal(t, "2024-05-01_10-00-00_1", second)
	assert.DirExists(t, firstDir)
	assert.DirExists(t, secondDir)
}

func TestPipelineConcurrentRunsDoNotOverlap(t *testing.T) {
	f := newPipelineFixture(t)
	rows := [][]string{{"Matricule", "Identité_Allocataire"}, {"M1", "Alice"}, {"M2", "Bob"}}

	const runs = 4
	inputs := make([]string, runs)
	for i := range inputs {
		inputs[i] = testutil.WriteCSV(t, f.inbox, fmt.Sprintf("in%d.csv", i), ',', rows)
	}

	results := make([]*models.BatchResult, runs)
	var wg sync.WaitGroup
	for i := range inputs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := f.pipeline.Process(context.Background(), inputs[i], "input.csv", nil)
			assert.NoError(t, err)
			results[i] = result
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.converter.MaxOpen)
	assert.Equal(t, runs, f.converter.Opens)

	labels := make(map[string]bool)
	archived := make(map[string]bool)
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, 2, r.Succeeded())
		labels[r.Label] = true
		archived[r.ArchivePath] = true
	}
	assert.Len(t, labels, runs)
	assert.Len(t, archived, runs)
	assert.True(t, labels["2024-05-01_10-00-00_3"])
}
