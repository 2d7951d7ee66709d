package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailmerge/backend/internal/convert"
	"github.com/mailmerge/backend/internal/models"
	"github.com/mailmerge/backend/internal/render"
	"github.com/mailmerge/backend/internal/testutil"
)

func records(ids ...string) []models.Record {
	out := make([]models.Record, len(ids))
	for i, id := range ids {
		out[i] = models.NewRecord(i+1, []string{"Matricule", "Nom"}, []string{id, "Nom " + id})
	}
	return out
}

type progressLog struct {
	calls [][2]int
}

func (p *progressLog) fn(completed, total int) {
	p.calls = append(p.calls, [2]int{completed, total})
}

func newTestOrchestrator(conv convert.Converter, opts ...Option) *Orchestrator {
	o := NewOrchestrator(conv, append([]Option{WithIdentifier("Matricule")}, opts...)...)
	o.sleep = func(time.Duration) {}
	return o
}

func TestRunAllSucceed(t *testing.T) {
	tplDir := t.TempDir()
	tpl := testutil.WriteFile(t, tplDir, "letter.txt", "Bonjour {{ Nom }} ({{ Matricule }})")
	out := filepath.Join(t.TempDir(), "batches_L")
	conv := testutil.NewFakeConverter()
	progress := &progressLog{}

	result, err := newTestOrchestrator(conv).Run(context.Background(), tpl, records("A1", "A2", "A3"), out, "L", progress.fn)
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeComplete, result.Outcome())
	assert.Equal(t, ".pdf", result.Ext)
	assert.Equal(t, 3, result.Total)
	require.Len(t, result.Artifacts, 3)
	for i, id := range []string{"A1", "A2", "A3"} {
		assert.Equal(t, filepath.Join(out, id+"_L.pdf"), result.Artifacts[i].Path)
		assert.FileExists(t, result.Artifacts[i].Path)
		assert.NoFileExists(t, filepath.Join(out, id+"_L.txt"))
	}

	data, err := os.ReadFile(result.Artifacts[1].Path)
	require.NoError(t, err)
	assert.Equal(t, "PDF:Bonjour Nom A2 (A2)", string(data))

	require.NotNil(t, result.Preview)
	assert.Equal(t, result.Artifacts[0], *result.Preview)
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, progress.calls)
	assert.Equal(t, 1, conv.Opens)
	assert.Equal(t, 1, conv.CloseCount())
	assert.LessOrEqual(t, conv.MaxInFlight, 1)
}

func TestRunConversionFailureIsIsolated(t *testing.T) {
	tpl := testutil.WriteFile(t, t.TempDir(), "letter.txt", "{{ Nom }}")
	out := t.TempDir()
	conv := testutil.NewFakeConverter()
	conv.FailNames["A2_L"] = -1
	progress := &progressLog{}

	result, err := newTestOrchestrator(conv).Run(context.Background(), tpl, records("A1", "A2", "A3", "A4"), out, "L", progress.fn)
	require.NoError(t, err)

	assert.Equal(t, models.OutcomePartial, result.Outcome())
	assert.Equal(t, 3, result.Succeeded())
	require.Len(t, result.Failures, 1)
	assert.Equal(t, 2, result.Failures[0].Position)
	assert.Equal(t, "A2", result.Failures[0].Key)
	assert.Equal(t, models.StageConvert, result.Failures[0].Stage)
	assert.Equal(t, 1, result.Failures[0].Attempts)

	assert.Equal(t, []string{"A1_L", "A2_L", "A3_L", "A4_L"}, conv.Calls)
	assert.Len(t, progress.calls, 4)
	require.NotNil(t, result.Preview)
	assert.Equal(t, "A1", result.Preview.Key)
	assert.Equal(t, 1, conv.CloseCount())
}

func TestRunFirstRecordFailureHasNoPreview(t *testing.T) {
	tpl := testutil.WriteFile(t, t.TempDir(), "letter.txt", "{{ Nom }}")
	conv := testutil.NewFakeConverter()
	conv.FailNames["A1_L"] = -1

	result, err := newTestOrchestrator(conv).Run(context.Background(), tpl, records("A1", "A2"), t.TempDir(), "L", nil)
	require.NoError(t, err)

	assert.Nil(t, result.Preview)
	assert.Equal(t, 1, result.Succeeded())
}

func TestRunRenderFailureIsIsolated(t *testing.T) {
	tpl := testutil.WriteFile(t, t.TempDir(), "letter.txt", "{{ Nom }}")
	out := t.TempDir()
	// A directory squatting on the rendered path makes that record unwritable.
	require.NoError(t, os.Mkdir(filepath.Join(out, "A2_L.txt"), 0755))
	conv := testutil.NewFakeConverter()

	result, err := newTestOrchestrator(conv).Run(context.Background(), tpl, records("A1", "A2", "A3"), out, "L", nil)
	require.NoError(t, err)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, models.StageRender, result.Failures[0].Stage)
	assert.Equal(t, []string{"A1_L", "A3_L"}, conv.Calls)
}

func TestRunRetriesConversion(t *testing.T) {
	tpl := testutil.WriteFile(t, t.TempDir(), "letter.txt", "{{ Nom }}")
	conv := testutil.NewFakeConverter()
	conv.FailNames["A2_L"] = 2

	var slept []time.Duration
	o := newTestOrchestrator(conv, WithRetry(RetryPolicy{MaxAttempts: 3, Delay: time.Second}))
	o.sleep = func(d time.Duration) { slept = append(slept, d) }

	result, err := o.Run(context.Background(), tpl, records("A1", "A2"), t.TempDir(), "L", nil)
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeComplete, result.Outcome())
	assert.Equal(t, []string{"A1_L", "A2_L", "A2_L", "A2_L"}, conv.Calls)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, slept)
}

func TestRunRetryExhausted(t *testing.T) {
	tpl := testutil.WriteFile(t, t.TempDir(), "letter.txt", "{{ Nom }}")
	conv := testutil.NewFakeConverter()
	conv.FailNames["A1_L"] = -1

	result, err := newTestOrchestrator(conv, WithRetry(RetryPolicy{MaxAttempts: 2})).
		Run(context.Background(), tpl, records("A1"), t.TempDir(), "L", nil)
	require.NoError(t, err)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, 2, result.Failures[0].Attempts)
}

func TestRunArtifactPrefixAndPositionFallback(t *testing.T) {
	tpl := testutil.WriteFile(t, t.TempDir(), "letter.txt", "{{ Nom }}")
	recs := []models.Record{
		models.NewRecord(1, []string{"Matricule", "Nom"}, []string{"", "Sans matricule"}),
	}

	result, err := newTestOrchestrator(testutil.NewFakeConverter(), WithArtifactPrefix("accuseReception_")).
		Run(context.Background(), tpl, recs, t.TempDir(), "L", nil)
	require.NoError(t, err)

	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "accuseReception_1_L", result.Artifacts[0].Name)
}

func TestRunDuplicateKeysKeepEveryArtifact(t *testing.T) {
	tpl := testutil.WriteFile(t, t.TempDir(), "letter.txt", "{{ Nom }}")
	fields := []string{"Matricule", "Nom"}
	recs := []models.Record{
		models.NewRecord(1, fields, []string{"A1", "Durand"}),
		models.NewRecord(2, fields, []string{"A2", "Martin"}),
		models.NewRecord(3, fields, []string{"A1", "Petit"}),
	}

	result, err := newTestOrchestrator(testutil.NewFakeConverter()).Run(context.Background(), tpl, recs, t.TempDir(), "L", nil)
	require.NoError(t, err)

	require.Len(t, result.Artifacts, 3)
	assert.Equal(t, "A1_L", result.Artifacts[0].Name)
	assert.Equal(t, "A1_3_L", result.Artifacts[2].Name)
	assert.Equal(t, "A1_3", result.Artifacts[2].Key)

	first, err := os.ReadFile(result.Artifacts[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "PDF:Durand", string(first))
	third, err := os.ReadFile(result.Artifacts[2].Path)
	require.NoError(t, err)
	assert.Equal(t, "PDF:Petit", string(third))
}

func TestRunFatalErrors(t *testing.T) {
	t.Run("template cannot be loaded", func(t *testing.T) {
		conv := testutil.NewFakeConverter()
		_, err := newTestOrchestrator(conv).Run(context.Background(), filepath.Join(t.TempDir(), "missing.txt"), records("A1"), t.TempDir(), "L", nil)

		var loadErr *render.TemplateLoadError
		assert.True(t, errors.As(err, &loadErr))
		assert.Equal(t, 0, conv.Opens)
	})

	t.Run("output directory cannot be created", func(t *testing.T) {
		blocker := testutil.WriteFile(t, t.TempDir(), "file", "x")
		tpl := testutil.WriteFile(t, t.TempDir(), "letter.txt", "{{ Nom }}")

		_, err := newTestOrchestrator(testutil.NewFakeConverter()).Run(context.Background(), tpl, records("A1"), filepath.Join(blocker, "out"), "L", nil)

		var dirErr *OutputDirError
		assert.True(t, errors.As(err, &dirErr))
	})

	t.Run("session cannot be opened", func(t *testing.T) {
		tpl := testutil.WriteFile(t, t.TempDir(), "letter.txt", "{{ Nom }}")
		conv := testutil.NewFakeConverter()
		conv.OpenErr = errors.New("engine not installed")
		progress := &progressLog{}

		_, err := newTestOrchestrator(conv).Run(context.Background(), tpl, records("A1"), t.TempDir(), "L", progress.fn)

		var sessErr *convert.SessionError
		require.True(t, errors.As(err, &sessErr))
		assert.Equal(t, "fake", sessErr.Engine)
		assert.Empty(t, progress.calls)
	})
}

func TestRunEmptyBatch(t *testing.T) {
	tpl := testutil.WriteFile(t, t.TempDir(), "letter.txt", "{{ Nom }}")
	result, err := newTestOrchestrator(testutil.NewFakeConverter()).Run(context.Background(), tpl, nil, t.TempDir(), "L", nil)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Total)
	assert.Nil(t, result.Preview)
}
