package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailmerge/backend/internal/config"
	"github.com/mailmerge/backend/internal/models"
	"github.com/mailmerge/backend/internal/testutil"
)

func loadTestConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	root := t.TempDir()
	t.Setenv("PORT", "")
	t.Setenv("DATA_DIR", filepath.Join(root, "data"))
	t.Setenv("CONVERTER_ENGINE", "none")
	t.Setenv("WATCH_DIR", filepath.Join(root, "inbox"))

	testutil.WriteFile(t, root, "schema.yaml", "fields:\n  - Matricule\n  - Nom\nidentifier: Matricule\n")

	cfg, err := config.LoadConfig(filepath.Join(root, config.DefaultConfigFile))
	require.NoError(t, err)
	require.NoError(t, cfg.EnsureDirectories())

	cfg.Merge.TemplateFile = testutil.WriteFile(t, cfg.Storage.TemplateDirectory, "letter.txt", "Madame, Monsieur {{ Nom }} ({{ Matricule }})")
	return cfg
}

func TestNewWiresConfiguredStack(t *testing.T) {
	cfg := loadTestConfig(t)

	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "none", a.Converter.Name())
	require.NotNil(t, a.History)
	assert.True(t, a.Pipeline.Accepts("people.XLSX"))
	assert.False(t, a.Pipeline.Accepts("people.pdf"))

	w := a.NewWatcher()
	require.NotNil(t, w)
}

func TestPipelineRecordsHistory(t *testing.T) {
	cfg := loadTestConfig(t)

	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()

	input := testutil.WriteCSV(t, cfg.Storage.WatchDirectory, "people.csv", ';', [][]string{
		{"Matricule", "Nom"},
		{"A1", "Durand"},
		{"B2", "Martin"},
	})

	result, err := a.Pipeline.Process(context.Background(), input, "people.csv", nil)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeComplete, result.Outcome())
	assert.Equal(t, ".txt", result.Ext)

	data, err := os.ReadFile(result.Preview.Path)
	require.NoError(t, err)
	assert.Equal(t, "Madame, Monsieur Durand (A1)", string(data))
	assert.Equal(t, filepath.Join(cfg.Storage.ArchiveDirectory, "people.csv"), result.ArchivePath)

	entries, err := a.History.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, result.Label, entries[0].Label)
	assert.Equal(t, 2, entries[0].Succeeded)
}

func TestNewRejectsUnknownEngine(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.Conversion.Engine = "typewriter"

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestWatcherDisabled(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.Watcher.Enabled = false

	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.NewWatcher())
}
