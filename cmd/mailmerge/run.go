package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/mailmerge/backend/internal/batch"
	"github.com/mailmerge/backend/internal/bundle"
	"github.com/mailmerge/backend/internal/extract"
	"github.com/mailmerge/backend/internal/models"
)

// Exit codes of the run command.
const (
	exitComplete = 0
	exitFatal    = 1
	exitUsage    = 2
	exitPartial  = 3
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#22AA55")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#DDAA22")).Bold(true)
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#DD4444")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#5555AA")).
			Padding(0, 1)
)

func runCommand(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath(), "path to the XML configuration file")
	writeBundle := fs.Bool("bundle", false, "write a zip of the artifacts next to the batch directory")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	a, err := setup(*configPath, nil)
	if err != nil {
		fmt.Println(errStyle.Render("error: ") + err.Error())
		return exitFatal
	}
	defer a.Close()

	input := fs.Arg(0)
	if input == "" {
		input, err = promptInput(a.Config.Storage.WatchDirectory, a.Pipeline.Accepts, a.Pipeline.Extensions())
		if err != nil {
			fmt.Println(errStyle.Render("error: ") + err.Error())
			return exitUsage
		}
	}

	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(40))
	var onProgress batch.ProgressFunc = func(completed, total int) {
		fmt.Printf("\r%s %d/%d", bar.ViewAs(ratio(completed, total)), completed, total)
	}

	fmt.Println(titleStyle.Render("Merging " + filepath.Base(input)))
	result, err := a.Pipeline.Process(context.Background(), input, filepath.Base(input), onProgress)
	if result != nil && result.Total > 0 {
		fmt.Println()
	}

	if result == nil {
		fmt.Println(renderFatal(err))
		return exitFatal
	}

	if *writeBundle && result.Succeeded() > 0 {
		path, bErr := writeBundleFile(result, a.Pipeline.BundleName(result.Label))
		if bErr != nil {
			fmt.Println(warnStyle.Render("bundle: ") + bErr.Error())
		} else {
			fmt.Println(mutedStyle.Render("bundle written to " + path))
		}
	}

	fmt.Println(renderSummary(result, err))
	return exitCode(result)
}

// promptInput asks for the input file, offering the accepted files already
// sitting in dir.
func promptInput(dir string, accepts func(string) bool, exts []string) (string, error) {
	var candidates []string
	if entries, err := os.ReadDir(dir); err == nil {
		for _, e := range entries {
			if !e.IsDir() && accepts(e.Name()) {
				candidates = append(candidates, filepath.Join(dir, e.Name()))
			}
		}
	}
	sort.Strings(candidates)

	var answer string
	if len(candidates) > 0 {
		prompt := &survey.Select{
			Message: "Input file:",
			Options: candidates,
		}
		if err := survey.AskOne(prompt, &answer); err != nil {
			return "", err
		}
		return answer, nil
	}

	prompt := &survey.Input{
		Message: "Path to the input file:",
		Help:    "accepted extensions: " + strings.Join(exts, ", "),
	}
	validate := func(v interface{}) error {
		path, _ := v.(string)
		if !accepts(path) {
			return fmt.Errorf("unsupported file, expected one of %s", strings.Join(exts, ", "))
		}
		if _, err := os.Stat(path); err != nil {
			return err
		}
		return nil
	}
	if err := survey.AskOne(prompt, &answer, survey.WithValidator(survey.Required), survey.WithValidator(validate)); err != nil {
		return "", err
	}
	return answer, nil
}

// writeBundleFile writes the batch's zip beside its output directory.
func writeBundleFile(result *models.BatchResult, name string) (string, error) {
	path := filepath.Join(filepath.Dir(result.OutputDir), name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := bundle.Write(f, result.OutputDir, result.Ext); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	return path, f.Close()
}

func renderSummary(result *models.BatchResult, archiveErr error) string {
	var status string
	switch result.Outcome() {
	case models.OutcomeComplete:
		status = okStyle.Render("complete")
	default:
		status = warnStyle.Render("partial")
	}

	lines := []string{
		titleStyle.Render("Batch "+result.Label) + "  " + status,
		fmt.Sprintf("records:   %d", result.Total),
		fmt.Sprintf("succeeded: %d", result.Succeeded()),
		fmt.Sprintf("failed:    %d", result.Failed()),
		"output:    " + result.OutputDir,
	}
	if result.ArchivePath != "" {
		lines = append(lines, "archived:  "+result.ArchivePath)
	}
	if archiveErr != nil {
		lines = append(lines, warnStyle.Render("archive:   ")+archiveErr.Error())
	}
	for _, f := range result.Failures {
		lines = append(lines, errStyle.Render(fmt.Sprintf("  #%d %s", f.Position, f.Key))+
			mutedStyle.Render(fmt.Sprintf(" [%s] %s", f.Stage, f.Reason)))
	}
	return summaryStyle.Render(strings.Join(lines, "\n"))
}

func renderFatal(err error) string {
	var schemaErr *extract.SchemaError
	if errors.As(err, &schemaErr) {
		return errStyle.Render("missing fields: ") + strings.Join(schemaErr.Missing, ", ")
	}
	return errStyle.Render("batch aborted: ") + err.Error()
}

func exitCode(result *models.BatchResult) int {
	if result == nil {
		return exitFatal
	}
	if result.Outcome() == models.OutcomePartial {
		return exitPartial
	}
	return exitComplete
}

func ratio(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(completed) / float64(total)
}
