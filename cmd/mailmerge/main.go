// Command mailmerge runs batches from the terminal, either once for a given
// file or continuously for every file dropped into the watched folder.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mailmerge/backend/internal/app"
	"github.com/mailmerge/backend/internal/config"
)

const usage = `usage:
  mailmerge run   [-config path] [-bundle] [file]
  mailmerge watch [-config path] [-dir path]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(2)
	}

	var code int
	switch os.Args[1] {
	case "run":
		code = runCommand(os.Args[2:])
	case "watch":
		code = watchCommand(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Printf("unknown command %q\n\n%s", os.Args[1], usage)
		code = 2
	}
	os.Exit(code)
}

func defaultConfigPath() string {
	exePath, err := os.Executable()
	if err != nil {
		return config.DefaultConfigFile
	}
	return filepath.Join(filepath.Dir(exePath), config.DefaultConfigFile)
}

// setup loads the configuration and builds the pipeline.
func setup(configPath string, configure func(*config.AppConfig)) (*app.App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if configure != nil {
		configure(cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return app.New(cfg)
}
