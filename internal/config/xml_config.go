// Package config provides XML-based configuration management for air-gapped deployment.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultConfigFile is looked up next to the executable when no path is given.
const DefaultConfigFile = "mailmerge.config.xml"

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"MailMerge"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// Storage locations
	Storage StorageConfig `xml:"Storage"`

	// Merge settings
	Merge MergeConfig `xml:"Merge"`

	// Conversion engine
	Conversion ConversionConfig `xml:"Conversion"`

	// Folder watcher
	Watcher WatcherConfig `xml:"Watcher"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// StorageConfig contains directory settings. Relative directories other than
// DataDirectory are resolved against DataDirectory.
type StorageConfig struct {
	DataDirectory     string `xml:"DataDirectory"`
	TemplateDirectory string `xml:"TemplateDirectory"`
	OutputDirectory   string `xml:"OutputDirectory"`
	ArchiveDirectory  string `xml:"ArchiveDirectory"`
	UploadsDirectory  string `xml:"UploadsDirectory"`
	WatchDirectory    string `xml:"WatchDirectory"`
	HistoryDatabase   string `xml:"HistoryDatabase"`
}

// MergeConfig contains batch settings
type MergeConfig struct {
	TemplateFile    string `xml:"TemplateFile"` // relative to TemplateDirectory
	SchemaFile      string `xml:"SchemaFile"`   // relative to the config file
	IdentifierField string `xml:"IdentifierField"`
	ArtifactPrefix  string `xml:"ArtifactPrefix"`
	BatchDirPrefix  string `xml:"BatchDirPrefix"`
	LabelLayout     string `xml:"LabelLayout"`
	InputExtensions string `xml:"InputExtensions"` // comma separated
}

// ConversionConfig selects the conversion engine
type ConversionConfig struct {
	Engine       string `xml:"Engine"`
	Binary       string `xml:"Binary"`
	TargetFormat string `xml:"TargetFormat"`
	MaxAttempts  int    `xml:"MaxAttempts"`
	RetryDelayMs int    `xml:"RetryDelayMilliseconds"`
}

// WatcherConfig contains folder watcher settings
type WatcherConfig struct {
	Enabled       bool `xml:"Enabled"`
	SettleDelayMs int  `xml:"SettleDelayMilliseconds"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `xml:"LogLevel"`
	EnableRequestLogging bool   `xml:"EnableRequestLogging"`
	JobMaxAgeMinutes     int    `xml:"JobMaxAgeMinutes"`
	DuckDBThreads        int    `xml:"DuckDBThreads"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8090,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 0,
			IdleTimeout:  120,
			BodyLimit:    "50M",
		},
		Storage: StorageConfig{
			DataDirectory:     "./data",
			TemplateDirectory: "template",
			OutputDirectory:   "output",
			ArchiveDirectory:  "archive",
			UploadsDirectory:  "uploads",
			WatchDirectory:    "inbox",
			HistoryDatabase:   "history.duckdb",
		},
		Merge: MergeConfig{
			TemplateFile:    "template.docx",
			SchemaFile:      "schema.yaml",
			IdentifierField: "Matricule",
			ArtifactPrefix:  "",
			BatchDirPrefix:  "batches_",
			LabelLayout:     "2006-01-02_15-04-05",
			InputExtensions: ".xlsx,.csv",
		},
		Conversion: ConversionConfig{
			Engine:       "soffice",
			TargetFormat: "pdf",
			MaxAttempts:  1,
			RetryDelayMs: 0,
		},
		Watcher: WatcherConfig{
			Enabled:       false,
			SettleDelayMs: 500,
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			EnableRequestLogging: true,
			JobMaxAgeMinutes:     60,
			DuckDBThreads:        1,
		},
	}
}

// LoadConfig loads configuration from XML file, creating it with defaults on
// first run.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := xml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	absDir, err := filepath.Abs(filepath.Dir(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory: %w", err)
	}
	config.resolvePaths(absDir)

	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Mail Merge Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	// DATA_DIR override
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}

	if engine := os.Getenv("CONVERTER_ENGINE"); engine != "" {
		c.Conversion.Engine = engine
	}

	// WATCH_DIR also turns the watcher on
	if watchDir := os.Getenv("WATCH_DIR"); watchDir != "" {
		c.Storage.WatchDirectory = watchDir
		c.Watcher.Enabled = true
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	c.Storage.DataDirectory = resolve(configDir, c.Storage.DataDirectory)

	data := c.Storage.DataDirectory
	c.Storage.TemplateDirectory = resolve(data, c.Storage.TemplateDirectory)
	c.Storage.OutputDirectory = resolve(data, c.Storage.OutputDirectory)
	c.Storage.ArchiveDirectory = resolve(data, c.Storage.ArchiveDirectory)
	c.Storage.UploadsDirectory = resolve(data, c.Storage.UploadsDirectory)
	c.Storage.WatchDirectory = resolve(data, c.Storage.WatchDirectory)
	c.Storage.HistoryDatabase = resolve(data, c.Storage.HistoryDatabase)

	c.Merge.TemplateFile = resolve(c.Storage.TemplateDirectory, c.Merge.TemplateFile)
	if c.Merge.SchemaFile != "" {
		c.Merge.SchemaFile = resolve(configDir, c.Merge.SchemaFile)
	}
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// RetryDelay returns the pause between conversion attempts.
func (c *AppConfig) RetryDelay() time.Duration {
	return time.Duration(c.Conversion.RetryDelayMs) * time.Millisecond
}

// SettleDelay returns how long a new file's size must stay unchanged before
// the watcher dispatches it.
func (c *AppConfig) SettleDelay() time.Duration {
	return time.Duration(c.Watcher.SettleDelayMs) * time.Millisecond
}

// JobMaxAge returns how long finished jobs are kept in memory.
func (c *AppConfig) JobMaxAge() time.Duration {
	return time.Duration(c.Advanced.JobMaxAgeMinutes) * time.Minute
}

// Origins splits AllowOrigins on commas.
func (c *AppConfig) Origins() []string {
	return splitList(c.Server.AllowOrigins)
}

// InputExtensions returns the accepted input file extensions. Empty means
// every readable format.
func (c *AppConfig) InputExtensions() []string {
	return splitList(c.Merge.InputExtensions)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.TemplateDirectory,
		c.Storage.OutputDirectory,
		c.Storage.ArchiveDirectory,
		c.Storage.UploadsDirectory,
		filepath.Dir(c.Storage.HistoryDatabase),
	}
	if c.Watcher.Enabled {
		dirs = append(dirs, c.Storage.WatchDirectory)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
