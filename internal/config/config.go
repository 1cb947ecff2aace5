// Package config provides configuration loading for docmill.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for docmill.
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Directories   DirectoriesConfig   `yaml:"directories"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Tools         ToolsConfig         `yaml:"tools"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DirectoriesConfig holds the file-system roots the pipeline works in.
type DirectoriesConfig struct {
	Inbox         string `yaml:"inbox"`
	InboxAccepted string `yaml:"inbox_accepted"`
	InboxRejected string `yaml:"inbox_rejected"`
	LanguagesFile string `yaml:"languages_file"`
}

// PipelineConfig holds dispatcher behaviour settings.
type PipelineConfig struct {
	Workers          int  `yaml:"workers"`
	IgnoreDuplicates bool `yaml:"ignore_duplicates"`
	VerifyPDF        bool `yaml:"verify_pdf"`
}

// ToolConfig describes one external collaborator binary.
type ToolConfig struct {
	Binary  string        `yaml:"binary"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"`
}

// ToolsConfig maps each pipeline stage to its collaborator.
type ToolsConfig struct {
	PDF2Image   ToolConfig `yaml:"pdf2image"`
	OCR         ToolConfig `yaml:"ocr"`
	NonPDFToPDF ToolConfig `yaml:"non_pdf_to_pdf"`
	ExtractText ToolConfig `yaml:"extract_text"`
	ParseLine   ToolConfig `yaml:"parse_line"`
	ParsePage   ToolConfig `yaml:"parse_page"`
	ParseWord   ToolConfig `yaml:"parse_word"`
	Tokenize    ToolConfig `yaml:"tokenize"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// Unknown keys in the file are rejected.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "data/docmill.db",
				MaxOpenConns: 1,
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Directories: DirectoriesConfig{
			Inbox:         "data/inbox",
			InboxAccepted: "data/inbox_accepted",
			InboxRejected: "data/inbox_rejected",
			LanguagesFile: "setup/languages.yaml",
		},
		Pipeline: PipelineConfig{
			Workers:          1,
			IgnoreDuplicates: false,
			VerifyPDF:        true,
		},
		Tools: ToolsConfig{
			PDF2Image:   ToolConfig{Binary: "pdftoppm", Timeout: 5 * time.Minute},
			OCR:         ToolConfig{Binary: "tesseract", Timeout: 10 * time.Minute},
			NonPDFToPDF: ToolConfig{Binary: "pandoc", Timeout: 5 * time.Minute},
			ExtractText: ToolConfig{Binary: "docmill-extract", Timeout: 5 * time.Minute},
			ParseLine:   ToolConfig{Binary: "docmill-parse", Args: []string{"line"}, Timeout: 5 * time.Minute},
			ParsePage:   ToolConfig{Binary: "docmill-parse", Args: []string{"page"}, Timeout: 5 * time.Minute},
			ParseWord:   ToolConfig{Binary: "docmill-parse", Args: []string{"word"}, Timeout: 5 * time.Minute},
			Tokenize:    ToolConfig{Binary: "docmill-tokenize", Timeout: 5 * time.Minute},
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" && c.Database.Postgres.DSN == "" {
		return fmt.Errorf("postgres driver selected but dsn is empty")
	}

	if c.Directories.Inbox == "" {
		return fmt.Errorf("directories.inbox must not be empty")
	}
	if c.Directories.InboxAccepted == "" {
		return fmt.Errorf("directories.inbox_accepted must not be empty")
	}
	if c.Directories.InboxRejected == "" {
		return fmt.Errorf("directories.inbox_rejected must not be empty")
	}

	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1, got %d", c.Pipeline.Workers)
	}

	if lvl := c.Observability.LogLevel; lvl != "" {
		switch lvl {
		case "trace", "debug", "info", "warn", "warning", "error", "fatal":
		default:
			return fmt.Errorf("invalid log level: %s", lvl)
		}
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("DOCMILL_INBOX"); v != "" {
		cfg.Directories.Inbox = v
	}

	if v := os.Getenv("DOCMILL_INBOX_ACCEPTED"); v != "" {
		cfg.Directories.InboxAccepted = v
	}

	if v := os.Getenv("DOCMILL_INBOX_REJECTED"); v != "" {
		cfg.Directories.InboxRejected = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
