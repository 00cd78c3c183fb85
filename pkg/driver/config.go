package driver

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the parsed contents of chrono.yml, the host-side
// runtime configuration.
type Config struct {
	Path    string
	History HistoryConfig
	Archive ArchiveConfig
	Shell   ShellConfig
}

// HistoryConfig controls snapshot log growth.
type HistoryConfig struct {
	// Retention bounds each variable's log to its most recent N snapshots.
	// Zero keeps full history until the variable is freed.
	Retention int
}

// ArchiveConfig controls the optional git persistence of snapshot logs.
type ArchiveConfig struct {
	Path   string
	Author string
	Email  string
}

// ShellConfig controls the interactive shell.
type ShellConfig struct {
	Prompt      string
	HistoryFile string
}

// ValidationError aggregates configuration validation failures.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "config: invalid configuration"
	}
	var b strings.Builder
	b.WriteString("config validation failed:")
	for _, issue := range e.Issues {
		b.WriteString("\n- ")
		b.WriteString(issue)
	}
	return b.String()
}

// DefaultConfig returns the configuration used when no chrono.yml exists.
func DefaultConfig() *Config {
	return &Config{
		Archive: ArchiveConfig{
			Author: "chrono-runtime",
			Email:  "runtime@chrono.invalid",
		},
		Shell: ShellConfig{
			Prompt: "chrono> ",
		},
	}
}

// LoadConfig parses chrono.yml from disk, returning a validated
// configuration. Unknown fields are rejected.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config: empty path")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", path, err)
	}
	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", absPath, err)
	}
	defer file.Close()

	cfg, err := ReadConfig(file)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", absPath, err)
	}
	cfg.Path = absPath
	return cfg, nil
}

// ReadConfig parses a configuration document from r.
func ReadConfig(r io.Reader) (*Config, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var raw configFile
	if err := decoder.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := raw.toConfig()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs ValidationError
	if c.History.Retention < 0 {
		errs.Issues = append(errs.Issues, "history.retention must not be negative")
	}
	if c.History.Retention == 1 {
		errs.Issues = append(errs.Issues, "history.retention of 1 would retain only the head; use 0 for unbounded or 2 and up")
	}
	if len(errs.Issues) > 0 {
		return &errs
	}
	return nil
}

// FindConfig searches from start upwards for a chrono.yml, mirroring the
// way build tools locate their manifests.
func FindConfig(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("config: resolve start directory %q: %w", start, err)
	}
	if info, statErr := os.Stat(dir); statErr == nil && !info.IsDir() {
		dir = filepath.Dir(dir)
	}
	origin := dir
	for {
		candidate := filepath.Join(dir, "chrono.yml")
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no chrono.yml found from %s upwards: %w", origin, os.ErrNotExist)
		}
		dir = parent
	}
}

type configFile struct {
	History historyYAML `yaml:"history"`
	Archive archiveYAML `yaml:"archive"`
	Shell   shellYAML   `yaml:"shell"`
}

type historyYAML struct {
	Retention int `yaml:"retention"`
}

type archiveYAML struct {
	Path   string `yaml:"path"`
	Author string `yaml:"author"`
	Email  string `yaml:"email"`
}

type shellYAML struct {
	Prompt      string `yaml:"prompt"`
	HistoryFile string `yaml:"history_file"`
}

func (cf configFile) toConfig() *Config {
	defaults := DefaultConfig()
	cfg := &Config{
		History: HistoryConfig{
			Retention: cf.History.Retention,
		},
		Archive: ArchiveConfig{
			Path:   strings.TrimSpace(cf.Archive.Path),
			Author: strings.TrimSpace(cf.Archive.Author),
			Email:  strings.TrimSpace(cf.Archive.Email),
		},
		Shell: ShellConfig{
			Prompt:      cf.Shell.Prompt,
			HistoryFile: strings.TrimSpace(cf.Shell.HistoryFile),
		},
	}
	if cfg.Archive.Author == "" {
		cfg.Archive.Author = defaults.Archive.Author
	}
	if cfg.Archive.Email == "" {
		cfg.Archive.Email = defaults.Archive.Email
	}
	if cfg.Shell.Prompt == "" {
		cfg.Shell.Prompt = defaults.Shell.Prompt
	}
	return cfg
}
