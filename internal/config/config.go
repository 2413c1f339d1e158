package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Root             string   `json:"root"              yaml:"root"`
	FileExtensions   []string `json:"file_extensions"   yaml:"file_extensions"`
	DefaultExtension string   `json:"default_extension" yaml:"default_extension"`

	// Workers bounds parallel per-document work (references scans, checks).
	Workers int `json:"workers" yaml:"workers"`
	// RetentionGenerations is how many snapshot generations an entry may go
	// unvalidated before eviction reclaims it.
	RetentionGenerations uint64 `json:"retention_generations" yaml:"retention_generations"`
	// EvictIntervalSeconds is the period of the background eviction task.
	EvictIntervalSeconds int `json:"evict_interval_seconds" yaml:"evict_interval_seconds"`
	ImportDepthLimit     int `json:"import_depth_limit"     yaml:"import_depth_limit"`
	EditHistory          int `json:"edit_history"           yaml:"edit_history"`

	// LatestOnly names the request kinds cancelled by an edit to their document.
	LatestOnly []string `json:"latest_only" yaml:"latest_only"`

	EvalTimeoutMillis int    `json:"eval_timeout_ms" yaml:"eval_timeout_ms"`
	SymbolStore       string `json:"symbol_store"    yaml:"symbol_store"`

	LogFile   string `json:"log_file"  yaml:"log_file"`
	Verbosity int    `json:"verbosity" yaml:"verbosity"`
}

var defaultConfig = Config{
	Root:                 ".",
	FileExtensions:       []string{".typ"},
	DefaultExtension:     ".typ",
	Workers:              4,
	RetentionGenerations: 256,
	EvictIntervalSeconds: 60,
	ImportDepthLimit:     64,
	EditHistory:          8,
	LatestOnly:           []string{"hover", "completion", "signatureHelp", "documentSymbols"},
	EvalTimeoutMillis:    200,
	SymbolStore:          ":memory:",
	Verbosity:            1,
}

// Default returns a copy of the built-in configuration.
func Default() Config {
	cfg := defaultConfig
	cfg.FileExtensions = append([]string(nil), defaultConfig.FileExtensions...)
	cfg.LatestOnly = append([]string(nil), defaultConfig.LatestOnly...)
	return cfg
}

// Load overlays the fields present in v (typically the client's
// initializationOptions) on top of the defaults.
func Load(v any) (Config, error) {
	cfg := Default()
	if v == nil {
		return cfg, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return Config{}, fmt.Errorf("failed to marshal source: %w", err)
	}

	// only fields present in src will overwrite.
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal into Config: %w", err)
	}

	return cfg, cfg.Validate()
}

// LoadFromJSON reads JSON from r into a Config.
func LoadFromJSON(r io.Reader) (Config, error) {
	cfg := Default()

	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

// LoadFile reads a YAML (or JSON, which is valid YAML) config file.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be positive, got %d", c.Workers)
	}
	if c.ImportDepthLimit < 1 {
		return fmt.Errorf("config: import_depth_limit must be positive, got %d", c.ImportDepthLimit)
	}
	if c.DefaultExtension == "" {
		return fmt.Errorf("config: default_extension must not be empty")
	}
	return nil
}

// IsLatestOnly reports whether requests of the given kind are superseded by edits.
func (c Config) IsLatestOnly(kind string) bool {
	for _, k := range c.LatestOnly {
		if k == kind {
			return true
		}
	}
	return false
}

// HasExtension reports whether name carries one of the configured document extensions.
func (c Config) HasExtension(ext string) bool {
	for _, e := range c.FileExtensions {
		if e == ext {
			return true
		}
	}
	return false
}
