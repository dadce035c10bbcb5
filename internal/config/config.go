// Package config loads and validates the analyzer's YAML configuration.
package config

import "fmt"

// Config is the root configuration for a contractcheck run.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Store     StoreConfig     `yaml:"store"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Snapshots SnapshotsConfig `yaml:"snapshots"`
	OpenAPI   OpenAPIConfig   `yaml:"openapi"`
	Watch     WatchConfig     `yaml:"watch"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig controls the historical snapshot store.
type StoreConfig struct {
	Dir         string `yaml:"dir"`
	MaxVersions int    `yaml:"max_versions"`
}

// AnalysisConfig tunes engine behavior.
type AnalysisConfig struct {
	Concurrency int `yaml:"concurrency"`
	// Baseline restricts which stored services play "current" when no
	// current_dir is given, as a comma-separated service list. Empty means
	// every service with archived snapshots.
	Baseline string `yaml:"baseline"`
}

// SnapshotsConfig locates the snapshot documents to analyze.
type SnapshotsConfig struct {
	CurrentDir  string `yaml:"current_dir"`
	ProposedDir string `yaml:"proposed_dir"`
	EdgesFile   string `yaml:"edges_file"`
}

// OpenAPISpecConfig names one OpenAPI document to extract as a service's
// proposed surface.
type OpenAPISpecConfig struct {
	Service string `yaml:"service"`
	File    string `yaml:"file"`
}

// OpenAPIConfig lists OpenAPI extraction sources.
type OpenAPIConfig struct {
	Specs []OpenAPISpecConfig `yaml:"specs"`
}

// WatchConfig controls re-analysis on snapshot changes.
type WatchConfig struct {
	Enabled    bool `yaml:"enabled"`
	DebounceMs int  `yaml:"debounce_ms"`
}

// DefaultConfig returns a config with usable defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging:  LoggingConfig{Level: "info", Format: "console"},
		Store:    StoreConfig{Dir: ".contractcheck/history", MaxVersions: 10},
		Analysis: AnalysisConfig{Concurrency: 4},
		Watch:    WatchConfig{DebounceMs: 500},
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	if c.Analysis.Concurrency < 0 {
		return fmt.Errorf("analysis.concurrency must not be negative")
	}
	if c.Store.MaxVersions < 0 {
		return fmt.Errorf("store.max_versions must not be negative")
	}
	if c.Snapshots.ProposedDir == "" && len(c.OpenAPI.Specs) == 0 {
		return fmt.Errorf("nothing to analyze: set snapshots.proposed_dir or openapi.specs")
	}
	for i, spec := range c.OpenAPI.Specs {
		if spec.Service == "" {
			return fmt.Errorf("openapi.specs[%d]: service is required", i)
		}
		if spec.File == "" {
			return fmt.Errorf("openapi.specs[%d]: file is required", i)
		}
	}
	return nil
}
