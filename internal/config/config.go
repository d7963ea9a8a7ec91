// Package config handles configuration loading for the transcript tiler.
package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/soma-tiles/xenium-tiler/internal/transcript"
)

// Compression values accepted for tile output.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

// Config represents the resolved run configuration.
type Config struct {
	Input   InputConfig   `yaml:"input"`
	Filter  FilterConfig  `yaml:"filter"`
	Tiling  TilingConfig  `yaml:"tiling"`
	Output  OutputConfig  `yaml:"output"`
	Runtime RuntimeConfig `yaml:"runtime"`
}

// InputConfig names the source table.
type InputConfig struct {
	Path string `yaml:"path"`
}

// FilterConfig contains transcript filter settings.
type FilterConfig struct {
	MinQV        float64  `yaml:"min_qv"`
	ExcludeGenes []string `yaml:"exclude_genes"`
	NucleusOnly  bool     `yaml:"nucleus_only"`
}

// TilingConfig contains tile geometry settings, in microns.
type TilingConfig struct {
	Width              float64 `yaml:"width"`
	Height             float64 `yaml:"height"`
	Overlap            float64 `yaml:"overlap"`
	MinimalTranscripts int     `yaml:"minimal_transcripts"`
}

// OutputConfig contains output settings.
type OutputConfig struct {
	Dir         string `yaml:"dir"`
	Compression string `yaml:"compression"`
	Manifest    bool   `yaml:"manifest"`
	Preview     bool   `yaml:"preview"`
	PreviewSize int    `yaml:"preview_size"`
}

// RuntimeConfig contains worker pool and cache settings.
type RuntimeConfig struct {
	Threads       int  `yaml:"threads"`
	BatchSize     int  `yaml:"batch_size"`
	CellCacheSize int  `yaml:"cell_cache_size"`
	Verbose       bool `yaml:"verbose"`
}

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Load reads configuration from a YAML file on top of the defaults. An empty
// path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// Apply defaults for missing values
	applyDefaults(cfg)

	return cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Filter: FilterConfig{
			MinQV:        transcript.DefaultMinQV,
			ExcludeGenes: transcript.DefaultExcludePrefixes(),
		},
		Tiling: TilingConfig{
			Width:              4000,
			Height:             4000,
			Overlap:            500,
			MinimalTranscripts: 100000,
		},
		Output: OutputConfig{
			Dir:         ".",
			Compression: CompressionNone,
			Manifest:    true,
			PreviewSize: 1024,
		},
		Runtime: RuntimeConfig{
			BatchSize:     65536,
			CellCacheSize: 1 << 16,
		},
	}
}

// applyDefaults fills values a YAML file explicitly blanked.
func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Filter.ExcludeGenes == nil {
		cfg.Filter.ExcludeGenes = defaults.Filter.ExcludeGenes
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = defaults.Output.Dir
	}
	if cfg.Output.Compression == "" {
		cfg.Output.Compression = defaults.Output.Compression
	}
	if cfg.Output.PreviewSize == 0 {
		cfg.Output.PreviewSize = defaults.Output.PreviewSize
	}
	if cfg.Runtime.BatchSize == 0 {
		cfg.Runtime.BatchSize = defaults.Runtime.BatchSize
	}
	if cfg.Runtime.CellCacheSize == 0 {
		cfg.Runtime.CellCacheSize = defaults.Runtime.CellCacheSize
	}
}

// Validate checks the configuration before any row is read.
func (c *Config) Validate() error {
	switch {
	case c.Input.Path == "":
		return &ConfigError{Field: "in_file", Reason: "input path is required"}
	case !finite(c.Filter.MinQV):
		return &ConfigError{Field: "min_qv", Reason: fmt.Sprintf("must be a finite number, got %g", c.Filter.MinQV)}
	case !finite(c.Tiling.Width):
		return &ConfigError{Field: "width", Reason: fmt.Sprintf("must be a finite number, got %g", c.Tiling.Width)}
	case !finite(c.Tiling.Height):
		return &ConfigError{Field: "height", Reason: fmt.Sprintf("must be a finite number, got %g", c.Tiling.Height)}
	case !finite(c.Tiling.Overlap):
		return &ConfigError{Field: "overlap", Reason: fmt.Sprintf("must be a finite number, got %g", c.Tiling.Overlap)}
	case c.Filter.MinQV < 0:
		return &ConfigError{Field: "min_qv", Reason: fmt.Sprintf("must be >= 0, got %g", c.Filter.MinQV)}
	case c.Tiling.Width <= 0:
		return &ConfigError{Field: "width", Reason: fmt.Sprintf("must be > 0, got %g", c.Tiling.Width)}
	case c.Tiling.Height <= 0:
		return &ConfigError{Field: "height", Reason: fmt.Sprintf("must be > 0, got %g", c.Tiling.Height)}
	case c.Tiling.Overlap < 0:
		return &ConfigError{Field: "overlap", Reason: fmt.Sprintf("must be >= 0, got %g", c.Tiling.Overlap)}
	case c.Tiling.Overlap >= c.Tiling.Width:
		return &ConfigError{Field: "overlap", Reason: "the width of a tile cannot be smaller than the overlap"}
	case c.Tiling.Overlap >= c.Tiling.Height:
		return &ConfigError{Field: "overlap", Reason: "the height of a tile cannot be smaller than the overlap"}
	case c.Tiling.MinimalTranscripts < 0:
		return &ConfigError{Field: "minimal_transcripts", Reason: "must be >= 0"}
	case c.Tiling.Overlap == 0 && c.Tiling.MinimalTranscripts > 0:
		return &ConfigError{Field: "overlap", Reason: "must be > 0 when minimal_transcripts is set, tiles grow by the overlap"}
	case c.Output.Compression != CompressionNone && c.Output.Compression != CompressionZstd:
		return &ConfigError{Field: "compression", Reason: fmt.Sprintf("unknown compression %q", c.Output.Compression)}
	case c.Output.PreviewSize < 16:
		return &ConfigError{Field: "preview_size", Reason: "must be >= 16"}
	case c.Runtime.Threads < 0:
		return &ConfigError{Field: "threads", Reason: "must be >= 0"}
	case c.Runtime.BatchSize <= 0:
		return &ConfigError{Field: "batch_size", Reason: "must be > 0"}
	}
	for _, p := range c.Filter.ExcludeGenes {
		if p == "" {
			return &ConfigError{Field: "exclude_genes", Reason: "empty prefix would exclude every gene"}
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}

// Save writes the configuration as YAML, used for the params dump.
func (c *Config) Save(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
