package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Filter.MinQV != 20 {
		t.Errorf("expected default min_qv 20, got %g", cfg.Filter.MinQV)
	}
	if cfg.Tiling.Width != 4000 || cfg.Tiling.Height != 4000 || cfg.Tiling.Overlap != 500 {
		t.Errorf("unexpected default tiling: %+v", cfg.Tiling)
	}
	if cfg.Tiling.MinimalTranscripts != 100000 {
		t.Errorf("expected default minimal_transcripts 100000, got %d", cfg.Tiling.MinimalTranscripts)
	}
	if len(cfg.Filter.ExcludeGenes) != 5 {
		t.Errorf("expected 5 default exclude prefixes, got %v", cfg.Filter.ExcludeGenes)
	}
	if cfg.Output.Dir != "." || !cfg.Output.Manifest {
		t.Errorf("unexpected default output: %+v", cfg.Output)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	content := `
filter:
  min_qv: 0
  nucleus_only: true
tiling:
  width: 2000
output:
  manifest: false
`
	cfg := loadFromString(t, content)

	if cfg.Filter.MinQV != 0 {
		t.Errorf("expected explicit min_qv 0 to survive, got %g", cfg.Filter.MinQV)
	}
	if !cfg.Filter.NucleusOnly {
		t.Error("expected nucleus_only true")
	}
	if cfg.Tiling.Width != 2000 {
		t.Errorf("expected width 2000, got %g", cfg.Tiling.Width)
	}
	if cfg.Tiling.Height != 4000 {
		t.Errorf("expected default height 4000, got %g", cfg.Tiling.Height)
	}
	if cfg.Output.Manifest {
		t.Error("expected manifest false")
	}
	if len(cfg.Filter.ExcludeGenes) != 5 {
		t.Errorf("expected default exclude prefixes, got %v", cfg.Filter.ExcludeGenes)
	}
}

func TestLoad_CustomExcludeGenes(t *testing.T) {
	content := `
filter:
  exclude_genes: ["Deprecated_", "BLANK_"]
`
	cfg := loadFromString(t, content)
	if len(cfg.Filter.ExcludeGenes) != 2 || cfg.Filter.ExcludeGenes[0] != "Deprecated_" {
		t.Errorf("unexpected exclude_genes: %v", cfg.Filter.ExcludeGenes)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	content := `
output:
  dir: ""
  compression: ""
runtime:
  batch_size: 0
`
	cfg := loadFromString(t, content)
	if cfg.Output.Dir != "." {
		t.Errorf("expected default dir, got %q", cfg.Output.Dir)
	}
	if cfg.Output.Compression != CompressionNone {
		t.Errorf("expected default compression, got %q", cfg.Output.Compression)
	}
	if cfg.Runtime.BatchSize != 65536 {
		t.Errorf("expected default batch size, got %d", cfg.Runtime.BatchSize)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("tiling: [1, 2"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"ok", func(*Config) {}, ""},
		{"missing input", func(c *Config) { c.Input.Path = "" }, "in_file"},
		{"negative qv", func(c *Config) { c.Filter.MinQV = -1 }, "min_qv"},
		{"zero width", func(c *Config) { c.Tiling.Width = 0 }, "width"},
		{"zero height", func(c *Config) { c.Tiling.Height = 0 }, "height"},
		{"negative overlap", func(c *Config) { c.Tiling.Overlap = -5 }, "overlap"},
		{"overlap equals width", func(c *Config) { c.Tiling.Overlap = c.Tiling.Width }, "overlap"},
		{"overlap exceeds height", func(c *Config) { c.Tiling.Height = 400 }, "overlap"},
		{"negative minimal", func(c *Config) { c.Tiling.MinimalTranscripts = -1 }, "minimal_transcripts"},
		{"nan qv", func(c *Config) { c.Filter.MinQV = math.NaN() }, "min_qv"},
		{"infinite qv", func(c *Config) { c.Filter.MinQV = math.Inf(1) }, "min_qv"},
		{"nan width", func(c *Config) { c.Tiling.Width = math.NaN() }, "width"},
		{"infinite width", func(c *Config) { c.Tiling.Width = math.Inf(1) }, "width"},
		{"nan height", func(c *Config) { c.Tiling.Height = math.NaN() }, "height"},
		{"infinite height", func(c *Config) { c.Tiling.Height = math.Inf(1) }, "height"},
		{"nan overlap", func(c *Config) { c.Tiling.Overlap = math.NaN() }, "overlap"},
		{"negative infinite overlap", func(c *Config) { c.Tiling.Overlap = math.Inf(-1) }, "overlap"},
		{"zero overlap with minimum", func(c *Config) { c.Tiling.Overlap = 0 }, "overlap"},
		{"zero overlap without minimum", func(c *Config) {
			c.Tiling.Overlap = 0
			c.Tiling.MinimalTranscripts = 0
		}, ""},
		{"bad compression", func(c *Config) { c.Output.Compression = "lz4" }, "compression"},
		{"negative threads", func(c *Config) { c.Runtime.Threads = -2 }, "threads"},
		{"empty prefix", func(c *Config) { c.Filter.ExcludeGenes = []string{"BLANK_", ""} }, "exclude_genes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Input.Path = "transcripts.csv"
			tc.mutate(cfg)

			err := cfg.Validate()
			if tc.field == "" {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if ce.Field != tc.field {
				t.Errorf("expected field %q, got %q", tc.field, ce.Field)
			}
		})
	}
}

func TestLoad_NaNOverlapRejected(t *testing.T) {
	cfg := loadFromString(t, `
tiling:
  overlap: .nan
`)
	cfg.Input.Path = "transcripts.csv"
	var ce *ConfigError
	if err := cfg.Validate(); !errors.As(err, &ce) || ce.Field != "overlap" {
		t.Fatalf("expected overlap ConfigError, got %v", err)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Input.Path = "/data/transcripts.parquet"
	cfg.Filter.NucleusOnly = true
	cfg.Tiling.Overlap = 250

	path := filepath.Join(t.TempDir(), "params.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.Input.Path != cfg.Input.Path || !got.Filter.NucleusOnly || got.Tiling.Overlap != 250 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "tiler.example.yaml"))
	if err != nil {
		t.Fatalf("failed to load example config: %v", err)
	}
	cfg.Input.Path = "transcripts.parquet"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("example config does not validate: %v", err)
	}
	if cfg.Output.Dir != "tiles" || !cfg.Output.Preview {
		t.Errorf("unexpected output section: %+v", cfg.Output)
	}
	if len(cfg.Filter.ExcludeGenes) != 5 {
		t.Errorf("expected 5 exclude prefixes, got %v", cfg.Filter.ExcludeGenes)
	}
}
