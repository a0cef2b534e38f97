package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dorvan/ragent/internal/chunk"
	"github.com/dorvan/ragent/internal/retrieval"
)

func TestLoad_Defaults(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing-on-purpose.yaml")); err == nil {
		t.Fatal("explicit missing file must error")
	}

	cfg, err := loadFromDir(t, "")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.ModelName != "gemini-2.5-flash" {
		t.Errorf("ModelName = %q", cfg.ModelName)
	}
	if cfg.MaxIterations != 5 {
		t.Errorf("MaxIterations = %d", cfg.MaxIterations)
	}
	if cfg.Chunking.Strategy != string(chunk.StrategyRecursive) {
		t.Errorf("Chunking.Strategy = %q", cfg.Chunking.Strategy)
	}
	if cfg.Retrieval.Strictness != string(retrieval.StrictnessBalanced) {
		t.Errorf("Retrieval.Strictness = %q", cfg.Retrieval.Strictness)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL should default to empty (memory store), got %q", cfg.DatabaseURL)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	cfg, err := loadFromDir(t, `
model_name: gemini-2.5-pro
max_iterations: 3
chunking:
  strategy: fixed
  chunk_size: 500
  chunk_overlap: 50
retrieval:
  strictness: strict
  max_results: 8
pricing:
  "googleai/gemini-2.5-pro":
    input_per_million: 2.0
    output_per_million: 12.0
`)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.ModelName != "gemini-2.5-pro" || cfg.MaxIterations != 3 {
		t.Errorf("AI section not applied: %+v", cfg)
	}
	if cfg.Chunking.Strategy != "fixed" || cfg.Chunking.ChunkSize != 500 {
		t.Errorf("Chunking section not applied: %+v", cfg.Chunking)
	}
	if cfg.Retrieval.MaxResults != 8 {
		t.Errorf("Retrieval section not applied: %+v", cfg.Retrieval)
	}

	prices := cfg.Prices()
	if p := prices["googleai/gemini-2.5-pro"]; p.InputPerMillion != 2.0 || p.OutputPerMillion != 12.0 {
		t.Errorf("pricing override not applied: %+v", p)
	}
	// Dots in model names are data, not key separators.
	if _, ok := cfg.Pricing["googleai/gemini-2"]; ok {
		t.Errorf("dotted model name was split into a nested key: %v", cfg.Pricing)
	}
	// Untouched defaults survive.
	if _, ok := prices["googleai/gemini-2.5-flash"]; !ok {
		t.Error("default prices must remain alongside overrides")
	}
}

func TestLoad_EnvOverridesNestedKey(t *testing.T) {
	t.Setenv("RAGENT_CHUNKING_CHUNK_SIZE", "750")

	cfg, err := loadFromDir(t, "")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Chunking.ChunkSize != 750 {
		t.Errorf("Chunking.ChunkSize = %d, want env override 750", cfg.Chunking.ChunkSize)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("RAGENT_MODEL_NAME", "gemini-2.5-flash-lite")

	cfg, err := loadFromDir(t, "model_name: gemini-2.5-pro\n")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ModelName != "gemini-2.5-flash-lite" {
		t.Errorf("environment must win over the file, got %q", cfg.ModelName)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ModelName:     "gemini-2.5-flash",
			MaxIterations: 5,
			Chunking:      ChunkingConfig{Strategy: "recursive", ChunkSize: 1000, ChunkOverlap: 200},
			Retrieval:     RetrievalConfig{Strictness: "balanced", MaxResults: 4},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(c *Config) {}, nil},
		{"empty model", func(c *Config) { c.ModelName = "  " }, ErrInvalidModelName},
		{"zero iterations", func(c *Config) { c.MaxIterations = 0 }, ErrInvalidMaxIterations},
		{"excessive iterations", func(c *Config) { c.MaxIterations = 100 }, ErrInvalidMaxIterations},
		{"unknown strategy", func(c *Config) { c.Chunking.Strategy = "semantic" }, ErrInvalidChunking},
		{"negative overlap", func(c *Config) { c.Chunking.ChunkOverlap = -1 }, ErrInvalidChunking},
		{"unknown strictness", func(c *Config) { c.Retrieval.Strictness = "pedantic" }, ErrInvalidRetrieval},
		{"zero max results", func(c *Config) { c.Retrieval.MaxResults = 0 }, ErrInvalidRetrieval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// loadFromDir writes an optional config.yaml into a temp dir, chdirs
// there, and loads with the default search path.
func loadFromDir(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	dir := t.TempDir()
	if yaml != "" {
		if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	t.Chdir(dir)
	return Load("")
}
