// Package config loads application configuration with multi-source
// priority.
//
// Sources, highest to lowest:
//  1. Environment variables (RAGENT_* prefix)
//  2. Config file (~/.ragent/config.yaml, or an explicit path)
//  3. Default values
//
// Secrets are never part of this struct: GEMINI_API_KEY is read
// directly by the genkit plugin, and the database URL is the caller's
// responsibility to keep out of logs.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/dorvan/ragent/internal/chunk"
	"github.com/dorvan/ragent/internal/retrieval"
	"github.com/dorvan/ragent/internal/usage"
)

var (
	// ErrInvalidModelName indicates an empty model name.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidMaxIterations indicates a max_iterations outside 1..50.
	ErrInvalidMaxIterations = errors.New("invalid max iterations")

	// ErrInvalidChunking indicates a chunking section that the splitter
	// would reject.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidRetrieval indicates a retrieval section with an unknown
	// strictness or a non-positive max_results.
	ErrInvalidRetrieval = errors.New("invalid retrieval configuration")
)

// ChunkingConfig mirrors chunk.Options for the config file.
type ChunkingConfig struct {
	Strategy     string `mapstructure:"strategy"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
}

// RetrievalConfig controls the knowledge-search defaults.
type RetrievalConfig struct {
	Strictness string `mapstructure:"strictness"`
	MaxResults int    `mapstructure:"max_results"`
}

// ModelPrice is a per-model pricing override, in USD per million
// tokens.
type ModelPrice struct {
	InputPerMillion  float64 `mapstructure:"input_per_million"`
	OutputPerMillion float64 `mapstructure:"output_per_million"`
}

// Config stores application configuration.
type Config struct {
	// AI configuration
	ModelName     string `mapstructure:"model_name"`
	EmbedderModel string `mapstructure:"embedder_model"`
	MaxIterations int    `mapstructure:"max_iterations"`
	SystemPrompt  string `mapstructure:"system_prompt"`

	// Storage configuration. Empty DatabaseURL selects the in-memory
	// store.
	DatabaseURL string `mapstructure:"database_url"`

	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`

	// Pricing overrides, keyed by provider-qualified model name.
	Pricing map[string]ModelPrice `mapstructure:"pricing"`
}

// Load reads configuration. An empty path searches ~/.ragent/ and the
// current directory; a missing file is not an error.
func Load(path string) (*Config, error) {
	// Model names in the pricing section contain dots
	// ("gemini-2.5-pro"); viper's default "." key delimiter would split
	// them into nested keys, so use "::" instead.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	setDefaults(v)

	v.SetEnvPrefix("RAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer("::", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".ragent"))
		}
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("embedder_model", "gemini-embedding-001")
	v.SetDefault("max_iterations", 5)

	// Registered empty so RAGENT_DATABASE_URL is picked up by
	// AutomaticEnv during Unmarshal.
	v.SetDefault("database_url", "")
	v.SetDefault("system_prompt", "")

	v.SetDefault("chunking::strategy", string(chunk.StrategyRecursive))
	v.SetDefault("chunking::chunk_size", chunk.DefaultChunkSize)
	v.SetDefault("chunking::chunk_overlap", chunk.DefaultChunkOverlap)

	v.SetDefault("retrieval::strictness", string(retrieval.StrictnessBalanced))
	v.SetDefault("retrieval::max_results", retrieval.DefaultMaxResults)
}

// Validate fails fast on values the rest of the system would reject
// later.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ModelName) == "" {
		return ErrInvalidModelName
	}
	if c.MaxIterations < 1 || c.MaxIterations > 50 {
		return fmt.Errorf("%w: %d (want 1..50)", ErrInvalidMaxIterations, c.MaxIterations)
	}

	if _, err := chunk.Split("", c.ChunkOptions()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChunking, err)
	}

	if _, ok := retrieval.Strictness(c.Retrieval.Strictness).Threshold(); !ok {
		return fmt.Errorf("%w: unknown strictness %q", ErrInvalidRetrieval, c.Retrieval.Strictness)
	}
	if c.Retrieval.MaxResults < 1 {
		return fmt.Errorf("%w: max_results %d", ErrInvalidRetrieval, c.Retrieval.MaxResults)
	}
	return nil
}

// ChunkOptions converts the chunking section for the splitter.
func (c *Config) ChunkOptions() chunk.Options {
	return chunk.Options{
		Strategy:     chunk.Strategy(c.Chunking.Strategy),
		ChunkSize:    c.Chunking.ChunkSize,
		ChunkOverlap: c.Chunking.ChunkOverlap,
	}
}

// Prices returns the default price table with the configured overrides
// applied.
func (c *Config) Prices() usage.PriceTable {
	table := usage.DefaultPrices()
	for model, p := range c.Pricing {
		table[model] = usage.Price{
			InputPerMillion:  p.InputPerMillion,
			OutputPerMillion: p.OutputPerMillion,
		}
	}
	return table
}
