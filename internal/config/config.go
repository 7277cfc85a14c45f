// Package config loads engine settings from defaults, a YAML file, a .env
// file and EPISODIC_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. EPISODIC_DB_PATH or
// EPISODIC_EMBEDDING_PROVIDER.
const EnvPrefix = "EPISODIC"

// Config holds every tunable of the engine.
type Config struct {
	DBPath  string `yaml:"db_path" split_words:"true"`
	Backend string `yaml:"backend" split_words:"true"`

	Log           LogConfig           `yaml:"log" split_words:"true"`
	Embedding     EmbeddingConfig     `yaml:"embedding" split_words:"true"`
	Retrieval     RetrievalConfig     `yaml:"retrieval" split_words:"true"`
	Tier          TierConfig          `yaml:"tier" split_words:"true"`
	Contradiction ContradictionConfig `yaml:"contradiction" split_words:"true"`

	// BackendTimeout bounds every single vector backend call.
	BackendTimeout time.Duration `yaml:"backend_timeout" split_words:"true"`
	// Concurrency bounds the per-request fan-out to embedder and backend.
	Concurrency int `yaml:"concurrency" split_words:"true"`

	// PersonaKeywords maps a normalized agent id to the vocabulary its
	// persona cares about. Used by fidelity-first retrieval.
	PersonaKeywords map[string][]string `yaml:"persona_keywords" ignored:"true"`
}

// LogConfig configures the zerolog logger.
type LogConfig struct {
	Level      string `yaml:"level" split_words:"true"`
	Format     string `yaml:"format" split_words:"true"`
	Output     string `yaml:"output" split_words:"true"`
	FilePath   string `yaml:"file_path" split_words:"true"`
	TimeFormat string `yaml:"time_format" split_words:"true"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider" split_words:"true"`
	Model     string `yaml:"model" split_words:"true"`
	URL       string `yaml:"url" split_words:"true"`
	APIKey    string `yaml:"api_key" split_words:"true"`
	Dims      int    `yaml:"dims" split_words:"true"`
	CacheSize int64  `yaml:"cache_size" split_words:"true"`
}

// RetrievalConfig tunes the read path.
type RetrievalConfig struct {
	FallbackThresholds []float64     `yaml:"fallback_thresholds" split_words:"true"`
	TemporalWindow     time.Duration `yaml:"temporal_window" split_words:"true"`
	TemporalTriggers   []string      `yaml:"temporal_triggers" split_words:"true"`
	FidelityCap        int           `yaml:"fidelity_cap" split_words:"true"`
	DefaultLimit       int           `yaml:"default_limit" split_words:"true"`
}

// TierConfig tunes the periodic lifecycle jobs.
type TierConfig struct {
	DecayInterval time.Duration `yaml:"decay_interval" split_words:"true"`
	BatchSize     int           `yaml:"batch_size" split_words:"true"`
}

// ContradictionConfig tunes contradiction detection and clustering.
type ContradictionConfig struct {
	ConceptThreshold float64 `yaml:"concept_threshold" split_words:"true"`
	LiteralThreshold float64 `yaml:"literal_threshold" split_words:"true"`
	ReplaceBelow     float64 `yaml:"replace_below" split_words:"true"`
	ClusterSize      int     `yaml:"cluster_size" split_words:"true"`
	ClusterThreshold float64 `yaml:"cluster_threshold" split_words:"true"`
}

// DefaultTemporalTriggers are the phrases that turn a query into a recency lookup.
var DefaultTemporalTriggers = []string{
	"last", "recent", "just", "earlier", "before", "previous",
	"moments ago", "just now", "a moment ago", "just said",
	"just told", "just asked", "just mentioned",
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DBPath:  filepath.Join(home, ".episodic-memory", "memory.db"),
		Backend: "sqlite",
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			FilePath:   "logs/episodic-memory.log",
			TimeFormat: "rfc3339",
		},
		Embedding: EmbeddingConfig{
			Provider:  "hash",
			Dims:      384,
			CacheSize: 1 << 26,
		},
		Retrieval: RetrievalConfig{
			FallbackThresholds: []float64{0.3, 0.2, 0.1, 0.05},
			TemporalWindow:     2 * time.Hour,
			TemporalTriggers:   append([]string(nil), DefaultTemporalTriggers...),
			FidelityCap:        50,
			DefaultLimit:       10,
		},
		Tier: TierConfig{
			DecayInterval: time.Hour,
			BatchSize:     256,
		},
		Contradiction: ContradictionConfig{
			ConceptThreshold: 0.8,
			LiteralThreshold: 0.7,
			ReplaceBelow:     0.8,
			ClusterSize:      5,
			ClusterThreshold: 0.7,
		},
		BackendTimeout: 10 * time.Second,
		Concurrency:    6,
	}
}

// Load builds the configuration. path may be empty; a missing file is not
// an error, a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	// .env is optional
	_ = godotenv.Load()

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	switch c.Backend {
	case "sqlite", "chromem":
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if len(c.Retrieval.FallbackThresholds) == 0 {
		return fmt.Errorf("config: retrieval.fallback_thresholds must not be empty")
	}
	for i := 1; i < len(c.Retrieval.FallbackThresholds); i++ {
		if c.Retrieval.FallbackThresholds[i] > c.Retrieval.FallbackThresholds[i-1] {
			return fmt.Errorf("config: retrieval.fallback_thresholds must be descending")
		}
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be at least 1")
	}
	if c.BackendTimeout <= 0 {
		return fmt.Errorf("config: backend_timeout must be positive")
	}
	return nil
}
