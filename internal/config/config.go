// Package config provides configuration loading for semantixd.
//
// Configuration is loaded from environment variables with sensible defaults.
// Variables use the SEMANTIX_ prefix with underscore-separated paths, e.g.
// SEMANTIX_EMBEDDING_PROVIDER maps to embedding.provider.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "SEMANTIX_"

// Config holds the complete semantixd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Vector    VectorConfig    `koanf:"vector"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Events    EventsConfig    `koanf:"events"`
	ICM       ICMConfig       `koanf:"icm"`
	Retrieval RetrievalConfig `koanf:"retrieval"`
	WorldView WorldViewConfig `koanf:"world_view"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig holds primary store (Postgres) configuration.
type DatabaseConfig struct {
	DSN             Secret        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

// VectorConfig holds vector store configuration.
type VectorConfig struct {
	// Path is the directory for chromem persistent storage.
	Path string `koanf:"path"`
	// Compress enables gzip compression for stored data.
	Compress bool `koanf:"compress"`
	// Dimension is the embedding dimension shared by all collections.
	Dimension int `koanf:"dimension"`
}

// EmbeddingConfig holds embedding provider, cache and batching configuration.
type EmbeddingConfig struct {
	// Provider is one of "google", "openai", "local".
	Provider string `koanf:"provider"`
	// Model is the embedding model name.
	Model string `koanf:"model"`
	// APIKey authenticates against the provider API.
	APIKey Secret `koanf:"api_key"`
	// BaseURL overrides the provider endpoint (required for "local").
	BaseURL string `koanf:"base_url"`

	Timeout    time.Duration `koanf:"timeout"`
	MaxRetries int           `koanf:"max_retries"`
	RetryDelay time.Duration `koanf:"retry_delay"`

	CacheEnabled bool          `koanf:"cache_enabled"`
	CacheMaxSize int           `koanf:"cache_max_size"`
	CacheTTL     time.Duration `koanf:"cache_ttl"`

	// BatchConcurrency bounds concurrent provider calls in batch generation.
	BatchConcurrency int `koanf:"batch_concurrency"`
}

// EventsConfig holds event bus configuration.
type EventsConfig struct {
	// Backend is "inproc" (default) or "nats".
	Backend string `koanf:"backend"`
	// NATSURL is the NATS server URL (only used for the nats backend).
	NATSURL string `koanf:"nats_url"`
}

// ICMConfig holds intent/time classifier configuration.
type ICMConfig struct {
	// Mode is "llm" or "heuristic". The heuristic mode is an explicit
	// deterministic offline classifier, not a silent fallback.
	Mode string `koanf:"mode"`
	// Model is the LLM used for classification in llm mode.
	Model string `koanf:"model"`
	// APIKey authenticates the classifier LLM.
	APIKey Secret `koanf:"api_key"`
	// Timeout bounds a single classification call.
	Timeout time.Duration `koanf:"timeout"`
}

// RetrievalConfig holds retrieval engine configuration.
type RetrievalConfig struct {
	// DefaultLimit applies to retrieval calls that omit a limit.
	DefaultLimit         int     `koanf:"default_limit"`
	DefaultMinSimilarity float64 `koanf:"default_min_similarity"`
	// MaxLimit caps the per-request limit from the HTTP surface.
	MaxLimit int `koanf:"max_limit"`
}

// WorldViewConfig holds world-view builder configuration.
type WorldViewConfig struct {
	// RecentLimit caps recent conversations in the world-view payload.
	RecentLimit int `koanf:"recent_limit"`
	// SummaryMaxWords bounds the LLM short-term-memory summary.
	SummaryMaxWords int `koanf:"summary_max_words"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9090,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:             "postgres://localhost:5432/semantix?sslmode=disable",
			MaxOpenConns:    16,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Vector: VectorConfig{
			Path:      "~/.config/semantixd/vectorstore",
			Dimension: 768,
		},
		Embedding: EmbeddingConfig{
			Provider:         "google",
			Model:            "text-embedding-004",
			Timeout:          30 * time.Second,
			MaxRetries:       3,
			RetryDelay:       time.Second,
			CacheEnabled:     true,
			CacheMaxSize:     1000,
			CacheTTL:         24 * time.Hour,
			BatchConcurrency: 10,
		},
		Events: EventsConfig{
			Backend: "inproc",
			NATSURL: "nats://localhost:4222",
		},
		ICM: ICMConfig{
			Mode:    "heuristic",
			Model:   "gpt-4o-mini",
			Timeout: 20 * time.Second,
		},
		Retrieval: RetrievalConfig{
			DefaultLimit:         5,
			DefaultMinSimilarity: 0.7,
			MaxLimit:             50,
		},
		WorldView: WorldViewConfig{
			RecentLimit:     5,
			SummaryMaxWords: 120,
		},
	}
}

// Load loads configuration from environment variables over defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	cfg := Default()

	// SEMANTIX_EMBEDDING_CACHE_MAX_SIZE -> embedding.cache_max_size
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		for _, section := range []string{
			"server", "database", "vector", "embedding", "events",
			"icm", "retrieval", "world_view",
		} {
			if strings.HasPrefix(s, section+"_") {
				return section + "." + strings.TrimPrefix(s, section+"_")
			}
		}
		return s
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Vector.Dimension <= 0 {
		return errors.New("vector dimension must be positive")
	}
	switch c.Embedding.Provider {
	case "google", "openai", "local":
	default:
		return fmt.Errorf("unknown embedding provider: %q", c.Embedding.Provider)
	}
	if c.Embedding.Provider == "local" && c.Embedding.BaseURL == "" {
		return errors.New("local embedding provider requires base_url")
	}
	if c.Embedding.MaxRetries < 0 {
		return errors.New("max_retries cannot be negative")
	}
	if c.Embedding.BatchConcurrency < 1 {
		return errors.New("batch_concurrency must be at least 1")
	}
	switch c.Events.Backend {
	case "inproc", "nats":
	default:
		return fmt.Errorf("unknown events backend: %q", c.Events.Backend)
	}
	switch c.ICM.Mode {
	case "llm", "heuristic":
	default:
		return fmt.Errorf("unknown icm mode: %q", c.ICM.Mode)
	}
	if c.Retrieval.DefaultMinSimilarity < 0 || c.Retrieval.DefaultMinSimilarity > 1 {
		return fmt.Errorf("default_min_similarity must be in [0,1], got %f", c.Retrieval.DefaultMinSimilarity)
	}
	if c.Retrieval.DefaultLimit < 1 {
		return errors.New("default_limit must be at least 1")
	}
	if c.WorldView.RecentLimit < 1 {
		return errors.New("world_view recent_limit must be at least 1")
	}
	return nil
}
