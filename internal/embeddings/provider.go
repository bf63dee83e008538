// Package embeddings converts text into dense vectors via an external
// provider, with caching, batching and retry.
package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/semantixd/internal/config"
)

// Provider generates embeddings for text. Implementations classify their
// transport failures into ProviderError kinds; they do not retry internally
// (retry policy lives in retryProvider).
type Provider interface {
	// Generate returns the embedding for one text.
	Generate(ctx context.Context, text string) ([]float32, error)

	// GenerateBatch returns embeddings for multiple texts, one per input.
	GenerateBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name returns the provider name ("google", "openai", "local").
	Name() string

	// Model returns the configured model name.
	Model() string

	// Dimension returns the embedding dimension for the configured model.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}

// NewProvider creates a provider from configuration and wraps it with the
// retry policy: up to MaxRetries additional attempts with exponential
// backoff starting at RetryDelay. Rate-limit errors bypass the retry loop.
func NewProvider(cfg config.EmbeddingConfig) (Provider, error) {
	var (
		inner Provider
		err   error
	)

	switch cfg.Provider {
	case "google":
		inner, err = newGoogleProvider(cfg)
	case "openai":
		inner, err = newOpenAIProvider(cfg)
	case "local":
		inner, err = newLocalProvider(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	return &retryProvider{
		Provider:   inner,
		maxRetries: cfg.MaxRetries,
		retryDelay: retryDelay,
	}, nil
}

// modelDimension returns the embedding dimension for known model names,
// falling back to 768.
func modelDimension(model string) int {
	switch model {
	case "text-embedding-004", "embedding-001":
		return 768
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	case "BAAI/bge-small-en-v1.5", "all-MiniLM-L6-v2":
		return 384
	case "BAAI/bge-base-en-v1.5":
		return 768
	default:
		return 768
	}
}
