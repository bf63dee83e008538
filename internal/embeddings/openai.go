package embeddings

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fyrsmithlabs/semantixd/internal/config"
)

// openaiProvider generates embeddings via the OpenAI API.
type openaiProvider struct {
	client *openai.Client
	model  string
}

func newOpenAIProvider(cfg config.EmbeddingConfig) (*openaiProvider, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("%w: openai provider requires api_key", ErrInvalidConfig)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey.Value())
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeoutFrom(cfg.Timeout)}

	return &openaiProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

func (o *openaiProvider) Name() string   { return "openai" }
func (o *openaiProvider) Model() string  { return o.model }
func (o *openaiProvider) Dimension() int { return modelDimension(o.model) }
func (o *openaiProvider) Close() error   { return nil }

func (o *openaiProvider) Generate(ctx context.Context, text string) ([]float32, error) {
	vectors, err := o.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (o *openaiProvider) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, &ProviderError{
			Kind: KindBadResponse,
			Err:  fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)),
		}
	}

	vectors := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, &ProviderError{
				Kind: KindBadResponse,
				Err:  fmt.Errorf("embedding index %d out of range", item.Index),
			}
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// classifyOpenAIError maps a go-openai error onto the provider taxonomy.
func classifyOpenAIError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 {
			// go-openai does not expose Retry-After; leave it zero.
			return &ProviderError{Kind: KindRateLimit, StatusCode: 429, Err: err}
		}
		return &ProviderError{Kind: KindHTTP, StatusCode: apiErr.HTTPStatusCode, Err: err}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &ProviderError{Kind: KindTimeout, Err: err}
	}
	return &ProviderError{Kind: KindConnect, Err: err}
}

// timeoutFrom derives a client timeout, defaulting when unset.
func timeoutFrom(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}
