package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/fyrsmithlabs/semantixd/internal/config"
)

// localProvider calls a self-hosted TEI (Text Embeddings Inference) server.
//
// Request:  {"inputs": <string or [string]>, "truncate": true}
// Response: [[ ... ]] (one vector per input)
type localProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

func newLocalProvider(cfg config.EmbeddingConfig) (*localProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: local provider requires base_url", ErrInvalidConfig)
	}

	return &localProvider{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeoutFrom(cfg.Timeout)},
	}, nil
}

type teiRequest struct {
	Inputs   any  `json:"inputs"`
	Truncate bool `json:"truncate"`
}

func (l *localProvider) Name() string   { return "local" }
func (l *localProvider) Model() string  { return l.model }
func (l *localProvider) Dimension() int { return modelDimension(l.model) }
func (l *localProvider) Close() error   { return nil }

func (l *localProvider) Generate(ctx context.Context, text string) ([]float32, error) {
	vectors, err := l.embed(ctx, teiRequest{Inputs: text, Truncate: true}, 1)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (l *localProvider) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return l.embed(ctx, teiRequest{Inputs: texts, Truncate: true}, len(texts))
}

func (l *localProvider) embed(ctx context.Context, req teiRequest, want int) ([][]float32, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyHTTPStatus(resp, respBody)
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, &ProviderError{Kind: KindBadResponse, Err: fmt.Errorf("decoding response: %w", err)}
	}

	if len(vectors) != want {
		return nil, &ProviderError{
			Kind: KindBadResponse,
			Err:  fmt.Errorf("expected %d vectors, got %d", want, len(vectors)),
		}
	}
	return vectors, nil
}
