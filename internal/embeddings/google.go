package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/semantixd/internal/config"
)

const defaultGoogleBaseURL = "https://generativelanguage.googleapis.com"

// googleProvider calls the Generative Language embedContent REST API.
//
// Request:  {"model": "...", "content": {"parts": [{"text": "..."}]}}
// Response: {"embedding": {"values": [ ... ]}}
type googleProvider struct {
	baseURL string
	model   string
	apiKey  config.Secret
	client  *http.Client
	limiter *rate.Limiter
}

func newGoogleProvider(cfg config.EmbeddingConfig) (*googleProvider, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("%w: google provider requires api_key", ErrInvalidConfig)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGoogleBaseURL
	}

	return &googleProvider{
		baseURL: baseURL,
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		// Stay under the published per-minute quota with headroom.
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}, nil
}

type googleContent struct {
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text"`
}

type googleEmbedRequest struct {
	Model   string        `json:"model"`
	Content googleContent `json:"content"`
}

type googleEmbedding struct {
	Values []float32 `json:"values"`
}

type googleEmbedResponse struct {
	Embedding googleEmbedding `json:"embedding"`
}

type googleBatchRequest struct {
	Requests []googleEmbedRequest `json:"requests"`
}

type googleBatchResponse struct {
	Embeddings []googleEmbedding `json:"embeddings"`
}

func (g *googleProvider) Name() string   { return "google" }
func (g *googleProvider) Model() string  { return g.model }
func (g *googleProvider) Dimension() int { return modelDimension(g.model) }
func (g *googleProvider) Close() error   { return nil }

func (g *googleProvider) Generate(ctx context.Context, text string) ([]float32, error) {
	body := googleEmbedRequest{
		Model:   "models/" + g.model,
		Content: googleContent{Parts: []googlePart{{Text: text}}},
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:embedContent", g.baseURL, g.model)

	var resp googleEmbedResponse
	if err := g.post(ctx, url, body, &resp); err != nil {
		return nil, err
	}

	if len(resp.Embedding.Values) == 0 {
		return nil, &ProviderError{Kind: KindBadResponse, Err: errors.New("empty embedding values")}
	}
	return resp.Embedding.Values, nil
}

func (g *googleProvider) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqs := make([]googleEmbedRequest, len(texts))
	for i, text := range texts {
		reqs[i] = googleEmbedRequest{
			Model:   "models/" + g.model,
			Content: googleContent{Parts: []googlePart{{Text: text}}},
		}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:batchEmbedContents", g.baseURL, g.model)

	var resp googleBatchResponse
	if err := g.post(ctx, url, googleBatchRequest{Requests: reqs}, &resp); err != nil {
		return nil, err
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, &ProviderError{
			Kind: KindBadResponse,
			Err:  fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings)),
		}
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		vectors[i] = emb.Values
	}
	return vectors, nil
}

func (g *googleProvider) post(ctx context.Context, url string, body, out any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey.Value())

	resp, err := g.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return classifyHTTPStatus(resp, respBody)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProviderError{Kind: KindBadResponse, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// classifyTransportError maps a client.Do error onto the provider taxonomy.
func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &ProviderError{Kind: KindTimeout, Err: err}
	}
	return &ProviderError{Kind: KindConnect, Err: err}
}

// classifyHTTPStatus maps a non-200 response onto the provider taxonomy.
func classifyHTTPStatus(resp *http.Response, body []byte) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		pe := &ProviderError{
			Kind:       KindRateLimit,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("rate limited: %s", body),
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				pe.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return pe
	}

	return &ProviderError{
		Kind:       KindHTTP,
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("status %d: %s", resp.StatusCode, body),
	}
}
