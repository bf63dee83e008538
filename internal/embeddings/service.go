package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/semantixd/internal/events"
)

var tracer = otel.Tracer("semantixd.embeddings")

// previewLimit caps the text preview carried by lifecycle events. The full
// text never leaves the service via events.
const previewLimit = 100

// Result is the outcome of a single embed call.
type Result struct {
	Vector      []float32 `json:"vector"`
	Model       string    `json:"model"`
	Provider    string    `json:"provider"`
	Dimensions  int       `json:"dimensions"`
	Cached      bool      `json:"cached"`
	GeneratedAt time.Time `json:"generated_at"`
}

// BatchResult is the outcome of a batch embed call.
type BatchResult struct {
	Embeddings     []Result      `json:"embeddings"`
	Total          int           `json:"total"`
	CacheHits      int           `json:"cache_hits"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// HealthStatus classifies provider availability.
type HealthStatus string

const (
	StatusHealthy     HealthStatus = "healthy"
	StatusDegraded    HealthStatus = "degraded"
	StatusUnavailable HealthStatus = "unavailable"
)

// degradedLatency is the round-trip above which a working provider is
// reported as degraded.
const degradedLatency = 2 * time.Second

// Health is the provider health report.
type Health struct {
	Provider  string       `json:"provider"`
	Status    HealthStatus `json:"status"`
	LatencyMS int64        `json:"latency_ms"`
	Model     string       `json:"model"`
}

// Service orchestrates the provider and cache. It is safe for concurrent use.
type Service struct {
	provider Provider
	cache    *Cache
	bus      events.Bus
	logger   *zap.Logger

	// batchConcurrency bounds concurrent provider calls during batch
	// generation of cache misses.
	batchConcurrency int
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Provider Provider
	// Cache may be nil to disable caching.
	Cache *Cache
	// Bus receives lifecycle events; may be nil.
	Bus              events.Bus
	Logger           *zap.Logger
	BatchConcurrency int
}

// NewService creates an embedding service.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("%w: provider is required", ErrInvalidConfig)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BatchConcurrency < 1 {
		opts.BatchConcurrency = 10
	}

	return &Service{
		provider:         opts.Provider,
		cache:            opts.Cache,
		bus:              opts.Bus,
		logger:           opts.Logger,
		batchConcurrency: opts.BatchConcurrency,
	}, nil
}

// Model returns the deployment model name.
func (s *Service) Model() string {
	return s.provider.Model()
}

// Dimension returns the embedding dimension for the deployment model.
func (s *Service) Dimension() int {
	return s.provider.Dimension()
}

// CacheStats returns cache counters, or zero stats when caching is disabled.
func (s *Service) CacheStats() CacheStats {
	if s.cache == nil {
		return CacheStats{}
	}
	return s.cache.Stats()
}

// resolveModel validates an optional per-call model override. One model per
// deployment: anything other than the configured model is rejected.
func (s *Service) resolveModel(model string) (string, error) {
	if model == "" {
		return s.provider.Model(), nil
	}
	if model != s.provider.Model() {
		return "", fmt.Errorf("%w: got %q, deployment uses %q", ErrModelMismatch, model, s.provider.Model())
	}
	return model, nil
}

// Embed generates (or recalls) the embedding for a single text.
func (s *Service) Embed(ctx context.Context, text, model string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "embeddings.Embed")
	defer span.End()

	if strings.TrimSpace(text) == "" {
		return nil, ErrInvalidText
	}

	resolved, err := s.resolveModel(model)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if vector, ok := s.cache.Get(resolved, text); ok {
			span.SetAttributes(attribute.Bool("cached", true))
			s.emit(ctx, events.TopicEmbeddingCacheHit, text, resolved, 0)
			return &Result{
				Vector:      vector,
				Model:       resolved,
				Provider:    s.provider.Name(),
				Dimensions:  len(vector),
				Cached:      true,
				GeneratedAt: time.Now().UTC(),
			}, nil
		}
	}

	start := time.Now()
	vector, err := s.provider.Generate(ctx, text)
	if err != nil {
		span.RecordError(err)
		s.emit(ctx, events.TopicEmbeddingError, text, resolved, time.Since(start))
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(resolved, text, vector)
	}

	span.SetAttributes(attribute.Int("dimensions", len(vector)))
	s.emit(ctx, events.TopicEmbeddingGenerated, text, resolved, time.Since(start))

	return &Result{
		Vector:      vector,
		Model:       resolved,
		Provider:    s.provider.Name(),
		Dimensions:  len(vector),
		Cached:      false,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// EmbedBatch generates embeddings for multiple texts. Cache hits are served
// directly; misses are generated in concurrent slices of at most
// batchConcurrency texts each.
func (s *Service) EmbedBatch(ctx context.Context, texts []string, model string) (*BatchResult, error) {
	ctx, span := tracer.Start(ctx, "embeddings.EmbedBatch")
	defer span.End()

	if len(texts) == 0 {
		return nil, ErrInvalidText
	}

	nonEmpty := false
	for _, text := range texts {
		if strings.TrimSpace(text) != "" {
			nonEmpty = true
			break
		}
	}
	if !nonEmpty {
		return nil, ErrInvalidText
	}

	resolved, err := s.resolveModel(model)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	results := make([]Result, len(texts))
	cacheHits := 0

	var missIdx []int
	for i, text := range texts {
		if s.cache != nil {
			if vector, ok := s.cache.Get(resolved, text); ok {
				results[i] = Result{
					Vector:      vector,
					Model:       resolved,
					Provider:    s.provider.Name(),
					Dimensions:  len(vector),
					Cached:      true,
					GeneratedAt: time.Now().UTC(),
				}
				cacheHits++
				continue
			}
		}
		missIdx = append(missIdx, i)
	}

	if len(missIdx) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.batchConcurrency)

		for chunkStart := 0; chunkStart < len(missIdx); chunkStart += s.batchConcurrency {
			chunkEnd := chunkStart + s.batchConcurrency
			if chunkEnd > len(missIdx) {
				chunkEnd = len(missIdx)
			}
			chunk := missIdx[chunkStart:chunkEnd]

			g.Go(func() error {
				chunkTexts := make([]string, len(chunk))
				for j, idx := range chunk {
					chunkTexts[j] = texts[idx]
				}

				vectors, genErr := s.provider.GenerateBatch(gctx, chunkTexts)
				if genErr != nil {
					return genErr
				}

				now := time.Now().UTC()
				for j, idx := range chunk {
					results[idx] = Result{
						Vector:      vectors[j],
						Model:       resolved,
						Provider:    s.provider.Name(),
						Dimensions:  len(vectors[j]),
						Cached:      false,
						GeneratedAt: now,
					}
					if s.cache != nil {
						s.cache.Set(resolved, texts[idx], vectors[j])
					}
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			span.RecordError(err)
			s.emit(ctx, events.TopicEmbeddingError, texts[missIdx[0]], resolved, time.Since(start))
			return nil, err
		}
	}

	elapsed := time.Since(start)
	span.SetAttributes(
		attribute.Int("total", len(texts)),
		attribute.Int("cache_hits", cacheHits),
	)
	s.emit(ctx, events.TopicEmbeddingBatchGenerated, texts[0], resolved, elapsed)

	return &BatchResult{
		Embeddings:     results,
		Total:          len(texts),
		CacheHits:      cacheHits,
		ProcessingTime: elapsed,
	}, nil
}

// HealthCheck probes the provider with a short round trip.
func (s *Service) HealthCheck(ctx context.Context) Health {
	start := time.Now()
	_, err := s.provider.Generate(ctx, "health check")
	latency := time.Since(start)

	health := Health{
		Provider:  s.provider.Name(),
		Model:     s.provider.Model(),
		LatencyMS: latency.Milliseconds(),
	}

	switch {
	case err != nil:
		health.Status = StatusUnavailable
	case latency > degradedLatency:
		health.Status = StatusDegraded
	default:
		health.Status = StatusHealthy
	}

	s.emit(ctx, events.TopicEmbeddingHealthCheck, "", s.provider.Model(), latency)
	return health
}

// Close releases provider resources.
func (s *Service) Close() error {
	return s.provider.Close()
}

// embeddingEvent is the payload carried by embedding lifecycle events.
// It holds a bounded preview, never the full text.
type embeddingEvent struct {
	Preview    string `json:"preview"`
	Model      string `json:"model"`
	Provider   string `json:"provider"`
	Dimensions int    `json:"dimensions"`
	DurationMS int64  `json:"duration_ms"`
}

func (s *Service) emit(ctx context.Context, topic, text, model string, duration time.Duration) {
	if s.bus == nil {
		return
	}

	preview := text
	if len(preview) > previewLimit {
		preview = preview[:previewLimit]
	}

	s.bus.Publish(ctx, events.Event{
		Topic: topic,
		Payload: embeddingEvent{
			Preview:    preview,
			Model:      model,
			Provider:   s.provider.Name(),
			Dimensions: s.provider.Dimension(),
			DurationMS: duration.Milliseconds(),
		},
	})
}
