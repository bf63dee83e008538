package embeddings

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryProvider wraps a Provider with the retry policy. Between attempt i
// and i+1 it sleeps retryDelay * 2^i. Rate-limit errors and context
// cancellation are permanent; everything else classified retryable is
// retried until the attempt budget is spent.
type retryProvider struct {
	Provider
	maxRetries int
	retryDelay time.Duration
}

func (r *retryProvider) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.retryDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = r.retryDelay * 64
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.maxRetries)), ctx)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}
	if pe, ok := AsProviderError(err); ok && !pe.Retryable() {
		return backoff.Permanent(err)
	}
	return err
}

func (r *retryProvider) Generate(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := backoff.Retry(func() error {
		var genErr error
		vector, genErr = r.Provider.Generate(ctx, text)
		return classify(genErr)
	}, r.newBackOff(ctx))
	if err != nil {
		return nil, err
	}
	return vector, nil
}

func (r *retryProvider) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := backoff.Retry(func() error {
		var genErr error
		vectors, genErr = r.Provider.GenerateBatch(ctx, texts)
		return classify(genErr)
	}, r.newBackOff(ctx))
	if err != nil {
		return nil, err
	}
	return vectors, nil
}
