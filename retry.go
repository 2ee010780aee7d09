package pernai

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// retryEmbedding wraps an EmbeddingProvider and automatically retries
// transient HTTP errors (429 Too Many Requests, 503 Service Unavailable)
// with exponential backoff. Retry lives at the provider boundary, never
// in the ingestion pipeline, so a retried batch can never race a
// partially-completed delete+insert.
type retryEmbedding struct {
	inner       EmbeddingProvider
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// RetryOption configures WithEmbedRetry.
type RetryOption func(*retryEmbedding)

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryEmbedding) { r.maxAttempts = n }
}

// RetryBaseDelay sets the initial backoff delay before the second attempt
// (default: 1s). Each subsequent delay doubles.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryEmbedding) { r.baseDelay = d }
}

// RetryLogger sets the structured logger for retry events. Retries log at
// WARN, final failures at ERROR. Default is no output.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryEmbedding) { r.logger = l }
}

// WithEmbedRetry wraps p with automatic retry on transient HTTP errors.
//
//	emb = pernai.WithEmbedRetry(openai.NewEmbedding(key, model, dims))
func WithEmbedRetry(p EmbeddingProvider, opts ...RetryOption) EmbeddingProvider {
	r := &retryEmbedding{
		inner:       p,
		maxAttempts: 3,
		baseDelay:   time.Second,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *retryEmbedding) Name() string    { return r.inner.Name() }
func (r *retryEmbedding) Dimensions() int { return r.inner.Dimensions() }

func (r *retryEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.baseDelay << (attempt - 1)
			// Jitter: up to +25% to spread synchronized retries.
			delay += time.Duration(rand.Int63n(int64(delay)/4 + 1))
			r.logger.Warn("embedding retry",
				"provider", r.inner.Name(), "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := r.inner.Embed(ctx, texts)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isTransient(err) {
			return nil, err
		}
	}
	r.logger.Error("embedding retries exhausted",
		"provider", r.inner.Name(), "attempts", r.maxAttempts, "error", lastErr)
	return nil, lastErr
}

// isTransient reports whether err is a retryable HTTP error.
func isTransient(err error) bool {
	var httpErr *ErrHTTP
	if errors.As(err, &httpErr) {
		return httpErr.Status == 429 || httpErr.Status == 503
	}
	return false
}
