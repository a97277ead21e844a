package embeddings

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// rateLimitedProvider gates provider calls through a client-side token
// bucket, keeping bursty reindexes under the provider's request quota.
type rateLimitedProvider struct {
	Provider
	limiter *rate.Limiter
}

// WithRateLimit wraps a provider with a requests-per-second limit.
// A non-positive rps disables limiting.
func WithRateLimit(p Provider, rps float64, burst int) Provider {
	if rps <= 0 {
		return p
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimitedProvider{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *rateLimitedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return r.Provider.EmbedDocuments(ctx, texts)
}

func (r *rateLimitedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return r.Provider.EmbedQuery(ctx, text)
}
