package embeddings

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryPolicy bounds retries of transient provider failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3
	MaxAttempts int `koanf:"max_attempts"`

	// InitialInterval is the first backoff delay. Doubles per attempt.
	// Default: 500ms
	InitialInterval time.Duration `koanf:"initial_interval"`
}

// ApplyDefaults sets default values for unset fields.
func (p *RetryPolicy) ApplyDefaults() {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 3
	}
	if p.InitialInterval == 0 {
		p.InitialInterval = 500 * time.Millisecond
	}
}

// retryingProvider retries transient failures with exponential backoff.
// Auth errors, malformed responses, and caller cancellation surface
// immediately.
type retryingProvider struct {
	Provider
	policy RetryPolicy
	logger *zap.Logger
}

// WithRetry wraps a provider with a bounded exponential-backoff retry policy.
// Only rate-limit and unavailability errors are retried.
func WithRetry(p Provider, policy RetryPolicy, logger *zap.Logger) Provider {
	policy.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &retryingProvider{Provider: p, policy: policy, logger: logger}
}

func (r *retryingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := r.retry(ctx, "embed_documents", func() error {
		var err error
		vectors, err = r.Provider.EmbedDocuments(ctx, texts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

func (r *retryingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := r.retry(ctx, "embed_query", func() error {
		var err error
		vector, err = r.Provider.EmbedQuery(ctx, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	return vector, nil
}

func (r *retryingProvider) retry(ctx context.Context, operation string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.policy.MaxAttempts-1)), ctx)

	attempt := 0
	return backoff.RetryNotify(
		func() error {
			attempt++
			err := fn()
			if err != nil && !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		},
		policy,
		func(err error, wait time.Duration) {
			r.logger.Warn("transient embedding failure, retrying",
				zap.String("operation", operation),
				zap.String("model", r.Model()),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
		},
	)
}
