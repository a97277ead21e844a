// Package embeddings generates vector embeddings for note content through
// external providers.
package embeddings

import (
	"context"
	"fmt"
	"time"
)

// Provider generates embeddings for texts.
//
// EmbedDocuments returns one embedding per input text, in input order,
// regardless of how the provider batches requests internally.
type Provider interface {
	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding dimension for the configured model.
	Dimension() int

	// Model returns the configured model name.
	Model() string

	// Close releases resources held by the provider.
	Close() error
}

// Config is a principal's active embedding configuration.
type Config struct {
	// Provider is the provider type: "openai" or "tei".
	Provider string `koanf:"provider"`

	// BaseURL is the provider endpoint base URL.
	BaseURL string `koanf:"base_url"`

	// Model is the embedding model name.
	Model string `koanf:"model"`

	// APIKey is the bearer token. Optional for self-hosted TEI servers.
	APIKey string `koanf:"api_key"`

	// Dimension is the embedding dimension the model produces. Every stored
	// vector must have exactly this length.
	Dimension int `koanf:"dimension"`

	// MaxBatchSize is the provider's maximum texts per request. Larger input
	// batches are split transparently. Default: 64
	MaxBatchSize int `koanf:"max_batch_size"`

	// Timeout bounds each provider HTTP call. Default: 30s
	Timeout time.Duration `koanf:"timeout"`

	// RateLimitRPS throttles provider calls client-side. Zero disables
	// throttling.
	RateLimitRPS float64 `koanf:"rate_limit_rps"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 64
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: max batch size must be positive", ErrInvalidConfig)
	}
	return nil
}

// Key returns a stable identity for provider caching. Two configs with the
// same key are interchangeable at the wire level.
func (c Config) Key() string {
	return fmt.Sprintf("%s|%s|%s|%d", c.Provider, c.BaseURL, c.Model, c.Dimension)
}

// NewProvider creates an embedding provider for the configuration.
//
// The returned provider batches transparently: callers may pass any number of
// texts and results come back in input order.
func NewProvider(cfg Config) (Provider, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var base Provider
	var err error
	switch cfg.Provider {
	case "openai":
		base, err = newOpenAIProvider(cfg)
	case "tei":
		base, err = newTEIProvider(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q (supported: openai, tei)", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	// The limiter sits under the batcher so every sub-batch counts as one
	// provider request.
	limited := WithRateLimit(base, cfg.RateLimitRPS, 1)
	return &batchingProvider{Provider: limited, maxBatch: cfg.MaxBatchSize}, nil
}

// batchingProvider splits oversized batches into provider-max-sized
// sub-batches and reassembles results in input order.
type batchingProvider struct {
	Provider
	maxBatch int
}

func (b *batchingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	if len(texts) <= b.maxBatch {
		return b.Provider.EmbedDocuments(ctx, texts)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.maxBatch {
		end := start + b.maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := b.Provider.EmbedDocuments(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch [%d:%d]: %w", start, end, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrMalformedResponse, len(vectors), end-start)
		}
		out = append(out, vectors...)
	}
	return out, nil
}
