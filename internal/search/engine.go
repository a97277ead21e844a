// Package search answers semantic queries over the chunk index, restricted to
// the documents a principal is allowed to read.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/quillnote/semanticd/internal/embeddings"
	"github.com/quillnote/semanticd/internal/usage"
	"github.com/quillnote/semanticd/internal/vectorstore"
)

// ErrConfigurationMissing is returned when the principal has no active
// embedding configuration, so the query cannot be embedded.
var ErrConfigurationMissing = errors.New("no active embedding configuration")

// minOverfetch is the candidate floor fetched from the store before
// permission filtering and per-document aggregation thin the set out.
const minOverfetch = 50

// ConfigSource resolves the embedding configuration to use for a principal's
// searches. A nil config with a nil error means none is configured.
type ConfigSource interface {
	ActiveEmbeddingConfig(ctx context.Context, principal string) (*embeddings.Config, error)
}

// PermissionSource answers document-level access questions for a principal.
// ReadableDocuments returning a nil slice grants access to every document; an
// empty non-nil slice grants none.
type PermissionSource interface {
	CanRead(ctx context.Context, principal, documentID string) (bool, error)
	ReadableDocuments(ctx context.Context, principal string) ([]string, error)
}

// Options tunes a single search.
type Options struct {
	// K is the maximum number of documents returned. Default: 10
	K int

	// Threshold drops results whose similarity (1 - cosine distance) falls
	// below it. Zero keeps everything.
	Threshold float32
}

// Result is one matching document, represented by its best-matching chunk.
type Result struct {
	DocumentID string  `json:"document_id"`
	ChunkID    string  `json:"chunk_id"`
	ChunkText  string  `json:"chunk_text"`
	Score      float32 `json:"score"`
}

// Engine executes permission-filtered semantic searches.
type Engine struct {
	store     vectorstore.Store
	configs   ConfigSource
	perms     PermissionSource
	providers *embeddings.Registry
	cache     *embeddings.QueryCache
	retry     embeddings.RetryPolicy
	usage     usage.Recorder
	logger    *zap.Logger

	// embedder, when set, bypasses the provider registry. Test seam.
	embedder embeddings.Provider
}

// EngineConfig wires an Engine's collaborators. Cache may be nil.
type EngineConfig struct {
	Store       vectorstore.Store
	Configs     ConfigSource
	Permissions PermissionSource
	Providers   *embeddings.Registry
	Cache       *embeddings.QueryCache
	Retry       embeddings.RetryPolicy
	Usage       usage.Recorder
	Logger      *zap.Logger
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("vector store is required")
	}
	if cfg.Configs == nil {
		return nil, errors.New("config source is required")
	}
	if cfg.Permissions == nil {
		return nil, errors.New("permission source is required")
	}
	if cfg.Providers == nil {
		cfg.Providers = embeddings.NewRegistry()
	}
	if cfg.Usage == nil {
		cfg.Usage = usage.NopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cfg.Retry.ApplyDefaults()
	return &Engine{
		store:     cfg.Store,
		configs:   cfg.Configs,
		perms:     cfg.Permissions,
		providers: cfg.Providers,
		cache:     cfg.Cache,
		retry:     cfg.Retry,
		usage:     cfg.Usage,
		logger:    cfg.Logger,
	}, nil
}

// Search embeds query and returns up to opts.K documents readable by
// principal, each scored by its closest chunk, best first.
//
// Candidates are overfetched from the store because permission filtering and
// collapsing chunks into documents both shrink the set after the nearest
// neighbor lookup.
func (e *Engine) Search(ctx context.Context, principal, query string, opts Options) ([]Result, error) {
	if principal == "" {
		return nil, errors.New("principal is required")
	}
	if query == "" {
		return nil, errors.New("query is required")
	}
	if opts.K <= 0 {
		opts.K = 10
	}

	cfg, err := e.configs.ActiveEmbeddingConfig(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("resolving embedding config: %w", err)
	}
	if cfg == nil {
		return nil, ErrConfigurationMissing
	}

	readable, err := e.perms.ReadableDocuments(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("resolving readable documents: %w", err)
	}
	if readable != nil && len(readable) == 0 {
		return nil, nil
	}
	var filter *vectorstore.Filter
	if readable != nil {
		filter = &vectorstore.Filter{DocumentIDs: readable}
	}

	vector, err := e.embedQuery(ctx, principal, *cfg, query)
	if err != nil {
		return nil, err
	}

	fetch := opts.K * 4
	if fetch < minOverfetch {
		fetch = minOverfetch
	}
	candidates, err := e.store.Query(ctx, vector, filter, fetch)
	if err != nil {
		return nil, fmt.Errorf("querying vector store: %w", err)
	}

	// Candidates arrive sorted by distance, so the first chunk seen for a
	// document is its best match.
	results := make([]Result, 0, opts.K)
	seen := make(map[string]bool, opts.K)
	for _, c := range candidates {
		similarity := 1 - c.Distance
		if similarity < opts.Threshold {
			continue
		}
		if seen[c.DocumentID] {
			continue
		}
		seen[c.DocumentID] = true
		results = append(results, Result{
			DocumentID: c.DocumentID,
			ChunkID:    c.ID,
			ChunkText:  c.Text,
			Score:      similarity,
		})
		if len(results) == opts.K {
			break
		}
	}

	// Query order already implies score order, but float re-derivation is
	// cheap and keeps the contract independent of store internals.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// embedQuery returns the query embedding, consulting the cache first. Cache
// hits skip both the provider call and the usage record.
func (e *Engine) embedQuery(ctx context.Context, principal string, cfg embeddings.Config, query string) ([]float32, error) {
	if vector := e.cache.Get(ctx, cfg.Model, query); vector != nil {
		return vector, nil
	}

	provider := e.embedder
	if provider == nil {
		var err error
		provider, err = e.providers.Provider(cfg)
		if err != nil {
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
	}
	vector, err := embeddings.WithRetry(provider, e.retry, e.logger).EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vector) != cfg.Dimension {
		return nil, fmt.Errorf("%w: query embedding has %d dimensions, want %d",
			embeddings.ErrInvalidDimension, len(vector), cfg.Dimension)
	}

	e.cache.Put(ctx, cfg.Model, query, vector)
	e.usage.Record(ctx, usage.Record{
		Principal:   principal,
		Model:       cfg.Model,
		RequestType: usage.RequestTypeSearch,
		InputTokens: usage.EstimateTokens(query),
		CreatedAt:   time.Now().UTC(),
	})
	return vector, nil
}
