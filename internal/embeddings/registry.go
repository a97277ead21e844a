package embeddings

import (
	"fmt"
	"sync"
)

// Registry caches constructed providers by configuration identity.
//
// Embedding configuration is resolved per principal on every call; building a
// fresh HTTP client per request would discard connection pools, so providers
// are shared across callers with the same wire-level configuration.
type Registry struct {
	mu        sync.Mutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Provider returns the cached provider for cfg, constructing it on first use.
func (r *Registry) Provider(cfg Config) (Provider, error) {
	cfg.ApplyDefaults()
	key := cfg.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.providers[key]; ok {
		return p, nil
	}

	p, err := NewProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating provider for %s: %w", cfg.Provider, err)
	}
	r.providers[key] = p
	return p, nil
}

// Close closes all cached providers.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for key, p := range r.providers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing provider %s: %w", key, err)
		}
		delete(r.providers, key)
	}
	return firstErr
}
