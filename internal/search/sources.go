package search

import (
	"context"

	"github.com/quillnote/semanticd/internal/embeddings"
)

// StaticConfigSource serves the same embedding configuration to every
// principal. Single-tenant deployments configure one provider for the whole
// instance.
type StaticConfigSource struct {
	Config embeddings.Config
}

func (s StaticConfigSource) ActiveEmbeddingConfig(context.Context, string) (*embeddings.Config, error) {
	cfg := s.Config
	return &cfg, nil
}

// AllowAllPermissions grants every principal access to every document. Meant
// for deployments where the fronting application enforces access before
// calling the daemon.
type AllowAllPermissions struct{}

func (AllowAllPermissions) CanRead(context.Context, string, string) (bool, error) {
	return true, nil
}

func (AllowAllPermissions) ReadableDocuments(context.Context, string) ([]string, error) {
	return nil, nil
}
