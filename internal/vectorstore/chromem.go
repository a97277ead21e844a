package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("semanticd.vectorstore.chromem")

// ChromemConfig holds configuration for the chromem-go embedded store.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty keeps the store
	// purely in memory.
	Path string `koanf:"path"`

	// Compress enables gzip compression for stored data.
	Compress bool `koanf:"compress"`

	// Collection is the collection name holding all chunks.
	// Default: "note_chunks"
	Collection string `koanf:"collection"`

	// Overfetch is the candidate multiplier applied before client-side
	// document filtering. Default: 4
	Overfetch int `koanf:"overfetch"`
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "note_chunks"
	}
	if c.Overfetch == 0 {
		c.Overfetch = 4
	}
}

// ChromemStore implements Store on chromem-go, an embeddable pure-Go vector
// database with gob persistence.
//
// chromem has no multi-operation transactions. Replace holds the store's
// write lock across the delete and the insert, so other writers and the
// store's own readers that go through this type never observe a mixed set;
// a crash between the two steps can lose the document's index until the
// next reindex. Document-id filtering is applied client-side after an
// overfetched query, so recall under heavy filtering is approximate.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     ChromemConfig
	logger     *zap.Logger
	mu         sync.RWMutex
}

// NewChromemStore creates a ChromemStore with the given configuration.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		expanded, err := expandPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(expanded, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", expanded, err)
		}
		db, err = chromem.NewPersistentDB(expanded, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	// Embeddings always arrive precomputed, so the embedding func must
	// never be reached.
	collection, err := db.GetOrCreateCollection(config.Collection, nil, func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("chromem store received text without embedding")
	})
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", config.Collection, err)
	}

	logger.Info("chromem store initialized",
		zap.String("path", config.Path),
		zap.String("collection", config.Collection),
		zap.Bool("compress", config.Compress),
	)

	return &ChromemStore{
		db:         db,
		collection: collection,
		config:     config,
		logger:     logger,
	}, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// Replace installs chunks as the document's complete chunk set.
func (s *ChromemStore) Replace(ctx context.Context, documentID string, chunks []Chunk) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Replace")
	defer span.End()
	span.SetAttributes(
		attribute.String("document_id", documentID),
		attribute.Int("chunk_count", len(chunks)),
	)

	if documentID == "" {
		return fmt.Errorf("%w: document id required", ErrInvalidChunk)
	}
	if err := validateChunks(documentID, chunks); err != nil {
		span.RecordError(err)
		return err
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:        c.ID,
			Content:   c.Text,
			Embedding: c.Embedding,
			Metadata: map[string]string{
				"document_id": c.DocumentID,
				"ordinal":     strconv.Itoa(c.Ordinal),
				"created_at":  c.CreatedAt.UTC().Format(time.RFC3339Nano),
			},
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deleteLocked(ctx, documentID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding chunks: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Clear removes all chunks for the document.
func (s *ChromemStore) Clear(ctx context.Context, documentID string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Clear")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", documentID))

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(ctx, documentID)
}

func (s *ChromemStore) deleteLocked(ctx context.Context, documentID string) error {
	if err := s.collection.Delete(ctx, map[string]string{"document_id": documentID}, nil); err != nil {
		return fmt.Errorf("deleting chunks for %s: %w", documentID, err)
	}
	return nil
}

// Query returns up to k chunks closest to vector among admitted documents.
func (s *ChromemStore) Query(ctx context.Context, vector []float32, filter *Filter, k int) ([]ScoredChunk, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector required", ErrInvalidQuery)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidQuery, k)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	total := s.collection.Count()
	if total == 0 {
		return nil, nil
	}

	// Overfetch to survive client-side document filtering.
	fetch := k * s.config.Overfetch
	if fetch < 50 {
		fetch = 50
	}
	if fetch > total {
		fetch = total
	}

	results, err := s.collection.QueryEmbedding(ctx, vector, fetch, nil, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	allow := filter.allowSet()
	scored := make([]ScoredChunk, 0, len(results))
	for _, res := range results {
		documentID := res.Metadata["document_id"]
		if allow != nil {
			if _, ok := allow[documentID]; !ok {
				continue
			}
		}
		chunk, err := chunkFromChromem(res)
		if err != nil {
			s.logger.Warn("skipping chunk with corrupt metadata",
				zap.String("chunk_id", res.ID), zap.Error(err))
			continue
		}
		scored = append(scored, ScoredChunk{
			Chunk:    chunk,
			Distance: 1 - res.Similarity,
		})
	}

	sortScored(scored)
	return topK(scored, k), nil
}

func chunkFromChromem(res chromem.Result) (Chunk, error) {
	ordinal, err := strconv.Atoi(res.Metadata["ordinal"])
	if err != nil {
		return Chunk{}, fmt.Errorf("parsing ordinal: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, res.Metadata["created_at"])
	if err != nil {
		return Chunk{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return Chunk{
		ID:         res.ID,
		DocumentID: res.Metadata["document_id"],
		Ordinal:    ordinal,
		Text:       res.Content,
		Embedding:  res.Embedding,
		CreatedAt:  createdAt,
	}, nil
}

// Close persists any pending state. chromem writes through on mutation, so
// this is a no-op.
func (s *ChromemStore) Close() error {
	return nil
}
