package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// MemoryStore is an exact in-process vector store.
//
// It scans every stored chunk on each query, so it suits tests and small
// single-user installs where the corpus stays in the low thousands of chunks.
// Replace swaps a document's chunk slice under the write lock, which makes
// the install atomic with respect to concurrent queries.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string][]Chunk
	logger *zap.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		chunks: make(map[string][]Chunk),
		logger: logger,
	}
}

// Replace atomically installs chunks as the document's complete chunk set.
func (s *MemoryStore) Replace(ctx context.Context, documentID string, chunks []Chunk) error {
	if documentID == "" {
		return fmt.Errorf("%w: document id required", ErrInvalidChunk)
	}
	if err := validateChunks(documentID, chunks); err != nil {
		return err
	}

	// Defensive copy so callers cannot mutate stored state.
	copied := make([]Chunk, len(chunks))
	copy(copied, chunks)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[documentID] = copied

	s.logger.Debug("replaced chunk set",
		zap.String("document_id", documentID),
		zap.Int("chunks", len(copied)),
	)
	return nil
}

// Clear removes all chunks for the document.
func (s *MemoryStore) Clear(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, documentID)
	return nil
}

// Query scans all admitted chunks and returns the k closest by cosine
// distance, ties broken by chunk id.
func (s *MemoryStore) Query(ctx context.Context, vector []float32, filter *Filter, k int) ([]ScoredChunk, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector required", ErrInvalidQuery)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidQuery, k)
	}

	allow := filter.allowSet()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var scored []ScoredChunk
	for documentID, chunks := range s.chunks {
		if allow != nil {
			if _, ok := allow[documentID]; !ok {
				continue
			}
		}
		for _, c := range chunks {
			scored = append(scored, ScoredChunk{
				Chunk:    c,
				Distance: CosineDistance(vector, c.Embedding),
			})
		}
	}

	sortScored(scored)
	return topK(scored, k), nil
}

// Count returns the number of chunks stored for the document.
func (s *MemoryStore) Count(ctx context.Context, documentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[documentID]), nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
