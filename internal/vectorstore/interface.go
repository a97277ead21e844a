// Package vectorstore persists chunk embeddings and answers nearest-neighbor
// queries over them.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid vector store configuration")

	// ErrInvalidChunk indicates a chunk that cannot be stored (missing id,
	// wrong embedding length, empty text).
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrInvalidQuery indicates a malformed query (empty vector, k <= 0).
	ErrInvalidQuery = errors.New("invalid query")
)

// Store persists chunk sets and answers nearest-neighbor queries.
//
// Implementations:
//   - MemoryStore: exact in-process scan (tests, small installs)
//   - ChromemStore: embedded chromem-go with gob persistence
//   - PgvectorStore: PostgreSQL with the pgvector extension
//   - QdrantStore: external Qdrant server over gRPC
//
// Replace and Clear are used only by the index writer, which serializes them
// per document. Query runs concurrently with both; a query racing a replace
// of the same document observes either the old or the new chunk set.
type Store interface {
	// Replace atomically installs chunks as the document's complete chunk
	// set, destroying any prior set. Backends without multi-operation
	// transactions approximate atomicity with internal locking and note the
	// trade-off on their type.
	Replace(ctx context.Context, documentID string, chunks []Chunk) error

	// Clear removes all chunks for the document. Clearing a document with
	// no chunks is not an error.
	Clear(ctx context.Context, documentID string) error

	// Query returns up to k chunks closest to vector by ascending cosine
	// distance among those admitted by filter. Ties are broken by chunk id.
	// Approximate backends may miss exact top-k recall.
	Query(ctx context.Context, vector []float32, filter *Filter, k int) ([]ScoredChunk, error)

	// Close releases store resources.
	Close() error
}

// validateChunks rejects chunk sets that would corrupt the index.
func validateChunks(documentID string, chunks []Chunk) error {
	for i, c := range chunks {
		switch {
		case c.ID == "":
			return fmt.Errorf("%w: chunk %d has no id", ErrInvalidChunk, i)
		case c.DocumentID != documentID:
			return fmt.Errorf("%w: chunk %d belongs to document %q, not %q", ErrInvalidChunk, i, c.DocumentID, documentID)
		case c.Text == "":
			return fmt.Errorf("%w: chunk %d has no text", ErrInvalidChunk, i)
		case len(c.Embedding) == 0:
			return fmt.Errorf("%w: chunk %d has no embedding", ErrInvalidChunk, i)
		case len(c.Embedding) != len(chunks[0].Embedding):
			return fmt.Errorf("%w: chunk %d has dimension %d, chunk 0 has %d", ErrInvalidChunk, i, len(c.Embedding), len(chunks[0].Embedding))
		}
	}
	return nil
}
