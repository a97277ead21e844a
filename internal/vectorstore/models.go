package vectorstore

import "time"

// Chunk is one bounded span of a note's text together with its embedding.
//
// Chunks have no independent lifecycle: the index writer creates and destroys
// them only as a document's full set.
type Chunk struct {
	// ID is the unique chunk identifier.
	ID string

	// DocumentID is the owning note.
	DocumentID string

	// Ordinal is the chunk's position within the document, starting at 0.
	Ordinal int

	// Text is the chunk content.
	Text string

	// Embedding is the chunk's vector. Its length must equal the dimension
	// of the embedding configuration that produced it.
	Embedding []float32

	// CreatedAt is when the chunk set was written.
	CreatedAt time.Time
}

// ScoredChunk is a query candidate with its cosine distance to the query.
type ScoredChunk struct {
	Chunk

	// Distance is the cosine distance (1 - cosine similarity); lower is
	// more similar.
	Distance float32
}

// Filter restricts query candidates to a set of documents.
type Filter struct {
	// DocumentIDs is the allow-list of document ids. A nil filter or nil
	// list means no restriction; an empty non-nil list matches nothing.
	DocumentIDs []string
}

// Allows reports whether the filter admits a document.
func (f *Filter) Allows(documentID string) bool {
	if f == nil || f.DocumentIDs == nil {
		return true
	}
	for _, id := range f.DocumentIDs {
		if id == documentID {
			return true
		}
	}
	return false
}

// allowSet returns the filter's ids as a set, or nil when unrestricted.
func (f *Filter) allowSet() map[string]struct{} {
	if f == nil || f.DocumentIDs == nil {
		return nil
	}
	set := make(map[string]struct{}, len(f.DocumentIDs))
	for _, id := range f.DocumentIDs {
		set[id] = struct{}{}
	}
	return set
}
