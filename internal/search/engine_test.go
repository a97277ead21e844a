package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillnote/semanticd/internal/embeddings"
	"github.com/quillnote/semanticd/internal/usage"
	"github.com/quillnote/semanticd/internal/vectorstore"
)

type staticConfigs struct {
	cfg *embeddings.Config
	err error
}

func (s staticConfigs) ActiveEmbeddingConfig(context.Context, string) (*embeddings.Config, error) {
	return s.cfg, s.err
}

type staticPerms struct {
	docs map[string][]string
	err  error
}

func (s staticPerms) CanRead(_ context.Context, principal, documentID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	for _, id := range s.docs[principal] {
		if id == documentID {
			return true, nil
		}
	}
	return false, nil
}

func (s staticPerms) ReadableDocuments(_ context.Context, principal string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	docs := s.docs[principal]
	if docs == nil {
		docs = []string{}
	}
	return docs, nil
}

// stubStore ignores the query vector and returns canned scored chunks after
// applying the permission filter, the way a real store would.
type stubStore struct {
	chunks  []vectorstore.ScoredChunk
	gotK    int
	gotVec  []float32
	queryFn func() error
}

func (s *stubStore) Replace(context.Context, string, []vectorstore.Chunk) error { return nil }
func (s *stubStore) Clear(context.Context, string) error                        { return nil }
func (s *stubStore) Close() error                                               { return nil }

func (s *stubStore) Query(_ context.Context, vector []float32, filter *vectorstore.Filter, k int) ([]vectorstore.ScoredChunk, error) {
	if s.queryFn != nil {
		if err := s.queryFn(); err != nil {
			return nil, err
		}
	}
	s.gotK = k
	s.gotVec = vector
	allowed := make(map[string]bool)
	if filter != nil {
		for _, id := range filter.DocumentIDs {
			allowed[id] = true
		}
	}
	var out []vectorstore.ScoredChunk
	for _, c := range s.chunks {
		if filter != nil && filter.DocumentIDs != nil && !allowed[c.DocumentID] {
			continue
		}
		out = append(out, c)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

type stubEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (p *stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = p.vec
	}
	return out, p.err
}

func (p *stubEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	p.calls++
	return p.vec, p.err
}

func (p *stubEmbedder) Dimension() int { return len(p.vec) }
func (p *stubEmbedder) Model() string  { return "stub-model" }
func (p *stubEmbedder) Close() error   { return nil }

type capturingRecorder struct {
	records []usage.Record
}

func (r *capturingRecorder) Record(_ context.Context, rec usage.Record) {
	r.records = append(r.records, rec)
}

func scored(docID, chunkID, text string, distance float32) vectorstore.ScoredChunk {
	return vectorstore.ScoredChunk{
		Chunk: vectorstore.Chunk{
			ID:         chunkID,
			DocumentID: docID,
			Text:       text,
			Embedding:  []float32{1, 0},
			CreatedAt:  time.Now().UTC(),
		},
		Distance: distance,
	}
}

func testConfig() *embeddings.Config {
	return &embeddings.Config{
		Provider:  "openai",
		BaseURL:   "http://localhost:9999",
		Model:     "stub-model",
		APIKey:    "k",
		Dimension: 2,
	}
}

// newTestEngine builds an engine whose query embedding comes from embedder
// instead of an HTTP provider.
func newTestEngine(t *testing.T, store vectorstore.Store, perms PermissionSource, embedder embeddings.Provider, recorder usage.Recorder) *Engine {
	t.Helper()
	e, err := NewEngine(EngineConfig{
		Store:       store,
		Configs:     staticConfigs{cfg: testConfig()},
		Permissions: perms,
		Usage:       recorder,
	})
	require.NoError(t, err)
	e.embedder = embedder
	return e
}

func TestSearchRanksAndAggregatesPerDocument(t *testing.T) {
	// doc-a has two chunks; only its best one should represent it.
	store := &stubStore{chunks: []vectorstore.ScoredChunk{
		scored("doc-a", "chunk-1", "best match", 0.1),
		scored("doc-b", "chunk-2", "second", 0.4),
		scored("doc-a", "chunk-3", "worse duplicate", 0.5),
		scored("doc-c", "chunk-4", "below threshold", 0.8),
	}}
	perms := staticPerms{docs: map[string][]string{"alice": {"doc-a", "doc-b", "doc-c"}}}
	e := newTestEngine(t, store, perms, &stubEmbedder{vec: []float32{1, 0}}, nil)

	results, err := e.Search(context.Background(), "alice", "query", Options{K: 2, Threshold: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "doc-a", results[0].DocumentID)
	assert.Equal(t, "chunk-1", results[0].ChunkID)
	assert.InDelta(t, 0.9, results[0].Score, 1e-6)

	assert.Equal(t, "doc-b", results[1].DocumentID)
	assert.InDelta(t, 0.6, results[1].Score, 1e-6)
}

func TestSearchOverfetchesCandidates(t *testing.T) {
	store := &stubStore{}
	perms := staticPerms{docs: map[string][]string{"alice": {"doc-a"}}}
	e := newTestEngine(t, store, perms, &stubEmbedder{vec: []float32{1, 0}}, nil)

	_, err := e.Search(context.Background(), "alice", "query", Options{K: 2})
	require.NoError(t, err)
	assert.Equal(t, 50, store.gotK, "small k still fetches the candidate floor")

	_, err = e.Search(context.Background(), "alice", "query", Options{K: 20})
	require.NoError(t, err)
	assert.Equal(t, 80, store.gotK)
}

func TestSearchExcludesUnreadableDocuments(t *testing.T) {
	store := &stubStore{chunks: []vectorstore.ScoredChunk{
		scored("doc-secret", "chunk-1", "closest but private", 0.05),
		scored("doc-open", "chunk-2", "readable", 0.3),
	}}
	perms := staticPerms{docs: map[string][]string{"alice": {"doc-open"}}}
	e := newTestEngine(t, store, perms, &stubEmbedder{vec: []float32{1, 0}}, nil)

	results, err := e.Search(context.Background(), "alice", "query", Options{K: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-open", results[0].DocumentID)
}

func TestSearchNoReadableDocumentsShortCircuits(t *testing.T) {
	called := false
	store := &stubStore{queryFn: func() error {
		called = true
		return nil
	}}
	perms := staticPerms{docs: map[string][]string{}}
	embedder := &stubEmbedder{vec: []float32{1, 0}}
	e := newTestEngine(t, store, perms, embedder, nil)

	results, err := e.Search(context.Background(), "alice", "query", Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.False(t, called, "store must not be queried")
	assert.Zero(t, embedder.calls, "query must not be embedded")
}

func TestSearchAllowAllSkipsFiltering(t *testing.T) {
	store := &stubStore{chunks: []vectorstore.ScoredChunk{
		scored("doc-a", "chunk-1", "anything", 0.2),
	}}
	e := newTestEngine(t, store, AllowAllPermissions{}, &stubEmbedder{vec: []float32{1, 0}}, nil)

	results, err := e.Search(context.Background(), "alice", "query", Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-a", results[0].DocumentID)
}

func TestSearchMissingConfiguration(t *testing.T) {
	e, err := NewEngine(EngineConfig{
		Store:       &stubStore{},
		Configs:     staticConfigs{cfg: nil},
		Permissions: staticPerms{docs: map[string][]string{"alice": {"doc-a"}}},
	})
	require.NoError(t, err)

	_, err = e.Search(context.Background(), "alice", "query", Options{})
	assert.ErrorIs(t, err, ErrConfigurationMissing)
}

func TestSearchRejectsWrongQueryDimension(t *testing.T) {
	perms := staticPerms{docs: map[string][]string{"alice": {"doc-a"}}}
	e := newTestEngine(t, &stubStore{}, perms, &stubEmbedder{vec: []float32{1, 0, 0}}, nil)

	_, err := e.Search(context.Background(), "alice", "query", Options{})
	assert.ErrorIs(t, err, embeddings.ErrInvalidDimension)
}

func TestSearchRecordsUsage(t *testing.T) {
	recorder := &capturingRecorder{}
	perms := staticPerms{docs: map[string][]string{"alice": {"doc-a"}}}
	e := newTestEngine(t, &stubStore{}, perms, &stubEmbedder{vec: []float32{1, 0}}, recorder)

	_, err := e.Search(context.Background(), "alice", "what is this about", Options{})
	require.NoError(t, err)

	require.Len(t, recorder.records, 1)
	assert.Equal(t, "alice", recorder.records[0].Principal)
	assert.Equal(t, usage.RequestTypeSearch, recorder.records[0].RequestType)
	assert.Positive(t, recorder.records[0].InputTokens)
}

func TestSearchPropagatesStoreErrors(t *testing.T) {
	storeErr := errors.New("store down")
	store := &stubStore{queryFn: func() error { return storeErr }}
	perms := staticPerms{docs: map[string][]string{"alice": {"doc-a"}}}
	e := newTestEngine(t, store, perms, &stubEmbedder{vec: []float32{1, 0}}, nil)

	_, err := e.Search(context.Background(), "alice", "query", Options{})
	assert.ErrorIs(t, err, storeErr)
}

func TestSearchValidatesInput(t *testing.T) {
	perms := staticPerms{docs: map[string][]string{"alice": {"doc-a"}}}
	e := newTestEngine(t, &stubStore{}, perms, &stubEmbedder{vec: []float32{1, 0}}, nil)

	_, err := e.Search(context.Background(), "", "query", Options{})
	assert.Error(t, err)

	_, err = e.Search(context.Background(), "alice", "", Options{})
	assert.Error(t, err)
}
