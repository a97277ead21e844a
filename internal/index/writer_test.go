package index

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillnote/semanticd/internal/chunker"
	"github.com/quillnote/semanticd/internal/embeddings"
	"github.com/quillnote/semanticd/internal/usage"
	"github.com/quillnote/semanticd/internal/vectorstore"
)

// fakeProvider returns deterministic embeddings derived from chunk ordinals.
// fail makes the next EmbedDocuments call return the given error.
type fakeProvider struct {
	mu    sync.Mutex
	dim   int
	calls int
	fail  error
	block chan struct{}
}

func newFakeProvider(dim int) *fakeProvider {
	return &fakeProvider{dim: dim}
}

func (p *fakeProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.calls++
	fail := p.fail
	block := p.block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, p.dim)
		vec[0] = float32(i + 1)
		out[i] = vec
	}
	return out, nil
}

func (p *fakeProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *fakeProvider) Dimension() int { return p.dim }
func (p *fakeProvider) Model() string  { return "fake-model" }
func (p *fakeProvider) Close() error   { return nil }

type capturingRecorder struct {
	mu      sync.Mutex
	records []usage.Record
}

func (r *capturingRecorder) Record(_ context.Context, rec usage.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *capturingRecorder) all() []usage.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]usage.Record(nil), r.records...)
}

func newTestWriter(t *testing.T, store vectorstore.Store, cfg Config, recorder usage.Recorder) *Writer {
	t.Helper()
	splitter, err := chunker.New(chunker.Config{ChunkSize: 100, ChunkOverlap: 20})
	require.NoError(t, err)
	w, err := NewWriter(store, splitter, cfg, recorder, nil)
	require.NoError(t, err)
	return w
}

func TestReindexStoresChunksInOrder(t *testing.T) {
	store := vectorstore.NewMemoryStore(nil)
	w := newTestWriter(t, store, Config{}, nil)
	provider := newFakeProvider(4)

	content := strings.Repeat("one sentence here. ", 20)
	err := w.Reindex(context.Background(), "alice", "doc-1", content, provider)
	require.NoError(t, err)

	count, err := store.Count(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Greater(t, count, 1)

	query := []float32{1, 0, 0, 0}
	results, err := store.Query(context.Background(), query, nil, count)
	require.NoError(t, err)
	require.Len(t, results, count)

	seen := make(map[int]bool)
	for _, r := range results {
		assert.Equal(t, "doc-1", r.DocumentID)
		assert.NotEmpty(t, r.ID)
		assert.NotEmpty(t, r.Text)
		assert.False(t, seen[r.Ordinal], "duplicate ordinal %d", r.Ordinal)
		seen[r.Ordinal] = true
	}
	for i := 0; i < count; i++ {
		assert.True(t, seen[i], "missing ordinal %d", i)
	}
}

func TestReindexEmptyContentClearsDocument(t *testing.T) {
	store := vectorstore.NewMemoryStore(nil)
	w := newTestWriter(t, store, Config{}, nil)
	provider := newFakeProvider(4)

	require.NoError(t, w.Reindex(context.Background(), "alice", "doc-1", "some content", provider))
	count, err := store.Count(context.Background(), "doc-1")
	require.NoError(t, err)
	require.Positive(t, count)

	require.NoError(t, w.Reindex(context.Background(), "alice", "doc-1", "   \n\t  ", provider))
	count, err = store.Count(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestReindexFailureLeavesPreviousVersion(t *testing.T) {
	store := vectorstore.NewMemoryStore(nil)
	w := newTestWriter(t, store, Config{Retry: embeddings.RetryPolicy{MaxAttempts: 1}}, nil)
	provider := newFakeProvider(4)

	require.NoError(t, w.Reindex(context.Background(), "alice", "doc-1", "original content", provider))
	before, err := store.Count(context.Background(), "doc-1")
	require.NoError(t, err)

	provider.fail = embeddings.ErrUnavailable
	err = w.Reindex(context.Background(), "alice", "doc-1", "updated content", provider)
	require.Error(t, err)
	assert.ErrorIs(t, err, embeddings.ErrUnavailable)

	after, err := store.Count(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, before, after, "failed reindex must not touch the stored chunks")
}

func TestReindexRejectsWrongDimension(t *testing.T) {
	store := vectorstore.NewMemoryStore(nil)
	w := newTestWriter(t, store, Config{}, nil)

	provider := newFakeProvider(4)
	provider.dim = 4
	// Dimension() reports 8 while vectors come back with 4 elements.
	mismatched := &dimensionLiar{Provider: provider, reported: 8}

	err := w.Reindex(context.Background(), "alice", "doc-1", "content", mismatched)
	require.Error(t, err)
	assert.ErrorIs(t, err, embeddings.ErrInvalidDimension)

	count, err := store.Count(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

type dimensionLiar struct {
	embeddings.Provider
	reported int
}

func (d *dimensionLiar) Dimension() int { return d.reported }

func TestReindexSameContentIsIdempotent(t *testing.T) {
	store := vectorstore.NewMemoryStore(nil)
	w := newTestWriter(t, store, Config{}, nil)
	provider := newFakeProvider(4)

	require.NoError(t, w.Reindex(context.Background(), "alice", "doc-1", "stable content", provider))
	first, err := store.Count(context.Background(), "doc-1")
	require.NoError(t, err)

	require.NoError(t, w.Reindex(context.Background(), "alice", "doc-1", "stable content", provider))
	second, err := store.Count(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestReindexRecordsUsage(t *testing.T) {
	store := vectorstore.NewMemoryStore(nil)
	recorder := &capturingRecorder{}
	w := newTestWriter(t, store, Config{}, recorder)
	provider := newFakeProvider(4)

	content := strings.Repeat("text ", 100)
	require.NoError(t, w.Reindex(context.Background(), "alice", "doc-1", content, provider))

	records := recorder.all()
	require.Len(t, records, 1)
	assert.Equal(t, "alice", records[0].Principal)
	assert.Equal(t, "fake-model", records[0].Model)
	assert.Equal(t, usage.RequestTypeIndex, records[0].RequestType)
	assert.Positive(t, records[0].InputTokens)
}

func TestReindexFailedRunRecordsNoUsage(t *testing.T) {
	store := vectorstore.NewMemoryStore(nil)
	recorder := &capturingRecorder{}
	w := newTestWriter(t, store, Config{Retry: embeddings.RetryPolicy{MaxAttempts: 1}}, recorder)
	provider := newFakeProvider(4)
	provider.fail = embeddings.ErrAuth

	require.Error(t, w.Reindex(context.Background(), "alice", "doc-1", "content", provider))
	assert.Empty(t, recorder.all())
}

func TestRejectModeFailsFastOnContention(t *testing.T) {
	store := vectorstore.NewMemoryStore(nil)
	w := newTestWriter(t, store, Config{Contention: ContentionReject}, nil)
	provider := newFakeProvider(4)
	provider.block = make(chan struct{})

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		done <- w.Reindex(context.Background(), "alice", "doc-1", "content", provider)
	}()
	<-started
	// Wait for the first reindex to take the lock and block in the provider.
	require.Eventually(t, func() bool {
		provider.mu.Lock()
		defer provider.mu.Unlock()
		return provider.calls > 0
	}, time.Second, 5*time.Millisecond)

	err := w.Reindex(context.Background(), "alice", "doc-1", "other content", provider)
	assert.ErrorIs(t, err, ErrReindexInFlight)

	close(provider.block)
	require.NoError(t, <-done)
}

func TestWaitModeSerializesSameDocument(t *testing.T) {
	store := vectorstore.NewMemoryStore(nil)
	w := newTestWriter(t, store, Config{}, nil)
	provider := newFakeProvider(4)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = w.Reindex(context.Background(), "alice", "doc-1", "concurrent content", provider)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		assert.NoError(t, err, "reindex %d", i)
	}

	// All runs used identical content, so whichever finished last must have
	// left a single coherent chunk set behind.
	results, err := store.Query(context.Background(), []float32{1, 0, 0, 0}, nil, 100)
	require.NoError(t, err)
	ordinals := make(map[int]int)
	for _, r := range results {
		ordinals[r.Ordinal]++
	}
	for ord, n := range ordinals {
		assert.Equal(t, 1, n, "ordinal %d appears %d times", ord, n)
	}
}

func TestWaitModeHonorsCancellation(t *testing.T) {
	store := vectorstore.NewMemoryStore(nil)
	w := newTestWriter(t, store, Config{}, nil)
	provider := newFakeProvider(4)
	provider.block = make(chan struct{})
	defer close(provider.block)

	go func() {
		_ = w.Reindex(context.Background(), "alice", "doc-1", "content", provider)
	}()
	require.Eventually(t, func() bool {
		provider.mu.Lock()
		defer provider.mu.Unlock()
		return provider.calls > 0
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := w.Reindex(ctx, "alice", "doc-1", "other content", provider)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDistinctDocumentsProceedInParallel(t *testing.T) {
	store := vectorstore.NewMemoryStore(nil)
	w := newTestWriter(t, store, Config{}, nil)

	blocked := newFakeProvider(4)
	blocked.block = make(chan struct{})
	defer close(blocked.block)
	free := newFakeProvider(4)

	go func() {
		_ = w.Reindex(context.Background(), "alice", "doc-busy", "content", blocked)
	}()
	require.Eventually(t, func() bool {
		blocked.mu.Lock()
		defer blocked.mu.Unlock()
		return blocked.calls > 0
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := w.Reindex(ctx, "alice", "doc-other", "content", free)
	assert.NoError(t, err, "a busy document must not block other documents")
}

func TestRemoveClearsDocument(t *testing.T) {
	store := vectorstore.NewMemoryStore(nil)
	w := newTestWriter(t, store, Config{}, nil)
	provider := newFakeProvider(4)

	require.NoError(t, w.Reindex(context.Background(), "alice", "doc-1", "content", provider))
	require.NoError(t, w.Remove(context.Background(), "doc-1"))

	count, err := store.Count(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNewWriterValidation(t *testing.T) {
	splitter, err := chunker.New(chunker.Config{})
	require.NoError(t, err)

	_, err = NewWriter(nil, splitter, Config{}, nil, nil)
	assert.Error(t, err)

	_, err = NewWriter(vectorstore.NewMemoryStore(nil), nil, Config{}, nil, nil)
	assert.Error(t, err)

	_, err = NewWriter(vectorstore.NewMemoryStore(nil), splitter, Config{Contention: "bogus"}, nil, nil)
	assert.Error(t, err)
}

func TestReindexRequiresDocumentID(t *testing.T) {
	w := newTestWriter(t, vectorstore.NewMemoryStore(nil), Config{}, nil)
	err := w.Reindex(context.Background(), "alice", "", "content", newFakeProvider(4))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrReindexInFlight))
}
