package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/quillnote/semanticd/internal/chunker"
	"github.com/quillnote/semanticd/internal/embeddings"
	"github.com/quillnote/semanticd/internal/usage"
	"github.com/quillnote/semanticd/internal/vectorstore"
)

var indexTracer = otel.Tracer("semanticd.index")

var (
	// ErrReindexInFlight is returned in reject mode when another reindex of
	// the same document is already running.
	ErrReindexInFlight = errors.New("reindex already in flight for document")

	// ErrDocumentNotFound is returned by content sources when the requested
	// document does not exist.
	ErrDocumentNotFound = errors.New("document not found")
)

// Contention modes for concurrent reindex requests targeting the same
// document.
const (
	ContentionWait   = "wait"
	ContentionReject = "reject"
)

// Config controls writer behavior.
type Config struct {
	// Contention selects what happens when a reindex arrives while another
	// reindex of the same document is running: ContentionWait queues it,
	// ContentionReject fails fast with ErrReindexInFlight.
	Contention string `koanf:"contention"`

	// Retry applies to embedding calls made during reindexing.
	Retry embeddings.RetryPolicy `koanf:"retry"`
}

func (c *Config) ApplyDefaults() {
	if c.Contention == "" {
		c.Contention = ContentionWait
	}
	c.Retry.ApplyDefaults()
}

func (c *Config) Validate() error {
	switch c.Contention {
	case ContentionWait, ContentionReject:
		return nil
	default:
		return fmt.Errorf("invalid contention mode %q", c.Contention)
	}
}

// Writer rebuilds the index entries for individual documents. Reindexing the
// same document is serialized; distinct documents proceed in parallel. A
// failed reindex leaves the previously indexed chunks in place.
type Writer struct {
	store    vectorstore.Store
	splitter *chunker.Chunker
	cfg      Config
	locks    *keyedLocks
	usage    usage.Recorder
	logger   *zap.Logger
}

func NewWriter(store vectorstore.Store, splitter *chunker.Chunker, cfg Config, recorder usage.Recorder, logger *zap.Logger) (*Writer, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("vector store is required")
	}
	if splitter == nil {
		return nil, errors.New("chunker is required")
	}
	if recorder == nil {
		recorder = usage.NopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		store:    store,
		splitter: splitter,
		cfg:      cfg,
		locks:    newKeyedLocks(),
		usage:    recorder,
		logger:   logger,
	}, nil
}

// Reindex replaces the indexed chunks of documentID with chunks derived from
// content. Empty or whitespace-only content removes the document from the
// index. The swap from old to new chunks is atomic: searches observe either
// the previous version or the new one, never a mix.
func (w *Writer) Reindex(ctx context.Context, principal, documentID, content string, provider embeddings.Provider) error {
	if documentID == "" {
		return errors.New("document id is required")
	}
	if provider == nil {
		return errors.New("embedding provider is required")
	}

	ctx, span := indexTracer.Start(ctx, "Writer.Reindex")
	defer span.End()
	span.SetAttributes(
		attribute.String("document_id", documentID),
		attribute.String("model", provider.Model()),
	)

	err := w.reindex(ctx, principal, documentID, content, provider)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (w *Writer) reindex(ctx context.Context, principal, documentID, content string, provider embeddings.Provider) error {
	unlock, err := w.locks.acquire(ctx, documentID, w.cfg.Contention == ContentionWait)
	if err != nil {
		return err
	}
	defer unlock()

	texts := w.splitter.Split(content)
	if len(texts) == 0 {
		w.logger.Debug("clearing document with empty content", zap.String("document_id", documentID))
		return w.store.Clear(ctx, documentID)
	}

	embedder := embeddings.WithRetry(provider, w.cfg.Retry, w.logger)
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding %d chunks for document %s: %w", len(texts), documentID, err)
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("%w: got %d embeddings for %d chunks", embeddings.ErrMalformedResponse, len(vectors), len(texts))
	}
	want := provider.Dimension()
	for i, vec := range vectors {
		if len(vec) != want {
			return fmt.Errorf("%w: chunk %d has %d dimensions, want %d", embeddings.ErrInvalidDimension, i, len(vec), want)
		}
	}

	// Embedding can take a while; do not start the swap for a request that
	// has already been abandoned.
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now().UTC()
	chunks := make([]vectorstore.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = vectorstore.Chunk{
			ID:         uuid.NewString(),
			DocumentID: documentID,
			Ordinal:    i,
			Text:       text,
			Embedding:  vectors[i],
			CreatedAt:  now,
		}
	}

	if err := w.store.Replace(ctx, documentID, chunks); err != nil {
		return fmt.Errorf("replacing chunks for document %s: %w", documentID, err)
	}

	w.usage.Record(ctx, usage.Record{
		Principal:   principal,
		Model:       provider.Model(),
		RequestType: usage.RequestTypeIndex,
		InputTokens: usage.EstimateTokens(texts...),
		CreatedAt:   now,
	})

	w.logger.Info("document reindexed",
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunks)),
		zap.String("model", provider.Model()))
	return nil
}

// Remove deletes all indexed chunks of documentID.
func (w *Writer) Remove(ctx context.Context, documentID string) error {
	if documentID == "" {
		return errors.New("document id is required")
	}
	unlock, err := w.locks.acquire(ctx, documentID, w.cfg.Contention == ContentionWait)
	if err != nil {
		return err
	}
	defer unlock()
	return w.store.Clear(ctx, documentID)
}
