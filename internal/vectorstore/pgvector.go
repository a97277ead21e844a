package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var pgvectorTracer = otel.Tracer("semanticd.vectorstore.pgvector")

// PgvectorConfig holds configuration for the PostgreSQL/pgvector store.
type PgvectorConfig struct {
	// DSN is the PostgreSQL connection string.
	DSN string `koanf:"dsn"`

	// Dimension is the vector column width. Must match the active embedding
	// configuration.
	Dimension int `koanf:"dimension"`

	// Table is the chunk table name. Default: "note_chunks"
	Table string `koanf:"table"`
}

// ApplyDefaults sets default values for unset fields.
func (c *PgvectorConfig) ApplyDefaults() {
	if c.Table == "" {
		c.Table = "note_chunks"
	}
}

// Validate validates the configuration.
func (c PgvectorConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("%w: DSN required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// PgvectorStore implements Store on PostgreSQL with the pgvector extension.
//
// Replace runs the delete and the insert in one transaction, so the
// chunk-set swap is atomic for readers and crash-safe. Query pushes the
// document filter and the distance ordering down to the database
// (`embedding <=> $1 ... ORDER BY distance, id LIMIT k`), which uses an
// ivfflat/hnsw index when one exists.
type PgvectorStore struct {
	db     *sqlx.DB
	config PgvectorConfig
	logger *zap.Logger
}

// NewPgvectorStore connects to PostgreSQL and prepares the chunk table.
func NewPgvectorStore(ctx context.Context, config PgvectorConfig, logger *zap.Logger) (*PgvectorStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := &PgvectorStore{db: db, config: config, logger: logger}
	if err := s.initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("pgvector store initialized",
		zap.String("table", config.Table),
		zap.Int("dimension", config.Dimension),
	)
	return s, nil
}

// initialize verifies the pgvector extension and creates the chunk table.
func (s *PgvectorStore) initialize(ctx context.Context) error {
	var extExists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')`,
	).Scan(&extExists)
	if err != nil {
		return fmt.Errorf("checking pgvector extension: %w", err)
	}
	if !extExists {
		return fmt.Errorf("%w: pgvector extension is not installed", ErrInvalidConfig)
	}

	createSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id          TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			ordinal     INTEGER NOT NULL,
			text        TEXT NOT NULL,
			embedding   vector(%d) NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, pq.QuoteIdentifier(s.config.Table), s.config.Dimension)
	if _, err := s.db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("creating chunk table: %w", err)
	}

	indexSQL := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON %s (document_id)`,
		pq.QuoteIdentifier(s.config.Table+"_document_id_idx"),
		pq.QuoteIdentifier(s.config.Table),
	)
	if _, err := s.db.ExecContext(ctx, indexSQL); err != nil {
		return fmt.Errorf("creating document index: %w", err)
	}
	return nil
}

// Replace atomically installs chunks as the document's complete chunk set.
// Once the transaction has begun it runs to commit or rollback; caller
// cancellation no longer interrupts it.
func (s *PgvectorStore) Replace(ctx context.Context, documentID string, chunks []Chunk) error {
	ctx, span := pgvectorTracer.Start(ctx, "PgvectorStore.Replace")
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
	for i, c := range chunks {
		if len(c.Embedding) != s.config.Dimension {
			return fmt.Errorf("%w: chunk %d has dimension %d, store expects %d",
				ErrInvalidChunk, i, len(c.Embedding), s.config.Dimension)
		}
	}

	// The transaction itself runs under a background-derived context so a
	// caller cancel cannot leave it half-applied.
	txCtx := context.WithoutCancel(ctx)
	tx, err := s.db.BeginTxx(txCtx, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	deleteSQL := fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, pq.QuoteIdentifier(s.config.Table))
	if _, err := tx.ExecContext(txCtx, deleteSQL, documentID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting existing chunks: %w", err)
	}

	insertSQL := fmt.Sprintf(
		`INSERT INTO %s (id, document_id, ordinal, text, embedding, created_at) VALUES ($1, $2, $3, $4, $5::vector, $6)`,
		pq.QuoteIdentifier(s.config.Table),
	)
	for _, c := range chunks {
		if _, err := tx.ExecContext(txCtx, insertSQL,
			c.ID, c.DocumentID, c.Ordinal, c.Text, encodeVector(c.Embedding), c.CreatedAt,
		); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("committing chunk replacement: %w", err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Clear removes all chunks for the document.
func (s *PgvectorStore) Clear(ctx context.Context, documentID string) error {
	ctx, span := pgvectorTracer.Start(ctx, "PgvectorStore.Clear")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", documentID))

	deleteSQL := fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, pq.QuoteIdentifier(s.config.Table))
	if _, err := s.db.ExecContext(context.WithoutCancel(ctx), deleteSQL, documentID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("clearing chunks for %s: %w", documentID, err)
	}
	return nil
}

// chunkRow is the sqlx scan target for chunk queries.
type chunkRow struct {
	ID         string    `db:"id"`
	DocumentID string    `db:"document_id"`
	Ordinal    int       `db:"ordinal"`
	Text       string    `db:"text"`
	Embedding  string    `db:"embedding"`
	CreatedAt  time.Time `db:"created_at"`
	Distance   float64   `db:"distance"`
}

// Query returns up to k chunks closest to vector among admitted documents,
// ordered by ascending cosine distance with id tie-break.
func (s *PgvectorStore) Query(ctx context.Context, vector []float32, filter *Filter, k int) ([]ScoredChunk, error) {
	ctx, span := pgvectorTracer.Start(ctx, "PgvectorStore.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector required", ErrInvalidQuery)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidQuery, k)
	}

	table := pq.QuoteIdentifier(s.config.Table)
	var rows []chunkRow
	var err error
	if filter == nil || filter.DocumentIDs == nil {
		querySQL := fmt.Sprintf(`
			SELECT id, document_id, ordinal, text, embedding::text AS embedding, created_at,
			       embedding <=> $1::vector AS distance
			FROM %s
			ORDER BY distance ASC, id ASC
			LIMIT $2`, table)
		err = s.db.SelectContext(ctx, &rows, querySQL, encodeVector(vector), k)
	} else {
		querySQL := fmt.Sprintf(`
			SELECT id, document_id, ordinal, text, embedding::text AS embedding, created_at,
			       embedding <=> $1::vector AS distance
			FROM %s
			WHERE document_id = ANY($2)
			ORDER BY distance ASC, id ASC
			LIMIT $3`, table)
		err = s.db.SelectContext(ctx, &rows, querySQL, encodeVector(vector), pq.Array(filter.DocumentIDs), k)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying chunks: %w", err)
	}

	scored := make([]ScoredChunk, 0, len(rows))
	for _, row := range rows {
		embedding, err := decodeVector(row.Embedding)
		if err != nil {
			s.logger.Warn("skipping chunk with corrupt embedding",
				zap.String("chunk_id", row.ID), zap.Error(err))
			continue
		}
		scored = append(scored, ScoredChunk{
			Chunk: Chunk{
				ID:         row.ID,
				DocumentID: row.DocumentID,
				Ordinal:    row.Ordinal,
				Text:       row.Text,
				Embedding:  embedding,
				CreatedAt:  row.CreatedAt,
			},
			Distance: float32(row.Distance),
		})
	}
	return scored, nil
}

// Count returns the number of chunks stored for the document.
func (s *PgvectorStore) Count(ctx context.Context, documentID string) (int, error) {
	countSQL := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE document_id = $1`, pq.QuoteIdentifier(s.config.Table))
	var n int
	if err := s.db.GetContext(ctx, &n, countSQL, documentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

// Close closes the database connection pool.
func (s *PgvectorStore) Close() error {
	return s.db.Close()
}

// encodeVector renders a vector in pgvector's text format: [1,2,3].
func encodeVector(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// decodeVector parses pgvector's text format.
func decodeVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("malformed vector literal %q", truncateForError(s))
	}
	inner := s[1 : len(s)-1]
	if inner == "" {
		return nil, fmt.Errorf("empty vector literal")
	}
	parts := strings.Split(inner, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("parsing vector component %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

func truncateForError(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}
