package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

var qdrantTracer = otel.Tracer("semanticd.vectorstore.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Default: "localhost"
	Host string `koanf:"host"`

	// Port is the Qdrant gRPC port (not the HTTP REST port).
	// Default: 6334
	Port int `koanf:"port"`

	// Collection is the collection holding all chunks.
	// Default: "note_chunks"
	Collection string `koanf:"collection"`

	// Dimension is the vector width. Must match the active embedding
	// configuration.
	Dimension int `koanf:"dimension"`

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool `koanf:"use_tls"`

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 32MB
	MaxMessageSize int `koanf:"max_message_size"`
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "note_chunks"
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 32 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, c.Port)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// QdrantStore implements Store on an external Qdrant server.
//
// Qdrant has no cross-request transactions, so Replace holds a per-store
// write lock across the delete and the upsert. The HNSW index is
// approximate; exact top-k recall is not guaranteed, which the engine
// accepts. Chunk embeddings are not read back on query.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewQdrantStore connects to Qdrant and ensures the chunk collection exists.
func NewQdrantStore(ctx context.Context, config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	s := &QdrantStore{client: client, config: config, logger: logger}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(healthCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check: %w", err)
	}

	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant store initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
		zap.Int("dimension", config.Dimension),
	)
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.config.Collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.config.Dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}
	return nil
}

// Replace installs chunks as the document's complete chunk set.
func (s *QdrantStore) Replace(ctx context.Context, documentID string, chunks []Chunk) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Replace")
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

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(c.ID),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: map[string]*qdrant.Value{
				"document_id": {Kind: &qdrant.Value_StringValue{StringValue: c.DocumentID}},
				"ordinal":     {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(c.Ordinal)}},
				"text":        {Kind: &qdrant.Value_StringValue{StringValue: c.Text}},
				"created_at":  {Kind: &qdrant.Value_StringValue{StringValue: c.CreatedAt.UTC().Format(time.RFC3339Nano)}},
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
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.config.Collection,
		Points:         points,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting chunks: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Clear removes all chunks for the document.
func (s *QdrantStore) Clear(ctx context.Context, documentID string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Clear")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", documentID))

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(ctx, documentID)
}

func (s *QdrantStore) deleteLocked(ctx context.Context, documentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.config.Collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: documentFilter([]string{documentID}),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting chunks for %s: %w", documentID, err)
	}
	return nil
}

// documentFilter matches points whose document_id payload is in ids.
func documentFilter(ids []string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: "document_id",
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keywords{
								Keywords: &qdrant.RepeatedStrings{Strings: ids},
							},
						},
					},
				},
			},
		},
	}
}

// Query returns up to k chunks closest to vector among admitted documents.
// The document filter is pushed down to Qdrant as a payload match.
func (s *QdrantStore) Query(ctx context.Context, vector []float32, filter *Filter, k int) ([]ScoredChunk, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector required", ErrInvalidQuery)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidQuery, k)
	}

	var qf *qdrant.Filter
	if filter != nil && filter.DocumentIDs != nil {
		if len(filter.DocumentIDs) == 0 {
			return nil, nil
		}
		qf = documentFilter(filter.DocumentIDs)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.config.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         qf,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	scored := make([]ScoredChunk, 0, len(results))
	for _, point := range results {
		chunk, err := chunkFromQdrant(point)
		if err != nil {
			s.logger.Warn("skipping chunk with corrupt payload", zap.Error(err))
			continue
		}
		// With cosine distance configured, Score is cosine similarity.
		scored = append(scored, ScoredChunk{
			Chunk:    chunk,
			Distance: 1 - point.Score,
		})
	}

	sortScored(scored)
	return topK(scored, k), nil
}

func chunkFromQdrant(point *qdrant.ScoredPoint) (Chunk, error) {
	payload := point.Payload
	if payload == nil {
		return Chunk{}, fmt.Errorf("point has no payload")
	}

	chunk := Chunk{}
	if id := point.Id.GetUuid(); id != "" {
		chunk.ID = id
	} else {
		chunk.ID = strconv.FormatUint(point.Id.GetNum(), 10)
	}
	if v, ok := payload["document_id"]; ok {
		chunk.DocumentID = v.GetStringValue()
	}
	if chunk.DocumentID == "" {
		return Chunk{}, fmt.Errorf("point %s has no document_id", chunk.ID)
	}
	if v, ok := payload["ordinal"]; ok {
		chunk.Ordinal = int(v.GetIntegerValue())
	}
	if v, ok := payload["text"]; ok {
		chunk.Text = v.GetStringValue()
	}
	if v, ok := payload["created_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v.GetStringValue()); err == nil {
			chunk.CreatedAt = t
		}
	}
	return chunk, nil
}

// Close closes the Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
