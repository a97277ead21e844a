// Package usage records embedding consumption per principal. Recording is
// best effort: a failure to persist a record never fails the indexing or
// search operation that produced it.
package usage

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Request types attached to usage records.
const (
	RequestTypeIndex  = "index"
	RequestTypeSearch = "search"
)

// Record describes one embedding request made on behalf of a principal.
type Record struct {
	Principal   string    `db:"principal"`
	ConfigID    string    `db:"config_id"`
	Model       string    `db:"model"`
	RequestType string    `db:"request_type"`
	InputTokens int       `db:"input_tokens"`
	CreatedAt   time.Time `db:"created_at"`
}

// Recorder persists usage records. Implementations must swallow their own
// errors; callers never inspect the outcome.
type Recorder interface {
	Record(ctx context.Context, rec Record)
}

// NopRecorder discards all records.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Record) {}

// LogRecorder writes records to the log instead of a datastore. Useful for
// deployments that only want usage visibility, not accounting.
type LogRecorder struct {
	logger *zap.Logger
}

func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) Record(_ context.Context, rec Record) {
	r.logger.Info("embedding usage",
		zap.String("principal", rec.Principal),
		zap.String("model", rec.Model),
		zap.String("request_type", rec.RequestType),
		zap.Int("input_tokens", rec.InputTokens))
}

// EstimateTokens approximates the token count of texts. Exact tokenization is
// model specific; a four-characters-per-token heuristic is close enough for
// accounting.
func EstimateTokens(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += len(t)
	}
	return total / 4
}
