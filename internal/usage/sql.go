package usage

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const createUsageTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id BIGSERIAL PRIMARY KEY,
	principal TEXT NOT NULL,
	config_id TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL,
	request_type TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`

const insertUsageRecord = `
INSERT INTO usage_records (principal, config_id, model, request_type, input_tokens, created_at)
VALUES (:principal, :config_id, :model, :request_type, :input_tokens, :created_at)`

// SQLRecorder persists records into a usage_records table. Insert failures
// are logged and dropped.
type SQLRecorder struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewSQLRecorder(ctx context.Context, db *sqlx.DB, logger *zap.Logger) (*SQLRecorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := db.ExecContext(ctx, createUsageTable); err != nil {
		return nil, err
	}
	return &SQLRecorder{db: db, logger: logger}, nil
}

func (r *SQLRecorder) Record(ctx context.Context, rec Record) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.NamedExecContext(ctx, insertUsageRecord, rec); err != nil {
		r.logger.Warn("failed to persist usage record",
			zap.String("principal", rec.Principal),
			zap.String("request_type", rec.RequestType),
			zap.Error(err))
	}
}
