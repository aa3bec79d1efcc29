package database

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/appweaver/api/internal/models"
)

// GenerationStore persists the audit log of generation requests. Writes
// are best-effort: the audit row never blocks or fails the request that
// produced it.
type GenerationStore struct {
	db     *Postgres
	logger *zap.Logger
}

// NewGenerationStore creates a generation audit store.
func NewGenerationStore(db *Postgres, logger *zap.Logger) *GenerationStore {
	return &GenerationStore{db: db, logger: logger}
}

// Insert writes one audit row.
func (s *GenerationStore) Insert(ctx context.Context, record models.GenerationRecord) {
	if s.db == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := s.db.Pool().Exec(ctx,
		`INSERT INTO generation_logs (id, prompt, profile, model, attempts, outcome, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID,
		record.Prompt,
		string(record.Profile),
		record.Model,
		record.Attempts,
		record.Outcome,
		record.LatencyMS,
		record.CreatedAt,
	)
	if err != nil {
		s.logger.Warn("failed to persist generation record",
			zap.String("id", record.ID.String()),
			zap.Error(err),
		)
	}
}
