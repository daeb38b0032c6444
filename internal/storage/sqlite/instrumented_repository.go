package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/crocstore/internal/storage"
	"github.com/italolelis/crocstore/internal/telemetry"
)

// InstrumentedHistoryRepository wraps HistoryRepository with telemetry.
type InstrumentedHistoryRepository struct {
	repo      *HistoryRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedHistoryRepository creates a new instrumented history repository.
func NewInstrumentedHistoryRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedHistoryRepository {
	return &InstrumentedHistoryRepository{
		repo:      NewHistoryRepository(dbConn),
		telemetry: tel,
	}
}

// RecordJob records a finished job with telemetry.
func (r *InstrumentedHistoryRepository) RecordJob(ctx context.Context, rec storage.HistoryRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_job", func(ctx context.Context) error {
		return r.repo.RecordJob(ctx, rec)
	})
}

// ListHistory lists finished jobs with telemetry.
func (r *InstrumentedHistoryRepository) ListHistory(ctx context.Context, limit int) ([]storage.HistoryRecord, error) {
	var result []storage.HistoryRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "list_history", func(ctx context.Context) error {
		var err error

		result, err = r.repo.ListHistory(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// DeleteFinishedBefore prunes history with telemetry.
func (r *InstrumentedHistoryRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64

	err := r.telemetry.InstrumentDBOperation(ctx, "delete_history", func(ctx context.Context) error {
		var err error

		deleted, err = r.repo.DeleteFinishedBefore(ctx, cutoff)

		return err
	})

	return deleted, err
}
