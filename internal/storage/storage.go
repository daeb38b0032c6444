package storage

import (
	"context"
	"errors"
	"time"

	"github.com/italolelis/crocstore/internal/crocdb"
)

// ErrNotTerminal is returned when asked to record a job that has not finished.
var ErrNotTerminal = errors.New("job has not reached a terminal status")

// HistoryRecord is a download job that reached completed or error.
type HistoryRecord struct {
	ROMID      string        `json:"rom_id"`
	Filename   string        `json:"filename"`
	Status     crocdb.Status `json:"status"`
	FinalPath  string        `json:"final_path,omitempty"`
	Error      string        `json:"error,omitempty"`
	TotalSize  int64         `json:"total_size"`
	FinishedAt time.Time     `json:"finished_at"`
}

// NewHistoryRecord builds the record for a terminal job snapshot.
func NewHistoryRecord(romID string, job crocdb.DownloadProgress, finishedAt time.Time) (HistoryRecord, error) {
	if !job.Status.IsTerminal() {
		return HistoryRecord{}, ErrNotTerminal
	}

	return HistoryRecord{
		ROMID:      romID,
		Filename:   job.Filename,
		Status:     job.Status,
		FinalPath:  job.FinalPath,
		Error:      job.Error,
		TotalSize:  job.TotalSize,
		FinishedAt: finishedAt.UTC(),
	}, nil
}

type HistoryReadRepository interface {
	// ListHistory returns the most recently finished jobs first. limit <= 0 returns all.
	ListHistory(ctx context.Context, limit int) ([]HistoryRecord, error)
}

type HistoryWriteRepository interface {
	// RecordJob stores rec, replacing any earlier record for the same ROM.
	RecordJob(ctx context.Context, rec HistoryRecord) error
	// DeleteFinishedBefore removes records finished before cutoff and reports how many.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type HistoryRepository interface {
	HistoryReadRepository
	HistoryWriteRepository
}
