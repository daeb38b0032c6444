package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/italolelis/crocstore/internal/crocdb"
	"github.com/italolelis/crocstore/internal/storage"
)

// finished_at is stored as fixed-width UTC text so it sorts and compares lexically.
const timeLayout = "2006-01-02T15:04:05.000Z"

type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(dbConn *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: dbConn}
}

func (r *HistoryRepository) RecordJob(ctx context.Context, rec storage.HistoryRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO history (rom_id, filename, status, final_path, error, total_size, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rom_id) DO UPDATE SET
			filename = excluded.filename,
			status = excluded.status,
			final_path = excluded.final_path,
			error = excluded.error,
			total_size = excluded.total_size,
			finished_at = excluded.finished_at
	`,
		rec.ROMID,
		rec.Filename,
		string(rec.Status),
		nullString(rec.FinalPath),
		nullString(rec.Error),
		rec.TotalSize,
		rec.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to record job %s: %w", rec.ROMID, err)
	}

	return nil
}

func (r *HistoryRepository) ListHistory(ctx context.Context, limit int) ([]storage.HistoryRecord, error) {
	query := `SELECT rom_id, filename, status, final_path, error, total_size, finished_at
		FROM history ORDER BY finished_at DESC, rom_id`

	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`

		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	records := []storage.HistoryRecord{}

	for rows.Next() {
		var (
			rec        storage.HistoryRecord
			status     string
			finalPath  sql.NullString
			errMsg     sql.NullString
			finishedAt string
		)

		if err := rows.Scan(&rec.ROMID, &rec.Filename, &status, &finalPath, &errMsg, &rec.TotalSize, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}

		rec.Status = crocdb.Status(status)
		rec.FinalPath = finalPath.String
		rec.Error = errMsg.String

		rec.FinishedAt, err = time.Parse(timeLayout, finishedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid finished_at for %s: %w", rec.ROMID, err)
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

func (r *HistoryRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM history WHERE finished_at < ?`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to delete history: %w", err)
	}

	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
