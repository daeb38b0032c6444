package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/crocstore/internal/crocdb"
	"github.com/italolelis/crocstore/internal/storage"
	"github.com/italolelis/crocstore/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) storage.HistoryRepository {
	t.Helper()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return sqlite.NewInstrumentedHistoryRepository(db, nil)
}

func record(t *testing.T, id string, job crocdb.DownloadProgress, at time.Time) storage.HistoryRecord {
	t.Helper()

	rec, err := storage.NewHistoryRecord(id, job, at)
	require.NoError(t, err)

	return rec
}

func TestHistoryRepository_RecordAndList(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.RecordJob(ctx, record(t, "rom-1", crocdb.DownloadProgress{
		Status: crocdb.StatusCompleted, Filename: "Zelda", TotalSize: 1 << 20, FinalPath: "/roms/SNES/Zelda.zip",
	}, base)))
	require.NoError(t, repo.RecordJob(ctx, record(t, "rom-2", crocdb.DownloadProgress{
		Status: crocdb.StatusError, Filename: "Metroid", Error: "disk full",
	}, base.Add(time.Minute))))

	records, err := repo.ListHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "rom-2", records[0].ROMID, "newest first")
	assert.Equal(t, crocdb.StatusError, records[0].Status)
	assert.Equal(t, "disk full", records[0].Error)
	assert.Empty(t, records[0].FinalPath)

	assert.Equal(t, "/roms/SNES/Zelda.zip", records[1].FinalPath)
	assert.Equal(t, int64(1<<20), records[1].TotalSize)
	assert.True(t, base.Equal(records[1].FinishedAt))

	limited, err := repo.ListHistory(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestHistoryRepository_OneRecordPerROM(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.RecordJob(ctx, record(t, "rom-1", crocdb.DownloadProgress{
		Status: crocdb.StatusError, Filename: "Zelda", Error: "timeout",
	}, base)))
	require.NoError(t, repo.RecordJob(ctx, record(t, "rom-1", crocdb.DownloadProgress{
		Status: crocdb.StatusCompleted, Filename: "Zelda", FinalPath: "/roms/SNES/Zelda.zip",
	}, base.Add(time.Hour))))

	records, err := repo.ListHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, crocdb.StatusCompleted, records[0].Status)
	assert.Empty(t, records[0].Error)
}

func TestHistoryRepository_DeleteFinishedBefore(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	now := time.Now()

	job := crocdb.DownloadProgress{Status: crocdb.StatusCompleted, Filename: "x"}
	require.NoError(t, repo.RecordJob(ctx, record(t, "old", job, now.Add(-48*time.Hour))))
	require.NoError(t, repo.RecordJob(ctx, record(t, "recent", job, now.Add(-time.Hour))))

	deleted, err := repo.DeleteFinishedBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	records, err := repo.ListHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "recent", records[0].ROMID)
}

func TestHistoryRepository_EmptyList(t *testing.T) {
	records, err := newRepo(t).ListHistory(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestInitDB_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	db, err := sqlite.InitDB(path)
	require.NoError(t, err)
	require.NoError(t, sqlite.NewHistoryRepository(db).RecordJob(context.Background(), storage.HistoryRecord{
		ROMID: "rom-1", Filename: "Zelda", Status: crocdb.StatusCompleted, FinishedAt: time.Now(),
	}))
	require.NoError(t, db.Close())

	db, err = sqlite.InitDB(path)
	require.NoError(t, err)
	defer db.Close()

	records, err := sqlite.NewHistoryRepository(db).ListHistory(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
