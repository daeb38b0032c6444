package storage_test

import (
	"testing"
	"time"

	"github.com/italolelis/crocstore/internal/crocdb"
	"github.com/italolelis/crocstore/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHistoryRecord(t *testing.T) {
	at := time.Date(2025, 3, 1, 13, 0, 0, 0, time.FixedZone("CET", 3600))

	rec, err := storage.NewHistoryRecord("rom-1", crocdb.DownloadProgress{
		Status:    crocdb.StatusCompleted,
		Filename:  "Zelda",
		TotalSize: 2048,
		FinalPath: "/roms/SNES/Zelda.zip",
	}, at)
	require.NoError(t, err)

	assert.Equal(t, "rom-1", rec.ROMID)
	assert.Equal(t, "/roms/SNES/Zelda.zip", rec.FinalPath)
	assert.Equal(t, time.UTC, rec.FinishedAt.Location())
	assert.True(t, at.Equal(rec.FinishedAt))
}

func TestNewHistoryRecordRejectsActiveJobs(t *testing.T) {
	for _, status := range []crocdb.Status{crocdb.StatusStarting, crocdb.StatusDownloading, ""} {
		_, err := storage.NewHistoryRecord("rom-1", crocdb.DownloadProgress{Status: status}, time.Now())
		assert.ErrorIs(t, err, storage.ErrNotTerminal)
	}
}
