package backlog

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/docman-backlog/internal/models"
	"github.com/garyjia/docman-backlog/internal/parser"
	"github.com/garyjia/docman-backlog/internal/storage"
)

func newTestLogWriter(t *testing.T) *LogWriter {
	t.Helper()
	dir := t.TempDir()
	return NewLogWriter(dir, storage.NewLocalFileStorage(dir, zap.NewNop()), zap.NewNop())
}

func sampleLog(runID string) *models.BacklogProcessingLog {
	p := parser.Default()
	start := time.Date(2025, 6, 3, 8, 0, 0, 0, time.UTC)

	folder := models.NewFolderResult("/share/06-02-2025", "06-02-2025", start)
	folder.Add(models.NewSuccess("ca12135endo060225.pdf", "/share/06-02-2025/ca12135endo060225.pdf",
		p.Parse("ca12135endo060225.pdf"), models.SuccessOutcome{FID: 1001, StorageURI: "public://Documents/ca12135endo060225.pdf"}))
	folder.Add(models.NewQueued("unrecognized_scan.pdf", "/share/06-02-2025/unrecognized_scan.pdf",
		p.Parse("unrecognized_scan.pdf"), models.QueuedOutcome{FID: 1002, Reason: parser.ErrNoPolicyNumber}))
	folder.Add(models.NewError("ca12135mvr060225.pdf", "/share/06-02-2025/ca12135mvr060225.pdf",
		p.Parse("ca12135mvr060225.pdf"), models.ErrorOutcome{Stage: models.StageMoved, Message: "failed to move file: disk full,\nretry later"}))
	folder.Finish(start.Add(time.Minute))

	log := models.NewBacklogLog(runID, start, 2)
	log.AddFolder(*folder)
	log.Finish(start.Add(2 * time.Minute))
	return log
}

func TestLogWriter_Write(t *testing.T) {
	w := newTestLogWriter(t)
	log := sampleLog("2025-06-03T08-00-00.000")

	paths, err := w.Write(log)
	require.NoError(t, err)

	base := filepath.Join(w.Dir(), "backlog-2025-06-03T08-00-00.000")
	assert.Equal(t, LogPaths{JSON: base + ".json", CSV: base + ".csv", XLSX: base + ".xlsx"}, paths)

	t.Run("json round trips", func(t *testing.T) {
		loaded, err := w.LoadLog(log.RunID)
		require.NoError(t, err)
		assert.Equal(t, log.Summary, loaded.Summary)
		require.Len(t, loaded.Folders, 1)
		require.Len(t, loaded.Folders[0].Files, 3)
		failure, ok := loaded.Folders[0].Files[2].Failure()
		require.True(t, ok)
		assert.Equal(t, models.StageMoved, failure.Stage)
	})

	t.Run("csv has one row per file", func(t *testing.T) {
		content, err := os.ReadFile(paths.CSV)
		require.NoError(t, err)

		records, err := csv.NewReader(strings.NewReader(string(content))).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 4)
		assert.Equal(t, []string{"Folder", "Filename", "Status", "PolicyNumber", "DocType", "Date", "FID", "Error"}, records[0])
		assert.Equal(t, []string{"06-02-2025", "ca12135endo060225.pdf", "success", "CA12135", "endo", "2025-06-02", "1001", ""}, records[1])
		assert.Equal(t, []string{"06-02-2025", "unrecognized_scan.pdf", "queued", "", "", "", "1002", parser.ErrNoPolicyNumber}, records[2])
		assert.Equal(t, "failed to move file: disk full; retry later", records[3][7])
		assert.Empty(t, records[3][6])
	})

	t.Run("xlsx has file and summary sheets", func(t *testing.T) {
		f, err := excelize.OpenFile(paths.XLSX)
		require.NoError(t, err)
		defer f.Close()

		rows, err := f.GetRows(filesSheet)
		require.NoError(t, err)
		require.Len(t, rows, 4)
		assert.Equal(t, "ca12135endo060225.pdf", rows[1][1])

		summary, err := f.GetRows(summarySheet)
		require.NoError(t, err)
		assert.Equal(t, []string{"Run ID", "2025-06-03T08-00-00.000"}, summary[0])
		assert.Equal(t, []string{"Folders", "1 / 2"}, summary[3])
		assert.Equal(t, []string{"Errors", "1"}, summary[8])
	})
}

func TestLogWriter_WriteReplacesCheckpoint(t *testing.T) {
	w := newTestLogWriter(t)
	log := models.NewBacklogLog("2025-06-03T08-00-00.000", time.Now(), 2)

	_, err := w.Write(log)
	require.NoError(t, err)

	log.AddFolder(*models.NewFolderResult("/share/06-02-2025", "06-02-2025", time.Now()))
	paths, err := w.Write(log)
	require.NoError(t, err)

	loaded, err := w.LoadLog(log.RunID)
	require.NoError(t, err)
	assert.Len(t, loaded.Folders, 1)
	assert.FileExists(t, paths.JSON)

	entries, err := os.ReadDir(w.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 3, "no temp files are left behind")
}

func TestLogWriter_ListLogs(t *testing.T) {
	w := newTestLogWriter(t)

	for _, id := range []string{"2025-06-01T08-00-00.000", "test-2025-06-02T09-00-00.000", "2025-06-03T08-00-00.000"} {
		_, err := w.Write(models.NewBacklogLog(id, time.Now(), 0))
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(w.Dir(), "backlog-notes.json"), []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(w.Dir(), "other.json"), []byte("{}"), 0644))

	logs, err := w.ListLogs()
	require.NoError(t, err)

	var ids []string
	for _, l := range logs {
		ids = append(ids, l.RunID)
	}
	assert.Equal(t, []string{"2025-06-03T08-00-00.000", "test-2025-06-02T09-00-00.000", "2025-06-01T08-00-00.000"}, ids)
	assert.Greater(t, logs[0].Size, int64(0))
}

func TestLogWriter_ListLogsMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	w := NewLogWriter(dir, storage.NewLocalFileStorage(dir, zap.NewNop()), zap.NewNop())

	logs, err := w.ListLogs()

	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestLogWriter_LoadLog(t *testing.T) {
	w := newTestLogWriter(t)

	_, err := w.LoadLog("../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidRun)

	_, err = w.LoadLog("2025-06-03T08-00-00.000")
	assert.ErrorIs(t, err, ErrLogNotFound)

	require.NoError(t, os.WriteFile(filepath.Join(w.Dir(), "backlog-2025-06-04T08-00-00.000.json"), []byte("{broken"), 0644))
	_, err = w.LoadLog("2025-06-04T08-00-00.000")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrLogNotFound)
}
