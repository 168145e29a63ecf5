package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/docman-backlog/internal/models"
	"github.com/garyjia/docman-backlog/pkg/database"
)

func TestProcessingLogRepository_Record(t *testing.T) {
	t.Run("success stores fid", func(t *testing.T) {
		db, mock := newMockDB(t, database.DriverSQLite)
		repo := NewProcessingLogRepository(db, zap.NewNop())

		file := models.NewSuccess("a.pdf", "/nas/06-02-2025/a.pdf", models.ParsedFilename{}, models.SuccessOutcome{FID: 42})

		mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (source_path, filename) DO UPDATE")).
			WithArgs("/nas/06-02-2025/a.pdf", "a.pdf", sqlmock.AnyArg(), "success", int64(42), nil).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, repo.Record(context.Background(), file))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error stores message without fid", func(t *testing.T) {
		db, mock := newMockDB(t, database.DriverSQLite)
		repo := NewProcessingLogRepository(db, zap.NewNop())

		file := models.NewError("a.pdf", "/nas/06-02-2025/a.pdf", models.ParsedFilename{},
			models.ErrorOutcome{Stage: models.StageMoved, Message: "disk full"})

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dms_processing_log")).
			WithArgs("/nas/06-02-2025/a.pdf", "a.pdf", sqlmock.AnyArg(), "error", nil, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, repo.Record(context.Background(), file))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exec failure is returned", func(t *testing.T) {
		db, mock := newMockDB(t, database.DriverSQLite)
		repo := NewProcessingLogRepository(db, zap.NewNop())

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dms_processing_log")).
			WillReturnError(errors.New("locked"))

		file := models.NewDuplicate("a.pdf", "/nas/a.pdf", models.ParsedFilename{}, models.DuplicateCheckResult{IsDuplicate: true})
		assert.Error(t, repo.Record(context.Background(), file))
	})
}

func TestProcessingLogRepository_ListBySource(t *testing.T) {
	db, mock := newMockDB(t, database.DriverSQLite)
	repo := NewProcessingLogRepository(db, zap.NewNop())

	at := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM dms_processing_log")).
		WithArgs("/nas/06-02-2025").
		WillReturnRows(sqlmock.NewRows([]string{"source_path", "filename", "processed_at", "status", "fid", "error_message"}).
			AddRow("/nas/06-02-2025", "a.pdf", at, "success", int64(1), nil).
			AddRow("/nas/06-02-2025", "b.pdf", at, "error", nil, "boom"))

	entries, err := repo.ListBySource(context.Background(), "/nas/06-02-2025")

	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.NotNil(t, entries[0].FID)
	assert.Equal(t, int64(1), *entries[0].FID)
	assert.Nil(t, entries[1].FID)
	assert.Equal(t, "boom", entries[1].ErrorMessage)
}

func TestProcessingLogRepository_StatusCounts(t *testing.T) {
	db, mock := newMockDB(t, database.DriverSQLite)
	repo := NewProcessingLogRepository(db, zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY status")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("success", 10).
			AddRow("queued", 3))

	counts, err := repo.StatusCounts(context.Background())

	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"success": 10, "queued": 3}, counts)
}
