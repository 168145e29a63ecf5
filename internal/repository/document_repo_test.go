package repository

import (
	"context"
	"database/sql"
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

func newMockDB(t *testing.T, driver string) (*database.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return database.Wrap(sqlDB, driver, zap.NewNop()), mock
}

func submission() models.DocumentSubmission {
	return models.DocumentSubmission{
		Filename:      "CA12135_endo_060225.pdf",
		PolicyNumber:  "CA12135",
		DocumentType:  "Endorsement",
		SuggestedType: "Endorsement",
		Confidence:    100,
		Client:        "Acme Cab Co",
		ThumbnailPath: "auto-1.png",
		FilePath:      "public://Documents/CA12135_endo_060225.pdf",
		FileSize:      2048,
	}
}

func TestDocumentRepository_InsertDocument(t *testing.T) {
	fixed := time.Unix(1717312345, 0)

	t.Run("writes all rows in one transaction", func(t *testing.T) {
		db, mock := newMockDB(t, database.DriverSQLite)
		repo := NewDocumentRepository(db, zap.NewNop())
		repo.now = func() time.Time { return fixed }

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO file_managed")).
			WithArgs(1, "CA12135_endo_060225.pdf", "public://Documents/CA12135_endo_060225.pdf", "application/pdf", int64(2048), 1, fixed.Unix()).
			WillReturnRows(sqlmock.NewRows([]string{"fid"}).AddRow(42))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO field_data_field_policy")).
			WithArgs("node", "docman", 0, int64(42), int64(42), "und", 0, "CA12135").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO field_data_field_type")).
			WithArgs("node", "docman", 0, int64(42), int64(42), "und", 0, "Endorsement").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO field_data_field_client")).
			WithArgs("node", "docman", 0, int64(42), int64(42), "und", 0, "Acme Cab Co").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO field_data_field_ai_suggestion")).
			WithArgs("node", "docman", 0, int64(42), int64(42), "und", 0, "Endorsement", 100, "auto-1.png").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		fid, err := repo.InsertDocument(context.Background(), submission())

		require.NoError(t, err)
		assert.Equal(t, int64(42), fid)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("field failure rolls back", func(t *testing.T) {
		db, mock := newMockDB(t, database.DriverSQLite)
		repo := NewDocumentRepository(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO file_managed")).
			WillReturnRows(sqlmock.NewRows([]string{"fid"}).AddRow(7))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO field_data_field_policy")).
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		fid, err := repo.InsertDocument(context.Background(), submission())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "field_data_field_policy")
		assert.Zero(t, fid)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("postgres placeholders", func(t *testing.T) {
		db, mock := newMockDB(t, database.DriverPostgres)
		repo := NewDocumentRepository(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("VALUES ($1, $2, $3, $4, $5, $6, $7)")).
			WillReturnError(errors.New("connection refused"))
		mock.ExpectRollback()

		_, err := repo.InsertDocument(context.Background(), submission())

		require.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDocumentRepository_LookupClientByPolicy(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db, mock := newMockDB(t, database.DriverSQLite)
		repo := NewDocumentRepository(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("SELECT c.field_client_value")).
			WithArgs("CA12135", "Unknown").
			WillReturnRows(sqlmock.NewRows([]string{"field_client_value"}).AddRow("Acme Cab Co"))

		client, ok, err := repo.LookupClientByPolicy(context.Background(), "CA12135")

		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "Acme Cab Co", client)
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := newMockDB(t, database.DriverSQLite)
		repo := NewDocumentRepository(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("SELECT c.field_client_value")).
			WillReturnError(sql.ErrNoRows)

		client, ok, err := repo.LookupClientByPolicy(context.Background(), "CA99999")

		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, client)
	})

	t.Run("query error", func(t *testing.T) {
		db, mock := newMockDB(t, database.DriverSQLite)
		repo := NewDocumentRepository(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("SELECT c.field_client_value")).
			WillReturnError(errors.New("timeout"))

		_, ok, err := repo.LookupClientByPolicy(context.Background(), "CA12135")

		assert.Error(t, err)
		assert.False(t, ok)
	})
}

func TestDocumentRepository_FindByFilename(t *testing.T) {
	db, mock := newMockDB(t, database.DriverSQLite)
	repo := NewDocumentRepository(db, zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT fid FROM file_managed WHERE filename = ? OR filename = ?")).
		WithArgs("A.PDF", "a.pdf").
		WillReturnRows(sqlmock.NewRows([]string{"fid"}).AddRow(9))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT fid FROM file_managed")).
		WithArgs("b.pdf", "b.pdf").
		WillReturnError(sql.ErrNoRows)

	fid, found, err := repo.FindByFilename(context.Background(), "A.PDF", "a.pdf")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(9), fid)

	_, found, err = repo.FindByFilename(context.Background(), "b.pdf", "b.pdf")
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepository_PendingReviewCount(t *testing.T) {
	db, mock := newMockDB(t, database.DriverSQLite)
	repo := NewDocumentRepository(db, zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta("LIKE 'AUTOMATED%'")).
		WithArgs("node").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	n, err := repo.PendingReviewCount(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}
