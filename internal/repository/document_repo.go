package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/docman-backlog/internal/models"
	"github.com/garyjia/docman-backlog/pkg/database"
)

// Field rows are written against the docman node bundle in the undefined language
const (
	entityType     = "node"
	entityBundle   = "docman"
	entityLanguage = "und"
	defaultMime    = "application/pdf"
	systemUID      = 1
)

// DocumentRepository writes imported documents into the record store
type DocumentRepository struct {
	db     *database.DB
	now    func() time.Time
	logger *zap.Logger
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *database.DB, logger *zap.Logger) *DocumentRepository {
	return &DocumentRepository{
		db:     db,
		now:    time.Now,
		logger: logger,
	}
}

// InsertDocument writes the file row and its four field rows in one
// transaction and returns the new file ID
func (r *DocumentRepository) InsertDocument(ctx context.Context, doc models.DocumentSubmission) (int64, error) {
	mime := doc.MimeType
	if mime == "" {
		mime = defaultMime
	}

	var fid int64
	err := r.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		query := r.db.Rebind(`
			INSERT INTO file_managed (uid, filename, uri, filemime, filesize, status, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			RETURNING fid
		`)
		if err := tx.QueryRowContext(ctx, query,
			systemUID, doc.Filename, doc.FilePath, mime, doc.FileSize, 1, r.now().Unix(),
		).Scan(&fid); err != nil {
			return fmt.Errorf("failed to insert file_managed: %w", err)
		}

		fields := []struct {
			table  string
			column string
			value  string
		}{
			{"field_data_field_policy", "field_policy_value", doc.PolicyNumber},
			{"field_data_field_type", "field_type_value", doc.DocumentType},
			{"field_data_field_client", "field_client_value", doc.Client},
		}
		for _, f := range fields {
			query := r.db.Rebind(fmt.Sprintf(`
				INSERT INTO %s (entity_type, bundle, deleted, entity_id, revision_id, language, delta, %s)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, f.table, f.column))
			if _, err := tx.ExecContext(ctx, query,
				entityType, entityBundle, 0, fid, fid, entityLanguage, 0, f.value,
			); err != nil {
				return fmt.Errorf("failed to insert %s: %w", f.table, err)
			}
		}

		query = r.db.Rebind(`
			INSERT INTO field_data_field_ai_suggestion
				(entity_type, bundle, deleted, entity_id, revision_id, language, delta,
				 field_ai_suggestion_value, field_ai_suggestion_confidence, field_ai_thumbnail_path)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if _, err := tx.ExecContext(ctx, query,
			entityType, entityBundle, 0, fid, fid, entityLanguage, 0,
			doc.SuggestedType, doc.Confidence, doc.ThumbnailPath,
		); err != nil {
			return fmt.Errorf("failed to insert field_data_field_ai_suggestion: %w", err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to insert document",
			zap.String("filename", doc.Filename),
			zap.Error(err))
		return 0, err
	}

	r.logger.Debug("Document inserted",
		zap.String("filename", doc.Filename),
		zap.Int64("fid", fid))
	return fid, nil
}

// LookupClientByPolicy finds the client of any earlier document with the same
// policy number. Empty and "Unknown" clients are ignored.
func (r *DocumentRepository) LookupClientByPolicy(ctx context.Context, policy string) (string, bool, error) {
	query := r.db.Rebind(`
		SELECT c.field_client_value
		FROM field_data_field_policy p
		INNER JOIN field_data_field_client c
			ON c.entity_id = p.entity_id
			AND c.entity_type = p.entity_type
		WHERE p.field_policy_value = ?
			AND c.field_client_value IS NOT NULL
			AND c.field_client_value != ''
			AND c.field_client_value != ?
		LIMIT 1
	`)

	var client string
	err := r.db.QueryRowContext(ctx, query, policy, models.UnknownValue).Scan(&client)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up client: %w", err)
	}
	return client, true, nil
}

// FindByFilename implements duplicate.Catalog
func (r *DocumentRepository) FindByFilename(ctx context.Context, exact, lowered string) (int64, bool, error) {
	query := r.db.Rebind(`SELECT fid FROM file_managed WHERE filename = ? OR filename = ? LIMIT 1`)

	var fid int64
	err := r.db.QueryRowContext(ctx, query, exact, lowered).Scan(&fid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query file_managed: %w", err)
	}
	return fid, true, nil
}

// PendingReviewCount counts documents whose type is still one of the
// AUTOMATED review placeholders
func (r *DocumentRepository) PendingReviewCount(ctx context.Context) (int64, error) {
	query := r.db.Rebind(`
		SELECT COUNT(*) FROM field_data_field_type
		WHERE entity_type = ? AND field_type_value LIKE 'AUTOMATED%'
	`)

	var count int64
	if err := r.db.QueryRowContext(ctx, query, entityType).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending reviews: %w", err)
	}
	return count, nil
}
