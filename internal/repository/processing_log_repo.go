package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/docman-backlog/internal/models"
	"github.com/garyjia/docman-backlog/pkg/database"
)

// ProcessingLogRepository records the last outcome of every source file
type ProcessingLogRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewProcessingLogRepository creates a new processing log repository
func NewProcessingLogRepository(db *database.DB, logger *zap.Logger) *ProcessingLogRepository {
	return &ProcessingLogRepository{
		db:     db,
		logger: logger,
	}
}

// Record upserts the outcome of one file keyed by (source_path, filename)
func (r *ProcessingLogRepository) Record(ctx context.Context, file models.ProcessedFile) error {
	query := r.db.Rebind(`
		INSERT INTO dms_processing_log (source_path, filename, processed_at, status, fid, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_path, filename) DO UPDATE SET
			processed_at = excluded.processed_at,
			status = excluded.status,
			fid = excluded.fid,
			error_message = excluded.error_message
	`)

	var fid sql.NullInt64
	if v, ok := file.FID(); ok {
		fid = sql.NullInt64{Int64: v, Valid: true}
	}
	var errMsg sql.NullString
	if text := file.ErrorText(); text != "" {
		errMsg = sql.NullString{String: text, Valid: true}
	}

	if _, err := r.db.ExecContext(ctx, query,
		file.SourcePath, file.Filename, time.Now().UTC(), string(file.Status), fid, errMsg,
	); err != nil {
		return fmt.Errorf("failed to record processing log: %w", err)
	}
	return nil
}

// ProcessingLogEntry is one row of dms_processing_log
type ProcessingLogEntry struct {
	SourcePath   string    `json:"sourcePath"`
	Filename     string    `json:"filename"`
	ProcessedAt  time.Time `json:"processedAt"`
	Status       string    `json:"status"`
	FID          *int64    `json:"fid,omitempty"`
	ErrorMessage string    `json:"error,omitempty"`
}

// ListBySource returns the recorded outcomes of one daily folder
func (r *ProcessingLogRepository) ListBySource(ctx context.Context, sourcePath string) ([]ProcessingLogEntry, error) {
	query := r.db.Rebind(`
		SELECT source_path, filename, processed_at, status, fid, error_message
		FROM dms_processing_log
		WHERE source_path = ?
		ORDER BY filename
	`)

	rows, err := r.db.QueryContext(ctx, query, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to query processing log: %w", err)
	}
	defer rows.Close()

	var entries []ProcessingLogEntry
	for rows.Next() {
		var (
			e      ProcessingLogEntry
			fid    sql.NullInt64
			errMsg sql.NullString
		)
		if err := rows.Scan(&e.SourcePath, &e.Filename, &e.ProcessedAt, &e.Status, &fid, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan processing log: %w", err)
		}
		if fid.Valid {
			v := fid.Int64
			e.FID = &v
		}
		e.ErrorMessage = errMsg.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate processing log: %w", err)
	}
	return entries, nil
}

// StatusCounts returns the number of recorded files per status
func (r *ProcessingLogRepository) StatusCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM dms_processing_log GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count processing log: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
