package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/docman-backlog/internal/duplicate"
	"github.com/garyjia/docman-backlog/pkg/database"
)

// ReservationRepository implements duplicate.Reserver on the
// dms_import_reservation primary key. Rows older than the TTL are stale
// (their run died before releasing them) and are taken over.
type ReservationRepository struct {
	db     *database.DB
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewReservationRepository creates a new reservation repository
func NewReservationRepository(db *database.DB, ttl time.Duration, logger *zap.Logger) *ReservationRepository {
	return &ReservationRepository{
		db:     db,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Reserve inserts the filename key. A live row held by another run means
// the file is taken; a row past the TTL is overwritten with this run.
func (r *ReservationRepository) Reserve(ctx context.Context, filename, runID string) (bool, error) {
	query := r.db.Rebind(`
		INSERT INTO dms_import_reservation (filename_key, run_id, reserved_at)
		VALUES (?, ?, ?)
		ON CONFLICT (filename_key) DO UPDATE
		SET run_id = excluded.run_id, reserved_at = excluded.reserved_at
		WHERE dms_import_reservation.reserved_at < ?
	`)

	now := r.now().UTC().Truncate(time.Second)
	// zero cutoff: without a TTL a reservation never goes stale
	var cutoff time.Time
	if r.ttl > 0 {
		cutoff = now.Add(-r.ttl)
	}

	result, err := r.db.ExecContext(ctx, query, duplicate.ReservationKey(filename), runID, now, cutoff)
	if err != nil {
		return false, fmt.Errorf("failed to reserve %s: %w", filename, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read reservation result: %w", err)
	}
	if affected == 0 {
		r.logger.Info("Filename already reserved by another run", zap.String("filename", filename))
		return false, nil
	}
	return true, nil
}

// Release deletes the reservation. Imported files are guarded by the
// catalog afterwards; failed ones may be retried by a later run.
func (r *ReservationRepository) Release(ctx context.Context, filename string) error {
	query := r.db.Rebind(`DELETE FROM dms_import_reservation WHERE filename_key = ?`)
	if _, err := r.db.ExecContext(ctx, query, duplicate.ReservationKey(filename)); err != nil {
		return fmt.Errorf("failed to release %s: %w", filename, err)
	}
	return nil
}
