package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/syncflow/server/internal/models"
)

// UsageRepository implements UsageRepo for PostgreSQL/SQLite. Upload bytes
// accumulate per YYYYMM period; storage bytes carry forward across periods
// as a running total.
type UsageRepository struct {
	db *sql.DB
}

// NewUsageRepository creates a new UsageRepository
func NewUsageRepository(db *sql.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Increment adds accepted upload bytes to the period. The first write of a
// new period seeds storage from the previous period's total, which is what
// resets uploads monthly without losing the storage figure.
func (r *UsageRepository) Increment(ctx context.Context, userID, periodKey string, bytes int64) error {
	query := `INSERT INTO usage_records (user_id, period_key, upload_bytes, storage_bytes, updated_at)
			  VALUES ($1, $2, $3,
				$3 + COALESCE((SELECT u.storage_bytes FROM usage_records u
							   WHERE u.user_id = $1 AND u.period_key < $2
							   ORDER BY u.period_key DESC LIMIT 1), 0),
				$4)
			  ON CONFLICT (user_id, period_key) DO UPDATE SET
				upload_bytes = usage_records.upload_bytes + EXCLUDED.upload_bytes,
				storage_bytes = usage_records.storage_bytes + EXCLUDED.upload_bytes,
				updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query, userID, periodKey, bytes, time.Now().UTC())
	return err
}

func (r *UsageRepository) GetByPeriod(ctx context.Context, userID, periodKey string) (*models.UsageRecord, error) {
	query := `SELECT user_id, period_key, upload_bytes, storage_bytes, updated_at
			  FROM usage_records WHERE user_id = $1 AND period_key = $2`

	var record models.UsageRecord
	err := r.db.QueryRowContext(ctx, query, userID, periodKey).Scan(
		&record.UserID, &record.PeriodKey, &record.UploadBytes,
		&record.StorageBytes, &record.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Reset zeroes a period's counters. Storage resets with it; the next
// Increment rebuilds the running total from whatever the admin left behind.
func (r *UsageRepository) Reset(ctx context.Context, userID, periodKey string) error {
	query := `UPDATE usage_records SET upload_bytes = 0, storage_bytes = 0, updated_at = $1
			  WHERE user_id = $2 AND period_key = $3`

	_, err := r.db.ExecContext(ctx, query, time.Now().UTC(), userID, periodKey)
	return err
}

// GetLatest returns the most recent accounting row, which carries the
// current storage total even when the present period has no uploads yet.
func (r *UsageRepository) GetLatest(ctx context.Context, userID string) (*models.UsageRecord, error) {
	query := `SELECT user_id, period_key, upload_bytes, storage_bytes, updated_at
			  FROM usage_records WHERE user_id = $1
			  ORDER BY period_key DESC LIMIT 1`

	var record models.UsageRecord
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&record.UserID, &record.PeriodKey, &record.UploadBytes,
		&record.StorageBytes, &record.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}
