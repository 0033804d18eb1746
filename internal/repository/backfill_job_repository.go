package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/syncflow/server/internal/models"
)

// BackfillJobRepository implements BackfillJobRepo for PostgreSQL/SQLite
type BackfillJobRepository struct {
	db *sql.DB
}

// NewBackfillJobRepository creates a new BackfillJobRepository
func NewBackfillJobRepository(db *sql.DB) *BackfillJobRepository {
	return &BackfillJobRepository{db: db}
}

const backfillColumns = `id, user_id, device_id, target_key_id, status, scanned, updated, skipped, checkpoint, error, created_at, updated_at`

func scanBackfillJob(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.BackfillJob, error) {
	var job models.BackfillJob
	err := scanner.Scan(
		&job.ID, &job.UserID, &job.DeviceID, &job.TargetKeyID, &job.Status,
		&job.Scanned, &job.Updated, &job.Skipped, &job.Checkpoint, &job.Error,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *BackfillJobRepository) Create(ctx context.Context, job *models.BackfillJob) error {
	query := `INSERT INTO backfill_jobs (` + backfillColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.UserID, job.DeviceID, job.TargetKeyID, job.Status,
		job.Scanned, job.Updated, job.Skipped, job.Checkpoint, job.Error,
		job.CreatedAt, job.UpdatedAt,
	)
	return err
}

func (r *BackfillJobRepository) GetByID(ctx context.Context, userID, id string) (*models.BackfillJob, error) {
	query := `SELECT ` + backfillColumns + ` FROM backfill_jobs WHERE user_id = $1 AND id = $2`

	job, err := scanBackfillJob(r.db.QueryRowContext(ctx, query, userID, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetActiveForUser returns the running job for a user, if any. At most one
// job runs per user at a time.
func (r *BackfillJobRepository) GetActiveForUser(ctx context.Context, userID string) (*models.BackfillJob, error) {
	query := `SELECT ` + backfillColumns + ` FROM backfill_jobs
			  WHERE user_id = $1 AND status IN ($2, $3)
			  ORDER BY created_at DESC LIMIT 1`

	job, err := scanBackfillJob(r.db.QueryRowContext(ctx, query,
		userID, models.BackfillStatusPending, models.BackfillStatusProcessing))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetLatestForKey returns the newest job targeting a key, used to resume
// from a failed run's checkpoint.
func (r *BackfillJobRepository) GetLatestForKey(ctx context.Context, userID, targetKeyID string) (*models.BackfillJob, error) {
	query := `SELECT ` + backfillColumns + ` FROM backfill_jobs
			  WHERE user_id = $1 AND target_key_id = $2
			  ORDER BY created_at DESC LIMIT 1`

	job, err := scanBackfillJob(r.db.QueryRowContext(ctx, query, userID, targetKeyID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *BackfillJobRepository) Update(ctx context.Context, job *models.BackfillJob) error {
	query := `UPDATE backfill_jobs
			  SET status = $1, scanned = $2, updated = $3, skipped = $4, checkpoint = $5, error = $6, updated_at = $7
			  WHERE id = $8`

	_, err := r.db.ExecContext(ctx, query,
		job.Status, job.Scanned, job.Updated, job.Skipped, job.Checkpoint,
		job.Error, job.UpdatedAt, job.ID,
	)
	return err
}

// FailStale errors out jobs that stopped making progress, typically after a
// server restart orphaned them. Their checkpoint survives for resume.
func (r *BackfillJobRepository) FailStale(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	query := `UPDATE backfill_jobs SET status = $1, error = $2, updated_at = $3
			  WHERE status IN ($4, $5) AND updated_at < $6`

	result, err := r.db.ExecContext(ctx, query,
		models.BackfillStatusError, reason, time.Now().UTC(),
		models.BackfillStatusPending, models.BackfillStatusProcessing, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
