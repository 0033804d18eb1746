package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/syncflow/server/internal/models"
)

// UserRepository implements UserRepo for PostgreSQL/SQLite
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT id, plan, trial_started_at, is_temporary, is_admin, created_at, is_active
			  FROM users WHERE id = $1`

	var user models.User
	var trialStartedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Plan, &trialStartedAt,
		&user.IsTemporary, &user.IsAdmin, &user.CreatedAt, &user.IsActive,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if trialStartedAt.Valid {
		t := trialStartedAt.Time
		user.TrialStartedAt = &t
	}
	return &user, nil
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `INSERT INTO users (id, plan, trial_started_at, is_temporary, is_admin, created_at, is_active)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Plan, user.TrialStartedAt,
		user.IsTemporary, user.IsAdmin, user.CreatedAt, user.IsActive,
	)
	return err
}

func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	query := `UPDATE users SET plan = $1, trial_started_at = $2, is_temporary = $3, is_admin = $4, is_active = $5
			  WHERE id = $6`

	_, err := r.db.ExecContext(ctx, query,
		user.Plan, user.TrialStartedAt, user.IsTemporary, user.IsAdmin, user.IsActive, user.ID,
	)
	return err
}

func (r *UserRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *UserRepository) GetCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE is_temporary = false").Scan(&count)
	return count, err
}

// DeleteTemporaryBefore removes pairing placeholder accounts that were never
// redeemed. Cascades clear any devices they accumulated.
func (r *UserRepository) DeleteTemporaryBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM users WHERE is_temporary = true AND created_at < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
