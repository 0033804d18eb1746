package repository

import (
	"context"
	"database/sql"
	"time"
)

// RevokedTokenRepository implements RevokedTokenRepo for PostgreSQL/SQLite.
// Rows only need to live as long as the refresh token they revoke; the
// janitor prunes the rest.
type RevokedTokenRepository struct {
	db *sql.DB
}

// NewRevokedTokenRepository creates a new RevokedTokenRepository
func NewRevokedTokenRepository(db *sql.DB) *RevokedTokenRepository {
	return &RevokedTokenRepository{db: db}
}

func (r *RevokedTokenRepository) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	query := `INSERT INTO revoked_tokens (jti, expires_at) VALUES ($1, $2)
			  ON CONFLICT (jti) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query, jti, expiresAt)
	return err
}

func (r *RevokedTokenRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM revoked_tokens WHERE jti = $1", jti,
	).Scan(&count)
	return count > 0, err
}

func (r *RevokedTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM revoked_tokens WHERE expires_at < $1", now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
