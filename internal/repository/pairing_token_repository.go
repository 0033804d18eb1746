package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/syncflow/server/internal/models"
)

// PairingTokenRepository implements PairingTokenRepo for PostgreSQL/SQLite.
// Status transitions are single conditional UPDATEs so that concurrent
// approvals or redemptions resolve to exactly one winner.
type PairingTokenRepository struct {
	db *sql.DB
}

// NewPairingTokenRepository creates a new PairingTokenRepository
func NewPairingTokenRepository(db *sql.DB) *PairingTokenRepository {
	return &PairingTokenRepository{db: db}
}

func (r *PairingTokenRepository) Create(ctx context.Context, token *models.PairingToken) error {
	query := `INSERT INTO pairing_tokens (id, token_hash, device_name, platform, status, temp_user_id, created_at, expires_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		token.ID, token.TokenHash, token.DeviceName, token.Platform,
		token.Status, token.TempUserID, token.CreatedAt, token.ExpiresAt,
	)
	return err
}

func (r *PairingTokenRepository) GetByID(ctx context.Context, id string) (*models.PairingToken, error) {
	return r.getOne(ctx, "id", id)
}

func (r *PairingTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.PairingToken, error) {
	return r.getOne(ctx, "token_hash", tokenHash)
}

func (r *PairingTokenRepository) getOne(ctx context.Context, column, value string) (*models.PairingToken, error) {
	query := `SELECT id, token_hash, device_name, platform, status, temp_user_id, user_id, device_id, created_at, expires_at, responded_at
			  FROM pairing_tokens WHERE ` + column + ` = $1`

	var token models.PairingToken
	var userID, deviceID sql.NullString
	var respondedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, value).Scan(
		&token.ID, &token.TokenHash, &token.DeviceName, &token.Platform,
		&token.Status, &token.TempUserID, &userID, &deviceID,
		&token.CreatedAt, &token.ExpiresAt, &respondedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		token.UserID = userID.String
	}
	if deviceID.Valid {
		token.DeviceID = deviceID.String
	}
	if respondedAt.Valid {
		t := respondedAt.Time
		token.RespondedAt = &t
	}
	return &token, nil
}

// Approve moves a live pending token to approved and binds the approver.
// Returns false when the token was already resolved or expired.
func (r *PairingTokenRepository) Approve(ctx context.Context, tokenHash, userID, deviceID string) (bool, error) {
	now := time.Now().UTC()
	query := `UPDATE pairing_tokens
			  SET status = $1, user_id = $2, device_id = $3, responded_at = $4
			  WHERE token_hash = $5 AND status = $6 AND expires_at > $7`

	result, err := r.db.ExecContext(ctx, query,
		models.PairingStatusApproved, userID, deviceID, now,
		tokenHash, models.PairingStatusPending, now,
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// Reject moves a live pending token to rejected.
func (r *PairingTokenRepository) Reject(ctx context.Context, tokenHash string) (bool, error) {
	now := time.Now().UTC()
	query := `UPDATE pairing_tokens
			  SET status = $1, responded_at = $2
			  WHERE token_hash = $3 AND status = $4 AND expires_at > $5`

	result, err := r.db.ExecContext(ctx, query,
		models.PairingStatusRejected, now,
		tokenHash, models.PairingStatusPending, now,
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// Redeem claims an approved token inside its redeem window. Exactly one
// caller can win; everyone else sees false.
func (r *PairingTokenRepository) Redeem(ctx context.Context, tokenHash string) (bool, error) {
	now := time.Now().UTC()
	query := `UPDATE pairing_tokens
			  SET status = $1
			  WHERE token_hash = $2 AND status = $3 AND responded_at > $4`

	result, err := r.db.ExecContext(ctx, query,
		models.PairingStatusRedeemed,
		tokenHash, models.PairingStatusApproved, now.Add(-models.RedeemDeadline),
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// ExpireStale marks pending tokens past their TTL and approved tokens past
// the redeem window. Run by the janitor.
func (r *PairingTokenRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE pairing_tokens SET status = $1
			  WHERE (status = $2 AND expires_at < $3)
			     OR (status = $4 AND responded_at < $5)`

	result, err := r.db.ExecContext(ctx, query,
		models.PairingStatusExpired,
		models.PairingStatusPending, now,
		models.PairingStatusApproved, now.Add(-models.RedeemDeadline),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteResolvedBefore clears terminal rows older than the cutoff.
func (r *PairingTokenRepository) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM pairing_tokens
			  WHERE status IN ($1, $2, $3) AND created_at < $4`

	result, err := r.db.ExecContext(ctx, query,
		models.PairingStatusRedeemed, models.PairingStatusRejected, models.PairingStatusExpired,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
