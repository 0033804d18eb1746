package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/syncflow/server/internal/models"
)

// DeviceKeyRepository implements DeviceKeyRepo and SyncGroupKeyRepo for
// PostgreSQL/SQLite. Only public key material lives here; private halves
// never reach the server unwrapped.
type DeviceKeyRepository struct {
	db *sql.DB
}

// NewDeviceKeyRepository creates a new DeviceKeyRepository
func NewDeviceKeyRepository(db *sql.DB) *DeviceKeyRepository {
	return &DeviceKeyRepository{db: db}
}

// Upsert publishes a device key. Re-publishing rotates: the previous key id
// for the device is replaced.
func (r *DeviceKeyRepository) Upsert(ctx context.Context, key *models.DeviceKey) error {
	query := `INSERT INTO device_keys (device_id, user_id, key_id, public_key, created_at)
			  VALUES ($1, $2, $3, $4, $5)
			  ON CONFLICT (device_id) DO UPDATE SET
				key_id = EXCLUDED.key_id,
				public_key = EXCLUDED.public_key,
				created_at = EXCLUDED.created_at`

	_, err := r.db.ExecContext(ctx, query,
		key.DeviceID, key.UserID, key.KeyID, key.PublicKey, key.CreatedAt,
	)
	return err
}

func (r *DeviceKeyRepository) GetByDeviceID(ctx context.Context, deviceID string) (*models.DeviceKey, error) {
	query := `SELECT device_id, user_id, key_id, public_key, created_at
			  FROM device_keys WHERE device_id = $1`

	var key models.DeviceKey
	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(
		&key.DeviceID, &key.UserID, &key.KeyID, &key.PublicKey, &key.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *DeviceKeyRepository) GetAllForUser(ctx context.Context, userID string) ([]*models.DeviceKey, error) {
	query := `SELECT device_id, user_id, key_id, public_key, created_at
			  FROM device_keys WHERE user_id = $1 ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*models.DeviceKey
	for rows.Next() {
		var key models.DeviceKey
		if err := rows.Scan(
			&key.DeviceID, &key.UserID, &key.KeyID, &key.PublicKey, &key.CreatedAt,
		); err != nil {
			return nil, err
		}
		keys = append(keys, &key)
	}
	return keys, rows.Err()
}

func (r *DeviceKeyRepository) DeleteByDeviceID(ctx context.Context, deviceID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM device_keys WHERE device_id = $1", deviceID)
	return err
}

// SyncGroupKeyRepository implements SyncGroupKeyRepo for PostgreSQL/SQLite
type SyncGroupKeyRepository struct {
	db *sql.DB
}

// NewSyncGroupKeyRepository creates a new SyncGroupKeyRepository
func NewSyncGroupKeyRepository(db *sql.DB) *SyncGroupKeyRepository {
	return &SyncGroupKeyRepository{db: db}
}

func (r *SyncGroupKeyRepository) GetForUser(ctx context.Context, userID string) (*models.SyncGroupKey, error) {
	query := `SELECT user_id, key_id, public_key, version, created_at
			  FROM sync_group_keys WHERE user_id = $1`

	var key models.SyncGroupKey
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&key.UserID, &key.KeyID, &key.PublicKey, &key.Version, &key.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// CreateOrRotate installs the user's group key, bumping the version when one
// already exists.
func (r *SyncGroupKeyRepository) CreateOrRotate(ctx context.Context, userID, keyID, publicKey string) (*models.SyncGroupKey, error) {
	query := `INSERT INTO sync_group_keys (user_id, key_id, public_key, version, created_at)
			  VALUES ($1, $2, $3, 1, $4)
			  ON CONFLICT (user_id) DO UPDATE SET
				key_id = EXCLUDED.key_id,
				public_key = EXCLUDED.public_key,
				version = sync_group_keys.version + 1,
				created_at = EXCLUDED.created_at`

	if _, err := r.db.ExecContext(ctx, query, userID, keyID, publicKey, time.Now().UTC()); err != nil {
		return nil, err
	}
	return r.GetForUser(ctx, userID)
}

// KeySyncRepository implements KeySyncRepo for PostgreSQL/SQLite
type KeySyncRepository struct {
	db *sql.DB
}

// NewKeySyncRepository creates a new KeySyncRepository
func NewKeySyncRepository(db *sql.DB) *KeySyncRepository {
	return &KeySyncRepository{db: db}
}

// Put stores a wrapped group key for the requesting device, replacing any
// earlier answer that was never claimed.
func (r *KeySyncRepository) Put(ctx context.Context, resp *models.KeySyncResponse) error {
	query := `INSERT INTO key_sync_responses (user_id, requester_device_id, responder_device_id, group_key_id, wrapped_group_key, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  ON CONFLICT (user_id, requester_device_id) DO UPDATE SET
				responder_device_id = EXCLUDED.responder_device_id,
				group_key_id = EXCLUDED.group_key_id,
				wrapped_group_key = EXCLUDED.wrapped_group_key,
				created_at = EXCLUDED.created_at`

	_, err := r.db.ExecContext(ctx, query,
		resp.UserID, resp.RequesterDeviceID, resp.ResponderDeviceID,
		resp.GroupKeyID, resp.WrappedGroupKey, resp.CreatedAt,
	)
	return err
}

// Claim reads and removes the stored answer for a requester. Nil when no
// device has responded yet.
func (r *KeySyncRepository) Claim(ctx context.Context, userID, requesterDeviceID string) (*models.KeySyncResponse, error) {
	query := `SELECT user_id, requester_device_id, responder_device_id, group_key_id, wrapped_group_key, created_at
			  FROM key_sync_responses WHERE user_id = $1 AND requester_device_id = $2`

	var resp models.KeySyncResponse
	err := r.db.QueryRowContext(ctx, query, userID, requesterDeviceID).Scan(
		&resp.UserID, &resp.RequesterDeviceID, &resp.ResponderDeviceID,
		&resp.GroupKeyID, &resp.WrappedGroupKey, &resp.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := r.db.ExecContext(ctx,
		"DELETE FROM key_sync_responses WHERE user_id = $1 AND requester_device_id = $2",
		userID, requesterDeviceID,
	); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteBefore clears unclaimed answers older than the cutoff.
func (r *KeySyncRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM key_sync_responses WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
