package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/syncflow/server/internal/models"
)

// DeviceRepository implements DeviceRepo for PostgreSQL/SQLite
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository creates a new DeviceRepository
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

func (r *DeviceRepository) GetByID(ctx context.Context, id string) (*models.Device, error) {
	query := `SELECT id, user_id, device_name, platform, push_token, paired_at, last_seen_at
			  FROM devices WHERE id = $1`

	var device models.Device
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&device.ID, &device.UserID, &device.Name, &device.Platform,
		&device.PushToken, &device.PairedAt, &device.LastSeenAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *DeviceRepository) GetAllForUser(ctx context.Context, userID string) ([]*models.Device, error) {
	query := `SELECT id, user_id, device_name, platform, push_token, paired_at, last_seen_at
			  FROM devices WHERE user_id = $1 ORDER BY last_seen_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		var device models.Device
		if err := rows.Scan(
			&device.ID, &device.UserID, &device.Name, &device.Platform,
			&device.PushToken, &device.PairedAt, &device.LastSeenAt,
		); err != nil {
			return nil, err
		}
		devices = append(devices, &device)
	}
	return devices, rows.Err()
}

func (r *DeviceRepository) Create(ctx context.Context, device *models.Device) error {
	query := `INSERT INTO devices (id, user_id, device_name, platform, push_token, paired_at, last_seen_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		device.ID, device.UserID, device.Name, device.Platform,
		device.PushToken, device.PairedAt, device.LastSeenAt,
	)
	return err
}

func (r *DeviceRepository) Update(ctx context.Context, device *models.Device) error {
	query := `UPDATE devices SET device_name = $1, push_token = $2, last_seen_at = $3
			  WHERE id = $4`

	_, err := r.db.ExecContext(ctx, query,
		device.Name, device.PushToken, device.LastSeenAt, device.ID,
	)
	return err
}

func (r *DeviceRepository) UpdateLastSeen(ctx context.Context, id string) error {
	query := `UPDATE devices SET last_seen_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	return err
}

func (r *DeviceRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = $1", id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *DeviceRepository) GetCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM devices").Scan(&count)
	return count, err
}
