package repository

import (
	"context"
	"database/sql"

	"github.com/syncflow/server/internal/models"
)

// SyncCursorRepository implements SyncCursorRepo for PostgreSQL/SQLite
type SyncCursorRepository struct {
	db *sql.DB
}

// NewSyncCursorRepository creates a new SyncCursorRepository
func NewSyncCursorRepository(db *sql.DB) *SyncCursorRepository {
	return &SyncCursorRepository{db: db}
}

func (r *SyncCursorRepository) Get(ctx context.Context, userID, deviceID string, entity models.EntityKind) (*models.SyncCursor, error) {
	query := `SELECT user_id, device_id, entity, cursor, updated_at
			  FROM sync_cursors WHERE user_id = $1 AND device_id = $2 AND entity = $3`

	var cursor models.SyncCursor
	err := r.db.QueryRowContext(ctx, query, userID, deviceID, entity).Scan(
		&cursor.UserID, &cursor.DeviceID, &cursor.Entity, &cursor.Cursor, &cursor.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cursor, nil
}

// Advance moves a cursor forward, refusing to rewind. Returns false when the
// stored cursor is already at or past the confirmed position.
func (r *SyncCursorRepository) Advance(ctx context.Context, cursor *models.SyncCursor) (bool, error) {
	query := `INSERT INTO sync_cursors (user_id, device_id, entity, cursor, updated_at)
			  VALUES ($1, $2, $3, $4, $5)
			  ON CONFLICT (user_id, device_id, entity) DO UPDATE SET
				cursor = EXCLUDED.cursor,
				updated_at = EXCLUDED.updated_at
			  WHERE EXCLUDED.cursor > sync_cursors.cursor`

	result, err := r.db.ExecContext(ctx, query,
		cursor.UserID, cursor.DeviceID, cursor.Entity, cursor.Cursor, cursor.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// Set writes a cursor unconditionally. Only the forced rewind path uses it.
func (r *SyncCursorRepository) Set(ctx context.Context, cursor *models.SyncCursor) error {
	query := `INSERT INTO sync_cursors (user_id, device_id, entity, cursor, updated_at)
			  VALUES ($1, $2, $3, $4, $5)
			  ON CONFLICT (user_id, device_id, entity) DO UPDATE SET
				cursor = EXCLUDED.cursor,
				updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		cursor.UserID, cursor.DeviceID, cursor.Entity, cursor.Cursor, cursor.UpdatedAt,
	)
	return err
}

// DeleteForDevice clears all cursors for an unpaired device.
func (r *SyncCursorRepository) DeleteForDevice(ctx context.Context, userID, deviceID string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM sync_cursors WHERE user_id = $1 AND device_id = $2",
		userID, deviceID,
	)
	return err
}
