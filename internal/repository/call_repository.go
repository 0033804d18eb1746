package repository

import (
	"context"
	"database/sql"

	"github.com/syncflow/server/internal/models"
)

// CallRepository implements CallRepo for PostgreSQL/SQLite. Call history is
// append-only: entries never change once written, so the only dedup concern
// is replayed batches.
type CallRepository struct {
	db *sql.DB
}

// NewCallRepository creates a new CallRepository
func NewCallRepository(db *sql.DB) *CallRepository {
	return &CallRepository{db: db}
}

// Add inserts a call entry, ignoring ids the server has already seen.
// Returns whether a new row was written.
func (r *CallRepository) Add(ctx context.Context, call *models.CallHistoryEntry) (bool, error) {
	query := `INSERT INTO calls (` + callColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)
			  ON CONFLICT (user_id, id) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		call.ID, call.UserID, call.Number, call.Type,
		call.Duration, call.Timestamp, call.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

const callColumns = `id, user_id, number, call_type, duration, timestamp_ms, created_at`

// ListSince returns calls with a timestamp strictly after the cursor,
// oldest first.
func (r *CallRepository) ListSince(ctx context.Context, userID string, cursor int64, limit int) ([]*models.CallHistoryEntry, error) {
	query := `SELECT ` + callColumns + ` FROM calls
			  WHERE user_id = $1 AND timestamp_ms > $2
			  ORDER BY timestamp_ms ASC, id ASC LIMIT $3`

	return r.list(ctx, query, userID, cursor, limit)
}

// ListNewest returns the most recent calls for the initial window, oldest
// first.
func (r *CallRepository) ListNewest(ctx context.Context, userID string, limit int) ([]*models.CallHistoryEntry, error) {
	query := `SELECT ` + callColumns + ` FROM (
				SELECT ` + callColumns + ` FROM calls
				WHERE user_id = $1
				ORDER BY timestamp_ms DESC, id DESC LIMIT $2
			  ) AS recent ORDER BY timestamp_ms ASC, id ASC`

	return r.list(ctx, query, userID, limit)
}

// ListBefore pages backward through call history, newest first.
func (r *CallRepository) ListBefore(ctx context.Context, userID string, before int64, limit int) ([]*models.CallHistoryEntry, error) {
	query := `SELECT ` + callColumns + ` FROM calls
			  WHERE user_id = $1 AND timestamp_ms < $2
			  ORDER BY timestamp_ms DESC, id DESC LIMIT $3`

	return r.list(ctx, query, userID, before, limit)
}

func (r *CallRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.CallHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []*models.CallHistoryEntry
	for rows.Next() {
		var call models.CallHistoryEntry
		if err := rows.Scan(
			&call.ID, &call.UserID, &call.Number, &call.Type,
			&call.Duration, &call.Timestamp, &call.CreatedAt,
		); err != nil {
			return nil, err
		}
		calls = append(calls, &call)
	}
	return calls, rows.Err()
}

func (r *CallRepository) GetCountForUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM calls WHERE user_id = $1", userID,
	).Scan(&count)
	return count, err
}
