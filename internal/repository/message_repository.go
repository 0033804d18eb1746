package repository

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/syncflow/server/internal/models"
)

// MessageRepository implements MessageRepo for PostgreSQL/SQLite
type MessageRepository struct {
	db *sql.DB
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, user_id, thread_id, address, body, encrypted_body, direction, is_read, timestamp_ms, deleted, origin_device_id, created_at`

func scanMessage(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.Message, error) {
	var msg models.Message
	err := scanner.Scan(
		&msg.ID, &msg.UserID, &msg.ThreadID, &msg.Address,
		&msg.Body, &msg.EncryptedBody, &msg.Direction, &msg.Read,
		&msg.Timestamp, &msg.Deleted, &msg.OriginDeviceID, &msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, userID, id string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE user_id = $1 AND id = $2`

	msg, err := scanMessage(r.db.QueryRowContext(ctx, query, userID, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	envelopes, err := r.EnvelopesFor(ctx, userID, []string{id}, nil)
	if err != nil {
		return nil, err
	}
	msg.Envelopes = envelopes[id]
	return msg, nil
}

// Upsert writes a message with last-write-wins semantics: a new id inserts,
// a known id is replaced only when the incoming timestamp is strictly newer;
// ties keep the first write. Replayed batches therefore report skipped
// instead of synced. Envelopes are replaced together with the row.
func (r *MessageRepository) Upsert(ctx context.Context, msg *models.Message) (UpsertOutcome, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertSkipped, err
	}
	defer tx.Rollback()

	var stored int64
	outcome := UpsertInserted
	err = tx.QueryRowContext(ctx,
		"SELECT timestamp_ms FROM messages WHERE user_id = $1 AND id = $2",
		msg.UserID, msg.ID,
	).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return UpsertSkipped, err
	case msg.Timestamp <= stored:
		return UpsertSkipped, tx.Commit()
	default:
		outcome = UpsertReplaced
	}

	// The conflict guard repeats the newer-than check so a concurrent writer
	// on another instance cannot be clobbered by an older version.
	query := `INSERT INTO messages (` + messageColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			  ON CONFLICT (user_id, id) DO UPDATE SET
				thread_id = EXCLUDED.thread_id,
				address = EXCLUDED.address,
				body = EXCLUDED.body,
				encrypted_body = EXCLUDED.encrypted_body,
				direction = EXCLUDED.direction,
				is_read = EXCLUDED.is_read,
				timestamp_ms = EXCLUDED.timestamp_ms,
				deleted = EXCLUDED.deleted,
				origin_device_id = EXCLUDED.origin_device_id
			  WHERE EXCLUDED.timestamp_ms > messages.timestamp_ms`

	result, err := tx.ExecContext(ctx, query,
		msg.ID, msg.UserID, msg.ThreadID, msg.Address,
		msg.Body, msg.EncryptedBody, msg.Direction, msg.Read,
		msg.Timestamp, msg.Deleted, msg.OriginDeviceID, msg.CreatedAt,
	)
	if err != nil {
		return UpsertSkipped, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return UpsertSkipped, err
	}
	if affected == 0 {
		return UpsertSkipped, tx.Commit()
	}

	if len(msg.Envelopes) > 0 {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM message_envelopes WHERE user_id = $1 AND message_id = $2",
			msg.UserID, msg.ID,
		); err != nil {
			return UpsertSkipped, err
		}
		for _, env := range msg.Envelopes {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO message_envelopes (user_id, message_id, recipient_key_id, wrapped_key, nonce)
				 VALUES ($1, $2, $3, $4, $5)`,
				msg.UserID, msg.ID, env.RecipientKeyID, env.WrappedKey, env.Nonce,
			); err != nil {
				return UpsertSkipped, err
			}
		}
	}

	return outcome, tx.Commit()
}

// ListSince returns messages with a timestamp strictly after the cursor,
// oldest first. Callers pass limit+1 to detect a further page.
func (r *MessageRepository) ListSince(ctx context.Context, userID string, cursor int64, limit int) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
			  WHERE user_id = $1 AND timestamp_ms > $2
			  ORDER BY timestamp_ms ASC, id ASC LIMIT $3`

	return r.list(ctx, query, userID, cursor, limit)
}

// ListNewest returns the most recent messages for the initial window, still
// oldest first so the client applies them in order.
func (r *MessageRepository) ListNewest(ctx context.Context, userID string, limit int) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM (
				SELECT ` + messageColumns + ` FROM messages
				WHERE user_id = $1 AND deleted = false
				ORDER BY timestamp_ms DESC, id DESC LIMIT $2
			  ) AS recent ORDER BY timestamp_ms ASC, id ASC`

	return r.list(ctx, query, userID, limit)
}

// ListBefore pages backward through live history: messages strictly older
// than the boundary, newest first.
func (r *MessageRepository) ListBefore(ctx context.Context, userID string, before int64, limit int) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
			  WHERE user_id = $1 AND timestamp_ms < $2 AND deleted = false
			  ORDER BY timestamp_ms DESC, id DESC LIMIT $3`

	return r.list(ctx, query, userID, before, limit)
}

// ListEncryptedSince walks encrypted, live messages for envelope backfill.
func (r *MessageRepository) ListEncryptedSince(ctx context.Context, userID string, checkpoint int64, limit int) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
			  WHERE user_id = $1 AND encrypted_body != '' AND deleted = false AND timestamp_ms > $2
			  ORDER BY timestamp_ms ASC, id ASC LIMIT $3`

	return r.list(ctx, query, userID, checkpoint, limit)
}

func (r *MessageRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// EnvelopesFor loads wrapped keys for a page of messages, keyed by message
// id. A nil keyIDs loads every envelope; otherwise only envelopes the caller
// can open are returned.
func (r *MessageRepository) EnvelopesFor(ctx context.Context, userID string, messageIDs, keyIDs []string) (map[string][]models.KeyEnvelope, error) {
	result := make(map[string][]models.KeyEnvelope)
	if len(messageIDs) == 0 {
		return result, nil
	}

	args := []interface{}{userID}
	placeholders := make([]string, len(messageIDs))
	for i, id := range messageIDs {
		args = append(args, id)
		placeholders[i] = "$" + strconv.Itoa(len(args))
	}
	query := `SELECT message_id, recipient_key_id, wrapped_key, nonce
			  FROM message_envelopes
			  WHERE user_id = $1 AND message_id IN (` + strings.Join(placeholders, ",") + `)`

	if len(keyIDs) > 0 {
		keyPlaceholders := make([]string, len(keyIDs))
		for i, id := range keyIDs {
			args = append(args, id)
			keyPlaceholders[i] = "$" + strconv.Itoa(len(args))
		}
		query += ` AND recipient_key_id IN (` + strings.Join(keyPlaceholders, ",") + `)`
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var messageID string
		var env models.KeyEnvelope
		if err := rows.Scan(&messageID, &env.RecipientKeyID, &env.WrappedKey, &env.Nonce); err != nil {
			return nil, err
		}
		result[messageID] = append(result[messageID], env)
	}
	return result, rows.Err()
}

// MergeEnvelopes adds or refreshes wrapped keys for a message without
// touching the row itself. Used by backfill to extend old messages to a new
// device key.
func (r *MessageRepository) MergeEnvelopes(ctx context.Context, userID, messageID string, envelopes []models.KeyEnvelope) error {
	query := `INSERT INTO message_envelopes (user_id, message_id, recipient_key_id, wrapped_key, nonce)
			  VALUES ($1, $2, $3, $4, $5)
			  ON CONFLICT (user_id, message_id, recipient_key_id) DO UPDATE SET
				wrapped_key = EXCLUDED.wrapped_key,
				nonce = EXCLUDED.nonce`

	for _, env := range envelopes {
		if _, err := r.db.ExecContext(ctx, query,
			userID, messageID, env.RecipientKeyID, env.WrappedKey, env.Nonce,
		); err != nil {
			return err
		}
	}
	return nil
}

// SetRead flips the read flag in place. Read state does not move the sync
// timestamp; it propagates over the live event stream instead.
func (r *MessageRepository) SetRead(ctx context.Context, userID, id string, read bool) (bool, error) {
	query := `UPDATE messages SET is_read = $1 WHERE user_id = $2 AND id = $3 AND deleted = false`

	result, err := r.db.ExecContext(ctx, query, read, userID, id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// MarkDeleted tombstones a message. The timestamp is bumped so devices that
// were offline pick the tombstone up on their next delta fetch; content and
// envelopes are dropped.
func (r *MessageRepository) MarkDeleted(ctx context.Context, userID, id string, timestamp int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	query := `UPDATE messages SET deleted = true, timestamp_ms = $1, body = '', encrypted_body = ''
			  WHERE user_id = $2 AND id = $3 AND deleted = false`

	result, err := tx.ExecContext(ctx, query, timestamp, userID, id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM message_envelopes WHERE user_id = $1 AND message_id = $2",
		userID, id,
	); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (r *MessageRepository) GetCountForUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE user_id = $1 AND deleted = false",
		userID,
	).Scan(&count)
	return count, err
}
