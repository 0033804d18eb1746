package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/syncflow/server/internal/models"
)

// ContactRepository implements ContactRepo for PostgreSQL/SQLite
type ContactRepository struct {
	db *sql.DB
}

// NewContactRepository creates a new ContactRepository
func NewContactRepository(db *sql.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

const contactColumns = `id, user_id, display_name, phone_number, phone_numbers, email, timestamp_ms, deleted, created_at`

func scanContact(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.Contact, error) {
	var contact models.Contact
	var phoneNumbersJSON string
	err := scanner.Scan(
		&contact.ID, &contact.UserID, &contact.DisplayName, &contact.PhoneNumber,
		&phoneNumbersJSON, &contact.Email, &contact.Timestamp, &contact.Deleted,
		&contact.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(phoneNumbersJSON), &contact.PhoneNumbers); err != nil {
		return nil, err
	}
	return &contact, nil
}

func (r *ContactRepository) GetByID(ctx context.Context, userID, id string) (*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE user_id = $1 AND id = $2`

	contact, err := scanContact(r.db.QueryRowContext(ctx, query, userID, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return contact, nil
}

// Upsert writes a contact with last-write-wins semantics on the modification
// timestamp; ties keep the first write.
func (r *ContactRepository) Upsert(ctx context.Context, contact *models.Contact) (UpsertOutcome, error) {
	phoneNumbers := contact.PhoneNumbers
	if phoneNumbers == nil {
		phoneNumbers = []string{}
	}
	phoneNumbersJSON, err := json.Marshal(phoneNumbers)
	if err != nil {
		return UpsertSkipped, err
	}

	var stored int64
	outcome := UpsertInserted
	err = r.db.QueryRowContext(ctx,
		"SELECT timestamp_ms FROM contacts WHERE user_id = $1 AND id = $2",
		contact.UserID, contact.ID,
	).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return UpsertSkipped, err
	case contact.Timestamp <= stored:
		return UpsertSkipped, nil
	default:
		outcome = UpsertReplaced
	}

	query := `INSERT INTO contacts (` + contactColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			  ON CONFLICT (user_id, id) DO UPDATE SET
				display_name = EXCLUDED.display_name,
				phone_number = EXCLUDED.phone_number,
				phone_numbers = EXCLUDED.phone_numbers,
				email = EXCLUDED.email,
				timestamp_ms = EXCLUDED.timestamp_ms,
				deleted = EXCLUDED.deleted
			  WHERE EXCLUDED.timestamp_ms > contacts.timestamp_ms`

	result, err := r.db.ExecContext(ctx, query,
		contact.ID, contact.UserID, contact.DisplayName, contact.PhoneNumber,
		string(phoneNumbersJSON), contact.Email, contact.Timestamp, contact.Deleted,
		contact.CreatedAt,
	)
	if err != nil {
		return UpsertSkipped, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return UpsertSkipped, err
	}
	if affected == 0 {
		return UpsertSkipped, nil
	}
	return outcome, nil
}

// ListSince returns contacts modified strictly after the cursor, oldest
// modification first. Tombstones are included so deletions propagate.
func (r *ContactRepository) ListSince(ctx context.Context, userID string, cursor int64, limit int) ([]*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts
			  WHERE user_id = $1 AND timestamp_ms > $2
			  ORDER BY timestamp_ms ASC, id ASC LIMIT $3`

	return r.list(ctx, query, userID, cursor, limit)
}

// ListNewest returns the most recently modified contacts for the initial
// window, oldest first.
func (r *ContactRepository) ListNewest(ctx context.Context, userID string, limit int) ([]*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM (
				SELECT ` + contactColumns + ` FROM contacts
				WHERE user_id = $1 AND deleted = false
				ORDER BY timestamp_ms DESC, id DESC LIMIT $2
			  ) AS recent ORDER BY timestamp_ms ASC, id ASC`

	return r.list(ctx, query, userID, limit)
}

// ListBefore pages backward through live contacts, newest first.
func (r *ContactRepository) ListBefore(ctx context.Context, userID string, before int64, limit int) ([]*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts
			  WHERE user_id = $1 AND timestamp_ms < $2 AND deleted = false
			  ORDER BY timestamp_ms DESC, id DESC LIMIT $3`

	return r.list(ctx, query, userID, before, limit)
}

func (r *ContactRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Contact, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []*models.Contact
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}
	return contacts, rows.Err()
}

// MarkDeleted tombstones a contact with a bumped modification timestamp.
func (r *ContactRepository) MarkDeleted(ctx context.Context, userID, id string, timestamp int64) (bool, error) {
	query := `UPDATE contacts SET deleted = true, timestamp_ms = $1
			  WHERE user_id = $2 AND id = $3 AND deleted = false`

	result, err := r.db.ExecContext(ctx, query, timestamp, userID, id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

func (r *ContactRepository) GetCountForUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM contacts WHERE user_id = $1 AND deleted = false",
		userID,
	).Scan(&count)
	return count, err
}
