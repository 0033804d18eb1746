package repository

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// NewPostgresDB creates and initializes a PostgreSQL database connection
func NewPostgresDB(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	// Create tables
	if err := createPostgresTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createPostgresTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		plan TEXT NOT NULL DEFAULT 'trial',
		trial_started_at TIMESTAMP,
		is_temporary BOOLEAN NOT NULL DEFAULT FALSE,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_users_temporary ON users(is_temporary, created_at);

	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		device_name TEXT NOT NULL,
		platform TEXT NOT NULL,
		push_token TEXT NOT NULL DEFAULT '',
		paired_at TIMESTAMP NOT NULL DEFAULT NOW(),
		last_seen_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_devices_user_id ON devices(user_id);

	CREATE TABLE IF NOT EXISTS pairing_tokens (
		id TEXT PRIMARY KEY,
		token_hash TEXT UNIQUE NOT NULL,
		device_name TEXT NOT NULL,
		platform TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		temp_user_id TEXT NOT NULL,
		user_id TEXT,
		device_id TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMP NOT NULL,
		responded_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_pairing_tokens_status ON pairing_tokens(status, expires_at);

	CREATE TABLE IF NOT EXISTS revoked_tokens (
		jti TEXT PRIMARY KEY,
		expires_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_revoked_tokens_expires ON revoked_tokens(expires_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		thread_id TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		encrypted_body TEXT NOT NULL DEFAULT '',
		direction TEXT NOT NULL,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		timestamp_ms BIGINT NOT NULL,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		origin_device_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_user_ts ON messages(user_id, timestamp_ms);
	CREATE INDEX IF NOT EXISTS idx_messages_user_thread ON messages(user_id, thread_id);

	CREATE TABLE IF NOT EXISTS message_envelopes (
		user_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		recipient_key_id TEXT NOT NULL,
		wrapped_key TEXT NOT NULL,
		nonce TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (user_id, message_id, recipient_key_id)
	);

	CREATE TABLE IF NOT EXISTS contacts (
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL DEFAULT '',
		phone_numbers TEXT NOT NULL DEFAULT '[]',
		email TEXT NOT NULL DEFAULT '',
		timestamp_ms BIGINT NOT NULL,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_contacts_user_ts ON contacts(user_id, timestamp_ms);

	CREATE TABLE IF NOT EXISTS calls (
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		number TEXT NOT NULL,
		call_type TEXT NOT NULL,
		duration INTEGER NOT NULL DEFAULT 0,
		timestamp_ms BIGINT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_calls_user_ts ON calls(user_id, timestamp_ms);

	CREATE TABLE IF NOT EXISTS sync_cursors (
		user_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		entity TEXT NOT NULL,
		cursor BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, device_id, entity)
	);

	CREATE TABLE IF NOT EXISTS device_keys (
		device_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		key_id TEXT NOT NULL,
		public_key TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_device_keys_user_id ON device_keys(user_id);

	CREATE TABLE IF NOT EXISTS sync_group_keys (
		user_id TEXT PRIMARY KEY,
		key_id TEXT NOT NULL,
		public_key TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS key_sync_responses (
		user_id TEXT NOT NULL,
		requester_device_id TEXT NOT NULL,
		responder_device_id TEXT NOT NULL,
		group_key_id TEXT NOT NULL,
		wrapped_group_key TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, requester_device_id)
	);

	CREATE TABLE IF NOT EXISTS backfill_jobs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		target_key_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		scanned INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		checkpoint BIGINT NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_backfill_jobs_user_status ON backfill_jobs(user_id, status);

	CREATE TABLE IF NOT EXISTS usage_records (
		user_id TEXT NOT NULL,
		period_key TEXT NOT NULL,
		upload_bytes BIGINT NOT NULL DEFAULT 0,
		storage_bytes BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, period_key)
	);
	`

	_, err := db.Exec(schema)
	return err
}
