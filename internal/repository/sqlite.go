package repository

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB creates and initializes a SQLite database
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	// Create tables
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	schema := `
	-- Users table
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		plan TEXT NOT NULL DEFAULT 'trial',
		trial_started_at DATETIME,
		is_temporary INTEGER NOT NULL DEFAULT 0,
		is_admin INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		is_active INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_users_temporary ON users(is_temporary, created_at);

	-- Paired devices
	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		device_name TEXT NOT NULL,
		platform TEXT NOT NULL,
		push_token TEXT NOT NULL DEFAULT '',
		paired_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_seen_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_devices_user_id ON devices(user_id);

	-- Pairing tokens (hash at rest, raw token never stored)
	CREATE TABLE IF NOT EXISTS pairing_tokens (
		id TEXT PRIMARY KEY,
		token_hash TEXT UNIQUE NOT NULL,
		device_name TEXT NOT NULL,
		platform TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		temp_user_id TEXT NOT NULL,
		user_id TEXT,
		device_id TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		expires_at DATETIME NOT NULL,
		responded_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_pairing_tokens_status ON pairing_tokens(status, expires_at);

	-- Revoked refresh tokens (by jti, rows expire with the token itself)
	CREATE TABLE IF NOT EXISTS revoked_tokens (
		jti TEXT PRIMARY KEY,
		expires_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_revoked_tokens_expires ON revoked_tokens(expires_at);

	-- Messages; id is assigned by the originating device, scoped per user
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		thread_id TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		encrypted_body TEXT NOT NULL DEFAULT '',
		direction TEXT NOT NULL,
		is_read INTEGER NOT NULL DEFAULT 0,
		timestamp_ms INTEGER NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		origin_device_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_user_ts ON messages(user_id, timestamp_ms);
	CREATE INDEX IF NOT EXISTS idx_messages_user_thread ON messages(user_id, thread_id);

	-- Per-recipient wrapped data keys for encrypted messages
	CREATE TABLE IF NOT EXISTS message_envelopes (
		user_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		recipient_key_id TEXT NOT NULL,
		wrapped_key TEXT NOT NULL,
		nonce TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (user_id, message_id, recipient_key_id)
	);

	-- Contacts
	CREATE TABLE IF NOT EXISTS contacts (
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL DEFAULT '',
		phone_numbers TEXT NOT NULL DEFAULT '[]',
		email TEXT NOT NULL DEFAULT '',
		timestamp_ms INTEGER NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_contacts_user_ts ON contacts(user_id, timestamp_ms);

	-- Call history (append-only)
	CREATE TABLE IF NOT EXISTS calls (
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		number TEXT NOT NULL,
		call_type TEXT NOT NULL,
		duration INTEGER NOT NULL DEFAULT 0,
		timestamp_ms INTEGER NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_calls_user_ts ON calls(user_id, timestamp_ms);

	-- Per-device sync cursors, one row per entity kind
	CREATE TABLE IF NOT EXISTS sync_cursors (
		user_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		entity TEXT NOT NULL,
		cursor INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, device_id, entity)
	);

	-- Published device public keys
	CREATE TABLE IF NOT EXISTS device_keys (
		device_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		key_id TEXT NOT NULL,
		public_key TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_device_keys_user_id ON device_keys(user_id);

	-- Shared sync-group public key, one per user
	CREATE TABLE IF NOT EXISTS sync_group_keys (
		user_id TEXT PRIMARY KEY,
		key_id TEXT NOT NULL,
		public_key TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Wrapped group keys waiting to be claimed by a requesting device
	CREATE TABLE IF NOT EXISTS key_sync_responses (
		user_id TEXT NOT NULL,
		requester_device_id TEXT NOT NULL,
		responder_device_id TEXT NOT NULL,
		group_key_id TEXT NOT NULL,
		wrapped_group_key TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, requester_device_id)
	);

	-- Envelope backfill jobs
	CREATE TABLE IF NOT EXISTS backfill_jobs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		target_key_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		scanned INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		checkpoint INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_backfill_jobs_user_status ON backfill_jobs(user_id, status);

	-- Monthly upload accounting plus running storage totals
	CREATE TABLE IF NOT EXISTS usage_records (
		user_id TEXT NOT NULL,
		period_key TEXT NOT NULL,
		upload_bytes INTEGER NOT NULL DEFAULT 0,
		storage_bytes INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, period_key)
	);
	`

	_, err := db.Exec(schema)
	return err
}
