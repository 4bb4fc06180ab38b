package repository

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB creates and initializes the local sync database
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

	// WAL mode so journal appends never block on readers
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
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
	-- Change journal: durable queue of local mutations pending upload
	CREATE TABLE IF NOT EXISTS journal (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload BLOB,
		base_version INTEGER NOT NULL DEFAULT 0,
		base_timestamp DATETIME,
		status TEXT NOT NULL DEFAULT 'pending',
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_attempt_at DATETIME,
		last_error TEXT,
		enqueued_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_journal_status ON journal(status);
	CREATE INDEX IF NOT EXISTS idx_journal_entity ON journal(entity_type, entity_id);

	-- Local entity cache; deleted rows are tombstones, not purged
	CREATE TABLE IF NOT EXISTS entities (
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		data BLOB,
		last_modified_by TEXT NOT NULL DEFAULT 'local',
		deleted INTEGER NOT NULL DEFAULT 0,
		server_timestamp DATETIME,
		pulled_at DATETIME,
		PRIMARY KEY (entity_type, entity_id)
	);

	CREATE INDEX IF NOT EXISTS idx_entities_pulled_at ON entities(pulled_at);

	-- Single-row delta pull cursor
	CREATE TABLE IF NOT EXISTS sync_cursor (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		cursor TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Conflicts awaiting user input
	CREATE TABLE IF NOT EXISTS conflicts (
		id TEXT PRIMARY KEY,
		operation_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		local_kind TEXT NOT NULL,
		local_payload BLOB,
		local_base_version INTEGER NOT NULL DEFAULT 0,
		remote_payload BLOB,
		remote_version INTEGER NOT NULL DEFAULT 0,
		remote_deleted INTEGER NOT NULL DEFAULT 0,
		remote_timestamp DATETIME,
		outcome TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		detected_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		resolved_at DATETIME,
		resolved_by TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_conflicts_status ON conflicts(status);
	CREATE INDEX IF NOT EXISTS idx_conflicts_entity ON conflicts(entity_type, entity_id);
	`

	_, err := db.Exec(schema)
	return err
}
