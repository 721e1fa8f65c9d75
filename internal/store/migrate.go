package store

import (
	"database/sql"
	"fmt"
	"time"
)

// migration is one versioned schema step. Migrations are embedded in code
// and applied in order inside a transaction each.
type migration struct {
	version     int
	description string
	sql         string
}

var migrations = []migration{
	{
		version:     1,
		description: "documents",
		sql: `
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			owner_id TEXT NOT NULL,
			shared INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL CHECK(updated_at > 0)
		);
		CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id);`,
	},
	{
		version:     2,
		description: "document_changes",
		sql: `
		CREATE TABLE IF NOT EXISTS document_changes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			kind TEXT NOT NULL CHECK(kind IN ('CREATE', 'UPDATE')),
			created_at INTEGER NOT NULL CHECK(created_at > 0)
		);
		CREATE INDEX IF NOT EXISTS idx_changes_document ON document_changes(document_id, created_at);`,
	},
	{
		version:     3,
		description: "document_versions",
		sql: `
		CREATE TABLE IF NOT EXISTS document_versions (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL CHECK(created_at > 0)
		);
		CREATE INDEX IF NOT EXISTS idx_versions_document ON document_versions(document_id, created_at);`,
	},
}

// Migrate brings the schema up to the current version. Already-applied
// migrations are skipped, so calling it on every startup is safe.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0)
	);`); err != nil {
		return fmt.Errorf("failed to initialize schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", m.version, m.description, err)
		}
	}
	return nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.sql); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
		m.version, time.Now().Unix(), m.description,
	); err != nil {
		return err
	}
	return tx.Commit()
}
