package index

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of schema migrations. Each one is applied
// exactly once, tracked in the schema_version table.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: meta, chunks",
		SQL: `
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chunks (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			id           TEXT NOT NULL UNIQUE,
			document_id  TEXT NOT NULL,
			offset_start INTEGER NOT NULL,
			offset_end   INTEGER NOT NULL,
			text         TEXT NOT NULL,
			embedding    BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(document_id);
		`,
	},
	{
		Version:     2,
		Description: "v2: documents table for corpus stats",
		SQL: `
		CREATE TABLE IF NOT EXISTS documents (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			path        TEXT DEFAULT '',
			size        INTEGER DEFAULT 0,
			chunk_count INTEGER DEFAULT 0,
			ingested_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		`,
	},
}

// runMigrations applies all pending schema migrations in one transaction each.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := getSchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying index migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d failed: %w", m.Version, err)
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

func getSchemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}
