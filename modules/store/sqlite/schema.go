package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 2

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		name         TEXT    PRIMARY KEY,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		revision     INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS items (
		project         TEXT    NOT NULL,
		id              TEXT    NOT NULL,
		seq             INTEGER NOT NULL,
		content         TEXT    NOT NULL DEFAULT '',
		type            TEXT    NOT NULL,
		priority        INTEGER NOT NULL DEFAULT 0,
		tokens          INTEGER NOT NULL DEFAULT 0,
		relevance       REAL,
		source          TEXT    NOT NULL DEFAULT '',
		session_id      TEXT    NOT NULL DEFAULT '',
		created_at      TEXT    NOT NULL DEFAULT '',
		tags            TEXT    NOT NULL DEFAULT '[]',
		compressed      INTEGER NOT NULL DEFAULT 0,
		original_tokens INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (project, id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_items_project_seq ON items(project, seq)`,
}

// upgrades bring a database from version n-1 to n. A fresh database
// gets schemaStatements only.
var upgrades = map[int][]string{
	2: {`ALTER TABLE projects ADD COLUMN revision INTEGER NOT NULL DEFAULT 0`},
}

// migrate creates or updates the database schema to the latest version.
// A database already at schemaVersion is left untouched.
func migrate(ctx context.Context, db *sql.DB) error {
	// Ensure schema_version table exists first.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	stmts := schemaStatements
	if current > 0 {
		stmts = nil
		for v := current + 1; v <= schemaVersion; v++ {
			stmts = append(stmts, upgrades[v]...)
		}
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}

	return nil
}
