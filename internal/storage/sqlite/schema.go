package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaVersion is bumped whenever migrations gains a new entry.
const schemaVersion = 1

// migrations holds the ordered DDL steps. Step N brings the database
// from version N-1 to version N.
var migrations = []string{
	// v1: initial schema
	`
	CREATE TABLE IF NOT EXISTS elements (
		id             TEXT PRIMARY KEY,
		type           TEXT NOT NULL,
		title          TEXT NOT NULL DEFAULT '',
		content        TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMP NOT NULL,
		updated_at     TIMESTAMP NOT NULL,
		created_by     TEXT NOT NULL DEFAULT '',
		tags           TEXT NOT NULL DEFAULT '[]',
		metadata       TEXT NOT NULL DEFAULT '{}',
		deleted_at     TIMESTAMP,
		deleted_by     TEXT,
		-- task payload, flattened so ready/blocked queries stay in SQL
		status         TEXT,
		priority       INTEGER,
		complexity     INTEGER,
		assignee       TEXT,
		deferred_until TIMESTAMP,
		orchestrator   TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_elements_type ON elements(type);
	CREATE INDEX IF NOT EXISTS idx_elements_status ON elements(status) WHERE status IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_elements_assignee ON elements(assignee) WHERE assignee IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_elements_deleted ON elements(deleted_at) WHERE deleted_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS dependencies (
		blocked_id TEXT NOT NULL,
		blocker_id TEXT NOT NULL,
		type       TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (blocked_id, blocker_id, type)
	);
	CREATE INDEX IF NOT EXISTS idx_dependencies_blocker ON dependencies(blocker_id);

	CREATE TABLE IF NOT EXISTS dirty_elements (
		element_id TEXT PRIMARY KEY,
		marked_at  TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS child_counters (
		parent_id  TEXT PRIMARY KEY,
		last_child INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS settings (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS export_hashes (
		element_id   TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		exported_at  TIMESTAMP NOT NULL
	);
	`,
}

// migrate brings the schema up to schemaVersion. Each step runs in its
// own transaction; user_version records progress.
func migrate(ctx context.Context, db *sql.DB) error {
	var current int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if current > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, schemaVersion)
	}
	for v := current; v < schemaVersion; v++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration %d: begin: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", v+1, err)
		}
		// PRAGMA does not accept bind parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: set version: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: commit: %w", v+1, err)
		}
	}
	return nil
}
