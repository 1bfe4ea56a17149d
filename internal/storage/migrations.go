package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV1_1Up,
		Down:    migrationV1_1Down,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- File state: one row per known file, keyed by (source, path)
CREATE TABLE IF NOT EXISTS indexed_files (
    source TEXT NOT NULL,
    path TEXT NOT NULL,
    mtime_ns INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL,
    indexed_at_ns INTEGER NOT NULL,
    PRIMARY KEY (source, path)
);

-- Session metadata: one live row per (source, session_id)
CREATE TABLE IF NOT EXISTS session_meta (
    source TEXT NOT NULL,
    session_id TEXT NOT NULL,
    path TEXT NOT NULL,
    mtime_ns INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL,
    start_ns INTEGER,
    end_ns INTEGER,
    reference_ns INTEGER NOT NULL,
    model TEXT,
    cwd TEXT,
    repo TEXT,
    title TEXT,
    message_count INTEGER NOT NULL DEFAULT 0,
    command_count INTEGER NOT NULL DEFAULT 0,
    updated_at_ns INTEGER NOT NULL,
    PRIMARY KEY (source, session_id)
);

CREATE INDEX IF NOT EXISTS idx_session_meta_path ON session_meta(source, path);
CREATE INDEX IF NOT EXISTS idx_session_meta_reference ON session_meta(reference_ns);

-- Session search documents
CREATE TABLE IF NOT EXISTS session_search (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source TEXT NOT NULL,
    session_id TEXT NOT NULL,
    mtime_ns INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL,
    format_version INTEGER NOT NULL,
    text TEXT NOT NULL,
    UNIQUE(source, session_id)
);

CREATE VIRTUAL TABLE IF NOT EXISTS session_search_fts USING fts5(
    text,
    content='session_search',
    content_rowid='id'
);

-- Triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS session_search_ai AFTER INSERT ON session_search BEGIN
    INSERT INTO session_search_fts(rowid, text) VALUES (new.id, new.text);
END;

CREATE TRIGGER IF NOT EXISTS session_search_ad AFTER DELETE ON session_search BEGIN
    INSERT INTO session_search_fts(session_search_fts, rowid, text) VALUES ('delete', old.id, old.text);
END;

CREATE TRIGGER IF NOT EXISTS session_search_au AFTER UPDATE ON session_search BEGIN
    INSERT INTO session_search_fts(session_search_fts, rowid, text) VALUES ('delete', old.id, old.text);
    INSERT INTO session_search_fts(rowid, text) VALUES (new.id, new.text);
END;

-- Tool input/output documents, bounded by recency and total bytes
CREATE TABLE IF NOT EXISTS session_tool_io (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source TEXT NOT NULL,
    session_id TEXT NOT NULL,
    mtime_ns INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL,
    reference_ns INTEGER NOT NULL,
    format_version INTEGER NOT NULL,
    text_bytes INTEGER NOT NULL,
    text TEXT NOT NULL,
    UNIQUE(source, session_id)
);

CREATE INDEX IF NOT EXISTS idx_session_tool_io_reference ON session_tool_io(reference_ns);

CREATE VIRTUAL TABLE IF NOT EXISTS session_tool_io_fts USING fts5(
    text,
    content='session_tool_io',
    content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS session_tool_io_ai AFTER INSERT ON session_tool_io BEGIN
    INSERT INTO session_tool_io_fts(rowid, text) VALUES (new.id, new.text);
END;

CREATE TRIGGER IF NOT EXISTS session_tool_io_ad AFTER DELETE ON session_tool_io BEGIN
    INSERT INTO session_tool_io_fts(session_tool_io_fts, rowid, text) VALUES ('delete', old.id, old.text);
END;

CREATE TRIGGER IF NOT EXISTS session_tool_io_au AFTER UPDATE ON session_tool_io BEGIN
    INSERT INTO session_tool_io_fts(session_tool_io_fts, rowid, text) VALUES ('delete', old.id, old.text);
    INSERT INTO session_tool_io_fts(rowid, text) VALUES (new.id, new.text);
END;

-- Per-day, per-session statistics
CREATE TABLE IF NOT EXISTS rollup_rows (
    day TEXT NOT NULL,
    source TEXT NOT NULL,
    session_id TEXT NOT NULL,
    model TEXT,
    messages INTEGER NOT NULL DEFAULT 0,
    commands INTEGER NOT NULL DEFAULT 0,
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (source, session_id, day)
);

CREATE INDEX IF NOT EXISTS idx_rollup_rows_day ON rollup_rows(day, source);

-- Per-day, per-source aggregates, recomputed from rollup_rows
CREATE TABLE IF NOT EXISTS rollups (
    day TEXT NOT NULL,
    source TEXT NOT NULL,
    sessions INTEGER NOT NULL DEFAULT 0,
    messages INTEGER NOT NULL DEFAULT 0,
    commands INTEGER NOT NULL DEFAULT 0,
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    updated_at_ns INTEGER NOT NULL,
    PRIMARY KEY (day, source)
);
`

const migrationV1Down = `
-- Drop all tables in reverse order of dependencies
DROP TRIGGER IF EXISTS session_tool_io_au;
DROP TRIGGER IF EXISTS session_tool_io_ad;
DROP TRIGGER IF EXISTS session_tool_io_ai;
DROP TRIGGER IF EXISTS session_search_au;
DROP TRIGGER IF EXISTS session_search_ad;
DROP TRIGGER IF EXISTS session_search_ai;

DROP TABLE IF EXISTS rollups;
DROP TABLE IF EXISTS rollup_rows;
DROP TABLE IF EXISTS session_tool_io_fts;
DROP TABLE IF EXISTS session_tool_io;
DROP TABLE IF EXISTS session_search_fts;
DROP TABLE IF EXISTS session_search;
DROP TABLE IF EXISTS session_meta;
DROP TABLE IF EXISTS indexed_files;
DROP TABLE IF EXISTS schema_version;
`

// Several files can yield the same session (a Claude sidechain log carries its
// parent's sessionId), so each file row records the session it produced.
const migrationV1_1Up = `
ALTER TABLE indexed_files ADD COLUMN session_id TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS idx_indexed_files_session ON indexed_files(source, session_id);
`

const migrationV1_1Down = `
DROP INDEX IF EXISTS idx_indexed_files_session;
ALTER TABLE indexed_files DROP COLUMN session_id;
`

// ApplyMigrations runs all pending migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	// Check if schema_version table exists
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)

	// Parse current version (default to 0.0.0 if no migrations applied or table doesn't exist)
	var currentVersion *semver.Version
	if err == sql.ErrNoRows {
		// schema_version table doesn't exist, start from 0.0.0
		currentVersion = semver.MustParse("0.0.0")
	} else if err != nil {
		return fmt.Errorf("failed to check schema_version table: %w", err)
	} else {
		// Table exists, check current version
		currentVersionStr, err := currentSchemaVersion(ctx, db)
		if err == sql.ErrNoRows || currentVersionStr == "" {
			currentVersion = semver.MustParse("0.0.0")
		} else if err != nil {
			return fmt.Errorf("failed to read schema_version: %w", err)
		} else {
			currentVersion, err = semver.NewVersion(currentVersionStr)
			if err != nil {
				return fmt.Errorf("invalid current schema version %s: %w", currentVersionStr, err)
			}
		}
	}

	// Run migrations in order
	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		// Skip if already applied (LessThanOrEqual means current >= migration)
		if !currentVersion.LessThan(migrationVersion) {
			continue // Already applied
		}

		if err := applyMigration(ctx, db, migration); err != nil {
			return err
		}

		// Update current version for next iteration
		currentVersion = migrationVersion
	}

	return nil
}

// applyMigration runs one migration and records it in a single transaction
func applyMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %s: %w", migration.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
		return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
	}
	return tx.Commit()
}

// currentSchemaVersion returns the most recently applied migration version
func currentSchemaVersion(ctx context.Context, q querier) (string, error) {
	var version string
	err := q.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC, version DESC LIMIT 1").Scan(&version)
	if err != nil {
		return "", err
	}
	return version, nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	currentVersion, err := currentSchemaVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("no migrations to rollback: %w", err)
	}

	var migration *Migration
	for i := range AllMigrations {
		if AllMigrations[i].Version == currentVersion {
			migration = &AllMigrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", currentVersion)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rollback %s: %w", currentVersion, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", currentVersion, err)
	}

	// The first migration drops schema_version itself
	var name string
	err = tx.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&name)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("failed to check schema_version table: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", currentVersion); err != nil {
			return fmt.Errorf("failed to remove migration record %s: %w", currentVersion, err)
		}
	}

	return tx.Commit()
}

// RollbackDatabase opens the database at dbPath without migrating it and rolls
// back its most recent migration. It returns the schema version left in place,
// empty when no migration remains.
func RollbackDatabase(ctx context.Context, dbPath string) (string, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := RollbackMigration(ctx, db); err != nil {
		return "", err
	}

	version, err := currentSchemaVersion(ctx, db)
	if err != nil {
		// Rolling back the first migration drops schema_version
		return "", nil
	}
	return version, nil
}
