package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.2.0"
)

// Migration represents a database schema migration. When Condition is set
// and reports false, the version is recorded without running Up.
type Migration struct {
	Version   string
	Up        string
	Down      string
	Condition func(ctx context.Context, q querier) (bool, error)
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version:   "1.1.0",
		Up:        fullTextUp,
		Down:      fullTextDown,
		Condition: fullTextSupported,
	},
	{
		Version: "1.2.0",
		Up:      migrationV12Up,
		Down:    migrationV12Down,
	},
}

const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`

const migrationV1Up = `
-- Singleton project record
CREATE TABLE IF NOT EXISTS project (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    root_path TEXT NOT NULL,
    unit_id TEXT NOT NULL,
    generation INTEGER NOT NULL DEFAULT 0,
    last_indexed_at INTEGER,
    last_run_id TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

-- Files table
CREATE TABLE IF NOT EXISTS files (
    path TEXT PRIMARY KEY,
    language TEXT NOT NULL DEFAULT '',
    content_hash TEXT NOT NULL DEFAULT '',
    size_bytes INTEGER NOT NULL DEFAULT 0,
    mod_time INTEGER,
    parse_error TEXT NOT NULL DEFAULT '',
    node_count INTEGER NOT NULL DEFAULT 0,
    indexed_at INTEGER
);

-- Nodes table. search_text concatenates name, split name, path and
-- summary for the full-text index.
CREATE TABLE IF NOT EXISTS nodes (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL CHECK (name <> ''),
    node_type TEXT NOT NULL CHECK (node_type <> ''),
    path TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    line_number INTEGER NOT NULL DEFAULT 0,
    column_number INTEGER NOT NULL DEFAULT 0,
    importance_score REAL NOT NULL DEFAULT 0 CHECK (importance_score >= 0 AND importance_score <= 1),
    language TEXT NOT NULL DEFAULT '',
    derived INTEGER NOT NULL DEFAULT 0,
    search_text TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_nodes_importance ON nodes(importance_score DESC);
CREATE INDEX IF NOT EXISTS idx_nodes_type_importance ON nodes(node_type, importance_score DESC);
CREATE INDEX IF NOT EXISTS idx_nodes_path ON nodes(path);
CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(name);

-- Relationships table
CREATE TABLE IF NOT EXISTS relationships (
    source_id INTEGER NOT NULL,
    target_id INTEGER NOT NULL,
    relationship_type TEXT NOT NULL,
    derived INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (source_id, target_id, relationship_type),
    FOREIGN KEY (source_id) REFERENCES nodes(id) ON DELETE CASCADE,
    FOREIGN KEY (target_id) REFERENCES nodes(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_rel_target ON relationships(target_id);
CREATE INDEX IF NOT EXISTS idx_rel_derived ON relationships(derived);

-- Unresolved references, re-resolved on every run
CREATE TABLE IF NOT EXISTS refs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id INTEGER NOT NULL,
    relationship_type TEXT NOT NULL,
    kind TEXT NOT NULL,
    target TEXT NOT NULL,
    candidates TEXT NOT NULL DEFAULT '[]',
    FOREIGN KEY (source_id) REFERENCES nodes(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_refs_source ON refs(source_id);
`

const migrationV1Down = `
DROP TABLE IF EXISTS refs;
DROP TABLE IF EXISTS relationships;
DROP TABLE IF EXISTS nodes;
DROP TABLE IF EXISTS files;
DROP TABLE IF EXISTS project;
`

// fullTextUp creates the external-content FTS5 index over nodes.search_text
// and rebuilds it from the current rows
const fullTextUp = `
CREATE VIRTUAL TABLE IF NOT EXISTS nodes_fts USING fts5(
    search_text,
    content='nodes',
    content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS nodes_ai AFTER INSERT ON nodes BEGIN
    INSERT INTO nodes_fts(rowid, search_text) VALUES (new.id, new.search_text);
END;

CREATE TRIGGER IF NOT EXISTS nodes_ad AFTER DELETE ON nodes BEGIN
    INSERT INTO nodes_fts(nodes_fts, rowid, search_text) VALUES ('delete', old.id, old.search_text);
END;

CREATE TRIGGER IF NOT EXISTS nodes_au AFTER UPDATE OF name, path, summary, search_text ON nodes BEGIN
    INSERT INTO nodes_fts(nodes_fts, rowid, search_text) VALUES ('delete', old.id, old.search_text);
    INSERT INTO nodes_fts(rowid, search_text) VALUES (new.id, new.search_text);
END;

INSERT INTO nodes_fts(nodes_fts) VALUES ('rebuild');
`

const fullTextDown = `
DROP TRIGGER IF EXISTS nodes_au;
DROP TRIGGER IF EXISTS nodes_ad;
DROP TRIGGER IF EXISTS nodes_ai;
DROP TABLE IF EXISTS nodes_fts;
`

const migrationV12Up = `
CREATE TABLE IF NOT EXISTS index_runs (
    run_id TEXT PRIMARY KEY,
    started_at INTEGER NOT NULL,
    finished_at INTEGER,
    status TEXT NOT NULL,
    files_indexed INTEGER NOT NULL DEFAULT 0,
    files_failed INTEGER NOT NULL DEFAULT 0,
    nodes INTEGER NOT NULL DEFAULT 0,
    relationships INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_index_runs_started ON index_runs(started_at DESC);
`

const migrationV12Down = `
DROP TABLE IF EXISTS index_runs;
`

// fullTextSupported checks whether the driver has the FTS5 module
func fullTextSupported(ctx context.Context, q querier) (bool, error) {
	if _, err := q.ExecContext(ctx, "CREATE VIRTUAL TABLE IF NOT EXISTS temp.fts5_check USING fts5(x)"); err != nil {
		return false, nil
	}
	if _, err := q.ExecContext(ctx, "DROP TABLE IF EXISTS temp.fts5_check"); err != nil {
		return false, fmt.Errorf("failed to drop fts5 check table: %w", err)
	}
	return true, nil
}

// fullTextPresent reports whether the nodes_fts table exists
func fullTextPresent(ctx context.Context, q querier) (bool, error) {
	var name string
	err := q.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='nodes_fts'").Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ensureFullText creates the full-text index on databases that were
// migrated by a build without FTS5. It returns whether the index is usable.
func ensureFullText(ctx context.Context, db *sql.DB) (bool, error) {
	present, err := fullTextPresent(ctx, db)
	if err != nil {
		return false, fmt.Errorf("failed to check full-text index: %w", err)
	}

	supported, err := fullTextSupported(ctx, db)
	if err != nil {
		return false, err
	}
	if !supported {
		return false, nil
	}
	if present {
		return true, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, fullTextUp); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("failed to create full-text index: %w", err)
	}
	return true, tx.Commit()
}

// SchemaVersion returns the highest applied migration version, or 0.0.0
func SchemaVersion(ctx context.Context, q querier) (*semver.Version, error) {
	current := semver.MustParse("0.0.0")

	var tableName string
	err := q.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return current, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	rows, err := q.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		parsed, err := semver.NewVersion(v)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", v, err)
		}
		if parsed.GreaterThan(current) {
			current = parsed
		}
	}
	return current, rows.Err()
}

// ApplyMigrations runs all pending migrations, each in its own transaction
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaVersionTable); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	currentVersion, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		// Skip if already applied
		if !currentVersion.LessThan(migrationVersion) {
			continue
		}

		if err := applyMigration(ctx, db, migration); err != nil {
			return err
		}
		currentVersion = migrationVersion
	}

	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %s: %w", migration.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	run := true
	if migration.Condition != nil {
		if run, err = migration.Condition(ctx, tx); err != nil {
			return fmt.Errorf("failed to check migration %s: %w", migration.Version, err)
		}
	}

	if run {
		if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		migration.Version, toMillis(now())); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
	}

	return tx.Commit()
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return fmt.Errorf("no migrations to rollback")
	}

	var migration *Migration
	for i := range AllMigrations {
		v, err := semver.NewVersion(AllMigrations[i].Version)
		if err == nil && v.Equal(current) {
			migration = &AllMigrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current.Original())
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", migration.Version, err)
	}

	return tx.Commit()
}
