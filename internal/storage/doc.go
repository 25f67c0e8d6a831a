// Package storage provides SQLite-based persistence for code graphs.
//
// Every indexed project lives in its own storage unit, a SQLite database
// named after the first 16 hex characters of the SHA-256 of the project's
// absolute path. A Manager owns the open units of a data directory.
//
// # Database Schema
//
// Tables:
//   - project: singleton with root path, unit id, generation counter
//   - files: tracked files with content hashes and parse errors
//   - nodes: graph nodes plus a denormalized search_text column
//   - relationships: typed edges, cascading on node deletion
//   - refs: unresolved references, re-resolved on every index run
//   - nodes_fts: FTS5 external-content index over nodes.search_text
//   - index_runs: bookkeeping of index attempts
//
// Migrations are versioned with semver in schema_version and each one runs
// in its own transaction. The full-text migration only creates nodes_fts
// when the driver has FTS5; units opened later by a build that has it get
// the index created and rebuilt on open.
//
// # Basic Usage
//
//	mgr, err := storage.NewManager(dataDir, storage.DefaultOptions(), logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Close()
//
//	unit, err := mgr.Open(ctx, "/path/to/project", true)
//	if err != nil {
//	    return err
//	}
//
//	nodes, err := unit.TopByImportance(ctx, types.NodeClass, 10)
//
// # Generations
//
// An index run produces a Generation which ApplyGeneration writes in one
// immediate transaction: changed files replace their nodes, deleted files
// lose theirs, derived nodes and relationships are replaced wholesale and
// every score is updated. Readers use a separate connection pool and see
// either the old or the new generation.
//
// Writers are serialized by an in-process lock per unit. Waiting longer
// than Options.AcquireTimeout, or hitting SQLITE_BUSY, yields
// types.ErrStorageBusy.
//
// # Search
//
// SearchFullText quotes every term before building the MATCH expression,
// so user input cannot inject FTS5 operators. SearchSubstring is the LIKE
// fallback used for short terms, punctuation or builds without FTS5. Both
// order results by importance, then name, then id.
//
// # Build Tags
//
// CGO Build (sqlite_vec tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Add sqlite_fts5 for full-text search
//
//     CGO_ENABLED=1 go build -tags "sqlite_vec,sqlite_fts5"
//
// Pure Go Build (default, or purego tag):
//
//   - Uses modernc.org/sqlite driver
//
//   - No C compiler needed
//
//     CGO_ENABLED=0 go build -tags "purego"
package storage
