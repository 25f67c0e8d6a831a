package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/dshills/codegraph/pkg/types"
)

// Stats computes per-project statistics
func (s *SQLiteStorage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		NodesByType:         make(map[types.NodeType]int),
		RelationshipsByType: make(map[types.RelationshipType]int),
		FullText:            s.fullText,
		BuildMode:           BuildMode,
	}

	project, err := s.getProjectWithQuerier(ctx, s.reader)
	if err != nil && err != ErrNotFound {
		return nil, err
	}
	if project != nil {
		stats.RootPath = project.RootPath
		stats.UnitID = project.UnitID
		stats.Generation = project.Generation
		stats.LastIndexedAt = project.LastIndexedAt
		stats.LastRunID = project.LastRunID
	}

	err = s.reader.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(CASE WHEN parse_error <> '' THEN 1 ELSE 0 END), 0) FROM files",
	).Scan(&stats.Files, &stats.ParseErrors)
	if err != nil {
		return nil, mapError(err)
	}

	if err := s.countBy(ctx, "SELECT node_type, COUNT(*) FROM nodes GROUP BY node_type", func(key string, n int) {
		stats.NodesByType[types.NodeType(key)] = n
		stats.Nodes += n
	}); err != nil {
		return nil, err
	}

	if err := s.countBy(ctx, "SELECT relationship_type, COUNT(*) FROM relationships GROUP BY relationship_type", func(key string, n int) {
		stats.RelationshipsByType[types.RelationshipType(key)] = n
		stats.Relationships += n
	}); err != nil {
		return nil, err
	}

	// References without a derived relationship of the same type from the
	// same source are unresolved
	err = s.reader.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM refs f
		WHERE NOT EXISTS (
			SELECT 1 FROM relationships r
			WHERE r.source_id = f.source_id AND r.relationship_type = f.relationship_type AND r.derived = 1
		)
	`).Scan(&stats.UnresolvedRefs)
	if err != nil {
		return nil, mapError(err)
	}

	version, err := SchemaVersion(ctx, s.reader)
	if err != nil {
		return nil, mapError(err)
	}
	stats.SchemaVersion = version.String()

	stats.SizeBytes = s.sizeBytes(ctx)
	stats.SizeHuman = humanize.Bytes(uint64(stats.SizeBytes))

	return stats, nil
}

func (s *SQLiteStorage) countBy(ctx context.Context, query string, fn func(key string, n int)) error {
	rows, err := s.reader.QueryContext(ctx, query)
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return mapError(err)
		}
		fn(key, n)
	}
	return mapError(rows.Err())
}

// sizeBytes returns the on-disk size of the unit including its WAL, or the
// page size estimate for in-memory databases
func (s *SQLiteStorage) sizeBytes(ctx context.Context) int64 {
	if s.path != memoryPath {
		var total int64
		for _, p := range []string{s.path, s.path + "-wal"} {
			if info, err := os.Stat(p); err == nil {
				total += info.Size()
			}
		}
		if total > 0 {
			return total
		}
	}

	var pageCount, pageSize int64
	if err := s.reader.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0
	}
	if err := s.reader.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0
	}
	return pageCount * pageSize
}

// RecordRun inserts or updates the bookkeeping row of an index run
func (s *SQLiteStorage) RecordRun(ctx context.Context, run *IndexRun) error {
	if run.RunID == "" {
		return fmt.Errorf("%w: run id is required", types.ErrInvalidRequest)
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO index_runs (run_id, started_at, finished_at, status, files_indexed,
			                        files_failed, nodes, relationships, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id) DO UPDATE SET
				finished_at = excluded.finished_at,
				status = excluded.status,
				files_indexed = excluded.files_indexed,
				files_failed = excluded.files_failed,
				nodes = excluded.nodes,
				relationships = excluded.relationships,
				error = excluded.error
		`, run.RunID, toMillis(run.StartedAt), nullMillis(run.FinishedAt), run.Status,
			run.FilesIndexed, run.FilesFailed, run.Nodes, run.Relationships, run.Error)
		if err != nil {
			return fmt.Errorf("failed to record run %s: %w", run.RunID, err)
		}
		return nil
	})
}

// RecentRuns lists index runs, newest first
func (s *SQLiteStorage) RecentRuns(ctx context.Context, limit int) ([]IndexRun, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT run_id, started_at, finished_at, status, files_indexed, files_failed,
		       nodes, relationships, error
		FROM index_runs
		ORDER BY started_at DESC, run_id
		LIMIT ?
	`, limitOrAll(limit))
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	runs := make([]IndexRun, 0)
	for rows.Next() {
		var r IndexRun
		var started, finished sql.NullInt64
		if err := rows.Scan(&r.RunID, &started, &finished, &r.Status, &r.FilesIndexed,
			&r.FilesFailed, &r.Nodes, &r.Relationships, &r.Error); err != nil {
			return nil, mapError(err)
		}
		r.StartedAt = fromMillis(started)
		r.FinishedAt = fromMillis(finished)
		runs = append(runs, r)
	}
	return runs, mapError(rows.Err())
}
