package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/dshills/codegraph/pkg/types"
)

const nodeColumns = `n.id, n.name, n.node_type, n.path, n.summary, n.line_number,
	n.column_number, n.importance_score, n.language`

// scanNode scans the nodeColumns of one row
func scanNode(rows interface{ Scan(...interface{}) error }) (types.Node, error) {
	var n types.Node
	err := rows.Scan(&n.ID, &n.Name, &n.NodeType, &n.Path, &n.Summary,
		&n.LineNumber, &n.ColumnNumber, &n.ImportanceScore, &n.Language)
	return n, err
}

// collectNodes drains rows of nodeColumns
func collectNodes(rows *sql.Rows) ([]types.Node, error) {
	defer func() { _ = rows.Close() }()

	nodes := make([]types.Node, 0)
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, mapError(err)
		}
		nodes = append(nodes, n)
	}
	return nodes, mapError(rows.Err())
}

// LoadGraph reads the stored generation: files, file-owned nodes with
// their in-file relationships and references, and derived nodes
func (s *SQLiteStorage) LoadGraph(ctx context.Context) (*Graph, error) {
	files, err := s.listFilesWithQuerier(ctx, s.reader)
	if err != nil {
		return nil, err
	}
	graph := &Graph{Files: files}

	rows, err := s.reader.QueryContext(ctx, `SELECT `+nodeColumns+`, n.derived FROM nodes n ORDER BY n.id`)
	if err != nil {
		return nil, mapError(err)
	}
	for rows.Next() {
		var (
			n       types.Node
			derived bool
		)
		if err := rows.Scan(&n.ID, &n.Name, &n.NodeType, &n.Path, &n.Summary,
			&n.LineNumber, &n.ColumnNumber, &n.ImportanceScore, &n.Language, &derived); err != nil {
			_ = rows.Close()
			return nil, mapError(err)
		}
		if derived {
			graph.Derived = append(graph.Derived, n)
		} else {
			graph.Nodes = append(graph.Nodes, n)
		}
		if n.ID > graph.MaxID {
			graph.MaxID = n.ID
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, mapError(err)
	}
	_ = rows.Close()

	rows, err = s.reader.QueryContext(ctx, `
		SELECT source_id, target_id, relationship_type
		FROM relationships
		WHERE derived = 0
		ORDER BY source_id, target_id, relationship_type
	`)
	if err != nil {
		return nil, mapError(err)
	}
	for rows.Next() {
		var r types.Relationship
		if err := rows.Scan(&r.SourceID, &r.TargetID, &r.Type); err != nil {
			_ = rows.Close()
			return nil, mapError(err)
		}
		graph.Relationships = append(graph.Relationships, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, mapError(err)
	}
	_ = rows.Close()

	rows, err = s.reader.QueryContext(ctx, `
		SELECT source_id, relationship_type, kind, target, candidates
		FROM refs
		ORDER BY id
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			r          types.Reference
			candidates string
		)
		if err := rows.Scan(&r.SourceID, &r.Type, &r.Kind, &r.Target, &candidates); err != nil {
			return nil, mapError(err)
		}
		if err := json.Unmarshal([]byte(candidates), &r.Candidates); err != nil {
			return nil, fmt.Errorf("%w: corrupt reference candidates: %w", types.ErrStorage, err)
		}
		graph.References = append(graph.References, r)
	}
	return graph, mapError(rows.Err())
}

// ApplyGeneration writes one index run in a single transaction. Readers
// observe either the previous generation or the new one.
func (s *SQLiteStorage) ApplyGeneration(ctx context.Context, gen *Generation) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if err := s.clearWithQuerier(ctx, tx, gen); err != nil {
			return err
		}
		if err := s.upsertFilesWithQuerier(ctx, tx, gen.Files); err != nil {
			return err
		}
		if err := s.insertNodesWithQuerier(ctx, tx, gen.Nodes, false); err != nil {
			return err
		}
		if err := s.insertNodesWithQuerier(ctx, tx, gen.DerivedNodes, true); err != nil {
			return err
		}
		if err := s.insertRelationshipsWithQuerier(ctx, tx, gen.Relationships, false); err != nil {
			return err
		}
		if err := s.insertRelationshipsWithQuerier(ctx, tx, gen.DerivedRelationships, true); err != nil {
			return err
		}
		if err := s.insertReferencesWithQuerier(ctx, tx, gen.References); err != nil {
			return err
		}
		if err := s.updateScoresWithQuerier(ctx, tx, gen.Scores); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE project
			SET generation = generation + 1, last_indexed_at = ?, last_run_id = ?
			WHERE id = 1
		`, nullMillis(gen.IndexedAt), gen.RunID)
		if err != nil {
			return fmt.Errorf("failed to update project: %w", err)
		}
		return nil
	})
}

// clearWithQuerier removes what the generation replaces: everything on a
// full rebuild, otherwise the changed and deleted files' nodes plus all
// derived entities
func (s *SQLiteStorage) clearWithQuerier(ctx context.Context, q querier, gen *Generation) error {
	if gen.FullRebuild {
		for _, stmt := range []string{
			"DELETE FROM refs",
			"DELETE FROM relationships",
			"DELETE FROM nodes",
			"DELETE FROM files",
		} {
			if _, err := q.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to clear graph: %w", err)
			}
		}
		return nil
	}

	for _, f := range gen.Files {
		if _, err := q.ExecContext(ctx, "DELETE FROM nodes WHERE derived = 0 AND path = ?", f.Path); err != nil {
			return fmt.Errorf("failed to delete nodes of %s: %w", f.Path, err)
		}
	}
	for _, p := range gen.DeletedPaths {
		if _, err := q.ExecContext(ctx, "DELETE FROM nodes WHERE derived = 0 AND path = ?", p); err != nil {
			return fmt.Errorf("failed to delete nodes of %s: %w", p, err)
		}
		if _, err := q.ExecContext(ctx, "DELETE FROM files WHERE path = ?", p); err != nil {
			return fmt.Errorf("failed to delete file %s: %w", p, err)
		}
	}

	if _, err := q.ExecContext(ctx, "DELETE FROM relationships WHERE derived = 1"); err != nil {
		return fmt.Errorf("failed to delete derived relationships: %w", err)
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM nodes WHERE derived = 1"); err != nil {
		return fmt.Errorf("failed to delete derived nodes: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) upsertFilesWithQuerier(ctx context.Context, q querier, files []File) error {
	if len(files) == 0 {
		return nil
	}
	stmt, err := prepare(ctx, q, `
		INSERT INTO files (path, language, content_hash, size_bytes, mod_time, parse_error, node_count, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			language = excluded.language,
			content_hash = excluded.content_hash,
			size_bytes = excluded.size_bytes,
			mod_time = excluded.mod_time,
			parse_error = excluded.parse_error,
			node_count = excluded.node_count,
			indexed_at = excluded.indexed_at
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, f := range files {
		if _, err := stmt.ExecContext(ctx, f.Path, f.Language, f.ContentHash, f.SizeBytes,
			nullMillis(f.ModTime), f.ParseError, f.NodeCount, nullMillis(f.IndexedAt)); err != nil {
			return fmt.Errorf("failed to upsert file %s: %w", f.Path, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) insertNodesWithQuerier(ctx context.Context, q querier, nodes []types.Node, derived bool) error {
	if len(nodes) == 0 {
		return nil
	}
	stmt, err := prepare(ctx, q, `
		INSERT INTO nodes (id, name, node_type, path, summary, line_number, column_number,
		                   importance_score, language, derived, search_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for i := range nodes {
		n := &nodes[i]
		if err := n.Validate(); err != nil {
			return fmt.Errorf("node %d: %w", n.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, n.ID, n.Name, string(n.NodeType), n.Path,
			types.TruncateSummary(n.Summary), n.LineNumber, n.ColumnNumber, n.ImportanceScore,
			n.Language, derived, SearchText(n)); err != nil {
			return fmt.Errorf("failed to insert node %d (%s): %w", n.ID, n.Name, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) insertRelationshipsWithQuerier(ctx context.Context, q querier, rels []types.Relationship, derived bool) error {
	if len(rels) == 0 {
		return nil
	}
	stmt, err := prepare(ctx, q, `
		INSERT OR IGNORE INTO relationships (source_id, target_id, relationship_type, derived)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range rels {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("relationship %d->%d: %w", r.SourceID, r.TargetID, err)
		}
		if _, err := stmt.ExecContext(ctx, r.SourceID, r.TargetID, string(r.Type), derived); err != nil {
			return fmt.Errorf("failed to insert relationship %d->%d: %w", r.SourceID, r.TargetID, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) insertReferencesWithQuerier(ctx context.Context, q querier, refs []types.Reference) error {
	if len(refs) == 0 {
		return nil
	}
	stmt, err := prepare(ctx, q, `
		INSERT INTO refs (source_id, relationship_type, kind, target, candidates)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range refs {
		candidates := r.Candidates
		if candidates == nil {
			candidates = []string{}
		}
		encoded, err := json.Marshal(candidates)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, r.SourceID, string(r.Type), string(r.Kind), r.Target, string(encoded)); err != nil {
			return fmt.Errorf("failed to insert reference %d->%s: %w", r.SourceID, r.Target, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) updateScoresWithQuerier(ctx context.Context, q querier, scores map[int64]float64) error {
	if len(scores) == 0 {
		return nil
	}
	stmt, err := prepare(ctx, q, "UPDATE nodes SET importance_score = ? WHERE id = ?")
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for id, score := range scores {
		if score < 0 || score > 1 {
			return fmt.Errorf("node %d: %w", id, types.ErrInvalidScore)
		}
		if _, err := stmt.ExecContext(ctx, score, id); err != nil {
			return fmt.Errorf("failed to update score of node %d: %w", id, err)
		}
	}
	return nil
}

// prepare prepares a statement on a *sql.DB or *sql.Tx
func prepare(ctx context.Context, q querier, query string) (*sql.Stmt, error) {
	p, ok := q.(interface {
		PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	})
	if !ok {
		return nil, fmt.Errorf("querier cannot prepare statements")
	}
	stmt, err := p.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	return stmt, nil
}

// SearchText builds the denormalized text indexed for a node: its name,
// the name split into words, its path and its summary
func SearchText(n *types.Node) string {
	parts := []string{n.Name}
	if words := SplitIdentifier(n.Name); words != n.Name {
		parts = append(parts, words)
	}
	parts = append(parts, n.Path)
	if n.Summary != "" {
		parts = append(parts, types.TruncateSummary(n.Summary))
	}
	return strings.Join(parts, " ")
}

// SplitIdentifier separates camelCase, PascalCase and snake_case words:
// "HTTPServerConfig" becomes "HTTP Server Config"
func SplitIdentifier(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if r == '_' || r == '-' || r == '.' {
			b.WriteRune(' ')
			continue
		}
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteRune(' ')
			}
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
