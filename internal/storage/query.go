package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dshills/codegraph/pkg/types"
)

const resultOrder = " ORDER BY n.importance_score DESC, n.name ASC, n.id ASC"

// Eligible reports whether the full-text engine can serve term: at least
// two runes and at least one letter or digit
func (t Term) Eligible() bool {
	if utf8.RuneCountInString(strings.TrimSpace(t.Text)) < 2 {
		return false
	}
	for _, r := range t.Text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// FullTextExpression translates q into an FTS5 MATCH expression. Every
// term is quoted so user input never reaches the FTS5 query syntax; bare
// tokens become prefix queries. It returns false when some term is not
// eligible or there is no positive term.
func FullTextExpression(q *Query) (string, bool) {
	var positive, negative []string
	for _, t := range q.Terms {
		if !t.Eligible() {
			return "", false
		}
		quoted := `"` + strings.ReplaceAll(t.Text, `"`, `""`) + `"`
		if !t.Phrase || t.Prefix {
			quoted += "*"
		}
		if t.Negated {
			negative = append(negative, quoted)
		} else {
			positive = append(positive, quoted)
		}
	}
	if len(positive) == 0 {
		return "", false
	}

	op := " OR "
	if q.MatchAll {
		op = " AND "
	}
	expr := "(" + strings.Join(positive, op) + ")"
	for _, n := range negative {
		expr += " NOT " + n
	}
	return expr, true
}

// SearchFullText runs q against the FTS5 index
func (s *SQLiteStorage) SearchFullText(ctx context.Context, q *Query) ([]types.Node, error) {
	if !s.fullText {
		return nil, ErrFullTextUnavailable
	}
	expr, ok := FullTextExpression(q)
	if !ok {
		return nil, fmt.Errorf("%w: no searchable terms", ErrFullTextQuery)
	}

	sqlQuery := `
		SELECT ` + nodeColumns + `
		FROM nodes_fts
		JOIN nodes n ON n.id = nodes_fts.rowid
		WHERE nodes_fts MATCH ?`
	args := []interface{}{expr}
	sqlQuery, args = applyTypeFilter(sqlQuery, args, q.NodeType)
	sqlQuery += resultOrder + " LIMIT ?"
	args = append(args, limitOrAll(q.Limit))

	rows, err := s.reader.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrFullTextQuery, err)
	}
	nodes, err := collectNodes(rows)
	if err != nil && ctx.Err() == nil && !errors.Is(err, types.ErrStorageBusy) {
		return nil, fmt.Errorf("%w: %w", ErrFullTextQuery, err)
	}
	return nodes, err
}

// escapeLike escapes LIKE wildcards so terms match literally
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// SearchSubstring runs q as case-insensitive substring matches over name,
// path and summary
func (s *SQLiteStorage) SearchSubstring(ctx context.Context, q *Query) ([]types.Node, error) {
	const match = `(n.name LIKE ? ESCAPE '\' OR n.path LIKE ? ESCAPE '\' OR n.summary LIKE ? ESCAPE '\')`

	var (
		positive, negative []string
		posArgs, negArgs   []interface{}
	)
	for _, t := range q.Terms {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		p := "%" + escapeLike(text) + "%"
		if t.Negated {
			negative = append(negative, "NOT "+match)
			negArgs = append(negArgs, p, p, p)
		} else {
			positive = append(positive, match)
			posArgs = append(posArgs, p, p, p)
		}
	}
	args := append(posArgs, negArgs...)

	var where []string
	if len(positive) > 0 {
		op := " OR "
		if q.MatchAll {
			op = " AND "
		}
		where = append(where, "("+strings.Join(positive, op)+")")
	}
	where = append(where, negative...)
	if len(where) == 0 {
		return []types.Node{}, nil
	}

	sqlQuery := `SELECT ` + nodeColumns + ` FROM nodes n WHERE ` + strings.Join(where, " AND ")
	sqlQuery, args = applyTypeFilter(sqlQuery, args, q.NodeType)
	sqlQuery += resultOrder + " LIMIT ?"
	args = append(args, limitOrAll(q.Limit))

	rows, err := s.reader.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, mapError(err)
	}
	return collectNodes(rows)
}

func applyTypeFilter(query string, args []interface{}, nodeType types.NodeType) (string, []interface{}) {
	if nodeType == "" {
		return query, args
	}
	return query + " AND n.node_type = ?", append(args, string(nodeType))
}

// limitOrAll maps a non-positive limit to SQLite's "no limit"
func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// ListByType lists nodes of one type in result order
func (s *SQLiteStorage) ListByType(ctx context.Context, nodeType types.NodeType, limit int) ([]types.Node, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes n WHERE n.node_type = ?`+resultOrder+` LIMIT ?`,
		string(nodeType), limitOrAll(limit))
	if err != nil {
		return nil, mapError(err)
	}
	return collectNodes(rows)
}

// TopByImportance returns the highest scored nodes, optionally of one type
func (s *SQLiteStorage) TopByImportance(ctx context.Context, nodeType types.NodeType, limit int) ([]types.Node, error) {
	sqlQuery := `SELECT ` + nodeColumns + ` FROM nodes n WHERE 1 = 1`
	sqlQuery, args := applyTypeFilter(sqlQuery, nil, nodeType)
	sqlQuery += resultOrder + " LIMIT ?"
	args = append(args, limitOrAll(limit))

	rows, err := s.reader.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, mapError(err)
	}
	return collectNodes(rows)
}

// HasNodeType reports whether any stored node has the given type
func (s *SQLiteStorage) HasNodeType(ctx context.Context, nodeType types.NodeType) (bool, error) {
	var one int
	err := s.reader.QueryRowContext(ctx, "SELECT 1 FROM nodes WHERE node_type = ? LIMIT 1", string(nodeType)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, mapError(err)
	}
	return true, nil
}

// NodeTypes lists the distinct stored node types, sorted
func (s *SQLiteStorage) NodeTypes(ctx context.Context) ([]types.NodeType, error) {
	rows, err := s.reader.QueryContext(ctx, "SELECT DISTINCT node_type FROM nodes ORDER BY node_type")
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.NodeType
	for rows.Next() {
		var t types.NodeType
		if err := rows.Scan(&t); err != nil {
			return nil, mapError(err)
		}
		out = append(out, t)
	}
	return out, mapError(rows.Err())
}

// GetNode retrieves a node by id
func (s *SQLiteStorage) GetNode(ctx context.Context, id int64) (*types.Node, error) {
	row := s.reader.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes n WHERE n.id = ?`, id)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &n, nil
}

// Neighbors returns the nodes directly connected to id, outgoing edges
// first, each group in result order
func (s *SQLiteStorage) Neighbors(ctx context.Context, id int64) ([]Neighbor, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT `+nodeColumns+`, r.relationship_type, 1 AS outgoing, r.derived
		FROM relationships r JOIN nodes n ON n.id = r.target_id
		WHERE r.source_id = ?
		UNION ALL
		SELECT `+nodeColumns+`, r.relationship_type, 0 AS outgoing, r.derived
		FROM relationships r JOIN nodes n ON n.id = r.source_id
		WHERE r.target_id = ?
		ORDER BY outgoing DESC, 8 DESC, 2 ASC, 1 ASC
	`, id, id)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Neighbor, 0)
	for rows.Next() {
		var nb Neighbor
		n := &nb.Node
		if err := rows.Scan(&n.ID, &n.Name, &n.NodeType, &n.Path, &n.Summary, &n.LineNumber,
			&n.ColumnNumber, &n.ImportanceScore, &n.Language, &nb.Type, &nb.Outgoing, &nb.Derived); err != nil {
			return nil, mapError(err)
		}
		out = append(out, nb)
	}
	return out, mapError(rows.Err())
}
