//go:build cgo

package parser

import (
	"fmt"
	"path"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// parseTree runs a tree-sitter parse and hands the root node to fn.
// Trees with syntax errors are reported as failures.
func parseTree(lang *tree_sitter.Language, content []byte, fn func(root *tree_sitter.Node)) error {
	parser := tree_sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(lang); err != nil {
		return fmt.Errorf("set language: %w", err)
	}

	tree := parser.Parse(content, nil)
	if tree == nil {
		return fmt.Errorf("tree-sitter returned no tree")
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return fmt.Errorf("tree-sitter returned nil root node")
	}
	if root.HasError() {
		line := firstErrorLine(root)
		return fmt.Errorf("syntax error near line %d", line)
	}

	fn(root)
	return nil
}

// firstErrorLine finds the 1-based line of the first error or missing node
func firstErrorLine(node *tree_sitter.Node) int {
	if node.IsError() || node.IsMissing() {
		return int(node.StartPosition().Row) + 1
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child != nil && child.HasError() {
			return firstErrorLine(child)
		}
	}
	return int(node.StartPosition().Row) + 1
}

// position returns the 1-based line and 0-based column of node
func position(node *tree_sitter.Node) (int, int) {
	p := node.StartPosition()
	return int(p.Row) + 1, int(p.Column)
}

// fieldText returns the source text of a named field, or ""
func fieldText(node *tree_sitter.Node, field string, content []byte) string {
	child := node.ChildByFieldName(field)
	if child == nil {
		return ""
	}
	return child.Utf8Text(content)
}

// namedChildren returns the named children of node
func namedChildren(node *tree_sitter.Node) []*tree_sitter.Node {
	if node == nil {
		return nil
	}
	out := make([]*tree_sitter.Node, 0, node.NamedChildCount())
	for i := uint(0); i < node.NamedChildCount(); i++ {
		if child := node.NamedChild(i); child != nil {
			out = append(out, child)
		}
	}
	return out
}

// lastSegment returns the final identifier of a dotted or member expression
func lastSegment(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, ".:"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// unquote strips string prefixes and quotes from a string literal
func unquote(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "rRuUbBfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`, "`"} {
		if len(s) >= 2*len(q) && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			return s[len(q) : len(s)-len(q)]
		}
	}
	return s
}

// joinCandidates cleans candidate paths and drops duplicates or paths
// escaping the project root
func joinCandidates(paths ...string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = path.Clean(p)
		if p == "." || strings.HasPrefix(p, "../") || p == ".." || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
