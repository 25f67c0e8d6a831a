package types

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// NodeType identifies the kind of code entity a node represents.
// The set is open: parser plugins may introduce their own types.
type NodeType string

const (
	NodeFile      NodeType = "file"
	NodeClass     NodeType = "class"
	NodeInterface NodeType = "interface"
	NodeFunction  NodeType = "function"
	NodeMethod    NodeType = "method"
	NodeVariable  NodeType = "variable"
	NodeImport    NodeType = "import"
	NodeModule    NodeType = "module"
	NodeUnknown   NodeType = "unknown"
)

// RelationshipType identifies the kind of a directed edge between nodes
type RelationshipType string

const (
	RelContains RelationshipType = "contains"
	RelImports  RelationshipType = "imports"
	RelCalls    RelationshipType = "calls"
	RelUses     RelationshipType = "uses"
	RelInherits RelationshipType = "inherits"
)

// ReferenceKind tells the resolver how to interpret a reference target
type ReferenceKind string

const (
	// RefSymbol targets a declaration by name (calls, inheritance, usage)
	RefSymbol ReferenceKind = "symbol"
	// RefModule targets a file-level module (Python/JS imports)
	RefModule ReferenceKind = "module"
	// RefPackage targets every file of a directory-level package (Go imports)
	RefPackage ReferenceKind = "package"
)

// SummaryLimit is the maximum number of runes kept in a node summary
const SummaryLimit = 240

// Node is a code entity in the graph
type Node struct {
	ID              int64
	Name            string
	NodeType        NodeType
	Path            string // slash-separated, relative to project root
	Summary         string
	LineNumber      int // 1-based, 0 for synthetic nodes
	ColumnNumber    int // 0-based
	ImportanceScore float64
	Language        string
}

// Relationship is a directed, typed edge between two node ids
type Relationship struct {
	SourceID int64
	TargetID int64
	Type     RelationshipType
}

// Reference is an edge whose target is only known by name when the file is
// parsed. The indexer resolves references against the whole graph.
type Reference struct {
	SourceID   int64
	Type       RelationshipType
	Kind       ReferenceKind
	Target     string
	Candidates []string // candidate project-relative paths for module references
}

var (
	ErrEmptyName     = errors.New("node name cannot be empty")
	ErrEmptyNodeType = errors.New("node type cannot be empty")
	ErrInvalidScore  = errors.New("importance score must be between 0 and 1")
	ErrInvalidEdge   = errors.New("relationship endpoints must be positive ids")
)

// Validate checks the identity invariants of a node
func (n *Node) Validate() error {
	if strings.TrimSpace(n.Name) == "" {
		return ErrEmptyName
	}
	if strings.TrimSpace(string(n.NodeType)) == "" {
		return ErrEmptyNodeType
	}
	if n.ImportanceScore < 0 || n.ImportanceScore > 1 {
		return ErrInvalidScore
	}
	return nil
}

// Validate checks that both endpoints are set
func (r *Relationship) Validate() error {
	if r.SourceID <= 0 || r.TargetID <= 0 {
		return ErrInvalidEdge
	}
	return nil
}

// TruncateSummary collapses whitespace and caps s at SummaryLimit runes
func TruncateSummary(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= SummaryLimit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:SummaryLimit-1])) + "…"
}

// NormalizeNodeType lower-cases and trims a node type, mapping empty to NodeUnknown
func NormalizeNodeType(t NodeType) NodeType {
	n := NodeType(strings.ToLower(strings.TrimSpace(string(t))))
	if n == "" {
		return NodeUnknown
	}
	return n
}
