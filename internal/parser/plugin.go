package parser

import (
	"fmt"
	"path"
	"strings"

	"github.com/dshills/codegraph/pkg/types"
)

// Plugin turns the source of one file into nodes, relationships and
// unresolved references. Implementations must be safe for concurrent use
// and must report problems through types.Failed rather than panicking.
type Plugin interface {
	Name() string
	Extensions() []string
	CanParse(path string) bool
	ParseFile(path string, content []byte) types.ParseResult
}

// LanguageMatcher is implemented by plugins that also claim files by
// detected language, such as extension-less scripts with a shebang line.
type LanguageMatcher interface {
	Languages() []string
}

// hasExtension reports whether path ends with one of exts, ignoring case
func hasExtension(p string, exts []string) bool {
	ext := strings.ToLower(path.Ext(p))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// SynthesizeName builds the fallback identity for a node without a name:
// {node_type}_{basename}, with _2, _3... appended on repeated use. seen is
// updated in place and must be scoped to one file.
func SynthesizeName(nodeType types.NodeType, filePath string, seen map[string]int) string {
	base := path.Base(filePath)
	if base == "." || base == "/" || base == "" {
		base = "root"
	}
	name := fmt.Sprintf("%s_%s", types.NormalizeNodeType(nodeType), base)

	seen[name]++
	if n := seen[name]; n > 1 {
		return fmt.Sprintf("%s_%d", name, n)
	}
	return name
}

// NodeFactory accumulates the nodes of one parse call. It assigns
// file-local ids starting at 1 and guarantees that every node it creates
// has a non-empty name and type.
type NodeFactory struct {
	path     string
	language string

	nodes []types.Node
	rels  []types.Relationship
	refs  []types.Reference
	seen  map[string]int
}

// NewNodeFactory creates a factory for the file at path (project-relative)
func NewNodeFactory(filePath, language string) *NodeFactory {
	return &NodeFactory{
		path:     filePath,
		language: language,
		seen:     make(map[string]int),
	}
}

// Add creates a node and returns its file-local id
func (f *NodeFactory) Add(nodeType types.NodeType, name string, line, col int, summary string) int64 {
	nodeType = types.NormalizeNodeType(nodeType)
	name = strings.TrimSpace(name)
	if name == "" {
		name = SynthesizeName(nodeType, f.path, f.seen)
	}
	if line < 0 {
		line = 0
	}
	if col < 0 {
		col = 0
	}

	id := int64(len(f.nodes) + 1)
	f.nodes = append(f.nodes, types.Node{
		ID:           id,
		Name:         name,
		NodeType:     nodeType,
		Path:         f.path,
		Summary:      types.TruncateSummary(summary),
		LineNumber:   line,
		ColumnNumber: col,
		Language:     f.language,
	})
	return id
}

// AddFile creates the file-level node, named after the file's base name
func (f *NodeFactory) AddFile(summary string) int64 {
	return f.Add(types.NodeFile, path.Base(f.path), 1, 0, summary)
}

// Link records a relationship between two nodes of this file
func (f *NodeFactory) Link(source, target int64, relType types.RelationshipType) {
	if source <= 0 || target <= 0 || source == target {
		return
	}
	f.rels = append(f.rels, types.Relationship{SourceID: source, TargetID: target, Type: relType})
}

// Refer records a reference to a declaration known only by name
func (f *NodeFactory) Refer(source int64, relType types.RelationshipType, kind types.ReferenceKind, target string, candidates ...string) {
	target = strings.TrimSpace(target)
	if source <= 0 || target == "" {
		return
	}
	for _, r := range f.refs {
		if r.SourceID == source && r.Type == relType && r.Kind == kind && r.Target == target {
			return
		}
	}
	f.refs = append(f.refs, types.Reference{
		SourceID:   source,
		Type:       relType,
		Kind:       kind,
		Target:     target,
		Candidates: candidates,
	})
}

// Result returns the accumulated entities as a successful ParseResult
func (f *NodeFactory) Result() types.ParseResult {
	return types.Succeeded(f.nodes, f.rels, f.refs)
}

// Path returns the project-relative path the factory was created for
func (f *NodeFactory) Path() string {
	return f.path
}
