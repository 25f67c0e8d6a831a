package indexer

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/dshills/codegraph/internal/parser"
	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/pkg/types"
)

// fileResult is the outcome of reading and parsing one discovered file
type fileResult struct {
	file      storage.File
	result    types.ParseResult
	unchanged bool
	binary    bool
	failure   string // read or parse failure, empty on success
}

// edgeKey identifies a relationship for de-duplication
type edgeKey struct {
	src, dst int64
	typ      types.RelationshipType
}

// merger assembles the next generation from the kept part of the stored
// graph and freshly parsed files. It is not safe for concurrent use.
type merger struct {
	full     bool
	nextID   int64
	module   string // Go module path of the project, if any
	weights  Weights
	warnings []string

	nodes    []types.Node // every file-owned node of the new generation
	byID     map[int64]int // id -> position in nodes
	edges    map[edgeKey]bool
	structs  []types.Relationship // every structural relationship
	refs     []types.Reference    // every reference
	previous map[string]int64     // derived node name -> previous id

	gen *storage.Generation
}

func newMerger(prev *storage.Graph, full bool, module string, weights Weights) *merger {
	m := &merger{
		full:     full,
		module:   module,
		weights:  weights,
		byID:     make(map[int64]int),
		edges:    make(map[edgeKey]bool),
		previous: make(map[string]int64),
		gen:      &storage.Generation{FullRebuild: full, Scores: make(map[int64]float64)},
	}
	if full {
		m.nextID = 1
		return m
	}
	m.nextID = prev.MaxID + 1
	for _, d := range prev.Derived {
		m.previous[d.Name] = d.ID
	}
	return m
}

func (m *merger) warnf(format string, args ...interface{}) {
	m.warnings = append(m.warnings, fmt.Sprintf(format, args...))
}

// keep carries over the stored nodes, relationships and references of
// files that did not change
func (m *merger) keep(prev *storage.Graph, unchanged map[string]bool) {
	if m.full {
		return
	}
	for _, n := range prev.Nodes {
		if unchanged[n.Path] {
			m.byID[n.ID] = len(m.nodes)
			m.nodes = append(m.nodes, n)
		}
	}
	for _, r := range prev.Relationships {
		if m.has(r.SourceID) && m.has(r.TargetID) {
			m.addStructural(r)
		}
	}
	for _, r := range prev.References {
		if m.has(r.SourceID) {
			m.refs = append(m.refs, r)
		}
	}
}

// add assigns global ids to the entities of one parsed file and validates
// them. Relationships and references whose endpoints are unknown are
// dropped with a warning.
func (m *merger) add(fr *fileResult) {
	local := make(map[int64]int64, len(fr.result.Nodes))
	seen := make(map[string]int)
	start := len(m.nodes)

	for _, n := range fr.result.Nodes {
		if n.Path != fr.file.Path {
			n.Path = fr.file.Path
		}
		n.NodeType = types.NormalizeNodeType(n.NodeType)
		if strings.TrimSpace(n.Name) == "" {
			n.Name = parser.SynthesizeName(n.NodeType, n.Path, seen)
			m.warnf("%s: unnamed %s node named %s", n.Path, n.NodeType, n.Name)
		}
		n.Summary = types.TruncateSummary(n.Summary)
		if n.Language == "" {
			n.Language = fr.file.Language
		}
		if n.LineNumber < 0 {
			n.LineNumber = 0
		}
		if n.ColumnNumber < 0 {
			n.ColumnNumber = 0
		}
		n.ImportanceScore = 0

		id := m.nextID
		m.nextID++
		if n.ID > 0 {
			if _, dup := local[n.ID]; dup {
				m.warnf("%s: duplicate node id %d", n.Path, n.ID)
			} else {
				local[n.ID] = id
			}
		}
		n.ID = id
		m.byID[id] = len(m.nodes)
		m.nodes = append(m.nodes, n)
	}
	fr.file.NodeCount = len(m.nodes) - start
	m.gen.Nodes = append(m.gen.Nodes, m.nodes[start:]...)

	for _, r := range fr.result.Relationships {
		src, okSrc := local[r.SourceID]
		dst, okDst := local[r.TargetID]
		if !okSrc || !okDst || src == dst {
			m.warnf("%s: dropped dangling %s relationship %d -> %d", fr.file.Path, r.Type, r.SourceID, r.TargetID)
			continue
		}
		rel := types.Relationship{SourceID: src, TargetID: dst, Type: r.Type}
		if m.addStructural(rel) {
			m.gen.Relationships = append(m.gen.Relationships, rel)
		}
	}

	for _, r := range fr.result.References {
		src, ok := local[r.SourceID]
		if !ok || strings.TrimSpace(r.Target) == "" {
			m.warnf("%s: dropped dangling %s reference to %q", fr.file.Path, r.Type, r.Target)
			continue
		}
		r.SourceID = src
		m.refs = append(m.refs, r)
		m.gen.References = append(m.gen.References, r)
	}
}

func (m *merger) has(id int64) bool {
	_, ok := m.byID[id]
	return ok
}

func (m *merger) node(id int64) *types.Node {
	return &m.nodes[m.byID[id]]
}

func (m *merger) addStructural(r types.Relationship) bool {
	k := edgeKey{r.SourceID, r.TargetID, r.Type}
	if m.edges[k] {
		return false
	}
	m.edges[k] = true
	m.structs = append(m.structs, r)
	return true
}

// graphIndex holds lookup tables over the merged nodes
type graphIndex struct {
	fileByPath map[string]int64
	goFiles    map[string][]int64 // directory -> Go file node ids
	byName     map[string][]int64 // declarations by name, ascending id
	pathOf     map[int64]string
	langOf     map[string]string // file path -> language
}

func (m *merger) buildIndex() *graphIndex {
	idx := &graphIndex{
		fileByPath: make(map[string]int64),
		goFiles:    make(map[string][]int64),
		byName:     make(map[string][]int64),
		pathOf:     make(map[int64]string, len(m.nodes)),
		langOf:     make(map[string]string),
	}

	sorted := make([]*types.Node, len(m.nodes))
	for i := range m.nodes {
		sorted[i] = &m.nodes[i]
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, n := range sorted {
		idx.pathOf[n.ID] = n.Path
		switch n.NodeType {
		case types.NodeFile:
			if _, ok := idx.fileByPath[n.Path]; !ok {
				idx.fileByPath[n.Path] = n.ID
				idx.langOf[n.Path] = n.Language
			}
			if n.Language == "go" {
				dir := path.Dir(n.Path)
				idx.goFiles[dir] = append(idx.goFiles[dir], n.ID)
			}
		case types.NodeImport:
		default:
			idx.byName[n.Name] = append(idx.byName[n.Name], n.ID)
		}
	}
	return idx
}

// resolve turns references into derived relationships. Module imports
// resolve to file nodes through their candidate paths, Go package imports
// to the files of the matching directory. Symbols resolve to a declaration
// in the same file, then the same Go package, then an imported file, then
// a unique match anywhere in the project. Unresolved module and package
// imports point at derived import nodes. It returns the number of
// references left without any edge.
func (m *merger) resolve() int {
	idx := m.buildIndex()
	derived := make(map[edgeKey]bool)
	imported := make(map[string]map[string]bool) // file path -> imported file paths
	importNodes := make(map[string]int64)
	unresolved := 0

	link := func(src, dst int64, t types.RelationshipType) bool {
		if src == dst {
			return false
		}
		k := edgeKey{src, dst, t}
		if m.edges[k] || derived[k] {
			return true
		}
		derived[k] = true
		m.gen.DerivedRelationships = append(m.gen.DerivedRelationships, types.Relationship{SourceID: src, TargetID: dst, Type: t})
		return true
	}
	noteImport := func(from string, to int64) {
		if imported[from] == nil {
			imported[from] = make(map[string]bool)
		}
		imported[from][idx.pathOf[to]] = true
	}

	// Imports first: symbol resolution consults the import table
	for _, r := range m.refs {
		if r.Kind != types.RefModule && r.Kind != types.RefPackage {
			continue
		}
		src := m.node(r.SourceID)
		var targets []int64
		if r.Kind == types.RefModule {
			for _, c := range r.Candidates {
				if id, ok := idx.fileByPath[path.Clean(c)]; ok {
					targets = append(targets, id)
					break
				}
			}
		} else {
			targets = idx.goFiles[m.packageDir(r.Target, idx)]
		}

		linked := false
		for _, t := range targets {
			if link(r.SourceID, t, r.Type) {
				noteImport(src.Path, t)
				linked = true
			}
		}
		if linked {
			continue
		}

		id, ok := importNodes[r.Target]
		if !ok {
			id = m.importNode(r.Target, src.Language)
			importNodes[r.Target] = id
		}
		link(r.SourceID, id, r.Type)
	}

	for _, r := range m.refs {
		if r.Kind == types.RefModule || r.Kind == types.RefPackage {
			continue
		}
		src := m.node(r.SourceID)
		linked := false
		for _, t := range m.symbolTargets(r, src, idx, imported[src.Path]) {
			if link(r.SourceID, t, r.Type) {
				linked = true
			}
		}
		if !linked {
			unresolved++
		}
	}

	sort.Slice(m.gen.DerivedNodes, func(i, j int) bool { return m.gen.DerivedNodes[i].ID < m.gen.DerivedNodes[j].ID })
	return unresolved
}

// packageDir maps a Go import path to a project directory, or "" when the
// package lives outside the project
func (m *merger) packageDir(importPath string, idx *graphIndex) string {
	if m.module != "" {
		if importPath == m.module {
			return "."
		}
		if rest, ok := strings.CutPrefix(importPath, m.module+"/"); ok {
			return rest
		}
		return ""
	}

	// Without go.mod, match the longest directory the import path ends with
	best := ""
	for dir := range idx.goFiles {
		if dir == "." {
			continue
		}
		if (importPath == dir || strings.HasSuffix(importPath, "/"+dir)) && len(dir) > len(best) {
			best = dir
		}
	}
	return best
}

// symbolTargets returns the declarations a symbol reference resolves to,
// from the narrowest scope that has any
func (m *merger) symbolTargets(r types.Reference, src *types.Node, idx *graphIndex, imports map[string]bool) []int64 {
	candidates := idx.byName[r.Target]
	if len(candidates) == 0 {
		return nil
	}

	pick := func(match func(p string) bool) []int64 {
		var out []int64
		for _, id := range candidates {
			if id != r.SourceID && match(idx.pathOf[id]) {
				out = append(out, id)
			}
		}
		return out
	}

	if t := pick(func(p string) bool { return p == src.Path }); len(t) > 0 {
		return t
	}
	if src.Language == "go" {
		dir := path.Dir(src.Path)
		if t := pick(func(p string) bool {
			return path.Dir(p) == dir && idx.langOf[p] == "go"
		}); len(t) > 0 {
			return t
		}
	}
	if len(imports) > 0 {
		if t := pick(func(p string) bool { return imports[p] }); len(t) > 0 {
			return t
		}
	}
	if t := pick(func(string) bool { return true }); len(t) == 1 {
		return t
	}
	return nil
}

// importNode creates the derived node standing for an external module,
// reusing the id it had in the previous generation
func (m *merger) importNode(name, lang string) int64 {
	id, ok := m.previous[name]
	if !ok || m.has(id) {
		id = m.nextID
		m.nextID++
	}
	m.gen.DerivedNodes = append(m.gen.DerivedNodes, types.Node{
		ID:       id,
		Name:     name,
		NodeType: types.NodeImport,
		Summary:  "external module " + name,
		Language: lang,
	})
	return id
}

// score computes importance over the complete new generation
func (m *merger) score() {
	all := make([]types.Node, 0, len(m.nodes)+len(m.gen.DerivedNodes))
	all = append(all, m.nodes...)
	all = append(all, m.gen.DerivedNodes...)

	rels := make([]types.Relationship, 0, len(m.structs)+len(m.gen.DerivedRelationships))
	rels = append(rels, m.structs...)
	rels = append(rels, m.gen.DerivedRelationships...)

	m.gen.Scores = computeImportance(all, rels, m.weights)
	for i := range m.gen.Nodes {
		m.gen.Nodes[i].ImportanceScore = m.gen.Scores[m.gen.Nodes[i].ID]
	}
	for i := range m.gen.DerivedNodes {
		m.gen.DerivedNodes[i].ImportanceScore = m.gen.Scores[m.gen.DerivedNodes[i].ID]
	}
}

// relationshipCount is the number of relationships in the new generation
func (m *merger) relationshipCount() int {
	return len(m.structs) + len(m.gen.DerivedRelationships)
}

// nodeCount is the number of nodes in the new generation
func (m *merger) nodeCount() int {
	return len(m.nodes) + len(m.gen.DerivedNodes)
}
