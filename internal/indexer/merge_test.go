package indexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codegraph/internal/parser"
	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/pkg/types"
)

// parsed builds a fileResult the way a plugin would
func parsed(path, lang string, build func(f *parser.NodeFactory)) *fileResult {
	f := parser.NewNodeFactory(path, lang)
	build(f)
	return &fileResult{
		file:   storage.File{Path: path, Language: lang, ContentHash: "h-" + path},
		result: f.Result(),
	}
}

func derivedEdges(gen *storage.Generation) map[string]bool {
	names := make(map[int64]string)
	for _, n := range gen.Nodes {
		names[n.ID] = n.Name
	}
	for _, n := range gen.DerivedNodes {
		names[n.ID] = n.Name
	}
	out := make(map[string]bool)
	for _, r := range gen.DerivedRelationships {
		out[names[r.SourceID]+" "+string(r.Type)+" "+names[r.TargetID]] = true
	}
	return out
}

func TestMerger_ModuleReferences(t *testing.T) {
	m := newMerger(&storage.Graph{}, true, "", DefaultWeights())

	m.add(parsed("main.py", "python", func(f *parser.NodeFactory) {
		file := f.AddFile("")
		run := f.Add(types.NodeFunction, "run", 3, 0, "")
		f.Link(file, run, types.RelContains)
		f.Refer(file, types.RelImports, types.RefModule, "utils", "utils.py", "utils/__init__.py")
		f.Refer(file, types.RelImports, types.RefModule, "requests", "requests.py")
		f.Refer(run, types.RelCalls, types.RefSymbol, "helper")
	}))
	m.add(parsed("utils.py", "python", func(f *parser.NodeFactory) {
		file := f.AddFile("")
		helper := f.Add(types.NodeFunction, "helper", 1, 0, "")
		f.Link(file, helper, types.RelContains)
	}))

	unresolved := m.resolve()
	assert.Zero(t, unresolved)

	edges := derivedEdges(m.gen)
	assert.True(t, edges["main.py imports utils.py"])
	assert.True(t, edges["main.py imports requests"], "unresolved module imports become derived nodes")
	assert.True(t, edges["run calls helper"])

	require.Len(t, m.gen.DerivedNodes, 1)
	assert.Equal(t, "requests", m.gen.DerivedNodes[0].Name)
	assert.Equal(t, types.NodeImport, m.gen.DerivedNodes[0].NodeType)
	assert.Equal(t, "python", m.gen.DerivedNodes[0].Language)
}

func TestMerger_SymbolScopes(t *testing.T) {
	m := newMerger(&storage.Graph{}, true, "", DefaultWeights())

	m.add(parsed("a.py", "python", func(f *parser.NodeFactory) {
		file := f.AddFile("")
		caller := f.Add(types.NodeFunction, "caller", 1, 0, "")
		local := f.Add(types.NodeFunction, "shared", 5, 0, "")
		f.Link(file, caller, types.RelContains)
		f.Link(file, local, types.RelContains)
		f.Refer(caller, types.RelCalls, types.RefSymbol, "shared")
		f.Refer(caller, types.RelCalls, types.RefSymbol, "ambiguous")
		f.Refer(caller, types.RelCalls, types.RefSymbol, "unique")
		f.Refer(caller, types.RelCalls, types.RefSymbol, "missing")
	}))
	m.add(parsed("b.py", "python", func(f *parser.NodeFactory) {
		f.AddFile("")
		f.Add(types.NodeFunction, "shared", 1, 0, "")
		f.Add(types.NodeFunction, "ambiguous", 2, 0, "")
		f.Add(types.NodeFunction, "unique", 3, 0, "")
	}))
	m.add(parsed("c.py", "python", func(f *parser.NodeFactory) {
		f.AddFile("")
		f.Add(types.NodeFunction, "ambiguous", 1, 0, "")
	}))

	unresolved := m.resolve()
	assert.Equal(t, 2, unresolved, "ambiguous and missing")

	var sharedTargets []string
	for _, r := range m.gen.DerivedRelationships {
		if r.Type == types.RelCalls {
			for _, n := range m.gen.Nodes {
				if n.ID == r.TargetID && n.Name == "shared" {
					sharedTargets = append(sharedTargets, n.Path)
				}
			}
		}
	}
	assert.Equal(t, []string{"a.py"}, sharedTargets, "same file wins")
	assert.True(t, derivedEdges(m.gen)["caller calls unique"])
	assert.False(t, derivedEdges(m.gen)["caller calls ambiguous"])
}

func TestMerger_GoPackages(t *testing.T) {
	m := newMerger(&storage.Graph{}, true, "example.com/app", DefaultWeights())

	m.add(parsed("main.go", "go", func(f *parser.NodeFactory) {
		file := f.AddFile("")
		f.Refer(file, types.RelImports, types.RefPackage, "example.com/app/store")
		f.Refer(file, types.RelImports, types.RefPackage, "example.com/other/store")
		f.Refer(file, types.RelImports, types.RefPackage, "context")
	}))
	m.add(parsed("store/db.go", "go", func(f *parser.NodeFactory) {
		f.AddFile("")
	}))
	m.add(parsed("store/notes.md", "", func(f *parser.NodeFactory) {
		f.AddFile("")
	}))

	m.resolve()
	edges := derivedEdges(m.gen)
	assert.True(t, edges["main.go imports db.go"])
	assert.False(t, edges["main.go imports notes.md"], "only Go files belong to a package")
	assert.True(t, edges["main.go imports example.com/other/store"], "same suffix in another module")
	assert.True(t, edges["main.go imports context"])
}

func TestMerger_PackageDirWithoutModule(t *testing.T) {
	m := newMerger(&storage.Graph{}, true, "", DefaultWeights())
	idx := &graphIndex{goFiles: map[string][]int64{
		".":            {1},
		"store":        {2},
		"pkg/store":    {3},
		"internal/api": {4},
	}}

	assert.Equal(t, "pkg/store", m.packageDir("github.com/x/y/pkg/store", idx), "longest suffix")
	assert.Equal(t, "store", m.packageDir("github.com/x/y/store", idx))
	assert.Equal(t, "internal/api", m.packageDir("internal/api", idx))
	assert.Empty(t, m.packageDir("fmt", idx))
}

func TestMerger_CoercesIdentity(t *testing.T) {
	m := newMerger(&storage.Graph{}, true, "", DefaultWeights())

	fr := &fileResult{
		file: storage.File{Path: "lib/x.js", Language: "javascript"},
		result: types.Succeeded(
			[]types.Node{
				{ID: 1, Name: "x.js", NodeType: types.NodeFile, Path: "lib/x.js"},
				{ID: 2, Name: "", NodeType: "", Path: "elsewhere.js", LineNumber: -4},
				{ID: 3, Name: "  ", NodeType: types.NodeFunction},
			},
			[]types.Relationship{
				{SourceID: 1, TargetID: 2, Type: types.RelContains},
				{SourceID: 1, TargetID: 9, Type: types.RelContains},
				{SourceID: 2, TargetID: 2, Type: types.RelCalls},
			},
			[]types.Reference{
				{SourceID: 7, Type: types.RelCalls, Kind: types.RefSymbol, Target: "ghost"},
				{SourceID: 3, Type: types.RelCalls, Kind: types.RefSymbol, Target: " "},
			},
		),
	}
	m.add(fr)

	require.Len(t, m.gen.Nodes, 3)
	unknown := m.gen.Nodes[1]
	assert.Equal(t, "unknown_x.js", unknown.Name)
	assert.Equal(t, types.NodeUnknown, unknown.NodeType)
	assert.Equal(t, "lib/x.js", unknown.Path, "nodes belong to the parsed file")
	assert.Equal(t, "javascript", unknown.Language)
	assert.Zero(t, unknown.LineNumber)
	assert.Equal(t, "function_x.js", m.gen.Nodes[2].Name)
	for _, n := range m.gen.Nodes {
		assert.NoError(t, n.Validate())
	}

	assert.Len(t, m.gen.Relationships, 1)
	assert.Empty(t, m.gen.References)
	assert.Len(t, m.warnings, 6, "two names, two edges, two references")
	assert.Equal(t, 3, fr.file.NodeCount)
}

func TestMerger_IncrementalIDs(t *testing.T) {
	prev := &storage.Graph{
		Files: []storage.File{{Path: "a.py"}, {Path: "b.py"}},
		Nodes: []types.Node{
			{ID: 1, Name: "a.py", NodeType: types.NodeFile, Path: "a.py"},
			{ID: 2, Name: "keep", NodeType: types.NodeFunction, Path: "a.py"},
			{ID: 3, Name: "b.py", NodeType: types.NodeFile, Path: "b.py"},
		},
		Relationships: []types.Relationship{{SourceID: 1, TargetID: 2, Type: types.RelContains}},
		References: []types.Reference{
			{SourceID: 1, Type: types.RelImports, Kind: types.RefModule, Target: "numpy"},
			{SourceID: 2, Type: types.RelCalls, Kind: types.RefSymbol, Target: "fresh"},
			{SourceID: 3, Type: types.RelCalls, Kind: types.RefSymbol, Target: "gone"},
		},
		Derived: []types.Node{{ID: 4, Name: "numpy", NodeType: types.NodeImport}},
		MaxID:   4,
	}

	m := newMerger(prev, false, "", DefaultWeights())
	m.keep(prev, map[string]bool{"a.py": true})
	m.add(parsed("b.py", "python", func(f *parser.NodeFactory) {
		f.AddFile("")
		f.Add(types.NodeFunction, "fresh", 1, 0, "")
	}))
	m.resolve()
	m.score()

	require.Len(t, m.gen.Nodes, 2)
	assert.Equal(t, int64(5), m.gen.Nodes[0].ID, "new ids continue after the stored maximum")
	assert.Equal(t, int64(6), m.gen.Nodes[1].ID)

	require.Len(t, m.gen.DerivedNodes, 1)
	assert.Equal(t, int64(4), m.gen.DerivedNodes[0].ID, "derived node id reused")

	assert.Contains(t, m.gen.DerivedRelationships, types.Relationship{SourceID: 2, TargetID: 6, Type: types.RelCalls},
		"kept reference re-resolved against the new file")
	assert.Contains(t, m.gen.DerivedRelationships, types.Relationship{SourceID: 1, TargetID: 4, Type: types.RelImports})
	assert.Len(t, m.gen.DerivedRelationships, 2)

	assert.Len(t, m.gen.Scores, 5)
	for id, score := range m.gen.Scores {
		assert.True(t, score >= 0 && score <= 1, "score of %d", id)
	}
	assert.Equal(t, 5, m.nodeCount())
}
