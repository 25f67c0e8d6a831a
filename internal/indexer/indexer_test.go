package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dshills/codegraph/internal/parser"
	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/pkg/types"
)

const (
	goModFixture = "module example.com/shop\n\ngo 1.22\n"

	cacheFixture = `package cache

// CacheManager keeps recently used entries
type CacheManager struct {
	entries map[string]string
}

// NewCacheManager creates an empty cache
func NewCacheManager() *CacheManager {
	return &CacheManager{entries: map[string]string{}}
}

// Get returns a cached value
func (c *CacheManager) Get(key string) string {
	return c.entries[key]
}
`

	evictFixture = `package cache

// Evict drops an entry
func Evict(c *CacheManager) {
	c.Get("x")
}
`

	mainFixture = `package main

import (
	"fmt"

	"example.com/shop/cache"
)

func main() {
	c := cache.NewCacheManager()
	fmt.Println(c.Get("k"))
}
`
)

// setupIndexer creates an indexer over a temporary data directory
func setupIndexer(t testing.TB) (*Indexer, *storage.Manager) {
	t.Helper()

	mgr, err := storage.NewManager(t.TempDir(), storage.DefaultOptions(), zaptest.NewLogger(t))
	require.NoError(t, err, "Failed to create storage manager")
	t.Cleanup(func() { _ = mgr.Close() })

	return New(mgr, parser.NewDefaultRegistry(), zaptest.NewLogger(t)), mgr
}

// createTestFile creates a file under dir, creating parent directories
func createTestFile(t testing.TB, dir, name, content string) string {
	t.Helper()

	filePath := filepath.Join(dir, filepath.FromSlash(name))
	err := os.MkdirAll(filepath.Dir(filePath), 0755)
	require.NoError(t, err)

	err = os.WriteFile(filePath, []byte(content), 0644)
	require.NoError(t, err)

	return filePath
}

// createShopProject writes the Go fixture project and returns its root
func createShopProject(t testing.TB) string {
	t.Helper()
	root := t.TempDir()
	createTestFile(t, root, "go.mod", goModFixture)
	createTestFile(t, root, "cache/cache.go", cacheFixture)
	createTestFile(t, root, "cache/evict.go", evictFixture)
	createTestFile(t, root, "main.go", mainFixture)
	return root
}

func loadGraph(t testing.TB, mgr *storage.Manager, root string) *storage.Graph {
	t.Helper()
	unit, err := mgr.Open(context.Background(), root, false)
	require.NoError(t, err)
	graph, err := unit.LoadGraph(context.Background())
	require.NoError(t, err)
	return graph
}

func nodeNamed(t testing.TB, graph *storage.Graph, name string, nodeType types.NodeType) types.Node {
	t.Helper()
	for _, n := range append(append([]types.Node{}, graph.Nodes...), graph.Derived...) {
		if n.Name == name && n.NodeType == nodeType {
			return n
		}
	}
	require.Failf(t, "node not found", "%s %s", nodeType, name)
	return types.Node{}
}

// outgoing lists "type:name" of the outgoing neighbors of a node
func outgoing(t testing.TB, mgr *storage.Manager, root string, id int64) []string {
	t.Helper()
	unit, err := mgr.Open(context.Background(), root, false)
	require.NoError(t, err)
	neighbors, err := unit.Neighbors(context.Background(), id)
	require.NoError(t, err)

	var out []string
	for _, n := range neighbors {
		if n.Outgoing {
			out = append(out, string(n.Type)+":"+n.Node.Name)
		}
	}
	sort.Strings(out)
	return out
}

type nodeSnapshot struct {
	ID    int64
	Name  string
	Type  types.NodeType
	Path  string
	Score float64
}

func snapshot(graph *storage.Graph) []nodeSnapshot {
	var out []nodeSnapshot
	for _, n := range append(append([]types.Node{}, graph.Nodes...), graph.Derived...) {
		out = append(out, nodeSnapshot{n.ID, n.Name, n.NodeType, n.Path, n.ImportanceScore})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func TestIndexProject_GoProject(t *testing.T) {
	idx, mgr := setupIndexer(t)
	root := createShopProject(t)

	stats, err := idx.IndexProject(context.Background(), root, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, stats.FilesSeen)
	assert.Equal(t, 4, stats.FilesIndexed)
	assert.Zero(t, stats.FilesFailed)
	assert.False(t, stats.Unchanged)
	assert.Equal(t, int64(1), stats.Generation)
	_, err = uuid.Parse(stats.RunID)
	assert.NoError(t, err, "run id should be a UUID")
	assert.Positive(t, stats.Nodes)
	assert.Positive(t, stats.Relationships)

	graph := loadGraph(t, mgr, root)

	mainFn := nodeNamed(t, graph, "main", types.NodeFunction)
	assert.Equal(t, []string{"calls:Get", "calls:NewCacheManager"}, outgoing(t, mgr, root, mainFn.ID))

	evict := nodeNamed(t, graph, "Evict", types.NodeFunction)
	assert.Equal(t, []string{"calls:Get"}, outgoing(t, mgr, root, evict.ID), "same package call")

	mainFile := nodeNamed(t, graph, "main.go", types.NodeFile)
	assert.Equal(t, []string{"contains:main", "imports:cache.go", "imports:evict.go", "imports:fmt"},
		outgoing(t, mgr, root, mainFile.ID))

	fmtNode := nodeNamed(t, graph, "fmt", types.NodeImport)
	assert.Empty(t, fmtNode.Path)

	ctor := nodeNamed(t, graph, "NewCacheManager", types.NodeFunction)
	assert.Equal(t, []string{"uses:CacheManager"}, outgoing(t, mgr, root, ctor.ID))
	assert.Equal(t, "NewCacheManager creates an empty cache", ctor.Summary)
	assert.Equal(t, "cache/cache.go", ctor.Path)

	// Importance is normalized: the top node scores exactly 1
	for _, s := range snapshot(graph) {
		assert.GreaterOrEqual(t, s.Score, 0.0, s.Name)
		assert.LessOrEqual(t, s.Score, 1.0, s.Name)
	}
	unit, err := mgr.Open(context.Background(), root, false)
	require.NoError(t, err)
	top, err := unit.TopByImportance(context.Background(), "", 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, 1.0, top[0].ImportanceScore)

	runs, err := unit.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, stats.RunID, runs[0].RunID)
	assert.Equal(t, RunCompleted, runs[0].Status)
}

func TestIndexProject_UnchangedWritesNothing(t *testing.T) {
	idx, mgr := setupIndexer(t)
	root := createShopProject(t)
	ctx := context.Background()

	_, err := idx.IndexProject(ctx, root, nil)
	require.NoError(t, err)
	before := snapshot(loadGraph(t, mgr, root))

	stats, err := idx.IndexProject(ctx, root, nil)
	require.NoError(t, err)
	assert.True(t, stats.Unchanged)
	assert.Equal(t, 4, stats.FilesUnchanged)
	assert.Zero(t, stats.FilesIndexed)

	unit, err := mgr.Open(ctx, root, false)
	require.NoError(t, err)
	project, err := unit.Project(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), project.Generation)
	assert.Equal(t, before, snapshot(loadGraph(t, mgr, root)))
}

func TestIndexProject_RescoreIsIdempotent(t *testing.T) {
	idx, mgr := setupIndexer(t)
	root := createShopProject(t)
	ctx := context.Background()

	_, err := idx.IndexProject(ctx, root, nil)
	require.NoError(t, err)
	before := snapshot(loadGraph(t, mgr, root))

	stats, err := idx.IndexProject(ctx, root, &Config{Rescore: true})
	require.NoError(t, err)
	assert.False(t, stats.Unchanged)
	assert.Equal(t, int64(2), stats.Generation)

	assert.Equal(t, before, snapshot(loadGraph(t, mgr, root)))
}

func TestIndexProject_Deterministic(t *testing.T) {
	idx, mgr := setupIndexer(t)
	first := createShopProject(t)
	second := createShopProject(t)

	_, err := idx.IndexProject(context.Background(), first, &Config{Workers: 1})
	require.NoError(t, err)
	_, err = idx.IndexProject(context.Background(), second, &Config{Workers: 8})
	require.NoError(t, err)

	assert.Equal(t, snapshot(loadGraph(t, mgr, first)), snapshot(loadGraph(t, mgr, second)))
}

func TestIndexProject_IncrementalUpdate(t *testing.T) {
	idx, mgr := setupIndexer(t)
	root := createShopProject(t)
	ctx := context.Background()

	_, err := idx.IndexProject(ctx, root, nil)
	require.NoError(t, err)
	before := loadGraph(t, mgr, root)
	cacheType := nodeNamed(t, before, "CacheManager", types.NodeClass)
	fmtNode := nodeNamed(t, before, "fmt", types.NodeImport)

	createTestFile(t, root, "main.go", mainFixture+"\nfunc helper() {\n\tmain()\n}\n")

	stats, err := idx.IndexProject(ctx, root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 3, stats.FilesUnchanged)
	assert.Zero(t, stats.FilesDeleted)

	after := loadGraph(t, mgr, root)
	assert.Equal(t, cacheType.ID, nodeNamed(t, after, "CacheManager", types.NodeClass).ID, "unchanged files keep their ids")
	assert.Equal(t, fmtNode.ID, nodeNamed(t, after, "fmt", types.NodeImport).ID, "derived import nodes keep their ids")

	helper := nodeNamed(t, after, "helper", types.NodeFunction)
	assert.Greater(t, helper.ID, before.MaxID)
	assert.Equal(t, []string{"calls:main"}, outgoing(t, mgr, root, helper.ID))

	mainFn := nodeNamed(t, after, "main", types.NodeFunction)
	assert.Equal(t, []string{"calls:Get", "calls:NewCacheManager"}, outgoing(t, mgr, root, mainFn.ID))
}

func TestIndexProject_ReresolvesUnchangedReferences(t *testing.T) {
	idx, mgr := setupIndexer(t)
	root := createShopProject(t)
	ctx := context.Background()

	createTestFile(t, root, "main.go", `package main

func main() {
	Run()
}
`)
	_, err := idx.IndexProject(ctx, root, nil)
	require.NoError(t, err)
	mainFn := nodeNamed(t, loadGraph(t, mgr, root), "main", types.NodeFunction)
	assert.Empty(t, outgoing(t, mgr, root, mainFn.ID))

	// A new file declares the missing target; main.go itself is unchanged
	createTestFile(t, root, "run.go", "package main\n\nfunc Run() {}\n")
	stats, err := idx.IndexProject(ctx, root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)

	assert.Equal(t, []string{"calls:Run"}, outgoing(t, mgr, root, mainFn.ID))
}

func TestIndexProject_DeletedFiles(t *testing.T) {
	idx, mgr := setupIndexer(t)
	root := createShopProject(t)
	ctx := context.Background()

	_, err := idx.IndexProject(ctx, root, nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "cache", "evict.go")))

	stats, err := idx.IndexProject(ctx, root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesDeleted)
	assert.Equal(t, 3, stats.FilesUnchanged)

	graph := loadGraph(t, mgr, root)
	for _, n := range graph.Nodes {
		assert.NotEqual(t, "cache/evict.go", n.Path)
	}
	for _, f := range graph.Files {
		assert.NotEqual(t, "cache/evict.go", f.Path)
	}

	mainFile := nodeNamed(t, graph, "main.go", types.NodeFile)
	assert.Equal(t, []string{"contains:main", "imports:cache.go", "imports:fmt"}, outgoing(t, mgr, root, mainFile.ID))

	unit, err := mgr.Open(ctx, root, false)
	require.NoError(t, err)
	st, err := unit.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Files)
}

func TestIndexProject_WithParseErrors(t *testing.T) {
	idx, mgr := setupIndexer(t)
	root := t.TempDir()
	ctx := context.Background()

	createTestFile(t, root, "ok.go", "package p\n\nfunc OK() {}\n")
	createTestFile(t, root, "broken.go", "package p\n\nfunc broken( {\n")

	stats, err := idx.IndexProject(ctx, root, nil)
	require.NoError(t, err, "parse errors are not fatal")
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesFailed)
	require.Len(t, stats.ErrorMessages, 1)
	assert.Contains(t, stats.ErrorMessages[0], "broken.go")

	graph := loadGraph(t, mgr, root)
	var broken []types.Node
	for _, n := range graph.Nodes {
		if n.Path == "broken.go" {
			broken = append(broken, n)
		}
	}
	require.Len(t, broken, 1, "failed files degrade to a single file node")
	assert.Equal(t, types.NodeFile, broken[0].NodeType)
	assert.Contains(t, broken[0].Summary, "parse failed")

	for _, f := range graph.Files {
		if f.Path == "broken.go" {
			assert.NotEmpty(t, f.ContentHash, "failed files keep their content hash")
			assert.NotEmpty(t, f.ParseError)
		}
	}
	before := snapshot(graph)

	// An unchanged failed file is not re-parsed and nothing is written
	stats, err = idx.IndexProject(ctx, root, nil)
	require.NoError(t, err)
	assert.True(t, stats.Unchanged)
	assert.Equal(t, 2, stats.FilesUnchanged)
	assert.Zero(t, stats.FilesFailed)

	graph = loadGraph(t, mgr, root)
	assert.Equal(t, before, snapshot(graph), "ids and scores are unchanged")

	unit, err := mgr.Open(ctx, root, false)
	require.NoError(t, err)
	project, err := unit.Project(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), project.Generation)
	st, err := unit.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ParseErrors, "the parse error stays recorded")

	// Fixing the file re-parses it
	createTestFile(t, root, "broken.go", "package p\n\nfunc Broken() {}\n")
	stats, err = idx.IndexProject(ctx, root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Zero(t, stats.FilesFailed)
	nodeNamed(t, loadGraph(t, mgr, root), "Broken", types.NodeFunction)
}

func TestIndexProject_FullRebuild(t *testing.T) {
	idx, mgr := setupIndexer(t)
	root := createShopProject(t)
	ctx := context.Background()

	_, err := idx.IndexProject(ctx, root, nil)
	require.NoError(t, err)
	createTestFile(t, root, "main.go", mainFixture+"\nvar Version = \"1\"\n")
	_, err = idx.IndexProject(ctx, root, nil)
	require.NoError(t, err)

	stats, err := idx.IndexProject(ctx, root, &Config{FullRebuild: true})
	require.NoError(t, err)
	assert.Equal(t, 4, stats.FilesIndexed)
	assert.Zero(t, stats.FilesUnchanged)

	nodes := snapshot(loadGraph(t, mgr, root))
	require.NotEmpty(t, nodes)
	assert.Equal(t, int64(1), nodes[0].ID)
	assert.Equal(t, int64(len(nodes)), nodes[len(nodes)-1].ID, "ids are dense after a rebuild")
}

func TestIndexProject_ContextCancellation(t *testing.T) {
	idx, mgr := setupIndexer(t)
	root := createShopProject(t)

	_, err := idx.IndexProject(context.Background(), root, nil)
	require.NoError(t, err)
	before := snapshot(loadGraph(t, mgr, root))

	createTestFile(t, root, "main.go", mainFixture+"\nfunc extra() {}\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = idx.IndexProject(ctx, root, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, types.KindCancelled, types.KindOf(err))

	assert.Equal(t, before, snapshot(loadGraph(t, mgr, root)), "a cancelled run writes nothing")
}

func TestIndexProject_ProjectNotFound(t *testing.T) {
	idx, _ := setupIndexer(t)

	_, err := idx.IndexProject(context.Background(), filepath.Join(t.TempDir(), "missing"), nil)
	assert.ErrorIs(t, err, types.ErrProjectNotFound)

	file := createTestFile(t, t.TempDir(), "a.go", "package a\n")
	_, err = idx.IndexProject(context.Background(), file, nil)
	assert.ErrorIs(t, err, types.ErrProjectNotFound)

	_, err = idx.IndexProject(context.Background(), "", nil)
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
}

func TestIndexProject_RejectsConcurrentRun(t *testing.T) {
	idx, _ := setupIndexer(t)
	root := createShopProject(t)

	unitID, err := storage.UnitID(root)
	require.NoError(t, err)
	lock := idx.locks.get(unitID)
	require.True(t, lock.TryAcquire())

	_, err = idx.IndexProject(context.Background(), root, nil)
	assert.ErrorIs(t, err, types.ErrStorageBusy)
	assert.Equal(t, types.KindStorageBusy, types.KindOf(err))

	lock.Release()
	_, err = idx.IndexProject(context.Background(), root, nil)
	assert.NoError(t, err)
}

func TestIndexProject_ConcurrentCalls(t *testing.T) {
	idx, _ := setupIndexer(t)
	root := createShopProject(t)

	const runs = 5
	var wg sync.WaitGroup
	errs := make([]error, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = idx.IndexProject(context.Background(), root, nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, types.ErrStorageBusy)
	}
	assert.GreaterOrEqual(t, succeeded, 1)
}

func TestIndexProject_CommitHooks(t *testing.T) {
	idx, _ := setupIndexer(t)
	root := createShopProject(t)
	ctx := context.Background()

	var mu sync.Mutex
	var calls []string
	idx.OnCommit(func(projectRoot string) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, projectRoot)
	})

	_, err := idx.IndexProject(ctx, root, nil)
	require.NoError(t, err)
	_, err = idx.IndexProject(ctx, root, nil)
	require.NoError(t, err)

	abs, _ := filepath.Abs(root)
	assert.Equal(t, []string{filepath.Clean(abs)}, calls, "unchanged runs do not commit")
}

func TestIndexProject_IgnoresAndSkips(t *testing.T) {
	idx, mgr := setupIndexer(t)
	root := t.TempDir()

	createTestFile(t, root, "app.go", "package app\n")
	createTestFile(t, root, "node_modules/dep/index.js", "module.exports = 1\n")
	createTestFile(t, root, "generated/gen.go", "package generated\n")
	createTestFile(t, root, "logo.bin", "PNG\x00\x00\x01")
	createTestFile(t, root, ".gitignore", "generated/\n")

	stats, err := idx.IndexProject(context.Background(), root, &Config{RespectGitignore: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesSkipped, "binary file")

	var paths []string
	for _, f := range loadGraph(t, mgr, root).Files {
		paths = append(paths, f.Path)
	}
	assert.ElementsMatch(t, []string{".gitignore", "app.go"}, paths)
}

func TestRemoveProject(t *testing.T) {
	idx, mgr := setupIndexer(t)
	root := createShopProject(t)
	ctx := context.Background()

	_, err := idx.IndexProject(ctx, root, nil)
	require.NoError(t, err)

	var removed []string
	idx.OnCommit(func(projectRoot string) { removed = append(removed, projectRoot) })

	require.NoError(t, idx.RemoveProject(ctx, root))
	assert.Len(t, removed, 1)

	_, err = mgr.Open(ctx, root, false)
	assert.ErrorIs(t, err, types.ErrProjectNotFound)

	err = idx.RemoveProject(ctx, root)
	assert.ErrorIs(t, err, types.ErrProjectNotFound)
}

func TestNormalizeConfig(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
		check  func(t *testing.T, c *Config)
	}{
		{
			name:   "nil config uses defaults",
			config: nil,
			check: func(t *testing.T, c *Config) {
				assert.Positive(t, c.Workers)
				assert.Equal(t, int64(DefaultMaxFileSize), c.MaxFileSize)
				assert.True(t, c.RespectGitignore)
				require.NotNil(t, c.Weights)
				assert.Equal(t, 1.0, c.Weights.Types[types.NodeClass])
			},
		},
		{
			name:   "invalid values are replaced",
			config: &Config{Workers: -3, MaxFileSize: -1},
			check: func(t *testing.T, c *Config) {
				assert.Positive(t, c.Workers)
				assert.Equal(t, int64(DefaultMaxFileSize), c.MaxFileSize)
			},
		},
		{
			name:   "explicit values are kept",
			config: &Config{Workers: 3, MaxFileSize: 10, Weights: &Weights{Other: 2}},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 3, c.Workers)
				assert.Equal(t, int64(10), c.MaxFileSize)
				assert.Equal(t, 2.0, c.Weights.Other)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, normalizeConfig(tt.config))
		})
	}
}
