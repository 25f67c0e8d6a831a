package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"

	"github.com/dshills/codegraph/internal/indexer"
	"github.com/dshills/codegraph/internal/parser"
	"github.com/dshills/codegraph/internal/searcher"
	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/pkg/types"
)

var shopFiles = map[string]string{
	"go.mod": "module example.com/shop\n\ngo 1.22\n",
	"cache/cache.go": `package cache

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
`,
	"cache/evict.go": `package cache

// Evict drops an entry
func Evict(c *CacheManager) {
	c.Get("x")
}
`,
	"main.go": `package main

import (
	"fmt"

	"example.com/shop/cache"
)

func main() {
	c := cache.NewCacheManager()
	fmt.Println(c.Get("k"))
}
`,
}

// ServiceTestSuite runs tool requests against an indexed Go project
type ServiceTestSuite struct {
	suite.Suite
	ctx     context.Context
	root    string
	manager *storage.Manager
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

// SetupTest indexes a fresh copy of the project before each test
func (s *ServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	logger := zaptest.NewLogger(s.T())

	s.root = s.T().TempDir()
	for name, content := range shopFiles {
		s.writeFile(name, content)
	}

	mgr, err := storage.NewManager(s.T().TempDir(), storage.DefaultOptions(), logger)
	s.Require().NoError(err)
	s.manager = mgr

	idx := indexer.New(mgr, parser.NewDefaultRegistry(), logger)
	search := searcher.New(mgr, searcher.DefaultOptions(), logger)
	idx.OnCommit(func(root string) { search.InvalidateProject(root) })
	s.service = New(mgr, idx, search, nil, logger)

	resp := s.call(ToolIndexProject, map[string]any{"project_path": s.root})
	s.Require().False(resp.IsError, resp.Text)
	s.Contains(resp.Text, "Indexed "+s.root)
	s.Equal(types.OutcomeSuccess, resp.Outcome)
}

func (s *ServiceTestSuite) TearDownTest() {
	_ = s.manager.Close()
}

func (s *ServiceTestSuite) writeFile(name, content string) {
	path := filepath.Join(s.root, filepath.FromSlash(name))
	s.Require().NoError(os.MkdirAll(filepath.Dir(path), 0o755))
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o644))
}

func (s *ServiceTestSuite) call(tool string, args map[string]any) Response {
	return s.service.Handle(s.ctx, Request{Tool: tool, Arguments: args})
}

func (s *ServiceTestSuite) nodeID(name string) int64 {
	store, err := s.manager.Open(s.ctx, s.root, false)
	s.Require().NoError(err)
	graph, err := store.LoadGraph(s.ctx)
	s.Require().NoError(err)
	for _, n := range graph.Nodes {
		if n.Name == name {
			return n.ID
		}
	}
	s.FailNow("node not found", name)
	return 0
}

func (s *ServiceTestSuite) TestToolNames() {
	s.Equal([]string{
		ToolGetEntity, ToolGetProjectStats, ToolIndexProject, ToolListEntities,
		ToolRemoveProject, ToolSearchCode, ToolTopEntities,
	}, s.service.ToolNames())
}

func (s *ServiceTestSuite) TestSearchCode() {
	args := map[string]any{"project_path": s.root, "terms": "CacheManager"}

	resp := s.call(ToolSearchCode, args)
	s.False(resp.IsError, resp.Text)
	s.Equal(types.OutcomeSuccess, resp.Outcome)
	s.Contains(resp.Text, "NAME")
	s.Contains(resp.Text, "IMPORTANCE")
	s.Contains(resp.Text, "CacheManager")
	s.Contains(resp.Text, "class")
	s.Contains(resp.Text, "cache/cache.go:")
	s.NotContains(resp.Text, "from cache")

	cached := s.call(ToolSearchCode, args)
	s.Contains(cached.Text, "from cache")
	s.Equal(strings.SplitN(resp.Text, "\n", 2)[1], strings.SplitN(cached.Text, "\n", 2)[1],
		"cached rows equal fresh rows")
}

func (s *ServiceTestSuite) TestSearchCode_TypeFilter() {
	resp := s.call(ToolSearchCode, map[string]any{"project_path": s.root, "terms": "cache", "node_type": "Class"})
	s.False(resp.IsError, resp.Text)
	s.Contains(resp.Text, "CacheManager")
	s.NotContains(resp.Text, "NewCacheManager")

	resp = s.call(ToolSearchCode, map[string]any{"project_path": s.root, "terms": "cache", "node_type": "nonexistent_type"})
	s.False(resp.IsError)
	s.Equal(types.OutcomeNoResults, resp.Outcome)
	s.Contains(resp.Text, `No entities of type "nonexistent_type"`)
}

func (s *ServiceTestSuite) TestSearchCode_NoResults() {
	resp := s.call(ToolSearchCode, map[string]any{"project_path": s.root, "terms": "zzzNothing"})
	s.False(resp.IsError)
	s.Equal(types.OutcomeNoResults, resp.Outcome)
	s.Equal(1, resp.Outcome.ExitCode())
	s.Contains(resp.Text, `No results for "zzzNothing"`)
}

func (s *ServiceTestSuite) TestSearchCode_CoercesArguments() {
	resp := s.call(ToolSearchCode, map[string]any{
		"project_path": s.root,
		"terms":        "cache",
		"limit":        "1",
		"use_fts":      "false",
		"mode":         "ALL",
	})
	s.False(resp.IsError, resp.Text)
	s.Contains(resp.Text, "Found 1 result for")
	s.Contains(resp.Text, "substring")

	resp = s.call(ToolSearchCode, map[string]any{"project_path": s.root, "terms": "cache", "limit": float64(2)})
	s.Contains(resp.Text, "Found 2 results")
}

func (s *ServiceTestSuite) TestInvalidArguments() {
	tests := []struct {
		name string
		tool string
		args map[string]any
	}{
		{"missing project_path", ToolSearchCode, map[string]any{"terms": "x"}},
		{"relative project_path", ToolSearchCode, map[string]any{"project_path": "shop", "terms": "x"}},
		{"missing terms", ToolSearchCode, map[string]any{"project_path": s.root}},
		{"blank terms", ToolSearchCode, map[string]any{"project_path": s.root, "terms": "  "}},
		{"zero limit", ToolSearchCode, map[string]any{"project_path": s.root, "terms": "x", "limit": 0}},
		{"non-numeric limit", ToolSearchCode, map[string]any{"project_path": s.root, "terms": "x", "limit": "many"}},
		{"unknown mode", ToolSearchCode, map[string]any{"project_path": s.root, "terms": "x", "mode": "fuzzy"}},
		{"non-boolean use_fts", ToolSearchCode, map[string]any{"project_path": s.root, "terms": "x", "use_fts": "maybe"}},
		{"missing node_type", ToolListEntities, map[string]any{"project_path": s.root}},
		{"missing id", ToolGetEntity, map[string]any{"project_path": s.root}},
		{"non-numeric id", ToolGetEntity, map[string]any{"project_path": s.root, "id": "abc"}},
		{"nil arguments", ToolGetProjectStats, nil},
		{"non-boolean full_rebuild", ToolIndexProject, map[string]any{"project_path": s.root, "full_rebuild": []int{1}}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			resp := s.call(tt.tool, tt.args)
			s.True(resp.IsError)
			s.Equal(types.KindInvalidRequest, resp.Kind, resp.Text)
			s.Equal(types.OutcomeFailure, resp.Outcome)
			s.Equal(2, resp.Outcome.ExitCode())
		})
	}
}

func (s *ServiceTestSuite) TestUnknownTool() {
	resp := s.call("drop_database", map[string]any{"project_path": s.root})
	s.True(resp.IsError)
	s.Equal(types.KindUnknownTool, resp.Kind)
	s.Contains(resp.Text, `"drop_database"`)
	s.Contains(resp.Text, ToolSearchCode, "lists the available tools")
}

func (s *ServiceTestSuite) TestListEntities() {
	resp := s.call(ToolListEntities, map[string]any{"project_path": s.root, "node_type": "Function"})
	s.False(resp.IsError, resp.Text)
	s.Contains(resp.Text, `entities of type "function"`)
	s.Contains(resp.Text, "NewCacheManager")
	s.Contains(resp.Text, "Evict")
	s.NotContains(resp.Text, "class", "other types are not listed")

	resp = s.call(ToolListEntities, map[string]any{"project_path": s.root, "node_type": "gui_control"})
	s.False(resp.IsError)
	s.Equal(types.OutcomeNoResults, resp.Outcome)
	s.Contains(resp.Text, `No entities of type "gui_control"`)
}

func (s *ServiceTestSuite) TestTopEntities() {
	resp := s.call(ToolTopEntities, map[string]any{"project_path": s.root, "limit": 3})
	s.False(resp.IsError, resp.Text)
	s.Contains(resp.Text, "Found 3 results for the most important entities")
	s.Contains(resp.Text, "importance")

	resp = s.call(ToolTopEntities, map[string]any{"project_path": s.root, "node_type": "method"})
	s.Contains(resp.Text, "Found 1 result")
	s.Contains(resp.Text, "Get")
}

func (s *ServiceTestSuite) TestGetEntity() {
	id := s.nodeID("CacheManager")

	resp := s.call(ToolGetEntity, map[string]any{"project_path": s.root, "id": float64(id)})
	s.False(resp.IsError, resp.Text)
	s.Equal(types.OutcomeSuccess, resp.Outcome)
	s.Contains(resp.Text, "CacheManager keeps recently used entries")
	s.Contains(resp.Text, "Outgoing")
	s.Contains(resp.Text, "contains ->")
	s.Contains(resp.Text, "Incoming")
	s.Contains(resp.Text, "uses <-")
	s.Contains(resp.Text, "resolved")

	resp = s.call(ToolGetEntity, map[string]any{"project_path": s.root, "id": "99999"})
	s.False(resp.IsError)
	s.Equal(types.OutcomeNoResults, resp.Outcome)
	s.Contains(resp.Text, "No entity with id 99999")
}

func (s *ServiceTestSuite) TestProjectStats() {
	resp := s.call(ToolGetProjectStats, map[string]any{"project_path": s.root})
	s.False(resp.IsError, resp.Text)
	s.Equal(types.OutcomeSuccess, resp.Outcome)
	s.Contains(resp.Text, "Project: "+s.root)
	s.Contains(resp.Text, "Files: 4 (0 with parse errors)")
	s.Contains(resp.Text, "class")
	s.Contains(resp.Text, "contains")
	s.Contains(resp.Text, "schema "+storage.CurrentSchemaVersion)
	s.Contains(resp.Text, "Recent runs:")
	s.Contains(resp.Text, "completed")
}

func (s *ServiceTestSuite) TestProjectStats_NotIndexed() {
	resp := s.call(ToolGetProjectStats, map[string]any{"project_path": s.T().TempDir()})
	s.True(resp.IsError)
	s.Equal(types.KindProjectNotFound, resp.Kind)
	s.True(strings.HasPrefix(resp.Text, "project_not_found: "), resp.Text)
}

func (s *ServiceTestSuite) TestIndexProject_Unchanged() {
	resp := s.call(ToolIndexProject, map[string]any{"project_path": s.root})
	s.False(resp.IsError, resp.Text)
	s.Contains(resp.Text, "is up to date")

	resp = s.call(ToolIndexProject, map[string]any{"project_path": s.root, "rescore": "true"})
	s.False(resp.IsError, resp.Text)
	s.Contains(resp.Text, "generation 2")

	resp = s.call(ToolIndexProject, map[string]any{"project_path": s.root, "full_rebuild": true})
	s.False(resp.IsError, resp.Text)
	s.Contains(resp.Text, "4 indexed")
}

// TestIndexProject_InvalidatesCache verifies searches never return results
// cached before a re-index
func (s *ServiceTestSuite) TestIndexProject_InvalidatesCache() {
	args := map[string]any{"project_path": s.root, "terms": "Warmer"}

	resp := s.call(ToolSearchCode, args)
	s.Equal(types.OutcomeNoResults, resp.Outcome)

	s.writeFile("cache/warm.go", "package cache\n\n// Warmer preloads entries\nfunc Warmer(c *CacheManager) {}\n")
	resp = s.call(ToolIndexProject, map[string]any{"project_path": s.root})
	s.Require().False(resp.IsError, resp.Text)
	s.Contains(resp.Text, "1 indexed")

	resp = s.call(ToolSearchCode, args)
	s.Equal(types.OutcomeSuccess, resp.Outcome)
	s.Contains(resp.Text, "cache/warm.go:")
	s.NotContains(resp.Text, "from cache")
}

func (s *ServiceTestSuite) TestIndexProject_Errors() {
	resp := s.call(ToolIndexProject, map[string]any{"project_path": filepath.Join(s.root, "missing")})
	s.True(resp.IsError)
	s.Equal(types.KindProjectNotFound, resp.Kind)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp = s.service.Handle(ctx, Request{Tool: ToolIndexProject, Arguments: map[string]any{"project_path": s.root, "full_rebuild": true}})
	s.True(resp.IsError)
	s.Equal(types.KindCancelled, resp.Kind)
}

func (s *ServiceTestSuite) TestRemoveProject() {
	resp := s.call(ToolRemoveProject, map[string]any{"project_path": s.root})
	s.False(resp.IsError, resp.Text)
	s.Contains(resp.Text, "Removed the index of "+s.root)

	for _, tool := range []string{ToolGetProjectStats, ToolRemoveProject} {
		resp = s.call(tool, map[string]any{"project_path": s.root})
		s.True(resp.IsError, tool)
		s.Equal(types.KindProjectNotFound, resp.Kind, tool)
	}

	resp = s.call(ToolSearchCode, map[string]any{"project_path": s.root, "terms": "cache"})
	s.Equal(types.KindProjectNotFound, resp.Kind, "no stale cached answers after removal")
}

func TestErrorResponse(t *testing.T) {
	resp := errorResponse(types.NewError(types.KindStorage, "disk full", nil))
	assert.Equal(t, "storage_error: disk full", resp.Text)
	assert.Equal(t, types.KindStorage, resp.Kind)
	assert.True(t, resp.IsError)

	resp = errorResponse(errors.Join(types.ErrStorageBusy))
	assert.Equal(t, "storage_busy: storage busy", resp.Text)
	assert.Equal(t, types.OutcomeFailure, resp.Outcome)
}
