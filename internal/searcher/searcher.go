package searcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/pkg/types"
)

// Mode selects how search terms combine
type Mode string

const (
	ModeAny Mode = "any" // A node matches when any positive term matches
	ModeAll Mode = "all" // Every positive term must match
)

// Strategy names the storage query that produced a response
type Strategy string

const (
	StrategyFullText   Strategy = "fulltext"
	StrategySubstring  Strategy = "substring"
	StrategyListing    Strategy = "listing"
	StrategyImportance Strategy = "importance"
)

const (
	DefaultLimit     = 50
	MaxLimit         = 500
	DefaultCacheSize = 1000
	DefaultCacheTTL  = 5 * time.Minute
)

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	ProjectPath string
	Terms       string
	Mode        Mode
	NodeType    types.NodeType // Empty matches every type
	Limit       int
	UseFullText bool
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results      []types.Node
	Strategy     Strategy
	FromCache    bool
	TypeNotFound bool // A type filter was given and no stored node has that type
	Outcome      types.Outcome
	Duration     time.Duration
}

// EntityResponse is one node with its direct neighbors
type EntityResponse struct {
	Node      *types.Node
	Neighbors []storage.Neighbor
	Outcome   types.Outcome
}

// Options configures the result cache
type Options struct {
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultOptions returns the default cache settings
func DefaultOptions() Options {
	return Options{CacheSize: DefaultCacheSize, CacheTTL: DefaultCacheTTL}
}

// Searcher answers read queries over the projects of a storage manager
// and caches search responses
type Searcher struct {
	manager *storage.Manager
	opts    Options
	logger  *zap.Logger
	now     func() time.Time

	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex
	// Bumped by InvalidateProject and Purge. A response read under an older
	// epoch is not cached.
	epochs map[string]uint64
	purges uint64
}

// New creates a Searcher. Zero options fall back to the defaults.
func New(manager *storage.Manager, opts Options, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}

	cache, err := lru.New[[32]byte, *cacheEntry](opts.CacheSize)
	if err != nil {
		// This should never happen with valid size parameter
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	return &Searcher{
		manager: manager,
		opts:    opts,
		logger:  logger.Named("searcher"),
		now:     time.Now,
		cache:   cache,
		epochs:  make(map[string]uint64),
	}
}

// Search runs a term query against one project. Responses are cached per
// normalized request until they expire or the project is re-indexed.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	terms, err := validateRequest(&req)
	if err != nil {
		return nil, err
	}
	unit, err := storage.UnitID(req.ProjectPath)
	if err != nil {
		return nil, err
	}

	key := computeQueryHash(unit, &req, terms)
	if cached := s.checkCache(key); cached != nil {
		cached.FromCache = true
		cached.Duration = time.Since(startTime)
		return cached, nil
	}

	epoch := s.cacheEpoch(unit)

	store, err := s.manager.Open(ctx, req.ProjectPath, false)
	if err != nil {
		return nil, err
	}

	response := &SearchResponse{Results: []types.Node{}}
	found, err := typeExists(ctx, store, req.NodeType)
	if err != nil {
		return nil, err
	}
	if !found {
		response.TypeNotFound = true
	} else {
		query := &storage.Query{
			Terms:    terms,
			MatchAll: req.Mode == ModeAll,
			NodeType: req.NodeType,
			Limit:    req.Limit,
		}
		response.Results, response.Strategy, err = s.query(ctx, store, query, req.UseFullText)
		if err != nil {
			return nil, fmt.Errorf("search failed: %w", err)
		}
		response.Results = finalize(response.Results, req.NodeType, req.Limit)
	}
	response.Outcome = types.OutcomeFor(len(response.Results))

	s.storeInCache(key, unit, epoch, response)

	response.Duration = time.Since(startTime)
	return response, nil
}

// query picks the full-text engine when it can serve the terms and falls
// back to substring matching otherwise
func (s *Searcher) query(ctx context.Context, store storage.Storage, q *storage.Query, useFullText bool) ([]types.Node, Strategy, error) {
	if useFullText && store.FullTextAvailable() {
		if _, ok := storage.FullTextExpression(q); ok {
			nodes, err := store.SearchFullText(ctx, q)
			if err == nil {
				return nodes, StrategyFullText, nil
			}
			if !errors.Is(err, storage.ErrFullTextQuery) && !errors.Is(err, storage.ErrFullTextUnavailable) {
				return nil, "", err
			}
			s.logger.Debug("full-text query failed, using substring search", zap.Error(err))
		}
	}

	nodes, err := store.SearchSubstring(ctx, q)
	if err != nil {
		return nil, "", err
	}
	return nodes, StrategySubstring, nil
}

// ListByType lists the nodes of one type in importance order
func (s *Searcher) ListByType(ctx context.Context, projectPath string, nodeType types.NodeType, limit int) (*SearchResponse, error) {
	startTime := time.Now()

	nodeType = normalizeType(nodeType)
	if nodeType == "" {
		return nil, fmt.Errorf("%w: node_type is required", types.ErrInvalidRequest)
	}
	return s.listing(ctx, projectPath, nodeType, limit, StrategyListing, startTime,
		func(store storage.Storage, limit int) ([]types.Node, error) {
			return store.ListByType(ctx, nodeType, limit)
		})
}

// TopEntities returns the most important nodes, optionally of one type
func (s *Searcher) TopEntities(ctx context.Context, projectPath string, nodeType types.NodeType, limit int) (*SearchResponse, error) {
	startTime := time.Now()

	nodeType = normalizeType(nodeType)
	return s.listing(ctx, projectPath, nodeType, limit, StrategyImportance, startTime,
		func(store storage.Storage, limit int) ([]types.Node, error) {
			return store.TopByImportance(ctx, nodeType, limit)
		})
}

func (s *Searcher) listing(ctx context.Context, projectPath string, nodeType types.NodeType, limit int,
	strategy Strategy, startTime time.Time, fetch func(storage.Storage, int) ([]types.Node, error)) (*SearchResponse, error) {
	if strings.TrimSpace(projectPath) == "" {
		return nil, fmt.Errorf("%w: project_path is required", types.ErrInvalidRequest)
	}
	limit = clampLimit(limit)

	store, err := s.manager.Open(ctx, projectPath, false)
	if err != nil {
		return nil, err
	}

	response := &SearchResponse{Results: []types.Node{}, Strategy: strategy}
	found, err := typeExists(ctx, store, nodeType)
	if err != nil {
		return nil, err
	}
	if !found {
		response.TypeNotFound = true
	} else {
		nodes, err := fetch(store, limit)
		if err != nil {
			return nil, fmt.Errorf("listing failed: %w", err)
		}
		response.Results = finalize(nodes, nodeType, limit)
	}

	response.Outcome = types.OutcomeFor(len(response.Results))
	response.Duration = time.Since(startTime)
	return response, nil
}

// Entity returns one node and its direct neighbors. An unknown id is a
// no-results outcome.
func (s *Searcher) Entity(ctx context.Context, projectPath string, id int64) (*EntityResponse, error) {
	if strings.TrimSpace(projectPath) == "" {
		return nil, fmt.Errorf("%w: project_path is required", types.ErrInvalidRequest)
	}
	store, err := s.manager.Open(ctx, projectPath, false)
	if err != nil {
		return nil, err
	}

	node, err := store.GetNode(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return &EntityResponse{Outcome: types.OutcomeNoResults}, nil
	}
	if err != nil {
		return nil, err
	}

	neighbors, err := store.Neighbors(ctx, id)
	if err != nil {
		return nil, err
	}
	return &EntityResponse{Node: node, Neighbors: neighbors, Outcome: types.OutcomeSuccess}, nil
}

// validateRequest tokenizes the terms and normalizes the remaining fields
func validateRequest(req *SearchRequest) ([]storage.Term, error) {
	if strings.TrimSpace(req.ProjectPath) == "" {
		return nil, fmt.Errorf("%w: project_path is required", types.ErrInvalidRequest)
	}

	terms, err := Tokenize(req.Terms)
	if err != nil {
		return nil, err
	}

	switch Mode(strings.ToLower(string(req.Mode))) {
	case "", ModeAny:
		req.Mode = ModeAny
	case ModeAll:
		req.Mode = ModeAll
	default:
		return nil, fmt.Errorf("%w: unsupported mode %q (want any or all)", types.ErrInvalidRequest, req.Mode)
	}

	req.NodeType = normalizeType(req.NodeType)
	req.Limit = clampLimit(req.Limit)
	return terms, nil
}

func normalizeType(t types.NodeType) types.NodeType {
	return types.NodeType(strings.ToLower(strings.TrimSpace(string(t))))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// typeExists reports whether the type filter can match anything. An empty
// filter always can.
func typeExists(ctx context.Context, store storage.Storage, nodeType types.NodeType) (bool, error) {
	if nodeType == "" {
		return true, nil
	}
	found, err := store.HasNodeType(ctx, nodeType)
	if err != nil {
		return false, fmt.Errorf("type lookup failed: %w", err)
	}
	return found, nil
}

// finalize enforces the type filter, the result order and the limit
// regardless of what the storage query returned
func finalize(nodes []types.Node, nodeType types.NodeType, limit int) []types.Node {
	out := make([]types.Node, 0, len(nodes))
	for _, n := range nodes {
		if nodeType == "" || n.NodeType == nodeType {
			out = append(out, n)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ImportanceScore != out[j].ImportanceScore {
			return out[i].ImportanceScore > out[j].ImportanceScore
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
