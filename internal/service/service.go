package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/codegraph/internal/indexer"
	"github.com/dshills/codegraph/internal/searcher"
	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/pkg/types"
)

// Tool names
const (
	ToolSearchCode      = "search_code"
	ToolListEntities    = "list_entities"
	ToolTopEntities     = "top_entities"
	ToolGetEntity       = "get_entity"
	ToolGetProjectStats = "get_project_stats"
	ToolIndexProject    = "index_project"
	ToolRemoveProject   = "remove_project"
)

const (
	defaultSearchLimit = 50
	defaultTopLimit    = 20
	recentRuns         = 5
)

// Request is one tool invocation
type Request struct {
	Tool      string
	Arguments map[string]any
}

// Response is the text answer to a Request. Errors are responses too:
// IsError is set and Kind classifies the failure.
type Response struct {
	Text    string
	IsError bool
	Kind    types.ErrorKind
	Outcome types.Outcome
}

type handlerFunc func(ctx context.Context, args map[string]any) (Response, error)

// Service dispatches tool requests to the indexer and the searcher
type Service struct {
	manager     *storage.Manager
	indexer     *indexer.Indexer
	searcher    *searcher.Searcher
	indexConfig indexer.Config
	logger      *zap.Logger

	handlers map[string]handlerFunc
}

// New creates a Service. indexConfig is the base configuration of index
// runs; nil uses indexer.DefaultConfig().
func New(manager *storage.Manager, idx *indexer.Indexer, search *searcher.Searcher, indexConfig *indexer.Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if indexConfig == nil {
		indexConfig = indexer.DefaultConfig()
	}

	s := &Service{
		manager:     manager,
		indexer:     idx,
		searcher:    search,
		indexConfig: *indexConfig,
		logger:      logger.Named("service"),
	}
	s.handlers = map[string]handlerFunc{
		ToolSearchCode:      s.searchCode,
		ToolListEntities:    s.listEntities,
		ToolTopEntities:     s.topEntities,
		ToolGetEntity:       s.getEntity,
		ToolGetProjectStats: s.projectStats,
		ToolIndexProject:    s.indexProject,
		ToolRemoveProject:   s.removeProject,
	}
	return s
}

// ToolNames lists the tools Handle accepts, sorted
func (s *Service) ToolNames() []string {
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle runs one request. It never panics and never returns a Go error:
// every failure becomes an error Response.
func (s *Service) Handle(ctx context.Context, req Request) (resp Response) {
	log := s.logger.With(zap.String("tool", req.Tool))

	defer func() {
		if r := recover(); r != nil {
			log.Error("tool panicked", zap.Any("panic", r), zap.Stack("stack"))
			resp = errorResponse(types.NewError(types.KindInternal, req.Tool+" failed unexpectedly", fmt.Errorf("%v", r)))
		}
	}()

	handler, ok := s.handlers[req.Tool]
	if !ok {
		return errorResponse(fmt.Errorf("%w: %q (available: %s)",
			types.ErrUnknownTool, req.Tool, strings.Join(s.ToolNames(), ", ")))
	}

	args := req.Arguments
	if args == nil {
		args = map[string]any{}
	}

	resp, err := handler(ctx, args)
	if err != nil {
		kind := types.KindOf(err)
		if kind == types.KindInvalidRequest || kind == types.KindProjectNotFound {
			log.Debug("tool rejected", zap.String("kind", string(kind)), zap.Error(err))
		} else {
			log.Warn("tool failed", zap.String("kind", string(kind)), zap.Error(err))
		}
		return errorResponse(err)
	}
	return resp
}

func errorResponse(err error) Response {
	kind := types.KindOf(err)

	text := err.Error()
	var typed *types.Error
	if !errors.As(err, &typed) {
		text = fmt.Sprintf("%s: %s", kind, text)
	}
	return Response{Text: text, IsError: true, Kind: kind, Outcome: types.OutcomeFailure}
}

func textResponse(text string, outcome types.Outcome) Response {
	return Response{Text: text, Outcome: outcome}
}

func (s *Service) searchCode(ctx context.Context, args map[string]any) (Response, error) {
	root, err := projectPathArg(args)
	if err != nil {
		return Response{}, err
	}
	terms, err := stringArg(args, "terms", true)
	if err != nil {
		return Response{}, err
	}
	limit, err := intArg(args, "limit", defaultSearchLimit, 1, searcher.MaxLimit)
	if err != nil {
		return Response{}, err
	}
	mode, err := stringArg(args, "mode", false)
	if err != nil {
		return Response{}, err
	}
	useFTS, err := boolArg(args, "use_fts", true)
	if err != nil {
		return Response{}, err
	}
	nodeType, err := stringArg(args, "node_type", false)
	if err != nil {
		return Response{}, err
	}

	resp, err := s.searcher.Search(ctx, searcher.SearchRequest{
		ProjectPath: root,
		Terms:       terms,
		Mode:        searcher.Mode(mode),
		NodeType:    types.NodeType(nodeType),
		Limit:       limit,
		UseFullText: useFTS,
	})
	if err != nil {
		return Response{}, err
	}

	subject := fmt.Sprintf("%q", terms)
	if nodeType != "" {
		subject += fmt.Sprintf(" of type %q", strings.ToLower(nodeType))
	}
	return textResponse(formatResults(subject, types.NodeType(strings.ToLower(nodeType)), resp), resp.Outcome), nil
}

func (s *Service) listEntities(ctx context.Context, args map[string]any) (Response, error) {
	root, err := projectPathArg(args)
	if err != nil {
		return Response{}, err
	}
	nodeType, err := stringArg(args, "node_type", true)
	if err != nil {
		return Response{}, err
	}
	limit, err := intArg(args, "limit", defaultSearchLimit, 1, searcher.MaxLimit)
	if err != nil {
		return Response{}, err
	}

	resp, err := s.searcher.ListByType(ctx, root, types.NodeType(nodeType), limit)
	if err != nil {
		return Response{}, err
	}
	normalized := types.NodeType(strings.ToLower(nodeType))
	return textResponse(formatResults(fmt.Sprintf("entities of type %q", normalized), normalized, resp), resp.Outcome), nil
}

func (s *Service) topEntities(ctx context.Context, args map[string]any) (Response, error) {
	root, err := projectPathArg(args)
	if err != nil {
		return Response{}, err
	}
	limit, err := intArg(args, "limit", defaultTopLimit, 1, searcher.MaxLimit)
	if err != nil {
		return Response{}, err
	}
	nodeType, err := stringArg(args, "node_type", false)
	if err != nil {
		return Response{}, err
	}

	resp, err := s.searcher.TopEntities(ctx, root, types.NodeType(nodeType), limit)
	if err != nil {
		return Response{}, err
	}
	normalized := types.NodeType(strings.ToLower(nodeType))
	subject := "the most important entities"
	if normalized != "" {
		subject = fmt.Sprintf("the most important entities of type %q", normalized)
	}
	return textResponse(formatResults(subject, normalized, resp), resp.Outcome), nil
}

func (s *Service) getEntity(ctx context.Context, args map[string]any) (Response, error) {
	root, err := projectPathArg(args)
	if err != nil {
		return Response{}, err
	}
	id, err := int64Arg(args, "id")
	if err != nil {
		return Response{}, err
	}

	resp, err := s.searcher.Entity(ctx, root, id)
	if err != nil {
		return Response{}, err
	}
	if resp.Node == nil {
		return textResponse(fmt.Sprintf("No entity with id %d.\n", id), resp.Outcome), nil
	}
	return textResponse(formatEntity(resp), resp.Outcome), nil
}

func (s *Service) projectStats(ctx context.Context, args map[string]any) (Response, error) {
	root, err := projectPathArg(args)
	if err != nil {
		return Response{}, err
	}

	store, err := s.manager.Open(ctx, root, false)
	if err != nil {
		return Response{}, err
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("failed to compute statistics: %w", err)
	}
	runs, err := store.RecentRuns(ctx, recentRuns)
	if err != nil {
		return Response{}, fmt.Errorf("failed to list index runs: %w", err)
	}
	return textResponse(formatProjectStats(stats, runs), types.OutcomeFor(stats.Nodes)), nil
}

func (s *Service) indexProject(ctx context.Context, args map[string]any) (Response, error) {
	root, err := projectPathArg(args)
	if err != nil {
		return Response{}, err
	}
	config := s.indexConfig
	if config.FullRebuild, err = boolArg(args, "full_rebuild", false); err != nil {
		return Response{}, err
	}
	if config.Rescore, err = boolArg(args, "rescore", false); err != nil {
		return Response{}, err
	}

	stats, err := s.indexer.IndexProject(ctx, root, &config)
	if err != nil {
		return Response{}, err
	}
	return textResponse(formatIndexStats(root, stats), types.OutcomeSuccess), nil
}

func (s *Service) removeProject(ctx context.Context, args map[string]any) (Response, error) {
	root, err := projectPathArg(args)
	if err != nil {
		return Response{}, err
	}
	if err := s.indexer.RemoveProject(ctx, root); err != nil {
		return Response{}, err
	}
	return textResponse(fmt.Sprintf("Removed the index of %s.\n", root), types.OutcomeSuccess), nil
}
