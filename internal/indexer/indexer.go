package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/codegraph/internal/language"
	"github.com/dshills/codegraph/internal/parser"
	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/pkg/types"
)

const (
	// DefaultMaxFileSize skips files larger than 1 MiB
	DefaultMaxFileSize = 1 << 20

	// maxMessages caps the errors and warnings kept in Statistics
	maxMessages = 50
)

// Run statuses recorded in storage
const (
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// CommitHook is called with the project root after a generation commits
type CommitHook func(projectRoot string)

// Indexer coordinates the indexing pipeline: discover -> parse -> merge -> store
type Indexer struct {
	manager  *storage.Manager
	registry *parser.Registry
	logger   *zap.Logger

	locks lockSet

	hooksMu sync.RWMutex
	hooks   []CommitHook
}

// Config contains configuration for the indexer
type Config struct {
	Workers          int      // Number of concurrent parsers (default: runtime.NumCPU())
	FullRebuild      bool     // Discard the stored graph and reparse everything
	Rescore          bool     // Recompute scores and references even if nothing changed
	MaxFileSize      int64    // Files above this size are skipped (default: 1 MiB)
	IgnorePatterns   []string // Glob patterns matched against base names and relative paths
	RespectGitignore bool     // Apply .gitignore files found in the tree
	Weights          *Weights // Importance weights (default: DefaultWeights())
}

// DefaultConfig returns the configuration used when IndexProject gets nil
func DefaultConfig() *Config {
	return &Config{
		Workers:          runtime.NumCPU(),
		MaxFileSize:      DefaultMaxFileSize,
		RespectGitignore: true,
	}
}

// Statistics contains statistics about the indexing operation
type Statistics struct {
	RunID      string
	Generation int64

	FilesSeen      int
	FilesIndexed   int
	FilesUnchanged int
	FilesDeleted   int
	FilesFailed    int
	FilesSkipped   int // Over MaxFileSize or binary

	Nodes                int
	Relationships        int
	UnresolvedReferences int

	// Unchanged is set when nothing changed and nothing was written
	Unchanged bool

	Duration      time.Duration
	Warnings      []string
	ErrorMessages []string
}

func (s *Statistics) addError(msg string) {
	if len(s.ErrorMessages) < maxMessages {
		s.ErrorMessages = append(s.ErrorMessages, msg)
	}
}

// New creates a new Indexer instance
func New(manager *storage.Manager, registry *parser.Registry, logger *zap.Logger) *Indexer {
	if registry == nil {
		registry = parser.NewDefaultRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		manager:  manager,
		registry: registry,
		logger:   logger.Named("indexer"),
	}
}

// OnCommit registers a hook run after every committed generation
func (idx *Indexer) OnCommit(hook CommitHook) {
	idx.hooksMu.Lock()
	defer idx.hooksMu.Unlock()
	idx.hooks = append(idx.hooks, hook)
}

func (idx *Indexer) fireHooks(root string) {
	idx.hooksMu.RLock()
	defer idx.hooksMu.RUnlock()
	for _, h := range idx.hooks {
		h(root)
	}
}

// IndexProject indexes the directory at rootPath and commits the result as
// one generation. A concurrent run on the same project fails with
// types.ErrStorageBusy; a cancelled run writes nothing.
func (idx *Indexer) IndexProject(ctx context.Context, rootPath string, config *Config) (*Statistics, error) {
	config = normalizeConfig(config)
	startTime := time.Now()

	root, err := resolveRoot(rootPath)
	if err != nil {
		return nil, err
	}
	unitID, err := storage.UnitID(root)
	if err != nil {
		return nil, err
	}

	lock := idx.locks.get(unitID)
	if !lock.TryAcquire() {
		return nil, fmt.Errorf("%w: %s is already being indexed", types.ErrStorageBusy, root)
	}
	defer lock.Release()

	unit, err := idx.manager.Open(ctx, root, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	stats := &Statistics{RunID: uuid.NewString()}
	log := idx.logger.With(zap.String("project", root), zap.String("run", stats.RunID))
	log.Info("indexing started", zap.Bool("full_rebuild", config.FullRebuild), zap.Int("workers", config.Workers))

	gen, err := idx.buildGeneration(ctx, unit, root, config, stats)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("indexing cancelled")
			return nil, fmt.Errorf("indexing %s cancelled: %w", root, ctx.Err())
		}
		idx.recordRun(ctx, unit, stats, startTime, err)
		log.Error("indexing failed", zap.Error(err))
		return nil, err
	}

	if gen == nil {
		stats.Unchanged = true
		stats.Duration = time.Since(startTime)
		log.Info("index up to date", zap.Int("files", stats.FilesSeen))
		return stats, nil
	}

	// Last chance to abandon the run before anything is written
	if err := ctx.Err(); err != nil {
		log.Info("indexing cancelled")
		return nil, fmt.Errorf("indexing %s cancelled: %w", root, err)
	}

	gen.RunID = stats.RunID
	gen.IndexedAt = time.Now()
	if err := unit.ApplyGeneration(ctx, gen); err != nil {
		idx.recordRun(ctx, unit, stats, startTime, err)
		log.Error("failed to commit generation", zap.Error(err))
		return nil, fmt.Errorf("failed to commit generation: %w", err)
	}

	if project, err := unit.Project(ctx); err == nil {
		stats.Generation = project.Generation
	}
	stats.Duration = time.Since(startTime)
	idx.recordRun(ctx, unit, stats, startTime, nil)
	idx.fireHooks(root)

	log.Info("indexing completed",
		zap.Int("indexed", stats.FilesIndexed),
		zap.Int("unchanged", stats.FilesUnchanged),
		zap.Int("deleted", stats.FilesDeleted),
		zap.Int("failed", stats.FilesFailed),
		zap.Int("nodes", stats.Nodes),
		zap.Int("relationships", stats.Relationships),
		zap.Int("warnings", len(stats.Warnings)),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// RemoveProject deletes the storage unit of a project. It fails with
// types.ErrStorageBusy while the project is being indexed.
func (idx *Indexer) RemoveProject(ctx context.Context, rootPath string) error {
	root, err := filepath.Abs(rootPath)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidRequest, err)
	}
	unitID, err := storage.UnitID(root)
	if err != nil {
		return err
	}

	lock := idx.locks.get(unitID)
	if !lock.TryAcquire() {
		return fmt.Errorf("%w: %s is being indexed", types.ErrStorageBusy, root)
	}
	defer lock.Release()

	if err := idx.manager.Remove(ctx, root); err != nil {
		return err
	}
	idx.fireHooks(filepath.Clean(root))
	return nil
}

func normalizeConfig(config *Config) *Config {
	if config == nil {
		config = DefaultConfig()
	}
	c := *config
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.Weights == nil {
		w := DefaultWeights()
		c.Weights = &w
	}
	return &c
}

// resolveRoot makes rootPath absolute and checks that it is a directory
func resolveRoot(rootPath string) (string, error) {
	if rootPath == "" {
		return "", fmt.Errorf("%w: project path is required", types.ErrInvalidRequest)
	}
	root, err := filepath.Abs(rootPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrInvalidRequest, err)
	}
	root = filepath.Clean(root)

	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", types.ErrProjectNotFound, root, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", types.ErrProjectNotFound, root)
	}
	return root, nil
}

// buildGeneration runs discovery, parsing and merging. It returns nil when
// the stored graph is already current.
func (idx *Indexer) buildGeneration(ctx context.Context, unit storage.Storage, root string, config *Config, stats *Statistics) (*storage.Generation, error) {
	prev, err := unit.LoadGraph(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored graph: %w", err)
	}
	stored := make(map[string]storage.File, len(prev.Files))
	for _, f := range prev.Files {
		stored[f.Path] = f
	}

	d := newDiscoverer(root, config)
	files, err := d.discoverFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	stats.FilesSeen = len(files)
	stats.FilesSkipped = d.skippedSize

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results, err := idx.processFiles(ctx, files, stored, config)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(files))
	unchanged := make(map[string]bool)
	changed := 0
	for _, r := range results {
		if r.binary {
			stats.FilesSkipped++
			continue
		}
		present[r.file.Path] = true
		if r.unchanged {
			unchanged[r.file.Path] = true
			stats.FilesUnchanged++
		} else {
			changed++
		}
	}

	var deleted []string
	for _, f := range prev.Files {
		if !present[f.Path] {
			deleted = append(deleted, f.Path)
		}
	}
	stats.FilesDeleted = len(deleted)

	if changed == 0 && len(deleted) == 0 && !config.FullRebuild && !config.Rescore {
		return nil, nil
	}

	module := ""
	if mod, err := parseGoMod(filepath.Join(root, "go.mod")); err == nil {
		module = mod.Module
	}

	m := newMerger(prev, config.FullRebuild, module, *config.Weights)
	m.keep(prev, unchanged)

	now := time.Now()
	for _, r := range results {
		if r.unchanged || r.binary {
			continue
		}
		if r.failure != "" {
			stats.FilesFailed++
			stats.addError(fmt.Sprintf("%s: %s", r.file.Path, r.failure))
		} else {
			stats.FilesIndexed++
		}
		r.file.IndexedAt = now
		m.add(r)
		m.gen.Files = append(m.gen.Files, r.file)
	}
	m.gen.DeletedPaths = deleted

	stats.UnresolvedReferences = m.resolve()
	m.score()

	stats.Nodes = m.nodeCount()
	stats.Relationships = m.relationshipCount()
	if len(m.warnings) > maxMessages {
		stats.Warnings = append(m.warnings[:maxMessages:maxMessages], fmt.Sprintf("... and %d more", len(m.warnings)-maxMessages))
	} else {
		stats.Warnings = m.warnings
	}
	return m.gen, nil
}

// processFiles reads, hashes and parses files on a bounded worker pool.
// Results are slotted by file index so the merge order is deterministic.
func (idx *Indexer) processFiles(ctx context.Context, files []sourceFile, stored map[string]storage.File, config *Config) ([]*fileResult, error) {
	results := make([]*fileResult, len(files))
	semaphore := make(chan struct{}, config.Workers)

	var parsed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)

loop:
	for i := range files {
		select {
		case <-gctx.Done():
			break loop
		case semaphore <- struct{}{}:
			// Acquire semaphore
		}

		g.Go(func() error {
			defer func() { <-semaphore }()
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = idx.processFile(files[i], stored, config.FullRebuild)
			if r := results[i]; !r.unchanged && !r.binary {
				parsed.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx.logger.Debug("files processed", zap.Int("files", len(files)), zap.Int32("parsed", parsed.Load()))
	return results, nil
}

// processFile produces the result of one file. Read and parse failures
// degrade to a single file node. A file that failed to parse keeps its hash
// and stays unchanged until its content changes; an unreadable file gets an
// empty hash so it is retried.
func (idx *Indexer) processFile(f sourceFile, stored map[string]storage.File, full bool) *fileResult {
	fr := &fileResult{file: storage.File{
		Path:      f.Rel,
		SizeBytes: f.Size,
		ModTime:   f.ModTime,
	}}

	content, hash, err := readFile(f.Abs)
	if err != nil {
		fr.failure = errRead(f.Rel, err)
		fr.file.Language, _ = language.Detect(f.Rel, nil)
		fr.file.ParseError = fr.failure
		fr.result = degraded(f.Rel, fr.file.Language, "unreadable: "+err.Error())
		return fr
	}

	if language.IsBinary(content) {
		fr.binary = true
		return fr
	}

	fr.file.Language, _ = language.Detect(f.Rel, content)

	if prev, ok := stored[f.Rel]; ok && !full && prev.ContentHash != "" && prev.ContentHash == hash {
		fr.unchanged = true
		fr.file = prev
		return fr
	}

	result := idx.registry.Parse(f.Rel, content)
	if !result.OK() {
		fr.failure = result.Failure
		fr.file.ParseError = result.Failure
		fr.file.ContentHash = hash
		fr.result = degraded(f.Rel, fr.file.Language, "parse failed: "+result.Failure)
		return fr
	}

	fr.file.ContentHash = hash
	fr.result = result
	return fr
}

// degraded is the single-node result standing in for an unparseable file
func degraded(rel, lang, summary string) types.ParseResult {
	f := parser.NewNodeFactory(rel, lang)
	f.AddFile(summary)
	return f.Result()
}

// recordRun stores the run bookkeeping; failures are only logged
func (idx *Indexer) recordRun(ctx context.Context, unit storage.Storage, stats *Statistics, started time.Time, runErr error) {
	run := &storage.IndexRun{
		RunID:         stats.RunID,
		StartedAt:     started,
		FinishedAt:    time.Now(),
		Status:        RunCompleted,
		FilesIndexed:  stats.FilesIndexed,
		FilesFailed:   stats.FilesFailed,
		Nodes:         stats.Nodes,
		Relationships: stats.Relationships,
	}
	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
	}
	if err := unit.RecordRun(ctx, run); err != nil && !errors.Is(err, context.Canceled) {
		idx.logger.Warn("failed to record index run", zap.String("run", stats.RunID), zap.Error(err))
	}
}
