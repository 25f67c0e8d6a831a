// Package watcher re-indexes projects when their files change.
//
// Change events are collected per project and debounced: a project is
// re-indexed once no event has arrived for the debounce interval. The
// indexer's incremental mode then re-parses only the files whose content
// changed.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/dshills/codegraph/internal/indexer"
	"github.com/dshills/codegraph/pkg/types"
)

// Indexer is the part of indexer.Indexer the watcher drives
type Indexer interface {
	IndexProject(ctx context.Context, root string, config *indexer.Config) (*indexer.Statistics, error)
}

// Watcher watches project trees and re-indexes them after changes
type Watcher struct {
	idx      Indexer
	config   *indexer.Config
	debounce time.Duration
	logger   *zap.Logger

	fsw   *fsnotify.Watcher
	roots []string

	ignoreDirs map[string]bool

	mu      sync.Mutex
	pending map[string]time.Time // root -> last change
}

// New creates a watcher for the given project roots. Each root is indexed
// with config (nil means indexer defaults).
func New(idx Indexer, roots []string, config *indexer.Config, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: no project paths to watch", types.ErrInvalidRequest)
	}

	cleaned := make([]string, 0, len(roots))
	for _, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrInvalidRequest, err)
		}
		cleaned = append(cleaned, filepath.Clean(abs))
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ignoreDirs := make(map[string]bool, len(indexer.DefaultIgnoreDirs))
	for _, d := range indexer.DefaultIgnoreDirs {
		ignoreDirs[d] = true
	}

	return &Watcher{
		idx:        idx,
		config:     config,
		debounce:   debounce,
		logger:     logger.Named("watcher"),
		fsw:        fsw,
		roots:      cleaned,
		ignoreDirs: ignoreDirs,
		pending:    make(map[string]time.Time),
	}, nil
}

// Run watches until ctx is cancelled. Every root is indexed once at start.
// The underlying watcher is closed on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	for _, root := range w.roots {
		if err := w.addRecursive(root); err != nil {
			return fmt.Errorf("failed to watch %s: %w", root, err)
		}
		w.markPending(root, time.Time{})
	}

	tick := w.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	w.logger.Info("watching projects", zap.Strings("roots", w.roots), zap.Duration("debounce", w.debounce))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))

		case now := <-ticker.C:
			w.flush(ctx, now)
		}
	}
}

// addRecursive watches dir and its subdirectories, skipping ignored ones
func (w *Watcher) addRecursive(dir string) error {
	return filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if p != dir && w.ignoreDirs[info.Name()] {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			w.logger.Debug("cannot watch directory", zap.String("dir", p), zap.Error(err))
		}
		return nil
	})
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	root := w.rootOf(event.Name)
	if root == "" || w.ignored(root, event.Name) {
		return
	}

	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Debug("cannot watch new directory", zap.String("dir", event.Name), zap.Error(err))
			}
		}
	}

	w.markPending(root, time.Now())
}

// rootOf returns the watched root containing path, preferring the deepest
func (w *Watcher) rootOf(path string) string {
	best := ""
	for _, root := range w.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			if len(root) > len(best) {
				best = root
			}
		}
	}
	return best
}

// ignored reports whether path lies in an ignored directory of root
func (w *Watcher) ignored(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return true
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, part := range parts[:len(parts)-1] {
		if w.ignoreDirs[part] {
			return true
		}
	}
	return w.ignoreDirs[parts[len(parts)-1]]
}

func (w *Watcher) markPending(root string, at time.Time) {
	w.mu.Lock()
	w.pending[root] = at
	w.mu.Unlock()
}

// flush re-indexes every root that has been quiet for the debounce interval
func (w *Watcher) flush(ctx context.Context, now time.Time) {
	w.mu.Lock()
	var due []string
	for root, changed := range w.pending {
		if now.Sub(changed) >= w.debounce {
			due = append(due, root)
			delete(w.pending, root)
		}
	}
	w.mu.Unlock()

	for _, root := range due {
		if ctx.Err() != nil {
			return
		}
		w.reindex(ctx, root)
	}
}

func (w *Watcher) reindex(ctx context.Context, root string) {
	stats, err := w.idx.IndexProject(ctx, root, w.config)
	switch {
	case err == nil:
		if stats.Unchanged {
			w.logger.Debug("project unchanged", zap.String("root", root))
			return
		}
		w.logger.Info("re-indexed project",
			zap.String("root", root),
			zap.Int64("generation", stats.Generation),
			zap.Int("files_indexed", stats.FilesIndexed),
			zap.Int("files_deleted", stats.FilesDeleted),
			zap.Duration("duration", stats.Duration))
	case errors.Is(err, types.ErrStorageBusy):
		// Another run holds the project; try again after the next quiet period
		w.logger.Debug("project busy, retrying", zap.String("root", root))
		w.markPending(root, time.Now())
	case ctx.Err() != nil:
	default:
		w.logger.Warn("re-index failed", zap.String("root", root), zap.Error(err))
	}
}
