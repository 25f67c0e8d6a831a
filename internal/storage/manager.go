package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/codegraph/pkg/types"
)

// UnitID derives the storage unit id of a project: the first 16 hex
// characters of the SHA-256 of its cleaned absolute path
func UnitID(projectPath string) (string, error) {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrInvalidRequest, err)
	}
	sum := sha256.Sum256([]byte(filepath.Clean(abs)))
	return hex.EncodeToString(sum[:])[:16], nil
}

// Manager owns the open storage units of a data directory. Units are
// opened once and shared by every caller until Remove or Close.
type Manager struct {
	dataDir string
	opts    Options
	logger  *zap.Logger

	mu       sync.Mutex
	units    map[string]*SQLiteStorage
	removing map[string]bool
}

// NewManager creates a manager storing units under dataDir
func NewManager(dataDir string, opts Options, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create data directory: %w", types.ErrStorage, err)
	}
	return &Manager{
		dataDir: dataDir,
		opts:    opts.withDefaults(),
		logger:  logger.Named("storage"),
		units:    make(map[string]*SQLiteStorage),
		removing: make(map[string]bool),
	}, nil
}

// DataDir returns the directory holding the unit files
func (m *Manager) DataDir() string {
	return m.dataDir
}

// UnitPath returns the database file of a project
func (m *Manager) UnitPath(projectPath string) (string, error) {
	id, err := UnitID(projectPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(m.dataDir, id+".db"), nil
}

// Open returns the storage unit of a project. A missing unit is created
// when create is true and reported as types.ErrProjectNotFound otherwise.
// Opening is bounded by the acquisition timeout; exceeding it yields
// types.ErrStorageBusy.
func (m *Manager) Open(ctx context.Context, projectPath string, create bool) (*SQLiteStorage, error) {
	id, err := UnitID(projectPath)
	if err != nil {
		return nil, err
	}
	abs, _ := filepath.Abs(projectPath)

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.units[id]; ok {
		return s, nil
	}
	if m.removing[id] {
		if create {
			return nil, fmt.Errorf("%w: %s is being removed", types.ErrStorageBusy, abs)
		}
		return nil, fmt.Errorf("%w: %s is being removed", types.ErrProjectNotFound, abs)
	}

	path := filepath.Join(m.dataDir, id+".db")
	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", types.ErrStorage, err)
		}
		if !create {
			return nil, fmt.Errorf("%w: %s has not been indexed", types.ErrProjectNotFound, abs)
		}
	}

	openCtx, cancel := context.WithTimeout(ctx, m.opts.AcquireTimeout)
	defer cancel()

	s, err := OpenSQLiteStorage(openCtx, path, m.opts)
	if err == nil {
		err = s.EnsureProject(openCtx, filepath.Clean(abs), id)
		if err != nil {
			_ = s.Close()
		}
	}
	if err != nil {
		if ctx.Err() == nil && errors.Is(openCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: opening unit %s timed out: %w", types.ErrStorageBusy, id, err)
		}
		return nil, err
	}

	m.logger.Debug("opened storage unit",
		zap.String("unit", id),
		zap.String("project", abs),
		zap.Bool("fts", s.FullTextAvailable()),
		zap.String("build", BuildMode))

	m.units[id] = s
	return s, nil
}

// Remove closes a project's unit and deletes its files. The unit leaves
// the manager before Remove waits for its writer, so other projects can be
// opened meanwhile and the project itself reads as not indexed.
func (m *Manager) Remove(ctx context.Context, projectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := UnitID(projectPath)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.removing[id] {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is already being removed", types.ErrStorageBusy, projectPath)
	}
	s, open := m.units[id]
	delete(m.units, id)
	m.removing[id] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.removing, id)
		m.mu.Unlock()
	}()

	if open {
		release, err := s.acquireWriter(ctx)
		if err != nil {
			m.mu.Lock()
			m.units[id] = s
			m.mu.Unlock()
			return err
		}
		closeErr := s.Close()
		release()
		if closeErr != nil {
			m.logger.Warn("closing storage unit", zap.String("unit", id), zap.Error(closeErr))
		}
	}

	path := filepath.Join(m.dataDir, id+".db")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s has not been indexed", types.ErrProjectNotFound, projectPath)
	}

	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %w", types.ErrStorage, err)
		}
	}

	m.logger.Info("removed storage unit", zap.String("unit", id), zap.String("project", projectPath))
	return nil
}

// Close closes every open unit
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for id, s := range m.units {
		errs = append(errs, s.Close())
		delete(m.units, id)
	}
	return errors.Join(errs...)
}
