package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/codegraph/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrFullTextUnavailable is returned by SearchFullText when the driver
	// has no FTS5 module
	ErrFullTextUnavailable = errors.New("full-text index unavailable")
	// ErrFullTextQuery is returned when the full-text engine rejects a query
	ErrFullTextQuery = errors.New("full-text query failed")
)

const memoryPath = ":memory:"

// Options tunes a storage unit
type Options struct {
	// AcquireTimeout bounds how long a writer waits for the unit's write
	// lock, and how long opening a unit may take
	AcquireTimeout time.Duration
	// ReadConnections sizes the reader pool
	ReadConnections int
}

// DefaultOptions returns the storage defaults
func DefaultOptions() Options {
	return Options{
		AcquireTimeout:  5 * time.Second,
		ReadConnections: 4,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = def.AcquireTimeout
	}
	if o.ReadConnections <= 0 {
		o.ReadConnections = def.ReadConnections
	}
	return o
}

// SQLiteStorage implements the Storage interface using one SQLite database
// per project. Writes go through a single connection guarded by an
// in-process lock; reads use a separate pool.
type SQLiteStorage struct {
	writer   *sql.DB
	reader   *sql.DB
	path     string
	fullText bool
	opts     Options
	writeSem chan struct{}
}

// openDatabase opens a SQLite connection pool with the build's DSN
func openDatabase(dbPath string, opts Options, maxConns int) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dataSourceName(dbPath, opts.AcquireTimeout))
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance with default options
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	return OpenSQLiteStorage(context.Background(), dbPath, DefaultOptions())
}

// OpenSQLiteStorage opens (creating if needed) the database at dbPath and
// applies pending migrations. ":memory:" opens a private in-memory database
// served by a single connection.
func OpenSQLiteStorage(ctx context.Context, dbPath string, opts Options) (*SQLiteStorage, error) {
	opts = opts.withDefaults()

	writer, err := openDatabase(dbPath, opts, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := writer.PingContext(ctx); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to open database: %w", mapError(err))
	}

	if err := ApplyMigrations(ctx, writer); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", mapError(err))
	}

	fullText, err := ensureFullText(ctx, writer)
	if err != nil {
		_ = writer.Close()
		return nil, mapError(err)
	}

	reader := writer
	if dbPath != memoryPath {
		reader, err = openDatabase(dbPath, opts, opts.ReadConnections)
		if err != nil {
			_ = writer.Close()
			return nil, fmt.Errorf("failed to open reader pool: %w", err)
		}
	}

	return &SQLiteStorage{
		writer:   writer,
		reader:   reader,
		path:     dbPath,
		fullText: fullText,
		opts:     opts,
		writeSem: make(chan struct{}, 1),
	}, nil
}

// Close closes both connection pools
func (s *SQLiteStorage) Close() error {
	var errs []error
	if s.reader != s.writer {
		errs = append(errs, s.reader.Close())
	}
	errs = append(errs, s.writer.Close())
	return errors.Join(errs...)
}

// Path returns the database file path
func (s *SQLiteStorage) Path() string {
	return s.path
}

// FullTextAvailable reports whether the FTS5 index exists
func (s *SQLiteStorage) FullTextAvailable() bool {
	return s.fullText
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// acquireWriter takes the unit's write lock, giving up with
// types.ErrStorageBusy after the acquisition timeout
func (s *SQLiteStorage) acquireWriter(ctx context.Context) (func(), error) {
	timer := time.NewTimer(s.opts.AcquireTimeout)
	defer timer.Stop()

	select {
	case s.writeSem <- struct{}{}:
		return func() { <-s.writeSem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("write lock not acquired within %s: %w", s.opts.AcquireTimeout, types.ErrStorageBusy)
	}
}

// withWriteTx runs fn inside an immediate write transaction
func (s *SQLiteStorage) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	release, err := s.acquireWriter(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

// mapError classifies driver errors. Busy and locked databases become
// types.ErrStorageBusy, a handle closed by Manager.Remove becomes
// types.ErrProjectNotFound, everything else types.ErrStorage.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, types.ErrStorage) || errors.Is(err, types.ErrStorageBusy) ||
		errors.Is(err, ErrNotFound) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database table is locked") {
		return fmt.Errorf("%w: %w", types.ErrStorageBusy, err)
	}
	if errors.Is(err, sql.ErrConnDone) || strings.Contains(msg, "sql: database is closed") {
		return fmt.Errorf("%w: storage unit was removed: %w", types.ErrProjectNotFound, err)
	}
	return fmt.Errorf("%w: %w", types.ErrStorage, err)
}

// now is replaced in tests
var now = time.Now

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms sql.NullInt64) time.Time {
	if !ms.Valid || ms.Int64 == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms.Int64)
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

// Project operations

// EnsureProject creates the singleton project record if it does not exist
func (s *SQLiteStorage) EnsureProject(ctx context.Context, rootPath, unitID string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO project (id, root_path, unit_id, generation, created_at)
			VALUES (1, ?, ?, 0, ?)
			ON CONFLICT(id) DO UPDATE SET root_path = excluded.root_path
		`, rootPath, unitID, toMillis(now()))
		if err != nil {
			return fmt.Errorf("failed to create project: %w", err)
		}
		return nil
	})
}

// getProjectWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getProjectWithQuerier(ctx context.Context, q querier) (*Project, error) {
	var (
		project       Project
		lastIndexedAt sql.NullInt64
		createdAt     sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `
		SELECT root_path, unit_id, generation, last_indexed_at, last_run_id, created_at
		FROM project
		WHERE id = 1
	`).Scan(&project.RootPath, &project.UnitID, &project.Generation,
		&lastIndexedAt, &project.LastRunID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	project.LastIndexedAt = fromMillis(lastIndexedAt)
	project.CreatedAt = fromMillis(createdAt)
	return &project, nil
}

func (s *SQLiteStorage) Project(ctx context.Context) (*Project, error) {
	return s.getProjectWithQuerier(ctx, s.reader)
}

// File operations

// listFilesWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listFilesWithQuerier(ctx context.Context, q querier) ([]File, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT path, language, content_hash, size_bytes, mod_time, parse_error, node_count, indexed_at
		FROM files
		ORDER BY path
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	files := make([]File, 0)
	for rows.Next() {
		var (
			f         File
			modTime   sql.NullInt64
			indexedAt sql.NullInt64
		)
		if err := rows.Scan(&f.Path, &f.Language, &f.ContentHash, &f.SizeBytes,
			&modTime, &f.ParseError, &f.NodeCount, &indexedAt); err != nil {
			return nil, mapError(err)
		}
		f.ModTime = fromMillis(modTime)
		f.IndexedAt = fromMillis(indexedAt)
		files = append(files, f)
	}
	return files, mapError(rows.Err())
}

func (s *SQLiteStorage) ListFiles(ctx context.Context) ([]File, error) {
	return s.listFilesWithQuerier(ctx, s.reader)
}
