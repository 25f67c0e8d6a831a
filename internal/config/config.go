// Package config loads codegraph settings.
//
// Settings come from, in order of precedence:
//   - CODEGRAPH_* environment variables
//   - the TOML file named by CODEGRAPH_CONFIG, or ~/.codegraph/config.toml
//   - built-in defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cast"

	"github.com/dshills/codegraph/internal/indexer"
	"github.com/dshills/codegraph/internal/searcher"
	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/pkg/types"
)

// Environment variables read by Load
const (
	EnvConfig   = "CODEGRAPH_CONFIG"
	EnvDataDir  = "CODEGRAPH_DATA_DIR"
	EnvLogLevel = "CODEGRAPH_LOG_LEVEL"
	EnvWorkers  = "CODEGRAPH_WORKERS"
)

// Config is the complete codegraph configuration
type Config struct {
	Storage    StorageConfig    `toml:"storage"`
	Indexer    IndexerConfig    `toml:"indexer"`
	Importance ImportanceConfig `toml:"importance"`
	Cache      CacheConfig      `toml:"cache"`
	Watch      WatchConfig      `toml:"watch"`
	Log        LogConfig        `toml:"log"`
}

// StorageConfig locates and tunes the storage units
type StorageConfig struct {
	DataDir         string        `toml:"data_dir"`
	AcquireTimeout  time.Duration `toml:"acquire_timeout"`
	ReadConnections int           `toml:"read_connections"`
}

// IndexerConfig tunes project indexing
type IndexerConfig struct {
	Workers          int      `toml:"workers"`
	MaxFileSize      int64    `toml:"max_file_size"`
	IgnorePatterns   []string `toml:"ignore_patterns"`
	RespectGitignore bool     `toml:"respect_gitignore"`
}

// ImportanceConfig holds the importance weights. Types maps a node type
// name to its weight; types missing from the table use Other.
type ImportanceConfig struct {
	Types     map[string]float64 `toml:"types"`
	Other     float64            `toml:"other"`
	Incoming  float64            `toml:"incoming"`
	Outgoing  float64            `toml:"outgoing"`
	CrossFile float64            `toml:"cross_file"`
}

// CacheConfig sizes the search result cache
type CacheConfig struct {
	Size int           `toml:"size"`
	TTL  time.Duration `toml:"ttl"`
}

// WatchConfig controls re-indexing on file changes
type WatchConfig struct {
	Enabled      bool          `toml:"enabled"`
	Debounce     time.Duration `toml:"debounce"`
	ProjectPaths []string      `toml:"project_paths"`
}

// LogConfig selects the log level and encoding
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the built-in configuration
func Default() *Config {
	st := storage.DefaultOptions()
	search := searcher.DefaultOptions()
	w := indexer.DefaultWeights()

	typeWeights := make(map[string]float64, len(w.Types))
	for t, v := range w.Types {
		typeWeights[string(t)] = v
	}

	return &Config{
		Storage: StorageConfig{
			DataDir:         defaultDataDir(),
			AcquireTimeout:  st.AcquireTimeout,
			ReadConnections: st.ReadConnections,
		},
		Indexer: IndexerConfig{
			Workers:          runtime.NumCPU(),
			MaxFileSize:      indexer.DefaultMaxFileSize,
			RespectGitignore: true,
		},
		Importance: ImportanceConfig{
			Types:     typeWeights,
			Other:     w.Other,
			Incoming:  w.Incoming,
			Outgoing:  w.Outgoing,
			CrossFile: w.CrossFile,
		},
		Cache: CacheConfig{
			Size: search.CacheSize,
			TTL:  search.CacheTTL,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "codegraph")
	}
	return filepath.Join(home, ".codegraph", "data")
}

// Path returns the config file location: $CODEGRAPH_CONFIG when set,
// otherwise ~/.codegraph/config.toml
func Path() (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".codegraph", "config.toml"), nil
}

// Load reads the config file when present, applies environment overrides
// and validates the result. A missing default file is not an error; a
// missing file named by CODEGRAPH_CONFIG is.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}

	_, statErr := os.Stat(path)
	if statErr != nil && (os.Getenv(EnvConfig) != "" || !errors.Is(statErr, os.ErrNotExist)) {
		return nil, fmt.Errorf("%w: config file %s: %w", types.ErrInvalidRequest, path, statErr)
	}
	if statErr != nil {
		return finish(Default())
	}
	return LoadFromPath(path)
}

// LoadFromPath loads the TOML file at path over the defaults, then applies
// environment overrides and validation
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		return nil, err
	}
	return finish(cfg)
}

// LoadTOML decodes a TOML file into cfg. Keys absent from the file keep
// their current values; unknown keys are rejected.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("%w: failed to decode %s: %w", types.ErrInvalidRequest, path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("%w: unknown keys in %s: %s", types.ErrInvalidRequest, path, strings.Join(keys, ", "))
	}
	return nil
}

func finish(cfg *Config) (*Config, error) {
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies CODEGRAPH_* environment variables
func (c *Config) ApplyEnvOverrides() error {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		c.Storage.DataDir = dir
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Log.Level = level
	}
	if workers := os.Getenv(EnvWorkers); workers != "" {
		n, err := cast.ToIntE(workers)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", types.ErrInvalidRequest, EnvWorkers, workers)
		}
		c.Indexer.Workers = n
	}
	return nil
}

// ValidationError describes one invalid setting
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every invalid setting. It matches
// types.ErrInvalidRequest.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (e ValidationErrors) Is(target error) bool {
	return target == types.ErrInvalidRequest
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"console", "json"}
)

// Validate checks every setting and reports all problems at once
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if c.Storage.DataDir == "" {
		add("storage.data_dir", "must not be empty")
	}
	if c.Storage.AcquireTimeout <= 0 {
		add("storage.acquire_timeout", "must be positive")
	}
	if c.Storage.ReadConnections < 1 {
		add("storage.read_connections", "must be at least 1")
	}

	if c.Indexer.Workers < 1 || c.Indexer.Workers > 256 {
		add("indexer.workers", "must be between 1 and 256")
	}
	if c.Indexer.MaxFileSize <= 0 {
		add("indexer.max_file_size", "must be positive")
	}
	for _, p := range c.Indexer.IgnorePatterns {
		if _, err := filepath.Match(p, ""); err != nil {
			add("indexer.ignore_patterns", fmt.Sprintf("bad pattern %q", p))
		}
	}

	for name, v := range c.Importance.Types {
		if v < 0 {
			add("importance.types."+name, "must be non-negative")
		}
	}
	for field, v := range map[string]float64{
		"importance.other":      c.Importance.Other,
		"importance.incoming":   c.Importance.Incoming,
		"importance.outgoing":   c.Importance.Outgoing,
		"importance.cross_file": c.Importance.CrossFile,
	} {
		if v < 0 {
			add(field, "must be non-negative")
		}
	}

	if c.Cache.Size < 1 || c.Cache.Size > 100000 {
		add("cache.size", "must be between 1 and 100000")
	}
	if c.Cache.TTL <= 0 {
		add("cache.ttl", "must be positive")
	}

	if c.Watch.Debounce < 0 {
		add("watch.debounce", "must be non-negative")
	}
	for _, p := range c.Watch.ProjectPaths {
		if !filepath.IsAbs(p) {
			add("watch.project_paths", fmt.Sprintf("%q is not absolute", p))
		}
	}
	if c.Watch.Enabled && len(c.Watch.ProjectPaths) == 0 {
		add("watch.project_paths", "required when watch is enabled")
	}

	if !oneOf(strings.ToLower(c.Log.Level), logLevels) {
		add("log.level", fmt.Sprintf("must be one of %s", strings.Join(logLevels, ", ")))
	}
	if !oneOf(strings.ToLower(c.Log.Format), logFormats) {
		add("log.format", fmt.Sprintf("must be one of %s", strings.Join(logFormats, ", ")))
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// StorageOptions returns the storage settings
func (c *Config) StorageOptions() storage.Options {
	return storage.Options{
		AcquireTimeout:  c.Storage.AcquireTimeout,
		ReadConnections: c.Storage.ReadConnections,
	}
}

// IndexerConfig returns the base indexing configuration
func (c *Config) IndexerConfig() *indexer.Config {
	w := indexer.Weights{
		Types:     make(map[types.NodeType]float64, len(c.Importance.Types)),
		Other:     c.Importance.Other,
		Incoming:  c.Importance.Incoming,
		Outgoing:  c.Importance.Outgoing,
		CrossFile: c.Importance.CrossFile,
	}
	for name, v := range c.Importance.Types {
		w.Types[types.NodeType(strings.ToLower(name))] = v
	}

	return &indexer.Config{
		Workers:          c.Indexer.Workers,
		MaxFileSize:      c.Indexer.MaxFileSize,
		IgnorePatterns:   append([]string(nil), c.Indexer.IgnorePatterns...),
		RespectGitignore: c.Indexer.RespectGitignore,
		Weights:          &w,
	}
}

// SearcherOptions returns the search cache settings
func (c *Config) SearcherOptions() searcher.Options {
	return searcher.Options{
		CacheSize: c.Cache.Size,
		CacheTTL:  c.Cache.TTL,
	}
}
