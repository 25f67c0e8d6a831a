package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/codegraph/internal/config"
	"github.com/dshills/codegraph/internal/indexer"
	"github.com/dshills/codegraph/internal/logging"
	"github.com/dshills/codegraph/internal/mcp"
	"github.com/dshills/codegraph/internal/parser"
	"github.com/dshills/codegraph/internal/searcher"
	"github.com/dshills/codegraph/internal/service"
	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/internal/watcher"
	"github.com/dshills/codegraph/pkg/types"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Handle version flag
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("codegraph MCP Server\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		fmt.Printf("Schema Version: %s\n", storage.CurrentSchemaVersion)
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "codegraph: %v\n", err)
		os.Exit(types.OutcomeFailure.ExitCode())
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Logs go to stderr; stdout is reserved for the MCP protocol
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting",
		zap.String("version", version),
		zap.String("build_mode", storage.BuildMode),
		zap.String("driver", storage.DriverName),
		zap.String("data_dir", cfg.Storage.DataDir))

	manager, err := storage.NewManager(cfg.Storage.DataDir, cfg.StorageOptions(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Warn("failed to close storage", zap.Error(err))
		}
	}()

	idx := indexer.New(manager, parser.NewDefaultRegistry(), logger)
	search := searcher.New(manager, cfg.SearcherOptions(), logger)
	idx.OnCommit(func(root string) { search.InvalidateProject(root) })

	indexConfig := cfg.IndexerConfig()
	svc := service.New(manager, idx, search, indexConfig, logger)

	server, err := mcp.NewServer(svc, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	// Set up graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Watch.Enabled {
		w, err := watcher.New(idx, cfg.Watch.ProjectPaths, indexConfig, cfg.Watch.Debounce, logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(ctx) })
	}

	g.Go(func() error {
		// The client closing stdin ends the session
		defer stop()
		return server.Serve(ctx, os.Stdin, os.Stdout)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
