package mcp

import (
	"context"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/codegraph/internal/service"
)

const (
	// ServerName is the MCP server name
	ServerName = "codegraph"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server exposes a service over the Model Context Protocol
type Server struct {
	mcp     *server.MCPServer
	service *service.Service
	logger  *zap.Logger
}

// NewServer creates a new MCP server instance
func NewServer(svc *service.Service, logger *zap.Logger) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		mcp:     mcpServer,
		service: svc,
		logger:  logger.Named("mcp"),
	}

	// Register tools
	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Serve runs the protocol on the given streams until ctx is cancelled or
// the input is closed
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))

	s.logger.Info("serving MCP over stdio", zap.Int("tools", len(s.service.ToolNames())))
	err := stdio.Listen(ctx, in, out)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// registerTools registers every service tool. Each service tool needs a
// schema and each schema a service tool.
func (s *Server) registerTools() error {
	defined := make(map[string]bool)
	for _, tool := range tools() {
		defined[tool.Name] = true
	}
	for _, name := range s.service.ToolNames() {
		if !defined[name] {
			return fmt.Errorf("no schema for tool %q", name)
		}
	}

	for _, tool := range tools() {
		if !contains(s.service.ToolNames(), tool.Name) {
			return fmt.Errorf("schema %q has no service tool", tool.Name)
		}
		s.mcp.AddTool(tool, s.handleTool)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
