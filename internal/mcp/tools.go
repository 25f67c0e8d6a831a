package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/codegraph/internal/service"
)

// handleTool forwards a tool call to the service. Failures are reported as
// tool results with isError set so the client sees the kind and message;
// protocol errors are reserved for the transport.
func (s *Server) handleTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := request.Params.Name

	resp := s.service.Handle(ctx, service.Request{
		Tool:      name,
		Arguments: request.GetArguments(),
	})

	s.logger.Debug("tool call",
		zap.String("tool", name),
		zap.Bool("error", resp.IsError),
		zap.String("outcome", resp.Outcome.String()))

	if resp.IsError {
		return mcp.NewToolResultError(resp.Text), nil
	}
	return mcp.NewToolResultText(resp.Text), nil
}
