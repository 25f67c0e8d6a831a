// Package mcp exposes the code graph service to AI coding assistants over the
// Model Context Protocol.
//
// MCP is JSON-RPC 2.0 over stdio:
//
//	Client → Server: {"method": "tools/call", "params": {"name": "search_code", ...}}
//	Server → Client: {"result": {"content": [{"type": "text", "text": "..."}]}}
//
// Each tool registered here has a matching handler in the service package;
// NewServer refuses to start when the two sets differ.
//
// # Basic Usage
//
//	srv, err := mcp.NewServer(svc, logger)
//	if err != nil {
//	    return err
//	}
//	return srv.Serve(ctx, os.Stdin, os.Stdout)
//
// # Errors
//
// Service failures are returned as tool results with isError set. The text
// starts with the error kind (invalid_request, project_not_found,
// storage_busy, ...). JSON-RPC errors only signal protocol problems.
//
// Logs go to stderr; stdout carries protocol messages only.
package mcp
