// Package mcp exposes the tool registry as a Model Context Protocol server.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aschepis/backscratcher/mnemo/tools"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// Server serves registry tools to MCP clients. Calls without an owner_id
// argument act on the default owner.
type Server struct {
	mcp      *server.MCPServer
	registry *tools.Registry
	owner    string
	logger   zerolog.Logger
}

// NewServer creates a Server exposing every tool in registry.
func NewServer(registry *tools.Registry, defaultOwner, version string, logger zerolog.Logger) (*Server, error) {
	s := &Server{
		mcp:      server.NewMCPServer("mnemo", version, server.WithToolCapabilities(false), server.WithRecovery()),
		registry: registry,
		owner:    defaultOwner,
		logger:   logger.With().Str("component", "mcp_server").Logger(),
	}
	for _, name := range registry.Names() {
		schema, ok := registry.Schema(name)
		if !ok {
			return nil, fmt.Errorf("tool %s has no schema", name)
		}
		raw, err := json.Marshal(schema.Schema)
		if err != nil {
			return nil, fmt.Errorf("marshal schema of %s: %w", name, err)
		}
		s.mcp.AddTool(mcp.NewToolWithRawSchema(name, schema.Description, raw), s.handler(name))
		s.logger.Debug().Str("tool", name).Msg("Registered MCP tool")
	}
	return s, nil
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		result, err := s.registry.Handle(ctx, name, s.owner, args)
		if err != nil {
			// tool failures are results for the model, not protocol errors
			return mcp.NewToolResultError(err.Error()), nil
		}
		text, err := json.Marshal(result)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(text)), nil
	}
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves on stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	s.logger.Info().Str("default_owner", s.owner).Msg("Serving MCP over stdio")
	return server.ServeStdio(s.mcp)
}
