// Package mcpserver exposes the debugger service as Model Context Protocol
// tools, so an assistant can drive a kernel's debugger: set breakpoints,
// step, and read the stack and variables.
//
// Every tool maps onto one debug.Service verb. Results are JSON documents
// built from the service's model after the verb ran.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/kdbg/internal/integration/debug"
	"github.com/dshills/kdbg/internal/logging"
)

// Config configures a Server.
type Config struct {
	Name    string
	Version string
	// AutoStart is the restore_state default when the call does not say.
	AutoStart bool
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{Name: "kdbg", Version: "dev"}
}

// Server serves debugger tools over MCP.
type Server struct {
	config Config
	svc    *debug.Service
	logger *logging.Logger
	mcp    *server.MCPServer
	tools  []mcp.Tool

	handlers map[string]server.ToolHandlerFunc
}

// Option configures a Server.
type Option func(*Server)

// WithConfig sets the server configuration.
func WithConfig(cfg Config) Option {
	return func(s *Server) { s.config = cfg }
}

// WithLogger sets the server logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l.WithComponent("mcp")
		}
	}
}

// New creates a server for svc and registers every tool.
func New(svc *debug.Service, opts ...Option) *Server {
	s := &Server{
		config:   DefaultConfig(),
		svc:      svc,
		logger:   logging.NullLogger,
		handlers: make(map[string]server.ToolHandlerFunc),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = server.NewMCPServer(
		s.config.Name,
		s.config.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	s.registerTools()
	return s
}

// MCP returns the underlying MCP server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// Tools returns the registered tool definitions in registration order.
func (s *Server) Tools() []mcp.Tool {
	return append([]mcp.Tool(nil), s.tools...)
}

// Serve serves MCP on in and out until ctx is done or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("serving %d tools", len(s.tools))
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

type handlerFunc func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

// add registers tool. Errors returned by h become error results so the
// client sees them as tool failures rather than protocol errors.
func (s *Server) add(tool mcp.Tool, h handlerFunc) {
	wrapped := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s.logger.Debug("tool %s", tool.Name)
		result, err := h(ctx, req)
		if err != nil {
			s.logger.Warn("tool %s: %v", tool.Name, err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		return result, nil
	}
	s.tools = append(s.tools, tool)
	s.handlers[tool.Name] = wrapped
	s.mcp.AddTool(tool, wrapped)
}

// Call invokes the named tool with args, as a client's tools/call would.
func (s *Server) Call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	h, ok := s.handlers[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return h(ctx, req)
}

// jsonResult renders v as an indented JSON text result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
