// Package mcpserver exposes the weather and knowledge base tools over the
// Model Context Protocol, so any MCP-capable agent can use them.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fasalrakshak/fasalrakshak/internal/tools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// Executor runs a tool by name with JSON arguments. *tools.Router
// implements it.
type Executor interface {
	Execute(ctx context.Context, userID int64, name, args string) string
}

// Config configures the MCP server.
type Config struct {
	Name    string
	Version string
	Logger  *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "fasal-rakshak",
		Version: "1.0.0",
		Logger:  zap.NewNop(),
	}
}

type weatherInput struct {
	City string `json:"city" jsonschema:"Name of the city, for example Jodhpur"`
}

type adviceInput struct {
	Query string `json:"query" jsonschema:"The farmer's question, in their own words"`
}

// Server is an MCP server over the advisor's tools.
type Server struct {
	mcp    *mcp.Server
	tools  Executor
	logger *zap.Logger
}

// NewServer creates the server and registers both tools.
func NewServer(cfg *Config, executor Executor) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		tools:  executor,
		logger: cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	specs := map[string]tools.Spec{}
	for _, spec := range tools.Specs() {
		specs[spec.Name] = spec
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        tools.WeatherToolName,
		Description: specs[tools.WeatherToolName].Description,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in weatherInput) (*mcp.CallToolResult, any, error) {
		return s.run(ctx, tools.WeatherToolName, in)
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        tools.AdviceToolName,
		Description: specs[tools.AdviceToolName].Description,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in adviceInput) (*mcp.CallToolResult, any, error) {
		return s.run(ctx, tools.AdviceToolName, in)
	})
}

// run passes the arguments to the executor. Tool failures are already text,
// so they are returned as content rather than protocol errors.
func (s *Server) run(ctx context.Context, name string, in any) (*mcp.CallToolResult, any, error) {
	args, err := json.Marshal(in)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding arguments: %w", err)
	}
	s.logger.Debug("mcp tool call", zap.String("tool", name), zap.ByteString("args", args))

	text := s.tools.Execute(ctx, 0, name, string(args))
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// Run serves on stdin/stdout until ctx is cancelled or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
