package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/scenariogen/internal/pipeline"
	"github.com/dshills/scenariogen/internal/searcher"
	"github.com/dshills/scenariogen/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "scenariogen"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// TargetResolver maps target names to buildable targets. No names means
// every configured target.
type TargetResolver func(names ...string) ([]pipeline.Target, error)

// Options carries the server's dependencies.
type Options struct {
	Storage  storage.Storage
	Searcher *searcher.Searcher
	Pipeline *pipeline.Pipeline
	Targets  TargetResolver
	Version  string
	Logger   *zap.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	storage  storage.Storage
	searcher *searcher.Searcher
	pipeline *pipeline.Pipeline
	targets  TargetResolver
	logger   *zap.Logger
}

// NewServer creates a new MCP server instance
func NewServer(opts Options) (*Server, error) {
	if opts.Storage == nil || opts.Searcher == nil {
		return nil, errors.New("mcp: storage and searcher are required")
	}
	if opts.Pipeline == nil || opts.Targets == nil {
		return nil, errors.New("mcp: pipeline and target resolver are required")
	}
	version := opts.Version
	if version == "" {
		version = ServerVersion
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, version, server.WithToolCapabilities(false)),
		storage:  opts.Storage,
		searcher: opts.Searcher,
		pipeline: opts.Pipeline,
		targets:  opts.Targets,
		logger:   logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return s, nil
}

// Serve runs the MCP server on stdio and blocks until shutdown. The caller
// owns storage.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp server listening on stdio", zap.String("name", ServerName))
	stdio := server.NewStdioServer(s.mcp)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	s.mcp.AddTool(searchSymbolsTool(), s.handleSearchSymbols)
	s.mcp.AddTool(searchByNameTool(), s.handleSearchByName)
	s.mcp.AddTool(getSymbolTool(), s.handleGetSymbol)
	s.mcp.AddTool(getClassMethodsTool(), s.handleGetClassMethods)
	s.mcp.AddTool(runPipelineTool(), s.handleRunPipeline)
	s.mcp.AddTool(listTestsTool(), s.handleListTests)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	return nil
}
