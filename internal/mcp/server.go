package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/coordinator"
)

// Server exposes coordinator operations as MCP tools.
type Server struct {
	mcp     *mcp.Server
	coord   *coordinator.Coordinator
	metrics *Metrics
	logger  *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "agentd")
	Name string

	// Version is the server version (default: "1.0.0")
	Version string

	// Logger for structured logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "agentd",
		Version: "1.0.0",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates a new MCP server over the given coordinator.
func NewServer(cfg *Config, coord *coordinator.Coordinator) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if coord == nil {
		return nil, fmt.Errorf("coordinator is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:     mcpServer,
		coord:   coord,
		metrics: NewMetrics(cfg.Logger),
		logger:  cfg.Logger,
	}
	s.registerTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport. It blocks until the
// context is cancelled or the transport closes.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Close shuts the coordinator down, waiting for in-flight runs to settle.
// Callers that share the coordinator with another frontend should shut it
// down themselves instead of calling Close.
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("closing MCP server")
	if err := s.coord.Shutdown(ctx); err != nil {
		return fmt.Errorf("coordinator shutdown: %w", err)
	}
	return nil
}
