// Package http exposes the agent coordination REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/coordinator"
	"github.com/fyrsmithlabs/agentd/internal/ledger"
	"github.com/fyrsmithlabs/agentd/internal/logging"
)

// Server provides the HTTP endpoints for agentd.
type Server struct {
	echo   *echo.Echo
	coord  *coordinator.Coordinator
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server around the coordinator.
func NewServer(coord *coordinator.Coordinator, logger *zap.Logger, cfg *Config) (*Server, error) {
	if coord == nil {
		return nil, fmt.Errorf("coordinator cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			// Stamp the request ID on the context so coordinator run
			// logs correlate with this request.
			if rid := c.Response().Header().Get(echo.HeaderXRequestID); logging.ValidRequestID(rid) {
				ctx := logging.WithRequestID(c.Request().Context(), rid)
				c.SetRequest(c.Request().WithContext(ctx))
			}

			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		coord:  coord,
		logger: logger,
		config: cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check
	s.echo.GET("/health", s.handleHealth)

	// Agent API routes
	api := s.echo.Group("/api/agent")
	api.POST("/run", s.handleRun)
	api.GET("/budget/:scope", s.handleBudget)
}

// handleHealth reports component health: 200 when healthy, 503 otherwise.
func (s *Server) handleHealth(c echo.Context) error {
	health := s.coord.Health()
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, health)
}

// handleRun executes one coordination run.
func (s *Server) handleRun(c echo.Context) error {
	var req coordinator.TaskRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid run request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    string(coordinator.CodeValidation),
			Message: "invalid request body",
		})
	}

	if err := applyHeaderOverrides(&req, c.Request().Header); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    string(coordinator.CodeValidation),
			Message: err.Error(),
		})
	}

	result, err := s.coord.Run(c.Request().Context(), req)
	if err != nil {
		return writeRunError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// handleBudget returns the ledger snapshot for one scope.
func (s *Server) handleBudget(c echo.Context) error {
	scope := c.Param("scope")

	state, err := s.coord.BudgetSnapshot(scope)
	if err != nil {
		if errors.Is(err, ledger.ErrScopeNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{
				Code:    string(coordinator.CodeValidation),
				Message: fmt.Sprintf("unknown budget scope %q", scope),
			})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    string(coordinator.CodeInternal),
			Message: err.Error(),
		})
	}
	return c.JSON(http.StatusOK, state)
}

// Echo returns the underlying echo instance, so callers can mount extra
// handlers such as the Prometheus exporter.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
