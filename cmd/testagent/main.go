// Package main provides a stub enterprise agent backend for local
// development and testing.
//
// The stub speaks the wire contract agentd's enterprise adapter expects:
// POST / accepts {task, context, budget_hint} and returns {output,
// confidence, cost}. Failure modes are injectable through flags, so the
// fallback, retry, and validation paths can be exercised without a real
// agent service.
//
// Usage:
//
//	# Serve confident completions on :9000
//	testagent
//
//	# Force fallback escalation in agentd
//	testagent -confidence 0.4
//
//	# Flaky, slow backend
//	testagent -fail-rate 0.5 -latency 2s
//
//	# Leak a fake credential to exercise the output gate
//	testagent -leak
//
//	# Point agentd at the stub
//	ENTERPRISE_AGENT_URL=http://localhost:9000/ agentd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// fakeCredential is shaped like a real provider key so agentd's secret scan
// trips on it. The value itself is meaningless.
const fakeCredential = "sk-proj-abc123def456ghi789jkl012mno345pqr678stu901xyz"

type options struct {
	port       int
	confidence float64
	cost       float64
	failRate   float64
	failCost   float64
	latency    time.Duration
	leak       bool
}

func main() {
	var opts options
	flag.IntVar(&opts.port, "port", 9000, "Port to listen on")
	flag.Float64Var(&opts.confidence, "confidence", 0.95, "Confidence reported with every completion")
	flag.Float64Var(&opts.cost, "cost", 0.04, "Cost in dollars reported with every completion")
	flag.Float64Var(&opts.failRate, "fail-rate", 0, "Fraction of requests answered with HTTP 500")
	flag.Float64Var(&opts.failCost, "fail-cost", 0, "Cost in dollars billed for injected failures")
	flag.DurationVar(&opts.latency, "latency", 0, "Delay before answering each request")
	flag.BoolVar(&opts.leak, "leak", false, "Embed a fake credential in every completion")
	verbose := flag.Bool("v", false, "Verbose output")
	flag.Parse()

	logLevel := zapcore.InfoLevel
	if *verbose {
		logLevel = zapcore.DebugLevel
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(logLevel),
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := config.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := validateOptions(opts); err != nil {
		logger.Fatal("Invalid flags", zap.Error(err))
	}

	stub := &stubAgent{opts: opts, logger: logger}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.POST("/", stub.handleExecute)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]bool{"healthy": true})
	})

	logger.Info("Stub enterprise agent listening",
		zap.Int("port", opts.port),
		zap.Float64("confidence", opts.confidence),
		zap.Float64("cost", opts.cost),
		zap.Float64("fail_rate", opts.failRate),
		zap.Duration("latency", opts.latency),
		zap.Bool("leak", opts.leak))

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(fmt.Sprintf(":%d", opts.port))
	}()

	select {
	case err := <-errCh:
		logger.Fatal("Server failed", zap.Error(err))
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown failed", zap.Error(err))
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("Server exited with error", zap.Error(err))
	}
}

// executeRequest matches internal/agent/enterprise.go enterpriseRequest.
type executeRequest struct {
	Task       string         `json:"task"`
	Context    map[string]any `json:"context,omitempty"`
	BudgetHint float64        `json:"budget_hint"`
}

// executeResponse matches internal/agent/enterprise.go enterpriseResponse.
type executeResponse struct {
	Output     string  `json:"output"`
	Confidence float64 `json:"confidence"`
	Cost       float64 `json:"cost"`
}

// executeError matches internal/agent/enterprise.go enterpriseErrorResponse.
// Cost reports billable partial work on failure.
type executeError struct {
	Error  string  `json:"error"`
	Cost   float64 `json:"cost,omitempty"`
	Output string  `json:"output,omitempty"`
}

type stubAgent struct {
	opts   options
	logger *zap.Logger
}

func (s *stubAgent) handleExecute(c echo.Context) error {
	var req executeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, executeError{Error: "invalid request body"})
	}
	if req.Task == "" {
		return c.JSON(http.StatusBadRequest, executeError{Error: "task is required"})
	}

	if s.opts.latency > 0 {
		select {
		case <-time.After(s.opts.latency):
		case <-c.Request().Context().Done():
			s.logger.Debug("Caller gave up while the stub was stalling",
				zap.Duration("latency", s.opts.latency))
			return nil
		}
	}

	if s.opts.failRate > 0 && rand.Float64() < s.opts.failRate {
		s.logger.Info("Injected failure",
			zap.String("task", truncate(req.Task, 80)),
			zap.Float64("billed", s.opts.failCost))
		return c.JSON(http.StatusInternalServerError, executeError{
			Error: "injected failure for testing",
			Cost:  s.opts.failCost,
		})
	}

	output := fmt.Sprintf(
		"Stub completion for: %s. Produced by testagent for local development; tune -confidence and -cost to steer the coordinator.",
		truncate(req.Task, 120),
	)
	if s.opts.leak {
		output += " Authenticate with " + fakeCredential + " going forward."
	}

	s.logger.Debug("Served completion",
		zap.String("task", truncate(req.Task, 80)),
		zap.Float64("budget_hint", req.BudgetHint),
		zap.Int("context_keys", len(req.Context)))

	return c.JSON(http.StatusOK, executeResponse{
		Output:     output,
		Confidence: s.opts.confidence,
		Cost:       s.opts.cost,
	})
}

func validateOptions(opts options) error {
	if opts.port < 1 || opts.port > 65535 {
		return fmt.Errorf("port %d out of range", opts.port)
	}
	if opts.confidence < 0 || opts.confidence > 1 {
		return fmt.Errorf("confidence %v outside [0, 1]", opts.confidence)
	}
	if opts.cost < 0 || opts.failCost < 0 {
		return errors.New("costs must not be negative")
	}
	if opts.failRate < 0 || opts.failRate > 1 {
		return fmt.Errorf("fail-rate %v outside [0, 1]", opts.failRate)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
