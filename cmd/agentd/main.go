// Agentd is a cost-aware agent coordination daemon with an HTTP API.
//
// This binary starts the agentd HTTP server with full service initialization,
// including the budget ledger, agent adapters, output validation, and the
// optional NATS run-event sink. The same services can be exposed as MCP tools
// over stdio with the stdio subcommand.
//
// Configuration is loaded from ~/.config/agentd/config.yaml (if present) and
// overridden by environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	agentd
//
//	# Configure via environment
//	SERVER_PORT=9090 ENTERPRISE_AGENT_URL=https://agents.example.com/v1/run agentd
//
//	# Serve the MCP tool surface over stdio instead of HTTP
//	agentd stdio
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/agentd/internal/agent"
	"github.com/fyrsmithlabs/agentd/internal/config"
	"github.com/fyrsmithlabs/agentd/internal/coordinator"
	httpserver "github.com/fyrsmithlabs/agentd/internal/http"
	"github.com/fyrsmithlabs/agentd/internal/ledger"
	"github.com/fyrsmithlabs/agentd/internal/logging"
	"github.com/fyrsmithlabs/agentd/internal/mcp"
	"github.com/fyrsmithlabs/agentd/internal/sink"
	"github.com/fyrsmithlabs/agentd/internal/telemetry"
	"github.com/fyrsmithlabs/agentd/internal/validate"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	// Parse command-line arguments
	configPath := flag.String("config", "", "path to config file (default ~/.config/agentd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	// Handle subcommands
	stdioMode := false
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		case "stdio":
			stdioMode = true
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  agentd            Start the agentd HTTP daemon\n")
			fmt.Fprintf(os.Stderr, "  agentd stdio      Serve the MCP tools over stdio\n")
			fmt.Fprintf(os.Stderr, "  agentd version    Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handler
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if stdioMode {
		if err := runStdio(ctx, *configPath); err != nil {
			log.Fatalf("MCP server error: %v", err)
		}
		log.Println("MCP server shutdown complete")
		return
	}

	// Run server
	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("agentd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the agentd server and blocks until context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the structured logger
//  3. Connects to infrastructure (NATS run-event sink, when configured)
//  4. Builds the budget ledger, agent adapters, and validator
//  5. Wires the coordinator with logging, metrics, and the sink
//  6. Starts the HTTP server
//  7. Performs graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	// Load configuration
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Initialize telemetry and logging
	deps, err := initDependencies(ctx, cfg, false)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	zlog := deps.logger.Underlying()
	deps.logger.Info(ctx, "Starting agentd",
		zap.Int("port", cfg.Server.Port),
		zap.String("mode", cfg.Agent.Mode),
		zap.String("service", cfg.Telemetry.ServiceName),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	deps.logger.Info(ctx, "Dependencies initialized",
		zap.Bool("telemetry_enabled", deps.telemetry.IsEnabled()),
		zap.Bool("sink_connected", deps.runSink != nil))

	// Initialize the coordinator and its collaborators
	coord, err := initServices(cfg, deps, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	// Create HTTP server
	srv, err := httpserver.NewServer(coord, zlog, &httpserver.Config{
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	// Register request metrics and the Prometheus endpoint
	httpMetrics := httpserver.NewHTTPMetrics(zlog)
	srv.Echo().Use(httpMetrics.MetricsMiddleware())
	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	deps.logger.Info(ctx, "Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("api_prefix", "/api/agent"),
		zap.String("metrics_endpoint", "/metrics"))

	// Start server
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	// Stop accepting requests, then drain in-flight runs.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		deps.logger.Error(shutdownCtx, "HTTP server shutdown failed", zap.Error(err))
	}
	if err := coord.Shutdown(shutdownCtx); err != nil {
		deps.logger.Error(shutdownCtx, "Coordinator shutdown incomplete", zap.Error(err))
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// runStdio serves the MCP tool surface over stdio and blocks until the
// client disconnects or the context is cancelled.
func runStdio(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// The MCP transport owns stdout, so the console log core moves to
	// stderr in this mode.
	deps, err := initDependencies(ctx, cfg, true)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	deps.logger.Info(ctx, "Starting agentd MCP server",
		zap.String("transport", "stdio"),
		zap.String("mode", cfg.Agent.Mode))

	coord, err := initServices(cfg, deps, deps.logger.Underlying())
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	mcpServer, err := mcp.NewServer(&mcp.Config{
		Name:    "agentd",
		Version: version,
		Logger:  deps.logger.Underlying(),
	}, coord)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	runErr := mcpServer.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := mcpServer.Close(shutdownCtx); err != nil {
		deps.logger.Error(shutdownCtx, "Coordinator shutdown incomplete", zap.Error(err))
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	telemetry *telemetry.Telemetry
	logger    *logging.Logger
	runSink   *sink.NATS
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.runSink != nil {
		d.runSink.Close()
	}
	if d.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.telemetry.Shutdown(ctx); err != nil {
			d.logger.Warn(ctx, "Telemetry shutdown failed", zap.Error(err))
		}
	}
	if d.logger != nil {
		_ = d.logger.Sync() // Best-effort sync
	}
}

// loadConfig loads and validates configuration from file and environment.
func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initDependencies initializes all infrastructure dependencies.
//
// This function:
//  1. Initializes OpenTelemetry providers (no-op when disabled)
//  2. Builds the structured logger, bridged into the OTel log pipeline
//  3. Connects the NATS run-event sink when NATS_URL is set
func initDependencies(ctx context.Context, cfg *config.Config, stdioMode bool) (*dependencies, error) {
	// Telemetry comes up first so the logger can bridge into it. A
	// disabled config yields a no-op instance and instrument constructors
	// keep working against the global providers.
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}

	tcfg := telemetry.NewDefaultConfig()
	tcfg.Enabled = cfg.Telemetry.Enable
	tcfg.ServiceName = cfg.Telemetry.ServiceName
	tcfg.ServiceVersion = version
	tcfg.Endpoint = cfg.Telemetry.Endpoint
	tcfg.Protocol = cfg.Telemetry.Protocol
	tcfg.Insecure = cfg.Telemetry.Insecure
	tcfg.Sampling.Rate = cfg.Telemetry.SamplingRate

	tel, err := telemetry.New(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg := logging.NewDefaultConfig()
	logCfg.Level = level
	logCfg.Format = cfg.Log.Format
	logCfg.Output.OTEL = cfg.Telemetry.Enable
	if stdioMode {
		logCfg.Output.Stdout = false
		logCfg.Output.Stderr = true
	}

	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutCtx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if health := tel.Health(); health.Degraded {
		logger.Warn(ctx, "Telemetry running degraded; exporters may be unavailable",
			zap.String("reason", health.Reason))
	}

	// Connect the run-event sink. An empty URL disables it; runs are then
	// observable through logs and metrics only.
	var runSink *sink.NATS
	if cfg.NATS.URL != "" {
		runSink, err = sink.Connect(cfg.NATS.URL)
		if err != nil {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tel.Shutdown(shutCtx)
			return nil, fmt.Errorf("failed to connect run-event sink: %w", err)
		}
		logger.Info(ctx, "Connected to NATS", zap.String("url", cfg.NATS.URL))
	}

	return &dependencies{
		telemetry: tel,
		logger:    logger,
		runSink:   runSink,
	}, nil
}

// initServices builds the coordinator and everything it arbitrates over:
// the budget ledger, the agent adapters, and the output validator.
func initServices(cfg *config.Config, deps *dependencies, logger *zap.Logger) (*coordinator.Coordinator, error) {
	budgetDefault, err := dollars("agent budget_default", cfg.Agent.BudgetDefault)
	if err != nil {
		return nil, err
	}
	budgetMax, err := dollars("agent budget_max", cfg.Agent.BudgetMax)
	if err != nil {
		return nil, err
	}
	fallbackMin, err := dollars("agent budget_fallback_min", cfg.Agent.BudgetFallbackMin)
	if err != nil {
		return nil, err
	}
	enterpriseEstimate, err := dollars("enterprise agent_estimate", cfg.Enterprise.AgentEstimate)
	if err != nil {
		return nil, err
	}
	fallbackCost, err := dollars("fallback agent_cost", cfg.Fallback.AgentCost)
	if err != nil {
		return nil, err
	}

	coordLogger := coordinator.NewLogger(logger)

	// Budget lifecycle events flow from the ledger into the structured log.
	emitter := ledger.NewSimpleEventEmitter()
	emitter.Subscribe(func(event ledger.Event) {
		switch ev := event.(type) {
		case ledger.WarningEvent:
			coordLogger.BudgetWarning(context.Background(), ev.Scope(), ev.Consumed, ev.Ceiling, ev.Utilization)
		case ledger.ExhaustedEvent:
			coordLogger.BudgetExhausted(context.Background(), ev.Scope(), ev.Requested, ev.Available)
		}
	})
	ldg := ledger.New(emitter)

	// The coordinator requires both adapters, so the enterprise endpoint
	// is mandatory for the daemon.
	if cfg.Enterprise.AgentURL == "" {
		return nil, errors.New("ENTERPRISE_AGENT_URL is required")
	}
	enterprise, err := agent.NewEnterprise(agent.EnterpriseConfig{
		URL:         cfg.Enterprise.AgentURL,
		Token:       cfg.Enterprise.AgentToken,
		Timeout:     cfg.Enterprise.AgentTimeout,
		Estimate:    enterpriseEstimate,
		MaxAttempts: cfg.Enterprise.MaxAttempts,
		RateLimit:   cfg.Enterprise.RateLimit,
		RateBurst:   cfg.Enterprise.RateBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create enterprise agent: %w", err)
	}
	fallback := agent.NewFallback(agent.FallbackConfig{
		Cost:       fallbackCost,
		Confidence: cfg.Fallback.AgentConfidence,
	})

	validator, err := validate.New(validate.Options{
		MinTextLength:  cfg.Validator.MinTextLength,
		MaxOutputBytes: cfg.Validator.MaxOutputBytes,
		AllowlistPath:  cfg.Validator.AllowlistPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	opts := []coordinator.Option{coordinator.WithLogger(coordLogger)}
	if metrics, err := coordinator.NewMetrics(nil); err != nil {
		logger.Warn("Coordinator metrics unavailable", zap.Error(err))
	} else {
		opts = append(opts, coordinator.WithMetrics(metrics))
	}
	if deps.runSink != nil {
		opts = append(opts, coordinator.WithSink(deps.runSink))
	}

	coord, err := coordinator.New(coordinator.Config{
		DefaultMode:      cfg.Agent.Mode,
		DefaultThreshold: cfg.Agent.ConfidenceThreshold,
		BudgetDefault:    budgetDefault,
		BudgetMax:        budgetMax,
		FallbackMin:      fallbackMin,
		RunTimeout:       cfg.Agent.RunTimeout,
	}, []agent.Agent{enterprise, fallback}, ldg, validator, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}
	return coord, nil
}

// dollars converts a configured dollar figure into ledger microdollars.
func dollars(name string, value float64) (ledger.Amount, error) {
	amt, err := ledger.FromDollars(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return amt, nil
}
