// Package testdata provides utilities for generating sample metrics data
// to test Grafana dashboards without using real production data.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics for testing dashboards. Names and buckets match what the OTEL
// instruments render to after the Prometheus exporter's dot-to-underscore
// transform; labels that do not apply to a series are left empty.
var (
	// Coordinator run metrics
	runTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_run_total",
			Help: "Total number of coordination runs by mode and outcome",
		},
		[]string{"mode", "outcome", "agent", "code"},
	)
	runActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agent_run_active_count",
			Help: "Number of currently active runs",
		},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_run_duration_seconds",
			Help:    "Duration of coordination runs in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"mode"},
	)
	runCost = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_run_cost_dollars",
			Help:    "Booked cost per run in dollars",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"mode"},
	)

	// Agent attempt metrics
	attemptTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_attempt_total",
			Help: "Total number of agent invocations by agent and result",
		},
		[]string{"agent", "result", "error_kind"},
	)
	budgetBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_budget_blocked_total",
			Help: "Total number of agent legs blocked by budget",
		},
		[]string{"stage"},
	)

	// HTTP server metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentd_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"method", "endpoint", "status"},
	)
	httpResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentd_http_response_size_bytes",
			Help:    "HTTP response body size in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"method", "endpoint", "status"},
	)
	httpActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentd_http_active_requests",
			Help: "Number of currently active HTTP requests",
		},
	)

	// MCP tool metrics
	mcpInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_mcp_tool_invocations_total",
			Help: "Total number of MCP tool invocations",
		},
		[]string{"tool"},
	)
	mcpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentd_mcp_tool_duration_seconds",
			Help:    "Duration of MCP tool invocations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"tool"},
	)
	mcpErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentd_mcp_tool_errors_total",
			Help: "Total number of MCP tool errors",
		},
		[]string{"tool", "reason"},
	)
	mcpActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentd_mcp_tool_active_requests",
			Help: "Number of currently active MCP tool requests",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		// Coordinator
		runTotal,
		runActive,
		runDuration,
		runCost,
		// Attempts
		attemptTotal,
		budgetBlocked,
		// HTTP
		httpRequestsTotal,
		httpRequestDuration,
		httpResponseSize,
		httpActiveRequests,
		// MCP
		mcpInvocations,
		mcpDuration,
		mcpErrors,
		mcpActiveRequests,
	)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}

	// Generate initial sample data
	generateSampleData()

	// Start background goroutine to continuously generate data
	ctx, cancel := context.WithCancel(context.Background())
	go generateContinuousData(ctx)

	// Serve metrics
	http.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    ":" + port,
		Handler: nil,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		cancel()
		server.Shutdown(context.Background())
	}()

	fmt.Printf("Sample metrics server running on http://localhost:%s/metrics\n", port)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println("\nTo use with Prometheus, add this to prometheus.yml:")
	fmt.Printf("  - job_name: 'agentd-test'\n    static_configs:\n      - targets: ['localhost:%s']\n", port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

var (
	modes      = []string{"single", "fallback", "ensemble"}
	agents     = []string{"enterprise", "fallback"}
	errorCodes = []string{"VAL-400", "COST-400", "AGENT-502", "INTERNAL-500"}
	errorKinds = []string{"NETWORK", "HTTP_4XX", "HTTP_5XX", "PARSE", "TIMEOUT"}
	endpoints  = []string{"/api/agent/run", "/api/agent/budget/:scope", "/health"}
	tools      = []string{"agent_run", "budget_snapshot"}
)

func generateSampleData() {
	// Generate run outcomes. Successful runs carry the winning agent,
	// failed runs carry the error code.
	for i := 0; i < 120; i++ {
		mode := randomChoice(modes)
		if rand.Float64() > 0.15 {
			runTotal.WithLabelValues(mode, "success", randomChoice(agents), "").Inc()
		} else {
			runTotal.WithLabelValues(mode, "error", "", randomChoice(errorCodes)).Inc()
		}
		runDuration.WithLabelValues(mode).Observe(rand.Float64() * 8.0)
		runCost.WithLabelValues(mode).Observe(rand.Float64() * 0.1)
	}
	runActive.Set(float64(rand.Intn(5)))

	// Generate attempts. Escalated runs book a failed enterprise leg
	// before the fallback one.
	for i := 0; i < 150; i++ {
		if rand.Float64() > 0.2 {
			attemptTotal.WithLabelValues(randomChoice(agents), "success", "").Inc()
		} else {
			attemptTotal.WithLabelValues("enterprise", "failure", randomChoice(errorKinds)).Inc()
		}
	}
	for i := 0; i < 10; i++ {
		budgetBlocked.WithLabelValues(randomChoice([]string{"reserve", "fallback_gate", "commit"})).Inc()
	}

	// Generate HTTP data
	methods := []string{"GET", "POST"}
	statuses := []string{"200", "400", "404", "500", "503"}
	for i := 0; i < 200; i++ {
		endpoint := randomChoice(endpoints)
		method := randomChoice(methods)
		status := randomChoice(statuses)
		httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
		httpRequestDuration.WithLabelValues(method, endpoint, status).Observe(rand.Float64() * 2.0)
		httpResponseSize.WithLabelValues(method, endpoint, status).Observe(float64(rand.Intn(10000) + 200))
	}
	httpActiveRequests.Set(float64(rand.Intn(8)))

	// Generate MCP data
	for i := 0; i < 60; i++ {
		tool := randomChoice(tools)
		mcpInvocations.WithLabelValues(tool).Inc()
		mcpDuration.WithLabelValues(tool).Observe(rand.Float64() * 3.0)
	}
	for i := 0; i < 6; i++ {
		mcpErrors.WithLabelValues(randomChoice(tools), randomChoice([]string{"invalid_params", "run_failed", "scope_not_found"})).Inc()
	}
	mcpActiveRequests.Set(float64(rand.Intn(3)))
}

func generateContinuousData(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Add some random activity
			if rand.Float64() > 0.3 {
				mode := randomChoice(modes)
				if rand.Float64() > 0.15 {
					agent := randomChoice(agents)
					runTotal.WithLabelValues(mode, "success", agent, "").Inc()
					attemptTotal.WithLabelValues(agent, "success", "").Inc()
					// An escalated run failed its enterprise leg first
					if agent == "fallback" {
						attemptTotal.WithLabelValues("enterprise", "failure", randomChoice(errorKinds)).Inc()
					}
				} else {
					runTotal.WithLabelValues(mode, "error", "", randomChoice(errorCodes)).Inc()
				}
				runDuration.WithLabelValues(mode).Observe(rand.Float64() * 8.0)
				runCost.WithLabelValues(mode).Observe(rand.Float64() * 0.1)
			}
			if rand.Float64() > 0.9 {
				budgetBlocked.WithLabelValues(randomChoice([]string{"reserve", "fallback_gate", "commit"})).Inc()
			}
			if rand.Float64() > 0.2 {
				endpoint := randomChoice(endpoints)
				method := randomChoice([]string{"GET", "POST"})
				status := randomChoice([]string{"200", "200", "200", "400", "500"})
				httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
				httpRequestDuration.WithLabelValues(method, endpoint, status).Observe(rand.Float64() * 2.0)
				httpResponseSize.WithLabelValues(method, endpoint, status).Observe(float64(rand.Intn(10000) + 200))
			}
			if rand.Float64() > 0.6 {
				tool := randomChoice(tools)
				mcpInvocations.WithLabelValues(tool).Inc()
				mcpDuration.WithLabelValues(tool).Observe(rand.Float64() * 3.0)
				if rand.Float64() > 0.9 {
					mcpErrors.WithLabelValues(tool, "run_failed").Inc()
				}
			}

			// Update gauges
			runActive.Set(float64(rand.Intn(5)))
			httpActiveRequests.Set(float64(rand.Intn(8)))
			mcpActiveRequests.Set(float64(rand.Intn(3)))
		}
	}
}

func randomChoice(choices []string) string {
	return choices[rand.Intn(len(choices))]
}
