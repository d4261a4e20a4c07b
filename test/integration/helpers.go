package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/agent"
	"github.com/fyrsmithlabs/agentd/internal/coordinator"
	httpserver "github.com/fyrsmithlabs/agentd/internal/http"
	"github.com/fyrsmithlabs/agentd/internal/ledger"
	"github.com/fyrsmithlabs/agentd/internal/sink"
	"github.com/fyrsmithlabs/agentd/internal/validate"
)

// agentResponse is the enterprise agent wire contract served by stub
// endpoints in these tests.
type agentResponse struct {
	Output     string  `json:"output"`
	Confidence float64 `json:"confidence"`
	Cost       float64 `json:"cost"`
}

// startEnterpriseStub serves handler as the remote enterprise agent. The
// server is torn down with the test.
func startEnterpriseStub(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// respondWith builds a handler that always serves the given completion.
func respondWith(t *testing.T, resp agentResponse) http.HandlerFunc {
	t.Helper()

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}
}

// startTestNATSServer starts an embedded NATS server for the run-event sink.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()

	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err, "Should create NATS server")

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
	})
	return server
}

// stackConfig tunes the in-process agentd stack built by newTestStack.
// Dollar-valued fields are zero for the stack defaults.
type stackConfig struct {
	agentURL    string  // enterprise endpoint, required
	natsURL     string  // empty leaves the sink disconnected
	mode        string  // default execution mode
	threshold   float64 // default confidence threshold
	budget      float64 // default scope ceiling in dollars
	budgetMax   float64 // ceiling cap in dollars
	fallbackMin float64 // minimum remaining for the fallback leg in dollars
	estimate    float64 // enterprise reservation estimate in dollars
}

// newTestStack wires a real ledger, both agent adapters, the output
// validator, and optionally the NATS sink into a coordinator, then mounts
// the REST API on an httptest server. Everything is torn down with the test.
func newTestStack(t *testing.T, cfg stackConfig) (*coordinator.Coordinator, *httptest.Server) {
	t.Helper()

	if cfg.mode == "" {
		cfg.mode = "fallback"
	}
	if cfg.threshold == 0 {
		cfg.threshold = 0.8
	}
	if cfg.budget == 0 {
		cfg.budget = 5.00
	}
	if cfg.budgetMax == 0 {
		cfg.budgetMax = 20.00
	}
	if cfg.estimate == 0 {
		cfg.estimate = 0.05
	}

	enterprise, err := agent.NewEnterprise(agent.EnterpriseConfig{
		URL:         cfg.agentURL,
		Timeout:     5 * time.Second,
		Estimate:    ledger.MustDollars(cfg.estimate),
		MaxAttempts: 1,
	})
	require.NoError(t, err, "Should create enterprise adapter")
	fallback := agent.NewFallback(agent.FallbackConfig{})

	validator, err := validate.New(validate.Options{})
	require.NoError(t, err, "Should create validator")

	opts := []coordinator.Option{
		coordinator.WithLogger(coordinator.NewLogger(zap.NewNop())),
	}
	if cfg.natsURL != "" {
		runSink, err := sink.Connect(cfg.natsURL)
		require.NoError(t, err, "Should connect run-event sink")
		t.Cleanup(runSink.Close)
		opts = append(opts, coordinator.WithSink(runSink))
	}

	coord, err := coordinator.New(coordinator.Config{
		DefaultMode:      cfg.mode,
		DefaultThreshold: cfg.threshold,
		BudgetDefault:    ledger.MustDollars(cfg.budget),
		BudgetMax:        ledger.MustDollars(cfg.budgetMax),
		FallbackMin:      ledger.MustDollars(cfg.fallbackMin),
		RunTimeout:       10 * time.Second,
	}, []agent.Agent{enterprise, fallback}, ledger.New(ledger.NewSimpleEventEmitter()), validator, opts...)
	require.NoError(t, err, "Should create coordinator")

	srv, err := httpserver.NewServer(coord, zap.NewNop(), &httpserver.Config{Port: 8080})
	require.NoError(t, err, "Should create HTTP server")

	api := httptest.NewServer(srv.Echo())
	t.Cleanup(api.Close)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coord.Shutdown(ctx)
	})

	return coord, api
}

// postRun sends a run request to the REST API and returns the status code
// and raw body.
func postRun(t *testing.T, baseURL string, body any) (int, []byte) {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(baseURL+"/api/agent/run", "application/json", bytes.NewReader(payload))
	require.NoError(t, err, "Run request should reach the server")
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

// getJSON fetches path from the REST API and decodes the body into out.
// Returns the status code.
func getJSON(t *testing.T, baseURL, path string, out any) int {
	t.Helper()

	resp, err := http.Get(baseURL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}
