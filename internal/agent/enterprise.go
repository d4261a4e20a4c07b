package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/fyrsmithlabs/agentd/internal/config"
	"github.com/fyrsmithlabs/agentd/internal/ledger"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	defaultEnterpriseTimeout = 30 * time.Second
	defaultMaxAttempts       = 3
	defaultRateLimit         = 10
	defaultRateBurst         = 10
	defaultBaseBackoff       = 500 * time.Millisecond

	// maxResponseBytes caps how much of an agent response is read.
	maxResponseBytes = 1 << 20
)

// defaultEnterpriseEstimate is the reservation hint when none is configured.
var defaultEnterpriseEstimate = ledger.MustDollars(0.05)

// EnterpriseConfig configures the remote enterprise adapter.
type EnterpriseConfig struct {
	// URL of the agent endpoint. Required.
	URL string
	// Token is the bearer credential. It moves into the oauth2 transport
	// at construction and is never retained on the adapter.
	Token config.Secret
	// Timeout bounds each Execute call.
	Timeout time.Duration
	// Estimate is the reservation hint returned by CostEstimate.
	Estimate ledger.Amount
	// MaxAttempts caps transport attempts per call, first try included.
	MaxAttempts int
	// RateLimit and RateBurst configure the client-side limiter.
	RateLimit float64
	RateBurst int
}

// Enterprise calls a remote agent service over HTTP.
//
// Transport errors, 429s, and 5xx responses are retried with exponential
// backoff up to MaxAttempts. Retries are internal: the caller sees one
// outcome per Execute, and the trace records one attempt.
type Enterprise struct {
	url         string
	httpClient  *http.Client
	limiter     *rate.Limiter
	timeout     time.Duration
	estimate    ledger.Amount
	maxAttempts int
	baseBackoff time.Duration
}

// NewEnterprise creates the remote adapter.
func NewEnterprise(cfg EnterpriseConfig) (*Enterprise, error) {
	if cfg.URL == "" {
		return nil, errors.New("enterprise agent URL required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultEnterpriseTimeout
	}
	estimate := cfg.Estimate
	if estimate <= 0 {
		estimate = defaultEnterpriseEstimate
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = defaultRateBurst
	}

	client := &http.Client{}
	if cfg.Token.IsSet() {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
		client = oauth2.NewClient(context.Background(), src)
	}

	return &Enterprise{
		url:         cfg.URL,
		httpClient:  client,
		limiter:     rate.NewLimiter(rate.Limit(limit), burst),
		timeout:     timeout,
		estimate:    estimate,
		maxAttempts: maxAttempts,
		baseBackoff: defaultBaseBackoff,
	}, nil
}

// Name identifies the adapter in traces and metrics.
func (e *Enterprise) Name() string { return NameEnterprise }

// CostEstimate is the amount reserved before each call.
func (e *Enterprise) CostEstimate() ledger.Amount { return e.estimate }

// Execute runs one task against the remote service. A non-nil error is
// always a *Failure.
func (e *Enterprise) Execute(ctx context.Context, task Task) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	// Wait for rate limiter
	if err := e.limiter.Wait(callCtx); err != nil {
		if ctxErr := callCtx.Err(); ctxErr != nil {
			return nil, AsFailure(ctxErr)
		}
		return nil, &Failure{Kind: KindInternal, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	payload, err := json.Marshal(enterpriseRequest{
		Task:       task.Description,
		Context:    task.Context,
		BudgetHint: task.BudgetHint.Dollars(),
	})
	if err != nil {
		return nil, &Failure{Kind: KindInternal, Err: fmt.Errorf("marshal request: %w", err)}
	}

	// Make request with retries
	var lastErr error
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			backoff := e.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-callCtx.Done():
				return nil, AsFailure(callCtx.Err())
			}
		}

		result, err := e.doRequest(callCtx, payload)
		if err == nil {
			return result, nil
		}

		lastErr = err
		// Check if error is retryable
		if !isRetryableError(err) {
			break
		}
	}

	return nil, AsFailure(lastErr)
}

// doRequest performs one HTTP exchange with the agent service.
func (e *Enterprise) doRequest(ctx context.Context, payload []byte) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return nil, &Failure{Kind: KindInternal, Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, AsFailure(ctxErr)
		}
		return nil, &retryableError{err: &Failure{Kind: KindNetwork, Err: fmt.Errorf("request failed: %w", err)}}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, AsFailure(ctxErr)
		}
		return nil, &retryableError{err: &Failure{Kind: KindNetwork, Err: fmt.Errorf("read response: %w", err)}}
	}

	// Rate limiting and server errors are retryable
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &retryableError{err: failureFromStatus(resp.StatusCode, body)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, failureFromStatus(resp.StatusCode, body)
	}

	var wire enterpriseResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &Failure{Kind: KindParse, Err: fmt.Errorf("decode response: %w", err)}
	}
	return wire.result()
}

type enterpriseRequest struct {
	Task       string         `json:"task"`
	Context    map[string]any `json:"context,omitempty"`
	BudgetHint float64        `json:"budget_hint"`
}

type enterpriseResponse struct {
	Output     string  `json:"output"`
	Confidence float64 `json:"confidence"`
	Cost       float64 `json:"cost"`
}

// result validates the wire fields. Anything out of contract is a PARSE
// failure so a misbehaving backend cannot smuggle bad values into a trace.
func (r enterpriseResponse) result() (*Result, error) {
	if r.Output == "" {
		return nil, &Failure{Kind: KindParse, Err: errors.New("empty output")}
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return nil, &Failure{Kind: KindParse, Err: fmt.Errorf("confidence %v outside [0, 1]", r.Confidence)}
	}
	cost, err := ledger.FromDollars(r.Cost)
	if err != nil {
		return nil, &Failure{Kind: KindParse, Err: fmt.Errorf("invalid cost: %w", err)}
	}
	return &Result{Output: r.Output, Confidence: r.Confidence, Cost: cost}, nil
}

// enterpriseErrorResponse is the error body shape. All fields are optional;
// agents that report billable partial work on failure populate cost/output.
type enterpriseErrorResponse struct {
	Error  string  `json:"error"`
	Cost   float64 `json:"cost"`
	Output string  `json:"output"`
}

// failureFromStatus maps a non-200 response to a Failure, salvaging any
// billable cost and partial output the agent reported in the error body.
func failureFromStatus(status int, body []byte) *Failure {
	kind := KindHTTP4xx
	if status >= 500 {
		kind = KindHTTP5xx
	}

	var wire enterpriseErrorResponse
	_ = json.Unmarshal(body, &wire)

	msg := wire.Error
	if msg == "" {
		msg = truncate(string(body), 200)
	}

	f := &Failure{Kind: kind, Partial: wire.Output, Err: fmt.Errorf("agent returned %d: %s", status, msg)}
	if cost, err := ledger.FromDollars(wire.Cost); err == nil {
		f.Cost = cost
	}
	return f
}

// retryableError wraps an error to indicate it can be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryableError checks if an error should be retried.
func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// truncate caps s at n bytes, backing up so a multi-byte rune is never
// split mid-sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// Ensure interfaces are implemented at compile time.
var _ Agent = (*Enterprise)(nil)
