package coordinator

import (
	"strings"
	"time"

	"github.com/fyrsmithlabs/agentd/internal/ledger"
	"github.com/fyrsmithlabs/agentd/internal/trace"
	"github.com/fyrsmithlabs/agentd/internal/validate"
)

// DefaultScope is the budget-accounting key used when the caller names none.
const DefaultScope = "default"

// TaskRequest describes one coordination run. Optional knobs are pointers:
// nil means "not supplied", which is how override precedence distinguishes
// an absent field from a zero value.
type TaskRequest struct {
	// Task is the work description. Required non-empty.
	Task string `json:"task"`
	// Context is opaque caller data forwarded to the agents.
	Context map[string]any `json:"context,omitempty"`
	// Scope keys budget accounting. Defaults to DefaultScope.
	Scope string `json:"scope,omitempty"`
	// Budget overrides the scope ceiling, in dollars.
	Budget *float64 `json:"budget,omitempty"`
	// Mode overrides the execution mode.
	Mode *string `json:"mode,omitempty"`
	// Threshold overrides the confidence threshold.
	Threshold *float64 `json:"confidence_threshold,omitempty"`
	// OutputFormat declares the output shape: text (default) or json.
	OutputFormat string `json:"output_format,omitempty"`
}

// ApplyDefaults fills the fields a request may omit.
func (r *TaskRequest) ApplyDefaults() {
	if r.Scope == "" {
		r.Scope = DefaultScope
	}
}

// Validate checks the fields that do not need configuration to judge.
func (r *TaskRequest) Validate() error {
	if strings.TrimSpace(r.Task) == "" {
		return ErrEmptyTask
	}
	return nil
}

// CostBreakdown is the money story of one run.
type CostBreakdown struct {
	// Estimate is the total reserved before invoking agents.
	Estimate ledger.Amount `json:"estimate"`
	// Actual is the total booked across all attempts. It always equals
	// the sum of the trace costs.
	Actual ledger.Amount `json:"actual"`
	// Consumed and Remaining are the scope state after the run.
	Consumed  ledger.Amount `json:"consumed"`
	Remaining ledger.Amount `json:"remaining"`
}

// Result is the successful outcome of a run: the winning attempt plus the
// complete audit record.
type Result struct {
	RunID        string          `json:"run_id"`
	Agent        string          `json:"agent"`
	Mode         string          `json:"mode"`
	Confidence   float64         `json:"confidence"`
	Cost         CostBreakdown   `json:"cost"`
	Output       string          `json:"output"`
	Validation   validate.Result `json:"validation"`
	FallbackUsed bool            `json:"fallback_used"`
	Trace        []trace.Attempt `json:"trace"`
}

// Run outcomes as published to the sink.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// RunEvent is the fire-and-forget record published after every completed
// run, successful or not. An external aggregator builds cost analytics from
// these; the coordinator itself keeps no history.
type RunEvent struct {
	RunID      string          `json:"run_id"`
	Scope      string          `json:"scope"`
	Mode       string          `json:"mode"`
	Outcome    string          `json:"outcome"`
	Code       string          `json:"code,omitempty"`
	Agent      string          `json:"agent,omitempty"`
	Cost       CostBreakdown   `json:"cost"`
	Trace      []trace.Attempt `json:"trace"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Health is the coordinator's component health report.
type Health struct {
	Healthy    bool     `json:"healthy"`
	ActiveRuns int64    `json:"active_runs"`
	Agents     []string `json:"agents"`
	Scopes     int      `json:"scopes"`
	Sink       bool     `json:"sink"`
}
