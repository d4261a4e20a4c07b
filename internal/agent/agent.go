// Package agent defines the adapter contract the coordinator drives, plus
// the two built-in adapters: the remote enterprise agent and the in-process
// fallback agent.
//
// Adapters normalize every failure into a *Failure with a stable kind so the
// policy engine can treat heterogeneous backends uniformly. An adapter call
// either returns a Result or a *Failure; it never returns both.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/agentd/internal/ledger"
	"github.com/fyrsmithlabs/agentd/internal/validate"
)

// Canonical adapter names. Traces, metrics, and winner tie-breaking key on
// these values.
const (
	NameEnterprise = "enterprise"
	NameFallback   = "fallback"
)

// Task is one unit of work handed to an adapter.
type Task struct {
	// RunID correlates the call with the owning coordinator run.
	RunID string
	// Scope is the budget-accounting key the run charges against.
	Scope string
	// Description is the task text. Required non-empty.
	Description string
	// Context is opaque caller-supplied data forwarded to the agent.
	Context map[string]any
	// Format the output must conform to.
	Format validate.Format
	// BudgetHint tells the agent how much the run is willing to spend
	// on this call.
	BudgetHint ledger.Amount
}

// Result is a successful invocation.
type Result struct {
	Output     string
	Confidence float64
	Cost       ledger.Amount
}

// Kind classifies adapter failures.
type Kind string

const (
	KindNetwork  Kind = "NETWORK"
	KindHTTP4xx  Kind = "HTTP_4XX"
	KindHTTP5xx  Kind = "HTTP_5XX"
	KindParse    Kind = "PARSE"
	KindTimeout  Kind = "TIMEOUT"
	KindCanceled Kind = "CANCELED"
	KindInternal Kind = "INTERNAL"
)

// Failure describes a failed invocation.
//
// Cost is the billable work the agent performed before failing, zero when
// none happened. Partial carries any output that arrived before the failure;
// it is diagnostic only and never a winner candidate.
type Failure struct {
	Kind    Kind
	Cost    ledger.Amount
	Partial string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// AsFailure coerces err into a *Failure. Context errors map to TIMEOUT and
// CANCELED; anything else unrecognized becomes INTERNAL, so a misbehaving
// adapter still yields a classified trace entry.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Failure{Kind: KindTimeout, Err: err}
	case errors.Is(err, context.Canceled):
		return &Failure{Kind: KindCanceled, Err: err}
	}
	return &Failure{Kind: KindInternal, Err: err}
}

// Agent is implemented by every adapter the coordinator can invoke.
type Agent interface {
	// Name identifies the adapter in traces and metrics.
	Name() string

	// CostEstimate is the amount the coordinator reserves before Execute.
	CostEstimate() ledger.Amount

	// Execute runs one task. A non-nil error is always a *Failure. Each
	// call is independently time-bounded by the adapter; the caller's ctx
	// cancels in-flight work.
	Execute(ctx context.Context, task Task) (*Result, error)
}
