package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/agentd/internal/ledger"
	"github.com/fyrsmithlabs/agentd/internal/validate"
)

const defaultFallbackConfidence = 0.60

// defaultFallbackCost is the flat cost booked per fallback completion.
var defaultFallbackCost = ledger.MustDollars(0.001)

// FallbackConfig configures the in-process fallback adapter.
type FallbackConfig struct {
	// Cost is the flat amount booked per completion.
	Cost ledger.Amount
	// Confidence is the fixed confidence reported for every completion.
	Confidence float64
}

// Fallback is the in-process safety net: a deterministic template
// completion with near-zero cost and fixed confidence. It never touches the
// network, so the same task always produces the same output.
type Fallback struct {
	cost       ledger.Amount
	confidence float64
}

// NewFallback creates the fallback adapter.
func NewFallback(cfg FallbackConfig) *Fallback {
	cost := cfg.Cost
	if cost <= 0 {
		cost = defaultFallbackCost
	}
	confidence := cfg.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = defaultFallbackConfidence
	}
	return &Fallback{cost: cost, confidence: confidence}
}

// Name identifies the adapter in traces and metrics.
func (f *Fallback) Name() string { return NameFallback }

// CostEstimate equals the flat cost; the reservation is always exact.
func (f *Fallback) CostEstimate() ledger.Amount { return f.cost }

// Execute produces a deterministic completion. The only failure modes are
// context cancellation and deadline expiry.
func (f *Fallback) Execute(ctx context.Context, task Task) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, AsFailure(ctx.Err())
	default:
	}

	output, err := f.render(task)
	if err != nil {
		return nil, &Failure{Kind: KindInternal, Err: err}
	}

	return &Result{
		Output:     output,
		Confidence: f.confidence,
		Cost:       f.cost,
	}, nil
}

func (f *Fallback) render(task Task) (string, error) {
	if task.Format == validate.FormatJSON {
		payload := struct {
			Agent    string  `json:"agent"`
			Task     string  `json:"task"`
			Response string  `json:"response"`
			Degraded bool    `json:"degraded"`
			Cost     float64 `json:"cost"`
		}{
			Agent:    NameFallback,
			Task:     truncate(task.Description, 200),
			Response: "Processed in degraded mode without an external agent.",
			Degraded: true,
			Cost:     f.cost.Dollars(),
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("render completion: %w", err)
		}
		return string(raw), nil
	}

	return fmt.Sprintf(
		"Degraded-mode completion. The primary agent was unavailable or not confident enough, so this response was produced locally without an external call.\n\nTask: %s",
		truncate(task.Description, 200),
	), nil
}

// Ensure interfaces are implemented at compile time.
var _ Agent = (*Fallback)(nil)
