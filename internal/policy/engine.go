package policy

import (
	"github.com/fyrsmithlabs/agentd/internal/agent"
	"github.com/fyrsmithlabs/agentd/internal/ledger"
	"github.com/fyrsmithlabs/agentd/internal/trace"
)

// Engine holds the resolved knobs for one run and answers the coordinator's
// policy questions. It is an immutable value; a fresh one is built per run.
type Engine struct {
	// Mode selected for this run.
	Mode Mode
	// Threshold is the confidence below which a validated success still
	// triggers the fallback leg.
	Threshold float64
	// FallbackMin is the remaining budget required to attempt the
	// fallback leg.
	FallbackMin ledger.Amount
}

// Plan returns the agents invoked up front, in order. The fallback leg of
// fallback mode is not part of the plan; it is decided after the primary
// outcome via ShouldFallback.
func (e Engine) Plan() []string {
	switch e.Mode {
	case ModeEnsemble:
		return []string{agent.NameEnterprise, agent.NameFallback}
	default:
		return []string{agent.NameEnterprise}
	}
}

// Parallel reports whether the planned agents run concurrently.
func (e Engine) Parallel() bool {
	return e.Mode == ModeEnsemble
}

// FallbackDecision explains whether the fallback leg runs.
type FallbackDecision struct {
	// Attempt is true when the fallback agent should be invoked.
	Attempt bool
	// BudgetBlocked is true when the leg was wanted but the remaining
	// budget gates it. It feeds run-failure classification.
	BudgetBlocked bool
	// Reason is a short log-friendly explanation.
	Reason string
}

// ShouldFallback decides the second leg of fallback mode given the primary
// attempt and the scope's remaining budget. A nil primary means the
// enterprise agent was never attempted (its reservation was rejected).
//
// A validated success at or above the threshold is terminal. Everything
// else falls through to the single budget gate: remaining >= FallbackMin.
// A low-confidence validated success is deliberately not retried when the
// budget gate fails; the run returns it rather than erroring.
func (e Engine) ShouldFallback(primary *trace.Attempt, remaining ledger.Amount) FallbackDecision {
	if e.Mode != ModeFallback {
		return FallbackDecision{Reason: "mode does not fall back"}
	}

	var reason string
	switch {
	case primary == nil:
		reason = "primary agent not attempted"
	case primary.Success && primary.Validation.Valid && primary.Confidence >= e.Threshold:
		return FallbackDecision{Reason: "primary result is confident and valid"}
	case primary.Success && primary.Validation.Valid:
		reason = "primary confidence below threshold"
	case primary.Success:
		reason = "primary result failed validation"
	default:
		reason = "primary agent failed"
	}

	if remaining < e.FallbackMin {
		return FallbackDecision{
			BudgetBlocked: true,
			Reason:        "remaining budget below fallback minimum",
		}
	}
	return FallbackDecision{Attempt: true, Reason: reason}
}

// SelectWinner picks the best attempt: among validated successes, the
// highest confidence wins, and an exact tie prefers the enterprise agent.
// Invalid attempts never win but stay in the trace.
func SelectWinner(attempts []trace.Attempt) (trace.Attempt, bool) {
	var winner trace.Attempt
	found := false

	for _, a := range attempts {
		if !a.Success || !a.Validation.Valid {
			continue
		}
		if !found || better(a, winner) {
			winner = a
			found = true
		}
	}
	return winner, found
}

func better(a, b trace.Attempt) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Agent == agent.NameEnterprise && b.Agent != agent.NameEnterprise
}

// FailureClass says why a run produced no winner.
type FailureClass int

const (
	// FailureAgents: every attempted agent failed or failed validation.
	FailureAgents FailureClass = iota
	// FailureBudget: the budget blocked an agent that could otherwise
	// have been tried.
	FailureBudget
)

// Classify maps a winnerless run to its failure class. Budget starvation
// dominates: if any leg was blocked by budget, the caller should hear about
// cost, not agent flakiness.
func Classify(budgetBlocked bool) FailureClass {
	if budgetBlocked {
		return FailureBudget
	}
	return FailureAgents
}
