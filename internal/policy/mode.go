// Package policy implements the mode policy engine: resolving the per-run
// execution knobs and deciding which agents run, when the fallback leg is
// taken, and which attempt wins.
//
// Everything here is pure. The coordinator owns side effects; the policy
// engine only answers questions.
package policy

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/agentd/internal/ledger"
)

var (
	// ErrUnknownMode indicates an unrecognized execution mode name.
	ErrUnknownMode = errors.New("unknown execution mode")

	// ErrInvalidThreshold indicates a confidence threshold outside [0, 1].
	ErrInvalidThreshold = errors.New("invalid confidence threshold")

	// ErrInvalidBudget indicates an unusable budget override.
	ErrInvalidBudget = errors.New("invalid budget override")
)

// Mode selects how agents are driven for one run.
type Mode string

const (
	// ModeSingle runs the enterprise agent once; its outcome is terminal.
	ModeSingle Mode = "single"
	// ModeFallback runs the enterprise agent and, when it disappoints,
	// the fallback agent, budget permitting.
	ModeFallback Mode = "fallback"
	// ModeEnsemble runs both agents in parallel and keeps the best.
	ModeEnsemble Mode = "ensemble"
)

// DefaultMode applies when neither the request nor the environment names one.
const DefaultMode = ModeFallback

// ParseMode maps a request string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSingle, ModeFallback, ModeEnsemble:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q (must be single, fallback, or ensemble)", ErrUnknownMode, s)
	}
}

// ResolveMode applies override precedence: the request override when
// present, else the configured default, else DefaultMode. The transport
// layer has already collapsed body-versus-header precedence into a single
// optional override.
func ResolveMode(override *string, configured string) (Mode, error) {
	if override != nil {
		return ParseMode(*override)
	}
	if configured != "" {
		return ParseMode(configured)
	}
	return DefaultMode, nil
}

// ResolveThreshold resolves the confidence threshold the same way.
func ResolveThreshold(override *float64, configured float64) (float64, error) {
	threshold := configured
	if override != nil {
		threshold = *override
	}
	if threshold < 0 || threshold > 1 {
		return 0, fmt.Errorf("%w: %v outside [0, 1]", ErrInvalidThreshold, threshold)
	}
	return threshold, nil
}

// ResolveCeiling resolves the scope ceiling for this run. An override must
// be positive, finite, and at most max; out-of-range overrides are rejected,
// never clamped. The second return reports whether the caller supplied an
// explicit override, which is what distinguishes a resize from a lazy
// default.
func ResolveCeiling(override *float64, def, max ledger.Amount) (ledger.Amount, bool, error) {
	if override == nil {
		return def, false, nil
	}
	amount, err := ledger.FromDollars(*override)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrInvalidBudget, err)
	}
	if amount == 0 {
		return 0, false, fmt.Errorf("%w: must be positive", ErrInvalidBudget)
	}
	if amount > max {
		return 0, false, fmt.Errorf("%w: %s exceeds maximum %s", ErrInvalidBudget, amount, max)
	}
	return amount, true, nil
}
