// Package trace records every agent invocation attempted during one
// coordinator run.
//
// A Recorder is owned by exactly one run. Attempts are append-only and the
// record is sealed when the run ends; the sealed trace is returned verbatim
// in both success and error responses.
package trace

import (
	"errors"
	"sync"
	"time"

	"github.com/fyrsmithlabs/agentd/internal/ledger"
	"github.com/fyrsmithlabs/agentd/internal/validate"
)

// ErrSealed is returned when appending to a recorder whose run has ended.
var ErrSealed = errors.New("trace already sealed")

// Attempt is the immutable record of one agent invocation.
//
// Cost is the amount actually booked against the budget for this attempt,
// which is zero when the agent failed before billable work. Output is never
// serialized; only the winning attempt's output surfaces, in the run result.
type Attempt struct {
	Agent      string          `json:"agent"`
	Success    bool            `json:"success"`
	Confidence float64         `json:"confidence,omitempty"`
	Cost       ledger.Amount   `json:"cost"`
	ErrorKind  string          `json:"error_kind,omitempty"`
	Error      string          `json:"error,omitempty"`
	Output     string          `json:"-"`
	Validation validate.Result `json:"validation"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Duration returns how long the attempt took.
func (a Attempt) Duration() time.Duration {
	return a.FinishedAt.Sub(a.StartedAt)
}

// Recorder accumulates the attempts of one run. Safe for concurrent append
// so ensemble legs can record from their own goroutines.
type Recorder struct {
	mu       sync.Mutex
	attempts []Attempt
	sealed   bool
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Append adds an attempt to the record. Fails with ErrSealed once the run
// has ended.
func (r *Recorder) Append(a Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrSealed
	}
	r.attempts = append(r.attempts, a)
	return nil
}

// Seal ends the run and returns the final trace. Idempotent; later calls
// return the same attempts.
func (r *Recorder) Seal() []Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sealed = true
	return r.copyLocked()
}

// Snapshot returns a copy of the attempts recorded so far.
func (r *Recorder) Snapshot() []Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyLocked()
}

// Len returns the number of recorded attempts.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}

// TotalCost returns the sum of booked attempt costs.
func (r *Recorder) TotalCost() ledger.Amount {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total ledger.Amount
	for _, a := range r.attempts {
		total += a.Cost
	}
	return total
}

func (r *Recorder) copyLocked() []Attempt {
	out := make([]Attempt, len(r.attempts))
	copy(out, r.attempts)
	return out
}
