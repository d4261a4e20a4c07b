package coordinator

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/agentd/internal/trace"
)

// Request validation errors.
var (
	ErrEmptyTask = errors.New("task is required")
	ErrShutdown  = errors.New("coordinator is shut down")
)

// ErrorCode is the stable machine-readable failure code carried by every
// run error. Transport layers own the mapping to their status space; the
// codes themselves never change.
type ErrorCode string

const (
	// CodeValidation: the request itself is unusable. Nothing was
	// reserved and no agent was invoked.
	CodeValidation ErrorCode = "VAL-400"
	// CodeCost: the budget blocked an agent that could otherwise have
	// been tried.
	CodeCost ErrorCode = "COST-400"
	// CodeAgent: every attempted agent failed or failed validation.
	CodeAgent ErrorCode = "AGENT-502"
	// CodeInternal: a fault in the coordinator itself.
	CodeInternal ErrorCode = "INTERNAL-500"
)

// RunError is the structured whole-run failure. Trace carries every attempt
// made before the run failed, so callers get the full audit record on the
// error path too.
type RunError struct {
	Code    ErrorCode
	Message string
	Trace   []trace.Attempt
	Err     error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Is matches run errors by code, so callers can test
// errors.Is(err, &RunError{Code: CodeCost}).
func (e *RunError) Is(target error) bool {
	t, ok := target.(*RunError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf extracts the error code, defaulting to CodeInternal for errors
// that did not come out of a run.
func CodeOf(err error) ErrorCode {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.Code
	}
	return CodeInternal
}

func validationError(err error) *RunError {
	return &RunError{Code: CodeValidation, Message: err.Error(), Err: err}
}
