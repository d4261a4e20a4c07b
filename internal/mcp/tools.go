package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/agentd/internal/coordinator"
	"github.com/fyrsmithlabs/agentd/internal/trace"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "agent_run",
		Description: "Execute a task through the agent coordinator. Reserves budget, invokes agents per the requested mode (single, fallback, or ensemble), and returns the winning output with the full attempt trace.",
	}, s.handleAgentRun)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "budget_snapshot",
		Description: "Report one budget scope's accounting: ceiling, consumed, and remaining, in dollars.",
	}, s.handleBudgetSnapshot)
}

// ===== AGENT RUN =====

type agentRunInput struct {
	Task         string         `json:"task" jsonschema:"required,Task description for the agents"`
	Mode         *string        `json:"mode,omitempty" jsonschema:"Execution mode (single fallback or ensemble)"`
	Budget       *float64       `json:"budget,omitempty" jsonschema:"Budget ceiling override in dollars"`
	Threshold    *float64       `json:"confidence_threshold,omitempty" jsonschema:"Confidence threshold override (0-1)"`
	Scope        string         `json:"scope,omitempty" jsonschema:"Budget scope key (default: default)"`
	OutputFormat string         `json:"output_format,omitempty" jsonschema:"Required output format (text or json)"`
	Context      map[string]any `json:"context,omitempty" jsonschema:"Opaque context forwarded to the agents"`
}

type runCostOutput struct {
	Estimate  float64 `json:"estimate" jsonschema:"Total reserved estimate in dollars"`
	Actual    float64 `json:"actual" jsonschema:"Total booked cost in dollars"`
	Consumed  float64 `json:"consumed" jsonschema:"Scope lifetime consumption in dollars"`
	Remaining float64 `json:"remaining" jsonschema:"Scope remaining budget in dollars"`
}

type runAttemptOutput struct {
	Agent      string  `json:"agent" jsonschema:"Agent that was invoked"`
	Success    bool    `json:"success" jsonschema:"Whether the invocation succeeded"`
	Confidence float64 `json:"confidence,omitempty" jsonschema:"Self-reported confidence (0-1)"`
	Cost       float64 `json:"cost" jsonschema:"Cost booked for this attempt in dollars"`
	Valid      bool    `json:"valid" jsonschema:"Whether the output passed validation"`
	ErrorKind  string  `json:"error_kind,omitempty" jsonschema:"Failure classification when unsuccessful"`
	Error      string  `json:"error,omitempty" jsonschema:"Failure detail when unsuccessful"`
	DurationMS int64   `json:"duration_ms" jsonschema:"Attempt duration in milliseconds"`
}

type agentRunOutput struct {
	RunID        string             `json:"run_id" jsonschema:"Run identifier"`
	Agent        string             `json:"agent" jsonschema:"Winning agent"`
	Mode         string             `json:"mode" jsonschema:"Execution mode used"`
	Confidence   float64            `json:"confidence" jsonschema:"Winner confidence (0-1)"`
	Cost         runCostOutput      `json:"cost" jsonschema:"Run cost breakdown"`
	Output       string             `json:"output" jsonschema:"Winning output"`
	Valid        bool               `json:"valid" jsonschema:"Whether the winning output passed validation"`
	Issues       []string           `json:"issues,omitempty" jsonschema:"Validation issues on the winning output"`
	FallbackUsed bool               `json:"fallback_used" jsonschema:"True when any non-primary attempt happened"`
	Trace        []runAttemptOutput `json:"trace" jsonschema:"Every attempt in execution plan order"`
}

func (s *Server) handleAgentRun(ctx context.Context, req *mcp.CallToolRequest, args agentRunInput) (*mcp.CallToolResult, agentRunOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "agent_run")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "agent_run")
		s.metrics.RecordInvocation(ctx, "agent_run", time.Since(start), toolErr)
	}()

	result, err := s.coord.Run(ctx, coordinator.TaskRequest{
		Task:         args.Task,
		Context:      args.Context,
		Scope:        args.Scope,
		Budget:       args.Budget,
		Mode:         args.Mode,
		Threshold:    args.Threshold,
		OutputFormat: args.OutputFormat,
	})
	if err != nil {
		toolErr = err
		return nil, agentRunOutput{}, toolErr
	}

	output := runOutputFromResult(result)

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(
				"Run %s completed by the %s agent (confidence %.2f, cost $%.4f)",
				output.RunID, output.Agent, output.Confidence, output.Cost.Actual,
			)},
		},
	}, output, nil
}

func runOutputFromResult(res *coordinator.Result) agentRunOutput {
	out := agentRunOutput{
		RunID:        res.RunID,
		Agent:        res.Agent,
		Mode:         res.Mode,
		Confidence:   res.Confidence,
		Output:       res.Output,
		Valid:        res.Validation.Valid,
		Issues:       res.Validation.Issues,
		FallbackUsed: res.FallbackUsed,
		Cost: runCostOutput{
			Estimate:  res.Cost.Estimate.Dollars(),
			Actual:    res.Cost.Actual.Dollars(),
			Consumed:  res.Cost.Consumed.Dollars(),
			Remaining: res.Cost.Remaining.Dollars(),
		},
		Trace: make([]runAttemptOutput, 0, len(res.Trace)),
	}
	for _, a := range res.Trace {
		out.Trace = append(out.Trace, attemptOutput(a))
	}
	return out
}

func attemptOutput(a trace.Attempt) runAttemptOutput {
	return runAttemptOutput{
		Agent:      a.Agent,
		Success:    a.Success,
		Confidence: a.Confidence,
		Cost:       a.Cost.Dollars(),
		Valid:      a.Validation.Valid,
		ErrorKind:  a.ErrorKind,
		Error:      a.Error,
		DurationMS: a.Duration().Milliseconds(),
	}
}

// ===== BUDGET SNAPSHOT =====

type budgetSnapshotInput struct {
	Scope string `json:"scope,omitempty" jsonschema:"Budget scope key (default: default)"`
}

type budgetSnapshotOutput struct {
	Scope     string  `json:"scope" jsonschema:"Budget scope key"`
	Ceiling   float64 `json:"ceiling" jsonschema:"Scope ceiling in dollars"`
	Consumed  float64 `json:"consumed" jsonschema:"Committed spend plus outstanding holds in dollars"`
	Remaining float64 `json:"remaining" jsonschema:"Budget still available in dollars"`
}

func (s *Server) handleBudgetSnapshot(ctx context.Context, req *mcp.CallToolRequest, args budgetSnapshotInput) (*mcp.CallToolResult, budgetSnapshotOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "budget_snapshot")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "budget_snapshot")
		s.metrics.RecordInvocation(ctx, "budget_snapshot", time.Since(start), toolErr)
	}()

	scope := args.Scope
	if scope == "" {
		scope = coordinator.DefaultScope
	}

	state, err := s.coord.BudgetSnapshot(scope)
	if err != nil {
		toolErr = fmt.Errorf("budget snapshot failed: %w", err)
		return nil, budgetSnapshotOutput{}, toolErr
	}

	output := budgetSnapshotOutput{
		Scope:     state.Scope,
		Ceiling:   state.Ceiling.Dollars(),
		Consumed:  state.Consumed.Dollars(),
		Remaining: state.Remaining.Dollars(),
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(
				"Scope %s: $%.4f of $%.4f consumed ($%.4f remaining)",
				output.Scope, output.Consumed, output.Ceiling, output.Remaining,
			)},
		},
	}, output, nil
}
