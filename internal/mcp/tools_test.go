package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentd/internal/agent"
	"github.com/fyrsmithlabs/agentd/internal/coordinator"
)

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

func TestHandleAgentRun(t *testing.T) {
	t.Run("runs a task", func(t *testing.T) {
		server := testServer(t)

		result, output, err := server.handleAgentRun(context.Background(), nil, agentRunInput{
			Task: "Summarize the quarterly report",
		})
		require.NoError(t, err)

		assert.Equal(t, agent.NameEnterprise, output.Agent)
		assert.Equal(t, "fallback", output.Mode)
		assert.InDelta(t, 0.9, output.Confidence, 1e-9)
		assert.True(t, output.Valid)
		assert.False(t, output.FallbackUsed)
		assert.InDelta(t, 0.05, output.Cost.Actual, 1e-9)
		assert.InDelta(t, 0.95, output.Cost.Remaining, 1e-9)
		require.Len(t, output.Trace, 1)
		assert.True(t, output.Trace[0].Success)
		assert.Contains(t, textOf(t, result), "completed by the enterprise agent")
	})

	t.Run("mode override applies", func(t *testing.T) {
		server := testServer(t)
		mode := "single"

		_, output, err := server.handleAgentRun(context.Background(), nil, agentRunInput{
			Task: "Summarize the quarterly report",
			Mode: &mode,
		})
		require.NoError(t, err)
		assert.Equal(t, "single", output.Mode)
		assert.Len(t, output.Trace, 1)
	})

	t.Run("rejects empty task", func(t *testing.T) {
		server := testServer(t)

		_, output, err := server.handleAgentRun(context.Background(), nil, agentRunInput{
			Task: "   ",
		})
		require.Error(t, err)
		assert.Empty(t, output.RunID)

		var runErr *coordinator.RunError
		require.True(t, errors.As(err, &runErr))
		assert.Equal(t, coordinator.CodeValidation, runErr.Code)
	})

	t.Run("budget starvation surfaces as a run error", func(t *testing.T) {
		server := testServer(t)
		budget := 0.01

		_, _, err := server.handleAgentRun(context.Background(), nil, agentRunInput{
			Task:   "Summarize the quarterly report",
			Budget: &budget,
		})
		require.Error(t, err)

		var runErr *coordinator.RunError
		require.True(t, errors.As(err, &runErr))
		assert.Equal(t, coordinator.CodeCost, runErr.Code)
	})

	t.Run("failed run carries the trace", func(t *testing.T) {
		enterprise := confidentEnterprise()
		enterprise.failure = &agent.Failure{Kind: agent.KindHTTP5xx, Err: errors.New("upstream 503")}
		fallback := degradedFallback()
		fallback.failure = &agent.Failure{Kind: agent.KindInternal, Err: errors.New("render failed")}

		server, err := NewServer(nil, testCoordinator(t, enterprise, fallback))
		require.NoError(t, err)

		_, _, err = server.handleAgentRun(context.Background(), nil, agentRunInput{
			Task: "Summarize the quarterly report",
		})
		require.Error(t, err)

		var runErr *coordinator.RunError
		require.True(t, errors.As(err, &runErr))
		assert.Equal(t, coordinator.CodeAgent, runErr.Code)
		assert.Len(t, runErr.Trace, 2)
	})

	t.Run("scope keys the budget", func(t *testing.T) {
		server := testServer(t)

		_, output, err := server.handleAgentRun(context.Background(), nil, agentRunInput{
			Task:  "Summarize the quarterly report",
			Scope: "tenant-b",
		})
		require.NoError(t, err)
		require.NotEmpty(t, output.RunID)

		_, snapshot, err := server.handleBudgetSnapshot(context.Background(), nil, budgetSnapshotInput{
			Scope: "tenant-b",
		})
		require.NoError(t, err)
		assert.Equal(t, "tenant-b", snapshot.Scope)
		assert.InDelta(t, 0.05, snapshot.Consumed, 1e-9)
	})
}

func TestHandleBudgetSnapshot(t *testing.T) {
	t.Run("defaults to the default scope", func(t *testing.T) {
		server := testServer(t)

		_, _, err := server.handleAgentRun(context.Background(), nil, agentRunInput{
			Task: "Summarize the quarterly report",
		})
		require.NoError(t, err)

		result, output, err := server.handleBudgetSnapshot(context.Background(), nil, budgetSnapshotInput{})
		require.NoError(t, err)

		assert.Equal(t, coordinator.DefaultScope, output.Scope)
		assert.InDelta(t, 1.00, output.Ceiling, 1e-9)
		assert.InDelta(t, 0.05, output.Consumed, 1e-9)
		assert.InDelta(t, 0.95, output.Remaining, 1e-9)
		assert.Contains(t, textOf(t, result), "remaining")
	})

	t.Run("unknown scope errors", func(t *testing.T) {
		server := testServer(t)

		_, _, err := server.handleBudgetSnapshot(context.Background(), nil, budgetSnapshotInput{
			Scope: "nowhere",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "budget snapshot failed")
	})
}

func TestRunOutputFromResult_TraceOrder(t *testing.T) {
	enterprise := confidentEnterprise()
	enterprise.result.Confidence = 0.4

	server, err := NewServer(nil, testCoordinator(t, enterprise, degradedFallback()))
	require.NoError(t, err)

	// Low primary confidence triggers the fallback leg; the trace keeps
	// plan order with the primary first.
	_, output, err := server.handleAgentRun(context.Background(), nil, agentRunInput{
		Task: "Summarize the quarterly report",
	})
	require.NoError(t, err)

	require.Len(t, output.Trace, 2)
	assert.Equal(t, agent.NameEnterprise, output.Trace[0].Agent)
	assert.Equal(t, agent.NameFallback, output.Trace[1].Agent)
	assert.True(t, output.FallbackUsed)
	assert.Equal(t, agent.NameFallback, output.Agent)
	assert.InDelta(t, 0.051, output.Cost.Actual, 1e-9)
}
