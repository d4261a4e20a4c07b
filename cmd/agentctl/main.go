// Package main implements the agentctl CLI for manual operations against the agentd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the agentd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentctl",
	Short: "CLI for agentd HTTP server operations",
	Long: `agentctl is a command-line interface for interacting with the agentd HTTP server.
It provides commands for running tasks, inspecting budgets, and checking server health.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "agentd server URL")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(budgetCmd)
	rootCmd.AddCommand(healthCmd)

	runCmd.Flags().StringVar(&runMode, "mode", "", "execution mode: single, fallback, or ensemble")
	runCmd.Flags().StringVar(&runScope, "scope", "", "budget scope the run draws from")
	runCmd.Flags().Float64Var(&runBudgetUSD, "budget", 0, "budget ceiling override in USD")
	runCmd.Flags().Float64Var(&runThreshold, "threshold", 0, "confidence threshold override")
	runCmd.Flags().StringVar(&runFormat, "format", "", "expected output format: text or json")
	runCmd.Flags().BoolVar(&runTrace, "trace", false, "print the attempt trace to stderr")
}

var (
	runMode      string
	runScope     string
	runBudgetUSD float64
	runThreshold float64
	runFormat    string
	runTrace     bool
)

// runCmd executes one coordination run
var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run a task through the agent coordinator",
	Long: `Run a task through the agentd coordinator and print the winning output.

The task is read from the argument, or from stdin when the argument is - or absent.
The output goes to stdout; the run summary goes to stderr.

Examples:
  # Run a task
  agentctl run "summarize the deployment logs"

  # Run from stdin with a budget override
  cat task.txt | agentctl run --budget 0.50 -

  # Force a single enterprise attempt against a tenant scope
  agentctl run --mode single --scope tenant-a "draft the incident report"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

// budgetCmd inspects a budget scope
var budgetCmd = &cobra.Command{
	Use:   "budget [scope]",
	Short: "Show the budget state for a scope",
	Long: `Show the ceiling, consumed, and remaining budget for a scope.

Examples:
  # Inspect the default scope
  agentctl budget

  # Inspect a tenant scope
  agentctl budget tenant-a`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBudget,
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check agentd server health",
	Long: `Check the health status of the agentd HTTP server.

Examples:
  # Check health
  agentctl health

  # Check health on a different server
  agentctl health --server http://localhost:9090`,
	RunE: runHealth,
}

// RunRequest matches internal/coordinator/types.go TaskRequest
type RunRequest struct {
	Task      string   `json:"task"`
	Scope     string   `json:"scope,omitempty"`
	Budget    *float64 `json:"budget,omitempty"`
	Mode      *string  `json:"mode,omitempty"`
	Threshold *float64 `json:"confidence_threshold,omitempty"`
	Format    string   `json:"output_format,omitempty"`
}

// RunResponse matches internal/coordinator/types.go Result
type RunResponse struct {
	RunID        string       `json:"run_id"`
	Agent        string       `json:"agent"`
	Mode         string       `json:"mode"`
	Confidence   float64      `json:"confidence"`
	Cost         RunCost      `json:"cost"`
	Output       string       `json:"output"`
	Validation   RunValid     `json:"validation"`
	FallbackUsed bool         `json:"fallback_used"`
	Trace        []RunAttempt `json:"trace"`
}

// RunCost matches internal/coordinator/types.go CostBreakdown; amounts are USD
type RunCost struct {
	Estimate  float64 `json:"estimate"`
	Actual    float64 `json:"actual"`
	Consumed  float64 `json:"consumed"`
	Remaining float64 `json:"remaining"`
}

// RunValid matches internal/validate/validate.go Result
type RunValid struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues,omitempty"`
}

// RunAttempt matches internal/trace/recorder.go Attempt
type RunAttempt struct {
	Agent      string  `json:"agent"`
	Success    bool    `json:"success"`
	Confidence float64 `json:"confidence,omitempty"`
	Cost       float64 `json:"cost"`
	ErrorKind  string  `json:"error_kind,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// BudgetResponse matches internal/ledger/ledger.go BudgetState; amounts are USD
type BudgetResponse struct {
	Scope     string  `json:"scope"`
	Ceiling   float64 `json:"ceiling"`
	Consumed  float64 `json:"consumed"`
	Remaining float64 `json:"remaining"`
}

// HealthResponse matches internal/coordinator/types.go Health
type HealthResponse struct {
	Healthy    bool     `json:"healthy"`
	ActiveRuns int64    `json:"active_runs"`
	Agents     []string `json:"agents"`
	Scopes     int      `json:"scopes"`
	Sink       bool     `json:"sink"`
}

// ErrorResponse matches internal/http/types.go ErrorResponse
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// runRun handles the run command
func runRun(cmd *cobra.Command, args []string) error {
	var task []byte
	var err error

	// Read the task from the argument or stdin
	if len(args) == 0 || args[0] == "-" {
		task, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		task = []byte(args[0])
	}

	if len(bytes.TrimSpace(task)) == 0 {
		return fmt.Errorf("no task to run")
	}

	// Prepare request; knobs are sent only when their flag was set so the
	// server-side defaults keep applying
	reqBody := RunRequest{
		Task:   string(task),
		Scope:  runScope,
		Format: runFormat,
	}
	if cmd.Flags().Changed("mode") {
		reqBody.Mode = &runMode
	}
	if cmd.Flags().Changed("budget") {
		reqBody.Budget = &runBudgetUSD
	}
	if cmd.Flags().Changed("threshold") {
		reqBody.Threshold = &runThreshold
	}

	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	// Make HTTP request
	url := fmt.Sprintf("%s/api/agent/run", serverURL)
	httpReq, err := http.NewRequest("POST", url, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	// Runs can legitimately take up to the server-side run timeout
	client := &http.Client{
		Timeout: 2 * time.Minute,
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	// Parse response
	var runResp RunResponse
	if err := json.NewDecoder(resp.Body).Decode(&runResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	// Output goes to stdout so it can be piped; everything else to stderr
	fmt.Print(runResp.Output)
	if len(runResp.Output) > 0 && runResp.Output[len(runResp.Output)-1] != '\n' {
		fmt.Println()
	}

	fallbackNote := ""
	if runResp.FallbackUsed {
		fallbackNote = ", fallback used"
	}
	fmt.Fprintf(os.Stderr, "[agentctl] run %s: %s agent, confidence %.2f, cost $%.4f%s\n",
		runResp.RunID, runResp.Agent, runResp.Confidence, runResp.Cost.Actual, fallbackNote)

	if runTrace {
		for i, attempt := range runResp.Trace {
			status := "ok"
			if !attempt.Success {
				status = attempt.ErrorKind
			}
			fmt.Fprintf(os.Stderr, "[agentctl]   attempt %d: %s %s cost $%.4f\n",
				i+1, attempt.Agent, status, attempt.Cost)
		}
	}

	return nil
}

// runBudget handles the budget command
func runBudget(cmd *cobra.Command, args []string) error {
	scope := "default"
	if len(args) > 0 {
		scope = args[0]
	}

	url := fmt.Sprintf("%s/api/agent/budget/%s", serverURL, scope)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	var budgetResp BudgetResponse
	if err := json.NewDecoder(resp.Body).Decode(&budgetResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Scope:     %s\n", budgetResp.Scope)
	fmt.Printf("Ceiling:   $%.4f\n", budgetResp.Ceiling)
	fmt.Printf("Consumed:  $%.4f\n", budgetResp.Consumed)
	fmt.Printf("Remaining: $%.4f\n", budgetResp.Remaining)

	return nil
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/health", serverURL)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect to %s: %v\n", url, err)
		return err
	}
	defer resp.Body.Close()

	// An unhealthy server answers 503 but still carries the health document
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return responseError(resp)
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	status := "healthy"
	if !healthResp.Healthy {
		status = "unhealthy"
	}
	fmt.Printf("Server Status: %s\n", status)
	fmt.Printf("Server URL: %s\n", serverURL)
	fmt.Printf("Agents: %v\n", healthResp.Agents)
	fmt.Printf("Active Runs: %d\n", healthResp.ActiveRuns)

	if !healthResp.Healthy {
		return fmt.Errorf("server is unhealthy")
	}

	return nil
}

// responseError turns a non-200 response into an error, preferring the
// structured error envelope when the body carries one.
func responseError(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Code != "" {
		return fmt.Errorf("%s: %s", errResp.Code, errResp.Message)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
}
