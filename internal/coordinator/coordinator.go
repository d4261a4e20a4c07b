// Package coordinator drives cost-aware multi-agent task runs: it resolves
// the per-run policy, reserves budget before every agent invocation, records
// the full attempt trace, and settles each run into a winner or a structured
// failure.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/agentd/internal/agent"
	"github.com/fyrsmithlabs/agentd/internal/ledger"
	"github.com/fyrsmithlabs/agentd/internal/policy"
	"github.com/fyrsmithlabs/agentd/internal/trace"
	"github.com/fyrsmithlabs/agentd/internal/validate"
)

const (
	defaultRunTimeout  = 60 * time.Second
	sinkPublishTimeout = 2 * time.Second

	// resolveFailedMode labels metrics for runs rejected before a mode
	// could be resolved.
	resolveFailedMode = "invalid"

	// errorKindBudget marks an attempt whose actual cost no longer fit
	// the scope ceiling at commit time.
	errorKindBudget = "BUDGET"
)

// Config carries the run defaults applied when a request leaves a knob
// unset. Mode and threshold zero values defer to the policy package's
// built-ins.
type Config struct {
	DefaultMode      string
	DefaultThreshold float64
	BudgetDefault    ledger.Amount
	BudgetMax        ledger.Amount
	FallbackMin      ledger.Amount
	RunTimeout       time.Duration
}

// Coordinator owns the run lifecycle. It is safe for concurrent use; all
// budget arbitration between concurrent runs happens in the ledger.
type Coordinator struct {
	cfg       Config
	agents    map[string]agent.Agent
	ledger    *ledger.Ledger
	validator *validate.Validator
	sink      Sink
	metrics   *Metrics
	logger    *Logger

	activeRuns int64

	shutdownMu sync.RWMutex
	isShutdown bool
}

// Option configures optional coordinator collaborators.
type Option func(*Coordinator)

// WithLogger sets the structured logger.
func WithLogger(l *Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithSink sets the run event sink.
func WithSink(s Sink) Option {
	return func(c *Coordinator) {
		if s != nil {
			c.sink = s
		}
	}
}

// New builds a Coordinator. Both the enterprise and fallback adapters must
// be present; every mode plans around them.
func New(cfg Config, agents []agent.Agent, ldg *ledger.Ledger, validator *validate.Validator, opts ...Option) (*Coordinator, error) {
	if ldg == nil {
		return nil, errors.New("coordinator: ledger is required")
	}
	if validator == nil {
		return nil, errors.New("coordinator: validator is required")
	}

	byName := make(map[string]agent.Agent, len(agents))
	for _, ag := range agents {
		if ag != nil {
			byName[ag.Name()] = ag
		}
	}
	for _, name := range []string{agent.NameEnterprise, agent.NameFallback} {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("coordinator: missing %q adapter", name)
		}
	}

	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}

	c := &Coordinator{
		cfg:       cfg,
		agents:    byName,
		ledger:    ldg,
		validator: validator,
		sink:      NopSink{},
		logger:    NewLogger(nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// runPlan is the fully resolved policy for one run.
type runPlan struct {
	mode      policy.Mode
	threshold float64
	format    validate.Format
	engine    policy.Engine
	budget    ledger.BudgetState
}

// resolve turns a request into a run plan. Pure resolution happens first;
// the ledger is only touched once every knob is known to be valid, so a
// rejected request never mutates budget state.
func (c *Coordinator) resolve(req TaskRequest) (runPlan, error) {
	var plan runPlan

	if err := req.Validate(); err != nil {
		return plan, err
	}

	mode, err := policy.ResolveMode(req.Mode, c.cfg.DefaultMode)
	if err != nil {
		return plan, err
	}
	threshold, err := policy.ResolveThreshold(req.Threshold, c.cfg.DefaultThreshold)
	if err != nil {
		return plan, err
	}
	ceiling, overridden, err := policy.ResolveCeiling(req.Budget, c.cfg.BudgetDefault, c.cfg.BudgetMax)
	if err != nil {
		return plan, err
	}
	format, err := validate.ParseFormat(req.OutputFormat)
	if err != nil {
		return plan, err
	}

	if overridden {
		plan.budget, err = c.ledger.SetCeiling(req.Scope, ceiling)
		if err != nil {
			return plan, err
		}
	} else {
		plan.budget = c.ledger.Ensure(req.Scope, ceiling)
	}

	plan.mode = mode
	plan.threshold = threshold
	plan.format = format
	plan.engine = policy.Engine{
		Mode:        mode,
		Threshold:   threshold,
		FallbackMin: c.cfg.FallbackMin,
	}
	return plan, nil
}

// Run executes one coordination run end to end. The returned error is
// always a *RunError; its trace carries every attempt made before the run
// failed.
func (c *Coordinator) Run(ctx context.Context, req TaskRequest) (*Result, error) {
	if err := c.checkShutdown(); err != nil {
		return nil, &RunError{Code: CodeInternal, Message: err.Error(), Err: err}
	}

	req.ApplyDefaults()
	runID := uuid.NewString()
	startedAt := time.Now()

	ctx, span := StartRunSpan(ctx, runID, req.Scope)
	defer span.End()

	c.metrics.RecordRunStarted(ctx)
	atomic.AddInt64(&c.activeRuns, 1)
	defer atomic.AddInt64(&c.activeRuns, -1)

	plan, err := c.resolve(req)
	if err != nil {
		// Rejected before any reservation or invocation. Nothing to
		// trace and nothing to publish.
		RecordError(ctx, err)
		SetSpanStatus(ctx, codes.Error, "request rejected")
		c.metrics.RecordRunFailed(ctx, resolveFailedMode, CodeValidation, 0, time.Since(startedAt))
		c.logger.RunFailed(ctx, runID, req.Scope, resolveFailedMode, string(CodeValidation), 0, 0, time.Since(startedAt))
		return nil, validationError(err)
	}

	c.logger.RunStarted(ctx, runID, req.Scope, string(plan.mode), plan.budget.Ceiling)

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.RunTimeout)
	defer cancel()

	task := agent.Task{
		RunID:       runID,
		Scope:       req.Scope,
		Description: req.Task,
		Context:     req.Context,
		Format:      plan.format,
	}

	recorder := trace.NewRecorder()
	outcome := c.execute(runCtx, task, plan, recorder)

	attempts := recorder.Seal()
	actual := recorder.TotalCost()
	finishedAt := time.Now()
	duration := finishedAt.Sub(startedAt)

	// The scope exists after resolve, so the snapshot cannot miss.
	snapshot, _ := c.ledger.Snapshot(req.Scope)
	costs := CostBreakdown{
		Estimate:  outcome.estimate,
		Actual:    actual,
		Consumed:  snapshot.Consumed,
		Remaining: snapshot.Remaining,
	}

	winner, found := policy.SelectWinner(attempts)
	if !found {
		code := CodeAgent
		msg := "all agents failed or produced invalid output"
		if policy.Classify(outcome.budgetBlocked) == policy.FailureBudget {
			code = CodeCost
			msg = "budget exhausted before an agent could complete the task"
		}
		runErr := &RunError{Code: code, Message: msg, Trace: attempts}

		RecordError(ctx, runErr)
		SetSpanStatus(ctx, codes.Error, string(code))
		c.metrics.RecordRunFailed(ctx, string(plan.mode), code, actual, duration)
		c.logger.RunFailed(ctx, runID, req.Scope, string(plan.mode), string(code), actual, len(attempts), duration)
		c.publishRun(ctx, RunEvent{
			RunID:      runID,
			Scope:      req.Scope,
			Mode:       string(plan.mode),
			Outcome:    OutcomeError,
			Code:       string(code),
			Cost:       costs,
			Trace:      attempts,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
		})
		return nil, runErr
	}

	fallbackUsed := len(attempts) > 1 || winner.Agent != agent.NameEnterprise
	result := &Result{
		RunID:        runID,
		Agent:        winner.Agent,
		Mode:         string(plan.mode),
		Confidence:   winner.Confidence,
		Cost:         costs,
		Output:       winner.Output,
		Validation:   winner.Validation,
		FallbackUsed: fallbackUsed,
		Trace:        attempts,
	}

	SetSpanStatus(ctx, codes.Ok, "")
	c.metrics.RecordRunCompleted(ctx, string(plan.mode), winner.Agent, actual, duration)
	c.logger.RunCompleted(ctx, runID, req.Scope, string(plan.mode), winner.Agent, winner.Confidence, actual, fallbackUsed, len(attempts), duration)
	c.publishRun(ctx, RunEvent{
		RunID:      runID,
		Scope:      req.Scope,
		Mode:       string(plan.mode),
		Outcome:    OutcomeSuccess,
		Agent:      winner.Agent,
		Cost:       costs,
		Trace:      attempts,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	})
	return result, nil
}

// runOutcome aggregates what execution tells settlement.
type runOutcome struct {
	estimate      ledger.Amount
	budgetBlocked bool
}

// execute drives the planned agent legs and appends their attempts to the
// recorder in plan order, so traces are deterministic even when legs run
// concurrently.
func (c *Coordinator) execute(ctx context.Context, task agent.Task, plan runPlan, rec *trace.Recorder) runOutcome {
	var out runOutcome

	collect := func(o attemptOutcome) {
		out.estimate += o.estimate
		out.budgetBlocked = out.budgetBlocked || o.budgetBlocked
		if o.attempt != nil {
			// Append never fails before Seal.
			_ = rec.Append(*o.attempt)
		}
	}

	if plan.engine.Parallel() {
		names := plan.engine.Plan()
		outcomes := make([]attemptOutcome, len(names))
		g, gctx := errgroup.WithContext(ctx)
		for i, name := range names {
			g.Go(func() error {
				outcomes[i] = c.attempt(gctx, task, c.agents[name])
				return nil
			})
		}
		// Legs report through outcomes, never through errors.
		_ = g.Wait()
		for _, o := range outcomes {
			collect(o)
		}
		return out
	}

	primary := c.attempt(ctx, task, c.agents[agent.NameEnterprise])
	collect(primary)

	if plan.engine.Mode != policy.ModeFallback {
		return out
	}

	snapshot, err := c.ledger.Snapshot(task.Scope)
	if err != nil {
		c.logger.Error(ctx, "budget snapshot failed", err, zap.String("scope", task.Scope))
		return out
	}

	decision := plan.engine.ShouldFallback(primary.attempt, snapshot.Remaining)
	switch {
	case decision.Attempt:
		c.logger.FallbackTriggered(ctx, task.RunID, task.Scope, decision.Reason)
		collect(c.attempt(ctx, task, c.agents[agent.NameFallback]))
	case decision.BudgetBlocked:
		out.budgetBlocked = true
		c.metrics.RecordBudgetBlocked(ctx, "fallback_gate")
		c.logger.FallbackGated(ctx, task.RunID, task.Scope, snapshot.Remaining, c.cfg.FallbackMin)
	}
	return out
}

// attemptOutcome is one leg's contribution to the run.
type attemptOutcome struct {
	// attempt is nil when the leg never invoked its agent.
	attempt       *trace.Attempt
	estimate      ledger.Amount
	budgetBlocked bool
}

// attempt reserves budget, invokes one agent, and settles the reservation
// against the actual cost. A rejected reservation produces no trace entry;
// the agent was never invoked.
func (c *Coordinator) attempt(ctx context.Context, task agent.Task, ag agent.Agent) attemptOutcome {
	estimate := ag.CostEstimate()

	res, err := c.ledger.Reserve(task.Scope, estimate)
	if err != nil {
		if errors.Is(err, ledger.ErrBudgetExceeded) {
			snapshot, _ := c.ledger.Snapshot(task.Scope)
			c.metrics.RecordBudgetBlocked(ctx, "reserve")
			c.logger.BudgetExhausted(ctx, task.Scope, estimate, snapshot.Remaining)
			return attemptOutcome{budgetBlocked: true}
		}
		c.logger.Error(ctx, "reservation failed", err, zap.String("agent", ag.Name()))
		return attemptOutcome{}
	}

	task.BudgetHint = estimate

	attemptCtx, span := StartAttemptSpan(ctx, task.RunID, ag.Name())
	defer span.End()

	startedAt := time.Now()
	result, execErr := ag.Execute(attemptCtx, task)
	finishedAt := time.Now()

	a := trace.Attempt{
		Agent:      ag.Name(),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}
	out := attemptOutcome{attempt: &a, estimate: estimate}

	if execErr != nil {
		failure := agent.AsFailure(execErr)
		a.ErrorKind = string(failure.Kind)
		a.Error = failure.Error()

		// Partial spend reported by a failing agent is still real spend.
		booked := false
		if failure.Cost > 0 {
			booked = c.ledger.Commit(res, failure.Cost) == nil
		}
		if booked {
			a.Cost = failure.Cost
		} else {
			_ = c.ledger.Release(res)
		}

		RecordError(attemptCtx, failure)
		SetSpanStatus(attemptCtx, codes.Error, string(failure.Kind))
		c.metrics.RecordAttempt(ctx, ag.Name(), false, a.ErrorKind)
		c.logger.AttemptFinished(ctx, task.RunID, task.Scope, ag.Name(), false, 0, a.Cost, a.Duration(), a.ErrorKind)
		return out
	}

	if commitErr := c.ledger.Commit(res, result.Cost); commitErr != nil {
		// The actual cost no longer fits the ceiling. Release the hold
		// and fail the attempt rather than overspend.
		_ = c.ledger.Release(res)
		a.ErrorKind = errorKindBudget
		a.Error = commitErr.Error()
		out.budgetBlocked = true

		RecordError(attemptCtx, commitErr)
		SetSpanStatus(attemptCtx, codes.Error, "commit exceeded ceiling")
		c.metrics.RecordBudgetBlocked(ctx, "commit")
		c.metrics.RecordAttempt(ctx, ag.Name(), false, errorKindBudget)
		c.logger.AttemptFinished(ctx, task.RunID, task.Scope, ag.Name(), false, 0, 0, a.Duration(), errorKindBudget)
		return out
	}

	a.Success = true
	a.Confidence = result.Confidence
	a.Cost = result.Cost
	a.Output = result.Output
	a.Validation = c.validator.Check(result.Output, task.Format)

	SetSpanStatus(attemptCtx, codes.Ok, "")
	c.metrics.RecordAttempt(ctx, ag.Name(), true, "")
	c.logger.AttemptFinished(ctx, task.RunID, task.Scope, ag.Name(), true, a.Confidence, a.Cost, a.Duration(), "")
	return out
}

// publishRun sends the run event without tying delivery to the run's
// context. Publish failures are logged, never surfaced.
func (c *Coordinator) publishRun(ctx context.Context, event RunEvent) {
	if c.sink == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkPublishTimeout)
	defer cancel()

	if err := c.sink.PublishRun(pubCtx, event); err != nil {
		c.logger.Error(ctx, "run event publish failed", err,
			zap.String("run_id", event.RunID),
			zap.String("scope", event.Scope),
		)
	}
}

// BudgetSnapshot reports one scope's accounting.
func (c *Coordinator) BudgetSnapshot(scope string) (ledger.BudgetState, error) {
	return c.ledger.Snapshot(scope)
}

// Scopes lists every scope the ledger tracks.
func (c *Coordinator) Scopes() []string {
	return c.ledger.Scopes()
}

// Health reports the coordinator's component health.
func (c *Coordinator) Health() Health {
	c.shutdownMu.RLock()
	isShutdown := c.isShutdown
	c.shutdownMu.RUnlock()

	names := make([]string, 0, len(c.agents))
	for name := range c.agents {
		names = append(names, name)
	}
	sort.Strings(names)

	sinkHealthy := c.sink.Healthy()
	return Health{
		Healthy:    !isShutdown && sinkHealthy,
		ActiveRuns: atomic.LoadInt64(&c.activeRuns),
		Agents:     names,
		Scopes:     len(c.ledger.Scopes()),
		Sink:       sinkHealthy,
	}
}

// Shutdown stops accepting new runs and waits for in-flight runs to settle.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.shutdownMu.Lock()
	if c.isShutdown {
		c.shutdownMu.Unlock()
		return nil
	}
	c.isShutdown = true
	c.shutdownMu.Unlock()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for atomic.LoadInt64(&c.activeRuns) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// IsShutdown reports whether Shutdown has been called.
func (c *Coordinator) IsShutdown() bool {
	c.shutdownMu.RLock()
	defer c.shutdownMu.RUnlock()
	return c.isShutdown
}

func (c *Coordinator) checkShutdown() error {
	if c.IsShutdown() {
		return ErrShutdown
	}
	return nil
}
