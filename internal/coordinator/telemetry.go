package coordinator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/agentd/internal/ledger"
)

const (
	// InstrumentationName is the name used for OTEL instrumentation.
	InstrumentationName = "github.com/fyrsmithlabs/agentd/internal/coordinator"
)

// Metrics provides OpenTelemetry metrics for the coordinator.
type Metrics struct {
	// Counters
	runTotal           metric.Int64Counter
	attemptTotal       metric.Int64Counter
	budgetBlockedTotal metric.Int64Counter

	// Gauges (using UpDownCounter for gauge semantics)
	runActiveCount metric.Int64UpDownCounter

	// Histograms
	runDuration metric.Float64Histogram
	runCost     metric.Float64Histogram

	// initialized tracks if metrics were successfully initialized
	initialized bool
}

// NewMetrics creates a new Metrics instance with the provided meter.
// If meter is nil, uses the global meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	// Counters
	m.runTotal, err = meter.Int64Counter(
		"agent.run.total",
		metric.WithDescription("Total number of coordination runs by mode and outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	m.attemptTotal, err = meter.Int64Counter(
		"agent.attempt.total",
		metric.WithDescription("Total number of agent invocations by agent and result"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	m.budgetBlockedTotal, err = meter.Int64Counter(
		"agent.budget.blocked.total",
		metric.WithDescription("Total number of agent legs blocked by budget"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	// Gauges
	m.runActiveCount, err = meter.Int64UpDownCounter(
		"agent.run.active.count",
		metric.WithDescription("Number of currently active runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	// Histograms
	m.runDuration, err = meter.Float64Histogram(
		"agent.run.duration.seconds",
		metric.WithDescription("Duration of coordination runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, err
	}

	m.runCost, err = meter.Float64Histogram(
		"agent.run.cost.dollars",
		metric.WithDescription("Booked cost per run in dollars"),
		metric.WithUnit("{USD}"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

// RecordRunStarted records the start of a run.
// Note: scope and run_id are intentionally omitted from metrics to prevent
// cardinality explosion. Correlation is available via trace context and
// structured logs.
func (m *Metrics) RecordRunStarted(ctx context.Context) {
	if m == nil || !m.initialized {
		return
	}
	m.runActiveCount.Add(ctx, 1)
}

// RecordRunCompleted records a run that produced a winner.
func (m *Metrics) RecordRunCompleted(ctx context.Context, mode, agentName string, cost ledger.Amount, duration time.Duration) {
	if m == nil || !m.initialized {
		return
	}
	m.runTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", OutcomeSuccess),
		attribute.String("agent", agentName),
	))
	m.runActiveCount.Add(ctx, -1)
	attrs := metric.WithAttributes(attribute.String("mode", mode))
	m.runDuration.Record(ctx, duration.Seconds(), attrs)
	m.runCost.Record(ctx, cost.Dollars(), attrs)
}

// RecordRunFailed records a run that produced no winner.
func (m *Metrics) RecordRunFailed(ctx context.Context, mode string, code ErrorCode, cost ledger.Amount, duration time.Duration) {
	if m == nil || !m.initialized {
		return
	}
	m.runTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", OutcomeError),
		attribute.String("code", string(code)),
	))
	m.runActiveCount.Add(ctx, -1)
	attrs := metric.WithAttributes(attribute.String("mode", mode))
	m.runDuration.Record(ctx, duration.Seconds(), attrs)
	m.runCost.Record(ctx, cost.Dollars(), attrs)
}

// RecordAttempt records one agent invocation.
func (m *Metrics) RecordAttempt(ctx context.Context, agentName string, success bool, errorKind string) {
	if m == nil || !m.initialized {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("agent", agentName),
	}
	if success {
		attrs = append(attrs, attribute.String("result", "success"))
	} else {
		attrs = append(attrs,
			attribute.String("result", "failure"),
			attribute.String("error_kind", errorKind),
		)
	}
	m.attemptTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBudgetBlocked records an agent leg blocked by budget. Stage is
// where the block happened: reserve, fallback_gate, or commit.
func (m *Metrics) RecordBudgetBlocked(ctx context.Context, stage string) {
	if m == nil || !m.initialized {
		return
	}
	m.budgetBlockedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
	))
}

// Tracer returns a tracer for the coordinator package.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// StartRunSpan starts the span covering one coordination run.
func StartRunSpan(ctx context.Context, runID, scope string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("agent.run_id", runID),
		attribute.String("agent.scope", scope),
	}
	allOpts := append([]trace.SpanStartOption{trace.WithAttributes(attrs...)}, opts...)
	return Tracer().Start(ctx, "agent.run", allOpts...)
}

// StartAttemptSpan starts a child span covering one agent invocation.
func StartAttemptSpan(ctx context.Context, runID, agentName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("agent.run_id", runID),
		attribute.String("agent.name", agentName),
	}
	allOpts := append([]trace.SpanStartOption{trace.WithAttributes(attrs...)}, opts...)
	return Tracer().Start(ctx, "agent.attempt", allOpts...)
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err, trace.WithAttributes(attrs...))
	}
}

// SetSpanStatus sets the status on the current span.
func SetSpanStatus(ctx context.Context, code codes.Code, description string) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetStatus(code, description)
	}
}
