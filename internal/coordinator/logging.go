package coordinator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/ledger"
	"github.com/fyrsmithlabs/agentd/internal/logging"
)

// Logger wraps zap.Logger with coordinator-specific structured logging.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a new Logger. If logger is nil, uses a no-op logger.
func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("coordinator")}
}

// RunStarted logs the start of a coordination run.
func (l *Logger) RunStarted(ctx context.Context, runID, scope, mode string, ceiling ledger.Amount) {
	if l == nil || l.logger == nil {
		return
	}
	fields := l.baseFields(ctx, runID, scope)
	fields = append(fields,
		zap.String("mode", mode),
		zap.Float64("ceiling_dollars", ceiling.Dollars()),
	)
	l.logger.Info("run started", fields...)
}

// AttemptFinished logs the outcome of one agent invocation.
func (l *Logger) AttemptFinished(ctx context.Context, runID, scope, agentName string, success bool, confidence float64, cost ledger.Amount, duration time.Duration, errorKind string) {
	if l == nil || l.logger == nil {
		return
	}
	fields := l.baseFields(ctx, runID, scope)
	fields = append(fields,
		zap.String("agent", agentName),
		zap.Float64("cost_dollars", cost.Dollars()),
		zap.Duration("duration", duration),
	)
	if success {
		fields = append(fields, zap.Float64("confidence", confidence))
		l.logger.Info("attempt succeeded", fields...)
		return
	}
	fields = append(fields, zap.String("error_kind", errorKind))
	l.logger.Warn("attempt failed", fields...)
}

// FallbackTriggered logs the decision to run the fallback leg.
func (l *Logger) FallbackTriggered(ctx context.Context, runID, scope, reason string) {
	if l == nil || l.logger == nil {
		return
	}
	fields := l.baseFields(ctx, runID, scope)
	fields = append(fields, zap.String("reason", reason))
	l.logger.Info("fallback triggered", fields...)
}

// FallbackGated logs a wanted fallback leg that the budget blocked.
func (l *Logger) FallbackGated(ctx context.Context, runID, scope string, remaining, fallbackMin ledger.Amount) {
	if l == nil || l.logger == nil {
		return
	}
	fields := l.baseFields(ctx, runID, scope)
	fields = append(fields,
		zap.Float64("remaining_dollars", remaining.Dollars()),
		zap.Float64("fallback_min_dollars", fallbackMin.Dollars()),
	)
	l.logger.Warn("fallback gated by budget", fields...)
}

// BudgetWarning logs a scope crossing the warning utilization threshold.
func (l *Logger) BudgetWarning(ctx context.Context, scope string, consumed, ceiling ledger.Amount, utilization float64) {
	if l == nil || l.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("scope", scope),
		zap.Float64("consumed_dollars", consumed.Dollars()),
		zap.Float64("ceiling_dollars", ceiling.Dollars()),
		zap.Float64("utilization", utilization),
	}
	fields = append(fields, l.traceFields(ctx)...)
	l.logger.Warn("budget warning threshold reached", fields...)
}

// BudgetExhausted logs a reservation rejected for lack of budget.
func (l *Logger) BudgetExhausted(ctx context.Context, scope string, requested, remaining ledger.Amount) {
	if l == nil || l.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("scope", scope),
		zap.Float64("requested_dollars", requested.Dollars()),
		zap.Float64("remaining_dollars", remaining.Dollars()),
	}
	fields = append(fields, l.traceFields(ctx)...)
	l.logger.Warn("budget exhausted", fields...)
}

// RunCompleted logs a run that produced a winner.
func (l *Logger) RunCompleted(ctx context.Context, runID, scope, mode, agentName string, confidence float64, cost ledger.Amount, fallbackUsed bool, attempts int, duration time.Duration) {
	if l == nil || l.logger == nil {
		return
	}
	fields := l.baseFields(ctx, runID, scope)
	fields = append(fields,
		zap.String("mode", mode),
		zap.String("agent", agentName),
		zap.Float64("confidence", confidence),
		zap.Float64("cost_dollars", cost.Dollars()),
		zap.Bool("fallback_used", fallbackUsed),
		zap.Int("attempts", attempts),
		zap.Duration("duration", duration),
	)
	l.logger.Info("run completed", fields...)
}

// RunFailed logs a run that produced no winner.
func (l *Logger) RunFailed(ctx context.Context, runID, scope, mode, code string, cost ledger.Amount, attempts int, duration time.Duration) {
	if l == nil || l.logger == nil {
		return
	}
	fields := l.baseFields(ctx, runID, scope)
	fields = append(fields,
		zap.String("mode", mode),
		zap.String("code", code),
		zap.Float64("cost_dollars", cost.Dollars()),
		zap.Int("attempts", attempts),
		zap.Duration("duration", duration),
	)
	l.logger.Warn("run failed", fields...)
}

// Error logs an error with context.
func (l *Logger) Error(ctx context.Context, msg string, err error, fields ...zap.Field) {
	if l == nil || l.logger == nil {
		return
	}
	allFields := l.traceFields(ctx)
	allFields = append(allFields, zap.Error(err))
	allFields = append(allFields, fields...)
	l.logger.Error(msg, allFields...)
}

// Debug logs a debug message with context.
func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	if l == nil || l.logger == nil {
		return
	}
	allFields := l.traceFields(ctx)
	allFields = append(allFields, fields...)
	l.logger.Debug(msg, allFields...)
}

// baseFields returns common fields for run events.
func (l *Logger) baseFields(ctx context.Context, runID, scope string) []zap.Field {
	fields := []zap.Field{
		zap.String("run_id", runID),
		zap.String("scope", scope),
	}
	return append(fields, l.traceFields(ctx)...)
}

// traceFields extracts correlation fields stamped on the context: trace
// and span IDs, plus the request ID when the run came in over HTTP.
func (l *Logger) traceFields(ctx context.Context) []zap.Field {
	return logging.ContextFields(ctx)
}
