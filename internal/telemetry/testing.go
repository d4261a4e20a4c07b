package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry backs a Telemetry instance with an in-memory span
// recorder and a manual metric reader, so run instrumentation can be
// asserted without an OTLP endpoint listening.
type TestTelemetry struct {
	*Telemetry

	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
}

// NewTestTelemetry builds an enabled in-memory instance. Spans land in
// the recorder on End; metrics are pulled on demand via Collect.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()

	tt := &TestTelemetry{
		Telemetry: &Telemetry{
			config:         cfg,
			tracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)),
			meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		},
		spans:  spans,
		reader: reader,
	}
	tt.Telemetry.healthy.Store(true)
	return tt
}

// Spans returns every ended span in recording order.
func (t *TestTelemetry) Spans() []sdktrace.ReadOnlySpan {
	return t.spans.Ended()
}

// SpanByName returns the first ended span with the given name, or nil.
func (t *TestTelemetry) SpanByName(name string) sdktrace.ReadOnlySpan {
	for _, span := range t.Spans() {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

// AssertSpanExists fails the test when no ended span carries the name.
func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if t.SpanByName(name) == nil {
		tb.Errorf("span %q not recorded; have %v", name, t.spanNames())
	}
}

// AssertSpanAttribute fails the test unless the named span carries the
// attribute with a matching value.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, spanName string, want attribute.KeyValue) {
	tb.Helper()
	span := t.SpanByName(spanName)
	if span == nil {
		tb.Fatalf("span %q not recorded; have %v", spanName, t.spanNames())
	}
	for _, attr := range span.Attributes() {
		if attr.Key != want.Key {
			continue
		}
		if attr.Value != want.Value {
			tb.Errorf("span %q attribute %q = %s, want %s",
				spanName, want.Key, attr.Value.Emit(), want.Value.Emit())
		}
		return
	}
	tb.Errorf("span %q has no attribute %q", spanName, want.Key)
}

func (t *TestTelemetry) spanNames() []string {
	spans := t.Spans()
	names := make([]string, len(spans))
	for i, span := range spans {
		names[i] = span.Name()
	}
	return names
}

// Collect pulls everything recorded on the meter provider since the
// previous pull.
func (t *TestTelemetry) Collect(tb testing.TB) metricdata.ResourceMetrics {
	tb.Helper()
	var rm metricdata.ResourceMetrics
	if err := t.reader.Collect(context.Background(), &rm); err != nil {
		tb.Fatalf("collecting metrics: %v", err)
	}
	return rm
}

// MetricByName searches collected metrics for an instrument, or nil.
func MetricByName(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, scope := range rm.ScopeMetrics {
		for i := range scope.Metrics {
			if scope.Metrics[i].Name == name {
				return &scope.Metrics[i]
			}
		}
	}
	return nil
}

// AssertMetricRecorded collects and fails the test when the instrument
// has no data points.
func (t *TestTelemetry) AssertMetricRecorded(tb testing.TB, name string) metricdata.ResourceMetrics {
	tb.Helper()
	rm := t.Collect(tb)
	if MetricByName(rm, name) == nil {
		tb.Errorf("metric %q not recorded", name)
	}
	return rm
}
