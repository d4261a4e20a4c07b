// Package telemetry provides OpenTelemetry instrumentation for agentd.
//
// # Overview
//
// This package owns three OTLP pipelines exported to a collector (gRPC by
// default, http/protobuf for HTTPS collectors): traces covering coordination
// runs and agent attempts, metrics for run outcomes and booked cost, and the
// log stream behind the otelzap bridge so structured log entries land next
// to their spans.
//
// # Usage
//
// Create telemetry instance:
//
//	cfg := telemetry.NewDefaultConfig()
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
// Use tracer and meter:
//
//	tracer := tel.Tracer("agentd.coordinator")
//	ctx, span := tracer.Start(ctx, "agent.run")
//	defer span.End()
//
//	meter := tel.Meter("agentd.coordinator")
//	counter, _ := meter.Int64Counter("agent.run.total")
//	counter.Add(ctx, 1)
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  service_name: "agentd"
//	  sampling:
//	    rate: 1.0  # 100% in dev, lower in prod
//	  metrics:
//	    enabled: true
//	    export_interval: "15s"
//
// # Error Handling
//
// Telemetry failures never block coordination. A pipeline that cannot
// initialize marks the instance degraded (Health reports which one failed
// first) and its instruments fall back to no-ops.
//
// # Testing
//
// Use TestTelemetry for in-memory assertions:
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("coordinator").Start(ctx, "agent.run")
//	span.End()
//	tt.AssertSpanExists(t, "agent.run")
package telemetry
