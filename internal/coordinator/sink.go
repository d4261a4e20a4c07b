package coordinator

import "context"

// Sink receives run events. Publishing is fire-and-forget from the run's
// point of view: errors are logged by the coordinator and never surface to
// the caller.
type Sink interface {
	PublishRun(ctx context.Context, event RunEvent) error
	Healthy() bool
}

// NopSink discards events. It stands in when no sink transport is
// configured.
type NopSink struct{}

func (NopSink) PublishRun(context.Context, RunEvent) error { return nil }

func (NopSink) Healthy() bool { return true }

var _ Sink = NopSink{}
