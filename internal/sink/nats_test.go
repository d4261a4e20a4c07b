package sink

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/agentd/internal/coordinator"
	"github.com/fyrsmithlabs/agentd/internal/ledger"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()

	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("create NATS server: %v", err)
	}

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
	})
	return server
}

func TestSubject(t *testing.T) {
	tests := []struct {
		scope string
		want  string
	}{
		{"default", "agent.run.default.completed"},
		{"tenant-a", "agent.run.tenant-a.completed"},
		{"user_42", "agent.run.user_42.completed"},
		{"", "agent.run.default.completed"},
		{"a.b", "agent.run.a-b.completed"},
		{"a b", "agent.run.a-b.completed"},
		{"a*", "agent.run.a-.completed"},
		{"a>", "agent.run.a-.completed"},
	}

	for _, tt := range tests {
		if got := Subject(tt.scope); got != tt.want {
			t.Errorf("Subject(%q) = %q, want %q", tt.scope, got, tt.want)
		}
	}
}

func TestNATS_PublishRun(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	sub, err := nc.SubscribeSync(Subject("tenant-a"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	s := New(nc)
	event := coordinator.RunEvent{
		RunID:   "run-123",
		Scope:   "tenant-a",
		Mode:    "fallback",
		Outcome: coordinator.OutcomeSuccess,
		Agent:   "enterprise",
		Cost: coordinator.CostBreakdown{
			Estimate:  ledger.MustDollars(0.05),
			Actual:    ledger.MustDollars(0.05),
			Consumed:  ledger.MustDollars(0.05),
			Remaining: ledger.MustDollars(0.95),
		},
		StartedAt:  time.Now().Add(-time.Second),
		FinishedAt: time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.PublishRun(ctx, event); err != nil {
		t.Fatalf("PublishRun: %v", err)
	}

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("NextMsg: %v", err)
	}

	var got coordinator.RunEvent
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if got.RunID != event.RunID || got.Scope != event.Scope || got.Outcome != event.Outcome {
		t.Errorf("event = %+v, want run-123 tenant-a success", got)
	}
	if got.Cost.Actual != event.Cost.Actual {
		t.Errorf("cost actual = %s, want %s", got.Cost.Actual, event.Cost.Actual)
	}
}

func TestNATS_PublishRunErrorOutcome(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	// Error events flow to the same per-scope subject.
	sub, err := nc.SubscribeSync("agent.run.>")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	s := New(nc)
	event := coordinator.RunEvent{
		RunID:   "run-456",
		Scope:   "default",
		Mode:    "single",
		Outcome: coordinator.OutcomeError,
		Code:    "AGENT-502",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.PublishRun(ctx, event); err != nil {
		t.Fatalf("PublishRun: %v", err)
	}

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("NextMsg: %v", err)
	}
	if msg.Subject != "agent.run.default.completed" {
		t.Errorf("subject = %q, want agent.run.default.completed", msg.Subject)
	}

	var got coordinator.RunEvent
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if got.Code != "AGENT-502" || got.Outcome != coordinator.OutcomeError {
		t.Errorf("event = %+v, want AGENT-502 error", got)
	}
}

func TestNATS_Healthy(t *testing.T) {
	server := startTestNATSServer(t)

	s, err := Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()

	if !s.Healthy() {
		t.Error("Healthy = false for a live connection")
	}

	s.Close()
	if s.Healthy() {
		t.Error("Healthy = true after Close")
	}
}
