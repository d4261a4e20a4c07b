// Package sink publishes completed-run events to NATS. An external
// aggregator builds cost analytics from the stream; the daemon itself keeps
// no run history.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/agentd/internal/coordinator"
)

const (
	subjectPrefix = "agent.run"
	subjectSuffix = "completed"

	connectName   = "agentd"
	maxReconnects = 5
	reconnectWait = 1 * time.Second
)

// NATS publishes run events on a per-scope subject.
type NATS struct {
	conn     *nats.Conn
	ownsConn bool
}

// Connect dials the NATS server and wraps the connection in a sink. Close
// releases the connection.
func Connect(url string) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name(connectName),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return &NATS{conn: conn, ownsConn: true}, nil
}

// New wraps an existing connection; the caller keeps ownership.
func New(conn *nats.Conn) *NATS {
	return &NATS{conn: conn}
}

// Subject returns the subject run events for scope are published to:
// agent.run.<scope>.completed. Characters NATS reserves in subject tokens
// are replaced so a scope can never splice extra tokens or wildcards into
// the subject.
func Subject(scope string) string {
	return subjectPrefix + "." + subjectToken(scope) + "." + subjectSuffix
}

func subjectToken(scope string) string {
	if scope == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '-'
		}
		return r
	}, scope)
}

// PublishRun sends one run event and flushes the connection so the context
// bounds delivery to the server.
func (s *NATS) PublishRun(ctx context.Context, event coordinator.RunEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}
	if err := s.conn.Publish(Subject(event.Scope), data); err != nil {
		return fmt.Errorf("publish run event: %w", err)
	}
	if err := s.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush run event: %w", err)
	}
	return nil
}

// Healthy reports whether the connection is currently up.
func (s *NATS) Healthy() bool {
	return s.conn != nil && s.conn.IsConnected()
}

// Close releases the connection when the sink owns it.
func (s *NATS) Close() {
	if s.ownsConn && s.conn != nil {
		s.conn.Close()
	}
}

var _ coordinator.Sink = (*NATS)(nil)
