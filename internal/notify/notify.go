// Package notify delivers session lifecycle events to whoever asked for the
// session: the API layer over a websocket hub, and operators over Telegram or
// Slack.
package notify

import (
	"context"
	"time"

	"github.com/lewisedginton/group_tagger/pkg/logger"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventPairingCode         EventType = "pairing_code"
	EventSessionReady        EventType = "session_ready"
	EventSessionDisconnected EventType = "session_disconnected"
	EventSessionAuthFailed   EventType = "session_auth_failed"
)

// Event is scoped to the tenant that requested the session.
type Event struct {
	Type        EventType `json:"type"`
	Tenant      string    `json:"tenant"`
	SessionID   string    `json:"session_id"`
	PairingCode string    `json:"pairing_code,omitempty"`
	AccountID   string    `json:"account_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Sink receives events.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Multi fans an event out to every sink. A failing sink is logged and never
// affects the others or the caller.
type Multi struct {
	sinks []Sink
	log   logger.Logger
}

// NewMulti combines sinks; nil entries are ignored.
func NewMulti(log logger.Logger, sinks ...Sink) *Multi {
	m := &Multi{log: log}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Publish delivers ev to every sink and always returns nil.
func (m *Multi) Publish(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	for _, s := range m.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			m.log.Warn("Event sink failed",
				logger.StringField("event", string(ev.Type)),
				logger.SessionIDField(ev.SessionID),
				logger.ErrorField(err))
		}
	}
	return nil
}

// Len reports the number of sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// operatorAlert reports whether ev is worth paging an operator about.
func operatorAlert(ev Event) bool {
	return ev.Type == EventSessionDisconnected || ev.Type == EventSessionAuthFailed
}
