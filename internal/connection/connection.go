// Package connection defines the boundary to a single chat account. The core
// never speaks the chat network's protocol; it drives a Conn supplied by a
// Dialer and consumes its events from one bounded channel.
package connection

import (
	"context"
	"errors"
	"time"
)

// State is the connection state reported by the chat layer.
type State string

const (
	StateConnected State = "CONNECTED"
	StateOpening   State = "OPENING"
	StatePairing   State = "PAIRING"
	StateUnpaired  State = "UNPAIRED"
	StateConflict  State = "CONFLICT"
	StateTimeout   State = "TIMEOUT"
	StateUnknown   State = "UNKNOWN"
)

// Disconnect reasons. The chat layer may report others; only LOGOUT and
// NAVIGATION are deliberate.
const (
	ReasonLogout          = "LOGOUT"
	ReasonNavigation      = "NAVIGATION"
	ReasonConnectionLost  = "CONNECTION_LOST"
	ReasonKeepAliveFailed = "KEEPALIVE_FAILED"
)

// EventType identifies what a connection is reporting.
type EventType string

const (
	EventPairingCode   EventType = "pairing_code"
	EventAuthenticated EventType = "authenticated"
	EventAuthFailure   EventType = "auth_failure"
	EventReady         EventType = "ready"
	EventDisconnected  EventType = "disconnected"
	EventMessage       EventType = "message"
)

// EventBuffer is the capacity of a connection's event channel.
const EventBuffer = 64

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("connection closed")

// Event is one notification from a connection.
type Event struct {
	Type EventType `json:"type"`
	// PairingCode is set for EventPairingCode.
	PairingCode string `json:"pairing_code,omitempty"`
	// AuthBlob is the opaque credential to persist, set for EventAuthenticated.
	AuthBlob []byte `json:"auth_blob,omitempty"`
	// Reason is set for EventDisconnected and EventAuthFailure.
	Reason string `json:"reason,omitempty"`
	// Message is set for EventMessage.
	Message *Message `json:"message,omitempty"`
}

// Message is an inbound chat message.
type Message struct {
	ID     string `json:"id"`
	ChatID string `json:"chat_id"`
	// From is the sending account: the author in a group, the peer in a private chat.
	From      string    `json:"from"`
	Body      string    `json:"body"`
	FromMe    bool      `json:"from_me"`
	IsGroup   bool      `json:"is_group"`
	Timestamp time.Time `json:"timestamp"`
}

// Chat is one conversation visible to the account.
type Chat struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsGroup bool   `json:"is_group"`
}

// Participant is one member of a group roster.
type Participant struct {
	ID           string `json:"id"`
	IsAdmin      bool   `json:"is_admin"`
	IsSuperAdmin bool   `json:"is_super_admin"`
}

// Privileged reports whether the participant administers the group.
func (p Participant) Privileged() bool {
	return p.IsAdmin || p.IsSuperAdmin
}

// Directory is the read side of a connection used to enumerate groups.
type Directory interface {
	// SelfID is the account's own identity, empty until authenticated.
	SelfID() string
	Chats(ctx context.Context) ([]Chat, error)
	Participants(ctx context.Context, groupID string) ([]Participant, error)
}

// Sender writes messages back through a connection.
type Sender interface {
	// SendMessage sends text to chatID, notifying every id in mentions.
	SendMessage(ctx context.Context, chatID, text string, mentions []string) error
}

// Conn is a live handle to one chat account.
type Conn interface {
	Directory
	Sender

	// Events is closed when the connection is closed.
	Events() <-chan Event
	// Start begins authentication, resuming from the dial blob when present.
	Start(ctx context.Context) error
	State(ctx context.Context) (State, error)
	SaveContact(ctx context.Context, id, name string) error
	Logout(ctx context.Context) error
	Close() error
}

// Dialer opens connections. authBlob is nil for a fresh pairing.
type Dialer interface {
	Dial(ctx context.Context, sessionID string, authBlob []byte) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, sessionID string, authBlob []byte) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, sessionID string, authBlob []byte) (Conn, error) {
	return f(ctx, sessionID, authBlob)
}

// IsDeliberate reports whether a disconnect reason means the account was
// intentionally closed and must not be reconnected automatically.
func IsDeliberate(reason string) bool {
	return reason == ReasonLogout || reason == ReasonNavigation
}
