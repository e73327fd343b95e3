// Package session_manager owns every chat session in the process: the
// registry of live sessions, the lifecycle controller driving each
// connection, bounded bootstrap and the durable credential store.
package session_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lewisedginton/group_tagger/internal/connection"
)

// State is a session's lifecycle state.
type State string

const (
	StateInitializing   State = "INITIALIZING"
	StatePairingPending State = "PAIRING_PENDING"
	StateAuthenticated  State = "AUTHENTICATED"
	StateReady          State = "READY"
	StateDisconnected   State = "DISCONNECTED"
	StateAuthFailed     State = "AUTH_FAILED"
)

// InFlight reports whether the session is still being established. These are
// the states bootstrap concurrency is bounded on.
func (s State) InFlight() bool {
	return s == StateInitializing || s == StatePairingPending || s == StateAuthenticated
}

// Terminal reports whether the session instance is finished.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateAuthFailed
}

var (
	// ErrNotFound is returned for an unknown session id.
	ErrNotFound = errors.New("session not found")
	// ErrClosed is returned once the registry has shut down.
	ErrClosed = errors.New("session registry closed")
)

// CreateOptions describe who a session is for.
type CreateOptions struct {
	// Tenant scopes the session's events.
	Tenant string
	// Required marks sessions that hold standing bootstrap capacity; they are
	// replaced when lost.
	Required bool
}

// MessageHandler receives inbound messages. Each call runs on its own
// goroutine so a slow handler never stalls the session's event loop.
type MessageHandler interface {
	HandleMessage(ctx context.Context, sess *Session, msg connection.Message)
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(ctx context.Context, sess *Session, msg connection.Message)

// HandleMessage calls f.
func (f MessageHandlerFunc) HandleMessage(ctx context.Context, sess *Session, msg connection.Message) {
	f(ctx, sess, msg)
}

// SessionInfo is a point-in-time copy of a session.
type SessionInfo struct {
	ID           string    `json:"id"`
	Tenant       string    `json:"tenant"`
	State        State     `json:"state"`
	Account      string    `json:"account,omitempty"`
	Required     bool      `json:"required"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Retries      int       `json:"retries"`
	LastError    string    `json:"last_error,omitempty"`
}

// Session is one logical connection to a chat account. The registry owns the
// id mapping; only the session's controller changes its state.
type Session struct {
	id        string
	tenant    string
	required  bool
	createdAt time.Time
	retries   int

	mu           sync.RWMutex
	state        State
	account      string
	lastActivity time.Time
	lastError    string
	conn         connection.Conn

	cancel      context.CancelFunc
	done        chan struct{}
	terminating atomic.Bool
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Tenant returns the tenant that requested the session.
func (s *Session) Tenant() string { return s.tenant }

// Required reports whether the session holds bootstrap capacity.
func (s *Session) Required() bool { return s.required }

// CreatedAt returns when this session instance was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Conn returns the live connection, nil before dialing completes.
func (s *Session) Conn() connection.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// Account returns the resolved account identity once ready.
func (s *Session) Account() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionInfo{
		ID:           s.id,
		Tenant:       s.tenant,
		State:        s.state,
		Account:      s.account,
		Required:     s.required,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		Retries:      s.retries,
		LastError:    s.lastError,
	}
}

// Done is closed when the session's controller has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) setState(state State, now time.Time) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	s.state = state
	s.lastActivity = now
	return prev
}

func (s *Session) setConn(conn connection.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

func (s *Session) setAccount(account string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = account
}

func (s *Session) setError(err string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
}

// Timings holds every delay and bound of the lifecycle. Tests shrink them.
type Timings struct {
	AuthTimeout          time.Duration
	MaxPairingAttempts   int
	ReadyPolls           int
	ReadyBackoff         time.Duration
	KeepAliveInterval    time.Duration
	KeepAliveFailures    int
	CacheRefreshInterval time.Duration
	ReconnectDelay       time.Duration
	OperationTimeout     time.Duration

	// MaxRecreateAttempts bounds consecutive same-id recreations that never
	// reach READY.
	MaxRecreateAttempts int
}

// DefaultTimings are the production values.
func DefaultTimings() Timings {
	return Timings{
		AuthTimeout:          180 * time.Second,
		MaxPairingAttempts:   5,
		ReadyPolls:           3,
		ReadyBackoff:         5 * time.Second,
		KeepAliveInterval:    5 * time.Minute,
		KeepAliveFailures:    3,
		CacheRefreshInterval: 10 * time.Minute,
		ReconnectDelay:       10 * time.Second,
		MaxRecreateAttempts:  5,
		OperationTimeout:     30 * time.Second,
	}
}

func (t Timings) withDefaults() Timings {
	d := DefaultTimings()
	if t.AuthTimeout <= 0 {
		t.AuthTimeout = d.AuthTimeout
	}
	if t.MaxPairingAttempts <= 0 {
		t.MaxPairingAttempts = d.MaxPairingAttempts
	}
	if t.ReadyPolls <= 0 {
		t.ReadyPolls = d.ReadyPolls
	}
	if t.ReadyBackoff <= 0 {
		t.ReadyBackoff = d.ReadyBackoff
	}
	if t.KeepAliveInterval <= 0 {
		t.KeepAliveInterval = d.KeepAliveInterval
	}
	if t.KeepAliveFailures <= 0 {
		t.KeepAliveFailures = d.KeepAliveFailures
	}
	if t.CacheRefreshInterval <= 0 {
		t.CacheRefreshInterval = d.CacheRefreshInterval
	}
	if t.ReconnectDelay <= 0 {
		t.ReconnectDelay = d.ReconnectDelay
	}
	if t.MaxRecreateAttempts <= 0 {
		t.MaxRecreateAttempts = d.MaxRecreateAttempts
	}
	if t.OperationTimeout <= 0 {
		t.OperationTimeout = d.OperationTimeout
	}
	return t
}

// BootstrapConfig bounds bulk session creation.
type BootstrapConfig struct {
	MaxSessions   int
	Concurrency   int
	Stagger       time.Duration
	RetryInterval time.Duration
	Tenant        string
}
