// Package connectiontest provides in-memory connections for tests.
package connectiontest

import (
	"context"
	"fmt"
	"sync"

	"github.com/lewisedginton/group_tagger/internal/connection"
)

// Sent records one SendMessage call.
type Sent struct {
	ChatID   string
	Text     string
	Mentions []string
}

// Conn is a scriptable connection.Conn.
type Conn struct {
	SessionID string
	AuthBlob  []byte

	mu             sync.Mutex
	self           string
	events         chan connection.Event
	state          connection.State
	stateErr       error
	chats          []connection.Chat
	chatsErr       error
	rosters        map[string][]connection.Participant
	rosterErr      map[string]error
	hang           map[string]bool
	sendErr        error
	sent           []Sent
	contacts       map[string]string
	started        bool
	loggedOut      bool
	closed         bool
	participantHit map[string]int
}

var _ connection.Conn = (*Conn)(nil)

// NewConn returns a connection whose own identity is self.
func NewConn(self string) *Conn {
	return &Conn{
		self:           self,
		events:         make(chan connection.Event, connection.EventBuffer),
		state:          connection.StateConnected,
		rosters:        map[string][]connection.Participant{},
		rosterErr:      map[string]error{},
		hang:           map[string]bool{},
		contacts:       map[string]string{},
		participantHit: map[string]int{},
	}
}

// Emit pushes an event to the consumer. It is a no-op once closed.
func (c *Conn) Emit(ev connection.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
}

// AddGroup registers a group with its roster.
func (c *Conn) AddGroup(id, name string, participants ...connection.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats = append(c.chats, connection.Chat{ID: id, Name: name, IsGroup: true})
	c.rosters[id] = participants
}

// AddPrivateChat registers a one-to-one chat.
func (c *Conn) AddPrivateChat(id, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats = append(c.chats, connection.Chat{ID: id, Name: name})
}

// SetRoster replaces a group's roster.
func (c *Conn) SetRoster(groupID string, participants ...connection.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rosters[groupID] = participants
}

// FailRoster makes Participants(groupID) return err; nil clears it.
func (c *Conn) FailRoster(groupID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rosterErr[groupID] = err
}

// HangRoster makes Participants(groupID) block until its context ends.
func (c *Conn) HangRoster(groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hang[groupID] = true
}

// FailChats makes Chats return err.
func (c *Conn) FailChats(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chatsErr = err
}

// FailSend makes SendMessage return err.
func (c *Conn) FailSend(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// SetState sets what State reports; a non-nil err is returned instead.
func (c *Conn) SetState(state connection.State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state, c.stateErr = state, err
}

// SetSelf changes the account's own identity.
func (c *Conn) SetSelf(self string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.self = self
}

// SentMessages returns a copy of every SendMessage call.
func (c *Conn) SentMessages() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// Replies returns the texts sent to chatID.
func (c *Conn) Replies(chatID string) []string {
	var texts []string
	for _, s := range c.SentMessages() {
		if s.ChatID == chatID {
			texts = append(texts, s.Text)
		}
	}
	return texts
}

// Contacts returns the saved contacts keyed by id.
func (c *Conn) Contacts() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.contacts))
	for k, v := range c.contacts {
		out[k] = v
	}
	return out
}

// RosterFetches counts Participants calls for groupID.
func (c *Conn) RosterFetches(groupID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participantHit[groupID]
}

// Started reports whether Start was called.
func (c *Conn) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LoggedOut reports whether Logout was called.
func (c *Conn) LoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

func (c *Conn) Events() <-chan connection.Event { return c.events }

func (c *Conn) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return connection.ErrClosed
	}
	c.started = true
	return nil
}

func (c *Conn) State(context.Context) (connection.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.stateErr
}

func (c *Conn) SelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *Conn) Chats(context.Context) ([]connection.Chat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chatsErr != nil {
		return nil, c.chatsErr
	}
	return append([]connection.Chat(nil), c.chats...), nil
}

func (c *Conn) Participants(ctx context.Context, groupID string) ([]connection.Participant, error) {
	c.mu.Lock()
	c.participantHit[groupID]++
	hang := c.hang[groupID]
	err := c.rosterErr[groupID]
	roster, ok := c.rosters[groupID]
	c.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("group %s not found", groupID)
	}
	return append([]connection.Participant(nil), roster...), nil
}

func (c *Conn) SendMessage(_ context.Context, chatID, text string, mentions []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, Sent{ChatID: chatID, Text: text, Mentions: append([]string(nil), mentions...)})
	return nil
}

func (c *Conn) SaveContact(_ context.Context, id, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contacts[id] = name
	return nil
}

func (c *Conn) Logout(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// Dial records one Dial call.
type Dial struct {
	SessionID string
	AuthBlob  []byte
}

// Dialer hands out fake connections and remembers them per session.
type Dialer struct {
	// NewConn builds the connection for a dial; defaults to NewConn(self).
	NewConn func(sessionID string, authBlob []byte) *Conn
	// Err, when set, fails every dial.
	Err error

	mu    sync.Mutex
	dials []Dial
	conns map[string][]*Conn
	self  string
}

var _ connection.Dialer = (*Dialer)(nil)

// NewDialer returns a Dialer whose connections identify as self.
func NewDialer(self string) *Dialer {
	return &Dialer{self: self, conns: map[string][]*Conn{}}
}

func (d *Dialer) Dial(_ context.Context, sessionID string, authBlob []byte) (connection.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, Dial{SessionID: sessionID, AuthBlob: authBlob})
	if d.Err != nil {
		return nil, d.Err
	}
	var conn *Conn
	if d.NewConn != nil {
		conn = d.NewConn(sessionID, authBlob)
	} else {
		conn = NewConn(d.self)
	}
	conn.SessionID = sessionID
	conn.AuthBlob = authBlob
	d.conns[sessionID] = append(d.conns[sessionID], conn)
	return conn, nil
}

// SetErr changes the dial error while sessions are running.
func (d *Dialer) SetErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Err = err
}

// Dials returns every Dial call so far.
func (d *Dialer) Dials() []Dial {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Dial(nil), d.dials...)
}

// Latest returns the most recent connection dialed for sessionID.
func (d *Dialer) Latest(sessionID string) *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	conns := d.conns[sessionID]
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

// Conns returns every connection dialed for sessionID, oldest first.
func (d *Dialer) Conns(sessionID string) []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns[sessionID]...)
}

// SessionIDs returns the distinct session ids dialed.
func (d *Dialer) SessionIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.conns))
	for id := range d.conns {
		ids = append(ids, id)
	}
	return ids
}
