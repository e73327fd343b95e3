// Package bridge implements connection.Dialer against a connection gateway: a
// sidecar that runs the chat client library and exposes each account over
// its own websocket at <gateway>/sessions/<id>.
//
// Frames are JSON. Requests carry an id and a method, responses echo the id
// with a result or an error, and the gateway pushes events at any time as
// frames with an "event" member.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lewisedginton/group_tagger/internal/connection"
	"github.com/lewisedginton/group_tagger/pkg/logger"
)

const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultWriteTimeout     = 10 * time.Second
)

// Gateway methods.
const (
	methodStart        = "start"
	methodState        = "state"
	methodChats        = "chats"
	methodParticipants = "participants"
	methodSend         = "send"
	methodSaveContact  = "save_contact"
	methodLogout       = "logout"
)

// Config points the dialer at a gateway.
type Config struct {
	// URL is the gateway base, ws:// or wss://.
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Logger           logger.Logger
}

// frame is the single wire envelope for requests, responses and events.
type frame struct {
	ID     string            `json:"id,omitempty"`
	Method string            `json:"method,omitempty"`
	Params json.RawMessage   `json:"params,omitempty"`
	Result json.RawMessage   `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
	Event  *connection.Event `json:"event,omitempty"`
	// SelfID accompanies events once the account is known.
	SelfID string `json:"self_id,omitempty"`
}

type startParams struct {
	AuthBlob []byte `json:"auth_blob,omitempty"`
}

type stateResult struct {
	State connection.State `json:"state"`
}

type participantsParams struct {
	GroupID string `json:"group_id"`
}

type sendParams struct {
	ChatID   string   `json:"chat_id"`
	Text     string   `json:"text"`
	Mentions []string `json:"mentions,omitempty"`
}

type saveContactParams struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RemoteError is an error reported by the gateway for one request.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("gateway %s: %s", e.Method, e.Message)
}

// Dialer opens one websocket per session.
type Dialer struct {
	cfg  Config
	base *url.URL
	ws   *websocket.Dialer
	http *http.Client
	log  logger.Logger
}

var _ connection.Dialer = (*Dialer)(nil)

// NewDialer validates cfg.
func NewDialer(cfg Config) (*Dialer, error) {
	if cfg.URL == "" {
		return nil, errors.New("gateway url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid gateway url: %w", err)
	}
	if base.Scheme != "ws" && base.Scheme != "wss" {
		return nil, fmt.Errorf("gateway url must use ws or wss, got %q", base.Scheme)
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Dialer{
		cfg:  cfg,
		base: base,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		http: &http.Client{Timeout: cfg.HandshakeTimeout},
		log:  cfg.Logger,
	}, nil
}

func (d *Dialer) header() http.Header {
	h := http.Header{}
	if d.cfg.Token != "" {
		h.Set("Authorization", "Bearer "+d.cfg.Token)
	}
	return h
}

// Dial connects the session's socket. authBlob is sent with Start.
func (d *Dialer) Dial(ctx context.Context, sessionID string, authBlob []byte) (connection.Conn, error) {
	u := *d.base
	u.Path = u.Path + "/sessions/" + url.PathEscape(sessionID)

	ws, resp, err := d.ws.DialContext(ctx, u.String(), d.header())
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial gateway for %s: %w (status %d)", sessionID, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to dial gateway for %s: %w", sessionID, err)
	}

	c := &Conn{
		ws:           ws,
		sessionID:    sessionID,
		authBlob:     authBlob,
		writeTimeout: d.cfg.WriteTimeout,
		log:          d.log.WithFields(logger.SessionIDField(sessionID)),
		events:       make(chan connection.Event, connection.EventBuffer),
		pending:      make(map[string]chan frame),
		done:         make(chan struct{}),
	}
	go c.readLoop()
	d.log.Debug("Gateway connection opened", logger.SessionIDField(sessionID))
	return c, nil
}

// Ping checks that the gateway answers GET /healthz.
func (d *Dialer) Ping(ctx context.Context) error {
	u := *d.base
	if u.Scheme == "wss" {
		u.Scheme = "https"
	} else {
		u.Scheme = "http"
	}
	u.Path = u.Path + "/healthz"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create gateway health request: %w", err)
	}
	req.Header = d.header()
	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway is not reachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return nil
}

// Conn is one session's gateway socket.
type Conn struct {
	ws           *websocket.Conn
	sessionID    string
	authBlob     []byte
	writeTimeout time.Duration
	log          logger.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan frame
	selfID  string

	events    chan connection.Event
	done      chan struct{}
	closeOnce sync.Once
	closing   atomic.Bool
}

var _ connection.Conn = (*Conn)(nil)

func (c *Conn) Events() <-chan connection.Event { return c.events }

func (c *Conn) SelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

func (c *Conn) readLoop() {
	defer close(c.events)
	defer c.failPending()

	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if c.closing.Load() {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("Gateway connection lost", logger.ErrorField(err))
			}
			c.emit(connection.Event{Type: connection.EventDisconnected, Reason: connection.ReasonConnectionLost})
			return
		}

		switch {
		case f.Event != nil:
			if f.SelfID != "" {
				c.mu.Lock()
				c.selfID = f.SelfID
				c.mu.Unlock()
			}
			if !c.emit(*f.Event) {
				return
			}
		case f.ID != "":
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		default:
			c.log.Debug("Ignoring gateway frame without id or event")
		}
	}
}

// emit reports false once the connection has been closed locally.
func (c *Conn) emit(ev connection.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Conn) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Conn) call(ctx context.Context, method string, params, out any) error {
	select {
	case <-c.done:
		return connection.ErrClosed
	default:
	}

	f := frame{
		ID:     strconv.FormatUint(c.nextID.Add(1), 10),
		Method: method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to encode %s params: %w", method, err)
		}
		f.Params = raw
	}

	ch := make(chan frame, 1)
	c.mu.Lock()
	c.pending[f.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
	}()

	if err := c.write(f); err != nil {
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return connection.ErrClosed
	case resp, ok := <-ch:
		if !ok {
			return connection.ErrClosed
		}
		if resp.Error != "" {
			return &RemoteError{Method: method, Message: resp.Error}
		}
		if out != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("failed to decode %s result: %w", method, err)
			}
		}
		return nil
	}
}

func (c *Conn) write(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteJSON(f)
}

func (c *Conn) Start(ctx context.Context) error {
	return c.call(ctx, methodStart, startParams{AuthBlob: c.authBlob}, nil)
}

func (c *Conn) State(ctx context.Context) (connection.State, error) {
	var res stateResult
	if err := c.call(ctx, methodState, nil, &res); err != nil {
		return connection.StateUnknown, err
	}
	if res.State == "" {
		return connection.StateUnknown, nil
	}
	return res.State, nil
}

func (c *Conn) Chats(ctx context.Context) ([]connection.Chat, error) {
	var chats []connection.Chat
	if err := c.call(ctx, methodChats, nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (c *Conn) Participants(ctx context.Context, groupID string) ([]connection.Participant, error) {
	var roster []connection.Participant
	if err := c.call(ctx, methodParticipants, participantsParams{GroupID: groupID}, &roster); err != nil {
		return nil, err
	}
	return roster, nil
}

func (c *Conn) SendMessage(ctx context.Context, chatID, text string, mentions []string) error {
	return c.call(ctx, methodSend, sendParams{ChatID: chatID, Text: text, Mentions: mentions}, nil)
}

func (c *Conn) SaveContact(ctx context.Context, id, name string) error {
	return c.call(ctx, methodSaveContact, saveContactParams{ID: id, Name: name}, nil)
}

func (c *Conn) Logout(ctx context.Context) error {
	return c.call(ctx, methodLogout, nil, nil)
}

// Close is idempotent; the events channel closes once the reader exits.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.writeTimeout))
		c.writeMu.Unlock()
		err = c.ws.Close()
		c.log.Debug("Gateway connection closed")
	})
	return err
}
