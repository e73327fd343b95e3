package notify

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lewisedginton/group_tagger/pkg/logger"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	defaultBuffer       = 64
)

// ErrHubClosed is returned by Publish after Close.
var ErrHubClosed = errors.New("event hub closed")

// HubConfig configures the websocket event hub.
type HubConfig struct {
	// Token, when set, must be presented as a bearer token or ?token=.
	Token        string
	WriteTimeout time.Duration
	PingInterval time.Duration
	// Buffer is the per-subscriber queue length. A subscriber that falls
	// further behind is disconnected.
	Buffer int
	// AllowedOrigins restricts browser upgrades; empty allows any origin.
	AllowedOrigins []string
	Logger         logger.Logger
}

// Hub serves /events?tenant=<t> and pushes each published event to the
// subscribers of that event's tenant.
type Hub struct {
	cfg      HubConfig
	log      logger.Logger
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	tenant string
	conn   *websocket.Conn
	send   chan Event
	done   chan struct{}
	once   sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

var _ Sink = (*Hub)(nil)

// NewHub creates a hub; it does nothing until mounted on a router.
func NewHub(cfg HubConfig) *Hub {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	h := &Hub{
		cfg:  cfg,
		log:  cfg.Logger,
		subs: make(map[*subscriber]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (h *Hub) authorized(r *http.Request) bool {
	if h.cfg.Token == "" {
		return true
	}
	if r.URL.Query().Get("token") == h.cfg.Token {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+h.cfg.Token
}

// ServeHTTP upgrades the request and streams events until the client goes
// away or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		http.Error(w, "tenant is required", http.StatusBadRequest)
		return
	}
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.log.Warn("Event stream upgrade failed", logger.ErrorField(err))
		return
	}

	sub := &subscriber{
		tenant: tenant,
		conn:   conn,
		send:   make(chan Event, h.cfg.Buffer),
		done:   make(chan struct{}),
	}
	if !h.add(sub) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(h.cfg.WriteTimeout))
		_ = conn.Close()
		return
	}
	h.log.Info("Event subscriber connected",
		logger.StringField("tenant", tenant),
		logger.ClientIPField(r.RemoteAddr))

	go h.readLoop(sub)
	h.writeLoop(sub)

	h.remove(sub)
	_ = conn.Close()
	h.log.Info("Event subscriber disconnected", logger.StringField("tenant", tenant))
}

// readLoop only exists to notice the peer closing; inbound frames are ignored.
func (h *Hub) readLoop(sub *subscriber) {
	defer sub.stop()
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("Event subscriber read error", logger.ErrorField(err))
			}
			return
		}
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	ping := time.NewTicker(h.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-sub.done:
			_ = sub.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.cfg.WriteTimeout))
			return
		case ev := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := sub.conn.WriteJSON(ev); err != nil {
				h.log.Warn("Event write failed",
					logger.StringField("tenant", sub.tenant),
					logger.ErrorField(err))
				return
			}
		case <-ping.C:
			if err := sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *Hub) add(sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subs[sub] = struct{}{}
	return true
}

func (h *Hub) remove(sub *subscriber) {
	sub.stop()
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// Publish queues ev for every subscriber of ev.Tenant without blocking.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrHubClosed
	}
	for sub := range h.subs {
		if sub.tenant != ev.Tenant {
			continue
		}
		select {
		case sub.send <- ev:
		default:
			h.log.Warn("Event subscriber too slow, disconnecting",
				logger.StringField("tenant", sub.tenant),
				logger.SessionIDField(ev.SessionID))
			sub.stop()
		}
	}
	return nil
}

// Subscribers reports how many clients are connected for tenant, or in total
// when tenant is empty.
func (h *Hub) Subscribers(tenant string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if tenant == "" {
		return len(h.subs)
	}
	n := 0
	for sub := range h.subs {
		if sub.tenant == tenant {
			n++
		}
	}
	return n
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		sub.stop()
	}
}
