package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(base, query string) string {
	return "ws" + strings.TrimPrefix(base, "http") + "/events?" + query
}

func newHubServer(t *testing.T, cfg HubConfig) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(cfg)
	mux := http.NewServeMux()
	mux.Handle("/events", hub)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func subscribe(t *testing.T, hub *Hub, srv *httptest.Server, tenant string) *websocket.Conn {
	t.Helper()
	before := hub.Subscribers(tenant)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "tenant="+tenant), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return hub.Subscribers(tenant) == before+1 },
		time.Second, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHubDeliversOnlyToTenant(t *testing.T) {
	hub, srv := newHubServer(t, HubConfig{})
	acme := subscribe(t, hub, srv, "acme")
	other := subscribe(t, hub, srv, "other")
	assert.Equal(t, 2, hub.Subscribers(""))

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, Event{Type: EventPairingCode, Tenant: "acme", SessionID: "s1", PairingCode: "ABCD-1234"}))
	require.NoError(t, hub.Publish(ctx, Event{Type: EventSessionReady, Tenant: "other", SessionID: "s2"}))

	ev := readEvent(t, acme)
	assert.Equal(t, EventPairingCode, ev.Type)
	assert.Equal(t, "s1", ev.SessionID)
	assert.Equal(t, "ABCD-1234", ev.PairingCode)

	ev = readEvent(t, other)
	assert.Equal(t, EventSessionReady, ev.Type)
	assert.Equal(t, "s2", ev.SessionID)

	// Nothing else is queued for acme.
	require.NoError(t, acme.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, _, err := acme.ReadMessage()
	assert.Error(t, err)
}

func TestHubRequiresTenant(t *testing.T) {
	_, srv := newHubServer(t, HubConfig{})
	resp, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHubToken(t *testing.T) {
	hub, srv := newHubServer(t, HubConfig{Token: "s3cret"})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "tenant=acme"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "tenant=acme&token=s3cret"), nil)
	require.NoError(t, err)
	defer conn.Close()

	header := http.Header{"Authorization": []string{"Bearer s3cret"}}
	conn2, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "tenant=acme"), header)
	require.NoError(t, err)
	defer conn2.Close()

	assert.Eventually(t, func() bool { return hub.Subscribers("acme") == 2 }, time.Second, 5*time.Millisecond)
}

func TestHubUnsubscribesOnClientClose(t *testing.T) {
	hub, srv := newHubServer(t, HubConfig{})
	conn := subscribe(t, hub, srv, "acme")
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Subscribers("acme") == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubClose(t *testing.T) {
	hub, srv := newHubServer(t, HubConfig{})
	conn := subscribe(t, hub, srv, "acme")

	hub.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	assert.ErrorIs(t, hub.Publish(context.Background(), Event{Tenant: "acme"}), ErrHubClosed)
	assert.Eventually(t, func() bool { return hub.Subscribers("") == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubOriginCheck(t *testing.T) {
	hub := NewHub(HubConfig{AllowedOrigins: []string{"https://dash.example.com"}})
	r := httptest.NewRequest(http.MethodGet, "/events", nil)
	assert.True(t, hub.checkOrigin(r))
	r.Header.Set("Origin", "https://dash.example.com")
	assert.True(t, hub.checkOrigin(r))
	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, hub.checkOrigin(r))
}
