package session_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/group_tagger/internal/connection"
	"github.com/lewisedginton/group_tagger/internal/connection/connectiontest"
	"github.com/lewisedginton/group_tagger/internal/groupcache"
	"github.com/lewisedginton/group_tagger/internal/notify"
	"github.com/lewisedginton/group_tagger/internal/notify/notifytest"
	"github.com/lewisedginton/group_tagger/internal/storage_manager"
	"github.com/lewisedginton/group_tagger/pkg/logger"
)

const (
	selfID  = "447700900001@c.us"
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

type harness struct {
	reg     *Registry
	dialer  *connectiontest.Dialer
	events  *notifytest.Recorder
	cache   *groupcache.Cache
	storage *storage_manager.StorageManager
}

func fastTimings() Timings {
	return Timings{
		AuthTimeout:          time.Minute,
		MaxPairingAttempts:   5,
		ReadyPolls:           3,
		ReadyBackoff:         5 * time.Millisecond,
		KeepAliveInterval:    time.Hour,
		KeepAliveFailures:    3,
		CacheRefreshInterval: time.Hour,
		ReconnectDelay:       20 * time.Millisecond,
		OperationTimeout:     time.Second,
	}
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		dialer:  connectiontest.NewDialer(selfID),
		events:  &notifytest.Recorder{},
		cache:   groupcache.New(groupcache.Config{}),
		storage: storage_manager.NewWithProvider(storage_manager.NewLocalFileProvider(t.TempDir())),
	}
	h.reg = h.newRegistry(t, opts...)
	return h
}

func (h *harness) newRegistry(t *testing.T, opts ...func(*Config)) *Registry {
	t.Helper()
	cfg := Config{
		Dialer:  h.dialer,
		Cache:   h.cache,
		Storage: h.storage,
		Events:  h.events,
		Logger:  logger.NewNop(),
		Timings: fastTimings(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	reg, err := NewRegistry(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, reg.Shutdown(ctx))
	})
	return reg
}

// conn waits for the n-th connection dialed for id (1-based) to be started.
func (h *harness) conn(t *testing.T, id string, n int) *connectiontest.Conn {
	t.Helper()
	var conn *connectiontest.Conn
	require.Eventually(t, func() bool {
		conns := h.dialer.Conns(id)
		if len(conns) < n {
			return false
		}
		conn = conns[n-1]
		return conn.Started()
	}, waitFor, tick, "connection %d for %s never started", n, id)
	return conn
}

func waitState(t *testing.T, sess *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return sess.State() == want },
		waitFor, tick, "session %s never reached %s (at %s)", sess.ID(), want, sess.State())
}

func waitGone(t *testing.T, reg *Registry, sess *Session) {
	t.Helper()
	select {
	case <-sess.Done():
	case <-time.After(waitFor):
		t.Fatalf("session %s never ended", sess.ID())
	}
	require.Eventually(t, func() bool {
		current, ok := reg.Get(sess.ID())
		return !ok || current != sess
	}, waitFor, tick)
}

// makeReady drives a fresh session through pairing to READY.
func (h *harness) makeReady(t *testing.T, id string, opts CreateOptions) (*Session, *connectiontest.Conn) {
	t.Helper()
	sess, created, err := h.reg.CreateWithID(context.Background(), id, opts)
	require.NoError(t, err)
	require.True(t, created)

	conn := h.conn(t, id, 1)
	conn.Emit(connection.Event{Type: connection.EventPairingCode, PairingCode: "ABCD-1234"})
	waitState(t, sess, StatePairingPending)
	conn.Emit(connection.Event{Type: connection.EventAuthenticated, AuthBlob: []byte("blob-" + id)})
	waitState(t, sess, StateAuthenticated)
	conn.Emit(connection.Event{Type: connection.EventReady})
	waitState(t, sess, StateReady)
	return sess, conn
}

func (h *harness) storedBlob(t *testing.T, id string) []byte {
	t.Helper()
	blob, err := h.reg.Auth().Load(context.Background(), id)
	require.NoError(t, err)
	return blob
}

func TestNewRegistry_Validation(t *testing.T) {
	storage := storage_manager.NewWithProvider(storage_manager.NewLocalFileProvider(t.TempDir()))
	full := Config{
		Dialer:  connectiontest.NewDialer(selfID),
		Cache:   groupcache.New(groupcache.Config{}),
		Storage: storage,
		Logger:  logger.NewNop(),
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "missing dialer", mutate: func(c *Config) { c.Dialer = nil }, errMsg: "dialer is required"},
		{name: "missing cache", mutate: func(c *Config) { c.Cache = nil }, errMsg: "group cache is required"},
		{name: "missing storage", mutate: func(c *Config) { c.Storage = nil }, errMsg: "storage manager is required"},
		{name: "missing logger", mutate: func(c *Config) { c.Logger = nil }, errMsg: "logger is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := full
			tt.mutate(&cfg)
			_, err := NewRegistry(context.Background(), cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestCreate_GeneratesPrefixedIDs(t *testing.T) {
	h := newHarness(t)
	a, err := h.reg.Create(context.Background(), CreateOptions{Tenant: "acme"})
	require.NoError(t, err)
	b, err := h.reg.Create(context.Background(), CreateOptions{Tenant: "acme"})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Regexp(t, `^session-[0-9A-Z]{26}$`, a.ID())
	assert.Equal(t, StateInitializing, a.State())
	assert.Equal(t, "acme", a.Tenant())
	assert.Len(t, h.reg.All(), 2)
}

func TestCreateWithID_IsIdempotent(t *testing.T) {
	h := newHarness(t)
	first, created, err := h.reg.CreateWithID(context.Background(), "s1", CreateOptions{Tenant: "acme"})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := h.reg.CreateWithID(context.Background(), "s1", CreateOptions{Tenant: "other"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, first, second)
	assert.Equal(t, "acme", second.Tenant())

	h.conn(t, "s1", 1)
	assert.Len(t, h.dialer.Dials(), 1)
	assert.Len(t, h.reg.All(), 1)
}

func TestLifecycle_PairingToReady(t *testing.T) {
	h := newHarness(t)
	sess, conn := h.makeReady(t, "s1", CreateOptions{Tenant: "acme"})
	conn.AddGroup("g1@g.us", "Team", connection.Participant{ID: selfID, IsAdmin: true})

	assert.Equal(t, []byte("blob-s1"), h.storedBlob(t, "s1"))
	assert.Equal(t, selfID, sess.Account())

	pairing := h.events.Of(notify.EventPairingCode)
	require.Len(t, pairing, 1)
	assert.Equal(t, "ABCD-1234", pairing[0].PairingCode)
	assert.Equal(t, "acme", pairing[0].Tenant)
	assert.Equal(t, "s1", pairing[0].SessionID)
	assert.False(t, pairing[0].Timestamp.IsZero())

	require.Eventually(t, func() bool { return h.events.Count(notify.EventSessionReady, "s1") == 1 }, waitFor, tick)
	assert.Equal(t, selfID, h.events.Of(notify.EventSessionReady)[0].AccountID)

	require.Eventually(t, func() bool {
		_, ok := h.cache.Current("s1")
		return ok
	}, waitFor, tick, "group cache never populated")

	counts := h.reg.Counts()
	assert.Equal(t, 1, counts[StateReady])
}

func TestLifecycle_ReadyWithoutAuthenticatedEvent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.reg.Auth().Save(context.Background(), "s1", []byte("stored")))

	sess, _, err := h.reg.CreateWithID(context.Background(), "s1", CreateOptions{})
	require.NoError(t, err)
	conn := h.conn(t, "s1", 1)
	assert.Equal(t, []byte("stored"), conn.AuthBlob)

	conn.Emit(connection.Event{Type: connection.EventReady})
	waitState(t, sess, StateReady)
	assert.Empty(t, h.events.Of(notify.EventPairingCode))
}

func TestLifecycle_PairingAttemptsExhausted(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Timings.MaxPairingAttempts = 2 })
	sess, _, err := h.reg.CreateWithID(context.Background(), "s1", CreateOptions{Tenant: "acme", Required: true})
	require.NoError(t, err)
	conn := h.conn(t, "s1", 1)

	for i := 0; i < 3; i++ {
		conn.Emit(connection.Event{Type: connection.EventPairingCode, PairingCode: "CODE"})
	}
	waitGone(t, h.reg, sess)

	assert.Equal(t, StateAuthFailed, sess.State())
	assert.Equal(t, ReasonPairingExhausted, sess.Info().LastError)
	assert.Equal(t, 2, h.events.Count(notify.EventPairingCode, "s1"))
	assert.Equal(t, 1, h.events.Count(notify.EventSessionAuthFailed, "s1"))
	assert.True(t, conn.Closed())

	// A required session is replaced under a new id.
	require.Eventually(t, func() bool {
		all := h.reg.All()
		return len(all) == 1 && all[0].ID() != "s1" && all[0].Tenant() == "acme" && all[0].Required()
	}, waitFor, tick)
}

func TestLifecycle_AuthTimeout(t *testing.T) {
	t.Run("fresh optional session is discarded", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.Timings.AuthTimeout = 20 * time.Millisecond })
		sess, err := h.reg.Create(context.Background(), CreateOptions{})
		require.NoError(t, err)

		waitGone(t, h.reg, sess)
		assert.Equal(t, StateAuthFailed, sess.State())
		events := h.events.Of(notify.EventSessionAuthFailed)
		require.Len(t, events, 1)
		assert.Equal(t, ReasonAuthTimeout, events[0].Reason)

		assert.Never(t, func() bool { return len(h.reg.All()) > 0 }, 60*time.Millisecond, tick)
	})

	t.Run("fresh required session is replaced", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.Timings.AuthTimeout = 20 * time.Millisecond })
		sess, err := h.reg.Create(context.Background(), CreateOptions{Required: true})
		require.NoError(t, err)

		waitGone(t, h.reg, sess)
		require.Eventually(t, func() bool {
			for _, other := range h.reg.All() {
				if other.ID() != sess.ID() {
					return true
				}
			}
			return false
		}, waitFor, tick)
	})

	t.Run("stored credential is resumed under the same id", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.Timings.AuthTimeout = 20 * time.Millisecond })
		require.NoError(t, h.reg.Auth().Save(context.Background(), "s1", []byte("stored")))

		sess, _, err := h.reg.CreateWithID(context.Background(), "s1", CreateOptions{})
		require.NoError(t, err)
		waitGone(t, h.reg, sess)

		second := h.conn(t, "s1", 2)
		assert.Equal(t, []byte("stored"), second.AuthBlob)
		assert.Equal(t, []byte("stored"), h.storedBlob(t, "s1"))
	})
}

func TestLifecycle_AuthenticatedStopsAuthTimer(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Timings.AuthTimeout = 30 * time.Millisecond })
	sess, _, err := h.reg.CreateWithID(context.Background(), "s1", CreateOptions{})
	require.NoError(t, err)
	conn := h.conn(t, "s1", 1)

	conn.Emit(connection.Event{Type: connection.EventAuthenticated, AuthBlob: []byte("b")})
	waitState(t, sess, StateAuthenticated)
	assert.Never(t, func() bool { return sess.State() != StateAuthenticated }, 100*time.Millisecond, tick)
}

func TestLifecycle_ReadyValidationFailure(t *testing.T) {
	h := newHarness(t)
	h.dialer.NewConn = func(string, []byte) *connectiontest.Conn {
		conn := connectiontest.NewConn(selfID)
		conn.SetState(connection.StateOpening, nil)
		return conn
	}

	sess, _, err := h.reg.CreateWithID(context.Background(), "s1", CreateOptions{})
	require.NoError(t, err)
	conn := h.conn(t, "s1", 1)
	conn.Emit(connection.Event{Type: connection.EventAuthenticated, AuthBlob: []byte("b")})
	conn.Emit(connection.Event{Type: connection.EventReady})

	waitGone(t, h.reg, sess)
	assert.Equal(t, ReasonReadyValidation, sess.Info().LastError)
	assert.Empty(t, h.events.Of(notify.EventSessionReady))

	// Destroyed and recreated under the same id, resuming the saved credential.
	second := h.conn(t, "s1", 2)
	assert.Equal(t, []byte("b"), second.AuthBlob)
	recreated, ok := h.reg.Get("s1")
	require.True(t, ok)
	assert.Equal(t, 1, recreated.Info().Retries)
}

func TestLifecycle_ReadyValidationRecoversWithinPolls(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Timings.ReadyBackoff = 30 * time.Millisecond })
	sess, _, err := h.reg.CreateWithID(context.Background(), "s1", CreateOptions{})
	require.NoError(t, err)
	conn := h.conn(t, "s1", 1)
	conn.SetState(connection.StateOpening, nil)

	conn.Emit(connection.Event{Type: connection.EventReady})
	time.Sleep(10 * time.Millisecond)
	conn.SetState(connection.StateConnected, nil)

	waitState(t, sess, StateReady)
	assert.Len(t, h.dialer.Conns("s1"), 1)
}

func TestLifecycle_Disconnect(t *testing.T) {
	t.Run("connection lost recreates after the delay", func(t *testing.T) {
		h := newHarness(t)
		sess, conn := h.makeReady(t, "s1", CreateOptions{Tenant: "acme"})
		require.Eventually(t, func() bool {
			_, ok := h.cache.Current("s1")
			return ok
		}, waitFor, tick)

		conn.Emit(connection.Event{Type: connection.EventDisconnected, Reason: connection.ReasonConnectionLost})
		waitGone(t, h.reg, sess)

		_, cached := h.cache.Current("s1")
		assert.False(t, cached, "cache entry must be dropped on disconnect")
		assert.Equal(t, StateDisconnected, sess.State())

		second := h.conn(t, "s1", 2)
		assert.Equal(t, []byte("blob-s1"), second.AuthBlob)
		recreated, ok := h.reg.Get("s1")
		require.True(t, ok)
		assert.Equal(t, "acme", recreated.Tenant())

		events := h.events.Of(notify.EventSessionDisconnected)
		require.Len(t, events, 1)
		assert.Equal(t, connection.ReasonConnectionLost, events[0].Reason)
	})

	t.Run("empty reason is treated as connection lost", func(t *testing.T) {
		h := newHarness(t)
		sess, conn := h.makeReady(t, "s1", CreateOptions{})
		conn.Emit(connection.Event{Type: connection.EventDisconnected})
		waitGone(t, h.reg, sess)
		assert.Equal(t, connection.ReasonConnectionLost, sess.Info().LastError)
		h.conn(t, "s1", 2)
	})

	t.Run("navigation is never recreated", func(t *testing.T) {
		h := newHarness(t)
		sess, conn := h.makeReady(t, "s1", CreateOptions{Required: true})
		conn.Emit(connection.Event{Type: connection.EventDisconnected, Reason: connection.ReasonNavigation})
		waitGone(t, h.reg, sess)

		assert.Never(t, func() bool { return len(h.dialer.Dials()) > 1 }, 100*time.Millisecond, tick)
		assert.Empty(t, h.reg.All())
		assert.Equal(t, []byte("blob-s1"), h.storedBlob(t, "s1"))
	})

	t.Run("logout deletes the credential", func(t *testing.T) {
		h := newHarness(t)
		sess, conn := h.makeReady(t, "s1", CreateOptions{})
		conn.Emit(connection.Event{Type: connection.EventDisconnected, Reason: connection.ReasonLogout})
		waitGone(t, h.reg, sess)

		assert.Nil(t, h.storedBlob(t, "s1"))
		assert.Never(t, func() bool { return len(h.dialer.Dials()) > 1 }, 100*time.Millisecond, tick)
	})

	t.Run("closed event stream counts as connection lost", func(t *testing.T) {
		h := newHarness(t)
		sess, conn := h.makeReady(t, "s1", CreateOptions{})
		require.NoError(t, conn.Close())
		waitGone(t, h.reg, sess)
		h.conn(t, "s1", 2)
	})
}

func TestLifecycle_AuthFailureDeletesCredential(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.reg.Auth().Save(context.Background(), "s1", []byte("revoked")))
	sess, _, err := h.reg.CreateWithID(context.Background(), "s1", CreateOptions{Tenant: "acme", Required: true})
	require.NoError(t, err)
	conn := h.conn(t, "s1", 1)

	conn.Emit(connection.Event{Type: connection.EventAuthFailure, Reason: "credential revoked"})
	waitGone(t, h.reg, sess)

	assert.Equal(t, StateAuthFailed, sess.State())
	assert.Nil(t, h.storedBlob(t, "s1"))
	assert.Equal(t, 1, h.events.Count(notify.EventSessionAuthFailed, "s1"))
	require.Eventually(t, func() bool {
		all := h.reg.All()
		return len(all) == 1 && all[0].ID() != "s1"
	}, waitFor, tick)
}

func TestLifecycle_KeepAlive(t *testing.T) {
	t.Run("single failures are tolerated", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.Timings.KeepAliveInterval = 20 * time.Millisecond })
		sess, conn := h.makeReady(t, "s1", CreateOptions{})

		for i := 0; i < 3; i++ {
			conn.SetState("", errors.New("probe failed"))
			time.Sleep(25 * time.Millisecond)
			conn.SetState(connection.StateConnected, nil)
			time.Sleep(45 * time.Millisecond)
		}
		assert.Equal(t, StateReady, sess.State())
	})

	t.Run("consecutive failures disconnect and recreate", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.Timings.KeepAliveInterval = 5 * time.Millisecond })
		sess, conn := h.makeReady(t, "s1", CreateOptions{})
		conn.SetState(connection.StateConflict, nil)

		waitGone(t, h.reg, sess)
		assert.Equal(t, connection.ReasonKeepAliveFailed, sess.Info().LastError)
		events := h.events.Of(notify.EventSessionDisconnected)
		require.Len(t, events, 1)
		assert.Equal(t, connection.ReasonKeepAliveFailed, events[0].Reason)
		h.conn(t, "s1", 2)
	})
}

func TestLifecycle_PeriodicCacheRefresh(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Timings.CacheRefreshInterval = 10 * time.Millisecond })
	_, conn := h.makeReady(t, "s1", CreateOptions{})
	require.Eventually(t, func() bool {
		_, ok := h.cache.Current("s1")
		return ok
	}, waitFor, tick)

	conn.AddGroup("g1@g.us", "Later", connection.Participant{ID: selfID, IsSuperAdmin: true})
	require.Eventually(t, func() bool {
		groups, _ := h.cache.Current("s1")
		return len(groups) == 1 && groups[0].Name == "Later"
	}, waitFor, tick)
}

func TestLifecycle_DialFailureRecreates(t *testing.T) {
	h := newHarness(t)
	h.dialer.Err = errors.New("gateway unavailable")
	sess, _, err := h.reg.CreateWithID(context.Background(), "s1", CreateOptions{})
	require.NoError(t, err)
	waitGone(t, h.reg, sess)
	assert.Equal(t, ReasonDialFailed, sess.Info().LastError)

	require.Eventually(t, func() bool { return len(h.dialer.Dials()) >= 2 }, waitFor, tick)
}

func TestDispatch_RunsHandlerPerMessage(t *testing.T) {
	h := newHarness(t)
	var (
		mu       sync.Mutex
		received []connection.Message
	)
	h.reg.SetHandler(MessageHandlerFunc(func(_ context.Context, sess *Session, msg connection.Message) {
		if msg.Body == "boom" {
			panic("handler exploded")
		}
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "s1", sess.ID())
		received = append(received, msg)
	}))

	sess, conn := h.makeReady(t, "s1", CreateOptions{})
	conn.Emit(connection.Event{Type: connection.EventMessage, Message: &connection.Message{ID: "m0", Body: "boom"}})
	conn.Emit(connection.Event{Type: connection.EventMessage, Message: &connection.Message{ID: "m1", Body: "!ping"}})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, waitFor, tick)
	assert.Equal(t, StateReady, sess.State())
}

func TestTerminate(t *testing.T) {
	h := newHarness(t)
	sess, conn := h.makeReady(t, "s1", CreateOptions{Tenant: "acme", Required: true})

	require.NoError(t, h.reg.Terminate(context.Background(), "s1"))

	_, ok := h.reg.Get("s1")
	assert.False(t, ok)
	assert.True(t, conn.LoggedOut())
	assert.True(t, conn.Closed())
	assert.Nil(t, h.storedBlob(t, "s1"))
	assert.Equal(t, StateDisconnected, sess.State())

	events := h.events.Of(notify.EventSessionDisconnected)
	require.Len(t, events, 1)
	assert.Equal(t, connection.ReasonLogout, events[0].Reason)
	assert.Never(t, func() bool { return len(h.reg.All()) > 0 }, 60*time.Millisecond, tick)

	assert.ErrorIs(t, h.reg.Terminate(context.Background(), "s1"), ErrNotFound)
}

func TestRemove_KeepsCredential(t *testing.T) {
	h := newHarness(t)
	_, conn := h.makeReady(t, "s1", CreateOptions{})

	require.NoError(t, h.reg.Remove(context.Background(), "s1"))
	assert.True(t, conn.Closed())
	assert.False(t, conn.LoggedOut())
	assert.Equal(t, []byte("blob-s1"), h.storedBlob(t, "s1"))
	assert.Empty(t, h.events.Of(notify.EventSessionDisconnected))
	assert.Never(t, func() bool { return len(h.dialer.Dials()) > 1 }, 60*time.Millisecond, tick)

	assert.ErrorIs(t, h.reg.Remove(context.Background(), "s1"), ErrNotFound)
}

func TestShutdown_StopsEverySession(t *testing.T) {
	h := newHarness(t)
	_, c1 := h.makeReady(t, "s1", CreateOptions{})
	_, err := h.reg.Create(context.Background(), CreateOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.reg.Shutdown(ctx))

	assert.True(t, c1.Closed())
	assert.Empty(t, h.reg.All())
	_, err = h.reg.Create(context.Background(), CreateOptions{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, h.reg.Shutdown(ctx))
}

func TestSessionIndex_SurvivesRestart(t *testing.T) {
	h := newHarness(t)
	h.makeReady(t, "s1", CreateOptions{Tenant: "acme", Required: false})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.reg.Shutdown(ctx))

	restarted := h.newRegistry(t)
	n, err := restarted.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sess, ok := restarted.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "acme", sess.Tenant())
	assert.False(t, sess.Required())
}

func TestLifecycle_RecreateBudgetFallsBackToReplacement(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Timings.MaxRecreateAttempts = 2 })
	h.dialer.SetErr(errors.New("gateway unavailable"))

	_, _, err := h.reg.CreateWithID(context.Background(), "s1", CreateOptions{Tenant: "acme", Required: true})
	require.NoError(t, err)

	// The first attempt plus two recreations, then a new id takes the slot.
	var replacement string
	require.Eventually(t, func() bool {
		for _, d := range h.dialer.Dials() {
			if d.SessionID != "s1" {
				replacement = d.SessionID
				return true
			}
		}
		return false
	}, waitFor, tick)
	assert.Len(t, h.dialer.Conns("s1"), 0)
	dialsFor := func(id string) int {
		n := 0
		for _, d := range h.dialer.Dials() {
			if d.SessionID == id {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 3, dialsFor("s1"))
	assert.Never(t, func() bool { return dialsFor("s1") > 3 }, 80*time.Millisecond, tick)

	total, _ := h.reg.census()
	assert.Equal(t, 1, total)
	if sess, ok := h.reg.Get(replacement); ok {
		assert.Equal(t, "acme", sess.Tenant())
		assert.True(t, sess.Required())
	}
}

func TestLifecycle_RecreateBudgetDropsOptionalSession(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Timings.MaxRecreateAttempts = 2 })
	h.dialer.SetErr(errors.New("gateway unavailable"))

	_, _, err := h.reg.CreateWithID(context.Background(), "s1", CreateOptions{Tenant: "acme"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(h.dialer.Dials()) == 3 }, waitFor, tick)
	require.Eventually(t, func() bool {
		total, inFlight := h.reg.census()
		return total == 0 && inFlight == 0
	}, waitFor, tick)
	assert.Never(t, func() bool { return len(h.dialer.Dials()) > 3 }, 80*time.Millisecond, tick)
}

func TestLifecycle_RecreationHoldsCapacityDuringDelay(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Timings.ReconnectDelay = 200 * time.Millisecond })
	sess, conn := h.makeReady(t, "s1", CreateOptions{Required: true})

	conn.Emit(connection.Event{Type: connection.EventDisconnected, Reason: connection.ReasonConnectionLost})
	waitGone(t, h.reg, sess)

	_, ok := h.reg.Get("s1")
	assert.False(t, ok)
	total, inFlight := h.reg.census()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, inFlight)

	restorable, err := h.reg.restorable(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, restorable, "s1")

	h.conn(t, "s1", 2)
	total, _ = h.reg.census()
	assert.Equal(t, 1, total)
}
