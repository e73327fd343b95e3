package commands

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/group_tagger/internal/connection"
	"github.com/lewisedginton/group_tagger/internal/connection/connectiontest"
	"github.com/lewisedginton/group_tagger/internal/groupcache"
	"github.com/lewisedginton/group_tagger/internal/session_manager"
	"github.com/lewisedginton/group_tagger/internal/storage_manager"
	"github.com/lewisedginton/group_tagger/internal/tagger"
	"github.com/lewisedginton/group_tagger/pkg/logger"
	"github.com/lewisedginton/group_tagger/pkg/metrics"
)

const (
	self     = "447700900001@c.us"
	alice    = "447700900002@c.us"
	bob      = "447700900003@c.us"
	carol    = "447700900004@c.us"
	stranger = "15550001111@c.us"
	owner    = "447700900999@c.us"
	opsChat  = "ops@g.us"
)

func admin(id string) connection.Participant { return connection.Participant{ID: id, IsAdmin: true} }
func member(id string) connection.Participant { return connection.Participant{ID: id} }

type fixture struct {
	reg      *session_manager.Registry
	dialer   *connectiontest.Dialer
	cache    *groupcache.Cache
	storage  *storage_manager.StorageManager
	metrics  *metrics.Metrics
	router   *Router
	sess     *session_manager.Session
	conn     *connectiontest.Conn
	cfg      Config
	waitDone time.Duration
}

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()
	log := logger.NewNop()
	f := &fixture{
		dialer:   connectiontest.NewDialer(self),
		cache:    groupcache.New(groupcache.Config{FetchTimeout: 200 * time.Millisecond}),
		storage:  storage_manager.NewWithProvider(storage_manager.NewLocalFileProvider(t.TempDir())),
		metrics:  metrics.NewMetrics(false, true, log),
		waitDone: 2 * time.Second,
	}
	f.dialer.NewConn = func(string, []byte) *connectiontest.Conn {
		conn := connectiontest.NewConn(self)
		conn.AddGroup("g1@g.us", "Family", admin(self), member(alice), member(bob))
		conn.AddGroup("g2@g.us", "Work", admin(self), member(carol))
		conn.AddGroup("g3@g.us", "Neighbours", member(self), admin(alice))
		return conn
	}

	reg, err := session_manager.NewRegistry(context.Background(), session_manager.Config{
		Dialer:  f.dialer,
		Cache:   f.cache,
		Storage: f.storage,
		Logger:  log,
		Timings: session_manager.Timings{ReadyBackoff: time.Millisecond},
	})
	require.NoError(t, err)
	f.reg = reg
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, reg.Shutdown(ctx))
	})

	f.cfg = Config{
		Owner:            "+44 7700 900999",
		AutoSaveContacts: true,
		Sessions:         reg,
		Cache:            f.cache,
		Tagger:           tagger.New(f.cache, log, f.metrics),
		Principals:       NewPrincipalStore(f.storage.GetProvider(storage_manager.NamespacePrincipals)),
		Contacts:         NewContactBook(f.storage.GetProvider(storage_manager.NamespaceContacts)),
		Logger:           log,
		Metrics:          f.metrics,
	}
	for _, opt := range opts {
		opt(&f.cfg)
	}
	f.router, err = New(f.cfg)
	require.NoError(t, err)

	f.sess, f.conn = f.readySession(t, "origin")
	return f
}

// readySession creates a session, drives it to READY and waits for its group
// cache.
func (f *fixture) readySession(t *testing.T, id string) (*session_manager.Session, *connectiontest.Conn) {
	t.Helper()
	sess, _, err := f.reg.CreateWithID(context.Background(), id, session_manager.CreateOptions{Tenant: "acme"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		conn := f.dialer.Latest(id)
		return conn != nil && conn.Started()
	}, f.waitDone, time.Millisecond)
	conn := f.dialer.Latest(id)
	conn.Emit(connection.Event{Type: connection.EventReady})
	require.Eventually(t, func() bool {
		_, cached := f.cache.Current(id)
		return sess.State() == session_manager.StateReady && cached
	}, f.waitDone, time.Millisecond)
	return sess, conn
}

// send handles one message in the ops chat and returns the reply, if any.
func (f *fixture) send(from, body string) string {
	return f.deliver(connection.Message{ChatID: opsChat, From: from, Body: body, IsGroup: true})
}

func (f *fixture) deliver(msg connection.Message) string {
	before := len(f.conn.Replies(msg.ChatID))
	f.router.Handle(context.Background(), f.sess, msg)
	replies := f.conn.Replies(msg.ChatID)
	if len(replies) == before {
		return ""
	}
	return replies[len(replies)-1]
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sessions are required")
}

func TestHandle_IgnoresTextWithoutPrefix(t *testing.T) {
	f := newFixture(t)
	assert.Empty(t, f.send(self, "hello there"))
	assert.Empty(t, f.send(stranger, "ping"))
	assert.Empty(t, f.conn.SentMessages())
}

func TestHandle_RefusesUnauthorizedSenderForEveryCommand(t *testing.T) {
	f := newFixture(t)
	bodies := []string{"!ping", "!help", "!list", "!tagall 1 hi", "!tagallexcept 1 +447700900002 hi",
		"!refreshgroups", "!savecontact +447700900002", "!contacts", "!sudo stats", "!sudo clearsessions",
		"!newsession", "!shutdown", "!setsudo +15550001111", "!delsudo +447700900002", "!sudolist",
		"!status", "!frobnicate", "!", "!TAGALL 1"}

	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			before := len(f.conn.SentMessages())
			assert.Equal(t, ReplyUnauthorized, f.send(stranger, body))
			assert.Len(t, f.conn.SentMessages(), before+1, "refusal must be the only outbound message")
		})
	}
	assert.Len(t, f.reg.All(), 1)
	admins, err := f.cfg.Principals.List(context.Background(), "origin")
	require.NoError(t, err)
	assert.Empty(t, admins)
	assert.Equal(t, float64(len(bodies)), testutil.ToFloat64(f.metrics.CommandsHandled.WithLabelValues(unknownCommand, metrics.OutcomeDenied)))
}

func TestHandle_AuthorizedSenders(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "pong 🏓", f.send(self, "!ping"), "account itself")
	assert.Equal(t, "pong 🏓", f.deliver(connection.Message{ChatID: opsChat, FromMe: true, Body: "!ping"}), "own outgoing message")
	assert.Equal(t, "pong 🏓", f.send("447700900001:7@s.whatsapp.net", "!ping"), "linked device of the account")
	assert.Equal(t, "pong 🏓", f.send(owner, "!ping"), "primary owner")

	assert.Equal(t, ReplyUnauthorized, f.send(alice, "!ping"))
	assert.Contains(t, f.send(owner, "!setsudo +447700900002"), "+447700900002 can now use this bot.")
	assert.Equal(t, "pong 🏓", f.send(alice, "!ping"), "secondary admin")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CommandsHandled.WithLabelValues("setsudo", metrics.OutcomeOK)))
}

func TestHandle_AuthorizationNeedsTheWholeNumber(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "Usage: !setsudo <phone number>", f.send(self, "!setsudo +44"))
	assert.Equal(t, "Usage: !setsudo <phone number>", f.send(self, "!setsudo +44 Alice"))
	admins, err := f.cfg.Principals.List(context.Background(), "origin")
	require.NoError(t, err)
	assert.Empty(t, admins)

	assert.Equal(t, "+447700900002 can now use this bot.", f.send(self, "!setsudo +44 7700 900002"))
	admins, err = f.cfg.Principals.List(context.Background(), "origin")
	require.NoError(t, err)
	assert.Equal(t, []string{alice}, admins)

	assert.Equal(t, "pong 🏓", f.send(alice, "!ping"))
	for _, sender := range []string{"7700900002@c.us", "900002@c.us", "12447700900002@c.us", "44@c.us", bob} {
		assert.Equal(t, ReplyUnauthorized, f.send(sender, "!ping"), sender)
	}
	for _, sender := range []string{"7700900999@c.us", "999@c.us", "7700900001@c.us"} {
		assert.Equal(t, ReplyUnauthorized, f.send(sender, "!ping"), sender)
	}

	assert.Equal(t, "Usage: !delsudo <phone number>", f.send(self, "!delsudo +44"))
	assert.Equal(t, "+7700900002 is not an admin.", f.send(self, "!delsudo 7700900002"))
	assert.Equal(t, "+447700900002 can no longer use this bot.", f.send(self, "!delsudo +44 7700 900002"))
	assert.Equal(t, ReplyUnauthorized, f.send(alice, "!ping"))
}

func TestHandle_CommandNamesAreCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "pong 🏓", f.send(self, "!PING"))
	assert.Equal(t, "pong 🏓", f.send(self, "  !Ping  "))
}

func TestHandle_UnknownAndEmptyCommands(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "Unknown command: frobnicate. Send !help to see what I can do.", f.send(self, "!frobnicate now"))
	assert.Equal(t, "No command given. Send !help to see what I can do.", f.send(self, "!"))
	assert.Equal(t, "No command given. Send !help to see what I can do.", f.send(self, "!   "))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.CommandsHandled.WithLabelValues(unknownCommand, metrics.OutcomeUnknown)))
}

func TestHandle_CustomPrefix(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Prefix = "." })
	assert.Empty(t, f.send(self, "!ping"))
	assert.Equal(t, "pong 🏓", f.send(self, ".ping"))
	assert.Contains(t, f.send(self, ".nope"), "Send .help")
}

func TestHandle_HandlerFailuresAreContained(t *testing.T) {
	f := newFixture(t)
	f.router.register(command{name: "boom", handler: func(context.Context, *Request) (string, error) {
		panic("exploded")
	}})
	f.router.register(command{name: "fail", handler: func(context.Context, *Request) (string, error) {
		return "", errors.New("backend down")
	}})

	assert.Equal(t, ReplyFailed, f.send(self, "!boom"))
	assert.Equal(t, ReplyFailed, f.send(self, "!fail"))
	assert.Equal(t, "pong 🏓", f.send(self, "!ping"))
	assert.Equal(t, session_manager.StateReady, f.sess.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CommandsHandled.WithLabelValues("boom", metrics.OutcomeFailed)))
}

func TestHandle_HelpHidesOwnerCommandsFromAdmins(t *testing.T) {
	f := newFixture(t)
	help := f.send(self, "!help")
	assert.True(t, strings.HasPrefix(help, "Available commands:"))
	for _, name := range []string{"ping", "list", "tagall", "tagallexcept", "refreshgroups", "sudo", "shutdown", "setsudo"} {
		assert.Contains(t, help, "!"+name)
	}

	f.send(self, "!setsudo 447700900002")
	adminHelp := f.send(alice, "!help")
	assert.NotContains(t, adminHelp, "!shutdown")
	assert.Contains(t, adminHelp, "!tagall")
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	status := f.send(self, "!status")
	assert.Contains(t, status, "Session: origin")
	assert.Contains(t, status, "State: READY")
	assert.Contains(t, status, "Account: "+self)
	assert.Contains(t, status, "Admin groups: 2")
	assert.Contains(t, status, "Sessions running: 1")
}

func TestList(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "Your admin groups (2):\n1. Family (3 members)\n2. Work (2 members)\n\n"+
		"Use !tagall <number> <message> to tag a group.", f.send(self, "!list"))

	// An absent entry is refreshed before listing.
	f.cache.Drop("origin")
	assert.Contains(t, f.send(self, "!list"), "1. Family")
}

func TestList_AfterRefreshGroups(t *testing.T) {
	f := newFixture(t)
	f.conn.AddGroup("g4@g.us", "Book club", admin(self), member(alice))
	f.conn.SetRoster("g1@g.us", member(self), admin(alice))

	// The cache still serves the previous generation.
	assert.Contains(t, f.send(self, "!list"), "1. Family")

	refreshed := f.send(self, "!refreshgroups")
	assert.True(t, strings.HasPrefix(refreshed, "Group list refreshed."))
	assert.Contains(t, refreshed, "1. Work")
	assert.Contains(t, refreshed, "2. Book club")
	assert.NotContains(t, refreshed, "Family")

	assert.Contains(t, f.send(self, "!list"), "1. Work (2 members)\n2. Book club (2 members)")
}

func TestList_NoAdminGroups(t *testing.T) {
	f := newFixture(t)
	f.conn.SetRoster("g1@g.us", member(self))
	f.conn.SetRoster("g2@g.us", member(self))
	assert.Equal(t, "Group list refreshed.\nYou are not an admin of any group. Run !refreshgroups after being promoted.",
		f.send(self, "!refreshgroups"))
}

func TestList_RefreshFailure(t *testing.T) {
	f := newFixture(t)
	f.cache.Drop("origin")
	f.conn.FailChats(errors.New("gateway timeout"))
	assert.Equal(t, ReplyFailed, f.send(self, "!list"))
}

func TestTagAll(t *testing.T) {
	f := newFixture(t)
	reply := f.send(self, "!tagall 1 2 Dinner at 8\nBring snacks")

	assert.Equal(t, "Tagging finished: 2 succeeded, 0 not tagged.\n✅ 1. Family: 3 tagged\n✅ 2. Work: 2 tagged", reply)
	family := f.conn.Replies("g1@g.us")
	require.Len(t, family, 1)
	assert.Equal(t, "Dinner at 8\nBring snacks\n\n@447700900001 @447700900002 @447700900003", family[0])
	assert.Len(t, f.conn.Replies("g2@g.us"), 1)
}

func TestTagAll_InvalidAndMissingIndices(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "Usage: !tagall <group number...> <message>", f.send(self, "!tagall hello"))
	assert.Equal(t, "Usage: !tagall <group number...> <message>", f.send(self, "!tagall"))

	reply := f.send(self, "!tagall 9 1 hi")
	assert.Contains(t, reply, "❌ 9: no such group, run !list")
	assert.Contains(t, reply, "✅ 1. Family: 3 tagged")
}

func TestTagAll_StaleAdminStatus(t *testing.T) {
	f := newFixture(t)
	f.conn.SetRoster("g1@g.us", member(self), admin(alice))

	reply := f.send(self, "!tagall 1 2 hi")
	assert.Contains(t, reply, "❌ 1. Family: no longer admin, run !refreshgroups")
	assert.Contains(t, reply, "✅ 2. Work: 2 tagged")
	assert.Empty(t, f.conn.Replies("g1@g.us"))
}

func TestTagAllExcept(t *testing.T) {
	f := newFixture(t)
	reply := f.send(self, "!tagallexcept 1 +447700900002 Meeting at 10")

	assert.Equal(t, "Tagging finished: 1 succeeded, 0 not tagged.\n✅ 1. Family: 1 tagged\nExcluded participants: 1", reply)
	var family connectiontest.Sent
	for _, s := range f.conn.SentMessages() {
		if s.ChatID == "g1@g.us" {
			family = s
		}
	}
	assert.Equal(t, []string{bob}, family.Mentions, "self and the excluded number are skipped")
	assert.Equal(t, "Meeting at 10\n\n@447700900003", family.Text)
}

func TestTagAllExcept_ShortTokensAreMessageText(t *testing.T) {
	f := newFixture(t)
	reply := f.send(self, "!tagallexcept 1 +3 for dinner")

	assert.Contains(t, reply, "✅ 1. Family: 2 tagged")
	var family connectiontest.Sent
	for _, s := range f.conn.SentMessages() {
		if s.ChatID == "g1@g.us" {
			family = s
		}
	}
	assert.Equal(t, []string{alice, bob}, family.Mentions)
	assert.Equal(t, "+3 for dinner\n\n@447700900002 @447700900003", family.Text)
}

func TestTagAllExcept_SpacedNumber(t *testing.T) {
	f := newFixture(t)
	reply := f.send(self, "!tagallexcept 1 +44 7700 900002 Meeting")

	assert.Contains(t, reply, "✅ 1. Family: 1 tagged")
	assert.Contains(t, reply, "Excluded participants: 1")
	assert.Equal(t, []string{"Meeting\n\n@447700900003"}, f.conn.Replies("g1@g.us"))
}

func TestTagAllExcept_EveryoneExcluded(t *testing.T) {
	f := newFixture(t)
	reply := f.send(self, "!tagallexcept 1 2 +447700900002 447700900003 447700900004@c.us Standup")

	assert.Equal(t, "Tagging finished: 0 succeeded, 2 not tagged.\n"+
		"➖ 1. Family: nobody left to tag\n"+
		"➖ 2. Work: nobody left to tag\n"+
		"Excluded participants: 3", reply)
	assert.Empty(t, f.conn.Replies("g1@g.us"))
	assert.Empty(t, f.conn.Replies("g2@g.us"))
}

func TestSaveContactAndContacts(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "No contacts saved yet.", f.send(self, "!contacts"))
	assert.Equal(t, "Usage: !savecontact <phone number> [name]", f.send(self, "!savecontact"))
	assert.Equal(t, "Usage: !savecontact <phone number> [name]", f.send(self, "!savecontact 12"))
	assert.Equal(t, "Usage: !savecontact <phone number> [name]", f.send(self, "!savecontact +44 Alice"))

	assert.Equal(t, "Saved +447700900002 as Alice Smith.", f.send(self, "!savecontact +447700900002 Alice Smith"))
	assert.Equal(t, "+447700900002 is already saved.", f.send(self, "!savecontact 447700900002@c.us"))
	assert.Equal(t, "Saved +447700900003 as +447700900003.", f.send(self, "!savecontact 447700900003"))

	assert.Equal(t, map[string]string{alice: "Alice Smith", bob: "+447700900003"}, f.conn.Contacts())
	assert.Equal(t, "Saved contacts (2):\n1. Alice Smith (+447700900002)\n2. +447700900003 (+447700900003)",
		f.send(self, "!contacts"))
}

func TestAutoSaveContacts(t *testing.T) {
	t.Run("private senders are saved once", func(t *testing.T) {
		f := newFixture(t)
		f.router.Handle(context.Background(), f.sess, connection.Message{ChatID: stranger, From: stranger, Body: "hi"})
		f.router.Handle(context.Background(), f.sess, connection.Message{ChatID: stranger, From: stranger, Body: "hello again"})
		f.router.Handle(context.Background(), f.sess, connection.Message{ChatID: opsChat, From: carol, Body: "group chatter", IsGroup: true})

		assert.Equal(t, map[string]string{stranger: "+15550001111"}, f.conn.Contacts())
		contacts, err := f.cfg.Contacts.List(context.Background(), "origin")
		require.NoError(t, err)
		require.Len(t, contacts, 1)
		assert.Equal(t, stranger, contacts[0].ID)
		assert.Empty(t, f.conn.SentMessages())
	})

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.AutoSaveContacts = false })
		f.router.Handle(context.Background(), f.sess, connection.Message{ChatID: stranger, From: stranger, Body: "hi"})
		assert.Empty(t, f.conn.Contacts())
	})
}

func TestSudo(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "Usage: !sudo stats|list|clearsessions|broadcast <text>", f.send(self, "!sudo"))
	assert.Equal(t, "Usage: !sudo stats|list|clearsessions|broadcast <text>", f.send(self, "!sudo reboot"))

	f.readySession(t, "second")
	_, err := f.reg.Create(context.Background(), session_manager.CreateOptions{Tenant: "acme"})
	require.NoError(t, err)

	stats := f.send(self, "!sudo stats")
	assert.Contains(t, stats, "Sessions: 3")
	assert.Contains(t, stats, "READY: 2")
	assert.Contains(t, stats, "INITIALIZING: 1")
	assert.Contains(t, stats, "Admin groups here: 2")

	list := f.send(self, "!sudo list")
	assert.Contains(t, list, "Sessions (3):")
	assert.Contains(t, list, "origin [READY] +447700900001 (this session)")
	assert.Contains(t, list, "second [READY]")
}

func TestSudoClearSessions(t *testing.T) {
	f := newFixture(t)
	_, second := f.readySession(t, "second")
	_, err := f.reg.Create(context.Background(), session_manager.CreateOptions{})
	require.NoError(t, err)

	f.send(self, "!setsudo +447700900002")
	assert.Equal(t, ReplyOwnerOnly, f.send(alice, "!sudo clearsessions"))
	assert.Len(t, f.reg.All(), 3)

	assert.Equal(t, "Cleared 2 other sessions.", f.send(owner, "!sudo clearsessions"))
	all := f.reg.All()
	require.Len(t, all, 1)
	assert.Equal(t, "origin", all[0].ID())
	assert.True(t, second.LoggedOut())
	assert.Equal(t, session_manager.StateReady, f.sess.State())
}

func TestSudoBroadcast(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "Usage: !sudo stats|list|clearsessions|broadcast <text>", f.send(self, "!sudo broadcast"))

	assert.Equal(t, "Broadcast sent to 2 of 2 groups.", f.send(self, "!sudo broadcast Office closed\ntomorrow"))
	assert.Equal(t, []string{"Office closed\ntomorrow"}, f.conn.Replies("g1@g.us"))
	assert.Equal(t, []string{"Office closed\ntomorrow"}, f.conn.Replies("g2@g.us"))
	assert.Empty(t, f.conn.Replies("g3@g.us"), "only administered groups receive broadcasts")
}

func TestNewSession(t *testing.T) {
	f := newFixture(t)
	reply := f.send(alice, "!newsession")
	assert.Equal(t, ReplyUnauthorized, reply)

	reply = f.send(self, "!newsession")
	assert.Regexp(t, `^Started session session-[0-9A-Z]{26}\. Its pairing code will be delivered to your dashboard\.$`, reply)

	all := f.reg.All()
	require.Len(t, all, 2)
	created := all[1]
	assert.Equal(t, "acme", created.Tenant())
	assert.False(t, created.Required())
}

func TestShutdown(t *testing.T) {
	f := newFixture(t)
	f.send(self, "!setsudo +447700900002")
	assert.Equal(t, ReplyOwnerOnly, f.send(alice, "!shutdown"))
	_, ok := f.reg.Get("origin")
	require.True(t, ok)

	assert.Equal(t, "Shutting down session origin. Goodbye 👋", f.send(owner, "!shutdown"))
	_, ok = f.reg.Get("origin")
	assert.False(t, ok)
	assert.True(t, f.conn.LoggedOut())
	assert.True(t, f.conn.Closed())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CommandsHandled.WithLabelValues("shutdown", metrics.OutcomeOK)))
}

func TestSetSudoDelSudoSudoList(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "Account: +447700900001\nOwner: +447700900999\nNo other admins.", f.send(self, "!sudolist"))
	assert.Equal(t, "Usage: !setsudo <phone number>", f.send(self, "!setsudo"))
	assert.Equal(t, "Usage: !delsudo <phone number>", f.send(self, "!delsudo abc"))

	assert.Equal(t, "+447700900002 can now use this bot.", f.send(self, "!setsudo +447700900002"))
	assert.Equal(t, "+447700900002 is already an admin.", f.send(self, "!setsudo 447700900002@c.us"))
	assert.Equal(t, "+447700900003 can now use this bot.", f.send(owner, "!setsudo 447700900003"))

	// Secondary admins use commands but cannot manage admins.
	assert.Equal(t, ReplyOwnerOnly, f.send(alice, "!setsudo +15550001111"))
	assert.Equal(t, ReplyOwnerOnly, f.send(alice, "!delsudo +447700900003"))
	assert.Equal(t, "Account: +447700900001\nOwner: +447700900999\nAdmins (2):\n1. +447700900002\n2. +447700900003",
		f.send(alice, "!sudolist"))

	assert.Equal(t, "+447700900002 can no longer use this bot.", f.send(self, "!delsudo +447700900002"))
	assert.Equal(t, "+447700900002 is not an admin.", f.send(self, "!delsudo +447700900002"))
	assert.Equal(t, ReplyUnauthorized, f.send(alice, "!ping"))

	// Admins persist in storage.
	reloaded := NewPrincipalStore(f.storage.GetProvider(storage_manager.NamespacePrincipals))
	admins, err := reloaded.List(context.Background(), "origin")
	require.NoError(t, err)
	assert.Equal(t, []string{bob}, admins)
}

func TestHandle_RequiresLiveConnection(t *testing.T) {
	f := newFixture(t)
	router, err := New(f.cfg)
	require.NoError(t, err)
	router.Handle(context.Background(), detachedSession{}, connection.Message{ChatID: opsChat, From: self, Body: "!ping"})
	assert.Empty(t, f.conn.SentMessages())
}

type detachedSession struct{}

func (detachedSession) ID() string { return "detached" }
func (detachedSession) Tenant() string { return "" }
func (detachedSession) State() session_manager.State { return session_manager.StateInitializing }
func (detachedSession) Account() string { return "" }
func (detachedSession) Conn() connection.Conn { return nil }
