package session_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/lewisedginton/group_tagger/internal/connection"
	"github.com/lewisedginton/group_tagger/internal/notify"
	"github.com/lewisedginton/group_tagger/pkg/logger"
)

// Reasons recorded when a session instance ends for a reason of its own.
const (
	ReasonAuthTimeout       = "AUTH_TIMEOUT"
	ReasonPairingExhausted  = "PAIRING_ATTEMPTS_EXHAUSTED"
	ReasonAuthRejected      = "AUTH_REJECTED"
	ReasonReadyValidation   = "READY_VALIDATION_FAILED"
	ReasonDialFailed        = "DIAL_FAILED"
	ReasonStorageFailed     = "STORAGE_UNAVAILABLE"
	ReasonRegistryShutdown  = "SHUTDOWN"
	ReasonEventStreamClosed = connection.ReasonConnectionLost
)

type recreateMode int

const (
	recreateNone recreateMode = iota
	// recreateSameID registers the same id again after the reconnect delay.
	recreateSameID
	// recreateReplacement creates a new id immediately if the session was required.
	recreateReplacement
)

// ending describes how a session instance finished.
type ending struct {
	state      State
	reason     string
	deleteBlob bool
	logout     bool
	event      notify.EventType
	recreate   recreateMode
}

// controller drives one session's connection. It is the single consumer of
// the connection's event channel and the only writer of the session's state.
type controller struct {
	reg  *Registry
	sess *Session
	t    Timings
	log  logger.Logger

	conn    connection.Conn
	hadBlob bool

	authC             <-chan time.Time
	authTimer         *time.Timer
	pairingAttempts   int
	keepAlive         *time.Ticker
	refresh           *time.Ticker
	keepAliveFailures int
	refreshing        atomic.Bool
	// reachedReady resets the recreation budget: only consecutive failures
	// to come back count against it.
	reachedReady bool
}

func newController(reg *Registry, sess *Session) *controller {
	return &controller{
		reg:  reg,
		sess: sess,
		t:    reg.timings,
		log:  reg.log.WithFields(logger.SessionIDField(sess.id)),
	}
}

func (c *controller) run(ctx context.Context) {
	defer c.reg.wg.Done()
	defer close(c.sess.done)

	end := c.lifecycle(ctx)
	c.finish(end)
}

func (c *controller) lifecycle(ctx context.Context) ending {
	blob, err := c.reg.auth.Load(ctx, c.sess.id)
	if err != nil {
		if ctx.Err() != nil {
			return c.cancelled()
		}
		c.log.Error("Cannot read stored credential", logger.ErrorField(err))
		return ending{state: StateDisconnected, reason: ReasonStorageFailed, recreate: recreateSameID}
	}
	c.hadBlob = len(blob) > 0

	dialCtx, cancel := context.WithTimeout(ctx, c.t.OperationTimeout)
	conn, err := c.reg.cfg.Dialer.Dial(dialCtx, c.sess.id, blob)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return c.cancelled()
		}
		c.log.Warn("Dial failed", logger.ErrorField(err))
		return ending{state: StateDisconnected, reason: ReasonDialFailed, recreate: recreateSameID}
	}
	c.conn = conn
	c.sess.setConn(conn)

	startCtx, cancel := context.WithTimeout(ctx, c.t.OperationTimeout)
	err = conn.Start(startCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return c.cancelled()
		}
		c.log.Warn("Connection start failed", logger.ErrorField(err))
		return ending{state: StateDisconnected, reason: ReasonDialFailed, recreate: recreateSameID}
	}

	c.authTimer = time.NewTimer(c.t.AuthTimeout)
	c.authC = c.authTimer.C
	defer c.stopTimers()

	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			return c.cancelled()

		case <-c.authC:
			return c.authTimedOut()

		case ev, ok := <-events:
			if !ok {
				return c.disconnected(ReasonEventStreamClosed)
			}
			if end, done := c.handle(ctx, ev); done {
				return end
			}

		case <-tickerC(c.keepAlive):
			if end, done := c.probe(ctx); done {
				return end
			}

		case <-tickerC(c.refresh):
			c.refreshGroups(ctx)
		}
	}
}

func (c *controller) handle(ctx context.Context, ev connection.Event) (ending, bool) {
	switch ev.Type {
	case connection.EventPairingCode:
		return c.pairingCode(ev.PairingCode)

	case connection.EventAuthenticated:
		c.authenticated(ctx, ev.AuthBlob)

	case connection.EventReady:
		return c.ready(ctx)

	case connection.EventDisconnected:
		return c.disconnected(ev.Reason), true

	case connection.EventAuthFailure:
		c.log.Warn("Stored credential rejected", logger.StringField("reason", ev.Reason))
		return ending{
			state:      StateAuthFailed,
			reason:     ReasonAuthRejected,
			deleteBlob: true,
			event:      notify.EventSessionAuthFailed,
			recreate:   recreateReplacement,
		}, true

	case connection.EventMessage:
		if ev.Message != nil {
			c.dispatch(ctx, *ev.Message)
		}

	default:
		c.log.Debug("Ignoring connection event", logger.StringField("event", string(ev.Type)))
	}
	return ending{}, false
}

func (c *controller) pairingCode(code string) (ending, bool) {
	state := c.sess.State()
	if state != StateInitializing && state != StatePairingPending {
		c.log.Debug("Pairing code outside pairing", logger.StringField("state", string(state)))
		return ending{}, false
	}

	c.pairingAttempts++
	if c.pairingAttempts > c.t.MaxPairingAttempts {
		c.log.Warn("Pairing attempts exhausted", logger.IntField("attempts", c.pairingAttempts-1))
		return ending{
			state:    StateAuthFailed,
			reason:   ReasonPairingExhausted,
			event:    notify.EventSessionAuthFailed,
			recreate: recreateReplacement,
		}, true
	}

	c.transition(StatePairingPending)
	c.reg.publish(c.sess, notify.Event{Type: notify.EventPairingCode, PairingCode: code})
	c.log.Info("Pairing code issued", logger.IntField("attempt", c.pairingAttempts))
	return ending{}, false
}

func (c *controller) authenticated(ctx context.Context, blob []byte) {
	c.stopAuthTimer()
	c.pairingAttempts = 0
	if state := c.sess.State(); state.InFlight() {
		c.transition(StateAuthenticated)
	}
	if len(blob) == 0 {
		return
	}

	saveCtx, cancel := context.WithTimeout(ctx, c.t.OperationTimeout)
	defer cancel()
	if err := c.reg.auth.Save(saveCtx, c.sess.id, blob); err != nil {
		// Transient: the session works, only a restart would need to re-pair.
		c.log.Error("Failed to persist credential", logger.ErrorField(err))
		return
	}
	c.hadBlob = true
}

func (c *controller) ready(ctx context.Context) (ending, bool) {
	switch c.sess.State() {
	case StateReady:
		return ending{}, false
	case StateInitializing, StatePairingPending:
		// Resumed sessions can report readiness without a separate
		// authenticated event.
		c.authenticated(ctx, nil)
	}

	if !c.validateReady(ctx) {
		if ctx.Err() != nil {
			return c.cancelled(), true
		}
		c.log.Warn("Readiness could not be confirmed", logger.IntField("polls", c.t.ReadyPolls))
		return ending{state: StateDisconnected, reason: ReasonReadyValidation, recreate: recreateSameID}, true
	}

	c.transition(StateReady)
	c.reachedReady = true
	account := c.conn.SelfID()
	c.sess.setAccount(account)
	c.keepAliveFailures = 0
	c.keepAlive = time.NewTicker(c.t.KeepAliveInterval)
	c.refresh = time.NewTicker(c.t.CacheRefreshInterval)
	c.refreshGroups(ctx)

	c.reg.publish(c.sess, notify.Event{Type: notify.EventSessionReady, AccountID: account})
	c.log.Info("Session ready", logger.StringField("account", account))
	return ending{}, false
}

// validateReady polls the connection state until it reports connected.
func (c *controller) validateReady(ctx context.Context) bool {
	for attempt := 1; attempt <= c.t.ReadyPolls; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(c.t.ReadyBackoff):
			case <-ctx.Done():
				return false
			}
		}
		if c.connected(ctx) {
			return true
		}
		c.log.Debug("Readiness poll failed", logger.IntField("attempt", attempt))
	}
	return false
}

func (c *controller) connected(ctx context.Context) bool {
	stateCtx, cancel := context.WithTimeout(ctx, c.t.OperationTimeout)
	defer cancel()
	state, err := c.conn.State(stateCtx)
	return err == nil && state == connection.StateConnected
}

// probe is the keep-alive check. Single failures are tolerated.
func (c *controller) probe(ctx context.Context) (ending, bool) {
	if c.connected(ctx) {
		c.keepAliveFailures = 0
		c.sess.touch(c.reg.now())
		return ending{}, false
	}
	if ctx.Err() != nil {
		return c.cancelled(), true
	}

	c.keepAliveFailures++
	c.log.Warn("Keep-alive probe failed", logger.IntField("consecutive_failures", c.keepAliveFailures))
	if c.keepAliveFailures >= c.t.KeepAliveFailures {
		return c.disconnected(connection.ReasonKeepAliveFailed), true
	}
	return ending{}, false
}

// refreshGroups rebuilds the admin group cache off the event loop. At most one
// refresh per session runs at a time.
func (c *controller) refreshGroups(ctx context.Context) {
	if !c.refreshing.CompareAndSwap(false, true) {
		return
	}
	conn := c.conn
	go func() {
		defer c.refreshing.Store(false)
		if _, err := c.reg.cfg.Cache.Refresh(ctx, c.sess.id, conn); err != nil && ctx.Err() == nil {
			c.log.Warn("Group cache refresh failed", logger.ErrorField(err))
		}
	}()
}

func (c *controller) dispatch(ctx context.Context, msg connection.Message) {
	c.sess.touch(c.reg.now())
	handler := c.reg.messageHandler()
	if handler == nil {
		return
	}
	// A dispatched command runs to completion even if the session ends.
	handlerCtx := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("Message handler panicked",
					logger.StringField("panic", fmt.Sprint(r)),
					logger.StringField("stack", string(debug.Stack())))
			}
		}()
		handler.HandleMessage(handlerCtx, c.sess, msg)
	}()
}

func (c *controller) authTimedOut() ending {
	c.log.Warn("Authentication timed out", logger.DurationField("timeout", c.t.AuthTimeout))
	end := ending{
		state:    StateAuthFailed,
		reason:   ReasonAuthTimeout,
		event:    notify.EventSessionAuthFailed,
		recreate: recreateReplacement,
	}
	if c.hadBlob {
		// The credential was not rejected, the network was slow: resume it later.
		end.recreate = recreateSameID
	}
	return end
}

func (c *controller) disconnected(reason string) ending {
	if reason == "" {
		reason = connection.ReasonConnectionLost
	}
	end := ending{
		state:      StateDisconnected,
		reason:     reason,
		deleteBlob: reason == connection.ReasonLogout,
		event:      notify.EventSessionDisconnected,
		recreate:   recreateSameID,
	}
	if connection.IsDeliberate(reason) {
		end.recreate = recreateNone
	}
	return end
}

func (c *controller) cancelled() ending {
	if c.sess.terminating.Load() {
		return ending{
			state:      StateDisconnected,
			reason:     connection.ReasonLogout,
			deleteBlob: true,
			logout:     true,
			event:      notify.EventSessionDisconnected,
		}
	}
	return ending{state: StateDisconnected, reason: ReasonRegistryShutdown}
}

// finish tears the instance down and applies the recovery policy.
func (c *controller) finish(end ending) {
	c.stopTimers()
	c.reg.cfg.Cache.Drop(c.sess.id)

	cleanupCtx, cancel := context.WithTimeout(context.Background(), c.t.OperationTimeout)
	defer cancel()

	if c.conn != nil {
		if end.logout {
			if err := c.conn.Logout(cleanupCtx); err != nil {
				c.log.Warn("Logout failed", logger.ErrorField(err))
			}
		}
		if err := c.conn.Close(); err != nil {
			c.log.Debug("Close failed", logger.ErrorField(err))
		}
	}

	mode, retries := c.recoveryPlan(end)
	var hold string
	switch mode {
	case recreateSameID:
		hold = c.sess.id
	case recreateReplacement:
		hold = replacementHold(c.sess.id)
	}

	// Leave the registry before the terminal state is visible so the slot
	// never reads as registered but idle.
	c.reg.retire(c.sess, hold)
	c.transition(end.state)
	c.sess.setError(end.reason)
	c.sess.cancel()

	if end.deleteBlob {
		if err := c.reg.auth.Delete(cleanupCtx, c.sess.id); err != nil {
			c.log.Error("Failed to delete credential", logger.ErrorField(err))
		}
		c.reg.index.remove(cleanupCtx, c.sess.id)
	}
	if end.event != "" {
		c.reg.publish(c.sess, notify.Event{Type: end.event, Reason: end.reason})
	}

	c.log.Info("Session ended",
		logger.StringField("state", string(end.state)),
		logger.StringField("reason", end.reason))

	switch mode {
	case recreateSameID:
		c.reg.cfg.Metrics.ObserveRecovery(end.reason)
		c.log.Info("Recreation scheduled",
			logger.DurationField("delay", c.t.ReconnectDelay),
			logger.IntField("attempt", retries))
		c.reg.scheduleRecreate(c.sess.id,
			CreateOptions{Tenant: c.sess.tenant, Required: c.sess.required},
			retries, c.t.ReconnectDelay)
	case recreateReplacement:
		c.reg.cfg.Metrics.ObserveRecovery(end.reason)
		c.reg.replace(c.sess)
	}
}

// recoveryPlan settles how the session comes back. Same-id recreation is
// bounded by MaxRecreateAttempts; past it a required session is replaced
// under a new id and any other session is dropped with its credential kept.
func (c *controller) recoveryPlan(end ending) (recreateMode, int) {
	retries := c.sess.retries + 1
	if c.reachedReady {
		retries = 1
	}
	mode := end.recreate
	if mode == recreateSameID && retries > c.t.MaxRecreateAttempts {
		c.log.Warn("Recreation attempts exhausted",
			logger.IntField("attempts", c.t.MaxRecreateAttempts),
			logger.BoolField("required", c.sess.required))
		mode = recreateReplacement
	}
	if mode == recreateReplacement && !c.sess.required {
		mode = recreateNone
	}
	return mode, retries
}

func (c *controller) transition(to State) {
	from := c.sess.setState(to, c.reg.now())
	if from == to {
		return
	}
	c.reg.cfg.Metrics.ObserveTransition(string(from), string(to))
	c.reg.updateGauge()
	c.log.Debug("Session state changed",
		logger.StringField("from", string(from)),
		logger.StringField("to", string(to)))
}

func (c *controller) stopAuthTimer() {
	if c.authTimer != nil {
		c.authTimer.Stop()
	}
	c.authC = nil
}

func (c *controller) stopTimers() {
	c.stopAuthTimer()
	if c.keepAlive != nil {
		c.keepAlive.Stop()
		c.keepAlive = nil
	}
	if c.refresh != nil {
		c.refresh.Stop()
		c.refresh = nil
	}
}

// tickerC returns t's channel, or nil (blocks forever in select) when t is nil.
func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
