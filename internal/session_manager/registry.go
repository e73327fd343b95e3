package session_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lewisedginton/group_tagger/internal/connection"
	"github.com/lewisedginton/group_tagger/internal/groupcache"
	"github.com/lewisedginton/group_tagger/internal/notify"
	"github.com/lewisedginton/group_tagger/internal/storage_manager"
	"github.com/lewisedginton/group_tagger/pkg/logger"
	"github.com/lewisedginton/group_tagger/pkg/metrics"
	"github.com/lewisedginton/group_tagger/pkg/prefixed_id"
)

// SessionIDPrefix prefixes every generated session id.
const SessionIDPrefix = "session"

// Config holds the registry's collaborators.
type Config struct {
	Dialer    connection.Dialer
	Cache     *groupcache.Cache
	Storage   *storage_manager.StorageManager
	Events    notify.Sink
	Handler   MessageHandler
	Logger    logger.Logger
	Metrics   *metrics.Metrics
	Timings   Timings
	Bootstrap BootstrapConfig
	Now       func() time.Time
}

// Registry is the process-wide table of sessions. It is the only owner of the
// id to Session mapping.
type Registry struct {
	cfg     Config
	timings Timings
	auth    *AuthStore
	index   *sessionIndex
	log     logger.Logger
	now     func() time.Time

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*Session
	// holds are capacity reserved for sessions that will come back: an id
	// waiting out its reconnect delay, or a replacement about to be created.
	holds   map[string]struct{}
	handler MessageHandler
	closed  bool
}

// NewRegistry validates cfg and loads the persisted session index.
func NewRegistry(ctx context.Context, cfg Config) (*Registry, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("group cache is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage manager is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Events == nil {
		cfg.Events = notify.NewMulti(cfg.Logger)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	index := newSessionIndex(cfg.Storage.GetProvider(storage_manager.NamespaceSessions), cfg.Logger)
	if err := index.load(ctx); err != nil {
		return nil, err
	}

	baseCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	return &Registry{
		cfg:      cfg,
		timings:  cfg.Timings.withDefaults(),
		auth:     NewAuthStore(cfg.Storage.GetProvider(storage_manager.NamespaceAuth)),
		index:    index,
		log:      cfg.Logger,
		now:      cfg.Now,
		baseCtx:  baseCtx,
		stop:     stop,
		sessions: make(map[string]*Session),
		holds:    make(map[string]struct{}),
		handler:  cfg.Handler,
	}, nil
}

// SetHandler installs the inbound message handler. The command router needs
// the registry to exist first, so it is wired after construction.
func (r *Registry) SetHandler(h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

func (r *Registry) messageHandler() MessageHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handler
}

// Auth exposes the credential store.
func (r *Registry) Auth() *AuthStore { return r.auth }

// Create starts a session under a new id.
func (r *Registry) Create(ctx context.Context, opts CreateOptions) (*Session, error) {
	sess, _, err := r.spawn(ctx, prefixed_id.New(SessionIDPrefix).String(), opts, 0, "")
	return sess, err
}

// CreateWithID starts a session under id. If id is already registered the
// existing session is returned, created is false and nothing is dialed.
func (r *Registry) CreateWithID(ctx context.Context, id string, opts CreateOptions) (sess *Session, created bool, err error) {
	return r.spawn(ctx, id, opts, 0, "")
}

// spawn registers and starts a session. A non-empty hold is released in the
// same critical section, so the reserved capacity passes to the new session.
func (r *Registry) spawn(ctx context.Context, id string, opts CreateOptions, retries int, hold string) (*Session, bool, error) {
	if id == "" {
		r.release(hold)
		return nil, false, fmt.Errorf("session id is required")
	}

	r.mu.Lock()
	if hold != "" {
		delete(r.holds, hold)
	}
	if r.closed {
		r.mu.Unlock()
		return nil, false, ErrClosed
	}
	if existing, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return existing, false, nil
	}

	now := r.now()
	sessCtx, cancel := context.WithCancel(r.baseCtx)
	sess := &Session{
		id:           id,
		tenant:       opts.Tenant,
		required:     opts.Required,
		createdAt:    now,
		retries:      retries,
		state:        StateInitializing,
		lastActivity: now,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	r.sessions[id] = sess
	r.wg.Add(1)
	r.mu.Unlock()

	r.index.put(ctx, id, sessionRecord{Tenant: opts.Tenant, Required: opts.Required, CreatedAt: now})
	r.updateGauge()
	r.log.Info("Session created",
		logger.SessionIDField(id),
		logger.StringField("tenant", opts.Tenant),
		logger.BoolField("required", opts.Required),
		logger.IntField("retries", retries))

	go newController(r, sess).run(sessCtx)
	return sess, true, nil
}

// Get returns the session registered under id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// All returns every registered session ordered by creation.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].id < out[j].id
		}
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

// Snapshots returns SessionInfo for every session ordered by creation.
func (r *Registry) Snapshots() []SessionInfo {
	all := r.All()
	out := make([]SessionInfo, len(all))
	for i, sess := range all {
		out[i] = sess.Info()
	}
	return out
}

// Counts returns the number of sessions per state.
func (r *Registry) Counts() map[State]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[State]int)
	for _, sess := range r.sessions {
		counts[sess.State()]++
	}
	return counts
}

// census returns the number of registered and in-flight sessions. Held
// capacity counts as both: a held session comes back in INITIALIZING.
func (r *Registry) census() (total, inFlight int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sess := range r.sessions {
		if sess.State().InFlight() {
			inFlight++
		}
	}
	return len(r.sessions) + len(r.holds), inFlight + len(r.holds)
}

// known reports whether id is registered or held for recreation.
func (r *Registry) known(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.sessions[id]; ok {
		return true
	}
	_, ok := r.holds[id]
	return ok
}

// Remove stops the session's controller and closes its connection. The stored
// credential is kept so the session can be restored later.
func (r *Registry) Remove(ctx context.Context, id string) error {
	sess, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sess.cancel()
	select {
	case <-sess.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminate logs the session out, deletes its credential and removes it. It
// is never recreated.
func (r *Registry) Terminate(ctx context.Context, id string) error {
	sess, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sess.terminating.Store(true)
	return r.Remove(ctx, id)
}

// Shutdown stops every controller and closes every connection. Credentials
// are kept.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	n := len(r.sessions)
	r.mu.Unlock()

	r.log.Info("Shutting down session registry", logger.IntField("sessions", n))
	r.stop()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.log.Info("Session registry stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sessions to stop: %w", ctx.Err())
	}
}

// retire drops sess from the table if it is still the registered instance
// and, in the same critical section, reserves hold so the slot is never
// seen as free in between.
func (r *Registry) retire(sess *Session, hold string) {
	r.mu.Lock()
	if current, ok := r.sessions[sess.id]; ok && current == sess {
		delete(r.sessions, sess.id)
	}
	if hold != "" && !r.closed {
		r.holds[hold] = struct{}{}
	}
	r.mu.Unlock()
	r.updateGauge()
}

func (r *Registry) release(hold string) {
	if hold == "" {
		return
	}
	r.mu.Lock()
	delete(r.holds, hold)
	r.mu.Unlock()
}

// replacementHold names the capacity reserved for lost's replacement.
func replacementHold(lost string) string {
	return "replacing:" + lost
}

// scheduleRecreate registers id again after delay, resuming from its stored
// credential. The caller has already reserved id as a hold.
func (r *Registry) scheduleRecreate(id string, opts CreateOptions, retries int, delay time.Duration) {
	r.mu.Lock()
	if r.closed {
		delete(r.holds, id)
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-r.baseCtx.Done():
			r.release(id)
			return
		}
		if _, _, err := r.spawn(r.baseCtx, id, opts, retries, id); err != nil {
			r.log.Warn("Session recreation abandoned", logger.SessionIDField(id), logger.ErrorField(err))
		}
	}()
}

// replace creates a fresh session in place of a lost required one, taking
// over the capacity held for it.
func (r *Registry) replace(lost *Session) {
	id := prefixed_id.New(SessionIDPrefix).String()
	sess, _, err := r.spawn(r.baseCtx, id, CreateOptions{Tenant: lost.tenant, Required: true}, 0, replacementHold(lost.id))
	if err != nil {
		r.log.Warn("Session replacement abandoned", logger.SessionIDField(lost.id), logger.ErrorField(err))
		return
	}
	r.log.Info("Replaced lost session",
		logger.SessionIDField(sess.ID()),
		logger.StringField("replaced_session_id", lost.id))
}

func (r *Registry) updateGauge() {
	if r.cfg.Metrics == nil {
		return
	}
	counts := r.Counts()
	byName := make(map[string]int, len(counts))
	for state, n := range counts {
		byName[string(state)] = n
	}
	r.cfg.Metrics.SetSessionStates(byName)
}

func (r *Registry) publish(sess *Session, ev notify.Event) {
	ev.Tenant = sess.tenant
	ev.SessionID = sess.id
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now().UTC()
	}
	ctx, cancel := context.WithTimeout(r.baseCtx, r.timings.OperationTimeout)
	defer cancel()
	if err := r.cfg.Events.Publish(ctx, ev); err != nil {
		r.log.Warn("Event delivery failed",
			logger.SessionIDField(sess.id),
			logger.StringField("event", string(ev.Type)),
			logger.ErrorField(err))
	}
}
