// Package groupcache keeps, per session, the time-bounded list of groups the
// session's own account administers.
package groupcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lewisedginton/group_tagger/internal/connection"
	"github.com/lewisedginton/group_tagger/internal/identity"
	"github.com/lewisedginton/group_tagger/pkg/logger"
	"github.com/lewisedginton/group_tagger/pkg/metrics"
)

// Defaults for Config.
const (
	DefaultTTL          = 5 * time.Minute
	DefaultFetchTimeout = 30 * time.Second
)

var (
	// ErrNotCached is returned by Lookup when the session has no current entry.
	ErrNotCached = errors.New("no current group list")
	// ErrInvalidIndex is returned by Lookup for an index outside the list.
	ErrInvalidIndex = errors.New("invalid group index")
	// ErrNoIdentity is returned by Refresh before the account identity is known.
	ErrNoIdentity = errors.New("account identity unknown")
)

// GroupRecord describes one administered group as of FetchedAt.
type GroupRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Participants []string  `json:"participants"`
	SelfIsAdmin  bool      `json:"self_is_admin"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Config tunes a Cache.
type Config struct {
	TTL          time.Duration
	FetchTimeout time.Duration
	Logger       logger.Logger
	Metrics      *metrics.Metrics
	// Now is overridable for tests.
	Now func() time.Time
}

type entry struct {
	groups    []GroupRecord
	fetchedAt time.Time
}

// Cache maps session ids to their admin group lists.
type Cache struct {
	ttl          time.Duration
	fetchTimeout time.Duration
	log          logger.Logger
	metrics      *metrics.Metrics
	now          func() time.Time

	mu        sync.RWMutex
	entries   map[string]entry
	refreshes map[string]*pendingRefresh
}

// pendingRefresh serialises the refreshes of one session. It exists only
// while at least one refresh holds a reference.
type pendingRefresh struct {
	mu   sync.Mutex
	refs int
	// drops counts Drop calls while refreshes are pending so an in-flight
	// refresh cannot resurrect an entry dropped while it ran.
	drops uint64
}

// New creates an empty Cache.
func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{
		ttl:          cfg.TTL,
		fetchTimeout: cfg.FetchTimeout,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
		now:          cfg.Now,
		entries:      make(map[string]entry),
		refreshes:    make(map[string]*pendingRefresh),
	}
}

// TTL is how long a refresh stays trustworthy.
func (c *Cache) TTL() time.Duration { return c.ttl }

// FetchTimeout bounds one roster fetch.
func (c *Cache) FetchTimeout() time.Duration { return c.fetchTimeout }

// Refresh rebuilds the admin group list for sessionID from dir and replaces
// whatever was cached. Groups whose roster cannot be fetched are skipped.
// Refreshes of one session run one at a time.
func (c *Cache) Refresh(ctx context.Context, sessionID string, dir connection.Directory) ([]GroupRecord, error) {
	pending := c.acquire(sessionID)
	defer c.release(sessionID, pending)
	pending.mu.Lock()
	defer pending.mu.Unlock()

	start := c.now()
	log := c.log.WithFields(logger.SessionIDField(sessionID))

	c.mu.RLock()
	generation := pending.drops
	c.mu.RUnlock()

	self := dir.SelfID()
	if self == "" {
		return nil, ErrNoIdentity
	}

	chats, err := dir.Chats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	groups := make([]GroupRecord, 0)
	skipped := 0
	for _, chat := range chats {
		if !chat.IsGroup {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		roster, err := c.FetchRoster(ctx, dir, chat.ID)
		if err != nil {
			skipped++
			log.Warn("Skipping group, roster fetch failed",
				logger.GroupIDField(chat.ID), logger.ErrorField(err))
			continue
		}

		record := BuildRecord(chat, roster, self, c.now())
		if record.SelfIsAdmin {
			groups = append(groups, record)
		}
	}

	c.mu.Lock()
	if pending.drops != generation {
		c.mu.Unlock()
		return nil, fmt.Errorf("session %s dropped during refresh: %w", sessionID, context.Canceled)
	}
	c.entries[sessionID] = entry{groups: groups, fetchedAt: c.now()}
	c.mu.Unlock()

	elapsed := c.now().Sub(start)
	c.metrics.ObserveCacheRefresh(elapsed)
	log.Info("Group directory refreshed",
		logger.IntField("admin_groups", len(groups)),
		logger.IntField("skipped_groups", skipped),
		logger.DurationField("elapsed", elapsed))

	return cloneRecords(groups), nil
}

// FetchRoster fetches one group's participants bounded by the fetch timeout.
func (c *Cache) FetchRoster(ctx context.Context, dir connection.Directory, groupID string) ([]connection.Participant, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()
	return dir.Participants(fetchCtx, groupID)
}

// BuildRecord derives a GroupRecord from a roster. Self-admin detection uses
// the identity matching policy.
func BuildRecord(chat connection.Chat, roster []connection.Participant, self string, fetchedAt time.Time) GroupRecord {
	record := GroupRecord{
		ID:           chat.ID,
		Name:         chat.Name,
		Participants: make([]string, 0, len(roster)),
		FetchedAt:    fetchedAt,
	}
	for _, p := range roster {
		record.Participants = append(record.Participants, p.ID)
		if p.Privileged() && identity.Match(p.ID, self) {
			record.SelfIsAdmin = true
		}
	}
	return record
}

// Get returns the cached admin groups, or nil when absent or expired.
func (c *Cache) Get(sessionID string) []GroupRecord {
	groups, _ := c.Current(sessionID)
	return groups
}

// Current returns the cached groups and whether a current entry exists. A
// current entry may legitimately hold zero groups.
func (c *Cache) Current(sessionID string) ([]GroupRecord, bool) {
	c.mu.RLock()
	e, ok := c.entries[sessionID]
	c.mu.RUnlock()

	if !ok || c.now().Sub(e.fetchedAt) > c.ttl {
		return nil, false
	}
	return cloneRecords(e.groups), true
}

// Ensure returns the current groups, refreshing first when none are current.
func (c *Cache) Ensure(ctx context.Context, sessionID string, dir connection.Directory) ([]GroupRecord, error) {
	if groups, ok := c.Current(sessionID); ok {
		return groups, nil
	}
	return c.Refresh(ctx, sessionID, dir)
}

// Lookup returns the group at the 1-based index of the current list.
func (c *Cache) Lookup(sessionID string, index int) (GroupRecord, error) {
	groups, ok := c.Current(sessionID)
	if !ok {
		return GroupRecord{}, ErrNotCached
	}
	if index < 1 || index > len(groups) {
		return GroupRecord{}, fmt.Errorf("%w: %d (have %d)", ErrInvalidIndex, index, len(groups))
	}
	return groups[index-1], nil
}

// Age reports how long ago the entry was refreshed, if there is one.
func (c *Cache) Age(sessionID string) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[sessionID]
	if !ok {
		return 0, false
	}
	return c.now().Sub(e.fetchedAt), true
}

// Drop forgets the session's entry.
func (c *Cache) Drop(sessionID string) {
	c.mu.Lock()
	delete(c.entries, sessionID)
	if pending, ok := c.refreshes[sessionID]; ok {
		pending.drops++
	}
	c.mu.Unlock()
}

// Sessions returns the number of sessions with an entry, current or not.
func (c *Cache) Sessions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) acquire(sessionID string) *pendingRefresh {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending, ok := c.refreshes[sessionID]
	if !ok {
		pending = &pendingRefresh{}
		c.refreshes[sessionID] = pending
	}
	pending.refs++
	return pending
}

func (c *Cache) release(sessionID string, pending *pendingRefresh) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending.refs--
	if pending.refs == 0 {
		delete(c.refreshes, sessionID)
	}
}

func cloneRecords(groups []GroupRecord) []GroupRecord {
	out := make([]GroupRecord, len(groups))
	for i, g := range groups {
		g.Participants = append([]string(nil), g.Participants...)
		out[i] = g
	}
	return out
}
