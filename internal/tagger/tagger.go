// Package tagger mentions every member of an administered group in one
// outbound message.
package tagger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lewisedginton/group_tagger/internal/connection"
	"github.com/lewisedginton/group_tagger/internal/groupcache"
	"github.com/lewisedginton/group_tagger/internal/identity"
	"github.com/lewisedginton/group_tagger/pkg/logger"
	"github.com/lewisedginton/group_tagger/pkg/metrics"
)

// Outcome is the result of tagging one group.
type Outcome string

const (
	OutcomeOK           Outcome = metrics.OutcomeOK
	OutcomeNotAdmin     Outcome = metrics.OutcomeNotAdmin
	OutcomeNoOp         Outcome = metrics.OutcomeNoOp
	OutcomeFailed       Outcome = metrics.OutcomeFailed
	OutcomeInvalidIndex Outcome = metrics.OutcomeInvalidIndex
)

// ErrNotAdmin means the account no longer administers the group.
var ErrNotAdmin = errors.New("no longer admin")

// GroupSource resolves operator indices to cached records and live rosters.
type GroupSource interface {
	Lookup(sessionID string, index int) (groupcache.GroupRecord, error)
	FetchRoster(ctx context.Context, dir connection.Directory, groupID string) ([]connection.Participant, error)
}

// Conn is what the tagger needs from a live connection.
type Conn interface {
	connection.Directory
	connection.Sender
}

// Target is the session a fan-out runs on.
type Target struct {
	SessionID string
	Conn      Conn
}

// GroupResult describes what happened in one group.
type GroupResult struct {
	Index     int
	GroupID   string
	GroupName string
	Outcome   Outcome
	Mentioned int
	Excluded  int
	Err       error
}

// Summary aggregates a multi-group fan-out.
type Summary struct {
	Results  []GroupResult
	Excluded int
}

// Succeeded counts groups that received a message.
func (s Summary) Succeeded() int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == OutcomeOK {
			n++
		}
	}
	return n
}

// Tagger runs fan-out tagging.
type Tagger struct {
	groups  GroupSource
	log     logger.Logger
	metrics *metrics.Metrics
}

// New creates a Tagger.
func New(groups GroupSource, log logger.Logger, m *metrics.Metrics) *Tagger {
	return &Tagger{groups: groups, log: log, metrics: m}
}

// TagAll mentions every participant, the account itself included, in each
// group.
func (t *Tagger) TagAll(ctx context.Context, target Target, indices []int, text string) Summary {
	return t.run(ctx, target, indices, text, nil, false)
}

// TagAllExcept mentions every participant except the account itself and the
// members of exclusions.
func (t *Tagger) TagAllExcept(ctx context.Context, target Target, indices []int, text string, exclusions []string) Summary {
	return t.run(ctx, target, indices, text, exclusions, true)
}

func (t *Tagger) run(ctx context.Context, target Target, indices []int, text string, exclusions []string, excludeSelf bool) Summary {
	var summary Summary
	for _, index := range indices {
		result := t.tagGroup(ctx, target, index, text, exclusions, excludeSelf)
		summary.Results = append(summary.Results, result)
		summary.Excluded += result.Excluded
		t.metrics.ObserveFanOut(string(result.Outcome), result.Mentioned)
	}
	return summary
}

func (t *Tagger) tagGroup(ctx context.Context, target Target, index int, text string, exclusions []string, excludeSelf bool) GroupResult {
	result := GroupResult{Index: index}
	log := t.log.WithFields(logger.SessionIDField(target.SessionID), logger.IntField("group_index", index))

	record, err := t.groups.Lookup(target.SessionID, index)
	switch {
	case errors.Is(err, groupcache.ErrInvalidIndex):
		result.Outcome, result.Err = OutcomeInvalidIndex, err
		return result
	case err != nil:
		// No current record: admin status cannot be vouched for.
		result.Outcome, result.Err = OutcomeNotAdmin, fmt.Errorf("%w: %v", ErrNotAdmin, err)
		return result
	}
	result.GroupID, result.GroupName = record.ID, record.Name
	log = log.WithFields(logger.GroupIDField(record.ID))

	if !record.SelfIsAdmin {
		result.Outcome, result.Err = OutcomeNotAdmin, ErrNotAdmin
		return result
	}

	roster, err := t.groups.FetchRoster(ctx, target.Conn, record.ID)
	if err != nil {
		log.Warn("Roster fetch failed", logger.ErrorField(err))
		result.Outcome, result.Err = OutcomeFailed, fmt.Errorf("fetch participants: %w", err)
		return result
	}

	self := target.Conn.SelfID()
	live := groupcache.BuildRecord(connection.Chat{ID: record.ID, Name: record.Name, IsGroup: true}, roster, self, record.FetchedAt)
	if !live.SelfIsAdmin {
		result.Outcome, result.Err = OutcomeNotAdmin, ErrNotAdmin
		return result
	}

	var mentions []string
	for _, p := range roster {
		if excludeSelf && identity.Same(p.ID, self) {
			continue
		}
		if identity.Contains(exclusions, p.ID) {
			result.Excluded++
			continue
		}
		mentions = append(mentions, p.ID)
	}

	if len(mentions) == 0 {
		log.Info("Nothing to tag after exclusions", logger.IntField("excluded", result.Excluded))
		result.Outcome = OutcomeNoOp
		return result
	}

	if err := target.Conn.SendMessage(ctx, record.ID, ComposeMessage(text, mentions), mentions); err != nil {
		log.Error("Fan-out send failed", logger.ErrorField(err))
		result.Outcome, result.Err = OutcomeFailed, fmt.Errorf("send: %w", err)
		return result
	}

	result.Outcome, result.Mentioned = OutcomeOK, len(mentions)
	log.Info("Group tagged", logger.IntField("mentioned", result.Mentioned), logger.IntField("excluded", result.Excluded))
	return result
}

// ComposeMessage appends one "@<digits>" marker per mentioned id to text.
func ComposeMessage(text string, mentions []string) string {
	markers := make([]string, 0, len(mentions))
	for _, id := range mentions {
		markers = append(markers, "@"+identity.Normalize(id))
	}
	body := strings.Join(markers, " ")
	if text = strings.TrimSpace(text); text != "" {
		return text + "\n\n" + body
	}
	return body
}
