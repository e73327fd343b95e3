// Package notifytest records published events for assertions.
package notifytest

import (
	"context"
	"sync"

	"github.com/lewisedginton/group_tagger/internal/notify"
)

// Recorder is a notify.Sink that keeps every event.
type Recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

var _ notify.Sink = (*Recorder)(nil)

func (r *Recorder) Publish(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything published.
func (r *Recorder) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

// Of returns the events of type t.
func (r *Recorder) Of(t notify.EventType) []notify.Event {
	var out []notify.Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns how many events of type t were published for sessionID.
func (r *Recorder) Count(t notify.EventType, sessionID string) int {
	n := 0
	for _, ev := range r.Of(t) {
		if ev.SessionID == sessionID {
			n++
		}
	}
	return n
}
