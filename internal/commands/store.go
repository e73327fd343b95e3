package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/lewisedginton/group_tagger/internal/storage_manager"
)

// docStore keeps one small JSON document per session, cached after the first
// read. Writers are serialised; a failed write leaves the cache untouched.
type docStore[T any] struct {
	provider storage_manager.FileProvider

	mu   sync.Mutex
	docs map[string]*T
}

func newDocStore[T any](provider storage_manager.FileProvider) *docStore[T] {
	return &docStore[T]{provider: provider, docs: make(map[string]*T)}
}

func (s *docStore[T]) path(sessionID string) string { return sessionID + ".json" }

// loadLocked returns the cached document, reading it on first use.
func (s *docStore[T]) loadLocked(ctx context.Context, sessionID string) (*T, error) {
	if doc, ok := s.docs[sessionID]; ok {
		return doc, nil
	}
	doc := new(T)
	data, err := s.provider.Read(ctx, s.path(sessionID))
	switch {
	case errors.Is(err, storage_manager.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", s.path(sessionID), err)
	default:
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", s.path(sessionID), err)
		}
	}
	s.docs[sessionID] = doc
	return doc, nil
}

func (s *docStore[T]) view(ctx context.Context, sessionID string, fn func(doc *T)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadLocked(ctx, sessionID)
	if err != nil {
		return err
	}
	fn(doc)
	return nil
}

// update applies fn to a copy of the document and persists it when fn reports
// a change.
func (s *docStore[T]) update(ctx context.Context, sessionID string, fn func(doc *T) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.loadLocked(ctx, sessionID)
	if err != nil {
		return false, err
	}

	next, err := clone(current)
	if err != nil {
		return false, err
	}
	if !fn(next) {
		return false, nil
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", s.path(sessionID), err)
	}
	if err := s.provider.Write(ctx, s.path(sessionID), data); err != nil {
		return false, fmt.Errorf("write %s: %w", s.path(sessionID), err)
	}
	s.docs[sessionID] = next
	return true, nil
}

func clone[T any](doc *T) (*T, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}
