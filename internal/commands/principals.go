package commands

import (
	"context"
	"slices"

	"github.com/lewisedginton/group_tagger/internal/identity"
	"github.com/lewisedginton/group_tagger/internal/storage_manager"
)

type principalDoc struct {
	Admins []string `json:"admins"`
}

// PrincipalStore holds the secondary admins of each session. The primary
// owner comes from configuration and is never stored here.
type PrincipalStore struct {
	docs *docStore[principalDoc]
}

// NewPrincipalStore stores admins in provider, typically the "principals"
// namespace.
func NewPrincipalStore(provider storage_manager.FileProvider) *PrincipalStore {
	return &PrincipalStore{docs: newDocStore[principalDoc](provider)}
}

// List returns the session's admins in the order they were added.
func (s *PrincipalStore) List(ctx context.Context, sessionID string) ([]string, error) {
	var admins []string
	err := s.docs.view(ctx, sessionID, func(doc *principalDoc) {
		admins = slices.Clone(doc.Admins)
	})
	return admins, err
}

// Contains reports whether id is an admin of the session.
func (s *PrincipalStore) Contains(ctx context.Context, sessionID, id string) (bool, error) {
	admins, err := s.List(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return identity.Contains(admins, id), nil
}

// Add makes id an admin. It reports false when id already was one.
func (s *PrincipalStore) Add(ctx context.Context, sessionID, id string) (bool, error) {
	return s.docs.update(ctx, sessionID, func(doc *principalDoc) bool {
		if identity.Contains(doc.Admins, id) {
			return false
		}
		doc.Admins = append(doc.Admins, id)
		return true
	})
}

// Remove revokes id. It reports false when id was not an admin.
func (s *PrincipalStore) Remove(ctx context.Context, sessionID, id string) (bool, error) {
	return s.docs.update(ctx, sessionID, func(doc *principalDoc) bool {
		before := len(doc.Admins)
		doc.Admins = slices.DeleteFunc(doc.Admins, func(admin string) bool {
			return identity.Same(admin, id)
		})
		return len(doc.Admins) != before
	})
}
