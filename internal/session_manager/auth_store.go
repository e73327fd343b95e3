package session_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lewisedginton/group_tagger/internal/storage_manager"
)

const authBlobExt = ".bin"

// AuthStore persists the opaque credential of each session so a restarted
// process resumes without pairing again.
type AuthStore struct {
	provider storage_manager.FileProvider
}

// NewAuthStore stores blobs in provider, typically the "auth" namespace.
func NewAuthStore(provider storage_manager.FileProvider) *AuthStore {
	return &AuthStore{provider: provider}
}

// Load returns the stored blob, or nil when the session has none.
func (s *AuthStore) Load(ctx context.Context, sessionID string) ([]byte, error) {
	data, err := s.provider.Read(ctx, sessionID+authBlobExt)
	if err != nil {
		if errors.Is(err, storage_manager.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load auth blob for %s: %w", sessionID, err)
	}
	return data, nil
}

// Save writes the blob for sessionID.
func (s *AuthStore) Save(ctx context.Context, sessionID string, blob []byte) error {
	if err := s.provider.Write(ctx, sessionID+authBlobExt, blob); err != nil {
		return fmt.Errorf("save auth blob for %s: %w", sessionID, err)
	}
	return nil
}

// Delete removes the blob for sessionID.
func (s *AuthStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.provider.Delete(ctx, sessionID+authBlobExt); err != nil {
		return fmt.Errorf("delete auth blob for %s: %w", sessionID, err)
	}
	return nil
}

// List returns the ids of every session with a stored blob, sorted.
func (s *AuthStore) List(ctx context.Context) ([]string, error) {
	keys, err := s.provider.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list auth blobs: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if id, ok := strings.CutSuffix(key, authBlobExt); ok && id != "" && !strings.Contains(id, "/") {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
