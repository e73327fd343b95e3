package session_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/lewisedginton/group_tagger/internal/storage_manager"
	"github.com/lewisedginton/group_tagger/pkg/logger"
)

// StoredSession describes a persisted credential, for offline inspection.
type StoredSession struct {
	ID        string    `json:"id"`
	Tenant    string    `json:"tenant,omitempty"`
	Required  bool      `json:"required"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	// Indexed is false for credentials with no index entry.
	Indexed bool `json:"indexed"`
}

// ListCredentials reports every stored credential without starting sessions.
func ListCredentials(ctx context.Context, storage *storage_manager.StorageManager, log logger.Logger) ([]StoredSession, error) {
	index := newSessionIndex(storage.GetProvider(storage_manager.NamespaceSessions), log)
	if err := index.load(ctx); err != nil {
		return nil, err
	}
	ids, err := NewAuthStore(storage.GetProvider(storage_manager.NamespaceAuth)).List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]StoredSession, 0, len(ids))
	for _, id := range ids {
		s := StoredSession{ID: id}
		if rec, ok := index.get(id); ok {
			s.Tenant = rec.Tenant
			s.Required = rec.Required
			s.CreatedAt = rec.CreatedAt
			s.Indexed = true
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PurgeCredential deletes a stored credential and its index entry so the
// session is never restored. Run it only while no server holds the session.
func PurgeCredential(ctx context.Context, storage *storage_manager.StorageManager, id string, log logger.Logger) error {
	auth := NewAuthStore(storage.GetProvider(storage_manager.NamespaceAuth))
	blob, err := auth.Load(ctx, id)
	if err != nil {
		return err
	}
	if blob == nil {
		return fmt.Errorf("%w: no stored credential for %s", ErrNotFound, id)
	}
	if err := auth.Delete(ctx, id); err != nil {
		return err
	}

	index := newSessionIndex(storage.GetProvider(storage_manager.NamespaceSessions), log)
	if err := index.load(ctx); err != nil {
		return err
	}
	index.remove(ctx, id)
	log.Info("Stored credential purged", logger.SessionIDField(id))
	return nil
}
