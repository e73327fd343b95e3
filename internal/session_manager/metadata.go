package session_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lewisedginton/group_tagger/internal/storage_manager"
	"github.com/lewisedginton/group_tagger/pkg/logger"
)

const metadataFile = "index.json"

// sessionRecord is what must survive a restart besides the credential.
type sessionRecord struct {
	Tenant    string    `json:"tenant"`
	Required  bool      `json:"required"`
	CreatedAt time.Time `json:"created_at"`
}

// metadataStore is the persisted session index.
type metadataStore struct {
	Sessions map[string]sessionRecord `json:"sessions"`
}

// sessionIndex keeps tenant and capacity flags per session id so restored
// sessions route their events to the right tenant.
type sessionIndex struct {
	provider storage_manager.FileProvider
	log      logger.Logger

	mu      sync.Mutex
	records map[string]sessionRecord
}

func newSessionIndex(provider storage_manager.FileProvider, log logger.Logger) *sessionIndex {
	return &sessionIndex{provider: provider, log: log, records: map[string]sessionRecord{}}
}

// load reads the index; a missing file is an empty index.
func (x *sessionIndex) load(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	data, err := x.provider.Read(ctx, metadataFile)
	if err != nil {
		if errors.Is(err, storage_manager.ErrNotFound) {
			x.log.Debug("Session index does not exist, starting empty")
			return nil
		}
		return fmt.Errorf("failed to read session index: %w", err)
	}

	var store metadataStore
	if err := json.Unmarshal(data, &store); err != nil {
		return fmt.Errorf("failed to parse session index: %w", err)
	}
	if store.Sessions != nil {
		x.records = store.Sessions
	}
	x.log.Info("Loaded session index", logger.IntField("sessions", len(x.records)))
	return nil
}

func (x *sessionIndex) get(id string) (sessionRecord, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	rec, ok := x.records[id]
	return rec, ok
}

func (x *sessionIndex) put(ctx context.Context, id string, rec sessionRecord) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if existing, ok := x.records[id]; ok && existing == rec {
		return
	}
	x.records[id] = rec
	x.saveLocked(ctx)
}

func (x *sessionIndex) remove(ctx context.Context, id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.records[id]; !ok {
		return
	}
	delete(x.records, id)
	x.saveLocked(ctx)
}

// saveLocked persists the index. Failures are logged; the in-memory index
// stays authoritative for this process.
func (x *sessionIndex) saveLocked(ctx context.Context) {
	data, err := json.MarshalIndent(metadataStore{Sessions: x.records}, "", "  ")
	if err == nil {
		err = x.provider.Write(ctx, metadataFile, data)
	}
	if err != nil {
		x.log.Error("Failed to save session index", logger.ErrorField(err))
	}
}
