package commands

import (
	"context"
	"slices"
	"time"

	"github.com/lewisedginton/group_tagger/internal/identity"
	"github.com/lewisedginton/group_tagger/internal/storage_manager"
)

// Contact is one identity saved to the account's address book.
type Contact struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	SavedAt time.Time `json:"saved_at"`
}

type contactDoc struct {
	Contacts []Contact `json:"contacts"`
}

// ContactBook remembers which identities each session has saved as contacts
// so they are not saved twice.
type ContactBook struct {
	docs *docStore[contactDoc]
	now  func() time.Time
}

// NewContactBook stores contacts in provider, typically the "contacts"
// namespace.
func NewContactBook(provider storage_manager.FileProvider) *ContactBook {
	return &ContactBook{docs: newDocStore[contactDoc](provider), now: time.Now}
}

// Has reports whether id was already saved for the session.
func (b *ContactBook) Has(ctx context.Context, sessionID, id string) (bool, error) {
	var found bool
	err := b.docs.view(ctx, sessionID, func(doc *contactDoc) {
		found = slices.ContainsFunc(doc.Contacts, func(c Contact) bool {
			return identity.Same(c.ID, id)
		})
	})
	return found, err
}

// Add records a saved contact. It reports false when id was already recorded.
func (b *ContactBook) Add(ctx context.Context, sessionID, id, name string) (bool, error) {
	return b.docs.update(ctx, sessionID, func(doc *contactDoc) bool {
		for _, c := range doc.Contacts {
			if identity.Same(c.ID, id) {
				return false
			}
		}
		doc.Contacts = append(doc.Contacts, Contact{ID: id, Name: name, SavedAt: b.now().UTC()})
		return true
	})
}

// List returns the session's contacts in the order they were saved.
func (b *ContactBook) List(ctx context.Context, sessionID string) ([]Contact, error) {
	var out []Contact
	err := b.docs.view(ctx, sessionID, func(doc *contactDoc) {
		out = slices.Clone(doc.Contacts)
	})
	return out, err
}
