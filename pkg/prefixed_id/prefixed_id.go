// Package prefixed_id provides time-ordered identifiers with a readable prefix,
// e.g. "session-01J9Z3K6W8Q2V4X6Y8Z0A2B4C6".
package prefixed_id //nolint:revive // var-naming: using underscores for domain clarity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// PrefixedID is a ULID with a prefix string.
type PrefixedID struct {
	Prefix string
	ID     ulid.ULID
}

// New creates a PrefixedID with a freshly minted, monotonically increasing ULID.
func New(prefix string) PrefixedID {
	return PrefixedID{Prefix: prefix, ID: ulid.Make()}
}

// FromString parses "prefix-ULID". The prefix itself may not contain '-'.
func FromString(s string) (PrefixedID, error) {
	idx := strings.Index(s, "-")
	if idx <= 0 {
		return PrefixedID{}, fmt.Errorf("invalid prefixed id format: %s", s)
	}
	id, err := ulid.Parse(s[idx+1:])
	if err != nil {
		return PrefixedID{}, fmt.Errorf("invalid ulid: %w", err)
	}
	return PrefixedID{Prefix: s[:idx], ID: id}, nil
}

// String returns the id in the format "prefix-ULID".
func (p PrefixedID) String() string {
	return p.Prefix + "-" + p.ID.String()
}

// Time returns the creation time encoded in the id.
func (p PrefixedID) Time() time.Time {
	return ulid.Time(p.ID.Time())
}

// IsZero returns true if the PrefixedID is uninitialized.
func (p PrefixedID) IsZero() bool {
	return p.Prefix == "" && p.ID == (ulid.ULID{})
}

// MarshalJSON implements json.Marshaler.
func (p PrefixedID) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *PrefixedID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid JSON string format: %w", err)
	}
	parsed, err := FromString(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
