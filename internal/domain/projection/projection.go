// Package projection holds the store-scoped read model of catalog entities
// and the ports through which it is persisted.
package projection

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of catalog entity a projection was built from
type Type string

const (
	TypeAttribute     Type = "attribute"
	TypeBrand         Type = "brand"
	TypeCategory      Type = "category"
	TypeOffer         Type = "offer"
	TypeOption        Type = "option"
	TypeModifierGroup Type = "modifierGroup"
)

// AllTypes lists every projection type in a stable order
func AllTypes() []Type {
	return []Type{TypeAttribute, TypeBrand, TypeCategory, TypeModifierGroup, TypeOffer, TypeOption}
}

// ParseType converts a raw string into a known Type
func ParseType(raw string) (Type, error) {
	for _, t := range AllTypes() {
		if string(t) == raw {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown projection type %q", raw)
}

// Key is the composite identity of a projection
type Key struct {
	Type  Type   `json:"type"`
	Store string `json:"store"`
	Code  string `json:"code"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Type, k.Store, k.Code)
}

// tombstoneContent is the body carried by every tombstone
var tombstoneContent = []byte("{}")

// Projection is the denormalized, store-scoped representation of one entity
type Projection struct {
	Key
	Content            json.RawMessage `json:"content"`
	ContentHash        string          `json:"contentHash"`
	Version            int64           `json:"version"`
	ProjectionDateTime time.Time       `json:"projectionDateTime"`
	DisableDateTime    *time.Time      `json:"disableDateTime,omitempty"`
	Deleted            bool            `json:"deleted"`
	GUID               uuid.UUID       `json:"guid"`
}

// New creates a live projection for key with the given content body.
// Version and GUID are assigned by the store on write.
func New(key Key, content []byte, disable *time.Time, now time.Time) *Projection {
	return &Projection{
		Key:                key,
		Content:            content,
		ContentHash:        ContentHash(content),
		ProjectionDateTime: now.UTC(),
		DisableDateTime:    utcPtr(disable),
	}
}

// NewTombstone creates a deleted projection for key
func NewTombstone(key Key, disable *time.Time, now time.Time) *Projection {
	p := New(key, tombstoneContent, disable, now)
	p.Deleted = true
	return p
}

// Tombstoned returns a tombstone copy of p stamped at now. The expiry
// instant is kept so readers can still tell why the row went away.
func (p *Projection) Tombstoned(now time.Time) *Projection {
	t := NewTombstone(p.Key, p.DisableDateTime, now)
	t.Version = p.Version
	t.GUID = p.GUID
	return t
}

// IsExpiredAt reports whether p has a disable instant at or before now
func (p *Projection) IsExpiredAt(now time.Time) bool {
	return p.DisableDateTime != nil && !p.DisableDateTime.After(now)
}

// Supersedes reports whether writing incoming over existing is a real change.
// Same content is still a change when the tombstone flag or the expiry
// instant differs, which covers a pending un-expiry.
func Supersedes(existing, incoming *Projection) bool {
	if existing == nil {
		return true
	}
	if existing.ContentHash != incoming.ContentHash {
		return true
	}
	if existing.Deleted != incoming.Deleted {
		return true
	}
	return !sameInstant(existing.DisableDateTime, incoming.DisableDateTime)
}

// History is one superseded version of a projection
type History struct {
	Key
	Version            int64     `json:"version"`
	ContentHash        string    `json:"contentHash"`
	ProjectionDateTime time.Time `json:"projectionDateTime"`
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
