package projection

import (
	"context"
	"time"
)

// Writer is the conditional-write side of a projection store
type Writer interface {
	// Write stores p if it supersedes the current row for its key and
	// reports whether anything changed
	Write(ctx context.Context, p *Projection) (bool, error)
	// WriteAll writes each projection independently
	WriteAll(ctx context.Context, ps []*Projection) ([]WriteResult, error)
	// Delete tombstones every live row of type t with the given code
	Delete(ctx context.Context, t Type, code string) (int, error)
	// DeleteInStore tombstones the live row of type t for one store
	DeleteInStore(ctx context.Context, t Type, code, store string) (int, error)
}

// Reader is the query side of a projection store
type Reader interface {
	// Read returns the row for key, tombstones included
	Read(ctx context.Context, key Key) (*Projection, error)
	ReadAll(ctx context.Context, t Type, store string, page Page) (*PageResult, error)
	ReadByCodes(ctx context.Context, t Type, codes []string) ([]Projection, error)
	ReadByCodesInStore(ctx context.Context, t Type, store string, codes []string) ([]Projection, error)
	// LiveStores returns the subset of stores holding a live row for code
	LiveStores(ctx context.Context, t Type, code string, stores []string) ([]string, error)
	// NearestExpiry returns the earliest future disable instant of live rows
	NearestExpiry(ctx context.Context, t Type, store string, now time.Time) (*time.Time, error)
}

// Expirer finds and tombstones rows whose disable instant has passed
type Expirer interface {
	ExpiredKeys(ctx context.Context, now time.Time, limit int) ([]Key, error)
	// Expire tombstones key if it is still live and expired at now
	Expire(ctx context.Context, key Key, now time.Time) (bool, error)
}

// Maintainer holds destructive operations used by rebuilds and operators
type Maintainer interface {
	// Clean removes every projection and history row
	Clean(ctx context.Context) error
	// RemoveAll removes every projection and history row of one type
	RemoveAll(ctx context.Context, t Type) (int64, error)
}

// Store is a projection store offering every capability
type Store interface {
	Writer
	Reader
	Expirer
	Maintainer
}

// WriteResult is the outcome of one write in a batch
type WriteResult struct {
	Key     Key
	Changed bool
	Err     error
}

// Page selects a window of projections ordered by code
type Page struct {
	Limit               int
	StartAfter          string
	ModifiedSince       *time.Time
	ModifiedSinceOffset time.Duration
}

// PageResult is one page of projections
type PageResult struct {
	Items      []Projection `json:"items"`
	HasMore    bool         `json:"hasMore"`
	NextCursor string       `json:"nextCursor,omitempty"`
}
