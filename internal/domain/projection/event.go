package projection

import (
	"time"

	"github.com/erp/catalogsync/internal/domain/shared"
)

const (
	// EventTypeProjectionsUpdated is emitted after a batch of changed writes
	// for one (type, store)
	EventTypeProjectionsUpdated = "CATALOG_PROJECTION_UPDATED"

	// AggregateGUID is the aggregate id carried by projection batch events
	AggregateGUID = "AGGREGATE"
)

// UpdatedEvent announces that a set of projections of one type changed in a store
type UpdatedEvent struct {
	shared.BaseDomainEvent
	ProjectionType   Type     `json:"projectionType"`
	Store            string   `json:"store"`
	ModifiedDateTime string   `json:"modifiedDateTime"`
	Codes            []string `json:"codes"`
}

// NewUpdatedEvent creates the batch event for codes written at modified
func NewUpdatedEvent(t Type, store string, codes []string, modified time.Time) *UpdatedEvent {
	return &UpdatedEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventTypeProjectionsUpdated, string(t), AggregateGUID),
		ProjectionType:   t,
		Store:            store,
		ModifiedDateTime: modified.UTC().Format(time.RFC3339),
		Codes:            codes,
	}
}
