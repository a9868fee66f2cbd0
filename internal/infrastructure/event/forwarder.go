package event

import (
	"context"
	"fmt"

	"github.com/erp/catalogsync/internal/application/catalogsync"
	"github.com/erp/catalogsync/internal/domain/projection"
	"github.com/erp/catalogsync/internal/domain/shared"
)

// ProjectionUpdateForwarder relays projection batch events from the
// in-process bus to the notification bus
type ProjectionUpdateForwarder struct {
	bus catalogsync.NotificationBus
}

// NewProjectionUpdateForwarder creates a forwarder publishing to bus
func NewProjectionUpdateForwarder(bus catalogsync.NotificationBus) *ProjectionUpdateForwarder {
	return &ProjectionUpdateForwarder{bus: bus}
}

// EventTypes returns the projection batch event type
func (f *ProjectionUpdateForwarder) EventTypes() []string {
	return []string{projection.EventTypeProjectionsUpdated}
}

// Handle publishes the batch with the aggregate correlation key
func (f *ProjectionUpdateForwarder) Handle(ctx context.Context, event shared.DomainEvent) error {
	updated, ok := event.(*projection.UpdatedEvent)
	if !ok {
		return fmt.Errorf("unexpected event type: %s", event.EventType())
	}
	payload := map[string]any{
		"type":             string(updated.ProjectionType),
		"store":            updated.Store,
		"modifiedDateTime": updated.ModifiedDateTime,
		"codes":            updated.Codes,
	}
	return f.bus.Publish(ctx, projection.EventTypeProjectionsUpdated, projection.AggregateGUID, payload)
}

var _ shared.EventHandler = (*ProjectionUpdateForwarder)(nil)
