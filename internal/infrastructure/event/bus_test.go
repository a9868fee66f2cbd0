package event

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/erp/catalogsync/internal/domain/catalog"
	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingHandler records the events it receives
type recordingHandler struct {
	eventTypes []string
	err        error
	panicWith  any

	mu      sync.Mutex
	handled []shared.DomainEvent
}

func newRecordingHandler(eventTypes ...string) *recordingHandler {
	return &recordingHandler{eventTypes: eventTypes}
}

func (h *recordingHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	h.mu.Lock()
	h.handled = append(h.handled, event)
	h.mu.Unlock()
	if h.panicWith != nil {
		panic(h.panicWith)
	}
	return h.err
}

func (h *recordingHandler) EventTypes() []string {
	return h.eventTypes
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

func brandUpdated(code string) *catalog.ChangeEvent {
	return catalog.NewChangeEvent(catalog.KindBrand, catalog.ActionUpdated, code)
}

func startedBus(t *testing.T) *InMemoryEventBus {
	t.Helper()
	bus := NewInMemoryEventBus(zap.NewNop())
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() { _ = bus.Stop(context.Background()) })
	return bus
}

func TestInMemoryEventBus_Publish(t *testing.T) {
	bus := startedBus(t)
	handler := newRecordingHandler("brand.updated")
	bus.Subscribe(handler)

	err := bus.Publish(context.Background(), brandUpdated("acme"), brandUpdated("globex"))
	require.NoError(t, err)
	assert.Equal(t, 2, handler.count())
}

func TestInMemoryEventBus_Publish_RoutesByType(t *testing.T) {
	bus := startedBus(t)
	brands := newRecordingHandler("brand.updated")
	offers := newRecordingHandler("offer.updated")
	all := newRecordingHandler()
	bus.Subscribe(brands)
	bus.Subscribe(offers)
	bus.Subscribe(all)

	require.NoError(t, bus.Publish(context.Background(), brandUpdated("acme")))

	assert.Equal(t, 1, brands.count())
	assert.Equal(t, 0, offers.count())
	assert.Equal(t, 1, all.count())
}

func TestInMemoryEventBus_Publish_CollectsHandlerErrors(t *testing.T) {
	bus := startedBus(t)
	failing := newRecordingHandler("brand.updated")
	failing.err = shared.ErrRebuildInProgress
	panicking := newRecordingHandler("brand.updated")
	panicking.panicWith = "boom"
	healthy := newRecordingHandler("brand.updated")
	bus.Subscribe(failing)
	bus.Subscribe(panicking)
	bus.Subscribe(healthy)

	err := bus.Publish(context.Background(), brandUpdated("acme"))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrRebuildInProgress)
	assert.Contains(t, err.Error(), "handler panicked")
	assert.Equal(t, 1, healthy.count())
}

func TestInMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := startedBus(t)
	handler := newRecordingHandler("brand.updated")
	bus.Subscribe(handler)

	require.NoError(t, bus.Publish(context.Background(), brandUpdated("acme")))
	bus.Unsubscribe(handler)
	require.NoError(t, bus.Publish(context.Background(), brandUpdated("acme")))

	assert.Equal(t, 1, handler.count())
}

func TestInMemoryEventBus_PublishBeforeStart(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	err := bus.Publish(context.Background(), brandUpdated("acme"))
	assert.True(t, errors.Is(err, ErrBusStopped))
}

func TestHandlerRegistry(t *testing.T) {
	registry := NewHandlerRegistry()
	typed := newRecordingHandler()
	wildcard := newRecordingHandler()

	registry.Register(typed, "brand.updated", "brand.deleted")
	registry.Register(typed, "brand.updated")
	registry.Register(wildcard)

	assert.Equal(t, []shared.EventHandler{typed, wildcard}, registry.Handlers("brand.updated"))
	assert.Equal(t, []shared.EventHandler{wildcard}, registry.Handlers("offer.created"))
	assert.Equal(t, []string{"brand.deleted", "brand.updated"}, registry.EventTypes())

	registry.Unregister(typed)
	assert.Empty(t, registry.EventTypes())
	assert.Equal(t, []shared.EventHandler{wildcard}, registry.Handlers("brand.updated"))
}
