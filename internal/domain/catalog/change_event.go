package catalog

import (
	"fmt"
	"slices"

	"github.com/erp/catalogsync/internal/domain/shared"
)

// EntityKind names a kind of catalog entity
type EntityKind string

const (
	KindAttribute     EntityKind = "attribute"
	KindBrand         EntityKind = "brand"
	KindCategory      EntityKind = "category"
	KindOffer         EntityKind = "offer"
	KindSkuOption     EntityKind = "option"
	KindModifierGroup EntityKind = "modifierGroup"
)

// Action is what happened to an entity
type Action string

const (
	ActionCreated  Action = "created"
	ActionUpdated  Action = "updated"
	ActionDeleted  Action = "deleted"
	ActionLinked   Action = "linked"
	ActionUnlinked Action = "unlinked"
	ActionIncluded Action = "included"
	ActionExcluded Action = "excluded"
)

// AggregateTypeCatalogEntity is the aggregate type of change events
const AggregateTypeCatalogEntity = "CatalogEntity"

// ChangeEvent notifies that a catalog entity changed in the domain store
type ChangeEvent struct {
	shared.BaseDomainEvent
	Kind   EntityKind `json:"kind"`
	Action Action     `json:"action"`
	Code   string     `json:"code"`
	// Catalog scopes category events; for link operations it is the target catalog
	Catalog string `json:"catalog,omitempty"`
	// MasterCatalog is the catalog of the master category of a link operation
	MasterCatalog string `json:"masterCatalog,omitempty"`
	// ParentCode is the former parent of a deleted category
	ParentCode string `json:"parentCode,omitempty"`
	// Stores restricts a deletion to some stores; empty means all
	Stores []string `json:"stores,omitempty"`
}

// ChangeEventType returns the bus event type for kind and action
func ChangeEventType(kind EntityKind, action Action) string {
	return fmt.Sprintf("%s.%s", kind, action)
}

// NewChangeEvent creates a change event for the entity identified by code
func NewChangeEvent(kind EntityKind, action Action, code string) *ChangeEvent {
	return &ChangeEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(ChangeEventType(kind, action), AggregateTypeCatalogEntity, code),
		Kind:            kind,
		Action:          action,
		Code:            code,
	}
}

// InCatalog sets the catalog of the event
func (e *ChangeEvent) InCatalog(catalog string) *ChangeEvent {
	e.Catalog = catalog
	return e
}

// LinkedTo sets the master catalog of a category link operation
func (e *ChangeEvent) LinkedTo(masterCatalog string) *ChangeEvent {
	e.MasterCatalog = masterCatalog
	return e
}

// Validate checks the event carries what its action needs
func (e *ChangeEvent) Validate() error {
	if e.Code == "" {
		return shared.ErrInvalidInput.WithMessage("change event has no entity code")
	}
	if !slices.Contains(AllKinds(), e.Kind) {
		return shared.ErrInvalidInput.WithMessage(fmt.Sprintf("unknown entity kind %q", e.Kind))
	}
	switch e.Action {
	case ActionCreated, ActionUpdated:
		if e.Kind == KindCategory && e.Catalog == "" {
			return shared.ErrInvalidInput.WithMessage("category event needs a catalog")
		}
	case ActionDeleted:
	case ActionLinked, ActionUnlinked, ActionIncluded, ActionExcluded:
		if e.Kind != KindCategory {
			return shared.ErrInvalidInput.WithMessage(fmt.Sprintf("action %s only applies to categories", e.Action))
		}
		if e.Catalog == "" {
			return shared.ErrInvalidInput.WithMessage(fmt.Sprintf("category %s event needs a target catalog", e.Action))
		}
	default:
		return shared.ErrInvalidInput.WithMessage(fmt.Sprintf("unknown action %q", e.Action))
	}
	return nil
}

// AllKinds lists every entity kind
func AllKinds() []EntityKind {
	return []EntityKind{KindAttribute, KindBrand, KindCategory, KindModifierGroup, KindOffer, KindSkuOption}
}

// ActionsFor lists the actions an entity kind supports
func ActionsFor(kind EntityKind) []Action {
	actions := []Action{ActionCreated, ActionUpdated, ActionDeleted}
	if kind == KindCategory {
		actions = append(actions, ActionLinked, ActionUnlinked, ActionIncluded, ActionExcluded)
	}
	return actions
}
