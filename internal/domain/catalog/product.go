package catalog

import (
	"sort"
	"time"

	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// AvailabilityCriteria is the merchandising rule deciding when a product
// can be sold
type AvailabilityCriteria string

const (
	AlwaysAvailable       AvailabilityCriteria = "ALWAYS_AVAILABLE"
	AvailableWhenInStock  AvailabilityCriteria = "AVAILABLE_WHEN_IN_STOCK"
	AvailableForPreOrder  AvailabilityCriteria = "AVAILABLE_FOR_PRE_ORDER"
	AvailableForBackOrder AvailabilityCriteria = "AVAILABLE_FOR_BACK_ORDER"
)

const (
	releaseRuleAlways    = "ALWAYS"
	releaseRuleHasStock  = "HAS_STOCK"
	releaseRulePreOrder  = "PRE_ORDER"
	releaseRuleBackOrder = "BACK_ORDER"
)

// ReleaseRules lists the conditions under which an offer may be discovered,
// viewed and added to a cart
type ReleaseRules struct {
	CanDiscover  []string `json:"canDiscover"`
	CanView      []string `json:"canView"`
	CanAddToCart []string `json:"canAddToCart"`
}

// Rules maps the criteria onto release rules
func (a AvailabilityCriteria) Rules() ReleaseRules {
	switch a {
	case AvailableWhenInStock:
		return ReleaseRules{
			CanDiscover:  []string{releaseRuleHasStock},
			CanView:      []string{releaseRuleAlways},
			CanAddToCart: []string{releaseRuleHasStock},
		}
	case AvailableForPreOrder:
		return ReleaseRules{
			CanDiscover:  []string{releaseRuleHasStock, releaseRulePreOrder},
			CanView:      []string{releaseRuleAlways},
			CanAddToCart: []string{releaseRuleHasStock, releaseRulePreOrder},
		}
	case AvailableForBackOrder:
		return ReleaseRules{
			CanDiscover:  []string{releaseRuleHasStock, releaseRuleBackOrder},
			CanView:      []string{releaseRuleAlways},
			CanAddToCart: []string{releaseRuleHasStock, releaseRuleBackOrder},
		}
	default:
		return ReleaseRules{
			CanDiscover:  []string{releaseRuleAlways},
			CanView:      []string{releaseRuleAlways},
			CanAddToCart: []string{releaseRuleAlways},
		}
	}
}

// Union merges two rule sets, keeping each list sorted
func (r ReleaseRules) Union(other ReleaseRules) ReleaseRules {
	return ReleaseRules{
		CanDiscover:  SortedUnique(append(append([]string{}, r.CanDiscover...), other.CanDiscover...)),
		CanView:      SortedUnique(append(append([]string{}, r.CanView...), other.CanView...)),
		CanAddToCart: SortedUnique(append(append([]string{}, r.CanAddToCart...), other.CanAddToCart...)),
	}
}

// ShippingDetails holds the physical properties of a SKU
type ShippingDetails struct {
	Shippable bool
	Weight    decimal.Decimal
	Width     decimal.Decimal
	Length    decimal.Decimal
	Height    decimal.Decimal
}

// Sku is a sellable variant of a product
type Sku struct {
	Code         string
	OptionValues map[string]string
	Shipping     ShippingDetails
	StartDate    *time.Time
	EndDate      *time.Time
}

// BundleComponent is a constituent of a bundle
type BundleComponent struct {
	ProductCode string
	Quantity    int
}

// Product is a sellable catalog item; a product with components is a bundle
type Product struct {
	Code                string
	Catalog             string
	BrandCode           string
	TypeCode            string
	Names               LocalizedNames
	Categories          []string
	Hidden              bool
	StartDate           time.Time
	EndDate             *time.Time
	Availability        AvailabilityCriteria
	ExpectedReleaseDate *time.Time
	Skus                []Sku
	Components          []BundleComponent
}

// Validate checks the fields every projection of a product relies on
func (p *Product) Validate() error {
	if p.Code == "" {
		return shared.ErrInvalidInput.WithMessage("product code cannot be empty")
	}
	if p.Catalog == "" {
		return shared.ErrInvalidInput.WithMessage("product " + p.Code + " has no catalog")
	}
	return nil
}

// IsBundle reports whether the product is made of other products
func (p *Product) IsBundle() bool {
	return len(p.Components) > 0
}

// Availability is the effective selling window and release rules of a product
type Availability struct {
	EnableDateTime  time.Time
	DisableDateTime *time.Time
	Rules           ReleaseRules
}

// ProductResolver loads a product by code, returning nil when it is unknown
type ProductResolver func(code string) *Product

// EffectiveAvailability computes the availability of p. A bundle can only be
// sold while all of its components can: its window is the intersection of
// its own window and every (nested) component's window, and its release
// rules are the union of theirs.
func EffectiveAvailability(p *Product, resolve ProductResolver) Availability {
	visited := map[string]bool{}
	return effectiveAvailability(p, resolve, visited)
}

func effectiveAvailability(p *Product, resolve ProductResolver, visited map[string]bool) Availability {
	visited[p.Code] = true
	av := Availability{
		EnableDateTime:  p.StartDate.UTC(),
		DisableDateTime: utcTime(p.EndDate),
		Rules:           p.Availability.Rules(),
	}
	components := append([]BundleComponent(nil), p.Components...)
	sort.Slice(components, func(i, j int) bool {
		return components[i].ProductCode < components[j].ProductCode
	})
	for _, c := range components {
		if visited[c.ProductCode] || resolve == nil {
			continue
		}
		child := resolve(c.ProductCode)
		if child == nil {
			continue
		}
		inner := effectiveAvailability(child, resolve, visited)
		if inner.EnableDateTime.After(av.EnableDateTime) {
			av.EnableDateTime = inner.EnableDateTime
		}
		if inner.DisableDateTime != nil && (av.DisableDateTime == nil || inner.DisableDateTime.Before(*av.DisableDateTime)) {
			d := *inner.DisableDateTime
			av.DisableDateTime = &d
		}
		av.Rules = av.Rules.Union(inner.Rules)
	}
	return av
}

// IsHiddenWithin reports whether p or one of its (nested) components is hidden
func IsHiddenWithin(p *Product, resolve ProductResolver) bool {
	visited := map[string]bool{}
	var walk func(*Product) bool
	walk = func(cur *Product) bool {
		if cur.Hidden {
			return true
		}
		visited[cur.Code] = true
		for _, c := range cur.Components {
			if visited[c.ProductCode] || resolve == nil {
				continue
			}
			if child := resolve(c.ProductCode); child != nil && walk(child) {
				return true
			}
		}
		return false
	}
	return walk(p)
}

func utcTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
