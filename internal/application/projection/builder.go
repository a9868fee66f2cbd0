// Package projection turns catalog domain entities into store-scoped
// projection documents. Everything here is a pure function of its input.
package projection

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/erp/catalogsync/internal/domain/catalog"
	"github.com/erp/catalogsync/internal/domain/projection"
)

// Built is the outcome of building one scope
type Built struct {
	Key        projection.Key
	Projection *projection.Projection
	Err        error
}

// Projections returns the successfully built projections of results
func Projections(results []Built) []*projection.Projection {
	out := make([]*projection.Projection, 0, len(results))
	for _, r := range results {
		if r.Err == nil && r.Projection != nil {
			out = append(out, r.Projection)
		}
	}
	return out
}

// Builder builds projections. It holds no state and never reads the clock:
// the caller supplies now.
type Builder struct{}

// NewBuilder creates a Builder
func NewBuilder() *Builder {
	return &Builder{}
}

// BuildAttribute builds one projection per store whose catalog carries the attribute
func (b *Builder) BuildAttribute(a *catalog.Attribute, stores []catalog.Store, now time.Time) []Built {
	content := AttributeContent{
		Code:         a.Code,
		DataType:     a.DataType,
		MultiValue:   a.MultiValue,
		Usage:        string(a.Usage),
		DisplayNames: a.Names.Canonical(),
	}
	return b.fanOut(projection.TypeAttribute, a.Code, catalog.StoresForCatalogs(stores, a.Catalogs), now,
		func(catalog.Store) (any, *time.Time, bool) { return content, nil, false })
}

// BuildBrand builds one projection per store whose catalog carries the brand
func (b *Builder) BuildBrand(br *catalog.Brand, stores []catalog.Store, now time.Time) []Built {
	content := BrandContent{Code: br.Code, DisplayNames: br.Names.Canonical()}
	return b.fanOut(projection.TypeBrand, br.Code, catalog.StoresForCatalogs(stores, br.Catalogs), now,
		func(catalog.Store) (any, *time.Time, bool) { return content, nil, false })
}

// BuildSkuOption builds one projection per store whose catalog carries the option
func (b *Builder) BuildSkuOption(o *catalog.SkuOption, stores []catalog.Store, now time.Time) []Built {
	values := make([]OptionValueContent, 0, len(o.Values))
	for _, v := range o.Values {
		values = append(values, OptionValueContent{Value: v.Code, Ordering: v.Ordering, DisplayNames: v.Names.Canonical()})
	}
	sort.Slice(values, func(i, j int) bool {
		if values[i].Ordering != values[j].Ordering {
			return values[i].Ordering < values[j].Ordering
		}
		return values[i].Value < values[j].Value
	})
	content := OptionContent{Code: o.Code, DisplayNames: o.Names.Canonical(), Values: values}
	return b.fanOut(projection.TypeOption, o.Code, catalog.StoresForCatalogs(stores, o.Catalogs), now,
		func(catalog.Store) (any, *time.Time, bool) { return content, nil, false })
}

// BuildModifierGroup builds one projection per store whose catalog carries the group
func (b *Builder) BuildModifierGroup(g *catalog.ModifierGroup, stores []catalog.Store, now time.Time) []Built {
	fields := make([]ModifierFieldContent, 0, len(g.Fields))
	for _, f := range g.Fields {
		options := make([]ModifierOptionContent, 0, len(f.Options))
		for _, o := range f.Options {
			options = append(options, ModifierOptionContent{Value: o.Value, Ordering: o.Ordering, DisplayNames: o.Names.Canonical()})
		}
		sort.Slice(options, func(i, j int) bool {
			if options[i].Ordering != options[j].Ordering {
				return options[i].Ordering < options[j].Ordering
			}
			return options[i].Value < options[j].Value
		})
		fields = append(fields, ModifierFieldContent{
			Code:         f.Code,
			FieldType:    f.FieldType,
			Required:     f.Required,
			MaxSize:      f.MaxSize,
			Ordering:     f.Ordering,
			DisplayNames: f.Names.Canonical(),
			Options:      options,
		})
	}
	sort.Slice(fields, func(i, j int) bool {
		if fields[i].Ordering != fields[j].Ordering {
			return fields[i].Ordering < fields[j].Ordering
		}
		return fields[i].Code < fields[j].Code
	})
	content := ModifierGroupContent{Code: g.Code, DisplayNames: g.Names.Canonical(), Fields: fields}
	return b.fanOut(projection.TypeModifierGroup, g.Code, catalog.StoresForCatalogs(stores, g.Catalogs), now,
		func(catalog.Store) (any, *time.Time, bool) { return content, nil, false })
}

// CategoryScope carries the tree context of a category in its catalog
type CategoryScope struct {
	Stores   []catalog.Store
	Children []string
	// Path lists category codes from the root down to the category itself
	Path []string
	// Master supplies the content of a linked category
	Master *catalog.Category
	// Excluded marks a category below an ancestor that is not shown
	Excluded bool
}

// BuildCategory builds one projection per store of the category's catalog.
// Categories that are not visible at now, or sit below an excluded
// ancestor, become tombstones.
func (b *Builder) BuildCategory(c *catalog.Category, scope CategoryScope, now time.Time) []Built {
	stores := catalog.StoresForCatalogs(scope.Stores, []string{c.Catalog})
	if err := c.Validate(); err != nil {
		return failAll(projection.TypeCategory, c.Code, stores, err)
	}

	source := c
	if c.Linked && scope.Master != nil {
		source = scope.Master
	}
	path := scope.Path
	if len(path) == 0 {
		path = []string{c.Code}
	}
	content := CategoryContent{
		Code:          c.Code,
		Catalog:       c.Catalog,
		Parent:        c.ParentCode,
		Children:      catalog.SortedUnique(scope.Children),
		Path:          append([]string(nil), path...),
		DisplayNames:  source.Names.Canonical(),
		Ordering:      c.Ordering,
		MasterCatalog: c.MasterCatalog,
		AvailabilityRules: CategoryAvailability{
			EnableDateTime:  source.StartDate.UTC(),
			DisableDateTime: utc(source.EndDate),
		},
	}
	visible := !scope.Excluded && c.IsVisibleAt(now) && (!c.Linked || scope.Master == nil || !scope.Master.Hidden)
	return b.fanOut(projection.TypeCategory, c.Code, stores, now,
		func(catalog.Store) (any, *time.Time, bool) {
			return content, content.AvailabilityRules.DisableDateTime, !visible
		})
}

// OfferScope carries what an offer projection needs beyond the product itself
type OfferScope struct {
	Stores []catalog.Store
	// Categories holds, per catalog, the categories the product is assigned to
	Categories map[string][]catalog.Category
	// Resolve loads bundle components
	Resolve catalog.ProductResolver
}

// BuildOffer builds one projection per store selling the product, either
// through its own catalog or through a catalog linking one of its
// categories. A store where the product has no visible category, or where
// the product (or a component) is hidden, gets a tombstone.
func (b *Builder) BuildOffer(p *catalog.Product, scope OfferScope, now time.Time) []Built {
	catalogs := []string{p.Catalog}
	for c := range scope.Categories {
		catalogs = append(catalogs, c)
	}
	stores := catalog.StoresForCatalogs(scope.Stores, catalog.SortedUnique(catalogs))
	if err := p.Validate(); err != nil {
		return failAll(projection.TypeOffer, p.Code, stores, err)
	}

	av := catalog.EffectiveAvailability(p, scope.Resolve)
	hidden := catalog.IsHiddenWithin(p, scope.Resolve)
	base := OfferContent{
		Code:         p.Code,
		Brand:        p.BrandCode,
		ProductType:  p.TypeCode,
		DisplayNames: p.Names.Canonical(),
		Items:        offerItems(p.Skus),
		Components:   components(p.Components),
		AvailabilityRules: OfferAvailability{
			EnableDateTime:  av.EnableDateTime,
			DisableDateTime: av.DisableDateTime,
			ReleaseDateTime: utc(p.ExpectedReleaseDate),
			CanDiscover:     av.Rules.CanDiscover,
			CanView:         av.Rules.CanView,
			CanAddToCart:    av.Rules.CanAddToCart,
		},
	}

	return b.fanOut(projection.TypeOffer, p.Code, stores, now,
		func(s catalog.Store) (any, *time.Time, bool) {
			content := base
			content.Categories = visibleCategories(scope.Categories[s.Catalog], now)
			tombstone := hidden || len(content.Categories) == 0 || (av.DisableDateTime != nil && !av.DisableDateTime.After(now))
			return content, av.DisableDateTime, tombstone
		})
}

// shape returns the content of one store, its expiry and whether it is a tombstone
type shape func(store catalog.Store) (content any, disable *time.Time, tombstone bool)

func (b *Builder) fanOut(t projection.Type, code string, stores []catalog.Store, now time.Time, fn shape) []Built {
	results := make([]Built, 0, len(stores))
	for _, s := range stores {
		key := projection.Key{Type: t, Store: s.Code, Code: code}
		if code == "" {
			results = append(results, Built{Key: key, Err: &BuildError{Key: key, Err: errEmptyCode}})
			continue
		}
		content, disable, tombstone := fn(s)
		if tombstone {
			results = append(results, Built{Key: key, Projection: projection.NewTombstone(key, disable, now)})
			continue
		}
		body, err := json.Marshal(content)
		if err != nil {
			results = append(results, Built{Key: key, Err: &BuildError{Key: key, Err: err}})
			continue
		}
		results = append(results, Built{Key: key, Projection: projection.New(key, body, disable, now)})
	}
	return results
}

func failAll(t projection.Type, code string, stores []catalog.Store, err error) []Built {
	results := make([]Built, 0, len(stores))
	for _, s := range stores {
		key := projection.Key{Type: t, Store: s.Code, Code: code}
		results = append(results, Built{Key: key, Err: &BuildError{Key: key, Err: err}})
	}
	return results
}

func visibleCategories(categories []catalog.Category, now time.Time) []string {
	codes := make([]string, 0, len(categories))
	for i := range categories {
		if categories[i].IsVisibleAt(now) {
			codes = append(codes, categories[i].Code)
		}
	}
	return catalog.SortedUnique(codes)
}

func offerItems(skus []catalog.Sku) []OfferItemContent {
	items := make([]OfferItemContent, 0, len(skus))
	for _, sku := range skus {
		item := OfferItemContent{Code: sku.Code}
		for option, value := range sku.OptionValues {
			item.OptionValues = append(item.OptionValues, OptionValuePair{Option: option, Value: value})
		}
		sort.Slice(item.OptionValues, func(i, j int) bool {
			return item.OptionValues[i].Option < item.OptionValues[j].Option
		})
		if sku.Shipping.Shippable {
			item.Shipping = &ShippingContent{
				Weight: sku.Shipping.Weight,
				Width:  sku.Shipping.Width,
				Length: sku.Shipping.Length,
				Height: sku.Shipping.Height,
			}
		}
		if sku.StartDate != nil || sku.EndDate != nil {
			item.Availability = &CategoryAvailability{DisableDateTime: utc(sku.EndDate)}
			if sku.StartDate != nil {
				item.Availability.EnableDateTime = sku.StartDate.UTC()
			}
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Code < items[j].Code })
	return items
}

func components(cs []catalog.BundleComponent) []ComponentContent {
	out := make([]ComponentContent, 0, len(cs))
	for _, c := range cs {
		out = append(out, ComponentContent{Offer: c.ProductCode, Quantity: c.Quantity})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offer < out[j].Offer })
	return out
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
