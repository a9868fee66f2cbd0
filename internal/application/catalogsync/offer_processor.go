package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	projector "github.com/erp/catalogsync/internal/application/projection"
	"github.com/erp/catalogsync/internal/domain/catalog"
	"github.com/erp/catalogsync/internal/domain/projection"
	"github.com/erp/catalogsync/internal/domain/shared"
)

// NewOfferProcessor creates the processor of offer projections. A changed
// product also rewrites every bundle containing it, directly or through
// another bundle, and those bundles are the affected codes.
func NewOfferProcessor(deps ProcessorDeps) (*Processor, error) {
	p, err := newProcessor("OfferProcessor", catalog.KindOffer, projection.TypeOffer, deps)
	if err != nil {
		return nil, err
	}
	p.build = func(ctx context.Context, code string, now time.Time) ([]projector.Built, error) {
		return buildOffer(ctx, p.lookup, p.builder, code, now)
	}
	p.afterWrite = func(ctx context.Context, code string, now time.Time) ([]ScopeResult, error) {
		bundles, err := bundlesContaining(ctx, p.lookup, code)
		if err != nil {
			return nil, fmt.Errorf("resolve bundles containing %s: %w", code, err)
		}
		var results []ScopeResult
		for _, bundle := range bundles {
			built, err := buildOffer(ctx, p.lookup, p.builder, bundle, now)
			if err != nil {
				results = append(results, ScopeResult{
					Key: projection.Key{Type: projection.TypeOffer, Code: bundle},
					Err: fmt.Errorf("bundle %s: %w", bundle, err),
				})
				continue
			}
			results = append(results, p.scopes.write(ctx, p.writer, built)...)
		}
		return results, nil
	}
	p.affected = func(ctx context.Context, code string) (string, []string, error) {
		codes, err := bundlesContaining(ctx, p.lookup, code)
		return EventTypeOfferBulkUpdate, codes, err
	}
	return p, nil
}

func buildOffer(ctx context.Context, lookup catalog.Lookup, builder *projector.Builder, code string, now time.Time) ([]projector.Built, error) {
	product, err := lookup.Product(ctx, code)
	if err != nil {
		return nil, err
	}
	stores, err := lookup.Stores(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stores: %w", err)
	}
	categories, err := offerCategories(ctx, lookup, product)
	if err != nil {
		return nil, err
	}
	components, err := loadComponents(ctx, lookup, product)
	if err != nil {
		return nil, err
	}
	return builder.BuildOffer(product, projector.OfferScope{
		Stores:     stores,
		Categories: categories,
		Resolve:    func(code string) *catalog.Product { return components[code] },
	}, now), nil
}

// offerCategories groups by catalog the categories selling the product:
// its own categories plus every linked copy of them in other catalogs
func offerCategories(ctx context.Context, lookup catalog.Lookup, product *catalog.Product) (map[string][]catalog.Category, error) {
	out := make(map[string][]catalog.Category)
	if len(product.Categories) == 0 {
		return out, nil
	}
	own, err := lookup.CategoriesByCodes(ctx, product.Catalog, product.Categories)
	if err != nil {
		return nil, fmt.Errorf("load categories of %s: %w", product.Code, err)
	}
	out[product.Catalog] = own
	for _, c := range own {
		copies, err := lookup.LinkedCopies(ctx, c.Catalog, c.Code)
		if err != nil {
			return nil, fmt.Errorf("load linked copies of category %s: %w", c.Code, err)
		}
		for _, linked := range copies {
			out[linked.Catalog] = append(out[linked.Catalog], linked)
		}
	}
	return out, nil
}

// loadComponents loads the bundle component graph below product. Unknown
// components are left out and resolve to nil.
func loadComponents(ctx context.Context, lookup catalog.Lookup, product *catalog.Product) (map[string]*catalog.Product, error) {
	loaded := map[string]*catalog.Product{product.Code: product}
	queue := []*catalog.Product{product}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range cur.Components {
			if _, ok := loaded[c.ProductCode]; ok {
				continue
			}
			component, err := lookup.Product(ctx, c.ProductCode)
			if errors.Is(err, shared.ErrNotFound) {
				loaded[c.ProductCode] = nil
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("load component %s of %s: %w", c.ProductCode, cur.Code, err)
			}
			loaded[c.ProductCode] = component
			queue = append(queue, component)
		}
	}
	return loaded, nil
}

// bundlesContaining walks bundle membership upwards from code
func bundlesContaining(ctx context.Context, lookup catalog.ReferenceLookup, code string) ([]string, error) {
	visited := map[string]bool{code: true}
	queue := []string{code}
	var bundles []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		parents, err := lookup.BundlesContaining(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, b := range parents {
			if visited[b] {
				continue
			}
			visited[b] = true
			bundles = append(bundles, b)
			queue = append(queue, b)
		}
	}
	return catalog.SortedUnique(bundles), nil
}
