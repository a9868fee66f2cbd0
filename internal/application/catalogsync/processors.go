package catalogsync

import (
	"context"
	"fmt"
	"time"

	projector "github.com/erp/catalogsync/internal/application/projection"
	"github.com/erp/catalogsync/internal/domain/catalog"
	"github.com/erp/catalogsync/internal/domain/projection"
)

// NewBrandProcessor creates the processor of brand projections
func NewBrandProcessor(deps ProcessorDeps) (*Processor, error) {
	p, err := newProcessor("BrandProcessor", catalog.KindBrand, projection.TypeBrand, deps)
	if err != nil {
		return nil, err
	}
	p.build = func(ctx context.Context, code string, now time.Time) ([]projector.Built, error) {
		b, err := p.lookup.Brand(ctx, code)
		if err != nil {
			return nil, err
		}
		stores, err := p.lookup.Stores(ctx)
		if err != nil {
			return nil, fmt.Errorf("load stores: %w", err)
		}
		return p.builder.BuildBrand(b, stores, now), nil
	}
	p.affected = func(ctx context.Context, code string) (string, []string, error) {
		codes, err := p.lookup.ProductsByBrand(ctx, code)
		return EventTypeBrandBulkUpdate, codes, err
	}
	return p, nil
}

// NewSkuOptionProcessor creates the processor of SKU option projections
func NewSkuOptionProcessor(deps ProcessorDeps) (*Processor, error) {
	p, err := newProcessor("SkuOptionProcessor", catalog.KindSkuOption, projection.TypeOption, deps)
	if err != nil {
		return nil, err
	}
	p.build = func(ctx context.Context, code string, now time.Time) ([]projector.Built, error) {
		o, err := p.lookup.SkuOption(ctx, code)
		if err != nil {
			return nil, err
		}
		stores, err := p.lookup.Stores(ctx)
		if err != nil {
			return nil, fmt.Errorf("load stores: %w", err)
		}
		return p.builder.BuildSkuOption(o, stores, now), nil
	}
	p.affected = func(ctx context.Context, code string) (string, []string, error) {
		codes, err := p.lookup.ProductsBySkuOption(ctx, code)
		return EventTypeOptionBulkUpdate, codes, err
	}
	return p, nil
}

// NewModifierGroupProcessor creates the processor of modifier group
// projections. Affected products are those whose type uses the group.
func NewModifierGroupProcessor(deps ProcessorDeps) (*Processor, error) {
	p, err := newProcessor("ModifierGroupProcessor", catalog.KindModifierGroup, projection.TypeModifierGroup, deps)
	if err != nil {
		return nil, err
	}
	p.build = func(ctx context.Context, code string, now time.Time) ([]projector.Built, error) {
		g, err := p.lookup.ModifierGroup(ctx, code)
		if err != nil {
			return nil, err
		}
		stores, err := p.lookup.Stores(ctx)
		if err != nil {
			return nil, fmt.Errorf("load stores: %w", err)
		}
		return p.builder.BuildModifierGroup(g, stores, now), nil
	}
	p.affected = func(ctx context.Context, code string) (string, []string, error) {
		codes, err := p.lookup.ProductsByModifierGroup(ctx, code)
		return EventTypeModifierGroupBulkUpdate, codes, err
	}
	return p, nil
}
