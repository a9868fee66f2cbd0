package catalogsync

import (
	"context"
	"fmt"
	"time"

	projector "github.com/erp/catalogsync/internal/application/projection"
	"github.com/erp/catalogsync/internal/domain/catalog"
	"github.com/erp/catalogsync/internal/domain/projection"
)

// NewAttributeProcessor creates the processor of attribute projections.
// The affected codes depend on where the attribute is used: products,
// product SKUs or categories.
func NewAttributeProcessor(deps ProcessorDeps) (*Processor, error) {
	p, err := newProcessor("AttributeProcessor", catalog.KindAttribute, projection.TypeAttribute, deps)
	if err != nil {
		return nil, err
	}
	p.build = func(ctx context.Context, code string, now time.Time) ([]projector.Built, error) {
		a, err := p.lookup.Attribute(ctx, code)
		if err != nil {
			return nil, err
		}
		stores, err := p.lookup.Stores(ctx)
		if err != nil {
			return nil, fmt.Errorf("load stores: %w", err)
		}
		return p.builder.BuildAttribute(a, stores, now), nil
	}
	p.affected = func(ctx context.Context, code string) (string, []string, error) {
		a, err := p.lookup.Attribute(ctx, code)
		if err != nil {
			return "", nil, err
		}
		switch a.Usage {
		case catalog.AttributeUsageSku:
			codes, err := p.lookup.ProductsBySkuAttribute(ctx, code)
			return EventTypeAttributeSkuBulkUpdate, codes, err
		case catalog.AttributeUsageCategory:
			codes, err := p.lookup.CategoriesByAttribute(ctx, code)
			return EventTypeAttributeCategoryBulkUpdate, codes, err
		default:
			codes, err := p.lookup.ProductsByAttribute(ctx, code)
			return EventTypeAttributeBulkUpdate, codes, err
		}
	}
	return p, nil
}
