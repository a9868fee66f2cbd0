package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/catalogsync/internal/domain/catalog"
	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/erp/catalogsync/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormCatalogLookup answers the engine's catalog queries from the catalog tables
type GormCatalogLookup struct {
	db *gorm.DB
}

// NewGormCatalogLookup creates a lookup reading db
func NewGormCatalogLookup(db *gorm.DB) *GormCatalogLookup {
	return &GormCatalogLookup{db: db}
}

func notFound(kind, code string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return shared.ErrNotFound.WithMessage(kind + " " + code + " not found")
	}
	return fmt.Errorf("load %s %s: %w", kind, code, err)
}

// Stores returns every store ordered by code
func (l *GormCatalogLookup) Stores(ctx context.Context) ([]catalog.Store, error) {
	var rows []models.StoreModel
	if err := l.db.WithContext(ctx).Order("code").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	return toStores(rows), nil
}

// StoresForCatalog returns the stores selling catalogCode
func (l *GormCatalogLookup) StoresForCatalog(ctx context.Context, catalogCode string) ([]catalog.Store, error) {
	var rows []models.StoreModel
	if err := l.db.WithContext(ctx).Where("catalog = ?", catalogCode).Order("code").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list stores of catalog %s: %w", catalogCode, err)
	}
	return toStores(rows), nil
}

func toStores(rows []models.StoreModel) []catalog.Store {
	out := make([]catalog.Store, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out
}

// Attribute loads an attribute by code
func (l *GormCatalogLookup) Attribute(ctx context.Context, code string) (*catalog.Attribute, error) {
	var row models.AttributeModel
	if err := l.db.WithContext(ctx).Where("code = ?", code).Take(&row).Error; err != nil {
		return nil, notFound("attribute", code, err)
	}
	return row.ToDomain(), nil
}

// Brand loads a brand by code
func (l *GormCatalogLookup) Brand(ctx context.Context, code string) (*catalog.Brand, error) {
	var row models.BrandModel
	if err := l.db.WithContext(ctx).Where("code = ?", code).Take(&row).Error; err != nil {
		return nil, notFound("brand", code, err)
	}
	return row.ToDomain(), nil
}

// SkuOption loads a SKU option by code
func (l *GormCatalogLookup) SkuOption(ctx context.Context, code string) (*catalog.SkuOption, error) {
	var row models.SkuOptionModel
	if err := l.db.WithContext(ctx).Where("code = ?", code).Take(&row).Error; err != nil {
		return nil, notFound("sku option", code, err)
	}
	return row.ToDomain(), nil
}

// ModifierGroup loads a modifier group by code
func (l *GormCatalogLookup) ModifierGroup(ctx context.Context, code string) (*catalog.ModifierGroup, error) {
	var row models.ModifierGroupModel
	if err := l.db.WithContext(ctx).Where("code = ?", code).Take(&row).Error; err != nil {
		return nil, notFound("modifier group", code, err)
	}
	return row.ToDomain(), nil
}

// Product loads a product with its category assignments and bundle components
func (l *GormCatalogLookup) Product(ctx context.Context, code string) (*catalog.Product, error) {
	db := l.db.WithContext(ctx)

	var row models.ProductModel
	if err := db.Where("code = ?", code).Take(&row).Error; err != nil {
		return nil, notFound("product", code, err)
	}
	p := row.ToDomain()

	if err := db.Model(&models.ProductCategoryModel{}).
		Where("product_code = ? AND catalog = ?", code, row.Catalog).
		Order("category_code").
		Pluck("category_code", &p.Categories).Error; err != nil {
		return nil, fmt.Errorf("load categories of product %s: %w", code, err)
	}

	var components []models.ProductComponentModel
	if err := db.Where("bundle_code = ?", code).Order("component_code").Find(&components).Error; err != nil {
		return nil, fmt.Errorf("load components of product %s: %w", code, err)
	}
	for _, c := range components {
		p.Components = append(p.Components, catalog.BundleComponent{ProductCode: c.ComponentCode, Quantity: c.Quantity})
	}
	return p, nil
}

// Category loads a category of a catalog
func (l *GormCatalogLookup) Category(ctx context.Context, catalogCode, code string) (*catalog.Category, error) {
	var row models.CategoryModel
	if err := l.db.WithContext(ctx).Where("catalog = ? AND code = ?", catalogCode, code).Take(&row).Error; err != nil {
		return nil, notFound("category", catalogCode+"/"+code, err)
	}
	c := row.ToDomain()
	return &c, nil
}

// CategoriesByCodes returns the categories of a catalog with the given codes
func (l *GormCatalogLookup) CategoriesByCodes(ctx context.Context, catalogCode string, codes []string) ([]catalog.Category, error) {
	if len(codes) == 0 {
		return []catalog.Category{}, nil
	}
	return l.categories(ctx, l.db.Where("catalog = ? AND code IN ?", catalogCode, codes))
}

// Children returns the direct children of a category in a catalog
func (l *GormCatalogLookup) Children(ctx context.Context, catalogCode, code string) ([]catalog.Category, error) {
	return l.categories(ctx, l.db.Where("catalog = ? AND parent_code = ?", catalogCode, code))
}

// LinkedCopies returns every linked category referring to a master category
func (l *GormCatalogLookup) LinkedCopies(ctx context.Context, masterCatalog, code string) ([]catalog.Category, error) {
	return l.categories(ctx, l.db.Where("linked = ? AND master_catalog = ? AND code = ?", true, masterCatalog, code))
}

// Categories returns every category of every catalog
func (l *GormCatalogLookup) Categories(ctx context.Context) ([]catalog.Category, error) {
	return l.categories(ctx, l.db)
}

func (l *GormCatalogLookup) categories(ctx context.Context, q *gorm.DB) ([]catalog.Category, error) {
	var rows []models.CategoryModel
	if err := q.WithContext(ctx).Order("catalog, code").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	out := make([]catalog.Category, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// Codes returns the codes of every entity of kind
func (l *GormCatalogLookup) Codes(ctx context.Context, kind catalog.EntityKind) ([]string, error) {
	var model any
	switch kind {
	case catalog.KindAttribute:
		model = &models.AttributeModel{}
	case catalog.KindBrand:
		model = &models.BrandModel{}
	case catalog.KindSkuOption:
		model = &models.SkuOptionModel{}
	case catalog.KindModifierGroup:
		model = &models.ModifierGroupModel{}
	case catalog.KindOffer:
		model = &models.ProductModel{}
	default:
		return nil, shared.ErrInvalidInput.WithMessage("cannot enumerate codes of " + string(kind))
	}
	var codes []string
	if err := l.db.WithContext(ctx).Model(model).Order("code").Pluck("code", &codes).Error; err != nil {
		return nil, fmt.Errorf("list %s codes: %w", kind, err)
	}
	return codes, nil
}

func (l *GormCatalogLookup) pluck(ctx context.Context, model any, column string, query string, args ...any) ([]string, error) {
	var codes []string
	err := l.db.WithContext(ctx).Model(model).
		Distinct(column).
		Where(query, args...).
		Order(column).
		Pluck(column, &codes).Error
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", column, err)
	}
	return codes, nil
}

// ProductsByAttribute returns products carrying attributeCode at product level
func (l *GormCatalogLookup) ProductsByAttribute(ctx context.Context, attributeCode string) ([]string, error) {
	return l.pluck(ctx, &models.ProductAttributeModel{}, "product_code", "attribute_code = ? AND sku_level = ?", attributeCode, false)
}

// ProductsBySkuAttribute returns products whose SKUs carry attributeCode
func (l *GormCatalogLookup) ProductsBySkuAttribute(ctx context.Context, attributeCode string) ([]string, error) {
	return l.pluck(ctx, &models.ProductAttributeModel{}, "product_code", "attribute_code = ? AND sku_level = ?", attributeCode, true)
}

// CategoriesByAttribute returns categories carrying attributeCode
func (l *GormCatalogLookup) CategoriesByAttribute(ctx context.Context, attributeCode string) ([]string, error) {
	return l.pluck(ctx, &models.CategoryAttributeModel{}, "category_code", "attribute_code = ?", attributeCode)
}

// ProductsByBrand returns products of a brand
func (l *GormCatalogLookup) ProductsByBrand(ctx context.Context, brandCode string) ([]string, error) {
	return l.pluck(ctx, &models.ProductModel{}, "code", "brand_code = ?", brandCode)
}

// ProductsBySkuOption returns products whose SKUs vary along optionCode
func (l *GormCatalogLookup) ProductsBySkuOption(ctx context.Context, optionCode string) ([]string, error) {
	return l.pluck(ctx, &models.ProductSkuOptionModel{}, "product_code", "option_code = ?", optionCode)
}

// ProductsByModifierGroup returns products whose type uses groupCode
func (l *GormCatalogLookup) ProductsByModifierGroup(ctx context.Context, groupCode string) ([]string, error) {
	sub := l.db.Model(&models.ProductTypeModifierGroupModel{}).Select("type_code").Where("group_code = ?", groupCode)
	return l.pluck(ctx, &models.ProductModel{}, "code", "type_code IN (?)", sub)
}

// ProductsInCategory returns the products directly assigned to a master category
func (l *GormCatalogLookup) ProductsInCategory(ctx context.Context, catalogCode, categoryCode string) ([]string, error) {
	return l.pluck(ctx, &models.ProductCategoryModel{}, "product_code", "catalog = ? AND category_code = ?", catalogCode, categoryCode)
}

// BundlesContaining returns the bundles listing productCode as a direct component
func (l *GormCatalogLookup) BundlesContaining(ctx context.Context, productCode string) ([]string, error) {
	return l.pluck(ctx, &models.ProductComponentModel{}, "bundle_code", "component_code = ?", productCode)
}

var _ catalog.Lookup = (*GormCatalogLookup)(nil)
