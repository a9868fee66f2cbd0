package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/erp/catalogsync/internal/domain/catalog"
	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/erp/catalogsync/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newSeededLookup(t *testing.T) *GormCatalogLookup {
	t.Helper()
	db := newSQLiteDB(t)
	require.NoError(t, db.AutoMigrate(models.CatalogTables()...))
	seedCatalog(t, db)
	return NewGormCatalogLookup(db)
}

func seedCatalog(t *testing.T, db *gorm.DB) {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := []any{
		&models.CatalogModel{Code: "master", Master: true},
		&models.CatalogModel{Code: "outlet", Master: false},
		&models.StoreModel{Code: "eu", Catalog: "master"},
		&models.StoreModel{Code: "us", Catalog: "master"},
		&models.StoreModel{Code: "outlet-eu", Catalog: "outlet"},
		&models.CategoryModel{Catalog: "master", Code: "root", StartDate: start, Names: catalog.LocalizedNames{"en": "All"}},
		&models.CategoryModel{Catalog: "master", Code: "shoes", ParentCode: "root", StartDate: start, Ordering: 2},
		&models.CategoryModel{Catalog: "master", Code: "boots", ParentCode: "shoes", StartDate: start},
		&models.CategoryModel{Catalog: "outlet", Code: "shoes", StartDate: start, Linked: true, Included: true, MasterCatalog: "master"},
		&models.AttributeModel{Code: "colour", DataType: "text", Usage: "sku", Catalogs: []string{"master"}},
		&models.AttributeModel{Code: "material", DataType: "text", Usage: "product"},
		&models.BrandModel{Code: "acme", Names: catalog.LocalizedNames{"en": "Acme"}},
		&models.SkuOptionModel{Code: "size", Values: []catalog.SkuOptionValue{{Code: "42", Ordering: 1}}},
		&models.ModifierGroupModel{Code: "engraving", Fields: []catalog.ModifierField{{Code: "text", FieldType: "TEXT", MaxSize: 20}}},
		&models.ProductModel{
			Code: "P00001", Catalog: "master", BrandCode: "acme", TypeCode: "gift",
			StartDate: start, Availability: string(catalog.AlwaysAvailable),
			Skus: []catalog.Sku{{Code: "P00001-42", OptionValues: map[string]string{"size": "42"},
				Shipping: catalog.ShippingDetails{Shippable: true, Weight: decimal.RequireFromString("1.25")}}},
		},
		&models.ProductModel{Code: "P00002", Catalog: "master", BrandCode: "acme", StartDate: start, Availability: string(catalog.AvailableWhenInStock)},
		&models.ProductModel{Code: "B00001", Catalog: "master", StartDate: start, Availability: string(catalog.AlwaysAvailable)},
		&models.ProductCategoryModel{ProductCode: "P00001", Catalog: "master", CategoryCode: "shoes"},
		&models.ProductCategoryModel{ProductCode: "P00001", Catalog: "master", CategoryCode: "boots"},
		&models.ProductCategoryModel{ProductCode: "P00002", Catalog: "master", CategoryCode: "shoes"},
		&models.ProductComponentModel{BundleCode: "B00001", ComponentCode: "P00001", Quantity: 2},
		&models.ProductComponentModel{BundleCode: "B00001", ComponentCode: "P00002", Quantity: 1},
		&models.ProductAttributeModel{ProductCode: "P00001", AttributeCode: "material"},
		&models.ProductAttributeModel{ProductCode: "P00001", AttributeCode: "colour", SkuLevel: true},
		&models.ProductAttributeModel{ProductCode: "P00002", AttributeCode: "colour", SkuLevel: true},
		&models.CategoryAttributeModel{Catalog: "master", CategoryCode: "shoes", AttributeCode: "material"},
		&models.ProductSkuOptionModel{ProductCode: "P00001", OptionCode: "size"},
		&models.ProductTypeModifierGroupModel{TypeCode: "gift", GroupCode: "engraving"},
	}
	for _, row := range rows {
		require.NoError(t, db.Create(row).Error)
	}
}

func TestGormCatalogLookup_Stores(t *testing.T) {
	lookup := newSeededLookup(t)
	ctx := context.Background()

	stores, err := lookup.Stores(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"eu", "outlet-eu", "us"}, catalog.StoreCodes(stores))

	stores, err = lookup.StoresForCatalog(ctx, "master")
	require.NoError(t, err)
	assert.Equal(t, []string{"eu", "us"}, catalog.StoreCodes(stores))
}

func TestGormCatalogLookup_Product(t *testing.T) {
	lookup := newSeededLookup(t)
	ctx := context.Background()

	p, err := lookup.Product(ctx, "P00001")
	require.NoError(t, err)
	assert.Equal(t, "acme", p.BrandCode)
	assert.Equal(t, []string{"boots", "shoes"}, p.Categories)
	require.Len(t, p.Skus, 1)
	assert.True(t, p.Skus[0].Shipping.Weight.Equal(decimal.RequireFromString("1.25")))
	assert.False(t, p.IsBundle())

	bundle, err := lookup.Product(ctx, "B00001")
	require.NoError(t, err)
	assert.Equal(t, []catalog.BundleComponent{
		{ProductCode: "P00001", Quantity: 2},
		{ProductCode: "P00002", Quantity: 1},
	}, bundle.Components)

	_, err = lookup.Product(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormCatalogLookup_Entities(t *testing.T) {
	lookup := newSeededLookup(t)
	ctx := context.Background()

	attr, err := lookup.Attribute(ctx, "colour")
	require.NoError(t, err)
	assert.Equal(t, catalog.AttributeUsageSku, attr.Usage)
	assert.Equal(t, []string{"master"}, attr.Catalogs)

	brand, err := lookup.Brand(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme", brand.Names["en"])

	option, err := lookup.SkuOption(ctx, "size")
	require.NoError(t, err)
	require.Len(t, option.Values, 1)

	group, err := lookup.ModifierGroup(ctx, "engraving")
	require.NoError(t, err)
	assert.Equal(t, 20, group.Fields[0].MaxSize)

	_, err = lookup.Brand(ctx, "nope")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormCatalogLookup_Hierarchy(t *testing.T) {
	lookup := newSeededLookup(t)
	ctx := context.Background()

	c, err := lookup.Category(ctx, "master", "shoes")
	require.NoError(t, err)
	assert.Equal(t, "root", c.ParentCode)
	assert.Equal(t, 2, c.Ordering)

	children, err := lookup.Children(ctx, "master", "root")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "shoes", children[0].Code)

	copies, err := lookup.LinkedCopies(ctx, "master", "shoes")
	require.NoError(t, err)
	require.Len(t, copies, 1)
	assert.Equal(t, "outlet", copies[0].Catalog)
	assert.True(t, copies[0].Included)

	byCodes, err := lookup.CategoriesByCodes(ctx, "master", []string{"boots", "root", "ghost"})
	require.NoError(t, err)
	assert.Len(t, byCodes, 2)

	all, err := lookup.Categories(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	_, err = lookup.Category(ctx, "outlet", "boots")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormCatalogLookup_References(t *testing.T) {
	lookup := newSeededLookup(t)
	ctx := context.Background()

	tests := []struct {
		name string
		find func() ([]string, error)
		want []string
	}{
		{"products by attribute", func() ([]string, error) { return lookup.ProductsByAttribute(ctx, "material") }, []string{"P00001"}},
		{"products by sku attribute", func() ([]string, error) { return lookup.ProductsBySkuAttribute(ctx, "colour") }, []string{"P00001", "P00002"}},
		{"categories by attribute", func() ([]string, error) { return lookup.CategoriesByAttribute(ctx, "material") }, []string{"shoes"}},
		{"products by brand", func() ([]string, error) { return lookup.ProductsByBrand(ctx, "acme") }, []string{"P00001", "P00002"}},
		{"products by sku option", func() ([]string, error) { return lookup.ProductsBySkuOption(ctx, "size") }, []string{"P00001"}},
		{"products by modifier group", func() ([]string, error) { return lookup.ProductsByModifierGroup(ctx, "engraving") }, []string{"P00001"}},
		{"products in category", func() ([]string, error) { return lookup.ProductsInCategory(ctx, "master", "shoes") }, []string{"P00001", "P00002"}},
		{"bundles containing", func() ([]string, error) { return lookup.BundlesContaining(ctx, "P00002") }, []string{"B00001"}},
		{"codes of offers", func() ([]string, error) { return lookup.Codes(ctx, catalog.KindOffer) }, []string{"B00001", "P00001", "P00002"}},
		{"codes of brands", func() ([]string, error) { return lookup.Codes(ctx, catalog.KindBrand) }, []string{"acme"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.find()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := lookup.Codes(ctx, catalog.KindCategory)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}
