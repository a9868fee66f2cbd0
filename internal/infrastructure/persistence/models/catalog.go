package models

import (
	"time"

	"github.com/erp/catalogsync/internal/domain/catalog"
)

// StoreModel is a storefront and the catalog it sells
type StoreModel struct {
	Code    string `gorm:"primaryKey;type:varchar(64)"`
	Catalog string `gorm:"type:varchar(64);not null;index"`
}

// TableName returns the table name for GORM
func (StoreModel) TableName() string {
	return "stores"
}

// ToDomain converts the row into a domain store
func (m *StoreModel) ToDomain() catalog.Store {
	return catalog.Store{Code: m.Code, Catalog: m.Catalog}
}

// CatalogModel is a master or virtual catalog
type CatalogModel struct {
	Code   string `gorm:"primaryKey;type:varchar(64)"`
	Master bool   `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CatalogModel) TableName() string {
	return "catalogs"
}

// CategoryModel is a category of one catalog
type CategoryModel struct {
	Catalog       string                 `gorm:"primaryKey;type:varchar(64)"`
	Code          string                 `gorm:"primaryKey;type:varchar(128)"`
	ParentCode    string                 `gorm:"type:varchar(128);index"`
	Names         catalog.LocalizedNames `gorm:"type:text;serializer:json"`
	Ordering      int                    `gorm:"not null;default:0"`
	StartDate     time.Time              `gorm:"not null"`
	EndDate       *time.Time
	Hidden        bool   `gorm:"not null;default:false"`
	Linked        bool   `gorm:"not null;default:false"`
	Included      bool   `gorm:"not null;default:false"`
	MasterCatalog string `gorm:"type:varchar(64);index"`
}

// TableName returns the table name for GORM
func (CategoryModel) TableName() string {
	return "categories"
}

// ToDomain converts the row into a domain category
func (m *CategoryModel) ToDomain() catalog.Category {
	return catalog.Category{
		Code:          m.Code,
		Catalog:       m.Catalog,
		ParentCode:    m.ParentCode,
		Names:         m.Names,
		Ordering:      m.Ordering,
		StartDate:     m.StartDate.UTC(),
		EndDate:       utc(m.EndDate),
		Hidden:        m.Hidden,
		Linked:        m.Linked,
		Included:      m.Included,
		MasterCatalog: m.MasterCatalog,
	}
}

// FromDomain populates the row from a domain category
func (m *CategoryModel) FromDomain(c *catalog.Category) {
	m.Catalog = c.Catalog
	m.Code = c.Code
	m.ParentCode = c.ParentCode
	m.Names = c.Names
	m.Ordering = c.Ordering
	m.StartDate = c.StartDate.UTC()
	m.EndDate = utc(c.EndDate)
	m.Hidden = c.Hidden
	m.Linked = c.Linked
	m.Included = c.Included
	m.MasterCatalog = c.MasterCatalog
}

// AttributeModel is a product, SKU or category attribute
type AttributeModel struct {
	Code       string                 `gorm:"primaryKey;type:varchar(128)"`
	Names      catalog.LocalizedNames `gorm:"type:text;serializer:json"`
	DataType   string                 `gorm:"type:varchar(32);not null"`
	MultiValue bool                   `gorm:"not null;default:false"`
	Usage      string                 `gorm:"type:varchar(16);not null"`
	Catalogs   []string               `gorm:"type:text;serializer:json"`
}

// TableName returns the table name for GORM
func (AttributeModel) TableName() string {
	return "attributes"
}

// ToDomain converts the row into a domain attribute
func (m *AttributeModel) ToDomain() *catalog.Attribute {
	return &catalog.Attribute{
		Code:       m.Code,
		Names:      m.Names,
		DataType:   m.DataType,
		MultiValue: m.MultiValue,
		Usage:      catalog.AttributeUsage(m.Usage),
		Catalogs:   m.Catalogs,
	}
}

// BrandModel is a product brand
type BrandModel struct {
	Code     string                 `gorm:"primaryKey;type:varchar(128)"`
	Names    catalog.LocalizedNames `gorm:"type:text;serializer:json"`
	Catalogs []string               `gorm:"type:text;serializer:json"`
}

// TableName returns the table name for GORM
func (BrandModel) TableName() string {
	return "brands"
}

// ToDomain converts the row into a domain brand
func (m *BrandModel) ToDomain() *catalog.Brand {
	return &catalog.Brand{Code: m.Code, Names: m.Names, Catalogs: m.Catalogs}
}

// SkuOptionModel is a SKU option with its values
type SkuOptionModel struct {
	Code     string                   `gorm:"primaryKey;type:varchar(128)"`
	Names    catalog.LocalizedNames   `gorm:"type:text;serializer:json"`
	Catalogs []string                 `gorm:"type:text;serializer:json"`
	Values   []catalog.SkuOptionValue `gorm:"type:text;serializer:json"`
}

// TableName returns the table name for GORM
func (SkuOptionModel) TableName() string {
	return "sku_options"
}

// ToDomain converts the row into a domain SKU option
func (m *SkuOptionModel) ToDomain() *catalog.SkuOption {
	return &catalog.SkuOption{Code: m.Code, Names: m.Names, Catalogs: m.Catalogs, Values: m.Values}
}

// ModifierGroupModel is a modifier group with its fields
type ModifierGroupModel struct {
	Code     string                  `gorm:"primaryKey;type:varchar(128)"`
	Names    catalog.LocalizedNames  `gorm:"type:text;serializer:json"`
	Catalogs []string                `gorm:"type:text;serializer:json"`
	Fields   []catalog.ModifierField `gorm:"type:text;serializer:json"`
}

// TableName returns the table name for GORM
func (ModifierGroupModel) TableName() string {
	return "modifier_groups"
}

// ToDomain converts the row into a domain modifier group
func (m *ModifierGroupModel) ToDomain() *catalog.ModifierGroup {
	return &catalog.ModifierGroup{Code: m.Code, Names: m.Names, Catalogs: m.Catalogs, Fields: m.Fields}
}

// ProductModel is a product or bundle; category links and components live
// in their own tables
type ProductModel struct {
	Code                string                 `gorm:"primaryKey;type:varchar(128)"`
	Catalog             string                 `gorm:"type:varchar(64);not null;index"`
	BrandCode           string                 `gorm:"type:varchar(128);index"`
	TypeCode            string                 `gorm:"type:varchar(128);index"`
	Names               catalog.LocalizedNames `gorm:"type:text;serializer:json"`
	Hidden              bool                   `gorm:"not null;default:false"`
	StartDate           time.Time              `gorm:"not null"`
	EndDate             *time.Time
	Availability        string `gorm:"type:varchar(32);not null"`
	ExpectedReleaseDate *time.Time
	Skus                []catalog.Sku `gorm:"type:text;serializer:json"`
}

// TableName returns the table name for GORM
func (ProductModel) TableName() string {
	return "products"
}

// ToDomain converts the row into a domain product without its links
func (m *ProductModel) ToDomain() *catalog.Product {
	return &catalog.Product{
		Code:                m.Code,
		Catalog:             m.Catalog,
		BrandCode:           m.BrandCode,
		TypeCode:            m.TypeCode,
		Names:               m.Names,
		Hidden:              m.Hidden,
		StartDate:           m.StartDate.UTC(),
		EndDate:             utc(m.EndDate),
		Availability:        catalog.AvailabilityCriteria(m.Availability),
		ExpectedReleaseDate: utc(m.ExpectedReleaseDate),
		Skus:                m.Skus,
	}
}

// ProductCategoryModel assigns a product to a category of its catalog
type ProductCategoryModel struct {
	ProductCode  string `gorm:"primaryKey;type:varchar(128)"`
	Catalog      string `gorm:"primaryKey;type:varchar(64)"`
	CategoryCode string `gorm:"primaryKey;type:varchar(128);index"`
}

// TableName returns the table name for GORM
func (ProductCategoryModel) TableName() string {
	return "product_categories"
}

// ProductComponentModel lists a component of a bundle
type ProductComponentModel struct {
	BundleCode    string `gorm:"primaryKey;type:varchar(128)"`
	ComponentCode string `gorm:"primaryKey;type:varchar(128);index"`
	Quantity      int    `gorm:"not null;default:1"`
}

// TableName returns the table name for GORM
func (ProductComponentModel) TableName() string {
	return "product_components"
}

// ProductAttributeModel records that a product, or one of its SKUs, carries an attribute
type ProductAttributeModel struct {
	ProductCode   string `gorm:"primaryKey;type:varchar(128)"`
	AttributeCode string `gorm:"primaryKey;type:varchar(128);index"`
	SkuLevel      bool   `gorm:"primaryKey"`
}

// TableName returns the table name for GORM
func (ProductAttributeModel) TableName() string {
	return "product_attributes"
}

// CategoryAttributeModel records that a category carries an attribute
type CategoryAttributeModel struct {
	Catalog       string `gorm:"primaryKey;type:varchar(64)"`
	CategoryCode  string `gorm:"primaryKey;type:varchar(128)"`
	AttributeCode string `gorm:"primaryKey;type:varchar(128);index"`
}

// TableName returns the table name for GORM
func (CategoryAttributeModel) TableName() string {
	return "category_attributes"
}

// ProductSkuOptionModel records that a product's SKUs vary along an option
type ProductSkuOptionModel struct {
	ProductCode string `gorm:"primaryKey;type:varchar(128)"`
	OptionCode  string `gorm:"primaryKey;type:varchar(128);index"`
}

// TableName returns the table name for GORM
func (ProductSkuOptionModel) TableName() string {
	return "product_sku_options"
}

// ProductTypeModifierGroupModel attaches a modifier group to a product type
type ProductTypeModifierGroupModel struct {
	TypeCode  string `gorm:"primaryKey;type:varchar(128)"`
	GroupCode string `gorm:"primaryKey;type:varchar(128);index"`
}

// TableName returns the table name for GORM
func (ProductTypeModifierGroupModel) TableName() string {
	return "product_type_modifier_groups"
}

// CatalogTables lists every catalog model, in dependency order
func CatalogTables() []any {
	return []any{
		&CatalogModel{},
		&StoreModel{},
		&CategoryModel{},
		&AttributeModel{},
		&BrandModel{},
		&SkuOptionModel{},
		&ModifierGroupModel{},
		&ProductModel{},
		&ProductCategoryModel{},
		&ProductComponentModel{},
		&ProductAttributeModel{},
		&CategoryAttributeModel{},
		&ProductSkuOptionModel{},
		&ProductTypeModifierGroupModel{},
	}
}

// ProjectionTables lists the projection store models
func ProjectionTables() []any {
	return []any{&ProjectionModel{}, &ProjectionHistoryModel{}}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
