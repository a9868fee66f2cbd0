package catalog

import "context"

// Loaders return shared.ErrNotFound when the entity does not exist.

// StoreLookup answers questions about stores and their catalogs
type StoreLookup interface {
	Stores(ctx context.Context) ([]Store, error)
	StoresForCatalog(ctx context.Context, catalog string) ([]Store, error)
}

// EntityLookup loads the current state of catalog entities
type EntityLookup interface {
	Attribute(ctx context.Context, code string) (*Attribute, error)
	Brand(ctx context.Context, code string) (*Brand, error)
	SkuOption(ctx context.Context, code string) (*SkuOption, error)
	ModifierGroup(ctx context.Context, code string) (*ModifierGroup, error)
	Product(ctx context.Context, code string) (*Product, error)
	Category(ctx context.Context, catalog, code string) (*Category, error)
	// CategoriesByCodes returns the categories of a catalog with the given codes
	CategoriesByCodes(ctx context.Context, catalog string, codes []string) ([]Category, error)
}

// ReferenceLookup finds the higher-level entities implicated by a change
type ReferenceLookup interface {
	ProductsByAttribute(ctx context.Context, attributeCode string) ([]string, error)
	ProductsBySkuAttribute(ctx context.Context, attributeCode string) ([]string, error)
	CategoriesByAttribute(ctx context.Context, attributeCode string) ([]string, error)
	ProductsByBrand(ctx context.Context, brandCode string) ([]string, error)
	ProductsBySkuOption(ctx context.Context, optionCode string) ([]string, error)
	ProductsByModifierGroup(ctx context.Context, groupCode string) ([]string, error)
	// ProductsInCategory returns the products directly assigned to a master category
	ProductsInCategory(ctx context.Context, catalog, categoryCode string) ([]string, error)
	// BundlesContaining returns the bundles listing productCode as a direct component
	BundlesContaining(ctx context.Context, productCode string) ([]string, error)
}

// HierarchyLookup walks category trees
type HierarchyLookup interface {
	// Children returns the direct children of a category in a catalog
	Children(ctx context.Context, catalog, code string) ([]Category, error)
	// LinkedCopies returns every linked category referring to a master category
	LinkedCopies(ctx context.Context, masterCatalog, code string) ([]Category, error)
}

// EnumerationLookup lists every entity of a kind, for full rebuilds
type EnumerationLookup interface {
	// Codes returns the codes of every attribute, brand, SKU option,
	// modifier group or product
	Codes(ctx context.Context, kind EntityKind) ([]string, error)
	// Categories returns every category of every catalog
	Categories(ctx context.Context) ([]Category, error)
}

// Lookup combines every read-only query the engine needs
type Lookup interface {
	StoreLookup
	EntityLookup
	ReferenceLookup
	HierarchyLookup
	EnumerationLookup
}
