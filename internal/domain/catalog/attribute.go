package catalog

// AttributeUsage tells which entity kind an attribute describes
type AttributeUsage string

const (
	AttributeUsageProduct  AttributeUsage = "product"
	AttributeUsageSku      AttributeUsage = "sku"
	AttributeUsageCategory AttributeUsage = "category"
)

// Attribute is a typed property attached to products, SKUs or categories.
// An attribute with no catalogs is global and appears in every store.
type Attribute struct {
	Code       string
	Names      LocalizedNames
	DataType   string
	MultiValue bool
	Usage      AttributeUsage
	Catalogs   []string
}

// Brand is a product brand
type Brand struct {
	Code     string
	Names    LocalizedNames
	Catalogs []string
}
