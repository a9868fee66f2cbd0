package catalog

// SkuOption is a dimension along which a product's SKUs vary (size, colour)
type SkuOption struct {
	Code     string
	Names    LocalizedNames
	Catalogs []string
	Values   []SkuOptionValue
}

// SkuOptionValue is one selectable value of a SKU option
type SkuOptionValue struct {
	Code     string
	Ordering int
	Names    LocalizedNames
}

// ModifierGroup is a set of cart item modifier fields shared by product types
type ModifierGroup struct {
	Code     string
	Names    LocalizedNames
	Catalogs []string
	Fields   []ModifierField
}

// ModifierField is one input a shopper fills in when adding an item to the cart
type ModifierField struct {
	Code      string
	FieldType string
	Required  bool
	MaxSize   int
	Ordering  int
	Names     LocalizedNames
	Options   []ModifierFieldOption
}

// ModifierFieldOption is a pick-list value of a modifier field
type ModifierFieldOption struct {
	Value    string
	Ordering int
	Names    LocalizedNames
}
