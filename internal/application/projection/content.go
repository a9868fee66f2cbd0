package projection

import (
	"time"

	"github.com/shopspring/decimal"
)

// Content bodies are serialized with encoding/json: struct fields keep their
// declared order and map keys are sorted, so equal input gives equal bytes.

// AttributeContent is the body of an attribute projection
type AttributeContent struct {
	Code         string            `json:"code"`
	DataType     string            `json:"dataType"`
	MultiValue   bool              `json:"multiValue"`
	Usage        string            `json:"usage"`
	DisplayNames map[string]string `json:"displayNames"`
}

// BrandContent is the body of a brand projection
type BrandContent struct {
	Code         string            `json:"code"`
	DisplayNames map[string]string `json:"displayNames"`
}

// OptionContent is the body of a SKU option projection
type OptionContent struct {
	Code         string               `json:"code"`
	DisplayNames map[string]string    `json:"displayNames"`
	Values       []OptionValueContent `json:"optionValues"`
}

// OptionValueContent is one value of a SKU option
type OptionValueContent struct {
	Value        string            `json:"value"`
	Ordering     int               `json:"ordering"`
	DisplayNames map[string]string `json:"displayNames"`
}

// ModifierGroupContent is the body of a modifier group projection
type ModifierGroupContent struct {
	Code         string                 `json:"code"`
	DisplayNames map[string]string      `json:"displayNames"`
	Fields       []ModifierFieldContent `json:"modifierFields"`
}

// ModifierFieldContent is one field of a modifier group
type ModifierFieldContent struct {
	Code         string                  `json:"code"`
	FieldType    string                  `json:"fieldType"`
	Required     bool                    `json:"required"`
	MaxSize      int                     `json:"maxSize,omitempty"`
	Ordering     int                     `json:"ordering"`
	DisplayNames map[string]string       `json:"displayNames"`
	Options      []ModifierOptionContent `json:"modifierFieldOptions,omitempty"`
}

// ModifierOptionContent is one pick-list value of a modifier field
type ModifierOptionContent struct {
	Value        string            `json:"value"`
	Ordering     int               `json:"ordering"`
	DisplayNames map[string]string `json:"displayNames"`
}

// CategoryContent is the body of a category projection
type CategoryContent struct {
	Code              string               `json:"code"`
	Catalog           string               `json:"catalog"`
	Parent            string               `json:"parent,omitempty"`
	Children          []string             `json:"children"`
	Path              []string             `json:"path"`
	DisplayNames      map[string]string    `json:"displayNames"`
	Ordering          int                  `json:"ordering"`
	MasterCatalog     string               `json:"masterCatalog,omitempty"`
	AvailabilityRules CategoryAvailability `json:"availabilityRules"`
}

// CategoryAvailability is the display window of a category
type CategoryAvailability struct {
	EnableDateTime  time.Time  `json:"enableDateTime"`
	DisableDateTime *time.Time `json:"disableDateTime,omitempty"`
}

// OfferContent is the body of an offer projection
type OfferContent struct {
	Code              string             `json:"code"`
	Brand             string             `json:"brand,omitempty"`
	ProductType       string             `json:"productType,omitempty"`
	DisplayNames      map[string]string  `json:"displayNames"`
	Categories        []string           `json:"categories"`
	Items             []OfferItemContent `json:"items"`
	Components        []ComponentContent `json:"components,omitempty"`
	AvailabilityRules OfferAvailability  `json:"availabilityRules"`
}

// OfferItemContent is one SKU of an offer
type OfferItemContent struct {
	Code         string                `json:"code"`
	OptionValues []OptionValuePair     `json:"options,omitempty"`
	Shipping     *ShippingContent      `json:"shippingProperties,omitempty"`
	Availability *CategoryAvailability `json:"availability,omitempty"`
}

// OptionValuePair names the value a SKU has for one option
type OptionValuePair struct {
	Option string `json:"option"`
	Value  string `json:"value"`
}

// ShippingContent holds the physical properties of an item
type ShippingContent struct {
	Weight decimal.Decimal `json:"weight"`
	Width  decimal.Decimal `json:"width"`
	Length decimal.Decimal `json:"length"`
	Height decimal.Decimal `json:"height"`
}

// ComponentContent is one constituent of a bundle
type ComponentContent struct {
	Offer    string `json:"offer"`
	Quantity int    `json:"quantity"`
}

// OfferAvailability is the effective selling window and release rules of an offer
type OfferAvailability struct {
	EnableDateTime  time.Time  `json:"enableDateTime"`
	DisableDateTime *time.Time `json:"disableDateTime,omitempty"`
	ReleaseDateTime *time.Time `json:"releaseDateTime,omitempty"`
	CanDiscover     []string   `json:"canDiscover"`
	CanView         []string   `json:"canView"`
	CanAddToCart    []string   `json:"canAddToCart"`
}
