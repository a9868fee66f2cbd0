package catalogsync

// Bulk change event types published to the notification bus
const (
	EventTypeCategoryBulkUpdate          = "CATEGORY_BULK_UPDATE"
	EventTypeBrandBulkUpdate             = "BRAND_BULK_UPDATE"
	EventTypeOptionBulkUpdate            = "OPTION_BULK_UPDATE"
	EventTypeAttributeBulkUpdate         = "ATTRIBUTE_BULK_UPDATE"
	EventTypeAttributeSkuBulkUpdate      = "ATTRIBUTE_SKU_BULK_UPDATE"
	EventTypeAttributeCategoryBulkUpdate = "ATTRIBUTE_CATEGORY_BULK_UPDATE"
	EventTypeModifierGroupBulkUpdate     = "MODIFIER_GROUP_BULK_UPDATE"
	EventTypeOfferBulkUpdate             = "OFFER_BULK_UPDATE"
)

// PayloadKeyProducts is the payload field carrying a chunk of codes.
// Consumers read it for every bulk event type, categories included.
const PayloadKeyProducts = "products"

// DefaultBulkChangeMaxEventSize bounds the codes carried by one bulk event
const DefaultBulkChangeMaxEventSize = 1000
