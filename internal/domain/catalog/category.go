package catalog

import (
	"time"

	"github.com/erp/catalogsync/internal/domain/shared"
)

// Category is a node of a catalog's category tree. A linked category is a
// reference to the category with the same code in MasterCatalog; it owns no
// products and is shown only while Included.
type Category struct {
	Code          string
	Catalog       string
	ParentCode    string
	Names         LocalizedNames
	Ordering      int
	StartDate     time.Time
	EndDate       *time.Time
	Hidden        bool
	Linked        bool
	Included      bool
	MasterCatalog string
}

// Validate checks the fields every projection of a category relies on
func (c *Category) Validate() error {
	if c.Code == "" {
		return shared.ErrInvalidInput.WithMessage("category code cannot be empty")
	}
	if c.Catalog == "" {
		return shared.ErrInvalidInput.WithMessage("category " + c.Code + " has no catalog")
	}
	if c.Linked && c.MasterCatalog == "" {
		return shared.ErrInvalidInput.WithMessage("linked category " + c.Code + " has no master catalog")
	}
	return nil
}

// IsRoot reports whether the category has no parent
func (c *Category) IsRoot() bool {
	return c.ParentCode == ""
}

// IsVisibleAt reports whether the category should be live in stores at now
func (c *Category) IsVisibleAt(now time.Time) bool {
	if c.Hidden {
		return false
	}
	if c.Linked && !c.Included {
		return false
	}
	if c.StartDate.After(now) {
		return false
	}
	return c.EndDate == nil || c.EndDate.After(now)
}

// MasterKey returns the catalog and code owning this category's products
func (c *Category) MasterKey() (catalog, code string) {
	if c.Linked {
		return c.MasterCatalog, c.Code
	}
	return c.Catalog, c.Code
}
