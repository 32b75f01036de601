package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the product lifecycle state.
type Status string

const (
	StatusActive       Status = "active"
	StatusInactive     Status = "inactive"
	StatusDiscontinued Status = "discontinued"
)

// Units accepted for products.
var Units = []string{"piece", "kg", "gram", "liter", "ml", "meter", "cm", "box", "pack", "dozen"}

// Defaults applied when a product is created without explicit levels.
const (
	DefaultUnit          = "piece"
	DefaultMinStockLevel = 5
	DefaultMaxStockLevel = 1000
	DefaultReorderPoint  = 10
)

// Product is a stock keeping unit together with its current on-hand quantity.
// CurrentStock is only ever written by the stock ledger.
type Product struct {
	ID            int64           `json:"id"`
	SKU           string          `json:"sku"`
	Barcode       string          `json:"barcode,omitempty"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	CategoryID    int64           `json:"category_id"`
	SupplierID    int64           `json:"supplier_id"`
	Unit          string          `json:"unit"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	CurrentStock  int64           `json:"current_stock"`
	MinStockLevel int64           `json:"min_stock_level"`
	MaxStockLevel int64           `json:"max_stock_level"`
	ReorderPoint  int64           `json:"reorder_point"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// IsLowStock reports whether stock has fallen to the minimum level.
func (p Product) IsLowStock() bool {
	return p.CurrentStock <= p.MinStockLevel
}

// IsOutOfStock reports whether nothing is on hand.
func (p Product) IsOutOfStock() bool {
	return p.CurrentStock == 0
}

// NeedsReorder reports whether stock has reached the reorder point.
func (p Product) NeedsReorder() bool {
	return p.CurrentStock <= p.ReorderPoint
}

// ProfitMargin returns the margin over cost in percent, or zero when cost is zero.
func (p Product) ProfitMargin() decimal.Decimal {
	if p.CostPrice.IsZero() {
		return decimal.Zero
	}
	return p.SellingPrice.Sub(p.CostPrice).Div(p.CostPrice).Mul(decimal.NewFromInt(100)).Round(2)
}

// CreateInput carries the fields of a new product.
type CreateInput struct {
	SKU           string
	Barcode       string
	Name          string
	Description   string
	CategoryID    int64
	SupplierID    int64
	Unit          string
	CostPrice     decimal.Decimal
	SellingPrice  decimal.Decimal
	TaxRate       decimal.Decimal
	InitialStock  int64
	MinStockLevel *int64
	MaxStockLevel *int64
	ReorderPoint  *int64
	ActorID       int64
}

// UpdateInput carries optional changes to non-stock fields.
type UpdateInput struct {
	Barcode       *string
	Name          *string
	Description   *string
	CategoryID    *int64
	SupplierID    *int64
	Unit          *string
	CostPrice     *decimal.Decimal
	SellingPrice  *decimal.Decimal
	TaxRate       *decimal.Decimal
	MinStockLevel *int64
	MaxStockLevel *int64
	ReorderPoint  *int64
	Status        *Status
	ActorID       int64
}

// ListFilter selects products for listing.
type ListFilter struct {
	Search     string
	Status     Status
	CategoryID int64
	Page       int
	PerPage    int
}
