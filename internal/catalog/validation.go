package catalog

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/storekeep/storekeep/internal/shared"
)

// NormalizeSKU trims and upper-cases a SKU so lookups are case-insensitive.
func NormalizeSKU(sku string) string {
	// Casers keep state, so each call gets its own.
	return cases.Upper(language.Und).String(strings.TrimSpace(sku))
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("catalog: "+format+": %w", append(args, shared.ErrValidation)...)
}

func validate(p Product) error {
	if p.SKU == "" {
		return invalid("sku is required")
	}
	if len(p.SKU) > 50 {
		return invalid("sku must be at most 50 characters")
	}
	if len(p.Barcode) > 50 {
		return invalid("barcode must be at most 50 characters")
	}
	name := strings.TrimSpace(p.Name)
	if len(name) < 2 || len(name) > 100 {
		return invalid("name must be 2 to 100 characters")
	}
	if len(p.Description) > 500 {
		return invalid("description must be at most 500 characters")
	}
	if !slices.Contains(Units, p.Unit) {
		return invalid("unknown unit %q", p.Unit)
	}
	if p.CostPrice.IsNegative() || p.SellingPrice.IsNegative() {
		return invalid("prices must not be negative")
	}
	if p.TaxRate.IsNegative() || p.TaxRate.GreaterThan(hundred) {
		return invalid("tax rate must be between 0 and 100")
	}
	if p.MinStockLevel < 0 || p.MaxStockLevel < 0 || p.ReorderPoint < 0 {
		return invalid("stock levels must not be negative")
	}
	if p.MaxStockLevel > 0 && p.MinStockLevel >= p.MaxStockLevel {
		return invalid("minimum stock level must be less than maximum stock level")
	}
	switch p.Status {
	case StatusActive, StatusInactive, StatusDiscontinued:
	default:
		return invalid("unknown status %q", p.Status)
	}
	return nil
}
