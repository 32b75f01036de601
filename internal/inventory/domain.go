package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storekeep/storekeep/internal/shared"
)

// TransactionType enumerates ledger entry types.
type TransactionType string

const (
	TypeStockIn    TransactionType = "stock_in"
	TypeStockOut   TransactionType = "stock_out"
	TypeAdjustment TransactionType = "adjustment"
	TypePurchase   TransactionType = "purchase"
	TypeSale       TransactionType = "sale"
	TypeReturn     TransactionType = "return"
	TypeDamaged    TransactionType = "damaged"
	TypeTransfer   TransactionType = "transfer"
	TypeInitial    TransactionType = "initial"
)

// Valid reports whether t is a known ledger type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeStockIn, TypeStockOut, TypeAdjustment, TypePurchase, TypeSale,
		TypeReturn, TypeDamaged, TypeTransfer, TypeInitial:
		return true
	}
	return false
}

// Manual reports whether t may be posted directly by staff rather than by an order or sale.
func (t TransactionType) Manual() bool {
	switch t {
	case TypeStockIn, TypeStockOut, TypeAdjustment, TypeDamaged, TypeTransfer:
		return true
	}
	return false
}

// fixedDirection returns the direction implied by t, or false for types whose
// direction is chosen per entry (adjustment, transfer).
func (t TransactionType) fixedDirection() (Direction, bool) {
	switch t {
	case TypeStockIn, TypePurchase, TypeReturn, TypeInitial:
		return DirectionIn, true
	case TypeStockOut, TypeSale, TypeDamaged:
		return DirectionOut, true
	}
	return 0, false
}

// Direction is the sign of a ledger entry.
type Direction int

const (
	DirectionIn  Direction = 1
	DirectionOut Direction = -1
)

func (d Direction) String() string {
	if d == DirectionOut {
		return "out"
	}
	return "in"
}

// ParseDirection accepts "in"/"increase" and "out"/"decrease".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "in", "increase":
		return DirectionIn, nil
	case "out", "decrease":
		return DirectionOut, nil
	}
	return 0, ErrInvalidDirection
}

// MarshalText renders the direction as "in" or "out".
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses the output of MarshalText.
func (d *Direction) UnmarshalText(b []byte) error {
	parsed, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

var (
	// ErrInvalidType indicates an unknown or disallowed transaction type.
	ErrInvalidType = fmt.Errorf("inventory: invalid transaction type: %w", shared.ErrValidation)
	// ErrInvalidDirection indicates a missing or unknown direction for adjustment/transfer entries.
	ErrInvalidDirection = fmt.Errorf("inventory: invalid direction: %w", shared.ErrValidation)
	// ErrInvalidUnitPrice indicates a negative unit price.
	ErrInvalidUnitPrice = fmt.Errorf("inventory: invalid unit price: %w", shared.ErrValidation)
	// ErrProductRequired indicates a missing product id.
	ErrProductRequired = fmt.Errorf("inventory: product required: %w", shared.ErrValidation)
	// ErrProductNotFound indicates the product does not exist.
	ErrProductNotFound = fmt.Errorf("inventory: product %w", shared.ErrNotFound)
)

// Customer snapshots the buyer on sale and return entries.
type Customer struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// Entry is one immutable ledger line.
type Entry struct {
	ID            int64           `json:"id"`
	ProductID     int64           `json:"product_id"`
	Type          TransactionType `json:"type"`
	Direction     Direction       `json:"direction"`
	Quantity      int64           `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PreviousStock int64           `json:"previous_stock"`
	NewStock      int64           `json:"new_stock"`
	Reference     string          `json:"reference,omitempty"`
	RefID         string          `json:"ref_id"`
	SupplierID    int64           `json:"supplier_id,omitempty"`
	Customer      *Customer       `json:"customer,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	ActorID       int64           `json:"actor_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SignedQuantity returns the quantity with the entry's direction applied.
func (e Entry) SignedQuantity() int64 {
	return int64(e.Direction) * e.Quantity
}

// Chained reports whether e's stock movement is internally consistent.
func (e Entry) Chained() bool {
	return e.Quantity > 0 && e.NewStock-e.PreviousStock == e.SignedQuantity()
}

// MutationInput describes one stock mutation.
type MutationInput struct {
	ProductID int64
	Type      TransactionType
	// Direction is required for adjustment and transfer entries and ignored otherwise.
	Direction Direction
	Quantity  int64
	// UnitPrice defaults to the product cost price when nil.
	UnitPrice      *decimal.Decimal
	Reference      string
	SupplierID     int64
	Customer       *Customer
	Notes          string
	ActorID        int64
	IdempotencyKey string
}

// DuplicateMutationError reports an idempotency key that already produced a ledger
// entry. Entry is empty when the collision was only caught by the ledger's unique index.
type DuplicateMutationError struct {
	Key   string
	Entry Entry
}

func (e *DuplicateMutationError) Error() string {
	if e.Entry.ID == 0 {
		return fmt.Sprintf("inventory: mutation %q already recorded", e.Key)
	}
	return fmt.Sprintf("inventory: mutation %q already recorded as entry %d (%s %d of product %d)",
		e.Key, e.Entry.ID, e.Entry.Type, e.Entry.Quantity, e.Entry.ProductID)
}

func (e *DuplicateMutationError) Is(target error) bool {
	return target == shared.ErrDuplicate
}

// Recorded reports whether the existing entry is the mutation in describes. Callers
// retrying their own work use it to tell a replay from a foreign key collision.
func (e *DuplicateMutationError) Recorded(in MutationInput) bool {
	return e.Entry.ID != 0 &&
		e.Entry.ProductID == in.ProductID &&
		e.Entry.Type == in.Type &&
		e.Entry.Quantity == in.Quantity
}

// MutationResult reports the outcome of an applied mutation.
type MutationResult struct {
	Entry         Entry `json:"entry"`
	PreviousStock int64 `json:"previous_stock"`
	NewStock      int64 `json:"new_stock"`
}

// StockRecord is the locked view of a product used while mutating.
type StockRecord struct {
	ProductID    int64
	SKU          string
	CurrentStock int64
	CostPrice    decimal.Decimal
}

// HistoryFilter selects a page of ledger entries for one product.
type HistoryFilter struct {
	ProductID int64
	Page      int
	PerPage   int
}

// StockSummary compares a product's current stock with its ledger.
type StockSummary struct {
	ProductID    int64  `json:"product_id"`
	SKU          string `json:"sku"`
	CurrentStock int64  `json:"current_stock"`
	LedgerSum    int64  `json:"ledger_sum"`
	Entries      int64  `json:"entries"`
}

// Balanced reports whether current stock equals the signed ledger sum.
func (s StockSummary) Balanced() bool {
	return s.CurrentStock == s.LedgerSum
}
