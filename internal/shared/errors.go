package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input that is not covered by a more specific error.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidQuantity is returned for zero or negative quantities.
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")
	// ErrInsufficientStock matches every *InsufficientStockError.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOverReceipt indicates a receipt above the ordered quantity.
	ErrOverReceipt = errors.New("received quantity exceeds ordered quantity")
	// ErrOverPayment indicates a payment above the outstanding amount.
	ErrOverPayment = errors.New("payment exceeds grand total")
	// ErrInvalidState indicates an operation not allowed in the document's current status.
	ErrInvalidState = errors.New("invalid state")
	// ErrDuplicate indicates a unique identifier collision (SKU, barcode, document number).
	ErrDuplicate = errors.New("duplicate identifier")
	// ErrBusy is returned when a document lock cannot be obtained in time.
	ErrBusy = errors.New("resource busy")
)

// InsufficientStockError reports the stock available when a subtractive mutation was rejected.
type InsufficientStockError struct {
	ProductID int64
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: available %d, requested %d", e.ProductID, e.Available, e.Requested)
}

// Is lets errors.Is(err, ErrInsufficientStock) match.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
