package procurement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storekeep/storekeep/internal/shared"
)

// POStatus is the purchase order lifecycle status.
type POStatus string

const (
	POStatusPending         POStatus = "pending"
	POStatusConfirmed       POStatus = "confirmed"
	POStatusPartialReceived POStatus = "partial_received"
	POStatusReceived        POStatus = "received"
	POStatusCancelled       POStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s POStatus) Terminal() bool {
	return s == POStatusReceived || s == POStatusCancelled
}

var (
	// ErrInvalidState indicates an operation not allowed in the order's status.
	ErrInvalidState = fmt.Errorf("procurement: %w", shared.ErrInvalidState)
	// ErrNotFound indicates a missing order.
	ErrNotFound = fmt.Errorf("procurement: purchase order %w", shared.ErrNotFound)
	// ErrLineNotFound indicates a receipt for a product the order does not contain.
	ErrLineNotFound = fmt.Errorf("procurement: product not on order: %w", shared.ErrNotFound)
	// ErrValidation wraps malformed order input.
	ErrValidation = fmt.Errorf("procurement: %w", shared.ErrValidation)
)

// POLine is one ordered product.
type POLine struct {
	ID               int64           `json:"id"`
	ProductID        int64           `json:"product_id"`
	Quantity         int64           `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	TotalPrice       decimal.Decimal `json:"total_price"`
	ReceivedQuantity int64           `json:"received_quantity"`
}

// Remaining returns the quantity still expected.
func (l POLine) Remaining() int64 {
	return l.Quantity - l.ReceivedQuantity
}

// PurchaseOrder is an order placed with a supplier.
type PurchaseOrder struct {
	ID                   int64                `json:"id"`
	Number               string               `json:"order_number"`
	SupplierID           int64                `json:"supplier_id"`
	Lines                []POLine             `json:"items"`
	OrderDate            time.Time            `json:"order_date"`
	ExpectedDeliveryDate *time.Time           `json:"expected_delivery_date,omitempty"`
	ActualDeliveryDate   *time.Time           `json:"actual_delivery_date,omitempty"`
	Status               POStatus             `json:"status"`
	Subtotal             decimal.Decimal      `json:"subtotal"`
	TaxAmount            decimal.Decimal      `json:"tax_amount"`
	DiscountAmount       decimal.Decimal      `json:"discount_amount"`
	TotalAmount          decimal.Decimal      `json:"total_amount"`
	PaidAmount           decimal.Decimal      `json:"paid_amount"`
	PaymentStatus        shared.PaymentStatus `json:"payment_status"`
	Notes                string               `json:"notes,omitempty"`
	CreatedBy            int64                `json:"created_by"`
	ReceivedBy           int64                `json:"received_by,omitempty"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// HasReceipts reports whether any line has been (partly) received.
func (po PurchaseOrder) HasReceipts() bool {
	for _, l := range po.Lines {
		if l.ReceivedQuantity > 0 {
			return true
		}
	}
	return false
}

// FullyReceived reports whether every line is received in full.
func (po PurchaseOrder) FullyReceived() bool {
	if len(po.Lines) == 0 {
		return false
	}
	for _, l := range po.Lines {
		if l.ReceivedQuantity < l.Quantity {
			return false
		}
	}
	return true
}

// lineIndex returns the index of the line for productID, or -1.
func (po PurchaseOrder) lineIndex(productID int64) int {
	for i, l := range po.Lines {
		if l.ProductID == productID {
			return i
		}
	}
	return -1
}

// DeriveStatus computes the status implied by received quantities. Cancelled orders
// stay cancelled, and orders without receipts keep their current status.
func DeriveStatus(po PurchaseOrder) POStatus {
	switch {
	case po.Status == POStatusCancelled:
		return POStatusCancelled
	case po.FullyReceived():
		return POStatusReceived
	case po.HasReceipts():
		return POStatusPartialReceived
	default:
		return po.Status
	}
}

// Recalculate derives line totals, order totals, payment status and status.
// It is a pure function of the order's lines and amounts.
func Recalculate(po *PurchaseOrder) {
	subtotal := decimal.Zero
	for i := range po.Lines {
		line := &po.Lines[i]
		line.TotalPrice = line.UnitPrice.Mul(decimal.NewFromInt(line.Quantity))
		subtotal = subtotal.Add(line.TotalPrice)
	}
	po.Subtotal = subtotal
	po.TotalAmount = subtotal.Add(po.TaxAmount).Sub(po.DiscountAmount)
	po.PaymentStatus = shared.DerivePaymentStatus(po.PaidAmount, po.TotalAmount)
	po.Status = DeriveStatus(*po)
}

// LineInput describes an ordered product.
type LineInput struct {
	ProductID int64
	Quantity  int64
	UnitPrice decimal.Decimal
}

// CreateInput describes a new purchase order.
type CreateInput struct {
	SupplierID           int64
	Lines                []LineInput
	ExpectedDeliveryDate *time.Time
	TaxAmount            decimal.Decimal
	DiscountAmount       decimal.Decimal
	Notes                string
	ActorID              int64
}

// UpdateInput carries optional changes. Lines may only be replaced before any receipt.
type UpdateInput struct {
	SupplierID           *int64
	Lines                []LineInput
	ExpectedDeliveryDate *time.Time
	TaxAmount            *decimal.Decimal
	DiscountAmount       *decimal.Decimal
	Notes                *string
	ActorID              int64
}

// ReceiveItem is one product/quantity pair in a receipt.
type ReceiveItem struct {
	ProductID int64
	Quantity  int64
}

// ReceiveInput describes a goods receipt against an order.
type ReceiveInput struct {
	OrderID int64
	Items   []ReceiveItem
	ActorID int64
}

// ListFilter selects purchase orders.
type ListFilter struct {
	Status     POStatus
	SupplierID int64
	From       time.Time
	To         time.Time
	Page       int
	PerPage    int
}
