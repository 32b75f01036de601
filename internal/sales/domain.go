package sales

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storekeep/storekeep/internal/shared"
)

// ============================================================================
// STATUS & PAYMENT METHOD
// ============================================================================

// Status is the sale lifecycle status.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusReturned  Status = "returned"
)

// Closed reports whether the sale no longer accepts payments or edits.
func (s Status) Closed() bool {
	return s == StatusCancelled || s == StatusReturned
}

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentCard         PaymentMethod = "card"
	PaymentUPI          PaymentMethod = "upi"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentCredit       PaymentMethod = "credit"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentUPI, PaymentBankTransfer, PaymentCredit:
		return true
	}
	return false
}

var (
	// ErrInvalidState indicates an operation not allowed for the sale's status.
	ErrInvalidState = fmt.Errorf("sales: %w", shared.ErrInvalidState)
	// ErrNotFound indicates a missing sale.
	ErrNotFound = fmt.Errorf("sales: sale %w", shared.ErrNotFound)
	// ErrValidation wraps malformed sale input.
	ErrValidation = fmt.Errorf("sales: %w", shared.ErrValidation)
)

// AllocationError reports a sale that was recorded but could not take its stock.
// The sale has been cancelled and any stock already taken returned.
type AllocationError struct {
	InvoiceNumber string
	SaleID        int64
	Err           error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("sales: allocate stock for %s: %v", e.InvoiceNumber, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// IsAllocationError reports whether err carries an AllocationError.
func IsAllocationError(err error) bool {
	var target *AllocationError
	return errors.As(err, &target)
}

// ============================================================================
// SALE
// ============================================================================

// Customer is the buyer snapshot kept on the invoice.
type Customer struct {
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	Address   string `json:"address,omitempty"`
	GSTNumber string `json:"gst_number,omitempty"`
}

// Line is one invoiced product. Lines never change after the sale is created.
type Line struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	SKU         string          `json:"sku"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal `json:"discount"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

// Gross is quantity times unit price.
func (l Line) Gross() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
}

// Sale is a point-of-sale invoice.
type Sale struct {
	ID            int64                `json:"id"`
	InvoiceNumber string               `json:"invoice_number"`
	Customer      Customer             `json:"customer"`
	Lines         []Line               `json:"items"`
	Subtotal      decimal.Decimal      `json:"subtotal"`
	TotalDiscount decimal.Decimal      `json:"total_discount"`
	TotalTax      decimal.Decimal      `json:"total_tax"`
	GrandTotal    decimal.Decimal      `json:"grand_total"`
	PaidAmount    decimal.Decimal      `json:"paid_amount"`
	PaymentStatus shared.PaymentStatus `json:"payment_status"`
	PaymentMethod PaymentMethod        `json:"payment_method"`
	Status        Status               `json:"status"`
	DueDate       *time.Time           `json:"due_date,omitempty"`
	Notes         string               `json:"notes,omitempty"`
	SoldBy        int64                `json:"sold_by"`
	SaleDate      time.Time            `json:"sale_date"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// Balance is the amount still owed.
func (s Sale) Balance() decimal.Decimal {
	return s.GrandTotal.Sub(s.PaidAmount)
}

var hundred = decimal.NewFromInt(100)

// Recalculate derives line tax and totals, the invoice totals and the payment status.
// Tax is rounded to cents per line so the invoice sums what is printed.
func Recalculate(sale *Sale) {
	subtotal, discount, tax := decimal.Zero, decimal.Zero, decimal.Zero
	for i := range sale.Lines {
		line := &sale.Lines[i]
		gross := line.Gross()
		net := gross.Sub(line.Discount)
		line.TaxAmount = net.Mul(line.TaxRate).Div(hundred).Round(2)
		line.TotalPrice = net.Add(line.TaxAmount)
		subtotal = subtotal.Add(gross)
		discount = discount.Add(line.Discount)
		tax = tax.Add(line.TaxAmount)
	}
	sale.Subtotal = subtotal
	sale.TotalDiscount = discount
	sale.TotalTax = tax
	sale.GrandTotal = subtotal.Sub(discount).Add(tax)
	sale.PaymentStatus = shared.DerivePaymentStatus(sale.PaidAmount, sale.GrandTotal)
}

func appendNote(notes, note string) string {
	if strings.TrimSpace(notes) == "" {
		return note
	}
	return notes + "\n" + note
}

// ============================================================================
// INPUTS
// ============================================================================

// LineInput describes a product to sell. Nil prices default from the product.
type LineInput struct {
	ProductID int64
	Quantity  int64
	UnitPrice *decimal.Decimal
	Discount  decimal.Decimal
	TaxRate   *decimal.Decimal
}

// CreateInput describes a new sale.
type CreateInput struct {
	Customer      Customer
	Lines         []LineInput
	PaymentMethod PaymentMethod
	PaidAmount    decimal.Decimal
	DueDate       *time.Time
	Notes         string
	ActorID       int64
}

// PaymentInput records money received against a sale.
type PaymentInput struct {
	SaleID  int64
	Amount  decimal.Decimal
	Method  PaymentMethod
	ActorID int64
}

// UpdateInput carries the editable header fields. Lines are never editable.
type UpdateInput struct {
	Customer      *Customer
	PaymentMethod *PaymentMethod
	DueDate       *time.Time
	Status        *Status
	Notes         *string
	ActorID       int64
}

// ListFilter selects sales.
type ListFilter struct {
	Status        Status
	PaymentStatus shared.PaymentStatus
	Search        string
	From          time.Time
	To            time.Time
	Page          int
	PerPage       int
}
