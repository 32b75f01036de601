package shared

import "github.com/shopspring/decimal"

// PaymentStatus is derived from the paid amount against the document total.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// DerivePaymentStatus returns paid when paid >= total, partial when 0 < paid < total and pending otherwise.
func DerivePaymentStatus(paid, total decimal.Decimal) PaymentStatus {
	switch {
	case paid.GreaterThanOrEqual(total):
		return PaymentPaid
	case paid.Sign() > 0:
		return PaymentPartial
	default:
		return PaymentPending
	}
}
