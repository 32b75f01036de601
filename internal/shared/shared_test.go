package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsufficientStockErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("inventory: apply: %w", &InsufficientStockError{ProductID: 7, Available: 3, Requested: 5})

	require.ErrorIs(t, err, ErrInsufficientStock)
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(3), stockErr.Available)
	assert.Equal(t, int64(5), stockErr.Requested)
	assert.False(t, errors.Is(err, ErrInvalidQuantity))
}

func TestNewPaginationDefaults(t *testing.T) {
	p := NewPagination(0, 0, 45)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, DefaultPerPage, p.PerPage)
	assert.Equal(t, 3, p.TotalPages)

	p = NewPagination(2, 500, 10)
	assert.Equal(t, MaxPerPage, p.PerPage)
	assert.Equal(t, 20, Offset(2, 20))
	assert.Equal(t, 0, Offset(-1, 20))
}

func TestDerivePaymentStatus(t *testing.T) {
	total := decimal.RequireFromString("118.00")
	assert.Equal(t, PaymentPending, DerivePaymentStatus(decimal.Zero, total))
	assert.Equal(t, PaymentPartial, DerivePaymentStatus(decimal.RequireFromString("50"), total))
	assert.Equal(t, PaymentPaid, DerivePaymentStatus(decimal.RequireFromString("118"), total))
}

func TestActorContextRoundTrip(t *testing.T) {
	_, ok := ActorFromContext(context.Background())
	assert.False(t, ok)

	ctx := ContextWithActor(context.Background(), Actor{ID: 9, Role: RoleManager})
	actor, ok := ActorFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(9), actor.ID)
	assert.Contains(t, RoleScopes(actor.Role), PermPurchaseEdit)
	assert.NotContains(t, RoleScopes(RoleStaff), PermPurchaseEdit)
}

func TestMemoryAuditLogValidates(t *testing.T) {
	var log MemoryAuditLog
	require.Error(t, log.Record(context.Background(), AuditLog{Action: "x"}))
	require.NoError(t, log.Record(context.Background(), AuditLog{Action: "stock.mutate", Entity: "product", EntityID: "1"}))
	entries := log.Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].At.IsZero())
}
