package sales

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storekeep/storekeep/internal/catalog"
	"github.com/storekeep/storekeep/internal/inventory"
	"github.com/storekeep/storekeep/internal/sequence"
	"github.com/storekeep/storekeep/internal/shared"
)

// ============================================================================
// FAKES
// ============================================================================

type memoryRepo struct {
	mu     sync.Mutex
	sales  map[int64]Sale
	nextID int64
	lineID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{sales: map[int64]Sale{}}
}

func cloneSale(s Sale) Sale {
	s.Lines = append([]Line(nil), s.Lines...)
	return s
}

func (r *memoryRepo) CreateSale(_ context.Context, sale Sale) (Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sale.ID = r.nextID
	for i := range sale.Lines {
		r.lineID++
		sale.Lines[i].ID = r.lineID
	}
	r.sales[sale.ID] = cloneSale(sale)
	return cloneSale(sale), nil
}

func (r *memoryRepo) GetSale(_ context.Context, id int64) (Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sales[id]
	if !ok {
		return Sale{}, ErrNotFound
	}
	return cloneSale(s), nil
}

func (r *memoryRepo) SaveSale(_ context.Context, sale Sale) (Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.sales[sale.ID]
	if !ok {
		return Sale{}, ErrNotFound
	}
	sale.Lines = existing.Lines
	r.sales[sale.ID] = cloneSale(sale)
	return cloneSale(sale), nil
}

func (r *memoryRepo) ListSales(context.Context, ListFilter) ([]Sale, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sale, 0, len(r.sales))
	for _, s := range r.sales {
		out = append(out, cloneSale(s))
	}
	return out, len(out), nil
}

type stubInventory struct {
	mu       sync.Mutex
	products map[int64]catalog.Product
	entries  []inventory.MutationInput
	fail     map[inventory.TransactionType]int64
}

func newStubInventory(products ...catalog.Product) *stubInventory {
	inv := &stubInventory{products: map[int64]catalog.Product{}, fail: map[inventory.TransactionType]int64{}}
	for _, p := range products {
		inv.products[p.ID] = p
	}
	return inv
}

func (s *stubInventory) Apply(_ context.Context, in inventory.MutationInput) (inventory.MutationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[in.Type] == in.ProductID {
		return inventory.MutationResult{}, errors.New("ledger unavailable")
	}
	p, ok := s.products[in.ProductID]
	if !ok {
		return inventory.MutationResult{}, inventory.ErrProductNotFound
	}
	delta := in.Quantity
	if in.Type == inventory.TypeSale {
		delta = -in.Quantity
	}
	if p.CurrentStock+delta < 0 {
		return inventory.MutationResult{}, &shared.InsufficientStockError{ProductID: p.ID, Available: p.CurrentStock, Requested: in.Quantity}
	}
	prev := p.CurrentStock
	p.CurrentStock += delta
	s.products[p.ID] = p
	s.entries = append(s.entries, in)
	return inventory.MutationResult{PreviousStock: prev, NewStock: p.CurrentStock}, nil
}

func (s *stubInventory) Get(_ context.Context, id int64) (catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return catalog.Product{}, fmt.Errorf("catalog: product %w", shared.ErrNotFound)
	}
	return p, nil
}

func (s *stubInventory) stock(id int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].CurrentStock
}

type fixture struct {
	svc  *Service
	repo *memoryRepo
	inv  *stubInventory
}

func newFixture(products ...catalog.Product) fixture {
	repo := newMemoryRepo()
	inv := newStubInventory(products...)
	numbers := sequence.NewCounterAllocator(sequence.NewMemoryCounter())
	clock := func() time.Time { return time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC) }
	svc := NewService(repo, inv, inv, numbers, nil, &shared.MemoryAuditLog{}, ServiceConfig{Clock: clock})
	return fixture{svc: svc, repo: repo, inv: inv}
}

func product(id, stock int64) catalog.Product {
	return catalog.Product{
		ID:           id,
		SKU:          fmt.Sprintf("SKU-%d", id),
		Name:         fmt.Sprintf("Product %d", id),
		SellingPrice: decimal.NewFromInt(50),
		TaxRate:      decimal.NewFromInt(5),
		CurrentStock: stock,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func singleLine(productID, qty int64) CreateInput {
	return CreateInput{
		Customer: Customer{Name: "Walk-in"},
		Lines:    []LineInput{{ProductID: productID, Quantity: qty}},
		ActorID:  2,
	}
}

// ============================================================================
// TESTS
// ============================================================================

func TestSaleThenCancelRestoresStock(t *testing.T) {
	f := newFixture(product(1, 15))
	ctx := context.Background()

	sale, err := f.svc.Create(ctx, singleLine(1, 5))
	require.NoError(t, err)
	assert.Equal(t, "INV20240301001", sale.InvoiceNumber)
	assert.Equal(t, StatusConfirmed, sale.Status)
	assert.Equal(t, int64(10), f.inv.stock(1))
	require.Len(t, f.inv.entries, 1)
	assert.Equal(t, inventory.TypeSale, f.inv.entries[0].Type)
	assert.Equal(t, sale.InvoiceNumber, f.inv.entries[0].Reference)
	require.NotNil(t, f.inv.entries[0].Customer)
	assert.Equal(t, "Walk-in", f.inv.entries[0].Customer.Name)

	cancelled, err := f.svc.Cancel(ctx, sale.ID, "customer changed mind", 2)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Contains(t, cancelled.Notes, "customer changed mind")
	assert.Equal(t, int64(15), f.inv.stock(1))
	require.Len(t, f.inv.entries, 2)
	assert.Equal(t, inventory.TypeReturn, f.inv.entries[1].Type)
	assert.Equal(t, int64(5), f.inv.entries[1].Quantity)

	_, err = f.svc.Cancel(ctx, sale.ID, "", 2)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	assert.Equal(t, int64(15), f.inv.stock(1))
}

func TestCreateInsufficientStockLeavesNoTrace(t *testing.T) {
	f := newFixture(product(1, 3))

	_, err := f.svc.Create(context.Background(), singleLine(1, 5))
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var stockErr *shared.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(3), stockErr.Available)
	assert.Equal(t, int64(5), stockErr.Requested)

	assert.Equal(t, int64(3), f.inv.stock(1))
	assert.Empty(t, f.inv.entries)
	assert.Empty(t, f.repo.sales)
}

func TestCreateAggregatesRepeatedProducts(t *testing.T) {
	f := newFixture(product(1, 6))
	in := singleLine(1, 4)
	in.Lines = append(in.Lines, LineInput{ProductID: 1, Quantity: 3})

	_, err := f.svc.Create(context.Background(), in)
	var stockErr *shared.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(7), stockErr.Requested)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(product(1, 10))
	ctx := context.Background()

	in := singleLine(1, 1)
	in.Customer.Name = "  "
	_, err := f.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = singleLine(1, 1)
	in.Lines = nil
	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Create(ctx, singleLine(1, 0))
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	_, err = f.svc.Create(ctx, singleLine(42, 1))
	require.ErrorIs(t, err, shared.ErrNotFound)

	in = singleLine(1, 1)
	in.PaymentMethod = "barter"
	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = singleLine(1, 1)
	in.Lines[0].Discount = dec("60")
	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	assert.Equal(t, int64(10), f.inv.stock(1))
}

func TestCreateComputesTotals(t *testing.T) {
	f := newFixture(product(1, 10), product(2, 10))
	price, rate := dec("100"), dec("18")
	in := CreateInput{
		Customer: Customer{Name: "Asha", Phone: "98765"},
		Lines: []LineInput{
			{ProductID: 1, Quantity: 2, UnitPrice: &price, Discount: dec("10"), TaxRate: &rate},
			{ProductID: 2, Quantity: 1},
		},
		PaidAmount: dec("100"),
	}

	sale, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, sale.Lines, 2)
	assert.True(t, sale.Lines[0].TaxAmount.Equal(dec("34.20")), sale.Lines[0].TaxAmount.String())
	assert.True(t, sale.Lines[0].TotalPrice.Equal(dec("224.20")))
	assert.True(t, sale.Lines[1].UnitPrice.Equal(dec("50")))
	assert.True(t, sale.Lines[1].TaxAmount.Equal(dec("2.50")))
	assert.True(t, sale.Subtotal.Equal(dec("250")))
	assert.True(t, sale.TotalDiscount.Equal(dec("10")))
	assert.True(t, sale.TotalTax.Equal(dec("36.70")))
	assert.True(t, sale.GrandTotal.Equal(dec("276.70")))
	assert.Equal(t, shared.PaymentPartial, sale.PaymentStatus)
	assert.Equal(t, PaymentCash, sale.PaymentMethod)
	assert.Equal(t, "Product 1", sale.Lines[0].ProductName)
}

func TestCreateOverPayment(t *testing.T) {
	f := newFixture(product(1, 10))
	in := singleLine(1, 1)
	in.PaidAmount = dec("52.51")

	_, err := f.svc.Create(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrOverPayment)
	assert.Empty(t, f.repo.sales)
}

func TestAllocationFailureCancelsSale(t *testing.T) {
	f := newFixture(product(1, 10), product(2, 10))
	f.inv.fail[inventory.TypeSale] = 2
	in := singleLine(1, 4)
	in.Lines = append(in.Lines, LineInput{ProductID: 2, Quantity: 1})

	_, err := f.svc.Create(context.Background(), in)
	require.Error(t, err)
	var allocErr *AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, "INV20240301001", allocErr.InvoiceNumber)

	assert.Equal(t, int64(10), f.inv.stock(1))
	assert.Equal(t, int64(10), f.inv.stock(2))
	stored, err := f.svc.Get(context.Background(), allocErr.SaleID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)
	assert.Contains(t, stored.Notes, "stock allocation failed")
}

func TestRecordPayment(t *testing.T) {
	f := newFixture(product(1, 10))
	ctx := context.Background()
	sale, err := f.svc.Create(ctx, singleLine(1, 2)) // 100 + 5% tax = 105
	require.NoError(t, err)
	require.True(t, sale.GrandTotal.Equal(dec("105")))

	sale, err = f.svc.RecordPayment(ctx, PaymentInput{SaleID: sale.ID, Amount: dec("40"), Method: PaymentUPI})
	require.NoError(t, err)
	assert.Equal(t, shared.PaymentPartial, sale.PaymentStatus)
	assert.Equal(t, PaymentUPI, sale.PaymentMethod)
	assert.Contains(t, sale.Notes, "Payment of 40.00 received via upi")

	_, err = f.svc.RecordPayment(ctx, PaymentInput{SaleID: sale.ID, Amount: dec("65.01")})
	require.ErrorIs(t, err, shared.ErrOverPayment)

	sale, err = f.svc.RecordPayment(ctx, PaymentInput{SaleID: sale.ID, Amount: dec("65")})
	require.NoError(t, err)
	assert.Equal(t, shared.PaymentPaid, sale.PaymentStatus)
	assert.True(t, sale.PaidAmount.Equal(sale.GrandTotal))

	_, err = f.svc.RecordPayment(ctx, PaymentInput{SaleID: sale.ID, Amount: decimal.Zero})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Cancel(ctx, sale.ID, "", 1)
	require.NoError(t, err)
	_, err = f.svc.RecordPayment(ctx, PaymentInput{SaleID: sale.ID, Amount: dec("1")})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestUpdateRules(t *testing.T) {
	f := newFixture(product(1, 10))
	ctx := context.Background()
	sale, err := f.svc.Create(ctx, singleLine(1, 1))
	require.NoError(t, err)

	draft := StatusDraft
	card := PaymentCard
	updated, err := f.svc.Update(ctx, sale.ID, UpdateInput{
		Customer:      &Customer{Name: "Ravi", Email: "ravi@example.com"},
		PaymentMethod: &card,
		Status:        &draft,
	})
	require.NoError(t, err)
	assert.Equal(t, "Ravi", updated.Customer.Name)
	assert.Equal(t, StatusDraft, updated.Status)
	assert.Equal(t, PaymentCard, updated.PaymentMethod)
	assert.Len(t, updated.Lines, 1)

	returned := StatusReturned
	_, err = f.svc.Update(ctx, sale.ID, UpdateInput{Status: &returned})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = f.svc.Cancel(ctx, sale.ID, "", 1)
	require.NoError(t, err)
	notes := "late edit"
	_, err = f.svc.Update(ctx, sale.ID, UpdateInput{Notes: &notes})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestCancelRollsBackWhenReturnFails(t *testing.T) {
	f := newFixture(product(1, 10), product(2, 10))
	ctx := context.Background()
	in := singleLine(1, 3)
	in.Lines = append(in.Lines, LineInput{ProductID: 2, Quantity: 2})
	sale, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	f.inv.fail[inventory.TypeReturn] = 2
	_, err = f.svc.Cancel(ctx, sale.ID, "", 1)
	require.Error(t, err)
	assert.Equal(t, int64(7), f.inv.stock(1))
	assert.Equal(t, int64(8), f.inv.stock(2))
	stored, err := f.svc.Get(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, stored.Status)

	delete(f.inv.fail, inventory.TypeReturn)
	_, err = f.svc.Cancel(ctx, sale.ID, "", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), f.inv.stock(1))
	assert.Equal(t, int64(10), f.inv.stock(2))
}

func TestInvoiceNumbersAreUniqueUnderConcurrency(t *testing.T) {
	f := newFixture(product(1, 100))
	ctx := context.Background()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = map[string]struct{}{}
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sale, err := f.svc.Create(ctx, singleLine(1, 1))
			if err != nil {
				return
			}
			mu.Lock()
			numbers[sale.InvoiceNumber] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, numbers, 20)
	assert.Equal(t, int64(80), f.inv.stock(1))
}
