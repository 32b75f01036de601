package procurement

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

type memoryRepo struct {
	mu     sync.Mutex
	orders map[int64]PurchaseOrder
	nextID int64
	lineID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: map[int64]PurchaseOrder{}}
}

func cloneOrder(po PurchaseOrder) PurchaseOrder {
	po.Lines = append([]POLine(nil), po.Lines...)
	return po
}

func (r *memoryRepo) assignLineIDs(po *PurchaseOrder) {
	for i := range po.Lines {
		if po.Lines[i].ID == 0 {
			r.lineID++
			po.Lines[i].ID = r.lineID
		}
	}
}

func (r *memoryRepo) CreatePurchaseOrder(_ context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.orders {
		if existing.Number == po.Number {
			return PurchaseOrder{}, shared.ErrDuplicate
		}
	}
	r.nextID++
	po.ID = r.nextID
	r.assignLineIDs(&po)
	r.orders[po.ID] = cloneOrder(po)
	return cloneOrder(po), nil
}

func (r *memoryRepo) GetPurchaseOrder(_ context.Context, id int64) (PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	po, ok := r.orders[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	return cloneOrder(po), nil
}

func (r *memoryRepo) SavePurchaseOrder(_ context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[po.ID]; !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	r.assignLineIDs(&po)
	r.orders[po.ID] = cloneOrder(po)
	return cloneOrder(po), nil
}

func (r *memoryRepo) DeletePurchaseOrder(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.orders, id)
	return nil
}

func (r *memoryRepo) ListPurchaseOrders(_ context.Context, filter ListFilter) ([]PurchaseOrder, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PurchaseOrder
	for _, po := range r.orders {
		if filter.Status != "" && po.Status != filter.Status {
			continue
		}
		out = append(out, cloneOrder(po))
	}
	return out, len(out), nil
}

type stubInventory struct {
	mu      sync.Mutex
	stock   map[int64]int64
	applied []inventory.MutationInput
	keys    map[string]inventory.Entry
	failOn  int64
}

func newStubInventory() *stubInventory {
	return &stubInventory{stock: map[int64]int64{}, keys: map[string]inventory.Entry{}}
}

// record books an entry under key as if an earlier call had committed it.
func (s *stubInventory) record(key string, entry inventory.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = int64(len(s.keys) + 1)
	s.keys[key] = entry
	s.stock[entry.ProductID] += entry.Quantity
}

func (s *stubInventory) Apply(_ context.Context, in inventory.MutationInput) (inventory.MutationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.ProductID == s.failOn {
		return inventory.MutationResult{}, errors.New("ledger unavailable")
	}
	if existing, seen := s.keys[in.IdempotencyKey]; seen {
		return inventory.MutationResult{}, &inventory.DuplicateMutationError{Key: in.IdempotencyKey, Entry: existing}
	}
	s.keys[in.IdempotencyKey] = inventory.Entry{ID: int64(len(s.keys) + 1), ProductID: in.ProductID, Type: in.Type, Quantity: in.Quantity}
	prev := s.stock[in.ProductID]
	s.stock[in.ProductID] = prev + in.Quantity
	s.applied = append(s.applied, in)
	return inventory.MutationResult{PreviousStock: prev, NewStock: prev + in.Quantity}, nil
}

type stubProducts map[int64]catalog.Product

func (p stubProducts) Get(_ context.Context, id int64) (catalog.Product, error) {
	prod, ok := p[id]
	if !ok {
		return catalog.Product{}, fmt.Errorf("catalog: product %w", shared.ErrNotFound)
	}
	return prod, nil
}

type fixture struct {
	svc   *Service
	repo  *memoryRepo
	inv   *stubInventory
	audit *shared.MemoryAuditLog
}

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newFixture() fixture {
	repo := newMemoryRepo()
	inv := newStubInventory()
	audit := &shared.MemoryAuditLog{}
	products := stubProducts{1: {ID: 1, SKU: "A"}, 2: {ID: 2, SKU: "B"}}
	numbers := sequence.NewCounterAllocator(sequence.NewMemoryCounter())
	svc := NewService(repo, inv, products, numbers, nil, audit, ServiceConfig{Clock: func() time.Time { return fixedNow }})
	return fixture{svc: svc, repo: repo, inv: inv, audit: audit}
}

func twoLineOrder() CreateInput {
	return CreateInput{
		SupplierID: 9,
		Lines: []LineInput{
			{ProductID: 1, Quantity: 10, UnitPrice: decimal.RequireFromString("2.50")},
			{ProductID: 2, Quantity: 4, UnitPrice: decimal.RequireFromString("10")},
		},
		TaxAmount:      decimal.RequireFromString("5"),
		DiscountAmount: decimal.RequireFromString("1.25"),
		ActorID:        3,
	}
}

func TestCreateAllocatesNumberAndTotals(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.svc.Create(ctx, twoLineOrder())
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, twoLineOrder())
	require.NoError(t, err)

	assert.Equal(t, "PO20240301001", first.Number)
	assert.Equal(t, "PO20240301002", second.Number)
	assert.Equal(t, POStatusPending, first.Status)
	assert.True(t, first.Subtotal.Equal(decimal.NewFromInt(65)))
	assert.True(t, first.TotalAmount.Equal(decimal.RequireFromString("68.75")))
	assert.Equal(t, shared.PaymentPending, first.PaymentStatus)
	assert.Len(t, f.audit.Entries(), 2)
}

func TestCreateRejectsBadLines(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	in := twoLineOrder()
	in.Lines[0].Quantity = 0
	_, err := f.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	in = twoLineOrder()
	in.Lines[1].ProductID = 1
	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = twoLineOrder()
	in.Lines[1].ProductID = 77
	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrNotFound)

	in = twoLineOrder()
	in.Lines = nil
	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReceivePartialThenFull(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	po, err := f.svc.Create(ctx, twoLineOrder())
	require.NoError(t, err)
	po, err = f.svc.Confirm(ctx, po.ID, 3)
	require.NoError(t, err)
	require.Equal(t, POStatusConfirmed, po.Status)

	po, err = f.svc.Receive(ctx, ReceiveInput{OrderID: po.ID, ActorID: 4, Items: []ReceiveItem{{ProductID: 1, Quantity: 6}}})
	require.NoError(t, err)
	assert.Equal(t, POStatusPartialReceived, po.Status)
	assert.Equal(t, int64(6), f.inv.stock[1])
	require.NotNil(t, po.ActualDeliveryDate)
	assert.Equal(t, int64(4), po.ReceivedBy)

	po, err = f.svc.Receive(ctx, ReceiveInput{OrderID: po.ID, ActorID: 4, Items: []ReceiveItem{
		{ProductID: 1, Quantity: 4},
		{ProductID: 2, Quantity: 4},
	}})
	require.NoError(t, err)
	assert.Equal(t, POStatusReceived, po.Status)
	assert.Equal(t, int64(10), f.inv.stock[1])
	assert.Equal(t, int64(4), f.inv.stock[2])

	require.Len(t, f.inv.applied, 3)
	for _, in := range f.inv.applied {
		assert.Equal(t, inventory.TypePurchase, in.Type)
		assert.Equal(t, po.Number, in.Reference)
		assert.Equal(t, int64(9), in.SupplierID)
		require.NotNil(t, in.UnitPrice)
	}
	assert.True(t, f.inv.applied[2].UnitPrice.Equal(decimal.NewFromInt(10)))

	_, err = f.svc.Receive(ctx, ReceiveInput{OrderID: po.ID, Items: []ReceiveItem{{ProductID: 1, Quantity: 1}}})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestReceiveOverReceiptMovesNothing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	po, err := f.svc.Create(ctx, twoLineOrder())
	require.NoError(t, err)

	_, err = f.svc.Receive(ctx, ReceiveInput{OrderID: po.ID, Items: []ReceiveItem{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 5},
	}})
	require.ErrorIs(t, err, shared.ErrOverReceipt)

	_, err = f.svc.Receive(ctx, ReceiveInput{OrderID: po.ID, Items: []ReceiveItem{
		{ProductID: 1, Quantity: 6},
		{ProductID: 1, Quantity: 6},
	}})
	require.ErrorIs(t, err, shared.ErrOverReceipt)

	_, err = f.svc.Receive(ctx, ReceiveInput{OrderID: po.ID, Items: []ReceiveItem{{ProductID: 3, Quantity: 1}}})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.Receive(ctx, ReceiveInput{OrderID: po.ID, Items: []ReceiveItem{{ProductID: 1, Quantity: -1}}})
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	assert.Empty(t, f.inv.applied)
	stored, err := f.svc.Get(ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, POStatusPending, stored.Status)
	assert.False(t, stored.HasReceipts())
}

func TestReceiveFailurePersistsAppliedLines(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	po, err := f.svc.Create(ctx, twoLineOrder())
	require.NoError(t, err)
	f.inv.failOn = 2

	_, err = f.svc.Receive(ctx, ReceiveInput{OrderID: po.ID, Items: []ReceiveItem{
		{ProductID: 1, Quantity: 10},
		{ProductID: 2, Quantity: 4},
	}})
	require.Error(t, err)

	stored, err := f.svc.Get(ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, POStatusPartialReceived, stored.Status)
	assert.Equal(t, int64(10), stored.Lines[0].ReceivedQuantity)
	assert.Equal(t, int64(0), stored.Lines[1].ReceivedQuantity)

	f.inv.failOn = 0
	stored, err = f.svc.Receive(ctx, ReceiveInput{OrderID: po.ID, Items: []ReceiveItem{{ProductID: 2, Quantity: 4}}})
	require.NoError(t, err)
	assert.Equal(t, POStatusReceived, stored.Status)
	assert.Equal(t, int64(10), f.inv.stock[1])
}

func TestReceiveCountsOwnReplayedEntry(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	po, err := f.svc.Create(ctx, twoLineOrder())
	require.NoError(t, err)
	// Stock moved for line 1 but the order save was lost.
	f.inv.record(ReceiptKey(po.ID, 1, 10), inventory.Entry{ProductID: 1, Type: inventory.TypePurchase, Quantity: 10})

	po, err = f.svc.Receive(ctx, ReceiveInput{OrderID: po.ID, Items: []ReceiveItem{{ProductID: 1, Quantity: 10}}})
	require.NoError(t, err)
	assert.Equal(t, int64(10), po.Lines[0].ReceivedQuantity)
	assert.Equal(t, int64(10), f.inv.stock[1])
	assert.Empty(t, f.inv.applied)
}

func TestReceiveRejectsForeignKeyCollision(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	po, err := f.svc.Create(ctx, twoLineOrder())
	require.NoError(t, err)
	f.inv.record(ReceiptKey(po.ID, 1, 10), inventory.Entry{ProductID: 1, Type: inventory.TypeStockIn, Quantity: 1})

	_, err = f.svc.Receive(ctx, ReceiveInput{OrderID: po.ID, Items: []ReceiveItem{{ProductID: 1, Quantity: 10}}})
	require.ErrorIs(t, err, shared.ErrDuplicate)

	stored, err := f.svc.Get(ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, POStatusPending, stored.Status)
	assert.Equal(t, int64(0), stored.Lines[0].ReceivedQuantity)
	assert.Equal(t, int64(1), f.inv.stock[1])
}

func TestUpdateRules(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	po, err := f.svc.Create(ctx, twoLineOrder())
	require.NoError(t, err)

	notes := "call before delivery"
	updated, err := f.svc.Update(ctx, po.ID, UpdateInput{
		Lines: []LineInput{{ProductID: 2, Quantity: 1, UnitPrice: decimal.NewFromInt(3)}},
		Notes: &notes,
	})
	require.NoError(t, err)
	require.Len(t, updated.Lines, 1)
	assert.True(t, updated.Subtotal.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, notes, updated.Notes)

	_, err = f.svc.Receive(ctx, ReceiveInput{OrderID: po.ID, Items: []ReceiveItem{{ProductID: 2, Quantity: 1}}})
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, po.ID, UpdateInput{Notes: &notes})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	other, err := f.svc.Create(ctx, twoLineOrder())
	require.NoError(t, err)
	_, err = f.svc.Receive(ctx, ReceiveInput{OrderID: other.ID, Items: []ReceiveItem{{ProductID: 1, Quantity: 1}}})
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, other.ID, UpdateInput{Lines: []LineInput{{ProductID: 1, Quantity: 20}}})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = f.svc.Update(ctx, other.ID, UpdateInput{Notes: &notes})
	require.NoError(t, err)
}

func TestCancelAndDelete(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	pending, err := f.svc.Create(ctx, twoLineOrder())
	require.NoError(t, err)
	cancelled, err := f.svc.Cancel(ctx, pending.ID, "supplier out of stock", 3)
	require.NoError(t, err)
	assert.Equal(t, POStatusCancelled, cancelled.Status)
	assert.Contains(t, cancelled.Notes, "Cancellation reason: supplier out of stock")
	_, err = f.svc.Cancel(ctx, pending.ID, "again", 3)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.NoError(t, f.svc.Delete(ctx, pending.ID, 3))
	_, err = f.svc.Get(ctx, pending.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	confirmed, err := f.svc.Create(ctx, twoLineOrder())
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, confirmed.ID, 3)
	require.NoError(t, err)
	require.ErrorIs(t, f.svc.Delete(ctx, confirmed.ID, 3), shared.ErrInvalidState)

	_, err = f.svc.Receive(ctx, ReceiveInput{OrderID: confirmed.ID, Items: []ReceiveItem{{ProductID: 1, Quantity: 3}}})
	require.NoError(t, err)
	partial, err := f.svc.Cancel(ctx, confirmed.ID, "", 3)
	require.NoError(t, err)
	assert.Equal(t, POStatusCancelled, partial.Status)
	assert.Equal(t, int64(3), f.inv.stock[1])
	require.ErrorIs(t, f.svc.Delete(ctx, confirmed.ID, 3), shared.ErrInvalidState)
}

func TestDeriveStatus(t *testing.T) {
	po := PurchaseOrder{Status: POStatusConfirmed, Lines: []POLine{{Quantity: 2}, {Quantity: 3}}}
	assert.Equal(t, POStatusConfirmed, DeriveStatus(po))
	po.Lines[0].ReceivedQuantity = 2
	assert.Equal(t, POStatusPartialReceived, DeriveStatus(po))
	po.Lines[1].ReceivedQuantity = 3
	assert.Equal(t, POStatusReceived, DeriveStatus(po))
	po.Status = POStatusCancelled
	assert.Equal(t, POStatusCancelled, DeriveStatus(po))
}
