package inventory

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storekeep/storekeep/internal/shared"
)

type memoryRepo struct {
	mu      sync.Mutex
	stock   map[int64]StockRecord
	entries []Entry
	nextID  int64
	failAt  error
}

type memoryTx struct {
	repo    *memoryRepo
	stock   map[int64]int64
	pending []Entry
}

func newMemoryRepo(records ...StockRecord) *memoryRepo {
	repo := &memoryRepo{stock: make(map[int64]StockRecord)}
	for _, rec := range records {
		repo.stock[rec.ProductID] = rec
	}
	return repo
}

// WithTx serialises every transaction, buffering writes until fn succeeds.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{repo: r, stock: make(map[int64]int64)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if r.failAt != nil {
		return r.failAt
	}
	for id, qty := range tx.stock {
		rec := r.stock[id]
		rec.CurrentStock = qty
		r.stock[id] = rec
	}
	r.entries = append(r.entries, tx.pending...)
	return nil
}

func (r *memoryRepo) ListEntries(_ context.Context, productID int64, limit, offset int) ([]Entry, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []Entry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].ProductID == productID {
			matched = append(matched, r.entries[i])
		}
	}
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (r *memoryRepo) StockSummaries(context.Context) ([]StockSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StockSummary
	for id, rec := range r.stock {
		summary := StockSummary{ProductID: id, SKU: rec.SKU, CurrentStock: rec.CurrentStock}
		for _, e := range r.entries {
			if e.ProductID == id {
				summary.LedgerSum += e.SignedQuantity()
				summary.Entries++
			}
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (r *memoryRepo) current(productID int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stock[productID].CurrentStock
}

func (tx *memoryTx) GetStockForUpdate(_ context.Context, productID int64) (StockRecord, error) {
	rec, ok := tx.repo.stock[productID]
	if !ok {
		return StockRecord{}, ErrProductNotFound
	}
	if qty, ok := tx.stock[productID]; ok {
		rec.CurrentStock = qty
	}
	return rec, nil
}

func (tx *memoryTx) UpdateStock(_ context.Context, productID, newStock int64) error {
	tx.stock[productID] = newStock
	return nil
}

func (tx *memoryTx) EntryByRef(_ context.Context, refID string) (Entry, bool, error) {
	for _, entries := range [][]Entry{tx.repo.entries, tx.pending} {
		for _, e := range entries {
			if e.RefID == refID {
				return e, true, nil
			}
		}
	}
	return Entry{}, false, nil
}

func (tx *memoryTx) InsertEntry(_ context.Context, entry Entry) (Entry, error) {
	tx.repo.nextID++
	entry.ID = tx.repo.nextID
	tx.pending = append(tx.pending, entry)
	return entry, nil
}

type stubMetrics struct {
	mu       sync.Mutex
	applied  map[string]int
	failures map[string]int
}

func newStubMetrics() *stubMetrics {
	return &stubMetrics{applied: map[string]int{}, failures: map[string]int{}}
}

func (m *stubMetrics) ObserveStockMutation(txType string) {
	m.mu.Lock()
	m.applied[txType]++
	m.mu.Unlock()
}

func (m *stubMetrics) ObserveStockMutationFailure(reason string) {
	m.mu.Lock()
	m.failures[reason]++
	m.mu.Unlock()
}

func widget(stock int64) StockRecord {
	return StockRecord{ProductID: 1, SKU: "WID-1", CurrentStock: stock, CostPrice: decimal.RequireFromString("4.50")}
}

func TestApplyStockOutWritesChainedEntry(t *testing.T) {
	repo := newMemoryRepo(widget(10))
	audit := &shared.MemoryAuditLog{}
	svc := NewService(repo, audit, ServiceConfig{})

	result, err := svc.StockOut(context.Background(), 1, 3, 42, "counter sale")
	require.NoError(t, err)

	assert.Equal(t, int64(10), result.PreviousStock)
	assert.Equal(t, int64(7), result.NewStock)
	assert.Equal(t, int64(7), repo.current(1))
	assert.Equal(t, TypeStockOut, result.Entry.Type)
	assert.Equal(t, DirectionOut, result.Entry.Direction)
	assert.True(t, result.Entry.Chained())
	assert.True(t, result.Entry.UnitPrice.Equal(decimal.RequireFromString("4.50")))
	assert.True(t, result.Entry.TotalAmount.Equal(decimal.RequireFromString("13.50")))
	assert.NotEmpty(t, result.Entry.RefID)
	require.Len(t, audit.Entries(), 1)
	assert.Equal(t, "inventory:stock_out", audit.Entries()[0].Action)
}

func TestApplyRejectsInsufficientStock(t *testing.T) {
	repo := newMemoryRepo(widget(3))
	metrics := newStubMetrics()
	svc := NewService(repo, nil, ServiceConfig{Metrics: metrics})

	_, err := svc.StockOut(context.Background(), 1, 5, 42, "")
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var stockErr *shared.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(3), stockErr.Available)
	assert.Equal(t, int64(5), stockErr.Requested)

	assert.Equal(t, int64(3), repo.current(1))
	assert.Empty(t, repo.entries)
	assert.Equal(t, 1, metrics.failures["insufficient_stock"])
}

func TestApplyValidatesInput(t *testing.T) {
	svc := NewService(newMemoryRepo(widget(10)), nil, ServiceConfig{})
	ctx := context.Background()
	negative := decimal.NewFromInt(-1)

	_, err := svc.Apply(ctx, MutationInput{ProductID: 1, Type: TypeStockIn, Quantity: 0})
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	_, err = svc.Apply(ctx, MutationInput{ProductID: 1, Type: "teleport", Quantity: 1})
	require.ErrorIs(t, err, ErrInvalidType)

	_, err = svc.Apply(ctx, MutationInput{ProductID: 1, Type: TypeAdjustment, Quantity: 1})
	require.ErrorIs(t, err, ErrInvalidDirection)

	_, err = svc.Apply(ctx, MutationInput{ProductID: 1, Type: TypeStockIn, Quantity: 1, UnitPrice: &negative})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Apply(ctx, MutationInput{ProductID: 99, Type: TypeStockIn, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAdjustmentHonoursDirection(t *testing.T) {
	repo := newMemoryRepo(widget(10))
	svc := NewService(repo, nil, ServiceConfig{})
	ctx := context.Background()

	res, err := svc.Apply(ctx, MutationInput{ProductID: 1, Type: TypeAdjustment, Direction: DirectionOut, Quantity: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.NewStock)

	res, err = svc.Apply(ctx, MutationInput{ProductID: 1, Type: TypeAdjustment, Direction: DirectionIn, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.NewStock)
	assert.Equal(t, int64(1), res.Entry.SignedQuantity())
}

func TestConcurrentMutationsSerialise(t *testing.T) {
	repo := newMemoryRepo(widget(50))
	svc := NewService(repo, nil, ServiceConfig{})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := svc.StockIn(ctx, 1, 10, 1, "")
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := svc.StockOut(ctx, 1, 4, 1, "")
		assert.NoError(t, err)
	}()
	wg.Wait()

	assert.Equal(t, int64(56), repo.current(1))
	require.Len(t, repo.entries, 2)
	assert.Equal(t, int64(50), repo.entries[0].PreviousStock)
	assert.Equal(t, repo.entries[0].NewStock, repo.entries[1].PreviousStock)
	assert.Equal(t, int64(56), repo.entries[1].NewStock)
}

func TestIdempotencyKeyReturnsRecordedEntry(t *testing.T) {
	repo := newMemoryRepo(widget(2))
	svc := NewService(repo, nil, ServiceConfig{})
	ctx := context.Background()

	in := MutationInput{ProductID: 1, Type: TypeStockIn, Quantity: 1, IdempotencyKey: "req-1"}
	first, err := svc.Apply(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, RefIDForKey("req-1").String(), first.Entry.RefID)

	_, err = svc.Apply(ctx, in)
	require.ErrorIs(t, err, shared.ErrDuplicate)
	var dup *DuplicateMutationError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "req-1", dup.Key)
	assert.Equal(t, first.Entry.ID, dup.Entry.ID)
	assert.True(t, dup.Recorded(in))
	assert.False(t, dup.Recorded(MutationInput{ProductID: 1, Type: TypePurchase, Quantity: 1}))
	assert.Equal(t, int64(3), repo.current(1))
	assert.Len(t, repo.entries, 1)
}

func TestIdempotencyKeyFreeAfterFailedUnit(t *testing.T) {
	repo := newMemoryRepo(widget(2))
	svc := NewService(repo, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Apply(ctx, MutationInput{ProductID: 1, Type: TypeStockOut, Quantity: 9, IdempotencyKey: "req-2"})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	// The commit itself fails, as it does for a cancelled request.
	repo.failAt = context.Canceled
	_, err = svc.Apply(ctx, MutationInput{ProductID: 1, Type: TypeStockOut, Quantity: 1, IdempotencyKey: "req-2"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, repo.entries)

	repo.failAt = nil
	res, err := svc.Apply(ctx, MutationInput{ProductID: 1, Type: TypeStockOut, Quantity: 1, IdempotencyKey: "req-2"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.NewStock)
}

func TestHistoryNewestFirstWithPagination(t *testing.T) {
	repo := newMemoryRepo(widget(0))
	svc := NewService(repo, nil, ServiceConfig{})
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		_, err := svc.StockIn(ctx, 1, int64(i), 1, "")
		require.NoError(t, err)
	}

	entries, page, err := svc.History(ctx, HistoryFilter{ProductID: 1, Page: 1, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(5), entries[0].Quantity)
	assert.Equal(t, int64(4), entries[1].Quantity)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.TotalPages)

	_, _, err = svc.History(ctx, HistoryFilter{})
	require.ErrorIs(t, err, ErrProductRequired)
}

func TestReconcileReportsDrift(t *testing.T) {
	repo := newMemoryRepo(widget(0), StockRecord{ProductID: 2, SKU: "GAD-2"})
	svc := NewService(repo, nil, ServiceConfig{})
	ctx := context.Background()

	require.NoError(t, svc.SeedInitialStock(ctx, 1, 1, 10, decimal.NewFromInt(3)))
	drift, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)

	repo.mu.Lock()
	rec := repo.stock[2]
	rec.CurrentStock = 4
	repo.stock[2] = rec
	repo.mu.Unlock()

	drift, err = svc.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, drift, 1)
	assert.Equal(t, int64(2), drift[0].ProductID)
	assert.Equal(t, int64(0), drift[0].LedgerSum)
}
