package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/storekeep/storekeep/internal/inventory"
	"github.com/storekeep/storekeep/internal/shared"
)

// stockTx buffers writes until the mutation unit commits. Product locks taken by
// GetStockForUpdate are held until then.
type stockTx struct {
	store    *Store
	releases []func()
	locked   map[int64]bool
	stock    map[int64]int64
	entries  []inventory.Entry
}

// WithTx runs fn as one mutation unit. Nothing is visible to readers unless fn succeeds
// and ctx is still live at commit, matching a database commit on a cancelled request.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	tx := &stockTx{store: s, locked: map[int64]bool{}, stock: map[int64]int64{}}
	defer func() {
		for i := len(tx.releases) - 1; i >= 0; i-- {
			tx.releases[i]()
		}
	}()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Units on different products do not share a lock, so ref ids are checked again here.
	for _, e := range tx.entries {
		if _, taken := s.refs[e.RefID]; taken {
			return &inventory.DuplicateMutationError{}
		}
	}
	for id, stock := range tx.stock {
		p := s.products[id]
		p.CurrentStock = stock
		p.UpdatedAt = s.now()
		s.products[id] = p
	}
	for _, e := range tx.entries {
		s.entries[e.ProductID] = append(s.entries[e.ProductID], e)
		s.refs[e.RefID] = e
	}
	return nil
}

func (t *stockTx) GetStockForUpdate(ctx context.Context, productID int64) (inventory.StockRecord, error) {
	if !t.locked[productID] {
		release, err := t.store.stockLocks.Lock(ctx, shared.ProductLockKey(productID))
		if err != nil {
			return inventory.StockRecord{}, err
		}
		t.releases = append(t.releases, release)
		t.locked[productID] = true
	}
	t.store.mu.RLock()
	p, ok := t.store.products[productID]
	t.store.mu.RUnlock()
	if !ok {
		return inventory.StockRecord{}, inventory.ErrProductNotFound
	}
	rec := inventory.StockRecord{ProductID: p.ID, SKU: p.SKU, CurrentStock: p.CurrentStock, CostPrice: p.CostPrice}
	if pending, ok := t.stock[productID]; ok {
		rec.CurrentStock = pending
	}
	return rec, nil
}

func (t *stockTx) UpdateStock(_ context.Context, productID, newStock int64) error {
	if !t.locked[productID] {
		return fmt.Errorf("memory: product %d updated without lock", productID)
	}
	t.stock[productID] = newStock
	return nil
}

func (t *stockTx) EntryByRef(_ context.Context, refID string) (inventory.Entry, bool, error) {
	for _, e := range t.entries {
		if e.RefID == refID {
			return e, true, nil
		}
	}
	t.store.mu.RLock()
	e, ok := t.store.refs[refID]
	t.store.mu.RUnlock()
	return e, ok, nil
}

func (t *stockTx) InsertEntry(_ context.Context, entry inventory.Entry) (inventory.Entry, error) {
	t.store.mu.Lock()
	t.store.entrySeq++
	entry.ID = t.store.entrySeq
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = t.store.now()
	}
	t.store.mu.Unlock()
	t.entries = append(t.entries, entry)
	return entry, nil
}

// ListEntries returns a product's entries newest first.
func (s *Store) ListEntries(_ context.Context, productID int64, limit, offset int) ([]inventory.Entry, int, error) {
	s.mu.RLock()
	all := slices.Clone(s.entries[productID])
	s.mu.RUnlock()
	slices.Reverse(all)
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 {
		end = min(offset+limit, total)
	}
	return all[offset:end], total, nil
}

// StockSummaries compares every product's stock with its signed ledger sum.
func (s *Store) StockSummaries(context.Context) ([]inventory.StockSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]inventory.StockSummary, 0, len(s.products))
	for id, p := range s.products {
		sum := inventory.StockSummary{ProductID: id, SKU: p.SKU, CurrentStock: p.CurrentStock}
		for _, e := range s.entries[id] {
			sum.LedgerSum += e.SignedQuantity()
			sum.Entries++
		}
		out = append(out, sum)
	}
	slices.SortFunc(out, func(a, b inventory.StockSummary) int { return cmp.Compare(a.ProductID, b.ProductID) })
	return out, nil
}

// Entries returns a copy of a product's ledger in insertion order.
func (s *Store) Entries(productID int64) []inventory.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.entries[productID])
}
