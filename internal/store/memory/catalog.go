package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/storekeep/storekeep/internal/catalog"
	"github.com/storekeep/storekeep/internal/shared"
)

func (s *Store) uniqueLocked(p catalog.Product) error {
	for _, existing := range s.products {
		if existing.ID == p.ID {
			continue
		}
		if existing.SKU == p.SKU {
			return fmt.Errorf("catalog: sku %s: %w", p.SKU, shared.ErrDuplicate)
		}
		if p.Barcode != "" && existing.Barcode == p.Barcode {
			return fmt.Errorf("catalog: barcode %s: %w", p.Barcode, shared.ErrDuplicate)
		}
	}
	return nil
}

// CreateProduct stores p with zero stock; opening stock arrives through the ledger.
func (s *Store) CreateProduct(_ context.Context, p catalog.Product) (catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = 0
	if err := s.uniqueLocked(p); err != nil {
		return catalog.Product{}, err
	}
	s.productSeq++
	now := s.now()
	p.ID = s.productSeq
	p.CurrentStock = 0
	p.CreatedAt, p.UpdatedAt = now, now
	s.products[p.ID] = p
	return p, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return catalog.Product{}, fmt.Errorf("catalog: product %w", shared.ErrNotFound)
	}
	return p, nil
}

func (s *Store) findProduct(match func(catalog.Product) bool) (catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.products {
		if match(p) {
			return p, nil
		}
	}
	return catalog.Product{}, fmt.Errorf("catalog: product %w", shared.ErrNotFound)
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (catalog.Product, error) {
	return s.findProduct(func(p catalog.Product) bool { return p.SKU == sku })
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (catalog.Product, error) {
	return s.findProduct(func(p catalog.Product) bool { return barcode != "" && p.Barcode == barcode })
}

// UpdateProduct replaces everything but the stock.
func (s *Store) UpdateProduct(_ context.Context, p catalog.Product) (catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.products[p.ID]
	if !ok {
		return catalog.Product{}, fmt.Errorf("catalog: product %w", shared.ErrNotFound)
	}
	if err := s.uniqueLocked(p); err != nil {
		return catalog.Product{}, err
	}
	p.SKU = existing.SKU
	p.CurrentStock = existing.CurrentStock
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = s.now()
	s.products[p.ID] = p
	return p, nil
}

// DeleteProduct refuses products with ledger history, like the foreign key in Postgres.
func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return fmt.Errorf("catalog: product %w", shared.ErrNotFound)
	}
	if len(s.entries[id]) > 0 {
		return fmt.Errorf("catalog: product %d has ledger entries: %w", id, shared.ErrInvalidState)
	}
	delete(s.products, id)
	return nil
}

func (s *Store) CountLedgerEntries(_ context.Context, productID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries[productID])), nil
}

func (s *Store) ListProducts(_ context.Context, filter catalog.ListFilter) ([]catalog.Product, int, error) {
	s.mu.RLock()
	search := strings.ToLower(filter.Search)
	var matched []catalog.Product
	for _, p := range s.products {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.CategoryID > 0 && p.CategoryID != filter.CategoryID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.SKU), search) && !strings.Contains(strings.ToLower(p.Barcode), search) {
			continue
		}
		matched = append(matched, p)
	}
	s.mu.RUnlock()
	slices.SortFunc(matched, func(a, b catalog.Product) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return page(matched, filter.Page, filter.PerPage), len(matched), nil
}

func (s *Store) ListLowStock(_ context.Context, limit int) ([]catalog.Product, error) {
	s.mu.RLock()
	var low []catalog.Product
	for _, p := range s.products {
		if p.Status == catalog.StatusActive && p.IsLowStock() {
			low = append(low, p)
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(low, func(a, b catalog.Product) int {
		return cmp.Or(cmp.Compare(a.CurrentStock, b.CurrentStock), cmp.Compare(a.ID, b.ID))
	})
	if limit > 0 && len(low) > limit {
		low = low[:limit]
	}
	return low, nil
}

func page[T any](items []T, pageNum, perPage int) []T {
	pageNum, perPage = shared.NormalizePage(pageNum, perPage)
	start := shared.Offset(pageNum, perPage)
	if start >= len(items) {
		return nil
	}
	end := min(start+perPage, len(items))
	return items[start:end]
}
