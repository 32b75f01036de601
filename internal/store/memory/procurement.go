package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/storekeep/storekeep/internal/procurement"
	"github.com/storekeep/storekeep/internal/shared"
)

func cloneOrder(po procurement.PurchaseOrder) procurement.PurchaseOrder {
	po.Lines = slices.Clone(po.Lines)
	return po
}

func (s *Store) CreatePurchaseOrder(_ context.Context, po procurement.PurchaseOrder) (procurement.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.orders {
		if existing.Number == po.Number {
			return procurement.PurchaseOrder{}, fmt.Errorf("procurement: order number %s: %w", po.Number, shared.ErrDuplicate)
		}
	}
	s.orderSeq++
	now := s.now()
	po.ID = s.orderSeq
	po.CreatedAt, po.UpdatedAt = now, now
	po.Lines = slices.Clone(po.Lines)
	for i := range po.Lines {
		po.Lines[i].ID = s.nextLineID()
	}
	s.orders[po.ID] = po
	return cloneOrder(po), nil
}

func (s *Store) GetPurchaseOrder(_ context.Context, id int64) (procurement.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	po, ok := s.orders[id]
	if !ok {
		return procurement.PurchaseOrder{}, procurement.ErrNotFound
	}
	return cloneOrder(po), nil
}

func (s *Store) SavePurchaseOrder(_ context.Context, po procurement.PurchaseOrder) (procurement.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.orders[po.ID]
	if !ok {
		return procurement.PurchaseOrder{}, procurement.ErrNotFound
	}
	po.Number = existing.Number
	po.CreatedAt = existing.CreatedAt
	po.UpdatedAt = s.now()
	po.Lines = slices.Clone(po.Lines)
	for i := range po.Lines {
		if po.Lines[i].ID == 0 {
			po.Lines[i].ID = s.nextLineID()
		}
	}
	s.orders[po.ID] = po
	return cloneOrder(po), nil
}

func (s *Store) DeletePurchaseOrder(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return procurement.ErrNotFound
	}
	delete(s.orders, id)
	return nil
}

func (s *Store) ListPurchaseOrders(_ context.Context, filter procurement.ListFilter) ([]procurement.PurchaseOrder, int, error) {
	s.mu.RLock()
	var matched []procurement.PurchaseOrder
	for _, po := range s.orders {
		switch {
		case filter.Status != "" && po.Status != filter.Status,
			filter.SupplierID > 0 && po.SupplierID != filter.SupplierID,
			!filter.From.IsZero() && po.OrderDate.Before(filter.From),
			!filter.To.IsZero() && po.OrderDate.After(filter.To):
			continue
		}
		matched = append(matched, cloneOrder(po))
	}
	s.mu.RUnlock()
	slices.SortFunc(matched, func(a, b procurement.PurchaseOrder) int {
		return cmp.Or(b.OrderDate.Compare(a.OrderDate), cmp.Compare(b.ID, a.ID))
	})
	return page(matched, filter.Page, filter.PerPage), len(matched), nil
}
