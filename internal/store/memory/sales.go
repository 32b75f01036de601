package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/storekeep/storekeep/internal/sales"
	"github.com/storekeep/storekeep/internal/shared"
)

func cloneSale(sale sales.Sale) sales.Sale {
	sale.Lines = slices.Clone(sale.Lines)
	return sale
}

func (s *Store) CreateSale(_ context.Context, sale sales.Sale) (sales.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sales {
		if existing.InvoiceNumber == sale.InvoiceNumber {
			return sales.Sale{}, fmt.Errorf("sales: invoice %s: %w", sale.InvoiceNumber, shared.ErrDuplicate)
		}
	}
	s.saleSeq++
	now := s.now()
	sale.ID = s.saleSeq
	sale.CreatedAt, sale.UpdatedAt = now, now
	sale.Lines = slices.Clone(sale.Lines)
	for i := range sale.Lines {
		sale.Lines[i].ID = s.nextLineID()
	}
	s.sales[sale.ID] = sale
	return cloneSale(sale), nil
}

func (s *Store) GetSale(_ context.Context, id int64) (sales.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.sales[id]
	if !ok {
		return sales.Sale{}, sales.ErrNotFound
	}
	return cloneSale(sale), nil
}

// SaveSale writes header fields; stored lines are kept as created.
func (s *Store) SaveSale(_ context.Context, sale sales.Sale) (sales.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sales[sale.ID]
	if !ok {
		return sales.Sale{}, sales.ErrNotFound
	}
	sale.InvoiceNumber = existing.InvoiceNumber
	sale.Lines = existing.Lines
	sale.SoldBy = existing.SoldBy
	sale.SaleDate = existing.SaleDate
	sale.CreatedAt = existing.CreatedAt
	sale.UpdatedAt = s.now()
	s.sales[sale.ID] = sale
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, filter sales.ListFilter) ([]sales.Sale, int, error) {
	search := strings.ToLower(filter.Search)
	s.mu.RLock()
	var matched []sales.Sale
	for _, sale := range s.sales {
		switch {
		case filter.Status != "" && sale.Status != filter.Status,
			filter.PaymentStatus != "" && sale.PaymentStatus != filter.PaymentStatus,
			!filter.From.IsZero() && sale.SaleDate.Before(filter.From),
			!filter.To.IsZero() && sale.SaleDate.After(filter.To):
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(sale.InvoiceNumber), search) &&
			!strings.Contains(strings.ToLower(sale.Customer.Name), search) && !strings.Contains(sale.Customer.Phone, search) {
			continue
		}
		matched = append(matched, cloneSale(sale))
	}
	s.mu.RUnlock()
	slices.SortFunc(matched, func(a, b sales.Sale) int {
		return cmp.Or(b.SaleDate.Compare(a.SaleDate), cmp.Compare(b.ID, a.ID))
	})
	return page(matched, filter.Page, filter.PerPage), len(matched), nil
}
