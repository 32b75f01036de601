// Package memory implements every repository port in process. It backs the memory
// store driver and cross-package scenario tests.
package memory

import (
	"sync"
	"time"

	"github.com/storekeep/storekeep/internal/catalog"
	"github.com/storekeep/storekeep/internal/inventory"
	"github.com/storekeep/storekeep/internal/platform/lock"
	"github.com/storekeep/storekeep/internal/procurement"
	"github.com/storekeep/storekeep/internal/sales"
)

// Store keeps products, the ledger, purchase orders and sales in maps guarded by one
// mutex. Stock mutations additionally hold a per-product lock for the whole unit.
type Store struct {
	mu       sync.RWMutex
	products map[int64]catalog.Product
	entries  map[int64][]inventory.Entry
	refs     map[string]inventory.Entry
	orders   map[int64]procurement.PurchaseOrder
	sales    map[int64]sales.Sale

	productSeq int64
	entrySeq   int64
	orderSeq   int64
	saleSeq    int64
	lineSeq    int64

	stockLocks *lock.Local
	now        func() time.Time
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		products:   make(map[int64]catalog.Product),
		entries:    make(map[int64][]inventory.Entry),
		refs:       make(map[string]inventory.Entry),
		orders:     make(map[int64]procurement.PurchaseOrder),
		sales:      make(map[int64]sales.Sale),
		stockLocks: lock.NewLocal(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) nextLineID() int64 {
	s.lineSeq++
	return s.lineSeq
}

var (
	_ catalog.Repository         = (*Store)(nil)
	_ inventory.RepositoryPort   = (*Store)(nil)
	_ procurement.RepositoryPort = (*Store)(nil)
	_ sales.Repository           = (*Store)(nil)
)
