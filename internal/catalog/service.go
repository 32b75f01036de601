package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/storekeep/storekeep/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// ErrProductInUse is returned when deleting a product that has ledger history.
var ErrProductInUse = fmt.Errorf("catalog: product has stock history: %w", shared.ErrInvalidState)

// Repository persists products.
type Repository interface {
	CreateProduct(ctx context.Context, p Product) (Product, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
	GetProductBySKU(ctx context.Context, sku string) (Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (Product, error)
	UpdateProduct(ctx context.Context, p Product) (Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	CountLedgerEntries(ctx context.Context, productID int64) (int64, error)
	ListProducts(ctx context.Context, filter ListFilter) ([]Product, int, error)
	ListLowStock(ctx context.Context, limit int) ([]Product, error)
}

// StockSeeder posts the opening ledger entry of a new product.
type StockSeeder interface {
	SeedInitialStock(ctx context.Context, productID, actorID, quantity int64, unitPrice decimal.Decimal) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages product stock records. It never writes CurrentStock directly.
type Service struct {
	repo   Repository
	stock  StockSeeder
	cache  *LookupCache
	audit  AuditPort
	logger *slog.Logger
}

// NewService builds Service. cache and audit may be nil.
func NewService(repo Repository, stock StockSeeder, cache *LookupCache, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, stock: stock, cache: cache, audit: audit, logger: logger}
}

// Create stores a product with zero stock and, when InitialStock > 0, posts an initial
// ledger entry so that stock and ledger agree from the start.
func (s *Service) Create(ctx context.Context, in CreateInput) (Product, error) {
	if in.InitialStock < 0 {
		return Product{}, shared.ErrInvalidQuantity
	}
	p := Product{
		SKU:           NormalizeSKU(in.SKU),
		Barcode:       strings.TrimSpace(in.Barcode),
		Name:          strings.TrimSpace(in.Name),
		Description:   in.Description,
		CategoryID:    in.CategoryID,
		SupplierID:    in.SupplierID,
		Unit:          in.Unit,
		CostPrice:     in.CostPrice,
		SellingPrice:  in.SellingPrice,
		TaxRate:       in.TaxRate,
		MinStockLevel: valueOr(in.MinStockLevel, DefaultMinStockLevel),
		MaxStockLevel: valueOr(in.MaxStockLevel, DefaultMaxStockLevel),
		ReorderPoint:  valueOr(in.ReorderPoint, DefaultReorderPoint),
		Status:        StatusActive,
	}
	if p.Unit == "" {
		p.Unit = DefaultUnit
	}
	if err := validate(p); err != nil {
		return Product{}, err
	}
	if !p.SellingPrice.GreaterThan(p.CostPrice) {
		s.logger.Warn("selling price not above cost", slog.String("sku", p.SKU))
	}

	created, err := s.repo.CreateProduct(ctx, p)
	if err != nil {
		return Product{}, err
	}
	if in.InitialStock > 0 {
		if err := s.stock.SeedInitialStock(ctx, created.ID, in.ActorID, in.InitialStock, created.CostPrice); err != nil {
			if derr := s.repo.DeleteProduct(ctx, created.ID); derr != nil {
				s.logger.Error("rollback product after seed failure", slog.Int64("product_id", created.ID), slog.Any("error", derr))
			}
			return Product{}, fmt.Errorf("catalog: seed initial stock: %w", err)
		}
		if created, err = s.repo.GetProduct(ctx, created.ID); err != nil {
			return Product{}, err
		}
	}
	s.recordAudit(ctx, in.ActorID, "catalog:create", created.ID, map[string]any{"sku": created.SKU, "initial_stock": in.InitialStock})
	return created, nil
}

// Get loads a product by id.
func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, invalid("invalid product id")
	}
	return s.repo.GetProduct(ctx, id)
}

// GetBySKU loads a product by its normalised SKU.
func (s *Service) GetBySKU(ctx context.Context, sku string) (Product, error) {
	sku = NormalizeSKU(sku)
	if sku == "" {
		return Product{}, invalid("sku is required")
	}
	return s.lookup(ctx, lookupSKU, sku, s.repo.GetProductBySKU)
}

// GetByBarcode loads a product by barcode.
func (s *Service) GetByBarcode(ctx context.Context, barcode string) (Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return Product{}, invalid("barcode is required")
	}
	return s.lookup(ctx, lookupBarcode, barcode, s.repo.GetProductByBarcode)
}

func (s *Service) lookup(ctx context.Context, kind, value string, load func(context.Context, string) (Product, error)) (Product, error) {
	id, err := s.cache.ProductID(ctx, kind, value, func(ctx context.Context) (int64, error) {
		p, err := load(ctx, value)
		if err != nil {
			return 0, err
		}
		return p.ID, nil
	})
	if err != nil {
		return Product{}, err
	}
	p, err := s.repo.GetProduct(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		s.cache.Forget(ctx, kind, value)
	}
	return p, err
}

// Update changes descriptive fields, prices and levels. Stock is never touched here.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (Product, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}
	oldBarcode := p.Barcode
	if in.Barcode != nil {
		p.Barcode = strings.TrimSpace(*in.Barcode)
	}
	if in.Name != nil {
		p.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.CategoryID != nil {
		p.CategoryID = *in.CategoryID
	}
	if in.SupplierID != nil {
		p.SupplierID = *in.SupplierID
	}
	if in.Unit != nil {
		p.Unit = *in.Unit
	}
	if in.CostPrice != nil {
		p.CostPrice = *in.CostPrice
	}
	if in.SellingPrice != nil {
		p.SellingPrice = *in.SellingPrice
	}
	if in.TaxRate != nil {
		p.TaxRate = *in.TaxRate
	}
	if in.MinStockLevel != nil {
		p.MinStockLevel = *in.MinStockLevel
	}
	if in.MaxStockLevel != nil {
		p.MaxStockLevel = *in.MaxStockLevel
	}
	if in.ReorderPoint != nil {
		p.ReorderPoint = *in.ReorderPoint
	}
	if in.Status != nil {
		p.Status = *in.Status
	}
	if err := validate(p); err != nil {
		return Product{}, err
	}
	updated, err := s.repo.UpdateProduct(ctx, p)
	if err != nil {
		return Product{}, err
	}
	if oldBarcode != updated.Barcode {
		s.cache.Forget(ctx, lookupBarcode, oldBarcode)
	}
	s.recordAudit(ctx, in.ActorID, "catalog:update", id, nil)
	return updated, nil
}

// Delete removes a product that has never had stock movements.
func (s *Service) Delete(ctx context.Context, id, actorID int64) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	entries, err := s.repo.CountLedgerEntries(ctx, id)
	if err != nil {
		return err
	}
	if entries > 0 {
		return ErrProductInUse
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.cache.Forget(ctx, lookupSKU, p.SKU)
	s.cache.Forget(ctx, lookupBarcode, p.Barcode)
	s.recordAudit(ctx, actorID, "catalog:delete", id, map[string]any{"sku": p.SKU})
	return nil
}

// List returns a filtered page of products.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Product, shared.Pagination, error) {
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	products, total, err := s.repo.ListProducts(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return products, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// ListLowStock returns active products at or below their minimum stock level, lowest first.
func (s *Service) ListLowStock(ctx context.Context, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = shared.MaxPerPage
	}
	return s.repo.ListLowStock(ctx, limit)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, productID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "product",
		EntityID: strconv.FormatInt(productID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("catalog audit", slog.String("action", action), slog.Any("error", err))
	}
}

func valueOr(v *int64, fallback int64) int64 {
	if v == nil {
		return fallback
	}
	return *v
}
