package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/storekeep/storekeep/internal/catalog"
	"github.com/storekeep/storekeep/internal/inventory"
	"github.com/storekeep/storekeep/internal/platform/lock"
	"github.com/storekeep/storekeep/internal/sequence"
	"github.com/storekeep/storekeep/internal/shared"
)

const lockKind = "sale"

// Repository persists sales. SaveSale writes header fields only.
type Repository interface {
	CreateSale(ctx context.Context, sale Sale) (Sale, error)
	GetSale(ctx context.Context, id int64) (Sale, error)
	SaveSale(ctx context.Context, sale Sale) (Sale, error)
	ListSales(ctx context.Context, filter ListFilter) ([]Sale, int, error)
}

// InventoryPort applies stock mutations.
type InventoryPort interface {
	Apply(ctx context.Context, input inventory.MutationInput) (inventory.MutationResult, error)
}

// ProductPort resolves products being sold.
type ProductPort interface {
	Get(ctx context.Context, id int64) (catalog.Product, error)
}

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Logger *slog.Logger
	Clock  func() time.Time
}

// Service implements the sale lifecycle.
type Service struct {
	repo      Repository
	inventory InventoryPort
	products  ProductPort
	numbers   sequence.Allocator
	locker    lock.Locker
	audit     AuditPort
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs a sales service.
func NewService(repo Repository, inv InventoryPort, products ProductPort, numbers sequence.Allocator, locker lock.Locker, audit AuditPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Service{repo: repo, inventory: inv, products: products, numbers: numbers, locker: locker, audit: audit, logger: logger, now: clock}
}

// ============================================================================
// CREATE
// ============================================================================

// Create checks availability, records the sale and takes stock line by line. When a
// line cannot take its stock the lines already taken are returned, the sale is
// cancelled and an *AllocationError wrapping the cause is returned.
func (s *Service) Create(ctx context.Context, input CreateInput) (Sale, error) {
	if err := validateCreate(&input); err != nil {
		return Sale{}, err
	}
	products, err := s.resolveProducts(ctx, input.Lines)
	if err != nil {
		return Sale{}, err
	}
	if err := checkAvailability(input.Lines, products); err != nil {
		return Sale{}, err
	}

	lines := make([]Line, 0, len(input.Lines))
	for i, in := range input.Lines {
		p := products[i]
		line := Line{
			ProductID:   p.ID,
			ProductName: p.Name,
			SKU:         p.SKU,
			Quantity:    in.Quantity,
			UnitPrice:   p.SellingPrice,
			Discount:    in.Discount,
			TaxRate:     p.TaxRate,
		}
		if in.UnitPrice != nil {
			line.UnitPrice = *in.UnitPrice
		}
		if in.TaxRate != nil {
			line.TaxRate = *in.TaxRate
		}
		if err := validateLine(line); err != nil {
			return Sale{}, err
		}
		lines = append(lines, line)
	}

	now := s.now().UTC()
	sale := Sale{
		Customer:      input.Customer,
		Lines:         lines,
		PaidAmount:    input.PaidAmount,
		PaymentMethod: input.PaymentMethod,
		Status:        StatusConfirmed,
		DueDate:       input.DueDate,
		Notes:         input.Notes,
		SoldBy:        input.ActorID,
		SaleDate:      now,
	}
	Recalculate(&sale)
	if sale.PaidAmount.GreaterThan(sale.GrandTotal) {
		return Sale{}, fmt.Errorf("sales: paid %s exceeds total %s: %w", sale.PaidAmount, sale.GrandTotal, shared.ErrOverPayment)
	}

	number, err := s.numbers.Next(ctx, sequence.TagInvoice, now)
	if err != nil {
		return Sale{}, err
	}
	sale.InvoiceNumber = number
	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return Sale{}, err
	}

	if err := s.allocate(ctx, created, input.ActorID); err != nil {
		return s.abandon(ctx, created, input.ActorID, err)
	}
	s.recordAudit(ctx, input.ActorID, "SALE_CREATE", created.ID, map[string]any{
		"invoice": created.InvoiceNumber,
		"total":   created.GrandTotal.String(),
	})
	return created, nil
}

func validateCreate(input *CreateInput) error {
	input.Customer.Name = strings.TrimSpace(input.Customer.Name)
	if input.Customer.Name == "" {
		return fmt.Errorf("%w: customer name required", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return fmt.Errorf("%w: at least one item required", ErrValidation)
	}
	if input.PaymentMethod == "" {
		input.PaymentMethod = PaymentCash
	}
	if !input.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrValidation, input.PaymentMethod)
	}
	if input.PaidAmount.IsNegative() {
		return fmt.Errorf("%w: paid amount must not be negative", ErrValidation)
	}
	for _, l := range input.Lines {
		if l.ProductID <= 0 {
			return fmt.Errorf("%w: product required", ErrValidation)
		}
		if l.Quantity <= 0 {
			return fmt.Errorf("sales: product %d: %w", l.ProductID, shared.ErrInvalidQuantity)
		}
	}
	return nil
}

func validateLine(l Line) error {
	switch {
	case l.UnitPrice.IsNegative():
		return fmt.Errorf("%w: product %d unit price must not be negative", ErrValidation, l.ProductID)
	case l.Discount.IsNegative() || l.Discount.GreaterThan(l.Gross()):
		return fmt.Errorf("%w: product %d discount must be between 0 and the line amount", ErrValidation, l.ProductID)
	case l.TaxRate.IsNegative() || l.TaxRate.GreaterThan(hundred):
		return fmt.Errorf("%w: product %d tax rate must be between 0 and 100", ErrValidation, l.ProductID)
	}
	return nil
}

// resolveProducts loads every line's product concurrently, preserving line order.
func (s *Service) resolveProducts(ctx context.Context, lines []LineInput) ([]catalog.Product, error) {
	products := make([]catalog.Product, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, line := range lines {
		g.Go(func() error {
			p, err := s.products.Get(gctx, line.ProductID)
			if err != nil {
				return fmt.Errorf("sales: product %d: %w", line.ProductID, err)
			}
			products[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return products, nil
}

// checkAvailability compares the total requested per product with its current stock.
func checkAvailability(lines []LineInput, products []catalog.Product) error {
	requested := make(map[int64]int64, len(lines))
	for _, l := range lines {
		requested[l.ProductID] += l.Quantity
	}
	for _, p := range products {
		want, ok := requested[p.ID]
		if !ok {
			continue
		}
		if want > p.CurrentStock {
			return &shared.InsufficientStockError{ProductID: p.ID, Available: p.CurrentStock, Requested: want}
		}
		delete(requested, p.ID)
	}
	return nil
}

func (s *Service) allocate(ctx context.Context, sale Sale, actorID int64) error {
	for i, line := range sale.Lines {
		price := line.UnitPrice
		_, err := s.inventory.Apply(ctx, inventory.MutationInput{
			ProductID:      line.ProductID,
			Type:           inventory.TypeSale,
			Quantity:       line.Quantity,
			UnitPrice:      &price,
			Reference:      sale.InvoiceNumber,
			Customer:       customerSnapshot(sale.Customer),
			ActorID:        actorID,
			IdempotencyKey: fmt.Sprintf("sale:%d:line:%d", sale.ID, line.ID),
		})
		if err != nil {
			if restoreErr := s.restock(ctx, sale, sale.Lines[:i], actorID, "Stock allocation failed"); restoreErr != nil {
				s.logger.Error("return stock after failed allocation",
					slog.String("invoice", sale.InvoiceNumber), slog.Any("error", restoreErr))
			}
			return err
		}
	}
	return nil
}

// abandon cancels a sale whose stock allocation failed.
func (s *Service) abandon(ctx context.Context, sale Sale, actorID int64, cause error) (Sale, error) {
	sale.Status = StatusCancelled
	sale.Notes = appendNote(sale.Notes, "Cancelled: stock allocation failed: "+cause.Error())
	if _, err := s.repo.SaveSale(ctx, sale); err != nil {
		s.logger.Error("cancel unallocated sale", slog.String("invoice", sale.InvoiceNumber), slog.Any("error", err))
	}
	s.recordAudit(ctx, actorID, "SALE_ALLOCATION_FAILED", sale.ID, map[string]any{"invoice": sale.InvoiceNumber, "error": cause.Error()})
	return Sale{}, &AllocationError{InvoiceNumber: sale.InvoiceNumber, SaleID: sale.ID, Err: cause}
}

// restock books a return entry for each line.
func (s *Service) restock(ctx context.Context, sale Sale, lines []Line, actorID int64, note string) error {
	for _, line := range lines {
		price := line.UnitPrice
		_, err := s.inventory.Apply(ctx, inventory.MutationInput{
			ProductID: line.ProductID,
			Type:      inventory.TypeReturn,
			Quantity:  line.Quantity,
			UnitPrice: &price,
			Reference: sale.InvoiceNumber,
			Customer:  customerSnapshot(sale.Customer),
			Notes:     note,
			ActorID:   actorID,
		})
		if err != nil {
			return fmt.Errorf("sales: return product %d: %w", line.ProductID, err)
		}
	}
	return nil
}

func customerSnapshot(c Customer) *inventory.Customer {
	return &inventory.Customer{Name: c.Name, Phone: c.Phone, Email: c.Email}
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Get loads a sale.
func (s *Service) Get(ctx context.Context, id int64) (Sale, error) {
	return s.repo.GetSale(ctx, id)
}

// List returns a filtered page of sales, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Sale, shared.Pagination, error) {
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	sales, total, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return sales, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// RecordPayment adds a payment, optionally switching the payment method.
func (s *Service) RecordPayment(ctx context.Context, input PaymentInput) (Sale, error) {
	if !input.Amount.IsPositive() {
		return Sale{}, fmt.Errorf("%w: payment amount must be positive", ErrValidation)
	}
	if input.Method != "" && !input.Method.Valid() {
		return Sale{}, fmt.Errorf("%w: unknown payment method %q", ErrValidation, input.Method)
	}
	var out Sale
	err := s.withSaleLock(ctx, input.SaleID, func() error {
		sale, err := s.repo.GetSale(ctx, input.SaleID)
		if err != nil {
			return err
		}
		if sale.Status.Closed() {
			return fmt.Errorf("%w: cannot record payment for %s sale %s", ErrInvalidState, sale.Status, sale.InvoiceNumber)
		}
		paid := sale.PaidAmount.Add(input.Amount)
		if paid.GreaterThan(sale.GrandTotal) {
			return fmt.Errorf("sales: payment %s exceeds balance %s on %s: %w",
				input.Amount, sale.Balance(), sale.InvoiceNumber, shared.ErrOverPayment)
		}
		sale.PaidAmount = paid
		if input.Method != "" {
			sale.PaymentMethod = input.Method
		}
		sale.Notes = appendNote(sale.Notes, fmt.Sprintf("Payment of %s received via %s", input.Amount.StringFixed(2), sale.PaymentMethod))
		Recalculate(&sale)
		saved, err := s.repo.SaveSale(ctx, sale)
		if err != nil {
			return err
		}
		out = saved
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	s.recordAudit(ctx, input.ActorID, "SALE_PAYMENT", input.SaleID, map[string]any{"amount": input.Amount.String()})
	return out, nil
}

// Cancel returns every line to stock and cancels the sale. If a return fails part way,
// the lines already returned are taken again so stock matches the still-open sale.
func (s *Service) Cancel(ctx context.Context, id int64, reason string, actorID int64) (Sale, error) {
	var out Sale
	err := s.withSaleLock(ctx, id, func() error {
		sale, err := s.repo.GetSale(ctx, id)
		if err != nil {
			return err
		}
		if sale.Status.Closed() {
			return fmt.Errorf("%w: sale %s is already %s", ErrInvalidState, sale.InvoiceNumber, sale.Status)
		}
		if err := s.returnAll(ctx, sale, actorID); err != nil {
			return err
		}
		sale.Status = StatusCancelled
		if reason == "" {
			reason = "not given"
		}
		sale.Notes = appendNote(sale.Notes, "Cancelled: "+reason)
		saved, err := s.repo.SaveSale(ctx, sale)
		if err != nil {
			return err
		}
		out = saved
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	s.recordAudit(ctx, actorID, "SALE_CANCEL", id, map[string]any{"reason": reason})
	return out, nil
}

func (s *Service) returnAll(ctx context.Context, sale Sale, actorID int64) error {
	for i, line := range sale.Lines {
		if err := s.restock(ctx, sale, []Line{line}, actorID, "Sale cancelled"); err != nil {
			for _, done := range sale.Lines[:i] {
				price := done.UnitPrice
				_, undoErr := s.inventory.Apply(ctx, inventory.MutationInput{
					ProductID: done.ProductID,
					Type:      inventory.TypeSale,
					Quantity:  done.Quantity,
					UnitPrice: &price,
					Reference: sale.InvoiceNumber,
					Customer:  customerSnapshot(sale.Customer),
					Notes:     "Cancellation rolled back",
					ActorID:   actorID,
				})
				if undoErr != nil {
					s.logger.Error("roll back cancellation",
						slog.String("invoice", sale.InvoiceNumber), slog.Int64("product_id", done.ProductID), slog.Any("error", undoErr))
				}
			}
			return err
		}
	}
	return nil
}

// Update edits header fields. Status may only move between draft and confirmed;
// cancelling goes through Cancel so stock is returned.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (Sale, error) {
	var out Sale
	err := s.withSaleLock(ctx, id, func() error {
		sale, err := s.repo.GetSale(ctx, id)
		if err != nil {
			return err
		}
		if sale.Status.Closed() {
			return fmt.Errorf("%w: cannot modify %s sale %s", ErrInvalidState, sale.Status, sale.InvoiceNumber)
		}
		if input.Customer != nil {
			c := *input.Customer
			c.Name = strings.TrimSpace(c.Name)
			if c.Name == "" {
				return fmt.Errorf("%w: customer name required", ErrValidation)
			}
			sale.Customer = c
		}
		if input.PaymentMethod != nil {
			if !input.PaymentMethod.Valid() {
				return fmt.Errorf("%w: unknown payment method %q", ErrValidation, *input.PaymentMethod)
			}
			sale.PaymentMethod = *input.PaymentMethod
		}
		if input.DueDate != nil {
			sale.DueDate = input.DueDate
		}
		if input.Status != nil {
			switch *input.Status {
			case StatusDraft, StatusConfirmed:
				sale.Status = *input.Status
			case StatusCancelled, StatusReturned:
				return fmt.Errorf("%w: use cancel to close sale %s", ErrInvalidState, sale.InvoiceNumber)
			default:
				return fmt.Errorf("%w: unknown status %q", ErrValidation, *input.Status)
			}
		}
		if input.Notes != nil {
			sale.Notes = *input.Notes
		}
		Recalculate(&sale)
		saved, err := s.repo.SaveSale(ctx, sale)
		if err != nil {
			return err
		}
		out = saved
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	s.recordAudit(ctx, input.ActorID, "SALE_UPDATE", id, nil)
	return out, nil
}

func (s *Service) withSaleLock(ctx context.Context, id int64, fn func() error) error {
	release, err := s.locker.Lock(ctx, shared.DocumentLockKey(lockKind, id))
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, saleID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "sale", EntityID: strconv.FormatInt(saleID, 10), Meta: meta})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("sales audit", slog.String("action", action), slog.Any("error", err))
	}
}
