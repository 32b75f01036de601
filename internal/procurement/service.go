package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storekeep/storekeep/internal/catalog"
	"github.com/storekeep/storekeep/internal/inventory"
	"github.com/storekeep/storekeep/internal/platform/lock"
	"github.com/storekeep/storekeep/internal/sequence"
	"github.com/storekeep/storekeep/internal/shared"
)

const lockKind = "purchase_order"

// RepositoryPort describes repository operations used by Service. Saves write the
// header and lines atomically.
type RepositoryPort interface {
	CreatePurchaseOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	SavePurchaseOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	DeletePurchaseOrder(ctx context.Context, id int64) error
	ListPurchaseOrders(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, error)
}

// InventoryPort exposes required inventory integration.
type InventoryPort interface {
	Apply(ctx context.Context, input inventory.MutationInput) (inventory.MutationResult, error)
}

// ProductPort resolves ordered products.
type ProductPort interface {
	Get(ctx context.Context, id int64) (catalog.Product, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Logger *slog.Logger
	Clock  func() time.Time
}

// Service orchestrates the purchase order lifecycle.
type Service struct {
	repo      RepositoryPort
	inventory InventoryPort
	products  ProductPort
	numbers   sequence.Allocator
	locker    lock.Locker
	audit     AuditPort
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, inv InventoryPort, products ProductPort, numbers sequence.Allocator, locker lock.Locker, audit AuditPort, cfg ServiceConfig) *Service {
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

// Create validates lines, allocates an order number and stores a pending order.
func (s *Service) Create(ctx context.Context, input CreateInput) (PurchaseOrder, error) {
	if input.SupplierID <= 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: supplier required", ErrValidation)
	}
	lines, err := s.buildLines(ctx, input.Lines)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if input.TaxAmount.IsNegative() || input.DiscountAmount.IsNegative() {
		return PurchaseOrder{}, fmt.Errorf("%w: tax and discount must not be negative", ErrValidation)
	}
	now := s.now().UTC()
	number, err := s.numbers.Next(ctx, sequence.TagPurchaseOrder, now)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po := PurchaseOrder{
		Number:               number,
		SupplierID:           input.SupplierID,
		Lines:                lines,
		OrderDate:            now,
		ExpectedDeliveryDate: input.ExpectedDeliveryDate,
		Status:               POStatusPending,
		TaxAmount:            input.TaxAmount,
		DiscountAmount:       input.DiscountAmount,
		PaidAmount:           decimal.Zero,
		Notes:                input.Notes,
		CreatedBy:            input.ActorID,
	}
	Recalculate(&po)
	if po.TotalAmount.IsNegative() {
		return PurchaseOrder{}, fmt.Errorf("%w: discount exceeds order value", ErrValidation)
	}
	created, err := s.repo.CreatePurchaseOrder(ctx, po)
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_CREATE", created.ID, map[string]any{"number": created.Number, "total": created.TotalAmount.String()})
	return created, nil
}

// Get loads an order.
func (s *Service) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetPurchaseOrder(ctx, id)
}

// List returns a filtered page of orders, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, shared.Pagination, error) {
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	orders, total, err := s.repo.ListPurchaseOrders(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return orders, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Update edits a non-terminal order. Replacing lines is refused once goods have been received.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (PurchaseOrder, error) {
	var out PurchaseOrder
	err := s.withOrderLock(ctx, id, func() error {
		po, err := s.repo.GetPurchaseOrder(ctx, id)
		if err != nil {
			return err
		}
		if po.Status.Terminal() {
			return fmt.Errorf("%w: cannot update %s order %s", ErrInvalidState, po.Status, po.Number)
		}
		if input.Lines != nil {
			if po.HasReceipts() {
				return fmt.Errorf("%w: order %s already has receipts", ErrInvalidState, po.Number)
			}
			lines, err := s.buildLines(ctx, input.Lines)
			if err != nil {
				return err
			}
			po.Lines = lines
		}
		if input.SupplierID != nil {
			if *input.SupplierID <= 0 {
				return fmt.Errorf("%w: supplier required", ErrValidation)
			}
			po.SupplierID = *input.SupplierID
		}
		if input.ExpectedDeliveryDate != nil {
			po.ExpectedDeliveryDate = input.ExpectedDeliveryDate
		}
		if input.TaxAmount != nil {
			po.TaxAmount = *input.TaxAmount
		}
		if input.DiscountAmount != nil {
			po.DiscountAmount = *input.DiscountAmount
		}
		if input.Notes != nil {
			po.Notes = *input.Notes
		}
		if po.TaxAmount.IsNegative() || po.DiscountAmount.IsNegative() {
			return fmt.Errorf("%w: tax and discount must not be negative", ErrValidation)
		}
		Recalculate(&po)
		if po.TotalAmount.IsNegative() {
			return fmt.Errorf("%w: discount exceeds order value", ErrValidation)
		}
		saved, err := s.repo.SavePurchaseOrder(ctx, po)
		if err != nil {
			return err
		}
		out = saved
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_UPDATE", id, nil)
	return out, nil
}

// Confirm moves a pending order to confirmed.
func (s *Service) Confirm(ctx context.Context, id, actorID int64) (PurchaseOrder, error) {
	var out PurchaseOrder
	err := s.withOrderLock(ctx, id, func() error {
		po, err := s.repo.GetPurchaseOrder(ctx, id)
		if err != nil {
			return err
		}
		if po.Status != POStatusPending {
			return fmt.Errorf("%w: cannot confirm %s order %s", ErrInvalidState, po.Status, po.Number)
		}
		po.Status = POStatusConfirmed
		saved, err := s.repo.SavePurchaseOrder(ctx, po)
		if err != nil {
			return err
		}
		out = saved
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actorID, "PO_CONFIRM", id, nil)
	return out, nil
}

// Receive books received goods into stock. The whole receipt is validated before any
// stock moves; if a stock mutation fails part way, the lines already booked are saved
// so the order keeps matching the ledger, and the error is returned.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (PurchaseOrder, error) {
	if len(input.Items) == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: receipt requires at least one item", ErrValidation)
	}
	var out PurchaseOrder
	err := s.withOrderLock(ctx, input.OrderID, func() error {
		po, err := s.repo.GetPurchaseOrder(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if po.Status.Terminal() {
			return fmt.Errorf("%w: cannot receive against %s order %s", ErrInvalidState, po.Status, po.Number)
		}
		if err := validateReceipt(po, input.Items); err != nil {
			return err
		}

		var applyErr error
		applied := 0
		for _, item := range input.Items {
			line := &po.Lines[po.lineIndex(item.ProductID)]
			upTo := line.ReceivedQuantity + item.Quantity
			price := line.UnitPrice
			mutation := inventory.MutationInput{
				ProductID:  item.ProductID,
				Type:       inventory.TypePurchase,
				Quantity:   item.Quantity,
				UnitPrice:  &price,
				Reference:  po.Number,
				SupplierID: po.SupplierID,
				Notes:      "Goods received for " + po.Number,
				ActorID:    input.ActorID,
				// The cumulative quantity makes each real receipt unique while a retried
				// receipt whose stock already moved is recognised as a duplicate.
				IdempotencyKey: ReceiptKey(po.ID, item.ProductID, upTo),
			}
			if _, err := s.inventory.Apply(ctx, mutation); err != nil && !alreadyReceived(err, mutation) {
				applyErr = err
				break
			}
			line.ReceivedQuantity = upTo
			applied++
		}
		if applied == 0 {
			return applyErr
		}

		now := s.now().UTC()
		po.ReceivedBy = input.ActorID
		po.ActualDeliveryDate = &now
		Recalculate(&po)
		saved, err := s.repo.SavePurchaseOrder(ctx, po)
		if err != nil {
			if applyErr != nil {
				s.logger.Error("save partial receipt", slog.String("order", po.Number), slog.Any("error", err))
				return applyErr
			}
			return err
		}
		out = saved
		if applyErr != nil {
			s.logger.Warn("receipt stopped part way",
				slog.String("order", po.Number), slog.Int("applied", applied), slog.Any("error", applyErr))
		}
		return applyErr
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_RECEIVE", input.OrderID, map[string]any{"number": out.Number, "status": string(out.Status)})
	return out, nil
}

// ReceiptKey is the idempotency key of the purchase entry that brings a line's
// received quantity up to upTo.
func ReceiptKey(orderID, productID, upTo int64) string {
	return fmt.Sprintf("po:%d:product:%d:received:%d", orderID, productID, upTo)
}

// alreadyReceived reports whether err is the replay of this exact purchase entry. A key
// held by any other entry is a collision and leaves the line unreceived.
func alreadyReceived(err error, mutation inventory.MutationInput) bool {
	var dup *inventory.DuplicateMutationError
	return errors.As(err, &dup) && dup.Recorded(mutation)
}

func validateReceipt(po PurchaseOrder, items []ReceiveItem) error {
	pending := make(map[int64]int64, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return fmt.Errorf("procurement: product %d: %w", item.ProductID, shared.ErrInvalidQuantity)
		}
		idx := po.lineIndex(item.ProductID)
		if idx < 0 {
			return fmt.Errorf("%w: product %d on %s", ErrLineNotFound, item.ProductID, po.Number)
		}
		line := po.Lines[idx]
		if line.ReceivedQuantity+pending[item.ProductID]+item.Quantity > line.Quantity {
			return fmt.Errorf("procurement: product %d ordered %d, received %d, receiving %d: %w",
				item.ProductID, line.Quantity, line.ReceivedQuantity+pending[item.ProductID], item.Quantity, shared.ErrOverReceipt)
		}
		pending[item.ProductID] += item.Quantity
	}
	return nil
}

// Cancel cancels a non-terminal order. Stock already received stays in stock.
func (s *Service) Cancel(ctx context.Context, id int64, reason string, actorID int64) (PurchaseOrder, error) {
	var out PurchaseOrder
	err := s.withOrderLock(ctx, id, func() error {
		po, err := s.repo.GetPurchaseOrder(ctx, id)
		if err != nil {
			return err
		}
		if po.Status.Terminal() {
			return fmt.Errorf("%w: cannot cancel %s order %s", ErrInvalidState, po.Status, po.Number)
		}
		po.Status = POStatusCancelled
		po.Notes = appendNote(po.Notes, "Cancellation reason: "+defaultString(reason, "not given"))
		saved, err := s.repo.SavePurchaseOrder(ctx, po)
		if err != nil {
			return err
		}
		out = saved
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actorID, "PO_CANCEL", id, map[string]any{"reason": reason})
	return out, nil
}

// Delete removes a pending or cancelled order that never received goods.
func (s *Service) Delete(ctx context.Context, id, actorID int64) error {
	err := s.withOrderLock(ctx, id, func() error {
		po, err := s.repo.GetPurchaseOrder(ctx, id)
		if err != nil {
			return err
		}
		if po.Status != POStatusPending && po.Status != POStatusCancelled {
			return fmt.Errorf("%w: cannot delete %s order %s", ErrInvalidState, po.Status, po.Number)
		}
		if po.HasReceipts() {
			return fmt.Errorf("%w: order %s has receipts", ErrInvalidState, po.Number)
		}
		return s.repo.DeletePurchaseOrder(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "PO_DELETE", id, nil)
	return nil
}

func (s *Service) buildLines(ctx context.Context, inputs []LineInput) ([]POLine, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one item required", ErrValidation)
	}
	seen := make(map[int64]struct{}, len(inputs))
	lines := make([]POLine, 0, len(inputs))
	for _, in := range inputs {
		if in.Quantity <= 0 {
			return nil, fmt.Errorf("procurement: product %d: %w", in.ProductID, shared.ErrInvalidQuantity)
		}
		if in.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: product %d unit price must not be negative", ErrValidation, in.ProductID)
		}
		if _, dup := seen[in.ProductID]; dup {
			return nil, fmt.Errorf("%w: product %d listed twice", ErrValidation, in.ProductID)
		}
		seen[in.ProductID] = struct{}{}
		if _, err := s.products.Get(ctx, in.ProductID); err != nil {
			return nil, err
		}
		lines = append(lines, POLine{ProductID: in.ProductID, Quantity: in.Quantity, UnitPrice: in.UnitPrice})
	}
	return lines, nil
}

func (s *Service) withOrderLock(ctx context.Context, id int64, fn func() error) error {
	release, err := s.locker.Lock(ctx, shared.DocumentLockKey(lockKind, id))
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "purchase_order", EntityID: strconv.FormatInt(entityID, 10), Meta: meta}); err != nil {
		s.logger.Warn("procurement audit", slog.String("action", action), slog.Any("error", err))
	}
}

func appendNote(notes, note string) string {
	if strings.TrimSpace(notes) == "" {
		return note
	}
	return notes + "\n" + note
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
