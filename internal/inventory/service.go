package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/storekeep/storekeep/internal/shared"
)

// ledgerNamespace scopes ref ids derived from idempotency keys.
var ledgerNamespace = uuid.MustParse("6f1c1f5e-8d8a-4f0e-9a51-2f4f3c0d7b11")

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListEntries(ctx context.Context, productID int64, limit, offset int) ([]Entry, int, error)
	StockSummaries(ctx context.Context) ([]StockSummary, error)
}

// TxRepository exposes transactional operations used by service. GetStockForUpdate
// must hold the product exclusively until the transaction ends. InsertEntry returns a
// *DuplicateMutationError when the entry's ref id is already in the ledger.
type TxRepository interface {
	GetStockForUpdate(ctx context.Context, productID int64) (StockRecord, error)
	UpdateStock(ctx context.Context, productID, newStock int64) error
	EntryByRef(ctx context.Context, refID string) (Entry, bool, error)
	InsertEntry(ctx context.Context, entry Entry) (Entry, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives ledger counters.
type MetricsPort interface {
	ObserveStockMutation(txType string)
	ObserveStockMutationFailure(reason string)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Logger  *slog.Logger
	Metrics MetricsPort
	Clock   func() time.Time
}

// Service coordinates stock mutations and the ledger.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics MetricsPort
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{repo: repo, audit: audit, metrics: cfg.Metrics, logger: logger, now: clock}
}

// Apply validates and applies one mutation atomically: the product's stock and the new
// ledger entry are written together or not at all. Mutations of the same product are
// serialised by the repository's row lock.
//
// An idempotency key is recorded as the entry's ref id, so the key is claimed by the
// same commit that moves the stock. A replayed key returns *DuplicateMutationError
// carrying the entry it produced.
func (s *Service) Apply(ctx context.Context, input MutationInput) (MutationResult, error) {
	dir, err := input.validate()
	if err != nil {
		return MutationResult{}, s.fail(err)
	}

	key := input.IdempotencyKey
	refID := uuid.New()
	if key != "" {
		refID = RefIDForKey(key)
	}
	now := s.now().UTC()

	var result MutationResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		record, err := tx.GetStockForUpdate(ctx, input.ProductID)
		if err != nil {
			return err
		}
		if key != "" {
			existing, found, err := tx.EntryByRef(ctx, refID.String())
			if err != nil {
				return err
			}
			if found {
				return &DuplicateMutationError{Key: key, Entry: existing}
			}
		}
		newStock := record.CurrentStock + int64(dir)*input.Quantity
		if newStock < 0 {
			return &shared.InsufficientStockError{
				ProductID: input.ProductID,
				Available: record.CurrentStock,
				Requested: input.Quantity,
			}
		}
		unitPrice := record.CostPrice
		if input.UnitPrice != nil {
			unitPrice = *input.UnitPrice
		}
		entry := Entry{
			ProductID:     input.ProductID,
			Type:          input.Type,
			Direction:     dir,
			Quantity:      input.Quantity,
			UnitPrice:     unitPrice,
			TotalAmount:   unitPrice.Mul(decimal.NewFromInt(input.Quantity)),
			PreviousStock: record.CurrentStock,
			NewStock:      newStock,
			Reference:     input.Reference,
			RefID:         refID.String(),
			SupplierID:    input.SupplierID,
			Customer:      input.Customer,
			Notes:         input.Notes,
			ActorID:       input.ActorID,
			CreatedAt:     now,
		}
		if err := tx.UpdateStock(ctx, input.ProductID, newStock); err != nil {
			return err
		}
		created, err := tx.InsertEntry(ctx, entry)
		if err != nil {
			return err
		}
		result = MutationResult{Entry: created, PreviousStock: record.CurrentStock, NewStock: newStock}
		return nil
	})
	if err != nil {
		var dup *DuplicateMutationError
		if errors.As(err, &dup) && dup.Key == "" {
			dup.Key = key
		}
		return MutationResult{}, s.fail(err)
	}

	if s.metrics != nil {
		s.metrics.ObserveStockMutation(string(input.Type))
	}
	s.recordAudit(ctx, input, result)
	return result, nil
}

// RefIDForKey derives the ledger ref id recorded for an idempotency key.
func RefIDForKey(key string) uuid.UUID {
	return uuid.NewSHA1(ledgerNamespace, []byte(key))
}

// StockIn records goods arriving outside a purchase order.
func (s *Service) StockIn(ctx context.Context, productID, quantity, actorID int64, reference string) (MutationResult, error) {
	return s.Apply(ctx, MutationInput{ProductID: productID, Type: TypeStockIn, Quantity: quantity, ActorID: actorID, Reference: reference})
}

// StockOut records goods leaving outside a sale.
func (s *Service) StockOut(ctx context.Context, productID, quantity, actorID int64, reference string) (MutationResult, error) {
	return s.Apply(ctx, MutationInput{ProductID: productID, Type: TypeStockOut, Quantity: quantity, ActorID: actorID, Reference: reference})
}

// SeedInitialStock posts the opening balance of a newly created product.
func (s *Service) SeedInitialStock(ctx context.Context, productID, actorID, quantity int64, unitPrice decimal.Decimal) error {
	_, err := s.Apply(ctx, MutationInput{
		ProductID: productID,
		Type:      TypeInitial,
		Quantity:  quantity,
		UnitPrice: &unitPrice,
		Reference: "Initial Stock",
		ActorID:   actorID,
	})
	return err
}

// History lists a product's ledger newest first.
func (s *Service) History(ctx context.Context, filter HistoryFilter) ([]Entry, shared.Pagination, error) {
	if filter.ProductID <= 0 {
		return nil, shared.Pagination{}, ErrProductRequired
	}
	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	entries, total, err := s.repo.ListEntries(ctx, filter.ProductID, perPage, shared.Offset(page, perPage))
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return entries, shared.NewPagination(page, perPage, total), nil
}

// Reconcile compares every product's current stock with its ledger and returns the
// products that disagree.
func (s *Service) Reconcile(ctx context.Context) ([]StockSummary, error) {
	summaries, err := s.repo.StockSummaries(ctx)
	if err != nil {
		return nil, err
	}
	var drift []StockSummary
	for _, summary := range summaries {
		if summary.Balanced() {
			continue
		}
		s.logger.Error("stock ledger drift",
			slog.Int64("product_id", summary.ProductID),
			slog.String("sku", summary.SKU),
			slog.Int64("current_stock", summary.CurrentStock),
			slog.Int64("ledger_sum", summary.LedgerSum))
		drift = append(drift, summary)
	}
	return drift, nil
}

func (in MutationInput) validate() (Direction, error) {
	if in.ProductID <= 0 {
		return 0, ErrProductRequired
	}
	if !in.Type.Valid() {
		return 0, ErrInvalidType
	}
	if in.Quantity <= 0 {
		return 0, shared.ErrInvalidQuantity
	}
	if in.UnitPrice != nil && in.UnitPrice.IsNegative() {
		return 0, ErrInvalidUnitPrice
	}
	if dir, ok := in.Type.fixedDirection(); ok {
		return dir, nil
	}
	if in.Direction != DirectionIn && in.Direction != DirectionOut {
		return 0, ErrInvalidDirection
	}
	return in.Direction, nil
}

func (s *Service) fail(err error) error {
	if s.metrics != nil {
		s.metrics.ObserveStockMutationFailure(failureReason(err))
	}
	return err
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, shared.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, shared.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrDuplicate):
		return "duplicate"
	case errors.Is(err, shared.ErrValidation):
		return "validation"
	default:
		return "error"
	}
}

func (s *Service) recordAudit(ctx context.Context, input MutationInput, result MutationResult) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   fmt.Sprintf("inventory:%s", input.Type),
		Entity:   "product",
		EntityID: strconv.FormatInt(input.ProductID, 10),
		Meta: map[string]any{
			"entry_id":       result.Entry.ID,
			"quantity":       input.Quantity,
			"direction":      result.Entry.Direction.String(),
			"previous_stock": result.PreviousStock,
			"new_stock":      result.NewStock,
			"reference":      input.Reference,
		},
		At: result.Entry.CreatedAt,
	})
	if err != nil {
		s.logger.Warn("inventory audit", slog.Int64("product_id", input.ProductID), slog.Any("error", err))
	}
}
