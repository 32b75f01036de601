package inventory

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/storekeep/storekeep/internal/platform/httpx"
	"github.com/storekeep/storekeep/internal/rbac"
	"github.com/storekeep/storekeep/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermStockView))
		r.Get("/products/{id}/stock/history", h.handleHistory)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermStockMutate))
		r.Post("/products/{id}/stock", h.handleMutate)
	})
}

type mutateRequest struct {
	Type      TransactionType  `json:"type" validate:"required,oneof=stock_in stock_out adjustment damaged transfer"`
	Direction string           `json:"direction" validate:"omitempty,oneof=in out increase decrease"`
	Quantity  int64            `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	Reference string           `json:"reference" validate:"max=120"`
	Notes     string           `json:"notes" validate:"max=500"`
}

func (req mutateRequest) toInput(productID, actorID int64, idempotencyKey string) (MutationInput, error) {
	if !req.Type.Manual() {
		return MutationInput{}, fmt.Errorf("type %s: %w", req.Type, ErrInvalidType)
	}
	input := MutationInput{
		ProductID:      productID,
		Type:           req.Type,
		Quantity:       req.Quantity,
		UnitPrice:      req.UnitPrice,
		Reference:      req.Reference,
		Notes:          req.Notes,
		ActorID:        actorID,
		IdempotencyKey: idempotencyKey,
	}
	if req.Type == TypeAdjustment || req.Type == TypeTransfer {
		dir, err := ParseDirection(req.Direction)
		if err != nil {
			return MutationInput{}, err
		}
		input.Direction = dir
	}
	return input, nil
}

// clientKey scopes a caller's Idempotency-Key to that caller, apart from the keys the
// order and sale services derive for their own entries.
func clientKey(actorID int64, key string) string {
	if key == "" {
		return ""
	}
	return fmt.Sprintf("client:%d:%s", actorID, key)
}

func (h *Handler) handleMutate(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	productID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req mutateRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input, err := req.toInput(productID, actor.ID, clientKey(actor.ID, r.Header.Get("Idempotency-Key")))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Apply(r.Context(), input)
	if err != nil {
		h.logger.Info("stock mutation rejected", slog.Int64("product_id", productID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type historyResponse struct {
	Entries    []Entry           `json:"entries"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, page, err := h.service.History(r.Context(), HistoryFilter{
		ProductID: productID,
		Page:      httpx.IntQuery(r, "page", 1),
		PerPage:   httpx.IntQuery(r, "limit", shared.DefaultPerPage),
	})
	if err != nil {
		h.logger.Error("stock history", slog.Int64("product_id", productID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	httpx.JSON(w, http.StatusOK, historyResponse{Entries: entries, Pagination: page})
}
