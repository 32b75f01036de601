package procurement

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/storekeep/storekeep/internal/platform/httpx"
	"github.com/storekeep/storekeep/internal/rbac"
	"github.com/storekeep/storekeep/internal/shared"
)

// Handler exposes purchase order endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds the procurement handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/purchase-orders", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(shared.PermPurchaseView))
			r.Get("/", h.handleList)
			r.Get("/{id}", h.handleShow)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermPurchaseEdit))
			r.Post("/", h.handleCreate)
			r.Patch("/{id}", h.handleUpdate)
			r.Post("/{id}/confirm", h.handleConfirm)
			r.Post("/{id}/receive", h.handleReceive)
			r.Post("/{id}/cancel", h.handleCancel)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermPurchaseDelete))
			r.Delete("/{id}", h.handleDelete)
		})
	})
}

type lineRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func toLineInputs(reqs []lineRequest) []LineInput {
	if reqs == nil {
		return nil
	}
	out := make([]LineInput, 0, len(reqs))
	for _, l := range reqs {
		out = append(out, LineInput{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return out
}

type createRequest struct {
	SupplierID           int64           `json:"supplier_id" validate:"required,gt=0"`
	Items                []lineRequest   `json:"items" validate:"required,min=1,dive"`
	ExpectedDeliveryDate *time.Time      `json:"expected_delivery_date"`
	TaxAmount            decimal.Decimal `json:"tax_amount"`
	DiscountAmount       decimal.Decimal `json:"discount_amount"`
	Notes                string          `json:"notes" validate:"max=1000"`
}

type updateRequest struct {
	SupplierID           *int64           `json:"supplier_id" validate:"omitempty,gt=0"`
	Items                []lineRequest    `json:"items" validate:"omitempty,min=1,dive"`
	ExpectedDeliveryDate *time.Time       `json:"expected_delivery_date"`
	TaxAmount            *decimal.Decimal `json:"tax_amount"`
	DiscountAmount       *decimal.Decimal `json:"discount_amount"`
	Notes                *string          `json:"notes" validate:"omitempty,max=1000"`
}

type receiveRequest struct {
	Items []struct {
		ProductID int64 `json:"product_id" validate:"required,gt=0"`
		Quantity  int64 `json:"quantity"`
	} `json:"items" validate:"required,min=1,dive"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.Create(r.Context(), CreateInput{
		SupplierID:           req.SupplierID,
		Lines:                toLineInputs(req.Items),
		ExpectedDeliveryDate: req.ExpectedDeliveryDate,
		TaxAmount:            req.TaxAmount,
		DiscountAmount:       req.DiscountAmount,
		Notes:                req.Notes,
		ActorID:              actor.ID,
	})
	if err != nil {
		h.logger.Info("create purchase order rejected", slog.Int64("supplier_id", req.SupplierID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Status:     POStatus(q.Get("status")),
		SupplierID: int64(httpx.IntQuery(r, "supplier_id", 0)),
		Page:       httpx.IntQuery(r, "page", 1),
		PerPage:    httpx.IntQuery(r, "limit", shared.DefaultPerPage),
	}
	if from, err := time.Parse(time.DateOnly, q.Get("from")); err == nil {
		filter.From = from
	}
	if to, err := time.Parse(time.DateOnly, q.Get("to")); err == nil {
		filter.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	orders, page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list purchase orders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if orders == nil {
		orders = []PurchaseOrder{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchase_orders": orders, "pagination": page})
}

func (h *Handler) handleShow(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.Update(r.Context(), id, UpdateInput{
		SupplierID:           req.SupplierID,
		Lines:                toLineInputs(req.Items),
		ExpectedDeliveryDate: req.ExpectedDeliveryDate,
		TaxAmount:            req.TaxAmount,
		DiscountAmount:       req.DiscountAmount,
		Notes:                req.Notes,
		ActorID:              actor.ID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.Confirm(r.Context(), id, actor.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req receiveRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := ReceiveInput{OrderID: id, ActorID: actor.ID}
	for _, item := range req.Items {
		input.Items = append(input.Items, ReceiveItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	po, err := h.service.Receive(r.Context(), input)
	if err != nil {
		h.logger.Info("receipt rejected", slog.Int64("order_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req cancelRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.Cancel(r.Context(), id, req.Reason, actor.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id, actor.ID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
