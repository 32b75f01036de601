package sales

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

// Handler manages sales HTTP endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler creates a new sales handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/sales", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(shared.PermSalesView))
			r.Get("/", h.listSales)
			r.Get("/{id}", h.getSale)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermSalesCreate))
			r.Post("/", h.createSale)
			r.Patch("/{id}", h.updateSale)
			r.Post("/{id}/payments", h.recordPayment)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermSalesCancel))
			r.Post("/{id}/cancel", h.cancelSale)
		})
	})
}

// ============================================================================
// REQUESTS
// ============================================================================

type customerRequest struct {
	Name      string `json:"name" validate:"required,max=100"`
	Phone     string `json:"phone" validate:"max=20"`
	Email     string `json:"email" validate:"omitempty,email"`
	Address   string `json:"address" validate:"max=300"`
	GSTNumber string `json:"gst_number" validate:"max=20"`
}

func (c customerRequest) toCustomer() Customer {
	return Customer{Name: c.Name, Phone: c.Phone, Email: c.Email, Address: c.Address, GSTNumber: c.GSTNumber}
}

type createSaleRequest struct {
	Customer customerRequest `json:"customer"`
	Items    []struct {
		ProductID int64            `json:"product_id" validate:"required,gt=0"`
		Quantity  int64            `json:"quantity"`
		UnitPrice *decimal.Decimal `json:"unit_price"`
		Discount  decimal.Decimal  `json:"discount"`
		TaxRate   *decimal.Decimal `json:"tax_rate"`
	} `json:"items" validate:"required,min=1,dive"`
	PaymentMethod PaymentMethod   `json:"payment_method" validate:"omitempty,oneof=cash card upi bank_transfer credit"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	DueDate       *time.Time      `json:"due_date"`
	Notes         string          `json:"notes" validate:"max=1000"`
}

type updateSaleRequest struct {
	Customer      *customerRequest `json:"customer"`
	PaymentMethod *PaymentMethod   `json:"payment_method" validate:"omitempty,oneof=cash card upi bank_transfer credit"`
	DueDate       *time.Time       `json:"due_date"`
	Status        *Status          `json:"status"`
	Notes         *string          `json:"notes" validate:"omitempty,max=1000"`
}

type paymentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod PaymentMethod   `json:"payment_method" validate:"omitempty,oneof=cash card upi bank_transfer credit"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// ============================================================================
// HANDLERS
// ============================================================================

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createSaleRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateInput{
		Customer:      req.Customer.toCustomer(),
		PaymentMethod: req.PaymentMethod,
		PaidAmount:    req.PaidAmount,
		DueDate:       req.DueDate,
		Notes:         req.Notes,
		ActorID:       actor.ID,
	}
	for _, item := range req.Items {
		input.Lines = append(input.Lines, LineInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Discount:  item.Discount,
			TaxRate:   item.TaxRate,
		})
	}
	sale, err := h.service.Create(r.Context(), input)
	if err != nil {
		if IsAllocationError(err) {
			h.logger.Error("sale recorded without stock", slog.Any("error", err))
		} else {
			h.logger.Info("create sale rejected", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Status:        Status(q.Get("status")),
		PaymentStatus: shared.PaymentStatus(q.Get("payment_status")),
		Search:        q.Get("search"),
		Page:          httpx.IntQuery(r, "page", 1),
		PerPage:       httpx.IntQuery(r, "limit", shared.DefaultPerPage),
	}
	if from, err := time.Parse(time.DateOnly, q.Get("from")); err == nil {
		filter.From = from
	}
	if to, err := time.Parse(time.DateOnly, q.Get("to")); err == nil {
		filter.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	sales, page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list sales", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if sales == nil {
		sales = []Sale{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sales": sales, "pagination": page})
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sale, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) updateSale(w http.ResponseWriter, r *http.Request) {
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
	var req updateSaleRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := UpdateInput{
		PaymentMethod: req.PaymentMethod,
		DueDate:       req.DueDate,
		Status:        req.Status,
		Notes:         req.Notes,
		ActorID:       actor.ID,
	}
	if req.Customer != nil {
		c := req.Customer.toCustomer()
		input.Customer = &c
	}
	sale, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
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
	var req paymentRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sale, err := h.service.RecordPayment(r.Context(), PaymentInput{SaleID: id, Amount: req.Amount, Method: req.PaymentMethod, ActorID: actor.ID})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) cancelSale(w http.ResponseWriter, r *http.Request) {
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
	sale, err := h.service.Cancel(r.Context(), id, req.Reason, actor.ID)
	if err != nil {
		h.logger.Info("cancel sale rejected", slog.Int64("sale_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}
