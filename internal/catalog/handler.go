package catalog

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/storekeep/storekeep/internal/platform/httpx"
	"github.com/storekeep/storekeep/internal/rbac"
	"github.com/storekeep/storekeep/internal/shared"
)

// Handler exposes product endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs the catalog handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers product routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermProductsView))
		r.Get("/products", h.List)
		r.Get("/products/low-stock", h.LowStock)
		r.Get("/products/sku/{sku}", h.ShowBySKU)
		r.Get("/products/barcode/{barcode}", h.ShowByBarcode)
		r.Get("/products/{id}", h.Show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermProductsEdit))
		r.Post("/products", h.Create)
		r.Patch("/products/{id}", h.Update)
		r.Delete("/products/{id}", h.Delete)
	})
}

type createProductRequest struct {
	SKU           string          `json:"sku" validate:"required,max=50"`
	Barcode       string          `json:"barcode" validate:"max=50"`
	Name          string          `json:"name" validate:"required,min=2,max=100"`
	Description   string          `json:"description" validate:"max=500"`
	CategoryID    int64           `json:"category_id" validate:"required,gt=0"`
	SupplierID    int64           `json:"supplier_id" validate:"required,gt=0"`
	Unit          string          `json:"unit"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	InitialStock  int64           `json:"initial_stock" validate:"gte=0"`
	MinStockLevel *int64          `json:"min_stock_level" validate:"omitempty,gte=0"`
	MaxStockLevel *int64          `json:"max_stock_level" validate:"omitempty,gte=0"`
	ReorderPoint  *int64          `json:"reorder_point" validate:"omitempty,gte=0"`
}

type updateProductRequest struct {
	Barcode       *string          `json:"barcode" validate:"omitempty,max=50"`
	Name          *string          `json:"name" validate:"omitempty,min=2,max=100"`
	Description   *string          `json:"description" validate:"omitempty,max=500"`
	CategoryID    *int64           `json:"category_id" validate:"omitempty,gt=0"`
	SupplierID    *int64           `json:"supplier_id" validate:"omitempty,gt=0"`
	Unit          *string          `json:"unit"`
	CostPrice     *decimal.Decimal `json:"cost_price"`
	SellingPrice  *decimal.Decimal `json:"selling_price"`
	TaxRate       *decimal.Decimal `json:"tax_rate"`
	MinStockLevel *int64           `json:"min_stock_level" validate:"omitempty,gte=0"`
	MaxStockLevel *int64           `json:"max_stock_level" validate:"omitempty,gte=0"`
	ReorderPoint  *int64           `json:"reorder_point" validate:"omitempty,gte=0"`
	Status        *Status          `json:"status" validate:"omitempty,oneof=active inactive discontinued"`
}

type productView struct {
	Product
	IsLowStock   bool            `json:"is_low_stock"`
	IsOutOfStock bool            `json:"is_out_of_stock"`
	ProfitMargin decimal.Decimal `json:"profit_margin"`
}

func present(p Product) productView {
	return productView{Product: p, IsLowStock: p.IsLowStock(), IsOutOfStock: p.IsOutOfStock(), ProfitMargin: p.ProfitMargin()}
}

func presentAll(products []Product) []productView {
	out := make([]productView, 0, len(products))
	for _, p := range products {
		out = append(out, present(p))
	}
	return out
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createProductRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Create(r.Context(), CreateInput{
		SKU:           req.SKU,
		Barcode:       req.Barcode,
		Name:          req.Name,
		Description:   req.Description,
		CategoryID:    req.CategoryID,
		SupplierID:    req.SupplierID,
		Unit:          req.Unit,
		CostPrice:     req.CostPrice,
		SellingPrice:  req.SellingPrice,
		TaxRate:       req.TaxRate,
		InitialStock:  req.InitialStock,
		MinStockLevel: req.MinStockLevel,
		MaxStockLevel: req.MaxStockLevel,
		ReorderPoint:  req.ReorderPoint,
		ActorID:       actor.ID,
	})
	if err != nil {
		h.logger.Info("create product rejected", slog.String("sku", req.SKU), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, present(p))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	products, page, err := h.service.List(r.Context(), ListFilter{
		Search:  q.Get("search"),
		Status:  Status(q.Get("status")),
		Page:    httpx.IntQuery(r, "page", 1),
		PerPage: httpx.IntQuery(r, "limit", shared.DefaultPerPage),
	})
	if err != nil {
		h.logger.Error("list products", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": presentAll(products), "pagination": page})
}

func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListLowStock(r.Context(), httpx.IntQuery(r, "limit", shared.MaxPerPage))
	if err != nil {
		h.logger.Error("list low stock", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": presentAll(products), "count": len(products)})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, present(p))
}

func (h *Handler) ShowBySKU(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetBySKU(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, present(p))
}

func (h *Handler) ShowByBarcode(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetByBarcode(r.Context(), chi.URLParam(r, "barcode"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, present(p))
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
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
	var req updateProductRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Update(r.Context(), id, UpdateInput{
		Barcode:       req.Barcode,
		Name:          req.Name,
		Description:   req.Description,
		CategoryID:    req.CategoryID,
		SupplierID:    req.SupplierID,
		Unit:          req.Unit,
		CostPrice:     req.CostPrice,
		SellingPrice:  req.SellingPrice,
		TaxRate:       req.TaxRate,
		MinStockLevel: req.MinStockLevel,
		MaxStockLevel: req.MaxStockLevel,
		ReorderPoint:  req.ReorderPoint,
		Status:        req.Status,
		ActorID:       actor.ID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, present(p))
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
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
