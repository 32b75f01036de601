// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/storekeep/storekeep/internal/shared"
)

// Sentinel errors for the transport layer.
var (
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// InsufficientStockProblem extends ProblemDetail with the rejected quantities.
type InsufficientStockProblem struct {
	ProblemDetail
	ProductID int64 `json:"product_id"`
	Available int64 `json:"available"`
	Requested int64 `json:"requested"`
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var stockErr *shared.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		JSON(w, http.StatusConflict, InsufficientStockProblem{
			ProblemDetail: ProblemDetail{Title: "Insufficient Stock", Status: http.StatusConflict, Detail: err.Error()},
			ProductID:     stockErr.ProductID,
			Available:     stockErr.Available,
			Requested:     stockErr.Requested,
		})
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrInvalidState):
		Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, shared.ErrBusy):
		Problem(w, http.StatusConflict, "Busy", err.Error())
	case errors.Is(err, shared.ErrOverReceipt):
		Problem(w, http.StatusUnprocessableEntity, "Over Receipt", err.Error())
	case errors.Is(err, shared.ErrOverPayment):
		Problem(w, http.StatusUnprocessableEntity, "Over Payment", err.Error())
	case errors.Is(err, shared.ErrInvalidQuantity):
		Problem(w, http.StatusBadRequest, "Invalid Quantity", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
