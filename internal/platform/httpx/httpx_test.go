package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storekeep/storekeep/internal/shared"
)

func TestRespondErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("product 9: %w", shared.ErrNotFound), http.StatusNotFound},
		{shared.ErrDuplicate, http.StatusConflict},
		{shared.ErrInvalidState, http.StatusConflict},
		{shared.ErrOverReceipt, http.StatusUnprocessableEntity},
		{shared.ErrOverPayment, http.StatusUnprocessableEntity},
		{shared.ErrInvalidQuantity, http.StatusBadRequest},
		{shared.ErrValidation, http.StatusBadRequest},
		{ErrUnauthorized, http.StatusUnauthorized},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		assert.Equal(t, tc.status, rr.Code, tc.err.Error())
	}
}

func TestRespondErrorInsufficientStockCarriesQuantities(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, &shared.InsufficientStockError{ProductID: 4, Available: 3, Requested: 5})

	require.Equal(t, http.StatusConflict, rr.Code)
	var body InsufficientStockProblem
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, int64(3), body.Available)
	assert.Equal(t, int64(5), body.Requested)
}

func TestDecodeAndValidate(t *testing.T) {
	type payload struct {
		Quantity int64 `json:"quantity" validate:"required,gt=0"`
	}
	v := validator.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":0}`))
	var p payload
	require.ErrorIs(t, DecodeAndValidate(req, v, &p), shared.ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":3,"extra":1}`))
	require.ErrorIs(t, DecodeAndValidate(req, v, &p), shared.ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":3}`))
	require.NoError(t, DecodeAndValidate(req, v, &p))
	assert.Equal(t, int64(3), p.Quantity)
}

func TestDecodeJSONFractionalQuantity(t *testing.T) {
	type line struct {
		Quantity int64 `json:"quantity"`
	}
	type payload struct {
		Quantity int64  `json:"quantity"`
		Items    []line `json:"items"`
		Price    int64  `json:"price"`
	}

	for _, body := range []string{`{"quantity":1.5}`, `{"items":[{"quantity":2.25}]}`, `{"quantity":"3"}`} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		var p payload
		err := DecodeJSON(req, &p)
		require.ErrorIs(t, err, shared.ErrInvalidQuantity, body)

		rr := httptest.NewRecorder()
		RespondError(rr, err)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "Invalid Quantity")
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"price":1.5}`))
	var p payload
	err := DecodeJSON(req, &p)
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.NotErrorIs(t, err, shared.ErrInvalidQuantity)
}
