package cart

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-bakery/internal/common"
	"github.com/noah-isme/backend-bakery/internal/voucher"
)

// ProductSource resolves catalog products for AddItem. Unknown ids yield ErrProductNotFound.
type ProductSource interface {
	CartProduct(ctx context.Context, id string) (Product, error)
}

// Handler wires cart sessions to HTTP.
type Handler struct {
	Sessions *Sessions
	Products ProductSource
}

type snapshotResponse struct {
	Data    Snapshot `json:"data"`
	Warning string   `json:"warning,omitempty"`
}

// Create issues a new cart identifier.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Sessions == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	engine, err := h.Sessions.Get(r.Context(), NewID())
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, snapshotResponse{Data: engine.Snapshot()})
}

// Get returns the cart contents and totals.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, http.StatusOK, func(*Engine) error { return nil })
}

// AddItem merges a catalog product into the cart.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	if h.Products == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "product source not configured", nil)
		return
	}
	var payload struct {
		ProductID string   `json:"productId"`
		Quantity  *float64 `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	payload.ProductID = strings.TrimSpace(payload.ProductID)
	if payload.ProductID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "productId is required", nil)
		return
	}
	qty := 1
	if payload.Quantity != nil {
		parsed, err := ParseQuantity(*payload.Quantity)
		if err != nil {
			h.writeError(w, err)
			return
		}
		qty = parsed
	}
	product, err := h.Products.CartProduct(r.Context(), payload.ProductID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, r, http.StatusOK, func(e *Engine) error {
		return e.AddItem(r.Context(), product, qty)
	})
}

// UpdateItem sets the quantity of a line item. Quantities below one remove it.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	var payload struct {
		Quantity *float64 `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if payload.Quantity == nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "quantity is required", nil)
		return
	}
	qty, err := ParseQuantity(*payload.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, r, http.StatusOK, func(e *Engine) error {
		return e.UpdateQuantity(r.Context(), productID, qty)
	})
}

// RemoveItem deletes a line item.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	h.respond(w, r, http.StatusOK, func(e *Engine) error {
		return e.RemoveItem(r.Context(), productID)
	})
}

// Clear empties the cart and drops the discount.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, http.StatusOK, func(e *Engine) error {
		return e.Clear(r.Context())
	})
}

// ApplyDiscount validates and applies a discount code.
func (h *Handler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	h.respond(w, r, http.StatusOK, func(e *Engine) error {
		_, err := e.ApplyDiscountCode(payload.Code)
		if err == nil {
			return nil
		}
		code := "DISCOUNT_CODE_INVALID"
		if errors.Is(err, voucher.ErrCodeExpired) {
			code = "DISCOUNT_CODE_EXPIRED"
		}
		return common.NewAppError(code, e.DiscountError(), http.StatusUnprocessableEntity, err)
	})
}

// RemoveDiscount clears the applied discount code.
func (h *Handler) RemoveDiscount(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, http.StatusOK, func(e *Engine) error {
		e.RemoveDiscountCode()
		return nil
	})
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, fn func(*Engine) error) {
	if h.Sessions == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	var snap Snapshot
	err := h.Sessions.Do(r.Context(), chi.URLParam(r, "id"), func(e *Engine) error {
		fnErr := fn(e)
		snap = e.Snapshot()
		return fnErr
	})
	switch {
	case err == nil:
		common.JSON(w, status, snapshotResponse{Data: snap})
	case errors.Is(err, ErrPersistenceWriteFailed):
		common.JSON(w, status, snapshotResponse{Data: snap, Warning: "cart changes could not be saved"})
	default:
		h.writeError(w, err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		common.JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	switch {
	case errors.Is(err, ErrInvalidQuantity):
		common.JSONError(w, http.StatusBadRequest, "INVALID_QUANTITY", err.Error(), nil)
	case errors.Is(err, ErrQuantityTooLarge):
		common.JSONError(w, http.StatusBadRequest, "QUANTITY_TOO_LARGE", err.Error(), map[string]any{"max": math.MaxInt32})
	case errors.Is(err, ErrInvalidCartID):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, ErrProductNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
	}
}
