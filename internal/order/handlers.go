package order

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-bakery/internal/cart"
	"github.com/noah-isme/backend-bakery/internal/common"
)

// Handler exposes checkout and sales administration endpoints.
type Handler struct {
	Svc *Service
}

// Checkout handles POST /api/v1/carts/{id}/checkout.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	var in CheckoutInput
	if err := common.DecodeJSON(r, &in); err != nil {
		h.writeError(w, err)
		return
	}
	out, err := h.Svc.Checkout(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": out})
}

// ListSales handles GET /api/v1/admin/sales?from&to&status.
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "sales service not configured", nil)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	sales, err := h.Svc.ListSales(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": sales})
}

// PatchStatus handles PATCH /api/v1/admin/sales/{id}/status.
func (h *Handler) PatchStatus(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "sales service not configured", nil)
		return
	}
	var req struct {
		Status string `json:"status" validate:"required"`
	}
	if err := common.DecodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	sale, err := h.Svc.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": sale})
}

// Stats handles GET /api/v1/admin/sales/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "sales service not configured", nil)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	stats, err := h.Svc.Stats(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": stats})
}

// parseFilter accepts from/to as RFC 3339 instants or YYYY-MM-DD dates; a date-only "to" is
// inclusive of that whole day.
func parseFilter(r *http.Request) (SalesFilter, error) {
	q := r.URL.Query()
	var f SalesFilter
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		t, _, err := parseInstant(v)
		if err != nil {
			return f, common.NewAppError("BAD_REQUEST", "from must be RFC3339 or YYYY-MM-DD", http.StatusBadRequest, err)
		}
		f.From = &t
	}
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		t, dateOnly, err := parseInstant(v)
		if err != nil {
			return f, common.NewAppError("BAD_REQUEST", "to must be RFC3339 or YYYY-MM-DD", http.StatusBadRequest, err)
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		}
		f.To = &t
	}
	if v := strings.TrimSpace(q.Get("status")); v != "" && v != "all" {
		status, ok := ParseStatus(v)
		if !ok {
			return f, common.NewAppError("BAD_REQUEST", "status must be one of pending, approved, rejected", http.StatusBadRequest, nil)
		}
		f.Status = status
	}
	return f, nil
}

func parseInstant(v string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, false, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	return t, true, err
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		code := appErr.Code
		if code == "" {
			code = "BAD_REQUEST"
		}
		common.JSONError(w, status, code, appErr.Message, appErr.Details)
		return
	}
	switch {
	case errors.Is(err, ErrEmptyCart):
		common.JSONError(w, http.StatusConflict, "EMPTY_CART", err.Error(), nil)
	case errors.Is(err, ErrCheckoutInProgress):
		common.JSONError(w, http.StatusConflict, "CHECKOUT_IN_PROGRESS", err.Error(), nil)
	case errors.Is(err, ErrSubmitFailed):
		common.JSONError(w, http.StatusBadGateway, "ORDER_SUBMIT_FAILED", "order could not be submitted, please try again", nil)
	case errors.Is(err, ErrSaleNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, cart.ErrInvalidCartID):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
