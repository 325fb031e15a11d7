package voucher

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-bakery/internal/common"
)

// Handler exposes read-only administrative views of the discount code registry.
type Handler struct {
	Registry *Registry
	Now      func() time.Time
}

type codeView struct {
	Code      string          `json:"code"`
	Percent   decimal.Decimal `json:"percent"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
	Active    bool            `json:"active"`
	Message   string          `json:"message,omitempty"`
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func view(rule Rule, now time.Time) codeView {
	err := rule.Validate(now)
	v := codeView{Code: rule.Code, Percent: rule.Percent, Active: err == nil, Message: Message(rule, err)}
	if !rule.ExpiresAt.IsZero() {
		expires := rule.ExpiresAt
		v.ExpiresAt = &expires
	}
	return v
}

// List handles GET /api/v1/admin/discount-codes.
func (h *Handler) List(w http.ResponseWriter, _ *http.Request) {
	now := h.now()
	rules := h.Registry.Rules()
	out := make([]codeView, 0, len(rules))
	for _, rule := range rules {
		out = append(out, view(rule, now))
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

// Get handles GET /api/v1/admin/discount-codes/{code}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Registry.Lookup(chi.URLParam(r, "code"), h.now())
	if errors.Is(err, ErrCodeInvalid) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "discount code not found", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view(rule, h.now())})
}
