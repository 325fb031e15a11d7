package analytics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/backend-bakery/internal/common"
)

// Handler exposes analytics read endpoints.
type Handler struct {
	Svc *Service
}

// Sales returns the daily sales series. It accepts from and to together as RFC3339 or YYYY-MM-DD
// in shop time, otherwise the last `days` days ending now.
func (h *Handler) Sales(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_NOT_CONFIGURED", "analytics service not configured", nil)
		return
	}
	query := r.URL.Query()
	fromStr := query.Get("from")
	toStr := query.Get("to")
	var (
		from time.Time
		to   time.Time
		err  error
	)
	if (fromStr == "") != (toStr == "") {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "from and to must be given together", nil)
		return
	}
	if fromStr != "" {
		from, err = h.parseBound(fromStr, false)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid from date", nil)
			return
		}
		to, err = h.parseBound(toStr, true)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid to date", nil)
			return
		}
	} else {
		days := h.Svc.DefaultRange
		if days <= 0 {
			days = 30
		}
		if parsed := atoiDefault(query.Get("days"), days); parsed > 0 && parsed <= 366 {
			days = parsed
		}
		to = h.Svc.now()
		from = to.AddDate(0, 0, -days)
	}
	if !from.Before(to) {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "from must be before to", nil)
		return
	}
	rows, err := h.Svc.SalesRange(r.Context(), from, to)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_ERROR", "unable to load sales analytics", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows, "from": from, "to": to})
}

// TopProducts returns the best selling products.
func (h *Handler) TopProducts(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_NOT_CONFIGURED", "analytics service not configured", nil)
		return
	}
	q := r.URL.Query()
	rows, err := h.Svc.TopProducts(r.Context(), atoiDefault(q.Get("limit"), 10), atoiDefault(q.Get("offset"), 0))
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_ERROR", "unable to load top products", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

// parseBound reads a date bound. A bare date used as the upper bound covers the whole day.
func (h *Handler) parseBound(raw string, upper bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	day, err := time.ParseInLocation("2006-01-02", raw, h.Svc.location())
	if err != nil {
		return time.Time{}, err
	}
	if upper {
		day = day.AddDate(0, 0, 1)
	}
	return day, nil
}

func atoiDefault(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
