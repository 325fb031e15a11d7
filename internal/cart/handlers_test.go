package cart_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-bakery/internal/cart"
)

type fakeProducts map[string]cart.Product

func (f fakeProducts) CartProduct(_ context.Context, id string) (cart.Product, error) {
	p, ok := f[id]
	if !ok {
		return cart.Product{}, cart.ErrProductNotFound
	}
	return p, nil
}

type cartResponse struct {
	Data    cart.Snapshot `json:"data"`
	Warning string        `json:"warning"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newCartRouter(t *testing.T, now time.Time) http.Handler {
	t.Helper()
	sessions := cart.NewSessions(cart.Options{
		Store: cart.NewMemoryStore(),
		Codes: newRegistry(t),
		Now:   func() time.Time { return now },
	}, time.Minute)
	h := &cart.Handler{
		Sessions: sessions,
		Products: fakeProducts{
			"tart": {ID: "tart", Name: "Fruit tart", Price: dec("10"), DiscountedPrice: decPtr("8")},
		},
	}
	r := chi.NewRouter()
	r.Post("/carts", h.Create)
	r.Route("/carts/{id}", func(c chi.Router) {
		c.Get("/", h.Get)
		c.Delete("/", h.Clear)
		c.Post("/items", h.AddItem)
		c.Patch("/items/{productId}", h.UpdateItem)
		c.Delete("/items/{productId}", h.RemoveItem)
		c.Post("/discount", h.ApplyDiscount)
		c.Delete("/discount", h.RemoveDiscount)
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, cartResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp cartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestCartHandlersFlow(t *testing.T) {
	router := newCartRouter(t, beforeExpo())

	status, created := do(t, router, http.MethodPost, "/carts", "")
	require.Equal(t, http.StatusCreated, status)
	id := created.Data.CartID
	require.NotEmpty(t, id)

	status, resp := do(t, router, http.MethodPost, "/carts/"+id+"/items", `{"productId":"tart","quantity":2}`)
	require.Equal(t, http.StatusOK, status)
	require.True(t, resp.Data.Subtotal.Equal(dec("20")))
	require.True(t, resp.Data.DiscountedTotal.Equal(dec("16")))

	status, resp = do(t, router, http.MethodPost, "/carts/"+id+"/discount", `{"code":"expo2025"}`)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, resp.Data.Discount)
	require.True(t, resp.Data.DiscountedTotal.Equal(dec("14.4")))
	require.True(t, resp.Data.TotalDiscount.Equal(dec("5.6")))

	status, resp = do(t, router, http.MethodPatch, "/carts/"+id+"/items/tart", `{"quantity":5}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 5, resp.Data.ItemCount)

	status, resp = do(t, router, http.MethodDelete, "/carts/"+id+"/discount", "")
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Data.Discount)

	status, resp = do(t, router, http.MethodDelete, "/carts/"+id+"/items/tart", "")
	require.Equal(t, http.StatusOK, status)
	require.Empty(t, resp.Data.Items)
}

func TestCartHandlersRejectBadInput(t *testing.T) {
	router := newCartRouter(t, beforeExpo())
	id := cart.NewID()

	status, resp := do(t, router, http.MethodPost, "/carts/"+id+"/items", `{"productId":"tart","quantity":1.5}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "INVALID_QUANTITY", resp.Error.Code)

	status, resp = do(t, router, http.MethodPost, "/carts/"+id+"/items", `{"productId":"tart","quantity":3000000000}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "QUANTITY_TOO_LARGE", resp.Error.Code)

	status, resp = do(t, router, http.MethodPost, "/carts/"+id+"/items", `{"productId":"ghost"}`)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "NOT_FOUND", resp.Error.Code)

	status, _ = do(t, router, http.MethodGet, "/carts/not-a-uuid/", "")
	require.Equal(t, http.StatusBadRequest, status)

	status, resp = do(t, router, http.MethodPost, "/carts/"+id+"/discount", `{"code":"notreal"}`)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, "DISCOUNT_CODE_INVALID", resp.Error.Code)
	require.Equal(t, "Invalid or expired code", resp.Error.Message)
}

func TestCartHandlersExpiredCode(t *testing.T) {
	router := newCartRouter(t, time.Date(2026, 10, 19, 9, 0, 0, 0, expoLoc))
	id := cart.NewID()

	status, resp := do(t, router, http.MethodPost, "/carts/"+id+"/discount", `{"code":"EXPO2025"}`)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, "DISCOUNT_CODE_EXPIRED", resp.Error.Code)

	status, resp = do(t, router, http.MethodGet, "/carts/"+id+"/", "")
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Data.Discount)
	require.Equal(t, "This code expired on October 24, 2025", resp.Data.DiscountError)
}
