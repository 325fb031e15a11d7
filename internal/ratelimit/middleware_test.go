package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	limiter "github.com/ulule/limiter/v3"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestHandlerMiddlewareEnforcesLimit(t *testing.T) {
	store, err := NewStore(nil, "test")
	require.NoError(t, err)
	h, err := New(store, "login", "1-M", func(*http.Request) string { return "static" })
	require.NoError(t, err)
	limited := h.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	rr1 := httptest.NewRecorder()
	limited.ServeHTTP(rr1, req.Clone(req.Context()))
	require.Equal(t, http.StatusOK, rr1.Code)
	require.Equal(t, "1", rr1.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", rr1.Header().Get("X-RateLimit-Remaining"))

	rr2 := httptest.NewRecorder()
	limited.ServeHTTP(rr2, req.Clone(req.Context()))
	require.Equal(t, http.StatusTooManyRequests, rr2.Code)
	require.NotEmpty(t, rr2.Header().Get("Retry-After"))
	require.Contains(t, rr2.Body.String(), "RATE_LIMITED")
}

func TestHandlerMiddlewareRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewStore(client, "ratelimit")
	require.NoError(t, err)
	h, err := New(store, "discount", "2-M", CartAndIP)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.With(h.Middleware).Post("/carts/{id}/discount", okHandler().ServeHTTP)

	hit := func(cartID, addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/carts/"+cartID+"/discount", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}
	require.Equal(t, http.StatusOK, hit("a", "10.0.0.1:1234"))
	require.Equal(t, http.StatusOK, hit("a", "10.0.0.1:5678"))
	require.Equal(t, http.StatusTooManyRequests, hit("a", "10.0.0.1:1234"))
	require.Equal(t, http.StatusOK, hit("b", "10.0.0.1:1234"))
	require.Equal(t, http.StatusOK, hit("a", "10.0.0.2:1234"))

	peek, err := h.Peek(context.Background(), "a|10.0.0.1")
	require.NoError(t, err)
	require.True(t, peek.Reached)
}

type failingStore struct{ limiter.Store }

func (failingStore) Get(context.Context, string, limiter.Rate) (limiter.Context, error) {
	return limiter.Context{}, errors.New("store down")
}

func TestHandlerMiddlewareOnErrorFailsOpen(t *testing.T) {
	var called bool
	h, err := New(failingStore{}, "", "1-S", func(*http.Request) string { return "err" })
	require.NoError(t, err)
	h.OnError = func(error) { called = true }

	rec := httptest.NewRecorder()
	h.Middleware(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, called)
}

func TestNewRejectsBadRate(t *testing.T) {
	store, err := NewStore(nil, "")
	require.NoError(t, err)
	_, err = New(store, "x", "many-per-minute", ClientIP)
	require.Error(t, err)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.9:4444"
	require.Equal(t, "192.168.1.9", ClientIP(req))
	req.RemoteAddr = "unix"
	require.Equal(t, "unix", ClientIP(req))
}
