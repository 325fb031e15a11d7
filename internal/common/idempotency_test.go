package common_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-bakery/internal/common"
)

func TestIdemRejectsReplayAndReleasesOnFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	status := http.StatusBadGateway
	calls := 0
	h := common.Idem{R: client, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(status)
	}))
	send := func(key string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/carts/abc/checkout", nil)
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusBadGateway, send("k1"))
	status = http.StatusCreated
	require.Equal(t, http.StatusCreated, send("k1"), "failed attempt releases the key")
	require.Equal(t, http.StatusConflict, send("k1"))
	require.Equal(t, 2, calls)

	require.Equal(t, http.StatusCreated, send(""))
	require.Equal(t, http.StatusCreated, send(""))
	require.Equal(t, 4, calls)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/carts/abc/checkout", nil)
	require.True(t, mr.Exists(common.IdempotencyKey(req, "k1")))
}

func TestIdemStoreDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })
	h := common.Idem{R: client}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("Idempotency-Key", "k")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "IDEMPOTENCY_UNAVAILABLE")
}

func TestIdemReleasesKeyWhenClientDisconnects(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var cancel context.CancelFunc
	status := http.StatusInternalServerError
	h := common.Idem{R: client, TTL: time.Hour}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cancel != nil {
			cancel()
		}
		w.WriteHeader(status)
	}))

	ctx, c := context.WithCancel(context.Background())
	cancel = c
	req := httptest.NewRequest(http.MethodPost, "/api/v1/carts/abc/checkout", nil).WithContext(ctx)
	req.Header.Set("Idempotency-Key", "k-gone")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.False(t, mr.Exists(common.IdempotencyKey(req, "k-gone")))

	cancel = nil
	status = http.StatusCreated
	retry := httptest.NewRequest(http.MethodPost, "/api/v1/carts/abc/checkout", nil)
	retry.Header.Set("Idempotency-Key", "k-gone")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, retry)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "done", mustGet(t, mr, common.IdempotencyKey(retry, "k-gone")))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
