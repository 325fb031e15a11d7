package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/backend-bakery/internal/common"
)

// KeyFunc derives the bucket a request is counted against.
type KeyFunc func(*http.Request) string

// Handler enforces a fixed-window limit before delegating to the next handler.
type Handler struct {
	Limiter *limiter.Limiter
	Name    string
	Key     KeyFunc
	OnError func(error)
	Now     func() time.Time
}

// NewStore returns a Redis-backed limiter store, or an in-process one when rdb is nil.
func NewStore(rdb *redis.Client, prefix string) (limiter.Store, error) {
	if rdb == nil {
		return memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: prefix, CleanUpInterval: time.Minute}), nil
	}
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix, MaxRetry: 3})
}

// New builds a handler from a formatted rate such as "20-M" or "5-H".
func New(store limiter.Store, name, rate string, key KeyFunc) (Handler, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return Handler{}, err
	}
	return Handler{Limiter: limiter.New(store, parsed), Name: name, Key: key}, nil
}

// Middleware implements the http.Handler middleware interface. Store failures let the
// request through.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Limiter == nil || h.Key == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := h.Key(r)
		if h.Name != "" {
			key = h.Name + ":" + key
		}
		lctx, err := h.Limiter.Get(r.Context(), key)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		headers.Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			retryAfter := lctx.Reset - h.now().Unix()
			if retryAfter < 0 {
				retryAfter = 0
			}
			headers.Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, try again later", map[string]any{"retryAfterSeconds": retryAfter})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Peek reports the current counter for key without consuming a slot.
func (h Handler) Peek(ctx context.Context, key string) (limiter.Context, error) {
	if h.Name != "" {
		key = h.Name + ":" + key
	}
	return h.Limiter.Peek(ctx, key)
}

// ClientIP keys by remote address. Run chi's RealIP middleware first behind a proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// CartAndIP keys by the {id} URL parameter plus client address, so one shopper guessing
// codes cannot exhaust the budget of other carts.
func CartAndIP(r *http.Request) string {
	return chi.URLParam(r, "id") + "|" + ClientIP(r)
}
