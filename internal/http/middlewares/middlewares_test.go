package middlewares

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dropDatabas3/steamgate/internal/rate"
)

func TestChain_Order(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "h")
	}), mk("a"), mk("b"), mk("c"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "c", "h"}, order)
}

func TestWithRequestID(t *testing.T) {
	var seen string
	h := WithRequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "given")
	h.ServeHTTP(rec, req)
	assert.Equal(t, "given", seen)
	assert.Equal(t, "given", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestWithRecover(t *testing.T) {
	h := WithRecover()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_SERVER_ERROR")
}

func TestWithLogging_PassesThroughStatus(t *testing.T) {
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), WithRequestID(), WithLogging())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestWithNoStore(t *testing.T) {
	h := WithNoStore()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

type stubLimiter struct {
	res rate.Result
	err error
}

func (s stubLimiter) Allow(context.Context, string) (rate.Result, error) { return s.res, s.err }

func TestWithRateLimit(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	t.Run("blocked", func(t *testing.T) {
		h := WithRateLimit(RateLimitConfig{Limiter: stubLimiter{res: rate.Result{Allowed: false, RetryAfter: 30 * time.Second}}})(ok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/__login__", nil))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	})

	t.Run("allowed", func(t *testing.T) {
		h := WithRateLimit(RateLimitConfig{Limiter: stubLimiter{res: rate.Result{Allowed: true, Remaining: 4}}})(ok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/__login__", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("limiter error fails open", func(t *testing.T) {
		h := WithRateLimit(RateLimitConfig{Limiter: stubLimiter{err: errors.New("redis down")}})(ok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/__login__", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", ClientIP(req, nil))

	t.Run("forwarded header ignored without trusted proxies", func(t *testing.T) {
		req.Header.Set("X-Forwarded-For", "1.1.1.1")
		assert.Equal(t, "10.0.0.1", ClientIP(req, nil))
		assert.Equal(t, "10.0.0.1|/", IPPathRateKey(req))
	})

	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	t.Run("trusted peer", func(t *testing.T) {
		req.Header.Set("X-Forwarded-For", "9.9.9.9, 1.1.1.1, 10.0.0.7")
		assert.Equal(t, "1.1.1.1", ClientIP(req, trusted))
		assert.Equal(t, "1.1.1.1|/", ProxiedIPPathRateKey(trusted)(req))
	})

	t.Run("untrusted peer cannot spoof", func(t *testing.T) {
		spoof := httptest.NewRequest(http.MethodGet, "/", nil)
		spoof.RemoteAddr = "203.0.113.5:4444"
		spoof.Header.Set("X-Forwarded-For", "1.2.3.4")
		assert.Equal(t, "203.0.113.5", ClientIP(spoof, trusted))
	})

	t.Run("only proxies in the chain", func(t *testing.T) {
		req.Header.Set("X-Forwarded-For", "10.0.0.3, 10.0.0.2")
		assert.Equal(t, "10.0.0.3", ClientIP(req, trusted))
	})
}

func TestWithRateLimit_RotatingForwardedHeader(t *testing.T) {
	l := rate.NewMemoryLimiter(2, time.Hour)
	h := WithRateLimit(RateLimitConfig{Limiter: l})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/__login__", nil)
		req.RemoteAddr = "203.0.113.5:4444"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("1.1.1.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}
