package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryRateLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("allows requests under the limit", func(t *testing.T) {
		limiter := NewMemoryRateLimiter()

		for i := 0; i < 5; i++ {
			allowed, _ := limiter.CheckLimit(ctx, "ip:pair:203.0.113.1", 10, time.Minute)
			assert.True(t, allowed, "request %d should be allowed", i+1)
		}
	})

	t.Run("blocks requests over the limit", func(t *testing.T) {
		limiter := NewMemoryRateLimiter()

		for i := 0; i < 5; i++ {
			limiter.CheckLimit(ctx, "ip:pair:203.0.113.2", 5, time.Minute)
		}

		allowed, resetAt := limiter.CheckLimit(ctx, "ip:pair:203.0.113.2", 5, time.Minute)
		assert.False(t, allowed)
		assert.True(t, resetAt.After(time.Now()))
	})

	t.Run("tracks keys separately", func(t *testing.T) {
		limiter := NewMemoryRateLimiter()

		for i := 0; i < 5; i++ {
			limiter.CheckLimit(ctx, "ip:pair:203.0.113.3", 5, time.Minute)
		}

		allowed, _ := limiter.CheckLimit(ctx, "ip:pair:203.0.113.4", 5, time.Minute)
		assert.True(t, allowed)
	})

	t.Run("window slides", func(t *testing.T) {
		limiter := NewMemoryRateLimiter()
		window := 50 * time.Millisecond

		allowed, _ := limiter.CheckLimit(ctx, "ip:pair:203.0.113.5", 1, window)
		assert.True(t, allowed)

		allowed, _ = limiter.CheckLimit(ctx, "ip:pair:203.0.113.5", 1, window)
		assert.False(t, allowed)

		time.Sleep(60 * time.Millisecond)

		allowed, _ = limiter.CheckLimit(ctx, "ip:pair:203.0.113.5", 1, window)
		assert.True(t, allowed, "limit should clear once the window passes")
	})
}

func TestIPRateLimitMiddleware(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("allows requests under the limit", func(t *testing.T) {
		mw := NewIPRateLimitMiddleware(NewMemoryRateLimiter(), 3, time.Minute, "pair")
		handler := mw.Handler(okHandler)

		for i := 0; i < 3; i++ {
			req := httptest.NewRequest("POST", "/pair", nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code, "request %d should pass", i+1)
		}
	})

	t.Run("returns 429 with a Retry-After once exhausted", func(t *testing.T) {
		mw := NewIPRateLimitMiddleware(NewMemoryRateLimiter(), 1, time.Minute, "pair")
		handler := mw.Handler(okHandler)

		req := httptest.NewRequest("POST", "/pair", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)

		req = httptest.NewRequest("POST", "/pair", nil)
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")
	})

	t.Run("limits clients independently", func(t *testing.T) {
		mw := NewIPRateLimitMiddleware(NewMemoryRateLimiter(), 1, time.Minute, "pair")
		handler := mw.Handler(okHandler)

		first := httptest.NewRequest("POST", "/pair", nil)
		first.RemoteAddr = "198.51.100.7:40000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, first)
		assert.Equal(t, http.StatusOK, rec.Code)

		blocked := httptest.NewRequest("POST", "/pair", nil)
		blocked.RemoteAddr = "198.51.100.7:40001"
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, blocked)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code, "same IP, different port shares the bucket")

		other := httptest.NewRequest("POST", "/pair", nil)
		other.RemoteAddr = "198.51.100.8:40000"
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, other)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
