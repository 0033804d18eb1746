package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/syncflow/server/internal/repository"
	"github.com/syncflow/server/internal/services"
)

func TestRateLimit_AnonymousKey(t *testing.T) {
	newHandler := func(max int) http.Handler {
		limiter := services.NewRateLimiter(repository.NewMemoryCounterStore(), time.Minute, max)
		return RateLimit(limiter, "auth")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
	}

	do := func(h http.Handler, remoteAddr string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/pair/initiate", nil)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	t.Run("fresh connections from one host share a window", func(t *testing.T) {
		h := newHandler(1)
		assert.Equal(t, http.StatusOK, do(h, "10.0.0.9:41001"))
		// A new connection means a new ephemeral port; the limit must hold.
		assert.Equal(t, http.StatusTooManyRequests, do(h, "10.0.0.9:41002"))
	})

	t.Run("hosts are limited independently", func(t *testing.T) {
		h := newHandler(1)
		assert.Equal(t, http.StatusOK, do(h, "10.0.0.9:41001"))
		assert.Equal(t, http.StatusOK, do(h, "10.0.0.10:41001"))
	})

	t.Run("a refusal carries Retry-After", func(t *testing.T) {
		h := newHandler(1)
		req := httptest.NewRequest(http.MethodPost, "/api/auth/pair/initiate", nil)
		req.RemoteAddr = "10.0.0.9:41001"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		req.RemoteAddr = "10.0.0.9:41002"
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	})
}
