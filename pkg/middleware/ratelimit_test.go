package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vaidashi/storefront-sync/pkg/logger"
	"github.com/vaidashi/storefront-sync/pkg/ratelimit"
)

func TestRateLimiterMiddlewareRejectsBurst(t *testing.T) {
	limiter := ratelimit.NewKeyedLimiter(2, 0.001, 0)
	defer limiter.Stop()

	mw := NewRateLimiterMiddleware(limiter, RateLimiterConfig{}, logger.Nop())
	handler := mw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/promo/validate", nil)
		req.RemoteAddr = "192.0.2.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestGetClientIPUsesForwardedForWhenTrusted(t *testing.T) {
	mw := NewRateLimiterMiddleware(nil, RateLimiterConfig{TrustForwardedFor: true}, logger.Nop())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	assert.Equal(t, "203.0.113.9", mw.getClientIP(req))
}
