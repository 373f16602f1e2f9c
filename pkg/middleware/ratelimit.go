package middleware

import (
	"net/http"
	"strings"

	"github.com/vaidashi/storefront-sync/pkg/logger"
	"github.com/vaidashi/storefront-sync/pkg/ratelimit"
)

// RateLimiterMiddleware limits requests per client IP
type RateLimiterMiddleware struct {
	limiter           *ratelimit.KeyedLimiter
	logger            logger.Logger
	trustForwardedFor bool
	retryAfter        string
}

// RateLimiterConfig configures the rate limiter middleware
type RateLimiterConfig struct {
	MaxTokens         float64
	RefillRate        float64
	TrustForwardedFor bool
	RetryAfter        string
}

// NewRateLimiterMiddleware creates a new rate limiter middleware
func NewRateLimiterMiddleware(limiter *ratelimit.KeyedLimiter, cfg RateLimiterConfig, logger logger.Logger) *RateLimiterMiddleware {
	retryAfter := cfg.RetryAfter
	if retryAfter == "" {
		retryAfter = "60"
	}

	return &RateLimiterMiddleware{
		limiter:           limiter,
		logger:            logger,
		trustForwardedFor: cfg.TrustForwardedFor,
		retryAfter:        retryAfter,
	}
}

// Middleware returns a middleware function
func (m *RateLimiterMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := m.getClientIP(r)

		if !m.limiter.Allow(ip) {
			m.logger.Warn("Rate limit exceeded", "method", r.Method, "path", r.URL.Path, "ip", ip)

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", m.retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"success":false,"error":"Too many attempts. Please try again later."}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// getClientIP extracts the client IP from the request
func (m *RateLimiterMiddleware) getClientIP(r *http.Request) string {
	if m.trustForwardedFor {
		if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
			ips := strings.Split(forwardedFor, ",")
			return strings.TrimSpace(ips[0])
		}
	}

	ip := r.RemoteAddr
	if i := strings.LastIndex(ip, ":"); i != -1 {
		ip = ip[:i]
	}
	return ip
}
