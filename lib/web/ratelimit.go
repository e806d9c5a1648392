package web

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-mcpgw/mcpool/lib/metrics"
	"github.com/go-mcpgw/mcpool/lib/ratelimit"
)

// RateLimitConfig configures rate limiting for admin endpoints.
type RateLimitConfig struct {
	// RequestsPerSecond is the rate of allowed requests per IP.
	RequestsPerSecond float64
	// BurstSize is the maximum burst size per IP.
	BurstSize int
	// CleanupInterval is how often to clean up idle limiters.
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns sensible defaults for rate limiting.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 10.0,
		BurstSize:         30,
		CleanupInterval:   5 * time.Minute,
	}
}

// RateLimiter provides HTTP middleware for per-IP rate limiting.
type RateLimiter struct {
	limiter *ratelimit.KeyedLimiter
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10.0
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 30
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	return &RateLimiter{
		limiter: ratelimit.NewKeyed(cfg.RequestsPerSecond, cfg.BurstSize, cfg.CleanupInterval),
	}
}

// Close stops the rate limiter's cleanup goroutine.
func (rl *RateLimiter) Close() {
	rl.limiter.Close()
}

// Middleware returns an HTTP middleware that enforces rate limiting.
// Requests that exceed the rate limit receive a 429 Too Many Requests response.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r)

		if !rl.limiter.Allow(ip) {
			metrics.RateLimitRejections.Inc()
			log.WithField("ip", ip).WithField("path", r.URL.Path).Debug("request rate limited")

			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractIP extracts the client IP from the request, preferring proxy
// headers over the remote address.
func extractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(xri); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
