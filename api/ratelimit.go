package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/RADreams/Cino-backend/config"
)

// ipLimiterEntry holds a rate limiter and last-seen timestamp for cleanup.
type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter manages per-IP token buckets. Entries idle past the cleanup
// window are evicted by a background sweep.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiterEntry
	rate     rate.Limit
	burst    int
	idle     time.Duration
}

// NewIPRateLimiter builds a limiter from settings. Zero or negative values
// fall back to the defaults.
func NewIPRateLimiter(settings config.RateLimitSettings) *IPRateLimiter {
	rps := settings.RequestsPerSecond
	if rps <= 0 {
		rps = config.DefaultSettings().RateLimit.RequestsPerSecond
	}
	burst := settings.Burst
	if burst <= 0 {
		burst = config.DefaultSettings().RateLimit.Burst
	}
	cleanup := settings.CleanupMinutes
	if cleanup <= 0 {
		cleanup = config.DefaultSettings().RateLimit.CleanupMinutes
	}

	rl := &IPRateLimiter{
		limiters: make(map[string]*ipLimiterEntry),
		rate:     rate.Limit(rps),
		burst:    burst,
		idle:     time.Duration(cleanup) * time.Minute,
	}
	go rl.cleanup()
	return rl
}

// getLimiter returns the limiter for the given IP, creating one if needed.
func (rl *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[ip]
	if !exists {
		limiter := rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[ip] = &ipLimiterEntry{limiter: limiter, lastSeen: time.Now()}
		return limiter
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (rl *IPRateLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		for ip, entry := range rl.limiters {
			if time.Since(entry.lastSeen) > rl.idle {
				delete(rl.limiters, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// getClientIP extracts the client IP, preferring proxy headers over the
// socket address.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

// Middleware wraps handlers with per-IP rate limiting. Exceeding the limit
// answers 429 with the standard error envelope.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.getLimiter(getClientIP(r)).Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": false,
				"error":   "rate_limited",
				"message": "too many requests",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
