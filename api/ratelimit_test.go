package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/RADreams/Cino-backend/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := NewIPRateLimiter(config.RateLimitSettings{RequestsPerSecond: 1, Burst: 5, CleanupMinutes: 10})
	handler := rl.Middleware(okHandler())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/feed/random", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
}

func TestRateLimiterBlocksExcessRequests(t *testing.T) {
	rl := NewIPRateLimiter(config.RateLimitSettings{RequestsPerSecond: 1, Burst: 2, CleanupMinutes: 10})
	handler := rl.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/feed/random", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/feed/random", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["success"] != false {
		t.Fatalf("expected success=false, got %v", body["success"])
	}
	if body["error"] != "rate_limited" {
		t.Fatalf("expected kind rate_limited, got %q", body["error"])
	}
	if body["message"] != "too many requests" {
		t.Fatalf("expected 'too many requests', got %q", body["message"])
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After: 1, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimiterIsolatesIPs(t *testing.T) {
	rl := NewIPRateLimiter(config.RateLimitSettings{RequestsPerSecond: 1, Burst: 1, CleanupMinutes: 10})
	handler := rl.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "1.1.1.1:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("IP A first request: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("IP A second request: expected 429, got %d", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.RemoteAddr = "2.2.2.2:1234"
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("IP B first request: expected 200, got %d", rec2.Code)
	}
}

func TestRateLimiterDefaultsZeroSettings(t *testing.T) {
	rl := NewIPRateLimiter(config.RateLimitSettings{})
	want := config.DefaultSettings().RateLimit
	if float64(rl.rate) != want.RequestsPerSecond {
		t.Fatalf("expected rate %v, got %v", want.RequestsPerSecond, float64(rl.rate))
	}
	if rl.burst != want.Burst {
		t.Fatalf("expected burst %d, got %d", want.Burst, rl.burst)
	}
}

func TestGetClientIPXForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")
	if ip := getClientIP(req); ip != "203.0.113.50" {
		t.Fatalf("expected 203.0.113.50, got %q", ip)
	}
}

func TestGetClientIPXRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-IP", "198.51.100.10")
	if ip := getClientIP(req); ip != "198.51.100.10" {
		t.Fatalf("expected 198.51.100.10, got %q", ip)
	}
}

func TestGetClientIPRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:54321"
	if ip := getClientIP(req); ip != "192.0.2.1" {
		t.Fatalf("expected 192.0.2.1, got %q", ip)
	}
}
