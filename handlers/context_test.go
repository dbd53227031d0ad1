package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/RADreams/Cino-backend/handlers"
)

func TestExtractClientMetaRegionHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/feed/random", nil)
	req.Header.Set("X-Region", "in")
	req.Header.Set("CF-IPCountry", "US")
	req.Header.Set("X-Device-ID", "dev-1")
	req.Header.Set("X-Session-ID", "sess-1")

	meta := handlers.ExtractClientMeta(req)
	if meta.Region != "IN" {
		t.Fatalf("region = %q, want IN (explicit header wins)", meta.Region)
	}
	if meta.DeviceID != "dev-1" || meta.SessionID != "sess-1" {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestExtractClientMetaCountryFallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/feed/random", nil)
	req.Header.Set("CF-IPCountry", "us")

	meta := handlers.ExtractClientMeta(req)
	if meta.Region != "US" {
		t.Fatalf("region = %q, want US", meta.Region)
	}
}

func TestExtractClientMetaIPChain(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:4433"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 70.41.3.18")
	if got := handlers.ExtractClientMeta(req).IP; got != "203.0.113.7" {
		t.Fatalf("ip = %q, want first forwarded hop", got)
	}

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "198.51.100.2")
	if got := handlers.ExtractClientMeta(req).IP; got != "198.51.100.2" {
		t.Fatalf("ip = %q, want X-Real-IP", got)
	}

	req.Header.Del("X-Real-IP")
	if got := handlers.ExtractClientMeta(req).IP; got != "10.0.0.9" {
		t.Fatalf("ip = %q, want remote host", got)
	}
}
