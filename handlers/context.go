package handlers

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// ClientMeta carries per-request client attributes extracted by the API
// middleware: geo region for availability gating, device and session
// identifiers for analytics.
type ClientMeta struct {
	Region    string
	DeviceID  string
	SessionID string
	UserAgent string
	IP        string
}

type clientMetaKey struct{}

// WithClientMeta attaches client metadata to the request context.
func WithClientMeta(ctx context.Context, meta ClientMeta) context.Context {
	return context.WithValue(ctx, clientMetaKey{}, meta)
}

// ClientMetaFrom returns the metadata stored by the middleware, or a zero
// value when the handler runs outside the middleware chain.
func ClientMetaFrom(ctx context.Context) ClientMeta {
	meta, _ := ctx.Value(clientMetaKey{}).(ClientMeta)
	return meta
}

// ExtractClientMeta builds ClientMeta from request headers. Region comes from
// an explicit X-Region header first, then the CDN-injected country code.
func ExtractClientMeta(r *http.Request) ClientMeta {
	region := strings.TrimSpace(r.Header.Get("X-Region"))
	if region == "" {
		region = strings.TrimSpace(r.Header.Get("CF-IPCountry"))
	}
	return ClientMeta{
		Region:    strings.ToUpper(region),
		DeviceID:  strings.TrimSpace(r.Header.Get("X-Device-ID")),
		SessionID: strings.TrimSpace(r.Header.Get("X-Session-ID")),
		UserAgent: r.UserAgent(),
		IP:        clientIP(r),
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.Index(fwd, ","); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
