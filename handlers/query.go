package handlers

import (
	"net/http"
	"strconv"
	"strings"
)

// intQuery parses an integer query parameter, returning fallback when the
// parameter is absent or malformed.
func intQuery(r *http.Request, name string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// boolQuery treats "true" and "1" as true; anything else is false.
func boolQuery(r *http.Request, name string) bool {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	return raw == "true" || raw == "1"
}

// csvQuery splits a comma-separated query parameter into trimmed, non-empty
// values. Returns nil when the parameter is absent.
func csvQuery(r *http.Request, name string) []string {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
