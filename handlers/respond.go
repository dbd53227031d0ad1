// Package handlers exposes the HTTP surface. Every endpoint answers with the
// same envelope: {success, data} on the happy path, {success, error, message}
// with a mapped status code otherwise, where error is a stable kind the client
// can branch on and message is the human-readable detail. Handlers hold narrow
// interfaces over the services they consume so tests can swap them without the
// full stack.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/RADreams/Cino-backend/internal/store"
	"github.com/RADreams/Cino-backend/services/catalog"
	"github.com/RADreams/Cino-backend/services/feed"
	"github.com/RADreams/Cino-backend/services/progress"
	"github.com/RADreams/Cino-backend/services/users"
)

// apiResponse is the uniform response envelope.
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data})
}

func writeMessage(w http.ResponseWriter, status int, data interface{}, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data, Message: message})
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: false, Error: kind, Message: msg})
}

// respondError maps a service error onto its HTTP status and error kind and
// writes the error envelope.
func respondError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	writeError(w, status, kind, err.Error())
}

// classify translates service sentinels into an HTTP status and a stable
// error kind. Unrecognized errors surface as dependency failures: at this
// point in the call chain the only unmapped sources are the store and cache
// backends.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrTitleNotFound),
		errors.Is(err, store.ErrEpisodeNotFound),
		errors.Is(err, store.ErrRecordNotFound),
		errors.Is(err, users.ErrUserNotFound):
		return http.StatusNotFound, "not_found"

	case errors.Is(err, store.ErrNotWatched):
		return http.StatusBadRequest, "conflict"

	case errors.Is(err, progress.ErrUserIDRequired),
		errors.Is(err, progress.ErrEpisodeIDRequired),
		errors.Is(err, progress.ErrInvalidPosition),
		errors.Is(err, progress.ErrInvalidRating),
		errors.Is(err, feed.ErrQueryTooShort),
		errors.Is(err, feed.ErrGenreRequired),
		errors.Is(err, users.ErrNameRequired),
		errors.Is(err, users.ErrPinRequired),
		errors.Is(err, users.ErrPinTooShort),
		errors.Is(err, users.ErrInvalidDataUsage):
		return http.StatusBadRequest, "validation"

	case errors.Is(err, catalog.ErrPremiumRequired):
		return http.StatusPaymentRequired, "payment_required"

	case errors.Is(err, catalog.ErrNotPublished),
		errors.Is(err, catalog.ErrRegionRestricted),
		errors.Is(err, users.ErrPinInvalid):
		return http.StatusForbidden, "forbidden"

	case errors.Is(err, feed.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"

	default:
		return http.StatusServiceUnavailable, "dependency"
	}
}

// decodeJSON reads the request body into dst and reports a 400 on malformed
// input. Returns false when the response has already been written.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return false
	}
	return true
}
