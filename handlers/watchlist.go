package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/RADreams/Cino-backend/models"
	"github.com/RADreams/Cino-backend/services/catalog"
	"github.com/RADreams/Cino-backend/services/progress"
)

type watchlistService interface {
	History(ctx context.Context, userID string, status models.WatchStatus, page, limit int) ([]*models.WatchRecord, int64, error)
	Rate(ctx context.Context, userID, titleID string, rating int) (float64, int64, error)
	ClearHistory(ctx context.Context, userID, titleID string, olderThanDays *int) (int64, error)
}

var _ watchlistService = (*progress.Service)(nil)

type popularityRefresher interface {
	RefreshTitlePopularity(ctx context.Context, titleID string) (float64, error)
}

var _ popularityRefresher = (*catalog.Service)(nil)

// WatchlistHandler serves the watch history surface: listing, rating, and
// pruning. Ratings feed back into the title's popularity score.
type WatchlistHandler struct {
	progress   watchlistService
	popularity popularityRefresher
}

func NewWatchlistHandler(progressSvc watchlistService, popularity popularityRefresher) *WatchlistHandler {
	return &WatchlistHandler{progress: progressSvc, popularity: popularity}
}

// History handles GET /api/watchlist/{userId}.
func (h *WatchlistHandler) History(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(mux.Vars(r)["userId"])
	status := models.WatchStatus(strings.TrimSpace(r.URL.Query().Get("status")))

	page := intQuery(r, "page", 0)
	limit := intQuery(r, "limit", 0)

	items, total, err := h.progress.History(r.Context(), userID, status, page, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	if page < 1 {
		page = 1
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"page":  page,
		"limit": limit,
		"total": total,
	})
}

type rateRequest struct {
	Rating int `json:"rating"`
}

// Rate handles POST /api/watchlist/{userId}/{titleId}/rate. The new average
// flows into the title's popularity blend; a refresh failure only logs since
// the rating itself is already persisted.
func (h *WatchlistHandler) Rate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := strings.TrimSpace(vars["userId"])
	titleID := strings.TrimSpace(vars["titleId"])

	var body rateRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	average, count, err := h.progress.Rate(r.Context(), userID, titleID, body.Rating)
	if err != nil {
		respondError(w, err)
		return
	}

	if h.popularity != nil {
		if _, err := h.popularity.RefreshTitlePopularity(r.Context(), titleID); err != nil {
			log.Printf("[api] popularity refresh for title %s failed: %v", titleID, err)
		}
	}

	writeData(w, http.StatusOK, map[string]interface{}{
		"averageRating": average,
		"totalRatings":  count,
	})
}

type clearHistoryRequest struct {
	TitleID       string `json:"titleId"`
	OlderThanDays *int   `json:"olderThanDays"`
}

// Clear handles DELETE /api/watchlist/{userId}/clear. Filters come from the
// JSON body when one is sent, otherwise from query parameters.
func (h *WatchlistHandler) Clear(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(mux.Vars(r)["userId"])

	var body clearHistoryRequest
	if r.ContentLength > 0 {
		if !decodeJSON(w, r, &body) {
			return
		}
	} else {
		body.TitleID = r.URL.Query().Get("titleId")
		if raw := strings.TrimSpace(r.URL.Query().Get("olderThanDays")); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				body.OlderThanDays = &n
			}
		}
	}

	deleted, err := h.progress.ClearHistory(r.Context(), userID, strings.TrimSpace(body.TitleID), body.OlderThanDays)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"deleted": deleted,
	})
}
