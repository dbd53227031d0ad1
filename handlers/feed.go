package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/RADreams/Cino-backend/models"
	"github.com/RADreams/Cino-backend/services/feed"
)

type feedService interface {
	GetFeed(ctx context.Context, req feed.FeedRequest) (*models.FeedPage, error)
	Search(ctx context.Context, req feed.SearchRequest) (*feed.SearchResult, error)
	GetTrending(ctx context.Context, limit, days int) ([]feed.RailEntry, error)
	GetFeatured(ctx context.Context, limit int) ([]feed.RailEntry, error)
	GetEditorsPicks(ctx context.Context, limit int) ([]feed.RailEntry, error)
	GetPopularByGenre(ctx context.Context, genre, language string, limit int) ([]feed.RailEntry, error)
	GetSimilar(ctx context.Context, titleID string, limit int) ([]feed.RailEntry, error)
	GetContinueWatching(ctx context.Context, userID string, limit int) ([]feed.ContinueEntry, error)
}

var _ feedService = (*feed.Service)(nil)

// FeedHandler serves the ranked feed, discovery rails, and search.
type FeedHandler struct {
	feed feedService
}

func NewFeedHandler(service feedService) *FeedHandler {
	return &FeedHandler{feed: service}
}

// Random handles GET /api/feed/random. Anonymous requests get the popularity
// fallback feed; a userId personalizes it.
func (h *FeedHandler) Random(w http.ResponseWriter, r *http.Request) {
	req := feed.FeedRequest{
		UserID:            strings.TrimSpace(r.URL.Query().Get("userId")),
		Limit:             intQuery(r, "limit", 0),
		Offset:            intQuery(r, "offset", 0),
		OverrideGenres:    csvQuery(r, "genre"),
		OverrideLanguages: csvQuery(r, "language"),
		ExcludeWatched:    boolQuery(r, "excludeWatched"),
	}

	page, err := h.feed.GetFeed(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, page)
}

type personalizedFeedRequest struct {
	UserID      string `json:"userId"`
	Preferences struct {
		Genres    []string `json:"genres"`
		Languages []string `json:"languages"`
	} `json:"preferences"`
	Limit          int  `json:"limit"`
	Offset         int  `json:"offset"`
	ExcludeWatched bool `json:"excludeWatched"`
}

// Personalized handles POST /api/feed/personalized. The body carries explicit
// preference overrides on top of the user's stored ones.
func (h *FeedHandler) Personalized(w http.ResponseWriter, r *http.Request) {
	var body personalizedFeedRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	req := feed.FeedRequest{
		UserID:            strings.TrimSpace(body.UserID),
		Limit:             body.Limit,
		Offset:            body.Offset,
		OverrideGenres:    body.Preferences.Genres,
		OverrideLanguages: body.Preferences.Languages,
		ExcludeWatched:    body.ExcludeWatched,
	}

	page, err := h.feed.GetFeed(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, page)
}

// Trending handles GET /api/feed/trending.
func (h *FeedHandler) Trending(w http.ResponseWriter, r *http.Request) {
	entries, err := h.feed.GetTrending(r.Context(), intQuery(r, "limit", 0), intQuery(r, "timeframe", 0))
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, entries)
}

// PopularByGenre handles GET /api/feed/popular/{genre}.
func (h *FeedHandler) PopularByGenre(w http.ResponseWriter, r *http.Request) {
	genre := strings.TrimSpace(mux.Vars(r)["genre"])
	language := strings.TrimSpace(r.URL.Query().Get("language"))

	entries, err := h.feed.GetPopularByGenre(r.Context(), genre, language, intQuery(r, "limit", 0))
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, entries)
}

// ContinueWatching handles GET /api/feed/continue/{userId}.
func (h *FeedHandler) ContinueWatching(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(mux.Vars(r)["userId"])

	entries, err := h.feed.GetContinueWatching(r.Context(), userID, intQuery(r, "limit", 0))
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, entries)
}

// Search handles GET /api/feed/search.
func (h *FeedHandler) Search(w http.ResponseWriter, r *http.Request) {
	req := feed.SearchRequest{
		Query:     r.URL.Query().Get("q"),
		Type:      strings.TrimSpace(r.URL.Query().Get("type")),
		Genres:    csvQuery(r, "genre"),
		Languages: csvQuery(r, "language"),
		Page:      intQuery(r, "page", 0),
		Limit:     intQuery(r, "limit", 0),
		UserID:    strings.TrimSpace(r.URL.Query().Get("userId")),
	}

	result, err := h.feed.Search(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

// Featured handles GET /api/feed/featured.
func (h *FeedHandler) Featured(w http.ResponseWriter, r *http.Request) {
	entries, err := h.feed.GetFeatured(r.Context(), intQuery(r, "limit", 0))
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, entries)
}

// EditorsPicks handles GET /api/feed/editors-picks.
func (h *FeedHandler) EditorsPicks(w http.ResponseWriter, r *http.Request) {
	entries, err := h.feed.GetEditorsPicks(r.Context(), intQuery(r, "limit", 0))
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, entries)
}

// Similar handles GET /api/content/{titleId}/similar.
func (h *FeedHandler) Similar(w http.ResponseWriter, r *http.Request) {
	titleID := strings.TrimSpace(mux.Vars(r)["titleId"])

	entries, err := h.feed.GetSimilar(r.Context(), titleID, intQuery(r, "limit", 0))
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, entries)
}
