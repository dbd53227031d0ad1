package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/RADreams/Cino-backend/services/catalog"
)

type catalogService interface {
	GetTitleDetails(ctx context.Context, titleID, userID, region string) (*catalog.TitleDetails, error)
	ListEpisodes(ctx context.Context, titleID string, season *int, page, limit int, userID, region string) (*catalog.EpisodePage, error)
	GetEpisodeDetails(ctx context.Context, episodeID, userID, region, quality string) (*catalog.EpisodeDetails, error)
}

var _ catalogService = (*catalog.Service)(nil)

// ContentHandler serves title and episode detail pages. The viewer's region
// comes from the request metadata set by the middleware, so availability
// gating follows the connection rather than a client-supplied parameter.
type ContentHandler struct {
	catalog catalogService
}

func NewContentHandler(service catalogService) *ContentHandler {
	return &ContentHandler{catalog: service}
}

// GetTitle handles GET /api/content/{titleId}.
func (h *ContentHandler) GetTitle(w http.ResponseWriter, r *http.Request) {
	titleID := strings.TrimSpace(mux.Vars(r)["titleId"])
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	meta := ClientMetaFrom(r.Context())

	details, err := h.catalog.GetTitleDetails(r.Context(), titleID, userID, meta.Region)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, details)
}

// ListEpisodes handles GET /api/content/{titleId}/episodes.
func (h *ContentHandler) ListEpisodes(w http.ResponseWriter, r *http.Request) {
	titleID := strings.TrimSpace(mux.Vars(r)["titleId"])
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	meta := ClientMetaFrom(r.Context())

	var season *int
	if raw := strings.TrimSpace(r.URL.Query().Get("seasonNumber")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation", "seasonNumber must be an integer")
			return
		}
		season = &n
	}

	page, err := h.catalog.ListEpisodes(r.Context(), titleID, season,
		intQuery(r, "page", 0), intQuery(r, "limit", 0), userID, meta.Region)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, page)
}

// GetEpisode handles GET /api/episodes/{episodeId}. The optional quality
// parameter pins a rendition; otherwise the user's data preference picks one.
func (h *ContentHandler) GetEpisode(w http.ResponseWriter, r *http.Request) {
	episodeID := strings.TrimSpace(mux.Vars(r)["episodeId"])
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	quality := strings.TrimSpace(r.URL.Query().Get("quality"))
	meta := ClientMetaFrom(r.Context())

	details, err := h.catalog.GetEpisodeDetails(r.Context(), episodeID, userID, meta.Region, quality)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, details)
}
