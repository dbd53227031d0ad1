package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/RADreams/Cino-backend/models"
	"github.com/RADreams/Cino-backend/services/prefetch"
	"github.com/RADreams/Cino-backend/services/progress"
)

type progressService interface {
	Start(ctx context.Context, userID, episodeID, watchedVia string) (*models.WatchRecord, *models.Episode, error)
	UpdateProgress(ctx context.Context, userID, episodeID string, upd progress.ProgressUpdate) (*models.WatchRecord, error)
	MarkCompleted(ctx context.Context, userID, episodeID string, finalPosition int, totalWatchTime int64) (*models.WatchRecord, error)
	ToggleLike(ctx context.Context, userID, episodeID string) (bool, int64, error)
	RecordShare(ctx context.Context, userID, episodeID, shareMethod string) error
}

var _ progressService = (*progress.Service)(nil)

type prefetchService interface {
	SmartPlanForEpisode(ctx context.Context, userID, episodeID string, currentEpisodeNumber int) (*models.PrefetchPlan, error)
}

var _ prefetchService = (*prefetch.Service)(nil)

// PlaybackHandler owns the playback session lifecycle: start, heartbeat,
// completion, engagement, and prefetch hints for the player.
type PlaybackHandler struct {
	progress progressService
	prefetch prefetchService
}

func NewPlaybackHandler(progressSvc progressService, prefetchSvc prefetchService) *PlaybackHandler {
	return &PlaybackHandler{progress: progressSvc, prefetch: prefetchSvc}
}

type startPlaybackRequest struct {
	UserID     string `json:"userId"`
	Quality    string `json:"quality"`
	WatchedVia string `json:"watchedVia"`
}

// Start handles POST /api/episodes/{episodeId}/start. Returns the watch
// record with any resume position, the episode, and a stream URL honoring an
// explicit quality hint. Preference-driven quality selection lives on the
// episode details endpoint; here the hint either matches a variant or falls
// back to the master URL.
func (h *PlaybackHandler) Start(w http.ResponseWriter, r *http.Request) {
	episodeID := strings.TrimSpace(mux.Vars(r)["episodeId"])

	var body startPlaybackRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.WatchedVia == "" {
		body.WatchedVia = watchedViaFrom(r)
	}

	record, episode, err := h.progress.Start(r.Context(), body.UserID, episodeID, body.WatchedVia)
	if err != nil {
		respondError(w, err)
		return
	}

	streamURL := episode.VideoURL
	if quality := strings.TrimSpace(body.Quality); quality != "" {
		for _, v := range episode.QualityVariants {
			if strings.EqualFold(v.Resolution, quality) {
				streamURL = v.URL
				break
			}
		}
	}

	writeData(w, http.StatusOK, map[string]interface{}{
		"record":    record,
		"episode":   episode,
		"streamUrl": streamURL,
	})
}

type updateProgressRequest struct {
	UserID string `json:"userId"`
	progress.ProgressUpdate
}

// UpdateProgress handles PUT /api/episodes/{episodeId}/progress, the player
// heartbeat.
func (h *PlaybackHandler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	episodeID := strings.TrimSpace(mux.Vars(r)["episodeId"])

	var body updateProgressRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	record, err := h.progress.UpdateProgress(r.Context(), body.UserID, episodeID, body.ProgressUpdate)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, record)
}

type completePlaybackRequest struct {
	UserID         string `json:"userId"`
	FinalPosition  int    `json:"finalPosition"`
	TotalWatchTime int64  `json:"totalWatchTime"`
}

// Complete handles POST /api/episodes/{episodeId}/complete.
func (h *PlaybackHandler) Complete(w http.ResponseWriter, r *http.Request) {
	episodeID := strings.TrimSpace(mux.Vars(r)["episodeId"])

	var body completePlaybackRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	record, err := h.progress.MarkCompleted(r.Context(), body.UserID, episodeID, body.FinalPosition, body.TotalWatchTime)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, record)
}

type engageRequest struct {
	UserID      string `json:"userId"`
	ShareMethod string `json:"shareMethod"`
}

// ToggleLike handles POST /api/episodes/{episodeId}/like.
func (h *PlaybackHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	episodeID := strings.TrimSpace(mux.Vars(r)["episodeId"])

	var body engageRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	liked, total, err := h.progress.ToggleLike(r.Context(), body.UserID, episodeID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"liked":      liked,
		"totalLikes": total,
	})
}

// Share handles POST /api/episodes/{episodeId}/share. Shares count even for
// anonymous viewers.
func (h *PlaybackHandler) Share(w http.ResponseWriter, r *http.Request) {
	episodeID := strings.TrimSpace(mux.Vars(r)["episodeId"])

	var body engageRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.progress.RecordShare(r.Context(), body.UserID, episodeID, body.ShareMethod); err != nil {
		respondError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, nil, "share recorded")
}

type prefetchRequest struct {
	UserID               string `json:"userId"`
	CurrentEpisodeNumber int    `json:"currentEpisodeNumber"`
}

// Prefetch handles POST /api/episodes/{episodeId}/prefetch. The plan sizes
// itself to the user's binge depth and connection habits.
func (h *PlaybackHandler) Prefetch(w http.ResponseWriter, r *http.Request) {
	episodeID := strings.TrimSpace(mux.Vars(r)["episodeId"])

	var body prefetchRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	plan, err := h.prefetch.SmartPlanForEpisode(r.Context(), body.UserID, episodeID, body.CurrentEpisodeNumber)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, plan)
}

// watchedViaFrom guesses the playback surface from client metadata when the
// body does not say.
func watchedViaFrom(r *http.Request) string {
	ua := strings.ToLower(ClientMetaFrom(r.Context()).UserAgent)
	switch {
	case strings.Contains(ua, "android"), strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"):
		return "mobile"
	case ua == "":
		return ""
	default:
		return "web"
	}
}
