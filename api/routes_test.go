package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/RADreams/Cino-backend/config"
	"github.com/RADreams/Cino-backend/handlers"
	"github.com/RADreams/Cino-backend/models"
	"github.com/RADreams/Cino-backend/services/analytics"
	"github.com/RADreams/Cino-backend/services/cache"
	"github.com/RADreams/Cino-backend/services/catalog"
	"github.com/RADreams/Cino-backend/services/feed"
	"github.com/RADreams/Cino-backend/services/progress"
)

type stubFeed struct{}

func (stubFeed) GetFeed(ctx context.Context, req feed.FeedRequest) (*models.FeedPage, error) {
	return &models.FeedPage{}, nil
}
func (stubFeed) Search(ctx context.Context, req feed.SearchRequest) (*feed.SearchResult, error) {
	return &feed.SearchResult{Query: req.Query}, nil
}
func (stubFeed) GetTrending(ctx context.Context, limit, days int) ([]feed.RailEntry, error) {
	return nil, nil
}
func (stubFeed) GetFeatured(ctx context.Context, limit int) ([]feed.RailEntry, error) {
	return nil, nil
}
func (stubFeed) GetEditorsPicks(ctx context.Context, limit int) ([]feed.RailEntry, error) {
	return nil, nil
}
func (stubFeed) GetPopularByGenre(ctx context.Context, genre, language string, limit int) ([]feed.RailEntry, error) {
	return nil, nil
}
func (stubFeed) GetSimilar(ctx context.Context, titleID string, limit int) ([]feed.RailEntry, error) {
	return nil, nil
}
func (stubFeed) GetContinueWatching(ctx context.Context, userID string, limit int) ([]feed.ContinueEntry, error) {
	return nil, nil
}

type stubCatalog struct{}

func (stubCatalog) GetTitleDetails(ctx context.Context, titleID, userID, region string) (*catalog.TitleDetails, error) {
	return &catalog.TitleDetails{Title: models.Title{ID: titleID}}, nil
}
func (stubCatalog) ListEpisodes(ctx context.Context, titleID string, season *int, page, limit int, userID, region string) (*catalog.EpisodePage, error) {
	return &catalog.EpisodePage{Page: 1, Limit: 20}, nil
}
func (stubCatalog) GetEpisodeDetails(ctx context.Context, episodeID, userID, region, quality string) (*catalog.EpisodeDetails, error) {
	return &catalog.EpisodeDetails{Episode: models.Episode{ID: episodeID}}, nil
}

type stubProgress struct{}

func (stubProgress) Start(ctx context.Context, userID, episodeID, watchedVia string) (*models.WatchRecord, *models.Episode, error) {
	return &models.WatchRecord{UserID: userID, EpisodeID: episodeID}, &models.Episode{ID: episodeID}, nil
}
func (stubProgress) UpdateProgress(ctx context.Context, userID, episodeID string, upd progress.ProgressUpdate) (*models.WatchRecord, error) {
	return &models.WatchRecord{}, nil
}
func (stubProgress) MarkCompleted(ctx context.Context, userID, episodeID string, finalPosition int, totalWatchTime int64) (*models.WatchRecord, error) {
	return &models.WatchRecord{}, nil
}
func (stubProgress) ToggleLike(ctx context.Context, userID, episodeID string) (bool, int64, error) {
	return true, 1, nil
}
func (stubProgress) RecordShare(ctx context.Context, userID, episodeID, shareMethod string) error {
	return nil
}

type stubPrefetch struct{}

func (stubPrefetch) SmartPlanForEpisode(ctx context.Context, userID, episodeID string, currentEpisodeNumber int) (*models.PrefetchPlan, error) {
	return &models.PrefetchPlan{}, nil
}

type stubWatchlist struct{}

func (stubWatchlist) History(ctx context.Context, userID string, status models.WatchStatus, page, limit int) ([]*models.WatchRecord, int64, error) {
	return nil, 0, nil
}
func (stubWatchlist) Rate(ctx context.Context, userID, titleID string, rating int) (float64, int64, error) {
	return float64(rating), 1, nil
}
func (stubWatchlist) ClearHistory(ctx context.Context, userID, titleID string, olderThanDays *int) (int64, error) {
	return 0, nil
}

type stubRefresher struct{}

func (stubRefresher) RefreshTitlePopularity(ctx context.Context, titleID string) (float64, error) {
	return 0, nil
}

type stubUsers struct{}

func (stubUsers) List() []models.User                  { return nil }
func (stubUsers) Get(id string) (models.User, bool)    { return models.User{ID: id}, true }
func (stubUsers) Create(name string) (models.User, error) {
	return models.User{ID: "u1", Name: name}, nil
}
func (stubUsers) Rename(id, name string) (models.User, error)     { return models.User{ID: id}, nil }
func (stubUsers) SetColor(id, color string) (models.User, error)  { return models.User{ID: id}, nil }
func (stubUsers) SetPremium(id string, p bool) (models.User, error) {
	return models.User{ID: id}, nil
}
func (stubUsers) UpdatePreferences(id string, prefs models.UserPreferences) (models.User, error) {
	return models.User{ID: id}, nil
}
func (stubUsers) SetPin(id, pin string) (models.User, error) { return models.User{ID: id}, nil }
func (stubUsers) ClearPin(id string) (models.User, error)    { return models.User{ID: id}, nil }
func (stubUsers) VerifyPin(id, pin string) error             { return nil }
func (stubUsers) Delete(id string) error                     { return nil }

type stubCacheStats struct{}

func (stubCacheStats) Stats() cache.Stats { return cache.Stats{Backend: "memory"} }

type stubAnalyticsStats struct{}

func (stubAnalyticsStats) Stats() analytics.Stats        { return analytics.Stats{} }
func (stubAnalyticsStats) SpoolFiles() ([]string, error) { return nil, nil }

type stubTasks struct{}

func (stubTasks) GetTaskStatus() []config.ScheduledTask { return nil }

type stubCounts struct{}

func (stubCounts) Counts(ctx context.Context) (int64, int64, int64, error) { return 2, 10, 5, nil }

func testRouter(limiter *IPRateLimiter) *mux.Router {
	r := mux.NewRouter()
	Register(
		r,
		handlers.NewFeedHandler(stubFeed{}),
		handlers.NewContentHandler(stubCatalog{}),
		handlers.NewPlaybackHandler(stubProgress{}, stubPrefetch{}),
		handlers.NewWatchlistHandler(stubWatchlist{}, stubRefresher{}),
		handlers.NewUsersHandler(stubUsers{}),
		handlers.NewStatusHandler(stubCacheStats{}, stubAnalyticsStats{}, stubTasks{}, stubCounts{}, "test"),
		limiter,
	)
	return r
}

func TestRegisterDispatchesRoutes(t *testing.T) {
	router := testRouter(nil)

	cases := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/api/feed/random?userId=u1", "", http.StatusOK},
		{http.MethodPost, "/api/feed/personalized", `{"userId":"u1"}`, http.StatusOK},
		{http.MethodGet, "/api/feed/trending", "", http.StatusOK},
		{http.MethodGet, "/api/feed/popular/drama", "", http.StatusOK},
		{http.MethodGet, "/api/feed/continue/u1", "", http.StatusOK},
		{http.MethodGet, "/api/feed/search?q=ra", "", http.StatusOK},
		{http.MethodGet, "/api/feed/featured", "", http.StatusOK},
		{http.MethodGet, "/api/feed/editors-picks", "", http.StatusOK},
		{http.MethodGet, "/api/content/t1", "", http.StatusOK},
		{http.MethodGet, "/api/content/t1/episodes", "", http.StatusOK},
		{http.MethodGet, "/api/content/t1/similar", "", http.StatusOK},
		{http.MethodGet, "/api/episodes/e1", "", http.StatusOK},
		{http.MethodPost, "/api/episodes/e1/start", `{"userId":"u1"}`, http.StatusOK},
		{http.MethodPut, "/api/episodes/e1/progress", `{"userId":"u1","currentPosition":10}`, http.StatusOK},
		{http.MethodPost, "/api/episodes/e1/complete", `{"userId":"u1"}`, http.StatusOK},
		{http.MethodPost, "/api/episodes/e1/like", `{"userId":"u1"}`, http.StatusOK},
		{http.MethodPost, "/api/episodes/e1/share", `{"userId":"u1"}`, http.StatusOK},
		{http.MethodPost, "/api/episodes/e1/prefetch", `{"userId":"u1"}`, http.StatusOK},
		{http.MethodGet, "/api/watchlist/u1", "", http.StatusOK},
		{http.MethodPost, "/api/watchlist/u1/t1/rate", `{"rating":5}`, http.StatusOK},
		{http.MethodDelete, "/api/watchlist/u1/clear", "", http.StatusOK},
		{http.MethodGet, "/api/users", "", http.StatusOK},
		{http.MethodPost, "/api/users", `{"name":"Asha"}`, http.StatusCreated},
		{http.MethodGet, "/api/users/u1", "", http.StatusOK},
		{http.MethodPut, "/api/users/u1", `{"name":"A"}`, http.StatusOK},
		{http.MethodDelete, "/api/users/u1", "", http.StatusOK},
		{http.MethodPut, "/api/users/u1/preferences", `{"autoPlay":true}`, http.StatusOK},
		{http.MethodPost, "/api/users/u1/pin", `{"pin":"1234"}`, http.StatusOK},
		{http.MethodPost, "/api/users/u1/pin/verify", `{"pin":"1234"}`, http.StatusOK},
		{http.MethodDelete, "/api/users/u1/pin", "", http.StatusOK},
		{http.MethodGet, "/api/status", "", http.StatusOK},
	}

	for _, tc := range cases {
		var req *http.Request
		if tc.body != "" {
			req = httptest.NewRequest(tc.method, tc.path, bytes.NewBufferString(tc.body))
		} else {
			req = httptest.NewRequest(tc.method, tc.path, nil)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s %s: expected %d, got %d (%s)", tc.method, tc.path, tc.want, rec.Code, rec.Body.String())
		}
	}
}

func TestRegisterEnvelopeShape(t *testing.T) {
	router := testRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if !env.Success || len(env.Data) == 0 {
		t.Fatalf("unexpected envelope %s", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestRegisterAnswersPreflight(t *testing.T) {
	router := testRouter(nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/episodes/e1/start", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS headers on preflight")
	}
}

func TestRegisterRateLimitsRequests(t *testing.T) {
	limiter := NewIPRateLimiter(config.RateLimitSettings{RequestsPerSecond: 1, Burst: 1, CleanupMinutes: 10})
	router := testRouter(limiter)

	req := httptest.NewRequest(http.MethodGet, "/api/feed/trending", nil)
	req.RemoteAddr = "9.9.9.9:1000"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rec.Code)
	}
}

func TestRegisterUnknownRouteIs404(t *testing.T) {
	router := testRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
