// Package api mounts the HTTP routes and the middleware chain around them.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/RADreams/Cino-backend/handlers"
)

// handleOptions handles OPTIONS requests for CORS preflight.
func handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Register mounts API endpoints onto the provided router. A nil limiter
// disables rate limiting.
func Register(
	r *mux.Router,
	feedHandler *handlers.FeedHandler,
	contentHandler *handlers.ContentHandler,
	playbackHandler *handlers.PlaybackHandler,
	watchlistHandler *handlers.WatchlistHandler,
	usersHandler *handlers.UsersHandler,
	statusHandler *handlers.StatusHandler,
	limiter *IPRateLimiter,
) {
	api := r.PathPrefix("/api").Subrouter()

	// Logging wraps everything so rate-limited and preflight requests show
	// up too. CORS must run before the limiter to keep preflight exempt.
	api.Use(loggingMiddleware)
	api.Use(corsMiddleware)
	api.Use(clientMetadataMiddleware)
	if limiter != nil {
		api.Use(limiter.Middleware)
	}

	// Feed and discovery rails
	api.HandleFunc("/feed/random", feedHandler.Random).Methods(http.MethodGet)
	api.HandleFunc("/feed/random", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/feed/personalized", feedHandler.Personalized).Methods(http.MethodPost)
	api.HandleFunc("/feed/personalized", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/feed/trending", feedHandler.Trending).Methods(http.MethodGet)
	api.HandleFunc("/feed/trending", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/feed/popular/{genre}", feedHandler.PopularByGenre).Methods(http.MethodGet)
	api.HandleFunc("/feed/popular/{genre}", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/feed/continue/{userId}", feedHandler.ContinueWatching).Methods(http.MethodGet)
	api.HandleFunc("/feed/continue/{userId}", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/feed/search", feedHandler.Search).Methods(http.MethodGet)
	api.HandleFunc("/feed/search", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/feed/featured", feedHandler.Featured).Methods(http.MethodGet)
	api.HandleFunc("/feed/featured", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/feed/editors-picks", feedHandler.EditorsPicks).Methods(http.MethodGet)
	api.HandleFunc("/feed/editors-picks", handleOptions).Methods(http.MethodOptions)

	// Content catalog
	api.HandleFunc("/content/{titleId}", contentHandler.GetTitle).Methods(http.MethodGet)
	api.HandleFunc("/content/{titleId}", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/content/{titleId}/episodes", contentHandler.ListEpisodes).Methods(http.MethodGet)
	api.HandleFunc("/content/{titleId}/episodes", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/content/{titleId}/similar", feedHandler.Similar).Methods(http.MethodGet)
	api.HandleFunc("/content/{titleId}/similar", handleOptions).Methods(http.MethodOptions)

	// Episode details and playback lifecycle
	api.HandleFunc("/episodes/{episodeId}", contentHandler.GetEpisode).Methods(http.MethodGet)
	api.HandleFunc("/episodes/{episodeId}", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/episodes/{episodeId}/start", playbackHandler.Start).Methods(http.MethodPost)
	api.HandleFunc("/episodes/{episodeId}/start", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/episodes/{episodeId}/progress", playbackHandler.UpdateProgress).Methods(http.MethodPut)
	api.HandleFunc("/episodes/{episodeId}/progress", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/episodes/{episodeId}/complete", playbackHandler.Complete).Methods(http.MethodPost)
	api.HandleFunc("/episodes/{episodeId}/complete", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/episodes/{episodeId}/like", playbackHandler.ToggleLike).Methods(http.MethodPost)
	api.HandleFunc("/episodes/{episodeId}/like", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/episodes/{episodeId}/share", playbackHandler.Share).Methods(http.MethodPost)
	api.HandleFunc("/episodes/{episodeId}/share", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/episodes/{episodeId}/prefetch", playbackHandler.Prefetch).Methods(http.MethodPost)
	api.HandleFunc("/episodes/{episodeId}/prefetch", handleOptions).Methods(http.MethodOptions)

	// Watch history
	api.HandleFunc("/watchlist/{userId}", watchlistHandler.History).Methods(http.MethodGet)
	api.HandleFunc("/watchlist/{userId}", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/watchlist/{userId}/{titleId}/rate", watchlistHandler.Rate).Methods(http.MethodPost)
	api.HandleFunc("/watchlist/{userId}/{titleId}/rate", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/watchlist/{userId}/clear", watchlistHandler.Clear).Methods(http.MethodDelete)
	api.HandleFunc("/watchlist/{userId}/clear", handleOptions).Methods(http.MethodOptions)

	// Viewer profiles
	api.HandleFunc("/users", usersHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/users", usersHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/users", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/users/{userId}", usersHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/users/{userId}", usersHandler.Update).Methods(http.MethodPut)
	api.HandleFunc("/users/{userId}", usersHandler.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/users/{userId}", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/users/{userId}/preferences", usersHandler.UpdatePreferences).Methods(http.MethodPut)
	api.HandleFunc("/users/{userId}/preferences", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/users/{userId}/pin", usersHandler.SetPin).Methods(http.MethodPost)
	api.HandleFunc("/users/{userId}/pin", usersHandler.ClearPin).Methods(http.MethodDelete)
	api.HandleFunc("/users/{userId}/pin", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/users/{userId}/pin/verify", usersHandler.VerifyPin).Methods(http.MethodPost)
	api.HandleFunc("/users/{userId}/pin/verify", handleOptions).Methods(http.MethodOptions)

	// Health
	api.HandleFunc("/status", statusHandler.Status).Methods(http.MethodGet)
	api.HandleFunc("/status", handleOptions).Methods(http.MethodOptions)
}
