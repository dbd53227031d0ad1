// Package feed assembles ranked, deduplicated feed pages from four candidate
// pools and serves the read-side rails around them. Every read is cache-aside:
// pages and rails are cached per input combination and evicted through user,
// title, and feed tags rather than key patterns.
package feed

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/RADreams/Cino-backend/config"
	"github.com/RADreams/Cino-backend/internal/store"
	"github.com/RADreams/Cino-backend/models"
	"github.com/RADreams/Cino-backend/services/analytics"
	"github.com/RADreams/Cino-backend/services/cache"
	"github.com/RADreams/Cino-backend/services/prefetch"
	"github.com/RADreams/Cino-backend/services/progress"
	"github.com/RADreams/Cino-backend/services/users"
)

var (
	// ErrTimeout is returned when the request deadline expires while the
	// candidate pools are still running. The partial result is discarded;
	// a half-built page is never served.
	ErrTimeout = errors.New("feed build timed out")

	ErrQueryTooShort = errors.New("search query is too short")
	ErrGenreRequired = errors.New("genre is required")
)

// Service orchestrates feed assembly over the catalog store, the user
// profiles, and the prefetch planner.
type Service struct {
	store     *store.Store
	users     *users.Service
	progress  *progress.Service
	prefetch  *prefetch.Service
	cache     *cache.Service
	analytics *analytics.Service
	settings  config.FeedSettings
}

// NewService wires the orchestrator with its collaborators.
func NewService(st *store.Store, us *users.Service, pg *progress.Service, pf *prefetch.Service, ca *cache.Service, an *analytics.Service, settings config.FeedSettings) *Service {
	if settings.MaxPageSize <= 0 {
		settings.MaxPageSize = 100
	}
	if settings.DefaultPageSize <= 0 {
		settings.DefaultPageSize = 10
	}
	if settings.Ratios == (config.PoolRatios{}) {
		settings.Ratios = config.PoolRatios{Personalized: 0.4, Trending: 0.3, Popular: 0.2, Fresh: 0.1}
	}
	if settings.Scoring == (config.ScoringWeights{}) {
		settings.Scoring = config.ScoringWeights{
			Popularity:    0.3,
			Trending:      0.2,
			FeedPriority:  10,
			FeedWeight:    5,
			GenreMatch:    20,
			LanguageMatch: 15,
			FreshWeek:     10,
			FreshMonth:    5,
			Completion:    0.1,
			JitterMax:     10,
		}
	}
	if settings.TrendingWindowDays <= 0 {
		settings.TrendingWindowDays = 7
	}
	if settings.FreshWindowDays <= 0 {
		settings.FreshWindowDays = 30
	}
	if settings.AuthTTLSeconds <= 0 {
		settings.AuthTTLSeconds = 900
	}
	if settings.AnonTTLSeconds <= 0 {
		settings.AnonTTLSeconds = 1800
	}
	if settings.SearchTTLSeconds <= 0 {
		settings.SearchTTLSeconds = 1800
	}
	if settings.SearchMinLength <= 0 {
		settings.SearchMinLength = 2
	}
	return &Service{
		store:     st,
		users:     us,
		progress:  pg,
		prefetch:  pf,
		cache:     ca,
		analytics: an,
		settings:  settings,
	}
}

// FeedRequest carries every input that shapes a feed page. All fields
// participate in the cache key, so two requests share a cached page only
// when they would have produced the same one.
type FeedRequest struct {
	UserID            string
	Limit             int
	Offset            int
	OverrideGenres    []string
	OverrideLanguages []string
	ExcludeWatched    bool
}

// prefs is the resolved personalization input: the user's stored preferences
// with any request overrides applied on top.
type prefs struct {
	genres    []string
	languages []string
}

// GetFeed builds one feed page: cache lookup, candidate pools, ranking,
// first-episode attach, prefetch plans, cache write, analytics. A cache or
// analytics failure degrades silently; a store failure or an expired deadline
// fails the page.
func (s *Service) GetFeed(ctx context.Context, req FeedRequest) (*models.FeedPage, error) {
	req.Limit, req.Offset = s.clampPage(req.Limit, req.Offset)

	key := s.feedKey(req)
	var cached models.FeedPage
	if s.cache.Get(ctx, key, &cached) {
		cached.Source = "cache"
		s.emitContentView(req, len(cached.Cards))
		return &cached, nil
	}

	pr := s.resolvePrefs(req)

	var exclude []string
	if req.ExcludeWatched && req.UserID != "" {
		ids, err := s.progress.WatchedTitleIDs(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		exclude = ids
	}

	candidates, err := s.runPools(ctx, pr, exclude, req.Offset+req.Limit)
	if err != nil {
		return nil, err
	}

	cards, total, err := s.assemble(ctx, candidates, pr, req.Limit, req.Offset)
	if err != nil {
		return nil, err
	}

	s.prefetch.PlanForPage(ctx, req.UserID, cards)

	page := &models.FeedPage{
		Cards:  cards,
		Limit:  req.Limit,
		Offset: req.Offset,
		Total:  total,
		Source: "live",
	}

	ttl := time.Duration(s.settings.AnonTTLSeconds) * time.Second
	tags := []string{"feed"}
	if req.UserID != "" {
		ttl = time.Duration(s.settings.AuthTTLSeconds) * time.Second
		tags = append(tags, "user:"+req.UserID)
	}
	s.cache.SetWithTags(ctx, key, page, ttl, tags)

	s.emitContentView(req, len(cards))
	return page, nil
}

func (s *Service) emitContentView(req FeedRequest, cards int) {
	feedType := "random"
	if req.UserID != "" {
		feedType = "personalized"
	}
	s.analytics.Emit(req.UserID, models.EventContentView, map[string]interface{}{
		"feedType": feedType,
		"limit":    req.Limit,
		"offset":   req.Offset,
		"cards":    cards,
	})
}

// resolvePrefs loads the user's stored preferences and lets request overrides
// replace them wholesale. An unknown user simply has no preferences.
func (s *Service) resolvePrefs(req FeedRequest) prefs {
	var p prefs
	if req.UserID != "" {
		if u, ok := s.users.Get(req.UserID); ok {
			p.genres = u.Preferences.PreferredGenres
			p.languages = u.Preferences.PreferredLanguages
		}
	}
	if len(req.OverrideGenres) > 0 {
		p.genres = req.OverrideGenres
	}
	if len(req.OverrideLanguages) > 0 {
		p.languages = req.OverrideLanguages
	}
	return p
}

func (s *Service) clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = s.settings.DefaultPageSize
	}
	if limit > s.settings.MaxPageSize {
		limit = s.settings.MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Service) feedKey(req FeedRequest) string {
	return cache.Key("feed",
		req.UserID,
		strconv.Itoa(req.Limit),
		strconv.Itoa(req.Offset),
		strings.Join(req.OverrideGenres, ","),
		strings.Join(req.OverrideLanguages, ","),
		strconv.FormatBool(req.ExcludeWatched),
	)
}
