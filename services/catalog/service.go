// Package catalog serves the content detail surface: title pages, episode
// listings, and playback-ready episode payloads, each gated by publication
// state, geographic restriction, and premium entitlement before anything is
// returned. It also owns the write-side ingest helpers and the popularity
// refresh the scheduler runs.
package catalog

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RADreams/Cino-backend/config"
	"github.com/RADreams/Cino-backend/internal/store"
	"github.com/RADreams/Cino-backend/models"
	"github.com/RADreams/Cino-backend/services/analytics"
	"github.com/RADreams/Cino-backend/services/cache"
	"github.com/RADreams/Cino-backend/services/progress"
	"github.com/RADreams/Cino-backend/services/users"
)

var (
	// ErrNotPublished is returned for drafts, archived, and private titles.
	ErrNotPublished = errors.New("content is not published")

	// ErrRegionRestricted is returned when the caller's region is on the
	// title's restriction list.
	ErrRegionRestricted = errors.New("content is not available in this region")

	// ErrPremiumRequired is returned when a premium title is requested by an
	// anonymous or non-premium viewer.
	ErrPremiumRequired = errors.New("premium subscription required")
)

const (
	defaultEpisodePageSize = 20
	maxEpisodePageSize     = 100

	// defaultStreamResolution is the rendition served when neither the
	// request nor the viewer's data-usage preference picks one.
	defaultStreamResolution = "720p"
)

// dataUsageResolutions maps the profile bandwidth preference to a rendition.
var dataUsageResolutions = map[models.DataUsage]string{
	models.DataUsageLow:    "480p",
	models.DataUsageMedium: "720p",
	models.DataUsageHigh:   "1080p",
}

// TitleDetails is the content page payload: the title, its episode shape, and
// the caller's own progress and rating where a user is known.
type TitleDetails struct {
	Title        models.Title          `json:"title"`
	EpisodeCount int64                 `json:"episodeCount"`
	FirstEpisode *models.Episode       `json:"firstEpisode,omitempty"`
	UserRating   *int                  `json:"userRating,omitempty"`
	Progress     []*models.WatchRecord `json:"progress,omitempty"`
}

// EpisodeWithProgress pairs an episode with the caller's overlay, if any.
type EpisodeWithProgress struct {
	Episode  models.Episode          `json:"episode"`
	Progress *models.ProgressOverlay `json:"progress,omitempty"`
}

// EpisodePage is one page of a title's episode listing.
type EpisodePage struct {
	Episodes []EpisodeWithProgress `json:"episodes"`
	Page     int                   `json:"page"`
	Limit    int                   `json:"limit"`
	Total    int64                 `json:"total"`
}

// EpisodeDetails is the playback payload: the episode, the rendition chosen
// for this viewer, and their resume position.
type EpisodeDetails struct {
	Episode    models.Episode          `json:"episode"`
	StreamURL  string                  `json:"streamUrl"`
	Resolution string                  `json:"resolution,omitempty"`
	Progress   *models.ProgressOverlay `json:"progress,omitempty"`
}

// Service is the catalog read and ingest layer.
type Service struct {
	store     *store.Store
	users     *users.Service
	progress  *progress.Service
	cache     *cache.Service
	analytics *analytics.Service
	weights   config.PopularityWeights
	ttl       config.CacheTTLSettings
}

// NewService wires the catalog over the document store, the user profiles,
// and the shared cache. Zero-valued weights and TTL tiers fall back to the
// defaults.
func NewService(st *store.Store, us *users.Service, pg *progress.Service, ca *cache.Service, an *analytics.Service, weights config.PopularityWeights, ttl config.CacheTTLSettings) *Service {
	if weights == (config.PopularityWeights{}) {
		weights = config.PopularityWeights{Views: 0.4, Engagement: 0.3, Rating: 0.2, Recency: 0.1}
	}
	if ttl.Short <= 0 {
		ttl.Short = 300
	}
	if ttl.Medium <= 0 {
		ttl.Medium = 1800
	}
	if ttl.Long <= 0 {
		ttl.Long = 3600
	}
	if ttl.VeryLong <= 0 {
		ttl.VeryLong = 7200
	}
	return &Service{
		store:     st,
		users:     us,
		progress:  pg,
		cache:     ca,
		analytics: an,
		weights:   weights,
		ttl:       ttl,
	}
}

// GetTitleDetails returns the content page for a title after gating. The
// payload is cached per (title, user, region) and evicted through the title
// and user tags, so a progress write or catalog edit invalidates it before
// the TTL does.
func (s *Service) GetTitleDetails(ctx context.Context, titleID, userID, region string) (*TitleDetails, error) {
	titleID = strings.TrimSpace(titleID)
	userID = strings.TrimSpace(userID)

	key := cache.Key("catalog:title", titleID, userID, region)
	var cached TitleDetails
	if s.cache.Get(ctx, key, &cached) {
		s.emitContentView(userID, titleID)
		return &cached, nil
	}

	t, err := s.store.GetTitle(ctx, titleID)
	if err != nil {
		return nil, err
	}
	if err := s.gate(t, userID, region); err != nil {
		return nil, err
	}

	count, err := s.store.CountEpisodes(ctx, titleID, nil)
	if err != nil {
		return nil, err
	}
	firsts, err := s.store.FirstEpisodes(ctx, []string{titleID})
	if err != nil {
		return nil, err
	}

	details := &TitleDetails{
		Title:        *t,
		EpisodeCount: count,
		FirstEpisode: firsts[titleID],
	}
	if userID != "" {
		recs, err := s.progress.GetProgressOnTitle(ctx, userID, titleID)
		if err != nil {
			log.Printf("[catalog] progress overlay for title %s failed: %v", titleID, err)
		} else {
			details.Progress = recs
			for _, rec := range recs {
				if rec.Rating != nil {
					details.UserRating = rec.Rating
					break
				}
			}
		}
	}

	tags := []string{"title:" + titleID}
	if userID != "" {
		tags = append(tags, "user:"+userID)
	}
	s.cache.SetWithTags(ctx, key, details, time.Duration(s.ttl.Medium)*time.Second, tags)

	s.emitContentView(userID, titleID)
	return details, nil
}

// ListEpisodes returns one page of a title's published episodes, oldest
// first, with the caller's progress overlaid. Season narrows the listing when
// set.
func (s *Service) ListEpisodes(ctx context.Context, titleID string, season *int, page, limit int, userID, region string) (*EpisodePage, error) {
	titleID = strings.TrimSpace(titleID)
	userID = strings.TrimSpace(userID)
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultEpisodePageSize
	}
	if limit > maxEpisodePageSize {
		limit = maxEpisodePageSize
	}

	seasonPart := ""
	if season != nil {
		seasonPart = strconv.Itoa(*season)
	}
	key := cache.Key("catalog:episodes", titleID, userID, region, seasonPart, strconv.Itoa(page), strconv.Itoa(limit))
	var cached EpisodePage
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	t, err := s.store.GetTitle(ctx, titleID)
	if err != nil {
		return nil, err
	}
	if err := s.gate(t, userID, region); err != nil {
		return nil, err
	}

	episodes, err := s.store.ListEpisodes(ctx, titleID, season, limit, (page-1)*limit, false)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountEpisodes(ctx, titleID, season)
	if err != nil {
		return nil, err
	}

	overlays := map[string]*models.WatchRecord{}
	if userID != "" {
		ids := make([]string, 0, len(episodes))
		for _, e := range episodes {
			ids = append(ids, e.ID)
		}
		overlays, err = s.progress.OverlaysByEpisodes(ctx, userID, ids)
		if err != nil {
			log.Printf("[catalog] progress overlay for title %s failed: %v", titleID, err)
			overlays = map[string]*models.WatchRecord{}
		}
	}

	out := &EpisodePage{
		Episodes: make([]EpisodeWithProgress, 0, len(episodes)),
		Page:     page,
		Limit:    limit,
		Total:    total,
	}
	for _, e := range episodes {
		entry := EpisodeWithProgress{Episode: *e}
		if rec := overlays[e.ID]; rec != nil {
			overlay := rec.Overlay()
			entry.Progress = &overlay
		}
		out.Episodes = append(out.Episodes, entry)
	}

	tags := []string{"title:" + titleID}
	if userID != "" {
		tags = append(tags, "user:"+userID)
	}
	s.cache.SetWithTags(ctx, key, out, time.Duration(s.ttl.Short)*time.Second, tags)
	return out, nil
}

// GetEpisodeDetails returns the playback payload for one episode. Quality
// picks the rendition when the episode carries it; otherwise the viewer's
// data-usage preference decides, then the stream default. The payload is not
// cached: both lookups are indexed point reads and the overlay changes on
// every heartbeat.
func (s *Service) GetEpisodeDetails(ctx context.Context, episodeID, userID, region, quality string) (*EpisodeDetails, error) {
	episodeID = strings.TrimSpace(episodeID)
	userID = strings.TrimSpace(userID)

	e, err := s.store.GetEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	if e.Status != models.TitleStatusPublished {
		return nil, ErrNotPublished
	}
	t, err := s.store.GetTitle(ctx, e.TitleID)
	if err != nil {
		return nil, err
	}
	if err := s.gate(t, userID, region); err != nil {
		return nil, err
	}

	var usage models.DataUsage
	if userID != "" {
		if u, ok := s.users.Get(userID); ok {
			usage = u.Preferences.DataUsage
		}
	}
	url, resolution := pickStream(e, strings.TrimSpace(quality), usage)

	details := &EpisodeDetails{
		Episode:    *e,
		StreamURL:  url,
		Resolution: resolution,
	}
	if userID != "" {
		overlays, err := s.progress.OverlaysByEpisodes(ctx, userID, []string{episodeID})
		if err != nil {
			log.Printf("[catalog] progress overlay for episode %s failed: %v", episodeID, err)
		} else if rec := overlays[episodeID]; rec != nil {
			overlay := rec.Overlay()
			details.Progress = &overlay
		}
	}
	return details, nil
}

// SaveTitle upserts a title, assigning an id when the caller did not, and
// evicts every cached page the edit could have changed. The stored analytics
// counters survive the upsert; only the curation fields move.
func (s *Service) SaveTitle(ctx context.Context, t *models.Title) (*models.Title, error) {
	if strings.TrimSpace(t.ID) == "" {
		t.ID = uuid.NewString()
	}
	if err := s.store.UpsertTitle(ctx, t); err != nil {
		return nil, err
	}
	s.cache.InvalidateByTags(ctx, "title:"+t.ID, "feed", "search")
	return s.store.GetTitle(ctx, t.ID)
}

// SaveEpisode upserts an episode and evicts the affected caches, including
// the prefetch plans built over the old episode ordering.
func (s *Service) SaveEpisode(ctx context.Context, e *models.Episode) (*models.Episode, error) {
	if strings.TrimSpace(e.ID) == "" {
		e.ID = uuid.NewString()
	}
	if err := s.store.UpsertEpisode(ctx, e); err != nil {
		return nil, err
	}
	s.cache.InvalidateByTags(ctx, "title:"+e.TitleID, "feed", "search")
	return s.store.GetEpisode(ctx, e.ID)
}

// DeleteTitle removes a title with its episodes and evicts its caches.
func (s *Service) DeleteTitle(ctx context.Context, titleID string) error {
	titleID = strings.TrimSpace(titleID)
	if err := s.store.DeleteTitle(ctx, titleID); err != nil {
		return err
	}
	s.cache.InvalidateByTags(ctx, "title:"+titleID, "feed", "search")
	return nil
}

// DeleteEpisode removes one episode and evicts its title's caches.
func (s *Service) DeleteEpisode(ctx context.Context, episodeID string) error {
	episodeID = strings.TrimSpace(episodeID)
	e, err := s.store.GetEpisode(ctx, episodeID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteEpisode(ctx, episodeID); err != nil {
		return err
	}
	s.cache.InvalidateByTags(ctx, "title:"+e.TitleID, "feed", "search")
	return nil
}

// gate applies the publication, region, and entitlement checks in that
// order. Premium is checked last so a restricted title reports the
// restriction rather than an upsell.
func (s *Service) gate(t *models.Title, userID, region string) error {
	if !t.IsPublished() {
		return ErrNotPublished
	}
	if t.RestrictedIn(region) {
		return ErrRegionRestricted
	}
	if t.IsPremium {
		u, ok := s.users.Get(userID)
		if !ok || !u.IsPremium {
			return ErrPremiumRequired
		}
	}
	return nil
}

func (s *Service) emitContentView(userID, titleID string) {
	if s.analytics == nil {
		return
	}
	s.analytics.Emit(userID, models.EventContentView, map[string]interface{}{
		"titleId": titleID,
		"screen":  "details",
	})
}

// pickStream chooses the playback rendition: the explicit quality request
// first, then the viewer's data-usage preference, then the stream default,
// then the first listed variant, then the master URL.
func pickStream(e *models.Episode, quality string, usage models.DataUsage) (string, string) {
	if quality != "" {
		if v := e.VariantByResolution(quality); v != nil {
			return v.URL, v.Resolution
		}
	}
	if res, ok := dataUsageResolutions[usage]; ok {
		if v := e.VariantByResolution(res); v != nil {
			return v.URL, v.Resolution
		}
	}
	if v := e.VariantByResolution(defaultStreamResolution); v != nil {
		return v.URL, v.Resolution
	}
	if len(e.QualityVariants) > 0 {
		v := e.QualityVariants[0]
		return v.URL, v.Resolution
	}
	return e.VideoURL, ""
}
