// Package prefetch plans which upcoming episodes a client should warm while
// the user is still deciding whether to keep watching. Plans pick the
// cheapest rendition for buffer warming, estimate the transfer cost, and are
// cached per title so concurrent feed requests share the work.
package prefetch

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/RADreams/Cino-backend/config"
	"github.com/RADreams/Cino-backend/internal/store"
	"github.com/RADreams/Cino-backend/models"
	"github.com/RADreams/Cino-backend/services/cache"
)

// resolutionRank orders renditions cheapest first. Labels missing from the
// table sort last so they can never win the lowest-tier pick.
var resolutionRank = map[string]int{
	"240p":  0,
	"360p":  1,
	"480p":  2,
	"720p":  3,
	"1080p": 4,
	"4k":    5,
}

// Service builds prefetch plans on top of the catalog store and the cache.
type Service struct {
	store    *store.Store
	cache    *cache.Service
	settings config.PrefetchSettings
}

// NewService wires the planner with its collaborators.
func NewService(st *store.Store, ca *cache.Service, settings config.PrefetchSettings) *Service {
	if settings.MaxCards <= 0 {
		settings.MaxCards = 7
	}
	if settings.EpisodesPerCard <= 0 {
		settings.EpisodesPerCard = 5
	}
	if settings.PrefetchResolution == "" {
		settings.PrefetchResolution = "480p"
	}
	if settings.StreamResolution == "" {
		settings.StreamResolution = "720p"
	}
	if len(settings.MBPerMinute) == 0 {
		settings.MBPerMinute = map[string]float64{"480p": 0.5, "720p": 1.2, "1080p": 2.5, "4k": 6.0}
	}
	if settings.PlanTTLSeconds <= 0 {
		settings.PlanTTLSeconds = 1200
	}
	if settings.UserPlanTTLSeconds <= 0 {
		settings.UserPlanTTLSeconds = 600
	}
	if settings.SmartLowThreshold <= 0 {
		settings.SmartLowThreshold = 2
	}
	if settings.SmartHighThreshold <= 0 {
		settings.SmartHighThreshold = 5
	}
	if settings.SmartMinCards <= 0 {
		settings.SmartMinCards = 2
	}
	if settings.SmartDefaultCards <= 0 {
		settings.SmartDefaultCards = 3
	}
	return &Service{store: st, cache: ca, settings: settings}
}

// PlanForPage attaches a prefetch plan to each of the first MaxCards cards,
// in place. Per-title plans are built in parallel and shared through the
// cache; a card whose plan cannot be built gets an empty one, never an error.
// When a user is known their watch state is overlaid in one batched read and
// the assembled page plan is recorded under the user's key.
func (s *Service) PlanForPage(ctx context.Context, userID string, cards []models.Card) {
	n := len(cards)
	if n > s.settings.MaxCards {
		n = s.settings.MaxCards
	}
	if n == 0 {
		return
	}

	plans := make([]*models.PrefetchPlan, n)
	workers := pool.New().WithMaxGoroutines(s.settings.MaxCards)
	for i := 0; i < n; i++ {
		i := i
		card := &cards[i]
		workers.Go(func() {
			plans[i] = s.planForCard(ctx, userID, card)
		})
	}
	workers.Wait()

	if userID != "" {
		s.overlayProgress(ctx, userID, plans)
	}
	for i := 0; i < n; i++ {
		cards[i].Prefetch = plans[i]
	}
	if userID != "" {
		s.storeUserPlan(ctx, userID, plans)
	}
}

// SmartPlanForEpisode resolves the episode the viewer is on and plans from
// there. A positive currentEpisodeNumber overrides the episode's own number so
// clients can report their true position mid-season.
func (s *Service) SmartPlanForEpisode(ctx context.Context, userID, episodeID string, currentEpisodeNumber int) (*models.PrefetchPlan, error) {
	e, err := s.store.GetEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	number := e.EpisodeNumber
	if currentEpisodeNumber > 0 {
		number = currentEpisodeNumber
	}
	return s.SmartPlan(ctx, userID, e.TitleID, e.SeasonNumber, number)
}

// SmartPlan sizes a single-title plan to the user's recent binge depth. The
// episode count comes from the rolling 7-day average of episodes per viewing
// session: shallow sessions get the minimum, deep ones the full allowance.
// The plan starts after the given (season, episode) position.
func (s *Service) SmartPlan(ctx context.Context, userID, titleID string, currentSeason, currentEpisode int) (*models.PrefetchPlan, error) {
	count := s.settings.SmartDefaultCards
	if userID != "" {
		sessions, episodes, err := s.store.SessionStats(ctx, userID, time.Now().UTC().AddDate(0, 0, -7))
		if err != nil {
			log.Printf("[prefetch] session stats for %s failed: %v", userID, err)
		} else {
			var avg float64
			if sessions > 0 {
				avg = float64(episodes) / float64(sessions)
			}
			switch {
			case avg < s.settings.SmartLowThreshold:
				count = s.settings.SmartMinCards
			case avg > s.settings.SmartHighThreshold:
				count = s.settings.MaxCards
			}
		}
	}

	plan, err := s.buildPlan(ctx, titleID, currentSeason, currentEpisode, count)
	if err != nil {
		return nil, err
	}
	if userID != "" {
		s.overlayProgress(ctx, userID, []*models.PrefetchPlan{plan})
		s.storeUserPlan(ctx, userID, []*models.PrefetchPlan{plan})
	}
	return plan, nil
}

// planForCard reuses the cached per-title plan or builds and caches a fresh
// one. The cached plan never carries user overlays; those are applied by the
// caller on its own copy.
func (s *Service) planForCard(ctx context.Context, userID string, card *models.Card) *models.PrefetchPlan {
	titleID := card.Title.ID
	if card.FirstEpisode == nil {
		return emptyPlan(titleID)
	}

	key := fmt.Sprintf("prefetch:episode:%s", titleID)
	var cached models.PrefetchPlan
	if s.cache.Get(ctx, key, &cached) {
		return &cached
	}

	plan, err := s.buildPlan(ctx, titleID, card.FirstEpisode.SeasonNumber, card.FirstEpisode.EpisodeNumber, s.settings.EpisodesPerCard)
	if err != nil {
		log.Printf("[prefetch] plan for title %s failed: %v", titleID, err)
		return emptyPlan(titleID)
	}

	tags := []string{"title:" + titleID}
	if userID != "" {
		tags = append(tags, "user:"+userID)
	}
	s.cache.SetWithTags(ctx, key, plan, time.Duration(s.settings.PlanTTLSeconds)*time.Second, tags)
	return plan
}

// buildPlan loads up to limit published episodes after (season, episode) and
// prices them. Priorities decrease with distance from the start position.
func (s *Service) buildPlan(ctx context.Context, titleID string, season, episode, limit int) (*models.PrefetchPlan, error) {
	episodes, err := s.store.EpisodesAfter(ctx, titleID, season, episode, limit)
	if err != nil {
		return nil, err
	}

	plan := &models.PrefetchPlan{
		TitleID:     titleID,
		Episodes:    make([]models.PrefetchEpisode, 0, len(episodes)),
		GeneratedAt: time.Now().UTC(),
	}
	total := 0.0
	for i, e := range episodes {
		prefetchURL, resolution := s.prefetchRendition(e)
		plan.Episodes = append(plan.Episodes, models.PrefetchEpisode{
			EpisodeID:     e.ID,
			TitleID:       e.TitleID,
			SeasonNumber:  e.SeasonNumber,
			EpisodeNumber: e.EpisodeNumber,
			Title:         e.Title,
			Duration:      e.Duration,
			ThumbnailURL:  e.ThumbnailURL,
			PrefetchURL:   prefetchURL,
			StreamURL:     s.streamRendition(e),
			Priority:      len(episodes) - i,
		})
		total += float64(e.Duration) / 60 * s.mbPerMinute(resolution)
	}
	plan.EstimatedMB = math.Round(total*100) / 100
	return plan, nil
}

// prefetchRendition picks the URL a client should warm buffers with and the
// resolution the transfer estimate is priced at. Preference order: the
// configured prefetch tier, the lowest variant present, the master URL.
func (s *Service) prefetchRendition(e *models.Episode) (url, resolution string) {
	if v := e.VariantByResolution(s.settings.PrefetchResolution); v != nil {
		return v.URL, v.Resolution
	}
	if v := lowestVariant(e.QualityVariants); v != nil {
		return v.URL, v.Resolution
	}
	return e.VideoURL, s.settings.PrefetchResolution
}

// streamRendition picks the URL playback would actually start with.
func (s *Service) streamRendition(e *models.Episode) string {
	if v := e.VariantByResolution(s.settings.StreamResolution); v != nil {
		return v.URL
	}
	if len(e.QualityVariants) > 0 {
		return e.QualityVariants[0].URL
	}
	return e.VideoURL
}

// mbPerMinute looks up the transfer estimate for a rendition. Labels the
// table does not know are priced at the prefetch tier's figure.
func (s *Service) mbPerMinute(resolution string) float64 {
	if mb, ok := s.settings.MBPerMinute[resolution]; ok {
		return mb
	}
	return s.settings.MBPerMinute[s.settings.PrefetchResolution]
}

// overlayProgress decorates plan episodes with the user's watch state. One
// batched read covers every episode across all plans; a failed read leaves
// the plans bare rather than failing them.
func (s *Service) overlayProgress(ctx context.Context, userID string, plans []*models.PrefetchPlan) {
	var ids []string
	for _, plan := range plans {
		if plan == nil {
			continue
		}
		for i := range plan.Episodes {
			ids = append(ids, plan.Episodes[i].EpisodeID)
		}
	}
	if len(ids) == 0 {
		return
	}

	records, err := s.store.WatchRecordsByEpisodes(ctx, userID, ids)
	if err != nil {
		log.Printf("[prefetch] progress overlay for %s failed: %v", userID, err)
		return
	}
	for _, plan := range plans {
		if plan == nil {
			continue
		}
		for i := range plan.Episodes {
			if rec, ok := records[plan.Episodes[i].EpisodeID]; ok {
				overlay := rec.Overlay()
				plan.Episodes[i].Progress = &overlay
			}
		}
	}
}

// storeUserPlan records the plans handed to a user under a timestamped key.
// Nothing reads the entry back by key; it exists so recent plans can be
// inspected and evicted through tag invalidation.
func (s *Service) storeUserPlan(ctx context.Context, userID string, plans []*models.PrefetchPlan) {
	tags := []string{"user:" + userID}
	for _, plan := range plans {
		if plan != nil && plan.TitleID != "" {
			tags = append(tags, "title:"+plan.TitleID)
		}
	}
	key := fmt.Sprintf("prefetch:%s:%d", userID, time.Now().Unix())
	s.cache.SetWithTags(ctx, key, plans, time.Duration(s.settings.UserPlanTTLSeconds)*time.Second, tags)
}

func emptyPlan(titleID string) *models.PrefetchPlan {
	return &models.PrefetchPlan{
		TitleID:     titleID,
		Episodes:    []models.PrefetchEpisode{},
		GeneratedAt: time.Now().UTC(),
	}
}

func lowestVariant(variants []models.QualityVariant) *models.QualityVariant {
	var best *models.QualityVariant
	bestRank := 0
	for i := range variants {
		rank, ok := resolutionRank[variants[i].Resolution]
		if !ok {
			rank = len(resolutionRank)
		}
		if best == nil || rank < bestRank {
			best = &variants[i]
			bestRank = rank
		}
	}
	return best
}
