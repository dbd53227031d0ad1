package catalog

import (
	"context"
	"math"
	"time"

	"github.com/RADreams/Cino-backend/internal/store"
	"github.com/RADreams/Cino-backend/models"
)

// RefreshPopularity recomputes the blended popularity score for every title
// and writes the batch back in one transaction. Ranked feed pages and search
// results are evicted afterwards so the new ordering is visible on the next
// build rather than after TTL expiry.
func (s *Service) RefreshPopularity(ctx context.Context) (int, error) {
	titles, err := s.store.ListTitles(ctx, store.TitleFilter{})
	if err != nil {
		return 0, err
	}
	if len(titles) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	scores := make(map[string]float64, len(titles))
	for _, t := range titles {
		scores[t.ID] = s.popularityScore(t, now)
	}
	if err := s.store.UpdatePopularityScores(ctx, scores); err != nil {
		return 0, err
	}
	s.cache.InvalidateByTags(ctx, "feed", "search")
	return len(scores), nil
}

// RefreshTitlePopularity recomputes one title's score. Rating writes call
// this so a burst of ratings moves the title without waiting for the hourly
// sweep.
func (s *Service) RefreshTitlePopularity(ctx context.Context, titleID string) (float64, error) {
	t, err := s.store.GetTitle(ctx, titleID)
	if err != nil {
		return 0, err
	}
	score := s.popularityScore(t, time.Now().UTC())
	if err := s.store.UpdatePopularityScores(ctx, map[string]float64{t.ID: score}); err != nil {
		return 0, err
	}
	s.cache.InvalidateByTags(ctx, "title:"+t.ID, "feed")
	return score, nil
}

// popularityScore blends four 0..100 components. Views saturate on a log
// scale, engagement is interactions per view, rating maps the 5-star average
// linearly, and recency decays one point per day since publication. A title
// with no publish date scores zero on recency rather than inheriting a boost.
func (s *Service) popularityScore(t *models.Title, now time.Time) float64 {
	w := s.weights

	views := float64(t.Analytics.TotalViews)
	viewsScore := math.Min(100, 10*math.Log10(views+1))

	var engagementScore float64
	if t.Analytics.TotalViews > 0 {
		interactions := float64(t.Analytics.TotalLikes + t.Analytics.TotalShares)
		engagementScore = math.Min(100, interactions/views*100)
	}

	ratingScore := t.Analytics.AverageRating / 5 * 100

	var recencyScore float64
	if t.PublishedAt != nil {
		days := now.Sub(*t.PublishedAt).Hours() / 24
		recencyScore = math.Max(0, 100-days)
	}

	score := viewsScore*w.Views + engagementScore*w.Engagement + ratingScore*w.Rating + recencyScore*w.Recency
	return math.Round(score*100) / 100
}
