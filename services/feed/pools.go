package feed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/RADreams/Cino-backend/internal/store"
	"github.com/RADreams/Cino-backend/models"
)

// sourcedTitle is one pool candidate together with the pool that produced it.
// Concatenation order decides which source wins after deduplication.
type sourcedTitle struct {
	title  *models.Title
	source models.FeedSource
}

// runPools evaluates the four candidate pools concurrently and concatenates
// their results in the fixed order personalized, trending, popular, fresh.
// Each pool receives ceil(ratio * want) slots. An expired deadline discards
// everything and surfaces ErrTimeout; any other store failure fails the call.
func (s *Service) runPools(ctx context.Context, pr prefs, excludeIDs []string, want int) ([]sourcedTitle, error) {
	now := time.Now().UTC()
	inFeed := true
	base := store.TitleFilter{
		Status:       models.TitleStatusPublished,
		InRandomFeed: &inFeed,
		ExcludeIDs:   excludeIDs,
	}

	personalized := base
	personalized.Genres = pr.genres
	personalized.Languages = pr.languages
	personalized.Order = store.OrderFeedPriority
	personalized.Limit = ratioCount(s.settings.Ratios.Personalized, want)

	trendingSince := now.AddDate(0, 0, -s.settings.TrendingWindowDays)
	trending := base
	trending.PublishedAfter = &trendingSince
	trending.Order = store.OrderTrending
	trending.Limit = ratioCount(s.settings.Ratios.Trending, want)

	popular := base
	popular.Order = store.OrderPopularity
	popular.Limit = ratioCount(s.settings.Ratios.Popular, want)

	freshSince := now.AddDate(0, 0, -s.settings.FreshWindowDays)
	fresh := base
	fresh.PublishedAfter = &freshSince
	fresh.Order = store.OrderNewest
	fresh.Limit = ratioCount(s.settings.Ratios.Fresh, want)

	filters := [4]store.TitleFilter{personalized, trending, popular, fresh}
	sources := [4]models.FeedSource{
		models.FeedSourcePersonalized,
		models.FeedSourceTrending,
		models.FeedSourcePopular,
		models.FeedSourceFresh,
	}

	var (
		results [4][]*models.Title
		errs    [4]error
	)
	workers := pool.New().WithMaxGoroutines(len(filters))
	for i := range filters {
		i := i
		workers.Go(func() {
			results[i], errs[i] = s.store.ListTitles(ctx, filters[i])
		})
	}
	workers.Wait()

	if ctx.Err() != nil {
		return nil, ErrTimeout
	}
	for i, err := range errs {
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, ErrTimeout
			}
			return nil, fmt.Errorf("%s pool: %w", sources[i], err)
		}
	}

	var out []sourcedTitle
	for i := range results {
		for _, t := range results[i] {
			out = append(out, sourcedTitle{title: t, source: sources[i]})
		}
	}
	return out, nil
}

func ratioCount(ratio float64, want int) int {
	n := int(math.Ceil(ratio * float64(want)))
	if n < 1 {
		n = 1
	}
	return n
}
