package feed_test

import (
	"context"
	"errors"
	"testing"

	"github.com/RADreams/Cino-backend/models"
	"github.com/RADreams/Cino-backend/services/feed"
)

func TestSearchMatchesAndCaches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedTitle(t, models.Title{
		ID:        "g1",
		Title:     "Midnight Garden",
		Analytics: models.TitleAnalytics{PopularityScore: 80},
	})
	env.seedTitle(t, models.Title{
		ID:          "g2",
		Title:       "Secrets",
		Description: "a garden of secrets",
		Type:        models.TitleTypeMovie,
		Analytics:   models.TitleAnalytics{PopularityScore: 40},
	})
	env.seedTitle(t, models.Title{
		ID:    "o1",
		Title: "Ocean Deep",
	})

	result, err := env.svc.Search(ctx, feed.SearchRequest{Query: "garden", Limit: 10})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if result.Source != "live" || result.Total != 2 {
		t.Fatalf("expected a live result with 2 matches, got source %q total %d", result.Source, result.Total)
	}
	if len(result.Titles) != 2 || result.Titles[0].ID != "g1" || result.Titles[1].ID != "g2" {
		t.Fatalf("expected [g1 g2] by popularity, got %v", titleIDs(result.Titles))
	}

	again, err := env.svc.Search(ctx, feed.SearchRequest{Query: "Garden", Limit: 10})
	if err != nil {
		t.Fatalf("repeat search failed: %v", err)
	}
	if again.Source != "cache" {
		t.Fatalf("expected the case-folded repeat from cache, got %q", again.Source)
	}

	movies, err := env.svc.Search(ctx, feed.SearchRequest{Query: "garden", Type: "movie", Limit: 10})
	if err != nil {
		t.Fatalf("typed search failed: %v", err)
	}
	if len(movies.Titles) != 1 || movies.Titles[0].ID != "g2" {
		t.Fatalf("expected only the movie match, got %v", titleIDs(movies.Titles))
	}
}

func TestSearchRejectsShortQueries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, q := range []string{"", "g", "  g  "} {
		if _, err := env.svc.Search(ctx, feed.SearchRequest{Query: q, Limit: 10}); !errors.Is(err, feed.ErrQueryTooShort) {
			t.Fatalf("query %q: expected ErrQueryTooShort, got %v", q, err)
		}
	}
}

func titleIDs(titles []*models.Title) []string {
	ids := make([]string, len(titles))
	for i := range titles {
		ids[i] = titles[i].ID
	}
	return ids
}
