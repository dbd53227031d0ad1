package feed

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/RADreams/Cino-backend/models"
)

// assemble turns pool candidates into the final page: dedup, score, order,
// slice, first-episode attach.
//
// Ordering is deliberately two-phase. The descending sort by score
// establishes the quality tier a title belongs to; the Fisher-Yates shuffle
// that follows breaks positional repetition so two otherwise identical
// requests do not serve the same sequence. Together with the jitter term in
// the score, feed order is non-deterministic on purpose.
func (s *Service) assemble(ctx context.Context, candidates []sourcedTitle, pr prefs, limit, offset int) ([]models.Card, int, error) {
	deduped := dedupe(candidates)
	now := time.Now().UTC()

	cards := make([]models.Card, 0, len(deduped))
	for _, c := range deduped {
		cards = append(cards, models.Card{
			Title:          *c.title,
			FeedSource:     c.source,
			AlgorithmScore: s.scoreTitle(c.title, pr, now),
		})
	}

	sort.SliceStable(cards, func(i, j int) bool {
		return cards[i].AlgorithmScore > cards[j].AlgorithmScore
	})
	rand.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})

	total := len(cards)
	if offset >= total {
		return []models.Card{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	cards = cards[offset:end]

	cards, err := s.attachFirstEpisodes(ctx, cards)
	if err != nil {
		return nil, 0, err
	}
	return cards, total, nil
}

// scoreTitle computes the ranking score. The weights live in configuration;
// the final term is a uniform draw in [0, JitterMax) so titles of similar
// standing rotate between requests.
func (s *Service) scoreTitle(t *models.Title, pr prefs, now time.Time) float64 {
	w := s.settings.Scoring
	score := w.Popularity*t.Analytics.PopularityScore + w.Trending*t.Analytics.TrendingScore
	score += w.FeedPriority*float64(t.Feed.FeedPriority) + w.FeedWeight*t.Feed.FeedWeight
	if anyFold(t.Genres, pr.genres) {
		score += w.GenreMatch
	}
	if anyFold(t.Languages, pr.languages) {
		score += w.LanguageMatch
	}
	if t.PublishedAt != nil {
		days := now.Sub(*t.PublishedAt).Hours() / 24
		switch {
		case days < float64(s.settings.TrendingWindowDays):
			score += w.FreshWeek
		case days < float64(s.settings.FreshWindowDays):
			score += w.FreshMonth
		}
	}
	score += w.Completion * t.Analytics.CompletionRate
	score += rand.Float64() * w.JitterMax
	return score
}

// attachFirstEpisodes resolves each card's first playable episode in one
// batched read. A title with no published episode is dropped from the page;
// the page itself never fails over a single card.
func (s *Service) attachFirstEpisodes(ctx context.Context, cards []models.Card) ([]models.Card, error) {
	if len(cards) == 0 {
		return cards, nil
	}
	ids := make([]string, len(cards))
	for i := range cards {
		ids[i] = cards[i].Title.ID
	}
	episodes, err := s.store.FirstEpisodes(ctx, ids)
	if err != nil {
		return nil, err
	}

	kept := cards[:0]
	for i := range cards {
		ep, ok := episodes[cards[i].Title.ID]
		if !ok {
			continue
		}
		cards[i].FirstEpisode = ep
		kept = append(kept, cards[i])
	}
	return kept, nil
}

// dedupe keeps the first occurrence of each title id, preserving the source
// attribution of the earliest pool in concatenation order.
func dedupe(candidates []sourcedTitle) []sourcedTitle {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]sourcedTitle, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.title.ID]; ok {
			continue
		}
		seen[c.title.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

// anyFold reports whether the two lists share an entry, case-insensitively.
func anyFold(have, want []string) bool {
	if len(have) == 0 || len(want) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(want))
	for _, v := range want {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	for _, v := range have {
		if _, ok := set[strings.ToLower(strings.TrimSpace(v))]; ok {
			return true
		}
	}
	return false
}
