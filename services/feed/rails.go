package feed

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/RADreams/Cino-backend/internal/store"
	"github.com/RADreams/Cino-backend/models"
	"github.com/RADreams/Cino-backend/services/cache"
	"github.com/RADreams/Cino-backend/utils/similarity"
)

// similarScanLimit bounds how many popular titles are considered when
// building a similar rail.
const similarScanLimit = 200

// RailEntry is one item of a non-algorithmic rail: the title plus its first
// playable episode. Unlike feed cards, rail entries carry no pool metadata.
type RailEntry struct {
	Title        models.Title    `json:"title"`
	FirstEpisode *models.Episode `json:"firstEpisode,omitempty"`
}

// ContinueEntry pairs a half-watched record with the content it points at.
type ContinueEntry struct {
	Record  models.WatchRecord `json:"record"`
	Title   models.Title       `json:"title"`
	Episode models.Episode     `json:"episode"`
}

// GetTrending returns recently published titles by trending score. The
// timeframe is in days; zero means the configured trending window.
func (s *Service) GetTrending(ctx context.Context, limit, days int) ([]RailEntry, error) {
	limit, _ = s.clampPage(limit, 0)
	if days <= 0 {
		days = s.settings.TrendingWindowDays
	}

	key := cache.Key("feed:trending", strconv.Itoa(limit), strconv.Itoa(days))
	var entries []RailEntry
	if s.cache.Get(ctx, key, &entries) {
		return entries, nil
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	titles, err := s.store.ListTitles(ctx, store.TitleFilter{
		Status:         models.TitleStatusPublished,
		PublishedAfter: &since,
		Order:          store.OrderTrending,
		Limit:          limit,
	})
	if err != nil {
		return nil, err
	}

	entries, err = s.attachRail(ctx, titles)
	if err != nil {
		return nil, err
	}
	s.cache.SetWithTags(ctx, key, entries, time.Duration(s.settings.AnonTTLSeconds)*time.Second, []string{"feed"})
	return entries, nil
}

// GetFeatured returns the editorially featured rail.
func (s *Service) GetFeatured(ctx context.Context, limit int) ([]RailEntry, error) {
	featured := true
	return s.flagRail(ctx, "feed:featured", limit, store.TitleFilter{Featured: &featured})
}

// GetEditorsPicks returns the editors' picks rail.
func (s *Service) GetEditorsPicks(ctx context.Context, limit int) ([]RailEntry, error) {
	pick := true
	return s.flagRail(ctx, "feed:editors-picks", limit, store.TitleFilter{EditorsPick: &pick})
}

func (s *Service) flagRail(ctx context.Context, name string, limit int, f store.TitleFilter) ([]RailEntry, error) {
	limit, _ = s.clampPage(limit, 0)

	key := cache.Key(name, strconv.Itoa(limit))
	var entries []RailEntry
	if s.cache.Get(ctx, key, &entries) {
		return entries, nil
	}

	f.Status = models.TitleStatusPublished
	f.Order = store.OrderPopularity
	f.Limit = limit
	titles, err := s.store.ListTitles(ctx, f)
	if err != nil {
		return nil, err
	}

	entries, err = s.attachRail(ctx, titles)
	if err != nil {
		return nil, err
	}
	s.cache.SetWithTags(ctx, key, entries, time.Duration(s.settings.AnonTTLSeconds)*time.Second, []string{"feed"})
	return entries, nil
}

// GetPopularByGenre returns the most popular titles of one genre, optionally
// narrowed to a language.
func (s *Service) GetPopularByGenre(ctx context.Context, genre, language string, limit int) ([]RailEntry, error) {
	if genre == "" {
		return nil, ErrGenreRequired
	}
	limit, _ = s.clampPage(limit, 0)

	key := cache.Key("feed:popular", genre, language, strconv.Itoa(limit))
	var entries []RailEntry
	if s.cache.Get(ctx, key, &entries) {
		return entries, nil
	}

	f := store.TitleFilter{
		Status: models.TitleStatusPublished,
		Genres: []string{genre},
		Order:  store.OrderPopularity,
		Limit:  limit,
	}
	if language != "" {
		f.Languages = []string{language}
	}
	titles, err := s.store.ListTitles(ctx, f)
	if err != nil {
		return nil, err
	}

	entries, err = s.attachRail(ctx, titles)
	if err != nil {
		return nil, err
	}
	s.cache.SetWithTags(ctx, key, entries, time.Duration(s.settings.AnonTTLSeconds)*time.Second, []string{"feed"})
	return entries, nil
}

// GetSimilar returns titles related to the given one: same category, or any
// shared genre, cast member, or director. Candidates are scanned in
// popularity order, so the rail is popularity-ranked with relatedness
// breaking ties.
func (s *Service) GetSimilar(ctx context.Context, titleID string, limit int) ([]RailEntry, error) {
	limit, _ = s.clampPage(limit, 0)

	key := cache.Key("feed:similar", titleID, strconv.Itoa(limit))
	var entries []RailEntry
	if s.cache.Get(ctx, key, &entries) {
		return entries, nil
	}

	source, err := s.store.GetTitle(ctx, titleID)
	if err != nil {
		return nil, err
	}
	candidates, err := s.store.ListTitles(ctx, store.TitleFilter{
		Status: models.TitleStatusPublished,
		Order:  store.OrderPopularity,
		Limit:  similarScanLimit,
	})
	if err != nil {
		return nil, err
	}

	var related []*models.Title
	for _, c := range candidates {
		if similarity.Related(source, c) {
			related = append(related, c)
		}
	}
	sort.SliceStable(related, func(i, j int) bool {
		pi, pj := related[i].Analytics.PopularityScore, related[j].Analytics.PopularityScore
		if pi != pj {
			return pi > pj
		}
		return similarity.Score(source, related[i]) > similarity.Score(source, related[j])
	})
	if len(related) > limit {
		related = related[:limit]
	}

	entries, err = s.attachRail(ctx, related)
	if err != nil {
		return nil, err
	}
	s.cache.SetWithTags(ctx, key, entries, time.Duration(s.settings.AnonTTLSeconds)*time.Second, []string{"title:" + titleID, "feed"})
	return entries, nil
}

// GetContinueWatching returns the user's half-watched episodes enriched with
// their titles. Records whose content has since been removed are dropped.
func (s *Service) GetContinueWatching(ctx context.Context, userID string, limit int) ([]ContinueEntry, error) {
	limit, _ = s.clampPage(limit, 0)

	key := cache.Key("feed:continue", userID, strconv.Itoa(limit))
	var entries []ContinueEntry
	if s.cache.Get(ctx, key, &entries) {
		return entries, nil
	}

	records, err := s.progress.GetContinueWatching(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	episodeIDs := make([]string, 0, len(records))
	titleIDs := make([]string, 0, len(records))
	for _, rec := range records {
		episodeIDs = append(episodeIDs, rec.EpisodeID)
		titleIDs = append(titleIDs, rec.TitleID)
	}
	episodes, err := s.store.EpisodesByIDs(ctx, episodeIDs)
	if err != nil {
		return nil, err
	}
	titles, err := s.store.TitlesByIDs(ctx, titleIDs)
	if err != nil {
		return nil, err
	}

	entries = make([]ContinueEntry, 0, len(records))
	for _, rec := range records {
		ep, okE := episodes[rec.EpisodeID]
		t, okT := titles[rec.TitleID]
		if !okE || !okT {
			continue
		}
		entries = append(entries, ContinueEntry{Record: *rec, Title: *t, Episode: *ep})
	}

	s.cache.SetWithTags(ctx, key, entries, time.Duration(s.settings.AuthTTLSeconds)*time.Second, []string{"user:" + userID, "feed"})
	return entries, nil
}

// attachRail resolves first episodes for a rail in one batched read. Titles
// with no published episode are dropped.
func (s *Service) attachRail(ctx context.Context, titles []*models.Title) ([]RailEntry, error) {
	entries := make([]RailEntry, 0, len(titles))
	if len(titles) == 0 {
		return entries, nil
	}
	ids := make([]string, len(titles))
	for i, t := range titles {
		ids[i] = t.ID
	}
	episodes, err := s.store.FirstEpisodes(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, t := range titles {
		ep, ok := episodes[t.ID]
		if !ok {
			continue
		}
		entries = append(entries, RailEntry{Title: *t, FirstEpisode: ep})
	}
	return entries, nil
}
