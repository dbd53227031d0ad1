package progress_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/RADreams/Cino-backend/config"
	"github.com/RADreams/Cino-backend/internal/store"
	"github.com/RADreams/Cino-backend/models"
	"github.com/RADreams/Cino-backend/services/analytics"
	"github.com/RADreams/Cino-backend/services/cache"
	"github.com/RADreams/Cino-backend/services/progress"
	"github.com/RADreams/Cino-backend/services/users"
)

type testEnv struct {
	svc   *progress.Service
	store *store.Store
	users *users.Service
	cache *cache.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "cino.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	us, err := users.NewService(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create users service: %v", err)
	}

	ca := cache.NewService(cache.NewMemoryStore(), "memory")
	t.Cleanup(func() { ca.Close() })

	an, err := analytics.NewService(config.AnalyticsSettings{
		BufferSize:           64,
		BatchSize:            256,
		SpoolDirectory:       "spool",
		FlushIntervalSeconds: 3600,
	}, afero.NewMemMapFs())
	if err != nil {
		t.Fatalf("failed to create analytics service: %v", err)
	}
	t.Cleanup(func() { an.Close() })

	svc := progress.NewService(st, us, ca, an, config.ProgressSettings{
		CompletionThreshold: 80,
		ContinueMinPercent:  5,
		ContinueMaxPercent:  80,
		SessionGapMinutes:   30,
	})

	return &testEnv{svc: svc, store: st, users: us, cache: ca}
}

func (e *testEnv) seedEpisode(t *testing.T, titleID, episodeID string, duration int) {
	t.Helper()

	ctx := context.Background()
	published := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	title := &models.Title{
		ID:          titleID,
		Title:       "Title " + titleID,
		Genres:      []string{"drama"},
		Languages:   []string{"hi"},
		Type:        models.TitleTypeSeries,
		Status:      models.TitleStatusPublished,
		PublishedAt: &published,
		Feed:        models.FeedSettings{IsInRandomFeed: true, FeedPriority: 1},
	}
	if err := e.store.UpsertTitle(ctx, title); err != nil {
		t.Fatalf("failed to seed title %s: %v", titleID, err)
	}

	episode := &models.Episode{
		ID:            episodeID,
		TitleID:       titleID,
		SeasonNumber:  1,
		EpisodeNumber: 1,
		Duration:      duration,
		Status:        models.TitleStatusPublished,
		VideoURL:      "https://cdn.example.com/" + episodeID + "/master.m3u8",
	}
	if err := e.store.UpsertEpisode(ctx, episode); err != nil {
		t.Fatalf("failed to seed episode %s: %v", episodeID, err)
	}
}

func TestStartCreatesRecordAndCountsView(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedEpisode(t, "t1", "e1", 120)

	rec, episode, err := env.svc.Start(ctx, "u1", "e1", "feed")
	if err != nil {
		t.Fatalf("start returned error: %v", err)
	}

	if rec.Status != models.WatchStatusWatching {
		t.Fatalf("expected watching status, got %q", rec.Status)
	}
	if rec.TotalDuration != 120 || rec.TitleID != "t1" {
		t.Fatalf("expected record populated from episode, got %+v", rec)
	}
	if rec.SessionInfo.TotalSessions != 1 {
		t.Fatalf("expected 1 session, got %d", rec.SessionInfo.TotalSessions)
	}
	if episode.ID != "e1" {
		t.Fatalf("expected episode returned, got %+v", episode)
	}

	stored, err := env.store.GetEpisode(ctx, "e1")
	if err != nil {
		t.Fatalf("failed to reload episode: %v", err)
	}
	if stored.Analytics.TotalViews != 1 {
		t.Fatalf("expected 1 episode view, got %d", stored.Analytics.TotalViews)
	}

	title, err := env.store.GetTitle(ctx, "t1")
	if err != nil {
		t.Fatalf("failed to reload title: %v", err)
	}
	if title.Analytics.TotalViews != 1 {
		t.Fatalf("expected 1 title view, got %d", title.Analytics.TotalViews)
	}
}

func TestStartUnknownEpisode(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.svc.Start(context.Background(), "u1", "missing", "feed")
	if !errors.Is(err, store.ErrEpisodeNotFound) {
		t.Fatalf("expected ErrEpisodeNotFound, got %v", err)
	}
}

func TestUpdateProgressCompletionFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedEpisode(t, "t1", "e1", 100)

	rec, err := env.svc.UpdateProgress(ctx, "u1", "e1", progress.ProgressUpdate{CurrentPosition: 85, SessionDuration: 85})
	if err != nil {
		t.Fatalf("update returned error: %v", err)
	}

	if rec.PercentageWatched != 85 {
		t.Fatalf("expected 85%% watched, got %v", rec.PercentageWatched)
	}
	if !rec.IsCompleted || rec.Status != models.WatchStatusCompleted {
		t.Fatalf("expected completed record, got %+v", rec)
	}
	if rec.SessionInfo.CompletedAt == nil {
		t.Fatal("expected completedAt to be stamped")
	}
	completedAt := *rec.SessionInfo.CompletedAt

	// A lower position afterwards never rewinds or re-stamps.
	rec, err = env.svc.UpdateProgress(ctx, "u1", "e1", progress.ProgressUpdate{CurrentPosition: 40})
	if err != nil {
		t.Fatalf("second update returned error: %v", err)
	}
	if rec.CurrentPosition != 85 {
		t.Fatalf("expected position to stay at 85, got %d", rec.CurrentPosition)
	}
	if rec.Status != models.WatchStatusCompleted {
		t.Fatalf("expected status to remain completed, got %q", rec.Status)
	}
	if rec.SessionInfo.CompletedAt == nil || !rec.SessionInfo.CompletedAt.Equal(completedAt) {
		t.Fatalf("expected completedAt unchanged, got %v then %v", completedAt, rec.SessionInfo.CompletedAt)
	}

	episode, err := env.store.GetEpisode(ctx, "e1")
	if err != nil {
		t.Fatalf("failed to reload episode: %v", err)
	}
	if episode.Analytics.TotalCompletions != 1 {
		t.Fatalf("expected a single completion count, got %d", episode.Analytics.TotalCompletions)
	}
}

func TestUpdateProgressClampsToDuration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedEpisode(t, "t1", "e1", 100)

	rec, err := env.svc.UpdateProgress(ctx, "u1", "e1", progress.ProgressUpdate{CurrentPosition: 250})
	if err != nil {
		t.Fatalf("update returned error: %v", err)
	}
	if rec.CurrentPosition != 100 || rec.PercentageWatched != 100 {
		t.Fatalf("expected clamp to duration, got pos=%d pct=%v", rec.CurrentPosition, rec.PercentageWatched)
	}

	if _, err := env.svc.UpdateProgress(ctx, "u1", "e1", progress.ProgressUpdate{CurrentPosition: -1}); !errors.Is(err, progress.ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
}

func TestUpdateProgressUnknownEpisode(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.UpdateProgress(context.Background(), "u1", "missing", progress.ProgressUpdate{CurrentPosition: 10})
	if !errors.Is(err, store.ErrEpisodeNotFound) {
		t.Fatalf("expected ErrEpisodeNotFound, got %v", err)
	}
}

func TestMarkCompletedIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedEpisode(t, "t1", "e1", 100)

	if _, err := env.svc.UpdateProgress(ctx, "u1", "e1", progress.ProgressUpdate{CurrentPosition: 50}); err != nil {
		t.Fatalf("update returned error: %v", err)
	}

	first, err := env.svc.MarkCompleted(ctx, "u1", "e1", 98, 95)
	if err != nil {
		t.Fatalf("mark completed returned error: %v", err)
	}
	if !first.IsCompleted || first.CurrentPosition != 100 {
		t.Fatalf("expected completed at full duration, got %+v", first)
	}
	if first.SessionInfo.CompletedAt == nil {
		t.Fatal("expected completedAt to be stamped")
	}

	second, err := env.svc.MarkCompleted(ctx, "u1", "e1", 100, 0)
	if err != nil {
		t.Fatalf("second mark completed returned error: %v", err)
	}
	if !second.SessionInfo.CompletedAt.Equal(*first.SessionInfo.CompletedAt) {
		t.Fatalf("expected completedAt to be stable, got %v then %v",
			first.SessionInfo.CompletedAt, second.SessionInfo.CompletedAt)
	}

	episode, err := env.store.GetEpisode(ctx, "e1")
	if err != nil {
		t.Fatalf("failed to reload episode: %v", err)
	}
	if episode.Analytics.TotalCompletions != 1 {
		t.Fatalf("expected one completion despite repeat call, got %d", episode.Analytics.TotalCompletions)
	}
	if episode.Analytics.TotalWatchTime != 95 {
		t.Fatalf("expected 95s watch time on episode, got %d", episode.Analytics.TotalWatchTime)
	}
}

func TestAddEngagementAccumulates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedEpisode(t, "t1", "e1", 100)

	if _, err := env.svc.AddEngagement(ctx, "u1", "e1", 2, 1, 100); err != nil {
		t.Fatalf("engagement returned error: %v", err)
	}
	rec, err := env.svc.AddEngagement(ctx, "u1", "e1", 3, 1, 200)
	if err != nil {
		t.Fatalf("engagement returned error: %v", err)
	}

	if rec.Engagement.PauseCount != 5 || rec.Engagement.SeekCount != 2 || rec.Engagement.BufferingTime != 300 {
		t.Fatalf("unexpected engagement counters: %+v", rec.Engagement)
	}

	// Negative deltas are ignored, keeping counters monotonic.
	rec, err = env.svc.AddEngagement(ctx, "u1", "e1", -4, -1, -50)
	if err != nil {
		t.Fatalf("engagement returned error: %v", err)
	}
	if rec.Engagement.PauseCount != 5 || rec.Engagement.SeekCount != 2 || rec.Engagement.BufferingTime != 300 {
		t.Fatalf("expected counters unchanged, got %+v", rec.Engagement)
	}
}

func TestToggleLikeLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedEpisode(t, "t1", "e1", 100)

	// Liking without a prior record creates one first.
	liked, likes, err := env.svc.ToggleLike(ctx, "u1", "e1")
	if err != nil {
		t.Fatalf("toggle returned error: %v", err)
	}
	if !liked || likes != 1 {
		t.Fatalf("expected liked with counter 1, got liked=%v likes=%d", liked, likes)
	}

	liked, likes, err = env.svc.ToggleLike(ctx, "u1", "e1")
	if err != nil {
		t.Fatalf("second toggle returned error: %v", err)
	}
	if liked || likes != 0 {
		t.Fatalf("expected unliked with counter 0, got liked=%v likes=%d", liked, likes)
	}

	rec, err := env.svc.GetRecord(ctx, "u1", "e1")
	if err != nil {
		t.Fatalf("failed to load record: %v", err)
	}
	if rec.Liked {
		t.Fatal("expected like flag cleared on record")
	}
}

func TestRateLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedEpisode(t, "t1", "e1", 100)

	if _, _, err := env.svc.Rate(ctx, "u1", "t1", 0); !errors.Is(err, progress.ErrInvalidRating) {
		t.Fatalf("expected ErrInvalidRating, got %v", err)
	}
	if _, _, err := env.svc.Rate(ctx, "u1", "t1", 4); !errors.Is(err, store.ErrNotWatched) {
		t.Fatalf("expected ErrNotWatched before any watch, got %v", err)
	}

	if _, _, err := env.svc.Start(ctx, "u1", "e1", "feed"); err != nil {
		t.Fatalf("start returned error: %v", err)
	}

	avg, total, err := env.svc.Rate(ctx, "u1", "t1", 4)
	if err != nil {
		t.Fatalf("rate returned error: %v", err)
	}
	if avg != 4 || total != 1 {
		t.Fatalf("expected avg 4 with 1 rating, got %v/%d", avg, total)
	}

	// Replacing the rating moves the average by (new-old)/N.
	avg, total, err = env.svc.Rate(ctx, "u1", "t1", 2)
	if err != nil {
		t.Fatalf("replacement rate returned error: %v", err)
	}
	if avg != 2 || total != 1 {
		t.Fatalf("expected avg 2 with 1 rating, got %v/%d", avg, total)
	}
}

func TestContinueWatchingWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedEpisode(t, "t1", "e1", 100)
	env.seedEpisode(t, "t2", "e2", 100)
	env.seedEpisode(t, "t3", "e3", 100)

	for _, tc := range []struct {
		episodeID string
		position  int
	}{
		{"e1", 4},
		{"e2", 50},
		{"e3", 95},
	} {
		if _, err := env.svc.UpdateProgress(ctx, "u1", tc.episodeID, progress.ProgressUpdate{CurrentPosition: tc.position}); err != nil {
			t.Fatalf("update %s returned error: %v", tc.episodeID, err)
		}
	}

	records, err := env.svc.GetContinueWatching(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("continue watching returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected only the 50%% record, got %d records", len(records))
	}
	if records[0].EpisodeID != "e2" {
		t.Fatalf("expected e2 in window, got %s", records[0].EpisodeID)
	}
}

func TestClearHistoryInvalidatesUserCaches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedEpisode(t, "t1", "e1", 100)
	env.seedEpisode(t, "t2", "e2", 100)

	for _, episodeID := range []string{"e1", "e2"} {
		if _, err := env.svc.UpdateProgress(ctx, "u1", episodeID, progress.ProgressUpdate{CurrentPosition: 30}); err != nil {
			t.Fatalf("update %s returned error: %v", episodeID, err)
		}
	}

	env.cache.SetWithTags(ctx, "feed:u1", "page", time.Minute, []string{"user:u1", "feed"})

	deleted, err := env.svc.ClearHistory(ctx, "u1", "t1", nil)
	if err != nil {
		t.Fatalf("clear returned error: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 record deleted, got %d", deleted)
	}

	var cached string
	if env.cache.Get(ctx, "feed:u1", &cached) {
		t.Fatal("expected user-tagged cache entry to be invalidated")
	}

	remaining, _, err := env.svc.History(ctx, "u1", "", 1, 20)
	if err != nil {
		t.Fatalf("history returned error: %v", err)
	}
	if len(remaining) != 1 || remaining[0].TitleID != "t2" {
		t.Fatalf("expected only t2 progress left, got %+v", remaining)
	}
}

func TestUserAggregatesFollowProgress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedEpisode(t, "t1", "e1", 100)

	if _, err := env.svc.UpdateProgress(ctx, "u1", "e1", progress.ProgressUpdate{CurrentPosition: 90, SessionDuration: 90}); err != nil {
		t.Fatalf("update returned error: %v", err)
	}

	user, ok := env.users.Get("u1")
	if !ok {
		t.Fatal("expected profile to be auto-provisioned")
	}
	if user.Analytics.TotalWatchTime != 90 {
		t.Fatalf("expected 90s watch time, got %d", user.Analytics.TotalWatchTime)
	}
	if user.Analytics.VideosWatched != 1 {
		t.Fatalf("expected 1 video watched, got %d", user.Analytics.VideosWatched)
	}
	if len(user.Analytics.FavoriteGenres) == 0 || user.Analytics.FavoriteGenres[0].Genre != "drama" {
		t.Fatalf("expected drama credited, got %+v", user.Analytics.FavoriteGenres)
	}
	if user.Engagement.AverageVideoCompletion != 90 {
		t.Fatalf("expected 90%% average completion, got %v", user.Engagement.AverageVideoCompletion)
	}
}

func TestProgressOnTitleOrdered(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedEpisode(t, "t1", "e1", 100)

	second := &models.Episode{
		ID:            "e2",
		TitleID:       "t1",
		SeasonNumber:  1,
		EpisodeNumber: 2,
		Duration:      100,
		Status:        models.TitleStatusPublished,
	}
	if err := env.store.UpsertEpisode(ctx, second); err != nil {
		t.Fatalf("failed to seed second episode: %v", err)
	}

	// Touch them out of order; the listing is by playback order.
	if _, err := env.svc.UpdateProgress(ctx, "u1", "e2", progress.ProgressUpdate{CurrentPosition: 20}); err != nil {
		t.Fatalf("update returned error: %v", err)
	}
	if _, err := env.svc.UpdateProgress(ctx, "u1", "e1", progress.ProgressUpdate{CurrentPosition: 100}); err != nil {
		t.Fatalf("update returned error: %v", err)
	}

	records, err := env.svc.GetProgressOnTitle(ctx, "u1", "t1")
	if err != nil {
		t.Fatalf("progress on title returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].EpisodeID != "e1" || records[1].EpisodeID != "e2" {
		t.Fatalf("expected playback order e1,e2, got %s,%s", records[0].EpisodeID, records[1].EpisodeID)
	}
}
