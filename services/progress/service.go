// Package progress owns playback continuity: watch records, the 80%
// completion rule, engagement counters, ratings, and viewing sessions.
// Writes to a single (user, episode) record are serialized through striped
// locks; reads go straight to the store and may observe a slightly stale
// record.
package progress

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RADreams/Cino-backend/config"
	"github.com/RADreams/Cino-backend/internal/store"
	"github.com/RADreams/Cino-backend/models"
	"github.com/RADreams/Cino-backend/services/analytics"
	"github.com/RADreams/Cino-backend/services/cache"
	"github.com/RADreams/Cino-backend/services/users"
)

var (
	ErrUserIDRequired    = errors.New("user id is required")
	ErrEpisodeIDRequired = errors.New("episode id is required")
	ErrInvalidPosition   = errors.New("position cannot be negative")
	ErrInvalidRating     = errors.New("rating must be between 1 and 5")
)

const lockStripes = 64

// Service coordinates all watch-progress writes and reads.
type Service struct {
	store     *store.Store
	users     *users.Service
	cache     *cache.Service
	analytics *analytics.Service
	settings  config.ProgressSettings

	locks [lockStripes]sync.Mutex
}

// NewService wires the progress service with its collaborators.
func NewService(st *store.Store, us *users.Service, ca *cache.Service, an *analytics.Service, settings config.ProgressSettings) *Service {
	if settings.CompletionThreshold <= 0 {
		settings.CompletionThreshold = 80
	}
	if settings.ContinueMaxPercent <= 0 {
		settings.ContinueMaxPercent = 80
	}
	if settings.SessionGapMinutes <= 0 {
		settings.SessionGapMinutes = 30
	}
	return &Service{
		store:     st,
		users:     us,
		cache:     ca,
		analytics: an,
		settings:  settings,
	}
}

func (s *Service) lockFor(userID, episodeID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(userID))
	h.Write([]byte{'|'})
	h.Write([]byte(episodeID))
	return &s.locks[h.Sum32()%lockStripes]
}

// ProgressUpdate carries one playback heartbeat. Counter fields are deltas
// since the previous heartbeat; negative deltas are ignored so batched
// updates stay commutative.
type ProgressUpdate struct {
	CurrentPosition int    `json:"currentPosition"`
	SessionDuration int64  `json:"sessionDuration"`
	PauseCount      int    `json:"pauseCount"`
	SeekCount       int    `json:"seekCount"`
	BufferingTime   int64  `json:"bufferingTime"`
	WatchedVia      string `json:"watchedVia,omitempty"`
}

// Start begins or resumes playback of an episode. It creates the watch
// record on first contact, counts a view against the episode and title, and
// returns the episode alongside the record so callers can resolve stream
// URLs.
func (s *Service) Start(ctx context.Context, userID, episodeID, watchedVia string) (*models.WatchRecord, *models.Episode, error) {
	userID = strings.TrimSpace(userID)
	episodeID = strings.TrimSpace(episodeID)
	if userID == "" {
		return nil, nil, ErrUserIDRequired
	}
	if episodeID == "" {
		return nil, nil, ErrEpisodeIDRequired
	}

	episode, err := s.store.GetEpisode(ctx, episodeID)
	if err != nil {
		return nil, nil, err
	}

	mu := s.lockFor(userID, episodeID)
	mu.Lock()

	now := time.Now().UTC()
	rec, err := s.store.GetWatchRecord(ctx, userID, episodeID)
	created := false
	switch {
	case errors.Is(err, store.ErrRecordNotFound):
		rec = newRecord(userID, episode, watchedVia, now)
		created = true
	case err != nil:
		mu.Unlock()
		return nil, nil, err
	default:
		if !rec.IsCompleted {
			rec.Status = models.WatchStatusWatching
		}
		if now.Sub(rec.SessionInfo.LastWatchedAt) > s.sessionGap() {
			rec.SessionInfo.TotalSessions++
		}
		rec.SessionInfo.LastWatchedAt = now
	}

	if err := s.store.PutWatchRecord(ctx, rec); err != nil {
		mu.Unlock()
		return nil, nil, err
	}
	mu.Unlock()

	if err := s.store.RecordView(ctx, episodeID, episode.TitleID); err != nil {
		log.Printf("[progress] Failed to count view for %s: %v", episodeID, err)
	}

	s.touchSession(ctx, userID, created)
	s.cache.InvalidateByTags(ctx, "user:"+userID)
	s.analytics.Track(models.AnalyticsEvent{
		UserID:    userID,
		EventType: models.EventVideoStart,
		ContentID: episode.TitleID,
		EpisodeID: episodeID,
		EventData: map[string]interface{}{"watchedVia": rec.WatchedVia},
	})

	return rec, episode, nil
}

// UpdateProgress applies one heartbeat to the user's record, creating it if
// absent. The stored position never decreases, and crossing the completion
// threshold stamps the record exactly once.
func (s *Service) UpdateProgress(ctx context.Context, userID, episodeID string, upd ProgressUpdate) (*models.WatchRecord, error) {
	userID = strings.TrimSpace(userID)
	episodeID = strings.TrimSpace(episodeID)
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if episodeID == "" {
		return nil, ErrEpisodeIDRequired
	}
	if upd.CurrentPosition < 0 {
		return nil, ErrInvalidPosition
	}

	mu := s.lockFor(userID, episodeID)
	mu.Lock()
	rec, created, completedNow, err := s.applyLocked(ctx, userID, episodeID, upd, false)
	mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.afterWrite(ctx, rec, created, completedNow, upd.SessionDuration)
	return rec, nil
}

// AddEngagement folds pause/seek/buffering deltas into the record without
// moving the playback position. Creates the record if absent so batched
// engagement and progress updates commute.
func (s *Service) AddEngagement(ctx context.Context, userID, episodeID string, pauseDelta, seekDelta int, bufferDelta int64) (*models.WatchRecord, error) {
	return s.UpdateProgress(ctx, userID, episodeID, ProgressUpdate{
		PauseCount:    pauseDelta,
		SeekCount:     seekDelta,
		BufferingTime: bufferDelta,
	})
}

// MarkCompleted finalizes playback: the position jumps to the episode's full
// duration and the completion stamp is applied if this is the first time.
// Calling it again leaves completedAt untouched.
func (s *Service) MarkCompleted(ctx context.Context, userID, episodeID string, finalPosition int, totalWatchTime int64) (*models.WatchRecord, error) {
	userID = strings.TrimSpace(userID)
	episodeID = strings.TrimSpace(episodeID)
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if episodeID == "" {
		return nil, ErrEpisodeIDRequired
	}
	if finalPosition < 0 {
		return nil, ErrInvalidPosition
	}

	mu := s.lockFor(userID, episodeID)
	mu.Lock()
	rec, created, completedNow, err := s.applyLocked(ctx, userID, episodeID, ProgressUpdate{CurrentPosition: finalPosition}, true)
	mu.Unlock()
	if err != nil {
		return nil, err
	}

	if totalWatchTime > 0 {
		if err := s.store.AddWatchTime(ctx, episodeID, totalWatchTime); err != nil {
			log.Printf("[progress] Failed to add watch time for %s: %v", episodeID, err)
		}
	}

	s.afterWrite(ctx, rec, created, completedNow, 0)
	s.analytics.Track(models.AnalyticsEvent{
		UserID:    userID,
		EventType: models.EventVideoEnd,
		ContentID: rec.TitleID,
		EpisodeID: episodeID,
		EventData: map[string]interface{}{"totalWatchTime": totalWatchTime},
	})

	return rec, nil
}

// applyLocked reads, mutates, and writes the record under the caller-held
// stripe lock. Returns whether the record was created and whether the
// completion stamp was applied by this call.
func (s *Service) applyLocked(ctx context.Context, userID, episodeID string, upd ProgressUpdate, forceComplete bool) (*models.WatchRecord, bool, bool, error) {
	now := time.Now().UTC()

	rec, err := s.store.GetWatchRecord(ctx, userID, episodeID)
	created := false
	switch {
	case errors.Is(err, store.ErrRecordNotFound):
		episode, err := s.store.GetEpisode(ctx, episodeID)
		if err != nil {
			return nil, false, false, err
		}
		rec = newRecord(userID, episode, upd.WatchedVia, now)
		created = true
	case err != nil:
		return nil, false, false, err
	default:
		if now.Sub(rec.SessionInfo.LastWatchedAt) > s.sessionGap() {
			rec.SessionInfo.TotalSessions++
		}
		rec.SessionInfo.LastWatchedAt = now
		if rec.WatchedVia == "" && upd.WatchedVia != "" {
			rec.WatchedVia = upd.WatchedVia
		}
	}

	// Position is monotonic and bounded by the episode duration.
	position := upd.CurrentPosition
	if position < rec.CurrentPosition {
		position = rec.CurrentPosition
	}
	if forceComplete || position > rec.TotalDuration {
		position = rec.TotalDuration
	}
	rec.CurrentPosition = position

	if rec.TotalDuration > 0 {
		rec.PercentageWatched = 100 * float64(rec.CurrentPosition) / float64(rec.TotalDuration)
	} else {
		rec.PercentageWatched = 0
	}
	if rec.PercentageWatched > 100 {
		rec.PercentageWatched = 100
	}

	if upd.SessionDuration > 0 {
		rec.Engagement.SessionDuration += upd.SessionDuration
	}
	if upd.PauseCount > 0 {
		rec.Engagement.PauseCount += upd.PauseCount
	}
	if upd.SeekCount > 0 {
		rec.Engagement.SeekCount += upd.SeekCount
	}
	if upd.BufferingTime > 0 {
		rec.Engagement.BufferingTime += upd.BufferingTime
	}
	if rec.SessionInfo.TotalSessions > 0 {
		rec.SessionInfo.AverageSessionLength = float64(rec.Engagement.SessionDuration) / float64(rec.SessionInfo.TotalSessions)
	}

	completedNow := false
	switch {
	case rec.IsCompleted:
		// Completion stamp never changes once set.
	case forceComplete || rec.PercentageWatched >= s.settings.CompletionThreshold:
		rec.IsCompleted = true
		rec.Status = models.WatchStatusCompleted
		completedAt := now
		rec.SessionInfo.CompletedAt = &completedAt
		completedNow = true
	default:
		rec.Status = models.WatchStatusWatching
	}

	if err := s.store.PutWatchRecord(ctx, rec); err != nil {
		return nil, false, false, err
	}

	return rec, created, completedNow, nil
}

// afterWrite runs the side effects of a progress write outside the stripe
// lock: completion counters, session bookkeeping, user aggregates, and cache
// invalidation. All of them are best-effort.
func (s *Service) afterWrite(ctx context.Context, rec *models.WatchRecord, created, completedNow bool, watchedDelta int64) {
	if completedNow {
		if err := s.store.RecordCompletion(ctx, rec.EpisodeID, rec.TitleID); err != nil {
			log.Printf("[progress] Failed to count completion for %s: %v", rec.EpisodeID, err)
		}
	}

	s.touchSession(ctx, rec.UserID, created)
	s.updateUserAggregates(ctx, rec, completedNow, watchedDelta)
	s.cache.InvalidateByTags(ctx, "user:"+rec.UserID)
}

func newRecord(userID string, episode *models.Episode, watchedVia string, now time.Time) *models.WatchRecord {
	return &models.WatchRecord{
		UserID:        userID,
		TitleID:       episode.TitleID,
		EpisodeID:     episode.ID,
		SeasonNumber:  episode.SeasonNumber,
		EpisodeNumber: episode.EpisodeNumber,
		TotalDuration: episode.Duration,
		Status:        models.WatchStatusWatching,
		WatchedVia:    watchedVia,
		SessionInfo: models.WatchSessionInfo{
			StartedAt:     now,
			LastWatchedAt: now,
			TotalSessions: 1,
		},
	}
}

func (s *Service) sessionGap() time.Duration {
	return time.Duration(s.settings.SessionGapMinutes) * time.Minute
}

// touchSession attributes activity to the user's current viewing session,
// rolling over to a new one after an inactivity gap. Session rows only feed
// prefetch sizing and profile stats, so failures are logged, not returned.
func (s *Service) touchSession(ctx context.Context, userID string, newEpisode bool) {
	sess, err := s.store.LatestSession(ctx, userID)
	if err != nil {
		log.Printf("[progress] Failed to load session for %s: %v", userID, err)
		return
	}

	now := time.Now().UTC()
	if sess == nil || now.Sub(sess.LastActivityAt) > s.sessionGap() {
		sess = &store.Session{
			ID:             uuid.NewString(),
			UserID:         userID,
			StartedAt:      now,
			LastActivityAt: now,
			EpisodeCount:   1,
		}
	} else {
		sess.LastActivityAt = now
		if newEpisode {
			sess.EpisodeCount++
		}
	}

	if err := s.store.SaveSession(ctx, sess); err != nil {
		log.Printf("[progress] Failed to save session for %s: %v", userID, err)
	}
}

// updateUserAggregates refreshes the profile's derived viewing stats. The
// averages are recomputed from the store rather than accumulated, so repeated
// heartbeats cannot drift them.
func (s *Service) updateUserAggregates(ctx context.Context, rec *models.WatchRecord, completedNow bool, watchedDelta int64) {
	if _, err := s.users.Ensure(rec.UserID); err != nil {
		log.Printf("[progress] Failed to ensure profile %s: %v", rec.UserID, err)
		return
	}

	act := users.Activity{}
	if watchedDelta > 0 {
		act.WatchSeconds = watchedDelta
	}

	if completedNow {
		act.VideosCompleted = 1
		if title, err := s.store.GetTitle(ctx, rec.TitleID); err == nil {
			act.Genres = title.Genres
		}
	}

	if avg, err := s.store.AverageCompletion(ctx, rec.UserID); err == nil {
		act.AverageCompletion = &avg
	}
	weekAgo := time.Now().UTC().AddDate(0, 0, -7)
	if avg, err := s.store.AverageSessionSeconds(ctx, rec.UserID, weekAgo); err == nil {
		act.AverageSession = &avg
	}

	if _, err := s.users.RecordActivity(rec.UserID, act); err != nil {
		log.Printf("[progress] Failed to update aggregates for %s: %v", rec.UserID, err)
	}
}

// ToggleLike flips the user's like on an episode and adjusts the episode and
// title counters atomically. Liking an episode the user never started counts
// as first contact: the record is created, then the toggle applies.
func (s *Service) ToggleLike(ctx context.Context, userID, episodeID string) (bool, int64, error) {
	userID = strings.TrimSpace(userID)
	episodeID = strings.TrimSpace(episodeID)
	if userID == "" {
		return false, 0, ErrUserIDRequired
	}
	if episodeID == "" {
		return false, 0, ErrEpisodeIDRequired
	}

	episode, err := s.store.GetEpisode(ctx, episodeID)
	if err != nil {
		return false, 0, err
	}

	mu := s.lockFor(userID, episodeID)
	mu.Lock()

	liked, likes, err := s.store.ToggleEpisodeLike(ctx, userID, episodeID)
	if errors.Is(err, store.ErrRecordNotFound) {
		rec := newRecord(userID, episode, "", time.Now().UTC())
		if putErr := s.store.PutWatchRecord(ctx, rec); putErr != nil {
			mu.Unlock()
			return false, 0, putErr
		}
		liked, likes, err = s.store.ToggleEpisodeLike(ctx, userID, episodeID)
	}
	mu.Unlock()
	if err != nil {
		return false, 0, err
	}

	delta := int64(-1)
	if liked {
		delta = 1
	}
	if _, err := s.users.Ensure(userID); err == nil {
		if _, err := s.users.RecordActivity(userID, users.Activity{Likes: delta}); err != nil {
			log.Printf("[progress] Failed to update like aggregate for %s: %v", userID, err)
		}
	}

	s.cache.InvalidateByTags(ctx, "title:"+episode.TitleID)
	if liked {
		s.analytics.Track(models.AnalyticsEvent{
			UserID:    userID,
			EventType: models.EventLike,
			ContentID: episode.TitleID,
			EpisodeID: episodeID,
		})
	}

	return liked, likes, nil
}

// RecordShare counts a share against the episode's title and flags the
// user's records on it.
func (s *Service) RecordShare(ctx context.Context, userID, episodeID, shareMethod string) error {
	episodeID = strings.TrimSpace(episodeID)
	if episodeID == "" {
		return ErrEpisodeIDRequired
	}

	episode, err := s.store.GetEpisode(ctx, episodeID)
	if err != nil {
		return err
	}

	if err := s.store.RecordShare(ctx, strings.TrimSpace(userID), episode.TitleID); err != nil {
		return err
	}

	if userID != "" {
		if _, err := s.users.Ensure(userID); err == nil {
			if _, err := s.users.RecordActivity(userID, users.Activity{Shares: 1}); err != nil {
				log.Printf("[progress] Failed to update share aggregate for %s: %v", userID, err)
			}
		}
	}

	s.cache.InvalidateByTags(ctx, "title:"+episode.TitleID)
	s.analytics.Track(models.AnalyticsEvent{
		UserID:    userID,
		EventType: models.EventShare,
		ContentID: episode.TitleID,
		EpisodeID: episodeID,
		EventData: map[string]interface{}{"shareMethod": shareMethod},
	})

	return nil
}

// Rate applies a 1..5 rating to a title. The store recomputes the title's
// average inside one transaction; a replaced rating shifts the average by
// exactly (new-old)/N.
func (s *Service) Rate(ctx context.Context, userID, titleID string, rating int) (float64, int64, error) {
	userID = strings.TrimSpace(userID)
	titleID = strings.TrimSpace(titleID)
	if userID == "" {
		return 0, 0, ErrUserIDRequired
	}
	if rating < 1 || rating > 5 {
		return 0, 0, ErrInvalidRating
	}

	avg, total, err := s.store.ApplyRating(ctx, userID, titleID, rating)
	if err != nil {
		return 0, 0, err
	}

	s.cache.InvalidateByTags(ctx, "user:"+userID, "title:"+titleID)
	return avg, total, nil
}

// GetContinueWatching returns records inside the resume window, newest
// activity first.
func (s *Service) GetContinueWatching(ctx context.Context, userID string, limit int) ([]*models.WatchRecord, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 {
		limit = 10
	}

	return s.store.ListContinueWatching(ctx, userID, s.settings.ContinueMinPercent, s.settings.ContinueMaxPercent, limit)
}

// GetProgressOnTitle returns the user's records across a title's episodes in
// playback order.
func (s *Service) GetProgressOnTitle(ctx context.Context, userID, titleID string) ([]*models.WatchRecord, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	return s.store.ListByUserTitle(ctx, userID, titleID)
}

// GetRecord returns one watch record, or store.ErrRecordNotFound.
func (s *Service) GetRecord(ctx context.Context, userID, episodeID string) (*models.WatchRecord, error) {
	return s.store.GetWatchRecord(ctx, userID, episodeID)
}

// History pages through the user's watch records, optionally filtered by
// status, most recent first. Returns the page and the total count.
func (s *Service) History(ctx context.Context, userID string, status models.WatchStatus, page, limit int) ([]*models.WatchRecord, int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, 0, ErrUserIDRequired
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if page < 1 {
		page = 1
	}

	records, err := s.store.ListWatchHistory(ctx, userID, status, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.CountWatchHistory(ctx, userID, status)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// ClearHistory bulk-deletes the user's records, optionally scoped to one
// title or to records older than the given number of days, then evicts every
// cache entry tagged with the user.
func (s *Service) ClearHistory(ctx context.Context, userID, titleID string, olderThanDays *int) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, ErrUserIDRequired
	}

	var olderThan *time.Time
	if olderThanDays != nil {
		if *olderThanDays < 0 {
			return 0, fmt.Errorf("older_than_days cannot be negative")
		}
		cutoff := time.Now().UTC().AddDate(0, 0, -*olderThanDays)
		olderThan = &cutoff
	}

	deleted, err := s.store.DeleteWatchRecords(ctx, userID, strings.TrimSpace(titleID), olderThan)
	if err != nil {
		return 0, err
	}

	s.cache.InvalidateByTags(ctx, "user:"+userID)
	return deleted, nil
}

// WatchedTitleIDs returns the distinct titles the user has any record on.
func (s *Service) WatchedTitleIDs(ctx context.Context, userID string) ([]string, error) {
	return s.store.WatchedTitleIDs(ctx, userID)
}

// OverlaysByEpisodes returns the user's records for a set of episodes in one
// batched read, keyed by episode id.
func (s *Service) OverlaysByEpisodes(ctx context.Context, userID string, episodeIDs []string) (map[string]*models.WatchRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return map[string]*models.WatchRecord{}, nil
	}
	return s.store.WatchRecordsByEpisodes(ctx, userID, episodeIDs)
}
