package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/RADreams/Cino-backend/models"
)

const watchColumns = `w.user_id, w.title_id, w.episode_id, w.season_number, w.episode_number,
	w.current_position, w.total_duration, w.percentage_watched, w.is_completed, w.status, w.watched_via,
	w.liked, w.shared, w.started_at, w.last_watched_at, w.completed_at,
	w.total_sessions, w.average_session_length,
	w.session_duration, w.pause_count, w.seek_count, w.buffering_time, r.rating`

const watchJoin = ` FROM watch_records w
	LEFT JOIN user_title_ratings r ON r.user_id = w.user_id AND r.title_id = w.title_id`

// GetWatchRecord returns the record for (user, episode), ErrRecordNotFound if
// absent. The user's title rating, if any, is overlaid on the record.
func (s *Store) GetWatchRecord(ctx context.Context, userID, episodeID string) (*models.WatchRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+watchColumns+watchJoin+" WHERE w.user_id = ? AND w.episode_id = ?",
		userID, episodeID)
	rec, err := scanWatchRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting watch record: %w", err)
	}
	return rec, nil
}

// PutWatchRecord inserts or replaces the record for (user, episode). The
// record's Rating field is ignored here; ratings live in their own table and
// are written through ApplyRating.
func (s *Store) PutWatchRecord(ctx context.Context, rec *models.WatchRecord) error {
	if rec.UserID == "" || rec.EpisodeID == "" {
		return errors.New("watch record requires user id and episode id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watch_records (
			user_id, episode_id, title_id, season_number, episode_number,
			current_position, total_duration, percentage_watched, is_completed, status, watched_via,
			liked, shared, started_at, last_watched_at, completed_at,
			total_sessions, average_session_length, session_duration, pause_count, seek_count, buffering_time
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(user_id, episode_id) DO UPDATE SET
			title_id = excluded.title_id,
			season_number = excluded.season_number,
			episode_number = excluded.episode_number,
			current_position = excluded.current_position,
			total_duration = excluded.total_duration,
			percentage_watched = excluded.percentage_watched,
			is_completed = excluded.is_completed,
			status = excluded.status,
			watched_via = excluded.watched_via,
			liked = excluded.liked,
			shared = excluded.shared,
			last_watched_at = excluded.last_watched_at,
			completed_at = excluded.completed_at,
			total_sessions = excluded.total_sessions,
			average_session_length = excluded.average_session_length,
			session_duration = excluded.session_duration,
			pause_count = excluded.pause_count,
			seek_count = excluded.seek_count,
			buffering_time = excluded.buffering_time`,
		rec.UserID, rec.EpisodeID, rec.TitleID, rec.SeasonNumber, rec.EpisodeNumber,
		rec.CurrentPosition, rec.TotalDuration, rec.PercentageWatched, rec.IsCompleted,
		string(rec.Status), rec.WatchedVia,
		rec.Liked, rec.Shared,
		utc(rec.SessionInfo.StartedAt), utc(rec.SessionInfo.LastWatchedAt), utcPtr(rec.SessionInfo.CompletedAt),
		rec.SessionInfo.TotalSessions, rec.SessionInfo.AverageSessionLength,
		rec.Engagement.SessionDuration, rec.Engagement.PauseCount, rec.Engagement.SeekCount, rec.Engagement.BufferingTime,
	)
	if err != nil {
		return fmt.Errorf("saving watch record: %w", err)
	}
	return nil
}

// ListContinueWatching returns the user's partially watched records, newest
// first. The percentage bounds are strict on both sides.
func (s *Store) ListContinueWatching(ctx context.Context, userID string, minPct, maxPct float64, limit int) ([]*models.WatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+watchColumns+watchJoin+`
		WHERE w.user_id = ? AND w.status IN (?, ?)
		  AND w.percentage_watched > ? AND w.percentage_watched < ?
		ORDER BY w.last_watched_at DESC
		LIMIT ?`,
		userID, string(models.WatchStatusWatching), string(models.WatchStatusPaused),
		minPct, maxPct, limit)
	if err != nil {
		return nil, fmt.Errorf("listing continue watching: %w", err)
	}
	defer rows.Close()
	return collectWatchRecords(rows)
}

// ListWatchHistory returns the user's records newest first, optionally
// filtered by status.
func (s *Store) ListWatchHistory(ctx context.Context, userID string, status models.WatchStatus, limit, offset int) ([]*models.WatchRecord, error) {
	query := "SELECT " + watchColumns + watchJoin + " WHERE w.user_id = ?"
	args := []interface{}{userID}
	if status != "" {
		query += " AND w.status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY w.last_watched_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing watch history: %w", err)
	}
	defer rows.Close()
	return collectWatchRecords(rows)
}

// CountWatchHistory counts the user's records, optionally by status.
func (s *Store) CountWatchHistory(ctx context.Context, userID string, status models.WatchStatus) (int64, error) {
	query := `SELECT COUNT(*) FROM watch_records WHERE user_id = ?`
	args := []interface{}{userID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting watch history: %w", err)
	}
	return n, nil
}

// AverageCompletion returns the mean percentage watched across all of the
// user's records, or zero when there are none.
func (s *Store) AverageCompletion(ctx context.Context, userID string) (float64, error) {
	var avg float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(percentage_watched), 0) FROM watch_records WHERE user_id = ?`,
		userID).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("averaging completion: %w", err)
	}
	return avg, nil
}

// ListByUserTitle returns the user's records across a title's episodes in
// (season, episode) order, for progress overlays.
func (s *Store) ListByUserTitle(ctx context.Context, userID, titleID string) ([]*models.WatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+watchColumns+watchJoin+`
		WHERE w.user_id = ? AND w.title_id = ?
		ORDER BY w.season_number ASC, w.episode_number ASC`,
		userID, titleID)
	if err != nil {
		return nil, fmt.Errorf("listing title progress: %w", err)
	}
	defer rows.Close()
	return collectWatchRecords(rows)
}

// WatchRecordsByEpisodes returns the user's records for the given episode
// ids, keyed by episode id. Used for batched prefetch overlays.
func (s *Store) WatchRecordsByEpisodes(ctx context.Context, userID string, episodeIDs []string) (map[string]*models.WatchRecord, error) {
	out := make(map[string]*models.WatchRecord, len(episodeIDs))
	if len(episodeIDs) == 0 {
		return out, nil
	}
	args := []interface{}{userID}
	for _, id := range episodeIDs {
		args = append(args, id)
	}
	query := fmt.Sprintf("SELECT %s%s WHERE w.user_id = ? AND w.episode_id IN (%s)",
		watchColumns, watchJoin, placeholders(len(episodeIDs)))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading episode progress: %w", err)
	}
	defer rows.Close()
	recs, err := collectWatchRecords(rows)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		out[rec.EpisodeID] = rec
	}
	return out, nil
}

// WatchedTitleIDs returns the distinct title ids the user has any record on.
func (s *Store) WatchedTitleIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT title_id FROM watch_records WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing watched titles: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteWatchRecords removes the user's records, optionally narrowed to one
// title and/or to records last touched before olderThan. Returns the number
// of deleted rows.
func (s *Store) DeleteWatchRecords(ctx context.Context, userID, titleID string, olderThan *time.Time) (int64, error) {
	query := `DELETE FROM watch_records WHERE user_id = ?`
	args := []interface{}{userID}
	if titleID != "" {
		query += " AND title_id = ?"
		args = append(args, titleID)
	}
	if olderThan != nil {
		query += " AND last_watched_at < ?"
		args = append(args, utc(*olderThan))
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clearing watch history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ToggleEpisodeLike flips the user's like flag on an episode and adjusts the
// like counters on the episode and its title by one in the same transaction.
// Counters never go below zero. Returns the new flag and the episode's like
// count.
//
// Fails with ErrRecordNotFound when the user has no record on the episode.
func (s *Store) ToggleEpisodeLike(ctx context.Context, userID, episodeID string) (bool, int64, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		liked   bool
		titleID string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT liked, title_id FROM watch_records WHERE user_id = ? AND episode_id = ?`,
		userID, episodeID).Scan(&liked, &titleID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, 0, ErrRecordNotFound
	}
	if err != nil {
		return false, 0, fmt.Errorf("loading like flag: %w", err)
	}

	liked = !liked
	delta := int64(-1)
	if liked {
		delta = 1
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE watch_records SET liked = ? WHERE user_id = ? AND episode_id = ?`,
		liked, userID, episodeID); err != nil {
		return false, 0, fmt.Errorf("updating like flag: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE episodes SET total_likes = MAX(total_likes + ?, 0), updated_at = ? WHERE id = ?`,
		delta, now, episodeID); err != nil {
		return false, 0, fmt.Errorf("updating episode likes: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE titles SET total_likes = MAX(total_likes + ?, 0), updated_at = ? WHERE id = ?`,
		delta, now, titleID); err != nil {
		return false, 0, fmt.Errorf("updating title likes: %w", err)
	}

	var likes int64
	if err := tx.QueryRowContext(ctx,
		`SELECT total_likes FROM episodes WHERE id = ?`, episodeID).Scan(&likes); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, 0, fmt.Errorf("reading episode likes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("committing like toggle: %w", err)
	}
	return liked, likes, nil
}

// Session is one sitting of consecutive watch activity, closed when the gap
// since the last activity exceeds the configured window. Sessions feed the
// smart prefetch sizing.
type Session struct {
	ID             string
	UserID         string
	StartedAt      time.Time
	LastActivityAt time.Time
	EpisodeCount   int
}

// LatestSession returns the user's most recent session, or nil when the user
// has none.
func (s *Store) LatestSession(ctx context.Context, userID string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, started_at, last_activity_at, episode_count
		FROM watch_sessions WHERE user_id = ?
		ORDER BY last_activity_at DESC LIMIT 1`, userID).
		Scan(&sess.ID, &sess.UserID, &sess.StartedAt, &sess.LastActivityAt, &sess.EpisodeCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest session: %w", err)
	}
	sess.StartedAt = sess.StartedAt.UTC()
	sess.LastActivityAt = sess.LastActivityAt.UTC()
	return &sess, nil
}

// SaveSession inserts or updates a session.
func (s *Store) SaveSession(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watch_sessions (id, user_id, started_at, last_activity_at, episode_count)
		VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			last_activity_at = excluded.last_activity_at,
			episode_count = excluded.episode_count`,
		sess.ID, sess.UserID, utc(sess.StartedAt), utc(sess.LastActivityAt), sess.EpisodeCount)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// SessionStats reports how many sessions the user had since the given time
// and how many episodes those sessions covered.
func (s *Store) SessionStats(ctx context.Context, userID string, since time.Time) (sessions, episodes int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(episode_count), 0)
		FROM watch_sessions WHERE user_id = ? AND started_at >= ?`,
		userID, utc(since)).Scan(&sessions, &episodes)
	if err != nil {
		return 0, 0, fmt.Errorf("loading session stats: %w", err)
	}
	return sessions, episodes, nil
}

// AverageSessionSeconds returns the mean wall-clock session length since the
// given time, in seconds. Sessions still in progress count with their current
// span. All timestamps are stored in UTC, so strftime comparisons are exact.
func (s *Store) AverageSessionSeconds(ctx context.Context, userID string, since time.Time) (float64, error) {
	var avg float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(strftime('%s', last_activity_at) - strftime('%s', started_at)), 0)
		FROM watch_sessions WHERE user_id = ? AND started_at >= ?`,
		userID, utc(since)).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("averaging session length: %w", err)
	}
	return avg, nil
}

// DeleteSessionsBefore prunes sessions whose last activity predates the
// cutoff. Returns the number of deleted rows.
func (s *Store) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM watch_sessions WHERE last_activity_at < ?`, utc(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func collectWatchRecords(rows *sql.Rows) ([]*models.WatchRecord, error) {
	var recs []*models.WatchRecord
	for rows.Next() {
		rec, err := scanWatchRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning watch record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanWatchRecord(rs rowScanner) (*models.WatchRecord, error) {
	var (
		rec         models.WatchRecord
		completedAt sql.NullTime
		rating      sql.NullInt64
	)
	err := rs.Scan(
		&rec.UserID, &rec.TitleID, &rec.EpisodeID, &rec.SeasonNumber, &rec.EpisodeNumber,
		&rec.CurrentPosition, &rec.TotalDuration, &rec.PercentageWatched, &rec.IsCompleted,
		&rec.Status, &rec.WatchedVia,
		&rec.Liked, &rec.Shared,
		&rec.SessionInfo.StartedAt, &rec.SessionInfo.LastWatchedAt, &completedAt,
		&rec.SessionInfo.TotalSessions, &rec.SessionInfo.AverageSessionLength,
		&rec.Engagement.SessionDuration, &rec.Engagement.PauseCount, &rec.Engagement.SeekCount, &rec.Engagement.BufferingTime,
		&rating,
	)
	if err != nil {
		return nil, err
	}
	rec.SessionInfo.StartedAt = rec.SessionInfo.StartedAt.UTC()
	rec.SessionInfo.LastWatchedAt = rec.SessionInfo.LastWatchedAt.UTC()
	rec.SessionInfo.CompletedAt = timePtr(completedAt)
	if rating.Valid {
		r := int(rating.Int64)
		rec.Rating = &r
	}
	return &rec, nil
}
