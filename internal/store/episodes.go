package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/RADreams/Cino-backend/models"
)

const episodeColumns = `id, title_id, season_number, episode_number, name, duration,
	thumbnail_url, video_url, status, quality_variants, streaming_options,
	total_views, total_likes, total_watch_time, total_completions, completion_rate, drop_off_points,
	created_at, updated_at`

// GetEpisode returns one episode by id, ErrEpisodeNotFound if absent.
func (s *Store) GetEpisode(ctx context.Context, id string) (*models.Episode, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+episodeColumns+" FROM episodes WHERE id = ?", id)
	e, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEpisodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting episode %s: %w", id, err)
	}
	return e, nil
}

// ListEpisodes returns a title's episodes in (season, episode) order.
// When season is non-nil only that season is returned. Unpublished episodes
// are included only when includeUnpublished is set (admin views).
func (s *Store) ListEpisodes(ctx context.Context, titleID string, season *int, limit, offset int, includeUnpublished bool) ([]*models.Episode, error) {
	query := "SELECT " + episodeColumns + " FROM episodes WHERE title_id = ?"
	args := []interface{}{titleID}
	if !includeUnpublished {
		query += " AND status = ?"
		args = append(args, string(models.TitleStatusPublished))
	}
	if season != nil {
		query += " AND season_number = ?"
		args = append(args, *season)
	}
	query += " ORDER BY season_number ASC, episode_number ASC"
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
		return nil, fmt.Errorf("listing episodes for %s: %w", titleID, err)
	}
	defer rows.Close()

	var episodes []*models.Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning episode: %w", err)
		}
		episodes = append(episodes, e)
	}
	return episodes, rows.Err()
}

// CountEpisodes counts a title's published episodes, optionally for one season.
func (s *Store) CountEpisodes(ctx context.Context, titleID string, season *int) (int64, error) {
	query := `SELECT COUNT(*) FROM episodes WHERE title_id = ? AND status = ?`
	args := []interface{}{titleID, string(models.TitleStatusPublished)}
	if season != nil {
		query += " AND season_number = ?"
		args = append(args, *season)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting episodes for %s: %w", titleID, err)
	}
	return n, nil
}

// FirstEpisodes returns, for each given title id, its published episode with
// the lowest (season, episode) pair. One query for the whole batch; titles
// with no published episode are absent from the map.
func (s *Store) FirstEpisodes(ctx context.Context, titleIDs []string) (map[string]*models.Episode, error) {
	out := make(map[string]*models.Episode, len(titleIDs))
	if len(titleIDs) == 0 {
		return out, nil
	}
	args := make([]interface{}, 0, len(titleIDs)+1)
	for _, id := range titleIDs {
		args = append(args, id)
	}
	args = append(args, string(models.TitleStatusPublished))

	query := fmt.Sprintf(`
		SELECT %s FROM (
			SELECT %s, ROW_NUMBER() OVER (
				PARTITION BY title_id ORDER BY season_number ASC, episode_number ASC
			) AS rn
			FROM episodes
			WHERE title_id IN (%s) AND status = ?
		) WHERE rn = 1`, episodeColumns, episodeColumns, placeholders(len(titleIDs)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading first episodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning episode: %w", err)
		}
		out[e.TitleID] = e
	}
	return out, rows.Err()
}

// EpisodesByIDs returns the episodes for the given ids, keyed by id. Missing
// ids are simply absent from the map.
func (s *Store) EpisodesByIDs(ctx context.Context, ids []string) (map[string]*models.Episode, error) {
	out := make(map[string]*models.Episode, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := fmt.Sprintf("SELECT %s FROM episodes WHERE id IN (%s)", episodeColumns, placeholders(len(ids)))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading episodes by id: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning episode: %w", err)
		}
		out[e.ID] = e
	}
	return out, rows.Err()
}

// EpisodesAfter returns up to limit published episodes of a title strictly
// after the given (season, episode) position, in playback order.
func (s *Store) EpisodesAfter(ctx context.Context, titleID string, season, episode, limit int) ([]*models.Episode, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+episodeColumns+` FROM episodes
		WHERE title_id = ? AND status = ?
		  AND (season_number > ? OR (season_number = ? AND episode_number > ?))
		ORDER BY season_number ASC, episode_number ASC
		LIMIT ?`,
		titleID, string(models.TitleStatusPublished), season, season, episode, limit)
	if err != nil {
		return nil, fmt.Errorf("loading episodes after s%de%d of %s: %w", season, episode, titleID, err)
	}
	defer rows.Close()

	var episodes []*models.Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning episode: %w", err)
		}
		episodes = append(episodes, e)
	}
	return episodes, rows.Err()
}

// UpsertEpisode inserts or updates an episode. As with titles, engagement
// counters and the derived completion rate keep their stored values on update.
func (s *Store) UpsertEpisode(ctx context.Context, e *models.Episode) error {
	if e.ID == "" {
		return errors.New("episode id is required")
	}
	if e.TitleID == "" {
		return errors.New("episode title id is required")
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	variantsJSON, err := encodeJSON(e.QualityVariants)
	if err != nil {
		return fmt.Errorf("encoding quality variants: %w", err)
	}
	streamingJSON, err := encodeJSON(e.StreamingOptions)
	if err != nil {
		return fmt.Errorf("encoding streaming options: %w", err)
	}
	dropOffJSON, err := encodeJSON(e.Analytics.DropOffPoints)
	if err != nil {
		return fmt.Errorf("encoding drop-off points: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO episodes (
			id, title_id, season_number, episode_number, name, duration,
			thumbnail_url, video_url, status, quality_variants, streaming_options,
			total_views, total_likes, total_watch_time, total_completions, completion_rate, drop_off_points,
			created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			title_id = excluded.title_id,
			season_number = excluded.season_number,
			episode_number = excluded.episode_number,
			name = excluded.name,
			duration = excluded.duration,
			thumbnail_url = excluded.thumbnail_url,
			video_url = excluded.video_url,
			status = excluded.status,
			quality_variants = excluded.quality_variants,
			streaming_options = excluded.streaming_options,
			drop_off_points = excluded.drop_off_points,
			updated_at = excluded.updated_at`,
		e.ID, e.TitleID, e.SeasonNumber, e.EpisodeNumber, e.Title, e.Duration,
		e.ThumbnailURL, e.VideoURL, string(e.Status), variantsJSON, streamingJSON,
		e.Analytics.TotalViews, e.Analytics.TotalLikes, e.Analytics.TotalWatchTime,
		e.Analytics.TotalCompletions, e.Analytics.CompletionRate, dropOffJSON,
		utc(e.CreatedAt), utc(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting episode %s: %w", e.ID, err)
	}
	return nil
}

// DeleteEpisode removes one episode.
func (s *Store) DeleteEpisode(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM episodes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting episode %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEpisodeNotFound
	}
	return nil
}

// RecordView bumps view counters on the episode and its title and refreshes
// both completion rates (completions as a percentage of views).
func (s *Store) RecordView(ctx context.Context, episodeID, titleID string) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE episodes SET
			total_views = total_views + 1,
			completion_rate = MIN(100.0, 100.0 * total_completions / (total_views + 1)),
			updated_at = ?
		WHERE id = ?`, now, episodeID)
	if err != nil {
		return fmt.Errorf("recording episode view: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE titles SET
			total_views = total_views + 1,
			completion_rate = MIN(100.0, 100.0 * total_completions / (total_views + 1)),
			updated_at = ?
		WHERE id = ?`, now, titleID)
	if err != nil {
		return fmt.Errorf("recording title view: %w", err)
	}
	return tx.Commit()
}

// RecordCompletion bumps completion counters on the episode and its title and
// refreshes both completion rates.
func (s *Store) RecordCompletion(ctx context.Context, episodeID, titleID string) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE episodes SET
			total_completions = total_completions + 1,
			completion_rate = CASE WHEN total_views > 0
				THEN MIN(100.0, 100.0 * (total_completions + 1) / total_views)
				ELSE 0 END,
			updated_at = ?
		WHERE id = ?`, now, episodeID)
	if err != nil {
		return fmt.Errorf("recording episode completion: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE titles SET
			total_completions = total_completions + 1,
			completion_rate = CASE WHEN total_views > 0
				THEN MIN(100.0, 100.0 * (total_completions + 1) / total_views)
				ELSE 0 END,
			updated_at = ?
		WHERE id = ?`, now, titleID)
	if err != nil {
		return fmt.Errorf("recording title completion: %w", err)
	}
	return tx.Commit()
}

// AddWatchTime adds watched seconds to an episode's total watch time.
func (s *Store) AddWatchTime(ctx context.Context, episodeID string, seconds int64) error {
	if seconds <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE episodes SET total_watch_time = total_watch_time + ?, updated_at = ? WHERE id = ?`,
		seconds, time.Now().UTC(), episodeID)
	if err != nil {
		return fmt.Errorf("adding watch time for %s: %w", episodeID, err)
	}
	return nil
}

func scanEpisode(rs rowScanner) (*models.Episode, error) {
	var (
		e         models.Episode
		variants  string
		streaming string
		dropOff   string
	)
	err := rs.Scan(
		&e.ID, &e.TitleID, &e.SeasonNumber, &e.EpisodeNumber, &e.Title, &e.Duration,
		&e.ThumbnailURL, &e.VideoURL, &e.Status, &variants, &streaming,
		&e.Analytics.TotalViews, &e.Analytics.TotalLikes, &e.Analytics.TotalWatchTime,
		&e.Analytics.TotalCompletions, &e.Analytics.CompletionRate, &dropOff,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	if err := decodeJSON(variants, &e.QualityVariants); err != nil {
		return nil, fmt.Errorf("decoding quality variants: %w", err)
	}
	if err := decodeJSON(streaming, &e.StreamingOptions); err != nil {
		return nil, fmt.Errorf("decoding streaming options: %w", err)
	}
	if err := decodeJSON(dropOff, &e.Analytics.DropOffPoints); err != nil {
		return nil, fmt.Errorf("decoding drop-off points: %w", err)
	}
	return &e, nil
}
