package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RADreams/Cino-backend/models"
	"github.com/RADreams/Cino-backend/utils/textnorm"
)

const titleColumns = `id, title, description, type, category, age_rating, director, is_premium,
	status, published_at, genres, languages, tags, cast_names, geo_restrictions,
	total_views, total_likes, total_shares, average_rating, total_ratings, total_completions,
	popularity_score, trending_score, completion_rate,
	is_in_random_feed, feed_priority, feed_weight, is_featured, is_editors_pick,
	created_at, updated_at`

// TitleOrder selects the sort applied by ListTitles. Every order ends with
// "id ASC" so ties are deterministic.
type TitleOrder int

const (
	OrderFeedPriority TitleOrder = iota
	OrderPopularity
	OrderTrending
	OrderNewest
)

func (o TitleOrder) clause() string {
	switch o {
	case OrderPopularity:
		return "popularity_score DESC, id ASC"
	case OrderTrending:
		return "trending_score DESC, id ASC"
	case OrderNewest:
		return "published_at DESC, id ASC"
	default:
		return "feed_priority DESC, popularity_score DESC, id ASC"
	}
}

// TitleFilter narrows ListTitles. Zero-valued fields are ignored. Genre and
// language values are normalized before matching, so callers can pass them as
// the client sent them.
type TitleFilter struct {
	Status         models.TitleStatus
	InRandomFeed   *bool
	Category       string
	Genres         []string
	Languages      []string
	PublishedAfter *time.Time
	ExcludeIDs     []string
	Featured       *bool
	EditorsPick    *bool
	Order          TitleOrder
	Limit          int
	Offset         int
}

// ListTitles returns titles matching the filter in the filter's order.
func (s *Store) ListTitles(ctx context.Context, f TitleFilter) ([]*models.Title, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.InRandomFeed != nil {
		where = append(where, "is_in_random_feed = ?")
		args = append(args, *f.InRandomFeed)
	}
	if f.Category != "" {
		where = append(where, "lower(category) = ?")
		args = append(args, strings.ToLower(strings.TrimSpace(f.Category)))
	}
	if genres := normalizeGenres(f.Genres); len(genres) > 0 {
		where = append(where, fmt.Sprintf(
			"id IN (SELECT title_id FROM title_genres WHERE genre IN (%s))", placeholders(len(genres))))
		for _, g := range genres {
			args = append(args, g)
		}
	}
	if langs := textnorm.CanonicalLanguages(f.Languages); len(langs) > 0 {
		where = append(where, fmt.Sprintf(
			"id IN (SELECT title_id FROM title_languages WHERE language IN (%s))", placeholders(len(langs))))
		for _, l := range langs {
			args = append(args, l)
		}
	}
	if f.PublishedAfter != nil {
		where = append(where, "published_at IS NOT NULL AND published_at >= ?")
		args = append(args, utc(*f.PublishedAfter))
	}
	if len(f.ExcludeIDs) > 0 {
		where = append(where, fmt.Sprintf("id NOT IN (%s)", placeholders(len(f.ExcludeIDs))))
		for _, id := range f.ExcludeIDs {
			args = append(args, id)
		}
	}
	if f.Featured != nil {
		where = append(where, "is_featured = ?")
		args = append(args, *f.Featured)
	}
	if f.EditorsPick != nil {
		where = append(where, "is_editors_pick = ?")
		args = append(args, *f.EditorsPick)
	}

	query := "SELECT " + titleColumns + " FROM titles"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + f.Order.clause()
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing titles: %w", err)
	}
	defer rows.Close()

	var titles []*models.Title
	for rows.Next() {
		t, err := scanTitle(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning title: %w", err)
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

// GetTitle returns one title by id, ErrTitleNotFound if absent.
func (s *Store) GetTitle(ctx context.Context, id string) (*models.Title, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+titleColumns+" FROM titles WHERE id = ?", id)
	t, err := scanTitle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTitleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting title %s: %w", id, err)
	}
	return t, nil
}

// TitlesByIDs returns the titles for the given ids, keyed by id. Missing ids
// are simply absent from the map.
func (s *Store) TitlesByIDs(ctx context.Context, ids []string) (map[string]*models.Title, error) {
	out := make(map[string]*models.Title, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := fmt.Sprintf("SELECT %s FROM titles WHERE id IN (%s)", titleColumns, placeholders(len(ids)))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading titles by id: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTitle(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning title: %w", err)
		}
		out[t.ID] = t
	}
	return out, rows.Err()
}

// SearchFilter narrows SearchTitles beyond the text query.
type SearchFilter struct {
	Type      string
	Genres    []string
	Languages []string
	Limit     int
	Offset    int
}

// SearchTitles performs a case-insensitive substring match over the stored
// search text (title, description, tags, cast, director) of published titles.
// Results are ordered by popularity. The second return value is the total
// match count before paging.
func (s *Store) SearchTitles(ctx context.Context, query string, f SearchFilter) ([]*models.Title, int64, error) {
	norm := textnorm.Normalize(query)
	if norm == "" {
		return nil, 0, nil
	}

	where := []string{"status = ?", "search_text LIKE ? ESCAPE '\\'"}
	args := []interface{}{string(models.TitleStatusPublished), "%" + escapeLike(norm) + "%"}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, strings.ToLower(strings.TrimSpace(f.Type)))
	}
	if genres := normalizeGenres(f.Genres); len(genres) > 0 {
		where = append(where, fmt.Sprintf(
			"id IN (SELECT title_id FROM title_genres WHERE genre IN (%s))", placeholders(len(genres))))
		for _, g := range genres {
			args = append(args, g)
		}
	}
	if langs := textnorm.CanonicalLanguages(f.Languages); len(langs) > 0 {
		where = append(where, fmt.Sprintf(
			"id IN (SELECT title_id FROM title_languages WHERE language IN (%s))", placeholders(len(langs))))
		for _, l := range langs {
			args = append(args, l)
		}
	}
	cond := strings.Join(where, " AND ")

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM titles WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting search results: %w", err)
	}

	query = "SELECT " + titleColumns + " FROM titles WHERE " + cond + " ORDER BY popularity_score DESC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("searching titles: %w", err)
	}
	defer rows.Close()

	var titles []*models.Title
	for rows.Next() {
		t, err := scanTitle(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning title: %w", err)
		}
		titles = append(titles, t)
	}
	return titles, total, rows.Err()
}

// UpsertTitle inserts or updates a title along with its genre and language
// join rows and recomputes the stored search text.
//
// On update, engagement counters (views, likes, shares, ratings, completions)
// and the derived popularity and completion-rate columns keep their stored
// values; those are owned by the progress and scheduler paths. Trending score
// is taken from the model because it is maintained externally.
func (s *Store) UpsertTitle(ctx context.Context, t *models.Title) error {
	if t.ID == "" {
		return errors.New("title id is required")
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	searchParts := append([]string{t.Title, t.Description, t.Director}, t.Tags...)
	searchParts = append(searchParts, t.Cast...)
	searchText := textnorm.SearchText(searchParts...)

	genresJSON, err := encodeJSON(t.Genres)
	if err != nil {
		return fmt.Errorf("encoding genres: %w", err)
	}
	languagesJSON, err := encodeJSON(t.Languages)
	if err != nil {
		return fmt.Errorf("encoding languages: %w", err)
	}
	tagsJSON, err := encodeJSON(t.Tags)
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}
	castJSON, err := encodeJSON(t.Cast)
	if err != nil {
		return fmt.Errorf("encoding cast: %w", err)
	}
	geoJSON, err := encodeJSON(t.Feed.GeographicRestrictions)
	if err != nil {
		return fmt.Errorf("encoding geographic restrictions: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO titles (
			id, title, description, type, category, age_rating, director, is_premium,
			status, published_at, genres, languages, tags, cast_names, geo_restrictions, search_text,
			total_views, total_likes, total_shares, average_rating, total_ratings, total_completions,
			popularity_score, trending_score, completion_rate,
			is_in_random_feed, feed_priority, feed_weight, is_featured, is_editors_pick,
			created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			type = excluded.type,
			category = excluded.category,
			age_rating = excluded.age_rating,
			director = excluded.director,
			is_premium = excluded.is_premium,
			status = excluded.status,
			published_at = excluded.published_at,
			genres = excluded.genres,
			languages = excluded.languages,
			tags = excluded.tags,
			cast_names = excluded.cast_names,
			geo_restrictions = excluded.geo_restrictions,
			search_text = excluded.search_text,
			trending_score = excluded.trending_score,
			is_in_random_feed = excluded.is_in_random_feed,
			feed_priority = excluded.feed_priority,
			feed_weight = excluded.feed_weight,
			is_featured = excluded.is_featured,
			is_editors_pick = excluded.is_editors_pick,
			updated_at = excluded.updated_at`,
		t.ID, t.Title, t.Description, string(t.Type), t.Category, t.AgeRating, t.Director, t.IsPremium,
		string(t.Status), utcPtr(t.PublishedAt), genresJSON, languagesJSON, tagsJSON, castJSON, geoJSON, searchText,
		t.Analytics.TotalViews, t.Analytics.TotalLikes, t.Analytics.TotalShares,
		t.Analytics.AverageRating, t.Analytics.TotalRatings, t.Analytics.TotalCompletions,
		t.Analytics.PopularityScore, t.Analytics.TrendingScore, t.Analytics.CompletionRate,
		t.Feed.IsInRandomFeed, t.Feed.FeedPriority, t.Feed.FeedWeight, t.Feed.IsFeatured, t.Feed.IsEditorsPick,
		utc(t.CreatedAt), utc(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting title %s: %w", t.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM title_genres WHERE title_id = ?`, t.ID); err != nil {
		return fmt.Errorf("clearing genres for %s: %w", t.ID, err)
	}
	for _, g := range normalizeGenres(t.Genres) {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO title_genres (title_id, genre) VALUES (?,?)`, t.ID, g); err != nil {
			return fmt.Errorf("inserting genre for %s: %w", t.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM title_languages WHERE title_id = ?`, t.ID); err != nil {
		return fmt.Errorf("clearing languages for %s: %w", t.ID, err)
	}
	for _, l := range textnorm.CanonicalLanguages(t.Languages) {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO title_languages (title_id, language) VALUES (?,?)`, t.ID, l); err != nil {
			return fmt.Errorf("inserting language for %s: %w", t.ID, err)
		}
	}

	return tx.Commit()
}

// DeleteTitle removes a title; episodes and join rows cascade.
func (s *Store) DeleteTitle(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM titles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting title %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTitleNotFound
	}
	return nil
}

// ApplyRating records a user's rating for a title and updates the title's
// aggregate inside one transaction. A first rating extends the aggregate; a
// repeat rating replaces the user's previous value without changing the
// rating count. Returns the new average and count.
//
// Fails with ErrNotWatched when the user has no watch record on any episode
// of the title.
func (s *Store) ApplyRating(ctx context.Context, userID, titleID string, rating int) (float64, int64, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var watched int64
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM watch_records WHERE user_id = ? AND title_id = ?`,
		userID, titleID).Scan(&watched)
	if err != nil {
		return 0, 0, fmt.Errorf("checking watch history: %w", err)
	}
	if watched == 0 {
		return 0, 0, ErrNotWatched
	}

	var prev sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT rating FROM user_title_ratings WHERE user_id = ? AND title_id = ?`,
		userID, titleID).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("loading previous rating: %w", err)
	}

	var (
		avg   float64
		count int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT average_rating, total_ratings FROM titles WHERE id = ?`, titleID).Scan(&avg, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, ErrTitleNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("loading title aggregate: %w", err)
	}

	if prev.Valid && count > 0 {
		avg = (avg*float64(count) - float64(prev.Int64) + float64(rating)) / float64(count)
	} else {
		avg = (avg*float64(count) + float64(rating)) / float64(count+1)
		count++
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_title_ratings (user_id, title_id, rating, created_at, updated_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(user_id, title_id) DO UPDATE SET rating = excluded.rating, updated_at = excluded.updated_at`,
		userID, titleID, rating, now, now)
	if err != nil {
		return 0, 0, fmt.Errorf("saving rating: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE titles SET average_rating = ?, total_ratings = ?, updated_at = ? WHERE id = ?`,
		avg, count, now, titleID)
	if err != nil {
		return 0, 0, fmt.Errorf("updating title aggregate: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("committing rating: %w", err)
	}
	return avg, count, nil
}

// RecordShare bumps the title's share counter and flags the user's watch
// records on the title as shared.
func (s *Store) RecordShare(ctx context.Context, userID, titleID string) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE titles SET total_shares = total_shares + 1, updated_at = ? WHERE id = ?`, now, titleID)
	if err != nil {
		return fmt.Errorf("updating share counter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTitleNotFound
	}
	if userID != "" {
		_, err = tx.ExecContext(ctx,
			`UPDATE watch_records SET shared = 1 WHERE user_id = ? AND title_id = ?`, userID, titleID)
		if err != nil {
			return fmt.Errorf("flagging shared records: %w", err)
		}
	}
	return tx.Commit()
}

// UpdatePopularityScores writes recomputed popularity scores in one
// transaction. Used by the scheduled refresh.
func (s *Store) UpdatePopularityScores(ctx context.Context, scores map[string]float64) error {
	if len(scores) == 0 {
		return nil
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE titles SET popularity_score = ?, updated_at = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("preparing popularity update: %w", err)
	}
	defer stmt.Close()

	for id, score := range scores {
		if _, err := stmt.ExecContext(ctx, score, now, id); err != nil {
			return fmt.Errorf("updating popularity for %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func scanTitle(rs rowScanner) (*models.Title, error) {
	var (
		t           models.Title
		publishedAt sql.NullTime
		genres      string
		languages   string
		tags        string
		cast        string
		geo         string
	)
	err := rs.Scan(
		&t.ID, &t.Title, &t.Description, &t.Type, &t.Category, &t.AgeRating, &t.Director, &t.IsPremium,
		&t.Status, &publishedAt, &genres, &languages, &tags, &cast, &geo,
		&t.Analytics.TotalViews, &t.Analytics.TotalLikes, &t.Analytics.TotalShares,
		&t.Analytics.AverageRating, &t.Analytics.TotalRatings, &t.Analytics.TotalCompletions,
		&t.Analytics.PopularityScore, &t.Analytics.TrendingScore, &t.Analytics.CompletionRate,
		&t.Feed.IsInRandomFeed, &t.Feed.FeedPriority, &t.Feed.FeedWeight,
		&t.Feed.IsFeatured, &t.Feed.IsEditorsPick,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.PublishedAt = timePtr(publishedAt)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	if err := decodeJSON(genres, &t.Genres); err != nil {
		return nil, fmt.Errorf("decoding genres: %w", err)
	}
	if err := decodeJSON(languages, &t.Languages); err != nil {
		return nil, fmt.Errorf("decoding languages: %w", err)
	}
	if err := decodeJSON(tags, &t.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	if err := decodeJSON(cast, &t.Cast); err != nil {
		return nil, fmt.Errorf("decoding cast: %w", err)
	}
	if err := decodeJSON(geo, &t.Feed.GeographicRestrictions); err != nil {
		return nil, fmt.Errorf("decoding geographic restrictions: %w", err)
	}
	return &t, nil
}

func normalizeGenres(genres []string) []string {
	seen := make(map[string]bool, len(genres))
	out := make([]string, 0, len(genres))
	for _, g := range genres {
		g = strings.ToLower(strings.TrimSpace(g))
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	return out
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
