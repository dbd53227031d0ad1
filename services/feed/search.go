package feed

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/RADreams/Cino-backend/internal/store"
	"github.com/RADreams/Cino-backend/models"
	"github.com/RADreams/Cino-backend/services/cache"
)

// SearchRequest narrows a catalog search. UserID only attributes the
// analytics event; results are shared across users.
type SearchRequest struct {
	Query     string
	Type      string
	Genres    []string
	Languages []string
	Page      int
	Limit     int
	UserID    string
}

// SearchResult is one page of search matches.
type SearchResult struct {
	Titles []*models.Title `json:"titles"`
	Query  string          `json:"query"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
	Total  int64           `json:"total"`
	Source string          `json:"source,omitempty"`
}

// Search runs a case-insensitive substring match over title, description,
// tags, cast, and director of published titles, ordered by popularity.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if utf8.RuneCountInString(query) < s.settings.SearchMinLength {
		return nil, ErrQueryTooShort
	}
	limit, _ := s.clampPage(req.Limit, 0)
	page := req.Page
	if page < 1 {
		page = 1
	}

	key := cache.Key("feed:search",
		strings.ToLower(query),
		req.Type,
		strings.Join(req.Genres, ","),
		strings.Join(req.Languages, ","),
		strconv.Itoa(page),
		strconv.Itoa(limit),
	)
	var cached SearchResult
	if s.cache.Get(ctx, key, &cached) {
		cached.Source = "cache"
		s.emitSearch(req.UserID, query, page, cached.Total)
		return &cached, nil
	}

	titles, total, err := s.store.SearchTitles(ctx, query, store.SearchFilter{
		Type:      req.Type,
		Genres:    req.Genres,
		Languages: req.Languages,
		Limit:     limit,
		Offset:    (page - 1) * limit,
	})
	if err != nil {
		return nil, err
	}

	result := &SearchResult{
		Titles: titles,
		Query:  query,
		Page:   page,
		Limit:  limit,
		Total:  total,
		Source: "live",
	}
	s.cache.SetWithTags(ctx, key, result, time.Duration(s.settings.SearchTTLSeconds)*time.Second, []string{"search"})

	s.emitSearch(req.UserID, query, page, total)
	return result, nil
}

func (s *Service) emitSearch(userID, query string, page int, total int64) {
	s.analytics.Emit(userID, models.EventSearch, map[string]interface{}{
		"query":   query,
		"page":    page,
		"results": total,
	})
}
