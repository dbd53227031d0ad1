package models

import "time"

// TitleStatus is the publication lifecycle state of a title.
type TitleStatus string

const (
	TitleStatusDraft     TitleStatus = "draft"
	TitleStatusPublished TitleStatus = "published"
	TitleStatusArchived  TitleStatus = "archived"
	TitleStatusPrivate   TitleStatus = "private"
)

// TitleType distinguishes the catalog formats served in the feed.
type TitleType string

const (
	TitleTypeMovie     TitleType = "movie"
	TitleTypeSeries    TitleType = "series"
	TitleTypeWebSeries TitleType = "web-series"
)

// Title is a movie, series, or web-series in the catalog. Episodes reference
// it by TitleID; the first episode is the card shown in the feed.
type Title struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Genres      []string    `json:"genres"`
	Languages   []string    `json:"languages"`
	Tags        []string    `json:"tags,omitempty"`
	Cast        []string    `json:"cast,omitempty"`
	Director    string      `json:"director,omitempty"`
	Type        TitleType   `json:"type"`
	Category    string      `json:"category,omitempty"`
	AgeRating   string      `json:"ageRating,omitempty"`
	IsPremium   bool        `json:"isPremium"`
	PublishedAt *time.Time  `json:"publishedAt,omitempty"`
	Status      TitleStatus `json:"status"`

	Analytics  TitleAnalytics `json:"analytics"`
	Feed       FeedSettings   `json:"feed"`
	EpisodeIDs []string       `json:"episodeIds,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TitleAnalytics carries the aggregate counters maintained by the write path.
// AverageRating and TotalRatings move together inside one store transaction;
// CompletionRate is the fraction of views that reached completion, in percent.
type TitleAnalytics struct {
	TotalViews       int64   `json:"totalViews"`
	TotalLikes       int64   `json:"totalLikes"`
	TotalShares      int64   `json:"totalShares"`
	AverageRating    float64 `json:"averageRating"`
	TotalRatings     int64   `json:"totalRatings"`
	TotalCompletions int64   `json:"totalCompletions"`
	PopularityScore  float64 `json:"popularityScore"`
	TrendingScore    float64 `json:"trendingScore"`
	CompletionRate   float64 `json:"completionRate"`
}

// FeedSettings controls how a title participates in feed assembly.
type FeedSettings struct {
	IsInRandomFeed         bool     `json:"isInRandomFeed"`
	FeedPriority           int      `json:"feedPriority"` // 1..10, higher surfaces first
	FeedWeight             float64  `json:"feedWeight"`
	IsFeatured             bool     `json:"isFeatured"`
	IsEditorsPick          bool     `json:"isEditorsPick"`
	GeographicRestrictions []string `json:"geographicRestrictions,omitempty"`
}

// IsPublished reports whether the title is visible to feed consumers.
func (t *Title) IsPublished() bool {
	return t.Status == TitleStatusPublished
}

// RestrictedIn reports whether playback is blocked for the given region code.
func (t *Title) RestrictedIn(region string) bool {
	if region == "" {
		return false
	}
	for _, r := range t.Feed.GeographicRestrictions {
		if r == region {
			return true
		}
	}
	return false
}
