package models

import "time"

// FeedSource identifies which candidate pool produced a card.
type FeedSource string

const (
	FeedSourcePersonalized FeedSource = "personalized"
	FeedSourceTrending     FeedSource = "trending"
	FeedSourcePopular      FeedSource = "popular"
	FeedSourceFresh        FeedSource = "fresh"
)

// Card is one feed item: a title, its first playable episode, the algorithm
// metadata explaining its placement, and an optional prefetch plan.
type Card struct {
	Title          Title         `json:"title"`
	FirstEpisode   *Episode      `json:"firstEpisode,omitempty"`
	FeedSource     FeedSource    `json:"_feedSource"`
	AlgorithmScore float64       `json:"_algorithmScore"`
	Prefetch       *PrefetchPlan `json:"_prefetch,omitempty"`
}

// FeedPage is the assembled response for one feed request. Source reports
// whether the page came from cache or was built live.
type FeedPage struct {
	Cards  []Card `json:"cards"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
	Total  int    `json:"total"`
	Source string `json:"source,omitempty"` // "cache" or "live"
}

// PrefetchEpisode is one upcoming episode in a prefetch plan. PrefetchURL
// points at the cheapest rendition for buffer warming; StreamURL at the
// quality the player would actually start with.
type PrefetchEpisode struct {
	EpisodeID     string           `json:"episodeId"`
	TitleID       string           `json:"titleId"`
	SeasonNumber  int              `json:"seasonNumber"`
	EpisodeNumber int              `json:"episodeNumber"`
	Title         string           `json:"title,omitempty"`
	Duration      int              `json:"duration"`
	ThumbnailURL  string           `json:"thumbnailUrl,omitempty"`
	PrefetchURL   string           `json:"prefetchUrl"`
	StreamURL     string           `json:"streamUrl"`
	Priority      int              `json:"priority"` // decreasing from the current episode
	Progress      *ProgressOverlay `json:"progress,omitempty"`
}

// PrefetchPlan lists the next episodes of a card's title worth warming and
// the estimated download cost of doing so.
type PrefetchPlan struct {
	TitleID     string            `json:"titleId"`
	Episodes    []PrefetchEpisode `json:"episodes"`
	EstimatedMB float64           `json:"estimatedMb"`
	GeneratedAt time.Time         `json:"generatedAt"`
}
