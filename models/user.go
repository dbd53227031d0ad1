package models

import (
	"encoding/json"
	"time"
)

// DataUsage is the user's bandwidth preference; it drives default stream
// quality selection when no explicit quality is requested.
type DataUsage string

const (
	DataUsageLow    DataUsage = "low"
	DataUsageMedium DataUsage = "medium"
	DataUsageHigh   DataUsage = "high"
)

// User is a viewer profile. Most users are anonymous devices identified by a
// stable ID minted on first contact; profiles are auto-provisioned.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Color     string `json:"color,omitempty"`
	PinHash   string `json:"-"` // bcrypt hash of the age-gate PIN, excluded from JSON (security)
	IsPremium bool   `json:"isPremium"`

	Preferences UserPreferences `json:"preferences"`
	Analytics   UserAnalytics   `json:"analytics"`
	Engagement  UserEngagement  `json:"engagement"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UserPreferences feed the personalized candidate pool and quality selection.
// Language codes are canonicalized BCP-47 base tags ("hi", "en").
type UserPreferences struct {
	PreferredGenres    []string  `json:"preferredGenres"`
	PreferredLanguages []string  `json:"preferredLanguages"`
	AutoPlay           bool      `json:"autoPlay"`
	DataUsage          DataUsage `json:"dataUsage"`
}

// GenreCount is one entry of a user's favorite-genre histogram.
type GenreCount struct {
	Genre string `json:"genre"`
	Count int    `json:"count"`
}

// UserAnalytics aggregates viewing behavior for personalization.
type UserAnalytics struct {
	TotalWatchTime         int64        `json:"totalWatchTime"` // seconds
	VideosWatched          int64        `json:"videosWatched"`
	AverageSessionDuration float64      `json:"averageSessionDuration"` // seconds
	FavoriteGenres         []GenreCount `json:"favoriteGenres,omitempty"`
}

// UserEngagement counts interaction events attributed to the user.
type UserEngagement struct {
	Likes                  int64   `json:"likes"`
	Shares                 int64   `json:"shares"`
	SwipeRight             int64   `json:"swipeRight"`
	SwipeLeft              int64   `json:"swipeLeft"`
	AverageVideoCompletion float64 `json:"averageVideoCompletion"` // percent
}

// HasPin returns true if the user has an age-gate PIN set.
func (u User) HasPin() bool {
	return u.PinHash != ""
}

// MarshalJSON implements custom JSON marshaling to include the computed hasPin field.
func (u User) MarshalJSON() ([]byte, error) {
	type UserAlias User // prevent recursion
	return json.Marshal(&struct {
		UserAlias
		HasPin bool `json:"hasPin"`
	}{
		UserAlias: UserAlias(u),
		HasPin:    u.HasPin(),
	})
}
