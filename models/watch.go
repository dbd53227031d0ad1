package models

import "time"

// WatchStatus is the lifecycle state of a watch record.
type WatchStatus string

const (
	WatchStatusWatching  WatchStatus = "watching"
	WatchStatusCompleted WatchStatus = "completed"
	WatchStatusDropped   WatchStatus = "dropped"
	WatchStatusPaused    WatchStatus = "paused"
)

// WatchRecord tracks one user's progress on one episode. At most one record
// exists per (UserID, EpisodeID); CurrentPosition never decreases.
type WatchRecord struct {
	UserID        string `json:"userId"`
	TitleID       string `json:"titleId"`
	EpisodeID     string `json:"episodeId"`
	SeasonNumber  int    `json:"seasonNumber"`
	EpisodeNumber int    `json:"episodeNumber"`

	CurrentPosition   int         `json:"currentPosition"` // seconds
	TotalDuration     int         `json:"totalDuration"`   // seconds
	PercentageWatched float64     `json:"percentageWatched"`
	IsCompleted       bool        `json:"isCompleted"`
	Status            WatchStatus `json:"status"`
	WatchedVia        string      `json:"watchedVia,omitempty"` // feed, search, direct, continue

	Rating *int `json:"rating,omitempty"` // 1..5, set via the title rating flow
	Liked  bool `json:"liked"`
	Shared bool `json:"shared"`

	SessionInfo WatchSessionInfo `json:"sessionInfo"`
	Engagement  WatchEngagement  `json:"engagement"`
}

// WatchSessionInfo captures when and how often the record was touched.
// CompletedAt is stamped exactly once, when the 80% threshold is first crossed.
type WatchSessionInfo struct {
	StartedAt            time.Time  `json:"startedAt"`
	LastWatchedAt        time.Time  `json:"lastWatchedAt"`
	CompletedAt          *time.Time `json:"completedAt,omitempty"`
	TotalSessions        int        `json:"totalSessions"`
	AverageSessionLength float64    `json:"averageSessionLength"` // seconds
}

// WatchEngagement holds monotonic per-record interaction counters.
type WatchEngagement struct {
	SessionDuration int64 `json:"sessionDuration"` // seconds, cumulative
	PauseCount      int   `json:"pauseCount"`
	SeekCount       int   `json:"seekCount"`
	BufferingTime   int64 `json:"bufferingTime"` // milliseconds, cumulative
}

// ProgressOverlay is the slice of a WatchRecord that prefetch plans and
// episode listings expose to clients.
type ProgressOverlay struct {
	CurrentPosition   int     `json:"currentPosition"`
	PercentageWatched float64 `json:"percentageWatched"`
	IsCompleted       bool    `json:"isCompleted"`
}

// Overlay extracts the client-facing progress fields.
func (w *WatchRecord) Overlay() ProgressOverlay {
	return ProgressOverlay{
		CurrentPosition:   w.CurrentPosition,
		PercentageWatched: w.PercentageWatched,
		IsCompleted:       w.IsCompleted,
	}
}
