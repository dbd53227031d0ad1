package models

import "time"

// Episode is a single playable unit of a title. (SeasonNumber, EpisodeNumber)
// is unique per title and defines sequencing; adjacency is computed from that
// order on demand rather than persisted.
type Episode struct {
	ID            string `json:"id"`
	TitleID       string `json:"titleId"`
	SeasonNumber  int    `json:"seasonNumber"`
	EpisodeNumber int    `json:"episodeNumber"`
	Title         string `json:"title,omitempty"`
	Duration      int    `json:"duration"` // seconds
	ThumbnailURL  string `json:"thumbnailUrl,omitempty"`
	VideoURL      string `json:"videoUrl,omitempty"` // master URL, fallback when no variant fits

	QualityVariants  []QualityVariant `json:"qualityVariants,omitempty"`
	Status           TitleStatus      `json:"status"`
	StreamingOptions StreamingOptions `json:"streamingOptions"`
	Analytics        EpisodeAnalytics `json:"analytics"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// QualityVariant is one transcoded rendition of an episode.
type QualityVariant struct {
	Resolution string `json:"resolution"` // "480p", "720p", "1080p", "4k"
	URL        string `json:"url"`
	FileSize   int64  `json:"fileSize,omitempty"` // bytes
	Bitrate    int    `json:"bitrate,omitempty"`  // kbps
}

// StreamingOptions are client playback hints stored with the episode.
type StreamingOptions struct {
	PreloadEnabled  bool `json:"preloadEnabled"`
	PreloadDuration int  `json:"preloadDuration,omitempty"` // seconds of leading video to warm
	ChunkSize       int  `json:"chunkSize,omitempty"`       // bytes
	AdaptiveBitrate bool `json:"adaptiveBitrate"`
}

// EpisodeAnalytics mirrors TitleAnalytics at episode granularity.
type EpisodeAnalytics struct {
	TotalViews       int64   `json:"totalViews"`
	TotalLikes       int64   `json:"totalLikes"`
	TotalWatchTime   int64   `json:"totalWatchTime"` // seconds
	TotalCompletions int64   `json:"totalCompletions"`
	CompletionRate   float64 `json:"completionRate"`
	DropOffPoints    []int   `json:"dropOffPoints,omitempty"` // seconds into playback
}

// VariantByResolution returns the variant with the given resolution, if present.
func (e *Episode) VariantByResolution(resolution string) *QualityVariant {
	for i := range e.QualityVariants {
		if e.QualityVariants[i].Resolution == resolution {
			return &e.QualityVariants[i]
		}
	}
	return nil
}

// Before reports whether e sorts ahead of other in (season, episode) order.
func (e *Episode) Before(other *Episode) bool {
	if e.SeasonNumber != other.SeasonNumber {
		return e.SeasonNumber < other.SeasonNumber
	}
	return e.EpisodeNumber < other.EpisodeNumber
}
