package models

import "time"

// EventType enumerates the analytics events the backend emits or accepts.
type EventType string

const (
	EventVideoStart   EventType = "video_start"
	EventVideoEnd     EventType = "video_end"
	EventVideoPause   EventType = "video_pause"
	EventVideoResume  EventType = "video_resume"
	EventSwipeLeft    EventType = "swipe_left"
	EventSwipeRight   EventType = "swipe_right"
	EventTapEpisode   EventType = "tap_episode"
	EventLike         EventType = "like"
	EventShare        EventType = "share"
	EventAppOpen      EventType = "app_open"
	EventAppClose     EventType = "app_close"
	EventSessionStart EventType = "session_start"
	EventSessionEnd   EventType = "session_end"
	EventContentView  EventType = "content_view"
	EventSearch       EventType = "search"
	EventError        EventType = "error"
	EventBufferStart  EventType = "buffer_start"
	EventBufferEnd    EventType = "buffer_end"
)

// EventCategory groups event types for downstream aggregation.
type EventCategory string

const (
	CategoryUserInteraction EventCategory = "user_interaction"
	CategoryVideoPlayback   EventCategory = "video_playback"
	CategoryNavigation      EventCategory = "navigation"
	CategoryEngagement      EventCategory = "engagement"
	CategoryPerformance     EventCategory = "performance"
)

var eventCategories = map[EventType]EventCategory{
	EventVideoStart:   CategoryVideoPlayback,
	EventVideoEnd:     CategoryVideoPlayback,
	EventVideoPause:   CategoryVideoPlayback,
	EventVideoResume:  CategoryVideoPlayback,
	EventBufferStart:  CategoryPerformance,
	EventBufferEnd:    CategoryPerformance,
	EventError:        CategoryPerformance,
	EventSwipeLeft:    CategoryUserInteraction,
	EventSwipeRight:   CategoryUserInteraction,
	EventTapEpisode:   CategoryUserInteraction,
	EventLike:         CategoryEngagement,
	EventShare:        CategoryEngagement,
	EventContentView:  CategoryNavigation,
	EventSearch:       CategoryNavigation,
	EventAppOpen:      CategoryNavigation,
	EventAppClose:     CategoryNavigation,
	EventSessionStart: CategoryUserInteraction,
	EventSessionEnd:   CategoryUserInteraction,
}

// CategoryFor returns the category an event type belongs to, defaulting to
// user_interaction for unknown types.
func CategoryFor(t EventType) EventCategory {
	if c, ok := eventCategories[t]; ok {
		return c
	}
	return CategoryUserInteraction
}

// DeviceInfo describes the client that produced an event.
type DeviceInfo struct {
	DeviceID  string `json:"deviceId,omitempty"`
	Platform  string `json:"platform,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// AnalyticsEvent is one tracked occurrence. Emission is fire-and-forget;
// events are spooled locally and shipped by the dispatcher.
type AnalyticsEvent struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"userId,omitempty"`
	EventType  EventType              `json:"eventType"`
	Category   EventCategory          `json:"category"`
	ContentID  string                 `json:"contentId,omitempty"`
	EpisodeID  string                 `json:"episodeId,omitempty"`
	SessionID  string                 `json:"sessionId,omitempty"`
	EventData  map[string]interface{} `json:"eventData,omitempty"`
	DeviceInfo DeviceInfo             `json:"deviceInfo,omitempty"`
	Location   string                 `json:"location,omitempty"` // coarse region code
	Timestamp  time.Time              `json:"timestamp"`
}
