package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server         ServerSettings         `json:"server"`
	Database       DatabaseSettings       `json:"database"`
	Cache          CacheSettings          `json:"cache"`
	Feed           FeedSettings           `json:"feed"`
	Progress       ProgressSettings       `json:"progress"`
	Prefetch       PrefetchSettings       `json:"prefetch"`
	Analytics      AnalyticsSettings      `json:"analytics"`
	RateLimit      RateLimitSettings      `json:"rateLimit"`
	ScheduledTasks ScheduledTasksSettings `json:"scheduledTasks,omitempty"`
	Log            LogConfig              `json:"log"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DatabaseSettings defines the SQLite catalog/progress store location.
type DatabaseSettings struct {
	Path string `json:"path"`
}

// CacheBackend selects the cache store implementation.
type CacheBackend string

const (
	CacheBackendMemory CacheBackend = "memory"
	CacheBackendBadger CacheBackend = "badger"
)

// CacheTTLSettings are the shared TTL tiers, in seconds.
type CacheTTLSettings struct {
	Short    int `json:"short"`
	Medium   int `json:"medium"`
	Long     int `json:"long"`
	VeryLong int `json:"veryLong"`
}

// CacheSettings defines cache backend selection and TTL tiers.
type CacheSettings struct {
	Backend   CacheBackend     `json:"backend"`
	Directory string           `json:"directory"`
	TTL       CacheTTLSettings `json:"ttl"`
}

// PoolRatios split a requested page across the four candidate pools.
// Each pool receives ceil(ratio * limit) candidates.
type PoolRatios struct {
	Personalized float64 `json:"personalized"`
	Trending     float64 `json:"trending"`
	Popular      float64 `json:"popular"`
	Fresh        float64 `json:"fresh"`
}

// ScoringWeights parameterize the feed ranking function. They are tuned for
// the current catalog shape and deliberately live in configuration.
type ScoringWeights struct {
	Popularity    float64 `json:"popularity"`
	Trending      float64 `json:"trending"`
	FeedPriority  float64 `json:"feedPriority"`
	FeedWeight    float64 `json:"feedWeight"`
	GenreMatch    float64 `json:"genreMatch"`
	LanguageMatch float64 `json:"languageMatch"`
	FreshWeek     float64 `json:"freshWeek"`
	FreshMonth    float64 `json:"freshMonth"`
	Completion    float64 `json:"completion"`
	JitterMax     float64 `json:"jitterMax"`
}

// PopularityWeights blend the component scores of the popularity recompute.
type PopularityWeights struct {
	Views      float64 `json:"views"`
	Engagement float64 `json:"engagement"`
	Rating     float64 `json:"rating"`
	Recency    float64 `json:"recency"`
}

// FeedSettings controls feed assembly, ranking, and the cache TTLs of the
// read-side endpoints.
type FeedSettings struct {
	MaxPageSize        int               `json:"maxPageSize"`
	DefaultPageSize    int               `json:"defaultPageSize"`
	Ratios             PoolRatios        `json:"ratios"`
	Scoring            ScoringWeights    `json:"scoring"`
	Popularity         PopularityWeights `json:"popularity"`
	TrendingWindowDays int               `json:"trendingWindowDays"`
	FreshWindowDays    int               `json:"freshWindowDays"`
	AuthTTLSeconds     int               `json:"authTtlSeconds"` // cached feed pages, authenticated
	AnonTTLSeconds     int               `json:"anonTtlSeconds"` // cached feed pages, anonymous
	SearchTTLSeconds   int               `json:"searchTtlSeconds"`
	SearchMinLength    int               `json:"searchMinLength"`
}

// ProgressSettings hold the completion and continue-watching thresholds.
type ProgressSettings struct {
	CompletionThreshold float64 `json:"completionThreshold"` // percent, completion stamp
	ContinueMinPercent  float64 `json:"continueMinPercent"`  // exclusive lower bound
	ContinueMaxPercent  float64 `json:"continueMaxPercent"`  // exclusive upper bound
	SessionGapMinutes   int     `json:"sessionGapMinutes"`   // inactivity that starts a new session
}

// PrefetchSettings size the prefetch planner.
type PrefetchSettings struct {
	MaxCards           int                `json:"maxCards"`        // cards per page that get a plan
	EpisodesPerCard    int                `json:"episodesPerCard"` // upcoming episodes per plan
	PrefetchResolution string             `json:"prefetchResolution"`
	StreamResolution   string             `json:"streamResolution"`
	MBPerMinute        map[string]float64 `json:"mbPerMinute"` // bandwidth estimate per rendition
	PlanTTLSeconds     int                `json:"planTtlSeconds"`
	UserPlanTTLSeconds int                `json:"userPlanTtlSeconds"`
	SmartLowThreshold  float64            `json:"smartLowThreshold"`  // avg episodes/session below → minimum plan
	SmartHighThreshold float64            `json:"smartHighThreshold"` // avg episodes/session above → full plan
	SmartMinCards      int                `json:"smartMinCards"`
	SmartDefaultCards  int                `json:"smartDefaultCards"`
}

// AnalyticsSettings size the event dispatcher and its on-disk spool.
type AnalyticsSettings struct {
	BufferSize           int    `json:"bufferSize"`
	BatchSize            int    `json:"batchSize"`
	SpoolDirectory       string `json:"spoolDirectory"`
	FlushIntervalSeconds int    `json:"flushIntervalSeconds"`
}

// RateLimitSettings configure the per-IP limiter in front of the API.
type RateLimitSettings struct {
	Disabled          bool    `json:"disabled"`
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	Burst             int     `json:"burst"`
	CleanupMinutes    int     `json:"cleanupMinutes"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	File       string `json:"file"`
	Level      string `json:"level"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// ScheduledTaskType defines the type of scheduled task.
type ScheduledTaskType string

const (
	ScheduledTaskTypePopularityRefresh ScheduledTaskType = "popularity_refresh"
	ScheduledTaskTypeCacheMaintenance  ScheduledTaskType = "cache_maintenance"
	ScheduledTaskTypeAnalyticsFlush    ScheduledTaskType = "analytics_flush"
)

// ScheduledTaskFrequency defines how often a task runs.
type ScheduledTaskFrequency string

const (
	ScheduledTaskFrequency1Min    ScheduledTaskFrequency = "1min"
	ScheduledTaskFrequency5Min    ScheduledTaskFrequency = "5min"
	ScheduledTaskFrequency15Min   ScheduledTaskFrequency = "15min"
	ScheduledTaskFrequency30Min   ScheduledTaskFrequency = "30min"
	ScheduledTaskFrequencyHourly  ScheduledTaskFrequency = "hourly"
	ScheduledTaskFrequency6Hours  ScheduledTaskFrequency = "6hours"
	ScheduledTaskFrequency12Hours ScheduledTaskFrequency = "12hours"
	ScheduledTaskFrequencyDaily   ScheduledTaskFrequency = "daily"
)

// ScheduledTaskStatus represents the last run status.
type ScheduledTaskStatus string

const (
	ScheduledTaskStatusPending ScheduledTaskStatus = "pending"
	ScheduledTaskStatusRunning ScheduledTaskStatus = "running"
	ScheduledTaskStatusSuccess ScheduledTaskStatus = "success"
	ScheduledTaskStatusError   ScheduledTaskStatus = "error"
)

// ScheduledTask represents a single scheduled task configuration.
type ScheduledTask struct {
	ID             string                 `json:"id"`
	Type           ScheduledTaskType      `json:"type"`
	Name           string                 `json:"name"`
	Enabled        bool                   `json:"enabled"`
	Frequency      ScheduledTaskFrequency `json:"frequency"`
	LastRunAt      *time.Time             `json:"lastRunAt,omitempty"`
	LastStatus     ScheduledTaskStatus    `json:"lastStatus"`
	LastError      string                 `json:"lastError,omitempty"`
	ItemsProcessed int                    `json:"itemsProcessed"`
	CreatedAt      time.Time              `json:"createdAt"`
}

// ScheduledTasksSettings contains all scheduled task configurations.
type ScheduledTasksSettings struct {
	Tasks                []ScheduledTask `json:"tasks"`
	CheckIntervalSeconds int             `json:"checkIntervalSeconds"`
}

// DefaultSettings returns sane defaults for a fresh install.
func DefaultSettings() Settings {
	return Settings{
		Server:   ServerSettings{Host: "0.0.0.0", Port: 8787},
		Database: DatabaseSettings{Path: "cache/cino.db"},
		Cache: CacheSettings{
			Backend:   CacheBackendMemory,
			Directory: "cache",
			TTL:       CacheTTLSettings{Short: 300, Medium: 1800, Long: 3600, VeryLong: 7200},
		},
		Feed: FeedSettings{
			MaxPageSize:     100,
			DefaultPageSize: 10,
			Ratios:          PoolRatios{Personalized: 0.4, Trending: 0.3, Popular: 0.2, Fresh: 0.1},
			Scoring: ScoringWeights{
				Popularity:    0.3,
				Trending:      0.2,
				FeedPriority:  10,
				FeedWeight:    5,
				GenreMatch:    20,
				LanguageMatch: 15,
				FreshWeek:     10,
				FreshMonth:    5,
				Completion:    0.1,
				JitterMax:     10,
			},
			Popularity:         PopularityWeights{Views: 0.4, Engagement: 0.3, Rating: 0.2, Recency: 0.1},
			TrendingWindowDays: 7,
			FreshWindowDays:    30,
			AuthTTLSeconds:     900,
			AnonTTLSeconds:     1800,
			SearchTTLSeconds:   1800,
			SearchMinLength:    2,
		},
		Progress: ProgressSettings{
			CompletionThreshold: 80,
			ContinueMinPercent:  5,
			ContinueMaxPercent:  80,
			SessionGapMinutes:   30,
		},
		Prefetch: PrefetchSettings{
			MaxCards:           7,
			EpisodesPerCard:    5,
			PrefetchResolution: "480p",
			StreamResolution:   "720p",
			MBPerMinute:        map[string]float64{"480p": 0.5, "720p": 1.2, "1080p": 2.5, "4k": 6.0},
			PlanTTLSeconds:     1200,
			UserPlanTTLSeconds: 600,
			SmartLowThreshold:  2,
			SmartHighThreshold: 5,
			SmartMinCards:      2,
			SmartDefaultCards:  3,
		},
		Analytics: AnalyticsSettings{
			BufferSize:           1024,
			BatchSize:            256,
			SpoolDirectory:       "cache/analytics",
			FlushIntervalSeconds: 30,
		},
		RateLimit: RateLimitSettings{
			Disabled:          false,
			RequestsPerSecond: 20,
			Burst:             40,
			CleanupMinutes:    10,
		},
		ScheduledTasks: ScheduledTasksSettings{
			Tasks: []ScheduledTask{
				{ID: "popularity-refresh", Type: ScheduledTaskTypePopularityRefresh, Name: "Popularity Refresh", Enabled: true, Frequency: ScheduledTaskFrequencyHourly, LastStatus: ScheduledTaskStatusPending, CreatedAt: time.Now().UTC()},
				{ID: "cache-maintenance", Type: ScheduledTaskTypeCacheMaintenance, Name: "Cache Maintenance", Enabled: true, Frequency: ScheduledTaskFrequency30Min, LastStatus: ScheduledTaskStatusPending, CreatedAt: time.Now().UTC()},
				{ID: "analytics-flush", Type: ScheduledTaskTypeAnalyticsFlush, Name: "Analytics Flush", Enabled: true, Frequency: ScheduledTaskFrequency5Min, LastStatus: ScheduledTaskStatusPending, CreatedAt: time.Now().UTC()},
			},
			CheckIntervalSeconds: 60,
		},
		Log: LogConfig{
			File:       "cache/logs/backend.log",
			Level:      "info",
			MaxSize:    50,   // 50 MB per file
			MaxBackups: 3,    // keep 3 old files
			MaxAge:     7,    // 7 days
			Compress:   true, // compress old files
		},
	}
}

// Manager loads and persists settings to a JSON file.
type Manager struct {
	path string
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// EnsureDir ensures parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads settings.json from disk or creates defaults if missing.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		// create with defaults
		defaults := DefaultSettings()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}
	f, err := os.Open(m.path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	var s Settings
	dec := json.NewDecoder(f)
	if err := dec.Decode(&s); err != nil {
		return Settings{}, err
	}

	// Backfill defaults for newly introduced settings when config predates them
	defaults := DefaultSettings()

	if strings.TrimSpace(s.Server.Host) == "" {
		s.Server.Host = defaults.Server.Host
	}
	if s.Server.Port == 0 {
		s.Server.Port = defaults.Server.Port
	}
	if strings.TrimSpace(s.Database.Path) == "" {
		s.Database.Path = defaults.Database.Path
	}

	if s.Cache.Backend == "" {
		s.Cache.Backend = defaults.Cache.Backend
	}
	if strings.TrimSpace(s.Cache.Directory) == "" {
		s.Cache.Directory = defaults.Cache.Directory
	}
	if s.Cache.TTL.Short == 0 {
		s.Cache.TTL.Short = defaults.Cache.TTL.Short
	}
	if s.Cache.TTL.Medium == 0 {
		s.Cache.TTL.Medium = defaults.Cache.TTL.Medium
	}
	if s.Cache.TTL.Long == 0 {
		s.Cache.TTL.Long = defaults.Cache.TTL.Long
	}
	if s.Cache.TTL.VeryLong == 0 {
		s.Cache.TTL.VeryLong = defaults.Cache.TTL.VeryLong
	}

	if s.Feed.MaxPageSize == 0 {
		s.Feed.MaxPageSize = defaults.Feed.MaxPageSize
	}
	if s.Feed.DefaultPageSize == 0 {
		s.Feed.DefaultPageSize = defaults.Feed.DefaultPageSize
	}
	if s.Feed.Ratios == (PoolRatios{}) {
		s.Feed.Ratios = defaults.Feed.Ratios
	}
	if s.Feed.Scoring == (ScoringWeights{}) {
		s.Feed.Scoring = defaults.Feed.Scoring
	}
	if s.Feed.Popularity == (PopularityWeights{}) {
		s.Feed.Popularity = defaults.Feed.Popularity
	}
	if s.Feed.TrendingWindowDays == 0 {
		s.Feed.TrendingWindowDays = defaults.Feed.TrendingWindowDays
	}
	if s.Feed.FreshWindowDays == 0 {
		s.Feed.FreshWindowDays = defaults.Feed.FreshWindowDays
	}
	if s.Feed.AuthTTLSeconds == 0 {
		s.Feed.AuthTTLSeconds = defaults.Feed.AuthTTLSeconds
	}
	if s.Feed.AnonTTLSeconds == 0 {
		s.Feed.AnonTTLSeconds = defaults.Feed.AnonTTLSeconds
	}
	if s.Feed.SearchTTLSeconds == 0 {
		s.Feed.SearchTTLSeconds = defaults.Feed.SearchTTLSeconds
	}
	if s.Feed.SearchMinLength == 0 {
		s.Feed.SearchMinLength = defaults.Feed.SearchMinLength
	}

	if s.Progress.CompletionThreshold == 0 {
		s.Progress.CompletionThreshold = defaults.Progress.CompletionThreshold
	}
	if s.Progress.ContinueMinPercent == 0 {
		s.Progress.ContinueMinPercent = defaults.Progress.ContinueMinPercent
	}
	if s.Progress.ContinueMaxPercent == 0 {
		s.Progress.ContinueMaxPercent = defaults.Progress.ContinueMaxPercent
	}
	if s.Progress.SessionGapMinutes == 0 {
		s.Progress.SessionGapMinutes = defaults.Progress.SessionGapMinutes
	}

	if s.Prefetch.MaxCards == 0 {
		s.Prefetch.MaxCards = defaults.Prefetch.MaxCards
	}
	if s.Prefetch.EpisodesPerCard == 0 {
		s.Prefetch.EpisodesPerCard = defaults.Prefetch.EpisodesPerCard
	}
	if strings.TrimSpace(s.Prefetch.PrefetchResolution) == "" {
		s.Prefetch.PrefetchResolution = defaults.Prefetch.PrefetchResolution
	}
	if strings.TrimSpace(s.Prefetch.StreamResolution) == "" {
		s.Prefetch.StreamResolution = defaults.Prefetch.StreamResolution
	}
	if len(s.Prefetch.MBPerMinute) == 0 {
		s.Prefetch.MBPerMinute = defaults.Prefetch.MBPerMinute
	}
	if s.Prefetch.PlanTTLSeconds == 0 {
		s.Prefetch.PlanTTLSeconds = defaults.Prefetch.PlanTTLSeconds
	}
	if s.Prefetch.UserPlanTTLSeconds == 0 {
		s.Prefetch.UserPlanTTLSeconds = defaults.Prefetch.UserPlanTTLSeconds
	}
	if s.Prefetch.SmartLowThreshold == 0 {
		s.Prefetch.SmartLowThreshold = defaults.Prefetch.SmartLowThreshold
	}
	if s.Prefetch.SmartHighThreshold == 0 {
		s.Prefetch.SmartHighThreshold = defaults.Prefetch.SmartHighThreshold
	}
	if s.Prefetch.SmartMinCards == 0 {
		s.Prefetch.SmartMinCards = defaults.Prefetch.SmartMinCards
	}
	if s.Prefetch.SmartDefaultCards == 0 {
		s.Prefetch.SmartDefaultCards = defaults.Prefetch.SmartDefaultCards
	}

	if s.Analytics.BufferSize == 0 {
		s.Analytics.BufferSize = defaults.Analytics.BufferSize
	}
	if s.Analytics.BatchSize == 0 {
		s.Analytics.BatchSize = defaults.Analytics.BatchSize
	}
	if strings.TrimSpace(s.Analytics.SpoolDirectory) == "" {
		s.Analytics.SpoolDirectory = defaults.Analytics.SpoolDirectory
	}
	if s.Analytics.FlushIntervalSeconds == 0 {
		s.Analytics.FlushIntervalSeconds = defaults.Analytics.FlushIntervalSeconds
	}

	if s.RateLimit.RequestsPerSecond == 0 {
		s.RateLimit.RequestsPerSecond = defaults.RateLimit.RequestsPerSecond
	}
	if s.RateLimit.Burst == 0 {
		s.RateLimit.Burst = defaults.RateLimit.Burst
	}
	if s.RateLimit.CleanupMinutes == 0 {
		s.RateLimit.CleanupMinutes = defaults.RateLimit.CleanupMinutes
	}

	if s.ScheduledTasks.CheckIntervalSeconds == 0 {
		s.ScheduledTasks.CheckIntervalSeconds = defaults.ScheduledTasks.CheckIntervalSeconds
	}
	if len(s.ScheduledTasks.Tasks) == 0 {
		s.ScheduledTasks.Tasks = defaults.ScheduledTasks.Tasks
	}

	if strings.TrimSpace(s.Log.File) == "" {
		s.Log.File = defaults.Log.File
	}
	if s.Log.MaxSize == 0 {
		s.Log.MaxSize = defaults.Log.MaxSize
	}
	if s.Log.MaxBackups == 0 {
		s.Log.MaxBackups = defaults.Log.MaxBackups
	}
	if s.Log.MaxAge == 0 {
		s.Log.MaxAge = defaults.Log.MaxAge
	}

	return s, nil
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}

// TaskByID returns a scheduled task by its ID, or nil if not found.
func (s *ScheduledTasksSettings) TaskByID(id string) *ScheduledTask {
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return &s.Tasks[i]
		}
	}
	return nil
}

