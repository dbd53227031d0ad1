package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/RADreams/Cino-backend/config"
	"github.com/RADreams/Cino-backend/services/analytics"
	"github.com/RADreams/Cino-backend/services/cache"
)

type cacheStatter interface {
	Stats() cache.Stats
}

type analyticsStatter interface {
	Stats() analytics.Stats
	SpoolFiles() ([]string, error)
}

type taskStatter interface {
	GetTaskStatus() []config.ScheduledTask
}

type storeCounter interface {
	Counts(ctx context.Context) (titles, episodes, watchRecords int64, err error)
}

// StatusHandler reports process health: uptime, catalog size, cache hit
// rates, analytics buffer depth, and scheduled task state.
type StatusHandler struct {
	Cache     cacheStatter
	Analytics analyticsStatter
	Scheduler taskStatter
	Store     storeCounter
	StartedAt time.Time
	Version   string
}

func NewStatusHandler(cacheSvc cacheStatter, analyticsSvc analyticsStatter, schedulerSvc taskStatter, st storeCounter, version string) *StatusHandler {
	return &StatusHandler{
		Cache:     cacheSvc,
		Analytics: analyticsSvc,
		Scheduler: schedulerSvc,
		Store:     st,
		StartedAt: time.Now(),
		Version:   version,
	}
}

// Status handles GET /api/status.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"status":        "ok",
		"version":       h.Version,
		"uptimeSeconds": int64(time.Since(h.StartedAt).Seconds()),
	}

	if h.Cache != nil {
		payload["cache"] = h.Cache.Stats()
	}
	if h.Analytics != nil {
		stats := h.Analytics.Stats()
		spool := map[string]interface{}{"stats": stats}
		if files, err := h.Analytics.SpoolFiles(); err == nil {
			spool["spoolDepth"] = len(files)
		}
		payload["analytics"] = spool
	}
	if h.Scheduler != nil {
		payload["scheduledTasks"] = h.Scheduler.GetTaskStatus()
	}
	if h.Store != nil {
		if titles, episodes, records, err := h.Store.Counts(r.Context()); err == nil {
			payload["catalog"] = map[string]int64{
				"titles":       titles,
				"episodes":     episodes,
				"watchRecords": records,
			}
		}
	}

	writeData(w, http.StatusOK, payload)
}
