package analytics_test

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/RADreams/Cino-backend/config"
	"github.com/RADreams/Cino-backend/models"
	"github.com/RADreams/Cino-backend/services/analytics"
)

func newTestService(t *testing.T, settings config.AnalyticsSettings) (*analytics.Service, afero.Fs) {
	t.Helper()

	if settings.SpoolDirectory == "" {
		settings.SpoolDirectory = "spool"
	}
	if settings.FlushIntervalSeconds == 0 {
		settings.FlushIntervalSeconds = 3600
	}

	fs := afero.NewMemMapFs()
	svc, err := analytics.NewService(settings, fs)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return svc, fs
}

func readSpooledEvents(t *testing.T, fs afero.Fs, dir, name string) []models.AnalyticsEvent {
	t.Helper()

	data, err := afero.ReadFile(fs, filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("failed to read spool file: %v", err)
	}

	var events []models.AnalyticsEvent
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var ev models.AnalyticsEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("failed to decode spooled line %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestTrackStampsAndSpoolsOnClose(t *testing.T) {
	svc, fs := newTestService(t, config.AnalyticsSettings{BufferSize: 16, BatchSize: 256})

	svc.Track(models.AnalyticsEvent{UserID: "u1", EventType: models.EventVideoStart, EpisodeID: "e1"})
	svc.Track(models.AnalyticsEvent{UserID: "u1", EventType: models.EventLike, ContentID: "t1"})
	svc.Track(models.AnalyticsEvent{EventType: ""}) // ignored

	if err := svc.Close(); err != nil {
		t.Fatalf("close returned error: %v", err)
	}

	files, err := svc.SpoolFiles()
	if err != nil {
		t.Fatalf("spool files returned error: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected one spool file, got %v", files)
	}

	events := readSpooledEvents(t, fs, "spool", files[0])
	if len(events) != 2 {
		t.Fatalf("expected 2 spooled events, got %d", len(events))
	}

	first := events[0]
	if first.ID == "" {
		t.Fatal("expected event ID to be stamped")
	}
	if first.Category != models.CategoryVideoPlayback {
		t.Fatalf("expected video_playback category, got %q", first.Category)
	}
	if first.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be stamped")
	}
	if events[1].Category != models.CategoryEngagement {
		t.Fatalf("expected engagement category, got %q", events[1].Category)
	}

	stats := svc.Stats()
	if stats.Received != 2 || stats.Spooled != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.ByCategory["video_playback"] != 1 || stats.ByCategory["engagement"] != 1 {
		t.Fatalf("unexpected category counts: %+v", stats.ByCategory)
	}
}

func TestBatchThresholdFlushes(t *testing.T) {
	svc, _ := newTestService(t, config.AnalyticsSettings{BufferSize: 16, BatchSize: 2})
	defer svc.Close()

	svc.Track(models.AnalyticsEvent{UserID: "u1", EventType: models.EventSwipeRight})
	svc.Track(models.AnalyticsEvent{UserID: "u1", EventType: models.EventSwipeLeft})

	// The dispatcher flushes asynchronously once the batch fills.
	deadline := time.Now().Add(2 * time.Second)
	for {
		files, err := svc.SpoolFiles()
		if err != nil {
			t.Fatalf("spool files returned error: %v", err)
		}
		if len(files) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected batch to flush to spool")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := svc.Stats().Spooled; got != 2 {
		t.Fatalf("expected 2 spooled events, got %d", got)
	}
}

func TestEmitServerEvent(t *testing.T) {
	svc, fs := newTestService(t, config.AnalyticsSettings{BufferSize: 16, BatchSize: 256})

	svc.Emit("u1", models.EventContentView, map[string]interface{}{"feedType": "personalized"})
	if err := svc.Close(); err != nil {
		t.Fatalf("close returned error: %v", err)
	}

	files, err := svc.SpoolFiles()
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one spool file, got %v (err %v)", files, err)
	}

	events := readSpooledEvents(t, fs, "spool", files[0])
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].EventType != models.EventContentView {
		t.Fatalf("expected content_view, got %q", events[0].EventType)
	}
	if events[0].Category != models.CategoryNavigation {
		t.Fatalf("expected navigation category, got %q", events[0].Category)
	}
	if events[0].EventData["feedType"] != "personalized" {
		t.Fatalf("expected feedType in event data, got %+v", events[0].EventData)
	}
}

func TestTrackAfterCloseNeverFlushes(t *testing.T) {
	svc, _ := newTestService(t, config.AnalyticsSettings{BufferSize: 1, BatchSize: 256})

	if err := svc.Close(); err != nil {
		t.Fatalf("close returned error: %v", err)
	}

	svc.Track(models.AnalyticsEvent{UserID: "u1", EventType: models.EventAppOpen})
	svc.Track(models.AnalyticsEvent{UserID: "u1", EventType: models.EventAppClose})

	stats := svc.Stats()
	if stats.Dropped != 1 {
		t.Fatalf("expected overflow event to be dropped, got %+v", stats)
	}

	files, err := svc.SpoolFiles()
	if err != nil {
		t.Fatalf("spool files returned error: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no spool files, got %v", files)
	}
}

func TestPruneSpool(t *testing.T) {
	svc, _ := newTestService(t, config.AnalyticsSettings{BufferSize: 16, BatchSize: 256})

	svc.Emit("u1", models.EventSearch, nil)
	if err := svc.Close(); err != nil {
		t.Fatalf("close returned error: %v", err)
	}

	removed, err := svc.PruneSpool(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("prune returned error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 file pruned, got %d", removed)
	}

	removed, err = svc.PruneSpool(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("second prune returned error: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected nothing to prune, got %d", removed)
	}
}
