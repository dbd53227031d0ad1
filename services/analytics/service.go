package analytics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/RADreams/Cino-backend/config"
	"github.com/RADreams/Cino-backend/models"
)

// Service ingests playback and engagement events off the request path. Track
// never blocks: events land in a bounded buffer, a dispatcher batches them,
// and full batches are spooled to disk as JSON Lines for the downstream
// pipeline. When the buffer is full events are dropped, never queued against
// the caller.
type Service struct {
	settings config.AnalyticsSettings
	fs       afero.Fs

	events chan models.AnalyticsEvent

	mu      sync.Mutex
	pending []models.AnalyticsEvent

	received atomic.Int64
	dropped  atomic.Int64
	spooled  atomic.Int64

	catMu      sync.Mutex
	byCategory map[models.EventCategory]int64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Stats is a snapshot of the event pipeline for the status endpoint.
type Stats struct {
	Received   int64            `json:"received"`
	Dropped    int64            `json:"dropped"`
	Spooled    int64            `json:"spooled"`
	Buffered   int              `json:"buffered"`
	ByCategory map[string]int64 `json:"byCategory"`
}

// NewService creates the analytics pipeline and starts its dispatcher. The
// fs parameter may be nil, in which case the OS filesystem is used.
func NewService(settings config.AnalyticsSettings, fs afero.Fs) (*Service, error) {
	if settings.BufferSize <= 0 {
		settings.BufferSize = 1024
	}
	if settings.BatchSize <= 0 {
		settings.BatchSize = 256
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}

	if err := fs.MkdirAll(settings.SpoolDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}

	svc := &Service{
		settings:   settings,
		fs:         fs,
		events:     make(chan models.AnalyticsEvent, settings.BufferSize),
		byCategory: make(map[models.EventCategory]int64),
		done:       make(chan struct{}),
	}

	svc.wg.Add(1)
	go svc.dispatch()

	return svc, nil
}

// Track accepts one event. Missing ID, category and timestamp are stamped
// here so callers only fill what they know. Returns immediately; if the
// buffer is full the event is counted as dropped.
func (s *Service) Track(ev models.AnalyticsEvent) {
	if ev.EventType == "" {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Category == "" {
		ev.Category = models.CategoryFor(ev.EventType)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	} else {
		ev.Timestamp = ev.Timestamp.UTC()
	}

	select {
	case s.events <- ev:
		s.received.Add(1)
		s.catMu.Lock()
		s.byCategory[ev.Category]++
		s.catMu.Unlock()
	default:
		s.dropped.Add(1)
	}
}

// Emit is a convenience for server-originated events.
func (s *Service) Emit(userID string, t models.EventType, data map[string]interface{}) {
	s.Track(models.AnalyticsEvent{
		UserID:    userID,
		EventType: t,
		EventData: data,
	})
}

func (s *Service) dispatch() {
	defer s.wg.Done()

	interval := time.Duration(s.settings.FlushIntervalSeconds) * time.Second
	if interval < time.Second {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			s.drain()
			if err := s.Flush(); err != nil {
				log.Printf("[analytics] Final flush failed: %v", err)
			}
			return
		case ev := <-s.events:
			if s.appendPending(ev) {
				if err := s.Flush(); err != nil {
					log.Printf("[analytics] Flush failed: %v", err)
				}
			}
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				log.Printf("[analytics] Flush failed: %v", err)
			}
		}
	}
}

// appendPending adds the event to the pending batch and reports whether the
// batch reached the flush threshold.
func (s *Service) appendPending(ev models.AnalyticsEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, ev)
	return len(s.pending) >= s.settings.BatchSize
}

// drain moves whatever is still buffered into the pending batch.
func (s *Service) drain() {
	for {
		select {
		case ev := <-s.events:
			s.mu.Lock()
			s.pending = append(s.pending, ev)
			s.mu.Unlock()
		default:
			return
		}
	}
}

// Flush writes the pending batch to a new spool file. Safe to call from any
// goroutine. A failed write puts the batch back so the next flush retries it.
func (s *Service) Flush() error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	encoded := 0
	for _, ev := range batch {
		if err := enc.Encode(ev); err != nil {
			log.Printf("[analytics] Dropping unencodable event %s: %v", ev.ID, err)
			s.dropped.Add(1)
			continue
		}
		encoded++
	}

	if encoded == 0 {
		return nil
	}

	name := fmt.Sprintf("events-%s-%s.jsonl", time.Now().UTC().Format("20060102T150405"), uuid.NewString()[:8])
	path := filepath.Join(s.settings.SpoolDirectory, name)

	err := retry.Do(
		func() error {
			return afero.WriteFile(s.fs, path, buf.Bytes(), 0o644)
		},
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		s.mu.Lock()
		s.pending = append(batch, s.pending...)
		s.mu.Unlock()
		return fmt.Errorf("write spool file: %w", err)
	}

	s.spooled.Add(int64(encoded))
	return nil
}

// SpoolFiles returns the spool file names waiting for pickup, oldest first.
func (s *Service) SpoolFiles() ([]string, error) {
	infos, err := afero.ReadDir(s.fs, s.settings.SpoolDirectory)
	if err != nil {
		return nil, fmt.Errorf("read spool dir: %w", err)
	}

	var names []string
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".jsonl") {
			continue
		}
		names = append(names, info.Name())
	}

	sort.Strings(names)
	return names, nil
}

// PruneSpool removes spool files last modified before cutoff and returns how
// many were deleted.
func (s *Service) PruneSpool(cutoff time.Time) (int, error) {
	infos, err := afero.ReadDir(s.fs, s.settings.SpoolDirectory)
	if err != nil {
		return 0, fmt.Errorf("read spool dir: %w", err)
	}

	removed := 0
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".jsonl") {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := s.fs.Remove(filepath.Join(s.settings.SpoolDirectory, info.Name())); err != nil {
			return removed, fmt.Errorf("remove spool file %s: %w", info.Name(), err)
		}
		removed++
	}

	return removed, nil
}

// Stats returns a snapshot of pipeline counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	buffered := len(s.events) + len(s.pending)
	s.mu.Unlock()

	s.catMu.Lock()
	byCategory := make(map[string]int64, len(s.byCategory))
	for cat, n := range s.byCategory {
		byCategory[string(cat)] = n
	}
	s.catMu.Unlock()

	return Stats{
		Received:   s.received.Load(),
		Dropped:    s.dropped.Load(),
		Spooled:    s.spooled.Load(),
		Buffered:   buffered,
		ByCategory: byCategory,
	}
}

// Close stops the dispatcher after draining and flushing buffered events.
// Events tracked after Close are never flushed.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	return nil
}
