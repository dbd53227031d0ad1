// Package scheduler runs the recurring background tasks: the hourly
// popularity refresh, cache and session housekeeping, and the analytics
// spool flush. Task definitions live in settings; run state (last run,
// status, error) is written back through the config manager so it survives
// restarts and shows up on the status endpoint.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/RADreams/Cino-backend/config"
	"github.com/RADreams/Cino-backend/internal/store"
	"github.com/RADreams/Cino-backend/services/analytics"
	"github.com/RADreams/Cino-backend/services/cache"
	"github.com/RADreams/Cino-backend/services/catalog"
)

const (
	// sessionRetention bounds how far back viewing-session rows are kept;
	// the smart prefetch planner only ever reads the last seven days.
	sessionRetention = 30 * 24 * time.Hour

	// spoolRetention bounds how long flushed analytics files wait for
	// pickup before maintenance removes them.
	spoolRetention = 7 * 24 * time.Hour
)

// Service manages scheduled task execution.
type Service struct {
	configManager *config.Manager
	catalog       *catalog.Service
	cache         *cache.Service
	analytics     *analytics.Service
	store         *store.Store

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Task state tracking (in-memory, not persisted)
	taskRunning map[string]bool
	taskMu      sync.RWMutex

	// statusMu serializes the load-modify-save of task status so two
	// finishing tasks cannot overwrite each other's stamps.
	statusMu sync.Mutex
}

// NewService creates a new scheduler service.
func NewService(
	configManager *config.Manager,
	catalogSvc *catalog.Service,
	cacheSvc *cache.Service,
	analyticsSvc *analytics.Service,
	st *store.Store,
) *Service {
	return &Service{
		configManager: configManager,
		catalog:       catalogSvc,
		cache:         cacheSvc,
		analytics:     analyticsSvc,
		store:         st,
		taskRunning:   make(map[string]bool),
	}
}

// Start begins the scheduler background loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.schedulerLoop()

	log.Println("[scheduler] Scheduler service started")
	return nil
}

// Stop gracefully stops the scheduler.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.cancel()

	// Wait for in-flight tasks with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("[scheduler] Scheduler service stopped gracefully")
	case <-ctx.Done():
		log.Println("[scheduler] Scheduler service stopped (timeout)")
	}

	s.running = false
	return nil
}

// schedulerLoop is the main background loop that checks for due tasks.
func (s *Service) schedulerLoop() {
	defer s.wg.Done()

	settings, err := s.configManager.Load()
	if err != nil {
		log.Printf("[scheduler] Failed to load settings: %v", err)
		return
	}

	checkInterval := time.Duration(settings.ScheduledTasks.CheckIntervalSeconds) * time.Second
	if checkInterval < time.Second {
		checkInterval = 60 * time.Second
	}

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	// Run check immediately on start
	s.checkAndRunTasks()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkAndRunTasks()
		}
	}
}

// checkAndRunTasks checks all enabled tasks and runs those that are due.
func (s *Service) checkAndRunTasks() {
	settings, err := s.configManager.Load()
	if err != nil {
		log.Printf("[scheduler] Failed to load settings: %v", err)
		return
	}

	for _, task := range settings.ScheduledTasks.Tasks {
		if !task.Enabled {
			continue
		}

		if s.shouldRun(task) {
			// Run task in goroutine to not block other tasks
			s.wg.Add(1)
			go func(t config.ScheduledTask) {
				defer s.wg.Done()
				s.executeTask(t)
			}(task)
		}
	}
}

// shouldRun checks if a task is due to run.
func (s *Service) shouldRun(task config.ScheduledTask) bool {
	s.taskMu.RLock()
	if s.taskRunning[task.ID] {
		s.taskMu.RUnlock()
		return false
	}
	s.taskMu.RUnlock()

	// Never run before
	if task.LastRunAt == nil {
		return true
	}

	return time.Since(*task.LastRunAt) >= s.getInterval(task.Frequency)
}

// getInterval returns the duration for a given frequency.
func (s *Service) getInterval(freq config.ScheduledTaskFrequency) time.Duration {
	switch freq {
	case config.ScheduledTaskFrequency1Min:
		return 1 * time.Minute
	case config.ScheduledTaskFrequency5Min:
		return 5 * time.Minute
	case config.ScheduledTaskFrequency15Min:
		return 15 * time.Minute
	case config.ScheduledTaskFrequency30Min:
		return 30 * time.Minute
	case config.ScheduledTaskFrequencyHourly:
		return 1 * time.Hour
	case config.ScheduledTaskFrequency6Hours:
		return 6 * time.Hour
	case config.ScheduledTaskFrequency12Hours:
		return 12 * time.Hour
	case config.ScheduledTaskFrequencyDaily:
		return 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// executeTask runs a task and updates its persisted status.
func (s *Service) executeTask(task config.ScheduledTask) {
	s.taskMu.Lock()
	s.taskRunning[task.ID] = true
	s.taskMu.Unlock()

	defer func() {
		s.taskMu.Lock()
		delete(s.taskRunning, task.ID)
		s.taskMu.Unlock()
	}()

	log.Printf("[scheduler] Executing task: %s (%s)", task.Name, task.Type)

	var err error
	var itemsProcessed int

	switch task.Type {
	case config.ScheduledTaskTypePopularityRefresh:
		itemsProcessed, err = s.executePopularityRefresh()
	case config.ScheduledTaskTypeCacheMaintenance:
		itemsProcessed, err = s.executeCacheMaintenance()
	case config.ScheduledTaskTypeAnalyticsFlush:
		err = s.executeAnalyticsFlush()
	default:
		log.Printf("[scheduler] Unknown task type: %s", task.Type)
		return
	}

	s.updateTaskStatus(task.ID, err, itemsProcessed)
}

// updateTaskStatus updates a task's status in the settings file.
func (s *Service) updateTaskStatus(taskID string, err error, itemsProcessed int) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	settings, loadErr := s.configManager.Load()
	if loadErr != nil {
		log.Printf("[scheduler] Failed to load settings to update task status: %v", loadErr)
		return
	}

	task := settings.ScheduledTasks.TaskByID(taskID)
	if task == nil {
		return
	}

	now := time.Now().UTC()
	task.LastRunAt = &now
	task.ItemsProcessed = itemsProcessed
	if err != nil {
		task.LastStatus = config.ScheduledTaskStatusError
		task.LastError = err.Error()
		log.Printf("[scheduler] Task %s failed: %v", taskID, err)
	} else {
		task.LastStatus = config.ScheduledTaskStatusSuccess
		task.LastError = ""
		log.Printf("[scheduler] Task %s completed, processed %d items", taskID, itemsProcessed)
	}

	if saveErr := s.configManager.Save(settings); saveErr != nil {
		log.Printf("[scheduler] Failed to save task status: %v", saveErr)
	}
}

// RunTaskNow triggers immediate execution of a task.
func (s *Service) RunTaskNow(taskID string) error {
	settings, err := s.configManager.Load()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	task := settings.ScheduledTasks.TaskByID(taskID)
	if task == nil {
		return errors.New("task not found")
	}

	s.taskMu.RLock()
	if s.taskRunning[taskID] {
		s.taskMu.RUnlock()
		return errors.New("task is already running")
	}
	s.taskMu.RUnlock()

	s.wg.Add(1)
	go func(t config.ScheduledTask) {
		defer s.wg.Done()
		s.executeTask(t)
	}(*task)
	return nil
}

// GetTaskStatus returns all tasks with their current status. Running tasks
// have their status overridden to "running".
func (s *Service) GetTaskStatus() []config.ScheduledTask {
	settings, err := s.configManager.Load()
	if err != nil {
		return nil
	}

	s.taskMu.RLock()
	defer s.taskMu.RUnlock()

	tasks := make([]config.ScheduledTask, len(settings.ScheduledTasks.Tasks))
	for i, task := range settings.ScheduledTasks.Tasks {
		tasks[i] = task
		if s.taskRunning[task.ID] {
			tasks[i].LastStatus = config.ScheduledTaskStatusRunning
		}
	}

	return tasks
}

// IsTaskRunning checks if a specific task is currently running.
func (s *Service) IsTaskRunning(taskID string) bool {
	s.taskMu.RLock()
	defer s.taskMu.RUnlock()
	return s.taskRunning[taskID]
}

// runContext returns the scheduler's run context, falling back to Background
// for tasks triggered before Start.
func (s *Service) runContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

// executePopularityRefresh recomputes every title's popularity score.
func (s *Service) executePopularityRefresh() (int, error) {
	return s.catalog.RefreshPopularity(s.runContext())
}

// executeCacheMaintenance compacts the cache backend, drops viewing-session
// rows past retention, and prunes flushed analytics spool files.
func (s *Service) executeCacheMaintenance() (int, error) {
	ctx := s.runContext()
	s.cache.Maintain()

	processed := 0
	sessions, err := s.store.DeleteSessionsBefore(ctx, time.Now().UTC().Add(-sessionRetention))
	if err != nil {
		return processed, fmt.Errorf("delete old sessions: %w", err)
	}
	processed += int(sessions)

	pruned, err := s.analytics.PruneSpool(time.Now().UTC().Add(-spoolRetention))
	if err != nil {
		return processed, fmt.Errorf("prune analytics spool: %w", err)
	}
	processed += pruned

	return processed, nil
}

// executeAnalyticsFlush forces the buffered analytics events to the spool.
func (s *Service) executeAnalyticsFlush() error {
	return s.analytics.Flush()
}
