package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/RADreams/Cino-backend/api"
	"github.com/RADreams/Cino-backend/config"
	"github.com/RADreams/Cino-backend/handlers"
	"github.com/RADreams/Cino-backend/internal/store"
	"github.com/RADreams/Cino-backend/services/analytics"
	"github.com/RADreams/Cino-backend/services/cache"
	"github.com/RADreams/Cino-backend/services/catalog"
	"github.com/RADreams/Cino-backend/services/feed"
	"github.com/RADreams/Cino-backend/services/prefetch"
	"github.com/RADreams/Cino-backend/services/progress"
	"github.com/RADreams/Cino-backend/services/scheduler"
	"github.com/RADreams/Cino-backend/services/users"
)

const version = "0.4.0"

func main() {

	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	fmt.Println("🚀 Cino Backend Starting...")

	// Determine config path (env or default)
	configPath := os.Getenv("CINO_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("cache", "settings.json")
	}

	// Init config manager and load settings (creates defaults if missing)
	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// Set up file logging with rotation
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			multiWriter := io.MultiWriter(os.Stdout, fileWriter)
			log.SetOutput(multiWriter)
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	// Apply port override if specified
	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	// Open the catalog and progress store, applying migrations
	st, err := store.Open(settings.Database.Path)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}

	userService, err := users.NewService(settings.Cache.Directory)
	if err != nil {
		log.Fatalf("failed to initialise users: %v", err)
	}

	// Select the cache backend; badger persists across restarts, memory does not
	var cacheStore cache.Store
	backend := string(config.CacheBackendMemory)
	if settings.Cache.Backend == config.CacheBackendBadger {
		bs, err := cache.NewBadgerStore(filepath.Join(settings.Cache.Directory, "badger"))
		if err != nil {
			log.Printf("warning: badger cache unavailable, using memory: %v", err)
		} else {
			cacheStore = bs
			backend = string(config.CacheBackendBadger)
		}
	}
	if cacheStore == nil {
		cacheStore = cache.NewMemoryStore()
	}
	cacheService := cache.NewService(cacheStore, backend)
	fmt.Printf("🗄️  Cache backend: %s\n", backend)

	analyticsService, err := analytics.NewService(settings.Analytics, afero.NewOsFs())
	if err != nil {
		log.Fatalf("failed to initialise analytics: %v", err)
	}

	progressService := progress.NewService(st, userService, cacheService, analyticsService, settings.Progress)
	prefetchService := prefetch.NewService(st, cacheService, settings.Prefetch)
	feedService := feed.NewService(st, userService, progressService, prefetchService, cacheService, analyticsService, settings.Feed)
	catalogService := catalog.NewService(st, userService, progressService, cacheService, analyticsService, settings.Feed.Popularity, settings.Cache.TTL)

	schedulerService := scheduler.NewService(cfgManager, catalogService, cacheService, analyticsService, st)
	if err := schedulerService.Start(context.Background()); err != nil {
		log.Printf("warning: scheduler failed to start: %v", err)
	}

	// Construct router and register API routes
	r := mux.NewRouter()

	var limiter *api.IPRateLimiter
	if !settings.RateLimit.Disabled {
		limiter = api.NewIPRateLimiter(settings.RateLimit)
	}

	api.Register(
		r,
		handlers.NewFeedHandler(feedService),
		handlers.NewContentHandler(catalogService),
		handlers.NewPlaybackHandler(progressService, prefetchService),
		handlers.NewWatchlistHandler(progressService, catalogService),
		handlers.NewUsersHandler(userService),
		handlers.NewStatusHandler(cacheService, analyticsService, schedulerService, st, version),
		limiter,
	)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	fmt.Printf("Server starting on %s\n", addr)

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for streaming
		IdleTimeout:  120 * time.Second,
	}

	// Setup graceful shutdown
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-shutdownChan
	log.Println("🛑 Shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop background tasks before the server so no task writes race teardown
	if err := schedulerService.Stop(shutdownCtx); err != nil {
		log.Printf("Scheduler shutdown error: %v", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Flush buffered analytics, then release the stores
	if err := analyticsService.Close(); err != nil {
		log.Printf("Analytics close error: %v", err)
	}
	if err := cacheService.Close(); err != nil {
		log.Printf("Cache close error: %v", err)
	}
	if err := st.Close(); err != nil {
		log.Printf("Store close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
