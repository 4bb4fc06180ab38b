package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/datasync/engine/internal/config"
	"github.com/datasync/engine/internal/handlers"
	custommw "github.com/datasync/engine/internal/middleware"
	"github.com/datasync/engine/internal/observability"
	"github.com/datasync/engine/internal/repository"
	"github.com/datasync/engine/internal/retry"
	"github.com/datasync/engine/internal/services"
	"github.com/datasync/engine/internal/transport"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.GetLogger()

	// A stable client id keeps echo suppression working across restarts;
	// a generated one only holds for this process lifetime.
	if cfg.Server.ClientID == "" {
		cfg.Server.ClientID = uuid.New().String()
		log.Printf("SYNC_CLIENT_ID not set, using generated client id %s", cfg.Server.ClientID)
	}

	// Initialize telemetry
	ctx := context.Background()
	telemetry, err := observability.Initialize(ctx, observability.NewConfig("syncd", version, cfg.Server.ClientID))
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}

	// Open the local store
	db, err := repository.NewSQLiteDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	store := repository.NewStore(db)

	// Wire the engine
	apiKey := os.Getenv("SYNC_SERVER_TOKEN")
	tr := transport.NewHTTPTransport(transport.HTTPConfig{
		BaseURL:        cfg.Server.BaseURL,
		ClientID:       cfg.Server.ClientID,
		RequestTimeout: cfg.Server.RequestTimeout.Std(),
		Tokens:         transport.StaticToken(apiKey),
	})

	scheduler := retry.NewScheduler(
		retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay.Std(),
			MaxDelay:    cfg.Retry.MaxDelay.Std(),
			Strategy:    retry.ExponentialJitter,
		},
		retry.BreakerConfig{
			Threshold:   cfg.Retry.BreakerThreshold,
			Cooldown:    cfg.Retry.BreakerCooldown.Std(),
			MaxCooldown: 10 * cfg.Retry.BreakerCooldown.Std(),
		},
	)

	resolver := services.NewResolverRegistry()
	fetcher := services.NewDeltaFetcher(store, tr, scheduler, cfg.Sync.PullPageSize, logger)
	hub := services.NewStatusHub(logger)
	go hub.Run()

	metrics, err := observability.NewSyncMetrics()
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	engine := services.NewSyncService(store, tr, scheduler, resolver, fetcher, hub, metrics, logger, services.SyncConfig{
		ClientID:        cfg.Server.ClientID,
		PushBatchSize:   cfg.Sync.PushBatchSize,
		MaxPushAttempts: cfg.Sync.MaxAttempts,
		CoalesceWrites:  cfg.Sync.CoalesceWrites,
	})

	// Periodic sync driver
	runCtx, cancelRun := context.WithCancel(ctx)
	go engine.Run(runCtx, cfg.Sync.Interval.Std())

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler()
	syncHandler := handlers.NewSyncHandler(engine)
	conflictHandler := handlers.NewConflictHandler(store.Conflicts, engine)
	wsHandler := handlers.NewWebSocketHandler(hub, logger)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(observability.TracingMiddleware())
	if httpMetrics, err := observability.NewHTTPMetrics(); err == nil {
		r.Use(observability.MetricsMiddleware(httpMetrics))
	}
	r.Use(custommw.APIKeyAuth(cfg.Security.APIKey, cfg.Security.APIKeyHeader))

	// Routes
	r.Get("/health", healthHandler.HealthCheck)
	r.Get("/api/health", healthHandler.HealthCheck)
	r.Get("/ws", wsHandler.HandleConnection)

	r.Route("/api/sync", func(r chi.Router) {
		r.Get("/status", syncHandler.GetStatus)
		r.Post("/trigger", syncHandler.TriggerSync)
		r.Post("/pause", syncHandler.Pause)
		r.Post("/resume", syncHandler.Resume)
		r.Post("/reset", syncHandler.Reset)
	})

	r.Route("/api/operations", func(r chi.Router) {
		r.Post("/", syncHandler.EnqueueOperation)
		r.Post("/{id}/retry", syncHandler.RetryOperation)
	})

	r.Route("/api/conflicts", func(r chi.Router) {
		r.Get("/", conflictHandler.ListConflicts)
		r.Get("/{id}", conflictHandler.GetConflict)
		r.Post("/{id}/resolve", conflictHandler.ResolveConflict)
	})

	// Create server
	srv := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("syncd starting on %s (client %s)", cfg.ListenAddress, cfg.Server.ClientID)
		log.Printf("Local store: %s", cfg.DatabasePath)
		log.Printf("Sync server: %s", cfg.Server.BaseURL)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	cancelRun()
	engine.Close()
	hub.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		log.Printf("Telemetry shutdown error: %v", err)
	}

	log.Println("syncd stopped")
}
