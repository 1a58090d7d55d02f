package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"chorus/presence-engine/config"
	"chorus/presence-engine/db"
	"chorus/presence-engine/handlers"
	"chorus/presence-engine/middleware"
	"chorus/presence-engine/services"
	"chorus/presence-engine/utils"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize logger
	logger := utils.NewLogger(cfg.Environment)

	// Connect the durable presence store
	store, err := newPresenceStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize presence store", "error", err)
	}

	// Initialize services
	cache := services.NewSnapshotCache()
	registry := services.NewConnectionRegistry()
	presence := services.NewPresenceService(store, cache, cfg, logger)
	broadcaster := services.NewLocalBroadcaster(registry, presence, logger)
	verifier := services.NewTokenVerifier(cfg.JWTSecret)

	// Start the sweep scheduler
	scheduler := services.NewPresenceScheduler(presence, cfg.SweepInterval, logger)
	scheduler.Start()

	// Initialize handlers
	gateway := handlers.NewWSGateway(verifier, presence, registry, broadcaster, logger)
	presenceHandler := handlers.NewPresenceHandler(presence, broadcaster, logger)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS())

	// Health check endpoint
	router.GET("/health", handlers.HealthCheck)

	// WebSocket endpoint; credential verification happens in the handshake
	router.GET("/ws/presence", gateway.Handle)

	// Synchronous presence API
	api := router.Group("/presence")
	api.Use(middleware.Auth(verifier))
	{
		api.GET("/me", presenceHandler.GetMyPresence)
		api.GET("/user/:id", presenceHandler.GetUserPresence)
		api.GET("/team", presenceHandler.GetTeamPresence)
		api.PATCH("/status", presenceHandler.UpdateStatus)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting Presence Engine", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Stop the sweep scheduler
	scheduler.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}

// newPresenceStore picks the durable backend from configuration.
func newPresenceStore(cfg *config.Config, logger *utils.Logger) (services.PresenceStore, error) {
	switch cfg.PresenceStore {
	case "memory":
		logger.Warn("Using in-memory presence store; records will not survive a restart")
		return services.NewMemoryPresenceStore(), nil
	case "redis":
		client, err := services.NewRedisClient(cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("Using redis presence store")
		return services.NewRedisPresenceStore(client), nil
	default:
		database, err := db.Connect(cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("Using postgres presence store")
		return services.NewPostgresPresenceStore(database), nil
	}
}
