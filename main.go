package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MwailaCoding/prowrite-delivery/config"
	"github.com/MwailaCoding/prowrite-delivery/handler"
	"github.com/MwailaCoding/prowrite-delivery/middleware"
	"github.com/MwailaCoding/prowrite-delivery/pkg/clock"
	"github.com/MwailaCoding/prowrite-delivery/pkg/logger"
	"github.com/MwailaCoding/prowrite-delivery/service"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded successfully")

	// Initialize services
	var archiveSvc *service.ArchiveService
	if cfg.Archive.Enabled {
		archiveSvc, err = service.NewArchiveService(&cfg.Archive)
		if err != nil {
			slog.Error("failed to initialize artifact archive", "error", err)
			os.Exit(1)
		}
		if err := archiveSvc.EnsureBucket(context.Background()); err != nil {
			slog.Error("failed to ensure archive bucket", "error", err)
			os.Exit(1)
		}
	}

	store, err := service.NewSubmissionStore(cfg.Store.Path)
	if err != nil {
		slog.Error("failed to initialize submission store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	clk := clock.New()
	gatewaySvc := service.NewGatewayService(&cfg.Gateway)
	poller := service.NewStatusPoller(gatewaySvc, clk, cfg.Polling.MaxConsecutiveErrors)
	resolver := service.NewArtifactResolver(&cfg.Download, archiveSvc)
	orchestrator := service.NewOrchestrator(cfg, gatewaySvc, poller, resolver, store, clk)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(cfg)
	submissionHandler := handler.NewSubmissionHandler(orchestrator)
	callbackHandler := handler.NewCallbackHandler(gatewaySvc, orchestrator)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New() // Use New() instead of Default() to avoid default middleware

	// Add custom middleware
	router.Use(middleware.RequestID())                 // Request ID for tracing
	router.Use(middleware.Recovery())                  // Panic recovery
	router.Use(middleware.RequestLogger())             // Access logging
	router.Use(corsMiddleware())                       // CORS for the browser UI
	router.Use(middleware.RateLimit(100, time.Minute)) // Rate limiting: 100 requests per minute

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// Public routes
	api := router.Group("/api")
	{
		api.POST("/auth/login", authHandler.Login)
		api.POST("/payments/callback", callbackHandler.HandleCallback)
	}

	// Protected routes
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)
		protected.POST("/submissions", submissionHandler.Submit)
		protected.GET("/submissions", submissionHandler.List)
		protected.GET("/submissions/:reference", submissionHandler.Get)
		protected.POST("/submissions/:reference/validate", submissionHandler.ValidateCode)
		protected.POST("/submissions/:reference/download", submissionHandler.Download)
		protected.POST("/submissions/:reference/cancel", submissionHandler.Cancel)
		protected.POST("/submissions/:reference/resume", submissionHandler.Resume)
		protected.POST("/submissions/:reference/retry", submissionHandler.Retry)
		protected.GET("/submissions/:reference/archive-url", submissionHandler.ArchiveLink)
		protected.DELETE("/submissions/:reference", submissionHandler.Remove)
	}

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}

// corsMiddleware handles CORS headers for the browser UI
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
