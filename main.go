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

	"github.com/Relchzen/kopcus-dashboard/config"
	"github.com/Relchzen/kopcus-dashboard/handler"
	"github.com/Relchzen/kopcus-dashboard/middleware"
	"github.com/Relchzen/kopcus-dashboard/pkg/logger"
	"github.com/Relchzen/kopcus-dashboard/service"
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
	mediaSvc, err := service.NewMediaService(&cfg.Media)
	if err != nil {
		slog.Error("failed to initialize media service", "error", err)
		os.Exit(1)
	}

	if err := mediaSvc.EnsureBucket(context.Background()); err != nil {
		slog.Error("failed to ensure media bucket", "error", err)
		os.Exit(1)
	}

	gatewaySvc := service.NewGatewayService(&cfg.Gateway)
	notifications := service.NewNotificationCenter(cfg.Store.MaxNotifications)
	store := service.NewPipelineStore(gatewaySvc, notifications)
	recognizer := service.NewDragRecognizer(cfg.Store.DragThresholdPx)
	coordinator := service.NewStageCoordinator(store, recognizer)
	session := service.NewEditSession(store)

	// Warm the store from the gateway; failures leave empty collections and
	// a notification, the console can refresh later.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.Timeout())
		defer cancel()
		if err := store.LoadClients(ctx); err != nil {
			slog.Warn("initial client load failed", "error", err)
		}
		if err := store.LoadSubmissions(ctx); err != nil {
			slog.Warn("initial submission load failed", "error", err)
		}
	}()

	// Initialize handlers
	authHandler := handler.NewAuthHandler(cfg)
	crmHandler := handler.NewCRMHandler(store, coordinator, session, notifications)
	mediaHandler := handler.NewMediaHandler(mediaSvc)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New() // Use New() instead of Default() to avoid default middleware

	// Add custom middleware
	router.Use(middleware.RequestID())                 // Request ID for tracing
	router.Use(middleware.Recovery())                  // Panic recovery
	router.Use(middleware.RequestLogger())             // Access logging
	router.Use(corsMiddleware())                       // CORS
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
	}

	// Protected routes
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)

		crm := protected.Group("/crm")
		{
			crm.POST("/refresh", crmHandler.Refresh)
			crm.GET("/board", crmHandler.Board)
			crm.POST("/board/gesture", crmHandler.BoardGesture)

			crm.GET("/clients", crmHandler.ListClients)
			crm.GET("/clients/:id", crmHandler.GetClient)
			crm.DELETE("/clients/:id", crmHandler.DeleteClient)

			crm.GET("/submissions", crmHandler.ListSubmissions)
			crm.GET("/submissions/:id", crmHandler.GetSubmission)
			crm.POST("/submissions/:id/convert", crmHandler.ConvertSubmission)
			crm.POST("/submissions/:id/review", crmHandler.ReviewSubmission)
			crm.POST("/submissions/:id/spam", crmHandler.SpamSubmission)

			crm.GET("/inbox", crmHandler.Inbox)

			crm.POST("/deals", crmHandler.CreateDeal)
			crm.PATCH("/deals/:id", crmHandler.UpdateDeal)
			crm.DELETE("/deals/:id", crmHandler.DeleteDeal)
			crm.POST("/deals/:id/detail", crmHandler.OpenDetail)

			crm.PATCH("/detail", crmHandler.StageDetail)
			crm.POST("/detail/save", crmHandler.SaveDetail)
			crm.DELETE("/detail/deal", crmHandler.DeleteDetailDeal)
			crm.DELETE("/detail", crmHandler.CloseDetail)
		}

		protected.GET("/notifications", crmHandler.Notifications)

		media := protected.Group("/media")
		{
			media.POST("/upload", mediaHandler.Upload)
			media.GET("", mediaHandler.List)
			media.DELETE("/:id", mediaHandler.Delete)
		}
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

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
