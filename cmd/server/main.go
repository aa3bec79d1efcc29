package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/appweaver/api/internal/config"
	"github.com/appweaver/api/internal/database"
	"github.com/appweaver/api/internal/eventbus"
	"github.com/appweaver/api/internal/handlers"
	"github.com/appweaver/api/internal/middleware"
	"github.com/appweaver/api/internal/orchestrate"
	"github.com/appweaver/api/internal/sandbox"
	"github.com/appweaver/api/internal/sanitize"
	"github.com/appweaver/api/internal/telemetry"
	"github.com/appweaver/api/internal/verify"
)

func main() {
	ctx := context.Background()

	// Initialize logger with stdout sync
	zapConfig := zap.NewProductionConfig()
	zapConfig.OutputPaths = []string{"stdout"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}
	logger, err := zapConfig.Build()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("AppWeaver API starting...",
		zap.String("version", "0.1.0"),
		zap.String("environment", os.Getenv("GO_ENV")),
	)

	// Telemetry is optional: a down collector never blocks startup.
	shutdownTelemetry, err := telemetry.InitTracer(ctx, "appweaver-api")
	if err != nil {
		logger.Error("failed to initialize telemetry", zap.Error(err))
	} else {
		defer func() {
			if err := shutdownTelemetry(ctx); err != nil {
				logger.Error("failed to shutdown telemetry", zap.Error(err))
			}
		}()
	}

	cfg := config.Load()

	// NATS is advisory: lifecycle events are dropped when it is down.
	bus, err := eventbus.Connect(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to connect to NATS, lifecycle events disabled", zap.Error(err))
	} else {
		defer bus.Close()
		logger.Info("connected to NATS")
	}

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Upstream sandbox service client and the pipeline built on it.
	sandboxClient := sandbox.NewClient(cfg.AIServiceURL, logger)
	orchestrator := orchestrate.New(sandboxClient, logger, orchestrate.Config{
		StreamReadTimeout: cfg.StreamReadTimeout,
		FallbackModels:    cfg.FallbackModels,
	})
	sanitizer := sanitize.New(logger)
	verifier := verify.New(sandboxClient, logger, nil)
	store := database.NewGenerationStore(db, logger)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.NoRoute(func(c *gin.Context) {
		middleware.NotFound(c, "route not found")
	})

	// Health and metrics
	healthHandler := handlers.NewHealthHandler(db, rdb, sandboxClient)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/deep", healthHandler.DeepHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	generationHandler := handlers.NewGenerationHandler(orchestrator, store, bus, logger)
	applyHandler := handlers.NewApplyHandler(sandboxClient, verifier, sanitizer, bus, logger)
	sandboxHandler := handlers.NewSandboxHandler(sandboxClient, rdb, cfg.SessionCacheTTL, bus, logger)

	// API v1 routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimitMiddleware(middleware.DefaultRateLimiter)) // 100 req/min
	{
		// Generation routes - stricter rate limit + circuit breaker
		generation := v1.Group("/generation")
		generation.Use(middleware.RateLimitMiddleware(middleware.StrictRateLimiter)) // 20 req/min
		generation.Use(middleware.CircuitBreakerMiddleware(middleware.AIServiceCircuitBreaker))
		{
			generation.POST("/stream", generationHandler.Stream)
			generation.POST("/apply", applyHandler.Apply)
		}

		sb := v1.Group("/sandbox")
		{
			sb.GET("/:id/status", sandboxHandler.Status)
			sb.DELETE("/:id", sandboxHandler.Kill)
		}
	}

	// Create HTTP server. WriteTimeout must cover a full generation
	// stream including retries, so it is far above the usual API default.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited gracefully")
}
