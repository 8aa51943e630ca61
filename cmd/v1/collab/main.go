package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/scrawlspace/scrawl/internal/v1/api"
	"github.com/scrawlspace/scrawl/internal/v1/config"
	"github.com/scrawlspace/scrawl/internal/v1/gateway"
	"github.com/scrawlspace/scrawl/internal/v1/health"
	"github.com/scrawlspace/scrawl/internal/v1/logging"
	"github.com/scrawlspace/scrawl/internal/v1/middleware"
	"github.com/scrawlspace/scrawl/internal/v1/ratelimit"
	"github.com/scrawlspace/scrawl/internal/v1/registry"
	"github.com/scrawlspace/scrawl/internal/v1/storage"
	"github.com/scrawlspace/scrawl/internal/v1/tracing"
)

const serviceName = "scrawl-collab"

// maxBodyBytes caps snapshot uploads. Excalidraw scenes with embedded
// images can run tens of megabytes.
const maxBodyBytes = 32 << 20

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.LogLevel); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// --- Tracing (optional) ---
	var tracerProvider interface {
		Shutdown(ctx context.Context) error
	}
	if cfg.OTelCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.OTelCollectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		tracerProvider = tp
		slog.Info("✅ Tracing initialized", "collector", cfg.OTelCollectorAddr)
	}

	// --- Storage Backend ---
	store, err := storage.Open(cfg)
	if err != nil {
		slog.Error("Failed to initialize storage backend", "error", err, "type", cfg.StorageType)
		os.Exit(1)
	}
	slog.Info("✅ Storage backend initialized", "type", cfg.StorageType)

	// --- Rate Limiting ---
	// The limiter shares the Redis instance when the storage backend
	// already requires one; everything else runs on the in-memory store.
	var redisClient *redis.Client
	if cfg.StorageType == config.StorageTypeRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
	}
	rateLimiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		slog.Error("Failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Room Registry and Socket Gateway ---
	reg := registry.New()
	hub := gateway.NewHub(reg, rateLimiter)

	// --- Set up Server ---
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))
	if tracerProvider != nil {
		router.Use(otelgin.Middleware(serviceName))
	}

	// Routing
	router.GET("/ws", hub.ServeWs)

	apiGroup := router.Group("/api")
	apiGroup.Use(middleware.MaxBodySize(maxBodyBytes))
	apiGroup.Use(rateLimiter.GlobalMiddleware())
	api.NewHandler(reg, store, rateLimiter).Register(apiGroup)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(store)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	// Start the server.
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("Collab server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	// The context is used to inform the server it has 30 seconds to finish
	// the requests it is currently handling
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Evict all sessions and close their sockets gracefully
	hub.Shutdown(shutdownCtx)

	// Shutdown HTTP server
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	// Flush and close the storage backend
	if err := store.Close(); err != nil {
		slog.Error("Failed to close storage backend:", "error", err)
	}

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down tracer provider:", "error", err)
		}
	}

	slog.Info("Server exiting")
}

// corsConfig builds the CORS policy. The collaboration plane is meant
// for browser clients on arbitrary origins, so the default is
// allow-all; setting ALLOWED_ORIGINS narrows it.
func corsConfig(allowedOrigins string) cors.Config {
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, middleware.HeaderXCorrelationID)

	if allowedOrigins == "" || allowedOrigins == "*" {
		corsCfg.AllowAllOrigins = true
		return corsCfg
	}

	origins := []string{}
	for _, origin := range strings.Split(allowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	corsCfg.AllowOrigins = origins
	return corsCfg
}
