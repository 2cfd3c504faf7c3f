package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/moli-green/relay/internal/v1/admission"
	"github.com/moli-green/relay/internal/v1/config"
	"github.com/moli-green/relay/internal/v1/health"
	"github.com/moli-green/relay/internal/v1/logging"
	"github.com/moli-green/relay/internal/v1/middleware"
	"github.com/moli-green/relay/internal/v1/ratelimit"
	"github.com/moli-green/relay/internal/v1/room"
	"github.com/moli-green/relay/internal/v1/tracing"
	"github.com/moli-green/relay/internal/v1/transport"
	"github.com/moli-green/relay/internal/v1/turn"
)

func main() {
	// Load .env file for local development.
	envPaths := []string{".env", "../../../.env"}
	var envLoaded bool
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		slog.Warn("No .env file found, relying on environment variables")
	}

	// Validate environment variables before starting the server.
	// A missing TURN_SECRET refuses to start: issuing unsigned credentials
	// would silently break every client's relay path.
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	slog.Info("Configuration validated",
		"port", cfg.Port,
		"turn_secret", config.RedactSecret(cfg.TurnSecret),
		"allowed_origin", cfg.AllowedOrigin,
		"development_mode", cfg.DevelopmentMode,
	)

	// --- Optional tracing ---
	if cfg.OTelCollectorAddr != "" {
		tp, err := tracing.InitTracer(context.Background(), "moli-relay", cfg.OTelCollectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracing, continuing without", "error", err)
		} else {
			defer func() { _ = tp.Shutdown(context.Background()) }()
			slog.Info("Tracing initialized", "collector", cfg.OTelCollectorAddr)
		}
	}

	// --- Core wiring ---
	ctrl := admission.NewController(cfg.AllowedOrigin)
	registry := room.NewRegistry()
	hub := transport.NewHub(ctrl, registry)
	issuer := turn.NewIssuer(cfg.TurnSecret)

	apiLimiter, err := ratelimit.NewHTTPLimiter(cfg.RateLimitAPI)
	if err != nil {
		slog.Error("Invalid RATE_LIMIT_API", "error", err)
		os.Exit(1)
	}

	// --- Set up server ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if cfg.OTelCollectorAddr != "" {
		router.Use(otelgin.Middleware("moli-relay"))
	}

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigin != "" {
		corsConfig.AllowOrigins = []string{cfg.AllowedOrigin}
	} else {
		corsConfig.AllowAllOrigins = true
	}

	// Routing
	router.GET("/ws", hub.ServeWs)

	apiGroup := router.Group("/api", cors.New(corsConfig), apiLimiter.Middleware())
	{
		apiGroup.GET("/ice-config", turn.NewHandler(issuer).IceConfig)
	}

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(ctrl, registry)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	// Static client bundle at "/", as a fallback so it cannot shadow routes
	if _, err := os.Stat(cfg.ClientDistDir); err == nil {
		router.NoRoute(gin.WrapH(http.FileServer(http.Dir(cfg.ClientDistDir))))
	} else {
		slog.Warn("Client bundle directory not found, static serving disabled", "dir", cfg.ClientDistDir)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port, // dual-stack wildcard
		Handler: router,
	}

	// --- Graceful shutdown ---
	go func() {
		slog.Info("Relay server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop admitting and close all live sessions before the listener goes away.
	if err := hub.Shutdown(ctx); err != nil {
		slog.Error("Error during hub shutdown:", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	slog.Info("Server exiting")
}
