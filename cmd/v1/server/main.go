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
	"go.uber.org/zap"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/assets"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/bus"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/config"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/health"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/httpapi"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/lifecycle"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/logging"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/middleware"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/password"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/ratelimit"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/registry"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/room"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/session"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/snapshot"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/store"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/transport"
)

const shutdownGrace = 5 * time.Second

func main() {
	// .env is a local-development convenience; absence is fine.
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(logging.Options{
		Production:   cfg.Production(),
		Level:        cfg.LogLevel,
		LogToFiles:   cfg.LogToFiles,
		CombinedPath: cfg.CombinedLogPath,
		ErrorPath:    cfg.ErrorLogPath,
	}); err != nil {
		slog.Error("Logger initialization failed", "error", err)
		os.Exit(1)
	}
	ctx := context.Background()

	// --- Shared state store ---
	stateStore, err := store.NewService(cfg.RedisAddr(), cfg.RedisPassword)
	if err != nil {
		logging.Fatal(ctx, "Cannot reach shared state store", zap.Error(err))
	}
	logging.Info(ctx, "Shared state store connected")

	// --- Durable snapshot store (optional) ---
	var durable snapshot.Store
	var mongoStore *snapshot.Mongo
	if cfg.MongoURI != "" {
		mongoStore, err = snapshot.NewMongo(ctx, cfg.MongoURI)
		if err != nil {
			logging.Fatal(ctx, "Cannot reach durable snapshot store", zap.Error(err))
		}
		durable = mongoStore
		logging.Info(ctx, "Durable snapshot store connected")
	} else {
		logging.Warn(ctx, "MONGODB_URI not set, snapshotting disabled")
	}

	// --- Core wiring ---
	repo := room.NewRepository(stateStore, cfg.HistoryMax)
	reg := registry.New(stateStore)
	eventBus := bus.New(stateStore, reg, repo)
	catalog := assets.NewYouTube(stateStore)
	passwords := password.NewScheme(cfg.IsEncryptedPassword)
	dispatcher := session.NewDispatcher(repo, reg, eventBus, catalog, passwords)

	busCtx, stopBus := context.WithCancel(ctx)
	eventBus.Start(busCtx)

	// --- Lifecycle worker ---
	worker := lifecycle.New(stateStore, repo, dispatcher, durable, lifecycle.Policy{
		InactiveTimeout:         cfg.InactiveTimeout,
		MinVideoTimeout:         cfg.MinVideoTimeout,
		VideoDurationMultiplier: cfg.VideoDurationMultiplier,
	})
	if err := worker.Start(ctx); err != nil {
		logging.Fatal(ctx, "Cannot start lifecycle worker", zap.Error(err))
	}

	// --- HTTP surface ---
	limiter, err := ratelimit.New(cfg.RateLimit, stateStore.Client())
	if err != nil {
		logging.Fatal(ctx, "Cannot build rate limiter", zap.Error(err))
	}
	hub := transport.NewHub(dispatcher, reg, limiter, cfg.AllowedOrigins)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Correlation())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins != "" {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	router.Use(cors.New(corsConfig))

	router.GET("/ws", hub.ServeWs)

	api := router.Group("/", limiter.Middleware())
	httpapi.NewHandler(catalog).Register(api)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var durablePinger health.Pinger
	if mongoStore != nil {
		durablePinger = mongoStore
	}
	healthHandler := health.NewHandler(stateStore, durablePinger)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "Server listening on port "+cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "Server failed", zap.Error(err))
			_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "HTTP server forced to shut down", zap.Error(err))
	}
	hub.Shutdown()
	worker.Stop()

	if err := worker.SnapshotNow(shutdownCtx); err != nil {
		logging.Error(ctx, "Final snapshot flush failed", zap.Error(err))
	}

	stopBus()
	eventBus.Wait()

	if mongoStore != nil {
		if err := mongoStore.Close(shutdownCtx); err != nil {
			logging.Error(ctx, "Durable store close failed", zap.Error(err))
		}
	}
	if err := stateStore.Close(); err != nil {
		logging.Error(ctx, "State store close failed", zap.Error(err))
	}
	logging.Info(ctx, "Server exited")
}
