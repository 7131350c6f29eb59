// Package main runs the lightning-talk realtime server: SSE/WebSocket
// notification fan-out, live talk voting, and participation tracking, with
// graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/flashtalks/backend/config"
	"github.com/flashtalks/backend/internal/middleware"
	"github.com/flashtalks/backend/internal/participation"
	"github.com/flashtalks/backend/internal/realtime"
	"github.com/flashtalks/backend/internal/voting"
	"github.com/flashtalks/backend/pkg/database"
	"github.com/flashtalks/backend/pkg/redis"
	"github.com/flashtalks/backend/pkg/response"
	"github.com/flashtalks/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()

	var store storage.Store
	if cfg.Database.Driver == "memory" {
		store = storage.NewMemory()
		logger.Warn("using in-memory storage; data will not survive restarts")
	} else {
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		store = storage.NewPostgres(pool)
	}

	registry := realtime.NewRegistry(realtime.RegistryConfig{
		HeartbeatInterval: time.Duration(cfg.Notify.HeartbeatSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.Notify.IdleTimeoutSeconds) * time.Second,
		SweepInterval:     time.Duration(cfg.Notify.SweepSeconds) * time.Second,
	}, logger)

	// Cross-instance fan-out is optional; without Redis the hub runs
	// single-instance.
	var redisBridge *realtime.RedisBridge
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		redisBridge = realtime.NewRedisBridge(rdb.Client, logger)
	}

	var bridge realtime.Bridge
	if redisBridge != nil {
		bridge = redisBridge
	}
	hub := realtime.NewHub(registry, bridge, realtime.HubConfig{
		HistoryCapacity: cfg.Notify.HistoryCapacity,
		ReplayCount:     cfg.Notify.ReplayCount,
	}, logger)
	registry.Start()

	var cancelBridge func()
	if redisBridge != nil {
		cancelBridge, err = redisBridge.Subscribe(hub.HandleRemote)
		if err != nil {
			logger.Fatal("redis subscribe", zap.Error(err))
		}
	}

	votingManager := voting.NewManager(store, hub,
		time.Duration(cfg.Voting.DefaultDurationSeconds)*time.Second, logger)
	votingHandler := voting.NewHandler(votingManager)

	tracker := participation.NewTracker(store, hub, logger)
	participationHandler := participation.NewHandler(tracker)

	notifyHandler := realtime.NewHandler(hub)

	// Recover sessions whose timers were lost to a restart.
	if err := votingManager.CleanupExpiredSessions(ctx); err != nil {
		logger.Warn("expired session cleanup failed", zap.Error(err))
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/ws", realtime.ServeWs(hub, logger))

	api := router.Group("/api")
	{
		api.GET("/notifications/stream", realtime.ServeSSE(hub, logger))
		api.POST("/notifications/broadcast", notifyHandler.Broadcast)
		api.GET("/notifications/stats", notifyHandler.Stats)

		api.POST("/events/:id/talks/:talkId/voting-sessions", votingHandler.CreateSession)
		api.GET("/events/:id/voting-sessions/active", votingHandler.GetActiveSessions)
		api.POST("/voting-sessions/:id/votes", votingHandler.SubmitVote)
		api.GET("/voting-sessions/:id/results", votingHandler.GetResults)
		api.POST("/voting-sessions/:id/end", votingHandler.EndSession)
		api.GET("/voting-sessions/:id/votes/:voterId", votingHandler.GetVoterVote)

		api.POST("/events/:id/participation-votes", participationHandler.CreateVote)
		api.GET("/events/:id/participation-votes", participationHandler.GetVoteCounts)
		api.GET("/participation-votes", participationHandler.GetAllVotes)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	// Order matters: stop session timers before closing the channels they
	// would notify, then tear the registry down with close frames.
	votingManager.Shutdown()
	if cancelBridge != nil {
		cancelBridge()
	}
	registry.Shutdown()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
