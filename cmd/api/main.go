package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"careline/internal/config"
	cacheAdapter "careline/internal/infrastructure/cache/adapter"
	"careline/internal/infrastructure/database"
	identityAdapter "careline/internal/infrastructure/identity/adapter"
	queueAdapter "careline/internal/infrastructure/queue/adapter"
	"careline/internal/infrastructure/realtime"
	storageAdapter "careline/internal/infrastructure/storage/adapter"
	"careline/internal/logger"
	"careline/internal/metrics"
	"careline/internal/pkg/messaging/application/querycache"
	"careline/internal/pkg/messaging/presence"
	httpHandler "careline/internal/pkg/messaging/presentation/http"

	v1 "careline/cmd/api/router/v1"
)

func main() {
	// .env is optional outside development.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CARELINE_CONFIG"))
	if err != nil {
		panicOnBoot("load config", err)
	}
	if err := config.Validate(cfg); err != nil {
		panicOnBoot("validate config", err)
	}

	log := logger.Init(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := database.Connect(bootCtx, cfg.Database.URL)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("api: connect database")
	}
	defer pool.Close()

	cache, err := cacheAdapter.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("api: connect redis")
	}
	defer cache.Close()

	queue, err := queueAdapter.NewAsynqClient(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("api: connect queue")
	}
	defer queue.Close()

	storage, err := storageAdapter.NewFSStorage(cfg.Storage.Dir, cfg.Storage.BaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("api: init storage")
	}

	hub := realtime.NewHub()
	bridge := realtime.NewRedisBridge(hub, cache.Client(), log)
	go func() {
		if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("api: realtime bridge stopped")
		}
	}()

	registry := presence.NewRegistry(bridge,
		time.Duration(cfg.Messaging.PresenceSyncSeconds)*time.Second, log, m)
	hub.OnDetach(registry.HandleDetach)
	go registry.Run(ctx)

	listCache := querycache.New(cache,
		time.Duration(cfg.Messaging.ListCacheTTLSeconds)*time.Second, log, m)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.Static("/files", cfg.Storage.Dir)

	v1.RegisterRoutes(r, identityAdapter.Middleware(), httpHandler.Deps{
		Pool:          pool,
		Queue:         queue,
		Hub:           hub,
		Broadcaster:   bridge,
		Registry:      registry,
		Identity:      identityAdapter.HeaderIdentity{},
		Storage:       storage,
		ListCache:     listCache,
		Logger:        log,
		Metrics:       m,
		SettleTimeout: time.Duration(cfg.Messaging.SettleTimeoutSeconds) * time.Second,
		WriteWait:     time.Duration(cfg.Messaging.SocketWriteWaitSeconds) * time.Second,
		PingPeriod:    time.Duration(cfg.Messaging.SocketPingSeconds) * time.Second,
	})

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: r}
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("api: listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("api: server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("api: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api: shutdown")
	}
	hub.Close()
}

func panicOnBoot(step string, err error) {
	// The logger is not configured yet on early boot failures.
	panic(step + ": " + err.Error())
}
