package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/api"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/config"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/notify"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/queue"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/ratelimit"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/storage"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/store"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "choresprint-api",
		Exporter:     cfg.Trace.Exporter,
		OTLPEndpoint: cfg.Trace.OTLPEndpoint,
		OTLPInsecure: cfg.Trace.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	var choreStore store.ChoreStore
	if cfg.Database.DSN == "" {
		logger.Printf("no database configured, using in-memory store")
		choreStore = store.NewMemoryChoreStore()
	} else {
		pgStore, err := store.NewPostgresChoreStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("connect to postgres: %v", err)
		}
		defer pgStore.Close()
		if err := pgStore.EnsureSchema(ctx); err != nil {
			logger.Fatalf("ensure schema: %v", err)
		}
		choreStore = pgStore
	}

	photoStore, err := storage.NewClient(storage.Config{
		Endpoint:      cfg.Storage.Endpoint,
		Access:        cfg.Storage.AccessKey,
		Secret:        cfg.Storage.SecretKey,
		Bucket:        cfg.Storage.Bucket,
		UseSSL:        cfg.Storage.UseSSL,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
	})
	if err != nil {
		logger.Fatalf("create storage client: %v", err)
	}
	if err := photoStore.EnsureBucket(ctx); err != nil {
		logger.Fatalf("ensure bucket: %v", err)
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Printf("redis client close error: %v", err)
		}
	}()

	rateLimiter, err := ratelimit.NewRedisTokenBucket(
		redisClient,
		cfg.API.RateLimitPerMinute,
		time.Minute,
		"choresprint:ratelimit",
	)
	if err != nil {
		logger.Fatalf("create rate limiter: %v", err)
	}

	hub := notify.NewHub(logger)

	// The worker publishes verdicts on a Redis channel; the bridge relays them
	// into this process so websocket subscribers hear about them.
	bridge := notify.NewRedisBridge(redisClient, cfg.Notify.Channel, hub, logger)
	go func() {
		if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("notification bridge stopped: %v", err)
		}
	}()

	app := api.NewServer(
		logger,
		cfg.API,
		queueClient,
		choreStore,
		photoStore,
		hub,
		rateLimiter,
		cfg.Webhook.URL,
	)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	cancel()
}
