package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/config"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/notify"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/store"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/telemetry"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/vision"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/webhook"
	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "choresprint-worker",
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

	if cfg.Vision.APIKey == "" {
		logger.Fatal("OPENAI_API_KEY is required")
	}

	pgStore, err := store.NewPostgresChoreStore(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("connect to postgres: %v", err)
	}
	defer pgStore.Close()
	if err := pgStore.EnsureSchema(ctx); err != nil {
		logger.Fatalf("ensure schema: %v", err)
	}

	provider := vision.NewClient(vision.Config{
		APIKey:  cfg.Vision.APIKey,
		BaseURL: cfg.Vision.BaseURL,
		Model:   cfg.Vision.Model,
		Timeout: cfg.Vision.Timeout,
	})

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
	publisher := notify.NewRedisPublisher(redisClient, cfg.Notify.Channel)

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret: cfg.Webhook.SigningSecret,
		Timeout:       10 * time.Second,
		MaxAttempts:   3,
	})

	srv, err := worker.NewServer(
		logger,
		cfg.Queue,
		cfg.Worker,
		provider,
		pgStore,
		publisher,
		webhookClient,
	)
	if err != nil {
		logger.Fatalf("create worker: %v", err)
	}

	metricsServer := &http.Server{
		Addr:        cfg.Worker.MetricsAddr,
		Handler:     srv.MetricsHandler(),
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server failed: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("metrics shutdown error: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s model=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		cfg.Vision.Model,
	)

	// asynq installs its own signal handling; Run blocks until TERM/INT.
	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}
