// cmd/notifier/main.go
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"offer-engine/internal/config"
	"offer-engine/internal/infra"
	"offer-engine/internal/infra/etcd"
	redis_infra "offer-engine/internal/infra/redis"
	"offer-engine/internal/notify"
	"offer-engine/internal/tracing"

	"github.com/google/uuid"
)

func main() {
	// 1. Init config, logger and tracer
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.OutboxBackend != "redis" {
		log.Fatalf("The notifier drains a shared outbox; set outbox_backend to redis (got %q)", cfg.OutboxBackend)
	}

	var level slog.Level
	_ = level.UnmarshalText([]byte(cfg.LogLevel))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	tracerShutdown, err := tracing.InitTracer("offer-engine-notifier", nil)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	workerID := uuid.New().String()
	logger.Info("Starting notifier worker", "worker_id", workerID, "workers", cfg.OutboxWorkers)

	// 2. Root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel)

	// 3. Outbox queue
	rdb, err := redis_infra.NewClient(rootCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()
	queue := redis_infra.NewOutboxQueue(rdb, redis_infra.DefaultKeyPrefix, cfg.OutboxSize)
	if pending, err := queue.Pending(rootCtx); err == nil {
		logger.Info("Outbox backlog", "pending", pending)
	}
	if dead, err := queue.DeadLetters(rootCtx, 20); err == nil && len(dead) > 0 {
		logger.Warn("Outbox has dead-lettered notifications", "latest_id", dead[0].ID, "latest_error", dead[0].LastError, "shown", len(dead))
	}

	// 4. Announce this worker so engines can see the outbox is drained
	if len(cfg.EtcdEndpoints) > 0 {
		etcdClient, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			log.Fatalf("Failed to create etcd client: %v", err)
		}
		defer etcdClient.Close()

		registry := etcd.NewRegistry(etcdClient, logger)
		regCtx, regCancel := context.WithTimeout(rootCtx, 5*time.Second)
		err = registry.Register(regCtx, workerID, cfg.RedisAddr, int64(cfg.LeaderElectionTTL.Seconds()))
		regCancel()
		if err != nil {
			log.Fatalf("Failed to register notifier: %v", err)
		}
		defer func() {
			deregCtx, deregCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer deregCancel()
			if err := registry.Deregister(deregCtx); err != nil {
				logger.Error("failed to deregister notifier", "error", err)
			}
		}()
	}

	// 5. Drain until shutdown
	transport := infra.NewTransport(cfg.WebhookURL, cfg.EscalationWebhookURL, cfg.NotifyCommand, cfg.DeliveryTimeout, logger)
	outbox := notify.NewOutbox(queue, transport, notify.Options{
		Workers:  cfg.OutboxWorkers,
		Attempts: cfg.DeliveryAttempts,
		Backoff:  cfg.DeliveryBackoff,
	}, logger)

	if err := outbox.Run(rootCtx); err != nil {
		logger.Error("Outbox stopped with error", "error", err)
	}

	logger.Info("Notifier worker shut down.")
}

func setupGracefulShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v. Initiating graceful shutdown...", sig)
		cancel()
	}()
}
