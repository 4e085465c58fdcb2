// cmd/engine/main.go
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	http_api "offer-engine/internal/api/http"
	"offer-engine/internal/config"
	"offer-engine/internal/domain"
	"offer-engine/internal/infra"
	"offer-engine/internal/infra/etcd"
	"offer-engine/internal/infra/memory"
	"offer-engine/internal/infra/postgres"
	redis_infra "offer-engine/internal/infra/redis"
	"offer-engine/internal/notify"
	"offer-engine/internal/scheduler"
	"offer-engine/internal/tracing"
	"offer-engine/internal/usecase"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func main() {
	// 1. Load configuration, then logger and tracer
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var level slog.Level
	_ = level.UnmarshalText([]byte(cfg.LogLevel))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	tracerShutdown, err := tracing.InitTracer("offer-engine", nil)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.New().String()
	}
	logger.Info("Starting offer engine", "node_id", nodeID, "store", cfg.StoreBackend, "outbox", cfg.OutboxBackend)

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("Invalid timezone: %v", err)
	}

	// 2. Root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel)

	// 3. Backing stores
	var (
		etcdClient *clientv3.Client
		pool       *pgxpool.Pool
	)
	if len(cfg.EtcdEndpoints) > 0 {
		etcdClient, err = etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			log.Fatalf("Failed to create etcd client: %v", err)
		}
		defer etcdClient.Close()
		logger.Info("Connected to etcd.")
	}
	if cfg.StoreBackend == "postgres" || cfg.DirectoryBackend == "postgres" {
		pool, err = postgres.NewPool(rootCtx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("Failed to connect to postgres: %v", err)
		}
		defer pool.Close()
		if err := postgres.Migrate(pool, cfg.MigrationsDir); err != nil {
			log.Fatalf("Failed to migrate postgres: %v", err)
		}
		logger.Info("Connected to postgres.")
	}

	var (
		repo          domain.AssignmentRepository
		locker        domain.Locker
		leaderManager domain.LeaderElectionManager
	)
	switch cfg.StoreBackend {
	case "etcd":
		repo = etcd.NewEtcdAssignmentRepository(etcdClient, logger)
	case "postgres":
		repo = postgres.NewAssignmentRepository(pool, logger)
	default:
		repo = memory.NewAssignmentRepository()
	}
	if etcdClient != nil && cfg.StoreBackend != "memory" {
		locker = etcd.NewEtcdLocker(etcdClient)
		leaderManager = etcd.NewEtcdLeaderElectionManager(etcdClient, nodeID, cfg.LeaderElectionTTL, logger)
	} else {
		locker = memory.NewLocker()
	}

	// 4. Candidate directory and workload source
	candidates, err := cfg.StaticCandidates()
	if err != nil {
		log.Fatalf("Invalid candidates: %v", err)
	}
	samples, err := cfg.StaticWorkloadSamples()
	if err != nil {
		log.Fatalf("Invalid workload samples: %v", err)
	}
	var (
		directory domain.CandidateDirectory
		workload  domain.WorkloadSource
	)
	if cfg.DirectoryBackend == "postgres" {
		pgDirectory := postgres.NewDirectory(pool)
		for _, c := range candidates {
			if err := pgDirectory.UpsertCandidate(rootCtx, c); err != nil {
				log.Fatalf("Failed to seed candidate: %v", err)
			}
		}
		for _, s := range samples {
			if err := pgDirectory.RecordHours(rootCtx, s); err != nil {
				log.Fatalf("Failed to seed workload sample: %v", err)
			}
		}
		directory, workload = pgDirectory, pgDirectory
	} else {
		staticDirectory := memory.NewDirectory(candidates, samples)
		directory, workload = staticDirectory, staticDirectory
	}

	// 5. Notification outbox
	var queue notify.Queue
	if cfg.OutboxBackend == "redis" {
		rdb, err := redis_infra.NewClient(rootCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
		queue = redis_infra.NewOutboxQueue(rdb, redis_infra.DefaultKeyPrefix, cfg.OutboxSize)
		if etcdClient != nil {
			go etcd.NewNotifierDiscovery(etcdClient, logger).Watch(rootCtx)
		}
	} else {
		queue = notify.NewChannelQueue(cfg.OutboxSize)
	}
	outboxOpts := notify.Options{Workers: cfg.OutboxWorkers, Attempts: cfg.DeliveryAttempts, Backoff: cfg.DeliveryBackoff}

	var outboxDone chan struct{}
	var outbox *notify.Outbox
	if cfg.OutboxBackend == "redis" {
		// Delivery happens in cmd/notifier.
		outbox = notify.NewOutbox(queue, nil, outboxOpts, logger)
	} else {
		transport := infra.NewTransport(cfg.WebhookURL, cfg.EscalationWebhookURL, cfg.NotifyCommand, cfg.DeliveryTimeout, logger)
		outbox = notify.NewOutbox(queue, transport, outboxOpts, logger)
		outboxDone = make(chan struct{})
		go func() {
			defer close(outboxDone)
			_ = outbox.Run(rootCtx)
		}()
	}

	// 6. Engine, sweeper and API
	service := usecase.NewAssignmentService(usecase.Dependencies{
		Repository: repo,
		Directory:  directory,
		Workload:   workload,
		Locker:     locker,
		Notifier:   outbox,
		Escalation: outbox,
	}, usecase.Settings{
		OfferTTL:      cfg.OfferTTL,
		ReminderAfter: cfg.ReminderAfter,
		LookbackDays:  cfg.LookbackDays,
		Location:      loc,
	}, logger)

	cronScheduler := scheduler.NewCronScheduler(logger)
	sweepService := usecase.NewSweepService(leaderManager, cronScheduler, service, cfg.SweepSchedule, nodeID, logger)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		if err := sweepService.Start(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("SweepService stopped with error", "error", err)
			cancel()
		}
	}()

	handler := http_api.NewHandler(service, logger)
	logger.Info("Starting HTTP API server", "addr", cfg.HttpListenAddr)
	server := &http.Server{
		Addr:              cfg.HttpListenAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// 7. Block until shutdown
	<-rootCtx.Done()
	logger.Info("Shutting down offer engine gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	<-sweepDone
	if outboxDone != nil {
		select {
		case <-outboxDone:
		case <-shutdownCtx.Done():
			logger.Warn("outbox did not drain before shutdown deadline")
		}
	}

	logger.Info("Offer engine shut down.")
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
