package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"lattice/internal/entity/store"
	"lattice/internal/platform/config"
	"lattice/internal/platform/httpserver"
	"lattice/internal/platform/kafka/consumer"
	"lattice/internal/platform/logger"
	"lattice/internal/platform/middleware"
	platformredis "lattice/internal/platform/redis"
	"lattice/internal/reconcile/dedupe"
	"lattice/internal/reconcile/edges"
	"lattice/internal/reconcile/linker"
	"lattice/internal/reconcile/metrics"
	"lattice/internal/reconcile/mirror"
	"lattice/internal/reconcile/snapshot"
	httptransport "lattice/internal/transport/http"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal reconcile packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx := context.Background()

	docStore, cleanup, err := buildStore(ctx, cfg)
	if err != nil {
		log.Error("failed to open document store", "error", err.Error())
		os.Exit(1)
	}
	defer cleanup()

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect redis", "error", err.Error())
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	m := metrics.New()

	mirrorSvc := mirror.New(docStore, log, mirror.WithMetrics(m), mirror.WithBatchLimit(cfg.BatchLimit))
	linkerSvc := linker.New(docStore, log,
		linker.WithMetrics(m),
		linker.WithBatchLimit(cfg.BatchLimit),
		linker.WithParallelism(cfg.TenantParallelism),
	)
	dedupeSvc := dedupe.New(docStore, log, dedupe.WithMetrics(m), dedupe.WithBatchLimit(cfg.BatchLimit))
	snapshotSvc := snapshot.New(docStore, log, snapshot.WithMetrics(m), snapshot.WithBatchLimit(cfg.BatchLimit))
	edgeSvc := edges.New(docStore, log, edges.WithMetrics(m), edges.WithBatchLimit(cfg.BatchLimit))

	auth := middleware.NewOperatorAuth(cfg.JWTSigningKey, cfg.AdminKeyHash, log)
	var limiter *middleware.RateLimiter
	if redisClient != nil {
		limiter = middleware.NewRateLimiter(redisClient.Client, cfg.RateLimit, cfg.RateLimitWindow, log)
	}
	handler := httptransport.NewHandler(log, mirrorSvc, linkerSvc, dedupeSvc, snapshotSvc, edgeSvc)
	router := httptransport.NewRouter(handler, auth, limiter, log)
	srv := httpserver.New(cfg.Addr, router)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(cfg.Kafka.Brokers) > 0 {
		var marker mirror.Marker = mirror.NewMemoryMarker()
		if redisClient != nil {
			marker = mirror.NewRedisMarker(redisClient.Client, cfg.EventMarkerTTL)
		}
		events := mirror.NewEventHandler(mirrorSvc, marker, log)
		kafkaConsumer, err := consumer.New(consumer.Config{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.GroupID,
			Topics:  []string{cfg.Kafka.Topic},
		}, events, log)
		if err != nil {
			log.Error("failed to start kafka consumer", "error", err.Error())
			os.Exit(1)
		}
		defer kafkaConsumer.Close()

		go func() {
			if err := kafkaConsumer.Run(runCtx); err != nil && runCtx.Err() == nil {
				log.Error("kafka consumer stopped", "error", err.Error())
			}
		}()
	}

	log.Info("starting lattice", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err.Error())
			stop()
		}
	}()

	<-runCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err.Error())
	}
}

// buildStore opens the Postgres document store, falling back to the
// in-memory store when no URL is configured (local development).
func buildStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	if cfg.PostgresURL == "" {
		return store.NewMemoryStore(), func() {}, nil
	}
	pg, err := store.OpenPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	return pg, func() { pg.Close() }, nil
}
