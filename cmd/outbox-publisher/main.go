package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evpool/evpool-backend/pkg/config"
	"github.com/evpool/evpool-backend/pkg/db"
	"github.com/evpool/evpool-backend/pkg/enums"
	"github.com/evpool/evpool-backend/pkg/logger"
	"github.com/evpool/evpool-backend/pkg/metrics"
	"github.com/evpool/evpool-backend/pkg/migrate"
	"github.com/evpool/evpool-backend/pkg/outbox"
	"github.com/evpool/evpool-backend/pkg/outbox/idempotency"
	"github.com/evpool/evpool-backend/pkg/outbox/registry"
	"github.com/evpool/evpool-backend/pkg/redis"
)

const deliveryClaimTTL = 7 * 24 * time.Hour

func main() {
	showDLQ := flag.Bool("dlq", false, "print dead-lettered events and exit")
	dlqReason := flag.String("dlq-reason", "", "filter -dlq output by reason (max_attempts|non_retryable)")
	dlqLimit := flag.Int("dlq-limit", 50, "rows printed by -dlq and -pending")
	showPending := flag.Bool("pending", false, "print the oldest unpublished events and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "outbox-publisher"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "outbox-publisher",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.Open(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	if *showPending {
		if err := writePending(os.Stdout, outboxRepo, *dlqLimit); err != nil {
			logg.Error(context.Background(), "failed to read pending events", err)
			os.Exit(1)
		}
		return
	}

	dlqRepo := outbox.NewDLQRepository(dbClient.DB())
	if *showDLQ {
		filter := outbox.DLQFilter{Reason: enums.OutboxDLQErrorReason(*dlqReason), Limit: *dlqLimit}
		if filter.Reason != "" && !filter.Reason.IsValid() {
			logg.Error(context.Background(), "invalid -dlq-reason", errors.New(*dlqReason))
			os.Exit(1)
		}
		if err := writeDeadLetters(context.Background(), os.Stdout, dlqRepo, filter); err != nil {
			logg.Error(context.Background(), "failed to read dead letters", err)
			os.Exit(1)
		}
		return
	}

	if !cfg.Redis.Enabled() {
		logg.Error(context.Background(), "outbox publisher requires redis", errors.New("EVPOOL_REDIS_URL or EVPOOL_REDIS_ADDR must be set"))
		os.Exit(1)
	}
	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	eventRegistry, err := registry.NewEventRegistry(cfg.Notify)
	if err != nil {
		logg.Error(context.Background(), "failed to build event registry", err)
		os.Exit(1)
	}
	guard, err := idempotency.NewGuard(redisClient, deliveryClaimTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to build delivery guard", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Broker:        redisClient,
		Repository:    outboxRepo,
		Registry:      eventRegistry,
		DLQRepository: dlqRepo,
		Guard:         guard,
		Metrics:       metrics.NewOutboxMetrics(reg),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox publisher", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "outbox-publisher",
		"channels":    eventRegistry.Channels(),
	})

	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		metricsServer := &http.Server{
			Addr:              addr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logg.Error(ctx, "metrics server stopped", err)
			}
		}()
		defer metricsServer.Close()
	}

	logg.Info(ctx, "starting outbox publisher")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "outbox publisher shutting down gracefully")
}
