package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/medbooking/config"
	"github.com/jwalitptl/medbooking/internal/app"
	"github.com/jwalitptl/medbooking/internal/handler/health"
	"github.com/jwalitptl/medbooking/internal/policy"
	"github.com/jwalitptl/medbooking/pkg/logger"
	"github.com/jwalitptl/medbooking/pkg/metrics"
	"github.com/jwalitptl/medbooking/pkg/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	appLogger := logger.NewLogger(cfg.Log.ToLoggerConfig()).With("process", "worker")
	log.Logger = *appLogger.Zerolog()
	gin.SetMode(gin.ReleaseMode)

	if cfg.Database.Driver == config.DriverMemory {
		appLogger.Fatal(errors.New("memory driver"), "the worker needs a shared store; the API runs in-process workers for the memory driver")
	}
	if !cfg.Redis.Enabled {
		appLogger.Warn("redis disabled, only outbox events reach the handlers of this process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics("medbooking", "worker", prometheus.DefaultRegisterer)

	infra, err := app.Open(ctx, cfg, appLogger, m)
	if err != nil {
		appLogger.Fatal(err, "failed to open infrastructure")
	}
	defer infra.Close()

	svcs, err := app.NewServices(infra.Deps(cfg, appLogger))
	if err != nil {
		appLogger.Fatal(err, "failed to build services")
	}
	svcs.RegisterHandlers(infra.Bus)

	if infra.BrokerBus != nil {
		if err := infra.BrokerBus.Start(ctx); err != nil {
			appLogger.Fatal(err, "failed to start event consumers")
		}
	}

	relay, err := worker.NewOutboxRelay(infra.Repos.Outbox, infra.Bus, cfg.Outbox.ToWorkerConfig(), appLogger, m)
	if err != nil {
		appLogger.Fatal(err, "failed to create outbox relay")
	}

	days := func(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }
	retention := []*worker.RetentionWorker{
		worker.NewRetentionWorker("audit-retention",
			func(ctx context.Context, before time.Time) (int64, error) {
				return svcs.Audit.Purge(ctx, policy.System, before)
			},
			days(cfg.Workers.AuditRetentionDays), cfg.Workers.AuditCleanupInterval, appLogger, m),
		worker.NewRetentionWorker("notification-prune",
			func(ctx context.Context, _ time.Time) (int64, error) {
				res, err := svcs.Notification.Prune(ctx, policy.System, cfg.Workers.NotificationRetentionDays)
				if err != nil {
					return 0, err
				}
				return res.Pruned, nil
			},
			days(cfg.Workers.NotificationRetentionDays), cfg.Workers.NotificationPruneInterval, appLogger, m),
		worker.NewRetentionWorker("outbox-purge", infra.Repos.Outbox.DeleteProcessedBefore,
			cfg.Workers.OutboxRetention, cfg.Workers.OutboxPurgeInterval, appLogger, m),
	}

	srv := healthServer(cfg.Server.HealthPort, infra.Checks)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error(err, "health check server failed")
			stop()
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1 + len(retention))
	go func() {
		defer wg.Done()
		relay.Start(ctx)
	}()
	for _, w := range retention {
		go func(w *worker.RetentionWorker) {
			defer wg.Done()
			w.Start(ctx)
		}(w)
	}
	appLogger.Info("worker started", "retention_workers", len(retention))

	<-ctx.Done()
	appLogger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	wg.Wait()
}

func healthServer(port int, checks map[string]health.Check) *http.Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	health.NewHandler(checks, prometheus.DefaultGatherer).RegisterRoutes(engine.Group(""))
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
