package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/medbooking/config"
	"github.com/jwalitptl/medbooking/internal/app"
	"github.com/jwalitptl/medbooking/internal/middleware"
	"github.com/jwalitptl/medbooking/internal/router"
	"github.com/jwalitptl/medbooking/pkg/logger"
	"github.com/jwalitptl/medbooking/pkg/metrics"
	"github.com/jwalitptl/medbooking/pkg/validator"
	"github.com/jwalitptl/medbooking/pkg/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(cfg.Log.ToLoggerConfig())
	log.Logger = *appLogger.Zerolog()
	zerolog.SetGlobalLevel(logger.ParseLevel(cfg.Log.Level))
	gin.SetMode(cfg.Server.Mode)

	if err := validator.Register(); err != nil {
		appLogger.Fatal(err, "failed to register validators")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics("medbooking", "api", prometheus.DefaultRegisterer)

	infra, err := app.Open(ctx, cfg, appLogger, m)
	if err != nil {
		appLogger.Fatal(err, "failed to open infrastructure")
	}
	defer infra.Close()

	deps := infra.Deps(cfg, appLogger)
	svcs, err := app.NewServices(deps)
	if err != nil {
		appLogger.Fatal(err, "failed to build services")
	}

	// Without redis there is no worker process to react to events or to
	// drain the outbox, so the API does both itself.
	if infra.BrokerBus == nil {
		svcs.RegisterHandlers(infra.Bus)

		relay, err := worker.NewOutboxRelay(infra.Repos.Outbox, infra.Bus, cfg.Outbox.ToWorkerConfig(), appLogger, m)
		if err != nil {
			appLogger.Fatal(err, "failed to create outbox relay")
		}
		go relay.Start(ctx)
	}

	r := router.NewRouter(deps.Tokens, svcs.Handlers(infra.Checks, prometheus.DefaultGatherer), router.RouterConfig{
		RateLimitEnabled: cfg.RateLimit.Enabled,
		RateLimit:        cfg.RateLimit.RequestsPerSecond,
		RateBurst:        cfg.RateLimit.Burst,
		RequestTimeout:   cfg.Server.RequestTimeout,
		MaxBodyBytes:     cfg.Server.MaxBodyBytes,
		HSTS:             cfg.Server.HSTS,
		CORSConfig:       corsConfig(cfg.Server.CORSOrigins),
	})
	r.Setup()

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Engine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		appLogger.Info("starting server", "port", cfg.Server.Port, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal(err, "failed to start server")
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err, "server forced to shutdown")
	}

	appLogger.Info("server exited properly")
}

func corsConfig(origins []string) middleware.CORSConfig {
	c := middleware.DefaultCORSConfig()
	if len(origins) > 0 {
		c.AllowOrigins = origins
	}
	return c
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 5 * time.Second
}
