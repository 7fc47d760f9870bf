package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"

	"github.com/jwalitptl/medbooking/config"
	"github.com/jwalitptl/medbooking/internal/email"
	"github.com/jwalitptl/medbooking/internal/handler/health"
	"github.com/jwalitptl/medbooking/internal/repository"
	"github.com/jwalitptl/medbooking/internal/repository/memory"
	"github.com/jwalitptl/medbooking/internal/repository/postgres"
	"github.com/jwalitptl/medbooking/internal/service/account"
	"github.com/jwalitptl/medbooking/pkg/auth"
	"github.com/jwalitptl/medbooking/pkg/event"
	"github.com/jwalitptl/medbooking/pkg/lock"
	"github.com/jwalitptl/medbooking/pkg/logger"
	"github.com/jwalitptl/medbooking/pkg/messaging/redis"
	"github.com/jwalitptl/medbooking/pkg/metrics"
	"github.com/jwalitptl/medbooking/pkg/security"
)

// Infra holds the connections a process opened.
type Infra struct {
	Repos repository.Repositories
	// Bus is the broker bus when redis is enabled, the memory bus otherwise.
	Bus       event.Bus
	BrokerBus *event.BrokerBus
	DB        *sqlx.DB
	Redis     *goredis.Client
	Metrics   *metrics.Metrics
	Checks    map[string]health.Check

	closers []func() error
}

// Open connects the configured store and event transport.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*Infra, error) {
	if m == nil {
		m = metrics.NewNop()
	}
	inf := &Infra{Metrics: m, Checks: map[string]health.Check{}}

	switch cfg.Database.Driver {
	case config.DriverMemory:
		log.Warn("using in-memory store, data is lost on restart")
		inf.Repos = memory.New()
	default:
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		inf.DB = db
		inf.Repos = postgres.New(db)
		inf.Checks["database"] = db.PingContext
		inf.closers = append(inf.closers, db.Close)
	}

	if cfg.Redis.Enabled {
		client, err := redis.NewClient(ctx, cfg.Redis.ToBrokerConfig())
		if err != nil {
			inf.Close()
			return nil, err
		}
		inf.Redis = client
		inf.Checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }

		broker := redis.NewRedisBroker(client, cfg.Redis.ToBrokerConfig(), log)
		// closing the broker closes the client
		inf.closers = append(inf.closers, broker.Close)
		inf.BrokerBus = event.NewBrokerBus(broker, log, m)
		inf.Bus = inf.BrokerBus
	} else {
		inf.Bus = event.NewMemoryBus(log, event.WithMetrics(m))
	}
	return inf, nil
}

// Deps derives the service dependencies from the configuration.
func (i *Infra) Deps(cfg *config.Config, log *logger.Logger) Deps {
	d := Deps{
		Repos:     i.Repos,
		Bus:       i.Bus,
		Log:       log,
		Metrics:   i.Metrics,
		Tokens:    auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Issuer, time.Duration(cfg.JWT.ExpiryHours)*time.Hour),
		Hasher:    security.NewBcryptHasher(cfg.Security.BcryptCost),
		ResetTTL:  cfg.ResetTokens.TTL,
		ReportKey: []byte(cfg.Security.ReportKey),
		Mail: email.NewSMTPService(email.Config{
			Host:     cfg.Notifications.SMTP.Host,
			Port:     cfg.Notifications.SMTP.Port,
			Username: cfg.Notifications.SMTP.Username,
			Password: cfg.Notifications.SMTP.Password,
			From:     cfg.Notifications.SMTP.From,
		}),
	}
	if i.Redis != nil {
		if cfg.ResetTokens.Store == "redis" {
			d.ResetTokens = account.NewRedisTokenStore(i.Redis, cfg.Redis.ChannelPrefix)
		}
		if cfg.Redis.BookingLockTTL > 0 {
			d.Locker = lock.NewRedisLocker(i.Redis, cfg.Redis.ChannelPrefix+"lock:", cfg.Redis.BookingLockTTL)
		}
	}
	return d
}

func (i *Infra) Close() error {
	var errs []error
	for j := len(i.closers) - 1; j >= 0; j-- {
		if err := i.closers[j](); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close infrastructure: %w", errors.Join(errs...))
	}
	return nil
}
