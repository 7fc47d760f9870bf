package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/repository"
	"github.com/jwalitptl/medbooking/internal/service/outbox"
	"github.com/jwalitptl/medbooking/pkg/event"
	"github.com/jwalitptl/medbooking/pkg/logger"
	"github.com/jwalitptl/medbooking/pkg/metrics"
)

type OutboxRelayConfig struct {
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	// MaxRetries is the number of failed batches after which a row is
	// parked as failed.
	MaxRetries int
	ClaimLease time.Duration
}

func (c OutboxRelayConfig) validate() error {
	switch {
	case c.BatchSize <= 0:
		return fmt.Errorf("BatchSize must be greater than 0")
	case c.PollInterval <= 0:
		return fmt.Errorf("PollInterval must be greater than 0")
	case c.RetryAttempts <= 0:
		return fmt.Errorf("RetryAttempts must be greater than 0")
	case c.RetryDelay < 0:
		return fmt.Errorf("RetryDelay must not be negative")
	case c.MaxRetries <= 0:
		return fmt.Errorf("MaxRetries must be greater than 0")
	case c.ClaimLease <= 0:
		return fmt.Errorf("ClaimLease must be greater than 0")
	}
	return nil
}

// OutboxRelay publishes committed outbox rows on the event bus.
type OutboxRelay struct {
	repo    repository.OutboxRepository
	bus     event.Bus
	config  OutboxRelayConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewOutboxRelay(
	repo repository.OutboxRepository,
	bus event.Bus,
	config OutboxRelayConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) (*OutboxRelay, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid outbox relay config: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &OutboxRelay{
		repo:    repo,
		bus:     bus,
		config:  config,
		logger:  log.With("worker", "outbox-relay"),
		metrics: m,
	}, nil
}

func (p *OutboxRelay) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox relay")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox relay")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
		}
	}
}

// ProcessBatch relays one batch and returns how many rows were published.
func (p *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	rows, err := p.repo.ClaimPending(ctx, p.config.BatchSize, p.config.ClaimLease)
	if err != nil {
		p.metrics.DatabaseOperations.WithLabelValues("claim_outbox", "error").Inc()
		return 0, fmt.Errorf("failed to claim pending events: %w", err)
	}
	p.metrics.DatabaseOperations.WithLabelValues("claim_outbox", "success").Inc()
	p.metrics.OutboxQueueSize.Set(float64(len(rows)))

	published := 0
	for _, row := range rows {
		if err := p.processEvent(ctx, row); err != nil {
			p.logger.Error(err, "Failed to process event",
				"event_id", row.ID.String(),
				"event_type", row.EventType)
			continue
		}
		published++
	}
	return published, nil
}

// Drain relays batches until nothing is pending.
func (p *OutboxRelay) Drain(ctx context.Context) error {
	for {
		n, err := p.ProcessBatch(ctx)
		if err != nil || n == 0 {
			return err
		}
	}
}

func (p *OutboxRelay) processEvent(ctx context.Context, row *model.OutboxEvent) error {
	evt, err := outbox.Decode(row)
	if err == nil {
		err = retry(ctx, p.config.RetryAttempts, p.config.RetryDelay, func() error {
			return p.bus.Publish(ctx, evt)
		})
	}

	if err != nil {
		p.metrics.OutboxEventsFailed.Inc()
		if markErr := p.repo.MarkFailed(ctx, row.ID, err.Error(), p.config.MaxRetries); markErr != nil {
			p.logger.Error(markErr, "Failed to update event status", "event_id", row.ID.String())
		}
		return err
	}

	p.metrics.OutboxEventsProcessed.Inc()
	if err := p.repo.MarkProcessed(ctx, row.ID); err != nil {
		p.logger.Error(err, "Failed to update event status", "event_id", row.ID.String())
		return err
	}
	return nil
}

func retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}
