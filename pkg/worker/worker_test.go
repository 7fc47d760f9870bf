package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/repository/memory"
	"github.com/jwalitptl/medbooking/internal/service/outbox"
	"github.com/jwalitptl/medbooking/pkg/event"
)

type flakyBus struct {
	*event.MemoryBus
	failures int
}

func (b *flakyBus) Publish(ctx context.Context, evt event.Event) error {
	if b.failures > 0 {
		b.failures--
		return errors.New("broker unavailable")
	}
	return b.MemoryBus.Publish(ctx, evt)
}

func relayConfig() OutboxRelayConfig {
	return OutboxRelayConfig{
		BatchSize:     10,
		PollInterval:  time.Second,
		RetryAttempts: 2,
		RetryDelay:    0,
		MaxRetries:    2,
		ClaimLease:    time.Minute,
	}
}

func stage(t *testing.T, repo *memory.OutboxRepository, names ...string) {
	t.Helper()
	w := outbox.NewWriter(repo)
	for _, name := range names {
		evt := event.New(name, event.SystemActor, "payment", uuid.New(), event.StatusOK, map[string]interface{}{"amount": 10.5})
		require.NoError(t, w.Stage(context.Background(), evt))
	}
}

func TestOutboxRelayPublishesInOrder(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewOutboxRepository(store)
	bus := event.NewMemoryBus(nil)
	stage(t, repo, event.PaymentCreated, event.LogsRecord)

	relay, err := NewOutboxRelay(repo, bus, relayConfig(), nil, nil)
	require.NoError(t, err)

	n, err := relay.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	published := bus.Published()
	require.Len(t, published, 2)
	assert.Equal(t, event.PaymentCreated, published[0].Name)
	assert.Equal(t, event.LogsRecord, published[1].Name)
	amount, ok := published[0].Float("amount")
	assert.True(t, ok)
	assert.Equal(t, 10.5, amount)

	for _, row := range repo.Events() {
		assert.Equal(t, model.OutboxStatusProcessed, row.Status)
	}

	n, err = relay.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutboxRelayRetriesThenParks(t *testing.T) {
	repo := memory.NewOutboxRepository(memory.NewStore())
	stage(t, repo, event.PaymentFailed)

	// one failure is absorbed by the in-batch retry
	bus := &flakyBus{MemoryBus: event.NewMemoryBus(nil), failures: 1}
	relay, err := NewOutboxRelay(repo, bus, relayConfig(), nil, nil)
	require.NoError(t, err)
	n, err := relay.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stage(t, repo, event.PaymentFailed)
	bus.failures = 100
	for i := 0; i < 3; i++ {
		n, err = relay.ProcessBatch(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
	}

	rows := repo.Events()
	require.Len(t, rows, 2)
	assert.Equal(t, model.OutboxStatusFailed, rows[1].Status)
	assert.Equal(t, 2, rows[1].RetryCount)
	require.NotNil(t, rows[1].ErrorMessage)
	assert.Contains(t, *rows[1].ErrorMessage, "broker unavailable")
}

func TestNewOutboxRelayValidatesConfig(t *testing.T) {
	cfg := relayConfig()
	cfg.BatchSize = 0
	_, err := NewOutboxRelay(memory.NewOutboxRepository(memory.NewStore()), event.NewMemoryBus(nil), cfg, nil, nil)
	assert.Error(t, err)
}

func TestRetentionWorker(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	var cutoff time.Time
	w := NewRetentionWorker("audit-retention", func(_ context.Context, before time.Time) (int64, error) {
		cutoff = before
		return 3, nil
	}, 30*24*time.Hour, time.Hour, nil, nil)
	w.now = func() time.Time { return now }

	assert.Equal(t, int64(3), w.RunOnce(context.Background()))
	assert.True(t, cutoff.Equal(now.AddDate(0, 0, -30)))

	failing := NewRetentionWorker("outbox-retention", func(context.Context, time.Time) (int64, error) {
		return 0, errors.New("db down")
	}, time.Hour, time.Hour, nil, nil)
	assert.Zero(t, failing.RunOnce(context.Background()))
}
