package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jwalitptl/medbooking/pkg/logger"
	"github.com/jwalitptl/medbooking/pkg/messaging"
	"github.com/jwalitptl/medbooking/pkg/metrics"
)

// BrokerBus publishes events as JSON on a message broker channel named
// after the event. Subscribers only receive messages once Start is called.
type BrokerBus struct {
	registry
	broker  messaging.Broker
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewBrokerBus(broker messaging.Broker, log *logger.Logger, m *metrics.Metrics) *BrokerBus {
	if log == nil {
		log = logger.NewNop()
	}
	return &BrokerBus{
		broker:  broker,
		log:     log.With("component", "broker-bus"),
		metrics: m,
	}
}

func (b *BrokerBus) Publish(ctx context.Context, evt Event) error {
	if err := b.broker.Publish(ctx, evt.Name, evt); err != nil {
		return fmt.Errorf("failed to publish %s: %w", evt.Name, err)
	}
	if b.metrics != nil {
		b.metrics.EventsPublished.WithLabelValues(evt.Name).Inc()
	}
	return nil
}

func (b *BrokerBus) Subscribe(name string, h Handler) {
	b.add(name, h)
}

// Start opens one broker subscription per registered event name and
// dispatches until ctx is done.
func (b *BrokerBus) Start(ctx context.Context) error {
	for _, name := range b.names() {
		msgs, err := b.broker.Subscribe(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", name, err)
		}
		go b.consume(ctx, name, msgs)
	}
	return nil
}

func (b *BrokerBus) consume(ctx context.Context, name string, msgs <-chan []byte) {
	for raw := range msgs {
		var evt Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			b.log.Error(err, "dropping malformed event", "channel", name)
			continue
		}
		for _, h := range b.get(name) {
			dispatch(ctx, b.log, b.metrics, h, evt)
		}
	}
}
