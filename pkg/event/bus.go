package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/jwalitptl/medbooking/pkg/logger"
	"github.com/jwalitptl/medbooking/pkg/metrics"
)

type registry struct {
	hmu      sync.RWMutex
	handlers map[string][]Handler
}

func (r *registry) add(name string, h Handler) {
	r.hmu.Lock()
	defer r.hmu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[string][]Handler)
	}
	r.handlers[name] = append(r.handlers[name], h)
}

func (r *registry) get(name string) []Handler {
	r.hmu.RLock()
	defer r.hmu.RUnlock()
	hs := r.handlers[name]
	out := make([]Handler, len(hs))
	copy(out, hs)
	return out
}

func (r *registry) names() []string {
	r.hmu.RLock()
	defer r.hmu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	return out
}

// dispatch runs one handler and contains its failures.
func dispatch(ctx context.Context, log *logger.Logger, m *metrics.Metrics, h Handler, evt Event) {
	outcome := "ok"
	defer func() {
		if p := recover(); p != nil {
			outcome = "panic"
			log.Error(fmt.Errorf("%v", p), "event handler panicked", "event", evt.Name, "event_id", evt.ID.String())
		}
		if m != nil {
			m.HandlerOutcomes.WithLabelValues(evt.Name, outcome).Inc()
		}
	}()

	if err := h(ctx, evt); err != nil {
		outcome = "error"
		log.Error(err, "event handler failed", "event", evt.Name, "event_id", evt.ID.String())
	}
}

type Option func(*MemoryBus)

// WithAsync makes Publish return before handlers run.
func WithAsync() Option {
	return func(b *MemoryBus) { b.async = true }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *MemoryBus) { b.metrics = m }
}

// MemoryBus is an in-process bus. In synchronous mode handlers run on the
// publisher's goroutine, which keeps tests deterministic.
type MemoryBus struct {
	registry
	log     *logger.Logger
	metrics *metrics.Metrics
	async   bool
	wg      sync.WaitGroup

	mu        sync.Mutex
	published []Event
}

func NewMemoryBus(log *logger.Logger, opts ...Option) *MemoryBus {
	if log == nil {
		log = logger.NewNop()
	}
	b := &MemoryBus{log: log.With("component", "event-bus")}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *MemoryBus) Subscribe(name string, h Handler) {
	b.add(name, h)
}

func (b *MemoryBus) Publish(ctx context.Context, evt Event) error {
	b.mu.Lock()
	b.published = append(b.published, evt)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.EventsPublished.WithLabelValues(evt.Name).Inc()
	}

	for _, h := range b.get(evt.Name) {
		if b.async {
			b.wg.Add(1)
			go func(h Handler) {
				defer b.wg.Done()
				dispatch(context.WithoutCancel(ctx), b.log, b.metrics, h, evt)
			}(h)
			continue
		}
		dispatch(ctx, b.log, b.metrics, h, evt)
	}
	return nil
}

// Wait blocks until every asynchronously dispatched handler returned.
func (b *MemoryBus) Wait() {
	b.wg.Wait()
}

// Published returns a copy of every event seen so far.
func (b *MemoryBus) Published() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.published))
	copy(out, b.published)
	return out
}

// Named returns the published events with the given name.
func (b *MemoryBus) Named(name string) []Event {
	var out []Event
	for _, evt := range b.Published() {
		if evt.Name == name {
			out = append(out, evt)
		}
	}
	return out
}

// Reset forgets recorded events but keeps subscriptions.
func (b *MemoryBus) Reset() {
	b.mu.Lock()
	b.published = nil
	b.mu.Unlock()
}
