package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/medbooking/pkg/logger"
	"github.com/jwalitptl/medbooking/pkg/metrics"
)

// PurgeFunc deletes rows older than before and reports how many went.
type PurgeFunc func(ctx context.Context, before time.Time) (int64, error)

// RetentionWorker periodically drops rows past their retention window.
type RetentionWorker struct {
	name      string
	purge     PurgeFunc
	retention time.Duration
	interval  time.Duration
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewRetentionWorker(name string, purge PurgeFunc, retention, interval time.Duration, log *logger.Logger, m *metrics.Metrics) *RetentionWorker {
	if log == nil {
		log = logger.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &RetentionWorker{
		name:      name,
		purge:     purge,
		retention: retention,
		interval:  interval,
		logger:    log.With("worker", name),
		metrics:   m,
		now:       time.Now,
	}
}

func (w *RetentionWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce purges everything older than the retention window.
func (w *RetentionWorker) RunOnce(ctx context.Context) int64 {
	cutoff := w.now().UTC().Add(-w.retention)
	n, err := w.purge(ctx, cutoff)
	if err != nil {
		w.metrics.WorkerRuns.WithLabelValues(w.name, "error").Inc()
		w.logger.Error(err, "retention purge failed", "cutoff", cutoff)
		return 0
	}
	w.metrics.WorkerRuns.WithLabelValues(w.name, "ok").Inc()
	if n > 0 {
		w.logger.Info("retention purge", "deleted", n, "cutoff", cutoff)
	}
	return n
}
