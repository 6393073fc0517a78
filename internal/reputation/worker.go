package reputation

import (
	"context"
	"log/slog"
	"time"
)

// Worker captures periodic score snapshots for every agent with recorded
// outcomes, giving the history endpoint something to serve. One capture runs
// at startup so a fresh deployment has data before the first tick.
type Worker struct {
	calc     *Calculator
	provider MetricsProvider
	store    SnapshotStore
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewWorker creates a snapshot worker. Production deployments run it hourly.
func NewWorker(provider MetricsProvider, store SnapshotStore, interval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		calc:     NewCalculator(),
		provider: provider,
		store:    store,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start runs the capture loop until the context is cancelled or Stop is
// called. Call in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.captureAll(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.captureAll(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *Worker) Stop() {
	select {
	case w.stop <- struct{}{}:
	default:
	}
}

func (w *Worker) captureAll(ctx context.Context) {
	byAgent, err := w.provider.GetAllAgentMetrics(ctx)
	if err != nil {
		w.logger.Warn("score capture aborted", "error", err)
		return
	}
	if len(byAgent) == 0 {
		return
	}

	snaps := make([]*Snapshot, 0, len(byAgent))
	for addr, m := range byAgent {
		snaps = append(snaps, SnapshotFromScore(w.calc.Calculate(addr, *m)))
	}

	if err := w.store.SaveBatch(ctx, snaps); err != nil {
		w.logger.Warn("score capture not persisted", "error", err, "agents", len(snaps))
		return
	}
	w.logger.Info("score snapshots captured", "agents", len(snaps))
}
