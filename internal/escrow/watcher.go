package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/skillvault/internal/metrics"
)

// Watcher periodically sweeps for funded escrows whose rental duration has
// expired. Expiry is advisory: the watcher never moves funds — refunds stay
// caller-driven (the renter may force one via Refund once expired) — but it
// surfaces expired records through logs and a gauge so operators and agents
// notice them.
type Watcher struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewWatcher creates a new escrow timeout watcher.
func NewWatcher(store Store, logger *slog.Logger) *Watcher {
	return &Watcher{
		store:    store,
		interval: 30 * time.Second,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// WithInterval overrides the sweep interval.
func (w *Watcher) WithInterval(d time.Duration) *Watcher {
	if d > 0 {
		w.interval = d
	}
	return w
}

// Running reports whether the watcher loop is actively running.
func (w *Watcher) Running() bool {
	return w.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (w *Watcher) Start(ctx context.Context) {
	w.running.Store(true)
	defer w.running.Store(false)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.safeSweep(ctx)
		}
	}
}

// Stop signals the watcher to stop.
func (w *Watcher) Stop() {
	select {
	case w.stop <- struct{}{}:
	default:
	}
}

func (w *Watcher) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic in escrow watcher", "panic", fmt.Sprint(r))
		}
	}()
	w.sweep(ctx)
}

func (w *Watcher) sweep(ctx context.Context) {
	expired, err := w.store.ListFundedBefore(ctx, time.Now(), 100)
	if err != nil {
		w.logger.Warn("failed to list expired escrows", "error", err)
		return
	}

	metrics.EscrowsExpiredUnresolved.Set(float64(len(expired)))

	for _, esc := range expired {
		w.logger.Info("escrow past rental duration, renter may force refund",
			"escrowId", esc.ID,
			"provider", esc.Provider,
			"renter", esc.Renter,
			"amount", esc.Amount,
			"expiredAt", esc.ExpiresAt(),
		)
	}
}
