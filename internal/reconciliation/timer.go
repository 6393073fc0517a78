package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically runs the custody reconciliation sweep.
type Timer struct {
	svc      *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new reconciliation timer.
func NewTimer(svc *Service, logger *slog.Logger) *Timer {
	return &Timer{
		svc:      svc,
		interval: 5 * time.Minute,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// WithInterval overrides the sweep interval.
func (t *Timer) WithInterval(d time.Duration) *Timer {
	if d > 0 {
		t.interval = d
	}
	return t
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the periodic reconciliation loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeRun(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in reconciliation timer", "panic", fmt.Sprint(r))
		}
	}()
	t.run(ctx)
}

func (t *Timer) run(ctx context.Context) {
	start := time.Now()
	res, err := t.svc.ReconcileCustody(ctx)
	reconcileDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		reconcileErrors.Inc()
		t.logger.Warn("custody reconciliation failed", "error", err)
		return
	}

	reconcileCustodyMismatches.Set(float64(len(res.Mismatches)))
	if !res.Match {
		for _, m := range res.Mismatches {
			t.logger.Error("custody balance deviates from escrow record",
				"escrowId", m.EscrowID,
				"custodyAccount", m.CustodyAccount,
				"state", m.State,
				"expected", m.Expected,
				"actual", m.Actual,
				"diff", m.Diff,
			)
		}
		return
	}
	t.logger.Debug("custody reconciliation clean",
		"checked", res.Checked, "custodyTotal", res.CustodyTotal)
}
