package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileCustodyMismatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "skillvault",
		Subsystem: "reconciliation",
		Name:      "custody_mismatches",
		Help:      "Custody accounts whose balance deviated from the escrow record in the last sweep.",
	})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "skillvault",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of custody reconciliation sweeps in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "skillvault",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total custody reconciliation sweep errors.",
	})
)

func init() {
	prometheus.MustRegister(
		reconcileCustodyMismatches,
		reconcileDuration,
		reconcileErrors,
	)
}
