package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultRegistry holds every mirror metric; exposed on GET /metrics.
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		SnapshotRuns, SnapshotDuration, SnapshotSkippedEntries,
		LiveEvents, Resubscribes,
		TxOutcomes, ConfirmLatency,
		HeldEntries,
	)
}

// SnapshotRuns counts snapshot loads by result.
var SnapshotRuns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ledger_mirror_snapshot_runs_total",
		Help: "Snapshot loads by result",
	},
	[]string{"result"}, // applied | unchanged | failed
)

var SnapshotDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "ledger_mirror_snapshot_duration_seconds",
		Help:    "Wall time of one snapshot load",
		Buckets: prometheus.DefBuckets,
	},
)

// SnapshotSkippedEntries counts per-index read failures absorbed by the loader.
var SnapshotSkippedEntries = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "ledger_mirror_snapshot_skipped_entries_total",
		Help: "Entry reads skipped during snapshot loads",
	},
)

// LiveEvents counts delivered live entries by merge outcome.
var LiveEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ledger_mirror_live_events_total",
		Help: "Live append events by merge outcome",
	},
	[]string{"outcome"}, // inserted | duplicate | gap | out_of_order | removed
)

var Resubscribes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ledger_mirror_resubscribes_total",
		Help: "Reconciler session restarts by cause",
	},
	[]string{"cause"}, // subscription_lost | gap | snapshot_failed | subscribe_failed
)

// TxOutcomes counts terminal transaction states by kind.
var TxOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ledger_mirror_tx_outcomes_total",
		Help: "Terminal transaction outcomes",
	},
	[]string{"kind", "state"},
)

var ConfirmLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "ledger_mirror_confirm_latency_seconds",
		Help:    "Time from broadcast to receipt",
		Buckets: []float64{1, 2, 5, 10, 15, 30, 60, 120},
	},
	[]string{"kind"},
)

var HeldEntries = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "ledger_mirror_held_entries",
		Help: "Entries currently held by the mirror",
	},
)

// Handler serves DefaultRegistry in the Prometheus text format.
func Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}
