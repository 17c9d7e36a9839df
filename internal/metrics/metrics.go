// Package metrics defines the daemon's Prometheus instrumentation: batch
// reconcile latency, checkpoints emitted by trigger, objects reclaimed by
// retention, and the journal's current size, exposed the same
// promauto-registered-package-level-vars way the retrieval pack's own
// checkpoint/restore session code instruments itself.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ReconcileDuration tracks how long a single batch reconcile (fs_batch,
	// manual, rescan, or restore) takes from dirty-path normalization through
	// the journal append.
	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "timelapse_reconcile_duration_seconds",
		Help:    "Time to reconcile one batch of filesystem changes into a checkpoint.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	})

	// CheckpointsTotal counts committed checkpoints by trigger.
	CheckpointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timelapse_checkpoints_total",
		Help: "Total checkpoints committed, by trigger.",
	}, []string{"trigger"})

	// GCObjectsSweptTotal counts objects retention has deleted.
	GCObjectsSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timelapse_gc_objects_swept_total",
		Help: "Total objects deleted by retention sweeps.",
	})

	// GCLiveObjectsGauge reports the live set size as of the last sweep.
	GCLiveObjectsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timelapse_gc_live_checkpoints",
		Help: "Number of checkpoints in the live set as of the last retention sweep.",
	})

	// GCJournalPrunedTotal counts journal records deleted by retention
	// sweeps for checkpoints that fell outside the live set.
	GCJournalPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timelapse_gc_journal_pruned_total",
		Help: "Total journal records pruned by retention sweeps.",
	})

	// JournalCheckpointsGauge reports the journal's current checkpoint count.
	JournalCheckpointsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timelapse_journal_checkpoints",
		Help: "Number of checkpoint records currently in the journal.",
	})

	// DeferredPathsGauge reports how many paths are waiting on a stable read.
	DeferredPathsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timelapse_deferred_paths",
		Help: "Number of paths currently deferred pending a stable read.",
	})
)

// Handler returns the http.Handler that exposes the registered metrics,
// meant to be mounted at /metrics on the same loopback listener the
// eventstream's WebSocket upgrade uses.
func Handler() http.Handler {
	return promhttp.Handler()
}
