// Package metrics exposes Prometheus metrics for the GC daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/snapgc-io/snapgc/internal/gc"
)

// GCMetrics holds the per-pass garbage collection metrics.
type GCMetrics struct {
	// PassesTotal counts completed GC passes, including leaderless no-ops.
	PassesTotal prometheus.Counter

	// TombstonedTotal counts snapshots soft-deleted across all passes.
	TombstonedTotal prometheus.Counter

	// DeletedTotal counts payloads permanently deleted across all passes.
	DeletedTotal prometheus.Counter

	// QuarantinedTotal counts snapshots moved to quarantine.
	QuarantinedTotal prometheus.Counter

	// DeleteFailuresTotal counts failed payload deletions.
	DeleteFailuresTotal prometheus.Counter

	// InactiveSignalsTotal counts INACTIVE_ELIGIBLE signals emitted.
	InactiveSignalsTotal prometheus.Counter

	// LastPassScanned is the record count of the most recent pass.
	LastPassScanned prometheus.Gauge

	// LastPassTombstoned is the tombstone count of the most recent pass.
	LastPassTombstoned prometheus.Gauge

	// LastPassDeleted is the hard-delete count of the most recent pass.
	LastPassDeleted prometheus.Gauge
}

// NewGCMetrics creates and registers GC metrics with the default registry.
func NewGCMetrics() *GCMetrics {
	return newGCMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewGCMetricsWithRegistry creates GC metrics registered with a custom
// registry. Useful for testing to avoid conflicts with the default registry.
func NewGCMetricsWithRegistry(reg prometheus.Registerer) *GCMetrics {
	return newGCMetrics(promauto.With(reg))
}

func newGCMetrics(factory promauto.Factory) *GCMetrics {
	return &GCMetrics{
		PassesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "snapgc",
			Subsystem: "gc",
			Name:      "passes_total",
			Help:      "Number of completed GC passes.",
		}),
		TombstonedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "snapgc",
			Subsystem: "gc",
			Name:      "tombstoned_total",
			Help:      "Number of snapshots soft-deleted (tombstoned).",
		}),
		DeletedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "snapgc",
			Subsystem: "gc",
			Name:      "deleted_total",
			Help:      "Number of snapshot payloads permanently deleted.",
		}),
		QuarantinedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "snapgc",
			Subsystem: "gc",
			Name:      "quarantined_total",
			Help:      "Number of snapshots quarantined after repeated delete failures.",
		}),
		DeleteFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "snapgc",
			Subsystem: "gc",
			Name:      "delete_failures_total",
			Help:      "Number of failed payload deletions.",
		}),
		InactiveSignalsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "snapgc",
			Subsystem: "gc",
			Name:      "inactive_signals_total",
			Help:      "Number of inactivity signals emitted for unreferenced snapshots.",
		}),
		LastPassScanned: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "snapgc",
			Subsystem: "gc",
			Name:      "last_pass_scanned",
			Help:      "Snapshot records scanned by the most recent pass.",
		}),
		LastPassTombstoned: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "snapgc",
			Subsystem: "gc",
			Name:      "last_pass_tombstoned",
			Help:      "Snapshots tombstoned by the most recent pass.",
		}),
		LastPassDeleted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "snapgc",
			Subsystem: "gc",
			Name:      "last_pass_deleted",
			Help:      "Payloads deleted by the most recent pass.",
		}),
	}
}

// Record folds the result of a single pass into the exported series.
func (m *GCMetrics) Record(pass gc.Metrics) {
	m.PassesTotal.Inc()
	m.TombstonedTotal.Add(float64(pass.Tombstoned))
	m.DeletedTotal.Add(float64(pass.Deleted))
	m.QuarantinedTotal.Add(float64(pass.Quarantined))
	m.DeleteFailuresTotal.Add(float64(pass.DeleteFailed))
	m.InactiveSignalsTotal.Add(float64(pass.InactiveLoadedSignals))
	m.LastPassScanned.Set(float64(pass.Scanned))
	m.LastPassTombstoned.Set(float64(pass.Tombstoned))
	m.LastPassDeleted.Set(float64(pass.Deleted))
}
