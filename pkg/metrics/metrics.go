// Package metrics exposes Strata's Prometheus instrumentation: the
// transaction coordinator's commit/conflict counters, the WAL's fsync
// latency, and a per-primitive operation counter/duration pair. Nothing in
// pkg/storage or the primitive packages requires this package to be wired
// up -- every hook here is a package-level no-argument-constructor var, so
// an embedder that never calls Handler still pays only the cost of a few
// atomic increments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CommitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_commits_total",
			Help: "Total number of transactions committed",
		},
	)

	ConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_conflicts_total",
			Help: "Total number of transactions aborted by first-committer-wins validation",
		},
		[]string{"reason"},
	)

	VacuumSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_vacuum_sweeps_total",
			Help: "Total number of retention sweeps run",
		},
	)

	VacuumVersionsReclaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_vacuum_versions_reclaimed_total",
			Help: "Total number of chained MVCC versions dropped by retention sweeps",
		},
	)

	WALFsyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "strata_wal_fsync_duration_seconds",
			Help:    "Time taken to flush and fsync the active WAL segment",
			Buckets: prometheus.DefBuckets,
		},
	)

	WALAppendBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_wal_append_bytes_total",
			Help: "Total number of bytes appended to the WAL",
		},
	)

	PrimitiveOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_primitive_ops_total",
			Help: "Total number of primitive operations by primitive and op name",
		},
		[]string{"primitive", "op"},
	)

	PrimitiveOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strata_primitive_op_duration_seconds",
			Help:    "Primitive operation duration in seconds by primitive and op name",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"primitive", "op"},
	)

	RunsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "strata_runs_active",
			Help: "Number of runs currently in the active state",
		},
	)
)

func init() {
	prometheus.MustRegister(
		CommitsTotal,
		ConflictsTotal,
		VacuumSweepsTotal,
		VacuumVersionsReclaimed,
		WALFsyncDuration,
		WALAppendBytesTotal,
		PrimitiveOpsTotal,
		PrimitiveOpDuration,
		RunsActive,
	)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an operation and records it into a histogram vec keyed by
// primitive and op on Observe.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObservePrimitiveOp records the elapsed time and bumps the op counter for
// (primitive, op). Call from the primitive package's exported methods,
// e.g. `defer metrics.NewTimer().ObservePrimitiveOp("kv", "put")`.
func (t *Timer) ObservePrimitiveOp(primitive, op string) {
	PrimitiveOpsTotal.WithLabelValues(primitive, op).Inc()
	PrimitiveOpDuration.WithLabelValues(primitive, op).Observe(time.Since(t.start).Seconds())
}

// ObserveDuration records the elapsed time into histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}
