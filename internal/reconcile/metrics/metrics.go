// Package metrics holds the Prometheus collectors for the reconciliation
// engine. Services accept a nil *Metrics; every method is nil-safe so unit
// tests can skip registration entirely.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates all engine collectors.
type Metrics struct {
	SnapshotsSynced    prometheus.Counter
	DuplicatesResolved prometheus.Counter
	MirrorUpserts      prometheus.Counter
	MirrorDeletes      prometheus.Counter
	LinksRewritten     prometheus.Counter
	EdgesCreated       prometheus.Counter
	BatchesCommitted   prometheus.Counter
	BatchSize          prometheus.Histogram
	RunDuration        *prometheus.HistogramVec
}

// New creates and registers all engine collectors on the default registry.
func New() *Metrics {
	return &Metrics{
		SnapshotsSynced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lattice_snapshots_synced_total",
			Help: "Association references whose snapshot was refreshed",
		}),
		DuplicatesResolved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lattice_duplicates_resolved_total",
			Help: "Duplicate entities deleted by the resolver",
		}),
		MirrorUpserts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lattice_mirror_upserts_total",
			Help: "Location state mirror records upserted",
		}),
		MirrorDeletes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lattice_mirror_deletes_total",
			Help: "Location state mirror records deleted",
		}),
		LinksRewritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lattice_links_rewritten_total",
			Help: "Legacy foreign keys rewritten to canonical ids",
		}),
		EdgesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lattice_edges_created_total",
			Help: "Explicit association edges inserted",
		}),
		BatchesCommitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lattice_batches_committed_total",
			Help: "Write batches committed to the store",
		}),
		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lattice_batch_size",
			Help:    "Operations per committed batch",
			Buckets: []float64{1, 10, 50, 100, 250, 500},
		}),
		RunDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lattice_run_duration_seconds",
			Help:    "Wall time of reconciliation runs by job",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
}

// ObserveBatch records one committed batch.
func (m *Metrics) ObserveBatch(size int) {
	if m == nil {
		return
	}
	m.BatchesCommitted.Inc()
	m.BatchSize.Observe(float64(size))
}

// ObserveRun records the duration of one run in seconds.
func (m *Metrics) ObserveRun(job string, seconds float64) {
	if m == nil {
		return
	}
	m.RunDuration.WithLabelValues(job).Observe(seconds)
}

// AddSnapshotsSynced increments the synced-reference counter by n.
func (m *Metrics) AddSnapshotsSynced(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SnapshotsSynced.Add(float64(n))
}

// AddDuplicatesResolved increments the resolved-duplicate counter by n.
func (m *Metrics) AddDuplicatesResolved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DuplicatesResolved.Add(float64(n))
}

// IncMirrorUpsert records one mirror upsert.
func (m *Metrics) IncMirrorUpsert() {
	if m == nil {
		return
	}
	m.MirrorUpserts.Inc()
}

// IncMirrorDelete records one mirror delete.
func (m *Metrics) IncMirrorDelete() {
	if m == nil {
		return
	}
	m.MirrorDeletes.Inc()
}

// AddLinksRewritten increments the link counter by n.
func (m *Metrics) AddLinksRewritten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.LinksRewritten.Add(float64(n))
}

// AddEdgesCreated increments the edge counter by n.
func (m *Metrics) AddEdgesCreated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EdgesCreated.Add(float64(n))
}
