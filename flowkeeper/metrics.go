package flowkeeper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "flowkeeper"

// Metrics holds the Prometheus collectors of one Keeper, registered on the
// Keeper's own registry.
type Metrics struct {
	// PagesRecorded counts crawled pages ingested.
	PagesRecorded prometheus.Counter
	// FlowsRecorded counts transitions saved as flows.
	FlowsRecorded prometheus.Counter
	// TransitionsSkipped counts malformed transitions.
	TransitionsSkipped prometheus.Counter

	// HealRequests counts healing lookups.
	// Labels: result (matched, unmatched)
	HealRequests *prometheus.CounterVec

	// QueryDuration measures graph queries.
	// Labels: query (important_flows, critical_journeys, find_paths)
	QueryDuration *prometheus.HistogramVec
	// PathsTruncated counts path searches stopped by a cap.
	PathsTruncated prometheus.Counter

	SnapshotDuration prometheus.Histogram
	SnapshotErrors   prometheus.Counter
}

// NewMetrics creates the collectors on reg. The store gauges read k lazily
// at scrape time.
func NewMetrics(reg prometheus.Registerer, k *Keeper) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		PagesRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "ingest",
			Name: "pages_total", Help: "Crawled pages recorded.",
		}),
		FlowsRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "ingest",
			Name: "flows_total", Help: "Transitions saved as flows.",
		}),
		TransitionsSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "ingest",
			Name: "transitions_skipped_total", Help: "Malformed transitions ignored.",
		}),
		HealRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "heal",
			Name: "requests_total", Help: "Healing lookups by result.",
		}, []string{"result"}),
		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "graph",
			Name: "query_duration_seconds", Help: "Graph query latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"query"}),
		PathsTruncated: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "graph",
			Name: "paths_truncated_total", Help: "Path searches stopped by a cap.",
		}),
		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "snapshot",
			Name: "duration_seconds", Help: "Snapshot save latency.",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "snapshot",
			Name: "errors_total", Help: "Failed snapshot saves.",
		}),
	}

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace, Subsystem: "store",
		Name: "fingerprints", Help: "Stored element fingerprints.",
	}, func() float64 { return float64(k.fps.Len()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace, Subsystem: "store",
		Name: "flows", Help: "Stored flows.",
	}, func() float64 { return float64(k.flows.Len()) })
	return m
}

func (m *Metrics) observeQuery(query string, start time.Time) {
	m.QueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
}
