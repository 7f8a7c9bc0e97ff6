package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "rankwatch"

// Metrics holds the sync engine's Prometheus instruments. All instruments
// register against the provided registry so cmd/api can expose them on
// /metrics alongside the process collectors.
type Metrics struct {
	CategoriesChecked *prometheus.CounterVec
	ChangeEvents      prometheus.Counter
	SnapshotEntries   prometheus.Histogram
	FetchDuration     prometheus.Histogram
	CycleDuration     prometheus.Histogram
}

// NewMetrics creates and registers the sync instruments. A nil registry
// falls back to the default registerer.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	var auto promauto.Factory
	if registry != nil {
		auto = promauto.With(registry)
	} else {
		auto = promauto.With(prometheus.DefaultRegisterer)
	}

	return &Metrics{
		CategoriesChecked: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "categories_total",
			Help:      "Categories processed per cycle, by outcome status.",
		}, []string{"status"}),
		ChangeEvents: auto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "change_events_total",
			Help:      "Change events emitted to sinks.",
		}),
		SnapshotEntries: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "snapshot_entries",
			Help:      "Entry count per persisted snapshot.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500},
		}),
		FetchDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of rankings source fetches, retries included.",
			Buckets:   prometheus.DefBuckets,
		}),
		CycleDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of full synchronization cycles.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800},
		}),
	}
}

// observe records a category outcome.
func (m *Metrics) observe(cr CategoryResult) {
	if m == nil {
		return
	}
	m.CategoriesChecked.WithLabelValues(string(cr.Status)).Inc()
	m.ChangeEvents.Add(float64(cr.Events))
}
