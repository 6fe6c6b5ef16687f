// Package metrics exposes Prometheus instrumentation for connection ticks and
// reconciliation passes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "virtwatch"

// Recorder implements conn.Metrics on Prometheus collectors.
type Recorder struct {
	ticks            *prometheus.CounterVec
	tickDuration     *prometheus.HistogramVec
	reconciles       *prometheus.CounterVec
	objectsAdded     *prometheus.CounterVec
	objectsRemoved   *prometheus.CounterVec
	enumerationErrs  *prometheus.CounterVec
	livenessFailures *prometheus.CounterVec
	cachedObjects    *prometheus.GaugeVec
}

// NewRecorder creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticks_total",
				Help:      "Ticks that passed the liveness check.",
			},
			[]string{"uri"},
		),
		tickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tick_duration_seconds",
				Help:      "Duration of a connection tick.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"uri"},
		),
		reconciles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_total",
				Help:      "Completed reconciliation passes.",
			},
			[]string{"uri", "kind"},
		),
		objectsAdded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "objects_added_total",
				Help:      "Objects inserted into a cache.",
			},
			[]string{"uri", "kind"},
		),
		objectsRemoved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "objects_removed_total",
				Help:      "Objects removed from a cache by reconciliation.",
			},
			[]string{"uri", "kind"},
		),
		enumerationErrs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enumeration_errors_total",
				Help:      "Reconciliation passes skipped because enumeration failed.",
			},
			[]string{"uri", "kind"},
		),
		livenessFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "liveness_failures_total",
				Help:      "Failed liveness checks. Each one disconnects the connection.",
			},
			[]string{"uri"},
		),
		cachedObjects: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cached_objects",
				Help:      "Objects currently cached per connection and kind.",
			},
			[]string{"uri", "kind"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			r.ticks,
			r.tickDuration,
			r.reconciles,
			r.objectsAdded,
			r.objectsRemoved,
			r.enumerationErrs,
			r.livenessFailures,
			r.cachedObjects,
		)
	}
	return r
}

func (r *Recorder) TickCompleted(uri string, d time.Duration) {
	r.ticks.WithLabelValues(uri).Inc()
	r.tickDuration.WithLabelValues(uri).Observe(d.Seconds())
}

func (r *Recorder) PassCompleted(uri, kind string, added, removed int) {
	r.reconciles.WithLabelValues(uri, kind).Inc()
	r.objectsAdded.WithLabelValues(uri, kind).Add(float64(added))
	r.objectsRemoved.WithLabelValues(uri, kind).Add(float64(removed))
}

func (r *Recorder) EnumerationFailed(uri, kind string) {
	r.enumerationErrs.WithLabelValues(uri, kind).Inc()
}

func (r *Recorder) LivenessFailed(uri string) {
	r.livenessFailures.WithLabelValues(uri).Inc()
}

func (r *Recorder) ObjectsCached(uri, kind string, n int) {
	r.cachedObjects.WithLabelValues(uri, kind).Set(float64(n))
}

// Forget drops every series labelled with uri, for a connection that was removed.
func (r *Recorder) Forget(uri string) {
	labels := prometheus.Labels{"uri": uri}
	r.ticks.DeletePartialMatch(labels)
	r.tickDuration.DeletePartialMatch(labels)
	r.reconciles.DeletePartialMatch(labels)
	r.objectsAdded.DeletePartialMatch(labels)
	r.objectsRemoved.DeletePartialMatch(labels)
	r.enumerationErrs.DeletePartialMatch(labels)
	r.livenessFailures.DeletePartialMatch(labels)
	r.cachedObjects.DeletePartialMatch(labels)
}
