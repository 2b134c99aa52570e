// Package telemetry exposes training and inference counters through a
// private Prometheus registry.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "microforest"

// Metrics holds the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	treesBuilt      prometheus.Counter
	forcedLeaves    prometheus.Counter
	rejectedRecords prometheus.Counter
	restores        *prometheus.CounterVec
	treeNodes       prometheus.Histogram
	gridPoints      prometheus.Counter
	gridDuration    prometheus.Histogram
	bestScore       prometheus.Gauge
	predictions     *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		treesBuilt: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "train",
			Name:      "trees_built_total",
			Help:      "Trees grown across all grid points",
		}),
		forcedLeaves: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "train",
			Name:      "forced_leaves_total",
			Help:      "Leaves forced by the node or memory budget",
		}),
		rejectedRecords: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "data",
			Name:      "rejected_records_total",
			Help:      "Input records rejected during CSV loading",
		}),
		restores: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forest",
			Name:      "restores_total",
			Help:      "Tree restores after a failed page load",
		}, []string{"status"}),
		treeNodes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "train",
			Name:      "tree_nodes",
			Help:      "Node count per built tree",
			Buckets:   []float64{1, 3, 7, 15, 31, 63, 127, 255, 511, 1023, 2047},
		}),
		gridPoints: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "grid_points_total",
			Help:      "Hyperparameter combinations evaluated",
		}),
		gridDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "grid_point_duration_seconds",
			Help:      "Time to build and score one grid point",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		bestScore: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "best_score",
			Help:      "Objective score of the best grid point so far",
		}),
		predictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "predict",
			Name:      "samples_total",
			Help:      "Predicted samples by outcome",
		}, []string{"outcome"}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveTree records one finished tree build.
func (m *Metrics) ObserveTree(nodes, forcedLeaves int) {
	if m == nil {
		return
	}
	m.treesBuilt.Inc()
	m.forcedLeaves.Add(float64(forcedLeaves))
	m.treeNodes.Observe(float64(nodes))
}

// ObserveRejected records rejected input records.
func (m *Metrics) ObserveRejected(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rejectedRecords.Add(float64(n))
}

// ObserveRestore records a restore attempt.
func (m *Metrics) ObserveRestore(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.restores.WithLabelValues(status).Inc()
}

// ObserveGridPoint records one evaluated hyperparameter combination.
func (m *Metrics) ObserveGridPoint(d time.Duration) {
	if m == nil {
		return
	}
	m.gridPoints.Inc()
	m.gridDuration.Observe(d.Seconds())
}

// SetBestScore updates the best objective score.
func (m *Metrics) SetBestScore(score float64) {
	if m == nil {
		return
	}
	m.bestScore.Set(score)
}

// ObservePrediction counts one prediction as correct, wrong or unknown.
func (m *Metrics) ObservePrediction(outcome string) {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(outcome).Inc()
}
