// Package metrics provides Prometheus metrics for the explanation pipeline.
// It covers model calls made while explaining, attribution throughput and
// failures, surrogate convergence, report storage and the HTTP service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the service.
type Metrics struct {
	// Model calls
	ModelPredictions prometheus.Counter   // Rows scored by the explained model
	ModelFailures    prometheus.Counter   // Failed model calls
	ModelLatency     prometheus.Histogram // Model call latency in seconds

	// Attribution
	Attributions        prometheus.Counter   // Instances explained
	AttributionFailures prometheus.Counter   // Instances that could not be explained
	ConvergenceFailures prometheus.Counter   // Surrogates that hit the sample budget
	LowConfidence       prometheus.Counter   // Attributions flagged low-confidence
	AttributionLatency  prometheus.Histogram // Per-instance attribution latency
	SurrogateSamples    prometheus.Histogram // Perturbed samples drawn per instance
	Runs                *prometheus.CounterVec
	ActiveWorkers       prometheus.Gauge

	// Storage and service
	ReportsStored prometheus.Counter
	HTTPRequests  *prometheus.CounterVec
}

// New creates and registers all metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		ModelPredictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "model_predictions_total",
			Help: "Total number of rows scored by the explained model",
		}),
		ModelFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "model_failures_total",
			Help: "Total number of failed model calls",
		}),
		ModelLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "model_latency_seconds",
			Help:    "Model call latency in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),
		Attributions: factory.NewCounter(prometheus.CounterOpts{
			Name: "attributions_total",
			Help: "Total number of instances explained",
		}),
		AttributionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "attribution_failures_total",
			Help: "Total number of instances that could not be explained",
		}),
		ConvergenceFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "surrogate_convergence_failures_total",
			Help: "Total number of surrogate fits that exhausted the sample budget",
		}),
		LowConfidence: factory.NewCounter(prometheus.CounterOpts{
			Name: "attributions_low_confidence_total",
			Help: "Total number of attributions flagged low-confidence",
		}),
		AttributionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "attribution_latency_seconds",
			Help:    "Per-instance attribution latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 18),
		}),
		SurrogateSamples: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "surrogate_samples",
			Help:    "Perturbed samples drawn per surrogate attribution",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10),
		}),
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "explain_runs_total",
			Help: "Total number of pipeline runs by attribution method",
		}, []string{"method"}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "explain_active_workers",
			Help: "Number of attribution workers currently busy",
		}),
		ReportsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "reports_stored_total",
			Help: "Total number of reports persisted",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}
}
