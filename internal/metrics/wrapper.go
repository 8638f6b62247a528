package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Interfaces for metrics to avoid circular imports
type MetricsCounter interface {
	Inc()
}

type MetricsGauge interface {
	Set(float64)
	Add(float64)
}

// MetricsWrapper adapts Metrics to the small interfaces the model, pipeline,
// storage and server packages depend on.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

// Model adapter

func (w *MetricsWrapper) ModelPredictionsInc(n int) {
	w.m.ModelPredictions.Add(float64(n))
}

func (w *MetricsWrapper) ModelFailuresInc() {
	w.m.ModelFailures.Inc()
}

func (w *MetricsWrapper) ModelLatencyObserve(seconds float64) {
	w.m.ModelLatency.Observe(seconds)
}

// Pipeline

func (w *MetricsWrapper) RunInc(method string) {
	w.m.Runs.WithLabelValues(method).Inc()
}

func (w *MetricsWrapper) AttributionObserve(seconds float64) {
	w.m.Attributions.Inc()
	w.m.AttributionLatency.Observe(seconds)
}

func (w *MetricsWrapper) AttributionFailuresInc() {
	w.m.AttributionFailures.Inc()
}

func (w *MetricsWrapper) ConvergenceFailuresInc() {
	w.m.ConvergenceFailures.Inc()
}

func (w *MetricsWrapper) LowConfidenceInc() {
	w.m.LowConfidence.Inc()
}

func (w *MetricsWrapper) SurrogateSamplesObserve(n int) {
	w.m.SurrogateSamples.Observe(float64(n))
}

func (w *MetricsWrapper) ActiveWorkers() MetricsGauge {
	return &GaugeWrapper{w.m.ActiveWorkers}
}

// Storage and server

func (w *MetricsWrapper) ReportsStored() MetricsCounter {
	return &CounterWrapper{w.m.ReportsStored}
}

func (w *MetricsWrapper) HTTPRequestInc(route string, code int) {
	w.m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

type CounterWrapper struct {
	c prometheus.Counter
}

func (cw *CounterWrapper) Inc() {
	cw.c.Inc()
}

type GaugeWrapper struct {
	g prometheus.Gauge
}

func (gw *GaugeWrapper) Set(v float64) {
	gw.g.Set(v)
}

func (gw *GaugeWrapper) Add(v float64) {
	gw.g.Add(v)
}
