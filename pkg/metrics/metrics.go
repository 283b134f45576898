// Package metrics provides Prometheus instrumentation for the cache
// core. It implements the manager's MetricsRecorder contract.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the cache core.
type Metrics struct {
	Hits                *prometheus.CounterVec
	Misses              prometheus.Counter
	Sets                *prometheus.CounterVec
	Evictions           prometheus.Counter
	BackendErrors       prometheus.Counter
	MaintenanceDuration prometheus.Histogram
	WarmDuration        prometheus.Histogram
	WarmKeys            *prometheus.CounterVec
	CompressionRatio    prometheus.Gauge
	MemoryUtilization   prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all cache metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	// Include default Go and process collectors
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		Hits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cachecore_hits_total",
				Help: "Cache hits by tier (l1/l2).",
			},
			[]string{"tier"},
		),
		Misses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cachecore_misses_total",
				Help: "Lookups that missed every tier.",
			},
		),
		Sets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cachecore_sets_total",
				Help: "Cache writes by tier (l1/l2).",
			},
			[]string{"tier"},
		),
		Evictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cachecore_evictions_total",
				Help: "Entries evicted under capacity or memory pressure.",
			},
		),
		BackendErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cachecore_backend_errors_total",
				Help: "Distributed backend failures degraded to miss/no-op.",
			},
		),
		MaintenanceDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cachecore_maintenance_duration_seconds",
				Help:    "Duration of background maintenance cycles.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15},
			},
		),
		WarmDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cachecore_warm_duration_seconds",
				Help:    "Duration of cache warming runs.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
		),
		WarmKeys: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cachecore_warm_keys_total",
				Help: "Keys processed during warming by outcome (loaded/errored).",
			},
			[]string{"outcome"},
		),
		CompressionRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cachecore_compression_ratio",
				Help: "Cumulative uncompressed/compressed byte ratio.",
			},
		),
		MemoryUtilization: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cachecore_memory_utilization",
				Help: "Fraction of the memory budget in use.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.Hits,
		m.Misses,
		m.Sets,
		m.Evictions,
		m.BackendErrors,
		m.MaintenanceDuration,
		m.WarmDuration,
		m.WarmKeys,
		m.CompressionRatio,
		m.MemoryUtilization,
	)

	return m
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHit counts a hit on the given tier.
func (m *Metrics) RecordHit(tier string) {
	m.Hits.WithLabelValues(tier).Inc()
}

// RecordMiss counts a full miss.
func (m *Metrics) RecordMiss() {
	m.Misses.Inc()
}

// RecordSet counts a write on the given tier.
func (m *Metrics) RecordSet(tier string) {
	m.Sets.WithLabelValues(tier).Inc()
}

// RecordEviction counts evicted entries.
func (m *Metrics) RecordEviction(count int) {
	m.Evictions.Add(float64(count))
}

// RecordBackendError counts a backend failure.
func (m *Metrics) RecordBackendError() {
	m.BackendErrors.Inc()
}

// ObserveMaintenance records one maintenance cycle's duration.
func (m *Metrics) ObserveMaintenance(d time.Duration) {
	m.MaintenanceDuration.Observe(d.Seconds())
}

// ObserveWarm records a warming run.
func (m *Metrics) ObserveWarm(d time.Duration, loaded, errored int) {
	m.WarmDuration.Observe(d.Seconds())
	m.WarmKeys.WithLabelValues("loaded").Add(float64(loaded))
	m.WarmKeys.WithLabelValues("errored").Add(float64(errored))
}

// SetCompressionRatio publishes the codec's cumulative ratio.
func (m *Metrics) SetCompressionRatio(ratio float64) {
	m.CompressionRatio.Set(ratio)
}

// SetMemoryUtilization publishes the byte-budget utilization fraction.
func (m *Metrics) SetMemoryUtilization(frac float64) {
	m.MemoryUtilization.Set(frac)
}
