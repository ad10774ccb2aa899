package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the service. Each instance owns
// its registry so several servers can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	RequestDuration      *prometheus.HistogramVec
	OptimizationDuration *prometheus.HistogramVec
	Optimizations        *prometheus.CounterVec
	CacheHits            prometheus.Counter
	CacheMisses          prometheus.Counter
}

// NewMetrics creates and registers every collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "frontier_http_request_duration_seconds",
				Help:    "HTTP request latency by route, method and status",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"route", "method", "status"},
		),

		OptimizationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "frontier_optimization_duration_seconds",
				Help:    "Time spent in the optimizer by objective",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"objective"},
		),

		Optimizations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontier_optimizations_total",
				Help: "Optimizations by objective and outcome",
			},
			[]string{"objective", "outcome"},
		),

		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "frontier_price_cache_hits_total",
				Help: "Price downloads served from the cache",
			},
		),

		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "frontier_price_cache_misses_total",
				Help: "Price downloads that went to the provider",
			},
		),
	}

	m.registry.MustRegister(
		m.RequestDuration,
		m.OptimizationDuration,
		m.Optimizations,
		m.CacheHits,
		m.CacheMisses,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CacheHit implements data.CacheObserver.
func (m *Metrics) CacheHit() { m.CacheHits.Inc() }

// CacheMiss implements data.CacheObserver.
func (m *Metrics) CacheMiss() { m.CacheMisses.Inc() }

// ObserveOptimization implements analysis.Recorder.
func (m *Metrics) ObserveOptimization(objective string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = errorKind(err)
	}
	m.OptimizationDuration.WithLabelValues(objective).Observe(elapsed.Seconds())
	m.Optimizations.WithLabelValues(objective, outcome).Inc()
}
