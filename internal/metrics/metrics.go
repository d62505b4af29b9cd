// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	optimizationsTotal   *prometheus.CounterVec
	optimizationDuration *prometheus.HistogramVec
	cacheLookups         *prometheus.CounterVec
	priceFetches         *prometheus.CounterVec
	streamConnections    prometheus.Gauge
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "allocator_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "allocator_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		optimizationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "allocator_optimizations_total",
				Help: "Objectives solved, by outcome",
			},
			[]string{"objective", "status"},
		),
		optimizationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "allocator_optimization_duration_seconds",
				Help:    "Time spent solving one objective",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"objective"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "allocator_cache_lookups_total",
				Help: "Result cache lookups, by outcome",
			},
			[]string{"cache", "result"},
		),
		priceFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "allocator_price_loads_total",
				Help: "Price series loads, by outcome",
			},
			[]string{"status"},
		),
		streamConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "allocator_stream_connections_active",
				Help: "Number of open optimization stream websockets",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.optimizationsTotal,
		m.optimizationDuration,
		m.cacheLookups,
		m.priceFetches,
		m.streamConnections,
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordOptimization records one solved (or failed) objective.
func (m *Metrics) RecordOptimization(objective, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.optimizationsTotal.WithLabelValues(objective, status).Inc()
	m.optimizationDuration.WithLabelValues(objective).Observe(d.Seconds())
}

// RecordCacheLookup records a hit or miss on the named cache.
func (m *Metrics) RecordCacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

// RecordPriceLoad records a price series load outcome.
func (m *Metrics) RecordPriceLoad(ok bool) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	m.priceFetches.WithLabelValues(status).Inc()
}

// StreamOpened and StreamClosed track open websocket streams.
func (m *Metrics) StreamOpened() {
	if m != nil {
		m.streamConnections.Inc()
	}
}

func (m *Metrics) StreamClosed() {
	if m != nil {
		m.streamConnections.Dec()
	}
}
