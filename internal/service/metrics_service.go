package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry            *prometheus.Registry
	handler             http.Handler
	requestDuration     *prometheus.HistogramVec
	requestTotal        *prometheus.CounterVec
	enrollmentDecisions *prometheus.CounterVec
	seatCacheHits       prometheus.Counter
	seatCacheMisses     prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	enrollmentDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_decisions_total",
		Help: "Admission control decisions by operation and outcome",
	}, []string{"operation", "outcome"})

	seatCacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "seat_cache_hits_total",
		Help: "Advisory seat cache hits",
	})

	seatCacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "seat_cache_misses_total",
		Help: "Advisory seat cache misses",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, enrollmentDecisions, seatCacheHits, seatCacheMisses, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:            registry,
		handler:             handler,
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		enrollmentDecisions: enrollmentDecisions,
		seatCacheHits:       seatCacheHits,
		seatCacheMisses:     seatCacheMisses,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordEnrollmentDecision counts one admission control decision.
func (m *MetricsService) RecordEnrollmentDecision(operation, outcome string) {
	if m == nil {
		return
	}
	m.enrollmentDecisions.WithLabelValues(operation, outcome).Inc()
}

// RecordSeatCacheLookup counts an advisory cache hit or miss.
func (m *MetricsService) RecordSeatCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.seatCacheHits.Inc()
	} else {
		m.seatCacheMisses.Inc()
	}
}
