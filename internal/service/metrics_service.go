package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	seatRejections  prometheus.Counter
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	auditFailures   prometheus.Counter
}

// NewMetricsService registers the core collectors.
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

	seatRejections := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrollment_seat_rejections_total",
		Help: "Approvals refused because the class was full",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_cache_hits_total",
		Help: "Attendance report cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_cache_misses_total",
		Help: "Attendance report cache misses",
	})

	auditFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Audit trail writes that were dropped",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, seatRejections,
		cacheHits, cacheMisses, auditFailures, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		seatRejections:  seatRejections,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		auditFailures:   auditFailures,
	}
}

// Handler exposes the scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records one completed request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := []string{method, path, strconv.Itoa(status)}
	s.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(labels...).Inc()
}

// SeatRejection counts a full-class refusal.
func (s *MetricsService) SeatRejection() {
	s.seatRejections.Inc()
}

// ReportCacheHit counts a cache hit.
func (s *MetricsService) ReportCacheHit() {
	s.cacheHits.Inc()
}

// ReportCacheMiss counts a cache miss.
func (s *MetricsService) ReportCacheMiss() {
	s.cacheMisses.Inc()
}

// AuditWriteFailure counts a dropped audit row.
func (s *MetricsService) AuditWriteFailure() {
	s.auditFailures.Inc()
}
