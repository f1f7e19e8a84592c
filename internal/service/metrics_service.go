package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	holidayCache    *prometheus.CounterVec
	holidayFetch    *prometheus.HistogramVec
	plagiarismJobs  *prometheus.CounterVec
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

	holidayCache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "holiday_cache_lookups_total",
		Help: "Holiday cache lookups by outcome",
	}, []string{"outcome"})

	holidayFetch := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "holiday_fetch_duration_seconds",
		Help:    "Duration of upstream public-holiday fetches",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	plagiarismJobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plagiarism_jobs_total",
		Help: "Plagiarism scoring jobs by outcome",
	}, []string{"outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, holidayCache, holidayFetch, plagiarismJobs, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		holidayCache:    holidayCache,
		holidayFetch:    holidayFetch,
		plagiarismJobs:  plagiarismJobs,
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

// RecordHolidayCacheLookup counts holiday cache hits and misses.
func (m *MetricsService) RecordHolidayCacheLookup(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.holidayCache.WithLabelValues(outcome).Inc()
}

// ObserveHolidayFetch records an upstream holiday-feed fetch.
func (m *MetricsService) ObserveHolidayFetch(ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "error"
	if ok {
		outcome = "success"
	}
	m.holidayFetch.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordPlagiarismJob counts a finished scoring job.
func (m *MetricsService) RecordPlagiarismJob(ok bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if ok {
		outcome = "done"
	}
	m.plagiarismJobs.WithLabelValues(outcome).Inc()
}
