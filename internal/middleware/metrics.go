package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narraform_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"route", "status"})

	// LLM metrics
	llmRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "narraform_llm_request_duration_seconds",
		Help:    "Duration of LLM conversion requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "model", "status"})

	llmRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narraform_llm_requests_total",
		Help: "Total number of LLM conversion requests",
	}, []string{"provider", "model", "status"})

	// Rate limit metrics
	rateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narraform_rate_limit_waits_total",
		Help: "Total number of requests delayed by the rate governor",
	}, []string{"model"})

	quotaExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narraform_quota_exceeded_total",
		Help: "Total number of requests rejected on daily quota",
	}, []string{"model"})

	// Chapter cache metrics
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narraform_chapter_cache_hits_total",
		Help: "Total number of chapter cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narraform_chapter_cache_misses_total",
		Help: "Total number of chapter cache misses",
	})

	// Storage metrics
	storageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narraform_storage_operations_total",
		Help: "Total number of storage operations",
	}, []string{"operation", "status"})

	storageOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "narraform_storage_operation_duration_seconds",
		Help:    "Duration of storage operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// Cached chapters gauge
	cachedChapters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "narraform_cached_chapters",
		Help: "Number of chapter contents currently cached",
	})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordHTTPRequest records a handled HTTP request
func (m *Metrics) RecordHTTPRequest(route, status string) {
	httpRequests.WithLabelValues(route, status).Inc()
}

// statusRecorder captures the status code written by the handler chain
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HTTPMiddleware counts handled requests per route template and status
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)

		route := req.URL.Path
		if current := mux.CurrentRoute(req); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		m.RecordHTTPRequest(route, strconv.Itoa(rec.status))
	})
}

// RecordLLMRequest records an LLM conversion request
func (m *Metrics) RecordLLMRequest(provider, model, status string, duration time.Duration) {
	llmRequestDuration.WithLabelValues(provider, model, status).Observe(duration.Seconds())
	llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
}

// RecordRateLimitWait records a request delayed by the governor
func (m *Metrics) RecordRateLimitWait(model string) {
	rateLimitWaits.WithLabelValues(model).Inc()
}

// RecordQuotaExceeded records a daily quota rejection
func (m *Metrics) RecordQuotaExceeded(model string) {
	quotaExceeded.WithLabelValues(model).Inc()
}

// RecordCacheHit records a chapter cache hit
func (m *Metrics) RecordCacheHit() {
	cacheHits.Inc()
}

// RecordCacheMiss records a chapter cache miss
func (m *Metrics) RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(operation, status string, duration time.Duration) {
	storageOperations.WithLabelValues(operation, status).Inc()
	storageOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetCachedChapters sets the cached chapter count gauge
func (m *Metrics) SetCachedChapters(count float64) {
	cachedChapters.Set(count)
}

// StartMetricsServer starts the metrics HTTP server
func StartMetricsServer(port int, path string) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
