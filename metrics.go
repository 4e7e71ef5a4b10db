package roomscore

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request pipeline and
// its reliability layers. It is safe for concurrent use.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheStale  *prometheus.CounterVec
	cacheSize   *prometheus.GaugeVec

	dedupHits *prometheus.CounterVec

	cooldownsTotal prometheus.Counter
	cooldownServes *prometheus.CounterVec
	tokenRefreshes *prometheus.CounterVec
	rollbacksTotal prometheus.Counter
	errorsTotal    *prometheus.CounterVec
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer, letting tests run isolated registries.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomscore_requests_total",
				Help: "Total number of API requests made",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roomscore_request_duration_seconds",
				Help:    "Duration of API requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "roomscore_requests_in_flight",
				Help: "Number of API requests currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomscore_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint", "attempt"},
		),
		cacheHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomscore_cache_hits_total",
				Help: "Total number of fresh cache hits",
			},
			[]string{"method", "endpoint"},
		),
		cacheMisses: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomscore_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"method", "endpoint"},
		),
		cacheStale: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomscore_cache_stale_serves_total",
				Help: "Total number of stale cache entries served",
			},
			[]string{"method", "endpoint"},
		),
		cacheSize: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "roomscore_cache_size",
				Help: "Current number of entries in cache",
			},
			[]string{"name"},
		),
		dedupHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomscore_deduplication_hits_total",
				Help: "Total number of reads joined onto an in-flight call",
			},
			[]string{"method", "endpoint"},
		),
		cooldownsTotal: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "roomscore_cooldowns_total",
				Help: "Total number of rate-limit cooldowns recorded",
			},
		),
		cooldownServes: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomscore_cooldown_cache_serves_total",
				Help: "Total number of requests served from cache during cooldown",
			},
			[]string{"method", "endpoint"},
		),
		tokenRefreshes: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomscore_token_refreshes_total",
				Help: "Total number of access-token refresh attempts",
			},
			[]string{"outcome"},
		),
		rollbacksTotal: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "roomscore_optimistic_rollbacks_total",
				Help: "Total number of optimistic mutations rolled back",
			},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomscore_errors_total",
				Help: "Total number of errors surfaced by the pipeline",
			},
			[]string{"type", "method", "endpoint"},
		),
	}
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}
	code := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, code, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, code, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRetry records one retry attempt.
func (mc *MetricsCollector) RecordRetry(method, endpoint string, attempt int) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(method, endpoint, strconv.Itoa(attempt)).Inc()
}

// RecordCacheHit records a fresh cache hit.
func (mc *MetricsCollector) RecordCacheHit(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.cacheHits.WithLabelValues(method, endpoint).Inc()
}

// RecordCacheMiss records a cache miss.
func (mc *MetricsCollector) RecordCacheMiss(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.cacheMisses.WithLabelValues(method, endpoint).Inc()
}

// RecordStaleServe records a stale entry served to a caller.
func (mc *MetricsCollector) RecordStaleServe(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.cacheStale.WithLabelValues(method, endpoint).Inc()
}

// RecordCacheSize updates the entry-count gauge for the named store.
func (mc *MetricsCollector) RecordCacheSize(name string, size int) {
	if mc == nil {
		return
	}
	mc.cacheSize.WithLabelValues(name).Set(float64(size))
}

// RecordDedupHit records a caller joined onto an in-flight request.
func (mc *MetricsCollector) RecordDedupHit(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.dedupHits.WithLabelValues(method, endpoint).Inc()
}

// RecordCooldown records a rate-limit cooldown being set.
func (mc *MetricsCollector) RecordCooldown() {
	if mc == nil {
		return
	}
	mc.cooldownsTotal.Inc()
}

// RecordCooldownServe records a cache fallback during cooldown.
func (mc *MetricsCollector) RecordCooldownServe(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.cooldownServes.WithLabelValues(method, endpoint).Inc()
}

// RecordTokenRefresh records a refresh attempt outcome ("success"/"failure").
func (mc *MetricsCollector) RecordTokenRefresh(outcome string) {
	if mc == nil {
		return
	}
	mc.tokenRefreshes.WithLabelValues(outcome).Inc()
}

// RecordOptimisticRollback records one rollback.
func (mc *MetricsCollector) RecordOptimisticRollback() {
	if mc == nil {
		return
	}
	mc.rollbacksTotal.Inc()
}

// RecordError records an error surfaced to a caller.
func (mc *MetricsCollector) RecordError(errorType, method, endpoint string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(errorType, method, endpoint).Inc()
}
