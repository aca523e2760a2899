// Package metrics exposes Prometheus collectors for the sentinel services.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	dispatchBatchesTotal       *prometheus.CounterVec
	dispatchItemsTotal         *prometheus.CounterVec
	publishFailuresTotal       *prometheus.CounterVec
	syncRunsTotal              *prometheus.CounterVec
	syncConsecutiveFailures    prometheus.Gauge
	syncOperationsTotal        *prometheus.CounterVec
	retryAttemptsTotal         *prometheus.CounterVec
	retryExhaustedTotal        *prometheus.CounterVec
	feedOutcomesTotal          *prometheus.CounterVec
	warningChecksTotal         *prometheus.CounterVec
	droppedMessagesTotal       *prometheus.CounterVec
	schedulerSkipsTotal        *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		dispatchBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_dispatch_batches_total",
				Help: "Batches accepted by the bus, labeled by topic.",
			},
			[]string{"topic"},
		)

		dispatchItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_dispatch_items_total",
				Help: "Work items sent inside accepted batches, labeled by topic.",
			},
			[]string{"topic"},
		)

		publishFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_publish_failures_total",
				Help: "Publish calls rejected by the bus, labeled by topic.",
			},
			[]string{"topic"},
		)

		syncRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_sync_runs_total",
				Help: "Source sync runs, labeled by mode (live, fallback, skipped).",
			},
			[]string{"mode"},
		)

		syncConsecutiveFailures = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sentinel_sync_consecutive_failures",
				Help: "Consecutive failed fetches from the external source.",
			},
		)

		syncOperationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_sync_operations_total",
				Help: "Bulk reconcile operations, labeled by op and result.",
			},
			[]string{"op", "result"},
		)

		retryAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_retry_attempts_total",
				Help: "Failed attempts followed by a backoff, labeled by operation.",
			},
			[]string{"operation"},
		)

		retryExhaustedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_retry_exhausted_total",
				Help: "Operations that fell back to their default value, labeled by operation.",
			},
			[]string{"operation"},
		)

		feedOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_feed_outcomes_total",
				Help: "Terminal price feed outcomes, labeled by status.",
			},
			[]string{"status"},
		)

		warningChecksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_warning_checks_total",
				Help: "Warning checks recorded, labeled by browser variant and result.",
			},
			[]string{"variant", "has_warning"},
		)

		droppedMessagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_dropped_messages_total",
				Help: "Inbound messages dropped by validation, labeled by topic.",
			},
			[]string{"topic"},
		)

		schedulerSkipsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_scheduler_skips_total",
				Help: "Ticks skipped because the job was still running, labeled by job.",
			},
			[]string{"job"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_rate_limit_delays_seconds",
				Help:    "Histogram of outbound rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveDispatch records one accepted batch of n items.
func ObserveDispatch(topic string, items int) {
	Init()
	dispatchBatchesTotal.WithLabelValues(topic).Inc()
	dispatchItemsTotal.WithLabelValues(topic).Add(float64(items))
}

// ObservePublishFailure records a rejected publish.
func ObservePublishFailure(topic string) {
	Init()
	publishFailuresTotal.WithLabelValues(topic).Inc()
}

// ObserveSync records a sync run and the current failure streak.
func ObserveSync(mode string, consecutiveFailures int) {
	Init()
	syncRunsTotal.WithLabelValues(mode).Inc()
	syncConsecutiveFailures.Set(float64(consecutiveFailures))
}

// ObserveSyncOperation records the result of one bulk reconcile op.
func ObserveSyncOperation(op string, err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	syncOperationsTotal.WithLabelValues(op, result).Inc()
}

// ObserveRetryAttempt records a failed attempt that will be retried.
func ObserveRetryAttempt(operation string) {
	Init()
	retryAttemptsTotal.WithLabelValues(operation).Inc()
}

// ObserveRetryExhausted records an operation that returned its default.
func ObserveRetryExhausted(operation string) {
	Init()
	retryExhaustedTotal.WithLabelValues(operation).Inc()
}

// ObserveFeedOutcome records a terminal feed status.
func ObserveFeedOutcome(status string) {
	Init()
	feedOutcomesTotal.WithLabelValues(status).Inc()
}

// ObserveWarningCheck records a stored warning outcome.
func ObserveWarningCheck(variant string, hasWarning bool) {
	Init()
	warningChecksTotal.WithLabelValues(variant, strconv.FormatBool(hasWarning)).Inc()
}

// ObserveDroppedMessage records a message rejected by validation.
func ObserveDroppedMessage(topic string) {
	Init()
	droppedMessagesTotal.WithLabelValues(topic).Inc()
}

// ObserveSchedulerSkip records a tick skipped by the overlap policy.
func ObserveSchedulerSkip(job string) {
	Init()
	schedulerSkipsTotal.WithLabelValues(job).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
