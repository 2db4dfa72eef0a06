// Package metrics exposes the Sync Core's operational counters and
// gauges (§4.10): sync throughput, rate-limit rejections, storage
// quota usage, and blob store latency, registered against the
// Prometheus default registry and served at GET /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncPullTotal counts completed sync/pull requests.
	SyncPullTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_pull_total",
		Help: "Total number of sync pull requests served.",
	})

	// SyncPushTotal counts sync/push changes by verdict
	// (accepted, conflict, error).
	SyncPushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_push_total",
		Help: "Total number of sync push changes, by verdict.",
	}, []string{"verdict"})

	// SyncPushDuration observes the wall-clock time of a whole
	// sync/push request, across all changes in its batch.
	SyncPushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_push_duration_seconds",
		Help:    "Duration of sync push requests.",
		Buckets: prometheus.DefBuckets,
	})

	// RateLimitRejectedTotal counts requests denied by the fixed-window
	// limiter, by action.
	RateLimitRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_rejected_total",
		Help: "Total number of requests rejected by the rate limiter, by action.",
	}, []string{"action"})

	// StorageQuotaUsedBytes gauges the current aggregate storage usage
	// per subscription tier.
	StorageQuotaUsedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "storage_quota_used_bytes",
		Help: "Aggregate storage used, in bytes, by subscription tier.",
	}, []string{"tier"})

	// BlobStoreOperationDuration observes Blob Store call latency by
	// operation (put, get, delete).
	BlobStoreOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blob_store_operation_duration_seconds",
		Help:    "Duration of blob store operations, by operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// HTTPRequestDuration observes every HTTP request's latency by
	// route template and method, via InstrumentHTTP.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests, by route and method.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)

// RecordSyncPull increments SyncPullTotal. Called once per completed
// Sync Engine Pull, regardless of how many changes it returned.
func RecordSyncPull() {
	SyncPullTotal.Inc()
}

// RecordSyncPush increments SyncPushTotal for one push verdict.
func RecordSyncPush(verdict string) {
	SyncPushTotal.WithLabelValues(verdict).Inc()
}

// ObserveSyncPushDuration records how long a sync/push request took.
func ObserveSyncPushDuration(d time.Duration) {
	SyncPushDuration.Observe(d.Seconds())
}

// RecordRateLimitRejected increments RateLimitRejectedTotal for the
// action a caller was denied.
func RecordRateLimitRejected(action string) {
	RateLimitRejectedTotal.WithLabelValues(action).Inc()
}

// SetStorageQuotaUsed sets the current storage usage gauge for tier.
func SetStorageQuotaUsed(tier string, bytes int64) {
	StorageQuotaUsedBytes.WithLabelValues(tier).Set(float64(bytes))
}

// ObserveBlobOperation records how long a blob store call of the given
// kind (put, get, delete) took.
func ObserveBlobOperation(op string, d time.Duration) {
	BlobStoreOperationDuration.WithLabelValues(op).Observe(d.Seconds())
}
