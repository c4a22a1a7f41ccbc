// Package metrics defines the prometheus collectors exported by imagevault.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "imagevault"

// Metrics holds every collector. A nil *Metrics is not valid; callers that
// run without metrics keep a nil pointer and check it.
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion
	UploadsTotal       *prometheus.CounterVec
	UploadBytes        *prometheus.CounterVec
	ProcessingDuration prometheus.Histogram

	// Delivery
	DeliveriesTotal        *prometheus.CounterVec
	UsageIncrementFailures prometheus.Counter
	UsageIncrementsDropped prometheus.Counter
	ThumbnailCache         *prometheus.CounterVec

	// Worker pools
	WorkerQueueDepth *prometheus.GaugeVec
	WorkerRejected   *prometheus.CounterVec

	// Retention
	SweepRuns        prometheus.Counter
	SweepDeleted     prometheus.Counter
	SweepArchived    prometheus.Counter
	SweepErrors      prometheus.Counter
	SweepDuration    prometheus.Histogram
	SweepLastRunTime prometheus.Gauge

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,

		UploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Image uploads by outcome (created, duplicate, rejected, failed).",
		}, []string{"result"}),
		UploadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes received and stored, by stage (original, processed).",
		}, []string{"stage"}),
		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_duration_seconds",
			Help:      "Time spent decoding, resizing and encoding an upload.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),

		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Image fetches by kind (full, thumbnail) and result (ok, not_modified).",
		}, []string{"kind", "result"}),
		UsageIncrementFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_increment_failures_total",
			Help:      "Usage counter updates that failed after a successful fetch.",
		}),
		UsageIncrementsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_increments_dropped_total",
			Help:      "Usage counter updates dropped because the queue was full.",
		}),
		ThumbnailCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thumbnail_cache_total",
			Help:      "Thumbnail cache lookups by result (hit, miss).",
		}, []string{"result"}),

		WorkerQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_queue_depth",
			Help:      "Tasks admitted to a pool and waiting for a worker.",
		}, []string{"pool"}),
		WorkerRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_rejected_total",
			Help:      "Tasks rejected because the pool queue was full.",
		}, []string{"pool"}),

		SweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Completed retention sweeps.",
		}),
		SweepDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_deleted_total",
			Help:      "Blobs deleted by retention sweeps.",
		}),
		SweepArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_archived_total",
			Help:      "Blobs archived before deletion.",
		}),
		SweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_errors_total",
			Help:      "Errors encountered during retention sweeps.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of retention sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		SweepLastRunTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sweep_last_run_timestamp_seconds",
			Help:      "Unix time of the last completed sweep.",
		}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.UploadsTotal,
		m.UploadBytes,
		m.ProcessingDuration,
		m.DeliveriesTotal,
		m.UsageIncrementFailures,
		m.UsageIncrementsDropped,
		m.ThumbnailCache,
		m.WorkerQueueDepth,
		m.WorkerRejected,
		m.SweepRuns,
		m.SweepDeleted,
		m.SweepArchived,
		m.SweepErrors,
		m.SweepDuration,
		m.SweepLastRunTime,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordUpload counts an upload outcome and its byte sizes.
func (m *Metrics) RecordUpload(result string, originalSize, processedSize int64) {
	m.UploadsTotal.WithLabelValues(result).Inc()
	if originalSize > 0 {
		m.UploadBytes.WithLabelValues("original").Add(float64(originalSize))
	}
	if processedSize > 0 {
		m.UploadBytes.WithLabelValues("processed").Add(float64(processedSize))
	}
}

// RecordSweepRun records a finished sweep.
func (m *Metrics) RecordSweepRun(duration time.Duration, deleted, archived, errors int) {
	m.SweepRuns.Inc()
	m.SweepDeleted.Add(float64(deleted))
	m.SweepArchived.Add(float64(archived))
	m.SweepErrors.Add(float64(errors))
	m.SweepDuration.Observe(duration.Seconds())
	m.SweepLastRunTime.SetToCurrentTime()
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// QueueDepth implements worker.Observer.
func (m *Metrics) QueueDepth(pool string, waiting int64) {
	m.WorkerQueueDepth.WithLabelValues(pool).Set(float64(waiting))
}

// TaskRejected implements worker.Observer.
func (m *Metrics) TaskRejected(pool string) {
	m.WorkerRejected.WithLabelValues(pool).Inc()
}
