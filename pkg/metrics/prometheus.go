// Package metrics provides Prometheus metrics for the fundus regression service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Analysis outcomes used as the "outcome" label.
const (
	OutcomeSuccess          = "success"
	OutcomeModelUnavailable = "model_unavailable"
	OutcomePreprocessing    = "preprocessing_error"
	OutcomeInference        = "inference_error"
	OutcomeBadRequest       = "bad_request"
	OutcomeBusy             = "busy"
)

// Manager manages all Prometheus metrics for the fundus service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Analysis pipeline
	analyses           *prometheus.CounterVec
	riskClassification *prometheus.CounterVec
	preprocessLatency  prometheus.Histogram
	inferenceLatency   prometheus.Histogram
	modelReady         prometheus.Gauge
	modelLoadDuration  prometheus.Gauge
	uploadBytes        prometheus.Histogram

	// Dispatch queue and workers
	queueDepth    prometheus.Gauge
	queueCapacity prometheus.Gauge
	queueRejected *prometheus.CounterVec
	queueWait     prometheus.Histogram
	workersActive prometheus.Gauge
	jobsProcessed *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByType     *prometheus.CounterVec
	errorRateByEndpoint *prometheus.CounterVec
	errorLatency        *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// Configure replaces the process-wide manager with one built from opts on a
// fresh registry, which GetRegistry then returns. Call it once at startup,
// before handlers or collectors run.
func Configure(opts ...Option) *Manager {
	reg := prometheus.NewRegistry()
	globalManager = NewManager(append([]Option{WithRegistry(reg)}, opts...)...)
	customRegistry = reg
	return globalManager
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "fundus",
		subsystem:        "regression",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// RefreshInterval returns how often system gauges should be sampled.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	registerer := m.registry
	if len(m.customLabels) > 0 {
		registerer = prometheus.WrapRegistererWith(m.customLabels, registerer)
	}
	auto := promauto.With(registerer)

	m.analyses = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "analyses_total",
			Help:      "Total number of analyze requests by variant and outcome",
		},
		[]string{"variant", "outcome"},
	)

	m.riskClassification = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "risk_classifications_total",
			Help:      "Total number of cardio predictions by risk level",
		},
		[]string{"level"},
	)

	m.preprocessLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "preprocess_latency_milliseconds",
		Help:      "Image preprocessing latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.inferenceLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "inference_latency_milliseconds",
		Help:      "Model forward pass latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.modelReady = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "model_ready",
		Help:      "1 when the model is loaded and serving, 0 otherwise",
	})

	m.modelLoadDuration = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "model_load_duration_milliseconds",
		Help:      "Duration of the last model load attempt in milliseconds",
	})

	m.uploadBytes = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "upload_size_bytes",
		Help:      "Size of accepted image uploads in bytes",
		Buckets:   prometheus.ExponentialBuckets(16<<10, 2, 10),
	})

	m.queueDepth = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_depth",
		Help:      "Number of analysis jobs waiting for a worker",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Maximum number of analysis jobs that may wait",
	})

	m.queueRejected = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "queue_rejected_total",
			Help:      "Total number of analysis jobs refused by the queue",
		},
		[]string{"reason"},
	)

	m.queueWait = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_wait_milliseconds",
		Help:      "Time an analysis job spent queued before a worker took it",
		Buckets:   m.histogramBuckets,
	})

	m.workersActive = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "workers_active",
		Help:      "Number of running inference workers",
	})

	m.jobsProcessed = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "jobs_processed_total",
			Help:      "Total number of analysis jobs handled by workers by result",
		},
		[]string{"result"},
	)

	m.cacheLookups = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "result_cache_lookups_total",
			Help:      "Total number of result cache lookups by outcome",
		},
		[]string{"result"},
	)

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by endpoint and method",
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_request_duration_milliseconds",
			Help:      "HTTP request duration in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.errorRateByType = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_by_type_total",
			Help:      "Total number of errors by type",
		},
		[]string{"error_type", "severity"},
	)

	m.errorRateByEndpoint = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_by_endpoint_total",
			Help:      "Total number of errors by endpoint",
		},
		[]string{"endpoint", "method", "error_type"},
	)

	m.errorLatency = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "error_latency_milliseconds",
			Help:      "Latency of operations that resulted in errors",
			Buckets:   m.histogramBuckets,
		},
		[]string{"component", "error_type"},
	)

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_memory_usage_bytes",
		Help:      "System memory usage in bytes",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_goroutine_count",
		Help:      "Number of goroutines",
	})

	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_gc_pause_time_milliseconds",
		Help:      "GC pause time in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	})
}

// RecordAnalysis increments the analyze counter for variant and outcome.
func RecordAnalysis(variant, outcome string) {
	if !globalManager.enabled {
		return
	}
	globalManager.analyses.WithLabelValues(variant, outcome).Inc()
}

// RecordRiskClassification counts a cardio classification by level.
func RecordRiskClassification(level string) {
	if !globalManager.enabled {
		return
	}
	globalManager.riskClassification.WithLabelValues(level).Inc()
}

// RecordPreprocessLatency records preprocessing latency in milliseconds.
func RecordPreprocessLatency(latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.preprocessLatency.Observe(latencyMs)
}

// RecordInferenceLatency records forward pass latency in milliseconds.
func RecordInferenceLatency(latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.inferenceLatency.Observe(latencyMs)
}

// SetModelReady flips the model readiness gauge.
func SetModelReady(ready bool) {
	v := 0.0
	if ready {
		v = 1
	}
	globalManager.modelReady.Set(v)
}

// RecordModelLoadDuration sets the duration of the last model load.
func RecordModelLoadDuration(latencyMs float64) {
	globalManager.modelLoadDuration.Set(latencyMs)
}

// RecordUploadSize observes the size of an accepted upload.
func RecordUploadSize(bytes int64) {
	if !globalManager.enabled {
		return
	}
	globalManager.uploadBytes.Observe(float64(bytes))
}

// UpdateQueueDepth sets the number of waiting jobs.
func UpdateQueueDepth(n int) {
	globalManager.queueDepth.Set(float64(n))
}

// UpdateQueueCapacity sets the configured queue capacity.
func UpdateQueueCapacity(n int) {
	globalManager.queueCapacity.Set(float64(n))
}

// RecordQueueRejected counts a job the queue refused.
func RecordQueueRejected(reason string) {
	if !globalManager.enabled {
		return
	}
	globalManager.queueRejected.WithLabelValues(reason).Inc()
}

// RecordQueueWait records how long a job waited in milliseconds.
func RecordQueueWait(latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.queueWait.Observe(latencyMs)
}

// UpdateWorkersActive sets the number of running workers.
func UpdateWorkersActive(n int) {
	globalManager.workersActive.Set(float64(n))
}

// RecordJobProcessed counts a finished job; result is "ok", "error" or "abandoned".
func RecordJobProcessed(result string) {
	if !globalManager.enabled {
		return
	}
	globalManager.jobsProcessed.WithLabelValues(result).Inc()
}

// RecordCacheLookup counts a result cache hit or miss.
func RecordCacheLookup(hit bool) {
	if !globalManager.enabled {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	globalManager.cacheLookups.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Default returns the process-wide manager.
func Default() *Manager {
	return globalManager
}
