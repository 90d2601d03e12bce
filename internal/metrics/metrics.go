// Package metrics instruments the relay with Prometheus counters,
// histograms, and gauges: promauto.With(registry) construction, an
// OTel exemplar-on-request pattern via getExemplar(ctx), path-label
// cardinality sanitization, and per-verb counters keyed to the relay's
// upload_new/push/finish/metadata/download/delete verbs and store/lock
// operations.
package metrics

import (
	"context"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

var defaultRegistry = prometheus.DefaultRegisterer

// Metrics holds all relay metrics.
type Metrics struct {
	requestsTotal          *prometheus.CounterVec
	requestDuration        *prometheus.HistogramVec
	objectSizeBytes        *prometheus.HistogramVec
	storeOperationsTotal   *prometheus.CounterVec
	storeOperationDuration *prometheus.HistogramVec
	storeOperationErrors   *prometheus.CounterVec
	lockContendedTotal     prometheus.Counter
	objectsExpiredTotal    prometheus.Counter
	bufferPoolHits         *prometheus.CounterVec
	bufferPoolMisses       *prometheus.CounterVec
	activeConnections      prometheus.Gauge
	goroutines             prometheus.Gauge
	memoryAllocBytes       prometheus.Gauge
	memorySysBytes         prometheus.Gauge
	hardwareAESAcceleration *prometheus.GaugeVec
}

// NewMetrics creates a metrics instance registered against the
// default Prometheus registry.
func NewMetrics() *Metrics {
	return newMetricsWithRegistry(defaultRegistry)
}

// NewMetricsWithRegistry creates a metrics instance against a custom
// registry, used by tests to avoid global registration conflicts.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetricsWithRegistry(reg)
}

func newMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_requests_total",
				Help: "Total number of relay protocol requests",
			},
			[]string{"verb", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_request_duration_seconds",
				Help:    "Relay protocol request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"verb"},
		),
		objectSizeBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_object_size_bytes",
				Help:    "Size in bytes of objects pushed or downloaded",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
			[]string{"verb"},
		),
		storeOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_store_operations_total",
				Help: "Total number of object store operations",
			},
			[]string{"operation", "backend"},
		),
		storeOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_store_operation_duration_seconds",
				Help:    "Object store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),
		storeOperationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_store_operation_errors_total",
				Help: "Total number of object store operation errors",
			},
			[]string{"operation", "backend", "error_kind"},
		),
		lockContendedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_lock_contended_total",
				Help: "Total number of write-lock acquisitions that observed FileLocked",
			},
		),
		objectsExpiredTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_objects_expired_total",
				Help: "Total number of objects deleted by on-access TTL expiry",
			},
		),
		bufferPoolHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_buffer_pool_hits_total",
				Help: "Total number of chunk buffer pool hits",
			},
			[]string{"size_class"},
		),
		bufferPoolMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_buffer_pool_misses_total",
				Help: "Total number of chunk buffer pool misses",
			},
			[]string{"size_class"},
		),
		activeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_active_connections",
				Help: "Number of active HTTP connections",
			},
		),
		goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_goroutines",
				Help: "Number of goroutines",
			},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_memory_alloc_bytes",
				Help: "Number of bytes allocated and not yet freed",
			},
		),
		memorySysBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_memory_sys_bytes",
				Help: "Total bytes of memory obtained from OS",
			},
		),
		hardwareAESAcceleration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "relay_hardware_aes_acceleration",
				Help: "AES hardware acceleration status (1=enabled, 0=disabled)",
			},
			[]string{"arch"},
		),
	}
}

// SetHardwareAESAcceleration records whether AES-NI/ARMv8-AES is active for arch.
func (m *Metrics) SetHardwareAESAcceleration(arch string, enabled bool) {
	val := 0.0
	if enabled {
		val = 1.0
	}
	m.hardwareAESAcceleration.WithLabelValues(arch).Set(val)
}

// RecordRequest records one relay protocol request's outcome.
func (m *Metrics) RecordRequest(ctx context.Context, verb string, status int, duration time.Duration) {
	statusLabel := http.StatusText(status)
	labels := prometheus.Labels{"verb": verb, "status": statusLabel}

	if exemplar := getExemplar(ctx); exemplar != nil {
		if adder, ok := m.requestsTotal.With(labels).(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(1, exemplar)
		} else {
			m.requestsTotal.With(labels).Inc()
		}
		if observer, ok := m.requestDuration.WithLabelValues(verb).(prometheus.ExemplarObserver); ok {
			observer.ObserveWithExemplar(duration.Seconds(), exemplar)
		} else {
			m.requestDuration.WithLabelValues(verb).Observe(duration.Seconds())
		}
		return
	}
	m.requestsTotal.With(labels).Inc()
	m.requestDuration.WithLabelValues(verb).Observe(duration.Seconds())
}

// RecordObjectSize records the size of an object pushed or downloaded.
func (m *Metrics) RecordObjectSize(verb string, bytes int64) {
	m.objectSizeBytes.WithLabelValues(verb).Observe(float64(bytes))
}

// sanitizePathLabel reduces high-cardinality paths (which embed a
// file-id/root-id) to a stable label, e.g. "/v1/download/<id>" -> "/v1/download/*".
func sanitizePathLabel(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(segs) <= 2 {
		return "/" + strings.Join(segs, "/")
	}
	return "/" + segs[0] + "/" + segs[1] + "/*"
}

// RecordStoreOperation records a store backend operation.
func (m *Metrics) RecordStoreOperation(ctx context.Context, operation, backend string, duration time.Duration) {
	if exemplar := getExemplar(ctx); exemplar != nil {
		if adder, ok := m.storeOperationsTotal.WithLabelValues(operation, backend).(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(1, exemplar)
		} else {
			m.storeOperationsTotal.WithLabelValues(operation, backend).Inc()
		}
		if observer, ok := m.storeOperationDuration.WithLabelValues(operation, backend).(prometheus.ExemplarObserver); ok {
			observer.ObserveWithExemplar(duration.Seconds(), exemplar)
		} else {
			m.storeOperationDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
		}
		return
	}
	m.storeOperationsTotal.WithLabelValues(operation, backend).Inc()
	m.storeOperationDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// RecordStoreError records a store backend operation error.
func (m *Metrics) RecordStoreError(ctx context.Context, operation, backend, errorKind string) {
	m.storeOperationErrors.WithLabelValues(operation, backend, errorKind).Inc()
}

// RecordLockContended increments the write-lock contention counter.
func (m *Metrics) RecordLockContended() { m.lockContendedTotal.Inc() }

// RecordObjectExpired increments the TTL-expiry deletion counter.
func (m *Metrics) RecordObjectExpired() { m.objectsExpiredTotal.Inc() }

// RecordBufferPoolHit records a chunk buffer pool hit.
func (m *Metrics) RecordBufferPoolHit(sizeClass string) {
	m.bufferPoolHits.WithLabelValues(sizeClass).Inc()
}

// RecordBufferPoolMiss records a chunk buffer pool miss.
func (m *Metrics) RecordBufferPoolMiss(sizeClass string) {
	m.bufferPoolMisses.WithLabelValues(sizeClass).Inc()
}

// UpdateSystemMetrics refreshes goroutine/memory gauges.
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
	m.memorySysBytes.Set(float64(memStats.Sys))
}

func (m *Metrics) IncrementActiveConnections() { m.activeConnections.Inc() }
func (m *Metrics) DecrementActiveConnections() { m.activeConnections.Dec() }

// StartSystemMetricsCollector periodically refreshes system gauges
// until ctx is cancelled.
func (m *Metrics) StartSystemMetricsCollector(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.UpdateSystemMetrics()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// getExemplar extracts a trace id from ctx for exemplar attachment.
func getExemplar(ctx context.Context) prometheus.Labels {
	if ctx == nil {
		return nil
	}
	spanContext := trace.SpanFromContext(ctx).SpanContext()
	if spanContext.IsValid() {
		return prometheus.Labels{"trace_id": spanContext.TraceID().String()}
	}
	return nil
}
