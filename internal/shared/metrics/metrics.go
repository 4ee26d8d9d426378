package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Export job metrics
	ExportsTotal          *prometheus.CounterVec
	ExportDuration        *prometheus.HistogramVec
	ExportQueueDepth      prometheus.Gauge
	ActiveExports         prometheus.Gauge
	ExportsProcessedTotal *prometheus.CounterVec

	// Render pipeline metrics
	FramesRenderedTotal prometheus.Counter
	FrameRenderDuration prometheus.Histogram
	EncodeDuration      *prometheus.HistogramVec
	TileFetchesTotal    *prometheus.CounterVec

	// WebSocket metrics
	WebSocketConnections   prometheus.Gauge
	WebSocketMessagesTotal *prometheus.CounterVec

	// File storage metrics
	StorageFilesTotal *prometheus.GaugeVec
	StorageBytesTotal *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		HTTPResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path", "status"},
		),

		// Export job metrics
		ExportsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exports_total",
				Help: "Total number of export jobs created",
			},
			[]string{"status", "format"},
		),
		ExportDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "export_duration_seconds",
				Help:    "Export processing duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"format", "status"},
		),
		ExportQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "export_queue_depth",
				Help: "Current number of export jobs in queue",
			},
		),
		ActiveExports: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_exports",
				Help: "Number of currently rendering export jobs",
			},
		),
		ExportsProcessedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exports_processed_total",
				Help: "Total number of export jobs processed",
			},
			[]string{"status"},
		),

		// Render pipeline metrics
		FramesRenderedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "frames_rendered_total",
				Help: "Total number of frames composited",
			},
		),
		FrameRenderDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "frame_render_duration_seconds",
				Help:    "Single frame compositing time in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		EncodeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "encode_duration_seconds",
				Help:    "Container encode time in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"format"},
		),
		TileFetchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tile_fetches_total",
				Help: "Total number of map tile fetches",
			},
			[]string{"status"},
		),

		// WebSocket metrics
		WebSocketConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "websocket_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WebSocketMessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "websocket_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"type"},
		),

		// Storage metrics
		StorageFilesTotal: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "storage_files_total",
				Help: "Total number of files in storage",
			},
			[]string{"zone"},
		),
		StorageBytesTotal: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "storage_bytes_total",
				Help: "Total storage size in bytes",
			},
			[]string{"zone"},
		),
	}

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, responseSize int64) {
	status := statusCodeToString(statusCode)

	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	if responseSize > 0 {
		m.HTTPResponseSize.WithLabelValues(method, path, status).Observe(float64(responseSize))
	}
}

// RecordExportCreated records export job creation
func (m *Metrics) RecordExportCreated(format string) {
	m.ExportsTotal.WithLabelValues("created", format).Inc()
	m.ExportQueueDepth.Inc()
}

// RecordExportStarted records export job start
func (m *Metrics) RecordExportStarted() {
	m.ActiveExports.Inc()
	m.ExportQueueDepth.Dec()
}

// RecordExportCompleted records export job completion
func (m *Metrics) RecordExportCompleted(format string, status string, duration time.Duration) {
	m.ActiveExports.Dec()
	m.ExportDuration.WithLabelValues(format, status).Observe(duration.Seconds())
	m.ExportsProcessedTotal.WithLabelValues(status).Inc()
	m.ExportsTotal.WithLabelValues(status, format).Inc()
}

// RecordFrameRendered records one composited frame
func (m *Metrics) RecordFrameRendered(duration time.Duration) {
	m.FramesRenderedTotal.Inc()
	m.FrameRenderDuration.Observe(duration.Seconds())
}

// RecordEncode records container encode time
func (m *Metrics) RecordEncode(format string, duration time.Duration) {
	m.EncodeDuration.WithLabelValues(format).Observe(duration.Seconds())
}

// RecordTileFetch records a map tile fetch
func (m *Metrics) RecordTileFetch(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.TileFetchesTotal.WithLabelValues(status).Inc()
}

// RecordWebSocketConnection records WebSocket connection change
func (m *Metrics) RecordWebSocketConnection(connected bool) {
	if connected {
		m.WebSocketConnections.Inc()
	} else {
		m.WebSocketConnections.Dec()
	}
}

// RecordWebSocketMessage records WebSocket message
func (m *Metrics) RecordWebSocketMessage(messageType string) {
	m.WebSocketMessagesTotal.WithLabelValues(messageType).Inc()
}

// UpdateStorageMetrics updates storage metrics
func (m *Metrics) UpdateStorageMetrics(zone string, fileCount int64, bytes int64) {
	m.StorageFilesTotal.WithLabelValues(zone).Set(float64(fileCount))
	m.StorageBytesTotal.WithLabelValues(zone).Set(float64(bytes))
}

// statusCodeToString converts HTTP status code to category string
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
