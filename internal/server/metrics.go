package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	MetricHTTPRequestsTotal   = "buzznotes_http_requests_total"
	MetricHTTPRequestDuration = "buzznotes_http_request_duration_seconds"
	MetricRecordWritesTotal   = "buzznotes_record_writes_total"
	MetricRealtimeStreams     = "buzznotes_realtime_streams"
	MetricRealtimeResyncs     = "buzznotes_realtime_resyncs_total"
)

// Metrics holds the API's Prometheus collectors. Collectors are created unregistered.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	recordWritesTotal   *prometheus.CounterVec
	realtimeStreams     prometheus.Gauge
	realtimeResyncs     prometheus.Counter
}

// NewMetrics creates the collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricHTTPRequestsTotal,
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPRequestDuration,
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
			},
			[]string{"method", "path"},
		),
		recordWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRecordWritesTotal,
				Help: "Total number of record writes by table and operation",
			},
			[]string{"table", "operation"},
		),
		realtimeStreams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricRealtimeStreams,
				Help: "Number of open realtime event streams",
			},
		),
		realtimeResyncs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricRealtimeResyncs,
				Help: "Resync markers sent to event streams that fell behind",
			},
		),
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, collector := range m.Collectors() {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns every collector.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.recordWritesTotal,
		m.realtimeStreams,
		m.realtimeResyncs,
	}
}

// IncRecordWrite counts one write to table.
func (m *Metrics) IncRecordWrite(table string, operation string) {
	if m == nil {
		return
	}
	m.recordWritesTotal.WithLabelValues(table, operation).Inc()
}

func (m *Metrics) streamOpened() {
	if m == nil {
		return
	}
	m.realtimeStreams.Inc()
}

func (m *Metrics) streamClosed() {
	if m == nil {
		return
	}
	m.realtimeStreams.Dec()
}

func (m *Metrics) streamResynced() {
	if m == nil {
		return
	}
	m.realtimeResyncs.Inc()
}

// middleware records request counts and latency by route template.
func (m *Metrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(started).Seconds())
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
