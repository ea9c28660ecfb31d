package prometheus

import (
	"strconv"
	"time"
)

// ServiceMetrics covers the request surfaces and result sinks. Extraction
// internals are recorded by common.ExtractionMetrics on the same registry.
type ServiceMetrics struct {
	HTTPRequestsTotal      CounterVec
	HTTPRequestDuration    HistogramVec
	HTTPActiveRequests     GaugeVec
	SinkWritesTotal        CounterVec
	SinkWriteDuration      HistogramVec
	MessagesTotal          CounterVec
	MessageProcessDuration HistogramVec
	PatternReloadsTotal    CounterVec
	GRPCRequestsTotal      CounterVec
	GRPCRequestDuration    HistogramVec
}

var (
	DefaultHTTPDurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	DefaultSinkDurationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5}
)

// NewServiceMetrics registers every service metric on collector.
func NewServiceMetrics(collector MetricsCollector) *ServiceMetrics {
	return &ServiceMetrics{
		HTTPRequestsTotal:      collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "route", "status_code"),
		HTTPRequestDuration:    collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "route"),
		HTTPActiveRequests:     collector.RegisterGauge("http_active_requests", "In-flight HTTP requests", "method"),
		SinkWritesTotal:        collector.RegisterCounter("sink_writes_total", "Result sink writes", "sink", "status"),
		SinkWriteDuration:      collector.RegisterHistogram("sink_write_duration_seconds", "Result sink write duration", DefaultSinkDurationBuckets, "sink"),
		MessagesTotal:          collector.RegisterCounter("messages_total", "Extraction request messages handled", "topic", "status"),
		MessageProcessDuration: collector.RegisterHistogram("message_process_duration_seconds", "Extraction request message handling duration", DefaultHTTPDurationBuckets, "topic"),
		PatternReloadsTotal:    collector.RegisterCounter("pattern_reloads_total", "Pattern library reloads", "status"),
		GRPCRequestsTotal:      collector.RegisterCounter("grpc_requests_total", "Total gRPC requests", "service", "method", "code"),
		GRPCRequestDuration:    collector.RegisterHistogram("grpc_request_duration_seconds", "gRPC request duration", DefaultHTTPDurationBuckets, "service", "method"),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func RecordHTTPRequest(m *ServiceMetrics, method, route string, statusCode int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func RecordSinkWrite(m *ServiceMetrics, sink string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.SinkWritesTotal.WithLabelValues(sink, status(err)).Inc()
	m.SinkWriteDuration.WithLabelValues(sink).Observe(d.Seconds())
}

func RecordMessage(m *ServiceMetrics, topic string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(topic, status(err)).Inc()
	m.MessageProcessDuration.WithLabelValues(topic).Observe(d.Seconds())
}

func RecordPatternReload(m *ServiceMetrics, err error) {
	if m == nil {
		return
	}
	m.PatternReloadsTotal.WithLabelValues(status(err)).Inc()
}

// RecordGRPCRequest records one unary call or one finished stream.
func RecordGRPCRequest(m *ServiceMetrics, service, method, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.GRPCRequestsTotal.WithLabelValues(service, method, code).Inc()
	m.GRPCRequestDuration.WithLabelValues(service, method).Observe(d.Seconds())
}

//Personal.AI order the ending
