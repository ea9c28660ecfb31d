// HTTP 请求日志中间件：记录方法、路由、状态码、耗时、请求 ID，并上报 HTTP 指标。
//   - 5xx 以 Error 级别记录，4xx 以 Warn 级别记录，慢请求以 Warn 级别记录
//   - 健康检查等高频路径可配置跳过日志（指标仍然记录）
package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	prom "github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/prometheus"
)

// LoggingConfig holds configuration for the request logging middleware.
type LoggingConfig struct {
	// SkipPaths are paths that should not be logged (e.g., /healthz, /metrics).
	SkipPaths []string

	// SlowThreshold is the duration above which a request is considered slow.
	SlowThreshold time.Duration
}

// DefaultLoggingConfig returns a sensible default logging configuration.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		SkipPaths:     []string{"/healthz", "/readyz", "/metrics"},
		SlowThreshold: 3 * time.Second,
	}
}

// wrappedResponseWriter captures the status code and bytes written.
type wrappedResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func newWrappedResponseWriter(w http.ResponseWriter) *wrappedResponseWriter {
	return &wrappedResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK, // default if WriteHeader is never called
	}
}

func (w *wrappedResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *wrappedResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

// Hijack implements http.Hijacker.
func (w *wrappedResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
}

// Flush implements http.Flusher.
func (w *wrappedResponseWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// LoggingMiddleware logs every request and records it in the HTTP metrics.
type LoggingMiddleware struct {
	logger  logging.Logger
	metrics *prom.ServiceMetrics
	config  LoggingConfig
	skip    map[string]bool
}

// NewLoggingMiddleware creates a LoggingMiddleware. metrics may be nil.
func NewLoggingMiddleware(logger logging.Logger, metrics *prom.ServiceMetrics, config LoggingConfig) *LoggingMiddleware {
	skip := make(map[string]bool, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skip[p] = true
	}
	return &LoggingMiddleware{
		logger:  logging.OrNop(logger).Named("http"),
		metrics: metrics,
		config:  config,
		skip:    skip,
	}
}

// Handler wraps next.
func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.metrics != nil {
			active := m.metrics.HTTPActiveRequests.WithLabelValues(r.Method)
			active.Inc()
			defer active.Dec()
		}
		start := time.Now()
		wrapped := newWrappedResponseWriter(w)
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start)

		prom.RecordHTTPRequest(m.metrics, r.Method, routePattern(r), wrapped.statusCode, duration)
		if m.skip[r.URL.Path] {
			return
		}

		fields := []logging.Field{
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", wrapped.statusCode),
			logging.Duration("duration", duration),
			logging.Int64("bytes", wrapped.bytesWritten),
			logging.String("remote_addr", r.RemoteAddr),
		}
		if reqID := chimw.GetReqID(r.Context()); reqID != "" {
			fields = append(fields, logging.RequestID(reqID))
		}
		if ua := r.UserAgent(); ua != "" {
			fields = append(fields, logging.String("user_agent", ua))
		}

		switch {
		case wrapped.statusCode >= 500:
			m.logger.Error("HTTP request completed with server error", fields...)
		case wrapped.statusCode >= 400:
			m.logger.Warn("HTTP request completed with client error", fields...)
		case m.config.SlowThreshold > 0 && duration >= m.config.SlowThreshold:
			m.logger.Warn("HTTP request completed (slow)", fields...)
		default:
			m.logger.Info("HTTP request completed", fields...)
		}
	})
}

// routePattern keeps metric label cardinality bounded.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

//Personal.AI order the ending
