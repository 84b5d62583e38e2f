package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
	rejectedTotal   *prometheus.CounterVec

	uploadsTotal          *prometheus.CounterVec
	reviewsTotal          *prometheus.CounterVec
	analysisTotal         *prometheus.CounterVec
	analysisDuration      *prometheus.HistogramVec
	analysisContextInputs *prometheus.HistogramVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "equity_lens",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "equity_lens",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "equity_lens",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	rejectedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "equity_lens",
			Subsystem: "http",
			Name:      "rejected_total",
			Help:      "Requests shed before reaching a handler, by reason.",
		},
		[]string{"service", "reason"},
	)
	uploadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "equity_lens",
			Subsystem: "files",
			Name:      "uploads_total",
			Help:      "Accepted file uploads by kind.",
		},
		[]string{"service", "kind"},
	)
	reviewsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "equity_lens",
			Subsystem: "insights",
			Name:      "reviews_total",
			Help:      "Review decisions by outcome.",
		},
		[]string{"service", "outcome"},
	)
	analysisTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "equity_lens",
			Subsystem: "equity_risk",
			Name:      "analyses_total",
			Help:      "Equity-risk analyses by status.",
		},
		[]string{"service", "status"},
	)
	analysisDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "equity_lens",
			Subsystem: "equity_risk",
			Name:      "analysis_duration_seconds",
			Help:      "Equity-risk analysis duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"service"},
	)
	analysisContextInputs := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "equity_lens",
			Subsystem: "equity_risk",
			Name:      "context_inputs",
			Help:      "Accepted insights and geospatial layers fed into one analysis.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
		[]string{"service", "source"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		rejectedTotal,
		uploadsTotal,
		reviewsTotal,
		analysisTotal,
		analysisDuration,
		analysisContextInputs,
	)

	return &HTTPServerMetrics{
		registry:              registry,
		requestTotal:          requestTotal,
		requestDuration:       requestDuration,
		requestInFlight:       requestInFlight,
		rejectedTotal:         rejectedTotal,
		uploadsTotal:          uploadsTotal,
		reviewsTotal:          reviewsTotal,
		analysisTotal:         analysisTotal,
		analysisDuration:      analysisDuration,
		analysisContextInputs: analysisContextInputs,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := NormalizePath(r.URL.Path)
		recorder := NewStatusRecorder(w)

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.StatusCode()),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// NormalizePath collapses identifiers so label cardinality stays bounded.
func NormalizePath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" || parts[1] != "projects" {
		return path
	}
	parts[2] = "{projectID}"
	if len(parts) >= 5 {
		switch parts[3] {
		case "files":
			parts[4] = "{fileID}"
		case "insights":
			parts[4] = "{insightID}"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func (m *HTTPServerMetrics) RecordRejected(service, reason string) {
	m.rejectedTotal.WithLabelValues(service, reason).Inc()
}

func (m *HTTPServerMetrics) RecordUpload(service, kind string) {
	if kind == "" {
		kind = "unknown"
	}
	m.uploadsTotal.WithLabelValues(service, kind).Inc()
}

func (m *HTTPServerMetrics) RecordReview(service, outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.reviewsTotal.WithLabelValues(service, outcome).Inc()
}

func (m *HTTPServerMetrics) RecordAnalysis(service, status string, duration time.Duration, insights, layers int) {
	if status == "" {
		status = "unknown"
	}
	m.analysisTotal.WithLabelValues(service, status).Inc()
	m.analysisDuration.WithLabelValues(service).Observe(duration.Seconds())
	if status == "success" {
		m.analysisContextInputs.WithLabelValues(service, "insights").Observe(float64(insights))
		m.analysisContextInputs.WithLabelValues(service, "layers").Observe(float64(layers))
	}
}

type StatusRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

// NewStatusRecorder wraps w and remembers the first status written.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	if rec, ok := w.(*StatusRecorder); ok {
		return rec
	}
	return &StatusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
}

func (w *StatusRecorder) StatusCode() int {
	return w.statusCode
}

func (w *StatusRecorder) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.statusCode = statusCode
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *StatusRecorder) Write(p []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(p)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *StatusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *StatusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *StatusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *StatusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
