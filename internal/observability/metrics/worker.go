package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/equity-lens/internal/core/domain"
)

type WorkerMetrics struct {
	service  string
	registry *prometheus.Registry

	processTotal      *prometheus.CounterVec
	processDuration   *prometheus.HistogramVec
	processInFlight   prometheus.Gauge
	queueLag          *prometheus.HistogramVec
	insightsWritten   *prometheus.CounterVec
	candidatesDropped *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "equity_lens",
			Subsystem: "worker",
			Name:      "file_process_total",
			Help:      "Total pipeline runs by file kind and outcome.",
		},
		[]string{"service", "kind", "status"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "equity_lens",
			Subsystem: "worker",
			Name:      "file_process_duration_seconds",
			Help:      "Pipeline run duration in seconds by file kind and outcome.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "kind", "status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "equity_lens",
			Subsystem: "worker",
			Name:      "file_process_in_flight",
			Help:      "Number of in-flight pipeline runs.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "equity_lens",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between upload and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	insightsWritten := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "equity_lens",
			Subsystem: "worker",
			Name:      "insights_written_total",
			Help:      "Insights committed by the fan-out step.",
		},
		[]string{"service"},
	)
	candidatesDropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "equity_lens",
			Subsystem: "worker",
			Name:      "candidates_dropped_total",
			Help:      "Model candidates dropped by validation or the per-file cap.",
		},
		[]string{"service"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "equity_lens",
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per operation: 0 closed, 1 half-open, 2 open.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(
		processTotal,
		processDuration,
		processInFlight,
		queueLag,
		insightsWritten,
		candidatesDropped,
		breakerState,
	)

	return &WorkerMetrics{
		service:           service,
		registry:          registry,
		processTotal:      processTotal,
		processDuration:   processDuration,
		processInFlight:   processInFlight,
		queueLag:          queueLag,
		insightsWritten:   insightsWritten,
		candidatesDropped: candidatesDropped,
		breakerState:      breakerState,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartFile() {
	m.processInFlight.Inc()
}

// FinishFile records one run. A nil result counts as "error"; skipped
// duplicate deliveries count as "skipped".
func (m *WorkerMetrics) FinishFile(duration time.Duration, result *domain.ProcessResult) {
	m.processInFlight.Dec()

	kind := "unknown"
	status := "error"
	if result != nil {
		if result.Kind != "" {
			kind = string(result.Kind)
		}
		status = string(result.Status)
		if result.Skipped {
			status = "skipped"
		}
		if result.InsightsWritten > 0 {
			m.insightsWritten.WithLabelValues(m.service).Add(float64(result.InsightsWritten))
		}
		if result.CandidatesDropped > 0 {
			m.candidatesDropped.WithLabelValues(m.service).Add(float64(result.CandidatesDropped))
		}
	}

	m.processTotal.WithLabelValues(m.service, kind, status).Inc()
	m.processDuration.WithLabelValues(m.service, kind, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service).Observe(lag.Seconds())
}

// ObserveBreakerState matches resilience.StateObserver.
func (m *WorkerMetrics) ObserveBreakerState(operation, _, to string) {
	value := 0.0
	switch to {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	m.breakerState.WithLabelValues(m.service, operation).Set(value)
}
