// Package metrics exports Prometheus metrics for the inference pipeline and
// the HTTP API.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/mediscan/internal/inference"
)

// Metrics contains all Prometheus metrics of the service.
type Metrics struct {
	DecisionTotal     *prometheus.CounterVec
	DiagnosisTotal    *prometheus.CounterVec
	FailureTotal      *prometheus.CounterVec
	InferenceDuration prometheus.Histogram
	SkinRatio         prometheus.Histogram
	ModelLoadedGauge  *prometheus.GaugeVec

	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates the metrics and registers them, together with the Go runtime
// collectors, on a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.initMetrics()

	collectorsToRegister := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m,
	}
	for _, c := range collectorsToRegister {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.DecisionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediscan_decisions_total",
			Help: "Total number of decisions partitioned by outcome kind and gate.",
		},
		[]string{"kind", "gate"},
	)
	m.DiagnosisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediscan_diagnoses_total",
			Help: "Total number of accepted diagnoses partitioned by label.",
		},
		[]string{"label"},
	)
	m.FailureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediscan_pipeline_failures_total",
			Help: "Total number of failed requests partitioned by pipeline stage.",
		},
		[]string{"stage"},
	)
	m.InferenceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediscan_inference_duration_seconds",
			Help:    "Time spent in the classifier runtime, including waiting for a free session.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		},
	)
	m.SkinRatio = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediscan_skin_ratio",
			Help:    "Distribution of the skin ratio of decided images.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)
	m.ModelLoadedGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediscan_model_loaded",
			Help: "Whether the classifier is loaded (1) or not (0), by backend.",
		},
		[]string{"backend"},
	)
	m.HTTPRequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediscan_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediscan_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
}

// ObserveDecision implements inference.Observer.
func (m *Metrics) ObserveDecision(d inference.Decision) {
	m.DecisionTotal.WithLabelValues(d.OutcomeKind(), string(d.Gate)).Inc()
	if d.IsDiagnosis() {
		m.DiagnosisTotal.WithLabelValues(d.Outcome).Inc()
	}
	m.SkinRatio.Observe(d.SkinRatio)
}

// ObserveInference implements inference.Observer.
func (m *Metrics) ObserveInference(elapsed time.Duration) {
	m.InferenceDuration.Observe(elapsed.Seconds())
}

// ObserveFailure implements inference.Observer.
func (m *Metrics) ObserveFailure(stage string) {
	m.FailureTotal.WithLabelValues(stage).Inc()
}

// SetModelLoaded records whether the classifier of backend is available.
func (m *Metrics) SetModelLoaded(backend string, loaded bool) {
	value := 0.0
	if loaded {
		value = 1
	}
	m.ModelLoadedGauge.WithLabelValues(backend).Set(value)
}

// Middleware records request counts and latency per matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// Describe implements the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.DecisionTotal.Describe(ch)
	m.DiagnosisTotal.Describe(ch)
	m.FailureTotal.Describe(ch)
	ch <- m.InferenceDuration.Desc()
	ch <- m.SkinRatio.Desc()
	m.ModelLoadedGauge.Describe(ch)
	m.HTTPRequestTotal.Describe(ch)
	m.HTTPRequestDuration.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.DecisionTotal.Collect(ch)
	m.DiagnosisTotal.Collect(ch)
	m.FailureTotal.Collect(ch)
	ch <- m.InferenceDuration
	ch <- m.SkinRatio
	m.ModelLoadedGauge.Collect(ch)
	m.HTTPRequestTotal.Collect(ch)
	m.HTTPRequestDuration.Collect(ch)
}
