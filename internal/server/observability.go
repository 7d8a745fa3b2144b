package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// PROMETHEUS METRICS
// =============================================================================

const metricsNamespace = "dropforge"

// Metrics holds the Prometheus instruments for the API and pipeline.
// All operations are thread-safe via Prometheus's internal locking.
type Metrics struct {
	// RequestsTotal counts API requests.
	// Labels: method, route, status
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures API latency.
	// Labels: method, route
	RequestDurationSeconds *prometheus.HistogramVec

	// DecisionsTotal counts recorded decisions.
	// Labels: outcome (accepted, declined)
	DecisionsTotal *prometheus.CounterVec

	// MetricEventsTotal counts ingested metric events.
	// Labels: kind, result (accepted, duplicate)
	MetricEventsTotal *prometheus.CounterVec

	// StrategyVersion exports the active strategy version number.
	StrategyVersion prometheus.Gauge
}

// NewMetrics creates and registers the instruments on the given
// registerer. Tests pass a fresh registry to avoid duplicate
// registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests by method, route, and status",
			},
			[]string{"method", "route", "status"},
		),
		RequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "API request latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"method", "route"},
		),
		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "pipeline",
				Name:      "decisions_total",
				Help:      "Total decisions recorded by outcome",
			},
			[]string{"outcome"},
		),
		MetricEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "pipeline",
				Name:      "metric_events_total",
				Help:      "Total metric events ingested by kind and result",
			},
			[]string{"kind", "result"},
		),
		StrategyVersion: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "pipeline",
				Name:      "strategy_version",
				Help:      "Currently active strategy version",
			},
		),
	}
}

// instrument records request count and latency per route.
func (m *Metrics) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDurationSeconds.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
