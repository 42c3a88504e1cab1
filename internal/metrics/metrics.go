// Package metrics exposes pipeline measurements in the Prometheus text
// format:
//
//	btc5m_verdicts_total{level}        guard verdicts by level
//	btc5m_submissions_total{result}    orders that reached the venue
//	btc5m_pipeline_errors_total{kind}  pipeline failures by error kind
//	btc5m_slippage_pct                 simulated slippage distribution
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/btc5mtrader/internal/domain"
)

// Metrics owns the collectors and the registry they live in.
type Metrics struct {
	registry    *prometheus.Registry
	verdicts    *prometheus.CounterVec
	submissions *prometheus.CounterVec
	errors      *prometheus.CounterVec
	slippage    prometheus.Histogram
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		verdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "btc5m_verdicts_total",
				Help: "Trade guard verdicts by level.",
			},
			[]string{"level"},
		),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "btc5m_submissions_total",
				Help: "Orders sent to the venue by result.",
			},
			[]string{"result"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "btc5m_pipeline_errors_total",
				Help: "Pipeline failures by error kind.",
			},
			[]string{"kind"},
		),
		slippage: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "btc5m_slippage_pct",
			Help:    "Simulated slippage in percent for filled estimates.",
			Buckets: []float64{0, 0.5, 1, 2, 3, 5, 10, 25},
		}),
	}
	m.registry.MustRegister(
		m.verdicts, m.submissions, m.errors, m.slippage,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveVerdict counts a verdict and records its slippage when present.
func (m *Metrics) ObserveVerdict(level domain.VerdictLevel, slippage decimal.NullDecimal) {
	m.verdicts.WithLabelValues(string(level)).Inc()
	if slippage.Valid {
		m.slippage.Observe(slippage.Decimal.InexactFloat64())
	}
}

// ObserveSubmission counts a terminal submission state.
func (m *Metrics) ObserveSubmission(state domain.TradeState) {
	m.submissions.WithLabelValues(string(state)).Inc()
}

// ObserveError counts a pipeline failure.
func (m *Metrics) ObserveError(kind domain.ErrorKind) {
	m.errors.WithLabelValues(string(kind)).Inc()
}

// Handler serves the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
