// Package metrics provides Prometheus metrics for the sniper.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Monitor
	Polls       *prometheus.CounterVec
	PoolReserve prometheus.Gauge

	// Loop
	Phase       prometheus.Gauge
	Transitions *prometheus.CounterVec
	Cycles      prometheus.Counter

	// Quotes and swaps
	QuoteErrors *prometheus.CounterVec
	Swaps       *prometheus.CounterVec
	SwapLatency *prometheus.HistogramVec

	// Sinks
	SinkErrors *prometheus.CounterVec
}

// New registers all collectors on a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "pair_sniper"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Polls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "polls_total",
			Help:      "Liquidity observations by outcome",
		}, []string{"result"}),
		PoolReserve: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "quote_reserve",
			Help:      "Last observed quote token reserve of the pair, in whole tokens",
		}),

		Phase: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "phase",
			Help:      "Current phase (0 awaiting, 1 committed, 2 cooldown, 3 terminated)",
		}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "transitions_total",
			Help:      "Phase transitions",
		}, []string{"from", "to"}),
		Cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "cycles_completed_total",
			Help:      "Buy and sell cycles completed",
		}),

		QuoteErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "errors_total",
			Help:      "Quote failures by direction and kind",
		}, []string{"direction", "kind"}),
		Swaps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "swaps_total",
			Help:      "Swaps by side and status",
		}, []string{"side", "status"}),
		SwapLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "swap_duration_seconds",
			Help:      "Submit to confirmation latency",
			Buckets:   []float64{.5, 1, 2, 3, 5, 10, 20, 30, 60, 120},
		}, []string{"side"}),

		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "errors_total",
			Help:      "Best-effort trade publication failures",
		}, []string{"sink"}),
	}
}

// Handler serves the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordPoll(result string) {
	if m == nil {
		return
	}
	m.Polls.WithLabelValues(result).Inc()
}

func (m *Metrics) SetReserve(whole float64) {
	if m == nil {
		return
	}
	m.PoolReserve.Set(whole)
}

func (m *Metrics) RecordTransition(from, to string, phase int) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
	m.Phase.Set(float64(phase))
}

func (m *Metrics) RecordCycle() {
	if m == nil {
		return
	}
	m.Cycles.Inc()
}

func (m *Metrics) RecordQuoteError(direction, kind string) {
	if m == nil {
		return
	}
	m.QuoteErrors.WithLabelValues(direction, kind).Inc()
}

// RecordSwap counts a swap; latency is only observed for confirmed ones.
func (m *Metrics) RecordSwap(side, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.Swaps.WithLabelValues(side, status).Inc()
	if status == "confirmed" {
		m.SwapLatency.WithLabelValues(side).Observe(took.Seconds())
	}
}

func (m *Metrics) RecordSinkError(sink string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink).Inc()
}
