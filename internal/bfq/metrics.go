package bfq

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's prometheus instrumentation. It is the
// caller's responsibility to register PrometheusCollectors() with a
// registry; the engine only observes into them.
type Metrics struct {
	dispatched   *prometheus.CounterVec
	completed    *prometheus.CounterVec
	budgetExhausted *prometheus.CounterVec
	sliceDuration   *prometheus.HistogramVec
	queuesActive    prometheus.Gauge
	maxBudget       prometheus.Gauge
}

// NewMetrics builds a Metrics bound to no registry yet; call
// PrometheusCollectors and pass them to prometheus.MustRegister (or an
// equivalent registerer) once.
func NewMetrics() *Metrics {
	const namespace = "bfq"
	const subsystem = "scheduler"

	m := &Metrics{}
	m.dispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "requests_dispatched_total",
		Help:      "Number of requests handed to the device, by class and sync/async.",
	}, []string{"class", "sync"})

	m.completed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "requests_completed_total",
		Help:      "Number of request completions observed, by class and sync/async.",
	}, []string{"class", "sync"})

	m.budgetExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "budget_exhausted_total",
		Help:      "Number of times a queue's budget was fully consumed before it emptied, by class.",
	}, []string{"class"})

	m.sliceDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "slice_duration_seconds",
		Help:      "Wall-clock duration a queue held the device for, by class.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
	}, []string{"class"})

	m.queuesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "queues_active",
		Help:      "Number of queues currently backlogged.",
	})

	m.maxBudget = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "max_budget_sectors",
		Help:      "Current autotuned max_budget, in sectors.",
	})

	return m
}

// PrometheusCollectors satisfies the registerer pattern used across the
// rest of this codebase's services: collect once, register once.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.dispatched,
		m.completed,
		m.budgetExhausted,
		m.sliceDuration,
		m.queuesActive,
		m.maxBudget,
	}
}

func syncLabel(sync bool) string {
	if sync {
		return "sync"
	}
	return "async"
}
