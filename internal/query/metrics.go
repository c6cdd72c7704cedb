package query

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the shared registry for the indexer, the responder and the
// query surface.
type Metrics struct {
	registry              *prometheus.Registry
	eventsAppliedTotal    *prometheus.CounterVec
	pendingBufferDepth    prometheus.Gauge
	fulfillmentStepsTotal *prometheus.CounterVec
	queriesTotal          *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ramprails_events_applied_total",
		Help: "Events processed by the indexer, by kind and outcome",
	}, []string{"kind", "outcome"})

	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ramprails_pending_buffer_depth",
		Help: "Out-of-order events waiting for their predecessor",
	})

	steps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ramprails_fulfillment_steps_total",
		Help: "Fulfillment steps executed by the responder, by step and outcome",
	}, []string{"step", "outcome"})

	queries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ramprails_queries_total",
		Help: "Query surface requests by collection",
	}, []string{"collection"})

	r := prometheus.NewRegistry()
	r.MustRegister(events, pending, steps, queries)

	return &Metrics{
		registry:              r,
		eventsAppliedTotal:    events,
		pendingBufferDepth:    pending,
		fulfillmentStepsTotal: steps,
		queriesTotal:          queries,
	}
}

func (m *Metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EventApplied(kind, outcome string) {
	m.eventsAppliedTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) SetPendingDepth(depth int) {
	m.pendingBufferDepth.Set(float64(depth))
}

func (m *Metrics) StepObserved(step, outcome string) {
	m.fulfillmentStepsTotal.WithLabelValues(step, outcome).Inc()
}

func (m *Metrics) incQuery(collection string) {
	m.queriesTotal.WithLabelValues(collection).Inc()
}
