// Package metrics exposes Prometheus instrumentation for the event bus, the
// metrics aggregator and the remote module loader.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BusMetrics implements eventbus.Observer.
type BusMetrics struct {
	EventsPublished *prometheus.CounterVec
	HandlerFailures *prometheus.CounterVec
}

// NewBusMetrics creates and registers event bus metrics with the given registerer.
func NewBusMetrics(registerer prometheus.Registerer) *BusMetrics {
	m := &BusMetrics{
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashhost_eventbus_events_published_total",
				Help: "Total number of events dispatched on the local bus",
			},
			[]string{"event_name", "source"}, // source: local/redis/websocket/http
		),
		HandlerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashhost_eventbus_handler_failures_total",
				Help: "Total number of handler errors and panics",
			},
			[]string{"event_name"},
		),
	}

	registerer.MustRegister(m.EventsPublished, m.HandlerFailures)

	return m
}

// EventPublished implements eventbus.Observer.
func (m *BusMetrics) EventPublished(name, source string) {
	m.EventsPublished.WithLabelValues(name, source).Inc()
}

// HandlerFailed implements eventbus.Observer.
func (m *BusMetrics) HandlerFailed(name string) {
	m.HandlerFailures.WithLabelValues(name).Inc()
}
