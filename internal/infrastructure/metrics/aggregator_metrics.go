package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lllypuk/dashhost/internal/domain/product"
)

// AggregatorMetrics implements aggregator.Observer.
type AggregatorMetrics struct {
	EventsApplied *prometheus.CounterVec
	EventsDropped *prometheus.CounterVec
	SyncState     *prometheus.GaugeVec
	PersistErrors prometheus.Counter
	Products      *prometheus.GaugeVec
}

// syncStates lists every state so only the current one reads 1.
var syncStates = []string{"disabled", "loading", "loaded", "not_responding"}

// NewAggregatorMetrics creates and registers aggregator metrics with the given registerer.
func NewAggregatorMetrics(registerer prometheus.Registerer) *AggregatorMetrics {
	m := &AggregatorMetrics{
		EventsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashhost_aggregator_events_applied_total",
				Help: "Total number of product events folded into the collection",
			},
			[]string{"event_name"},
		),
		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashhost_aggregator_events_dropped_total",
				Help: "Total number of product events ignored",
			},
			[]string{"event_name", "reason"},
		),
		SyncState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dashhost_aggregator_sync_state",
				Help: "Current initial-sync state with the remote module (1 for the active state)",
			},
			[]string{"state"},
		),
		PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashhost_aggregator_persist_errors_total",
			Help: "Total number of failed writes to the storage slot",
		}),
		Products: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dashhost_aggregator_products",
				Help: "Products currently tracked by the host",
			},
			[]string{"status"}, // total/active/inactive
		),
	}

	registerer.MustRegister(
		m.EventsApplied,
		m.EventsDropped,
		m.SyncState,
		m.PersistErrors,
		m.Products,
	)

	return m
}

// EventApplied implements aggregator.Observer.
func (m *AggregatorMetrics) EventApplied(name string) {
	m.EventsApplied.WithLabelValues(name).Inc()
}

// EventDropped implements aggregator.Observer.
func (m *AggregatorMetrics) EventDropped(name, reason string) {
	m.EventsDropped.WithLabelValues(name, reason).Inc()
}

// SyncStateChanged implements aggregator.Observer.
func (m *AggregatorMetrics) SyncStateChanged(state string) {
	for _, s := range syncStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.SyncState.WithLabelValues(s).Set(v)
	}
}

// PersistFailed implements aggregator.Observer.
func (m *AggregatorMetrics) PersistFailed() {
	m.PersistErrors.Inc()
}

// ProductsTracked implements aggregator.Observer.
func (m *AggregatorMetrics) ProductsTracked(pm product.Metrics) {
	m.Products.WithLabelValues("total").Set(float64(pm.Total))
	m.Products.WithLabelValues("active").Set(float64(pm.Active))
	m.Products.WithLabelValues("inactive").Set(float64(pm.Inactive))
}
