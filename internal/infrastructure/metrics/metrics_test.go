package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/lllypuk/dashhost/internal/aggregator"
	"github.com/lllypuk/dashhost/internal/domain/product"
	"github.com/lllypuk/dashhost/internal/infrastructure/eventbus"
	"github.com/lllypuk/dashhost/internal/infrastructure/metrics"
	"github.com/lllypuk/dashhost/internal/remote"
)

var (
	_ eventbus.Observer   = (*metrics.BusMetrics)(nil)
	_ aggregator.Observer = (*metrics.AggregatorMetrics)(nil)
	_ remote.Observer     = (*metrics.LoaderMetrics)(nil)
)

func TestBusMetrics(t *testing.T) {
	m := metrics.NewBusMetrics(prometheus.NewRegistry())

	m.EventPublished("sx-product-manager:product-added", "redis")
	m.EventPublished("sx-product-manager:product-added", "redis")
	m.HandlerFailed("sx-product-manager:product-added")

	assert.InDelta(t, 2, testutil.ToFloat64(
		m.EventsPublished.WithLabelValues("sx-product-manager:product-added", "redis")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(
		m.HandlerFailures.WithLabelValues("sx-product-manager:product-added")), 0)
}

func TestAggregatorMetrics(t *testing.T) {
	m := metrics.NewAggregatorMetrics(prometheus.NewRegistry())

	t.Run("sync state is one-hot", func(t *testing.T) {
		m.SyncStateChanged("loading")
		m.SyncStateChanged("not_responding")

		assert.InDelta(t, 0, testutil.ToFloat64(m.SyncState.WithLabelValues("loading")), 0)
		assert.InDelta(t, 1, testutil.ToFloat64(m.SyncState.WithLabelValues("not_responding")), 0)
	})

	t.Run("tracks product gauges", func(t *testing.T) {
		m.ProductsTracked(product.Metrics{Total: 3, Active: 2, Inactive: 1})

		assert.InDelta(t, 3, testutil.ToFloat64(m.Products.WithLabelValues("total")), 0)
		assert.InDelta(t, 2, testutil.ToFloat64(m.Products.WithLabelValues("active")), 0)
		assert.InDelta(t, 1, testutil.ToFloat64(m.Products.WithLabelValues("inactive")), 0)
	})

	t.Run("counts applied, dropped and persist errors", func(t *testing.T) {
		m.EventApplied("e:a")
		m.EventDropped("e:a", "duplicate")
		m.PersistFailed()

		assert.InDelta(t, 1, testutil.ToFloat64(m.EventsApplied.WithLabelValues("e:a")), 0)
		assert.InDelta(t, 1, testutil.ToFloat64(m.EventsDropped.WithLabelValues("e:a", "duplicate")), 0)
		assert.InDelta(t, 1, testutil.ToFloat64(m.PersistErrors), 0)
	})
}

func TestLoaderMetrics(t *testing.T) {
	m := metrics.NewLoaderMetrics(prometheus.NewRegistry())

	m.StateChanged("pm", "pending")
	m.StateChanged("pm", "failed")
	m.LoadFailed("pm", "fetch")

	assert.InDelta(t, 1, testutil.ToFloat64(m.ModuleState.WithLabelValues("pm", "failed")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.ModuleState.WithLabelValues("pm", "pending")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Transitions.WithLabelValues("pm", "pending")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Failures.WithLabelValues("pm", "fetch")), 0)
}

func TestRegistrationConflicts(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics.NewBusMetrics(registry)
	metrics.NewAggregatorMetrics(registry)
	metrics.NewLoaderMetrics(registry)

	assert.Panics(t, func() { metrics.NewBusMetrics(registry) })
}
