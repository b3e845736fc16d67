package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LoaderMetrics implements remote.Observer.
type LoaderMetrics struct {
	Transitions *prometheus.CounterVec
	Failures    *prometheus.CounterVec
	ModuleState *prometheus.GaugeVec
}

var loaderStates = []string{"pending", "ready", "failed"}

// NewLoaderMetrics creates and registers remote module loader metrics with the given registerer.
func NewLoaderMetrics(registerer prometheus.Registerer) *LoaderMetrics {
	m := &LoaderMetrics{
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashhost_remote_state_transitions_total",
				Help: "Total number of remote module state transitions",
			},
			[]string{"module", "state"},
		),
		Failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashhost_remote_load_failures_total",
				Help: "Total number of remote module failures by phase",
			},
			[]string{"module", "phase"}, // phase: fetch/evaluate/render
		),
		ModuleState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dashhost_remote_module_state",
				Help: "Current state of each remote module (1 for the active state)",
			},
			[]string{"module", "state"},
		),
	}

	registerer.MustRegister(m.Transitions, m.Failures, m.ModuleState)

	return m
}

// StateChanged implements remote.Observer.
func (m *LoaderMetrics) StateChanged(module, state string) {
	m.Transitions.WithLabelValues(module, state).Inc()
	for _, s := range loaderStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ModuleState.WithLabelValues(module, s).Set(v)
	}
}

// LoadFailed implements remote.Observer.
func (m *LoaderMetrics) LoadFailed(module, phase string) {
	m.Failures.WithLabelValues(module, phase).Inc()
}
