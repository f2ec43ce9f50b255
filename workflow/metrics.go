package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus collectors for workflow activity, namespaced
// "aths_workflow":
//
//   - transitions_total (counter, labels from/to/outcome): finished
//     transitions. outcome is ok, pending, confirmed, rolled_back, or
//     rejected.
//   - rejections_total (counter, label reason): locally rejected requests
//     (reason_required, unknown_state, unauthorized, illegal_transition).
//   - provisional (gauge): optimistic transitions awaiting replay.
type Metrics struct {
	transitions *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	provisional prometheus.Gauge
}

// NewMetrics creates and registers all workflow metrics. Pass nil to use
// the default registerer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aths",
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Workflow transitions by from state, to state, and outcome",
		}, []string{"from", "to", "outcome"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aths",
			Subsystem: "workflow",
			Name:      "rejections_total",
			Help:      "Locally rejected transition requests by reason",
		}, []string{"reason"}),
		provisional: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "aths",
			Subsystem: "workflow",
			Name:      "provisional",
			Help:      "Optimistic transitions awaiting queue replay",
		}),
	}
}

// TransitionFinished records one transition with its outcome.
func (m *Metrics) TransitionFinished(from, to State, outcome string) {
	m.transitions.WithLabelValues(from.String(), to.String(), outcome).Inc()
}

// Rejected records one locally rejected transition request.
func (m *Metrics) Rejected(reason string) {
	m.rejections.WithLabelValues(reason).Inc()
}

// SetProvisional sets the provisional transition gauge.
func (m *Metrics) SetProvisional(count int) {
	m.provisional.Set(float64(count))
}
