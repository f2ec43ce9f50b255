package offline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus collectors for cache and queue activity, all
// namespaced "aths":
//
//   - reads_total (counter, label source=network|cache): served reads.
//   - read_misses_total (counter): reads that found neither network nor a
//     usable cache entry.
//   - queue_depth (gauge): operations awaiting replay.
//   - replays_total (counter, label outcome=ok|conflict|transport_failure):
//     replay attempts by outcome.
//   - replay_latency_ms (histogram): replay round-trip duration.
//
// Register with a custom registry for isolation, or pass nil for the
// default registerer.
type Metrics struct {
	reads       *prometheus.CounterVec
	readMisses  prometheus.Counter
	queueDepth  prometheus.Gauge
	replays     *prometheus.CounterVec
	replayDurMs prometheus.Histogram
}

// NewMetrics creates and registers all offline cache metrics.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		reads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aths",
			Name:      "reads_total",
			Help:      "Reads served, by source (network or cache)",
		}, []string{"source"}),
		readMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "aths",
			Name:      "read_misses_total",
			Help:      "Reads that could be served neither live nor from cache",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "aths",
			Name:      "queue_depth",
			Help:      "Queued operations awaiting replay",
		}),
		replays: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aths",
			Name:      "replays_total",
			Help:      "Queue replay attempts by outcome",
		}, []string{"outcome"}), // outcome: ok, conflict, transport_failure
		replayDurMs: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aths",
			Name:      "replay_latency_ms",
			Help:      "Replay round-trip duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}),
	}
}

// ReadServed records a read served from the given source.
func (m *Metrics) ReadServed(source string) {
	m.reads.WithLabelValues(source).Inc()
}

// ReadMissed records a read that found no usable data anywhere.
func (m *Metrics) ReadMissed() {
	m.readMisses.Inc()
}

// SetQueueDepth sets the current queue depth gauge.
func (m *Metrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// ReplayFinished records one replay attempt with its outcome and latency.
func (m *Metrics) ReplayFinished(outcome string, latency time.Duration) {
	m.replays.WithLabelValues(outcome).Inc()
	m.replayDurMs.Observe(float64(latency.Milliseconds()))
}
