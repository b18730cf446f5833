// Package metrics exposes the touch pipeline's Prometheus metrics: the
// ambient observability surface carried regardless of the spec's Non-goals
// around multi-host federation or replay.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all touch-pipeline metrics.
type Registry struct {
	AdmittedDevices  prometheus.Gauge
	AdmissionResults *prometheus.CounterVec
	TouchEvents      *prometheus.CounterVec
	TouchEventsDropped prometheus.Counter
	ActiveConnections  prometheus.Gauge
	LatencyMicros      prometheus.Histogram
	PacketLoss         prometheus.Gauge
	EmitErrors         prometheus.Counter
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.AdmittedDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "touchpadd",
		Subsystem: "discover",
		Name:      "admitted_devices",
		Help:      "Number of devices currently in the admitted-devices map.",
	})

	r.AdmissionResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "touchpadd",
		Subsystem: "discover",
		Name:      "admission_results_total",
		Help:      "Admission handshake outcomes by result.",
	}, []string{"result"})

	r.TouchEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "touchpadd",
		Subsystem: "emitter",
		Name:      "touch_events_total",
		Help:      "Touch events processed by the emitter, by status.",
	}, []string{"status"})

	r.TouchEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "touchpadd",
		Subsystem: "touchserver",
		Name:      "touch_events_dropped_total",
		Help:      "Touch events dropped because the event channel was full.",
	})

	r.ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "touchpadd",
		Subsystem: "touchserver",
		Name:      "active_connections",
		Help:      "Number of live transport connections.",
	})

	r.LatencyMicros = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "touchpadd",
		Subsystem: "latency",
		Name:      "sample_microseconds",
		Help:      "Per-packet latency samples in microseconds.",
		Buckets:   prometheus.ExponentialBuckets(500, 2, 12),
	})

	r.PacketLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "touchpadd",
		Subsystem: "latency",
		Name:      "packet_loss_percent",
		Help:      "Current packet loss rate as a percentage.",
	})

	r.EmitErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "touchpadd",
		Subsystem: "emitter",
		Name:      "emit_errors_total",
		Help:      "Errors returned by the OS input subsystem while emitting a batch.",
	})

	return r
}
