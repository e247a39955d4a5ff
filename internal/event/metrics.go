package event

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports queue behaviour to Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	enqueuedTotal *prometheus.CounterVec
	droppedTotal  *prometheus.CounterVec
	depth         prometheus.Gauge
	capacity      prometheus.Gauge
}

// NewMetrics creates the queue collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		enqueuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homeapp_events_enqueued_total",
			Help: "Events accepted by the event queue.",
		}, []string{"kind"}),
		droppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homeapp_events_dropped_total",
			Help: "Events dropped because the event queue was full.",
		}, []string{"kind"}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homeapp_event_queue_depth",
			Help: "Current number of events waiting for the reporter.",
		}),
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homeapp_event_queue_capacity",
			Help: "Maximum number of events the queue holds.",
		}),
	}
	reg.MustRegister(m.enqueuedTotal, m.droppedTotal, m.depth, m.capacity)
	return m
}

func (m *Metrics) enqueued(kind Kind, depth int64) {
	if m == nil {
		return
	}
	m.enqueuedTotal.WithLabelValues(kind.String()).Inc()
	m.depth.Set(float64(depth))
}

func (m *Metrics) droppedEvent(kind Kind) {
	if m == nil {
		return
	}
	m.droppedTotal.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) setDepth(depth int) {
	if m == nil {
		return
	}
	m.depth.Set(float64(depth))
}

func (m *Metrics) setCapacity(capacity int) {
	if m == nil {
		return
	}
	m.capacity.Set(float64(capacity))
}
