// Package stats aggregates process-wide counters (broker connects and
// disconnects, sent messages, sensor errors, event queue high-water mark)
// and publishes them as a retained statistics record.
package stats

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Publisher delivers a payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// DepthSource reports the event queue high-water mark.
type DepthSource interface {
	MaxDepth() int64
}

// RSSIFunc returns the current link signal strength in dBm, or 0 when unknown.
type RSSIFunc func() int

// Options configures an Aggregator.
type Options struct {
	// Device is the six-hex-digit short id written to the "dev" field.
	Device string

	// Topic is the statistics topic.
	Topic string

	// Depth supplies max_queued. Optional.
	Depth DepthSource

	// RSSI supplies the rssi field. Optional; 0 when nil.
	RSSI RSSIFunc

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Aggregator holds the counters. The zero value is not usable; call New.
//
// All methods are safe for concurrent use.
type Aggregator struct {
	opts    Options
	started int64

	connects     atomic.Int64
	disconnects  atomic.Int64
	sent         atomic.Int64
	sensorErrors atomic.Int64
}

// New creates an Aggregator and stamps the start time.
func New(opts Options) *Aggregator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{
		opts:    opts,
		started: opts.Now().Unix(),
	}
}

// IncConnect counts a (re)connection to the broker.
func (a *Aggregator) IncConnect() { a.connects.Add(1) }

// IncDisconnect counts a lost broker connection.
func (a *Aggregator) IncDisconnect() { a.disconnects.Add(1) }

// IncSent counts one published status record.
func (a *Aggregator) IncSent() { a.sent.Add(1) }

// IncSensorErrors counts one rejected sensor reading.
func (a *Aggregator) IncSensorErrors() { a.sensorErrors.Add(1) }

// Snapshot is a point-in-time copy of the counters. Field order is the
// wire order of the statistics record.
type Snapshot struct {
	Dev           string `json:"dev"`
	ID            string `json:"id"`
	ConnectCount  int64  `json:"connectcnt"`
	DisconnectCnt int64  `json:"disconnectcnt"`
	SendCount     int64  `json:"sendcnt"`
	SensorErrors  int64  `json:"sensorerrors"`
	MaxQueued     int64  `json:"max_queued"`
	TS            int64  `json:"ts"`
	Started       int64  `json:"started"`
	RSSI          int    `json:"rssi"`
}

// Snapshot copies the current counter values.
func (a *Aggregator) Snapshot() Snapshot {
	s := Snapshot{
		Dev:           a.opts.Device,
		ID:            "statistics",
		ConnectCount:  a.connects.Load(),
		DisconnectCnt: a.disconnects.Load(),
		SendCount:     a.sent.Load(),
		SensorErrors:  a.sensorErrors.Load(),
		TS:            a.opts.Now().Unix(),
		Started:       a.started,
	}
	if a.opts.Depth != nil {
		s.MaxQueued = a.opts.Depth.MaxDepth()
	}
	if a.opts.RSSI != nil {
		s.RSSI = a.opts.RSSI()
	}
	return s
}

// Started returns the unix time the aggregator was created.
func (a *Aggregator) Started() int64 { return a.started }

// Publish sends the statistics record retained at QoS 0. The record
// carries the send count from before this publish.
func (a *Aggregator) Publish(pub Publisher) (Snapshot, error) {
	snap := a.Snapshot()
	payload, err := json.Marshal(snap)
	if err != nil {
		return snap, fmt.Errorf("encoding statistics: %w", err)
	}
	if err := pub.Publish(a.opts.Topic, payload, 0, true); err != nil {
		return snap, fmt.Errorf("publishing statistics: %w", err)
	}
	a.IncSent()
	return snap, nil
}

// Collectors returns Prometheus collectors reading the live counters.
func (a *Aggregator) Collectors() []prometheus.Collector {
	counter := func(name, help string, v *atomic.Int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help},
			func() float64 { return float64(v.Load()) })
	}
	cs := []prometheus.Collector{
		counter("homeapp_broker_connects_total", "Broker (re)connections.", &a.connects),
		counter("homeapp_broker_disconnects_total", "Lost broker connections.", &a.disconnects),
		counter("homeapp_messages_sent_total", "Status records published.", &a.sent),
		counter("homeapp_sensor_errors_total", "Rejected sensor readings.", &a.sensorErrors),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "homeapp_started_timestamp_seconds",
			Help: "Unix time the node started.",
		}, func() float64 { return float64(a.started) }),
	}
	if a.opts.Depth != nil {
		cs = append(cs, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "homeapp_event_queue_max_depth",
			Help: "Highest event queue depth observed.",
		}, func() float64 { return float64(a.opts.Depth.MaxDepth()) }))
	}
	return cs
}

// Register registers Collectors with reg.
func (a *Aggregator) Register(reg prometheus.Registerer) error {
	for _, c := range a.Collectors() {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("registering statistics collector: %w", err)
		}
	}
	return nil
}
