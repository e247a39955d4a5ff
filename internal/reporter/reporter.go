// Package reporter is the single consumer of the event queue. It turns
// queued events into published records, flushes statistics on a ticker
// and mirrors everything it publishes to the time-series store.
package reporter

import (
	"context"
	"time"

	"github.com/nerrad567/homeapp-node/internal/event"
	"github.com/nerrad567/homeapp-node/internal/infrastructure/influxdb"
	"github.com/nerrad567/homeapp-node/internal/ota"
	"github.com/nerrad567/homeapp-node/internal/stats"
	"github.com/nerrad567/homeapp-node/internal/temperature"
)

const defaultStatisticsInterval = 15 * time.Minute

// Publisher delivers a payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Source is the consumer side of the event queue.
type Source interface {
	Events() <-chan event.Event
}

// OTAStatus publishes OTA events.
type OTAStatus interface {
	PublishStatus(pub ota.Publisher, ev event.Event) error
}

// Temperatures publishes temperature events.
type Temperatures interface {
	Send(pub temperature.Publisher, ev event.Event) error
	Sensor(index int) (temperature.Sensor, bool)
}

// Statistics publishes the statistics record.
type Statistics interface {
	Publish(pub stats.Publisher) (stats.Snapshot, error)
}

// Mirror receives a copy of every published value.
type Mirror interface {
	WriteTemperature(key, name string, celsius float64, stale bool, at time.Time)
	WriteStatistics(s influxdb.StatisticsFields, at time.Time)
	WriteOTAProgress(bytes int64, at time.Time)
}

// Activity signals publish activity, e.g. on an LED.
type Activity interface {
	Begin() (end func())
}

// Logger defines the logging interface used by the reporter.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Reporter. Source and Publisher are required; the
// handlers are optional and events without a handler are dropped.
type Options struct {
	Source    Source
	Publisher Publisher

	OTA          OTAStatus
	Temperatures Temperatures
	Statistics   Statistics

	// StatisticsInterval is the statistics flush period. Defaults to 15m.
	StatisticsInterval time.Duration

	Mirror   Mirror
	Activity Activity
	Logger   Logger

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Reporter drains the event queue.
type Reporter struct {
	opts   Options
	logger Logger
}

// New creates a Reporter.
func New(opts Options) *Reporter {
	if opts.StatisticsInterval <= 0 {
		opts.StatisticsInterval = defaultStatisticsInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Reporter{opts: opts, logger: logger}
}

// SetLogger sets the logger for the reporter.
func (r *Reporter) SetLogger(logger Logger) {
	r.logger = logger
}

// Run consumes events until ctx is cancelled or the source closes.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.StatisticsInterval)
	defer ticker.Stop()

	events := r.opts.Source.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Dispatch(ev)
		case <-ticker.C:
			r.PublishStatistics()
		}
	}
}

// Dispatch publishes one event through its handler.
func (r *Reporter) Dispatch(ev event.Event) {
	end := r.begin()
	defer end()

	switch ev.Kind {
	case event.KindOTA:
		r.dispatchOTA(ev)
	case event.KindTemperature:
		r.dispatchTemperature(ev)
	default:
		r.logger.Warn("unknown event kind", "event", ev.String())
	}
}

func (r *Reporter) dispatchOTA(ev event.Event) {
	if r.opts.OTA == nil {
		return
	}
	if err := r.opts.OTA.PublishStatus(r.opts.Publisher, ev); err != nil {
		r.logger.Warn("ota status not published", "bytes", ev.Count, "error", err)
		return
	}
	if r.opts.Mirror != nil {
		r.opts.Mirror.WriteOTAProgress(ev.Count, r.opts.Now())
	}
}

func (r *Reporter) dispatchTemperature(ev event.Event) {
	if r.opts.Temperatures == nil {
		return
	}
	if err := r.opts.Temperatures.Send(r.opts.Publisher, ev); err != nil {
		r.logger.Warn("temperature not published", "index", ev.Index, "error", err)
		return
	}
	if r.opts.Mirror == nil {
		return
	}
	if sn, ok := r.opts.Temperatures.Sensor(ev.Index); ok {
		r.opts.Mirror.WriteTemperature(sn.Key, sn.Name, ev.Celsius, sn.Err, r.opts.Now())
	}
}

// PublishStatistics publishes the statistics record now.
func (r *Reporter) PublishStatistics() {
	if r.opts.Statistics == nil {
		return
	}
	end := r.begin()
	defer end()

	snap, err := r.opts.Statistics.Publish(r.opts.Publisher)
	if err != nil {
		r.logger.Warn("statistics not published", "error", err)
		return
	}
	r.logger.Debug("statistics published", "sendcnt", snap.SendCount, "max_queued", snap.MaxQueued)
	if r.opts.Mirror != nil {
		r.opts.Mirror.WriteStatistics(influxdb.StatisticsFields{
			ConnectCount:    snap.ConnectCount,
			DisconnectCount: snap.DisconnectCnt,
			SendCount:       snap.SendCount,
			SensorErrors:    snap.SensorErrors,
			MaxQueued:       snap.MaxQueued,
			RSSI:            int64(snap.RSSI),
		}, r.opts.Now())
	}
}

func (r *Reporter) begin() func() {
	if r.opts.Activity == nil {
		return func() {}
	}
	return r.opts.Activity.Begin()
}
