package temperature

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/homeapp-node/internal/event"
	"github.com/nerrad567/homeapp-node/internal/nvs"
)

// Reading filter parameters.
const (
	MinValid  = -30.0
	MaxValid  = 95.0
	MaxJump   = 20.0
	MinChange = 0.10

	// Heartbeat is the longest a sensor goes without an emitted value.
	Heartbeat = 900 * time.Second
)

const (
	searchAttemptsPerSensor = 3
	firstReadingRounds      = 5

	defaultPollInterval   = 10 * time.Second
	defaultSearchInterval = 100 * time.Millisecond
	defaultSettleInterval = time.Second
	clockCheckInterval    = time.Second
)

// Logger defines the logging interface used by the sequencer.
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

// ErrorCounter counts rejected readings.
type ErrorCounter interface {
	IncSensorErrors()
}

// discardSink drops every event.
type discardSink struct{}

func (discardSink) Send(event.Event) bool { return false }

// Options configures a Sequencer.
type Options struct {
	Bus Bus

	// Names persists friendly names. Optional.
	Names NameStore

	// Events receives temperature events.
	Events event.Sink

	// Errors counts rejected readings. Optional.
	Errors ErrorCounter

	// Counter is incremented after every successful publish. Optional.
	Counter SentCounter

	// Device is the six-hex-digit short id written to the "dev" field.
	Device string

	// Topic returns the publish topic for a sensor key.
	Topic func(key string) string

	// PollInterval is the time between poll rounds. Defaults to 10s.
	PollInterval time.Duration

	// MinEpoch is the unix time below which the wall clock is not trusted.
	MinEpoch int64

	Logger Logger

	// Now replaces time.Now in tests.
	Now func() time.Time

	// Sleep replaces the context-aware pauses of Init and the clock wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Sequencer discovers sensors, polls them and emits filtered readings.
//
// A reading is rejected when it is outside [MinValid, MaxValid] or, once the
// sensor has a previous value, more than MaxJump away from it. Accepted
// readings are emitted when they differ from the last emitted value by at
// least MinChange. Every sensor emits at least once per Heartbeat; the
// heartbeat value carries the error flag when no reading was accepted
// during the whole period.
type Sequencer struct {
	opts   Options
	logger Logger

	mu      sync.RWMutex
	sensors []*sensor

	started atomic.Bool
	wg      sync.WaitGroup
}

// New creates a Sequencer. Bus is required.
func New(opts Options) *Sequencer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.Events == nil {
		opts.Events = discardSink{}
	}
	if opts.Topic == nil {
		opts.Topic = func(key string) string { return key }
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Sequencer{
		opts:   opts,
		logger: logger,
	}
}

// SetLogger sets the logger for the sequencer.
func (s *Sequencer) SetLogger(logger Logger) {
	s.logger = logger
}

// Init discovers up to maxSensors sensors, restores their friendly names
// and takes a first reading of each. It returns the number of sensors
// found; zero is not an error.
func (s *Sequencer) Init(ctx context.Context, maxSensors int) (int, error) {
	if maxSensors < 1 {
		return 0, nil
	}

	addrs, err := s.discover(ctx, maxSensors)
	if err != nil {
		return 0, err
	}

	sensors := make([]*sensor, 0, len(addrs))
	for _, addr := range addrs {
		sn := &sensor{addr: addr, key: addr.Key()}
		sn.name = s.restoreName(ctx, sn.key)
		s.logger.Info("sensor registered", "index", len(sensors), "key", sn.key, "name", sn.name)
		sensors = append(sensors, sn)
	}

	s.mu.Lock()
	s.sensors = sensors
	s.mu.Unlock()

	s.logger.Info("temperature sensors found", "count", len(sensors))
	if len(sensors) == 0 {
		return 0, nil
	}

	if err := s.firstReadings(ctx); err != nil {
		return len(sensors), err
	}
	return len(sensors), nil
}

// discover searches the bus until maxSensors distinct addresses were
// found or 3*maxSensors attempts were made.
func (s *Sequencer) discover(ctx context.Context, maxSensors int) ([]Address, error) {
	var found []Address
	seen := make(map[Address]bool)

	for attempt := 0; attempt < maxSensors*searchAttemptsPerSensor; attempt++ {
		addrs, err := s.opts.Bus.Search(ctx)
		if err != nil {
			s.logger.Debug("sensor search failed", "attempt", attempt, "error", err)
		}
		for _, addr := range addrs {
			if seen[addr] {
				continue
			}
			if len(found) == maxSensors {
				break
			}
			seen[addr] = true
			found = append(found, addr)
		}
		if len(found) == maxSensors {
			break
		}
		if err := s.opts.Sleep(ctx, defaultSearchInterval); err != nil {
			return nil, err
		}
	}
	return found, nil
}

func (s *Sequencer) restoreName(ctx context.Context, key string) string {
	if s.opts.Names == nil {
		return key
	}
	name, err := s.opts.Names.GetString(ctx, key)
	switch {
	case errors.Is(err, nvs.ErrNotFound):
		return key
	case err != nil:
		s.logger.Warn("restoring sensor name failed", "key", key, "error", err)
		return key
	case name == "" || len(name) > MaxNameLen:
		return key
	default:
		return name
	}
}

// firstReadings accepts the first in-range reading of every sensor, trying
// up to firstReadingRounds conversions. Sensors that never settle keep a
// previous value of zero.
func (s *Sequencer) firstReadings(ctx context.Context) error {
	for round := 0; round < firstReadingRounds; round++ {
		if err := s.opts.Bus.Convert(ctx); err != nil {
			s.logger.Warn("temperature conversion failed", "round", round, "error", err)
		}

		settled := 0
		s.mu.Lock()
		for _, sn := range s.sensors {
			if sn.prev != 0 {
				settled++
				continue
			}
			v, err := s.opts.Bus.Read(ctx, sn.addr)
			if err != nil || v < MinValid || v > MaxValid {
				s.logger.Info("initial reading rejected, reading again", "key", sn.key, "value", v, "error", err)
				continue
			}
			sn.lastValidAt = s.opts.Now()
			sn.lastValid = v
			sn.prev = v
			sn.err = false
			settled++
		}
		total := len(s.sensors)
		s.mu.Unlock()

		if settled == total {
			return nil
		}
		if err := s.opts.Sleep(ctx, defaultSettleInterval); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the poll loop. It does nothing when no sensor was found.
// The loop ends when ctx is cancelled.
func (s *Sequencer) Start(ctx context.Context) error {
	if s.Count() == 0 {
		s.logger.Info("no temperature sensors, poll loop not started")
		return nil
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Wait blocks until the poll loop has returned.
func (s *Sequencer) Wait() { s.wg.Wait() }

func (s *Sequencer) loop(ctx context.Context) {
	defer s.wg.Done()

	if err := s.waitForClock(ctx); err != nil {
		return
	}
	s.logger.Info("temperature poll loop started", "interval", s.opts.PollInterval)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		s.poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// waitForClock blocks until the wall clock passes MinEpoch.
func (s *Sequencer) waitForClock(ctx context.Context) error {
	for s.opts.Now().Unix() < s.opts.MinEpoch {
		if err := s.opts.Sleep(ctx, clockCheckInterval); err != nil {
			return err
		}
	}
	return nil
}

// ClockSynced reports whether the wall clock has passed MinEpoch.
func (s *Sequencer) ClockSynced() bool {
	return s.opts.Now().Unix() >= s.opts.MinEpoch
}

// poll runs one conversion round and emits the resulting events.
func (s *Sequencer) poll(ctx context.Context) {
	if err := s.opts.Bus.Convert(ctx); err != nil {
		s.logger.Warn("temperature conversion failed", "error", err)
	}

	n := s.Count()
	for i := 0; i < n; i++ {
		s.mu.RLock()
		addr := s.sensors[i].addr
		s.mu.RUnlock()

		v, err := s.opts.Bus.Read(ctx, addr)
		for _, ev := range s.evaluate(i, v, err, s.opts.Now()) {
			s.emit(ev)
		}
	}
}

// evaluate applies the reading filter to sensor i and returns the events
// to emit.
func (s *Sequencer) evaluate(i int, value float64, readErr error, now time.Time) []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []event.Event
	sn := s.sensors[i]
	diff := math.Abs(sn.prev - value)

	if readErr != nil || value < MinValid || value > MaxValid || (sn.prev != 0 && diff > MaxJump) {
		s.logger.Info("bad temperature reading", "index", i, "key", sn.key, "value", value, "error", readErr)
		if s.opts.Errors != nil {
			s.opts.Errors.IncSensorErrors()
		}
	} else {
		sn.lastValid = value
		sn.lastValidAt = now
		if diff >= MinChange {
			out = append(out, event.Temperature(i, value))
			sn.prev = value
			sn.prevSentAt = now
			sn.err = false
		}
	}

	if now.Sub(sn.prevSentAt) > Heartbeat {
		out = append(out, event.Temperature(i, sn.lastValid))
		sn.prev = sn.lastValid
		sn.prevSentAt = now
		sn.err = now.Sub(sn.lastValidAt) >= Heartbeat
	}
	return out
}

func (s *Sequencer) emit(ev event.Event) {
	if !s.opts.Events.Send(ev) {
		s.logger.Debug("event queue full, temperature dropped", "index", ev.Index)
	}
}

// Count returns the number of registered sensors.
func (s *Sequencer) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sensors)
}

// Sensor returns a copy of the record at index.
func (s *Sequencer) Sensor(index int) (Sensor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.sensors) {
		return Sensor{}, false
	}
	return s.sensors[index].snapshot(index), true
}

// Sensors returns copies of all records in index order.
func (s *Sequencer) Sensors() []Sensor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sensor, len(s.sensors))
	for i, sn := range s.sensors {
		out[i] = sn.snapshot(i)
	}
	return out
}

// FriendlyName returns the friendly name of the sensor at index.
func (s *Sequencer) FriendlyName(index int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.sensors) {
		return "", false
	}
	return s.sensors[index].name, true
}

// SetFriendlyName renames the sensor with the given key and persists the
// name when a NameStore is configured.
func (s *Sequencer) SetFriendlyName(ctx context.Context, key, name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > MaxNameLen {
		return fmt.Errorf("%w: %d bytes, max %d", ErrNameTooLong, len(name), MaxNameLen)
	}

	s.mu.Lock()
	var found bool
	for _, sn := range s.sensors {
		if sn.key == key {
			sn.name = name
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		return fmt.Errorf("%w: %s", ErrSensorNotFound, key)
	}
	if s.opts.Names != nil {
		if err := s.opts.Names.SetString(ctx, key, name); err != nil {
			return fmt.Errorf("persisting sensor name: %w", err)
		}
	}
	s.logger.Info("sensor renamed", "key", key, "name", name)
	return nil
}

// SendAll emits the last valid value of every sensor.
func (s *Sequencer) SendAll() {
	s.mu.RLock()
	events := make([]event.Event, len(s.sensors))
	for i, sn := range s.sensors {
		events[i] = event.Temperature(i, sn.lastValid)
	}
	s.mu.RUnlock()

	for _, ev := range events {
		s.emit(ev)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
