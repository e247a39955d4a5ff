package reporter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/homeapp-node/internal/event"
	"github.com/nerrad567/homeapp-node/internal/infrastructure/influxdb"
	"github.com/nerrad567/homeapp-node/internal/ota"
	"github.com/nerrad567/homeapp-node/internal/stats"
	"github.com/nerrad567/homeapp-node/internal/temperature"
)

type nopPublisher struct{}

func (nopPublisher) Publish(string, []byte, byte, bool) error { return nil }

type fakeOTA struct {
	mu     sync.Mutex
	counts []int64
	err    error
}

func (f *fakeOTA) PublishStatus(_ ota.Publisher, ev event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.counts = append(f.counts, ev.Count)
	return nil
}

type fakeTemps struct {
	mu     sync.Mutex
	sent   []event.Event
	err    error
	sensor temperature.Sensor
}

func (f *fakeTemps) Send(_ temperature.Publisher, ev event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, ev)
	return nil
}

func (f *fakeTemps) Sensor(index int) (temperature.Sensor, bool) {
	if index != 0 {
		return temperature.Sensor{}, false
	}
	return f.sensor, true
}

func (f *fakeTemps) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeStats struct {
	mu        sync.Mutex
	published int
	err       error
}

func (f *fakeStats) Publish(stats.Publisher) (stats.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return stats.Snapshot{}, f.err
	}
	f.published++
	return stats.Snapshot{SendCount: 4, MaxQueued: 2, RSSI: -60}, nil
}

func (f *fakeStats) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published
}

type mirrorCall struct {
	kind    string
	key     string
	name    string
	celsius float64
	stale   bool
	bytes   int64
	stats   influxdb.StatisticsFields
}

type fakeMirror struct {
	calls []mirrorCall
}

func (m *fakeMirror) WriteTemperature(key, name string, celsius float64, stale bool, _ time.Time) {
	m.calls = append(m.calls, mirrorCall{kind: "temperature", key: key, name: name, celsius: celsius, stale: stale})
}

func (m *fakeMirror) WriteStatistics(s influxdb.StatisticsFields, _ time.Time) {
	m.calls = append(m.calls, mirrorCall{kind: "statistics", stats: s})
}

func (m *fakeMirror) WriteOTAProgress(bytes int64, _ time.Time) {
	m.calls = append(m.calls, mirrorCall{kind: "ota", bytes: bytes})
}

type countingActivity struct {
	begun, ended int
}

func (a *countingActivity) Begin() func() {
	a.begun++
	return func() { a.ended++ }
}

func newTestReporter() (*Reporter, *fakeOTA, *fakeTemps, *fakeStats, *fakeMirror, *countingActivity) {
	o := &fakeOTA{}
	temps := &fakeTemps{sensor: temperature.Sensor{Key: "1e0f3c9a1b", Name: "Kitchen"}}
	st := &fakeStats{}
	mirror := &fakeMirror{}
	activity := &countingActivity{}
	r := New(Options{
		Source:       event.NewQueue(8, nil),
		Publisher:    nopPublisher{},
		OTA:          o,
		Temperatures: temps,
		Statistics:   st,
		Mirror:       mirror,
		Activity:     activity,
	})
	return r, o, temps, st, mirror, activity
}

func TestReporter_Dispatch(t *testing.T) {
	r, o, temps, _, mirror, activity := newTestReporter()

	r.Dispatch(event.OTAProgress(10240))
	r.Dispatch(event.Temperature(0, 21.5))
	r.Dispatch(event.OTAEnded())

	if len(o.counts) != 2 || o.counts[0] != 10240 || o.counts[1] != 0 {
		t.Errorf("ota published %v, want [10240 0]", o.counts)
	}
	if len(temps.sent) != 1 || temps.sent[0].Celsius != 21.5 {
		t.Errorf("temperatures sent %v", temps.sent)
	}

	want := []mirrorCall{
		{kind: "ota", bytes: 10240},
		{kind: "temperature", key: "1e0f3c9a1b", name: "Kitchen", celsius: 21.5},
		{kind: "ota", bytes: 0},
	}
	if len(mirror.calls) != len(want) {
		t.Fatalf("mirror calls = %+v, want %+v", mirror.calls, want)
	}
	for i := range want {
		if mirror.calls[i] != want[i] {
			t.Errorf("mirror call %d = %+v, want %+v", i, mirror.calls[i], want[i])
		}
	}
	if activity.begun != 3 || activity.ended != 3 {
		t.Errorf("activity begun %d, ended %d, want 3 each", activity.begun, activity.ended)
	}
}

func TestReporter_PublishFailureSkipsMirror(t *testing.T) {
	r, o, temps, st, mirror, _ := newTestReporter()
	o.err = errors.New("not connected")
	temps.err = errors.New("not connected")
	st.err = errors.New("not connected")

	r.Dispatch(event.OTAProgress(1))
	r.Dispatch(event.Temperature(0, 20))
	r.PublishStatistics()

	if len(mirror.calls) != 0 {
		t.Errorf("mirror calls = %+v, want none", mirror.calls)
	}
}

func TestReporter_MissingHandlers(t *testing.T) {
	r := New(Options{Source: event.NewQueue(1, nil), Publisher: nopPublisher{}})

	// Events without a handler are dropped without panicking.
	r.Dispatch(event.OTAEnded())
	r.Dispatch(event.Temperature(0, 20))
	r.Dispatch(event.Event{Kind: 99})
	r.PublishStatistics()
}

func TestReporter_PublishStatistics(t *testing.T) {
	r, _, _, st, mirror, _ := newTestReporter()
	r.PublishStatistics()

	if st.count() != 1 {
		t.Fatalf("statistics published %d times, want 1", st.count())
	}
	if len(mirror.calls) != 1 {
		t.Fatalf("mirror calls = %+v", mirror.calls)
	}
	got := mirror.calls[0].stats
	if got.SendCount != 4 || got.MaxQueued != 2 || got.RSSI != -60 {
		t.Errorf("mirrored statistics = %+v", got)
	}
}

func TestReporter_Run(t *testing.T) {
	queue := event.NewQueue(8, nil)
	temps := &fakeTemps{}
	st := &fakeStats{}
	r := New(Options{
		Source:             queue,
		Publisher:          nopPublisher{},
		Temperatures:       temps,
		Statistics:         st,
		StatisticsInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	queue.Send(event.Temperature(0, 19.5))
	queue.Send(event.Temperature(1, 20.5))

	deadline := time.After(5 * time.Second)
	for temps.count() < 2 || st.count() < 1 {
		select {
		case <-deadline:
			t.Fatalf("sent %d temperatures and %d statistics", temps.count(), st.count())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
