package temperature

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/homeapp-node/internal/event"
)

type publishCall struct {
	topic    string
	payload  string
	qos      byte
	retained bool
}

type mockPublisher struct {
	calls []publishCall
	err   error
}

func (p *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if p.err != nil {
		return p.err
	}
	p.calls = append(p.calls, publishCall{topic, string(payload), qos, retained})
	return nil
}

type sentCount struct{ n int }

func (c *sentCount) IncSent() { c.n++ }

func TestSequencer_Send(t *testing.T) {
	s, _, _ := newTestSequencer(&fakeBus{searches: [][]Address{{addrA}}}, nil)
	counter := &sentCount{}
	s.opts.Counter = counter
	if _, err := s.Init(context.Background(), 1); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := s.SetFriendlyName(context.Background(), addrA.Key(), "Kitchen"); err != nil {
		t.Fatal(err)
	}

	pub := &mockPublisher{}
	if err := s.Send(pub, event.Temperature(0, 21.5)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	want := publishCall{
		topic:    "home/boiler/aabbcc/parameters/temperature/1e0f3c9a1b",
		payload:  `{"dev":"aabbcc","sensor":"1e0f3c9a1b","name":"Kitchen","id":"temperature","value":21.50,"ts":1700000000,"err":0}`,
		retained: true,
	}
	if len(pub.calls) != 1 || pub.calls[0] != want {
		t.Errorf("published %+v\nwant %+v", pub.calls, want)
	}
	if counter.n != 1 {
		t.Errorf("sent count = %d, want 1", counter.n)
	}
}

func TestSequencer_SendBeforeClockSync(t *testing.T) {
	s, clock, _ := newTestSequencer(&fakeBus{searches: [][]Address{{addrA}}}, nil)
	if _, err := s.Init(context.Background(), 1); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	s.opts.MinEpoch = clock.Now().Unix() + 1
	s.sensors[0].err = true

	pub := &mockPublisher{}
	if err := s.Send(pub, event.Temperature(0, -3.0625)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	want := `{"dev":"aabbcc","sensor":"1e0f3c9a1b","name":"1e0f3c9a1b","id":"temperature","value":-3.06,"ts":0,"err":1}`
	if len(pub.calls) != 1 {
		t.Fatalf("published %d records, want 1", len(pub.calls))
	}
	if pub.calls[0].payload != want {
		t.Errorf("payload =\n%s\nwant\n%s", pub.calls[0].payload, want)
	}
	if pub.calls[0].retained {
		t.Error("record retained before the clock was synced")
	}
}

func TestSequencer_SendErrors(t *testing.T) {
	s, _, _ := newTestSequencer(&fakeBus{searches: [][]Address{{addrA}}}, nil)
	counter := &sentCount{}
	s.opts.Counter = counter
	if _, err := s.Init(context.Background(), 1); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if err := s.Send(&mockPublisher{}, event.Temperature(3, 20)); !errors.Is(err, ErrSensorNotFound) {
		t.Errorf("Send(index 3) error = %v, want ErrSensorNotFound", err)
	}
	if err := s.Send(&mockPublisher{err: errors.New("not connected")}, event.Temperature(0, 20)); err == nil {
		t.Error("Send() error = nil for a failing publisher")
	}
	if counter.n != 0 {
		t.Errorf("sent count = %d, want 0", counter.n)
	}
}
