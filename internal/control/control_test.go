package control

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/homeapp-node/internal/infrastructure/mqtt"
)

var testTopics = mqtt.Topics{Prefix: "home", Device: "boiler", ShortID: "aabbcc"}

type fakeSubscriber struct {
	handlers map[string]mqtt.MessageHandler
	err      error
}

func (s *fakeSubscriber) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	if s.err != nil {
		return s.err
	}
	if s.handlers == nil {
		s.handlers = make(map[string]mqtt.MessageHandler)
	}
	s.handlers[topic] = handler
	return nil
}

type fakeUpdater struct {
	images []string
	err    error
}

func (u *fakeUpdater) Start(_ context.Context, name string) error {
	if u.err != nil {
		return u.err
	}
	u.images = append(u.images, name)
	return nil
}

type fakeSensors struct {
	names    map[string]string
	sendAlls int
	err      error
}

func (s *fakeSensors) SetFriendlyName(_ context.Context, key, name string) error {
	if s.err != nil {
		return s.err
	}
	s.names[key] = name
	return nil
}

func (s *fakeSensors) SendAll() { s.sendAlls++ }

type fakeCounters struct{ connects, disconnects int }

func (c *fakeCounters) IncConnect()    { c.connects++ }
func (c *fakeCounters) IncDisconnect() { c.disconnects++ }

func TestController_Register(t *testing.T) {
	sub := &fakeSubscriber{}
	c := New(context.Background(), testTopics, &fakeUpdater{}, &fakeSensors{}, nil)
	if err := c.Register(sub); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	for _, topic := range []string{
		"home/boiler/aabbcc/otaupdate/set",
		"home/boiler/aabbcc/parameters/temperature/+/name/set",
	} {
		if sub.handlers[topic] == nil {
			t.Errorf("no handler for %s (have %v)", topic, sub.handlers)
		}
	}

	sub = &fakeSubscriber{err: mqtt.ErrNotConnected}
	if err := c.Register(sub); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Register() error = %v, want ErrNotConnected", err)
	}
}

func TestController_RegisterWithoutSensors(t *testing.T) {
	sub := &fakeSubscriber{}
	c := New(context.Background(), testTopics, &fakeUpdater{}, nil, nil)
	if err := c.Register(sub); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if len(sub.handlers) != 1 {
		t.Errorf("subscribed %d topics, want only the ota command", len(sub.handlers))
	}
}

func TestController_OTACommand(t *testing.T) {
	u := &fakeUpdater{}
	c := New(context.Background(), testTopics, u, nil, nil)

	if err := c.HandleOTACommand(testTopics.OTACommand(), []byte(" homeapp-2.0.0.bin\n")); err != nil {
		t.Fatalf("HandleOTACommand() error = %v", err)
	}
	if len(u.images) != 1 || u.images[0] != "homeapp-2.0.0.bin" {
		t.Errorf("started %v", u.images)
	}

	u.err = errors.New("ota: update already running")
	if err := c.HandleOTACommand(testTopics.OTACommand(), []byte("x.bin")); !errors.Is(err, u.err) {
		t.Errorf("HandleOTACommand() error = %v, want %v", err, u.err)
	}
}

func TestController_NameCommand(t *testing.T) {
	sensors := &fakeSensors{names: map[string]string{}}
	c := New(context.Background(), testTopics, &fakeUpdater{}, sensors, nil)

	topic := testTopics.TemperatureNameCommand("1e0f3c9a1b")
	if err := c.HandleNameCommand(topic, []byte("Kitchen")); err != nil {
		t.Fatalf("HandleNameCommand() error = %v", err)
	}
	if sensors.names["1e0f3c9a1b"] != "Kitchen" {
		t.Errorf("names = %v", sensors.names)
	}
	if sensors.sendAlls != 1 {
		t.Errorf("SendAll() calls = %d, want 1", sensors.sendAlls)
	}

	if err := c.HandleNameCommand("home/other/topic", []byte("x")); !errors.Is(err, mqtt.ErrInvalidTopic) {
		t.Errorf("HandleNameCommand(bad topic) error = %v, want ErrInvalidTopic", err)
	}

	sensors.err = errors.New("temperature: sensor not found")
	if err := c.HandleNameCommand(topic, []byte("Attic")); err == nil {
		t.Error("HandleNameCommand() error = nil for a failing rename")
	}
	if sensors.sendAlls != 1 {
		t.Errorf("SendAll() called after a failed rename")
	}
}

func TestController_ConnectionHooks(t *testing.T) {
	sensors := &fakeSensors{}
	counters := &fakeCounters{}
	c := New(context.Background(), testTopics, &fakeUpdater{}, sensors, counters)

	c.OnConnect()
	c.OnDisconnect(errors.New("eof"))
	c.OnConnect()

	if counters.connects != 2 || counters.disconnects != 1 {
		t.Errorf("connects = %d, disconnects = %d", counters.connects, counters.disconnects)
	}
	if sensors.sendAlls != 2 {
		t.Errorf("SendAll() calls = %d, want 2", sensors.sendAlls)
	}
}
