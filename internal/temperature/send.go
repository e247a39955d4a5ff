package temperature

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nerrad567/homeapp-node/internal/event"
)

// Publisher delivers a payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// SentCounter counts published records.
type SentCounter interface {
	IncSent()
}

// record is the temperature wire record. Field order is wire order.
type record struct {
	Dev    string      `json:"dev"`
	Sensor string      `json:"sensor"`
	Name   string      `json:"name"`
	ID     string      `json:"id"`
	Value  json.Number `json:"value"`
	TS     int64       `json:"ts"`
	Err    int         `json:"err"`
}

// Send publishes a temperature event at QoS 0. Records are retained once
// the wall clock is synced; before that they carry ts 0 and are not
// retained.
func (s *Sequencer) Send(pub Publisher, ev event.Event) error {
	s.mu.RLock()
	if ev.Index < 0 || ev.Index >= len(s.sensors) {
		s.mu.RUnlock()
		return fmt.Errorf("%w: index %d", ErrSensorNotFound, ev.Index)
	}
	sn := s.sensors[ev.Index]
	rec := record{
		Dev:    s.opts.Device,
		Sensor: sn.key,
		Name:   sn.name,
		ID:     "temperature",
		Value:  json.Number(strconv.FormatFloat(ev.Celsius, 'f', 2, 64)),
	}
	if sn.err {
		rec.Err = 1
	}
	s.mu.RUnlock()

	retain := true
	if now := s.opts.Now().Unix(); now >= s.opts.MinEpoch {
		rec.TS = now
	} else {
		retain = false
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding temperature: %w", err)
	}
	if err := pub.Publish(s.opts.Topic(rec.Sensor), payload, 0, retain); err != nil {
		return fmt.Errorf("publishing temperature: %w", err)
	}
	if s.opts.Counter != nil {
		s.opts.Counter.IncSent()
	}
	return nil
}
