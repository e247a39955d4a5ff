package ota

import (
	"encoding/json"
	"fmt"

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

// Status is a snapshot of the sequencer for operator surfaces.
type Status struct {
	Active         bool   `json:"active"`
	State          string `json:"state"`
	RunningVersion string `json:"running_version"`
	SessionID      string `json:"session_id,omitempty"`
	Image          string `json:"image,omitempty"`
	BytesRead      int64  `json:"bytes_read"`
	LastError      string `json:"last_error,omitempty"`
}

// Status returns the current session state.
func (s *Sequencer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Active:         s.Active(),
		State:          s.State().String(),
		RunningVersion: s.running,
		SessionID:      s.sessionID,
		Image:          s.image,
		BytesRead:      s.bytesRead,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// statusRecord is the OTA status wire record. Field order is wire order.
type statusRecord struct {
	Dev   string `json:"dev"`
	ID    string `json:"id"`
	Value int64  `json:"value"`
	TS    int64  `json:"ts"`
}

// PublishStatus publishes an OTA event to the status topic at QoS 0,
// not retained, and counts the publish.
func (s *Sequencer) PublishStatus(pub Publisher, ev event.Event) error {
	payload, err := json.Marshal(statusRecord{
		Dev:   s.opts.Device,
		ID:    "otastatus",
		Value: ev.Count,
		TS:    s.opts.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("encoding ota status: %w", err)
	}
	if err := pub.Publish(s.opts.Topic, payload, 0, false); err != nil {
		return fmt.Errorf("publishing ota status: %w", err)
	}
	if s.opts.Counter != nil {
		s.opts.Counter.IncSent()
	}
	return nil
}
