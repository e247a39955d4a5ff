package event

import "fmt"

// Kind tags the producer of an Event.
type Kind uint8

const (
	// KindOTA events carry an OTA byte count; zero marks the end of a session.
	KindOTA Kind = iota + 1

	// KindTemperature events carry a sensor index and a celsius value.
	KindTemperature
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindOTA:
		return "ota"
	case KindTemperature:
		return "temperature"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Event is one discrete measurement or status change handed from a
// sequencer to the reporter. Only the payload field matching Kind is set.
type Event struct {
	Kind Kind

	// Index is the sensor index for KindTemperature; unused for KindOTA.
	Index int

	// Count is the cumulative byte count for KindOTA.
	Count int64

	// Celsius is the reading for KindTemperature.
	Celsius float64
}

// OTAProgress returns an OTA event carrying a cumulative byte count.
func OTAProgress(count int64) Event {
	return Event{Kind: KindOTA, Count: count}
}

// OTAEnded returns the terminal OTA event (count zero).
func OTAEnded() Event {
	return Event{Kind: KindOTA}
}

// Temperature returns a temperature event for the sensor at index.
func Temperature(index int, celsius float64) Event {
	return Event{Kind: KindTemperature, Index: index, Celsius: celsius}
}

// String implements fmt.Stringer.
func (e Event) String() string {
	switch e.Kind {
	case KindOTA:
		return fmt.Sprintf("ota(%d)", e.Count)
	case KindTemperature:
		return fmt.Sprintf("temperature[%d](%.2f)", e.Index, e.Celsius)
	default:
		return e.Kind.String()
	}
}
