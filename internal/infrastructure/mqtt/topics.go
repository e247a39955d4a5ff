package mqtt

import (
	"fmt"
	"strings"
)

// Topic suffixes below the per-device base topic.
const (
	SuffixOTAUpdate   = "otaupdate"
	SuffixStatistics  = "statistics"
	SuffixStatus      = "status"
	SuffixTemperature = "parameters/temperature"

	// commandSuffix marks a topic the node subscribes to instead of publishing.
	commandSuffix = "set"
)

// Topics builds the MQTT topics of one node.
//
// Every topic lives below <prefix>/<device>/<short-id>, where short-id is the
// fixed six-hex-digit fragment of the hardware identifier:
//
//	topics := mqtt.Topics{Prefix: "home", Device: "boiler", ShortID: "aabbcc"}
//	topics.Temperature("0e41ac2874")
//	// Returns: "home/boiler/aabbcc/parameters/temperature/0e41ac2874"
type Topics struct {
	Prefix  string
	Device  string
	ShortID string
}

// Base returns the per-device topic root.
//
// Example: home/boiler/aabbcc
func (t Topics) Base() string {
	return fmt.Sprintf("%s/%s/%s", t.Prefix, t.Device, t.ShortID)
}

// OTAUpdate returns the topic OTA status records are published on.
//
// Example: home/boiler/aabbcc/otaupdate
func (t Topics) OTAUpdate() string {
	return t.Base() + "/" + SuffixOTAUpdate
}

// OTACommand returns the topic an OTA request (image file name) arrives on.
//
// Example: home/boiler/aabbcc/otaupdate/set
func (t Topics) OTACommand() string {
	return t.OTAUpdate() + "/" + commandSuffix
}

// Statistics returns the statistics topic.
//
// Example: home/boiler/aabbcc/statistics
func (t Topics) Statistics() string {
	return t.Base() + "/" + SuffixStatistics
}

// Status returns the retained online/offline topic, also used as the LWT.
//
// Example: home/boiler/aabbcc/status
func (t Topics) Status() string {
	return t.Base() + "/" + SuffixStatus
}

// Temperature returns the topic for one sensor's readings.
//
// Example: home/boiler/aabbcc/parameters/temperature/0e41ac2874
func (t Topics) Temperature(key string) string {
	return t.Base() + "/" + SuffixTemperature + "/" + key
}

// TemperatureNameCommand returns the friendly-name command topic of one sensor.
//
// Example: home/boiler/aabbcc/parameters/temperature/0e41ac2874/name/set
func (t Topics) TemperatureNameCommand(key string) string {
	return t.Temperature(key) + "/name/" + commandSuffix
}

// AllTemperatureNameCommands returns the wildcard matching every sensor's
// friendly-name command topic.
//
// Example: home/boiler/aabbcc/parameters/temperature/+/name/set
func (t Topics) AllTemperatureNameCommands() string {
	return t.TemperatureNameCommand("+")
}

// SensorKeyFromNameCommand extracts the sensor key from a concrete
// friendly-name command topic. It reports false for any other topic.
func (t Topics) SensorKeyFromNameCommand(topic string) (string, bool) {
	prefix := t.Base() + "/" + SuffixTemperature + "/"
	suffix := "/name/" + commandSuffix
	if !strings.HasPrefix(topic, prefix) || !strings.HasSuffix(topic, suffix) {
		return "", false
	}
	key := strings.TrimSuffix(strings.TrimPrefix(topic, prefix), suffix)
	if key == "" || strings.Contains(key, "/") {
		return "", false
	}
	return key, true
}
