package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the node.
const (
	MeasurementTemperature = "temperature"
	MeasurementStatistics  = "statistics"
	MeasurementOTA         = "ota"
)

// StatisticsFields is the set of counters mirrored on every statistics flush.
type StatisticsFields struct {
	ConnectCount    int64
	DisconnectCount int64
	SendCount       int64
	SensorErrors    int64
	MaxQueued       int64
	RSSI            int64
}

// WriteTemperature records one published sensor value.
//
// Parameters:
//   - key: Sensor key (hex of the low ROM bytes)
//   - name: Current friendly name
//   - celsius: Value as published
//   - stale: Error flag of the record (no fresh reading within the heartbeat interval)
//   - at: Reading time
func (c *Client) WriteTemperature(key, name string, celsius float64, stale bool, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(temperaturePoint(c.device, key, name, celsius, stale, at))
}

// WriteStatistics records a statistics snapshot.
func (c *Client) WriteStatistics(s StatisticsFields, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(statisticsPoint(c.device, s, at))
}

// WriteOTAProgress records an OTA status value (bytes received, 0 = session ended).
func (c *Client) WriteOTAProgress(bytes int64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(otaPoint(c.device, bytes, at))
}

func temperaturePoint(device, key, name string, celsius float64, stale bool, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementTemperature,
		map[string]string{
			"dev":    device,
			"sensor": key,
			"name":   name,
		},
		map[string]interface{}{
			"value": celsius,
			"err":   stale,
		},
		at,
	)
}

func statisticsPoint(device string, s StatisticsFields, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementStatistics,
		map[string]string{"dev": device},
		map[string]interface{}{
			"connectcnt":    s.ConnectCount,
			"disconnectcnt": s.DisconnectCount,
			"sendcnt":       s.SendCount,
			"sensorerrors":  s.SensorErrors,
			"max_queued":    s.MaxQueued,
			"rssi":          s.RSSI,
		},
		at,
	)
}

func otaPoint(device string, bytes int64, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementOTA,
		map[string]string{"dev": device},
		map[string]interface{}{"bytes": bytes},
		at,
	)
}
