package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/homeapp-node/internal/ota"
	"github.com/nerrad567/homeapp-node/internal/stats"
)

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Device        string         `json:"device"`
	Version       string         `json:"version"`
	Timestamp     string         `json:"timestamp"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	MQTTConnected bool           `json:"mqtt_connected"`
	Sensors       int            `json:"sensors"`
	OTA           ota.Status     `json:"ota"`
	Statistics    stats.Snapshot `json:"statistics"`
	Queue         QueueStatus    `json:"queue"`
	Runtime       RuntimeStatus  `json:"runtime"`
}

// QueueStatus reports the event queue occupancy.
type QueueStatus struct {
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
	MaxDepth int64  `json:"max_depth"`
	Dropped  uint64 `json:"dropped"`
}

// RuntimeStatus contains Go runtime statistics.
type RuntimeStatus struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// handleHealth returns 200 while the message bus is reachable and 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	connected := s.brokerConnected()
	resp := map[string]any{
		"status":         "ok",
		"version":        s.version,
		"mqtt_connected": connected,
	}
	if !connected {
		resp["status"] = "degraded"
		resp["code"] = ErrCodeUnavailable
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStatus returns the node status: running firmware, update progress,
// statistics counters and queue occupancy.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := StatusResponse{
		Device:        s.device,
		Version:       s.version,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		MQTTConnected: s.brokerConnected(),
		OTA:           s.ota.Status(),
		Statistics:    s.statistics.Snapshot(),
		Queue: QueueStatus{
			Depth:    s.queue.Len(),
			Capacity: s.queue.Cap(),
			MaxDepth: s.queue.MaxDepth(),
			Dropped:  s.queue.Dropped(),
		},
		Runtime: RuntimeStatus{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
			NumGC:         mem.NumGC,
		},
	}
	if s.sensors != nil {
		resp.Sensors = len(s.sensors.Sensors())
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) brokerConnected() bool {
	return s.broker != nil && s.broker.IsConnected()
}
