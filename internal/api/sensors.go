package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/homeapp-node/internal/temperature"
)

// SensorNameRequest is the body of PUT /api/v1/sensors/{key}/name.
type SensorNameRequest struct {
	Name string `json:"name"`
}

// handleListSensors returns every discovered sensor in index order.
func (s *Server) handleListSensors(w http.ResponseWriter, _ *http.Request) {
	list := []temperature.Sensor{}
	if s.sensors != nil {
		list = s.sensors.Sensors()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sensors": list,
		"count":   len(list),
	})
}

// handleSetSensorName renames a sensor and republishes every reading so
// subscribers pick up the new name.
func (s *Server) handleSetSensorName(w http.ResponseWriter, r *http.Request) {
	if s.sensors == nil {
		writeNotFound(w, "temperature polling is disabled")
		return
	}

	key := chi.URLParam(r, "key")

	var req SensorNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err := s.sensors.SetFriendlyName(r.Context(), key, req.Name)
	switch {
	case err == nil:
	case errors.Is(err, temperature.ErrSensorNotFound):
		writeNotFound(w, "sensor not found")
		return
	case errors.Is(err, temperature.ErrEmptyName), errors.Is(err, temperature.ErrNameTooLong):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	default:
		s.logger.Error("failed to rename sensor", "key", key, "error", err)
		writeInternalError(w, "failed to rename sensor")
		return
	}

	s.sensors.SendAll()
	writeJSON(w, http.StatusOK, map[string]string{
		"key":  key,
		"name": req.Name,
	})
}

// handleSendAll queues the last valid reading of every sensor.
func (s *Server) handleSendAll(w http.ResponseWriter, _ *http.Request) {
	if s.sensors == nil {
		writeNotFound(w, "temperature polling is disabled")
		return
	}
	s.sensors.SendAll()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
