package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nerrad567/homeapp-node/internal/ota"
)

// OTARequest is the body of POST /api/v1/ota.
type OTARequest struct {
	File string `json:"file"`
}

// handleOTAStatus returns the update sequencer state.
func (s *Server) handleOTAStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ota.Status())
}

// handleStartOTA starts a firmware update from the configured base URL.
// The update runs in the background; progress is reported on the bus.
func (s *Server) handleStartOTA(w http.ResponseWriter, r *http.Request) {
	var req OTARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err := s.ota.Start(r.Context(), strings.TrimSpace(req.File))
	switch {
	case err == nil:
	case errors.Is(err, ota.ErrAlreadyActive):
		writeConflict(w, "an update is already running")
		return
	case errors.Is(err, ota.ErrEmptyImageName), errors.Is(err, ota.ErrURLTooLong):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	default:
		s.logger.Error("failed to start update", "file", req.File, "error", err)
		writeInternalError(w, "failed to start update")
		return
	}

	writeJSON(w, http.StatusAccepted, s.ota.Status())
}

// handleCancelRollback confirms the running image.
func (s *Server) handleCancelRollback(w http.ResponseWriter, _ *http.Request) {
	if err := s.ota.CancelRollback(); err != nil {
		s.logger.Error("failed to confirm running image", "error", err)
		writeInternalError(w, "failed to confirm running image")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}
