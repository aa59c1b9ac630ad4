package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-shims/internal/device"
	"github.com/nerrad567/gray-logic-shims/internal/trigger"
)

// triggerRequest is the body of POST /triggers. Enabled defaults to true.
type triggerRequest struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Kind        trigger.Kind `json:"kind"`
	DeviceID    string       `json:"device_id"`
	DeviceState string       `json:"device_state"`
	Enabled     *bool        `json:"enabled"`
}

func (s *Server) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	list := s.triggers.List()
	if id := r.URL.Query().Get("device_id"); id != "" {
		list = s.triggers.ForDevice(id)
	}
	writeJSON(w, http.StatusOK, map[string]any{"triggers": list, "count": len(list)})
}

func (s *Server) handleGetTrigger(w http.ResponseWriter, r *http.Request) {
	t, err := s.triggers.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err, http.StatusNotFound, "trigger not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleCreateTrigger starts processing a new trigger. The device must
// exist. Triggers added here live until restart.
func (s *Server) handleCreateTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	t := trigger.Trigger{
		ID:          req.ID,
		Name:        req.Name,
		Kind:        req.Kind,
		DeviceID:    req.DeviceID,
		DeviceState: req.DeviceState,
		Enabled:     req.Enabled == nil || *req.Enabled,
	}
	if t.ID == "" {
		t.ID = trigger.GenerateID()
	}

	if t.DeviceID != "" {
		if _, err := s.registry.GetDevice(r.Context(), t.DeviceID); err != nil {
			if errors.Is(err, device.ErrDeviceNotFound) {
				writeValidation(w, "device not found")
				return
			}
			writeInternalError(w, "failed to get device")
			return
		}
	}

	if err := s.triggers.StartProcessing(t); err != nil {
		writeFailure(w, err, http.StatusInternalServerError, "failed to start trigger")
		return
	}

	s.logger.Info("trigger created", "id", t.ID, "kind", t.Kind, "device_id", t.DeviceID)
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleDeleteTrigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.triggers.StopProcessing(id); err != nil {
		writeFailure(w, err, http.StatusInternalServerError, "failed to stop trigger")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
