package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-shims/internal/device"
	"github.com/nerrad567/gray-logic-shims/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-shims/internal/shim"
)

// handleListDevices returns all devices, optionally filtered by the
// message_type query parameter.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		devices []device.Device
		err     error
	)
	if mt := r.URL.Query().Get("message_type"); mt != "" {
		devices, err = s.registry.ListByMessageType(ctx, mt)
	} else {
		devices, err = s.registry.ListDevices(ctx)
	}
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleCreateDevice creates a new device.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var dev device.Device
	if err := json.NewDecoder(r.Body).Decode(&dev); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.registry.CreateDevice(r.Context(), &dev); err != nil {
		writeFailure(w, err, http.StatusInternalServerError, "failed to create device")
		return
	}

	writeJSON(w, http.StatusCreated, dev)
}

// handleUpdateDevice partially updates a device's configuration.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	existing, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	id := existing.ID

	// Decode partial update onto existing device
	if err := json.NewDecoder(r.Body).Decode(existing); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	existing.ID = id // Ensure ID cannot be changed

	if err := s.registry.UpdateDevice(r.Context(), existing); err != nil {
		writeFailure(w, err, http.StatusInternalServerError, "failed to update device")
		return
	}

	updated, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		writeInternalError(w, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteDevice removes a device and the triggers bound to it.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.registry.DeleteDevice(r.Context(), id); err != nil {
		writeFailure(w, err, http.StatusInternalServerError, "failed to delete device")
		return
	}
	if n := s.triggers.StopDevice(id); n > 0 {
		s.logger.Info("triggers removed with device", "device_id", id, "count", n)
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleDeviceStats returns device registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GetStats())
}

// handleGetDeviceState returns the current state of a device.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":        dev.ID,
		"state":            dev.State,
		"ui_state":         dev.UIState,
		"state_image":      dev.StateImage,
		"state_updated_at": dev.StateUpdatedAt,
	})
}

// handleDeviceAction renders and publishes an outbound command.
// The response is 202 Accepted; the resulting state arrives over MQTT.
func (s *Server) handleDeviceAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var action shim.Action
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if action.Kind == "" {
		writeBadRequest(w, "action field is required")
		return
	}
	if s.commander == nil {
		writeUnavailable(w, "commands are not available")
		return
	}

	cmd, err := s.commander.Execute(r.Context(), id, action)
	if err != nil {
		s.logger.Warn("device command failed", "device_id", id, "action", action.Kind, "error", err)
		writeFailure(w, err, http.StatusServiceUnavailable, "failed to publish command")
		return
	}

	s.logger.Info("device command sent",
		"device_id", id,
		"action", action.Kind,
		"topic", cmd.Topic,
		"subject", subjectFrom(r.Context()),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "accepted",
		"command": cmd,
	})
}

// injectRequest is the body of POST /devices/{id}/messages. Payload may be
// a JSON string, used verbatim, or any other JSON value, used as its text.
type injectRequest struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// injectResponse mirrors shim.Result with the error as text.
type injectResponse struct {
	shim.Result
	Error string `json:"error,omitempty"`
}

// handleInjectMessage runs a message through the device's mapping as if it
// had arrived from the broker. State is written and triggers fire.
func (s *Server) handleInjectMessage(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	var req injectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		writeBadRequest(w, "topic field is required")
		return
	}
	if s.injector == nil {
		writeUnavailable(w, "message injection is not available")
		return
	}

	msg := shim.Message{
		MessageType: dev.MessageType,
		TopicParts:  mqtt.Split(req.Topic),
		Payload:     payloadText(req.Payload),
	}
	res := s.injector.Inject(r.Context(), dev, msg)

	out := injectResponse{Result: res}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

func payloadText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// handleDumpTemplate returns the device's mapping as a reusable YAML
// template, including the connector's subscriptions for its message type.
func (s *Server) handleDumpTemplate(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	var matchList []string
	if s.subs != nil {
		matchList = s.subs.MatchList(dev.MessageType)
	}
	out, err := shim.DumpTemplate(dev, matchList)
	if err != nil {
		writeInternalError(w, "failed to render template")
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	w.Write(out)
}

// lookupDevice loads the device named by the id URL parameter, writing the
// error response itself when it fails.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	dev, err := s.registry.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err, http.StatusInternalServerError, "failed to get device")
		return nil, false
	}
	return dev, true
}
