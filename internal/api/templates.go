package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-shims/internal/connector"
	"github.com/nerrad567/gray-logic-shims/internal/decoder"
	"github.com/nerrad567/gray-logic-shims/internal/shim"
)

// namedPath is one template file or decoder reference.
type namedPath struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

func sortedPaths(m map[string]string) []namedPath {
	out := make([]namedPath, 0, len(m))
	for name, path := range m {
		out = append(out, namedPath{Name: name, Path: path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// handleListTemplates lists the device templates found in the template
// directories. Later directories override earlier ones.
func (s *Server) handleListTemplates(w http.ResponseWriter, _ *http.Request) {
	found, err := shim.ListTemplates(s.templateDirs...)
	if err != nil {
		s.logger.Warn("listing templates failed", "error", err)
		writeInternalError(w, "failed to list templates")
		return
	}
	list := sortedPaths(found)
	writeJSON(w, http.StatusOK, map[string]any{"templates": list, "count": len(list)})
}

// fromTemplateRequest is the body of POST /templates/{name}/devices.
type fromTemplateRequest struct {
	Address  string `json:"address"`
	BrokerID string `json:"broker_id,omitempty"`

	// Subscribe registers the template's match list with the connector
	// when its message type has no subscriptions yet.
	Subscribe bool `json:"subscribe,omitempty"`
}

// handleCreateFromTemplate creates a device from a named template.
func (s *Server) handleCreateFromTemplate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req fromTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Address) == "" {
		writeBadRequest(w, "address field is required")
		return
	}

	found, err := shim.ListTemplates(s.templateDirs...)
	if err != nil {
		writeInternalError(w, "failed to list templates")
		return
	}
	path, ok := found[name]
	if !ok {
		writeNotFound(w, "template not found")
		return
	}
	tpl, err := shim.LoadTemplate(path)
	if err != nil {
		writeValidation(w, err.Error())
		return
	}

	dev := shim.NewDeviceFromTemplate(tpl, req.Address, req.BrokerID)
	if err := s.registry.CreateDevice(r.Context(), dev); err != nil {
		writeFailure(w, err, http.StatusInternalServerError, "failed to create device")
		return
	}

	subscribed := false
	if req.Subscribe && tpl.Trigger != nil && len(tpl.Trigger.MatchList) > 0 && s.subs != nil {
		if len(s.subs.MatchList(tpl.MessageType)) == 0 {
			err := s.subs.AddMessageType(connector.MessageType{Name: tpl.MessageType, Topics: tpl.Trigger.MatchList})
			if err != nil {
				s.logger.Warn("template subscription failed", "template", name, "message_type", tpl.MessageType, "error", err)
			} else {
				subscribed = true
			}
		}
	}

	s.logger.Info("device created from template", "template", name, "device_id", dev.ID, "subscribed", subscribed)
	writeJSON(w, http.StatusCreated, map[string]any{
		"device":     dev,
		"subscribed": subscribed,
	})
}

// handleListDecoders lists the registered decoder factories and every
// decoder a device may reference, built-in or plugin file.
func (s *Server) handleListDecoders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"registered": decoder.Registered(),
		"available":  sortedPaths(decoder.List(s.decoderDirs...)),
	})
}

// handleListMessageTypes reports the connector's queues.
func (s *Server) handleListMessageTypes(w http.ResponseWriter, _ *http.Request) {
	if s.subs == nil {
		writeUnavailable(w, "connector unavailable")
		return
	}
	stats := s.subs.Stats()
	writeJSON(w, http.StatusOK, map[string]any{"message_types": stats, "count": len(stats)})
}
