package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-shims/internal/device"
)

var (
	errHistoryLimit = errors.New("limit must be a positive integer")
	errHistoryMax   = errors.New("limit exceeds maximum")
)

// handleGetDeviceHistory returns a device's recorded state updates,
// newest first.
//
// Query parameters:
//   - limit: maximum entries (default 50, max 200)
//   - since: RFC3339 timestamp; only later entries are returned
//   - key: only entries that wrote this state key
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	q, err := historyQuery(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	if s.history == nil {
		writeUnavailable(w, "state history unavailable")
		return
	}

	entries, err := s.history.GetHistory(r.Context(), dev.ID, q)
	if err != nil {
		s.logger.Error("loading device history", "device", dev.ID, "error", err)
		writeInternalError(w, "failed to load device history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": dev.ID,
		"history":   entries,
		"count":     len(entries),
	})
}

func historyQuery(r *http.Request) (device.HistoryQuery, error) {
	params := r.URL.Query()
	q := device.HistoryQuery{Limit: device.DefaultHistoryLimit, Key: params.Get("key")}

	if raw := params.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		switch {
		case err != nil || limit <= 0:
			return q, errHistoryLimit
		case limit > device.MaxHistoryLimit:
			return q, errHistoryMax
		}
		q.Limit = limit
	}

	if raw := params.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return q, errors.New("invalid since timestamp")
		}
		q.Since = since
	}
	return q, nil
}
