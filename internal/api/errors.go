package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-shims/internal/device"
	"github.com/nerrad567/gray-logic-shims/internal/shim"
	"github.com/nerrad567/gray-logic-shims/internal/trigger"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeUnauthorized       = "unauthorised"
	ErrCodeConflict           = "conflict"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeServiceUnavailable = "service_unavailable"
)

var statusCodes = map[int]string{
	http.StatusBadRequest:          ErrCodeBadRequest,
	http.StatusUnauthorized:        ErrCodeUnauthorized,
	http.StatusNotFound:            ErrCodeNotFound,
	http.StatusConflict:            ErrCodeConflict,
	http.StatusUnprocessableEntity: ErrCodeValidation,
	http.StatusServiceUnavailable:  ErrCodeServiceUnavailable,
}

// errorClass maps a sentinel error to a response. An empty message means
// the error's own text is shown.
type errorClass struct {
	target  error
	status  int
	message string
}

var errorClasses = []errorClass{
	{device.ErrDeviceNotFound, http.StatusNotFound, "device not found"},
	{device.ErrDeviceExists, http.StatusConflict, "device already exists"},
	{device.ErrInvalidDevice, http.StatusBadRequest, ""},
	{device.ErrInvalidName, http.StatusBadRequest, ""},
	{device.ErrInvalidDeviceType, http.StatusBadRequest, ""},
	{device.ErrInvalidProps, http.StatusBadRequest, ""},
	{trigger.ErrTriggerNotFound, http.StatusNotFound, "trigger not found"},
	{trigger.ErrTriggerExists, http.StatusConflict, "trigger already exists"},
	{trigger.ErrInvalidTrigger, http.StatusBadRequest, ""},
	{shim.ErrMissingTemplate, http.StatusUnprocessableEntity, ""},
	{shim.ErrUnsupportedAction, http.StatusUnprocessableEntity, ""},
	{shim.ErrPublishUnavailable, http.StatusServiceUnavailable, "mqtt is not connected"},
}

// writeJSON writes v as the JSON body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeStatus writes an Error body whose code follows from status.
func writeStatus(w http.ResponseWriter, status int, message string) {
	code, ok := statusCodes[status]
	if !ok {
		code = ErrCodeInternal
	}
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

// writeFailure answers with the response registered for err's sentinel.
// Unclassified errors become fallbackStatus with fallback as the message.
func writeFailure(w http.ResponseWriter, err error, fallbackStatus int, fallback string) {
	for _, c := range errorClasses {
		if !errors.Is(err, c.target) {
			continue
		}
		msg := c.message
		if msg == "" {
			msg = err.Error()
		}
		writeStatus(w, c.status, msg)
		return
	}
	writeStatus(w, fallbackStatus, fallback)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeStatus(w, http.StatusBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeStatus(w, http.StatusNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeStatus(w, http.StatusUnauthorized, message)
}

func writeValidation(w http.ResponseWriter, message string) {
	writeStatus(w, http.StatusUnprocessableEntity, message)
}

func writeUnavailable(w http.ResponseWriter, message string) {
	writeStatus(w, http.StatusServiceUnavailable, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeStatus(w, http.StatusInternalServerError, message)
}
