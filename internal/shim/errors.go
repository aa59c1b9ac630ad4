package shim

import "errors"

// Message and command errors. Each aborts only the current message or
// action; none is fatal to the worker.
var (
	// ErrConfig means a device is missing or has a malformed setting the
	// message needs.
	ErrConfig = errors.New("shim: config error")

	// ErrParse means the message does not have the shape the device
	// expects, such as a non-JSON payload or a missing topic field.
	ErrParse = errors.New("shim: parse error")

	// ErrUIDMismatch means the message belongs to a different device.
	ErrUIDMismatch = errors.New("shim: unique ID mismatch")

	// ErrCapabilityMismatch means a capability is enabled but its state key
	// is not available on the device.
	ErrCapabilityMismatch = errors.New("shim: capability state not available")

	// ErrMissingTemplate means an action needs a template the device lacks.
	ErrMissingTemplate = errors.New("shim: missing template")

	// ErrUnsupportedAction means the device cannot perform the action.
	ErrUnsupportedAction = errors.New("shim: unsupported action")

	// ErrPublishUnavailable means no MQTT publisher is configured.
	ErrPublishUnavailable = errors.New("shim: MQTT unavailable")
)
