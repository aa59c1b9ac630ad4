package trigger

import "errors"

var (
	// ErrTriggerNotFound is returned when a trigger ID does not exist.
	ErrTriggerNotFound = errors.New("trigger: not found")

	// ErrTriggerExists is returned when starting a trigger whose ID is taken.
	ErrTriggerExists = errors.New("trigger: already exists")

	// ErrInvalidTrigger is returned when trigger validation fails.
	ErrInvalidTrigger = errors.New("trigger: invalid")

	// ErrPublishUnavailable is returned when the firer has no publisher.
	ErrPublishUnavailable = errors.New("trigger: MQTT unavailable")
)
