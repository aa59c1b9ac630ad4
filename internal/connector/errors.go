package connector

import "errors"

// Domain errors for the connector package.
var (
	// ErrInvalidMessageType is returned when a message type has no name
	// or no topic filters.
	ErrInvalidMessageType = errors.New("connector: invalid message type")

	// ErrNotConnected is returned when the MQTT client is missing or offline.
	ErrNotConnected = errors.New("connector: not connected to broker")
)
