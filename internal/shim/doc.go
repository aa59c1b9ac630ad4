// Package shim maps MQTT messages onto device state and device actions onto
// MQTT messages.
//
// A shim device describes where its unique ID and primary value live in a
// message (a topic field or a payload path), which capabilities it has and
// how to turn the value into state: a boolean for relays and on/off
// sensors, on/off plus brightness and colour for dimmers and colour lights,
// a formatted number for value sensors. Payload sub-objects can be expanded
// into dynamically declared states, and a per-device decoder can add more.
//
// The flow is:
//
//	connector --Notification--> Worker --Message--> Dispatcher --> device store
//	                                                           \--> triggers
//
// The Worker drains notifications on a single goroutine, so messages for one
// device are never processed concurrently. The Commander runs the opposite
// direction, rendering mustache templates into MQTT publishes.
package shim
